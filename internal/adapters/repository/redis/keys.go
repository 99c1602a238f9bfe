package redis

// Key layout, relative to the store prefix:
//
//	job:{id}, contractor:{id}, assignment:{id}   JSON documents
//	job_ids, contractor_ids, assignment_ids      sets for enumeration
//	job_assignments:{jobID}                      assignment ids per job

func (s *Store) jobKey(id string) string        { return s.prefix + "job:" + id }
func (s *Store) contractorKey(id string) string { return s.prefix + "contractor:" + id }
func (s *Store) assignmentKey(id string) string { return s.prefix + "assignment:" + id }
func (s *Store) jobIDsKey() string              { return s.prefix + "job_ids" }
func (s *Store) contractorIDsKey() string       { return s.prefix + "contractor_ids" }
func (s *Store) assignmentIDsKey() string       { return s.prefix + "assignment_ids" }
func (s *Store) jobAssignmentsKey(jobID string) string {
	return s.prefix + "job_assignments:" + jobID
}
