package model

// Swap is one atomic multi-record write. Each non-nil record is written only
// if the stored version equals its Version, where zero means the record must
// not exist yet. On success every written record is stored with Version+1.
// If any check fails nothing is written and the store returns an error
// wrapping errkind.ErrVersionConflict.
type Swap struct {
	Job        *Job
	Contractor *Contractor
	Assignment *Assignment
}

// Commit bumps the versions of the swapped records the way a store does
// after a successful write.
func (s Swap) Commit() {
	if s.Job != nil {
		s.Job.Version++
	}
	if s.Contractor != nil {
		s.Contractor.Version++
	}
	if s.Assignment != nil {
		s.Assignment.Version++
	}
}
