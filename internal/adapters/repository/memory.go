package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/installmatch/internal/domain/model"
	"github.com/okian/installmatch/pkg/metrics"
)

// MemoryStore is a mutex-guarded, in-process Store. Records are deep-copied
// on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	now         func() time.Time
	jobs        map[string]model.Job
	contractors map[string]model.Contractor
	assignments map[string]model.Assignment
}

// NewMemoryStore constructs an empty memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		now:         time.Now,
		jobs:        make(map[string]model.Job),
		contractors: make(map[string]model.Contractor),
		assignments: make(map[string]model.Assignment),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*MemoryStore)(nil)

// Now returns the store clock in UTC.
func (s *MemoryStore) Now(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	return s.now().UTC(), nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id string) (model.Job, error) {
	if err := ctx.Err(); err != nil {
		return model.Job{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return model.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j.Clone(), nil
}

func (s *MemoryStore) GetContractor(ctx context.Context, id string) (model.Contractor, error) {
	if err := ctx.Err(); err != nil {
		return model.Contractor{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contractors[id]
	if !ok {
		return model.Contractor{}, fmt.Errorf("%w: %s", ErrContractorNotFound, id)
	}
	return c.Clone(), nil
}

func (s *MemoryStore) GetAssignment(ctx context.Context, id string) (model.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return model.Assignment{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[id]
	if !ok {
		return model.Assignment{}, fmt.Errorf("%w: %s", ErrAssignmentNotFound, id)
	}
	return a.Clone(), nil
}

// CompareAndSwap checks every record's version under one lock and writes all
// of them or none.
func (s *MemoryStore) CompareAndSwap(ctx context.Context, sw model.Swap) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryLatency("cas", float64(time.Since(start).Microseconds())/1000)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if sw.Job != nil {
		cur, ok := s.jobs[sw.Job.ID]
		if err := checkVersion("job", sw.Job.ID, sw.Job.Version, cur.Version, ok); err != nil {
			return err
		}
	}
	if sw.Contractor != nil {
		cur, ok := s.contractors[sw.Contractor.ID]
		if err := checkVersion("contractor", sw.Contractor.ID, sw.Contractor.Version, cur.Version, ok); err != nil {
			return err
		}
	}
	if sw.Assignment != nil {
		cur, ok := s.assignments[sw.Assignment.ID]
		if err := checkVersion("assignment", sw.Assignment.ID, sw.Assignment.Version, cur.Version, ok); err != nil {
			return err
		}
	}

	if sw.Job != nil {
		j := sw.Job.Clone()
		j.Version++
		s.jobs[j.ID] = j
	}
	if sw.Contractor != nil {
		c := sw.Contractor.Clone()
		c.Version++
		s.contractors[c.ID] = c
	}
	if sw.Assignment != nil {
		a := sw.Assignment.Clone()
		a.Version++
		s.assignments[a.ID] = a
	}
	return nil
}

// checkVersion compares an expected version against the stored one. An
// expected version of zero requires the record to be absent.
func checkVersion(kind, id string, want, have int64, exists bool) error {
	if (want == 0 && !exists) || (exists && want == have) {
		return nil
	}
	metrics.RecordRepositoryConflict()
	if !exists {
		return fmt.Errorf("%w: %s %s does not exist", ErrConflict, kind, id)
	}
	return fmt.Errorf("%w: %s %s expected version %d, stored %d", ErrConflict, kind, id, want, have)
}

func (s *MemoryStore) CreateJob(ctx context.Context, job model.Job) (model.Job, error) {
	return InsertJob(ctx, s, job)
}

func (s *MemoryStore) PutContractor(ctx context.Context, c model.Contractor) (model.Contractor, error) {
	return SaveContractor(ctx, s, c)
}

func (s *MemoryStore) ListJobs(ctx context.Context, f JobFilter) ([]model.Job, error) {
	if err := CheckLimit(f.Limit); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if f.Match(j) {
			out = append(out, j.Clone())
		}
	}
	s.mu.RUnlock()
	return SortJobs(out, f.Limit), nil
}

func (s *MemoryStore) ListContractors(ctx context.Context, f ContractorFilter) ([]model.Contractor, error) {
	if err := CheckLimit(f.Limit); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]model.Contractor, 0, len(s.contractors))
	for _, c := range s.contractors {
		if f.Match(c) {
			out = append(out, c.Clone())
		}
	}
	s.mu.RUnlock()
	return SortContractors(out, f.Limit), nil
}

func (s *MemoryStore) ListAssignments(ctx context.Context, jobID string) ([]model.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []model.Assignment
	for _, a := range s.assignments {
		if a.JobID == jobID {
			out = append(out, a.Clone())
		}
	}
	s.mu.RUnlock()
	return SortAssignments(out), nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Jobs:        make(map[model.JobStatus]int),
		Contractors: len(s.contractors),
		Assignments: len(s.assignments),
	}
	for _, j := range s.jobs {
		st.Jobs[j.Status]++
	}
	return st, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
