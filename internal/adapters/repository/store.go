// Package repository defines the dispatch store contract, the helpers every
// backend shares, and an in-memory implementation.
package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/okian/installmatch/internal/domain/model"
	"github.com/okian/installmatch/pkg/metrics"
)

// Swapper is the write half of a store: a clock and an atomic multi-record
// compare-and-swap with the semantics documented on model.Swap.
type Swapper interface {
	Now(ctx context.Context) (time.Time, error)
	CompareAndSwap(ctx context.Context, s model.Swap) error
}

// Store provides read/write access to jobs, contractors and assignments.
type Store interface {
	Swapper

	GetJob(ctx context.Context, id string) (model.Job, error)
	GetContractor(ctx context.Context, id string) (model.Contractor, error)
	GetAssignment(ctx context.Context, id string) (model.Assignment, error)

	// CreateJob stores a new open job stamped with the store's clock.
	CreateJob(ctx context.Context, job model.Job) (model.Job, error)
	// PutContractor creates or updates a contractor. Version must match the
	// stored version; zero creates.
	PutContractor(ctx context.Context, c model.Contractor) (model.Contractor, error)

	ListJobs(ctx context.Context, f JobFilter) ([]model.Job, error)
	ListContractors(ctx context.Context, f ContractorFilter) ([]model.Contractor, error)
	ListAssignments(ctx context.Context, jobID string) ([]model.Assignment, error)

	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// JobFilter selects jobs. Zero fields match everything; Limit of zero means
// no limit.
type JobFilter struct {
	Status       model.JobStatus
	SellerID     string
	ContractorID string
	Limit        int
}

// Match reports whether j passes the filter.
func (f JobFilter) Match(j model.Job) bool {
	switch {
	case f.Status != "" && j.Status != f.Status:
		return false
	case f.SellerID != "" && j.SellerID != f.SellerID:
		return false
	case f.ContractorID != "" && j.AssignedContractorID != f.ContractorID:
		return false
	}
	return true
}

// ContractorFilter selects contractors. ActiveOnly keeps active,
// unsuspended contractors; Skills must all be held.
type ContractorFilter struct {
	ActiveOnly bool
	Skills     []string
	Limit      int
}

// Match reports whether c passes the filter.
func (f ContractorFilter) Match(c model.Contractor) bool {
	if f.ActiveOnly && !c.Eligible() {
		return false
	}
	return c.HasSkills(f.Skills)
}

// Stats summarizes store contents.
type Stats struct {
	Jobs        map[model.JobStatus]int `json:"jobs"`
	Contractors int                     `json:"contractors"`
	Assignments int                     `json:"assignments"`
}

// TotalJobs sums jobs over all statuses.
func (s Stats) TotalJobs() int {
	n := 0
	for _, v := range s.Jobs {
		n += v
	}
	return n
}

// InsertJob validates job, gives it an ID if it has none, opens it at the
// store's clock and writes it with a create-only swap.
func InsertJob(ctx context.Context, s Swapper, job model.Job) (model.Job, error) {
	if err := job.Validate(); err != nil {
		return model.Job{}, err
	}
	now, err := s.Now(ctx)
	if err != nil {
		return model.Job{}, fmt.Errorf("create job: read clock: %w", err)
	}
	job = job.Clone()
	if strings.TrimSpace(job.ID) == "" {
		job.ID = uuid.NewString()
	}
	job.CreatedAt = now
	job.Status = model.JobOpen
	job.AssignedContractorID = ""
	job.AssignmentID = ""
	job.DeclineLog = nil
	job.Pricing = nil
	job.Version = 0
	sw := model.Swap{Job: &job}
	if err := s.CompareAndSwap(ctx, sw); err != nil {
		return model.Job{}, fmt.Errorf("create job %s: %w", job.ID, err)
	}
	sw.Commit()
	return job, nil
}

// SaveContractor validates c and writes it with a version-checked swap.
func SaveContractor(ctx context.Context, s Swapper, c model.Contractor) (model.Contractor, error) {
	if err := c.Validate(); err != nil {
		return model.Contractor{}, err
	}
	c = c.Clone()
	sw := model.Swap{Contractor: &c}
	if err := s.CompareAndSwap(ctx, sw); err != nil {
		return model.Contractor{}, fmt.Errorf("put contractor %s: %w", c.ID, err)
	}
	sw.Commit()
	return c, nil
}

// SortJobs orders jobs by creation time, then ID, and applies limit.
func SortJobs(jobs []model.Job, limit int) []model.Job {
	sort.SliceStable(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].ID < jobs[k].ID
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

// SortContractors orders contractors by ID and applies limit.
func SortContractors(cs []model.Contractor, limit int) []model.Contractor {
	slices.SortFunc(cs, func(a, b model.Contractor) int { return strings.Compare(a.ID, b.ID) })
	if limit > 0 && len(cs) > limit {
		cs = cs[:limit]
	}
	return cs
}

// SortAssignments orders assignments by creation time, then ID.
func SortAssignments(as []model.Assignment) []model.Assignment {
	sort.SliceStable(as, func(i, k int) bool {
		if !as[i].CreatedAt.Equal(as[k].CreatedAt) {
			return as[i].CreatedAt.Before(as[k].CreatedAt)
		}
		return as[i].ID < as[k].ID
	})
	return as
}

// CheckLimit rejects negative listing limits.
func CheckLimit(limit int) error {
	if limit < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	return nil
}

// PublishStats exports st as repository gauges.
func PublishStats(st Stats) {
	for _, status := range []model.JobStatus{
		model.JobOpen, model.JobAssigned, model.JobInProgress, model.JobCompleted, model.JobCancelled,
	} {
		metrics.UpdateRepositoryJobs(string(status), st.Jobs[status])
	}
	metrics.UpdateRepositoryRecords("job", st.TotalJobs())
	metrics.UpdateRepositoryRecords("contractor", st.Contractors)
	metrics.UpdateRepositoryRecords("assignment", st.Assignments)
}
