// Package model contains the dispatch records passed between layers and
// persisted by the stores.
package model

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/okian/installmatch/internal/domain/geo"
	"github.com/okian/installmatch/internal/domain/pricing"
	"github.com/okian/installmatch/internal/domain/tier"
)

// DateLayout is the calendar-date format used for availability.
const DateLayout = "2006-01-02"

// DateOf returns the calendar date of t in its own location.
func DateOf(t time.Time) string { return t.Format(DateLayout) }

// JobStatus is a job's lifecycle state.
type JobStatus string

// Job lifecycle states.
const (
	JobOpen       JobStatus = "open"
	JobAssigned   JobStatus = "assigned"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
)

// ParseJobStatus parses a job status name.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case JobOpen, JobAssigned, JobInProgress, JobCompleted, JobCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: job status %q", ErrInvalidStatus, s)
}

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobCancelled }

// Occupied reports whether a contractor currently holds the job.
func (s JobStatus) Occupied() bool { return s == JobAssigned || s == JobInProgress }

// AssignmentStatus is the state of a job-contractor pairing.
type AssignmentStatus string

// Assignment states.
const (
	AssignmentActive     AssignmentStatus = "active"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentDeclined   AssignmentStatus = "declined"
	AssignmentCompleted  AssignmentStatus = "completed"
)

// Terminal reports whether the assignment is closed to status changes.
func (s AssignmentStatus) Terminal() bool {
	return s == AssignmentDeclined || s == AssignmentCompleted
}

// TimeRange is the half-open interval [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether r and o share any instant.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

// Availability is a contractor's calendar.
type Availability struct {
	// Dates are available calendar days in DateLayout.
	Dates    []string    `json:"dates"`
	Reserved []TimeRange `json:"reserved"`
}

// AvailableOn reports whether the calendar day of t is an available date.
func (a Availability) AvailableOn(t time.Time) bool {
	return slices.Contains(a.Dates, DateOf(t))
}

// Covers reports whether every calendar day r touches is an available date.
// End is exclusive, so a window ending at midnight does not need the next day.
func (a Availability) Covers(r TimeRange) bool {
	if !a.AvailableOn(r.Start) {
		return false
	}
	last := r.End.Add(-time.Nanosecond)
	for d := r.Start.AddDate(0, 0, 1); DateOf(d) <= DateOf(last); d = d.AddDate(0, 0, 1) {
		if !a.AvailableOn(d) {
			return false
		}
	}
	return true
}

// Free reports whether r overlaps no reserved range.
func (a Availability) Free(r TimeRange) bool {
	for _, res := range a.Reserved {
		if res.Overlaps(r) {
			return false
		}
	}
	return true
}

// Cost is what a contractor charges. An hourly rate takes precedence over
// the flat estimate.
type Cost struct {
	HourlyRate int64 `json:"hourly_rate"`
	Estimate   int64 `json:"estimate"`
}

// For returns the contractor's cost for a job lasting d.
func (c Cost) For(d time.Duration) int64 {
	if c.HourlyRate > 0 {
		return int64(math.Round(float64(c.HourlyRate) * d.Hours()))
	}
	return c.Estimate
}

// Contractor is an installation worker. ActiveJobs only changes inside the
// same atomic swap as the job transition that causes it.
type Contractor struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Tier              tier.ID        `json:"tier"`
	Location          geo.Location   `json:"location"`
	Cost              Cost           `json:"cost"`
	Availability      Availability   `json:"availability"`
	Skills            []string       `json:"skills"`
	Metrics           tier.Metrics   `json:"metrics"`
	JobTypeCounts     map[string]int `json:"job_type_counts,omitempty"`
	Active            bool           `json:"active"`
	Suspended         bool           `json:"suspended"`
	ActiveJobs        int            `json:"active_jobs"`
	MaxConcurrentJobs int            `json:"max_concurrent_jobs"`
	Version           int64          `json:"version"`
}

// Eligible reports whether the contractor may take work at all.
func (c Contractor) Eligible() bool { return c.Active && !c.Suspended }

// AtCapacity reports whether the concurrency cap is reached. A cap of zero
// or less means unlimited.
func (c Contractor) AtCapacity() bool {
	return c.MaxConcurrentJobs > 0 && c.ActiveJobs >= c.MaxConcurrentJobs
}

// HasSkills reports whether every required skill is held.
func (c Contractor) HasSkills(required []string) bool {
	for _, s := range required {
		if !slices.Contains(c.Skills, s) {
			return false
		}
	}
	return true
}

// Validate checks the fields a store relies on.
func (c Contractor) Validate() error {
	switch {
	case strings.TrimSpace(c.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidContractor)
	case !c.Tier.Valid():
		return fmt.Errorf("%w: tier %d", ErrInvalidContractor, int(c.Tier))
	case c.Cost.HourlyRate < 0 || c.Cost.Estimate < 0:
		return fmt.Errorf("%w: negative cost", ErrInvalidContractor)
	case c.ActiveJobs < 0:
		return fmt.Errorf("%w: negative active job count", ErrInvalidContractor)
	}
	return nil
}

// DeclineEntry records a contractor passing on or releasing a job.
type DeclineEntry struct {
	ContractorID string    `json:"contractor_id"`
	Reason       string    `json:"reason"`
	At           time.Time `json:"at"`
}

// Job is a seller's installation request.
type Job struct {
	ID       string       `json:"id"`
	SellerID string       `json:"seller_id"`
	Type     string       `json:"type"`
	Location geo.Location `json:"location"`
	// Start is the requested date and start time.
	Start           time.Time       `json:"start"`
	DurationMinutes int             `json:"duration_minutes"`
	FlexibleDate    bool            `json:"flexible_date"`
	Budget          int64           `json:"budget"`
	RequiredSkills  []string        `json:"required_skills"`
	Urgency         pricing.Urgency `json:"urgency"`
	// CreatedAt is assigned by the store's clock.
	CreatedAt            time.Time          `json:"created_at"`
	Status               JobStatus          `json:"status"`
	AssignedContractorID string             `json:"assigned_contractor_id,omitempty"`
	AssignmentID         string             `json:"assignment_id,omitempty"`
	DeclineLog           []DeclineEntry     `json:"decline_log,omitempty"`
	Pricing              *pricing.Breakdown `json:"pricing,omitempty"`
	Version              int64              `json:"version"`
}

// Duration returns the requested duration.
func (j Job) Duration() time.Duration {
	return time.Duration(j.DurationMinutes) * time.Minute
}

// Window returns the requested time range.
func (j Job) Window() TimeRange {
	return TimeRange{Start: j.Start, End: j.Start.Add(j.Duration())}
}

// Declined reports whether contractorID is in the decline log.
func (j Job) Declined(contractorID string) bool {
	for _, d := range j.DeclineLog {
		if d.ContractorID == contractorID {
			return true
		}
	}
	return false
}

// Validate checks the fields matching and pricing rely on.
func (j Job) Validate() error {
	switch {
	case j.Budget <= 0:
		return fmt.Errorf("%w: budget %d must be positive", ErrInvalidJob, j.Budget)
	case j.DurationMinutes <= 0:
		return fmt.Errorf("%w: duration_minutes %d must be positive", ErrInvalidJob, j.DurationMinutes)
	case j.Start.IsZero():
		return fmt.Errorf("%w: start is required", ErrInvalidJob)
	case j.Urgency != "" && !j.Urgency.Valid():
		return fmt.Errorf("%w: %w", ErrInvalidJob, pricing.ErrUnknownUrgency)
	}
	return nil
}

// AuditEntry is one append-only record of an assignment's history.
type AuditEntry struct {
	Action string    `json:"action"`
	From   JobStatus `json:"from"`
	To     JobStatus `json:"to"`
	Actor  string    `json:"actor"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

// Assignment pairs a job with the contractor that accepted it.
type Assignment struct {
	ID           string            `json:"id"`
	JobID        string            `json:"job_id"`
	ContractorID string            `json:"contractor_id"`
	Pricing      pricing.Breakdown `json:"pricing"`
	Status       AssignmentStatus  `json:"status"`
	Audit        []AuditEntry      `json:"audit"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Version      int64             `json:"version"`
}
