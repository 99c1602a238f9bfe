package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/okian/installmatch/internal/domain/pricing"
)

// EventType names a dispatch domain event.
type EventType string

// Domain events emitted by successful transitions.
const (
	EventJobAssigned  EventType = "job.assigned"
	EventJobDeclined  EventType = "job.declined"
	EventJobStarted   EventType = "job.started"
	EventJobCompleted EventType = "job.completed"
	EventJobCancelled EventType = "job.cancelled"
)

// Event is handed to notification and audit collaborators. ID is unique per
// transition and is what consumers deduplicate on.
type Event struct {
	ID           string             `json:"id"`
	Type         EventType          `json:"type"`
	JobID        string             `json:"job_id"`
	ContractorID string             `json:"contractor_id,omitempty"`
	AssignmentID string             `json:"assignment_id,omitempty"`
	Pricing      *pricing.Breakdown `json:"pricing,omitempty"`
	Audit        AuditEntry         `json:"audit"`
	OccurredAt   time.Time          `json:"occurred_at"`
}

// NewEvent builds an event for a transition of job recorded by entry.
func NewEvent(t EventType, job Job, contractorID string, entry AuditEntry) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         t,
		JobID:        job.ID,
		ContractorID: contractorID,
		AssignmentID: job.AssignmentID,
		Pricing:      job.Pricing,
		Audit:        entry,
		OccurredAt:   entry.At,
	}
}
