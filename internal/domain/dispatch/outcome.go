package dispatch

import "github.com/okian/installmatch/internal/domain/model"

// Outcome is the business result of a transition. Callers branch on it; it
// is never an error.
type Outcome string

// Transition outcomes.
const (
	OutcomeOK                 Outcome = "ok"
	OutcomeJobUnavailable     Outcome = "job_unavailable"
	OutcomeAlreadyAccepted    Outcome = "already_accepted"
	OutcomeAtCapacity         Outcome = "at_capacity"
	OutcomeAlreadyDeclined    Outcome = "already_declined"
	OutcomeNotAssignee        Outcome = "not_assignee"
	OutcomeInvalidTransition  Outcome = "invalid_transition"
	OutcomeContractorInactive Outcome = "contractor_inactive"
)

// Outcomes lists every outcome.
var Outcomes = []Outcome{
	OutcomeOK,
	OutcomeJobUnavailable,
	OutcomeAlreadyAccepted,
	OutcomeAtCapacity,
	OutcomeAlreadyDeclined,
	OutcomeNotAssignee,
	OutcomeInvalidTransition,
	OutcomeContractorInactive,
}

// Result reports a transition. Job, Assignment and Event are set only when
// Outcome is OK. Attempts counts compare-and-swap submissions, so
// Attempts-1 is the number of lost races.
type Result struct {
	Outcome    Outcome           `json:"outcome"`
	Job        model.Job         `json:"job"`
	Assignment *model.Assignment `json:"assignment,omitempty"`
	Event      *model.Event      `json:"event,omitempty"`
	Attempts   int               `json:"attempts"`
}

// OK reports whether the transition was applied.
func (r Result) OK() bool { return r.Outcome == OutcomeOK }
