// Package dispatch owns the job lifecycle. Every transition is a single
// compare-and-swap against the store, so at most one contractor holds a job
// at any time no matter how many accept concurrently.
//
//	open ──accept──▶ assigned ──start──▶ in_progress ──complete──▶ completed
//	 │  ◀──decline───┘
//	 └──cancel──▶ cancelled
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/okian/installmatch/internal/domain/errkind"
	"github.com/okian/installmatch/internal/domain/matching"
	"github.com/okian/installmatch/internal/domain/model"
	"github.com/okian/installmatch/internal/domain/pricing"
	"github.com/okian/installmatch/internal/domain/tier"
	"github.com/okian/installmatch/pkg/backoff"
	"github.com/okian/installmatch/pkg/logger"
)

// Store is the persistence the machine needs. Timestamps come from Now so
// client clock skew never reaches urgency escalation.
type Store interface {
	Now(ctx context.Context) (time.Time, error)
	GetJob(ctx context.Context, id string) (model.Job, error)
	GetContractor(ctx context.Context, id string) (model.Contractor, error)
	GetAssignment(ctx context.Context, id string) (model.Assignment, error)
	CompareAndSwap(ctx context.Context, s model.Swap) error
}

// Publisher receives domain events. Publish must not block on delivery.
type Publisher interface {
	Publish(ctx context.Context, e model.Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e model.Event)

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, e model.Event) { f(ctx, e) }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, model.Event) {}

// Machine applies lifecycle transitions. It holds no per-job state and is
// safe for concurrent use.
type Machine struct {
	store       Store
	pricing     *pricing.Engine
	tiers       *tier.Engine
	publisher   Publisher
	backoff     backoff.Strategy
	maxAttempts int
	logger      logger.Logger
}

// NewMachine returns a machine over store.
func NewMachine(store Store, opts ...Option) (*Machine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidMachine)
	}
	m := &Machine{
		store:       store,
		publisher:   nopPublisher{},
		backoff:     backoff.Default(),
		maxAttempts: DefaultMaxAttempts,
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.maxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts %d", ErrInvalidMachine, m.maxAttempts)
	}
	if m.pricing == nil {
		p, err := pricing.NewEngine()
		if err != nil {
			return nil, err
		}
		m.pricing = p
	}
	return m, nil
}

// plan is one prepared transition: the swap to submit, the event it emits,
// and the outcome when the precondition does not hold.
type plan struct {
	outcome    Outcome
	swap       model.Swap
	eventType  model.EventType
	entry      model.AuditEntry
	contractor string
	assignment *model.Assignment
}

func reject(o Outcome) (plan, error) { return plan{outcome: o}, nil }

// run reads, validates and submits a transition, retrying lost races with
// backoff until maxAttempts.
func (m *Machine) run(ctx context.Context, op, jobID string, prepare func(ctx context.Context, now time.Time) (plan, error)) (Result, error) {
	for attempt := 1; ; attempt++ {
		now, err := m.store.Now(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("%s %s: read clock: %w", op, jobID, err)
		}
		p, err := prepare(ctx, now)
		if err != nil {
			return Result{}, fmt.Errorf("%s %s: %w", op, jobID, err)
		}
		if p.outcome != OutcomeOK {
			return Result{Outcome: p.outcome, Attempts: attempt}, nil
		}

		err = m.store.CompareAndSwap(ctx, p.swap)
		if err == nil {
			p.swap.Commit()
			ev := model.NewEvent(p.eventType, *p.swap.Job, p.contractor, p.entry)
			if p.assignment != nil {
				ev.AssignmentID = p.assignment.ID
			}
			m.publisher.Publish(ctx, ev)
			return Result{
				Outcome:    OutcomeOK,
				Job:        *p.swap.Job,
				Assignment: p.assignment,
				Event:      &ev,
				Attempts:   attempt,
			}, nil
		}
		if !errors.Is(err, errkind.ErrVersionConflict) {
			return Result{}, fmt.Errorf("%s %s: %w", op, jobID, err)
		}

		m.logger.Debug(ctx, "transition lost a race",
			logger.String("op", op),
			logger.String("job_id", jobID),
			logger.Int("attempt", attempt),
		)
		if attempt >= m.maxAttempts {
			m.logger.Warn(ctx, "transition retries exhausted",
				logger.String("op", op),
				logger.String("job_id", jobID),
				logger.Int("attempts", attempt),
			)
			return Result{Outcome: OutcomeJobUnavailable, Attempts: attempt}, nil
		}
		if err := backoff.Wait(ctx, m.backoff, attempt); err != nil {
			return Result{}, err
		}
	}
}

// Accept assigns an open job to contractorID, snapshots its price, and takes
// one of the contractor's concurrency slots in the same swap.
func (m *Machine) Accept(ctx context.Context, jobID, contractorID string) (Result, error) {
	return m.run(ctx, "accept", jobID, func(ctx context.Context, now time.Time) (plan, error) {
		job, err := m.store.GetJob(ctx, jobID)
		if err != nil {
			return plan{}, err
		}
		switch {
		case job.Status.Occupied() && job.AssignedContractorID == contractorID:
			return reject(OutcomeAlreadyAccepted)
		case job.Status != model.JobOpen:
			return reject(OutcomeJobUnavailable)
		case job.Declined(contractorID):
			return reject(OutcomeAlreadyDeclined)
		}
		c, err := m.store.GetContractor(ctx, contractorID)
		if err != nil {
			return plan{}, err
		}
		switch {
		case !c.Eligible():
			return reject(OutcomeContractorInactive)
		case c.AtCapacity():
			return reject(OutcomeAtCapacity)
		}

		price, err := m.pricing.Price(pricing.Input{
			BaseFee:   job.Budget,
			Urgency:   job.Urgency,
			CreatedAt: job.CreatedAt,
			Now:       now,
		}, c.Tier)
		if err != nil {
			return plan{}, err
		}

		entry := model.AuditEntry{Action: "accept", From: job.Status, To: model.JobAssigned, Actor: contractorID, At: now}
		a := model.Assignment{
			ID:           uuid.NewString(),
			JobID:        job.ID,
			ContractorID: contractorID,
			Pricing:      price,
			Status:       model.AssignmentActive,
			Audit:        []model.AuditEntry{entry},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		job.Status = model.JobAssigned
		job.AssignedContractorID = contractorID
		job.AssignmentID = a.ID
		job.Pricing = &price
		c.ActiveJobs++

		return plan{
			outcome:    OutcomeOK,
			swap:       model.Swap{Job: &job, Contractor: &c, Assignment: &a},
			eventType:  model.EventJobAssigned,
			entry:      entry,
			contractor: contractorID,
			assignment: &a,
		}, nil
	})
}

// Decline releases an assigned job back to open, or records a pass on an
// open job. Either way the contractor is logged and will not be offered the
// job again.
func (m *Machine) Decline(ctx context.Context, jobID, contractorID, reason string) (Result, error) {
	return m.run(ctx, "decline", jobID, func(ctx context.Context, now time.Time) (plan, error) {
		job, err := m.store.GetJob(ctx, jobID)
		if err != nil {
			return plan{}, err
		}
		holder := job.Status.Occupied() && job.AssignedContractorID == contractorID
		if job.Declined(contractorID) && !holder {
			return reject(OutcomeAlreadyDeclined)
		}
		decline := model.DeclineEntry{ContractorID: contractorID, Reason: reason, At: now}

		switch job.Status {
		case model.JobOpen:
			job.DeclineLog = append(job.DeclineLog, decline)
			entry := model.AuditEntry{Action: "pass", From: model.JobOpen, To: model.JobOpen, Actor: contractorID, Note: reason, At: now}
			return plan{
				outcome:    OutcomeOK,
				swap:       model.Swap{Job: &job},
				eventType:  model.EventJobDeclined,
				entry:      entry,
				contractor: contractorID,
			}, nil
		case model.JobAssigned:
			if !holder {
				return reject(OutcomeNotAssignee)
			}
		case model.JobInProgress:
			if !holder {
				return reject(OutcomeNotAssignee)
			}
			return reject(OutcomeInvalidTransition)
		default:
			return reject(OutcomeInvalidTransition)
		}

		c, err := m.store.GetContractor(ctx, contractorID)
		if err != nil {
			return plan{}, err
		}
		a, err := m.store.GetAssignment(ctx, job.AssignmentID)
		if err != nil {
			return plan{}, err
		}
		entry := model.AuditEntry{Action: "decline", From: model.JobAssigned, To: model.JobOpen, Actor: contractorID, Note: reason, At: now}
		a.Status = model.AssignmentDeclined
		a.Audit = append(a.Audit, entry)
		a.UpdatedAt = now
		job.Status = model.JobOpen
		job.AssignedContractorID = ""
		job.AssignmentID = ""
		job.Pricing = nil
		job.DeclineLog = append(job.DeclineLog, decline)
		c.ActiveJobs = max(c.ActiveJobs-1, 0)

		return plan{
			outcome:    OutcomeOK,
			swap:       model.Swap{Job: &job, Contractor: &c, Assignment: &a},
			eventType:  model.EventJobDeclined,
			entry:      entry,
			contractor: contractorID,
			assignment: &a,
		}, nil
	})
}

// Start moves an assigned job into progress. Only the assignee may start it.
func (m *Machine) Start(ctx context.Context, jobID, contractorID string) (Result, error) {
	return m.run(ctx, "start", jobID, func(ctx context.Context, now time.Time) (plan, error) {
		job, err := m.store.GetJob(ctx, jobID)
		if err != nil {
			return plan{}, err
		}
		if o := m.checkHolder(job, contractorID, model.JobAssigned); o != OutcomeOK {
			return reject(o)
		}
		a, err := m.store.GetAssignment(ctx, job.AssignmentID)
		if err != nil {
			return plan{}, err
		}
		entry := model.AuditEntry{Action: "start", From: model.JobAssigned, To: model.JobInProgress, Actor: contractorID, At: now}
		a.Status = model.AssignmentInProgress
		a.Audit = append(a.Audit, entry)
		a.UpdatedAt = now
		job.Status = model.JobInProgress

		return plan{
			outcome:    OutcomeOK,
			swap:       model.Swap{Job: &job, Assignment: &a},
			eventType:  model.EventJobStarted,
			entry:      entry,
			contractor: contractorID,
			assignment: &a,
		}, nil
	})
}

// Complete finishes a job in progress, frees the contractor's slot and
// counts the completion.
func (m *Machine) Complete(ctx context.Context, jobID, contractorID string) (Result, error) {
	return m.run(ctx, "complete", jobID, func(ctx context.Context, now time.Time) (plan, error) {
		job, err := m.store.GetJob(ctx, jobID)
		if err != nil {
			return plan{}, err
		}
		if o := m.checkHolder(job, contractorID, model.JobInProgress); o != OutcomeOK {
			return reject(o)
		}
		c, err := m.store.GetContractor(ctx, contractorID)
		if err != nil {
			return plan{}, err
		}
		a, err := m.store.GetAssignment(ctx, job.AssignmentID)
		if err != nil {
			return plan{}, err
		}
		entry := model.AuditEntry{Action: "complete", From: model.JobInProgress, To: model.JobCompleted, Actor: contractorID, At: now}
		a.Status = model.AssignmentCompleted
		a.Audit = append(a.Audit, entry)
		a.UpdatedAt = now
		job.Status = model.JobCompleted

		c.ActiveJobs = max(c.ActiveJobs-1, 0)
		c.Metrics.CompletedJobs++
		if job.Type != "" {
			counts := make(map[string]int, len(c.JobTypeCounts)+1)
			for k, v := range c.JobTypeCounts {
				counts[k] = v
			}
			counts[job.Type]++
			c.JobTypeCounts = counts
		}
		if m.tiers != nil {
			c.Tier = m.tiers.Determine(c.Metrics)
		}

		return plan{
			outcome:    OutcomeOK,
			swap:       model.Swap{Job: &job, Contractor: &c, Assignment: &a},
			eventType:  model.EventJobCompleted,
			entry:      entry,
			contractor: contractorID,
			assignment: &a,
		}, nil
	})
}

// Cancel withdraws an open job.
func (m *Machine) Cancel(ctx context.Context, jobID, actor string) (Result, error) {
	return m.run(ctx, "cancel", jobID, func(ctx context.Context, now time.Time) (plan, error) {
		job, err := m.store.GetJob(ctx, jobID)
		if err != nil {
			return plan{}, err
		}
		if job.Status != model.JobOpen {
			return reject(OutcomeInvalidTransition)
		}
		entry := model.AuditEntry{Action: "cancel", From: model.JobOpen, To: model.JobCancelled, Actor: actor, At: now}
		job.Status = model.JobCancelled

		return plan{
			outcome:   OutcomeOK,
			swap:      model.Swap{Job: &job},
			eventType: model.EventJobCancelled,
			entry:     entry,
		}, nil
	})
}

// checkHolder validates that contractorID holds job in status want.
func (m *Machine) checkHolder(job model.Job, contractorID string, want model.JobStatus) Outcome {
	switch {
	case job.Status.Occupied() && job.AssignedContractorID != contractorID:
		return OutcomeNotAssignee
	case job.Status != want:
		return OutcomeInvalidTransition
	}
	return OutcomeOK
}

// Assign implements matching.Assigner by accepting on the contractor's behalf.
func (m *Machine) Assign(ctx context.Context, jobID, contractorID string) (matching.Assignment, error) {
	r, err := m.Accept(ctx, jobID, contractorID)
	if err != nil {
		return matching.Assignment{}, err
	}
	out := matching.Assignment{ContractorID: contractorID, Outcome: string(r.Outcome), OK: r.OK()}
	if r.Assignment != nil {
		out.AssignmentID = r.Assignment.ID
	}
	return out, nil
}

var _ matching.Assigner = (*Machine)(nil)
