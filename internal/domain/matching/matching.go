// Package matching filters and ranks contractors for a job. The engine is a
// pure function of its inputs apart from the optional hand-off of the top
// candidate to an Assigner.
package matching

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/okian/installmatch/internal/domain/geo"
	"github.com/okian/installmatch/internal/domain/model"
	"github.com/okian/installmatch/internal/domain/pricing"
	"github.com/okian/installmatch/internal/domain/tier"
)

// Options tune a single match.
type Options struct {
	Priority      Priority `json:"priority" koanf:"priority"`
	MaxDistanceKm float64  `json:"max_distance_km" koanf:"max_distance_km"`
	MinRating     float64  `json:"min_rating" koanf:"min_rating"`
	// MaxCandidates of zero or less keeps every eligible contractor.
	MaxCandidates int      `json:"max_candidates" koanf:"max_candidates"`
	AutoAssign    bool     `json:"auto_assign" koanf:"auto_assign"`
	Mode          geo.Mode `json:"mode" koanf:"mode"`
	// Now prices candidates; the zero value means time.Now.
	Now time.Time `json:"-" koanf:"-"`
}

// DefaultOptions returns the options used when a caller sets none.
func DefaultOptions() Options {
	return Options{
		Priority:      PriorityComposite,
		MaxCandidates: 10,
		Mode:          geo.ModeCar,
	}
}

// Validate rejects unknown profiles and out-of-range limits.
func (o Options) Validate() error {
	if _, err := o.Priority.Weights(); err != nil {
		return err
	}
	if _, err := geo.ParseMode(string(o.Mode)); err != nil {
		return err
	}
	if math.IsNaN(o.MaxDistanceKm) || o.MaxDistanceKm < 0 {
		return fmt.Errorf("%w: max_distance_km %v", ErrInvalidOptions, o.MaxDistanceKm)
	}
	if math.IsNaN(o.MinRating) || o.MinRating < 0 || o.MinRating > tier.MaxRating {
		return fmt.Errorf("%w: min_rating %v outside [0,5]", ErrInvalidOptions, o.MinRating)
	}
	return nil
}

// Reason names the eligibility rule a contractor failed.
type Reason string

// Eligibility failures.
const (
	ReasonInactive         Reason = "inactive"
	ReasonAtCapacity       Reason = "at_capacity"
	ReasonDeclined         Reason = "declined"
	ReasonUnavailable      Reason = "unavailable"
	ReasonScheduleConflict Reason = "schedule_conflict"
	ReasonOverBudget       Reason = "over_budget"
	ReasonTooFar           Reason = "too_far"
	ReasonLowRating        Reason = "low_rating"
	ReasonMissingSkills    Reason = "missing_skills"
)

// Rejection records why a contractor was filtered out.
type Rejection struct {
	ContractorID string `json:"contractor_id"`
	Reason       Reason `json:"reason"`
}

// Candidate is an eligible, scored contractor.
type Candidate struct {
	ContractorID string            `json:"contractor_id"`
	Name         string            `json:"name"`
	Tier         tier.ID           `json:"tier"`
	Scores       SubScores         `json:"scores"`
	Composite    float64           `json:"composite"`
	Distance     geo.Distance      `json:"distance"`
	Travel       geo.TravelTime    `json:"travel"`
	Cost         int64             `json:"cost"`
	Price        pricing.Breakdown `json:"price"`
}

// Outcome distinguishes a successful search from one with nobody eligible.
type Outcome string

// Match outcomes.
const (
	OutcomeMatched              Outcome = "matched"
	OutcomeNoEligibleContractor Outcome = "no_eligible_contractor"
)

// Assignment is the result of handing the top candidate to an Assigner.
type Assignment struct {
	ContractorID string `json:"contractor_id"`
	Outcome      string `json:"outcome"`
	AssignmentID string `json:"assignment_id,omitempty"`
	OK           bool   `json:"ok"`
}

// Assigner accepts a job on behalf of a contractor.
type Assigner interface {
	Assign(ctx context.Context, jobID, contractorID string) (Assignment, error)
}

// Result is the ranked outcome of a match.
type Result struct {
	JobID      string      `json:"job_id"`
	Outcome    Outcome     `json:"outcome"`
	Priority   Priority    `json:"priority"`
	Candidates []Candidate `json:"candidates"`
	Rejections []Rejection `json:"rejections"`
	Assignment *Assignment `json:"assignment,omitempty"`
}

// Engine ranks contractors. It is safe for concurrent use.
type Engine struct {
	pricing  *pricing.Engine
	profile  tier.Profile
	assigner Assigner
}

// NewEngine returns a matching engine. Without WithPricing it prices with the
// default configuration.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{profile: tier.DefaultProfile()}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.profile.Validate(); err != nil {
		return nil, err
	}
	if e.pricing == nil {
		p, err := pricing.NewEngine(pricing.WithTierProfile(e.profile))
		if err != nil {
			return nil, err
		}
		e.pricing = p
	}
	return e, nil
}

// Match filters contractors by the hard eligibility rules, scores the rest,
// and ranks them: known distance first, then composite score descending,
// then input order.
func (e *Engine) Match(ctx context.Context, contractors []model.Contractor, job model.Job, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if opts.Priority == "" {
		opts.Priority = PriorityComposite
	}
	if opts.Mode == "" {
		opts.Mode = geo.ModeCar
	}
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}
	if err := job.Validate(); err != nil {
		return Result{}, err
	}
	if opts.AutoAssign && e.assigner == nil {
		return Result{}, ErrNoAssigner
	}
	weights, _ := opts.Priority.Weights()
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	res := Result{JobID: job.ID, Priority: opts.Priority}
	for _, c := range contractors {
		cand, reason, err := e.evaluate(c, job, opts, weights, now)
		if err != nil {
			return Result{}, err
		}
		if reason != "" {
			res.Rejections = append(res.Rejections, Rejection{ContractorID: c.ID, Reason: reason})
			continue
		}
		res.Candidates = append(res.Candidates, cand)
	}

	sort.SliceStable(res.Candidates, func(i, j int) bool {
		a, b := res.Candidates[i], res.Candidates[j]
		if a.Distance.Known != b.Distance.Known {
			return a.Distance.Known
		}
		return a.Composite > b.Composite
	})
	if opts.MaxCandidates > 0 && len(res.Candidates) > opts.MaxCandidates {
		res.Candidates = res.Candidates[:opts.MaxCandidates]
	}

	if len(res.Candidates) == 0 {
		res.Outcome = OutcomeNoEligibleContractor
		return res, nil
	}
	res.Outcome = OutcomeMatched

	if opts.AutoAssign {
		a, err := e.assigner.Assign(ctx, job.ID, res.Candidates[0].ContractorID)
		if err != nil {
			return res, fmt.Errorf("auto-assign %s: %w", res.Candidates[0].ContractorID, err)
		}
		res.Assignment = &a
	}
	return res, nil
}

// evaluate applies the hard filter and, when c passes, scores it. A non-empty
// reason means c was rejected.
func (e *Engine) evaluate(c model.Contractor, job model.Job, opts Options, w Weights, now time.Time) (Candidate, Reason, error) {
	if !c.Eligible() {
		return Candidate{}, ReasonInactive, nil
	}
	if c.AtCapacity() {
		return Candidate{}, ReasonAtCapacity, nil
	}
	if job.Declined(c.ID) {
		return Candidate{}, ReasonDeclined, nil
	}
	avail, reason := availabilityScore(c.Availability, job)
	if reason != "" {
		return Candidate{}, reason, nil
	}
	cost := c.Cost.For(job.Duration())
	if cost > job.Budget {
		return Candidate{}, ReasonOverBudget, nil
	}
	dist := geo.Between(c.Location, job.Location)
	if opts.MaxDistanceKm > 0 && (!dist.Known || dist.Km() > opts.MaxDistanceKm) {
		return Candidate{}, ReasonTooFar, nil
	}
	rating := c.Metrics.Clamp().Rating
	if rating < opts.MinRating {
		return Candidate{}, ReasonLowRating, nil
	}
	if !c.HasSkills(job.RequiredSkills) {
		return Candidate{}, ReasonMissingSkills, nil
	}

	travel, err := geo.EstimateTravelTime(dist, opts.Mode)
	if err != nil {
		return Candidate{}, "", err
	}
	price, err := e.pricing.Price(pricing.Input{
		BaseFee:   job.Budget,
		Urgency:   job.Urgency,
		CreatedAt: job.CreatedAt,
		Now:       now,
	}, c.Tier)
	if err != nil {
		return Candidate{}, "", fmt.Errorf("price for %s: %w", c.ID, err)
	}

	s := SubScores{
		Tier:         e.profile.Priority(c.Tier),
		Distance:     distanceScore(dist),
		Rating:       ratingScore(rating),
		Availability: avail,
		Experience:   experienceScore(c.JobTypeCounts[job.Type]),
		Cost:         costScore(cost, job.Budget),
	}
	return Candidate{
		ContractorID: c.ID,
		Name:         c.Name,
		Tier:         c.Tier,
		Scores:       s,
		Composite:    w.Apply(s),
		Distance:     dist,
		Travel:       travel,
		Cost:         cost,
		Price:        price,
	}, "", nil
}

// availabilityScore is 100 for the requested date and 80 when a flexible job
// fits within flexibleWindowDays of it. Every day the job window touches must
// be available and the window must not overlap a reservation.
func availabilityScore(a model.Availability, job model.Job) (float64, Reason) {
	w := job.Window()
	if a.Covers(w) {
		if a.Free(w) {
			return exactDateScore, ""
		}
		if !job.FlexibleDate {
			return 0, ReasonScheduleConflict
		}
	} else if !job.FlexibleDate {
		return 0, ReasonUnavailable
	}
	for d := 1; d <= flexibleWindowDays; d++ {
		for _, off := range []int{d, -d} {
			shifted := model.TimeRange{Start: w.Start.AddDate(0, 0, off), End: w.End.AddDate(0, 0, off)}
			if a.Covers(shifted) && a.Free(shifted) {
				return flexibleDateScore, ""
			}
		}
	}
	return 0, ReasonUnavailable
}
