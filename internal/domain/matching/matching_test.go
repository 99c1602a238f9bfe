package matching_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/okian/installmatch/internal/domain/errkind"
	"github.com/okian/installmatch/internal/domain/geo"
	"github.com/okian/installmatch/internal/domain/matching"
	"github.com/okian/installmatch/internal/domain/model"
	"github.com/okian/installmatch/internal/domain/pricing"
	"github.com/okian/installmatch/internal/domain/tier"
	. "github.com/smartystreets/goconvey/convey"
)

var start = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

func seoulJob() model.Job {
	return model.Job{
		ID:              "job-1",
		Type:            "curtain",
		Location:        geo.At(37.5665, 126.9780),
		Start:           start,
		DurationMinutes: 120,
		Budget:          500000,
		RequiredSkills:  []string{"curtain"},
		Urgency:         pricing.UrgencyNormal,
		CreatedAt:       start.Add(-24 * time.Hour),
		Status:          model.JobOpen,
	}
}

func contractor(id string, t tier.ID, rating float64, lat, lng float64) model.Contractor {
	return model.Contractor{
		ID:           id,
		Tier:         t,
		Location:     geo.At(lat, lng),
		Cost:         model.Cost{HourlyRate: 50000},
		Availability: model.Availability{Dates: []string{"2024-06-03"}},
		Skills:       []string{"curtain"},
		Metrics:      tier.Metrics{Rating: rating},
		Active:       true,
	}
}

func seoulContractors() []model.Contractor {
	diamondA := contractor("diamond-a", tier.Diamond, 4.5, 37.5700, 126.9820)
	diamondB := contractor("diamond-b", tier.Diamond, 4.6, 37.5600, 126.9700)
	unavailable := contractor("gold-busy", tier.Gold, 4.7, 37.5650, 126.9800)
	unavailable.Availability.Dates = []string{"2024-06-20"}
	platinum := contractor("platinum-star", tier.Platinum, 5.0, 37.5680, 126.9790)
	inactive := contractor("bronze-off", tier.Bronze, 4.2, 37.5660, 126.9770)
	inactive.Active = false
	return []model.Contractor{unavailable, diamondA, inactive, platinum, diamondB}
}

func mustEngine(opts ...matching.Option) *matching.Engine {
	e, err := matching.NewEngine(opts...)
	if err != nil {
		panic(err)
	}
	return e
}

type stubAssigner struct {
	calls []string
	err   error
}

func (s *stubAssigner) Assign(_ context.Context, jobID, contractorID string) (matching.Assignment, error) {
	s.calls = append(s.calls, jobID+"/"+contractorID)
	if s.err != nil {
		return matching.Assignment{}, s.err
	}
	return matching.Assignment{ContractorID: contractorID, Outcome: "ok", AssignmentID: "a-1", OK: true}, nil
}

func TestSeoulScenario(t *testing.T) {
	e := mustEngine()
	ctx := context.Background()

	Convey("Given a Seoul curtain job and five contractors", t, func() {
		opts := matching.Options{Priority: matching.PriorityGrade, MinRating: 4.0, Now: start}

		Convey("When matched by grade", func() {
			res, err := e.Match(ctx, seoulContractors(), seoulJob(), opts)
			So(err, ShouldBeNil)

			Convey("Then exactly the three eligible contractors are returned", func() {
				So(res.Outcome, ShouldEqual, matching.OutcomeMatched)
				So(res.Candidates, ShouldHaveLength, 3)
			})

			Convey("Then the two top-tier contractors rank first", func() {
				So(res.Candidates[0].Tier, ShouldEqual, tier.Diamond)
				So(res.Candidates[1].Tier, ShouldEqual, tier.Diamond)
				So(res.Candidates[2].ContractorID, ShouldEqual, "platinum-star")
			})

			Convey("Then the unavailable and inactive contractors are rejected with reasons", func() {
				reasons := map[string]matching.Reason{}
				for _, r := range res.Rejections {
					reasons[r.ContractorID] = r.Reason
				}
				So(reasons, ShouldHaveLength, 2)
				So(reasons["gold-busy"], ShouldEqual, matching.ReasonUnavailable)
				So(reasons["bronze-off"], ShouldEqual, matching.ReasonInactive)
			})

			Convey("Then each candidate carries its distance, travel time and price", func() {
				for _, c := range res.Candidates {
					So(c.Distance.Known, ShouldBeTrue)
					So(c.Travel.Known, ShouldBeTrue)
					So(c.Price.BaseFee, ShouldEqual, int64(500000))
					So(c.Cost, ShouldEqual, int64(100000))
					So(c.Scores.Cost, ShouldEqual, 100.0)
				}
			})
		})

		Convey("When matched by rating", func() {
			opts.Priority = matching.PriorityRating
			res, err := e.Match(ctx, seoulContractors(), seoulJob(), opts)
			So(err, ShouldBeNil)

			Convey("Then the highest-rated contractor leads", func() {
				So(res.Candidates[0].ContractorID, ShouldEqual, "platinum-star")
			})
		})
	})
}

func TestEligibility(t *testing.T) {
	e := mustEngine()
	ctx := context.Background()

	Convey("Given a varied pool of contractors", t, func() {
		job := seoulJob()
		var pool []model.Contractor
		for i := 0; i < 40; i++ {
			c := contractor(fmt.Sprintf("c%02d", i), tier.All[i%len(tier.All)], 3.0+float64(i%5)*0.5, 37.5+float64(i)*0.02, 126.9+float64(i%7)*0.05)
			if i%6 == 0 {
				c.Active = false
			}
			if i%7 == 0 {
				c.Skills = []string{"tile"}
			}
			if i%8 == 0 {
				c.Cost = model.Cost{HourlyRate: 400000}
			}
			if i%9 == 0 {
				c.MaxConcurrentJobs, c.ActiveJobs = 1, 1
			}
			if i%10 == 0 {
				c.Location = geo.Unknown
			}
			pool = append(pool, c)
		}
		opts := matching.Options{Priority: matching.PriorityComposite, MaxDistanceKm: 30, MinRating: 3.5, Now: start}

		Convey("When matched", func() {
			res, err := e.Match(ctx, pool, job, opts)
			So(err, ShouldBeNil)
			byID := map[string]model.Contractor{}
			for _, c := range pool {
				byID[c.ID] = c
			}

			Convey("Then no candidate violates a hard rule", func() {
				for _, cand := range res.Candidates {
					c := byID[cand.ContractorID]
					So(c.Eligible(), ShouldBeTrue)
					So(c.AtCapacity(), ShouldBeFalse)
					So(c.HasSkills(job.RequiredSkills), ShouldBeTrue)
					So(c.Metrics.Rating, ShouldBeGreaterThanOrEqualTo, opts.MinRating)
					So(cand.Cost, ShouldBeLessThanOrEqualTo, job.Budget)
					So(cand.Distance.Known, ShouldBeTrue)
					So(cand.Distance.Km(), ShouldBeLessThanOrEqualTo, opts.MaxDistanceKm)
				}
			})

			Convey("Then every contractor is either a candidate or rejected", func() {
				So(len(res.Candidates)+len(res.Rejections), ShouldEqual, len(pool))
			})

			Convey("Then candidates are sorted by composite score", func() {
				for i := 1; i < len(res.Candidates); i++ {
					So(res.Candidates[i-1].Composite, ShouldBeGreaterThanOrEqualTo, res.Candidates[i].Composite)
				}
			})
		})

		Convey("When truncated", func() {
			opts.MaxCandidates = 2
			res, err := e.Match(ctx, pool, job, opts)
			So(err, ShouldBeNil)
			So(len(res.Candidates), ShouldBeLessThanOrEqualTo, 2)
		})
	})
}

func TestMalformedRatings(t *testing.T) {
	e := mustEngine()
	ctx := context.Background()

	Convey("Given contractors whose stored rating is out of range", t, func() {
		nan := contractor("nan", tier.Gold, math.NaN(), 37.57, 126.98)
		high := contractor("high", tier.Gold, 9, 37.57, 126.98)
		opts := matching.Options{MinRating: 4, Now: start}

		Convey("When matched with a minimum rating", func() {
			res, err := e.Match(ctx, []model.Contractor{nan, high}, seoulJob(), opts)
			So(err, ShouldBeNil)

			Convey("Then a NaN rating counts as zero and is rejected", func() {
				So(res.Rejections, ShouldResemble, []matching.Rejection{{ContractorID: "nan", Reason: matching.ReasonLowRating}})
			})

			Convey("Then an oversized rating scores as the maximum", func() {
				So(res.Candidates, ShouldHaveLength, 1)
				So(res.Candidates[0].Scores.Rating, ShouldEqual, 100.0)
			})
		})
	})
}

func TestOrdering(t *testing.T) {
	e := mustEngine()
	ctx := context.Background()

	Convey("Given identical contractors", t, func() {
		a := contractor("first", tier.Gold, 4.5, 37.57, 126.98)
		b := contractor("second", tier.Gold, 4.5, 37.57, 126.98)
		unknown := contractor("nowhere", tier.Diamond, 5.0, 0, 0)
		unknown.Location = geo.Unknown

		Convey("Then ties keep input order and unknown distance ranks last", func() {
			res, err := e.Match(ctx, []model.Contractor{unknown, a, b}, seoulJob(), matching.Options{Now: start})
			So(err, ShouldBeNil)
			So(res.Candidates, ShouldHaveLength, 3)
			So(res.Candidates[0].ContractorID, ShouldEqual, "first")
			So(res.Candidates[1].ContractorID, ShouldEqual, "second")
			So(res.Candidates[2].ContractorID, ShouldEqual, "nowhere")
			So(res.Candidates[2].Scores.Distance, ShouldEqual, 0.0)
		})

		Convey("Then a positive distance limit rejects unknown locations", func() {
			res, err := e.Match(ctx, []model.Contractor{unknown}, seoulJob(), matching.Options{MaxDistanceKm: 50, Now: start})
			So(err, ShouldBeNil)
			So(res.Outcome, ShouldEqual, matching.OutcomeNoEligibleContractor)
			So(res.Rejections[0].Reason, ShouldEqual, matching.ReasonTooFar)
		})
	})
}

func TestAvailabilityRules(t *testing.T) {
	e := mustEngine()
	ctx := context.Background()

	Convey("Given a contractor free only two days later", t, func() {
		c := contractor("later", tier.Silver, 4.5, 37.57, 126.98)
		c.Availability.Dates = []string{"2024-06-05"}
		job := seoulJob()

		Convey("When the job date is fixed", func() {
			res, err := e.Match(ctx, []model.Contractor{c}, job, matching.Options{Now: start})
			So(err, ShouldBeNil)
			So(res.Outcome, ShouldEqual, matching.OutcomeNoEligibleContractor)
		})

		Convey("When the job date is flexible", func() {
			job.FlexibleDate = true
			res, err := e.Match(ctx, []model.Contractor{c}, job, matching.Options{Now: start})
			So(err, ShouldBeNil)
			So(res.Candidates, ShouldHaveLength, 1)
			So(res.Candidates[0].Scores.Availability, ShouldEqual, 80.0)
		})
	})

	Convey("Given a job that runs past midnight", t, func() {
		job := seoulJob()
		job.Start = time.Date(2024, 6, 3, 22, 0, 0, 0, time.UTC)
		job.DurationMinutes = 240
		c := contractor("overnight", tier.Silver, 4.5, 37.57, 126.98)

		Convey("When the contractor is free only on the start date", func() {
			res, err := e.Match(ctx, []model.Contractor{c}, job, matching.Options{Now: start})

			Convey("Then the contractor is unavailable", func() {
				So(err, ShouldBeNil)
				So(res.Rejections, ShouldResemble, []matching.Rejection{{ContractorID: "overnight", Reason: matching.ReasonUnavailable}})
			})
		})

		Convey("When the contractor is free on both dates", func() {
			c.Availability.Dates = []string{"2024-06-03", "2024-06-04"}
			res, err := e.Match(ctx, []model.Contractor{c}, job, matching.Options{Now: start})

			Convey("Then the contractor is a candidate on the exact date", func() {
				So(err, ShouldBeNil)
				So(res.Candidates, ShouldHaveLength, 1)
				So(res.Candidates[0].Scores.Availability, ShouldEqual, 100.0)
			})
		})
	})

	Convey("Given a reservation overlapping the job window", t, func() {
		c := contractor("booked", tier.Silver, 4.5, 37.57, 126.98)
		c.Availability.Reserved = []model.TimeRange{{Start: start.Add(time.Hour), End: start.Add(3 * time.Hour)}}

		Convey("Then the contractor is rejected for the conflict", func() {
			res, err := e.Match(ctx, []model.Contractor{c}, seoulJob(), matching.Options{Now: start})
			So(err, ShouldBeNil)
			So(res.Rejections, ShouldResemble, []matching.Rejection{{ContractorID: "booked", Reason: matching.ReasonScheduleConflict}})
		})
	})

	Convey("Given a contractor who declined the job", t, func() {
		c := contractor("passed", tier.Silver, 4.5, 37.57, 126.98)
		job := seoulJob()
		job.DeclineLog = []model.DeclineEntry{{ContractorID: "passed"}}

		Convey("Then it is not offered again", func() {
			res, err := e.Match(ctx, []model.Contractor{c}, job, matching.Options{Now: start})
			So(err, ShouldBeNil)
			So(res.Rejections[0].Reason, ShouldEqual, matching.ReasonDeclined)
		})
	})
}

func TestAutoAssign(t *testing.T) {
	ctx := context.Background()

	Convey("Given an engine with an assigner", t, func() {
		stub := &stubAssigner{}
		e := mustEngine(matching.WithAssigner(stub))
		opts := matching.Options{Priority: matching.PriorityGrade, AutoAssign: true, Now: start}

		Convey("When auto-assign is requested", func() {
			res, err := e.Match(ctx, seoulContractors(), seoulJob(), opts)
			So(err, ShouldBeNil)

			Convey("Then only the top candidate is handed over", func() {
				So(stub.calls, ShouldHaveLength, 1)
				So(stub.calls[0], ShouldEqual, "job-1/"+res.Candidates[0].ContractorID)
				So(res.Assignment, ShouldNotBeNil)
				So(res.Assignment.OK, ShouldBeTrue)
			})
		})

		Convey("When nobody is eligible", func() {
			res, err := e.Match(ctx, nil, seoulJob(), opts)
			So(err, ShouldBeNil)
			So(res.Outcome, ShouldEqual, matching.OutcomeNoEligibleContractor)
			So(stub.calls, ShouldBeEmpty)
		})

		Convey("When the assigner fails", func() {
			stub.err = errors.New("store down")
			_, err := e.Match(ctx, seoulContractors(), seoulJob(), opts)
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given an engine without an assigner", t, func() {
		e := mustEngine()
		_, err := e.Match(ctx, seoulContractors(), seoulJob(), matching.Options{AutoAssign: true})
		So(err, ShouldWrap, matching.ErrNoAssigner)
	})
}

func TestConfigurationErrors(t *testing.T) {
	e := mustEngine()
	ctx := context.Background()

	Convey("Given malformed options", t, func() {
		Convey("Then an unknown priority is rejected", func() {
			_, err := e.Match(ctx, nil, seoulJob(), matching.Options{Priority: "cheapest"})
			So(err, ShouldWrap, matching.ErrUnknownPriority)
			_, err = matching.ParsePriority("cheapest")
			So(errkind.IsConfig(err), ShouldBeTrue)
		})

		Convey("Then an out-of-range rating floor is rejected", func() {
			_, err := e.Match(ctx, nil, seoulJob(), matching.Options{MinRating: 7})
			So(err, ShouldWrap, matching.ErrInvalidOptions)
		})

		Convey("Then an unknown travel mode is rejected", func() {
			_, err := e.Match(ctx, nil, seoulJob(), matching.Options{Mode: "teleport"})
			So(errkind.IsConfig(err), ShouldBeTrue)
		})
	})

	Convey("Given options decoded from JSON", t, func() {
		var opts matching.Options
		err := json.Unmarshal([]byte(`{"priority":" GRADE ","mode":"Bike"}`), &opts)

		Convey("Then names are parsed like ParsePriority and ParseMode", func() {
			So(err, ShouldBeNil)
			So(opts.Priority, ShouldEqual, matching.PriorityGrade)
			So(opts.Mode, ShouldEqual, geo.ModeBike)
		})

		Convey("Then an unknown priority fails the decode with a configuration error", func() {
			err := json.Unmarshal([]byte(`{"priority":"cheapest"}`), &opts)
			So(err, ShouldWrap, matching.ErrUnknownPriority)
		})
	})

	Convey("Given every priority profile", t, func() {
		Convey("Then its weights sum to one", func() {
			for _, p := range matching.Priorities {
				w, err := p.Weights()
				So(err, ShouldBeNil)
				sum := w.Tier + w.Distance + w.Rating + w.Availability + w.Experience + w.Cost
				So(sum, ShouldAlmostEqual, 1.0, 1e-9)
			}
		})
	})
}
