package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	repository "github.com/okian/installmatch/internal/adapters/repository"
	"github.com/okian/installmatch/internal/adapters/repository/storetest"
	service "github.com/okian/installmatch/internal/app"
	"github.com/okian/installmatch/internal/domain/dispatch"
	"github.com/okian/installmatch/internal/domain/errkind"
	"github.com/okian/installmatch/internal/domain/geo"
	"github.com/okian/installmatch/internal/domain/matching"
	"github.com/okian/installmatch/internal/domain/model"
	"github.com/okian/installmatch/internal/domain/pricing"
	"github.com/okian/installmatch/internal/domain/tier"
	"github.com/okian/installmatch/pkg/backoff"
	. "github.com/smartystreets/goconvey/convey"
)

var clock = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

type collector struct {
	mu     sync.Mutex
	events []model.Event
}

func (c *collector) Name() string { return "collector" }

func (c *collector) Deliver(_ context.Context, e model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *collector) types() []model.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.EventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func newService(sink *collector) *service.Service {
	store := repository.NewMemoryStore(repository.WithClock(func() time.Time { return clock }))
	svc, err := service.New(
		service.WithStore(store),
		service.WithWorkerCount(1),
		service.WithQueueSize(64),
		service.WithSinks(sink),
		service.WithDispatchRetry(3, backoff.Constant{}),
	)
	So(err, ShouldBeNil)
	return svc
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a started service with two contractors and an open job", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sink := &collector{}
		svc := newService(sink)
		So(svc.Start(ctx), ShouldBeNil)
		Reset(func() { _ = svc.Stop(ctx) })

		for _, id := range []string{"c-1", "c-2"} {
			_, err := svc.PutContractor(ctx, storetest.Contractor(id))
			So(err, ShouldBeNil)
		}
		job, err := svc.CreateJob(ctx, storetest.Job("seller-1"))
		So(err, ShouldBeNil)
		So(job.CreatedAt, ShouldEqual, clock)

		Convey("When matching without auto-assign", func() {
			res, err := svc.Match(ctx, job.ID, svc.MatchDefaults())

			Convey("Then both contractors are ranked and priced", func() {
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, matching.OutcomeMatched)
				So(len(res.Candidates), ShouldEqual, 2)
				So(res.Candidates[0].ContractorID, ShouldEqual, "c-1")
				So(res.Candidates[0].Price.Payout+res.Candidates[0].Price.PlatformFee, ShouldEqual, res.Candidates[0].Price.TotalFee)
				So(res.Assignment, ShouldBeNil)
			})
		})

		Convey("When matching with auto-assign and running the job to completion", func() {
			opts := svc.MatchDefaults()
			opts.AutoAssign = true
			res, err := svc.Match(ctx, job.ID, opts)
			So(err, ShouldBeNil)
			So(res.Assignment, ShouldNotBeNil)
			So(res.Assignment.OK, ShouldBeTrue)
			So(res.Assignment.ContractorID, ShouldEqual, "c-1")

			started, err := svc.StartJob(ctx, job.ID, "c-1")
			So(err, ShouldBeNil)
			So(started.Outcome, ShouldEqual, dispatch.OutcomeOK)

			done, err := svc.Complete(ctx, job.ID, "c-1")
			So(err, ShouldBeNil)
			So(done.Outcome, ShouldEqual, dispatch.OutcomeOK)
			So(svc.Stop(ctx), ShouldBeNil)

			Convey("Then the job is completed with its price snapshot", func() {
				So(done.Job.Status, ShouldEqual, model.JobCompleted)
				So(done.Job.Pricing, ShouldNotBeNil)
				So(done.Job.Pricing.Tier, ShouldEqual, tier.Bronze)
			})

			Convey("And every transition event reached the sink once, in order", func() {
				So(sink.types(), ShouldResemble, []model.EventType{
					model.EventJobAssigned, model.EventJobStarted, model.EventJobCompleted,
				})
			})

			Convey("And the contractor's counters moved in the same swaps", func() {
				c, err := svc.GetContractor(ctx, "c-1")
				So(err, ShouldBeNil)
				So(c.ActiveJobs, ShouldEqual, 0)
				So(c.Metrics.CompletedJobs, ShouldEqual, 1)
				So(c.JobTypeCounts["air_conditioner"], ShouldEqual, 1)
			})

			Convey("And the assignment history is kept", func() {
				as, err := svc.ListAssignments(ctx, job.ID)
				So(err, ShouldBeNil)
				So(len(as), ShouldEqual, 1)
				So(as[0].Status, ShouldEqual, model.AssignmentCompleted)
			})
		})

		Convey("When a contractor accepts and a second tries", func() {
			first, err := svc.Accept(ctx, job.ID, "c-1")
			So(err, ShouldBeNil)
			second, err := svc.Accept(ctx, job.ID, "c-2")
			So(err, ShouldBeNil)

			Convey("Then only the first wins", func() {
				So(first.Outcome, ShouldEqual, dispatch.OutcomeOK)
				So(second.Outcome, ShouldEqual, dispatch.OutcomeAlreadyAccepted)
			})

			Convey("And the job can no longer be matched", func() {
				_, err := svc.Match(ctx, job.ID, svc.MatchDefaults())
				So(err, ShouldWrap, service.ErrJobNotOpen)
			})

			Convey("And declining returns it to the pool without the decliner", func() {
				dec, err := svc.Decline(ctx, job.ID, "c-1", "schedule clash")
				So(err, ShouldBeNil)
				So(dec.Outcome, ShouldEqual, dispatch.OutcomeOK)

				res, err := svc.Match(ctx, job.ID, svc.MatchDefaults())
				So(err, ShouldBeNil)
				So(len(res.Candidates), ShouldEqual, 1)
				So(res.Candidates[0].ContractorID, ShouldEqual, "c-2")
			})
		})

		Convey("When a contractor is put with a claimed tier and counters", func() {
			c := storetest.Contractor("c-3")
			c.Tier = tier.Diamond
			c.ActiveJobs = 5
			saved, err := svc.PutContractor(ctx, c)

			Convey("Then the tier follows the metrics and the counters start at zero", func() {
				So(err, ShouldBeNil)
				So(saved.Tier, ShouldEqual, tier.Bronze)
				So(saved.ActiveJobs, ShouldEqual, 0)
				So(saved.Metrics.CompletedJobs, ShouldEqual, 0)
				So(saved.JobTypeCounts, ShouldBeEmpty)
			})
		})

		Convey("When a contractor at capacity is re-put with a lower active count", func() {
			c, err := svc.GetContractor(ctx, "c-1")
			So(err, ShouldBeNil)
			c.MaxConcurrentJobs = 1
			c, err = svc.PutContractor(ctx, c)
			So(err, ShouldBeNil)

			first, err := svc.Accept(ctx, job.ID, "c-1")
			So(err, ShouldBeNil)
			So(first.Outcome, ShouldEqual, dispatch.OutcomeOK)

			c, err = svc.GetContractor(ctx, "c-1")
			So(err, ShouldBeNil)
			c.ActiveJobs = 0
			c.Metrics.CompletedJobs = 90
			c.Name = "renamed"
			updated, err := svc.PutContractor(ctx, c)
			So(err, ShouldBeNil)

			other, err := svc.CreateJob(ctx, storetest.Job("seller-2"))
			So(err, ShouldBeNil)
			second, err := svc.Accept(ctx, other.ID, "c-1")
			So(err, ShouldBeNil)

			Convey("Then the stored counters are kept and capacity still holds", func() {
				So(updated.Name, ShouldEqual, "renamed")
				So(updated.ActiveJobs, ShouldEqual, 1)
				So(updated.Metrics.CompletedJobs, ShouldEqual, 0)
				So(second.Outcome, ShouldEqual, dispatch.OutcomeAtCapacity)
			})
		})

		Convey("When a contractor update carries a stale version", func() {
			c, err := svc.GetContractor(ctx, "c-1")
			So(err, ShouldBeNil)
			c.Version--
			_, err = svc.PutContractor(ctx, c)

			Convey("Then it is a version conflict", func() {
				So(errkind.IsConflict(err), ShouldBeTrue)
			})
		})

		Convey("When the seller cancels", func() {
			res, err := svc.Cancel(ctx, job.ID, "seller-1")
			So(err, ShouldBeNil)

			Convey("Then the job is cancelled and listed as such", func() {
				So(res.Outcome, ShouldEqual, dispatch.OutcomeOK)
				jobs, err := svc.ListJobs(ctx, repository.JobFilter{Status: model.JobCancelled})
				So(err, ShouldBeNil)
				So(len(jobs), ShouldEqual, 1)
			})
		})

		Convey("When many jobs are matched in one batch", func() {
			ids := []string{job.ID}
			for i := 0; i < 5; i++ {
				j, err := svc.CreateJob(ctx, storetest.Job(fmt.Sprintf("seller-%d", i)))
				So(err, ShouldBeNil)
				ids = append(ids, j.ID)
			}
			results, err := svc.MatchBatch(ctx, ids, svc.MatchDefaults())

			Convey("Then results follow the request order", func() {
				So(err, ShouldBeNil)
				So(len(results), ShouldEqual, len(ids))
				for i, r := range results {
					So(r.JobID, ShouldEqual, ids[i])
				}
			})
		})

		Convey("When a batch names an unknown job", func() {
			_, err := svc.MatchBatch(ctx, []string{job.ID, "missing"}, svc.MatchDefaults())

			Convey("Then the batch fails with not found", func() {
				So(err, ShouldWrap, errkind.ErrNotFound)
			})
		})

		Convey("When the stats are read", func() {
			stats, err := svc.GetStats(ctx)

			Convey("Then the repository counts are reported", func() {
				So(err, ShouldBeNil)
				So(stats.Started, ShouldBeTrue)
				So(stats.Contractors, ShouldEqual, 2)
				So(stats.Jobs[model.JobOpen], ShouldEqual, 1)
			})
		})

	})
}

func TestServicePricing(t *testing.T) {
	Convey("Given a service on a fixed clock", t, func() {
		ctx := context.Background()
		svc := newService(&collector{})
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When pricing a normal job without timestamps", func() {
			b, err := svc.Price(ctx, pricing.Input{BaseFee: 100000, Urgency: pricing.UrgencyNormal}, tier.Gold)

			Convey("Then it is priced at the store clock with no surcharge", func() {
				So(err, ShouldBeNil)
				So(b.UrgencyFee, ShouldEqual, 0)
				So(b.TotalFee, ShouldEqual, 100000)
				So(b.TotalFee+b.Tax, ShouldEqual, b.CustomerTotal)
			})
		})

		Convey("When pricing with a caller-supplied evaluation time", func() {
			b, err := svc.Price(ctx, pricing.Input{
				BaseFee:   100000,
				Urgency:   pricing.UrgencyUrgent,
				CreatedAt: clock.Add(-2 * time.Hour),
				Now:       clock.Add(48 * time.Hour),
			}, tier.Bronze)

			Convey("Then escalation runs to the store clock only", func() {
				So(err, ShouldBeNil)
				So(b.ElapsedMinutes, ShouldEqual, 120)
				So(b.UrgencyPercent, ShouldEqual, 25)
				So(b.UrgencyFee, ShouldEqual, 25000)
			})
		})

		Convey("When pricing a job created in the future", func() {
			b, err := svc.Price(ctx, pricing.Input{
				BaseFee:   100000,
				Urgency:   pricing.UrgencyUrgent,
				CreatedAt: clock.Add(time.Hour),
			}, tier.Bronze)

			Convey("Then it prices with no elapsed time", func() {
				So(err, ShouldBeNil)
				So(b.ElapsedMinutes, ShouldEqual, 0)
				So(b.UrgencyPercent, ShouldEqual, 15)
			})
		})

		Convey("When pricing a non-positive base fee", func() {
			_, err := svc.Price(ctx, pricing.Input{BaseFee: 0}, tier.Gold)

			Convey("Then it is a configuration error", func() {
				So(errkind.IsConfig(err), ShouldBeTrue)
			})
		})

		Convey("When quoting an installation", func() {
			q, err := svc.Quote(ctx, pricing.QuoteInput{
				AreaSquareMeters: 20,
				Complexity:       pricing.ComplexityStandard,
				Urgency:          pricing.UrgencyNormal,
			}, tier.Silver)

			Convey("Then itemized lines settle into a breakdown", func() {
				So(err, ShouldBeNil)
				So(len(q.Lines), ShouldBeGreaterThan, 0)
				So(q.Breakdown.BaseFee, ShouldEqual, q.BaseFee)
			})
		})

		Convey("When sequencing a route", func() {
			stops := []geo.Stop{
				{ID: "far", Site: geo.At(37.60, 127.10)},
				{ID: "near", Site: geo.At(37.5670, 126.9790)},
				{ID: "unknown", Site: geo.Unknown},
			}
			r, err := svc.Route(ctx, geo.At(37.5665, 126.9780), stops, "")

			Convey("Then the nearest stop comes first and unknown ones last", func() {
				So(err, ShouldBeNil)
				So(r.Order(), ShouldResemble, []string{"near", "far", "unknown"})
			})
		})

		Convey("When analysing a contractor's tier", func() {
			a := svc.AnalyzeTier(tier.Metrics{CompletedJobs: 0})

			Convey("Then the lowest tier is reported with a next tier", func() {
				So(a.Tier, ShouldEqual, tier.Bronze)
				So(a.Next, ShouldNotBeNil)
			})
		})
	})
}
