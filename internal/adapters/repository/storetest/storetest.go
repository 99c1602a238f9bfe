// Package storetest is a behavioral suite every repository.Store backend
// must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/okian/installmatch/internal/adapters/repository"
	"github.com/okian/installmatch/internal/domain/errkind"
	"github.com/okian/installmatch/internal/domain/geo"
	"github.com/okian/installmatch/internal/domain/model"
	"github.com/okian/installmatch/internal/domain/pricing"
	"github.com/okian/installmatch/internal/domain/tier"
	. "github.com/smartystreets/goconvey/convey"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) repository.Store

// Job returns a valid job fixture for seller.
func Job(seller string) model.Job {
	return model.Job{
		SellerID:        seller,
		Type:            "air_conditioner",
		Location:        geo.At(37.5665, 126.9780),
		Start:           time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC),
		DurationMinutes: 120,
		Budget:          100000,
		RequiredSkills:  []string{"ac"},
		Urgency:         pricing.UrgencyUrgent,
	}
}

// Contractor returns a valid active contractor fixture.
func Contractor(id string) model.Contractor {
	return model.Contractor{
		ID:                id,
		Name:              "contractor " + id,
		Tier:              tier.Gold,
		Location:          geo.At(37.55, 126.97),
		Cost:              model.Cost{Estimate: 80000},
		Availability:      model.Availability{Dates: []string{"2024-05-10"}},
		Skills:            []string{"ac", "tv"},
		Metrics:           tier.Metrics{CompletedJobs: 10, Rating: 4.5},
		JobTypeCounts:     map[string]int{"air_conditioner": 3},
		Active:            true,
		MaxConcurrentJobs: 2,
	}
}

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	Convey("Given an empty store", t, func() {
		s := newStore(t)
		Reset(func() { _ = s.Close() })

		Convey("When a job is created", func() {
			created, err := s.CreateJob(ctx, Job("seller-1"))
			So(err, ShouldBeNil)

			Convey("Then it is open, stamped and versioned", func() {
				So(created.ID, ShouldNotBeEmpty)
				So(created.Status, ShouldEqual, model.JobOpen)
				So(created.CreatedAt.IsZero(), ShouldBeFalse)
				So(created.Version, ShouldEqual, 1)
			})

			Convey("Then it reads back unchanged", func() {
				got, err := s.GetJob(ctx, created.ID)
				So(err, ShouldBeNil)
				So(got.ID, ShouldEqual, created.ID)
				So(got.Budget, ShouldEqual, 100000)
				So(got.Urgency, ShouldEqual, pricing.UrgencyUrgent)
				So(got.Location.Known(), ShouldBeTrue)
				So(got.CreatedAt.Equal(created.CreatedAt), ShouldBeTrue)
				So(got.Version, ShouldEqual, 1)
			})

			Convey("Then a second create with the same id conflicts", func() {
				j := Job("seller-1")
				j.ID = created.ID
				_, err := s.CreateJob(ctx, j)
				So(errkind.IsConflict(err), ShouldBeTrue)
			})
		})

		Convey("When an invalid job is created", func() {
			j := Job("seller-1")
			j.Budget = 0
			_, err := s.CreateJob(ctx, j)

			Convey("Then it is a configuration error", func() {
				So(err, ShouldWrap, errkind.ErrInvalidConfig)
			})
		})

		Convey("When unknown ids are read", func() {
			_, jerr := s.GetJob(ctx, "missing")
			_, cerr := s.GetContractor(ctx, "missing")
			_, aerr := s.GetAssignment(ctx, "missing")

			Convey("Then each is not found", func() {
				So(jerr, ShouldWrap, errkind.ErrNotFound)
				So(cerr, ShouldWrap, errkind.ErrNotFound)
				So(aerr, ShouldWrap, errkind.ErrNotFound)
			})
		})

		Convey("When a contractor is put", func() {
			c, err := s.PutContractor(ctx, Contractor("c-1"))
			So(err, ShouldBeNil)

			Convey("Then it is created at version one", func() {
				So(c.Version, ShouldEqual, 1)
				got, err := s.GetContractor(ctx, "c-1")
				So(err, ShouldBeNil)
				So(got.Skills, ShouldResemble, []string{"ac", "tv"})
				So(got.JobTypeCounts["air_conditioner"], ShouldEqual, 3)
				So(got.Tier, ShouldEqual, tier.Gold)
			})

			Convey("Then a stale update conflicts", func() {
				_, err := s.PutContractor(ctx, Contractor("c-1"))
				So(err, ShouldWrap, errkind.ErrVersionConflict)
			})

			Convey("Then a current update bumps the version", func() {
				c.Name = "renamed"
				c2, err := s.PutContractor(ctx, c)
				So(err, ShouldBeNil)
				So(c2.Version, ShouldEqual, 2)
				got, _ := s.GetContractor(ctx, "c-1")
				So(got.Name, ShouldEqual, "renamed")
			})

			Convey("Then mutating a read copy does not touch the store", func() {
				got, _ := s.GetContractor(ctx, "c-1")
				got.Skills[0] = "plumbing"
				got.JobTypeCounts["air_conditioner"] = 99
				again, _ := s.GetContractor(ctx, "c-1")
				So(again.Skills[0], ShouldEqual, "ac")
				So(again.JobTypeCounts["air_conditioner"], ShouldEqual, 3)
			})
		})

		Convey("When a multi-record swap is submitted", func() {
			job, err := s.CreateJob(ctx, Job("seller-1"))
			So(err, ShouldBeNil)
			c, err := s.PutContractor(ctx, Contractor("c-1"))
			So(err, ShouldBeNil)

			a := model.Assignment{
				ID:           uuid.NewString(),
				JobID:        job.ID,
				ContractorID: c.ID,
				Status:       model.AssignmentActive,
				CreatedAt:    job.CreatedAt,
			}
			job.Status = model.JobAssigned
			job.AssignedContractorID = c.ID
			job.AssignmentID = a.ID
			c.ActiveJobs++

			Convey("And every version matches", func() {
				sw := model.Swap{Job: &job, Contractor: &c, Assignment: &a}
				So(s.CompareAndSwap(ctx, sw), ShouldBeNil)

				Convey("Then all records are written and bumped", func() {
					gj, _ := s.GetJob(ctx, job.ID)
					gc, _ := s.GetContractor(ctx, c.ID)
					ga, err := s.GetAssignment(ctx, a.ID)
					So(err, ShouldBeNil)
					So(gj.Status, ShouldEqual, model.JobAssigned)
					So(gj.Version, ShouldEqual, 2)
					So(gc.ActiveJobs, ShouldEqual, 1)
					So(gc.Version, ShouldEqual, 2)
					So(ga.Version, ShouldEqual, 1)
				})

				Convey("Then the caller's records keep their submitted versions", func() {
					So(job.Version, ShouldEqual, 1)
					So(a.Version, ShouldEqual, 0)
				})

				Convey("Then replaying the same swap conflicts", func() {
					So(s.CompareAndSwap(ctx, sw), ShouldWrap, errkind.ErrVersionConflict)
				})
			})

			Convey("And the job version is stale", func() {
				job.Version = 7
				err := s.CompareAndSwap(ctx, model.Swap{Job: &job, Contractor: &c, Assignment: &a})

				Convey("Then nothing is written", func() {
					So(errkind.IsConflict(err), ShouldBeTrue)
					_, aerr := s.GetAssignment(ctx, a.ID)
					So(aerr, ShouldWrap, errkind.ErrNotFound)
					gc, _ := s.GetContractor(ctx, c.ID)
					So(gc.ActiveJobs, ShouldEqual, 0)
					So(gc.Version, ShouldEqual, 1)
				})
			})
		})

		Convey("When several records exist", func() {
			j1, _ := s.CreateJob(ctx, Job("seller-1"))
			_, _ = s.CreateJob(ctx, Job("seller-1"))
			_, _ = s.CreateJob(ctx, Job("seller-2"))

			j1.Status = model.JobCancelled
			So(s.CompareAndSwap(ctx, model.Swap{Job: &j1}), ShouldBeNil)

			inactive := Contractor("c-2")
			inactive.Active = false
			plumber := Contractor("c-3")
			plumber.Skills = []string{"plumbing"}
			for _, c := range []model.Contractor{Contractor("c-1"), inactive, plumber} {
				_, err := s.PutContractor(ctx, c)
				So(err, ShouldBeNil)
			}

			Convey("Then jobs filter by seller and status", func() {
				bySeller, err := s.ListJobs(ctx, repository.JobFilter{SellerID: "seller-1"})
				So(err, ShouldBeNil)
				So(len(bySeller), ShouldEqual, 2)

				open, err := s.ListJobs(ctx, repository.JobFilter{Status: model.JobOpen})
				So(err, ShouldBeNil)
				So(len(open), ShouldEqual, 2)

				limited, err := s.ListJobs(ctx, repository.JobFilter{Limit: 1})
				So(err, ShouldBeNil)
				So(len(limited), ShouldEqual, 1)
			})

			Convey("Then contractors filter by activity and skills, ordered by id", func() {
				all, err := s.ListContractors(ctx, repository.ContractorFilter{})
				So(err, ShouldBeNil)
				So(len(all), ShouldEqual, 3)
				So(all[0].ID, ShouldEqual, "c-1")
				So(all[2].ID, ShouldEqual, "c-3")

				active, _ := s.ListContractors(ctx, repository.ContractorFilter{ActiveOnly: true})
				So(len(active), ShouldEqual, 2)

				ac, _ := s.ListContractors(ctx, repository.ContractorFilter{ActiveOnly: true, Skills: []string{"ac"}})
				So(len(ac), ShouldEqual, 1)
				So(ac[0].ID, ShouldEqual, "c-1")
			})

			Convey("Then a negative limit is rejected", func() {
				_, err := s.ListJobs(ctx, repository.JobFilter{Limit: -1})
				So(err, ShouldWrap, errkind.ErrInvalidConfig)
				_, err = s.ListContractors(ctx, repository.ContractorFilter{Limit: -1})
				So(err, ShouldWrap, errkind.ErrInvalidConfig)
			})

			Convey("Then stats count by status", func() {
				st, err := s.Stats(ctx)
				So(err, ShouldBeNil)
				So(st.Jobs[model.JobOpen], ShouldEqual, 2)
				So(st.Jobs[model.JobCancelled], ShouldEqual, 1)
				So(st.TotalJobs(), ShouldEqual, 3)
				So(st.Contractors, ShouldEqual, 3)
				So(st.Assignments, ShouldEqual, 0)
			})
		})

		Convey("When a job has two assignments over time", func() {
			job, _ := s.CreateJob(ctx, Job("seller-1"))
			t0 := job.CreatedAt
			for i, cid := range []string{"c-1", "c-2"} {
				a := model.Assignment{
					ID:           uuid.NewString(),
					JobID:        job.ID,
					ContractorID: cid,
					Status:       model.AssignmentDeclined,
					CreatedAt:    t0.Add(time.Duration(i) * time.Minute),
				}
				So(s.CompareAndSwap(ctx, model.Swap{Assignment: &a}), ShouldBeNil)
			}

			Convey("Then they list in creation order", func() {
				as, err := s.ListAssignments(ctx, job.ID)
				So(err, ShouldBeNil)
				So(len(as), ShouldEqual, 2)
				So(as[0].ContractorID, ShouldEqual, "c-1")
				So(as[1].ContractorID, ShouldEqual, "c-2")
			})
		})
	})
}
