package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/installmatch/internal/adapters/http/api"
	repository "github.com/okian/installmatch/internal/adapters/repository"
	"github.com/okian/installmatch/internal/adapters/repository/storetest"
	service "github.com/okian/installmatch/internal/app"
	"github.com/okian/installmatch/internal/domain/dispatch"
	"github.com/okian/installmatch/internal/domain/matching"
	"github.com/okian/installmatch/internal/domain/model"
	"github.com/okian/installmatch/internal/domain/pricing"
	"github.com/okian/installmatch/internal/domain/tier"
	"github.com/okian/installmatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var clock = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

type failingStats struct{}

func (failingStats) GetStats(context.Context) (api.Stats, error) {
	return api.Stats{}, errors.New("store unavailable")
}

func newMux() (*http.ServeMux, *service.Service) {
	store := repository.NewMemoryStore(repository.WithClock(func() time.Time { return clock }))
	svc, err := service.New(
		service.WithStore(store),
		service.WithWorkerCount(1),
		service.WithLogger(logger.Nop()),
	)
	So(err, ShouldBeNil)
	mux := http.NewServeMux()
	api.NewServer(svc, svc).Register(context.Background(), mux)
	return mux, svc
}

func do(mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](w *httptest.ResponseRecorder) T {
	var v T
	So(json.Unmarshal(w.Body.Bytes(), &v), ShouldBeNil)
	return v
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		mux, svc := newMux()
		Reset(func() { _ = svc.Stop(context.Background()) })

		Convey("When the health endpoint is scraped", func() {
			w := do(mux, http.MethodGet, "/healthz", nil)

			Convey("Then Prometheus metrics are served", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "installmatch_")
			})
		})

		Convey("When stats are requested", func() {
			w := do(mux, http.MethodGet, "/stats", nil)

			Convey("Then the service stats are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				stats := decodeBody[api.Stats](w)
				So(stats.Workers, ShouldEqual, 1)
			})
		})

		Convey("When a route is called with the wrong method", func() {
			w := do(mux, http.MethodDelete, "/jobs", nil)

			Convey("Then it is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
			})
		})
	})

	Convey("Given a stats provider that fails", t, func() {
		mux := http.NewServeMux()
		_, svc := newMux()
		defer func() { _ = svc.Stop(context.Background()) }()
		api.NewServer(svc, failingStats{}).Register(context.Background(), mux)

		Convey("Then /stats is a server error", func() {
			w := do(mux, http.MethodGet, "/stats", nil)
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(decodeBody[errorBody](w).Code, ShouldEqual, "internal_error")
		})
	})
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	Convey("Given two contractors and a created job", t, func() {
		mux, svc := newMux()
		Reset(func() { _ = svc.Stop(context.Background()) })

		for _, id := range []string{"c-1", "c-2"} {
			w := do(mux, http.MethodPut, "/contractors/"+id, storetest.Contractor(id))
			So(w.Code, ShouldEqual, http.StatusOK)
		}
		w := do(mux, http.MethodPost, "/jobs", storetest.Job("seller-1"))
		So(w.Code, ShouldEqual, http.StatusCreated)
		job := decodeBody[model.Job](w)
		So(job.Status, ShouldEqual, model.JobOpen)

		Convey("When the job is fetched", func() {
			w := do(mux, http.MethodGet, "/jobs/"+job.ID, nil)

			Convey("Then it is returned with its server timestamp", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decodeBody[model.Job](w).CreatedAt.Equal(clock), ShouldBeTrue)
			})
		})

		Convey("When an unknown job is fetched", func() {
			w := do(mux, http.MethodGet, "/jobs/missing", nil)

			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When matching with default options", func() {
			w := do(mux, http.MethodPost, "/jobs/"+job.ID+"/match", nil)

			Convey("Then the ranked candidates are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				res := decodeBody[matching.Result](w)
				So(res.Outcome, ShouldEqual, matching.OutcomeMatched)
				So(len(res.Candidates), ShouldEqual, 2)
			})
		})

		Convey("When matching with an unknown priority", func() {
			w := do(mux, http.MethodPost, "/jobs/"+job.ID+"/match", `{"priority":"cheapest"}`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeBody[errorBody](w).Code, ShouldEqual, "invalid_config")
			})
		})

		Convey("When matching with upper-case option names", func() {
			w := do(mux, http.MethodPost, "/jobs/"+job.ID+"/match", `{"priority":"GRADE","mode":"Bike"}`)

			Convey("Then they are accepted like their lower-case forms", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decodeBody[matching.Result](w).Priority, ShouldEqual, matching.PriorityGrade)
			})
		})

		Convey("When matching a batch", func() {
			w := do(mux, http.MethodPost, "/jobs/match", map[string]any{"job_ids": []string{job.ID}})

			Convey("Then one result per job is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(len(decodeBody[[]matching.Result](w)), ShouldEqual, 1)
			})
		})

		Convey("When the job is accepted, started and completed", func() {
			accept := do(mux, http.MethodPost, "/jobs/"+job.ID+"/accept", map[string]string{"contractor_id": "c-1"})
			start := do(mux, http.MethodPost, "/jobs/"+job.ID+"/start", map[string]string{"contractor_id": "c-1"})
			complete := do(mux, http.MethodPost, "/jobs/"+job.ID+"/complete", map[string]string{"contractor_id": "c-1"})

			Convey("Then each step succeeds", func() {
				So(accept.Code, ShouldEqual, http.StatusOK)
				res := decodeBody[dispatch.Result](accept)
				So(res.Assignment, ShouldNotBeNil)
				So(res.Job.Pricing, ShouldNotBeNil)
				So(start.Code, ShouldEqual, http.StatusOK)
				So(complete.Code, ShouldEqual, http.StatusOK)
				So(decodeBody[dispatch.Result](complete).Job.Status, ShouldEqual, model.JobCompleted)
			})

			Convey("And the assignment history is listed", func() {
				w := do(mux, http.MethodGet, "/jobs/"+job.ID+"/assignments", nil)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(len(decodeBody[[]model.Assignment](w)), ShouldEqual, 1)
			})
		})

		Convey("When a second contractor accepts after the first", func() {
			_ = do(mux, http.MethodPost, "/jobs/"+job.ID+"/accept", map[string]string{"contractor_id": "c-1"})
			w := do(mux, http.MethodPost, "/jobs/"+job.ID+"/accept", map[string]string{"contractor_id": "c-2"})

			Convey("Then the outcome is a conflict carrying its code", func() {
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(decodeBody[errorBody](w).Code, ShouldEqual, string(dispatch.OutcomeAlreadyAccepted))
			})

			Convey("And matching the taken job is a conflict", func() {
				w := do(mux, http.MethodPost, "/jobs/"+job.ID+"/match", nil)
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(decodeBody[errorBody](w).Code, ShouldEqual, "job_not_open")
			})
		})

		Convey("When accepting without a contractor", func() {
			w := do(mux, http.MethodPost, "/jobs/"+job.ID+"/accept", `{}`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the job is cancelled without a body", func() {
			w := do(mux, http.MethodPost, "/jobs/"+job.ID+"/cancel", nil)

			Convey("Then it is cancelled", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				list := do(mux, http.MethodGet, "/jobs?status=cancelled", nil)
				So(len(decodeBody[[]model.Job](list)), ShouldEqual, 1)
			})
		})

		Convey("When jobs are listed with a bad status", func() {
			w := do(mux, http.MethodGet, "/jobs?status=lost", nil)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When contractors are listed by skill", func() {
			w := do(mux, http.MethodGet, "/contractors?active=true&skills=ac,tv", nil)

			Convey("Then both are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(len(decodeBody[[]model.Contractor](w)), ShouldEqual, 2)
			})
		})

		Convey("When a contractor body names another id", func() {
			w := do(mux, http.MethodPut, "/contractors/c-9", storetest.Contractor("c-1"))

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeBody[errorBody](w).Code, ShouldEqual, "bad_request")
			})
		})

		Convey("When a contractor claims a tier and workload in its body", func() {
			c := storetest.Contractor("c-3")
			c.Tier = tier.Diamond
			c.ActiveJobs = 3
			w := do(mux, http.MethodPut, "/contractors/c-3", c)

			Convey("Then the stored tier follows the metrics and the workload is zero", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				saved := decodeBody[model.Contractor](w)
				So(saved.Tier, ShouldEqual, tier.Bronze)
				So(saved.ActiveJobs, ShouldEqual, 0)
			})
		})

		Convey("When an assigned contractor is re-put with a cleared workload", func() {
			accept := do(mux, http.MethodPost, "/jobs/"+job.ID+"/accept", map[string]string{"contractor_id": "c-1"})
			So(accept.Code, ShouldEqual, http.StatusOK)

			current := decodeBody[model.Contractor](do(mux, http.MethodGet, "/contractors/c-1", nil))
			current.ActiveJobs = 0
			w := do(mux, http.MethodPut, "/contractors/c-1", current)

			Convey("Then the stored workload is kept", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decodeBody[model.Contractor](w).ActiveJobs, ShouldEqual, 1)
			})
		})

		Convey("When a contractor is re-put with a stale version", func() {
			w := do(mux, http.MethodPut, "/contractors/c-1", storetest.Contractor("c-1"))

			Convey("Then it is a version conflict", func() {
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(decodeBody[errorBody](w).Code, ShouldEqual, "version_conflict")
			})
		})
	})
}

func TestCalculatorsOverHTTP(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		mux, svc := newMux()
		Reset(func() { _ = svc.Stop(context.Background()) })

		Convey("When pricing a normal job for a gold contractor", func() {
			w := do(mux, http.MethodPost, "/price", map[string]any{"base_fee": 100000, "urgency": "normal", "tier": "gold"})

			Convey("Then the settlement invariants hold", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				b := decodeBody[pricing.Breakdown](w)
				So(b.Payout+b.PlatformFee, ShouldEqual, b.TotalFee)
				So(b.TotalFee+b.Tax, ShouldEqual, b.CustomerTotal)
				So(b.Tier, ShouldEqual, tier.Gold)
			})
		})

		Convey("When a price request carries its own timestamps", func() {
			w := do(mux, http.MethodPost, "/price", `{"base_fee":100000,"urgency":"urgent","now":"2030-01-01T00:00:00Z"}`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When pricing an urgent job", func() {
			w := do(mux, http.MethodPost, "/price", map[string]any{"base_fee": 100000, "urgency": "urgent"})

			Convey("Then it is priced at the store clock with the base surcharge", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				b := decodeBody[pricing.Breakdown](w)
				So(b.ElapsedMinutes, ShouldEqual, 0)
				So(b.UrgencyPercent, ShouldEqual, 15)
				So(b.Tier, ShouldEqual, tier.Bronze)
			})
		})

		Convey("When pricing with an unknown tier", func() {
			w := do(mux, http.MethodPost, "/price", `{"base_fee":100,"tier":"mythril"}`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When pricing a zero base fee", func() {
			w := do(mux, http.MethodPost, "/price", `{"base_fee":0}`)

			Convey("Then it is a configuration error", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeBody[errorBody](w).Code, ShouldEqual, "invalid_config")
			})
		})

		Convey("When quoting an installation", func() {
			w := do(mux, http.MethodPost, "/quote", map[string]any{"area_square_meters": 12, "parking": true})

			Convey("Then itemized lines are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(len(decodeBody[pricing.Quote](w).Lines), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When sequencing a route", func() {
			body := `{"start":{"lat":37.5665,"lng":126.978},"stops":[
				{"id":"far","site":{"lat":37.60,"lng":127.10}},
				{"id":"near","site":{"lat":37.567,"lng":126.979}}]}`
			w := do(mux, http.MethodPost, "/routes", body)

			Convey("Then the nearest stop comes first", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"order":["near","far"]`)
			})
		})

		Convey("When analysing tier metrics", func() {
			w := do(mux, http.MethodPost, "/tiers/analyze", map[string]any{
				"rating": 4.9, "completed_jobs": 250, "photo_quality": 95,
				"response_minutes": 10, "on_time_rate": 99, "satisfaction_rate": 99,
			})

			Convey("Then the top tier is reported", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(strings.Contains(w.Body.String(), `"tier":"diamond"`), ShouldBeTrue)
			})
		})
	})
}
