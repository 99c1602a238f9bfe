package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/okian/installmatch/internal/adapters/http/api"
	repository "github.com/okian/installmatch/internal/adapters/repository"
	service "github.com/okian/installmatch/internal/app"
	"github.com/okian/installmatch/pkg/logger"
	"github.com/okian/installmatch/pkg/metrics"
	. "github.com/smartystreets/goconvey/convey"
)

// requestCount reads http_requests_total for one endpoint, method and class.
func requestCount(endpoint, method, class string) float64 {
	mfs, err := metrics.GetRegistry().Gather()
	So(err, ShouldBeNil)
	for _, mf := range mfs {
		if mf.GetName() != "installmatch_dispatch_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, p := range m.GetLabel() {
				labels[p.GetName()] = p.GetValue()
			}
			if labels["endpoint"] == endpoint && labels["method"] == method && labels["status_class"] == class {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

// logLines decodes every JSON log record written to buf.
func logLines(buf *bytes.Buffer) []map[string]any {
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var rec map[string]any
		So(json.Unmarshal(sc.Bytes(), &rec), ShouldBeNil)
		out = append(out, rec)
	}
	return out
}

func TestRequestInstrumentation(t *testing.T) {
	Convey("Given a server with a request logger", t, func() {
		var buf bytes.Buffer
		store := repository.NewMemoryStore(repository.WithClock(func() time.Time { return clock }))
		svc, err := service.New(service.WithStore(store), service.WithWorkerCount(1), service.WithLogger(logger.Nop()))
		So(err, ShouldBeNil)
		mux := http.NewServeMux()
		api.NewServer(svc, svc, api.WithRequestLogger(logger.New(&buf, "json", slog.LevelDebug))).Register(context.Background(), mux)

		Convey("When a job route misses", func() {
			before := requestCount("jobs", http.MethodGet, "4xx")
			w := do(mux, http.MethodGet, "/jobs/j-404", nil)

			Convey("Then the request is logged with the job id and error code", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				lines := logLines(&buf)
				So(lines, ShouldHaveLength, 1)
				So(lines[0]["level"], ShouldEqual, "WARN")
				So(lines[0]["endpoint"], ShouldEqual, "jobs")
				So(lines[0]["job_id"], ShouldEqual, "j-404")
				So(lines[0]["status"], ShouldEqual, 404.0)
				So(lines[0]["error_code"], ShouldEqual, "not_found")
			})

			Convey("Then the route is counted under its status class", func() {
				So(requestCount("jobs", http.MethodGet, "4xx"), ShouldEqual, before+1)
			})
		})

		Convey("When a contractor is read", func() {
			w := do(mux, http.MethodGet, "/contractors/c-404", nil)

			Convey("Then the path id is logged as a contractor id", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				lines := logLines(&buf)
				So(lines, ShouldHaveLength, 1)
				So(lines[0]["contractor_id"], ShouldEqual, "c-404")
				So(lines[0], ShouldNotContainKey, "job_id")
			})
		})

		Convey("When the health route succeeds", func() {
			before := requestCount("healthz", http.MethodGet, "2xx")
			w := do(mux, http.MethodGet, "/healthz", nil)

			Convey("Then it logs at debug without an error code", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				lines := logLines(&buf)
				So(lines, ShouldHaveLength, 1)
				So(lines[0]["level"], ShouldEqual, "DEBUG")
				So(lines[0], ShouldNotContainKey, "error_code")
				So(requestCount("healthz", http.MethodGet, "2xx"), ShouldEqual, before+1)
			})
		})
	})
}
