package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/okian/installmatch/pkg/logger"
	"github.com/okian/installmatch/pkg/metrics"
)

// Log field names for the {id} path value of a route.
const (
	jobIDField        = "job_id"
	contractorIDField = "contractor_id"
)

// instrument records metrics for a route and logs its outcome. idField
// names the log field carrying the {id} path value; empty skips it.
// Server errors log at error level, client errors at warn, the rest at debug.
func instrument(log logger.Logger, endpoint, idField string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		class := statusClass(rec.status)
		metrics.RecordHTTPRequest(endpoint, r.Method, class)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, class, float64(elapsed.Microseconds())/1000)

		fields := []logger.Field{
			logger.String("endpoint", endpoint),
			logger.String("method", r.Method),
			logger.Int("status", rec.status),
			logger.Duration("elapsed", elapsed),
		}
		if idField != "" {
			if id := r.PathValue("id"); id != "" {
				fields = append(fields, logger.String(idField, id))
			}
		}
		if rec.status < http.StatusBadRequest {
			log.Debug(r.Context(), "request served", fields...)
			return
		}

		code := rec.errCode
		if code == "" {
			code = "http_" + strconv.Itoa(rec.status)
		}
		fields = append(fields, logger.String("error_code", code))
		metrics.RecordErrorByEndpoint(endpoint, r.Method, code)
		if rec.status >= http.StatusInternalServerError {
			metrics.RecordErrorByComponent("http", code)
			log.Error(r.Context(), "request failed", fields...)
			return
		}
		log.Warn(r.Context(), "request rejected", fields...)
	}
}

// statusClass buckets a status code as "2xx", "4xx" and so on.
func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

// statusRecorder captures the status and the error code written by
// writeError.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	errCode     string
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *statusRecorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
