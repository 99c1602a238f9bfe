// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	repository "github.com/okian/installmatch/internal/adapters/repository"
	service "github.com/okian/installmatch/internal/app"
	"github.com/okian/installmatch/internal/domain/errkind"
	"github.com/okian/installmatch/pkg/logger"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	JobDependencies
	ContractorDependencies
	PricingDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	jobsHandler       *JobsHandler
	contractorHandler *ContractorsHandler
	pricingHandler    *PricingHandler
	log               logger.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRequestLogger sets the logger used for per-request logs.
func WithRequestLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...ServerOption) *Server {
	s := &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(statsProvider),
		jobsHandler:       NewJobsHandler(deps),
		contractorHandler: NewContractorsHandler(deps),
		pricingHandler:    NewPricingHandler(deps),
		log:               logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	route := func(pattern, endpoint, idField string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, instrument(s.log, endpoint, idField, h))
	}

	route("GET /healthz", "healthz", "", s.healthHandler.HandleHealth)
	route("GET /stats", "stats", "", s.statsHandler.HandleStats)

	route("PUT /contractors/{id}", "contractors", contractorIDField, s.contractorHandler.HandlePut)
	route("GET /contractors/{id}", "contractors", contractorIDField, s.contractorHandler.HandleGet)
	route("GET /contractors", "contractors", "", s.contractorHandler.HandleList)

	route("POST /jobs", "jobs", "", s.jobsHandler.HandleCreate)
	route("GET /jobs", "jobs", "", s.jobsHandler.HandleList)
	route("GET /jobs/{id}", "jobs", jobIDField, s.jobsHandler.HandleGet)
	route("GET /jobs/{id}/assignments", "assignments", jobIDField, s.jobsHandler.HandleAssignments)
	route("POST /jobs/match", "match", "", s.jobsHandler.HandleMatchBatch)
	route("POST /jobs/{id}/match", "match", jobIDField, s.jobsHandler.HandleMatch)
	route("POST /jobs/{id}/accept", "accept", jobIDField, s.jobsHandler.HandleAccept)
	route("POST /jobs/{id}/decline", "decline", jobIDField, s.jobsHandler.HandleDecline)
	route("POST /jobs/{id}/start", "start", jobIDField, s.jobsHandler.HandleStart)
	route("POST /jobs/{id}/complete", "complete", jobIDField, s.jobsHandler.HandleComplete)
	route("POST /jobs/{id}/cancel", "cancel", jobIDField, s.jobsHandler.HandleCancel)

	route("POST /price", "price", "", s.pricingHandler.HandlePrice)
	route("POST /quote", "quote", "", s.pricingHandler.HandleQuote)
	route("POST /routes", "routes", "", s.pricingHandler.HandleRoute)
	route("POST /tiers/analyze", "tiers", "", s.pricingHandler.HandleAnalyzeTier)
}

// Compile-time check that the service satisfies the handler contracts.
var (
	_ Dependencies  = (*service.Service)(nil)
	_ StatsProvider = (*service.Service)(nil)
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	if rec, ok := w.(*statusRecorder); ok {
		rec.errCode = code
	}
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError maps error classes to status codes: configuration and
// validation errors are 400, unknown records 404, closed jobs 409.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errkind.IsConfig(err):
		writeError(w, http.StatusBadRequest, "invalid_config", err)
	case errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, errkind.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, service.ErrJobNotOpen):
		writeError(w, http.StatusConflict, "job_not_open", err)
	case errkind.IsConflict(err):
		writeError(w, http.StatusConflict, "version_conflict", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched when
// optional is set.
func decode(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}

// Re-exported request shapes so handlers and tests share one vocabulary.
type (
	// JobFilter selects jobs for GET /jobs.
	JobFilter = repository.JobFilter
	// ContractorFilter selects contractors for GET /contractors.
	ContractorFilter = repository.ContractorFilter
)

