package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/installmatch/internal/domain/dispatch"
	"github.com/okian/installmatch/internal/domain/matching"
	"github.com/okian/installmatch/internal/domain/model"
)

// JobDependencies defines the job lifecycle operations.
type JobDependencies interface {
	CreateJob(ctx context.Context, job model.Job) (model.Job, error)
	GetJob(ctx context.Context, id string) (model.Job, error)
	ListJobs(ctx context.Context, f JobFilter) ([]model.Job, error)
	ListAssignments(ctx context.Context, jobID string) ([]model.Assignment, error)

	MatchDefaults() matching.Options
	Match(ctx context.Context, jobID string, opts matching.Options) (matching.Result, error)
	MatchBatch(ctx context.Context, jobIDs []string, opts matching.Options) ([]matching.Result, error)

	Accept(ctx context.Context, jobID, contractorID string) (dispatch.Result, error)
	Decline(ctx context.Context, jobID, contractorID, reason string) (dispatch.Result, error)
	StartJob(ctx context.Context, jobID, contractorID string) (dispatch.Result, error)
	Complete(ctx context.Context, jobID, contractorID string) (dispatch.Result, error)
	Cancel(ctx context.Context, jobID, actor string) (dispatch.Result, error)
}

// JobsHandler handles job requests.
type JobsHandler struct {
	deps JobDependencies
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(deps JobDependencies) *JobsHandler {
	return &JobsHandler{deps: deps}
}

// HandleCreate handles POST /jobs. The store assigns the id, creation time
// and open status.
func (h *JobsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_job"
	var job model.Job
	if err := decode(r, &job, false); err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	created, err := h.deps.CreateJob(r.Context(), job)
	if err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// HandleGet handles GET /jobs/{id}.
func (h *JobsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	job, err := h.deps.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, Wrap("api.get_job", err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleList handles GET /jobs?status=&seller_id=&contractor_id=&limit=.
func (h *JobsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_jobs"
	q := r.URL.Query()
	f := JobFilter{
		SellerID:     q.Get("seller_id"),
		ContractorID: q.Get("contractor_id"),
	}
	if s := q.Get("status"); s != "" {
		status, err := model.ParseJobStatus(s)
		if err != nil {
			writeDomainError(w, Wrap(op, err))
			return
		}
		f.Status = status
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeDomainError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	f.Limit = limit

	jobs, err := h.deps.ListJobs(r.Context(), f)
	if err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// HandleAssignments handles GET /jobs/{id}/assignments.
func (h *JobsHandler) HandleAssignments(w http.ResponseWriter, r *http.Request) {
	as, err := h.deps.ListAssignments(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, Wrap("api.list_assignments", err))
		return
	}
	writeJSON(w, http.StatusOK, as)
}

// HandleMatch handles POST /jobs/{id}/match. The body holds match options;
// omitted fields keep the configured defaults.
func (h *JobsHandler) HandleMatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.match"
	opts := h.deps.MatchDefaults()
	if err := decode(r, &opts, true); err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	res, err := h.deps.Match(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type batchMatchRequest struct {
	JobIDs  []string         `json:"job_ids"`
	Options matching.Options `json:"options"`
}

// HandleMatchBatch handles POST /jobs/match for several jobs at once.
func (h *JobsHandler) HandleMatchBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.match_batch"
	req := batchMatchRequest{Options: h.deps.MatchDefaults()}
	if err := decode(r, &req, false); err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	if len(req.JobIDs) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	res, err := h.deps.MatchBatch(r.Context(), req.JobIDs, req.Options)
	if err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type transitionRequest struct {
	ContractorID string `json:"contractor_id"`
	Reason       string `json:"reason,omitempty"`
	Actor        string `json:"actor,omitempty"`
}

// transition decodes the actor of a state change and writes its result.
// Outcomes other than OK are 409 with the outcome as the code.
func (h *JobsHandler) transition(w http.ResponseWriter, r *http.Request, op string, needContractor bool,
	fn func(ctx context.Context, jobID string, req transitionRequest) (dispatch.Result, error),
) {
	var req transitionRequest
	if err := decode(r, &req, !needContractor); err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	if needContractor && strings.TrimSpace(req.ContractorID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errMissing("contractor_id")))
		return
	}
	res, err := fn(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	if !res.OK() {
		writeError(w, http.StatusConflict, string(res.Outcome), WrapKind(op, ErrOutcome, errOutcome(res.Outcome)))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleAccept handles POST /jobs/{id}/accept.
func (h *JobsHandler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "api.accept", true, func(ctx context.Context, jobID string, req transitionRequest) (dispatch.Result, error) {
		return h.deps.Accept(ctx, jobID, req.ContractorID)
	})
}

// HandleDecline handles POST /jobs/{id}/decline.
func (h *JobsHandler) HandleDecline(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "api.decline", true, func(ctx context.Context, jobID string, req transitionRequest) (dispatch.Result, error) {
		return h.deps.Decline(ctx, jobID, req.ContractorID, req.Reason)
	})
}

// HandleStart handles POST /jobs/{id}/start.
func (h *JobsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "api.start", true, func(ctx context.Context, jobID string, req transitionRequest) (dispatch.Result, error) {
		return h.deps.StartJob(ctx, jobID, req.ContractorID)
	})
}

// HandleComplete handles POST /jobs/{id}/complete.
func (h *JobsHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "api.complete", true, func(ctx context.Context, jobID string, req transitionRequest) (dispatch.Result, error) {
		return h.deps.Complete(ctx, jobID, req.ContractorID)
	})
}

// HandleCancel handles POST /jobs/{id}/cancel. The actor defaults to "seller".
func (h *JobsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "api.cancel", false, func(ctx context.Context, jobID string, req transitionRequest) (dispatch.Result, error) {
		actor := req.Actor
		if actor == "" {
			actor = "seller"
		}
		return h.deps.Cancel(ctx, jobID, actor)
	})
}

var outcomeMessages = map[dispatch.Outcome]string{
	dispatch.OutcomeJobUnavailable:     "job is no longer available",
	dispatch.OutcomeAlreadyAccepted:    "job was already accepted",
	dispatch.OutcomeAtCapacity:         "contractor is at capacity",
	dispatch.OutcomeAlreadyDeclined:    "contractor already declined this job",
	dispatch.OutcomeNotAssignee:        "contractor is not assigned to this job",
	dispatch.OutcomeInvalidTransition:  "job status does not allow this transition",
	dispatch.OutcomeContractorInactive: "contractor is inactive or suspended",
}

type outcomeError dispatch.Outcome

func (e outcomeError) Error() string {
	if msg, ok := outcomeMessages[dispatch.Outcome(e)]; ok {
		return msg
	}
	return string(e)
}

func errOutcome(o dispatch.Outcome) error { return outcomeError(o) }

type missingError string

func (e missingError) Error() string { return "missing " + string(e) }

func errMissing(field string) error { return missingError(field) }

func parseLimit(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
