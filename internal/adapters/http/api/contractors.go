package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/installmatch/internal/domain/model"
)

// ContractorDependencies defines contractor registry operations.
type ContractorDependencies interface {
	PutContractor(ctx context.Context, c model.Contractor) (model.Contractor, error)
	GetContractor(ctx context.Context, id string) (model.Contractor, error)
	ListContractors(ctx context.Context, f ContractorFilter) ([]model.Contractor, error)
}

// ContractorsHandler handles contractor requests.
type ContractorsHandler struct {
	deps ContractorDependencies
}

// NewContractorsHandler creates a new contractors handler.
func NewContractorsHandler(deps ContractorDependencies) *ContractorsHandler {
	return &ContractorsHandler{deps: deps}
}

// HandlePut handles PUT /contractors/{id}. The body's version must match the
// stored one; zero creates.
func (h *ContractorsHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_contractor"
	id := r.PathValue("id")
	var c model.Contractor
	if err := decode(r, &c, false); err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	switch {
	case c.ID == "":
		c.ID = id
	case c.ID != id:
		writeDomainError(w, WrapKind(op, ErrBadRequest, fmt.Errorf("body id %q does not match path id %q", c.ID, id)))
		return
	}
	saved, err := h.deps.PutContractor(r.Context(), c)
	if err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// HandleGet handles GET /contractors/{id}.
func (h *ContractorsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.deps.GetContractor(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, Wrap("api.get_contractor", err))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleList handles GET /contractors?active=true&skills=a,b&limit=N.
func (h *ContractorsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_contractors"
	q := r.URL.Query()
	var f ContractorFilter
	if s := q.Get("active"); s != "" {
		active, err := strconv.ParseBool(s)
		if err != nil {
			writeDomainError(w, WrapKind(op, ErrBadRequest, err))
			return
		}
		f.ActiveOnly = active
	}
	if s := q.Get("skills"); s != "" {
		f.Skills = strings.Split(s, ",")
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeDomainError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	f.Limit = limit

	cs, err := h.deps.ListContractors(r.Context(), f)
	if err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, cs)
}
