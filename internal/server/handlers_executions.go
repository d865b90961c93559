package server

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/mentora-platform/mentora/internal/model"
)

// HandleListExecutions handles GET /v1/executions?rule_id=&status=&limit=&offset=.
func (h *Handlers) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	f, err := parseExecutionFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	limit := f.Limit
	f.Limit++

	executions, err := h.db.ListExecutions(r.Context(), f)
	if err != nil {
		h.writeInternalError(w, r, "failed to list executions", err)
		return
	}
	writeList(w, r, executions, limit, f.Offset)
}

// HandleGetExecution handles GET /v1/executions/{id}.
func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDPath(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	detail, err := h.db.GetExecution(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, "failed to get execution", err)
		return
	}
	writeJSON(w, r, http.StatusOK, detail)
}

// HandleGetContact handles GET /v1/contacts/{id}.
func (h *Handlers) HandleGetContact(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDPath(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	contact, err := h.db.GetContact(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, "failed to get contact", err)
		return
	}
	writeJSON(w, r, http.StatusOK, contact)
}

func parseExecutionFilter(r *http.Request) (model.ExecutionFilter, error) {
	f := model.ExecutionFilter{
		Limit:  queryLimit(r, 50),
		Offset: queryOffset(r),
	}
	q := r.URL.Query()
	if v := q.Get("rule_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, fmt.Errorf("invalid rule_id: %s", v)
		}
		f.RuleID = &id
	}
	if v := q.Get("status"); v != "" {
		s := model.ExecutionStatus(v)
		if !s.Valid() {
			return f, fmt.Errorf("invalid status %q: must be processing, completed or failed", v)
		}
		f.Status = &s
	}
	return f, nil
}
