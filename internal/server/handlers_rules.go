package server

import (
	"net/http"

	"github.com/mentora-platform/mentora/internal/model"
)

// HandleCreateRule handles POST /v1/rules (admin-only).
func (h *Handlers) HandleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req model.CreateRuleRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	rule, err := req.BuildRule()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	created, err := h.db.CreateRule(r.Context(), rule)
	if err != nil {
		h.writeStoreError(w, r, "failed to create rule", err)
		return
	}
	h.logger.Info("rule created",
		"rule_id", created.ID,
		"trigger_type", created.TriggerType,
		"actions", len(created.Actions),
	)
	writeJSON(w, r, http.StatusCreated, created)
}

// HandleListRules handles GET /v1/rules?trigger_type=&limit=&offset=.
func (h *Handlers) HandleListRules(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)
	offset := queryOffset(r)

	rules, err := h.db.ListRules(r.Context(), r.URL.Query().Get("trigger_type"), limit+1, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list rules", err)
		return
	}
	writeList(w, r, rules, limit, offset)
}

// HandleGetRule handles GET /v1/rules/{id}.
func (h *Handlers) HandleGetRule(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDPath(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	rule, err := h.db.GetRule(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, "failed to get rule", err)
		return
	}
	writeJSON(w, r, http.StatusOK, rule)
}

// HandleUpdateRule handles PATCH /v1/rules/{id}. Only is_active may change.
func (h *Handlers) HandleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDPath(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var req model.UpdateRuleRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.IsActive == nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "is_active is required")
		return
	}

	rule, err := h.db.SetRuleActive(r.Context(), id, *req.IsActive)
	if err != nil {
		h.writeStoreError(w, r, "failed to update rule", err)
		return
	}
	h.logger.Info("rule updated", "rule_id", rule.ID, "is_active", rule.IsActive)
	writeJSON(w, r, http.StatusOK, rule)
}
