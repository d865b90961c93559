package server

import (
	"errors"
	"net/http"

	"github.com/mentora-platform/mentora/internal/automation"
	"github.com/mentora-platform/mentora/internal/model"
)

const triggersEndpoint = "POST:/v1/triggers"

// HandleProcessTrigger handles POST /v1/triggers.
func (h *Handlers) HandleProcessTrigger(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	var req model.ProcessTriggerRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	idem, proceed := h.beginIdempotentWrite(w, r, claims.ClientID, triggersEndpoint, req)
	if !proceed {
		return
	}

	summary, err := h.engine.Process(r.Context(), req)
	if err != nil {
		h.clearIdempotentWrite(r, idem)
		if errors.Is(err, automation.ErrInvalidTrigger) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
		h.writeInternalError(w, r, "failed to process trigger", err)
		return
	}

	h.completeIdempotentWriteBestEffort(r, idem, http.StatusOK, summary)
	writeJSON(w, r, http.StatusOK, summary)
}
