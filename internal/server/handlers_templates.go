package server

import (
	"net/http"

	"github.com/mentora-platform/mentora/internal/model"
	"github.com/mentora-platform/mentora/internal/render"
)

// HandlePutTemplate handles PUT /v1/templates/{name}.
func (h *Handlers) HandlePutTemplate(w http.ResponseWriter, r *http.Request) {
	var req model.PutTemplateRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	tmpl := model.MessageTemplate{
		Name:      r.PathValue("name"),
		Subject:   req.Subject,
		Body:      req.Body,
		Variables: req.Variables,
	}
	if err := tmpl.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	saved, err := h.db.UpsertTemplate(r.Context(), tmpl)
	if err != nil {
		h.writeInternalError(w, r, "failed to save template", err)
		return
	}
	if h.templates != nil {
		h.templates.Invalidate(saved.Name)
	}
	h.logger.Info("template saved", "template", saved.Name)
	writeJSON(w, r, http.StatusOK, saved)
}

// HandleGetTemplate handles GET /v1/templates/{name}.
func (h *Handlers) HandleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := h.db.GetTemplate(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeStoreError(w, r, "failed to get template", err)
		return
	}
	writeJSON(w, r, http.StatusOK, tmpl)
}

// HandleListTemplates handles GET /v1/templates.
func (h *Handlers) HandleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.db.ListTemplates(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to list templates", err)
		return
	}
	if templates == nil {
		templates = []model.MessageTemplate{}
	}
	writeJSON(w, r, http.StatusOK, templates)
}

// HandlePreviewTemplate handles POST /v1/templates/{name}/preview. It
// renders the stored template with the given variables without sending.
func (h *Handlers) HandlePreviewTemplate(w http.ResponseWriter, r *http.Request) {
	var req model.PreviewTemplateRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	tmpl, err := h.db.GetTemplate(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeStoreError(w, r, "failed to get template", err)
		return
	}
	writeJSON(w, r, http.StatusOK, render.Apply(tmpl, req.Variables))
}
