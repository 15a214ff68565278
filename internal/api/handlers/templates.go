package handlers

import (
	"errors"
	"net/http"

	"github.com/dvloznov/column-analyzer/internal/api/middleware"
	"github.com/dvloznov/column-analyzer/internal/logger"
	"github.com/dvloznov/column-analyzer/internal/templates"
)

// TemplateLister exposes the active templates.
type TemplateLister interface {
	ActiveTemplatesByPriority() ([]templates.Template, error)
}

// TemplatesHandler handles template endpoints.
type TemplatesHandler struct {
	registry TemplateLister
}

// NewTemplatesHandler creates a new templates handler.
func NewTemplatesHandler(registry TemplateLister) *TemplatesHandler {
	return &TemplatesHandler{registry: registry}
}

// ListTemplates handles GET /api/templates
func (h *TemplatesHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := h.registry.ActiveTemplatesByPriority()
	if err != nil {
		if errors.Is(err, templates.ErrNotLoaded) {
			middleware.WriteError(w, http.StatusServiceUnavailable, "Template registry not loaded")
			return
		}
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to list templates")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list templates")
		return
	}
	if tpls == nil {
		tpls = []templates.Template{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"templates": tpls,
		"count":     len(tpls),
	})
}
