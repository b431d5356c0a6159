package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/clinprecision/ctms-forms/internal/apiclient"
	"github.com/clinprecision/ctms-forms/internal/audit"
	"github.com/clinprecision/ctms-forms/internal/forms"
	"github.com/clinprecision/ctms-forms/internal/health"
	"github.com/clinprecision/ctms-forms/internal/options"
	"github.com/clinprecision/ctms-forms/pkg/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type handler struct {
	options   OptionService
	validator Validator
	health    *health.Checker
	logger    *zap.Logger
	audit     *audit.Logger
	profile   string
}

type validateFieldRequest struct {
	FieldID  string               `json:"fieldId" binding:"required"`
	Value    any                  `json:"value"`
	Metadata *forms.FieldMetadata `json:"metadata"`
	FormData map[string]any       `json:"formData"`
}

type validateFormRequest struct {
	Form *forms.FormDefinition `json:"form" binding:"required"`
	Data map[string]any        `json:"data"`
}

type loadOptionsRequest struct {
	Field   *forms.FieldDefinition `json:"field" binding:"required"`
	Context forms.LoadContext      `json:"context"`
	Refresh bool                   `json:"refresh"`
}

type preloadRequest struct {
	Form    *forms.FormDefinition `json:"form" binding:"required"`
	Context forms.LoadContext     `json:"context"`
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, types.ErrorEnvelope{
		Error: types.SafeError{Code: code, Message: message},
	})
}

func (h *handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return false
	}
	return true
}

// upstreamError maps an option source failure to a response.
func (h *handler) upstreamError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, options.ErrConfig):
		respondError(c, http.StatusUnprocessableEntity, "INVALID_SOURCE", err.Error())
	case errors.Is(err, apiclient.ErrUnauthorized):
		respondError(c, http.StatusBadGateway, "UPSTREAM_UNAUTHORIZED", "CTMS API rejected the stored token")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusServiceUnavailable, "CANCELED", err.Error())
	default:
		h.logger.Warn("Option source failed", zap.Error(err))
		respondError(c, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error())
	}
}

// ValidateField handles POST /api/v1/validation/field.
func (h *handler) ValidateField(c *gin.Context) {
	var req validateFieldRequest
	if !h.bind(c, &req) {
		return
	}
	c.JSON(http.StatusOK, h.validator.ValidateField(req.FieldID, req.Value, req.Metadata, req.FormData))
}

// ValidateForm handles POST /api/v1/validation/form.
func (h *handler) ValidateForm(c *gin.Context) {
	var req validateFormRequest
	if !h.bind(c, &req) {
		return
	}
	result := h.validator.ValidateForm(req.Data, req.Form)

	outcome := "VALID"
	if !result.Valid {
		outcome = "INVALID"
	}
	h.audit.LogWithCorrelation(&audit.Event{
		Type:     audit.EventFormValidated,
		Severity: audit.SeverityInfo,
		Source:   "http",
		Profile:  h.profile,
		Action:   "validate_form",
		Result:   outcome,
		Details: map[string]interface{}{
			"form_id":  req.Form.ID,
			"errors":   len(result.Errors),
			"warnings": len(result.Warnings),
		},
	}, c.GetString("request_id"))

	c.JSON(http.StatusOK, result)
}

// LoadOptions handles POST /api/v1/options/load. With refresh set the cache
// is bypassed and source failures are reported; otherwise loading falls back
// and never fails.
func (h *handler) LoadOptions(c *gin.Context) {
	var req loadOptionsRequest
	if !h.bind(c, &req) {
		return
	}
	if req.Field.ID == "" {
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", "field.id is required")
		return
	}

	ctx := c.Request.Context()
	if !req.Refresh {
		c.JSON(http.StatusOK, gin.H{"options": h.options.LoadFieldOptions(ctx, req.Field, req.Context)})
		return
	}

	opts, err := h.options.Refresh(ctx, req.Field, req.Context)
	if err != nil {
		h.upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"options": opts})
}

// PreloadOptions handles POST /api/v1/options/preload.
func (h *handler) PreloadOptions(c *gin.Context) {
	var req preloadRequest
	if !h.bind(c, &req) {
		return
	}
	loaded, err := h.options.PreloadForm(c.Request.Context(), req.Form, req.Context)
	if err != nil {
		h.upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"options": loaded})
}

// CacheStats handles GET /api/v1/options/cache.
func (h *handler) CacheStats(c *gin.Context) {
	stats, err := h.options.CacheStats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to read cache stats", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read option cache")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ClearCache handles DELETE /api/v1/options/cache. With ?fieldId= only that
// field's entries are removed.
func (h *handler) ClearCache(c *gin.Context) {
	ctx := c.Request.Context()

	if fieldID := c.Query("fieldId"); fieldID != "" {
		removed, err := h.options.ClearFieldCache(ctx, fieldID)
		if err != nil {
			h.logger.Error("Failed to clear field cache", zap.String("field", fieldID), zap.Error(err))
			respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to clear option cache")
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed": removed})
		return
	}

	stats, err := h.options.CacheStats(ctx)
	if err == nil {
		err = h.options.ClearOptionCache(ctx)
	}
	if err != nil {
		h.logger.Error("Failed to clear option cache", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to clear option cache")
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": stats.TotalEntries})
}

// Health handles GET /healthz. Degraded still answers 200.
func (h *handler) Health(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "unknown"})
		return
	}
	status := h.health.Check(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
