// Package httpapi exposes validation and option loading over HTTP with gin.
package httpapi

import (
	"context"
	"net/http"

	"github.com/clinprecision/ctms-forms/internal/audit"
	"github.com/clinprecision/ctms-forms/internal/forms"
	"github.com/clinprecision/ctms-forms/internal/health"
	"github.com/clinprecision/ctms-forms/internal/metrics"
	"github.com/clinprecision/ctms-forms/internal/options"
	"github.com/clinprecision/ctms-forms/internal/validation"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// OptionService is the option loader as seen by the handlers.
type OptionService interface {
	LoadFieldOptions(ctx context.Context, field *forms.FieldDefinition, lc forms.LoadContext) []forms.Option
	Refresh(ctx context.Context, field *forms.FieldDefinition, lc forms.LoadContext) ([]forms.Option, error)
	PreloadForm(ctx context.Context, def *forms.FormDefinition, lc forms.LoadContext) (map[string][]forms.Option, error)
	CacheStats(ctx context.Context) (options.CacheStats, error)
	ClearOptionCache(ctx context.Context) error
	ClearFieldCache(ctx context.Context, fieldID string) (int, error)
}

// Validator is the validation engine as seen by the handlers.
type Validator interface {
	ValidateField(fieldID string, value any, md *forms.FieldMetadata, formData map[string]any) validation.Result
	ValidateForm(formData map[string]any, def *forms.FormDefinition) validation.FormResult
}

// Dependencies wires the router. Options and Validator are required.
type Dependencies struct {
	Options   OptionService
	Validator Validator
	Health    *health.Checker
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	Logger    *zap.Logger
	Audit     *audit.Logger
	Profile   string
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Dependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(Logger(deps.Logger))
	r.Use(Metrics(deps.Metrics))

	h := &handler{
		options:   deps.Options,
		validator: deps.Validator,
		health:    deps.Health,
		logger:    deps.Logger.Named("http"),
		audit:     deps.Audit,
		profile:   deps.Profile,
	}

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	{
		api.POST("/validation/field", h.ValidateField)
		api.POST("/validation/form", h.ValidateForm)

		api.POST("/options/load", h.LoadOptions)
		api.POST("/options/preload", h.PreloadOptions)
		api.GET("/options/cache", h.CacheStats)
		api.DELETE("/options/cache", h.ClearCache)
	}

	r.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})

	return r
}
