package options

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/clinprecision/ctms-forms/internal/audit"
	"github.com/clinprecision/ctms-forms/internal/forms"
	"github.com/clinprecision/ctms-forms/internal/metrics"
	"go.uber.org/zap"
)

const (
	codeListPath         = "/clinops-ws/api/v1/study-design/metadata/codelists/simple/"
	externalStandardPath = "/clinops-ws/api/external-standards/"

	// DefaultPreloadConcurrency caps concurrent fetches in PreloadForm.
	DefaultPreloadConcurrency = 4
)

// Fetcher performs an authenticated GET against the CTMS API and decodes the
// JSON body into out.
type Fetcher interface {
	Get(ctx context.Context, path string, out any) error
}

// Loader resolves field options through a cache.
type Loader struct {
	fetcher     Fetcher
	store       Store
	now         func() time.Time
	ttl         time.Duration
	concurrency int
	logger      *zap.Logger
	metrics     *metrics.Metrics
	audit       *audit.Logger
	text        plainText
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithStore sets the cache backend. The default is a MemoryStore.
func WithStore(s Store) LoaderOption {
	return func(l *Loader) {
		if s != nil {
			l.store = s
		}
	}
}

// WithClock sets the time source used to stamp and age entries.
func WithClock(now func() time.Time) LoaderOption {
	return func(l *Loader) { l.now = now }
}

// WithDefaultTTL sets the lifetime of sources without cacheDuration.
func WithDefaultTTL(ttl time.Duration) LoaderOption {
	return func(l *Loader) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithPreloadConcurrency caps concurrent fetches in PreloadForm.
func WithPreloadConcurrency(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records loads and cache lookups.
func WithMetrics(m *metrics.Metrics) LoaderOption {
	return func(l *Loader) { l.metrics = m }
}

// WithAudit records stale fallbacks and cache invalidation.
func WithAudit(a *audit.Logger) LoaderOption {
	return func(l *Loader) { l.audit = a }
}

// NewLoader creates a loader that fetches remote sources through fetcher.
func NewLoader(fetcher Fetcher, opts ...LoaderOption) *Loader {
	l := &Loader{
		fetcher:     fetcher,
		store:       NewMemoryStore(),
		now:         time.Now,
		ttl:         DefaultTTL,
		concurrency: DefaultPreloadConcurrency,
		logger:      zap.NewNop(),
		text:        newPlainText(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the cache backend.
func (l *Loader) Store() Store { return l.store }

// LoadFieldOptions resolves the options of field. It never fails: when the
// source cannot be loaded it returns the last cached list for the field, or
// an empty list.
func (l *Loader) LoadFieldOptions(ctx context.Context, field *forms.FieldDefinition, lc forms.LoadContext) []forms.Option {
	src, ok := Decode(field, l.ttl)
	if !ok {
		return StaticOptions(field)
	}
	key := CacheKey(field.ID, src, lc)

	opts, err := l.resolve(ctx, field, src, key, lc, true)
	if err == nil {
		return opts
	}
	return l.fallback(ctx, field.ID, key, src, err)
}

// Load resolves the options of field like LoadFieldOptions but reports
// source errors instead of falling back.
func (l *Loader) Load(ctx context.Context, field *forms.FieldDefinition, lc forms.LoadContext) ([]forms.Option, error) {
	src, ok := Decode(field, l.ttl)
	if !ok {
		return StaticOptions(field), nil
	}
	return l.resolve(ctx, field, src, CacheKey(field.ID, src, lc), lc, true)
}

// Refresh fetches the options of field from their source, bypassing any
// cached entry, and repopulates the cache.
func (l *Loader) Refresh(ctx context.Context, field *forms.FieldDefinition, lc forms.LoadContext) ([]forms.Option, error) {
	src, ok := Decode(field, l.ttl)
	if !ok {
		return StaticOptions(field), nil
	}
	return l.resolve(ctx, field, src, CacheKey(field.ID, src, lc), lc, false)
}

func (l *Loader) resolve(ctx context.Context, field *forms.FieldDefinition, src Source, key string, lc forms.LoadContext, readCache bool) ([]forms.Option, error) {
	policy := src.Cache()

	if readCache && policy.Cacheable {
		if entry, ok := l.lookup(ctx, key); ok && !l.expired(entry, policy.TTL) {
			l.metrics.RecordCacheLookup("hit")
			l.logger.Debug("Using cached options",
				zap.String("field", field.ID),
				zap.String("key", key),
			)
			return entry.Options, nil
		}
		l.metrics.RecordCacheLookup("miss")
	}

	opts, err := l.fetch(ctx, src, lc)
	if err != nil {
		l.metrics.RecordOptionLoad(string(src.Kind()), "error")
		l.logger.Error("Failed to load options",
			zap.String("field", field.ID),
			zap.String("source", string(src.Kind())),
			zap.Error(err),
		)
		return nil, err
	}
	l.metrics.RecordOptionLoad(string(src.Kind()), "success")

	if policy.Cacheable && len(opts) > 0 {
		if err := l.store.Set(ctx, key, Entry{Options: opts, StoredAt: l.now()}); err != nil {
			l.logger.Warn("Failed to cache options", zap.String("key", key), zap.Error(err))
		} else {
			l.logger.Debug("Cached options", zap.String("key", key), zap.Int("count", len(opts)))
		}
	}
	return opts, nil
}

func (l *Loader) fallback(ctx context.Context, fieldID, key string, src Source, cause error) []forms.Option {
	entry, ok := l.lookup(ctx, key)
	if !ok {
		return []forms.Option{}
	}
	l.metrics.RecordCacheLookup("stale")
	l.logger.Warn("Using stale cached options",
		zap.String("field", fieldID),
		zap.String("key", key),
		zap.Time("stored_at", entry.StoredAt),
		zap.Error(cause),
	)
	l.audit.LogSystem(audit.EventOptionFallback, "Served stale options after load failure", map[string]interface{}{
		"field":  fieldID,
		"source": string(src.Kind()),
		"key":    key,
		"error":  cause.Error(),
	})
	return entry.Options
}

// lookup reads key, treating store failures as misses.
func (l *Loader) lookup(ctx context.Context, key string) (*Entry, bool) {
	entry, ok, err := l.store.Get(ctx, key)
	if err != nil {
		l.logger.Warn("Option cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return entry, ok
}

// expired reports whether entry is older than ttl. An entry exactly ttl old
// is still fresh.
func (l *Loader) expired(entry *Entry, ttl time.Duration) bool {
	return l.now().Sub(entry.StoredAt) > ttl
}

func (l *Loader) fetch(ctx context.Context, src Source, lc forms.LoadContext) ([]forms.Option, error) {
	switch s := src.(type) {
	case StaticSource:
		return formatStatic(s.Options), nil
	case CodeListSource:
		return l.loadCodeList(ctx, s)
	case StudyDataSource:
		return l.loadStudyData(ctx, s, lc)
	case APISource:
		return l.loadAPI(ctx, s, lc)
	case ExternalStandardSource:
		return l.loadExternalStandard(ctx, s)
	case UnknownSource:
		l.logger.Warn("Unknown option source type", zap.String("type", s.Type))
		return []forms.Option{}, nil
	default:
		return nil, fmt.Errorf("unsupported option source %T", src)
	}
}

func (l *Loader) get(ctx context.Context, path string) (any, error) {
	if l.fetcher == nil {
		return nil, errors.New("no CTMS API client configured")
	}
	var body any
	if err := l.fetcher.Get(ctx, path, &body); err != nil {
		return nil, err
	}
	return body, nil
}

func (l *Loader) loadCodeList(ctx context.Context, s CodeListSource) ([]forms.Option, error) {
	if s.Category == "" {
		return nil, &ConfigError{Msg: "Code list category is required"}
	}
	path := codeListPath + url.PathEscape(s.Category)
	body, err := l.get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load code list %s: %w", s.Category, err)
	}
	list, ok := items(body)
	if !ok {
		l.logger.Warn("Invalid code list response", zap.String("category", s.Category))
		return []forms.Option{}, nil
	}

	out := make([]forms.Option, 0, len(list))
	for _, raw := range list {
		item := asObject(raw)
		value := firstTruthy(item, "code", "value", "id")
		if value == nil {
			value = ""
		}
		out = append(out, forms.Option{
			Value:       value,
			Label:       l.text.clean(text(firstTruthy(item, "displayName", "name", "label", "value", "code"))),
			Description: l.text.clean(text(firstTruthy(item, "description"))),
			Order:       orderOf(firstTruthy(item, "displayOrder", "order")),
		})
	}
	return out, nil
}

func (l *Loader) loadStudyData(ctx context.Context, s StudyDataSource, lc forms.LoadContext) ([]forms.Option, error) {
	if s.Endpoint == "" {
		return nil, &ConfigError{Msg: "Study data endpoint is required"}
	}
	path := appendQuery(substitute(s.Endpoint, lc), s.Filter)
	body, err := l.get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load study data %s: %w", path, err)
	}
	list, ok := items(body)
	if !ok {
		l.logger.Warn("Invalid study data response", zap.String("endpoint", path))
		return []forms.Option{}, nil
	}
	return l.mapItems(list, s.ValueField, s.LabelField, nil), nil
}

func (l *Loader) loadAPI(ctx context.Context, s APISource, lc forms.LoadContext) ([]forms.Option, error) {
	if s.Endpoint == "" {
		return nil, &ConfigError{Msg: "API endpoint is required"}
	}
	path := appendQuery(substitute(s.Endpoint, lc), s.QueryParams)
	body, err := l.get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load API options %s: %w", path, err)
	}
	if body == nil {
		l.logger.Warn("Empty API options response", zap.String("endpoint", path))
		return []forms.Option{}, nil
	}
	list, ok := items(body)
	if !ok {
		list = []any{body}
	}
	return l.mapItems(list, s.ValueField, s.LabelField, nil), nil
}

func (l *Loader) loadExternalStandard(ctx context.Context, s ExternalStandardSource) ([]forms.Option, error) {
	if s.Category == "" {
		return nil, &ConfigError{Msg: "External standard category is required"}
	}
	path := appendQuery(externalStandardPath+url.PathEscape(s.Category), s.Filter)
	body, err := l.get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load external standard %s: %w", s.Category, err)
	}
	list, ok := items(body)
	if !ok {
		l.logger.Warn("Invalid external standard response", zap.String("category", s.Category))
		return []forms.Option{}, nil
	}
	return l.mapItems(list, s.ValueField, s.LabelField, func(opt *forms.Option, item map[string]any) {
		opt.CodingValue = item[s.ValueField]
		opt.CodingSystem = s.Category
	}), nil
}

// mapItems maps response objects onto options. The mapped value and label
// win; every original field is kept in Attributes.
func (l *Loader) mapItems(list []any, valueField, labelField string, stamp func(*forms.Option, map[string]any)) []forms.Option {
	out := make([]forms.Option, 0, len(list))
	for _, raw := range list {
		item := asObject(raw)
		opt := forms.Option{
			Value:       item[valueField],
			Label:       l.text.clean(text(item[labelField])),
			Description: l.text.clean(text(firstTruthy(item, "description"))),
			Order:       orderOf(firstTruthy(item, "displayOrder", "order")),
		}
		if len(item) > 0 {
			opt.Attributes = item
		}
		if stamp != nil {
			stamp(&opt, item)
		}
		out = append(out, opt)
	}
	return out
}
