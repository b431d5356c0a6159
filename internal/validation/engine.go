// Package validation checks form values against declarative field metadata.
//
// Engine is pure and synchronous: it performs no I/O, and the only shared
// state is a memo of compiled expressions and patterns. Expression errors never
// block data entry; a rule that cannot be evaluated counts as satisfied.
package validation

import (
	"sync"
	"time"

	"github.com/clinprecision/ctms-forms/internal/forms"
	"github.com/clinprecision/ctms-forms/internal/metrics"
	"go.uber.org/zap"
)

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is a single validation finding.
type Issue struct {
	Field    string `json:"field"`
	Type     string `json:"type"`
	Message  string `json:"message"`
	RuleID   string `json:"ruleId,omitempty"`
	Severity string `json:"severity,omitempty"`
	Action   string `json:"action,omitempty"`
}

// Result is the outcome of validating one field. Valid is true iff Errors is
// empty; warnings never affect it.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// FormResult aggregates field results. FieldErrors and FieldWarnings only
// contain fields that produced at least one issue.
type FormResult struct {
	Valid         bool               `json:"valid"`
	Errors        []Issue            `json:"errors"`
	Warnings      []Issue            `json:"warnings"`
	FieldErrors   map[string][]Issue `json:"fieldErrors"`
	FieldWarnings map[string][]Issue `json:"fieldWarnings"`
}

// Engine validates field values. The zero value is not usable; use NewEngine.
type Engine struct {
	now     func() time.Time
	loc     *time.Location
	logger  *zap.Logger
	metrics *metrics.Metrics

	programs sync.Map // expression source -> compiledProgram
	patterns sync.Map // pattern source -> compiledPattern
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock sets the time source used for date checks.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the time zone that defines "today".
func WithLocation(loc *time.Location) EngineOption {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithLogger sets the logger used for rule evaluation diagnostics.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records every issue raised.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a validation engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		now:    time.Now,
		loc:    time.Local,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidateField checks value against md. formData is the whole submission and
// feeds expression rules; it may be nil.
func (e *Engine) ValidateField(fieldID string, value any, md *forms.FieldMetadata, formData map[string]any) Result {
	res := e.validateField(fieldID, value, md, formData)
	e.record(res)
	return res
}

func (e *Engine) validateField(fieldID string, value any, md *forms.FieldMetadata, formData map[string]any) Result {
	c := &collector{field: fieldID}
	if md == nil {
		return c.result()
	}
	rules := md.Validation
	if rules == nil {
		rules = &forms.ValidationRules{}
	}

	// 1. Presence
	if !hasValue(value) {
		if rules.Required {
			c.error("required", "This field is required", "REQUIRED")
		}
		return c.result()
	}

	// 2-3. Type and date
	e.checkType(c, value, rules.Type)
	if rules.Type == "date" || rules.Type == "datetime" {
		e.checkDate(c, value, rules)
	}

	// 4-6. Length, numeric range, pattern
	checkLength(c, value, rules, md)
	checkNumeric(c, value, rules, md)
	e.checkPattern(c, value, rules)

	// 7-8. Expression rules
	e.checkCustomRules(c, value, rules.CustomRules, formData)
	e.checkConditional(c, value, rules.ConditionalValidation, formData)

	// 9-10. Data quality
	if dq := md.DataQuality; dq != nil {
		checkRanges(c, value, dq.RangeChecks)
		e.checkCrossField(c, value, dq.CrossFieldValidation, formData)
	}

	return c.result()
}

// ValidateForm validates every field of def in order.
func (e *Engine) ValidateForm(formData map[string]any, def *forms.FormDefinition) FormResult {
	out := FormResult{
		Valid:         true,
		Errors:        []Issue{},
		Warnings:      []Issue{},
		FieldErrors:   map[string][]Issue{},
		FieldWarnings: map[string][]Issue{},
	}
	if def == nil {
		return out
	}
	if formData == nil {
		formData = map[string]any{}
	}

	for i := range def.Fields {
		field := &def.Fields[i]
		res := e.ValidateField(field.ID, formData[field.ID], field.Metadata, formData)
		if len(res.Errors) > 0 {
			out.Errors = append(out.Errors, res.Errors...)
			out.FieldErrors[field.ID] = res.Errors
		}
		if len(res.Warnings) > 0 {
			out.Warnings = append(out.Warnings, res.Warnings...)
			out.FieldWarnings[field.ID] = res.Warnings
		}
	}
	out.Valid = len(out.Errors) == 0
	return out
}

func (e *Engine) record(res Result) {
	if e.metrics == nil {
		return
	}
	for _, issue := range res.Errors {
		e.metrics.RecordValidationIssue(issue.RuleID, SeverityError)
	}
	for _, issue := range res.Warnings {
		e.metrics.RecordValidationIssue(issue.RuleID, SeverityWarning)
	}
}

// collector accumulates issues for one field.
type collector struct {
	field    string
	errors   []Issue
	warnings []Issue
}

func (c *collector) error(kind, message, ruleID string) {
	c.errors = append(c.errors, Issue{Field: c.field, Type: kind, Message: message, RuleID: ruleID})
}

func (c *collector) warning(kind, message, ruleID string) {
	c.warnings = append(c.warnings, Issue{
		Field:    c.field,
		Type:     kind,
		Message:  message,
		RuleID:   ruleID,
		Severity: SeverityWarning,
	})
}

// route files issue under warnings when severity is "warning" and under
// errors otherwise.
func (c *collector) route(issue Issue, severity string) {
	if severity == SeverityWarning {
		c.warnings = append(c.warnings, issue)
		return
	}
	c.errors = append(c.errors, issue)
}

func (c *collector) result() Result {
	res := Result{Errors: c.errors, Warnings: c.warnings}
	if res.Errors == nil {
		res.Errors = []Issue{}
	}
	if res.Warnings == nil {
		res.Warnings = []Issue{}
	}
	res.Valid = len(res.Errors) == 0
	return res
}
