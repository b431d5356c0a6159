// Package forms holds the declarative form model shared by option loading and
// validation: form and field definitions, field metadata, option sources and
// the normalized Option shape.
package forms

// FormDefinition is an ordered list of fields.
type FormDefinition struct {
	ID     string            `json:"id,omitempty" yaml:"id,omitempty"`
	Name   string            `json:"name,omitempty" yaml:"name,omitempty"`
	Fields []FieldDefinition `json:"fields" yaml:"fields"`
}

// Field returns the field with the given id.
func (d *FormDefinition) Field(id string) (*FieldDefinition, bool) {
	if d == nil {
		return nil, false
	}
	for i := range d.Fields {
		if d.Fields[i].ID == id {
			return &d.Fields[i], true
		}
	}
	return nil, false
}

// FieldDefinition describes one form field.
type FieldDefinition struct {
	ID       string         `json:"id" yaml:"id"`
	Label    string         `json:"label,omitempty" yaml:"label,omitempty"`
	Type     string         `json:"type,omitempty" yaml:"type,omitempty"`
	Metadata *FieldMetadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Options is the legacy location for static choices.
	Options []RawOption `json:"options,omitempty" yaml:"options,omitempty"`
}

// DisplayLabel returns the label, or the id when no label is set.
func (f *FieldDefinition) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	return f.ID
}

// FieldMetadata is a field's validation and option-source contract.
//
// MinLength, MaxLength, MinValue and MaxValue also appear at this level for
// forms authored before the validation block existed; the validation block
// takes precedence when both are present.
type FieldMetadata struct {
	Validation       *ValidationRules `json:"validation,omitempty" yaml:"validation,omitempty"`
	DataQuality      *DataQuality     `json:"dataQuality,omitempty" yaml:"dataQuality,omitempty"`
	UIConfig         *UIConfig        `json:"uiConfig,omitempty" yaml:"uiConfig,omitempty"`
	CodeListCategory string           `json:"codeListCategory,omitempty" yaml:"codeListCategory,omitempty"`
	Options          []RawOption      `json:"options,omitempty" yaml:"options,omitempty"`

	MinLength Limit `json:"minLength,omitzero" yaml:"minLength,omitempty"`
	MaxLength Limit `json:"maxLength,omitzero" yaml:"maxLength,omitempty"`
	MinValue  Limit `json:"minValue,omitzero" yaml:"minValue,omitempty"`
	MaxValue  Limit `json:"maxValue,omitzero" yaml:"maxValue,omitempty"`
}

// ValidationRules is the validation block of a field.
type ValidationRules struct {
	Required           bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Type               string `json:"type,omitempty" yaml:"type,omitempty"`
	MinLength          Limit  `json:"minLength,omitzero" yaml:"minLength,omitempty"`
	MaxLength          Limit  `json:"maxLength,omitzero" yaml:"maxLength,omitempty"`
	MinValue           Limit  `json:"minValue,omitzero" yaml:"minValue,omitempty"`
	MaxValue           Limit  `json:"maxValue,omitzero" yaml:"maxValue,omitempty"`
	DecimalPlaces      *int   `json:"decimalPlaces,omitempty" yaml:"decimalPlaces,omitempty"`
	AllowNegative      *bool  `json:"allowNegative,omitempty" yaml:"allowNegative,omitempty"`
	Pattern            string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	PatternDescription string `json:"patternDescription,omitempty" yaml:"patternDescription,omitempty"`
	MinDate            string `json:"minDate,omitempty" yaml:"minDate,omitempty"`
	MaxDate            string `json:"maxDate,omitempty" yaml:"maxDate,omitempty"`
	AllowFutureDates   *bool  `json:"allowFutureDates,omitempty" yaml:"allowFutureDates,omitempty"`
	IsFutureDate       bool   `json:"isFutureDate,omitempty" yaml:"isFutureDate,omitempty"`

	CustomRules           []CustomRule      `json:"customRules,omitempty" yaml:"customRules,omitempty"`
	ConditionalValidation []ConditionalRule `json:"conditionalValidation,omitempty" yaml:"conditionalValidation,omitempty"`
}

// CustomRule is an expression that must hold for the field value.
type CustomRule struct {
	Expression   string `json:"expression" yaml:"expression"`
	ErrorMessage string `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
	RuleType     string `json:"ruleType,omitempty" yaml:"ruleType,omitempty"`
	Severity     string `json:"severity,omitempty" yaml:"severity,omitempty"`
	RuleID       string `json:"ruleId,omitempty" yaml:"ruleId,omitempty"`
}

// ConditionalRule applies Rules only when Condition holds.
type ConditionalRule struct {
	Condition string           `json:"condition" yaml:"condition"`
	Rules     *ConditionalSpec `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// ConditionalSpec lists the checks a conditional rule switches on.
type ConditionalSpec struct {
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`
}

// DataQuality holds data-management checks layered on top of validation.
type DataQuality struct {
	RangeChecks          []RangeCheck     `json:"rangeChecks,omitempty" yaml:"rangeChecks,omitempty"`
	CrossFieldValidation []CrossFieldRule `json:"crossFieldValidation,omitempty" yaml:"crossFieldValidation,omitempty"`
}

// RangeCheck flags numeric values outside [Min, Max].
type RangeCheck struct {
	Min     *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max     *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Action  string   `json:"action,omitempty" yaml:"action,omitempty"`
	Message string   `json:"message,omitempty" yaml:"message,omitempty"`
	CheckID string   `json:"checkId,omitempty" yaml:"checkId,omitempty"`
	Type    string   `json:"type,omitempty" yaml:"type,omitempty"`
}

// CrossFieldRule is an expression over the whole form.
type CrossFieldRule struct {
	Expression string `json:"expression" yaml:"expression"`
	Message    string `json:"message,omitempty" yaml:"message,omitempty"`
	Severity   string `json:"severity,omitempty" yaml:"severity,omitempty"`
	RuleID     string `json:"ruleId,omitempty" yaml:"ruleId,omitempty"`
}

// UIConfig carries presentation settings, including where options come from.
type UIConfig struct {
	OptionSource *SourceConfig `json:"optionSource,omitempty" yaml:"optionSource,omitempty"`
	Options      []RawOption   `json:"options,omitempty" yaml:"options,omitempty"`
}

// SourceConfig is an option source as authored. See options.Decode for the
// typed form.
type SourceConfig struct {
	Type          string `json:"type" yaml:"type"`
	Category      string `json:"category,omitempty" yaml:"category,omitempty"`
	Endpoint      string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Filter        string `json:"filter,omitempty" yaml:"filter,omitempty"`
	QueryParams   string `json:"queryParams,omitempty" yaml:"queryParams,omitempty"`
	ValueField    string `json:"valueField,omitempty" yaml:"valueField,omitempty"`
	LabelField    string `json:"labelField,omitempty" yaml:"labelField,omitempty"`
	Cacheable     *bool  `json:"cacheable,omitempty" yaml:"cacheable,omitempty"`
	CacheDuration int    `json:"cacheDuration,omitempty" yaml:"cacheDuration,omitempty"`
}

// RawOption is a static option as authored.
type RawOption struct {
	Value        any    `json:"value" yaml:"value"`
	Label        any    `json:"label,omitempty" yaml:"label,omitempty"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
	Order        *int   `json:"order,omitempty" yaml:"order,omitempty"`
	CodingValue  any    `json:"codingValue,omitempty" yaml:"codingValue,omitempty"`
	CodingSystem string `json:"codingSystem,omitempty" yaml:"codingSystem,omitempty"`
}

// Option is the normalized shape every option source maps into.
type Option struct {
	Value        any            `json:"value"`
	Label        string         `json:"label"`
	Description  string         `json:"description"`
	Order        *int           `json:"order,omitempty"`
	CodingValue  any            `json:"codingValue,omitempty"`
	CodingSystem string         `json:"codingSystem,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

// LoadContext identifies where a form is being rendered. Values are
// substituted into endpoint templates; StudyID and SiteID also scope cache
// entries.
type LoadContext struct {
	StudyID   string `json:"studyId,omitempty" yaml:"studyId,omitempty"`
	SiteID    string `json:"siteId,omitempty" yaml:"siteId,omitempty"`
	SubjectID string `json:"subjectId,omitempty" yaml:"subjectId,omitempty"`
	VisitID   string `json:"visitId,omitempty" yaml:"visitId,omitempty"`
	FormID    string `json:"formId,omitempty" yaml:"formId,omitempty"`
}
