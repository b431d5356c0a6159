// Package options resolves the selectable options of form fields.
//
// A field's option source is decoded into one typed variant (static list,
// code list, study data, custom API or external coding standard). Remote
// sources are fetched through the CTMS API and cached behind a Store with a
// per-source TTL; when a fetch fails the loader falls back to whatever the
// cache still holds, stale or not.
package options

import (
	"errors"
	"time"

	"github.com/clinprecision/ctms-forms/internal/forms"
)

// DefaultTTL is the cache lifetime of sources that do not set cacheDuration.
const DefaultTTL = time.Hour

// Kind is an option source type tag.
type Kind string

const (
	KindStatic           Kind = "STATIC"
	KindCodeList         Kind = "CODE_LIST"
	KindStudyData        Kind = "STUDY_DATA"
	KindAPI              Kind = "API"
	KindExternalStandard Kind = "EXTERNAL_STANDARD"
)

// ErrConfig marks option sources that cannot be loaded as authored.
var ErrConfig = errors.New("invalid option source")

// ConfigError describes a misconfigured option source. It matches ErrConfig.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// CachePolicy controls whether and for how long a source's options are cached.
type CachePolicy struct {
	Cacheable bool
	TTL       time.Duration
}

// Source is a decoded option source. The concrete types are StaticSource,
// CodeListSource, StudyDataSource, APISource, ExternalStandardSource and
// UnknownSource.
type Source interface {
	Kind() Kind
	Cache() CachePolicy
	keyParts() (category, endpoint, filter string)
}

// StaticSource lists its options inline.
type StaticSource struct {
	Policy  CachePolicy
	Options []forms.RawOption
}

// CodeListSource loads a named code list from study design metadata.
type CodeListSource struct {
	Policy   CachePolicy
	Category string
}

// StudyDataSource loads study entities (sites, visits, arms) from an
// endpoint template.
type StudyDataSource struct {
	Policy     CachePolicy
	Endpoint   string
	Filter     string
	ValueField string
	LabelField string
}

// APISource loads options from an arbitrary CTMS endpoint template.
type APISource struct {
	Policy      CachePolicy
	Endpoint    string
	QueryParams string
	ValueField  string
	LabelField  string
}

// ExternalStandardSource loads terms from a coding standard such as MedDRA
// or ICD-10.
type ExternalStandardSource struct {
	Policy     CachePolicy
	Category   string
	Filter     string
	ValueField string
	LabelField string
}

// UnknownSource is a source whose type tag is not recognized. It loads as an
// empty list.
type UnknownSource struct {
	Policy CachePolicy
	Type   string
}

func (StaticSource) Kind() Kind           { return KindStatic }
func (CodeListSource) Kind() Kind         { return KindCodeList }
func (StudyDataSource) Kind() Kind        { return KindStudyData }
func (APISource) Kind() Kind              { return KindAPI }
func (ExternalStandardSource) Kind() Kind { return KindExternalStandard }
func (s UnknownSource) Kind() Kind        { return Kind(s.Type) }

func (s StaticSource) Cache() CachePolicy           { return s.Policy }
func (s CodeListSource) Cache() CachePolicy         { return s.Policy }
func (s StudyDataSource) Cache() CachePolicy        { return s.Policy }
func (s APISource) Cache() CachePolicy              { return s.Policy }
func (s ExternalStandardSource) Cache() CachePolicy { return s.Policy }
func (s UnknownSource) Cache() CachePolicy          { return s.Policy }

func (StaticSource) keyParts() (string, string, string)     { return "", "", "" }
func (s CodeListSource) keyParts() (string, string, string) { return s.Category, "", "" }
func (s StudyDataSource) keyParts() (string, string, string) {
	return "", s.Endpoint, s.Filter
}
func (s APISource) keyParts() (string, string, string) { return "", s.Endpoint, "" }
func (s ExternalStandardSource) keyParts() (string, string, string) {
	return s.Category, "", s.Filter
}
func (UnknownSource) keyParts() (string, string, string) { return "", "", "" }

// Decode resolves the option source of field. uiConfig.optionSource wins; a
// bare codeListCategory becomes a cacheable code list. ok is false when the
// field only has static options (or none); see StaticOptions.
func Decode(field *forms.FieldDefinition, defaultTTL time.Duration) (src Source, ok bool) {
	if field == nil || field.Metadata == nil {
		return nil, false
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	md := field.Metadata

	if md.UIConfig != nil && md.UIConfig.OptionSource != nil {
		return fromConfig(md.UIConfig.OptionSource, md.UIConfig.Options, defaultTTL), true
	}
	if md.CodeListCategory != "" {
		return CodeListSource{
			Policy:   CachePolicy{Cacheable: true, TTL: defaultTTL},
			Category: md.CodeListCategory,
		}, true
	}
	return nil, false
}

func fromConfig(cfg *forms.SourceConfig, inline []forms.RawOption, defaultTTL time.Duration) Source {
	policy := CachePolicy{
		Cacheable: cfg.Cacheable == nil || *cfg.Cacheable,
		TTL:       defaultTTL,
	}
	if cfg.CacheDuration > 0 {
		policy.TTL = time.Duration(cfg.CacheDuration) * time.Second
	}

	switch Kind(cfg.Type) {
	case KindStatic:
		return StaticSource{Policy: policy, Options: inline}
	case KindCodeList:
		return CodeListSource{Policy: policy, Category: cfg.Category}
	case KindStudyData:
		return StudyDataSource{
			Policy:     policy,
			Endpoint:   cfg.Endpoint,
			Filter:     cfg.Filter,
			ValueField: orDefault(cfg.ValueField, "id"),
			LabelField: orDefault(cfg.LabelField, "name"),
		}
	case KindAPI:
		return APISource{
			Policy:      policy,
			Endpoint:    cfg.Endpoint,
			QueryParams: cfg.QueryParams,
			ValueField:  orDefault(cfg.ValueField, "value"),
			LabelField:  orDefault(cfg.LabelField, "label"),
		}
	case KindExternalStandard:
		return ExternalStandardSource{
			Policy:     policy,
			Category:   cfg.Category,
			Filter:     cfg.Filter,
			ValueField: orDefault(cfg.ValueField, "code"),
			LabelField: orDefault(cfg.LabelField, "term"),
		}
	default:
		return UnknownSource{Policy: policy, Type: cfg.Type}
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
