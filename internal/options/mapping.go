package options

import (
	"html"
	"math"
	"strings"

	"github.com/clinprecision/ctms-forms/internal/expr"
	"github.com/clinprecision/ctms-forms/internal/forms"
	"github.com/microcosm-cc/bluemonday"
)

// StaticOptions returns the inline options of a field without a source:
// uiConfig.options, then metadata.options, then the legacy field.options,
// whichever is non-empty first.
func StaticOptions(field *forms.FieldDefinition) []forms.Option {
	if field == nil {
		return []forms.Option{}
	}
	var raw []forms.RawOption
	if md := field.Metadata; md != nil {
		if md.UIConfig != nil && len(md.UIConfig.Options) > 0 {
			raw = md.UIConfig.Options
		} else if len(md.Options) > 0 {
			raw = md.Options
		}
	}
	if len(raw) == 0 {
		raw = field.Options
	}
	return formatStatic(raw)
}

func formatStatic(raw []forms.RawOption) []forms.Option {
	out := make([]forms.Option, 0, len(raw))
	for _, opt := range raw {
		label := text(opt.Label)
		if label == "" {
			label = text(opt.Value)
		}
		out = append(out, forms.Option{
			Value:        opt.Value,
			Label:        label,
			Description:  opt.Description,
			Order:        opt.Order,
			CodingValue:  opt.CodingValue,
			CodingSystem: opt.CodingSystem,
		})
	}
	return out
}

// CacheKey builds the composite cache key of a field's source in a context.
// Empty parts are dropped.
func CacheKey(fieldID string, src Source, lc forms.LoadContext) string {
	category, endpoint, filter := src.keyParts()
	parts := []string{
		"options",
		fieldID,
		string(src.Kind()),
		category,
		endpoint,
		lc.StudyID,
		lc.SiteID,
		filter,
	}
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "_")
}

// substitute replaces the first occurrence of each context placeholder.
// Unset identifiers leave their placeholder in place.
func substitute(endpoint string, lc forms.LoadContext) string {
	for _, p := range []struct{ placeholder, value string }{
		{"{studyId}", lc.StudyID},
		{"{siteId}", lc.SiteID},
		{"{subjectId}", lc.SubjectID},
		{"{visitId}", lc.VisitID},
		{"{formId}", lc.FormID},
	} {
		if p.value != "" {
			endpoint = strings.Replace(endpoint, p.placeholder, p.value, 1)
		}
	}
	return endpoint
}

func appendQuery(endpoint, query string) string {
	if query == "" {
		return endpoint
	}
	if strings.Contains(endpoint, "?") {
		return endpoint + "&" + query
	}
	return endpoint + "?" + query
}

// items returns the list elements of a decoded JSON body.
func items(body any) ([]any, bool) {
	list, ok := body.([]any)
	return list, ok
}

// firstTruthy returns the first truthy value of item's keys.
func firstTruthy(item map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := item[k]; ok && expr.Truthy(v) {
			return v
		}
	}
	return nil
}

func asObject(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// text renders a decoded JSON value as option text. Missing values are empty.
func text(v any) string {
	if v == nil || v == expr.Undefined {
		return ""
	}
	return expr.ToString(v)
}

// orderOf reads an integer display order.
func orderOf(v any) *int {
	f := expr.ToNumber(v)
	if v == nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	n := int(f)
	return &n
}

// plainText strips markup from remote labels, leaving readable text.
type plainText struct {
	policy *bluemonday.Policy
}

func newPlainText() plainText {
	return plainText{policy: bluemonday.StrictPolicy()}
}

func (p plainText) clean(s string) string {
	if s == "" || !strings.ContainsAny(s, "<>&") {
		return s
	}
	return strings.TrimSpace(html.UnescapeString(p.policy.Sanitize(s)))
}
