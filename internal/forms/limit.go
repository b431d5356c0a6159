package forms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Limit is a numeric bound that may be authored as a number or as a numeric
// string. It distinguishes three states: absent, present but unusable (an
// empty or non-numeric string), and usable.
type Limit struct {
	present bool
	usable  bool
	value   float64
}

// NewLimit returns a usable limit.
func NewLimit(v float64) Limit {
	return Limit{present: true, usable: true, value: v}
}

// LimitOf builds a limit from a decoded value.
func LimitOf(v any) Limit {
	switch t := v.(type) {
	case nil:
		return Limit{}
	case float64:
		return NewLimit(t)
	case float32:
		return NewLimit(float64(t))
	case int:
		return NewLimit(float64(t))
	case int64:
		return NewLimit(float64(t))
	case json.Number:
		f, err := t.Float64()
		return Limit{present: true, usable: err == nil, value: f}
	case string:
		return parseLimit(t)
	default:
		return Limit{present: true}
	}
}

func parseLimit(s string) Limit {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Limit{present: true}
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return Limit{present: true}
	}
	return NewLimit(f)
}

// Present reports whether the bound was authored at all.
func (l Limit) Present() bool { return l.present }

// Float returns the bound and whether it is usable.
func (l Limit) Float() (float64, bool) { return l.value, l.usable }

// IsZero reports whether the limit is absent.
func (l Limit) IsZero() bool { return !l.present }

// Or returns l when it was authored, otherwise fallback.
func (l Limit) Or(fallback Limit) Limit {
	if l.present {
		return l
	}
	return fallback
}

func (l *Limit) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = Limit{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid limit %s: %w", data, err)
		}
		*l = parseLimit(s)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		*l = Limit{present: true}
		return nil
	}
	*l = NewLimit(f)
	return nil
}

func (l Limit) MarshalJSON() ([]byte, error) {
	switch {
	case !l.present:
		return []byte("null"), nil
	case !l.usable:
		return []byte(`""`), nil
	default:
		return []byte(strconv.FormatFloat(l.value, 'f', -1, 64)), nil
	}
}

func (l *Limit) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: limit must be a scalar", node.Line)
	}
	switch node.Tag {
	case "!!null":
		*l = Limit{}
	case "!!int", "!!float", "!!str":
		*l = parseLimit(node.Value)
	default:
		*l = Limit{present: true}
	}
	return nil
}

func (l Limit) MarshalYAML() (any, error) {
	switch {
	case !l.present:
		return nil, nil
	case !l.usable:
		return "", nil
	default:
		return l.value, nil
	}
}

// UnmarshalJSON accepts identifiers authored as strings or numbers.
func (c *LoadContext) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("invalid load context: %w", err)
	}
	*c = LoadContext{
		StudyID:   idString(raw["studyId"]),
		SiteID:    idString(raw["siteId"]),
		SubjectID: idString(raw["subjectId"]),
		VisitID:   idString(raw["visitId"]),
		FormID:    idString(raw["formId"]),
	}
	return nil
}

func idString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
