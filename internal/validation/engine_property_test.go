package validation

import (
	"testing"
	"time"

	"github.com/clinprecision/ctms-forms/internal/forms"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// For any integer bound pair, values inside [min, max] are valid and values
// outside raise exactly the matching bound rule.
func TestProperty_NumericBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	e := newTestEngine()

	properties.Property("values are judged against both bounds", prop.ForAll(
		func(lo, span, value int) bool {
			hi := lo + span
			md := &forms.FieldMetadata{Validation: &forms.ValidationRules{
				Type:     "integer",
				MinValue: forms.NewLimit(float64(lo)),
				MaxValue: forms.NewLimit(float64(hi)),
			}}
			res := e.ValidateField("n", value, md, nil)

			switch {
			case value < lo:
				return !res.Valid && len(res.Errors) == 1 && res.Errors[0].RuleID == "MIN_VALUE"
			case value > hi:
				return !res.Valid && len(res.Errors) == 1 && res.Errors[0].RuleID == "MAX_VALUE"
			default:
				return res.Valid
			}
		},
		gen.IntRange(-1000, 1000),
		gen.IntRange(0, 500),
		gen.IntRange(-2000, 2000),
	))

	properties.TestingRun(t)
}

// For any day offset, a default date field accepts today and earlier and
// rejects later days.
func TestProperty_FutureDates(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	e := newTestEngine()
	md := &forms.FieldMetadata{Validation: &forms.ValidationRules{Type: "date"}}

	properties.Property("only future days raise DATE_FUTURE", prop.ForAll(
		func(offset int) bool {
			day := fixedNow.AddDate(0, 0, offset).Format(time.DateOnly)
			res := e.ValidateField("d", day, md, nil)
			hasFuture := false
			for _, issue := range res.Errors {
				if issue.RuleID == "DATE_FUTURE" {
					hasFuture = true
				}
			}
			return hasFuture == (offset > 0)
		},
		gen.IntRange(-3650, 3650),
	))

	properties.TestingRun(t)
}

// valid mirrors the error list for arbitrary text input.
func TestProperty_ValidIffNoErrors(t *testing.T) {
	properties := gopter.NewProperties(nil)
	e := newTestEngine()
	md := &forms.FieldMetadata{Validation: &forms.ValidationRules{
		Type:      "decimal",
		MinLength: forms.NewLimit(2),
		MaxValue:  forms.NewLimit(50),
		Pattern:   `^\d`,
	}}

	properties.Property("valid iff errors is empty", prop.ForAll(
		func(s string) bool {
			res := e.ValidateField("f", s, md, nil)
			return res.Valid == (len(res.Errors) == 0)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// A required field with no value reports REQUIRED and nothing else, whatever
// other rules it carries.
func TestProperty_RequiredShortCircuits(t *testing.T) {
	properties := gopter.NewProperties(nil)
	e := newTestEngine()

	properties.Property("absent required value yields one REQUIRED error", prop.ForAll(
		func(minLen, minValue int, empty bool) bool {
			md := &forms.FieldMetadata{Validation: &forms.ValidationRules{
				Required:  true,
				Type:      "integer",
				MinLength: forms.NewLimit(float64(minLen)),
				MinValue:  forms.NewLimit(float64(minValue)),
				Pattern:   `^\d+$`,
			}}
			var value any
			if empty {
				value = ""
			}
			res := e.ValidateField("f", value, md, nil)
			return !res.Valid && len(res.Errors) == 1 && res.Errors[0].RuleID == "REQUIRED" && len(res.Warnings) == 0
		},
		gen.IntRange(0, 50),
		gen.IntRange(-100, 100),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
