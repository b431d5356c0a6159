package validation

import (
	"strings"
	"time"

	"github.com/clinprecision/ctms-forms/internal/expr"
	"github.com/clinprecision/ctms-forms/internal/forms"
)

// Layouts carrying their own offset.
var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.RubyDate,
	time.UnixDate,
}

// Layouts interpreted in the engine's location.
var localLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"2006/01/02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"Mon Jan 2 2006",
	time.ANSIC,
	"2006-01",
	"2006",
}

// parseDate accepts the date and date-time spellings data entry clients send.
func parseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(loc), true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// checkDate runs the clinical date checks. They are independent: every check
// runs regardless of the others. Unparseable values are left to the type
// check.
func (e *Engine) checkDate(c *collector, value any, rules *forms.ValidationRules) {
	parsed, ok := parseDate(expr.ToString(value), e.loc)
	if !ok {
		return
	}
	now := e.now().In(e.loc)
	today := midnight(now)
	date := midnight(parsed)

	futureForbidden := (rules.AllowFutureDates != nil && !*rules.AllowFutureDates) ||
		(rules.AllowFutureDates == nil && !rules.IsFutureDate)
	if futureForbidden && date.After(today) {
		c.error("futureDate", "Date cannot be in the future", "DATE_FUTURE")
	}

	if date.Before(now.AddDate(-100, 0, 0)) {
		c.warning("oldDate", "Date is more than 100 years ago. Please verify.", "DATE_VERY_OLD")
	}

	if rules.AllowFutureDates != nil && *rules.AllowFutureDates && date.After(now.AddDate(1, 0, 0)) {
		c.warning("farFutureDate", "Date is more than 1 year in the future. Please verify.", "DATE_FAR_FUTURE")
	}

	if rules.MinDate != "" {
		if bound, ok := parseDate(rules.MinDate, e.loc); ok && date.Before(midnight(bound)) {
			c.error("minDate", "Date must be on or after "+rules.MinDate, "DATE_MIN")
		}
	}
	if rules.MaxDate != "" {
		if bound, ok := parseDate(rules.MaxDate, e.loc); ok && date.After(midnight(bound)) {
			c.error("maxDate", "Date must be on or before "+rules.MaxDate, "DATE_MAX")
		}
	}
}
