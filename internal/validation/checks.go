package validation

import (
	"encoding/json"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/clinprecision/ctms-forms/internal/expr"
	"github.com/clinprecision/ctms-forms/internal/forms"
	"go.uber.org/zap"
)

var (
	integerPattern = regexp.MustCompile(`^-?\d+$`)
	emailPattern   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern   = regexp.MustCompile(`^\+?[\d\s\-()]+$`)
)

// hasValue reports whether a value counts as entered. Booleans always do.
func hasValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	}
	return v != expr.Undefined
}

func (e *Engine) checkType(c *collector, value any, kind string) {
	s := expr.ToString(value)

	switch kind {
	case "integer":
		if !integerPattern.MatchString(s) {
			c.error("type", "Value must be an integer", "TYPE_INTEGER")
		}
	case "decimal":
		if _, ok := parseFloatPrefix(s); !ok {
			c.error("type", "Value must be a number", "TYPE_DECIMAL")
		}
	case "date":
		if _, ok := parseDate(s, e.loc); !ok {
			c.error("type", "Invalid date format", "TYPE_DATE")
		}
	case "datetime":
		if _, ok := parseDate(s, e.loc); !ok {
			c.error("type", "Invalid date/time format", "TYPE_DATETIME")
		}
	case "email":
		if !emailPattern.MatchString(s) {
			c.error("type", "Invalid email format", "TYPE_EMAIL")
		}
	case "phone":
		if !phonePattern.MatchString(s) {
			c.error("type", "Invalid phone number format", "TYPE_PHONE")
		}
	case "url":
		if !isURL(s) {
			c.error("type", "Invalid URL format", "TYPE_URL")
		}
	}
}

// isURL accepts absolute URLs. Hierarchical web schemes also need a host.
func isURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Scheme == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp", "ws", "wss":
		return u.Host != ""
	}
	return true
}

func checkLength(c *collector, value any, rules *forms.ValidationRules, md *forms.FieldMetadata) {
	s, ok := value.(string)
	if !ok {
		return
	}
	n := float64(utf8.RuneCountInString(s))

	if limit, ok := positive(rules.MinLength.Or(md.MinLength)); ok && n < limit {
		c.error("minLength", "Minimum length is "+expr.FormatNumber(limit)+" characters", "MIN_LENGTH")
	}
	if limit, ok := positive(rules.MaxLength.Or(md.MaxLength)); ok && n > limit {
		c.error("maxLength", "Maximum length is "+expr.FormatNumber(limit)+" characters", "MAX_LENGTH")
	}
}

func positive(l forms.Limit) (float64, bool) {
	v, ok := l.Float()
	return v, ok && v > 0
}

func checkNumeric(c *collector, value any, rules *forms.ValidationRules, md *forms.FieldMetadata) {
	n, ok := numericValue(value)
	if !ok {
		return
	}

	if limit, ok := rules.MinValue.Or(md.MinValue).Float(); ok && n < limit {
		c.error("minValue", "Value must be at least "+expr.FormatNumber(limit), "MIN_VALUE")
	}
	if limit, ok := rules.MaxValue.Or(md.MaxValue).Float(); ok && n > limit {
		c.error("maxValue", "Value must be at most "+expr.FormatNumber(limit), "MAX_VALUE")
	}

	if dp := rules.DecimalPlaces; dp != nil && *dp >= 0 {
		text := expr.FormatNumber(n)
		if i := strings.IndexByte(text, '.'); i >= 0 && len(text)-i-1 > *dp {
			c.error("decimalPlaces", "Maximum "+strconv.Itoa(*dp)+" decimal places allowed", "DECIMAL_PLACES")
		}
	}

	if rules.AllowNegative != nil && !*rules.AllowNegative && n < 0 {
		c.error("allowNegative", "Negative values are not allowed", "NO_NEGATIVE")
	}
}

// numericValue returns the number a value represents: numbers as-is, and
// anything else through its leading numeric prefix.
func numericValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t)
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		return parseFloatPrefix(t.String())
	case bool, nil:
		return 0, false
	}
	return parseFloatPrefix(expr.ToString(v))
}

// parseFloatPrefix parses the longest leading decimal literal of s, ignoring
// leading whitespace and any trailing text ("12.5mg" is 12.5).
func parseFloatPrefix(s string) (float64, bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)

	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	if strings.HasPrefix(s[i:], "Infinity") {
		if s[0] == '-' {
			return math.Inf(-1), true
		}
		return math.Inf(1), true
	}

	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		j := i + 1
		frac := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			frac++
		}
		if digits+frac > 0 {
			i = j
			digits += frac
		}
	}
	if digits == 0 {
		return math.NaN(), false
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < len(s) && isDigit(s[k]) {
			k++
		}
		if k > j {
			i = k
		}
	}

	f, err := strconv.ParseFloat(strings.TrimSuffix(s[:i], "."), 64)
	if err != nil {
		// Out-of-range literals still parse to ±Inf.
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return f, true
		}
		return math.NaN(), false
	}
	return f, true
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

func (e *Engine) checkPattern(c *collector, value any, rules *forms.ValidationRules) {
	if rules.Pattern == "" {
		return
	}
	re, err := e.pattern(rules.Pattern)
	if err != nil {
		e.logger.Warn("Invalid validation pattern",
			zap.String("field", c.field),
			zap.String("pattern", rules.Pattern),
			zap.Error(err),
		)
		return
	}
	if re.MatchString(expr.ToString(value)) {
		return
	}
	message := "Value does not match required pattern"
	if rules.PatternDescription != "" {
		message = "Invalid format. Expected: " + rules.PatternDescription
	}
	c.error("pattern", message, "PATTERN")
}

func (e *Engine) pattern(source string) (*regexp.Regexp, error) {
	if cached, ok := e.patterns.Load(source); ok {
		p := cached.(compiledPattern)
		return p.re, p.err
	}
	re, err := regexp.Compile(source)
	e.patterns.Store(source, compiledPattern{re: re, err: err})
	return re, err
}
