package validation

import (
	"github.com/clinprecision/ctms-forms/internal/expr"
	"github.com/clinprecision/ctms-forms/internal/forms"
	"go.uber.org/zap"
)

type compiledProgram struct {
	program *expr.Program
	err     error
}

// holds evaluates source against vars. Compile and evaluation failures are
// logged and treated as satisfied.
func (e *Engine) holds(source string, vars map[string]any, fieldID, ruleID string) bool {
	program, err := e.program(source)
	if err == nil {
		var ok bool
		ok, err = program.Test(vars)
		if err == nil {
			return ok
		}
	}
	e.logger.Debug("Rule evaluation failed, treating as satisfied",
		zap.String("field", fieldID),
		zap.String("rule_id", ruleID),
		zap.String("expression", source),
		zap.Error(err),
	)
	return true
}

func (e *Engine) program(source string) (*expr.Program, error) {
	if cached, ok := e.programs.Load(source); ok {
		p := cached.(compiledProgram)
		return p.program, p.err
	}
	program, err := expr.Compile(source)
	e.programs.Store(source, compiledProgram{program: program, err: err})
	return program, err
}

// fieldScope is the variable scope of custom and conditional rules. Form
// values win over the value and field bindings.
func fieldScope(value any, formData map[string]any) map[string]any {
	vars := make(map[string]any, len(formData)+2)
	vars["value"] = value
	vars["field"] = map[string]any{"value": value}
	for k, v := range formData {
		vars[k] = v
	}
	return vars
}

func (e *Engine) checkCustomRules(c *collector, value any, rules []forms.CustomRule, formData map[string]any) {
	if len(rules) == 0 {
		return
	}
	vars := fieldScope(value, formData)
	for _, rule := range rules {
		if e.holds(rule.Expression, vars, c.field, rule.RuleID) {
			continue
		}
		kind := rule.RuleType
		if kind == "" {
			kind = "custom"
		}
		severity := rule.Severity
		if severity == "" {
			severity = SeverityError
		}
		c.route(Issue{
			Field:    c.field,
			Type:     kind,
			Message:  rule.ErrorMessage,
			RuleID:   rule.RuleID,
			Severity: severity,
		}, severity)
	}
}

// checkConditional applies conditional rules whose guard holds. Guards share
// the fail-open evaluation of custom rules.
func (e *Engine) checkConditional(c *collector, value any, rules []forms.ConditionalRule, formData map[string]any) {
	if len(rules) == 0 {
		return
	}
	vars := fieldScope(value, formData)
	for _, rule := range rules {
		if rule.Rules == nil || !e.holds(rule.Condition, vars, c.field, "CONDITIONAL_REQUIRED") {
			continue
		}
		if rule.Rules.Required && !hasValue(value) {
			c.error("conditionalRequired", "This field is required based on other field values", "CONDITIONAL_REQUIRED")
		}
	}
}

func checkRanges(c *collector, value any, checks []forms.RangeCheck) {
	if len(checks) == 0 {
		return
	}
	n, ok := numericValue(value)
	if !ok {
		return
	}
	for _, check := range checks {
		out := (check.Min != nil && n < *check.Min) || (check.Max != nil && n > *check.Max)
		if !out {
			continue
		}
		message := check.Message
		if message == "" {
			message = "Value outside " + check.Type + " range"
		}
		issue := Issue{
			Field:   c.field,
			Type:    "rangeCheck",
			Message: message,
			RuleID:  check.CheckID,
			Action:  check.Action,
		}
		if check.Action == SeverityError {
			c.route(issue, SeverityError)
		} else {
			c.route(issue, SeverityWarning)
		}
	}
}

func (e *Engine) checkCrossField(c *collector, value any, rules []forms.CrossFieldRule, formData map[string]any) {
	if len(rules) == 0 {
		return
	}
	vars := make(map[string]any, len(formData)+1)
	for k, v := range formData {
		vars[k] = v
	}
	vars["currentField"] = value

	for _, rule := range rules {
		if e.holds(rule.Expression, vars, c.field, rule.RuleID) {
			continue
		}
		severity := rule.Severity
		if severity == "" {
			severity = SeverityError
		}
		c.route(Issue{
			Field:    c.field,
			Type:     "crossField",
			Message:  rule.Message,
			RuleID:   rule.RuleID,
			Severity: severity,
		}, severity)
	}
}
