// Package expr evaluates rule expressions authored as data.
//
// Expressions are tokenized and parsed into a small AST once, then evaluated
// against a map of named values. Nothing is ever executed as code: the only
// operations are literal construction, variable and property lookup, and the
// operators below.
//
//	literals     42, 1.5, "text", 'text', true, false, null, undefined
//	lookup       age, visit.date, value.length
//	unary        !x, -x, +x
//	arithmetic   * / % + -   (+ concatenates when either side is a string)
//	relational   < <= > >=
//	equality     == != (loose) and === !== (strict)
//	logical      && || (return the deciding operand), cond ? a : b
//
// Referencing a name that is not in the value map is an error, as is reading
// a property of null or undefined.
package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"unicode/utf16"
)

// Program is a compiled expression. It is immutable and safe for concurrent use.
type Program struct {
	source string
	root   node
}

// Compile parses an expression.
func Compile(source string) (*Program, error) {
	trimmed := strings.TrimSpace(source)
	tokens, err := tokenize(trimmed)
	if err != nil {
		return nil, err
	}
	root, err := parse(trimmed, tokens)
	if err != nil {
		return nil, err
	}
	return &Program{source: trimmed, root: root}, nil
}

// Source returns the normalized expression text.
func (p *Program) Source() string { return p.source }

// Eval evaluates the program and returns the resulting value.
func (p *Program) Eval(vars map[string]any) (any, error) {
	return p.root.eval(vars)
}

// Test evaluates the program and reports whether the result is truthy.
func (p *Program) Test(vars map[string]any) (bool, error) {
	v, err := p.root.eval(vars)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Test compiles and evaluates source in one step.
func Test(source string, vars map[string]any) (bool, error) {
	p, err := Compile(source)
	if err != nil {
		return false, err
	}
	return p.Test(vars)
}

// SyntaxError reports an expression that could not be parsed.
type SyntaxError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("expr: %s at offset %d in %q", e.Msg, e.Pos, e.Expr)
}

// ReferenceError reports a lookup of a name that is not defined.
type ReferenceError struct {
	Name string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("expr: %s is not defined", e.Name)
}

// TypeError reports an operation on a value that does not support it.
type TypeError struct {
	Msg string
}

func (e *TypeError) Error() string { return "expr: " + e.Msg }

type undefinedType struct{}

func (undefinedType) String() string { return "undefined" }

// Undefined is the value of a missing property.
var Undefined any = undefinedType{}

type node interface {
	eval(vars map[string]any) (any, error)
}

type literalNode struct {
	value any
}

func (n literalNode) eval(map[string]any) (any, error) { return n.value, nil }

type identifierNode struct {
	name string
}

func (n identifierNode) eval(vars map[string]any) (any, error) {
	v, ok := vars[n.name]
	if !ok {
		return nil, &ReferenceError{Name: n.name}
	}
	return normalize(v), nil
}

type memberNode struct {
	object   node
	property string
}

func (n memberNode) eval(vars map[string]any) (any, error) {
	obj, err := n.object.eval(vars)
	if err != nil {
		return nil, err
	}
	return property(obj, n.property)
}

type unaryNode struct {
	op      string
	operand node
}

func (n unaryNode) eval(vars map[string]any) (any, error) {
	v, err := n.operand.eval(vars)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "!":
		return !Truthy(v), nil
	case "-":
		return -ToNumber(v), nil
	default:
		return ToNumber(v), nil
	}
}

type logicalNode struct {
	op    string
	left  node
	right node
}

func (n logicalNode) eval(vars map[string]any) (any, error) {
	left, err := n.left.eval(vars)
	if err != nil {
		return nil, err
	}
	if n.op == "&&" && !Truthy(left) {
		return left, nil
	}
	if n.op == "||" && Truthy(left) {
		return left, nil
	}
	return n.right.eval(vars)
}

type conditionalNode struct {
	test       node
	consequent node
	alternate  node
}

func (n conditionalNode) eval(vars map[string]any) (any, error) {
	test, err := n.test.eval(vars)
	if err != nil {
		return nil, err
	}
	if Truthy(test) {
		return n.consequent.eval(vars)
	}
	return n.alternate.eval(vars)
}

type binaryNode struct {
	op    string
	left  node
	right node
}

func (n binaryNode) eval(vars map[string]any) (any, error) {
	left, err := n.left.eval(vars)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(vars)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "===":
		return StrictEqual(left, right), nil
	case "!==":
		return !StrictEqual(left, right), nil
	case "==":
		return LooseEqual(left, right), nil
	case "!=":
		return !LooseEqual(left, right), nil
	case "<", "<=", ">", ">=":
		return compare(n.op, left, right), nil
	case "+":
		_, ls := left.(string)
		_, rs := right.(string)
		if ls || rs {
			return ToString(left) + ToString(right), nil
		}
		return ToNumber(left) + ToNumber(right), nil
	case "-":
		return ToNumber(left) - ToNumber(right), nil
	case "*":
		return ToNumber(left) * ToNumber(right), nil
	case "/":
		return ToNumber(left) / ToNumber(right), nil
	case "%":
		return math.Mod(ToNumber(left), ToNumber(right)), nil
	default:
		return nil, &TypeError{Msg: fmt.Sprintf("unsupported operator %q", n.op)}
	}
}

func compare(op string, left, right any) bool {
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch op {
		case "<":
			return ls < rs
		case "<=":
			return ls <= rs
		case ">":
			return ls > rs
		default:
			return ls >= rs
		}
	}

	l, r := ToNumber(left), ToNumber(right)
	if math.IsNaN(l) || math.IsNaN(r) {
		return false
	}
	switch op {
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	default:
		return l >= r
	}
}

func property(obj any, name string) (any, error) {
	switch v := obj.(type) {
	case nil:
		return nil, &TypeError{Msg: fmt.Sprintf("cannot read property %q of null", name)}
	case undefinedType:
		return nil, &TypeError{Msg: fmt.Sprintf("cannot read property %q of undefined", name)}
	case string:
		if name == "length" {
			return float64(len(utf16.Encode([]rune(v)))), nil
		}
		return Undefined, nil
	case map[string]any:
		if next, ok := v[name]; ok {
			return normalize(next), nil
		}
		return Undefined, nil
	}

	rv := reflect.ValueOf(obj)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if name == "length" {
			return float64(rv.Len()), nil
		}
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			if next := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key())); next.IsValid() {
				return normalize(next.Interface()), nil
			}
		}
	}
	return Undefined, nil
}

// normalize widens Go numeric types to float64 so comparisons behave the same
// whichever decoder produced the value.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return n.String()
		}
		return f
	default:
		return v
	}
}
