package expr

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdentifier
	tokenString
	tokenNumber
	tokenBool
	tokenNull
	tokenUndefined
	tokenOperator
	tokenLParen
	tokenRParen
	tokenDot
	tokenQuestion
	tokenColon
)

type token struct {
	kind tokenKind
	raw  string
	pos  int
}

// operators is ordered longest first so that "===" wins over "==" and "=".
var operators = []string{
	"===", "!==",
	"==", "!=", "<=", ">=", "&&", "||",
	"<", ">", "!", "+", "-", "*", "/", "%",
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0

	for i < len(input) {
		ch := input[i]
		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			i++
			continue
		}

		switch {
		case ch == '(':
			tokens = append(tokens, token{kind: tokenLParen, raw: "(", pos: i})
			i++
			continue
		case ch == ')':
			tokens = append(tokens, token{kind: tokenRParen, raw: ")", pos: i})
			i++
			continue
		case ch == '?':
			tokens = append(tokens, token{kind: tokenQuestion, raw: "?", pos: i})
			i++
			continue
		case ch == ':':
			tokens = append(tokens, token{kind: tokenColon, raw: ":", pos: i})
			i++
			continue
		case ch == '.' && !(i+1 < len(input) && isDigit(input[i+1])):
			tokens = append(tokens, token{kind: tokenDot, raw: ".", pos: i})
			i++
			continue
		case ch == '"' || ch == '\'':
			value, next, err := scanString(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenString, raw: value, pos: i})
			i = next
			continue
		case isDigit(ch) || ch == '.':
			start := i
			i = scanNumber(input, i)
			raw := input[start:i]
			if _, err := strconv.ParseFloat(raw, 64); err != nil {
				return nil, &SyntaxError{Expr: input, Pos: start, Msg: fmt.Sprintf("invalid number literal %q", raw)}
			}
			tokens = append(tokens, token{kind: tokenNumber, raw: raw, pos: start})
			continue
		case isIdentStart(ch):
			start := i
			for i < len(input) && isIdentPart(input[i]) {
				i++
			}
			raw := input[start:i]
			switch raw {
			case "true", "false":
				tokens = append(tokens, token{kind: tokenBool, raw: raw, pos: start})
			case "null":
				tokens = append(tokens, token{kind: tokenNull, raw: raw, pos: start})
			case "undefined":
				tokens = append(tokens, token{kind: tokenUndefined, raw: raw, pos: start})
			default:
				tokens = append(tokens, token{kind: tokenIdentifier, raw: raw, pos: start})
			}
			continue
		}

		op := matchOperator(input[i:])
		if op == "" {
			if ch == '=' {
				return nil, &SyntaxError{Expr: input, Pos: i, Msg: "assignment is not allowed; use '==' or '==='"}
			}
			return nil, &SyntaxError{Expr: input, Pos: i, Msg: fmt.Sprintf("unexpected character %q", ch)}
		}
		tokens = append(tokens, token{kind: tokenOperator, raw: op, pos: i})
		i += len(op)
	}

	tokens = append(tokens, token{kind: tokenEOF, pos: len(input)})
	return tokens, nil
}

func matchOperator(rest string) string {
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			return op
		}
	}
	return ""
}

func scanString(input string, start int) (string, int, error) {
	quote := input[start]
	var b strings.Builder
	i := start + 1
	for i < len(input) {
		c := input[i]
		switch {
		case c == '\\' && i+1 < len(input):
			i++
			switch esc := input[i]; esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(esc)
			}
		case c == quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
		i++
	}
	return "", 0, &SyntaxError{Expr: input, Pos: start, Msg: "unterminated string literal"}
}

func scanNumber(input string, i int) int {
	for i < len(input) && isDigit(input[i]) {
		i++
	}
	if i < len(input) && input[i] == '.' {
		i++
		for i < len(input) && isDigit(input[i]) {
			i++
		}
	}
	if i < len(input) && (input[i] == 'e' || input[i] == 'E') {
		j := i + 1
		if j < len(input) && (input[j] == '+' || input[j] == '-') {
			j++
		}
		if j < len(input) && isDigit(input[j]) {
			i = j
			for i < len(input) && isDigit(input[i]) {
				i++
			}
		}
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }
