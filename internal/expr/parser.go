package expr

import (
	"fmt"
	"strconv"
)

type tokenStream struct {
	input  string
	tokens []token
	pos    int
}

func (s *tokenStream) peek() token { return s.tokens[s.pos] }

func (s *tokenStream) next() token {
	tok := s.tokens[s.pos]
	if tok.kind != tokenEOF {
		s.pos++
	}
	return tok
}

func (s *tokenStream) match(kind tokenKind) bool {
	if s.peek().kind != kind {
		return false
	}
	s.pos++
	return true
}

func (s *tokenStream) matchOp(ops ...string) (string, bool) {
	tok := s.peek()
	if tok.kind != tokenOperator {
		return "", false
	}
	for _, op := range ops {
		if tok.raw == op {
			s.pos++
			return op, true
		}
	}
	return "", false
}

func (s *tokenStream) errorf(tok token, format string, args ...any) error {
	return &SyntaxError{Expr: s.input, Pos: tok.pos, Msg: fmt.Sprintf(format, args...)}
}

func parse(input string, tokens []token) (node, error) {
	stream := &tokenStream{input: input, tokens: tokens}
	if stream.peek().kind == tokenEOF {
		return nil, stream.errorf(stream.peek(), "empty expression")
	}
	root, err := parseConditional(stream)
	if err != nil {
		return nil, err
	}
	if tok := stream.peek(); tok.kind != tokenEOF {
		return nil, stream.errorf(tok, "unexpected token %q", tok.raw)
	}
	return root, nil
}

func parseConditional(s *tokenStream) (node, error) {
	test, err := parseOr(s)
	if err != nil {
		return nil, err
	}
	if !s.match(tokenQuestion) {
		return test, nil
	}
	consequent, err := parseConditional(s)
	if err != nil {
		return nil, err
	}
	if !s.match(tokenColon) {
		return nil, s.errorf(s.peek(), "expected ':' in conditional expression")
	}
	alternate, err := parseConditional(s)
	if err != nil {
		return nil, err
	}
	return conditionalNode{test: test, consequent: consequent, alternate: alternate}, nil
}

func parseOr(s *tokenStream) (node, error) {
	left, err := parseAnd(s)
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := s.matchOp("||"); !ok {
			return left, nil
		}
		right, err := parseAnd(s)
		if err != nil {
			return nil, err
		}
		left = logicalNode{op: "||", left: left, right: right}
	}
}

func parseAnd(s *tokenStream) (node, error) {
	left, err := parseEquality(s)
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := s.matchOp("&&"); !ok {
			return left, nil
		}
		right, err := parseEquality(s)
		if err != nil {
			return nil, err
		}
		left = logicalNode{op: "&&", left: left, right: right}
	}
}

func parseEquality(s *tokenStream) (node, error) {
	return parseBinaryLevel(s, parseRelational, "===", "!==", "==", "!=")
}

func parseRelational(s *tokenStream) (node, error) {
	return parseBinaryLevel(s, parseAdditive, "<=", ">=", "<", ">")
}

func parseAdditive(s *tokenStream) (node, error) {
	return parseBinaryLevel(s, parseMultiplicative, "+", "-")
}

func parseMultiplicative(s *tokenStream) (node, error) {
	return parseBinaryLevel(s, parseUnary, "*", "/", "%")
}

func parseBinaryLevel(s *tokenStream, operand func(*tokenStream) (node, error), ops ...string) (node, error) {
	left, err := operand(s)
	if err != nil {
		return nil, err
	}
	for {
		op, ok := s.matchOp(ops...)
		if !ok {
			return left, nil
		}
		right, err := operand(s)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

func parseUnary(s *tokenStream) (node, error) {
	if op, ok := s.matchOp("!", "-", "+"); ok {
		operand, err := parseUnary(s)
		if err != nil {
			return nil, err
		}
		return unaryNode{op: op, operand: operand}, nil
	}
	return parsePostfix(s)
}

func parsePostfix(s *tokenStream) (node, error) {
	n, err := parsePrimary(s)
	if err != nil {
		return nil, err
	}
	for s.match(tokenDot) {
		tok := s.next()
		switch tok.kind {
		case tokenIdentifier, tokenBool, tokenNull, tokenUndefined:
			n = memberNode{object: n, property: tok.raw}
		default:
			return nil, s.errorf(tok, "expected property name after '.'")
		}
	}
	return n, nil
}

func parsePrimary(s *tokenStream) (node, error) {
	tok := s.next()
	switch tok.kind {
	case tokenNumber:
		f, err := strconv.ParseFloat(tok.raw, 64)
		if err != nil {
			return nil, s.errorf(tok, "invalid number literal %q", tok.raw)
		}
		return literalNode{value: f}, nil
	case tokenString:
		return literalNode{value: tok.raw}, nil
	case tokenBool:
		return literalNode{value: tok.raw == "true"}, nil
	case tokenNull:
		return literalNode{value: nil}, nil
	case tokenUndefined:
		return literalNode{value: Undefined}, nil
	case tokenIdentifier:
		return identifierNode{name: tok.raw}, nil
	case tokenLParen:
		inner, err := parseConditional(s)
		if err != nil {
			return nil, err
		}
		if !s.match(tokenRParen) {
			return nil, s.errorf(s.peek(), "missing closing ')'")
		}
		return inner, nil
	case tokenEOF:
		return nil, s.errorf(tok, "unexpected end of expression")
	default:
		return nil, s.errorf(tok, "unexpected token %q", tok.raw)
	}
}
