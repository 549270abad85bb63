package workflow

import (
	"fmt"
	"reflect"
	"strconv"
	"unicode"
)

// Condition is a parsed boolean expression over named context fields. The
// grammar is deliberately small: comparisons, boolean combinators, and
// parentheses, interpreted by a hand-written evaluator. Step conditions are
// configuration, never code.
//
//	expr   := or
//	or     := and ("||" and)*
//	and    := unary ("&&" unary)*
//	unary  := "!" unary | primary
//	primary:= "(" expr ")" | operand (cmpOp operand)?
//	operand:= identifier | number | quoted string | true | false
//
// A bare operand is truthy when it is a non-zero number, a non-empty string
// or collection, or boolean true. A missing context field is falsy.
type Condition struct {
	root node
	src  string
}

// ParseCondition compiles an expression. Parse errors include the offending
// position.
func ParseCondition(src string) (Condition, error) {
	tokens, err := lex(src)
	if err != nil {
		return Condition{}, err
	}
	p := &parser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return Condition{}, err
	}
	if !p.atEnd() {
		return Condition{}, fmt.Errorf("unexpected token %q", p.peek().text)
	}
	return Condition{root: root, src: src}, nil
}

// Eval evaluates the condition against a context map.
func (c Condition) Eval(ctx map[string]any) (bool, error) {
	if c.root == nil {
		return true, nil
	}
	v, err := c.root.eval(ctx)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", c.src, err)
	}
	return truthy(v), nil
}

// String returns the source expression.
func (c Condition) String() string { return c.src }

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenNumber
	tokenString
	tokenOp    // == != < <= > >=
	tokenAnd   // &&
	tokenOr    // ||
	tokenNot   // !
	tokenLParen
	tokenRParen
)

type token struct {
	kind tokenKind
	text string
}

func lex(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{tokenLParen, "("})
			i++
		case r == ')':
			tokens = append(tokens, token{tokenRParen, ")"})
			i++
		case r == '&':
			if i+1 >= len(runes) || runes[i+1] != '&' {
				return nil, fmt.Errorf("position %d: expected &&", i)
			}
			tokens = append(tokens, token{tokenAnd, "&&"})
			i += 2
		case r == '|':
			if i+1 >= len(runes) || runes[i+1] != '|' {
				return nil, fmt.Errorf("position %d: expected ||", i)
			}
			tokens = append(tokens, token{tokenOr, "||"})
			i += 2
		case r == '!':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{tokenOp, "!="})
				i += 2
			} else {
				tokens = append(tokens, token{tokenNot, "!"})
				i++
			}
		case r == '=':
			if i+1 >= len(runes) || runes[i+1] != '=' {
				return nil, fmt.Errorf("position %d: expected ==", i)
			}
			tokens = append(tokens, token{tokenOp, "=="})
			i += 2
		case r == '<' || r == '>':
			op := string(r)
			i++
			if i < len(runes) && runes[i] == '=' {
				op += "="
				i++
			}
			tokens = append(tokens, token{tokenOp, op})
		case r == '\'' || r == '"':
			quote := r
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("position %d: unterminated string", i)
			}
			tokens = append(tokens, token{tokenString, string(runes[i+1 : j])})
			i = j + 1
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokenNumber, string(runes[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_' || runes[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokenIdent, string(runes[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("position %d: unexpected character %q", i, r)
		}
	}
	return tokens, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) atEnd() bool { return p.pos >= len(p.tokens) }
func (p *parser) peek() token { return p.tokens[p.pos] }
func (p *parser) advance() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for !p.atEnd() && p.peek().kind == tokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &boolNode{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for !p.atEnd() && p.peek().kind == tokenAnd {
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &boolNode{op: "&&", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if !p.atEnd() && p.peek().kind == tokenNot {
		p.advance()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	if p.atEnd() {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	if p.peek().kind == tokenLParen {
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.atEnd() || p.peek().kind != tokenRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.advance()
		return inner, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() && p.peek().kind == tokenOp {
		op := p.advance().text
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &cmpNode{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseOperand() (node, error) {
	if p.atEnd() {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	t := p.advance()
	switch t.kind {
	case tokenIdent:
		switch t.text {
		case "true":
			return &literalNode{value: true}, nil
		case "false":
			return &literalNode{value: false}, nil
		}
		return &fieldNode{name: t.text}, nil
	case tokenNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", t.text)
		}
		return &literalNode{value: f}, nil
	case tokenString:
		return &literalNode{value: t.text}, nil
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

type node interface {
	eval(ctx map[string]any) (any, error)
}

type literalNode struct{ value any }

func (n *literalNode) eval(map[string]any) (any, error) { return n.value, nil }

type fieldNode struct{ name string }

func (n *fieldNode) eval(ctx map[string]any) (any, error) {
	return ctx[n.name], nil
}

type notNode struct{ inner node }

func (n *notNode) eval(ctx map[string]any) (any, error) {
	v, err := n.inner.eval(ctx)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

type boolNode struct {
	op          string
	left, right node
}

func (n *boolNode) eval(ctx map[string]any) (any, error) {
	lv, err := n.left.eval(ctx)
	if err != nil {
		return nil, err
	}
	if n.op == "&&" && !truthy(lv) {
		return false, nil
	}
	if n.op == "||" && truthy(lv) {
		return true, nil
	}
	rv, err := n.right.eval(ctx)
	if err != nil {
		return nil, err
	}
	return truthy(rv), nil
}

type cmpNode struct {
	op          string
	left, right node
}

func (n *cmpNode) eval(ctx map[string]any) (any, error) {
	lv, err := n.left.eval(ctx)
	if err != nil {
		return nil, err
	}
	rv, err := n.right.eval(ctx)
	if err != nil {
		return nil, err
	}

	lf, lok := toFloat(lv)
	rf, rok := toFloat(rv)
	if lok && rok {
		return compareFloats(n.op, lf, rf)
	}

	ls, rs := toString(lv), toString(rv)
	switch n.op {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case "<":
		return ls < rs, nil
	case "<=":
		return ls <= rs, nil
	case ">":
		return ls > rs, nil
	case ">=":
		return ls >= rs, nil
	default:
		return nil, fmt.Errorf("unknown operator %q", n.op)
	}
}

func compareFloats(op string, a, b float64) (any, error) {
	switch op {
	case "==":
		return a == b, nil
	case "!=":
		return a != b, nil
	case "<":
		return a < b, nil
	case "<=":
		return a <= b, nil
	case ">":
		return a > b, nil
	case ">=":
		return a >= b, nil
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	default:
		return 0, false
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	case []any:
		return len(x) > 0
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Map, reflect.Array:
			return rv.Len() > 0
		default:
			return true
		}
	}
}
