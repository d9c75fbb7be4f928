// Package expr implements the small expression language used by node
// properties: arithmetic, comparisons and boolean logic over literals and
// dotted field paths.
package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// -----------------------------------------------------------------------
// AST nodes
// -----------------------------------------------------------------------

// Expr is the common interface for all AST nodes.
type Expr interface {
	exprNode()
}

// LogicalExpr represents AND / OR.
type LogicalExpr struct {
	Op    string // "AND" | "OR"
	Left  Expr
	Right Expr
}

// NotExpr represents NOT <expr>.
type NotExpr struct {
	Expr Expr
}

// NegExpr represents unary minus.
type NegExpr struct {
	Expr Expr
}

// BinaryExpr is a comparison or arithmetic operation.
type BinaryExpr struct {
	Op    Operator
	Left  Expr
	Right Expr
}

// Literal holds a pre-parsed constant.
type Literal struct {
	Value any
}

// Field holds a dot-separated path like "inputs.value".
type Field struct {
	Path []string
}

func (*LogicalExpr) exprNode() {}
func (*NotExpr) exprNode()     {}
func (*NegExpr) exprNode()     {}
func (*BinaryExpr) exprNode()  {}
func (*Literal) exprNode()     {}
func (*Field) exprNode()       {}

// -----------------------------------------------------------------------
// Tokenizer
// -----------------------------------------------------------------------

type tokenKind int

const (
	tokWord   tokenKind = iota // identifier or keyword
	tokOp                      // comparison or arithmetic operator
	tokString                  // "…" or '…'
	tokNumber                  // 42 | 3.14
	tokBool                    // true | false
	tokNull                    // null
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	val  string
	pos  int
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		ch := src[i]
		if unicode.IsSpace(rune(ch)) {
			i++
			continue
		}
		switch ch {
		case '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
			continue
		case ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
			continue
		case '=', '!', '<', '>':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{tokOp, src[i : i+2], i})
				i += 2
				continue
			}
			if ch == '=' || ch == '!' {
				return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
			}
			tokens = append(tokens, token{tokOp, string(ch), i})
			i++
			continue
		case '+', '-', '*', '/', '%':
			// Unary minus is resolved by the parser.
			tokens = append(tokens, token{tokOp, string(ch), i})
			i++
			continue
		case '"', '\'':
			quote := ch
			j := i + 1
			var sb strings.Builder
			for j < len(src) && src[j] != quote {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				sb.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string starting at position %d", i)
			}
			tokens = append(tokens, token{tokString, sb.String(), i})
			i = j + 1
			continue
		}
		if unicode.IsDigit(rune(ch)) {
			j := i
			for j < len(src) && (unicode.IsDigit(rune(src[j])) || src[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, src[i:j], i})
			i = j
			continue
		}
		if unicode.IsLetter(rune(ch)) || ch == '_' {
			j := i
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j])) || src[j] == '_' || src[j] == '.') {
				j++
			}
			word := src[i:j]
			switch strings.ToLower(word) {
			case "true", "false":
				tokens = append(tokens, token{tokBool, strings.ToLower(word), i})
			case "null", "nil":
				tokens = append(tokens, token{tokNull, word, i})
			default:
				tokens = append(tokens, token{tokWord, word, i})
			}
			i = j
			continue
		}
		return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
	}
	tokens = append(tokens, token{tokEOF, "", len(src)})
	return tokens, nil
}

// -----------------------------------------------------------------------
// Recursive-descent parser
// -----------------------------------------------------------------------

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) consume() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	return t.kind == tokWord && strings.EqualFold(t.val, kw)
}

func (p *parser) op(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, o := range ops {
		if t.val == o {
			return o, true
		}
	}
	return "", false
}

// Parse parses an expression string into an AST.
func Parse(src string) (Expr, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected token %q at position %d", t.val, t.pos)
	}
	return node, nil
}

// MustParse is like Parse but panics on error.
func MustParse(src string) Expr {
	e, err := Parse(src)
	if err != nil {
		panic(fmt.Sprintf("expr: %v", err))
	}
	return e
}

// or_expr = and_expr ( "OR" and_expr )*
func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		p.consume()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &LogicalExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

// and_expr = not_expr ( "AND" not_expr )*
func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		p.consume()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &LogicalExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

// not_expr = "NOT" not_expr | comparison
func (p *parser) parseNot() (Expr, error) {
	if p.keyword("NOT") {
		p.consume()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Expr: inner}, nil
	}
	return p.parseComparison()
}

// comparison = sum [ cmp_op sum ]
func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}

	var op Operator
	switch {
	case p.peek().kind == tokOp:
		o, ok := p.op("==", "!=", ">", ">=", "<", "<=")
		if !ok {
			return left, nil
		}
		op = Operator(o)
	case p.keyword("contains"):
		op = OpContains
	case p.keyword("matches"):
		op = OpMatches
	default:
		return left, nil
	}
	p.consume()

	right, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{Op: op, Left: left, Right: right}, nil
}

// sum = term ( ("+" | "-") term )*
func (p *parser) parseSum() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		o, ok := p.op("+", "-")
		if !ok {
			return left, nil
		}
		p.consume()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: Operator(o), Left: left, Right: right}
	}
}

// term = unary ( ("*" | "/" | "%") unary )*
func (p *parser) parseTerm() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		o, ok := p.op("*", "/", "%")
		if !ok {
			return left, nil
		}
		p.consume()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: Operator(o), Left: left, Right: right}
	}
}

// unary = "-" unary | primary
func (p *parser) parseUnary() (Expr, error) {
	if _, ok := p.op("-"); ok {
		p.consume()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if lit, ok := inner.(*Literal); ok {
			if f, ok := lit.Value.(float64); ok {
				return &Literal{Value: -f}, nil
			}
		}
		return &NegExpr{Expr: inner}, nil
	}
	return p.parsePrimary()
}

// primary = literal | field_path | "(" or_expr ")"
func (p *parser) parsePrimary() (Expr, error) {
	t := p.peek()
	switch t.kind {
	case tokLParen:
		p.consume()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("expected \")\" at position %d, got %q", p.peek().pos, p.peek().val)
		}
		p.consume()
		return inner, nil
	case tokString:
		p.consume()
		return &Literal{Value: t.val}, nil
	case tokNumber:
		p.consume()
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.val)
		}
		return &Literal{Value: f}, nil
	case tokBool:
		p.consume()
		return &Literal{Value: t.val == "true"}, nil
	case tokNull:
		p.consume()
		return &Literal{Value: nil}, nil
	case tokWord:
		switch strings.ToUpper(t.val) {
		case "AND", "OR", "NOT":
			return nil, fmt.Errorf("expected operand at position %d, got keyword %q", t.pos, t.val)
		}
		p.consume()
		return &Field{Path: strings.Split(t.val, ".")}, nil
	default:
		return nil, fmt.Errorf("expected operand at position %d, got %q", t.pos, t.val)
	}
}
