package xquery

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/roach88/xcore/internal/xdm"
	"github.com/roach88/xcore/internal/xerr"
)

// The query grammar covers selection paths and the binding expressions:
//
//	Expr       = ExprSingle { "," ExprSingle }
//	ExprSingle = For | Let | Quantified | Or
//	For        = "for" Var [ "as" SeqType ] [ "at" Var ] "in" ExprSingle [ "where" ExprSingle ] "return" ExprSingle
//	Let        = "let" Var [ "as" SeqType ] ":=" ExprSingle [ "where" ExprSingle ] "return" ExprSingle
//	Quantified = ( "some" | "every" ) Var [ "as" SeqType ] "in" ExprSingle "satisfies" ExprSingle
//	Or         = And { "or" And }
//	And        = Comparison { "and" Comparison }
//	Comparison = Primary [ CompOp Primary ]
//	Primary    = Literal | Var [ Steps ] | "(" [ Expr ] ")" | Name "(" [ Args ] ")" | Path | "."
//	Path       = [ "doc(" Integer ")" ] ( "/" | "//" ) Steps | Steps
//	Step       = ( Name | "*" | "@" Name | "text()" | "node()" | "." ) { "[" Predicate "]" }
//	Predicate  = ( "@" Name | Name | "." ) [ CompOp Literal ]

// =============================================================================
// Lexer
// =============================================================================

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokName
	tokVar
	tokString
	tokInteger
	tokSymbol
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// symbols is ordered longest first.
var symbols = []string{"//", "!=", "<=", ">=", ":=", "/", "@", "[", "]", "(", ")", ",", ".", "=", "<", ">", "*", "?", "+"}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '\'' || r == '"':
			s, n, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: s, pos: i})
			i += n
		case r >= '0' && r <= '9':
			j := i
			for j < len(src) && src[j] >= '0' && src[j] <= '9' {
				j++
			}
			toks = append(toks, token{kind: tokInteger, text: src[i:j], pos: i})
			i = j
		case r == '$':
			j := scanName(src, i+1)
			if j == i+1 {
				return nil, syntaxError(i, "expected variable name after $")
			}
			toks = append(toks, token{kind: tokVar, text: src[i+1 : j], pos: i})
			i = j
		case isNameStart(r):
			j := scanName(src, i)
			toks = append(toks, token{kind: tokName, text: src[i:j], pos: i})
			i = j
		default:
			matched := false
			for _, sym := range symbols {
				if strings.HasPrefix(src[i:], sym) {
					toks = append(toks, token{kind: tokSymbol, text: sym, pos: i})
					i += len(sym)
					matched = true
					break
				}
			}
			if !matched {
				return nil, syntaxError(i, "unexpected character %q", r)
			}
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		if src[i] == quote {
			if i+1 < len(src) && src[i+1] == quote {
				b.WriteByte(quote)
				i += 2
				continue
			}
			return b.String(), i + 1 - start, nil
		}
		b.WriteByte(src[i])
		i++
	}
	return "", 0, syntaxError(start, "unterminated string literal")
}

func isNameStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

// scanName returns the end of the name starting at i. Names may contain
// letters, digits, '_', '-', '.' and one prefix separator ':'.
func scanName(src string, i int) int {
	j := i
	for j < len(src) {
		r, size := utf8.DecodeRuneInString(src[j:])
		switch {
		case j == i && !isNameStart(r):
			return j
		case isNameStart(r) || unicode.IsDigit(r) || r == '-' || r == '.':
		case r == ':' && j+1 < len(src) && src[j+1] != '=' && src[j+1] != ':':
		default:
			return j
		}
		j += size
	}
	return j
}

func syntaxError(pos int, format string, args ...any) error {
	return xerr.New(xerr.KindEvaluation, "syntax error at offset %d: %s", pos, fmt.Sprintf(format, args...))
}

// =============================================================================
// Parser
// =============================================================================

type parser struct {
	toks []token
	pos  int
}

// parse builds a fresh expression tree from a token stream.
func parse(toks []token) (Expression, error) {
	p := &parser{toks: toks}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, syntaxError(t.pos, "unexpected %q", t.text)
	}
	return e, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isSymbol(s string) bool {
	t := p.peek()
	return t.kind == tokSymbol && t.text == s
}

func (p *parser) acceptSymbol(s string) bool {
	if p.isSymbol(s) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectSymbol(s string) error {
	if !p.acceptSymbol(s) {
		t := p.peek()
		return syntaxError(t.pos, "expected %q, found %q", s, t.text)
	}
	return nil
}

func (p *parser) isKeyword(k string) bool {
	t := p.peek()
	return t.kind == tokName && t.text == k
}

func (p *parser) acceptKeyword(k string) bool {
	if p.isKeyword(k) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectKeyword(k string) error {
	if !p.acceptKeyword(k) {
		t := p.peek()
		return syntaxError(t.pos, "expected %q, found %q", k, t.text)
	}
	return nil
}

func (p *parser) expectVar() (string, error) {
	t := p.next()
	if t.kind != tokVar {
		return "", syntaxError(t.pos, "expected a variable, found %q", t.text)
	}
	return t.text, nil
}

func (p *parser) parseExpr() (Expression, error) {
	first, err := p.parseExprSingle()
	if err != nil {
		return nil, err
	}
	if !p.isSymbol(",") {
		return first, nil
	}
	items := []Expression{first}
	for p.acceptSymbol(",") {
		e, err := p.parseExprSingle()
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return &SequenceExpr{Items: items}, nil
}

func (p *parser) parseExprSingle() (Expression, error) {
	if p.peekAt(1).kind == tokVar {
		switch p.peek().text {
		case "for", "let":
			if p.peek().kind == tokName {
				return p.parseBinding()
			}
		case "some", "every":
			if p.peek().kind == tokName {
				return p.parseQuantified()
			}
		}
	}
	return p.parseOr()
}

func (p *parser) parseBinding() (Expression, error) {
	kw := p.next().text
	name, err := p.expectVar()
	if err != nil {
		return nil, err
	}
	typ, err := p.parseOptionalType()
	if err != nil {
		return nil, err
	}

	var posVar string
	if kw == "for" {
		if p.acceptKeyword("at") {
			if posVar, err = p.expectVar(); err != nil {
				return nil, err
			}
		}
		err = p.expectKeyword("in")
	} else {
		err = p.expectSymbol(":=")
	}
	if err != nil {
		return nil, err
	}

	input, err := p.parseExprSingle()
	if err != nil {
		return nil, err
	}
	var where Expression
	if p.acceptKeyword("where") {
		if where, err = p.parseExprSingle(); err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("return"); err != nil {
		return nil, err
	}
	ret, err := p.parseExprSingle()
	if err != nil {
		return nil, err
	}

	if kw == "let" {
		return NewLet(name, typ, input, ret).WithWhere(where), nil
	}
	f := NewFor(name, typ, input, ret).WithWhere(where)
	if posVar != "" {
		f.WithPosition(posVar)
	}
	return f, nil
}

func (p *parser) parseQuantified() (Expression, error) {
	mode := Some
	if p.next().text == "every" {
		mode = Every
	}
	name, err := p.expectVar()
	if err != nil {
		return nil, err
	}
	typ, err := p.parseOptionalType()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("in"); err != nil {
		return nil, err
	}
	input, err := p.parseExprSingle()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("satisfies"); err != nil {
		return nil, err
	}
	satisfies, err := p.parseExprSingle()
	if err != nil {
		return nil, err
	}
	return NewQuantified(mode, name, typ, input, satisfies), nil
}

var sequenceItemTypes = map[string]xdm.Type{
	"item":       xdm.TypeItem,
	"node":       xdm.TypeNode,
	"element":    xdm.TypeElement,
	"attribute":  xdm.TypeAttribute,
	"text":       xdm.TypeText,
	"xs:string":  xdm.TypeString,
	"xs:integer": xdm.TypeInteger,
	"xs:boolean": xdm.TypeBoolean,
}

func (p *parser) parseOptionalType() (*xdm.SequenceType, error) {
	if !p.acceptKeyword("as") {
		return nil, nil
	}
	t := p.next()
	typ, ok := sequenceItemTypes[t.text]
	if t.kind != tokName || !ok {
		return nil, syntaxError(t.pos, "unknown type %q", t.text)
	}
	if !strings.HasPrefix(t.text, "xs:") {
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	}
	card := xdm.ExactlyOne
	switch {
	case p.acceptSymbol("?"):
		card = xdm.ZeroOrOne
	case p.acceptSymbol("*"):
		card = xdm.ZeroOrMore
	case p.acceptSymbol("+"):
		card = xdm.OneOrMore
	}
	return xdm.NewSequenceType(typ, card), nil
}

func (p *parser) parseOr() (Expression, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	ops := []Expression{first}
	for p.acceptKeyword("or") {
		e, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		ops = append(ops, e)
	}
	if len(ops) == 1 {
		return first, nil
	}
	return NewOr(ops...), nil
}

func (p *parser) parseAnd() (Expression, error) {
	first, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	ops := []Expression{first}
	for p.acceptKeyword("and") {
		e, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		ops = append(ops, e)
	}
	if len(ops) == 1 {
		return first, nil
	}
	return NewAnd(ops...), nil
}

func (p *parser) compareOp() (CompareOp, bool) {
	t := p.peek()
	if t.kind != tokSymbol {
		return "", false
	}
	switch op := CompareOp(t.text); op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		p.pos++
		return op, true
	}
	return "", false
}

func (p *parser) parseComparison() (Expression, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	op, ok := p.compareOp()
	if !ok {
		return left, nil
	}
	right, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return NewCompare(left, op, right), nil
}

func (p *parser) parsePrimary() (Expression, error) {
	t := p.peek()
	switch t.kind {
	case tokString:
		p.next()
		return NewLiteral(xdm.String(t.text)), nil
	case tokInteger:
		p.next()
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, syntaxError(t.pos, "integer %s out of range", t.text)
		}
		return NewLiteral(xdm.Integer(n)), nil
	case tokVar:
		p.next()
		ref := NewVarRef(t.text)
		if p.isSymbol("/") || p.isSymbol("//") {
			steps, err := p.parseSteps(false)
			if err != nil {
				return nil, err
			}
			return &PathExpr{Start: ref, Steps: steps}, nil
		}
		return ref, nil
	case tokSymbol:
		switch t.text {
		case "(":
			p.next()
			if p.acceptSymbol(")") {
				return &SequenceExpr{}, nil
			}
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			return e, nil
		case "/", "//":
			steps, err := p.parseSteps(false)
			if err != nil {
				return nil, err
			}
			return &PathExpr{Absolute: true, Steps: steps}, nil
		case ".":
			next := p.peekAt(1)
			if next.kind != tokSymbol || (next.text != "/" && next.text != "//" && next.text != "[") {
				p.next()
				return &ContextItemExpr{}, nil
			}
		}
	case tokName:
		if p.peekAt(1).kind == tokSymbol && p.peekAt(1).text == "(" {
			switch t.text {
			case "doc":
				return p.parseDocPath()
			case "text", "node":
			default:
				return p.parseFuncCall()
			}
		}
	case tokEOF:
		return nil, syntaxError(t.pos, "unexpected end of query")
	}

	steps, err := p.parseSteps(true)
	if err != nil {
		return nil, err
	}
	return &PathExpr{Steps: steps}, nil
}

func (p *parser) parseDocPath() (Expression, error) {
	p.next()
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	t := p.next()
	if t.kind != tokInteger {
		return nil, syntaxError(t.pos, "doc() expects a document id")
	}
	id, err := strconv.ParseInt(t.text, 10, 64)
	if err != nil || id <= 0 {
		return nil, syntaxError(t.pos, "invalid document id %s", t.text)
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	if !p.isSymbol("/") && !p.isSymbol("//") {
		return nil, syntaxError(p.peek().pos, "doc(%d) must be followed by a path", id)
	}
	steps, err := p.parseSteps(false)
	if err != nil {
		return nil, err
	}
	return &PathExpr{Absolute: true, DocID: id, Steps: steps}, nil
}

func (p *parser) parseFuncCall() (Expression, error) {
	name := p.next().text
	p.next()
	var args []Expression
	if !p.acceptSymbol(")") {
		for {
			a, err := p.parseExprSingle()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.acceptSymbol(")") {
				break
			}
			if err := p.expectSymbol(","); err != nil {
				return nil, err
			}
		}
	}
	return NewFuncCall(name, args...), nil
}

// parseSteps reads location steps. A relative path starts directly with a
// step; otherwise every step is preceded by "/" or "//".
func (p *parser) parseSteps(relative bool) ([]*Step, error) {
	var steps []*Step
	first := true
	for {
		axis := AxisChild
		switch {
		case first && relative:
		case p.acceptSymbol("/"):
		case p.acceptSymbol("//"):
			axis = AxisDescendant
		default:
			return steps, nil
		}
		first = false
		step, err := p.parseStep(axis)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
}

func (p *parser) parseStep(axis Axis) (*Step, error) {
	step := &Step{Axis: axis}
	t := p.peek()
	switch {
	case p.acceptSymbol("@"):
		if axis == AxisDescendant {
			return nil, syntaxError(t.pos, "attribute step cannot follow //")
		}
		name, err := p.nameOrWildcard()
		if err != nil {
			return nil, err
		}
		step.Axis = AxisAttribute
		step.Test = NodeTest{Kind: xdm.TypeAttribute, Name: name}
	case p.acceptSymbol("."):
		step.Axis = AxisSelf
		step.Test = NodeTest{Kind: xdm.TypeNode}
	case p.isKeyword("text") && p.peekAt(1).text == "(":
		p.pos += 2
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		step.Test = NodeTest{Kind: xdm.TypeText}
	case p.isKeyword("node") && p.peekAt(1).text == "(":
		p.pos += 2
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		step.Test = NodeTest{Kind: xdm.TypeNode}
	default:
		name, err := p.nameOrWildcard()
		if err != nil {
			return nil, err
		}
		step.Test = NodeTest{Kind: xdm.TypeElement, Name: name}
	}

	for p.acceptSymbol("[") {
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		step.Predicates = append(step.Predicates, pred)
		if err := p.expectSymbol("]"); err != nil {
			return nil, err
		}
	}
	return step, nil
}

func (p *parser) nameOrWildcard() (string, error) {
	if p.acceptSymbol("*") {
		return "*", nil
	}
	t := p.next()
	if t.kind != tokName {
		return "", syntaxError(t.pos, "expected a name, found %q", t.text)
	}
	return normalizeName(t.text), nil
}

func (p *parser) parsePredicate() (Predicate, error) {
	switch {
	case p.acceptSymbol("@"):
		name, err := p.nameOrWildcard()
		if err != nil {
			return nil, err
		}
		op, value, err := p.parsePredicateValue(false)
		if err != nil {
			return nil, err
		}
		return AttrPredicate{Name: name, Op: op, Value: value}, nil
	case p.acceptSymbol("."):
		op, value, err := p.parsePredicateValue(true)
		if err != nil {
			return nil, err
		}
		return SelfPredicate{Op: op, Value: value}, nil
	default:
		name, err := p.nameOrWildcard()
		if err != nil {
			return nil, err
		}
		op, value, err := p.parsePredicateValue(false)
		if err != nil {
			return nil, err
		}
		return ChildPredicate{Name: name, Op: op, Value: value}, nil
	}
}

func (p *parser) parsePredicateValue(required bool) (CompareOp, string, error) {
	op, ok := p.compareOp()
	if !ok {
		if required {
			return "", "", syntaxError(p.peek().pos, "expected a comparison")
		}
		return "", "", nil
	}
	t := p.next()
	if t.kind != tokString && t.kind != tokInteger {
		return "", "", syntaxError(t.pos, "expected a literal, found %q", t.text)
	}
	return op, t.text, nil
}
