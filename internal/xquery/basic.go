package xquery

import (
	"context"
	"strconv"
	"strings"

	"github.com/roach88/xcore/internal/xdm"
	"github.com/roach88/xcore/internal/xerr"
)

// =============================================================================
// Literal
// =============================================================================

// Literal is a constant sequence.
type Literal struct {
	exprBase
	Value xdm.Sequence
}

// NewLiteral wraps items as a constant.
func NewLiteral(items ...xdm.Item) *Literal {
	return &Literal{Value: xdm.NewValueSequence(items...)}
}

func (l *Literal) Analyze(*Context) error { return nil }

func (l *Literal) Eval(context.Context, *Context, xdm.Sequence, xdm.Item) (xdm.Sequence, error) {
	return l.Value, nil
}

func (l *Literal) ReturnsType() xdm.Type    { return l.Value.ItemType() }
func (l *Literal) Dependencies() Dependency { return 0 }
func (l *Literal) SetContextID(id int)      { l.contextID = id }

func (l *Literal) Dump(d *Dumper) {
	if l.Value.Len() != 1 {
		d.Display("(")
	}
	for i := 0; i < l.Value.Len(); i++ {
		if i > 0 {
			d.Display(", ")
		}
		d.Display(literalSyntax(l.Value.ItemAt(i)))
	}
	if l.Value.Len() != 1 {
		d.Display(")")
	}
}

func literalSyntax(item xdm.Item) string {
	switch v := item.(type) {
	case xdm.String:
		return "'" + strings.ReplaceAll(string(v), "'", "''") + "'"
	case xdm.Boolean:
		return v.StringValue() + "()"
	default:
		return item.StringValue()
	}
}

// =============================================================================
// Variable reference
// =============================================================================

// VarRef reads a variable.
type VarRef struct {
	exprBase
	Name string
	typ  xdm.Type
}

// NewVarRef references $name.
func NewVarRef(name string) *VarRef {
	return &VarRef{Name: normalizeName(name), typ: xdm.TypeItem}
}

func (v *VarRef) Analyze(ec *Context) error {
	decl, err := ec.ResolveVariable(v.Name)
	if err != nil {
		return err
	}
	if decl.Type != nil {
		v.typ = decl.Type.Primary
	}
	return nil
}

func (v *VarRef) Eval(_ context.Context, ec *Context, _ xdm.Sequence, _ xdm.Item) (xdm.Sequence, error) {
	decl, err := ec.ResolveVariable(v.Name)
	if err != nil {
		return nil, err
	}
	return decl.Value(), nil
}

func (v *VarRef) ReturnsType() xdm.Type    { return v.typ }
func (v *VarRef) Dependencies() Dependency { return DepLocalVars }
func (v *VarRef) SetContextID(id int)      { v.contextID = id }
func (v *VarRef) Dump(d *Dumper)           { d.Display("$" + v.Name) }

// =============================================================================
// Context item
// =============================================================================

// ContextItemExpr is ".".
type ContextItemExpr struct {
	exprBase
}

func (c *ContextItemExpr) Analyze(*Context) error { return nil }

func (c *ContextItemExpr) Eval(_ context.Context, _ *Context, contextSeq xdm.Sequence, contextItem xdm.Item) (xdm.Sequence, error) {
	seq := focus(contextSeq, contextItem)
	if seq == nil {
		return nil, xerr.New(xerr.KindEvaluation, "context item is undefined")
	}
	return seq, nil
}

func (c *ContextItemExpr) ReturnsType() xdm.Type    { return xdm.TypeItem }
func (c *ContextItemExpr) Dependencies() Dependency { return DepContextItem | DepContextSet }
func (c *ContextItemExpr) SetContextID(id int)      { c.contextID = id }
func (c *ContextItemExpr) Dump(d *Dumper)           { d.Display(".") }

// =============================================================================
// Sequence constructor
// =============================================================================

// SequenceExpr concatenates its operands: (a, b, c).
type SequenceExpr struct {
	exprBase
	Items []Expression
}

func (s *SequenceExpr) Analyze(ec *Context) error {
	for _, e := range s.Items {
		if err := e.Analyze(ec); err != nil {
			return err
		}
	}
	return nil
}

func (s *SequenceExpr) Eval(ctx context.Context, ec *Context, contextSeq xdm.Sequence, contextItem xdm.Item) (xdm.Sequence, error) {
	out := xdm.NewValueSequence()
	for _, e := range s.Items {
		seq, err := e.Eval(ctx, ec, contextSeq, contextItem)
		if err != nil {
			return nil, err
		}
		out.AddAll(seq)
	}
	return out, nil
}

func (s *SequenceExpr) ReturnsType() xdm.Type {
	if len(s.Items) == 0 {
		return xdm.TypeEmpty
	}
	t := s.Items[0].ReturnsType()
	for _, e := range s.Items[1:] {
		t = xdm.CommonSupertype(t, e.ReturnsType())
	}
	return t
}

func (s *SequenceExpr) Dependencies() Dependency {
	var dep Dependency
	for _, e := range s.Items {
		dep |= e.Dependencies()
	}
	return dep
}

func (s *SequenceExpr) SetContextID(id int) {
	s.contextID = id
	for _, e := range s.Items {
		e.SetContextID(id)
	}
}

func (s *SequenceExpr) Dump(d *Dumper) {
	d.Display("(")
	for i, e := range s.Items {
		if i > 0 {
			d.Display(", ")
		}
		e.Dump(d)
	}
	d.Display(")")
}

// =============================================================================
// General comparison
// =============================================================================

// CompareOp is a general comparison operator.
type CompareOp string

const (
	OpEq CompareOp = "="
	OpNe CompareOp = "!="
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
)

// Compare is an existential general comparison: true if any pair of
// atomized operand items satisfies Op. Items compare as integers when
// both parse as integers, otherwise as strings.
type Compare struct {
	exprBase
	Op          CompareOp
	Left, Right Expression
}

// NewCompare creates left op right.
func NewCompare(left Expression, op CompareOp, right Expression) *Compare {
	return &Compare{Op: op, Left: left, Right: right}
}

func (c *Compare) Analyze(ec *Context) error {
	switch c.Op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
	default:
		return xerr.New(xerr.KindEvaluation, "unknown comparison operator %q", c.Op)
	}
	if err := c.Left.Analyze(ec); err != nil {
		return err
	}
	return c.Right.Analyze(ec)
}

func (c *Compare) Eval(ctx context.Context, ec *Context, contextSeq xdm.Sequence, contextItem xdm.Item) (xdm.Sequence, error) {
	left, err := c.Left.Eval(ctx, ec, contextSeq, contextItem)
	if err != nil {
		return nil, err
	}
	right, err := c.Right.Eval(ctx, ec, contextSeq, contextItem)
	if err != nil {
		return nil, err
	}
	for i := 0; i < left.Len(); i++ {
		a := left.ItemAt(i).StringValue()
		for j := 0; j < right.Len(); j++ {
			if c.holds(compareValues(a, right.ItemAt(j).StringValue())) {
				return xdm.Single(xdm.True), nil
			}
		}
	}
	return xdm.Single(xdm.False), nil
}

func (c *Compare) holds(cmp int) bool {
	switch c.Op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	default:
		return cmp >= 0
	}
}

func compareValues(a, b string) int {
	ai, errA := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
	bi, errB := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
	if errA == nil && errB == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

func (c *Compare) ReturnsType() xdm.Type { return xdm.TypeBoolean }

func (c *Compare) Dependencies() Dependency {
	return c.Left.Dependencies() | c.Right.Dependencies()
}

func (c *Compare) SetContextID(id int) {
	c.contextID = id
	c.Left.SetContextID(id)
	c.Right.SetContextID(id)
}

func (c *Compare) Dump(d *Dumper) {
	c.Left.Dump(d)
	d.Display(" " + string(c.Op) + " ")
	c.Right.Dump(d)
}

// =============================================================================
// Logical and / or
// =============================================================================

// Logical is a short-circuit "and" or "or" over effective boolean values.
type Logical struct {
	exprBase
	And      bool
	Operands []Expression
}

// NewAnd creates a conjunction.
func NewAnd(ops ...Expression) *Logical { return &Logical{And: true, Operands: ops} }

// NewOr creates a disjunction.
func NewOr(ops ...Expression) *Logical { return &Logical{Operands: ops} }

func (l *Logical) Analyze(ec *Context) error {
	for _, e := range l.Operands {
		if err := e.Analyze(ec); err != nil {
			return err
		}
	}
	return nil
}

func (l *Logical) Eval(ctx context.Context, ec *Context, contextSeq xdm.Sequence, contextItem xdm.Item) (xdm.Sequence, error) {
	for _, e := range l.Operands {
		seq, err := e.Eval(ctx, ec, contextSeq, contextItem)
		if err != nil {
			return nil, err
		}
		b, err := xdm.EffectiveBooleanValue(seq)
		if err != nil {
			return nil, err
		}
		if b != l.And {
			return xdm.Single(xdm.Boolean(b)), nil
		}
	}
	return xdm.Single(xdm.Boolean(l.And)), nil
}

func (l *Logical) ReturnsType() xdm.Type { return xdm.TypeBoolean }

func (l *Logical) Dependencies() Dependency {
	var dep Dependency
	for _, e := range l.Operands {
		dep |= e.Dependencies()
	}
	return dep
}

func (l *Logical) SetContextID(id int) {
	l.contextID = id
	for _, e := range l.Operands {
		e.SetContextID(id)
	}
}

func (l *Logical) Dump(d *Dumper) {
	op := " or "
	if l.And {
		op = " and "
	}
	for i, e := range l.Operands {
		if i > 0 {
			d.Display(op)
		}
		e.Dump(d)
	}
}

// =============================================================================
// Function call
// =============================================================================

// FuncCall invokes a function registered on the evaluation context.
type FuncCall struct {
	exprBase
	Name    string
	Args    []Expression
	Returns xdm.Type
}

// NewFuncCall creates name(args...). The static return type defaults to
// the built-in's type, or item() for unknown functions.
func NewFuncCall(name string, args ...Expression) *FuncCall {
	ret, ok := builtinReturnTypes[name]
	if !ok {
		ret = xdm.TypeItem
	}
	return &FuncCall{Name: name, Args: args, Returns: ret}
}

func (f *FuncCall) Analyze(ec *Context) error {
	if _, ok := ec.functions[f.Name]; !ok {
		return xerr.New(xerr.KindEvaluation, "unknown function %s()", f.Name)
	}
	for _, a := range f.Args {
		if err := a.Analyze(ec); err != nil {
			return err
		}
	}
	return nil
}

func (f *FuncCall) Eval(ctx context.Context, ec *Context, contextSeq xdm.Sequence, contextItem xdm.Item) (xdm.Sequence, error) {
	fn, ok := ec.functions[f.Name]
	if !ok {
		return nil, xerr.New(xerr.KindEvaluation, "unknown function %s()", f.Name)
	}
	args := make([]xdm.Sequence, len(f.Args))
	for i, a := range f.Args {
		seq, err := a.Eval(ctx, ec, contextSeq, contextItem)
		if err != nil {
			return nil, err
		}
		args[i] = seq
	}
	return fn(ctx, ec, args)
}

func (f *FuncCall) ReturnsType() xdm.Type { return f.Returns }

func (f *FuncCall) Dependencies() Dependency {
	var dep Dependency
	for _, a := range f.Args {
		dep |= a.Dependencies()
	}
	return dep
}

func (f *FuncCall) SetContextID(id int) {
	f.contextID = id
	for _, a := range f.Args {
		a.SetContextID(id)
	}
}

func (f *FuncCall) Dump(d *Dumper) {
	d.Display(f.Name + "(")
	for i, a := range f.Args {
		if i > 0 {
			d.Display(", ")
		}
		a.Dump(d)
	}
	d.Display(")")
}

var builtinReturnTypes = map[string]xdm.Type{
	"true":   xdm.TypeBoolean,
	"false":  xdm.TypeBoolean,
	"not":    xdm.TypeBoolean,
	"exists": xdm.TypeBoolean,
	"empty":  xdm.TypeBoolean,
	"count":  xdm.TypeInteger,
	"string": xdm.TypeString,
}

func builtinFunctions() map[string]Function {
	arity := func(name string, n int, fn Function) Function {
		return func(ctx context.Context, ec *Context, args []xdm.Sequence) (xdm.Sequence, error) {
			if len(args) != n {
				return nil, xerr.New(xerr.KindEvaluation, "%s() takes %d argument(s), got %d", name, n, len(args))
			}
			return fn(ctx, ec, args)
		}
	}
	boolean := func(b bool) xdm.Sequence { return xdm.Single(xdm.Boolean(b)) }

	return map[string]Function{
		"true": arity("true", 0, func(context.Context, *Context, []xdm.Sequence) (xdm.Sequence, error) {
			return boolean(true), nil
		}),
		"false": arity("false", 0, func(context.Context, *Context, []xdm.Sequence) (xdm.Sequence, error) {
			return boolean(false), nil
		}),
		"not": arity("not", 1, func(_ context.Context, _ *Context, args []xdm.Sequence) (xdm.Sequence, error) {
			b, err := xdm.EffectiveBooleanValue(args[0])
			if err != nil {
				return nil, err
			}
			return boolean(!b), nil
		}),
		"exists": arity("exists", 1, func(_ context.Context, _ *Context, args []xdm.Sequence) (xdm.Sequence, error) {
			return boolean(args[0].Len() > 0), nil
		}),
		"empty": arity("empty", 1, func(_ context.Context, _ *Context, args []xdm.Sequence) (xdm.Sequence, error) {
			return boolean(args[0].Len() == 0), nil
		}),
		"count": arity("count", 1, func(_ context.Context, _ *Context, args []xdm.Sequence) (xdm.Sequence, error) {
			return xdm.Single(xdm.Integer(args[0].Len())), nil
		}),
		"string": arity("string", 1, func(_ context.Context, _ *Context, args []xdm.Sequence) (xdm.Sequence, error) {
			switch args[0].Len() {
			case 0:
				return xdm.Single(xdm.String("")), nil
			case 1:
				return xdm.Single(xdm.String(args[0].ItemAt(0).StringValue())), nil
			default:
				return nil, xerr.New(xerr.KindTypeMismatch, "string() expects at most one item, got %d", args[0].Len())
			}
		}),
	}
}
