package xquery

import (
	"context"

	"github.com/roach88/xcore/internal/xdm"
)

// LetExpr is "let $v [as T] := Input [where W] return R". The variable is
// bound to the whole input sequence and Return runs once, or not at all
// when the where filter is false.
type LetExpr struct {
	bindingBase
}

// NewLet creates a let expression. typ may be nil.
func NewLet(name string, typ *xdm.SequenceType, input, ret Expression) *LetExpr {
	l := &LetExpr{}
	l.Var = normalizeName(name)
	l.Type = typ
	l.Input = input
	l.Return = ret
	return l
}

// WithWhere sets the where filter and returns l.
func (l *LetExpr) WithWhere(where Expression) *LetExpr {
	l.Where = where
	return l
}

func (l *LetExpr) Analyze(ec *Context) error { return l.analyzeBinding(ec) }

func (l *LetExpr) Eval(ctx context.Context, ec *Context, contextSeq xdm.Sequence, contextItem xdm.Item) (xdm.Sequence, error) {
	in, err := l.evalInput(ctx, ec, contextSeq, contextItem)
	if err != nil {
		return nil, err
	}

	mark := ec.MarkLocalVariables()
	defer ec.PopLocalVariables(mark)

	v := NewLocalVariable(l.Var, l.Type)
	ec.DeclareVariable(v)
	v.SetValue(in)
	if err := v.CheckType(); err != nil {
		return nil, err
	}
	if in.IsPersistentSet() {
		l.registerUpdateListener(ec, in)
	}

	if l.Where != nil {
		ok, err := l.whereHolds(ctx, ec, contextItem)
		if err != nil {
			return nil, err
		}
		if !ok {
			return xdm.Empty, nil
		}
	}
	return l.Return.Eval(ctx, ec, contextSeq, contextItem)
}

func (l *LetExpr) ReturnsType() xdm.Type    { return l.bindingReturnsType() }
func (l *LetExpr) Dependencies() Dependency { return l.bindingDependencies() }

func (l *LetExpr) Dump(d *Dumper) {
	d.Display("let $" + l.Var)
	if l.Type != nil {
		d.Display(" as " + l.Type.String())
	}
	d.Display(" := ")
	l.Input.Dump(d)
	d.NL()
	if l.Where != nil {
		d.Display("where")
		d.StartIndent()
		l.Where.Dump(d)
		d.EndIndent().NL()
	}
	d.Display("return")
	d.StartIndent()
	l.Return.Dump(d)
	d.EndIndent()
}
