package xquery

import (
	"context"

	"github.com/roach88/xcore/internal/xdm"
)

// Quantifier selects some or every.
type Quantifier int

const (
	Some Quantifier = iota + 1
	Every
)

func (q Quantifier) String() string {
	if q == Every {
		return "every"
	}
	return "some"
}

// QuantifiedExpr is "some|every $v [as T] in Input satisfies S".
//
// The result starts false for some and true for every. Each item is bound
// and type-checked before S runs; iteration stops at the first item that
// decides the result. An empty input returns the seed without evaluating S.
type QuantifiedExpr struct {
	bindingBase
	Mode Quantifier
}

// NewQuantified creates a quantified expression. typ may be nil.
func NewQuantified(mode Quantifier, name string, typ *xdm.SequenceType, input, satisfies Expression) *QuantifiedExpr {
	q := &QuantifiedExpr{Mode: mode}
	q.Var = normalizeName(name)
	q.Type = typ
	q.Input = input
	q.Return = satisfies
	return q
}

func (q *QuantifiedExpr) Analyze(ec *Context) error { return q.analyzeBinding(ec) }

func (q *QuantifiedExpr) Eval(ctx context.Context, ec *Context, contextSeq xdm.Sequence, contextItem xdm.Item) (xdm.Sequence, error) {
	if contextItem != nil {
		contextSeq = xdm.Single(contextItem)
	}
	in, err := q.evalInput(ctx, ec, contextSeq, nil)
	if err != nil {
		return nil, err
	}

	mark := ec.MarkLocalVariables()
	defer ec.PopLocalVariables(mark)

	v := NewLocalVariable(q.Var, q.Type)
	ec.DeclareVariable(v)

	found := q.Mode == Every
	for i := 0; i < in.Len(); i++ {
		v.SetValue(xdm.Single(in.ItemAt(i)))
		if err := v.CheckType(); err != nil {
			return nil, err
		}
		seq, err := q.Return.Eval(ctx, ec, contextSeq, nil)
		if err != nil {
			return nil, err
		}
		if found, err = xdm.EffectiveBooleanValue(seq); err != nil {
			return nil, err
		}
		if found == (q.Mode == Some) {
			break
		}
	}
	return xdm.Single(xdm.Boolean(found)), nil
}

func (q *QuantifiedExpr) ReturnsType() xdm.Type    { return xdm.TypeBoolean }
func (q *QuantifiedExpr) Dependencies() Dependency { return q.bindingDependencies() }

func (q *QuantifiedExpr) Dump(d *Dumper) {
	d.Display(q.Mode.String() + " $" + q.Var)
	if q.Type != nil {
		d.Display(" as " + q.Type.String())
	}
	d.Display(" in")
	d.StartIndent()
	q.Input.Dump(d)
	d.EndIndent().NL()
	d.Display("satisfies")
	d.StartIndent()
	q.Return.Dump(d)
	d.EndIndent()
}
