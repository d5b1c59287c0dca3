package xquery

import (
	"context"

	"github.com/roach88/xcore/internal/xdm"
)

// ForExpr is "for $v [as T] [at $p] in Input [where W] return R".
//
// Input is evaluated once and iterated in order; each iteration binds the
// variable to one item and the positional variable, if any, to its
// 1-based ordinal. Results of Return are concatenated in input order.
//
// If Input yields a persistent node set and the where filter neither
// reads the current item nor any variable, the filter runs once over the
// whole input before iterating.
type ForExpr struct {
	bindingBase
	PosVar string
}

// NewFor creates a for expression. typ may be nil.
func NewFor(name string, typ *xdm.SequenceType, input, ret Expression) *ForExpr {
	f := &ForExpr{}
	f.Var = normalizeName(name)
	f.Type = typ
	f.Input = input
	f.Return = ret
	return f
}

// WithWhere sets the where filter and returns f.
func (f *ForExpr) WithWhere(where Expression) *ForExpr {
	f.Where = where
	return f
}

// WithPosition declares the positional variable and returns f.
func (f *ForExpr) WithPosition(name string) *ForExpr {
	f.PosVar = normalizeName(name)
	return f
}

func (f *ForExpr) Analyze(ec *Context) error {
	var extra []*LocalVariable
	if f.PosVar != "" {
		extra = append(extra, NewLocalVariable(f.PosVar, PositionalType))
	}
	return f.analyzeBinding(ec, extra...)
}

func (f *ForExpr) Eval(ctx context.Context, ec *Context, contextSeq xdm.Sequence, contextItem xdm.Item) (xdm.Sequence, error) {
	in, err := f.evalInput(ctx, ec, contextSeq, contextItem)
	if err != nil {
		return nil, err
	}

	mark := ec.MarkLocalVariables()
	defer ec.PopLocalVariables(mark)

	v := NewLocalVariable(f.Var, f.Type)
	ec.DeclareVariable(v)
	var pos *LocalVariable
	if f.PosVar != "" {
		pos = NewLocalVariable(f.PosVar, PositionalType)
		ec.DeclareVariable(pos)
	}

	filtered := f.filterAhead(in)
	if filtered {
		id := f.Where.ContextID()
		setContext(id, in)
		out, err := f.applyWhere(ctx, ec, in, nil)
		clearContext(id, in)
		if err != nil {
			return nil, err
		}
		in = out
	}
	if in.IsPersistentSet() {
		f.registerUpdateListener(ec, in)
	}

	result := xdm.NewValueSequence()
	for i := 0; i < in.Len(); i++ {
		item := in.ItemAt(i)
		ec.SetContextSequencePosition(i, in)
		v.SetValue(xdm.Single(item))
		if err := v.CheckType(); err != nil {
			return nil, err
		}
		if pos != nil {
			pos.SetValue(xdm.Single(xdm.Integer(i + 1)))
		}
		if f.Where != nil && !filtered {
			ok, err := f.whereHolds(ctx, ec, item)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		seq, err := f.Return.Eval(ctx, ec, contextSeq, contextItem)
		if err != nil {
			return nil, err
		}
		result.AddAll(seq)
	}
	return result, nil
}

func (f *ForExpr) filterAhead(in xdm.Sequence) bool {
	return f.Where != nil &&
		f.PosVar == "" &&
		!dependsOn(f.Where, DepContextItem|DepLocalVars) &&
		in.IsPersistentSet() &&
		in.ItemType().SubtypeOf(xdm.TypeNode)
}

func (f *ForExpr) ReturnsType() xdm.Type    { return f.bindingReturnsType() }
func (f *ForExpr) Dependencies() Dependency { return f.bindingDependencies() }

func (f *ForExpr) Dump(d *Dumper) {
	d.Display("for $" + f.Var)
	if f.Type != nil {
		d.Display(" as " + f.Type.String())
	}
	if f.PosVar != "" {
		d.Display(" at $" + f.PosVar)
	}
	d.Display(" in ")
	f.Input.Dump(d)
	d.NL()
	if f.Where != nil {
		d.Display("where")
		d.StartIndent()
		f.Where.Dump(d)
		d.EndIndent().NL()
	}
	d.Display("return")
	d.StartIndent()
	f.Return.Dump(d)
	d.EndIndent()
}
