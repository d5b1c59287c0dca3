package xquery

import (
	"context"

	"github.com/roach88/xcore/internal/xdm"
)

// Dependency flags what an expression reads from its evaluation context.
type Dependency int

const (
	// DepContextItem marks expressions that read the context item.
	DepContextItem Dependency = 1 << iota
	// DepContextSet marks expressions that read the context sequence.
	DepContextSet
	// DepLocalVars marks expressions that read variables.
	DepLocalVars
)

// Expression is a node of a compiled query.
type Expression interface {
	// Analyze prepares the expression for evaluation in ec: it allocates
	// context ids and checks variable scoping. It runs once per compile.
	Analyze(ec *Context) error

	// Eval evaluates the expression. contextItem, when non-nil, is the
	// focus and takes precedence over contextSeq.
	Eval(ctx context.Context, ec *Context, contextSeq xdm.Sequence, contextItem xdm.Item) (xdm.Sequence, error)

	// ReturnsType is the static item type of the result.
	ReturnsType() xdm.Type

	// Dependencies reports what the expression reads from its context.
	Dependencies() Dependency

	// ContextID is the id under which path steps tag their results, 0 if
	// tagging is off.
	ContextID() int

	// SetContextID sets the tagging id, propagating to subexpressions.
	SetContextID(id int)

	// Dump writes the expression's surface syntax.
	Dump(d *Dumper)
}

type exprBase struct {
	contextID int
}

func (b *exprBase) ContextID() int { return b.contextID }

func dependsOn(e Expression, dep Dependency) bool {
	return e != nil && e.Dependencies()&dep != 0
}

// focus returns the sequence an expression works on: the context item if
// set, otherwise the context sequence.
func focus(contextSeq xdm.Sequence, contextItem xdm.Item) xdm.Sequence {
	if contextItem != nil {
		return xdm.Single(contextItem)
	}
	return contextSeq
}

// DumpString renders e with a fresh Dumper.
func DumpString(e Expression) string {
	d := NewDumper()
	e.Dump(d)
	return d.String()
}
