package xquery

import (
	"context"
	"sync"

	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/notify"
	"github.com/roach88/xcore/internal/xdm"
	"github.com/roach88/xcore/internal/xerr"
)

// bindingBase is shared by for, let, some and every: a variable bound
// from Input, an optional declared type, an optional where filter and the
// dependent expression (return or satisfies).
type bindingBase struct {
	exprBase
	Var    string
	Type   *xdm.SequenceType
	Input  Expression
	Where  Expression
	Return Expression

	mu       sync.Mutex
	listener *sequenceListener
}

// analyzeBinding checks Input outside the variable's scope and the
// dependent expressions inside it. extra variables (the positional
// variable of for) are declared after the bound one.
func (b *bindingBase) analyzeBinding(ec *Context, extra ...*LocalVariable) error {
	if err := b.Input.Analyze(ec); err != nil {
		return err
	}
	mark := ec.MarkLocalVariables()
	defer ec.PopLocalVariables(mark)

	ec.DeclareVariable(NewLocalVariable(b.Var, b.Type))
	for _, v := range extra {
		ec.DeclareVariable(v)
	}
	if b.Where != nil {
		if err := b.Where.Analyze(ec); err != nil {
			return err
		}
		b.Where.SetContextID(ec.NextContextID())
	}
	return b.Return.Analyze(ec)
}

// evalInput evaluates Input and realizes it if it is virtual.
func (b *bindingBase) evalInput(ctx context.Context, ec *Context, contextSeq xdm.Sequence, contextItem xdm.Item) (xdm.Sequence, error) {
	in, err := b.Input.Eval(ctx, ec, contextSeq, contextItem)
	if err != nil {
		return nil, err
	}
	if err := Materialize(in); err != nil {
		return nil, err
	}
	return in, nil
}

func (b *bindingBase) bindingDependencies() Dependency {
	dep := b.Input.Dependencies() | b.Return.Dependencies()
	if b.Where != nil {
		dep |= b.Where.Dependencies()
	}
	return dep
}

// bindingReturnsType is the declared type's item type if there is one,
// otherwise the dependent expression's.
func (b *bindingBase) bindingReturnsType() xdm.Type {
	if b.Type != nil {
		return b.Type.Primary
	}
	return b.Return.ReturnsType()
}

func (b *bindingBase) SetContextID(id int) {
	b.contextID = id
	b.Input.SetContextID(id)
}

// =============================================================================
// Where filtering
// =============================================================================

// applyWhere filters contextSeq by the where expression.
//
// When contextSeq is a persistent node set and the filter yields nodes,
// the filter runs once against the whole set and each result node's
// trail names the context node that produced it. The context set must
// have been tagged with the filter's context id beforehand.
//
// With no context sequence, the filter runs once (with contextItem as
// focus) and the result is its effective boolean value. Otherwise each
// item is tried in turn.
func (b *bindingBase) applyWhere(ctx context.Context, ec *Context, contextSeq xdm.Sequence, contextItem xdm.Item) (xdm.Sequence, error) {
	if contextSeq != nil && contextSeq.IsPersistentSet() && b.Where.ReturnsType().SubtypeOf(xdm.TypeNode) {
		return b.applyWhereSet(ctx, ec, contextSeq.(dom.NodeSet))
	}

	if contextSeq == nil {
		seq, err := b.Where.Eval(ctx, ec, nil, contextItem)
		if err != nil {
			return nil, err
		}
		ok, err := xdm.EffectiveBooleanValue(seq)
		if err != nil {
			return nil, err
		}
		return xdm.Single(xdm.Boolean(ok)), nil
	}

	out := xdm.NewValueSequence()
	for i := 0; i < contextSeq.Len(); i++ {
		item := contextSeq.ItemAt(i)
		ec.SetContextSequencePosition(i, contextSeq)
		seq, err := b.Where.Eval(ctx, ec, contextSeq, item)
		if err != nil {
			return nil, err
		}
		ok, err := xdm.EffectiveBooleanValue(seq)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Add(item)
		}
	}
	return out, nil
}

func (b *bindingBase) applyWhereSet(ctx context.Context, ec *Context, contextSet dom.NodeSet) (xdm.Sequence, error) {
	seq, err := b.Where.Eval(ctx, ec, contextSet, nil)
	if err != nil {
		return nil, err
	}
	if err := Materialize(seq); err != nil {
		return nil, err
	}
	result, err := dom.AsNodeSet(seq)
	if err != nil {
		return nil, err
	}

	_, virtual := contextSet.(*dom.VirtualNodeSet)
	id := b.Where.ContextID()
	out := dom.NewArrayNodeSet()
	var lastDoc *dom.Document
	hint := dom.NoSizeHint
	for _, n := range result.Nodes() {
		// Nodes() is in document order, so the hint changes only at a
		// document boundary.
		if lastDoc == nil || n.Doc.ID != lastDoc.ID {
			lastDoc = n.Doc
			hint = result.SizeHint(lastDoc)
		}
		keys := n.Trail().Matching(id)
		if len(keys) == 0 {
			return nil, xerr.New(xerr.KindEvaluation,
				"context node is missing for node %s", n.ID).OnNode(n.Doc.ID, string(n.ID))
		}
		for _, key := range keys {
			if !virtual && !contextSet.Contains(key) {
				continue
			}
			cn := contextSet.Get(key)
			if cn == nil {
				continue
			}
			out.Add(cn, hint)
		}
	}
	return out, nil
}

// whereHolds evaluates the where filter once for the current binding.
func (b *bindingBase) whereHolds(ctx context.Context, ec *Context, contextItem xdm.Item) (bool, error) {
	seq, err := b.applyWhere(ctx, ec, nil, contextItem)
	if err != nil {
		return false, err
	}
	return xdm.EffectiveBooleanValue(seq)
}

// setContext tags every node of seq as its own context node for id.
// Virtual sets switch to self-is-context mode instead.
func setContext(id int, seq xdm.Sequence) {
	switch s := seq.(type) {
	case *dom.VirtualNodeSet:
		s.SetInPredicate(true)
		s.SetContext(id)
		return
	case dom.NodeSet:
		s.SetContext(id)
		return
	}
	// Constructed sequences are never subscribed to relocation.
	for _, item := range xdm.Items(seq) {
		if n, ok := item.(*dom.NodeRef); ok {
			n.AddContextNode(id, n)
		}
	}
}

// clearContext removes the tags setContext added. Virtual sets keep
// theirs.
func clearContext(id int, seq xdm.Sequence) {
	switch s := seq.(type) {
	case *dom.VirtualNodeSet:
	case dom.NodeSet:
		s.ClearContext(id)
	default:
		for _, item := range xdm.Items(seq) {
			if n, ok := item.(*dom.NodeRef); ok {
				n.ClearContext(id)
			}
		}
	}
}

// =============================================================================
// Relocation
// =============================================================================

// registerUpdateListener makes relocation events reach seq for the rest
// of the evaluation. The expression owns at most one listener per
// context; later calls rebind it to the new sequence.
func (b *bindingBase) registerUpdateListener(ec *Context, seq xdm.Sequence) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener != nil && b.listener.ec == ec {
		b.listener.setSequence(seq)
		return
	}
	l := &sequenceListener{owner: b, ec: ec}
	l.setSequence(seq)
	if ec.RegisterUpdateListener(l) {
		b.listener = l
	}
}

// hasListener reports whether a listener is currently subscribed.
func (b *bindingBase) hasListener() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listener != nil
}

// sequenceListener forwards relocation events to the sequence it is
// currently bound to.
type sequenceListener struct {
	owner *bindingBase
	ec    *Context

	mu  sync.Mutex
	seq xdm.Sequence
}

var _ notify.Listener = (*sequenceListener)(nil)

func (l *sequenceListener) setSequence(seq xdm.Sequence) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq = seq
}

func (l *sequenceListener) DocumentUpdated(*dom.Document, notify.Event) {}

func (l *sequenceListener) NodeMoved(oldID dom.NodeID, newNode *dom.NodeRef) {
	l.mu.Lock()
	seq := l.seq
	l.mu.Unlock()
	if ns, ok := seq.(dom.NodeSet); ok {
		ns.NodeMoved(oldID, newNode)
	}
}

func (l *sequenceListener) Unsubscribe() {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	if l.owner.listener == l {
		l.owner.listener = nil
	}
	l.setSequence(nil)
}
