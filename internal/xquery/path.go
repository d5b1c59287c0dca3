package xquery

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/store"
	"github.com/roach88/xcore/internal/xdm"
	"github.com/roach88/xcore/internal/xerr"
)

// Axis selects the nodes a step navigates to.
type Axis int

const (
	AxisChild Axis = iota + 1
	AxisDescendant
	AxisAttribute
	AxisSelf
)

// NodeTest filters step candidates by kind and name. An empty name or
// "*" matches any name.
type NodeTest struct {
	Kind xdm.Type
	Name string
}

func (nt NodeTest) matches(n *dom.NodeRef) bool {
	if !n.Kind.SubtypeOf(nt.Kind) {
		return false
	}
	return nt.Name == "" || nt.Name == "*" || nt.Name == n.Name
}

// Predicate is a step filter. The set of predicates is closed; see
// AttrPredicate, ChildPredicate and SelfPredicate.
type Predicate interface {
	holds(t *store.Tree, n *dom.NodeRef) bool
	dump(d *Dumper)
	isPredicate()
}

// AttrPredicate is [@name] or [@name op 'value'].
type AttrPredicate struct {
	Name  string
	Op    CompareOp
	Value string
}

// ChildPredicate is [name] or [name op 'value'] over child elements.
type ChildPredicate struct {
	Name  string
	Op    CompareOp
	Value string
}

// SelfPredicate is [. op 'value'].
type SelfPredicate struct {
	Op    CompareOp
	Value string
}

func (AttrPredicate) isPredicate()  {}
func (ChildPredicate) isPredicate() {}
func (SelfPredicate) isPredicate()  {}

func (p AttrPredicate) holds(t *store.Tree, n *dom.NodeRef) bool {
	for _, c := range t.Children(n.ID) {
		if c.Kind == xdm.TypeAttribute && (p.Name == "*" || c.Name == p.Name) && valueHolds(p.Op, c.Value, p.Value) {
			return true
		}
	}
	return false
}

func (p ChildPredicate) holds(t *store.Tree, n *dom.NodeRef) bool {
	for _, c := range t.Children(n.ID) {
		if c.Kind == xdm.TypeElement && (p.Name == "*" || c.Name == p.Name) && valueHolds(p.Op, c.Value, p.Value) {
			return true
		}
	}
	return false
}

func (p SelfPredicate) holds(t *store.Tree, n *dom.NodeRef) bool {
	value := n.Value
	if cur := t.Node(n.ID); cur != nil {
		value = cur.Value
	}
	return valueHolds(p.Op, value, p.Value)
}

func valueHolds(op CompareOp, actual, want string) bool {
	if op == "" {
		return true
	}
	c := &Compare{Op: op}
	return c.holds(compareValues(actual, want))
}

func (p AttrPredicate) dump(d *Dumper) {
	d.Display("[@" + p.Name)
	dumpPredicateValue(d, p.Op, p.Value)
}

func (p ChildPredicate) dump(d *Dumper) {
	d.Display("[" + p.Name)
	dumpPredicateValue(d, p.Op, p.Value)
}

func (p SelfPredicate) dump(d *Dumper) {
	d.Display("[.")
	dumpPredicateValue(d, p.Op, p.Value)
}

func dumpPredicateValue(d *Dumper, op CompareOp, value string) {
	if op != "" {
		d.Display(" " + string(op) + " " + literalSyntax(xdm.String(value)))
	}
	d.Display("]")
}

// Step is one location step.
type Step struct {
	Axis       Axis
	Test       NodeTest
	Predicates []Predicate
}

func (s *Step) candidates(t *store.Tree, n *dom.NodeRef) []*dom.NodeRef {
	switch s.Axis {
	case AxisSelf:
		return []*dom.NodeRef{n}
	case AxisAttribute:
		return filterKind(t.Children(n.ID), true)
	case AxisDescendant:
		return filterKind(t.Descendants(n.ID), false)
	default:
		return filterKind(t.Children(n.ID), false)
	}
}

func filterKind(nodes []*dom.NodeRef, attributes bool) []*dom.NodeRef {
	out := make([]*dom.NodeRef, 0, len(nodes))
	for _, n := range nodes {
		if (n.Kind == xdm.TypeAttribute) == attributes {
			out = append(out, n)
		}
	}
	return out
}

func (s *Step) accepts(t *store.Tree, n *dom.NodeRef) bool {
	if !s.Test.matches(n) {
		return false
	}
	for _, p := range s.Predicates {
		if !p.holds(t, n) {
			return false
		}
	}
	return true
}

func (s *Step) dump(d *Dumper) {
	switch {
	case s.Axis == AxisSelf:
		d.Display(".")
	case s.Axis == AxisAttribute:
		d.Display("@" + nameOrStar(s.Test.Name))
	case s.Test.Kind == xdm.TypeText:
		d.Display("text()")
	case s.Test.Kind == xdm.TypeNode:
		d.Display("node()")
	default:
		d.Display(nameOrStar(s.Test.Name))
	}
	for _, p := range s.Predicates {
		p.dump(d)
	}
}

func nameOrStar(name string) string {
	if name == "" {
		return "*"
	}
	return name
}

// PathExpr navigates from a start sequence through location steps.
//
// Absolute paths range over the context's static documents (or one
// document when DocID is set) and evaluate to a lazily realized virtual
// node set. Relative paths start from Start, or from the focus when Start
// is nil. While a context id is set, every result node inherits the trail
// of the node it was reached from.
type PathExpr struct {
	exprBase
	Absolute bool
	DocID    int64
	Start    Expression
	Steps    []*Step
}

func (p *PathExpr) Analyze(ec *Context) error {
	if p.Absolute && len(p.Steps) == 0 {
		return xerr.New(xerr.KindEvaluation, "absolute path has no steps")
	}
	if p.Start != nil {
		return p.Start.Analyze(ec)
	}
	return nil
}

func (p *PathExpr) Eval(ctx context.Context, ec *Context, contextSeq xdm.Sequence, contextItem xdm.Item) (xdm.Sequence, error) {
	if p.Absolute {
		docs, err := p.documents(ctx, ec)
		if err != nil {
			return nil, err
		}
		return dom.NewVirtualNodeSet(docs, func() ([]*dom.NodeRef, error) {
			return p.evalAbsolute(ctx, ec, docs)
		}), nil
	}

	var input xdm.Sequence
	if p.Start != nil {
		seq, err := p.Start.Eval(ctx, ec, contextSeq, contextItem)
		if err != nil {
			return nil, err
		}
		input = seq
	} else {
		input = focus(contextSeq, contextItem)
		if input == nil {
			return nil, xerr.New(xerr.KindEvaluation, "context item is undefined for path %s", DumpString(p))
		}
	}
	if err := Materialize(input); err != nil {
		return nil, err
	}
	start, err := dom.AsNodeSet(input)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindTypeMismatch, err, "path %s requires a node context", DumpString(p))
	}

	nodes := start.Nodes()
	for _, step := range p.Steps {
		if nodes, err = p.applyStep(ctx, ec, step, nodes); err != nil {
			return nil, err
		}
	}
	return dom.NewArrayNodeSet(nodes...), nil
}

func (p *PathExpr) documents(ctx context.Context, ec *Context) (*dom.DocumentSet, error) {
	if p.DocID == 0 {
		return ec.StaticDocuments(ctx)
	}
	doc, err := ec.Source().DocumentByID(ctx, p.DocID)
	if err != nil {
		return nil, err
	}
	return dom.NewDocumentSet(doc), nil
}

func (p *PathExpr) evalAbsolute(ctx context.Context, ec *Context, docs *dom.DocumentSet) ([]*dom.NodeRef, error) {
	var out []*dom.NodeRef
	first := p.Steps[0]
	for _, doc := range docs.Documents() {
		tree, err := ec.Tree(ctx, doc)
		if err != nil {
			return nil, err
		}
		root := tree.Root()
		if root == nil {
			continue
		}

		var candidates []*dom.NodeRef
		switch first.Axis {
		case AxisChild:
			candidates = []*dom.NodeRef{root}
		case AxisDescendant:
			candidates = filterKind(tree.Nodes(), false)
		}
		var nodes []*dom.NodeRef
		for _, c := range candidates {
			if first.accepts(tree, c) {
				nodes = append(nodes, c.Clone())
			}
		}
		for _, step := range p.Steps[1:] {
			if nodes, err = p.applyStep(ctx, ec, step, nodes); err != nil {
				return nil, err
			}
		}
		out = append(out, nodes...)
	}
	return out, nil
}

func (p *PathExpr) applyStep(ctx context.Context, ec *Context, step *Step, in []*dom.NodeRef) ([]*dom.NodeRef, error) {
	out := dom.NewArrayNodeSet()
	for _, n := range in {
		tree, err := ec.Tree(ctx, n.Doc)
		if err != nil {
			return nil, err
		}
		for _, c := range step.candidates(tree, n) {
			if !step.accepts(tree, c) {
				continue
			}
			r := c.Clone()
			if p.contextID != 0 {
				r.CopyContext(n)
			}
			out.Add(r, dom.NoSizeHint)
		}
	}
	return out.Nodes(), nil
}

func (p *PathExpr) ReturnsType() xdm.Type {
	if len(p.Steps) == 0 {
		if p.Start != nil {
			return p.Start.ReturnsType()
		}
		return xdm.TypeNode
	}
	last := p.Steps[len(p.Steps)-1]
	switch last.Axis {
	case AxisAttribute:
		return xdm.TypeAttribute
	case AxisSelf:
		return xdm.TypeNode
	}
	return last.Test.Kind
}

func (p *PathExpr) Dependencies() Dependency {
	var dep Dependency
	if p.Start != nil {
		dep = p.Start.Dependencies()
	} else if !p.Absolute {
		dep = DepContextSet
	}
	return dep
}

func (p *PathExpr) SetContextID(id int) {
	p.contextID = id
	if p.Start != nil {
		p.Start.SetContextID(id)
	}
}

func (p *PathExpr) Dump(d *Dumper) {
	if p.DocID != 0 {
		d.Display(fmt.Sprintf("doc(%d)", p.DocID))
	}
	if p.Start != nil {
		p.Start.Dump(d)
	}
	for i, step := range p.Steps {
		switch {
		case step.Axis == AxisDescendant:
			d.Display("//")
		case i > 0 || p.Absolute || p.Start != nil:
			d.Display("/")
		}
		step.dump(d)
	}
}

// Materialize realizes a virtual node set so that loading errors surface
// here instead of reading as an empty sequence.
func Materialize(seq xdm.Sequence) error {
	if v, ok := seq.(*dom.VirtualNodeSet); ok {
		return v.Realize()
	}
	return nil
}

// String implements fmt.Stringer.
func (p *PathExpr) String() string {
	return strings.TrimSpace(DumpString(p))
}
