package xquery

import (
	"context"
	"log/slog"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/notify"
	"github.com/roach88/xcore/internal/store"
	"github.com/roach88/xcore/internal/xdm"
	"github.com/roach88/xcore/internal/xerr"
)

// NodeSource is the storage surface evaluation reads from.
type NodeSource interface {
	dom.Resolver
	Tree(ctx context.Context, doc *dom.Document) (*store.Tree, error)
	AllDocuments(ctx context.Context) ([]*dom.Document, error)
	DocumentByID(ctx context.Context, id int64) (*dom.Document, error)
}

// Function is a callable available to FuncCall expressions.
type Function func(ctx context.Context, ec *Context, args []xdm.Sequence) (xdm.Sequence, error)

// Context is the dynamic state of one evaluation: the local variable
// stack, context id allocation, the listeners the evaluation owns and
// per-document tree snapshots.
//
// A Context belongs to a single goroutine. Teardown must be called when
// the evaluation ends; it cancels every listener registered through
// RegisterUpdateListener.
type Context struct {
	source   NodeSource
	notifier *notify.Service
	logger   *slog.Logger

	vars      []*LocalVariable
	externals map[string]*LocalVariable

	nextContextID int
	subs          []*notify.Subscription
	tornDown      bool

	staticDocs *dom.DocumentSet
	namespaces map[string]string
	functions  map[string]Function
	trees      map[int64]*store.Tree

	position    int
	positionSeq xdm.Sequence
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithNotifier makes binding expressions subscribe to relocation events.
func WithNotifier(n *notify.Service) ContextOption {
	return func(c *Context) {
		c.notifier = n
	}
}

// WithContextLogger sets the evaluation logger.
func WithContextLogger(l *slog.Logger) ContextOption {
	return func(c *Context) {
		c.logger = l
	}
}

// WithStaticDocuments restricts absolute paths to docs.
func WithStaticDocuments(docs *dom.DocumentSet) ContextOption {
	return func(c *Context) {
		c.staticDocs = docs
	}
}

// WithFunction registers an extra function under name.
func WithFunction(name string, fn Function) ContextOption {
	return func(c *Context) {
		c.functions[name] = fn
	}
}

// WithVariable declares an external variable.
func WithVariable(name string, value xdm.Sequence) ContextOption {
	return func(c *Context) {
		c.DeclareExternal(name, value)
	}
}

// NewContext creates an evaluation context reading from source.
func NewContext(source NodeSource, opts ...ContextOption) *Context {
	c := &Context{
		source:     source,
		logger:     slog.Default(),
		externals:  make(map[string]*LocalVariable),
		namespaces: make(map[string]string),
		functions:  builtinFunctions(),
		trees:      make(map[int64]*store.Tree),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Source returns the node source.
func (c *Context) Source() NodeSource {
	return c.source
}

// Logger returns the evaluation logger.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// =============================================================================
// Variables
// =============================================================================

// MarkLocalVariables returns a mark for the current top of the variable
// stack. PopLocalVariables(mark) releases everything declared since.
func (c *Context) MarkLocalVariables() int {
	return len(c.vars)
}

// PopLocalVariables releases the variables declared since mark.
func (c *Context) PopLocalVariables(mark int) {
	if mark < 0 || mark > len(c.vars) {
		return
	}
	clear(c.vars[mark:])
	c.vars = c.vars[:mark]
}

// DeclareVariable pushes v onto the local stack. It shadows any earlier
// declaration of the same name until popped.
func (c *Context) DeclareVariable(v *LocalVariable) {
	c.vars = append(c.vars, v)
}

// DeclareExternal binds a global variable visible to every expression.
func (c *Context) DeclareExternal(name string, value xdm.Sequence) {
	name = normalizeName(name)
	v := NewLocalVariable(name, nil)
	v.SetValue(value)
	c.externals[name] = v
}

// ResolveVariable returns the innermost binding of name.
func (c *Context) ResolveVariable(name string) (*LocalVariable, error) {
	name = normalizeName(name)
	for i := len(c.vars) - 1; i >= 0; i-- {
		if c.vars[i].Name == name {
			return c.vars[i], nil
		}
	}
	if v, ok := c.externals[name]; ok {
		return v, nil
	}
	return nil, xerr.New(xerr.KindEvaluation, "variable $%s is not declared", name)
}

// DeclareNamespace maps prefix to uri for the evaluation.
func (c *Context) DeclareNamespace(prefix, uri string) error {
	if prefix == "xml" || prefix == "xmlns" {
		return xerr.New(xerr.KindEvaluation, "prefix %q cannot be redeclared", prefix)
	}
	c.namespaces[prefix] = uri
	return nil
}

// Namespace returns the uri bound to prefix.
func (c *Context) Namespace(prefix string) (string, bool) {
	uri, ok := c.namespaces[prefix]
	return uri, ok
}

// =============================================================================
// Context ids and listeners
// =============================================================================

// NextContextID allocates a fresh id for context tagging. Ids are never 0.
func (c *Context) NextContextID() int {
	c.nextContextID++
	return c.nextContextID
}

// RegisterUpdateListener subscribes l to relocation events for the rest of
// the evaluation and reports whether it did. Without a notifier, or after
// Teardown, nothing is subscribed.
func (c *Context) RegisterUpdateListener(l notify.Listener) bool {
	if c.notifier == nil || c.tornDown {
		return false
	}
	c.subs = append(c.subs, c.notifier.Subscribe(l))
	return true
}

// Listeners returns the number of listeners the evaluation owns.
func (c *Context) Listeners() int {
	return len(c.subs)
}

// Teardown cancels every owned listener and drops cached trees. Safe to
// call more than once.
func (c *Context) Teardown() {
	if c.tornDown {
		return
	}
	c.tornDown = true
	for _, sub := range c.subs {
		sub.Cancel()
	}
	c.subs = nil
	clear(c.trees)
	c.logger.Debug("evaluation context torn down")
}

// =============================================================================
// Documents
// =============================================================================

// StaticDocuments returns the documents absolute paths range over: the
// configured set, or every stored document.
func (c *Context) StaticDocuments(ctx context.Context) (*dom.DocumentSet, error) {
	if c.staticDocs != nil {
		return c.staticDocs, nil
	}
	docs, err := c.source.AllDocuments(ctx)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternalStore, err, "list documents")
	}
	return dom.NewDocumentSet(docs...), nil
}

// Tree returns the evaluation's snapshot of doc, loading it once.
func (c *Context) Tree(ctx context.Context, doc *dom.Document) (*store.Tree, error) {
	if t, ok := c.trees[doc.ID]; ok {
		return t, nil
	}
	t, err := c.source.Tree(ctx, doc)
	if err != nil {
		return nil, err
	}
	c.trees[doc.ID] = t
	return t, nil
}

// =============================================================================
// Focus
// =============================================================================

// SetContextSequencePosition records the 0-based position of the item
// under evaluation within seq.
func (c *Context) SetContextSequencePosition(pos int, seq xdm.Sequence) {
	c.position = pos
	c.positionSeq = seq
}

// ContextPosition returns the last position set.
func (c *Context) ContextPosition() int {
	return c.position
}

func normalizeName(name string) string {
	return norm.NFC.String(name)
}
