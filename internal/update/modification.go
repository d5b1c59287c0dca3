package update

import (
	"context"
	"encoding/xml"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/lock"
	"github.com/roach88/xcore/internal/notify"
	"github.com/roach88/xcore/internal/trigger"
	"github.com/roach88/xcore/internal/xdm"
	"github.com/roach88/xcore/internal/xerr"
	"github.com/roach88/xcore/internal/xquery"
)

// Modification is one structural edit: a selection query naming the
// target nodes and the Kind of edit applied to each of them.
//
// Lifecycle: New → Selecting → Locked → Mutating → Unlocked. The global
// lock is held only while selecting; the target documents are held
// exclusively from Locked until Unlocked. Every failure path releases
// what was acquired.
//
// A Modification is used once, by a single goroutine.
type Modification struct {
	ctl        *Controller
	kind       Kind
	selectExpr string
	value      string
	docs       *dom.DocumentSet

	subject    string
	subjectSet bool

	state  State
	locked *dom.DocumentSet
	index  *indexListener
	sub    *notify.Subscription
}

// ModificationOption configures a Modification.
type ModificationOption func(*Modification)

// WithDocuments restricts absolute paths in the selection to docs.
func WithDocuments(docs *dom.DocumentSet) ModificationOption {
	return func(m *Modification) {
		m.docs = docs
	}
}

// NewModification creates a modification selecting with selectExpr. value
// is the new text for KindUpdate, the new name for KindRename and the
// child element name for KindAppend; KindRemove ignores it.
func (c *Controller) NewModification(kind Kind, selectExpr, value string, opts ...ModificationOption) *Modification {
	m := &Modification{
		ctl:        c,
		kind:       kind,
		selectExpr: selectExpr,
		value:      value,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Kind returns the edit kind.
func (m *Modification) Kind() Kind { return m.kind }

// State returns the lifecycle state.
func (m *Modification) State() State { return m.state }

// SetAccessContext sets the subject the edit runs as. It can be set only
// once. Without it the edit runs as dom.AdminSubject.
func (m *Modification) SetAccessContext(subject string) error {
	if m.subjectSet {
		return xerr.New(xerr.KindAccessDenied, "access context already set to %q", m.subject)
	}
	m.subject = subject
	m.subjectSet = true
	return nil
}

func (m *Modification) accessSubject() string {
	if !m.subjectSet {
		return dom.AdminSubject
	}
	return m.subject
}

// Nodes returns the current handles of the selected nodes, nil before
// selection.
func (m *Modification) Nodes() []*dom.NodeRef {
	if m.index == nil {
		return nil
	}
	return m.index.snapshot()
}

// Relocated returns how many selected nodes were moved while the
// modification held them.
func (m *Modification) Relocated() int {
	if m.index == nil {
		return 0
	}
	return m.index.relocated()
}

// =============================================================================
// Selection and locking
// =============================================================================

// SelectAndLock runs the selection under the shared global lock, locks
// every selected document exclusively in id order, releases the global
// lock and prepares each document's trigger once. It returns the
// selected nodes ordered by document and address.
//
// On failure nothing is held and nothing was changed.
func (m *Modification) SelectAndLock(ctx context.Context, txn *trigger.Txn) ([]*dom.NodeRef, error) {
	if m.state != StateNew {
		return nil, xerr.New(xerr.KindEvaluation, "modification is already %s", m.state)
	}
	m.state = StateSelecting

	start := time.Now()
	if err := m.ctl.global.Acquire(ctx, lock.Shared); err != nil {
		m.state = StateUnlocked
		return nil, err
	}
	lockWaitSeconds.WithLabelValues("global").Observe(time.Since(start).Seconds())
	globalHeld := true
	releaseGlobal := func() {
		if globalHeld {
			m.ctl.global.Release(lock.Shared)
			globalHeld = false
		}
	}
	defer releaseGlobal()

	nodes, docs, err := m.selectNodes(ctx)
	if err != nil {
		m.state = StateUnlocked
		return nil, err
	}
	subject := m.accessSubject()
	for _, doc := range docs.Documents() {
		if !doc.WritableBy(subject) {
			m.state = StateUnlocked
			return nil, xerr.New(xerr.KindAccessDenied,
				"%s may not modify %s", subject, doc.URI()).OnDocument(doc.ID)
		}
	}

	start = time.Now()
	if err := docs.Lock(ctx, lock.Exclusive); err != nil {
		m.state = StateUnlocked
		return nil, err
	}
	lockWaitSeconds.WithLabelValues("document").Observe(time.Since(start).Seconds())
	releaseGlobal()
	m.locked = docs
	m.state = StateLocked

	// Armed until the documents are handed to the caller, so a panic below
	// leaves nothing locked.
	handedOver := false
	defer func() {
		if !handedOver {
			m.releaseLocks()
		}
	}()

	if err := m.ctl.triggers.PrepareAll(ctx, trigger.EventUpdate, txn, documentsOf(nodes)); err != nil {
		return nil, err
	}

	m.index = newIndexListener(nodes)
	if m.ctl.notifier != nil {
		m.sub = m.ctl.notifier.Subscribe(m.index)
	}
	handedOver = true
	m.ctl.logger.Debug("modification locked",
		"kind", m.kind.String(),
		"txn", txn.ID,
		"nodes", len(nodes),
		"docs", docs.Len())
	return m.index.snapshot(), nil
}

// selectNodes evaluates the selection with a pooled compiled query. Every
// result item must be a node.
func (m *Modification) selectNodes(ctx context.Context) ([]*dom.NodeRef, *dom.DocumentSet, error) {
	q := m.ctl.queries
	cq, err := q.Borrow(m.selectExpr)
	if err != nil {
		return nil, nil, err
	}
	defer q.Return(cq)

	var opts []xquery.ContextOption
	if m.docs != nil {
		opts = append(opts, xquery.WithStaticDocuments(m.docs))
	}
	ec := q.NewContext(opts...)
	defer ec.Teardown()

	seq, err := q.Execute(ctx, cq, ec)
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[dom.NodeKey]bool, seq.Len())
	nodes := make([]*dom.NodeRef, 0, seq.Len())
	docs := dom.NewDocumentSet()
	for _, item := range xdm.Items(seq) {
		n, ok := item.(*dom.NodeRef)
		if !ok {
			return nil, nil, xerr.New(xerr.KindInternalStore,
				"select %q returned %s; expected nodes", m.selectExpr, item.ItemType())
		}
		if seen[n.Key()] {
			continue
		}
		seen[n.Key()] = true
		nodes = append(nodes, n.Clone())
		docs.Add(n.Doc)
	}
	slices.SortFunc(nodes, compareNodes)
	return nodes, docs, nil
}

// UnlockAndNotifyTriggers releases every document lock and then calls
// each document's finish trigger. Finish failures are collected and
// returned marked as changed; the locks are not taken again.
func (m *Modification) UnlockAndNotifyTriggers(ctx context.Context, txn *trigger.Txn) error {
	if m.locked == nil {
		return nil
	}
	m.releaseLocks()
	return m.ctl.triggers.FinishAll(ctx, trigger.EventUpdate, txn, documentsOf(m.Nodes()))
}

// releaseLocks drops the relocation subscription and every held document
// lock. It is a no-op when nothing is held.
func (m *Modification) releaseLocks() {
	if m.sub != nil {
		m.sub.Cancel()
		m.sub = nil
	}
	if m.locked != nil {
		m.locked.Unlock(lock.Exclusive)
		m.locked = nil
	}
	m.state = StateUnlocked
}

// CheckFragmentation runs the controller's fragmentation and consistency
// check over docs.
func (m *Modification) CheckFragmentation(ctx context.Context, docs *dom.DocumentSet) error {
	return m.ctl.CheckFragmentation(ctx, docs)
}

// =============================================================================
// Processing
// =============================================================================

// Process runs the whole modification and returns the number of nodes
// edited. A nil txn gets a fresh one.
//
// Failures before the edit starts are reported with nothing changed. Edit,
// fragmentation and finish failures are reported after the locks are
// released; the error tells whether anything was committed.
func (m *Modification) Process(ctx context.Context, txn *trigger.Txn) (int, error) {
	if txn == nil {
		txn = trigger.NewTxn()
	}
	kind := m.kind.String()
	if _, ok := kindNames[m.kind]; !ok {
		modificationsTotal.WithLabelValues(kind, outcomeRejected).Inc()
		return 0, xerr.New(xerr.KindEvaluation, "unknown modification kind %s", m.kind)
	}
	if m.kind.needsValue() && m.value == "" {
		modificationsTotal.WithLabelValues(kind, outcomeRejected).Inc()
		return 0, xerr.New(xerr.KindEvaluation, "%s requires a value", m.kind)
	}

	if _, err := m.SelectAndLock(ctx, txn); err != nil {
		modificationsTotal.WithLabelValues(kind, outcomeRejected).Inc()
		return 0, err
	}
	docs := m.locked
	// Normally UnlockAndNotifyTriggers releases; this covers a panicking edit.
	defer m.releaseLocks()

	m.state = StateMutating
	n, editErr := m.apply(ctx)
	nodesModified.WithLabelValues(kind).Add(float64(n))
	var checkErr error
	if n > 0 {
		checkErr = m.CheckFragmentation(ctx, docs)
	}
	finishErr := m.UnlockAndNotifyTriggers(ctx, txn)

	switch {
	case editErr != nil:
		modificationsTotal.WithLabelValues(kind, outcomeFailed).Inc()
	case finishErr != nil || checkErr != nil:
		modificationsTotal.WithLabelValues(kind, outcomeFinishError).Inc()
	default:
		modificationsTotal.WithLabelValues(kind, outcomeOK).Inc()
	}
	m.ctl.logger.Info("modification processed",
		"kind", kind,
		"select", m.selectExpr,
		"txn", txn.ID,
		"nodes", n,
		"docs", docs.Len(),
		"relocated", m.Relocated())
	return n, errors.Join(editErr, checkErr, finishErr)
}

// apply edits each selected node and returns how many were edited.
func (m *Modification) apply(ctx context.Context) (int, error) {
	s := m.ctl.storage
	if m.kind == KindRemove {
		done := 0
		for _, n := range removalOrder(m.index.snapshot()) {
			if err := s.RemoveNode(ctx, n); err != nil {
				return done, editFailure(err, m.kind, done)
			}
			done++
		}
		return done, nil
	}

	done := 0
	for i, count := 0, len(m.index.snapshot()); i < count; i++ {
		// Re-read the handle: an earlier append may have moved it.
		n := m.index.node(i)
		var err error
		switch m.kind {
		case KindUpdate:
			err = s.UpdateValue(ctx, n, m.value)
		case KindRename:
			err = s.Rename(ctx, n, m.value)
		case KindAppend:
			_, err = s.AppendChild(ctx, n, xdm.TypeElement, m.value, "")
		}
		if err != nil {
			return done, editFailure(err, m.kind, done)
		}
		done++
	}
	return done, nil
}

func editFailure(err error, kind Kind, done int) error {
	k := xerr.KindOf(err)
	if k == "" {
		k = xerr.KindInternalStore
	}
	out := xerr.Wrap(k, err, "%s stopped after %d node(s)", kind, done)
	out.Changed = done > 0
	var xe *xerr.Error
	if errors.As(err, &xe) {
		out.DocID, out.NodeID = xe.DocID, xe.NodeID
	}
	return out
}

// documentsOf returns the owning document of every node.
func documentsOf(nodes []*dom.NodeRef) []*dom.Document {
	out := make([]*dom.Document, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Doc)
	}
	return out
}

// String renders the modification as an XUpdate instruction.
func (m *Modification) String() string {
	var b strings.Builder
	b.WriteString("<xu:" + m.kind.String() + ` select="`)
	xml.EscapeText(&b, []byte(m.selectExpr))
	b.WriteString(`"`)
	switch {
	case m.kind == KindAppend && m.value != "":
		b.WriteString(`><xu:element name="`)
		xml.EscapeText(&b, []byte(m.value))
		b.WriteString(`"/></xu:append>`)
	case m.value != "" && m.kind != KindRemove:
		b.WriteString(">")
		xml.EscapeText(&b, []byte(m.value))
		b.WriteString("</xu:" + m.kind.String() + ">")
	default:
		b.WriteString("/>")
	}
	return b.String()
}
