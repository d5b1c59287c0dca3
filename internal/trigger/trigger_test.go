package trigger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/xerr"
)

type fixedID string

func (f fixedID) Generate() string { return string(f) }

// recorder counts hook calls per document and fails on demand.
type recorder struct {
	prepared    map[int64]int
	finished    map[int64]int
	failPrepare map[int64]bool
	failFinish  map[int64]bool
	depths      []int
}

func newRecorder() *recorder {
	return &recorder{
		prepared:    make(map[int64]int),
		finished:    make(map[int64]int),
		failPrepare: make(map[int64]bool),
		failFinish:  make(map[int64]bool),
	}
}

func (r *recorder) Prepare(_ context.Context, _ Event, txn *Txn, doc *dom.Document) error {
	r.prepared[doc.ID]++
	r.depths = append(r.depths, txn.Depth())
	if r.failPrepare[doc.ID] {
		return errors.New("vetoed")
	}
	return nil
}

func (r *recorder) Finish(_ context.Context, _ Event, _ *Txn, doc *dom.Document) error {
	r.finished[doc.ID]++
	if r.failFinish[doc.ID] {
		return errors.New("finish broke")
	}
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEvent_StringAndParse(t *testing.T) {
	for _, e := range []Event{EventStore, EventUpdate, EventRemove} {
		got, err := ParseEvent(e.String())
		require.NoError(t, err)
		assert.Equal(t, e, got)
	}
	_, err := ParseEvent("rename")
	assert.Error(t, err)
	assert.Equal(t, "event(42)", Event(42).String())
}

func TestTxn_IDAndDepth(t *testing.T) {
	txn := NewTxnWithGenerator(fixedID("txn-1"))
	assert.Equal(t, "txn-1", txn.ID)
	assert.False(t, txn.Nested())

	leave, err := txn.enter()
	require.NoError(t, err)
	assert.Equal(t, 1, txn.Depth())
	assert.True(t, txn.Nested())
	leave()
	assert.Equal(t, 0, txn.Depth())

	assert.Len(t, NewTxn().ID, 36)
}

func TestTxn_DepthLimit(t *testing.T) {
	txn := NewTxnWithGenerator(fixedID("deep"))
	for i := 0; i < MaxDepth; i++ {
		_, err := txn.enter()
		require.NoError(t, err)
	}
	_, err := txn.enter()
	assert.True(t, xerr.IsTriggerFailure(err))
}

func TestRegistry_LookupWalksUpCollections(t *testing.T) {
	r := NewRegistry(quietLogger())
	outer := newRecorder()
	inner := newRecorder()
	r.Register("/db", EventUpdate, outer)
	r.Register("/db/books/", EventUpdate, inner)

	assert.Same(t, inner, r.Lookup("/db/books", EventUpdate))
	assert.Same(t, inner, r.Lookup("/db/books/archive", EventUpdate))
	assert.Same(t, outer, r.Lookup("/db/films", EventUpdate))
	assert.Equal(t, Null{}, r.Lookup("/db/books", EventRemove))
	assert.Equal(t, Null{}, r.Lookup("/other", EventUpdate))
	assert.Equal(t, []string{"/db", "/db/books"}, r.Collections())
}

func TestRegistry_Configure(t *testing.T) {
	r := NewRegistry(quietLogger())
	err := r.Configure([]Spec{
		{Collection: "/db/ro", Event: EventUpdate, Type: "reject", Params: map[string]string{"reason": "frozen"}},
		{Collection: "/db", Event: EventRemove, Type: "log"},
	})
	require.NoError(t, err)
	assert.Equal(t, Reject{Reason: "frozen"}, r.Lookup("/db/ro", EventUpdate))
	assert.IsType(t, Log{}, r.Lookup("/db/ro", EventRemove))

	err = r.Configure([]Spec{{Collection: "/db", Event: EventUpdate, Type: "webhook"}})
	assert.ErrorContains(t, err, `unknown type "webhook"`)
}

func TestReject_Prepare(t *testing.T) {
	doc := dom.NewDocument(4, "/db/ro", "a.xml")
	err := Reject{}.Prepare(context.Background(), EventUpdate, NewTxn(), doc)
	require.Error(t, err)
	assert.True(t, xerr.IsTriggerFailure(err))
	assert.Contains(t, err.Error(), "read-only")
	assert.Contains(t, err.Error(), "doc=4")
}

func TestCoordinator_OncePerDocumentInIDOrder(t *testing.T) {
	rec := newRecorder()
	r := NewRegistry(quietLogger())
	r.Register("/db", EventUpdate, rec)
	c := NewCoordinator(r, quietLogger())

	a := dom.NewDocument(1, "/db", "a.xml")
	b := dom.NewDocument(2, "/db", "b.xml")
	txn := NewTxn()

	// Three selected nodes in b, one in a.
	docs := []*dom.Document{b, a, b, b}
	require.NoError(t, c.PrepareAll(context.Background(), EventUpdate, txn, docs))
	require.NoError(t, c.FinishAll(context.Background(), EventUpdate, txn, docs))

	assert.Equal(t, map[int64]int{1: 1, 2: 1}, rec.prepared)
	assert.Equal(t, map[int64]int{1: 1, 2: 1}, rec.finished)
	assert.Equal(t, []int{1, 1}, rec.depths)
	assert.Equal(t, 0, txn.Depth())
}

func TestCoordinator_SkipsConfigurationDocuments(t *testing.T) {
	rec := newRecorder()
	r := NewRegistry(quietLogger())
	r.Register("/db", EventUpdate, rec)
	c := NewCoordinator(r, quietLogger())

	conf := dom.NewDocument(3, "/db", dom.CollectionConfigName)
	require.NoError(t, c.PrepareAll(context.Background(), EventUpdate, NewTxn(), []*dom.Document{conf}))
	require.NoError(t, c.FinishAll(context.Background(), EventUpdate, NewTxn(), []*dom.Document{conf}))
	assert.Empty(t, rec.prepared)
	assert.Empty(t, rec.finished)
}

func TestCoordinator_PrepareStopsAtFirstFailure(t *testing.T) {
	rec := newRecorder()
	rec.failPrepare[1] = true
	r := NewRegistry(quietLogger())
	r.Register("/db", EventRemove, rec)
	c := NewCoordinator(r, quietLogger())

	docs := []*dom.Document{dom.NewDocument(2, "/db", "b.xml"), dom.NewDocument(1, "/db", "a.xml")}
	err := c.PrepareAll(context.Background(), EventRemove, NewTxn(), docs)
	require.Error(t, err)

	var xe *xerr.Error
	require.ErrorAs(t, err, &xe)
	assert.Equal(t, xerr.KindTriggerFailure, xe.Kind)
	assert.Equal(t, int64(1), xe.DocID)
	assert.True(t, xerr.NothingChanged(err))
	assert.Equal(t, map[int64]int{1: 1}, rec.prepared)
}

type panicker struct{}

func (panicker) Prepare(context.Context, Event, *Txn, *dom.Document) error { panic("boom") }
func (panicker) Finish(context.Context, Event, *Txn, *dom.Document) error  { panic("boom") }

func TestCoordinator_PanicsBecomeTriggerFailures(t *testing.T) {
	r := NewRegistry(quietLogger())
	r.Register("/db", EventUpdate, panicker{})
	c := NewCoordinator(r, quietLogger())
	txn := NewTxn()
	docs := []*dom.Document{dom.NewDocument(4, "/db", "a.xml")}

	err := c.PrepareAll(context.Background(), EventUpdate, txn, docs)
	require.Error(t, err)
	var xe *xerr.Error
	require.ErrorAs(t, err, &xe)
	assert.Equal(t, xerr.KindTriggerFailure, xe.Kind)
	assert.Equal(t, int64(4), xe.DocID)
	assert.True(t, xerr.NothingChanged(err))
	assert.Contains(t, err.Error(), "boom")

	err = c.FinishAll(context.Background(), EventUpdate, txn, docs)
	require.Error(t, err)
	assert.True(t, xerr.PartiallyChanged(err))
	assert.Zero(t, txn.Depth())
}

func TestCoordinator_FinishCollectsAllFailures(t *testing.T) {
	rec := newRecorder()
	rec.failFinish[1] = true
	rec.failFinish[3] = true
	r := NewRegistry(quietLogger())
	r.Register("/db", EventUpdate, rec)
	c := NewCoordinator(r, quietLogger())

	docs := []*dom.Document{
		dom.NewDocument(1, "/db", "a.xml"),
		dom.NewDocument(2, "/db", "b.xml"),
		dom.NewDocument(3, "/db", "c.xml"),
	}
	err := c.FinishAll(context.Background(), EventUpdate, NewTxn(), docs)
	require.Error(t, err)
	assert.True(t, xerr.IsTriggerFailure(err))
	assert.True(t, xerr.PartiallyChanged(err))
	assert.Contains(t, err.Error(), "/db/a.xml")
	assert.Contains(t, err.Error(), "/db/c.xml")
	assert.Equal(t, map[int64]int{1: 1, 2: 1, 3: 1}, rec.finished)
}

func TestCoordinator_NilRegistryUsesNull(t *testing.T) {
	c := NewCoordinator(nil, nil)
	doc := dom.NewDocument(1, "/db", "a.xml")
	assert.NoError(t, c.PrepareAll(context.Background(), EventStore, NewTxn(), []*dom.Document{doc}))
	assert.NoError(t, c.FinishAll(context.Background(), EventStore, NewTxn(), []*dom.Document{doc}))
	assert.Empty(t, c.Registry().Collections())
}
