package update

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/lock"
	"github.com/roach88/xcore/internal/notify"
	"github.com/roach88/xcore/internal/store"
	"github.com/roach88/xcore/internal/testutil"
	"github.com/roach88/xcore/internal/trigger"
	"github.com/roach88/xcore/internal/xerr"
	"github.com/roach88/xcore/internal/xquery"
)

type env struct {
	store    *store.Store
	queries  *xquery.Service
	ctl      *Controller
	triggers *testutil.CountingTrigger
}

func newEnv(t *testing.T, storeOpts []store.Option, opts ...Option) *env {
	t.Helper()
	logger := testutil.QuietLogger()
	n := notify.NewService(logger)
	s := testutil.OpenStore(t, append([]store.Option{store.WithPublisher(n)}, storeOpts...)...)
	q := xquery.NewService(s, xquery.WithRelocation(n), xquery.WithServiceLogger(logger))

	ct := testutil.NewCountingTrigger()
	reg := trigger.NewRegistry(logger)
	reg.Register("/db", trigger.EventUpdate, ct)

	base := []Option{
		WithTriggers(trigger.NewCoordinator(reg, logger)),
		WithNotifier(n),
		WithLogger(logger),
	}
	ctl := NewController(s, q, append(base, opts...)...)
	return &env{store: s, queries: q, ctl: ctl, triggers: ct}
}

func (e *env) count(t *testing.T, src string) int {
	t.Helper()
	seq, err := e.queries.Query(context.Background(), src)
	require.NoError(t, err, src)
	return seq.Len()
}

func assertUnlocked(t *testing.T, e *env, docs ...*dom.Document) {
	t.Helper()
	assert.Zero(t, e.ctl.GlobalLock().SharedHolders(), "global lock still held")
	for _, doc := range docs {
		require.True(t, doc.Lock().TryAcquire(lock.Exclusive), "document %d still locked", doc.ID)
		doc.Lock().Release(lock.Exclusive)
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindUpdate, KindRename, KindRemove, KindAppend} {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	got, err := ParseKind("ReMoVe")
	require.NoError(t, err)
	assert.Equal(t, KindRemove, got)

	_, err = ParseKind("insert")
	assert.Error(t, err)
	assert.Equal(t, "kind(9)", Kind(9).String())
}

func TestProcess_Kinds(t *testing.T) {
	tests := []struct {
		name   string
		kind   Kind
		sel    string
		value  string
		edited int
		check  string
		want   int
	}{
		{"update text", KindUpdate, "//title[. = 'Go']/text()", "Golang", 1, "//title[. = 'Golang']", 1},
		{"update element content", KindUpdate, "//author", "Anon", 2, "//author[. = 'Anon']", 2},
		{"rename elements", KindRename, "//book", "volume", 3, "//volume", 3},
		{"rename attribute", KindRename, "//book[@lang = 'de']/@lang", "language", 1, "//book[@language = 'de']", 1},
		{"remove", KindRemove, "//book[@lang = 'en']", "", 2, "//book", 1},
		{"remove skips covered descendants", KindRemove, "/books//*", "", 3, "/books/*", 0},
		{"append", KindAppend, "//book", "isbn", 3, "//book/isbn", 3},
		{"empty selection", KindRename, "//missing", "x", 0, "//book", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, nil)
			doc := testutil.ImportXML(t, e.store, "/db", "books.xml", testutil.BooksXML)

			m := e.ctl.NewModification(tt.kind, tt.sel, tt.value)
			n, err := m.Process(context.Background(), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.edited, n)
			assert.Equal(t, StateUnlocked, m.State())
			assert.Equal(t, tt.want, e.count(t, tt.check))
			assertUnlocked(t, e, doc)
		})
	}
}

func TestProcess_TriggersOncePerDocument(t *testing.T) {
	e := newEnv(t, nil)
	doc := testutil.ImportXML(t, e.store, "/db", "books.xml", testutil.BooksXML)
	other := testutil.ImportXML(t, e.store, "/db", "other.xml", "<books><book/></books>")

	txn := trigger.NewTxnWithGenerator(testutil.NewFixedIDGenerator("txn-1"))
	m := e.ctl.NewModification(KindRename, "//book", "volume", WithDocuments(dom.NewDocumentSet(doc)))
	n, err := m.Process(context.Background(), txn)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, 1, e.triggers.Prepared(doc.ID))
	assert.Equal(t, 1, e.triggers.Finished(doc.ID))
	assert.Zero(t, e.triggers.Prepared(other.ID))
	assert.Zero(t, txn.Depth())
}

func TestProcess_PrepareFailureChangesNothing(t *testing.T) {
	e := newEnv(t, nil)
	doc := testutil.ImportXML(t, e.store, "/db", "books.xml", testutil.BooksXML)
	e.triggers.FailPrepare(doc.ID, errors.New("veto"))

	m := e.ctl.NewModification(KindRemove, "//author", "")
	n, err := m.Process(context.Background(), nil)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.True(t, xerr.IsTriggerFailure(err))
	assert.True(t, xerr.NothingChanged(err))
	assert.Contains(t, err.Error(), "veto")

	assert.Equal(t, StateUnlocked, m.State())
	assert.Zero(t, e.triggers.Finished(doc.ID))
	assert.Equal(t, 2, e.count(t, "//author"))
	assertUnlocked(t, e, doc)
}

// panickingTrigger panics in whichever hook is selected.
type panickingTrigger struct {
	inPrepare bool
}

func (p panickingTrigger) Prepare(context.Context, trigger.Event, *trigger.Txn, *dom.Document) error {
	if p.inPrepare {
		panic("prepare exploded")
	}
	return nil
}

func (p panickingTrigger) Finish(context.Context, trigger.Event, *trigger.Txn, *dom.Document) error {
	if !p.inPrepare {
		panic("finish exploded")
	}
	return nil
}

func TestProcess_PanickingPrepareReleasesLocks(t *testing.T) {
	e := newEnv(t, nil)
	doc := testutil.ImportXML(t, e.store, "/db/panics", "books.xml", testutil.BooksXML)
	reg := trigger.NewRegistry(testutil.QuietLogger())
	reg.Register("/db/panics", trigger.EventUpdate, panickingTrigger{inPrepare: true})
	e.ctl.triggers = trigger.NewCoordinator(reg, testutil.QuietLogger())

	m := e.ctl.NewModification(KindRemove, "//title", "")
	var (
		n   int
		err error
	)
	require.NotPanics(t, func() { n, err = m.Process(context.Background(), nil) })
	require.Error(t, err)
	assert.Zero(t, n)
	assert.True(t, xerr.IsTriggerFailure(err))
	assert.True(t, xerr.NothingChanged(err))
	assert.Contains(t, err.Error(), "prepare exploded")

	assert.Equal(t, StateUnlocked, m.State())
	assert.Equal(t, 3, e.count(t, "//title"))
	assertUnlocked(t, e, doc)
}

func TestProcess_PanickingFinishReportsChange(t *testing.T) {
	e := newEnv(t, nil)
	doc := testutil.ImportXML(t, e.store, "/db/panics", "books.xml", testutil.BooksXML)
	reg := trigger.NewRegistry(testutil.QuietLogger())
	reg.Register("/db/panics", trigger.EventUpdate, panickingTrigger{})
	e.ctl.triggers = trigger.NewCoordinator(reg, testutil.QuietLogger())

	n, err := e.ctl.NewModification(KindRemove, "//title", "").Process(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, xerr.PartiallyChanged(err))
	assertUnlocked(t, e, doc)
}

// explodingStorage panics on the first edit.
type explodingStorage struct {
	Storage
}

func (explodingStorage) Rename(context.Context, *dom.NodeRef, string) error {
	panic("disk on fire")
}

func TestProcess_PanickingEditReleasesLocks(t *testing.T) {
	e := newEnv(t, nil)
	doc := testutil.ImportXML(t, e.store, "/db", "books.xml", testutil.BooksXML)
	e.ctl.storage = explodingStorage{Storage: e.store}

	m := e.ctl.NewModification(KindRename, "//book", "volume")
	assert.PanicsWithValue(t, "disk on fire", func() {
		_, _ = m.Process(context.Background(), nil)
	})
	assert.Equal(t, StateUnlocked, m.State())
	assertUnlocked(t, e, doc)
}

func TestProcess_FinishFailureReportsChange(t *testing.T) {
	e := newEnv(t, nil)
	doc := testutil.ImportXML(t, e.store, "/db", "books.xml", testutil.BooksXML)
	e.triggers.FailFinish(doc.ID, errors.New("audit down"))

	m := e.ctl.NewModification(KindAppend, "//book", "isbn")
	n, err := m.Process(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, xerr.IsTriggerFailure(err))
	assert.True(t, xerr.PartiallyChanged(err))
	assert.Equal(t, 3, e.count(t, "//isbn"))
	assertUnlocked(t, e, doc)
}

func TestProcess_ConfigurationDocumentsSkipTriggers(t *testing.T) {
	e := newEnv(t, nil)
	cfg := testutil.ImportXML(t, e.store, "/db", dom.CollectionConfigName, "<collection><triggers/></collection>")

	n, err := e.ctl.NewModification(KindAppend, "//triggers", "trigger").Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	prepared, finished := e.triggers.Total()
	assert.Zero(t, prepared)
	assert.Zero(t, finished)
	assertUnlocked(t, e, cfg)
}

func TestProcess_AccessDenied(t *testing.T) {
	e := newEnv(t, nil)
	doc := testutil.ImportXML(t, e.store, "/db", "books.xml", testutil.BooksXML)

	m := e.ctl.NewModification(KindUpdate, "//title", "x")
	require.NoError(t, m.SetAccessContext("bob"))
	assert.True(t, xerr.IsAccessDenied(m.SetAccessContext("alice")), "access context is set once")

	n, err := m.Process(context.Background(), nil)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.True(t, xerr.IsAccessDenied(err))
	assert.True(t, xerr.NothingChanged(err))
	var xe *xerr.Error
	require.ErrorAs(t, err, &xe)
	assert.Equal(t, doc.ID, xe.DocID)
	assert.Zero(t, e.triggers.Prepared(doc.ID))
	assertUnlocked(t, e, doc)

	owner := e.ctl.NewModification(KindUpdate, "//title/text()", "x")
	require.NoError(t, owner.SetAccessContext("alice"))
	n, err = owner.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestProcess_SelectionMustBeNodes(t *testing.T) {
	e := newEnv(t, nil)
	doc := testutil.ImportXML(t, e.store, "/db", "books.xml", testutil.BooksXML)

	m := e.ctl.NewModification(KindRename, "count(//book)", "x")
	_, err := m.Process(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, xerr.IsInternalStore(err))
	assert.True(t, xerr.NothingChanged(err))
	assert.Equal(t, StateUnlocked, m.State())
	assertUnlocked(t, e, doc)
}

func TestProcess_ValidatesArguments(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.ctl.NewModification(KindAppend, "//book", "").Process(context.Background(), nil)
	assert.True(t, xerr.IsEvaluation(err))

	_, err = e.ctl.NewModification(Kind(42), "//book", "x").Process(context.Background(), nil)
	assert.True(t, xerr.IsEvaluation(err))
}

func TestSelectAndLock_HoldsDocumentsUntilUnlock(t *testing.T) {
	e := newEnv(t, nil)
	doc := testutil.ImportXML(t, e.store, "/db", "books.xml", testutil.BooksXML)
	ctx := context.Background()
	txn := trigger.NewTxn()

	m := e.ctl.NewModification(KindRemove, "//book", "")
	nodes, err := m.SelectAndLock(ctx, txn)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, StateLocked, m.State())
	assert.True(t, doc.Lock().HeldExclusive())
	assert.Zero(t, e.ctl.GlobalLock().SharedHolders())
	for i := 1; i < len(nodes); i++ {
		assert.Negative(t, compareNodes(nodes[i-1], nodes[i]))
	}

	_, err = m.SelectAndLock(ctx, txn)
	assert.True(t, xerr.IsEvaluation(err))

	require.NoError(t, m.UnlockAndNotifyTriggers(ctx, txn))
	require.NoError(t, m.UnlockAndNotifyTriggers(ctx, txn))
	assert.Equal(t, StateUnlocked, m.State())
	assert.Equal(t, 1, e.triggers.Finished(doc.ID))
	assertUnlocked(t, e, doc)
}

func TestProcess_SelectedNodesFollowRelocation(t *testing.T) {
	e := newEnv(t, []store.Option{store.WithPageCapacity(4)})
	testutil.ImportXML(t, e.store, "/db", "flat.xml", "<r><a/><b/><c/></r>")

	m := e.ctl.NewModification(KindAppend, "/r/*", "x")
	n, err := m.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, e.count(t, "/r/*/x"))

	// Appending under a split the page and moved b and c.
	assert.Equal(t, 2, m.Relocated())
	nodes := m.Nodes()
	require.Len(t, nodes, 3)
	assert.Equal(t, dom.NewAddress(1, 1), nodes[0].CachedAddress())
	assert.Equal(t, dom.NewAddress(2, 0), nodes[1].CachedAddress())
	assert.Equal(t, dom.NewAddress(2, 1), nodes[2].CachedAddress())
	assert.False(t, nodes[1].IsStale())
}

func TestCheckFragmentation_DefragmentsOverLimit(t *testing.T) {
	e := newEnv(t, []store.Option{store.WithPageCapacity(4)}, WithFragmentationLimit(0))
	doc := testutil.ImportXML(t, e.store, "/db", "flat.xml", "<r><a/><b/><c/></r>")

	n, err := e.ctl.NewModification(KindAppend, "/r/a", "x").Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, doc.SplitCount())
	assert.Equal(t, 1, e.count(t, "/r/a/x"))
	require.NoError(t, e.ctl.CheckFragmentation(context.Background(), dom.NewDocumentSet(doc)))
}

func TestCheckFragmentation_UnderLimitOnlyChecks(t *testing.T) {
	e := newEnv(t, []store.Option{store.WithPageCapacity(4)})
	doc := testutil.ImportXML(t, e.store, "/db", "flat.xml", "<r><a/><b/><c/></r>")

	_, err := e.ctl.NewModification(KindAppend, "/r/a", "x").Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.SplitCount())
}

func TestLockOrdering_OverlappingSetsDoNotDeadlock(t *testing.T) {
	e := newEnv(t, nil)
	a := testutil.ImportXML(t, e.store, "/db", "a.xml", "<r><n/></r>")
	b := testutil.ImportXML(t, e.store, "/db", "b.xml", "<r><n/></r>")
	c := testutil.ImportXML(t, e.store, "/db", "c.xml", "<r><n/></r>")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const rounds = 20
	sets := []*dom.DocumentSet{dom.NewDocumentSet(a, b), dom.NewDocumentSet(b, c)}
	g, ctx := errgroup.WithContext(ctx)
	for i, docs := range sets {
		i, docs := i, docs
		g.Go(func() error {
			for r := 0; r < rounds; r++ {
				m := e.ctl.NewModification(KindAppend, "/r/n", fmt.Sprintf("w%d", i), WithDocuments(docs))
				if _, err := m.Process(ctx, nil); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, rounds, e.count(t, fmt.Sprintf("doc(%d)/r/n/w0", a.ID)))
	assert.Equal(t, 2*rounds, e.count(t, fmt.Sprintf("doc(%d)/r/n/*", b.ID)))
	assert.Equal(t, rounds, e.count(t, fmt.Sprintf("doc(%d)/r/n/w1", c.ID)))
	assert.Equal(t, rounds, e.triggers.Prepared(a.ID))
	assert.Equal(t, 2*rounds, e.triggers.Prepared(b.ID))
	assertUnlocked(t, e, a, b, c)
}

func TestModification_String(t *testing.T) {
	e := newEnv(t, nil)
	tests := []struct {
		kind  Kind
		sel   string
		value string
		want  string
	}{
		{KindUpdate, "//title", "New", `<xu:update select="//title">New</xu:update>`},
		{KindRename, "//a", "b", `<xu:rename select="//a">b</xu:rename>`},
		{KindRemove, "//a", "", `<xu:remove select="//a"/>`},
		{KindAppend, "/r", "x", `<xu:append select="/r"><xu:element name="x"/></xu:append>`},
		{KindUpdate, "//t", "a<b", `<xu:update select="//t">a&lt;b</xu:update>`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.ctl.NewModification(tt.kind, tt.sel, tt.value).String())
	}
}

func TestRemovalOrder(t *testing.T) {
	doc := dom.NewDocument(1, "/db", "x.xml")
	node := func(id dom.NodeID) *dom.NodeRef { return dom.NewNodeRef(doc, id, 0, "", "", dom.InvalidAddress) }

	got := removalOrder([]*dom.NodeRef{node("1.1"), node("1.2.1"), node("1.2"), node("1.3"), node("1.1.4")})
	var ids []dom.NodeID
	for _, n := range got {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []dom.NodeID{"1.3", "1.2", "1.1"}, ids)
}
