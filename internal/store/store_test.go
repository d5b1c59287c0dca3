package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/notify"
	"github.com/roach88/xcore/internal/xdm"
	"github.com/roach88/xcore/internal/xerr"
)

const booksXML = `<books>
  <book id="1"><title>Go</title></book>
  <book id="2"><title>XML</title></book>
</books>`

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"documents", "nodes"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	checks := map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
		"user_version": "1",
	}
	for name, want := range checks {
		if err := s.verifyPragma(name, want); err != nil {
			t.Error(err)
		}
	}
}

func TestImport_AssignsNodeIDsInDocumentOrder(t *testing.T) {
	s := createTestStore(t, WithPageCapacity(4))
	doc := importTestDocument(t, s, "books.xml", booksXML)

	tree, err := s.Tree(context.Background(), doc)
	if err != nil {
		t.Fatalf("Tree() failed: %v", err)
	}

	want := []struct {
		id   dom.NodeID
		kind xdm.Type
		name string
		addr dom.Address
	}{
		{"1", xdm.TypeElement, "books", dom.NewAddress(1, 0)},
		{"1.1", xdm.TypeElement, "book", dom.NewAddress(1, 1)},
		{"1.1.1", xdm.TypeAttribute, "id", dom.NewAddress(1, 2)},
		{"1.1.2", xdm.TypeElement, "title", dom.NewAddress(1, 3)},
		{"1.1.2.1", xdm.TypeText, "", dom.NewAddress(2, 0)},
		{"1.2", xdm.TypeElement, "book", dom.NewAddress(2, 1)},
		{"1.2.1", xdm.TypeAttribute, "id", dom.NewAddress(2, 2)},
		{"1.2.2", xdm.TypeElement, "title", dom.NewAddress(2, 3)},
		{"1.2.2.1", xdm.TypeText, "", dom.NewAddress(3, 0)},
	}
	nodes := tree.Nodes()
	if len(nodes) != len(want) {
		t.Fatalf("got %d nodes, want %d", len(nodes), len(want))
	}
	for i, w := range want {
		n := nodes[i]
		if n.ID != w.id || n.Kind != w.kind || n.Name != w.name || n.CachedAddress() != w.addr {
			t.Errorf("node %d = %s %s %q @%s, want %s %s %q @%s",
				i, n.ID, n.Kind, n.Name, n.CachedAddress(), w.id, w.kind, w.name, w.addr)
		}
	}

	if got := tree.Root().StringValue(); got != "GoXML" {
		t.Errorf("root string value = %q, want %q", got, "GoXML")
	}
	if got := tree.Node("1.2.1").StringValue(); got != "2" {
		t.Errorf("attribute value = %q, want %q", got, "2")
	}
	if got := len(tree.Children("1.1")); got != 2 {
		t.Errorf("children of 1.1 = %d, want 2", got)
	}
	if got := len(tree.Descendants("1")); got != 8 {
		t.Errorf("descendants of root = %d, want 8", got)
	}
	if doc.SplitCount() != 0 {
		t.Errorf("fresh import split count = %d, want 0", doc.SplitCount())
	}
}

func TestImport_RejectsBadInput(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for name, input := range map[string]string{
		"malformed": "<a><b></a>",
		"empty":     "   ",
		"two roots": "<a/><b/>",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Import(ctx, "/db", name, "", strings.NewReader(input)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestDocumentByID_ReturnsSharedHandle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := importTestDocument(t, s, "a.xml", "<a/>")
	b := importTestDocument(t, s, "b.xml", "<b/>")

	got, err := s.DocumentByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("DocumentByID() failed: %v", err)
	}
	if got != a {
		t.Error("DocumentByID must return the interned handle")
	}

	all, err := s.AllDocuments(ctx)
	if err != nil {
		t.Fatalf("AllDocuments() failed: %v", err)
	}
	if len(all) != 2 || all[0] != a || all[1] != b {
		t.Errorf("AllDocuments() = %v", all)
	}

	byName, err := s.DocumentByName(ctx, "/db", "b.xml")
	if err != nil || byName != b {
		t.Errorf("DocumentByName() = %v, %v", byName, err)
	}

	_, err = s.DocumentByID(ctx, 999)
	if !xerr.IsInternalStore(err) {
		t.Errorf("missing document error = %v, want internal store error", err)
	}
}

func TestDocumentByID_LoadsMetadataFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s1, err := Open(path, WithPageCapacity(2))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	doc := importTestDocument(t, s1, "a.xml", "<r><a/></r>")
	root, _ := s1.Node(context.Background(), doc, dom.RootID)
	if _, err := s1.AppendChild(context.Background(), root, xdm.TypeElement, "b", ""); err != nil {
		t.Fatalf("AppendChild() failed: %v", err)
	}
	if err := s1.SetPermissions(context.Background(), doc, "bob", 0o600); err != nil {
		t.Fatalf("SetPermissions() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()
	got, err := s2.DocumentByID(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("DocumentByID() failed: %v", err)
	}
	if got.SplitCount() != 1 || got.Generation() != 1 {
		t.Errorf("split count/generation = %d/%d, want 1/1", got.SplitCount(), got.Generation())
	}
	if got.Owner != "bob" || got.Mode != 0o600 {
		t.Errorf("owner/mode = %s/%o", got.Owner, got.Mode)
	}
}

func TestAppendChild_SplitsFullPageAndPublishesMoves(t *testing.T) {
	rec := newMovedRecorder()
	s := createTestStore(t, WithPageCapacity(4), WithPublisher(rec))
	ctx := context.Background()
	doc := importTestDocument(t, s, "r.xml", "<r><a/><b/><c/></r>")

	before, err := s.Tree(ctx, doc)
	if err != nil {
		t.Fatalf("Tree() failed: %v", err)
	}
	held := before.Node("1.3")

	added, err := s.AppendChild(ctx, before.Root(), xdm.TypeElement, "d", "")
	if err != nil {
		t.Fatalf("AppendChild() failed: %v", err)
	}
	if added.ID != "1.4" {
		t.Errorf("new node id = %s, want 1.4", added.ID)
	}
	if added.CachedAddress() != dom.NewAddress(1, 2) {
		t.Errorf("new node address = %s, want 1:2", added.CachedAddress())
	}
	if doc.SplitCount() != 1 || doc.Generation() != 1 {
		t.Errorf("split count/generation = %d/%d, want 1/1", doc.SplitCount(), doc.Generation())
	}

	wantMoved := map[dom.NodeID]dom.Address{
		"1.2": dom.NewAddress(2, 0),
		"1.3": dom.NewAddress(2, 1),
	}
	if len(rec.moved) != len(wantMoved) {
		t.Fatalf("moved = %v, want %v", rec.moved, wantMoved)
	}
	for id, addr := range wantMoved {
		n := rec.moved[id]
		if n == nil || n.CachedAddress() != addr || n.IsStale() {
			t.Errorf("moved %s = %v, want fresh handle at %s", id, n, addr)
		}
	}
	if got := rec.updates[len(rec.updates)-1]; got != notify.EventUpdate {
		t.Errorf("last update event = %s, want update", got)
	}

	// A handle nobody refreshed is detected as stale and re-resolved.
	if !held.IsStale() {
		t.Fatal("held handle should be stale after the split")
	}
	addr, err := held.Address(ctx, s)
	if err != nil {
		t.Fatalf("Address() failed: %v", err)
	}
	if addr != dom.NewAddress(2, 1) {
		t.Errorf("re-resolved address = %s, want 2:1", addr)
	}

	if err := s.CheckConsistency(ctx, doc); err != nil {
		t.Errorf("CheckConsistency() after split: %v", err)
	}
}

func TestAppendChild_RejectsNonElementParent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	doc := importTestDocument(t, s, "r.xml", "<r>text</r>")
	text, err := s.Node(ctx, doc, "1.1")
	if err != nil {
		t.Fatalf("Node() failed: %v", err)
	}
	_, err = s.AppendChild(ctx, text, xdm.TypeElement, "x", "")
	if !xerr.IsTypeMismatch(err) {
		t.Errorf("err = %v, want type mismatch", err)
	}
}

func TestCreateRoot(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	doc, err := s.CreateDocument(ctx, "/db", "new.xml", "alice")
	if err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}
	root, err := s.CreateRoot(ctx, doc, "root")
	if err != nil {
		t.Fatalf("CreateRoot() failed: %v", err)
	}
	if root.ID != dom.RootID || root.CachedAddress() != dom.NewAddress(1, 0) {
		t.Errorf("root = %v", root)
	}
	if _, err := s.CreateRoot(ctx, doc, "again"); err == nil {
		t.Error("second root must be rejected")
	}
}

func TestDefragment_RepacksAndResetsSplitCount(t *testing.T) {
	rec := newMovedRecorder()
	s := createTestStore(t, WithPageCapacity(4), WithPublisher(rec))
	ctx := context.Background()
	doc := importTestDocument(t, s, "r.xml", "<r><a/><b/><c/></r>")
	root, _ := s.Node(ctx, doc, dom.RootID)
	if _, err := s.AppendChild(ctx, root, xdm.TypeElement, "d", ""); err != nil {
		t.Fatalf("AppendChild() failed: %v", err)
	}
	rec.moved = make(map[dom.NodeID]*dom.NodeRef)
	gen := doc.Generation()

	if err := s.Defragment(ctx, doc); err != nil {
		t.Fatalf("Defragment() failed: %v", err)
	}
	if doc.SplitCount() != 0 {
		t.Errorf("split count = %d, want 0", doc.SplitCount())
	}
	if doc.Generation() != gen+1 {
		t.Errorf("generation = %d, want %d", doc.Generation(), gen+1)
	}

	wantMoved := map[dom.NodeID]dom.Address{
		"1.2": dom.NewAddress(1, 2),
		"1.3": dom.NewAddress(1, 3),
		"1.4": dom.NewAddress(2, 0),
	}
	if len(rec.moved) != len(wantMoved) {
		t.Fatalf("moved %d nodes, want %d", len(rec.moved), len(wantMoved))
	}
	for id, addr := range wantMoved {
		if got := rec.moved[id].CachedAddress(); got != addr {
			t.Errorf("%s moved to %s, want %s", id, got, addr)
		}
	}
	if rec.updates[len(rec.updates)-1] != notify.EventDefragment {
		t.Error("defragment event not published")
	}
	if err := s.CheckConsistency(ctx, doc); err != nil {
		t.Errorf("CheckConsistency() after defragment: %v", err)
	}
}

func TestCheckConsistency_ReportsAllProblems(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	doc := importTestDocument(t, s, "r.xml", "<r><a/></r>")

	// An orphan and a node whose parent column disagrees with its id.
	if _, err := s.db.Exec(`
		INSERT INTO nodes (doc_id, node_id, parent, kind, name, value, page, slot)
		VALUES (?, '1.5.1', '1.5', 'element', 'x', '', 1, 10),
		       (?, '1.1.1', '1', 'element', 'y', '', 1, 11)
	`, doc.ID, doc.ID); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	err := s.CheckConsistency(ctx, doc)
	if !xerr.IsInternalStore(err) {
		t.Fatalf("err = %v, want internal store error", err)
	}
	msg := err.Error()
	for _, want := range []string{"2 problem(s)", "orphan", "does not match id", "doc="} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestEdits(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	doc := importTestDocument(t, s, "books.xml", booksXML)

	node := func(id dom.NodeID) *dom.NodeRef {
		t.Helper()
		n, err := s.Node(ctx, doc, id)
		if err != nil {
			t.Fatalf("Node(%s) failed: %v", id, err)
		}
		return n
	}

	if err := s.UpdateValue(ctx, node("1.1.2.1"), "Golang"); err != nil {
		t.Fatalf("UpdateValue(text) failed: %v", err)
	}
	if err := s.UpdateValue(ctx, node("1.2.1"), "20"); err != nil {
		t.Fatalf("UpdateValue(attribute) failed: %v", err)
	}
	if err := s.UpdateValue(ctx, node("1.2"), "gone"); err != nil {
		t.Fatalf("UpdateValue(element) failed: %v", err)
	}
	if err := s.Rename(ctx, node("1.1"), "volume"); err != nil {
		t.Fatalf("Rename() failed: %v", err)
	}
	if err := s.Rename(ctx, node("1.1.2.1"), "x"); !xerr.IsTypeMismatch(err) {
		t.Errorf("Rename(text) = %v, want type mismatch", err)
	}

	tree, err := s.Tree(ctx, doc)
	if err != nil {
		t.Fatalf("Tree() failed: %v", err)
	}
	if got := tree.Node("1.1").Name; got != "volume" {
		t.Errorf("renamed element = %q", got)
	}
	if got := tree.Node("1.1").StringValue(); got != "Golang" {
		t.Errorf("updated text = %q", got)
	}
	if got := tree.Node("1.2.1").StringValue(); got != "20" {
		t.Errorf("attribute kept through element update = %q, want 20", got)
	}
	if got := tree.Node("1.2").StringValue(); got != "gone" {
		t.Errorf("element content = %q, want gone", got)
	}
	if n := tree.Node("1.2.2"); n == nil || n.Kind != xdm.TypeText {
		t.Errorf("replacement text node = %v", n)
	}
	if tree.Node("1.2.2.1") != nil {
		t.Error("old element content must be removed")
	}

	if err := s.RemoveNode(ctx, node("1.1")); err != nil {
		t.Fatalf("RemoveNode() failed: %v", err)
	}
	tree, _ = s.Tree(ctx, doc)
	for _, id := range []dom.NodeID{"1.1", "1.1.1", "1.1.2", "1.1.2.1"} {
		if tree.Node(id) != nil {
			t.Errorf("node %s survived subtree removal", id)
		}
	}
	if err := s.CheckConsistency(ctx, doc); err != nil {
		t.Errorf("CheckConsistency() after edits: %v", err)
	}
}
