package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/notify"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// importTestDocument stores xml as /db/name.
func importTestDocument(t *testing.T, s *Store, name, xml string) *dom.Document {
	t.Helper()
	doc, err := s.Import(context.Background(), "/db", name, "alice", strings.NewReader(xml))
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	return doc
}

// movedRecorder collects relocation notifications.
type movedRecorder struct {
	moved   map[dom.NodeID]*dom.NodeRef
	updates []notify.Event
}

func newMovedRecorder() *movedRecorder {
	return &movedRecorder{moved: make(map[dom.NodeID]*dom.NodeRef)}
}

func (r *movedRecorder) NotifyMoved(oldID dom.NodeID, n *dom.NodeRef) {
	r.moved[oldID] = n
}

func (r *movedRecorder) NotifyUpdated(_ *dom.Document, ev notify.Event) {
	r.updates = append(r.updates, ev)
}
