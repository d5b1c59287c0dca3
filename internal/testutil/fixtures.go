package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/store"
	"github.com/roach88/xcore/internal/trigger"
)

// BooksXML is a small catalogue used across package tests.
const BooksXML = `<books>
  <book id="1" lang="en"><title>Go</title><author>Pike</author></book>
  <book id="2" lang="de"><title>XML</title></book>
  <book id="3" lang="en"><title>SQL</title><author>Codd</author></book>
</books>`

// QuietLogger discards everything.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenStore opens a store in a temporary directory, closed at test end.
func OpenStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	opts = append([]store.Option{store.WithLogger(QuietLogger())}, opts...)
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// ImportXML stores xml as collection/name owned by "alice".
func ImportXML(t *testing.T, s *store.Store, collection, name, xml string) *dom.Document {
	t.Helper()
	doc, err := s.Import(context.Background(), collection, name, "alice", strings.NewReader(xml))
	require.NoError(t, err)
	return doc
}

// CountingTrigger counts hook invocations per document id and can be told
// to fail. Safe for concurrent use.
type CountingTrigger struct {
	mu          sync.Mutex
	prepared    map[int64]int
	finished    map[int64]int
	failPrepare map[int64]error
	failFinish  map[int64]error
}

var _ trigger.Trigger = (*CountingTrigger)(nil)

// NewCountingTrigger creates a trigger with zero counts.
func NewCountingTrigger() *CountingTrigger {
	return &CountingTrigger{
		prepared:    make(map[int64]int),
		finished:    make(map[int64]int),
		failPrepare: make(map[int64]error),
		failFinish:  make(map[int64]error),
	}
}

// FailPrepare makes Prepare on docID return err.
func (c *CountingTrigger) FailPrepare(docID int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failPrepare[docID] = err
}

// FailFinish makes Finish on docID return err.
func (c *CountingTrigger) FailFinish(docID int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failFinish[docID] = err
}

func (c *CountingTrigger) Prepare(_ context.Context, _ trigger.Event, _ *trigger.Txn, doc *dom.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prepared[doc.ID]++
	return c.failPrepare[doc.ID]
}

func (c *CountingTrigger) Finish(_ context.Context, _ trigger.Event, _ *trigger.Txn, doc *dom.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished[doc.ID]++
	return c.failFinish[doc.ID]
}

// Prepared returns how often Prepare ran for docID.
func (c *CountingTrigger) Prepared(docID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prepared[docID]
}

// Finished returns how often Finish ran for docID.
func (c *CountingTrigger) Finished(docID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished[docID]
}

// Total returns the number of Prepare and Finish calls over all documents.
func (c *CountingTrigger) Total() (prepared, finished int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.prepared {
		prepared += n
	}
	for _, n := range c.finished {
		finished += n
	}
	return prepared, finished
}
