package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/trigger"
)

func TestCounter_NextAndReset(t *testing.T) {
	c := NewCounter()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())

	c.Reset()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
}

func TestCounter_ThreadSafe(t *testing.T) {
	c := NewCounter()
	const goroutines = 50
	const calls = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				c.Next()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(goroutines*calls), c.Current())
}

func TestFixedIDGenerator(t *testing.T) {
	assert.Equal(t, "txn-7", NewFixedIDGenerator("txn-7").Generate())
	assert.Equal(t, "test-txn-default", NewFixedIDGenerator("").Generate())

	txn := trigger.NewTxnWithGenerator(NewFixedIDGenerator("txn-9"))
	assert.Equal(t, "txn-9", txn.ID)
}

func TestCountingTrigger(t *testing.T) {
	ct := NewCountingTrigger()
	doc := dom.NewDocument(5, "/db", "a.xml")
	ct.FailFinish(5, errors.New("boom"))

	require.NoError(t, ct.Prepare(context.Background(), trigger.EventUpdate, trigger.NewTxn(), doc))
	assert.EqualError(t, ct.Finish(context.Background(), trigger.EventUpdate, trigger.NewTxn(), doc), "boom")
	assert.Equal(t, 1, ct.Prepared(5))
	assert.Equal(t, 1, ct.Finished(5))

	p, f := ct.Total()
	assert.Equal(t, 1, p)
	assert.Equal(t, 1, f)
}

func TestOpenStoreAndImport(t *testing.T) {
	s := OpenStore(t)
	doc := ImportXML(t, s, "/db", "books.xml", BooksXML)
	assert.Equal(t, "/db/books.xml", doc.URI())

	tree, err := s.Tree(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "books", tree.Root().Name)
}
