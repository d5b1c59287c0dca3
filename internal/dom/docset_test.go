package dom

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/xcore/internal/lock"
	"github.com/roach88/xcore/internal/xerr"
)

func TestDocumentSet_OrderedByID(t *testing.T) {
	a := NewDocument(3, "/db", "c.xml")
	b := NewDocument(1, "/db", "a.xml")
	c := NewDocument(2, "/db", "b.xml")
	ds := NewDocumentSet(a, b, c, a)

	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, []int64{1, 2, 3}, ds.IDs())
	assert.Same(t, b, ds.Documents()[0])
	assert.True(t, ds.Contains(2))
	assert.Nil(t, ds.Get(9))
}

func TestDocumentSet_LockUnlock(t *testing.T) {
	docs := []*Document{NewDocument(1, "/db", "a"), NewDocument(2, "/db", "b")}
	ds := NewDocumentSet(docs...)

	require.NoError(t, ds.Lock(context.Background(), lock.Exclusive))
	for _, d := range docs {
		assert.True(t, d.Lock().HeldExclusive())
	}
	ds.Unlock(lock.Exclusive)
	for _, d := range docs {
		assert.False(t, d.Lock().HeldExclusive())
	}
}

func TestDocumentSet_FailedLockReleasesAcquired(t *testing.T) {
	a := NewDocument(1, "/db", "a")
	b := NewDocument(2, "/db", "b")
	require.NoError(t, b.Lock().Acquire(context.Background(), lock.Exclusive))
	defer b.Lock().Release(lock.Exclusive)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := NewDocumentSet(a, b).Lock(ctx, lock.Exclusive)
	require.Error(t, err)
	assert.True(t, xerr.IsLockFailure(err))
	assert.Contains(t, err.Error(), "doc=2")
	assert.False(t, a.Lock().HeldExclusive(), "lock on doc 1 must not leak")
}

// Two mutations over overlapping sets {A,B} and {B,C} acquire in ascending
// id order and so can never deadlock.
func TestDocumentSet_OverlappingSetsDoNotDeadlock(t *testing.T) {
	a := NewDocument(1, "/db", "a")
	b := NewDocument(2, "/db", "b")
	c := NewDocument(3, "/db", "c")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run := func(ds *DocumentSet) func() error {
		return func() error {
			for i := 0; i < 200; i++ {
				if err := ds.Lock(ctx, lock.Exclusive); err != nil {
					return err
				}
				ds.Unlock(lock.Exclusive)
			}
			return nil
		}
	}

	var g errgroup.Group
	// Insertion order differs from id order on purpose.
	g.Go(run(NewDocumentSet(b, a)))
	g.Go(run(NewDocumentSet(c, b)))
	g.Go(run(NewDocumentSet(c, a, b)))
	require.NoError(t, g.Wait())
}
