package dom

import (
	"context"
	"slices"

	"github.com/roach88/xcore/internal/lock"
	"github.com/roach88/xcore/internal/xerr"
)

// DocumentSet is an unordered collection of documents in scope for one
// query or mutation. Iteration and group locking always proceed in
// ascending id order, which makes lock acquisition order identical across
// concurrent operations and therefore deadlock-free.
//
// A DocumentSet is owned by one operation and is not safe for concurrent
// mutation.
type DocumentSet struct {
	docs map[int64]*Document
}

// NewDocumentSet creates a set holding docs.
func NewDocumentSet(docs ...*Document) *DocumentSet {
	ds := &DocumentSet{docs: make(map[int64]*Document, len(docs))}
	for _, d := range docs {
		ds.Add(d)
	}
	return ds
}

// Add inserts doc; adding a document twice is a no-op.
func (ds *DocumentSet) Add(doc *Document) {
	if ds.docs == nil {
		ds.docs = make(map[int64]*Document)
	}
	ds.docs[doc.ID] = doc
}

// Contains reports whether the document with id is in the set.
func (ds *DocumentSet) Contains(id int64) bool {
	_, ok := ds.docs[id]
	return ok
}

// Get returns the document with id, or nil.
func (ds *DocumentSet) Get(id int64) *Document {
	return ds.docs[id]
}

// Len returns the number of documents.
func (ds *DocumentSet) Len() int {
	if ds == nil {
		return 0
	}
	return len(ds.docs)
}

// IDs returns the document ids in ascending order.
func (ds *DocumentSet) IDs() []int64 {
	if ds == nil {
		return nil
	}
	ids := make([]int64, 0, len(ds.docs))
	for id := range ds.docs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Documents returns the documents in ascending id order.
func (ds *DocumentSet) Documents() []*Document {
	ids := ds.IDs()
	out := make([]*Document, len(ids))
	for i, id := range ids {
		out[i] = ds.docs[id]
	}
	return out
}

// Lock acquires every document lock in mode, in ascending id order.
// If any acquisition fails, the locks already taken are released in
// reverse order before the error is returned, so a failed Lock holds
// nothing.
func (ds *DocumentSet) Lock(ctx context.Context, mode lock.Mode) error {
	docs := ds.Documents()
	for i, doc := range docs {
		if err := doc.Lock().Acquire(ctx, mode); err != nil {
			for j := i - 1; j >= 0; j-- {
				docs[j].Lock().Release(mode)
			}
			return xerr.Wrap(xerr.KindLockFailure, err, "lock document set").OnDocument(doc.ID)
		}
	}
	return nil
}

// Unlock releases every document lock held in mode, in descending id order.
func (ds *DocumentSet) Unlock(mode lock.Mode) {
	docs := ds.Documents()
	for i := len(docs) - 1; i >= 0; i-- {
		docs[i].Lock().Release(mode)
	}
}
