package dom

import (
	"fmt"
	"sync/atomic"

	"github.com/roach88/xcore/internal/lock"
)

// CollectionConfigName is the document name reserved for collection
// configuration. Configuration documents are exempt from triggers.
const CollectionConfigName = "collection.xconf"

// Permission bits, Unix style, for owner and others.
const (
	PermOwnerWrite uint32 = 0o200
	PermOtherWrite uint32 = 0o002
)

// AdminSubject may write any document.
const AdminSubject = "admin"

// Document owns a persistent tree of nodes.
//
// A Document value is shared by every query and mutation touching it; the
// store hands out exactly one *Document per id so that its lock is the
// single guard for its structure.
//
// Thread-safety: metadata counters are atomic; structure may only be
// altered by the holder of Lock() in exclusive mode.
type Document struct {
	ID         int64
	Collection string
	Name       string
	Owner      string
	Mode       uint32

	lock       *lock.RWLock
	splitCount atomic.Int64
	generation atomic.Uint64
}

// NewDocument creates a Document with its own lock.
func NewDocument(id int64, collection, name string) *Document {
	return &Document{
		ID:         id,
		Collection: collection,
		Name:       name,
		Mode:       0o644,
		lock:       lock.New(fmt.Sprintf("document %d", id)),
	}
}

// URI returns the collection-qualified document path.
func (d *Document) URI() string {
	return d.Collection + "/" + d.Name
}

// Lock returns the document lock.
func (d *Document) Lock() *lock.RWLock {
	return d.lock
}

// IsConfig reports whether d is a collection configuration document.
func (d *Document) IsConfig() bool {
	return d.Name == CollectionConfigName
}

// WritableBy reports whether subject may modify the document.
func (d *Document) WritableBy(subject string) bool {
	if subject == AdminSubject {
		return true
	}
	if subject == d.Owner && d.Mode&PermOwnerWrite != 0 {
		return true
	}
	return d.Mode&PermOtherWrite != 0
}

// SplitCount returns the number of page splits since the last
// defragmentation.
func (d *Document) SplitCount() int64 {
	return d.splitCount.Load()
}

// SetSplitCount replaces the split count (used when loading metadata).
func (d *Document) SetSplitCount(n int64) {
	d.splitCount.Store(n)
}

// IncSplitCount records one page split and returns the new count.
func (d *Document) IncSplitCount() int64 {
	return d.splitCount.Add(1)
}

// Generation returns the address generation. Cached addresses resolved
// under an older generation are stale.
func (d *Document) Generation() uint64 {
	return d.generation.Load()
}

// SetGeneration replaces the generation (used when loading metadata).
func (d *Document) SetGeneration(g uint64) {
	d.generation.Store(g)
}

// BumpGeneration invalidates every cached address and returns the new
// generation.
func (d *Document) BumpGeneration() uint64 {
	return d.generation.Add(1)
}

// String returns the document URI and id.
func (d *Document) String() string {
	return fmt.Sprintf("%s#%d", d.URI(), d.ID)
}
