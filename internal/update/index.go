package update

import (
	"slices"
	"sync"

	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/notify"
)

// indexListener keeps a modification's selected nodes current while the
// edit runs: a node moved by a page split or a defragmentation is
// replaced by the published handle.
type indexListener struct {
	mu    sync.Mutex
	nodes []*dom.NodeRef
	moved int
}

var _ notify.Listener = (*indexListener)(nil)

func newIndexListener(nodes []*dom.NodeRef) *indexListener {
	return &indexListener{nodes: nodes}
}

func (l *indexListener) DocumentUpdated(*dom.Document, notify.Event) {}

func (l *indexListener) NodeMoved(oldID dom.NodeID, newNode *dom.NodeRef) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, n := range l.nodes {
		if n.Doc.ID == newNode.Doc.ID && n.ID == oldID {
			l.nodes[i] = newNode.Clone()
			l.moved++
		}
	}
}

func (l *indexListener) Unsubscribe() {}

// node returns the current handle at i.
func (l *indexListener) node(i int) *dom.NodeRef {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nodes[i]
}

// snapshot returns a copy of the current handles.
func (l *indexListener) snapshot() []*dom.NodeRef {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.nodes)
}

// relocated returns how many handles were replaced.
func (l *indexListener) relocated() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.moved
}

// compareNodes orders nodes by document, then by physical address, then
// by document order for nodes that share an address snapshot.
func compareNodes(a, b *dom.NodeRef) int {
	switch {
	case a.Doc.ID < b.Doc.ID:
		return -1
	case a.Doc.ID > b.Doc.ID:
		return 1
	}
	if aa, ba := a.CachedAddress(), b.CachedAddress(); aa != ba {
		if aa < ba {
			return -1
		}
		return 1
	}
	return a.ID.Compare(b.ID)
}

// removalOrder returns nodes in reverse document order without nodes
// whose ancestor is also selected, since removing the ancestor removes
// them too.
func removalOrder(nodes []*dom.NodeRef) []*dom.NodeRef {
	sorted := slices.Clone(nodes)
	slices.SortFunc(sorted, func(a, b *dom.NodeRef) int { return b.Compare(a) })

	out := make([]*dom.NodeRef, 0, len(sorted))
	for _, n := range sorted {
		covered := false
		for _, m := range sorted {
			if m.Doc.ID == n.Doc.ID && n.ID.IsDescendantOf(m.ID) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, n)
		}
	}
	return out
}
