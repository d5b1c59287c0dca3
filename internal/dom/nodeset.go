package dom

import (
	"slices"
	"sync"

	"github.com/roach88/xcore/internal/xdm"
	"github.com/roach88/xcore/internal/xerr"
)

// NoSizeHint means the number of nodes per document is unknown.
const NoSizeHint = -1

// NodeSet is a persistent sequence: a set of live node identities in
// document order with duplicate elimination by identity.
type NodeSet interface {
	xdm.Sequence

	// Contains reports whether the node identified by key is a member.
	Contains(key NodeKey) bool

	// Get returns the member identified by key, or nil.
	Get(key NodeKey) *NodeRef

	// Nodes returns the members in document order.
	Nodes() []*NodeRef

	// DocumentSet returns the documents owning the members.
	DocumentSet() *DocumentSet

	// SizeHint returns the number of members owned by doc, or NoSizeHint.
	SizeHint(doc *Document) int

	// SetContext makes every member its own context node for contextID.
	SetContext(contextID int)

	// ClearContext removes trail entries for contextID from every member.
	ClearContext(contextID int)

	// NodeMoved replaces any member of newNode's document whose id is
	// oldID with newNode.
	NodeMoved(oldID NodeID, newNode *NodeRef)
}

// ArrayNodeSet is the general-purpose NodeSet.
//
// Thread-safety: all methods are safe for concurrent use. Relocation
// notifications arrive from the mutating goroutine while the owning
// query may be iterating.
type ArrayNodeSet struct {
	mu     sync.Mutex
	nodes  []*NodeRef
	index  map[NodeKey]int
	sorted bool
}

// NewArrayNodeSet creates a set holding nodes.
func NewArrayNodeSet(nodes ...*NodeRef) *ArrayNodeSet {
	s := &ArrayNodeSet{index: make(map[NodeKey]int, len(nodes)), sorted: true}
	for _, n := range nodes {
		s.Add(n, NoSizeHint)
	}
	return s
}

// Add inserts n. If a node with the same identity is already present,
// n's trail is merged into it and the set is unchanged otherwise.
// sizeHint is the expected number of nodes for n's document; it is used
// to grow storage once rather than per node.
func (s *ArrayNodeSet) Add(n *NodeRef, sizeHint int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(n, sizeHint)
}

func (s *ArrayNodeSet) addLocked(n *NodeRef, sizeHint int) {
	key := n.Key()
	if i, ok := s.index[key]; ok {
		if s.nodes[i] != n {
			s.nodes[i].CopyContext(n)
		}
		return
	}
	if sizeHint > 0 && cap(s.nodes)-len(s.nodes) < sizeHint {
		s.nodes = slices.Grow(s.nodes, sizeHint)
	}
	if len(s.nodes) > 0 && s.sorted && s.nodes[len(s.nodes)-1].Compare(n) > 0 {
		s.sorted = false
	}
	s.index[key] = len(s.nodes)
	s.nodes = append(s.nodes, n)
}

// AddAll inserts every member of other.
func (s *ArrayNodeSet) AddAll(other NodeSet) {
	for _, n := range other.Nodes() {
		s.Add(n, NoSizeHint)
	}
}

func (s *ArrayNodeSet) sortLocked() {
	if s.sorted {
		return
	}
	slices.SortFunc(s.nodes, func(a, b *NodeRef) int { return a.Compare(b) })
	for i, n := range s.nodes {
		s.index[n.Key()] = i
	}
	s.sorted = true
}

// Len implements xdm.Sequence.
func (s *ArrayNodeSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// ItemAt implements xdm.Sequence.
func (s *ArrayNodeSet) ItemAt(i int) xdm.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sortLocked()
	return s.nodes[i]
}

// ItemType implements xdm.Sequence.
func (s *ArrayNodeSet) ItemType() xdm.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := xdm.TypeEmpty
	for _, n := range s.nodes {
		t = xdm.CommonSupertype(t, n.Kind)
	}
	return t
}

// IsPersistentSet implements xdm.Sequence.
func (s *ArrayNodeSet) IsPersistentSet() bool { return true }

// Contains implements NodeSet.
func (s *ArrayNodeSet) Contains(key NodeKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[key]
	return ok
}

// Get implements NodeSet.
func (s *ArrayNodeSet) Get(key NodeKey) *NodeRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[key]; ok {
		return s.nodes[i]
	}
	return nil
}

// Nodes implements NodeSet.
func (s *ArrayNodeSet) Nodes() []*NodeRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sortLocked()
	out := make([]*NodeRef, len(s.nodes))
	copy(out, s.nodes)
	return out
}

// DocumentSet implements NodeSet.
func (s *ArrayNodeSet) DocumentSet() *DocumentSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds := NewDocumentSet()
	for _, n := range s.nodes {
		ds.Add(n.Doc)
	}
	return ds
}

// SizeHint implements NodeSet.
func (s *ArrayNodeSet) SizeHint(doc *Document) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.nodes {
		if n.Doc.ID == doc.ID {
			count++
		}
	}
	if count == 0 {
		return NoSizeHint
	}
	return count
}

// SetContext implements NodeSet. It holds the set's lock so tagging does
// not race with NodeMoved carrying trails over to relocated members.
func (s *ArrayNodeSet) SetContext(contextID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		n.AddContextNode(contextID, n)
	}
}

// ClearContext implements NodeSet.
func (s *ArrayNodeSet) ClearContext(contextID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		n.ClearContext(contextID)
	}
}

// NodeMoved implements NodeSet. The replaced member's trail is carried
// over to the new handle so in-flight context annotations survive
// relocation.
func (s *ArrayNodeSet) NodeMoved(oldID NodeID, newNode *NodeRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldKey := NodeKey{DocID: newNode.Doc.ID, ID: oldID}
	i, ok := s.index[oldKey]
	if !ok {
		return
	}
	old := s.nodes[i]
	if old == newNode {
		return
	}
	// The published handle is shared by every subscriber; keep a private
	// copy so trails stay per set.
	repl := newNode.Clone()
	repl.CopyContext(old)
	delete(s.index, oldKey)
	if j, dup := s.index[repl.Key()]; dup {
		// The new identity is already a member; drop the old slot.
		s.nodes[j].CopyContext(repl)
		s.nodes = slices.Delete(s.nodes, i, i+1)
		for k := i; k < len(s.nodes); k++ {
			s.index[s.nodes[k].Key()] = k
		}
		return
	}
	s.nodes[i] = repl
	s.index[repl.Key()] = i
	if oldID != newNode.ID {
		s.sorted = false
	}
}

// AsNodeSet converts seq to a NodeSet. Persistent sets are returned as is;
// constructed sequences are accepted only if every item is a node.
func AsNodeSet(seq xdm.Sequence) (NodeSet, error) {
	if ns, ok := seq.(NodeSet); ok {
		return ns, nil
	}
	out := NewArrayNodeSet()
	if seq == nil {
		return out, nil
	}
	for i := 0; i < seq.Len(); i++ {
		n, ok := seq.ItemAt(i).(*NodeRef)
		if !ok {
			return nil, xerr.New(xerr.KindInternalStore,
				"expected a node-set; got %s at position %d", seq.ItemAt(i).ItemType(), i+1)
		}
		out.Add(n, NoSizeHint)
	}
	return out, nil
}
