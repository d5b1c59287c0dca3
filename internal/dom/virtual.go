package dom

import (
	"sync"

	"github.com/roach88/xcore/internal/xdm"
)

// VirtualNodeSet is a lazily materialized node collection, e.g. "every
// element named x in these documents". It is its own universe: filters
// treat membership in it as given.
//
// Context annotations are intrinsic: in self-is-context mode every node is
// its own context node for the configured context id, added as nodes are
// realized. ClearContext is a no-op because nothing removable is stored.
type VirtualNodeSet struct {
	mu            sync.Mutex
	docs          *DocumentSet
	load          func() ([]*NodeRef, error)
	realized      *ArrayNodeSet
	err           error
	inPredicate   bool
	selfContextID int
}

// NewVirtualNodeSet creates a virtual set over docs. load is called once,
// on first access, to materialize the members.
func NewVirtualNodeSet(docs *DocumentSet, load func() ([]*NodeRef, error)) *VirtualNodeSet {
	return &VirtualNodeSet{docs: docs, load: load}
}

// SetInPredicate marks the set as the context of a filter.
func (v *VirtualNodeSet) SetInPredicate(in bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inPredicate = in
}

// InPredicate reports whether the set is the context of a filter.
func (v *VirtualNodeSet) InPredicate() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.inPredicate
}

// SetSelfIsContext makes every member its own context node for contextID.
func (v *VirtualNodeSet) SetSelfIsContext(contextID int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.selfContextID = contextID
	if v.realized != nil {
		v.realized.SetContext(contextID)
	}
}

// Realize materializes the set. It is safe to call repeatedly; the loader
// runs at most once.
func (v *VirtualNodeSet) Realize() error {
	_, err := v.realize()
	return err
}

// Err returns the materialization error, if any.
func (v *VirtualNodeSet) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

func (v *VirtualNodeSet) realize() (*ArrayNodeSet, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.realized != nil || v.err != nil {
		return v.realized, v.err
	}
	nodes, err := v.load()
	if err != nil {
		v.err = err
		return nil, err
	}
	set := NewArrayNodeSet()
	for _, n := range nodes {
		if v.selfContextID != 0 {
			n.AddContextNode(v.selfContextID, n)
		}
		set.Add(n, NoSizeHint)
	}
	v.realized = set
	return set, nil
}

func (v *VirtualNodeSet) members() *ArrayNodeSet {
	set, err := v.realize()
	if err != nil {
		return NewArrayNodeSet()
	}
	return set
}

// Len implements xdm.Sequence. A failed materialization reads as empty;
// check Err or call Realize first.
func (v *VirtualNodeSet) Len() int { return v.members().Len() }

// ItemAt implements xdm.Sequence.
func (v *VirtualNodeSet) ItemAt(i int) xdm.Item { return v.members().ItemAt(i) }

// ItemType implements xdm.Sequence.
func (v *VirtualNodeSet) ItemType() xdm.Type {
	if t := v.members().ItemType(); t != xdm.TypeEmpty {
		return t
	}
	return xdm.TypeNode
}

// IsPersistentSet implements xdm.Sequence.
func (v *VirtualNodeSet) IsPersistentSet() bool { return true }

// Contains implements NodeSet.
func (v *VirtualNodeSet) Contains(key NodeKey) bool { return v.members().Contains(key) }

// Get implements NodeSet.
func (v *VirtualNodeSet) Get(key NodeKey) *NodeRef { return v.members().Get(key) }

// Nodes implements NodeSet.
func (v *VirtualNodeSet) Nodes() []*NodeRef { return v.members().Nodes() }

// DocumentSet implements NodeSet.
func (v *VirtualNodeSet) DocumentSet() *DocumentSet { return v.docs }

// SizeHint implements NodeSet.
func (v *VirtualNodeSet) SizeHint(doc *Document) int { return v.members().SizeHint(doc) }

// SetContext implements NodeSet by switching to self-is-context mode.
func (v *VirtualNodeSet) SetContext(contextID int) { v.SetSelfIsContext(contextID) }

// ClearContext implements NodeSet as a no-op.
func (v *VirtualNodeSet) ClearContext(int) {}

// NodeMoved implements NodeSet. Unrealized sets have nothing to update.
func (v *VirtualNodeSet) NodeMoved(oldID NodeID, newNode *NodeRef) {
	v.mu.Lock()
	set := v.realized
	v.mu.Unlock()
	if set != nil {
		set.NodeMoved(oldID, newNode)
	}
}
