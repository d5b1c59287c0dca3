package dom

import (
	"context"
	"fmt"

	"github.com/roach88/xcore/internal/xdm"
	"github.com/roach88/xcore/internal/xerr"
)

// Resolver maps a logical node id to its current physical address.
// Implemented by the storage layer.
type Resolver interface {
	ResolveAddress(ctx context.Context, docID int64, id NodeID) (Address, error)
}

// NodeKey is the identity of a node: equal keys denote the same logical
// node regardless of how many NodeRefs alias it.
type NodeKey struct {
	DocID int64
	ID    NodeID
}

// String renders the key as "doc/id".
func (k NodeKey) String() string {
	return fmt.Sprintf("%d/%s", k.DocID, k.ID)
}

// NodeRef pairs a logical NodeID with a cached physical address and its
// owning Document. It is the node item of the data model.
//
// The cached address is only valid for the document generation it was
// resolved under; Address detects staleness and re-resolves.
//
// A NodeRef and its Trail belong to a single evaluation; they are not
// safe for concurrent mutation.
type NodeRef struct {
	Doc   *Document
	ID    NodeID
	Kind  xdm.Type
	Name  string
	Value string

	addr  Address
	gen   uint64
	trail Trail
}

// NewNodeRef creates a reference whose address is current for the
// document's present generation.
func NewNodeRef(doc *Document, id NodeID, kind xdm.Type, name, value string, addr Address) *NodeRef {
	return &NodeRef{
		Doc:   doc,
		ID:    id,
		Kind:  kind,
		Name:  name,
		Value: value,
		addr:  addr,
		gen:   doc.Generation(),
	}
}

// ItemType implements xdm.Item.
func (n *NodeRef) ItemType() xdm.Type {
	return n.Kind
}

// StringValue implements xdm.Item.
func (n *NodeRef) StringValue() string {
	return n.Value
}

// Clone returns a copy of n with the same cached address and an empty
// trail.
func (n *NodeRef) Clone() *NodeRef {
	return &NodeRef{
		Doc:   n.Doc,
		ID:    n.ID,
		Kind:  n.Kind,
		Name:  n.Name,
		Value: n.Value,
		addr:  n.addr,
		gen:   n.gen,
	}
}

// Key returns the node identity.
func (n *NodeRef) Key() NodeKey {
	return NodeKey{DocID: n.Doc.ID, ID: n.ID}
}

// SameNode reports whether n and other denote the same logical node.
func (n *NodeRef) SameNode(other *NodeRef) bool {
	return other != nil && n.Key() == other.Key()
}

// Compare orders nodes by document id, then document order.
func (n *NodeRef) Compare(other *NodeRef) int {
	switch {
	case n.Doc.ID < other.Doc.ID:
		return -1
	case n.Doc.ID > other.Doc.ID:
		return 1
	}
	return n.ID.Compare(other.ID)
}

// IsStale reports whether the cached address predates the document's
// current generation.
func (n *NodeRef) IsStale() bool {
	return n.gen != n.Doc.Generation()
}

// CachedAddress returns the cached address without validation.
func (n *NodeRef) CachedAddress() Address {
	return n.addr
}

// SetAddress records addr as valid for the current generation.
func (n *NodeRef) SetAddress(addr Address) {
	n.addr = addr
	n.gen = n.Doc.Generation()
}

// Address returns the node's physical address, re-resolving through r if
// the cached value is stale.
func (n *NodeRef) Address(ctx context.Context, r Resolver) (Address, error) {
	if !n.IsStale() && n.addr.Valid() {
		return n.addr, nil
	}
	gen := n.Doc.Generation()
	addr, err := r.ResolveAddress(ctx, n.Doc.ID, n.ID)
	if err != nil {
		return InvalidAddress, xerr.Wrap(xerr.KindInternalStore, err,
			"resolve address").OnNode(n.Doc.ID, string(n.ID))
	}
	n.addr = addr
	n.gen = gen
	return addr, nil
}

// Trail returns the node's context trail.
func (n *NodeRef) Trail() *Trail {
	return &n.trail
}

// AddContextNode records that n was produced from ctxNode for contextID.
func (n *NodeRef) AddContextNode(contextID int, ctxNode *NodeRef) {
	n.trail.Add(contextID, ctxNode.Key())
}

// CopyContext adds all of from's trail entries to n.
func (n *NodeRef) CopyContext(from *NodeRef) {
	if from == nil || from == n {
		return
	}
	n.trail.CopyFrom(&from.trail)
}

// ClearContext removes the entries for contextID.
func (n *NodeRef) ClearContext(contextID int) {
	n.trail.Clear(contextID)
}

// String renders the node for diagnostics.
func (n *NodeRef) String() string {
	return fmt.Sprintf("%s[%s %s@%s]", n.Doc.URI(), n.Kind, n.ID, n.addr)
}
