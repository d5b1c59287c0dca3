package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/xdm"
	"github.com/roach88/xcore/internal/xerr"
)

// Node kinds as persisted in nodes.kind.
const (
	kindElement   = "element"
	kindAttribute = "attribute"
	kindText      = "text"
)

func kindToType(kind string) (xdm.Type, error) {
	switch kind {
	case kindElement:
		return xdm.TypeElement, nil
	case kindAttribute:
		return xdm.TypeAttribute, nil
	case kindText:
		return xdm.TypeText, nil
	default:
		return 0, fmt.Errorf("unknown node kind %q", kind)
	}
}

func typeToKind(t xdm.Type) (string, error) {
	switch t {
	case xdm.TypeElement:
		return kindElement, nil
	case xdm.TypeAttribute:
		return kindAttribute, nil
	case xdm.TypeText:
		return kindText, nil
	default:
		return "", xerr.New(xerr.KindTypeMismatch, "cannot store a node of type %s", t)
	}
}

// nodeRow is one row of the nodes table.
type nodeRow struct {
	id     dom.NodeID
	parent dom.NodeID
	kind   string
	name   string
	value  string
	addr   dom.Address
}

// Tree is a read snapshot of one document's nodes in document order.
//
// NodeRefs handed out by a Tree are shared by every caller of that Tree;
// callers that attach context trails should Clone them first.
type Tree struct {
	doc      *dom.Document
	nodes    []*dom.NodeRef
	byID     map[dom.NodeID]*dom.NodeRef
	children map[dom.NodeID][]*dom.NodeRef
}

// Document returns the snapshot's document.
func (t *Tree) Document() *dom.Document { return t.doc }

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// Root returns the root element, or nil for an empty document.
func (t *Tree) Root() *dom.NodeRef {
	return t.byID[dom.RootID]
}

// Node returns the node with the given id, or nil.
func (t *Tree) Node(id dom.NodeID) *dom.NodeRef {
	return t.byID[id]
}

// Nodes returns every node in document order.
func (t *Tree) Nodes() []*dom.NodeRef {
	return t.nodes
}

// Children returns the children of id (attributes included) in document
// order.
func (t *Tree) Children(id dom.NodeID) []*dom.NodeRef {
	return t.children[id]
}

// Descendants returns the descendants of id in document order, excluding
// id itself.
func (t *Tree) Descendants(id dom.NodeID) []*dom.NodeRef {
	var out []*dom.NodeRef
	var walk func(dom.NodeID)
	walk = func(p dom.NodeID) {
		for _, c := range t.children[p] {
			out = append(out, c)
			walk(c.ID)
		}
	}
	walk(id)
	return out
}

// Tree loads a snapshot of doc. The caller should hold at least a shared
// lock on doc for the snapshot to be consistent with concurrent edits.
func (s *Store) Tree(ctx context.Context, doc *dom.Document) (*Tree, error) {
	rows, err := s.loadRows(ctx, s.db, doc.ID)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternalStore, err, "load tree").OnDocument(doc.ID)
	}
	return buildTree(doc, rows)
}

func buildTree(doc *dom.Document, rows []nodeRow) (*Tree, error) {
	t := &Tree{
		doc:      doc,
		nodes:    make([]*dom.NodeRef, 0, len(rows)),
		byID:     make(map[dom.NodeID]*dom.NodeRef, len(rows)),
		children: make(map[dom.NodeID][]*dom.NodeRef),
	}
	for _, r := range rows {
		typ, err := kindToType(r.kind)
		if err != nil {
			return nil, xerr.Wrap(xerr.KindInternalStore, err, "decode node").OnNode(doc.ID, string(r.id))
		}
		n := dom.NewNodeRef(doc, r.id, typ, r.name, r.value, r.addr)
		t.nodes = append(t.nodes, n)
		t.byID[r.id] = n
		if r.parent != "" {
			t.children[r.parent] = append(t.children[r.parent], n)
		}
	}

	// Element string values are the concatenated text of their
	// descendants; fill them bottom-up.
	for i := len(t.nodes) - 1; i >= 0; i-- {
		n := t.nodes[i]
		if n.Kind != xdm.TypeElement {
			continue
		}
		var b strings.Builder
		for _, c := range t.children[n.ID] {
			if c.Kind != xdm.TypeAttribute {
				b.WriteString(c.Value)
			}
		}
		n.Value = b.String()
	}
	return t, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// loadRows returns every node row of a document in document order.
func (s *Store) loadRows(ctx context.Context, q queryer, docID int64) ([]nodeRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT node_id, parent, kind, name, value, page, slot
		FROM nodes WHERE doc_id = ?
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var out []nodeRow
	for rows.Next() {
		var (
			r          nodeRow
			page, slot int64
		)
		if err := rows.Scan(&r.id, &r.parent, &r.kind, &r.name, &r.value, &page, &slot); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		r.addr = dom.NewAddress(uint32(page), uint16(slot))
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	// NodeIDs do not sort lexically; order them here.
	slices.SortFunc(out, func(a, b nodeRow) int { return a.id.Compare(b.id) })
	return out, nil
}

// Node loads a single node. Elements get an empty string value; use Tree
// when string values are needed.
func (s *Store) Node(ctx context.Context, doc *dom.Document, id dom.NodeID) (*dom.NodeRef, error) {
	var (
		kind, name, value string
		page, slot        int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT kind, name, value, page, slot FROM nodes
		WHERE doc_id = ? AND node_id = ?
	`, doc.ID, string(id)).Scan(&kind, &name, &value, &page, &slot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerr.Wrap(xerr.KindInternalStore, ErrNotFound, "node").OnNode(doc.ID, string(id))
	}
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternalStore, err, "load node").OnNode(doc.ID, string(id))
	}
	typ, err := kindToType(kind)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternalStore, err, "decode node").OnNode(doc.ID, string(id))
	}
	return dom.NewNodeRef(doc, id, typ, name, value, dom.NewAddress(uint32(page), uint16(slot))), nil
}

// ResolveAddress implements dom.Resolver.
func (s *Store) ResolveAddress(ctx context.Context, docID int64, id dom.NodeID) (dom.Address, error) {
	var page, slot int64
	err := s.db.QueryRowContext(ctx, `
		SELECT page, slot FROM nodes WHERE doc_id = ? AND node_id = ?
	`, docID, string(id)).Scan(&page, &slot)
	if errors.Is(err, sql.ErrNoRows) {
		return dom.InvalidAddress, fmt.Errorf("node %d/%s: %w", docID, id, ErrNotFound)
	}
	if err != nil {
		return dom.InvalidAddress, fmt.Errorf("resolve %d/%s: %w", docID, id, err)
	}
	return dom.NewAddress(uint32(page), uint16(slot)), nil
}
