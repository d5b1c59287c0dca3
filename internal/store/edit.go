package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/notify"
	"github.com/roach88/xcore/internal/xdm"
	"github.com/roach88/xcore/internal/xerr"
)

// The edit methods below change document structure. Callers must hold the
// document's exclusive lock. Each successful edit publishes
// DocumentUpdated; edits that split a page also publish NodeMoved for every
// relocated node, after the generation bump, so subscribers receive
// handles that are current.

// AppendChild adds a new last child under parent and returns it.
func (s *Store) AppendChild(ctx context.Context, parent *dom.NodeRef, kind xdm.Type, name, value string) (*dom.NodeRef, error) {
	if parent.Kind != xdm.TypeElement {
		return nil, xerr.New(xerr.KindTypeMismatch,
			"cannot append to a %s", parent.Kind).OnNode(parent.Doc.ID, string(parent.ID))
	}
	return s.insert(ctx, parent.Doc, parent.ID, kind, name, value)
}

// CreateRoot adds the root element of an empty document.
func (s *Store) CreateRoot(ctx context.Context, doc *dom.Document, name string) (*dom.NodeRef, error) {
	return s.insert(ctx, doc, "", xdm.TypeElement, name, "")
}

func (s *Store) insert(ctx context.Context, doc *dom.Document, parentID dom.NodeID, kind xdm.Type, name, value string) (*dom.NodeRef, error) {
	kindName, err := typeToKind(kind)
	if err != nil {
		return nil, err
	}

	var (
		id    dom.NodeID
		addr  dom.Address
		moved []dom.NodeID
	)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var page uint32
		if parentID == "" {
			id = dom.RootID
			var exists int
			if err := tx.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM nodes WHERE doc_id = ? AND node_id = ?
			`, doc.ID, string(dom.RootID)).Scan(&exists); err != nil {
				return fmt.Errorf("check root: %w", err)
			}
			if exists > 0 {
				return fmt.Errorf("document already has a root element")
			}
			p, err := allocPage(ctx, tx, doc.ID)
			if err != nil {
				return err
			}
			page = p
		} else {
			next, err := nextOrdinal(ctx, tx, doc.ID, parentID)
			if err != nil {
				return err
			}
			id = parentID.Child(next)
			if page, err = pageOf(ctx, tx, doc.ID, parentID); err != nil {
				return err
			}
		}

		slot, ok, err := freeSlot(ctx, tx, doc.ID, page, s.capacity)
		if err != nil {
			return err
		}
		if !ok {
			if moved, err = s.splitPage(ctx, tx, doc.ID, page); err != nil {
				return err
			}
			// The parent itself may have moved to the new page.
			if parentID != "" {
				if page, err = pageOf(ctx, tx, doc.ID, parentID); err != nil {
					return err
				}
			}
			if slot, ok, err = freeSlot(ctx, tx, doc.ID, page, s.capacity); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("page %d still full after split", page)
			}
		}
		addr = dom.NewAddress(page, slot)

		_, err = tx.ExecContext(ctx, `
			INSERT INTO nodes (doc_id, node_id, parent, kind, name, value, page, slot)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, doc.ID, string(id), string(parentID), kindName, name, value, page, slot)
		if err != nil {
			return fmt.Errorf("insert node: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternalStore, err, "insert").OnNode(doc.ID, string(parentID))
	}

	if moved != nil {
		splits := doc.IncSplitCount()
		doc.BumpGeneration()
		s.logger.Debug("page split",
			"doc", doc.ID,
			"moved", len(moved),
			"split_count", splits)
		s.publishMoved(ctx, doc, moved)
	}
	s.publisher.NotifyUpdated(doc, notify.EventUpdate)
	return dom.NewNodeRef(doc, id, kind, name, value, addr), nil
}

// UpdateValue replaces the value of a text or attribute node. For an
// element, its content is replaced by a single text node.
func (s *Store) UpdateValue(ctx context.Context, n *dom.NodeRef, value string) error {
	switch n.Kind {
	case xdm.TypeText, xdm.TypeAttribute:
		if err := s.exec(ctx, n, `UPDATE nodes SET value = ? WHERE doc_id = ? AND node_id = ?`,
			value, n.Doc.ID, string(n.ID)); err != nil {
			return err
		}
		n.Value = value
		s.publisher.NotifyUpdated(n.Doc, notify.EventUpdate)
		return nil
	case xdm.TypeElement:
		// Drop the content but keep the element's own attributes.
		err := s.exec(ctx, n, `
			DELETE FROM nodes
			WHERE doc_id = ? AND node_id LIKE ? AND NOT (parent = ? AND kind = 'attribute')
		`, n.Doc.ID, string(n.ID)+".%", string(n.ID))
		if err != nil {
			return err
		}
		if value != "" {
			if _, err := s.insert(ctx, n.Doc, n.ID, xdm.TypeText, "", value); err != nil {
				return err
			}
		} else {
			s.publisher.NotifyUpdated(n.Doc, notify.EventUpdate)
		}
		n.Value = value
		return nil
	default:
		return xerr.New(xerr.KindTypeMismatch, "cannot update a %s", n.Kind).OnNode(n.Doc.ID, string(n.ID))
	}
}

// Rename changes the name of an element or attribute.
func (s *Store) Rename(ctx context.Context, n *dom.NodeRef, name string) error {
	if n.Kind != xdm.TypeElement && n.Kind != xdm.TypeAttribute {
		return xerr.New(xerr.KindTypeMismatch, "cannot rename a %s", n.Kind).OnNode(n.Doc.ID, string(n.ID))
	}
	if err := s.exec(ctx, n, `UPDATE nodes SET name = ? WHERE doc_id = ? AND node_id = ?`,
		name, n.Doc.ID, string(n.ID)); err != nil {
		return err
	}
	n.Name = name
	s.publisher.NotifyUpdated(n.Doc, notify.EventUpdate)
	return nil
}

// RemoveNode deletes n and its subtree.
func (s *Store) RemoveNode(ctx context.Context, n *dom.NodeRef) error {
	if err := s.exec(ctx, n, `
		DELETE FROM nodes
		WHERE doc_id = ? AND (node_id = ? OR node_id LIKE ?)
	`, n.Doc.ID, string(n.ID), string(n.ID)+".%"); err != nil {
		return err
	}
	s.publisher.NotifyUpdated(n.Doc, notify.EventUpdate)
	return nil
}

func (s *Store) exec(ctx context.Context, n *dom.NodeRef, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return xerr.Wrap(xerr.KindInternalStore, err, "edit").OnNode(n.Doc.ID, string(n.ID))
	}
	return nil
}

// splitPage moves the upper half of page's slots to a fresh page and
// records the split in the document metadata. Returns the ids of the
// moved nodes.
func (s *Store) splitPage(ctx context.Context, tx *sql.Tx, docID int64, page uint32) ([]dom.NodeID, error) {
	newPage, err := allocPage(ctx, tx, docID)
	if err != nil {
		return nil, err
	}
	half := s.capacity / 2

	rows, err := tx.QueryContext(ctx, `
		SELECT node_id, slot FROM nodes
		WHERE doc_id = ? AND page = ? AND slot >= ?
		ORDER BY slot ASC
	`, docID, page, half)
	if err != nil {
		return nil, fmt.Errorf("query page %d: %w", page, err)
	}
	type mv struct {
		id   string
		slot int
	}
	var moves []mv
	for rows.Next() {
		var m mv
		if err := rows.Scan(&m.id, &m.slot); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan page %d: %w", page, err)
		}
		moves = append(moves, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page %d: %w", page, err)
	}

	moved := make([]dom.NodeID, 0, len(moves))
	for _, m := range moves {
		if _, err := tx.ExecContext(ctx, `
			UPDATE nodes SET page = ?, slot = ? WHERE doc_id = ? AND node_id = ?
		`, newPage, m.slot-half, docID, m.id); err != nil {
			return nil, fmt.Errorf("move node %s: %w", m.id, err)
		}
		moved = append(moved, dom.NodeID(m.id))
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET split_count = split_count + 1, generation = generation + 1
		WHERE id = ?
	`, docID); err != nil {
		return nil, fmt.Errorf("record split: %w", err)
	}
	return moved, nil
}

// publishMoved reloads the document and publishes a current handle for
// every moved node.
func (s *Store) publishMoved(ctx context.Context, doc *dom.Document, moved []dom.NodeID) {
	tree, err := s.Tree(ctx, doc)
	if err != nil {
		s.logger.Warn("relocation not published",
			"doc", doc.ID,
			"error", err)
		return
	}
	for _, id := range moved {
		if n := tree.Node(id); n != nil {
			s.publisher.NotifyMoved(id, n)
		}
	}
}

// allocPage reserves the document's next unused page number.
func allocPage(ctx context.Context, tx *sql.Tx, docID int64) (uint32, error) {
	var page int64
	if err := tx.QueryRowContext(ctx, `SELECT next_page FROM documents WHERE id = ?`, docID).Scan(&page); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("document %d: %w", docID, ErrNotFound)
		}
		return 0, fmt.Errorf("read next page: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET next_page = ? WHERE id = ?`, page+1, docID); err != nil {
		return 0, fmt.Errorf("advance next page: %w", err)
	}
	return uint32(page), nil
}

func pageOf(ctx context.Context, tx *sql.Tx, docID int64, id dom.NodeID) (uint32, error) {
	var page int64
	err := tx.QueryRowContext(ctx, `
		SELECT page FROM nodes WHERE doc_id = ? AND node_id = ?
	`, docID, string(id)).Scan(&page)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("page of %s: %w", id, err)
	}
	return uint32(page), nil
}

// freeSlot returns the lowest unused slot on page, or ok=false when the
// page is full.
func freeSlot(ctx context.Context, tx *sql.Tx, docID int64, page uint32, capacity int) (slot uint16, ok bool, err error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT slot FROM nodes WHERE doc_id = ? AND page = ? ORDER BY slot ASC
	`, docID, page)
	if err != nil {
		return 0, false, fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()

	want := 0
	for rows.Next() {
		var used int
		if err := rows.Scan(&used); err != nil {
			return 0, false, fmt.Errorf("scan slot: %w", err)
		}
		if used != want {
			break
		}
		want++
	}
	if err := rows.Err(); err != nil {
		return 0, false, fmt.Errorf("iterate slots: %w", err)
	}
	if want >= capacity {
		return 0, false, nil
	}
	return uint16(want), true, nil
}

// nextOrdinal returns the ordinal for a new last child of parent.
func nextOrdinal(ctx context.Context, tx *sql.Tx, docID int64, parent dom.NodeID) (int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT node_id FROM nodes WHERE doc_id = ? AND parent = ?
	`, docID, string(parent))
	if err != nil {
		return 0, fmt.Errorf("query children: %w", err)
	}
	defer rows.Close()

	highest := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("scan child: %w", err)
		}
		levels := dom.NodeID(id).Levels()
		if last := levels[len(levels)-1]; last > highest {
			highest = last
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate children: %w", err)
	}
	return highest + 1, nil
}
