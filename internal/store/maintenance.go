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

// Defragment repacks doc's nodes into consecutive pages in document order
// and resets its split count. Every node whose address changed is
// published through NodeMoved. The caller must hold doc's exclusive lock.
func (s *Store) Defragment(ctx context.Context, doc *dom.Document) error {
	var moved []dom.NodeID
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := s.loadRows(ctx, tx, doc.ID)
		if err != nil {
			return err
		}
		// Park every node on a negative page first so the new layout never
		// collides with the old one on the address index.
		if _, err := tx.ExecContext(ctx, `UPDATE nodes SET page = -page WHERE doc_id = ?`, doc.ID); err != nil {
			return fmt.Errorf("park nodes: %w", err)
		}
		for i, r := range rows {
			page := uint32(i/s.capacity) + 1
			slot := uint16(i % s.capacity)
			if _, err := tx.ExecContext(ctx, `
				UPDATE nodes SET page = ?, slot = ? WHERE doc_id = ? AND node_id = ?
			`, page, slot, doc.ID, string(r.id)); err != nil {
				return fmt.Errorf("place node %s: %w", r.id, err)
			}
			if r.addr != dom.NewAddress(page, slot) {
				moved = append(moved, r.id)
			}
		}
		pages := (len(rows)+s.capacity-1)/s.capacity + 1
		_, err = tx.ExecContext(ctx, `
			UPDATE documents
			SET split_count = 0, generation = generation + 1, next_page = ?
			WHERE id = ?
		`, pages, doc.ID)
		if err != nil {
			return fmt.Errorf("reset split count: %w", err)
		}
		return nil
	})
	if err != nil {
		return xerr.Wrap(xerr.KindInternalStore, err, "defragment").OnDocument(doc.ID)
	}

	doc.SetSplitCount(0)
	doc.BumpGeneration()
	s.logger.Info("document defragmented",
		"doc", doc.ID,
		"uri", doc.URI(),
		"relocated", len(moved))
	if len(moved) > 0 {
		s.publishMoved(ctx, doc, moved)
	}
	s.publisher.NotifyUpdated(doc, notify.EventDefragment)
	return nil
}

// CheckConsistency verifies the structural invariants of doc:
//   - a non-empty document has exactly one root element, id "1"
//   - every other node's parent exists, is an element and matches its id
//   - only elements have children
//   - every address is on a valid page with a slot below capacity
//
// All violations are reported together.
func (s *Store) CheckConsistency(ctx context.Context, doc *dom.Document) error {
	rows, err := s.loadRows(ctx, s.db, doc.ID)
	if err != nil {
		return xerr.Wrap(xerr.KindInternalStore, err, "consistency check").OnDocument(doc.ID)
	}

	byID := make(map[dom.NodeID]nodeRow, len(rows))
	for _, r := range rows {
		byID[r.id] = r
	}

	var problems []error
	if len(rows) > 0 {
		if _, ok := byID[dom.RootID]; !ok {
			problems = append(problems, fmt.Errorf("missing root element"))
		}
	}
	for _, r := range rows {
		if !r.addr.Valid() || int(r.addr.Slot()) >= s.capacity {
			problems = append(problems, fmt.Errorf("node %s: invalid address %s", r.id, r.addr))
		}
		if r.id == dom.RootID {
			if r.parent != "" || r.kind != kindElement {
				problems = append(problems, fmt.Errorf("node %s: root must be a parentless element", r.id))
			}
			continue
		}
		if r.parent != r.id.Parent() {
			problems = append(problems, fmt.Errorf("node %s: parent %q does not match id", r.id, r.parent))
			continue
		}
		p, ok := byID[r.parent]
		if !ok {
			problems = append(problems, fmt.Errorf("node %s: orphan, parent %s missing", r.id, r.parent))
			continue
		}
		if typ, _ := kindToType(p.kind); typ != xdm.TypeElement {
			problems = append(problems, fmt.Errorf("node %s: parent %s is a %s", r.id, r.parent, p.kind))
		}
	}

	if len(problems) > 0 {
		s.logger.Warn("consistency check failed",
			"doc", doc.ID,
			"uri", doc.URI(),
			"problems", len(problems))
		return xerr.Wrap(xerr.KindInternalStore, errors.Join(problems...),
			"consistency check found %d problem(s)", len(problems)).OnDocument(doc.ID)
	}
	s.logger.Debug("consistency check passed",
		"doc", doc.ID,
		"nodes", len(rows))
	return nil
}
