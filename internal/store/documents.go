package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/notify"
	"github.com/roach88/xcore/internal/xerr"
)

// ErrNotFound is returned when a document or node does not exist.
var ErrNotFound = errors.New("not found")

const documentColumns = `id, collection, name, owner, mode, split_count, generation`

// CreateDocument inserts an empty document and returns its shared handle.
func (s *Store) CreateDocument(ctx context.Context, collection, name, owner string) (*dom.Document, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, name, owner)
		VALUES (?, ?, ?)
	`, collection, name, owner)
	if err != nil {
		return nil, fmt.Errorf("create document %s/%s: %w", collection, name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create document %s/%s: %w", collection, name, err)
	}

	doc := s.intern(id, func() *dom.Document {
		d := dom.NewDocument(id, collection, name)
		d.Owner = owner
		return d
	})
	s.publisher.NotifyUpdated(doc, notify.EventStore)
	return doc, nil
}

// DocumentByID returns the shared handle for id.
func (s *Store) DocumentByID(ctx context.Context, id int64) (*dom.Document, error) {
	if doc := s.cached(id); doc != nil {
		return doc, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := s.scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerr.Wrap(xerr.KindInternalStore, ErrNotFound, "document").OnDocument(id)
	}
	if err != nil {
		return nil, fmt.Errorf("document %d: %w", id, err)
	}
	return doc, nil
}

// DocumentByName returns the document stored under collection/name.
func (s *Store) DocumentByName(ctx context.Context, collection, name string) (*dom.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE collection = ? AND name = ?
	`, collection, name)
	doc, err := s.scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerr.Wrap(xerr.KindInternalStore, ErrNotFound, "document %s/%s", collection, name)
	}
	if err != nil {
		return nil, fmt.Errorf("document %s/%s: %w", collection, name, err)
	}
	return doc, nil
}

// AllDocuments returns every stored document ordered by id.
func (s *Store) AllDocuments(ctx context.Context) ([]*dom.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []*dom.Document
	for rows.Next() {
		doc, err := s.scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// SetPermissions changes the owner and mode of doc.
func (s *Store) SetPermissions(ctx context.Context, doc *dom.Document, owner string, mode uint32) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET owner = ?, mode = ? WHERE id = ?
	`, owner, mode, doc.ID)
	if err != nil {
		return xerr.Wrap(xerr.KindInternalStore, err, "set permissions").OnDocument(doc.ID)
	}
	doc.Owner = owner
	doc.Mode = mode
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanDocument reads one documents row. If the document is already cached
// the cached handle is returned so lock identity is preserved.
func (s *Store) scanDocument(row scanner) (*dom.Document, error) {
	var (
		id                     int64
		collection, name, own  string
		mode                   uint32
		splitCount, generation int64
	)
	if err := row.Scan(&id, &collection, &name, &own, &mode, &splitCount, &generation); err != nil {
		return nil, err
	}
	return s.intern(id, func() *dom.Document {
		d := dom.NewDocument(id, collection, name)
		d.Owner = own
		d.Mode = mode
		d.SetSplitCount(splitCount)
		d.SetGeneration(uint64(generation))
		return d
	}), nil
}

func (s *Store) cached(id int64) *dom.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id]
}

func (s *Store) intern(id int64, build func() *dom.Document) *dom.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[id]; ok {
		return doc
	}
	doc := build()
	s.docs[id] = doc
	return doc
}
