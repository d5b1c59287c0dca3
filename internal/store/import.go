package store

import (
	"context"
	"database/sql"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/notify"
	"github.com/roach88/xcore/internal/xerr"
)

// Import parses an XML stream and stores it as a new document.
//
// Element and attribute names are stored NFC-normalized so that selection
// by name does not depend on the composition form of the source. Text
// consisting only of whitespace is dropped. Nodes are packed into pages in
// document order, so a freshly imported document has no splits.
func (s *Store) Import(ctx context.Context, collection, name, owner string, r io.Reader) (*dom.Document, error) {
	rows, err := parseXML(r)
	if err != nil {
		return nil, fmt.Errorf("import %s/%s: %w", collection, name, err)
	}

	var id int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO documents (collection, name, owner, next_page)
			VALUES (?, ?, ?, ?)
		`, collection, name, owner, (len(rows)+s.capacity-1)/s.capacity+1)
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO nodes (doc_id, node_id, parent, kind, name, value, page, slot)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, r := range rows {
			page := i/s.capacity + 1
			slot := i % s.capacity
			if _, err := stmt.ExecContext(ctx, id, string(r.id), string(r.parent), r.kind, r.name, r.value, page, slot); err != nil {
				return fmt.Errorf("insert node %s: %w", r.id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternalStore, err, "import %s/%s", collection, name)
	}

	doc := s.intern(id, func() *dom.Document {
		d := dom.NewDocument(id, collection, name)
		d.Owner = owner
		return d
	})
	s.logger.Info("document imported",
		"doc", id,
		"uri", doc.URI(),
		"nodes", len(rows))
	s.publisher.NotifyUpdated(doc, notify.EventStore)
	return doc, nil
}

// parseXML flattens an XML stream into node rows in document order.
func parseXML(r io.Reader) ([]nodeRow, error) {
	dec := xml.NewDecoder(r)

	type frame struct {
		id       dom.NodeID
		children int
	}
	var (
		rows  []nodeRow
		stack []*frame
		roots int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			var id, parent dom.NodeID
			if len(stack) == 0 {
				roots++
				if roots > 1 {
					return nil, fmt.Errorf("parse: more than one root element")
				}
				id = dom.RootID
			} else {
				top := stack[len(stack)-1]
				top.children++
				parent = top.id
				id = top.id.Child(top.children)
			}
			rows = append(rows, nodeRow{id: id, parent: parent, kind: kindElement, name: qname(t.Name)})
			f := &frame{id: id}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
					continue
				}
				f.children++
				rows = append(rows, nodeRow{
					id:     id.Child(f.children),
					parent: id,
					kind:   kindAttribute,
					name:   qname(a.Name),
					value:  a.Value,
				})
			}
			stack = append(stack, f)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) == 0 || strings.TrimSpace(string(t)) == "" {
				continue
			}
			top := stack[len(stack)-1]
			top.children++
			rows = append(rows, nodeRow{
				id:     top.id.Child(top.children),
				parent: top.id,
				kind:   kindText,
				value:  string(t),
			})
		}
	}
	if roots == 0 {
		return nil, fmt.Errorf("parse: no root element")
	}
	return rows, nil
}

func qname(n xml.Name) string {
	return norm.NFC.String(n.Local)
}
