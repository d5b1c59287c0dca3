// Package trigger runs user hooks around structural mutations.
//
// A Trigger is configured per collection and event. Every mutation calls
// Prepare once per affected document while the document locks are held,
// and Finish once per document after they are released. Documents of a
// collection with nothing configured get Null, so call sites never check
// for absence. Configuration documents never fire triggers.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/xerr"
)

// Event is the mutation kind a trigger is registered for.
type Event int

const (
	EventStore Event = iota + 1
	EventUpdate
	EventRemove
)

var eventNames = map[Event]string{
	EventStore:  "store",
	EventUpdate: "update",
	EventRemove: "remove",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// ParseEvent converts a configuration name to an Event.
func ParseEvent(name string) (Event, error) {
	for e, n := range eventNames {
		if strings.EqualFold(n, name) {
			return e, nil
		}
	}
	return 0, fmt.Errorf("unknown trigger event %q", name)
}

// Trigger is a pre/post mutation hook. A Prepare error vetoes the
// mutation before any edit is applied; a Finish error is reported after
// the edit has been committed.
type Trigger interface {
	Prepare(ctx context.Context, event Event, txn *Txn, doc *dom.Document) error
	Finish(ctx context.Context, event Event, txn *Txn, doc *dom.Document) error
}

// Null does nothing.
type Null struct{}

func (Null) Prepare(context.Context, Event, *Txn, *dom.Document) error { return nil }
func (Null) Finish(context.Context, Event, *Txn, *dom.Document) error  { return nil }

// Log records every hook invocation at info level.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Prepare(ctx context.Context, event Event, txn *Txn, doc *dom.Document) error {
	l.logger().InfoContext(ctx, "trigger prepare",
		"event", event.String(),
		"txn", txn.ID,
		"doc", doc.URI())
	return nil
}

func (l Log) Finish(ctx context.Context, event Event, txn *Txn, doc *dom.Document) error {
	l.logger().InfoContext(ctx, "trigger finish",
		"event", event.String(),
		"txn", txn.ID,
		"doc", doc.URI())
	return nil
}

func (l Log) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// Reject vetoes every mutation in Prepare. It is used to make a
// collection read-only.
type Reject struct {
	Reason string
}

func (r Reject) Prepare(_ context.Context, event Event, _ *Txn, doc *dom.Document) error {
	reason := r.Reason
	if reason == "" {
		reason = "collection is read-only"
	}
	return xerr.New(xerr.KindTriggerFailure, "%s rejected: %s", event, reason).OnDocument(doc.ID)
}

func (Reject) Finish(context.Context, Event, *Txn, *dom.Document) error { return nil }
