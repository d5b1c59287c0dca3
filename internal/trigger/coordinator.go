package trigger

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/xerr"
)

// Coordinator fires the configured triggers of a mutation's documents,
// exactly once per document.
type Coordinator struct {
	registry *Registry
	logger   *slog.Logger
}

// NewCoordinator creates a coordinator over registry. A nil registry
// behaves as an empty one.
func NewCoordinator(registry *Registry, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry(logger)
	}
	return &Coordinator{registry: registry, logger: logger}
}

// Registry returns the trigger registry.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// PrepareAll calls Prepare for every document in ascending id order and
// stops at the first failure, which is returned as a trigger failure
// attributed to that document. Configuration documents are skipped.
func (c *Coordinator) PrepareAll(ctx context.Context, event Event, txn *Txn, docs []*dom.Document) error {
	for _, doc := range distinct(docs) {
		if doc.IsConfig() {
			continue
		}
		err := c.invoke(txn, func() error {
			return c.registry.Lookup(doc.Collection, event).Prepare(ctx, event, txn, doc)
		})
		if err != nil {
			c.logger.Warn("trigger prepare failed",
				"event", event.String(),
				"txn", txn.ID,
				"doc", doc.ID,
				"error", err)
			return asTriggerFailure(err, doc, false)
		}
	}
	return nil
}

// FinishAll calls Finish for every document in ascending id order. A
// failure does not stop the remaining calls; all failures are joined and
// returned marked as changed, since the edit is already committed.
func (c *Coordinator) FinishAll(ctx context.Context, event Event, txn *Txn, docs []*dom.Document) error {
	var errs []error
	for _, doc := range distinct(docs) {
		if doc.IsConfig() {
			continue
		}
		err := c.invoke(txn, func() error {
			return c.registry.Lookup(doc.Collection, event).Finish(ctx, event, txn, doc)
		})
		if err != nil {
			c.logger.Warn("trigger finish failed",
				"event", event.String(),
				"txn", txn.ID,
				"doc", doc.ID,
				"error", err)
			errs = append(errs, asTriggerFailure(err, doc, true))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return &xerr.Error{
		Kind:    xerr.KindTriggerFailure,
		Message: "finish failed on several documents",
		Changed: true,
		Err:     errors.Join(errs...),
	}
}

// invoke runs one hook. A panicking hook is reported as a trigger failure.
func (c *Coordinator) invoke(txn *Txn, fn func() error) (err error) {
	leave, err := txn.enter()
	if err != nil {
		return err
	}
	defer leave()
	defer func() {
		if r := recover(); r != nil {
			err = xerr.New(xerr.KindTriggerFailure, "trigger panicked: %v", r)
		}
	}()
	return fn()
}

func asTriggerFailure(err error, doc *dom.Document, changed bool) *xerr.Error {
	var xe *xerr.Error
	if errors.As(err, &xe) && xe.Kind == xerr.KindTriggerFailure && xe.DocID == doc.ID {
		xe.Changed = changed
		return xe
	}
	out := xerr.Wrap(xerr.KindTriggerFailure, err, "trigger on %s", doc.URI()).OnDocument(doc.ID)
	out.Changed = changed
	return out
}

// distinct returns docs without duplicates, sorted by id.
func distinct(docs []*dom.Document) []*dom.Document {
	out := slices.Clone(docs)
	slices.SortFunc(out, func(a, b *dom.Document) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return slices.CompactFunc(out, func(a, b *dom.Document) bool { return a.ID == b.ID })
}
