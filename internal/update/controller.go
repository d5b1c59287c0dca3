package update

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/lock"
	"github.com/roach88/xcore/internal/notify"
	"github.com/roach88/xcore/internal/trigger"
	"github.com/roach88/xcore/internal/xdm"
	"github.com/roach88/xcore/internal/xerr"
	"github.com/roach88/xcore/internal/xquery"
)

// DefaultFragmentationLimit is the split count above which a document is
// defragmented after an update.
const DefaultFragmentationLimit = 50

// Storage is the part of the store a modification edits through.
// *store.Store implements it.
type Storage interface {
	UpdateValue(ctx context.Context, n *dom.NodeRef, value string) error
	Rename(ctx context.Context, n *dom.NodeRef, name string) error
	RemoveNode(ctx context.Context, n *dom.NodeRef) error
	AppendChild(ctx context.Context, parent *dom.NodeRef, kind xdm.Type, name, value string) (*dom.NodeRef, error)
	Defragment(ctx context.Context, doc *dom.Document) error
	CheckConsistency(ctx context.Context, doc *dom.Document) error
}

// Controller owns the process-wide update lock and the collaborators every
// Modification needs: storage, the query service used for selection and
// the trigger coordinator.
//
// Thread-safety: a Controller is safe for concurrent use; Modifications
// created from it are not.
type Controller struct {
	storage            Storage
	queries            *xquery.Service
	triggers           *trigger.Coordinator
	notifier           *notify.Service
	global             *lock.RWLock
	fragmentationLimit int64
	logger             *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithTriggers sets the trigger coordinator. Without it every document
// uses the null trigger.
func WithTriggers(c *trigger.Coordinator) Option {
	return func(ctl *Controller) {
		ctl.triggers = c
	}
}

// WithNotifier keeps selected nodes current across relocations while an
// edit runs.
func WithNotifier(n *notify.Service) Option {
	return func(ctl *Controller) {
		ctl.notifier = n
	}
}

// WithFragmentationLimit sets the split count above which documents are
// defragmented.
//
// Default: 50 (DefaultFragmentationLimit)
// Use WithFragmentationLimit(0) to defragment after every split.
func WithFragmentationLimit(n int64) Option {
	return func(ctl *Controller) {
		ctl.fragmentationLimit = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ctl *Controller) {
		ctl.logger = l
	}
}

// NewController creates a Controller editing through storage and
// selecting through queries.
func NewController(storage Storage, queries *xquery.Service, opts ...Option) *Controller {
	ctl := &Controller{
		storage:            storage,
		queries:            queries,
		global:             lock.New("update"),
		fragmentationLimit: DefaultFragmentationLimit,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(ctl)
	}
	if ctl.triggers == nil {
		ctl.triggers = trigger.NewCoordinator(nil, ctl.logger)
	}
	return ctl
}

// GlobalLock returns the process-wide update lock. Selection holds it in
// shared mode; anything that must not run concurrently with a selection
// takes it exclusively.
func (c *Controller) GlobalLock() *lock.RWLock {
	return c.global
}

// CheckFragmentation defragments every document of docs whose split count
// exceeds the limit and then checks its consistency. Every document is
// checked even if an earlier one fails; all failures are returned. The
// caller must hold the documents' exclusive locks.
func (c *Controller) CheckFragmentation(ctx context.Context, docs *dom.DocumentSet) error {
	if docs == nil {
		return nil
	}
	var errs []error
	for _, doc := range docs.Documents() {
		if splits := doc.SplitCount(); splits > c.fragmentationLimit {
			c.logger.Info("split limit exceeded",
				"doc", doc.ID,
				"splits", splits,
				"limit", c.fragmentationLimit)
			if err := c.storage.Defragment(ctx, doc); err != nil {
				errs = append(errs, err)
			} else {
				defragmentations.Inc()
			}
		}
		if err := c.storage.CheckConsistency(ctx, doc); err != nil {
			consistencyFailures.Inc()
			c.logger.Warn("consistency check failed",
				"doc", doc.ID,
				"uri", doc.URI(),
				"error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	out := xerr.Wrap(xerr.KindInternalStore, errors.Join(errs...), "post-update check")
	out.Changed = true
	return out
}
