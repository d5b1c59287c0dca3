package harness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/xcore/internal/config"
	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/lock"
	"github.com/roach88/xcore/internal/notify"
	"github.com/roach88/xcore/internal/store"
	"github.com/roach88/xcore/internal/testutil"
	"github.com/roach88/xcore/internal/trigger"
	"github.com/roach88/xcore/internal/update"
	"github.com/roach88/xcore/internal/xdm"
	"github.com/roach88/xcore/internal/xerr"
	"github.com/roach88/xcore/internal/xquery"
)

// DefaultCollection is where documents without a collection are stored.
const DefaultCollection = "/db"

// Harness holds the wired core a scenario runs against.
type Harness struct {
	store   *store.Store
	queries *xquery.Service
	updates *update.Controller
	txnGen  trigger.IDGenerator
	logger  *slog.Logger
}

// Run executes a scenario against a fresh in-memory store and returns the
// per-step results. Failed expectations are reported in Result.Errors; the
// returned error is reserved for setup failures.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	h, err := newHarness(s)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	for i, d := range s.Documents {
		collection := d.Collection
		if collection == "" {
			collection = DefaultCollection
		}
		owner := d.Owner
		if owner == "" {
			owner = dom.AdminSubject
		}
		if _, err := h.store.Import(ctx, collection, d.Name, owner, strings.NewReader(d.XML)); err != nil {
			return nil, fmt.Errorf("documents[%d]: %w", i, err)
		}
	}

	result := NewResult()
	for i, step := range s.Flow {
		sr := h.execute(ctx, step)
		sr.Step = i + 1
		result.Steps = append(result.Steps, sr)

		for _, msg := range checkExpect(sr, step.Expect) {
			result.AddError(fmt.Sprintf("step %d (%s): %s", sr.Step, sr.Op, msg))
		}
	}
	return result, nil
}

func newHarness(s *Scenario) (*Harness, error) {
	logger := testutil.QuietLogger()
	n := notify.NewService(logger)

	storeOpts := []store.Option{store.WithPublisher(n), store.WithLogger(logger)}
	if s.PageCapacity > 0 {
		storeOpts = append(storeOpts, store.WithPageCapacity(s.PageCapacity))
	}
	st, err := store.Open(":memory:", storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	registry := trigger.NewRegistry(logger)
	specs, err := (&config.Config{Triggers: s.Triggers}).TriggerSpecs()
	if err == nil {
		err = registry.Configure(specs)
	}
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to configure triggers: %w", err)
	}

	queries := xquery.NewService(st, xquery.WithRelocation(n), xquery.WithServiceLogger(logger))
	opts := []update.Option{
		update.WithTriggers(trigger.NewCoordinator(registry, logger)),
		update.WithNotifier(n),
		update.WithLogger(logger),
	}
	if s.FragmentationLimit != nil {
		opts = append(opts, update.WithFragmentationLimit(*s.FragmentationLimit))
	}

	return &Harness{
		store:   st,
		queries: queries,
		updates: update.NewController(st, queries, opts...),
		txnGen:  testutil.NewFixedIDGenerator(s.TxnID),
		logger:  logger,
	}, nil
}

func (h *Harness) execute(ctx context.Context, step FlowStep) StepResult {
	switch step.Op() {
	case OpUpdate:
		return h.runUpdate(ctx, step.Update)
	case OpCheck:
		return h.runCheck(ctx)
	default:
		return h.runQuery(ctx, step)
	}
}

func (h *Harness) runQuery(ctx context.Context, step FlowStep) StepResult {
	sr := StepResult{Op: OpQuery, Input: step.Query}

	opts := make([]xquery.ContextOption, 0, len(step.Vars))
	for name, value := range step.Vars {
		opts = append(opts, xquery.WithVariable(name, xdm.Single(xdm.String(value))))
	}
	seq, err := h.queries.Query(ctx, step.Query, opts...)
	if err != nil {
		sr.fail(err)
		return sr
	}
	for _, item := range xdm.Items(seq) {
		sr.Items = append(sr.Items, item.StringValue())
	}
	return sr
}

func (h *Harness) runUpdate(ctx context.Context, u *UpdateStep) StepResult {
	sr := StepResult{Op: OpUpdate, Kind: strings.ToLower(u.Kind), Input: u.Select}

	kind, err := update.ParseKind(u.Kind)
	if err != nil {
		sr.fail(err)
		return sr
	}
	m := h.updates.NewModification(kind, u.Select, u.Value)
	if u.As != "" {
		if err := m.SetAccessContext(u.As); err != nil {
			sr.fail(err)
			return sr
		}
	}

	txn := trigger.NewTxnWithGenerator(h.txnGen)
	sr.Txn = txn.ID
	n, err := m.Process(ctx, txn)
	sr.Nodes = n
	sr.Relocated = m.Relocated()
	if err != nil {
		sr.fail(err)
	}
	return sr
}

// runCheck defragments and checks every document under exclusive locks.
func (h *Harness) runCheck(ctx context.Context) StepResult {
	sr := StepResult{Op: OpCheck}

	docs, err := h.store.AllDocuments(ctx)
	if err != nil {
		sr.fail(err)
		return sr
	}
	set := dom.NewDocumentSet(docs...)
	if err := set.Lock(ctx, lock.Exclusive); err != nil {
		sr.fail(err)
		return sr
	}
	defer set.Unlock(lock.Exclusive)

	for _, doc := range set.Documents() {
		status := "ok"
		if err := h.updates.CheckFragmentation(ctx, dom.NewDocumentSet(doc)); err != nil {
			status = "failed"
			h.logger.Warn("document check failed", "doc", doc.ID, "error", err)
			if sr.Error == "" {
				sr.fail(err)
			}
		}
		sr.Items = append(sr.Items, doc.URI()+": "+status)
		sr.Nodes++
	}
	return sr
}

func (r *StepResult) fail(err error) {
	r.Error = string(xerr.KindOf(err))
	if r.Error == "" {
		r.Error = "ERROR"
	}
	r.Changed = xerr.PartiallyChanged(err)
	r.Message = err.Error()
}
