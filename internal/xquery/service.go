package xquery

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/xcore/internal/notify"
	"github.com/roach88/xcore/internal/xdm"
)

// DefaultMaxIdle is the number of idle compiled instances kept per query.
const DefaultMaxIdle = 8

var (
	poolRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xcore_query_pool_requests_total",
		Help: "Compiled query borrows by outcome (hit, compiled, shared).",
	}, []string{"outcome"})

	compileErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xcore_query_compile_errors_total",
		Help: "Queries rejected by the compiler.",
	})
)

// Query is the validated, immutable form of a query text. Any number of
// independent expression trees can be instantiated from it.
type Query struct {
	source string
	tokens []token
}

// Source returns the normalized query text.
func (q *Query) Source() string { return q.source }

func (q *Query) instantiate() (Expression, error) {
	return parse(q.tokens)
}

// CompiledQuery is one executable instance of a Query. Instances carry
// evaluation state (context ids, relocation listeners) and must not be
// executed concurrently; borrow one per evaluation.
type CompiledQuery struct {
	query *Query
	expr  Expression
}

// Source returns the normalized query text.
func (c *CompiledQuery) Source() string { return c.query.source }

// Expression returns the root expression.
func (c *CompiledQuery) Expression() Expression { return c.expr }

// String renders the expression.
func (c *CompiledQuery) String() string { return DumpString(c.expr) }

// Service compiles and executes queries against a node source, and pools
// compiled instances by query text.
type Service struct {
	source   NodeSource
	notifier *notify.Service
	logger   *slog.Logger
	maxIdle  int

	group singleflight.Group

	mu      sync.Mutex
	queries map[string]*Query
	idle    map[string][]*CompiledQuery
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRelocation makes contexts created by the service subscribe binding
// expressions to n.
func WithRelocation(n *notify.Service) ServiceOption {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

// WithMaxIdle bounds the idle instances kept per query text.
func WithMaxIdle(n int) ServiceOption {
	return func(s *Service) {
		if n >= 0 {
			s.maxIdle = n
		}
	}
}

// NewService creates a query service reading from source.
func NewService(source NodeSource, opts ...ServiceOption) *Service {
	s := &Service{
		source:  source,
		logger:  slog.Default(),
		maxIdle: DefaultMaxIdle,
		queries: make(map[string]*Query),
		idle:    make(map[string][]*CompiledQuery),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewContext creates an evaluation context wired to the service's source,
// notifier and logger. Callers must Teardown it.
func (s *Service) NewContext(opts ...ContextOption) *Context {
	base := []ContextOption{WithContextLogger(s.logger)}
	if s.notifier != nil {
		base = append(base, WithNotifier(s.notifier))
	}
	return NewContext(s.source, append(base, opts...)...)
}

// Prepare validates src and returns its immutable form. Results are cached
// by NFC-normalized text; concurrent calls for the same text share one
// compilation.
func (s *Service) Prepare(src string) (*Query, error) {
	key := norm.NFC.String(src)
	s.mu.Lock()
	q, ok := s.queries[key]
	s.mu.Unlock()
	if ok {
		return q, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		toks, err := lex(key)
		if err != nil {
			return nil, err
		}
		if _, err := parse(toks); err != nil {
			return nil, err
		}
		q := &Query{source: key, tokens: toks}
		s.mu.Lock()
		s.queries[key] = q
		s.mu.Unlock()
		s.logger.Debug("query compiled", "query", key, "tokens", len(toks))
		return q, nil
	})
	if err != nil {
		compileErrors.Inc()
		return nil, err
	}
	return v.(*Query), nil
}

// Compile returns a new executable instance of src.
func (s *Service) Compile(src string) (*CompiledQuery, error) {
	q, err := s.Prepare(src)
	if err != nil {
		return nil, err
	}
	expr, err := q.instantiate()
	if err != nil {
		return nil, err
	}
	return &CompiledQuery{query: q, expr: expr}, nil
}

// Borrow returns an idle instance of src from the pool, compiling a new
// one if none is idle. Hand it back with Return.
func (s *Service) Borrow(src string) (*CompiledQuery, error) {
	key := norm.NFC.String(src)
	s.mu.Lock()
	if list := s.idle[key]; len(list) > 0 {
		cq := list[len(list)-1]
		list[len(list)-1] = nil
		s.idle[key] = list[:len(list)-1]
		s.mu.Unlock()
		poolRequests.WithLabelValues("hit").Inc()
		return cq, nil
	}
	_, cached := s.queries[key]
	s.mu.Unlock()

	cq, err := s.Compile(key)
	if err != nil {
		return nil, err
	}
	if cached {
		poolRequests.WithLabelValues("shared").Inc()
	} else {
		poolRequests.WithLabelValues("compiled").Inc()
	}
	return cq, nil
}

// Return puts cq back into the pool. The instance must not be used by the
// caller afterwards.
func (s *Service) Return(cq *CompiledQuery) {
	if cq == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cq.query.source
	if len(s.idle[key]) >= s.maxIdle {
		return
	}
	s.idle[key] = append(s.idle[key], cq)
}

// Idle returns the number of idle instances pooled for src.
func (s *Service) Idle(src string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.idle[norm.NFC.String(src)])
}

// Execute analyzes cq for ec and evaluates it. Virtual results are
// realized before returning so that loading errors are not lost.
func (s *Service) Execute(ctx context.Context, cq *CompiledQuery, ec *Context) (xdm.Sequence, error) {
	if err := cq.expr.Analyze(ec); err != nil {
		return nil, err
	}
	seq, err := cq.expr.Eval(ctx, ec, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := Materialize(seq); err != nil {
		return nil, err
	}
	return seq, nil
}

// Query borrows src, evaluates it in a fresh context and returns the
// instance to the pool.
func (s *Service) Query(ctx context.Context, src string, opts ...ContextOption) (xdm.Sequence, error) {
	cq, err := s.Borrow(src)
	if err != nil {
		return nil, err
	}
	defer s.Return(cq)

	ec := s.NewContext(opts...)
	defer ec.Teardown()
	return s.Execute(ctx, cq, ec)
}
