package trigger

import (
	"github.com/google/uuid"

	"github.com/roach88/xcore/internal/xerr"
)

// MaxDepth bounds trigger re-entrancy within one transaction.
const MaxDepth = 8

// IDGenerator produces transaction ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7 generates time-ordered UUIDs.
type UUIDv7 struct{}

// Generate returns a new UUIDv7 string.
func (UUIDv7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Txn is the unit of work bounding one mutation. It is passed explicitly
// to every hook; nested trigger invocations see the enclosing depth.
//
// A Txn belongs to the goroutine running the mutation.
type Txn struct {
	ID    string
	depth int
}

// NewTxn starts a transaction with a UUIDv7 id.
func NewTxn() *Txn {
	return NewTxnWithGenerator(UUIDv7{})
}

// NewTxnWithGenerator starts a transaction whose id comes from gen.
func NewTxnWithGenerator(gen IDGenerator) *Txn {
	return &Txn{ID: gen.Generate()}
}

// Depth returns the current trigger nesting depth; 0 outside any hook.
func (t *Txn) Depth() int {
	return t.depth
}

// Nested reports whether a hook is currently running.
func (t *Txn) Nested() bool {
	return t.depth > 0
}

// enter records that a hook is about to run. The returned func undoes it.
func (t *Txn) enter() (func(), error) {
	if t.depth >= MaxDepth {
		return nil, xerr.New(xerr.KindTriggerFailure, "trigger nesting exceeds %d in transaction %s", MaxDepth, t.ID)
	}
	t.depth++
	return func() { t.depth-- }, nil
}
