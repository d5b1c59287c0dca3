package harness

// Step operations.
const (
	OpQuery  = "query"
	OpUpdate = "update"
	OpCheck  = "check"
)

// StepResult is what one flow step observed.
type StepResult struct {
	Step int    `json:"step"`
	Op   string `json:"op"`

	// Kind is the update kind for update steps.
	Kind  string `json:"kind,omitempty"`
	Input string `json:"input,omitempty"`

	// Items holds the string value of every query result item, or one
	// "uri: ok|failed" line per document for check steps.
	Items []string `json:"items,omitempty"`

	// Nodes is the number of modified nodes for update steps and the
	// number of checked documents for check steps.
	Nodes     int    `json:"nodes,omitempty"`
	Relocated int    `json:"relocated,omitempty"`
	Txn       string `json:"txn,omitempty"`

	// Error is the error kind, empty on success.
	Error   string `json:"error,omitempty"`
	Changed bool   `json:"changed,omitempty"`

	// Message is the full error text. Not part of snapshots.
	Message string `json:"-"`
}

// Count returns the number the expect clause's count is compared with.
func (r StepResult) Count() int {
	if r.Op == OpQuery {
		return len(r.Items)
	}
	return r.Nodes
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every expect clause matched.
	Pass bool `json:"pass"`

	Steps []StepResult `json:"steps"`

	// Errors holds one message per failed expectation.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
