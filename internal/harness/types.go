package harness

import "sync"

// Trace event types.
const (
	EventStep    = "step"    // a scenario step, with its outcome
	EventCall    = "call"    // a hook call on a scripted module
	EventRuntime = "runtime" // a runtime event: reconciled, rejected, rolled_back, drift
)

// TraceEvent is one line of a scenario trace.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Module  string `json:"module,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Outcome string `json:"outcome,omitempty"`
}

// Label returns "<module>.<name>" for module events and the bare name
// otherwise. Trace assertions match on labels.
func (e TraceEvent) Label() string {
	if e.Module == "" {
		return e.Name
	}
	return e.Module + "." + e.Name
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every step met its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace holds steps, hook calls and runtime events in the order they
	// happened.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// recorder appends trace events from the scenario goroutine and from
// module hooks. Sequence numbers start at 1.
type recorder struct {
	mu     sync.Mutex
	result *Result
	closed bool
}

// add appends e and returns its index. Events after close are dropped.
func (r *recorder) add(e TraceEvent) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return -1
	}
	e.Seq = int64(len(r.result.Trace) + 1)
	r.result.Trace = append(r.result.Trace, e)
	return len(r.result.Trace) - 1
}

func (r *recorder) setOutcome(i int, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= 0 {
		r.result.Trace[i].Outcome = outcome
	}
}

func (r *recorder) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
