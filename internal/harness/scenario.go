package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/txmod/internal/config"
)

// Scenario drives one runtime through a sequence of steps and asserts on
// the resulting trace and final store contents.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Modules are registered, in order, before the first step.
	Modules []ModuleSpec `yaml:"modules"`

	// Steps run in order against the runtime.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// ScriptType is the module type of scripted modules, and the default.
const ScriptType = "script"

// ModuleSpec declares a module. The common fields are those of the
// runtime's own config file; scripted modules add Script.
type ModuleSpec struct {
	config.ModuleConfig `yaml:",inline"`
	Script              `yaml:",inline"`
}

// Script configures a scripted module. Scripted modules record every hook
// call in the trace.
type Script struct {
	// AbortOn rejects transactions whose view touches this kind.
	AbortOn string `yaml:"abort_on,omitempty"`

	// FailOn fails BeforeCommit with a plain error when the view touches this kind.
	FailOn string `yaml:"fail_on,omitempty"`

	// DriftOn reports drift from BeforeCommit when the view touches this kind.
	DriftOn string `yaml:"drift_on,omitempty"`

	// DriftAfterCommit reports drift from every AfterCommit.
	DriftAfterCommit bool `yaml:"drift_after_commit,omitempty"`

	// FailInitialize fails Initialize and Reinitialize.
	FailInitialize bool `yaml:"fail_initialize,omitempty"`

	// DriftOnInitialize reports drift from Initialize and Reinitialize.
	DriftOnInitialize bool `yaml:"drift_on_initialize,omitempty"`

	// FailStart fails the Start hook.
	FailStart bool `yaml:"fail_start,omitempty"`
}

// Step actions.
const (
	StepStart   = "start"
	StepStop    = "stop"
	StepRestart = "restart"
	StepPut     = "put"
	StepDelete  = "delete"
	StepTx      = "tx"
	StepAdvance = "advance"
)

// Step outcomes.
const (
	OutcomeOK         = "ok"
	OutcomeRejected   = "rejected"
	OutcomeFailed     = "failed"
	OutcomeStateError = "state_error"
	OutcomeError      = "error"
)

// Step is one scenario action.
type Step struct {
	Action string `yaml:"action"`

	// Kind, Key and Props address the entity of put and delete.
	Kind  string         `yaml:"kind,omitempty"`
	Key   string         `yaml:"key,omitempty"`
	Props map[string]any `yaml:"props,omitempty"`

	// Writes are the writes of a tx step, applied in one transaction.
	Writes []Write `yaml:"writes,omitempty"`

	// Modules replaces the registered modules on restart. Nil keeps them.
	Modules []ModuleSpec `yaml:"modules,omitempty"`

	// Duration moves the clock forward (advance).
	Duration time.Duration `yaml:"duration,omitempty"`

	// Expect is the expected outcome; defaults to "ok".
	Expect string `yaml:"expect,omitempty"`
}

// Write is one write of a tx step.
type Write struct {
	Op    string         `yaml:"op"` // "put" | "delete"
	Kind  string         `yaml:"kind"`
	Key   string         `yaml:"key"`
	Props map[string]any `yaml:"props,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event with this label (and detail) exists
	// - "trace_order": events appear in this order
	// - "trace_count": an event appears exactly Count times
	// - "final_state": an entity exists with these properties, or not at all
	// - "metadata": a module's stored metadata
	Type string `yaml:"type"`

	// Event is an event label, "<module>.<name>" or a bare step name.
	Event string `yaml:"event,omitempty"`

	// Detail, when set, must equal the event's detail (trace_contains).
	Detail string `yaml:"detail,omitempty"`

	// Events is the expected event order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Kind and Key address the entity (final_state).
	Kind string `yaml:"kind,omitempty"`
	Key  string `yaml:"key,omitempty"`

	// Expect contains expected property values (final_state). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts the entity (final_state) or metadata row (metadata)
	// does not exist.
	Absent bool `yaml:"absent,omitempty"`

	// Module names the module (metadata).
	Module string `yaml:"module,omitempty"`

	// NeedsInitialization, when set, is compared with the stored flag (metadata).
	NeedsInitialization *bool `yaml:"needs_initialization,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertMetadata      = "metadata"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if err := validateModules("modules", s.Modules); err != nil {
		return err
	}
	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateModules(field string, specs []ModuleSpec) error {
	seen := make(map[string]bool, len(specs))
	for i, m := range specs {
		switch {
		case m.ID == "":
			return fmt.Errorf("%s[%d]: id is required", field, i)
		case seen[m.ID]:
			return fmt.Errorf("%s[%d]: duplicate id %q", field, i, m.ID)
		}
		seen[m.ID] = true
		if m.Type != "" && m.Type != ScriptType && m.Script != (Script{}) {
			return fmt.Errorf("%s[%d]: script fields are only valid for %s modules", field, i, ScriptType)
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	switch s.Action {
	case StepStart, StepStop:
	case StepRestart:
		if err := validateModules(fmt.Sprintf("steps[%d].modules", index), s.Modules); err != nil {
			return err
		}
	case StepPut, StepDelete:
		if s.Kind == "" || s.Key == "" {
			return fmt.Errorf("steps[%d]: kind and key are required for %s", index, s.Action)
		}
	case StepTx:
		if len(s.Writes) == 0 {
			return fmt.Errorf("steps[%d]: writes are required for tx", index)
		}
		for j, w := range s.Writes {
			if w.Op != StepPut && w.Op != StepDelete {
				return fmt.Errorf("steps[%d].writes[%d]: op must be put or delete, got %q", index, j, w.Op)
			}
			if w.Kind == "" || w.Key == "" {
				return fmt.Errorf("steps[%d].writes[%d]: kind and key are required", index, j)
			}
		}
	case StepAdvance:
		if s.Duration <= 0 {
			return fmt.Errorf("steps[%d]: duration must be positive for advance", index)
		}
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, s.Action)
	}

	switch s.Expect {
	case "", OutcomeOK, OutcomeRejected, OutcomeFailed, OutcomeStateError, OutcomeError:
		return nil
	default:
		return fmt.Errorf("steps[%d]: unknown expected outcome %q", index, s.Expect)
	}
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Kind == "" || a.Key == "" {
			return fmt.Errorf("assertions[%d]: kind and key are required for final_state", index)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for final_state", index)
		}
	case AssertMetadata:
		if a.Module == "" {
			return fmt.Errorf("assertions[%d]: module is required for metadata", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
