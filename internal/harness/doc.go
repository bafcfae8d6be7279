// Package harness runs scripted scenarios against a real runtime and
// compares their traces with golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	modules:
//	  - id: audit                 # scripted module (type defaults to "script")
//	    include: 'kind: "person"'
//	    abort_on: forbidden
//	  - id: counts
//	    type: kindcount           # any built-in module type
//	    settings: { abort_kind: secret }
//	steps:
//	  - action: start
//	  - action: put
//	    kind: person
//	    key: ada
//	    props: { name: Ada }
//	  - action: put
//	    kind: forbidden
//	    key: x
//	    expect: rejected
//	assertions:
//	  - type: trace_order
//	    events: [audit.beforeCommit, audit.afterCommit]
//	  - type: final_state
//	    kind: person
//	    key: ada
//	    expect: { name: Ada }
//
// Module fields are those of the runtime config file. Scripted modules
// record every hook call and misbehave on request: abort_on, fail_on,
// drift_on, drift_after_commit, fail_initialize, drift_on_initialize and
// fail_start.
//
// # Steps
//
//   - start, stop: the runtime lifecycle
//   - restart: stop, then start a new runtime over the same store,
//     optionally with a new module list
//   - put, delete, tx: one transaction
//   - advance: move the clock forward
//
// Each step may set expect to ok (default), rejected, failed, state_error
// or error.
//
// # Assertion Types
//
//   - trace_contains: an event with the label (and detail) is in the trace
//   - trace_order: events appear in the given order
//   - trace_count: an event appears exactly N times
//   - final_state: an entity has the given properties, or is absent
//   - metadata: a module's stored metadata exists, is absent, or carries
//     the given needs_initialization flag
//
// Event labels are "<module>.<hook>" for hook calls, "<module>.<event>"
// for runtime events (reconciled, rejected, drift) and the bare name for
// steps and rolled_back.
//
// # Deterministic Testing
//
// Every scenario runs in a fresh in-memory store with a manual clock
// starting at 2024-01-01T00:00:00Z. Only synchronous events are traced, so
// a scenario produces the same trace on every run.
package harness
