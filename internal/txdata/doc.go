// Package txdata describes what a host transaction changed and how a module
// sees it.
//
// A transaction's change set is a Set of Changes (created, updated or
// deleted entities, each with before/after images). Modules never see the
// raw set: Filter derives a per-module view restricted by that module's
// inclusion Policies. Filtering is side-effect free; the source set is never
// modified.
//
// Inclusion policies come in two flavors: the built-in predicates in
// policy.go and CUE constraints (cue.go), where an entity is included when
// its {kind, key, props} document unifies with the constraint.
package txdata
