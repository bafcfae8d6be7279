package txdata

// Data is the read-only view of a transaction's mutations handed to modules.
type Data interface {
	// MutationsOccurred reports whether the transaction changed anything.
	MutationsOccurred() bool

	// Changes returns every change in the order entities were first touched.
	Changes() []Change

	// Created, Updated and Deleted return the changes of one Op, same order.
	Created() []Change
	Updated() []Change
	Deleted() []Change
}

// Set is the concrete change set built by the host for one transaction.
type Set struct {
	changes []Change
}

var _ Data = (*Set)(nil)

// NewSet creates a change set. The slice is copied.
func NewSet(changes ...Change) *Set {
	cp := make([]Change, len(changes))
	copy(cp, changes)
	return &Set{changes: cp}
}

// Empty returns a change set with no mutations.
func Empty() *Set {
	return &Set{}
}

// MutationsOccurred implements Data.
func (s *Set) MutationsOccurred() bool {
	return len(s.changes) > 0
}

// Changes implements Data.
func (s *Set) Changes() []Change {
	cp := make([]Change, len(s.changes))
	copy(cp, s.changes)
	return cp
}

// Created implements Data.
func (s *Set) Created() []Change { return byOp(s.changes, OpCreated) }

// Updated implements Data.
func (s *Set) Updated() []Change { return byOp(s.changes, OpUpdated) }

// Deleted implements Data.
func (s *Set) Deleted() []Change { return byOp(s.changes, OpDeleted) }

// Len returns the number of changes.
func (s *Set) Len() int {
	return len(s.changes)
}

func byOp(changes []Change, op Op) []Change {
	var out []Change
	for _, c := range changes {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}
