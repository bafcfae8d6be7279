package engine

// CommitStates maps module ids to the opaque values their BeforeCommit
// returned, in dispatch order. It belongs to one transaction.
type CommitStates struct {
	ids    []string
	values map[string]any
}

func newCommitStates() *CommitStates {
	return &CommitStates{values: make(map[string]any)}
}

func (s *CommitStates) set(id string, v any) {
	if _, ok := s.values[id]; !ok {
		s.ids = append(s.ids, id)
	}
	s.values[id] = v
}

// Get returns the state recorded for a module.
func (s *CommitStates) Get(id string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.values[id]
	return v, ok
}

// IDs returns the modules with an entry, in dispatch order.
func (s *CommitStates) IDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Len returns the number of entries.
func (s *CommitStates) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}
