package testutil

import (
	"strings"
	"sync"
)

// Journal is an ordered, thread-safe log of hook calls shared by the
// modules of one test.
type Journal struct {
	mu      sync.Mutex
	entries []string
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Record appends an entry.
func (j *Journal) Record(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

// Entries returns a copy of all entries in order.
func (j *Journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	copy(out, j.entries)
	return out
}

// Matching returns the entries containing substr, in order.
func (j *Journal) Matching(substr string) []string {
	var out []string
	for _, e := range j.Entries() {
		if strings.Contains(e, substr) {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many entries contain substr.
func (j *Journal) Count(substr string) int {
	return len(j.Matching(substr))
}

// Reset removes all entries.
func (j *Journal) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = nil
}
