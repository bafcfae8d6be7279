package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/txmod/internal/txdata"
	"github.com/roach88/txmod/internal/value"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func put(kind, key string, props value.Object) Write {
	return Write{Ref: txdata.Ref{Kind: kind, Key: key}, Props: props}
}

func del(kind, key string) Write {
	return Write{Ref: txdata.Ref{Kind: kind, Key: key}, Delete: true}
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
