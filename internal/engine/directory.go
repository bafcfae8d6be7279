package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Handle identifies an engine in a Directory.
type Handle string

// Directory maps opaque handles to engines. It is owned by the application
// and passed to whoever needs to find a runtime; there is no global instance.
//
// Thread-safety: safe for concurrent use.
type Directory struct {
	mu      sync.RWMutex
	engines map[Handle]*Engine
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{engines: make(map[Handle]*Engine)}
}

// Register adds e under a new random handle.
func (d *Directory) Register(e *Engine) Handle {
	h := Handle(uuid.NewString())
	d.mu.Lock()
	defer d.mu.Unlock()
	d.engines[h] = e
	return h
}

// RegisterAs adds e under a caller-chosen handle, such as a database path.
func (d *Directory) RegisterAs(h Handle, e *Engine) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.engines[h]; ok {
		return fmt.Errorf("directory: handle %q already registered", h)
	}
	d.engines[h] = e
	return nil
}

// Lookup returns the engine registered under h.
func (d *Directory) Lookup(h Handle) (*Engine, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.engines[h]
	return e, ok
}

// Remove deletes h. Removing an unknown handle is a no-op.
func (d *Directory) Remove(h Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.engines, h)
}

// Len returns the number of registered engines.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.engines)
}
