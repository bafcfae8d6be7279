package host

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/txmod/internal/store"
	"github.com/roach88/txmod/internal/txdata"
	"github.com/roach88/txmod/internal/value"
)

// Tx is a host transaction. Writes are buffered until commit; reads see the
// buffer first, then committed data.
//
// A Tx is not safe for concurrent use.
type Tx struct {
	id       string
	store    *store.Store
	readOnly bool
	done     bool

	// touched lists refs in first-write order.
	touched []txdata.Ref
	// before holds the committed image of each touched ref (nil if absent).
	before map[txdata.Ref]*txdata.Entity
	// after holds the buffered image of each touched ref (nil if deleted).
	after map[txdata.Ref]*txdata.Entity
}

func newTx(id string, s *store.Store, readOnly bool) *Tx {
	return &Tx{
		id:       id,
		store:    s,
		readOnly: readOnly,
		before:   make(map[txdata.Ref]*txdata.Entity),
		after:    make(map[txdata.Ref]*txdata.Entity),
	}
}

// ID returns the transaction id.
func (tx *Tx) ID() string { return tx.id }

// ReadOnly reports whether the transaction was opened with View.
func (tx *Tx) ReadOnly() bool { return tx.readOnly }

// Get returns an entity as seen by this transaction.
func (tx *Tx) Get(ctx context.Context, ref txdata.Ref) (txdata.Entity, bool, error) {
	if tx.done {
		return txdata.Entity{}, false, ErrTxDone
	}
	if e, ok := tx.after[ref]; ok {
		if e == nil {
			return txdata.Entity{}, false, nil
		}
		return e.Clone(), true, nil
	}
	return tx.store.ReadEntity(ctx, ref)
}

// Scan returns every entity of a kind as seen by this transaction, ordered by key.
func (tx *Tx) Scan(ctx context.Context, kind string) ([]txdata.Entity, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	committed, err := tx.store.ReadKind(ctx, kind)
	if err != nil {
		return nil, err
	}

	out := make([]txdata.Entity, 0, len(committed))
	for _, e := range committed {
		if _, ok := tx.after[e.Ref()]; !ok {
			out = append(out, e)
		}
	}
	for ref, e := range tx.after {
		if ref.Kind == kind && e != nil {
			out = append(out, e.Clone())
		}
	}

	slices.SortFunc(out, func(a, b txdata.Entity) int {
		return strings.Compare(a.Key, b.Key)
	})
	return out, nil
}

// Put creates or replaces an entity.
func (tx *Tx) Put(ctx context.Context, e txdata.Entity) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return fmt.Errorf("put: %w", err)
	}
	if err := tx.touch(ctx, e.Ref()); err != nil {
		return err
	}

	cp := e.Clone()
	if cp.Props == nil {
		cp.Props = value.Object{}
	}
	tx.after[e.Ref()] = &cp
	return nil
}

// Delete removes an entity. Deleting a missing entity is not an error.
func (tx *Tx) Delete(ctx context.Context, ref txdata.Ref) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if err := tx.touch(ctx, ref); err != nil {
		return err
	}
	tx.after[ref] = nil
	return nil
}

func (tx *Tx) writable() error {
	if tx.done {
		return ErrTxDone
	}
	if tx.readOnly {
		return ErrReadOnly
	}
	return nil
}

// touch captures the committed image the first time a ref is written.
func (tx *Tx) touch(ctx context.Context, ref txdata.Ref) error {
	if _, ok := tx.after[ref]; ok {
		return nil
	}
	e, found, err := tx.store.ReadEntity(ctx, ref)
	if err != nil {
		return fmt.Errorf("read %s: %w", ref, err)
	}
	if found {
		tx.before[ref] = &e
	} else {
		tx.before[ref] = nil
	}
	tx.after[ref] = tx.before[ref]
	tx.touched = append(tx.touched, ref)
	return nil
}

// refresh re-reads the committed image of every touched ref. The commit
// lock must be held, so the change set describes what the flush replaces
// even when another transaction committed the same refs meanwhile.
func (tx *Tx) refresh(ctx context.Context) error {
	for _, ref := range tx.touched {
		e, found, err := tx.store.ReadEntity(ctx, ref)
		if err != nil {
			return fmt.Errorf("read %s: %w", ref, err)
		}
		if found {
			tx.before[ref] = &e
		} else {
			tx.before[ref] = nil
		}
	}
	return nil
}

// data builds the change set of the buffered writes. Refs whose final image
// equals the committed one produce no change.
func (tx *Tx) data() *txdata.Set {
	var changes []txdata.Change
	for _, ref := range tx.touched {
		before, after := tx.before[ref], tx.after[ref]
		switch {
		case before == nil && after == nil:
			continue
		case before == nil:
			changes = append(changes, txdata.Change{Op: txdata.OpCreated, After: clonePtr(after)})
		case after == nil:
			changes = append(changes, txdata.Change{Op: txdata.OpDeleted, Before: clonePtr(before)})
		default:
			c := txdata.Change{Op: txdata.OpUpdated, Before: clonePtr(before), After: clonePtr(after)}
			if len(c.ChangedKeys()) == 0 {
				continue
			}
			changes = append(changes, c)
		}
	}
	return txdata.NewSet(changes...)
}

// writes returns the buffered mutations in first-write order.
func (tx *Tx) writes() []store.Write {
	out := make([]store.Write, 0, len(tx.touched))
	for _, ref := range tx.touched {
		after := tx.after[ref]
		if after == nil {
			if tx.before[ref] == nil {
				continue
			}
			out = append(out, store.Write{Ref: ref, Delete: true})
			continue
		}
		out = append(out, store.Write{Ref: ref, Props: after.Props})
	}
	return out
}

func clonePtr(e *txdata.Entity) *txdata.Entity {
	cp := e.Clone()
	return &cp
}
