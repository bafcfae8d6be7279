package host

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txmod/internal/store"
	"github.com/roach88/txmod/internal/txdata"
	"github.com/roach88/txmod/internal/value"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "host.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, WithIDGenerator(NewSequenceGenerator("tx")))
}

type recordingHandler struct {
	name   string
	log    *[]string
	fail   error
	write  *txdata.Entity
	admit  error
	mu     sync.Mutex
}

func (h *recordingHandler) record(s string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.log = append(*h.log, h.name+":"+s)
}

func (h *recordingHandler) BeforeCommit(ctx context.Context, tx *Tx, data txdata.Data) (any, error) {
	h.record(fmt.Sprintf("before(%d)", len(data.Changes())))
	if h.fail != nil {
		return nil, h.fail
	}
	if h.write != nil {
		if err := tx.Put(ctx, *h.write); err != nil {
			return nil, err
		}
	}
	return h.name + "-state", nil
}

func (h *recordingHandler) AfterCommit(_ context.Context, _ txdata.Data, state any) {
	h.record(fmt.Sprintf("commit(%v)", state))
}

func (h *recordingHandler) AfterRollback(_ context.Context, _ txdata.Data, state any) {
	h.record(fmt.Sprintf("rollback(%v)", state))
}

type gatedHandler struct {
	recordingHandler
}

func (h *gatedHandler) Admit(context.Context, txdata.Data) error {
	h.record("admit")
	return h.admit
}

func ada(age int64) txdata.Entity {
	return txdata.Entity{Kind: "person", Key: "ada", Props: value.Object{"age": value.Int(age)}}
}

var adaRef = txdata.Ref{Kind: "person", Key: "ada"}

func TestUpdate_CommitsAndNotifiesInOrder(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	var log []string
	db.RegisterHandler(&recordingHandler{name: "a", log: &log})
	db.RegisterHandler(&recordingHandler{name: "b", log: &log})

	err := db.Update(ctx, func(tx *Tx) error {
		assert.Equal(t, "tx-1", tx.ID())
		return tx.Put(ctx, ada(36))
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"a:before(1)", "b:before(1)",
		"a:commit(a-state)", "b:commit(b-state)",
	}, log)

	e, found, err := db.Store().ReadEntity(ctx, adaRef)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, value.Int(36), e.Props["age"])
}

func TestUpdate_HandlerErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	var log []string
	boom := errors.New("boom")
	db.RegisterHandler(&recordingHandler{name: "a", log: &log})
	db.RegisterHandler(&recordingHandler{name: "b", log: &log, fail: boom})
	db.RegisterHandler(&recordingHandler{name: "c", log: &log})

	err := db.Update(ctx, func(tx *Tx) error { return tx.Put(ctx, ada(36)) })

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, IsRollback(err))
	assert.Equal(t, []string{"a:before(1)", "b:before(1)", "a:rollback(a-state)"}, log)

	_, found, err := db.Store().ReadEntity(ctx, adaRef)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpdate_BodyErrorSkipsHandlers(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	var log []string
	db.RegisterHandler(&recordingHandler{name: "a", log: &log})
	boom := errors.New("boom")

	err := db.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.Put(ctx, ada(1)))
		return boom
	})

	assert.Equal(t, boom, err)
	assert.Empty(t, log)
}

func TestUpdate_GateRejects(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	var log []string
	denied := errors.New("not ready")
	db.RegisterHandler(&gatedHandler{recordingHandler{name: "g", log: &log, admit: denied}})

	err := db.Update(ctx, func(tx *Tx) error { return tx.Put(ctx, ada(1)) })

	assert.ErrorIs(t, err, denied)
	assert.Equal(t, []string{"g:admit"}, log)
}

func TestUpdate_HandlerWritesCommitWithTransaction(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	var log []string
	audit := txdata.Entity{Kind: "_audit", Key: "last", Props: value.Object{}}
	db.RegisterHandler(&recordingHandler{name: "a", log: &log, write: &audit})

	require.NoError(t, db.Update(ctx, func(tx *Tx) error { return tx.Put(ctx, ada(1)) }))

	_, found, err := db.Store().ReadEntity(ctx, audit.Ref())
	require.NoError(t, err)
	assert.True(t, found)
}

func TestView_RejectsWritesButNotifiesHandlers(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	var log []string
	db.RegisterHandler(&recordingHandler{name: "a", log: &log})

	err := db.View(ctx, func(tx *Tx) error {
		assert.True(t, tx.ReadOnly())
		assert.ErrorIs(t, tx.Put(ctx, ada(1)), ErrReadOnly)
		assert.ErrorIs(t, tx.Delete(ctx, adaRef), ErrReadOnly)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a:before(0)", "a:commit(a-state)"}, log)
}

func TestTx_ReadsSeeBuffer(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		if err := tx.Put(ctx, ada(1)); err != nil {
			return err
		}
		return tx.Put(ctx, txdata.Entity{Kind: "person", Key: "bob"})
	}))

	err := db.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.Delete(ctx, txdata.Ref{Kind: "person", Key: "bob"}))
		require.NoError(t, tx.Put(ctx, txdata.Entity{Kind: "person", Key: "cy"}))
		require.NoError(t, tx.Put(ctx, ada(2)))

		got, found, err := tx.Get(ctx, adaRef)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, value.Int(2), got.Props["age"])

		people, err := tx.Scan(ctx, "person")
		require.NoError(t, err)
		require.Len(t, people, 2)
		assert.Equal(t, "ada", people[0].Key)
		assert.Equal(t, "cy", people[1].Key)
		return nil
	})
	require.NoError(t, err)
}

func TestTx_ChangeSet(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	require.NoError(t, db.Update(ctx, func(tx *Tx) error { return tx.Put(ctx, ada(1)) }))

	var seen txdata.Data
	db.RegisterHandler(handlerFunc(func(_ context.Context, _ *Tx, data txdata.Data) (any, error) {
		seen = data
		return nil, nil
	}))

	err := db.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.Put(ctx, ada(2)))
		require.NoError(t, tx.Put(ctx, txdata.Entity{Kind: "person", Key: "tmp"}))
		require.NoError(t, tx.Delete(ctx, txdata.Ref{Kind: "person", Key: "tmp"}))
		return tx.Put(ctx, txdata.Entity{Kind: "company", Key: "acme"})
	})
	require.NoError(t, err)

	require.Len(t, seen.Changes(), 2)
	require.Len(t, seen.Updated(), 1)
	assert.Equal(t, value.Int(1), seen.Updated()[0].Before.Props["age"])
	assert.Equal(t, value.Int(2), seen.Updated()[0].After.Props["age"])
	require.Len(t, seen.Created(), 1)
	assert.Equal(t, "acme", seen.Created()[0].After.Key)
}

func TestTx_UnchangedPutIsNotAChange(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	require.NoError(t, db.Update(ctx, func(tx *Tx) error { return tx.Put(ctx, ada(1)) }))

	var seen txdata.Data
	db.RegisterHandler(handlerFunc(func(_ context.Context, _ *Tx, data txdata.Data) (any, error) {
		seen = data
		return nil, nil
	}))

	require.NoError(t, db.Update(ctx, func(tx *Tx) error { return tx.Put(ctx, ada(1)) }))
	assert.False(t, seen.MutationsOccurred())
}

func TestTx_UseAfterDone(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	var leaked *Tx
	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		leaked = tx
		return nil
	}))

	assert.ErrorIs(t, leaked.Put(ctx, ada(1)), ErrTxDone)
	_, _, err := leaked.Get(ctx, adaRef)
	assert.ErrorIs(t, err, ErrTxDone)
}

func TestTx_PutValidates(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	err := db.Update(ctx, func(tx *Tx) error {
		return tx.Put(ctx, txdata.Entity{Kind: "person"})
	})
	assert.Error(t, err)
}

type handlerFunc func(ctx context.Context, tx *Tx, data txdata.Data) (any, error)

func (f handlerFunc) BeforeCommit(ctx context.Context, tx *Tx, data txdata.Data) (any, error) {
	return f(ctx, tx, data)
}
func (handlerFunc) AfterCommit(context.Context, txdata.Data, any)   {}
func (handlerFunc) AfterRollback(context.Context, txdata.Data, any) {}

// concurrently runs each body in its own Update. Every body has made its
// writes before any of them commits.
func concurrently(t *testing.T, db *DB, bodies ...func(ctx context.Context, tx *Tx) error) {
	t.Helper()
	ctx := context.Background()

	var written, finished sync.WaitGroup
	written.Add(len(bodies))
	finished.Add(len(bodies))
	errs := make([]error, len(bodies))
	for i, body := range bodies {
		go func() {
			defer finished.Done()
			errs[i] = db.Update(ctx, func(tx *Tx) error {
				err := body(ctx, tx)
				written.Done()
				written.Wait()
				return err
			})
		}()
	}
	finished.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
}

func collectOps(db *DB) *[]string {
	var ops []string
	db.RegisterHandler(handlerFunc(func(_ context.Context, _ *Tx, data txdata.Data) (any, error) {
		for _, c := range data.Changes() {
			ops = append(ops, c.Op.String())
		}
		return nil, nil
	}))
	return &ops
}

func TestUpdate_ConcurrentCreatesOfSameRef(t *testing.T) {
	db := setupTestDB(t)
	ops := collectOps(db)

	concurrently(t, db,
		func(ctx context.Context, tx *Tx) error { return tx.Put(ctx, ada(1)) },
		func(ctx context.Context, tx *Tx) error { return tx.Put(ctx, ada(2)) },
	)

	assert.Equal(t, []string{"created", "updated"}, *ops)
}

func TestUpdate_ConcurrentDeletesOfSameRef(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	require.NoError(t, db.Update(ctx, func(tx *Tx) error { return tx.Put(ctx, ada(1)) }))
	ops := collectOps(db)

	concurrently(t, db,
		func(ctx context.Context, tx *Tx) error { return tx.Delete(ctx, adaRef) },
		func(ctx context.Context, tx *Tx) error { return tx.Delete(ctx, adaRef) },
	)

	assert.Equal(t, []string{"deleted"}, *ops)
	_, found, err := db.Store().ReadEntity(ctx, adaRef)
	require.NoError(t, err)
	assert.False(t, found)
}
