package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/txmod/internal/host"
	"github.com/roach88/txmod/internal/store"
	"github.com/roach88/txmod/internal/testutil"
	"github.com/roach88/txmod/internal/txdata"
	"github.com/roach88/txmod/internal/value"
)

// fixture shares one store across engines so tests can restart the runtime.
type fixture struct {
	t       *testing.T
	store   *store.Store
	journal *testutil.Journal
	clock   *testutil.ManualClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return &fixture{
		t:       t,
		store:   s,
		journal: testutil.NewJournal(),
		clock:   testutil.NewManualClock(testutil.Epoch),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// engine creates a fresh engine over a new host DB on the shared store.
func (f *fixture) engine(opts ...Option) *Engine {
	db := host.New(f.store,
		host.WithIDGenerator(host.NewSequenceGenerator("tx")),
		host.WithLogger(discardLogger()),
	)
	base := []Option{
		WithClock(f.clock),
		WithLogger(discardLogger()),
		WithTimingStrategy(FixedDelay(time.Hour)),
	}
	return New(db, f.store, append(base, opts...)...)
}

// started creates an engine with modules registered and started.
func (f *fixture) started(modules ...*testutil.RecordingModule) *Engine {
	f.t.Helper()
	e := f.engine()
	for _, m := range modules {
		require.NoError(f.t, e.Register(m))
	}
	require.NoError(f.t, e.Start(context.Background()))
	f.t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func (f *fixture) module(id string) *testutil.RecordingModule {
	return testutil.NewRecordingModule(id, f.journal)
}

func (f *fixture) metadata(id string) *store.ModuleMetadata {
	f.t.Helper()
	md, err := f.store.ReadModuleMetadata(context.Background(), id)
	require.NoError(f.t, err)
	return md
}

func entity(kind, key string) txdata.Entity {
	return txdata.Entity{Kind: kind, Key: key, Props: value.Object{"name": value.String(key)}}
}

func put(ctx context.Context, db *host.DB, entities ...txdata.Entity) error {
	return db.Update(ctx, func(tx *host.Tx) error {
		for _, e := range entities {
			if err := tx.Put(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func mutation(kind, key string) txdata.Data {
	e := entity(kind, key)
	return txdata.NewSet(txdata.Change{Op: txdata.OpCreated, After: &e})
}

func fingerprint(t *testing.T, m *testutil.RecordingModule) string {
	t.Helper()
	fp, err := m.Config().Fingerprint()
	require.NoError(t, err)
	return fp
}

func keyN(i int) string { return fmt.Sprintf("k%03d", i) }

// recordingObserver counts observer events. Safe for concurrent use.
type recordingObserver struct {
	mu         sync.Mutex
	handshakes []string
	reconciled map[string]Action
	rejected   []string
	drift      []string
	rollbacks  int
	dispatched []int
	timerRuns  map[string]int
	started    *bool
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{reconciled: map[string]Action{}, timerRuns: map[string]int{}}
}

func (o *recordingObserver) StartupFinished(ok bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = &ok
}

func (o *recordingObserver) ModuleReconciled(id string, a Action) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reconciled[id] = a
}

func (o *recordingObserver) TransactionDispatched(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatched = append(o.dispatched, n)
}

func (o *recordingObserver) CommitRejected(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, id)
}

func (o *recordingObserver) RolledBack() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rollbacks++
}

func (o *recordingObserver) DriftSignaled(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.drift = append(o.drift, id)
}

func (o *recordingObserver) HandshakeWaited(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handshakes = append(o.handshakes, outcome)
}

func (o *recordingObserver) TimerRun(id string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timerRuns[id]++
}

func (o *recordingObserver) handshakeCount(outcome string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, h := range o.handshakes {
		if h == outcome {
			n++
		}
	}
	return n
}

func (o *recordingObserver) timerRunCount(id string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.timerRuns[id]
}
