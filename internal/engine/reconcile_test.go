package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txmod/internal/host"
	"github.com/roach88/txmod/internal/module"
	"github.com/roach88/txmod/internal/store"
	"github.com/roach88/txmod/internal/testutil"
	"github.com/roach88/txmod/internal/txdata"
	"github.com/roach88/txmod/internal/value"
)

func TestDecide(t *testing.T) {
	now := testutil.Epoch
	current := &store.ModuleMetadata{ModuleID: "A", Fingerprint: "fp", LastInitializedAt: now.Add(-time.Hour)}
	drifted := *current
	drifted.NeedsInitializationAt = now.Add(-time.Minute)

	tests := []struct {
		name    string
		md      *store.ModuleMetadata
		corrupt bool
		fp      string
		until   time.Time
		want    Action
	}{
		{name: "never initialized", md: nil, fp: "fp", want: ActionInitialize},
		{name: "corrupt", md: nil, corrupt: true, fp: "fp", want: ActionReinitialize},
		{name: "up to date", md: current, fp: "fp", want: ActionSkip},
		{name: "fingerprint changed", md: current, fp: "other", want: ActionReinitialize},
		{name: "drift recorded", md: &drifted, fp: "fp", want: ActionReinitialize},
		{name: "forced until future", md: current, fp: "fp", until: now.Add(time.Hour), want: ActionReinitialize},
		{name: "forced until past", md: current, fp: "fp", until: now.Add(-time.Hour), want: ActionSkip},
		{name: "forced until now", md: current, fp: "fp", until: now, want: ActionSkip},
		{name: "forced until ignored for new module", md: nil, fp: "fp", until: now.Add(time.Hour), want: ActionInitialize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.md, tt.corrupt, tt.fp, tt.until, now)
			assert.Equal(t, tt.want, d.Action)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestReconcile_IdempotentAcrossRestarts(t *testing.T) {
	f := newFixture(t)
	e := f.started(f.module("A"), f.module("B"))
	before := f.metadata("A")
	require.NoError(t, e.Stop(context.Background()))

	f.clock.Advance(time.Hour)
	f.journal.Reset()
	f.started(f.module("A"), f.module("B"))

	assert.Equal(t, []string{"A.start", "B.start"}, f.journal.Entries())
	after := f.metadata("A")
	assert.Equal(t, before.Fingerprint, after.Fingerprint)
	assert.True(t, before.LastInitializedAt.Equal(after.LastInitializedAt), "skipped modules keep their metadata")
}

func TestReconcile_FingerprintChangeReinitializes(t *testing.T) {
	f := newFixture(t)
	e := f.started(f.module("A"), f.module("B"))
	old := f.metadata("A")
	require.NoError(t, e.Stop(context.Background()))

	f.clock.Advance(time.Minute)
	f.journal.Reset()

	changed := f.module("A").WithConfig(module.NewConfig().WithSetting("limit", value.Int(10)))
	var previous *store.ModuleMetadata
	changed.OnReinitialize = func(_ context.Context, _ *host.DB, md *store.ModuleMetadata) error {
		previous = md
		return nil
	}
	f.started(changed, f.module("B"))

	assert.Equal(t, []string{"A.reinitialize", "A.start", "B.start"}, f.journal.Entries())
	require.NotNil(t, previous)
	assert.Equal(t, old.Fingerprint, previous.Fingerprint)

	md := f.metadata("A")
	assert.Equal(t, fingerprint(t, changed), md.Fingerprint)
	assert.NotEqual(t, old.Fingerprint, md.Fingerprint)
	assert.True(t, md.LastInitializedAt.Equal(testutil.Epoch.Add(time.Minute)))
}

func TestReconcile_PolicyChangeReinitializes(t *testing.T) {
	f := newFixture(t)
	e := f.started(f.module("A"))
	require.NoError(t, e.Stop(context.Background()))
	f.journal.Reset()

	narrowed := f.module("A").WithConfig(module.NewConfig().WithPolicies(txdata.Policies{
		Entities: txdata.Kinds("person"),
	}))
	f.started(narrowed)

	assert.Equal(t, []string{"A.reinitialize", "A.start"}, f.journal.Entries())
}

func TestReconcile_InitializeUntil(t *testing.T) {
	f := newFixture(t)
	until := testutil.Epoch.Add(2 * time.Hour)
	forced := func() *testutil.RecordingModule {
		return f.module("A").WithConfig(module.NewConfig().WithInitializeUntil(until))
	}

	e := f.started(forced())
	require.NoError(t, e.Stop(context.Background()))
	f.journal.Reset()

	f.clock.Advance(time.Hour)
	e = f.started(forced())
	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, []string{"A.reinitialize", "A.start"}, f.journal.Entries(), "forced while before the deadline")
	f.journal.Reset()

	f.clock.Advance(2 * time.Hour)
	f.started(forced())
	assert.Equal(t, []string{"A.start"}, f.journal.Entries(), "skipped after the deadline")
}

func TestReconcile_CorruptMetadataReinitializes(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.DB().ExecContext(context.Background(), `
		INSERT INTO module_metadata (module_id, fingerprint, last_initialized_at) VALUES ('A', '', 0)
	`)
	require.NoError(t, err)

	var previous *store.ModuleMetadata
	a := f.module("A")
	a.OnReinitialize = func(_ context.Context, _ *host.DB, md *store.ModuleMetadata) error {
		previous = md
		return nil
	}
	f.started(a)

	assert.Equal(t, []string{"A.reinitialize", "A.start"}, f.journal.Entries())
	assert.Nil(t, previous, "corrupt metadata is not handed to the module")
	md := f.metadata("A")
	require.NotNil(t, md)
	assert.Equal(t, fingerprint(t, a), md.Fingerprint)
}

func TestReconcile_DriftWithoutMetadataInitializes(t *testing.T) {
	f := newFixture(t)
	obs := newRecordingObserver()
	a := f.module("A")
	a.OnBeforeCommit = func(context.Context, *host.Tx, txdata.Data) (any, error) {
		return nil, module.NeedsReinitialization("index out of sync")
	}
	e := f.engine(WithObserver(obs))
	require.NoError(t, e.Register(a))
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, f.store.RemoveModuleMetadata(context.Background(), "A"))

	require.NoError(t, put(context.Background(), e.DB(), entity("person", "ada")))

	assert.Equal(t, []string{"A"}, obs.drift)
	assert.Nil(t, f.metadata("A"), "drift does not create a record")

	require.NoError(t, e.Stop(context.Background()))
	f.journal.Reset()
	f.started(f.module("A"))
	assert.Equal(t, []string{"A.initialize", "A.start"}, f.journal.Entries())
}

func TestReconcile_DriftDuringInitialize(t *testing.T) {
	f := newFixture(t)
	obs := newRecordingObserver()
	a := f.module("A")
	a.OnInitialize = func(context.Context, *host.DB) error {
		return module.NeedsReinitialization("source unavailable")
	}
	e := f.engine(WithObserver(obs))
	require.NoError(t, e.Register(a))

	require.NoError(t, e.Start(context.Background()))

	assert.Equal(t, StateStarted, e.State())
	assert.Equal(t, []string{"A"}, obs.drift)
	md := f.metadata("A")
	require.NotNil(t, md)
	assert.True(t, md.NeedsInitialization())
	require.NoError(t, e.Stop(context.Background()))

	f.journal.Reset()
	f.started(f.module("A"))
	assert.Equal(t, []string{"A.reinitialize", "A.start"}, f.journal.Entries())
}

func TestReconcile_FailureKeepsEarlierMetadata(t *testing.T) {
	f := newFixture(t)
	e := f.started(f.module("A"), f.module("B"))
	oldB := f.metadata("B")
	require.NoError(t, e.Stop(context.Background()))

	f.clock.Advance(time.Minute)
	boom := errors.New("boom")
	a := f.module("A").WithConfig(module.NewConfig().WithSetting("v", value.Int(2)))
	b := f.module("B").WithConfig(module.NewConfig().WithSetting("v", value.Int(2)))
	b.OnReinitialize = func(context.Context, *host.DB, *store.ModuleMetadata) error { return boom }

	e = f.engine()
	require.NoError(t, e.Register(a))
	require.NoError(t, e.Register(b))
	err := e.Start(context.Background())

	var ie *InitializationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "B", ie.ModuleID)
	assert.Equal(t, ActionReinitialize, ie.Action)
	assert.Equal(t, StateFailed, e.State())

	assert.Equal(t, fingerprint(t, a), f.metadata("A").Fingerprint)
	assert.Equal(t, oldB.Fingerprint, f.metadata("B").Fingerprint, "failed module keeps its previous metadata")
}

func TestReconcile_RemovesOrphanedMetadata(t *testing.T) {
	f := newFixture(t)
	e := f.started(f.module("A"), f.module("B"))
	require.NoError(t, f.store.PersistTimerContext(context.Background(), "B",
		store.TimerContext{EarliestNextCall: testutil.Epoch}, testutil.Epoch))
	require.NoError(t, e.Stop(context.Background()))

	obs := newRecordingObserver()
	e = f.engine(WithObserver(obs))
	require.NoError(t, e.Register(f.module("A")))
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	ids, err := f.store.ModuleIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids)

	_, found, err := f.store.ReadTimerContext(context.Background(), "B")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, map[string]Action{"A": ActionSkip}, obs.reconciled)
}
