package modules

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txmod/internal/config"
	"github.com/roach88/txmod/internal/module"
	"github.com/roach88/txmod/internal/modules/kindcount"
	"github.com/roach88/txmod/internal/value"
)

func TestBuiltin_Types(t *testing.T) {
	assert.Equal(t, []string{"kindcount"}, Builtin().Types())
}

func TestBuild_Kindcount(t *testing.T) {
	until := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	mc := config.ModuleConfig{
		ID:              "people",
		Type:            kindcount.Type,
		Include:         `kind: "person"`,
		InitializeUntil: until,
		Settings:        map[string]any{"abort_kind": "secret"},
	}

	m, err := Builtin().Build(mc, slog.Default())
	require.NoError(t, err)

	kc, ok := m.(*kindcount.Module)
	require.True(t, ok)
	assert.Equal(t, "people", kc.ID())
	assert.True(t, kc.Config().InitializeUntil().Equal(until))

	base := kc.Config().(module.BaseConfig)
	assert.Equal(t, value.Object{"abort_kind": value.String("secret")}, base.Settings)
	assert.Equal(t, "secret", string(base.Settings["abort_kind"].(value.String)))
}

func TestBuild_FingerprintFollowsConfig(t *testing.T) {
	c := Builtin()
	a, err := c.Build(config.ModuleConfig{ID: "x", Type: kindcount.Type}, nil)
	require.NoError(t, err)
	b, err := c.Build(config.ModuleConfig{ID: "x", Type: kindcount.Type, Include: `kind: "person"`}, nil)
	require.NoError(t, err)

	fa, err := a.Config().Fingerprint()
	require.NoError(t, err)
	fb, err := b.Config().Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, fa, fb)
}

func TestBuild_Errors(t *testing.T) {
	c := Builtin()

	_, err := c.Build(config.ModuleConfig{ID: "x", Type: "nope"}, nil)
	assert.ErrorContains(t, err, `unknown type "nope"`)

	_, err = c.Build(config.ModuleConfig{ID: "x", Type: kindcount.Type, Include: "kind: ("}, nil)
	assert.ErrorContains(t, err, "include")

	_, err = c.Build(config.ModuleConfig{ID: "x", Type: kindcount.Type, Settings: map[string]any{"abort_kind": 3}}, nil)
	assert.ErrorContains(t, err, "abort_kind")
}

func TestBuildAll_KeepsOrder(t *testing.T) {
	ms, err := Builtin().BuildAll([]config.ModuleConfig{
		{ID: "b", Type: kindcount.Type},
		{ID: "a", Type: kindcount.Type},
	}, nil)
	require.NoError(t, err)

	require.Len(t, ms, 2)
	assert.Equal(t, "b", ms[0].ID())
	assert.Equal(t, "a", ms[1].ID())
}
