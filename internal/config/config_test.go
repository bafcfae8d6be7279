package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txmod/internal/txdata"
	"github.com/roach88/txmod/internal/value"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 10*time.Millisecond, cfg.Handshake.PollInterval)
	assert.Equal(t, 100, cfg.Handshake.PollAttempts)
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "full.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/txmod/data.db", cfg.Database)
	assert.Equal(t, LogConfig{Level: "debug", Format: "json"}, cfg.Log)
	assert.Equal(t, HandshakeConfig{PollInterval: 20 * time.Millisecond, PollAttempts: 50}, cfg.Handshake)
	assert.Equal(t, SchedulerFixed, cfg.Scheduler.Mode)
	assert.Equal(t, time.Second, cfg.Scheduler.Delay)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.MaxDelay, "unset fields keep defaults")
	assert.Equal(t, ":9090", cfg.Metrics.Address)
	assert.Equal(t, "http://localhost:4318", cfg.Tracing.Endpoint)
	assert.Equal(t, "txmod", cfg.Tracing.ServiceName)

	require.Len(t, cfg.Modules, 2)
	m := cfg.Modules[0]
	assert.Equal(t, "people-count", m.ID)
	assert.Equal(t, "kindcount", m.Type)
	assert.Equal(t, []string{"name"}, m.Properties)
	assert.True(t, m.InitializeUntil.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))

	settings, err := m.SettingsObject()
	require.NoError(t, err)
	assert.Equal(t, value.Object{
		"abort_kind": value.String("forbidden"),
		"limits":     value.Object{"max": value.Int(10)},
	}, settings)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TXMOD_DATABASE", "/tmp/override.db")
	t.Setenv("TXMOD_LOG_LEVEL", "warn")
	t.Setenv("TXMOD_POLL_INTERVAL", "5ms")
	t.Setenv("TXMOD_POLL_ATTEMPTS", "7")
	t.Setenv("TXMOD_METRICS_ADDRESS", "127.0.0.1:9100")

	cfg, err := Load(filepath.Join("testdata", "full.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override.db", cfg.Database)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format, "unset variables leave the file value")
	assert.Equal(t, 5*time.Millisecond, cfg.Handshake.PollInterval)
	assert.Equal(t, 7, cfg.Handshake.PollAttempts)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Address)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("TXMOD_POLL_ATTEMPTS", "many")

	_, err := Load("")
	assert.ErrorContains(t, err, "parse env")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "unknown field", yaml: "databse: x.db\n", want: "databse"},
		{name: "bad duration", yaml: "handshake:\n  poll_interval: soon\n", want: "parse config"},
		{name: "bad level", yaml: "log:\n  level: loud\n", want: "log.level"},
		{name: "bad format", yaml: "log:\n  format: xml\n", want: "log.format"},
		{name: "zero attempts", yaml: "handshake:\n  poll_attempts: -1\n", want: "poll_attempts"},
		{name: "bad mode", yaml: "scheduler:\n  mode: cron\n", want: "scheduler.mode"},
		{name: "missing id", yaml: "modules:\n  - type: kindcount\n", want: "id is empty"},
		{name: "missing type", yaml: "modules:\n  - id: a\n", want: "type is empty"},
		{name: "duplicate id", yaml: "modules:\n  - {id: a, type: x}\n  - {id: a, type: x}\n", want: "duplicate id"},
		{name: "bad ratio", yaml: "tracing:\n  sample_ratio: 2\n", want: "sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "txmod.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			_, err := Load(path)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg := Default()
	require.NoError(t, Parse(nil, &cfg))
	assert.Equal(t, Default(), cfg)
}

func TestModuleConfig_Policies(t *testing.T) {
	m := ModuleConfig{ID: "m", Include: `kind: "person"`, Properties: []string{"name"}}

	p, err := m.Policies()
	require.NoError(t, err)

	person := txdata.Entity{Kind: "person", Key: "ada", Props: value.Object{}}
	pet := txdata.Entity{Kind: "pet", Key: "rex", Props: value.Object{}}
	internal := txdata.Entity{Kind: "_person", Key: "x", Props: value.Object{}}
	assert.True(t, p.Entities.IncludeEntity(person))
	assert.False(t, p.Entities.IncludeEntity(pet))
	assert.False(t, p.Entities.IncludeEntity(internal))
	assert.True(t, p.Properties.IncludeProperty("name", person))
	assert.False(t, p.Properties.IncludeProperty("age", person))
}

func TestModuleConfig_DefaultPolicies(t *testing.T) {
	p, err := ModuleConfig{ID: "m"}.Policies()
	require.NoError(t, err)
	assert.Equal(t, txdata.DefaultPolicies(), p)
}

func TestModuleConfig_BadInclude(t *testing.T) {
	_, err := ModuleConfig{ID: "m", Include: "kind: ("}.Policies()
	assert.ErrorContains(t, err, `module "m": include`)
}

func TestModuleConfig_FloatSetting(t *testing.T) {
	_, err := ModuleConfig{ID: "m", Settings: map[string]any{"ratio": 0.5}}.SettingsObject()
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf).Info("hidden")
	assert.Empty(t, buf.String())

	NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf).Warn("shown", "module", "A")
	assert.Contains(t, buf.String(), `"module":"A"`)

	buf.Reset()
	NewLogger(LogConfig{Level: "debug", Format: "text"}, &buf).Debug("detail")
	assert.Contains(t, buf.String(), "msg=detail")
}
