package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRejectsArgs(t *testing.T) {
	_, _, err := execute(t, "run", "extra")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestRunInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "txmod.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("modules:\n  - id: a\n"), 0644))

	_, _, err := execute(t, "run", "--config", configPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "type is empty")
}

func TestRunUnknownModuleType(t *testing.T) {
	configPath, _ := writeConfig(t, "modules:\n  - id: a\n    type: nope\n")

	_, _, err := execute(t, "run", "--config", configPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid module configuration")
}

func TestRunWithTimeout(t *testing.T) {
	configPath, dbPath := writeConfig(t, countModules)

	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"run", "--config", configPath})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- cmd.ExecuteContext(ctx)
	}()

	select {
	case err := <-errChan:
		require.NoError(t, err, "runtime should stop cleanly when the context ends")
	case <-time.After(5 * time.Second):
		t.Fatal("command did not respect context timeout")
	}

	_, err := os.Stat(dbPath)
	assert.NoError(t, err, "database should be created")

	output := buf.String()
	assert.Contains(t, output, "Runtime started with 2 module(s).")
}

func TestRunDatabaseFlagOverridesConfig(t *testing.T) {
	configPath, configDB := writeConfig(t, "")
	flagDB := filepath.Join(t.TempDir(), "override.db")

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"run", "--config", configPath, "--db", flagDB})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, cmd.ExecuteContext(ctx))

	_, err := os.Stat(flagDB)
	assert.NoError(t, err)
	_, err = os.Stat(configDB)
	assert.True(t, os.IsNotExist(err), "config database should not be created")
}

func TestRunHelpText(t *testing.T) {
	stdout, _, err := execute(t, "run", "--help")
	require.NoError(t, err)

	assert.Contains(t, stdout, "Start the runtime")
	assert.Contains(t, stdout, "--db")
	assert.Contains(t, stdout, "--config")
}
