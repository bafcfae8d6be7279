package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txmod/internal/modules/kindcount"
	"github.com/roach88/txmod/internal/store"
	"github.com/roach88/txmod/internal/txdata"
	"github.com/roach88/txmod/internal/value"
)

func readEntity(t *testing.T, dbPath, kind, key string) (txdata.Entity, bool) {
	t.Helper()
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	defer s.Close()
	e, found, err := s.ReadEntity(context.Background(), txdata.Ref{Kind: kind, Key: key})
	require.NoError(t, err)
	return e, found
}

func storedCount(t *testing.T, dbPath, moduleID, kind string) int64 {
	t.Helper()
	e, found := readEntity(t, dbPath, kindcount.CountKind, kindcount.CountKey(moduleID, kind))
	if !found {
		return 0
	}
	return int64(e.Props["count"].(value.Int))
}

func TestParseProps(t *testing.T) {
	props, err := parseProps([]string{"name=Ada", "age=36", "admin=true", "note=", "id=007x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"name":  "Ada",
		"age":   int64(36),
		"admin": true,
		"note":  "",
		"id":    "007x",
	}, props)

	_, err = parseProps([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseProps([]string{"=x"})
	assert.Error(t, err)
}

func TestPut(t *testing.T) {
	configPath, dbPath := writeConfig(t, countModules)

	stdout, _, err := execute(t, "put", "--config", configPath, "person", "ada", "name=Ada", "age=36")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Committed 1 write(s) in transaction")

	e, found := readEntity(t, dbPath, "person", "ada")
	require.True(t, found)
	assert.Equal(t, value.Object{"name": value.String("Ada"), "age": value.Int(36)}, e.Props)
	assert.Equal(t, int64(1), storedCount(t, dbPath, "people", "person"))
	assert.Equal(t, int64(1), storedCount(t, dbPath, "everything", "person"))
}

func TestPutJSON(t *testing.T) {
	configPath, _ := writeConfig(t, "")

	stdout, _, err := execute(t, "put", "--config", configPath, "--format", "json", "pet", "rex")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   CommitResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Writes)
	assert.NotEmpty(t, resp.Data.TxID)
}

func TestPutRejectedByModule(t *testing.T) {
	configPath, dbPath := writeConfig(t, countModules)

	stdout, _, err := execute(t, "put", "--config", configPath, "forbidden", "x")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "Error [E004]: transaction rejected")

	_, found := readEntity(t, dbPath, "forbidden", "x")
	assert.False(t, found)
}

func TestPutInvalidProperty(t *testing.T) {
	configPath, _ := writeConfig(t, "")

	stdout, _, err := execute(t, "put", "--config", configPath, "person", "ada", "oops")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, "Error [E005]: invalid property")
}

func TestDelete(t *testing.T) {
	configPath, dbPath := writeConfig(t, countModules)

	_, _, err := execute(t, "put", "--config", configPath, "person", "ada")
	require.NoError(t, err)
	_, _, err = execute(t, "put", "--config", configPath, "person", "bob")
	require.NoError(t, err)
	require.Equal(t, int64(2), storedCount(t, dbPath, "people", "person"))

	_, _, err = execute(t, "delete", "--config", configPath, "person", "ada")
	require.NoError(t, err)

	_, found := readEntity(t, dbPath, "person", "ada")
	assert.False(t, found)
	assert.Equal(t, int64(1), storedCount(t, dbPath, "people", "person"))
}

func TestApply(t *testing.T) {
	configPath, dbPath := writeConfig(t, countModules)
	batch := filepath.Join(filepath.Dir(configPath), "batch.yaml")
	require.NoError(t, os.WriteFile(batch, []byte(`
- op: put
  kind: person
  key: ada
  props: {name: Ada, age: 36}
- op: put
  kind: person
  key: bob
- op: put
  kind: pet
  key: rex
- op: delete
  kind: person
  key: bob
`), 0644))

	stdout, _, err := execute(t, "apply", "--config", configPath, batch)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Committed 4 write(s)")

	assert.Equal(t, int64(1), storedCount(t, dbPath, "people", "person"))
	assert.Equal(t, int64(0), storedCount(t, dbPath, "people", "pet"))
	assert.Equal(t, int64(1), storedCount(t, dbPath, "everything", "pet"))
}

func TestApplyIsAtomic(t *testing.T) {
	configPath, dbPath := writeConfig(t, countModules)
	batch := filepath.Join(filepath.Dir(configPath), "batch.yaml")
	require.NoError(t, os.WriteFile(batch, []byte(`
- op: put
  kind: person
  key: ada
- op: put
  kind: forbidden
  key: x
`), 0644))

	_, _, err := execute(t, "apply", "--config", configPath, batch)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, found := readEntity(t, dbPath, "person", "ada")
	assert.False(t, found, "no write of a rejected batch is stored")
}

func TestApplyInvalidBatch(t *testing.T) {
	configPath, _ := writeConfig(t, "")
	dir := filepath.Dir(configPath)

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown op", "- op: upsert\n  kind: a\n  key: b\n", "op must be put or delete"},
		{"unknown field", "- op: put\n  kind: a\n  key: b\n  colour: red\n", "colour"},
		{"not a list", "op: put\n", "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "batch.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			stdout, _, err := execute(t, "apply", "--config", configPath, "--verbose", path)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, stdout, "Error [E005]: invalid batch file")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
