package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/memberdir/internal/storage"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "memberdir dev")
	assert.Contains(t, out, storage.BuildMode)
}

func TestImportCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "directory.db")
	profiles := filepath.Join(dir, "profiles")
	require.NoError(t, os.MkdirAll(profiles, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(profiles, "team.yaml"), []byte(`
- username: ada
  role: Researcher
- username: grace
  role: Engineer
- username: bad
  karma: -3
`), 0o644))

	out, err := run(t, "import", "--db-path", dbPath, "--log-level", "error", profiles)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 members from 1 files")
	assert.Contains(t, out, "1 invalid members")

	store, err := storage.NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	defer store.Close()
	n, err := store.CountMembers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestImportCommand_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, "import", "--db-path", filepath.Join(dir, "d.db"))
	assert.Error(t, err, "path argument is required")

	_, err = run(t, "import", "--db-path", filepath.Join(dir, "d.db"), "--page-size", "0", dir)
	assert.Error(t, err, "invalid config is rejected")

	_, err = run(t, "import", "--db-path", filepath.Join(dir, "d.db"), filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
