package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/memberdir/internal/storage"
	"github.com/dshills/memberdir/pkg/types"
)

// setupTestStorage creates an in-memory SQLite database for testing
func setupTestStorage(t testing.TB) storage.Storage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err, "Failed to create test storage")
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const listYAML = `
- username: ada
  display_name: Ada Lovelace
  role: Researcher
  organization: Analytical Engines
  career_stage: Senior
  bio: Poet of mathematics
  karma: 90
  joined_at: 2018-03-01
- username: grace
  role: Engineer
  organization: Navy
  karma: 80
`

const singleJSON = `{
  "username": "alan",
  "display_name": "Alan Turing",
  "role": "Researcher",
  "career_stage": "mid_career",
  "joined_at": "2020-06-23T09:00:00Z"
}`

const wrappedYAML = `
members:
  - username: katherine
    role: Researcher
    organization: NASA
  - username: linus
    role: Student
`

func TestDiscoverFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", listYAML)
	writeFile(t, dir, "nested/b.YML", wrappedYAML)
	writeFile(t, dir, "c.json", singleJSON)
	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, ".hidden/d.yaml", listYAML)

	files, err := discoverFiles(dir, Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yaml"),
		filepath.Join(dir, "c.json"),
		filepath.Join(dir, "nested/b.YML"),
	}, files)

	files, err = discoverFiles(dir, Config{IncludeHidden: true})
	require.NoError(t, err)
	assert.Len(t, files, 4)
}

func TestDiscoverFiles_SingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "c.json", singleJSON)

	files, err := discoverFiles(path, Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, files)

	txt := writeFile(t, dir, "notes.txt", "ignored")
	_, err = discoverFiles(txt, Config{})
	assert.Error(t, err)

	_, err = discoverFiles(filepath.Join(dir, "missing"), Config{})
	assert.Error(t, err)
}

func TestDecodeRecords(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr error
	}{
		{"List", listYAML, []string{"ada", "grace"}, nil},
		{"Single", singleJSON, []string{"alan"}, nil},
		{"Wrapped", wrappedYAML, []string{"katherine", "linus"}, nil},
		{"JSONList", `[{"username": "x"}, {"username": "y"}]`, []string{"x", "y"}, nil},
		{"Empty", "   \n", nil, ErrEmptyFile},
		{"EmptyList", "[]", nil, ErrEmptyFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := decodeRecords([]byte(tt.input))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			var got []string
			for _, r := range records {
				got = append(got, r.Username)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeRecords_Malformed(t *testing.T) {
	_, err := decodeRecords([]byte("username: [unterminated"))
	assert.Error(t, err)

	_, err = decodeRecords([]byte("just a string"))
	assert.Error(t, err)
}

func TestRecordToMember(t *testing.T) {
	m, err := memberRecord{
		Username:    "  ada ",
		CareerStage: " Senior",
		JoinedAt:    "2018-03-01",
	}.toMember()
	require.NoError(t, err)
	assert.Equal(t, "ada", m.Username)
	assert.Equal(t, "ada", m.DisplayName)
	assert.Equal(t, types.StageSenior, m.CareerStage)
	assert.Equal(t, time.Date(2018, 3, 1, 0, 0, 0, 0, time.UTC), m.JoinedAt)

	_, err = memberRecord{Username: "ada", JoinedAt: "last tuesday"}.toMember()
	assert.Error(t, err)
}

func TestImport_Success(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", listYAML)
	writeFile(t, dir, "b.yml", wrappedYAML)
	writeFile(t, dir, "c.json", singleJSON)

	imp := New(store)
	stats, err := imp.Import(ctx, dir, &Config{Workers: 2, BatchSize: 2})
	require.NoError(t, err)

	assert.Equal(t, 3, stats.FilesFound)
	assert.Zero(t, stats.FilesFailed)
	assert.Equal(t, 5, stats.MembersStored)
	assert.Zero(t, stats.MembersInvalid)
	assert.Empty(t, stats.ErrorMessages)
	assert.Greater(t, stats.RunID, int64(0))

	n, err := store.CountMembers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	ada, err := store.GetMember(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", ada.DisplayName)
	assert.Equal(t, types.StageSenior, ada.CareerStage)
	assert.Equal(t, 90, ada.Karma)

	run, err := store.LatestImportRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.RunID, run.ID)
	assert.Equal(t, dir, run.Source)
	assert.Equal(t, 3, run.FilesTotal)
	assert.Equal(t, 5, run.MembersStored)
	assert.False(t, run.FinishedAt.IsZero())

	assert.False(t, imp.Running())
}

func TestImport_Reimport(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := writeFile(t, dir, "a.yaml", listYAML)

	imp := New(store)
	_, err := imp.Import(ctx, dir, nil)
	require.NoError(t, err)

	writeFile(t, dir, "a.yaml", "- username: ada\n  role: Emeritus Researcher\n")
	stats, err := imp.Import(ctx, path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MembersStored)

	n, err := store.CountMembers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ada, err := store.GetMember(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, "Emeritus Researcher", ada.Role)
}

func TestImport_BadFilesAndMembers(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "good.yaml", listYAML)
	writeFile(t, dir, "broken.yaml", "- username: [oops")
	writeFile(t, dir, "invalid.yaml", `
- username: negative
  karma: -5
- username: "two words"
- username: stage
  career_stage: wizard
- username: when
  joined_at: someday
- username: fine
`)

	stats, err := New(store).Import(ctx, dir, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.FilesFound)
	assert.Equal(t, 1, stats.FilesFailed)
	assert.Equal(t, 4, stats.MembersInvalid)
	assert.Equal(t, 3, stats.MembersStored)
	assert.Len(t, stats.ErrorMessages, 5)
	assert.Contains(t, stats.SortedErrors()[0], "broken.yaml")

	_, err = store.GetMember(ctx, "fine")
	require.NoError(t, err)
	_, err = store.GetMember(ctx, "negative")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestImport_InProgress(t *testing.T) {
	store := setupTestStorage(t)
	imp := New(store)

	require.True(t, imp.lock.TryAcquire())
	assert.True(t, imp.Running())

	_, err := imp.Import(context.Background(), t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrImportInProgress)

	imp.lock.Release()
	_, err = imp.Import(context.Background(), t.TempDir(), nil)
	assert.NoError(t, err)
}

func TestImport_ContextCancellation(t *testing.T) {
	store := setupTestStorage(t)
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", listYAML)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(store).Import(ctx, dir, nil)
	assert.Error(t, err)
	assert.False(t, New(store).Running())
}

// txFailStorage refuses to open transactions
type txFailStorage struct {
	storage.Storage
}

var errTxUnavailable = errors.New("transactions unavailable")

func (s txFailStorage) BeginTx(context.Context) (storage.Tx, error) {
	return nil, errTxUnavailable
}

func TestImport_FailureFinishesRun(t *testing.T) {
	store := setupTestStorage(t)
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", listYAML)

	_, err := New(txFailStorage{store}).Import(context.Background(), dir, nil)
	require.ErrorIs(t, err, errTxUnavailable)

	run, err := store.LatestImportRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dir, run.Source)
	assert.False(t, run.FinishedAt.IsZero(), "failed run is closed out")
	assert.Contains(t, run.Error, errTxUnavailable.Error())
	assert.Equal(t, 1, run.FilesTotal)
	assert.Zero(t, run.MembersStored)
}

func TestImport_MissingPath(t *testing.T) {
	store := setupTestStorage(t)
	_, err := New(store).Import(context.Background(), filepath.Join(t.TempDir(), "nope"), nil)
	assert.Error(t, err)
}

func TestImportLock(t *testing.T) {
	var l ImportLock
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
}
