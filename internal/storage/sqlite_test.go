package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/memberdir/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func date(year int) time.Time {
	return time.Date(year, time.March, 1, 12, 0, 0, 0, time.UTC)
}

var fixtureMembers = []types.Member{
	{Username: "ada", DisplayName: "Ada Lovelace", Role: "Researcher", Organization: "Analytical Engines",
		CareerStage: types.StageSenior, Location: "London", Bio: "Poet of mathematics and graph theory",
		Karma: 90, JoinedAt: date(2018)},
	{Username: "grace", DisplayName: "Grace Hopper", Role: "Engineer", Organization: "Navy",
		CareerStage: types.StageSenior, Location: "Arlington", Bio: "Compilers and graph algorithms",
		Karma: 80, JoinedAt: date(2019)},
	{Username: "alan", DisplayName: "Alan Turing", Role: "Researcher", Organization: "Bletchley",
		CareerStage: types.StageMid, Location: "Manchester", Bio: "Computability and morphogenesis",
		Karma: 70, JoinedAt: date(2020)},
	{Username: "katherine", DisplayName: "Katherine Johnson", Role: "Researcher", Organization: "NASA",
		CareerStage: types.StageSenior, Location: "Hampton", Bio: "Orbital mechanics",
		Karma: 85, JoinedAt: date(2021)},
	{Username: "linus", DisplayName: "Linus", Role: "Student", Organization: "Helsinki University",
		CareerStage: types.StageStudent, Location: "Helsinki", Bio: "Operating systems hobbyist",
		Karma: 10, JoinedAt: date(2022)},
}

func seedMembers(t *testing.T, s *SQLiteStorage) {
	t.Helper()
	ctx := context.Background()
	for i := range fixtureMembers {
		m := fixtureMembers[i]
		require.NoError(t, s.UpsertMember(ctx, &m))
	}
}

func usernames(items []types.Member) []string {
	out := make([]string, 0, len(items))
	for _, m := range items {
		out = append(out, m.Username)
	}
	return out
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)

	v, err := schemaVersion(context.Background(), storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	storage := setupTestDB(t)
	require.NoError(t, ApplyMigrations(context.Background(), storage.db))

	var n int
	require.NoError(t, storage.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n))
	assert.Equal(t, len(AllMigrations), n)
}

func TestRollbackMigration(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, storage.db))
	v, err := schemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", v.String())

	require.NoError(t, RollbackMigration(ctx, storage.db))
	v, err = schemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.String())

	// Re-applying brings the schema back
	require.NoError(t, ApplyMigrations(ctx, storage.db))
	v, err = schemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestUpsertMember(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	m := &types.Member{Username: "ada", DisplayName: "Ada", Role: "Researcher", Karma: 5, JoinedAt: date(2018)}
	require.NoError(t, storage.UpsertMember(ctx, m))
	assert.Greater(t, m.ID, int64(0))
	firstID := m.ID

	// Same username updates in place
	m.Role = "Engineer"
	m.Karma = 7
	require.NoError(t, storage.UpsertMember(ctx, m))
	assert.Equal(t, firstID, m.ID)

	got, err := storage.GetMember(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, "Engineer", got.Role)
	assert.Equal(t, 7, got.Karma)
	assert.True(t, date(2018).Equal(got.JoinedAt))

	n, err := storage.CountMembers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertMember_Invalid(t *testing.T) {
	storage := setupTestDB(t)
	err := storage.UpsertMember(context.Background(), &types.Member{Username: ""})
	assert.ErrorIs(t, err, types.ErrMissingUsername)
}

func TestGetAndDeleteMember(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedMembers(t, storage)

	_, err := storage.GetMember(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, storage.DeleteMember(ctx, "linus"))
	_, err = storage.GetMember(ctx, "linus")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, storage.DeleteMember(ctx, "linus"), ErrNotFound)

	// Deleted members leave the full-text index too
	page, err := storage.Results(ctx, types.ResultsRequest{Query: "hobbyist", Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestSuggest_FieldFacet(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedMembers(t, storage)

	tests := []struct {
		name  string
		facet string
		query string
		want  []string
	}{
		{"Substring", types.FacetRole, "search", []string{"Researcher"}},
		{"CaseInsensitive", types.FacetRole, "RES", []string{"Researcher"}},
		{"MostCommonFirst", types.FacetRole, "e", []string{"Researcher", "Engineer", "Student"}},
		{"Organization", types.FacetOrganization, "nasa", []string{"NASA"}},
		{"CareerStage", types.FacetCareerStage, "senior", []string{"senior"}},
		{"NoMatch", types.FacetLocation, "Paris", []string{}},
		{"WildcardIsLiteral", types.FacetLocation, "%", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := storage.Suggest(ctx, tt.facet, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSuggest_Keywords(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedMembers(t, storage)

	got, err := storage.Suggest(ctx, types.FacetKeywords, "Gra")
	require.NoError(t, err)
	assert.Equal(t, []string{"graph", "grace"}, got)
}

func TestSuggest_UnknownFacet(t *testing.T) {
	storage := setupTestDB(t)
	_, err := storage.Suggest(context.Background(), "shoe_size", "42")
	assert.ErrorIs(t, err, ErrUnknownFacet)
}

func TestSuggest_Limit(t *testing.T) {
	storage, err := NewSQLiteStorage(":memory:", WithSuggestionLimit(1))
	require.NoError(t, err)
	defer storage.Close()
	seedMembers(t, storage)

	got, err := storage.Suggest(context.Background(), types.FacetRole, "e")
	require.NoError(t, err)
	assert.Equal(t, []string{"Researcher"}, got)
}

func TestDefaultSuggestions(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedMembers(t, storage)

	got, err := storage.DefaultSuggestions(ctx, types.FacetCareerStage, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"senior", "mid_career"}, got)

	got, err = storage.DefaultSuggestions(ctx, types.FacetKeywords, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"graph"}, got)

	// Empty query falls back to defaults
	got, err = storage.Suggest(ctx, types.FacetRole, "  ")
	require.NoError(t, err)
	assert.Equal(t, "Researcher", got[0])
}

func TestDefaultSuggestions_Concurrent(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedMembers(t, storage)

	var wg sync.WaitGroup
	results := make([][]string, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = storage.DefaultSuggestions(ctx, types.FacetRole, 3)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, []string{"Researcher", "Engineer", "Student"}, results[i])
	}

	// Callers get independent slices
	results[0][0] = "mutated"
	assert.Equal(t, "Researcher", results[1][0])
}

func TestResults_Filtering(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedMembers(t, storage)

	tests := []struct {
		name string
		req  types.ResultsRequest
		want []string
	}{
		{"All", types.ResultsRequest{}, []string{"ada", "grace", "alan", "katherine", "linus"}},
		{"FreeText", types.ResultsRequest{Query: "graph"}, []string{"ada", "grace"}},
		{"FreeTextPrefix", types.ResultsRequest{Query: "morpho"}, []string{"alan"}},
		{"FreeTextAllWords", types.ResultsRequest{Query: "graph compilers"}, []string{"grace"}},
		{"PunctuationIgnored", types.ResultsRequest{Query: `"--"`}, []string{"ada", "grace", "alan", "katherine", "linus"}},
		{"FacetOR", types.ResultsRequest{Filters: map[string][]string{
			types.FacetRole: {"Engineer", "Student"},
		}}, []string{"grace", "linus"}},
		{"FacetsAND", types.ResultsRequest{Filters: map[string][]string{
			types.FacetRole:        {"Researcher"},
			types.FacetCareerStage: {"senior"},
		}}, []string{"ada", "katherine"}},
		{"QueryAndFacet", types.ResultsRequest{Query: "graph", Filters: map[string][]string{
			types.FacetRole: {"Researcher"},
		}}, []string{"ada"}},
		{"Keywords", types.ResultsRequest{Filters: map[string][]string{
			types.FacetKeywords: {"orbital", "hobbyist"},
		}}, []string{"katherine", "linus"}},
		{"EmptyFilterIgnored", types.ResultsRequest{Filters: map[string][]string{
			types.FacetRole: {},
		}}, []string{"ada", "grace", "alan", "katherine", "linus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.Page, req.PageSize = 1, 10
			page, err := storage.Results(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, usernames(page.Items))
			assert.Equal(t, len(tt.want), page.Total)
		})
	}
}

func TestResults_SortAndPaginate(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedMembers(t, storage)

	var all []string
	for p := 1; p <= 3; p++ {
		page, err := storage.Results(ctx, types.ResultsRequest{
			Sort:     &types.Sort{Field: "karma", Direction: types.Desc},
			Page:     p,
			PageSize: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
		all = append(all, usernames(page.Items)...)
	}
	assert.Equal(t, []string{"ada", "katherine", "grace", "alan", "linus"}, all)

	page, err := storage.Results(ctx, types.ResultsRequest{
		Sort: &types.Sort{Field: "name", Direction: types.Asc}, Page: 1, PageSize: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ada", "alan", "grace", "katherine", "linus"}, usernames(page.Items))

	page, err = storage.Results(ctx, types.ResultsRequest{
		Sort: &types.Sort{Field: "joined_at", Direction: types.Desc}, Page: 1, PageSize: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"linus"}, usernames(page.Items))

	// Past the end
	page, err = storage.Results(ctx, types.ResultsRequest{Page: 9, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 5, page.Total)
}

func TestResults_InvalidRequests(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.Results(ctx, types.ResultsRequest{Page: 0, PageSize: 1})
	assert.ErrorIs(t, err, types.ErrInvalidPage)

	_, err = storage.Results(ctx, types.ResultsRequest{Page: 1, PageSize: 1, Sort: &types.Sort{Field: "bio; DROP TABLE members", Direction: types.Asc}})
	assert.ErrorIs(t, err, ErrUnknownSortField)

	_, err = storage.Results(ctx, types.ResultsRequest{Page: 1, PageSize: 1, Filters: map[string][]string{"shoe_size": {"42"}}})
	assert.ErrorIs(t, err, ErrUnknownFacet)
}

func TestColumnPrefs(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.LoadColumnPrefs(ctx, "ada")
	assert.ErrorIs(t, err, ErrNotFound)

	prefs := types.ColumnPrefs{Visible: map[string]bool{"bio": true, "name": false}, Edited: true}
	require.NoError(t, storage.SaveColumnPrefs(ctx, "ada", prefs))
	got, err := storage.LoadColumnPrefs(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, prefs, got)

	prefs.Visible["bio"] = false
	prefs.Edited = false
	require.NoError(t, storage.SaveColumnPrefs(ctx, "ada", prefs))
	got, err = storage.LoadColumnPrefs(ctx, "ada")
	require.NoError(t, err)
	assert.False(t, got.Visible["bio"])
	assert.False(t, got.Edited)
}

func TestImportRuns(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.LatestImportRun(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	run := &ImportRun{Source: "/data/members"}
	require.NoError(t, storage.CreateImportRun(ctx, run))
	assert.Greater(t, run.ID, int64(0))

	run.FilesTotal = 3
	run.FilesFailed = 1
	run.MembersStored = 2
	require.NoError(t, storage.FinishImportRun(ctx, run))

	got, err := storage.LatestImportRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/data/members", got.Source)
	assert.Equal(t, 2, got.MembersStored)
	assert.False(t, got.FinishedAt.IsZero())
	assert.Empty(t, got.Error)

	failed := &ImportRun{Source: "/data/broken"}
	require.NoError(t, storage.CreateImportRun(ctx, failed))
	failed.Error = "context canceled"
	require.NoError(t, storage.FinishImportRun(ctx, failed))

	got, err = storage.LatestImportRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "context canceled", got.Error)
	assert.False(t, got.FinishedAt.IsZero())
}

func TestGetStatus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedMembers(t, storage)
	require.NoError(t, storage.SaveColumnPrefs(ctx, "ada", types.ColumnPrefs{Visible: map[string]bool{}}))

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, status.MembersCount)
	assert.Equal(t, 5, status.OrganizationsCount)
	assert.Equal(t, 1, status.ProfilesCount)
	assert.Nil(t, status.LastImport)
	assert.Equal(t, BuildMode, status.BuildMode)
	assert.True(t, status.Health.DatabaseAccessible)
	assert.True(t, status.Health.FTSIndexBuilt)
}

func TestTransaction(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertMember(ctx, &types.Member{Username: "ada"}))
	n, err := tx.CountMembers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, tx.Rollback())

	n, err = storage.CountMembers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	tx, err = storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertMember(ctx, &types.Member{Username: "grace"}))
	_, err = tx.BeginTx(ctx)
	assert.Error(t, err)
	require.NoError(t, tx.Commit())

	_, err = storage.GetMember(ctx, "grace")
	require.NoError(t, err)
}
