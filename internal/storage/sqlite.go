package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/memberdir/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = types.ErrNotFound
	// ErrUnknownFacet is returned for a facet id with no backing column or index
	ErrUnknownFacet = errors.New("unknown facet")
	// ErrUnknownSortField is returned for a sort field with no backing column
	ErrUnknownSortField = errors.New("unknown sort field")
)

// DefaultSuggestionLimit is the number of suggestions returned per lookup
const DefaultSuggestionLimit = 10

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db              *sql.DB
	suggestionLimit int
	defaults        singleflight.Group
}

// Option configures SQLiteStorage
type Option func(*SQLiteStorage)

// WithSuggestionLimit sets how many suggestions a facet lookup returns
func WithSuggestionLimit(n int) Option {
	return func(s *SQLiteStorage) {
		if n > 0 {
			s.suggestionLimit = n
		}
	}
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single connection: SQLite has one writer, and ":memory:" databases
	// are per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens the database at dbPath and applies pending migrations
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	s := &SQLiteStorage{db: db, suggestionLimit: DefaultSuggestionLimit}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Member operations

const memberColumns = `id, username, display_name, role, organization, career_stage,
	location, bio, karma, joined_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*types.Member, error) {
	var m types.Member
	var stage string
	var joinedAt sql.NullTime
	err := row.Scan(&m.ID, &m.Username, &m.DisplayName, &m.Role, &m.Organization,
		&stage, &m.Location, &m.Bio, &m.Karma, &joinedAt)
	if err != nil {
		return nil, err
	}
	m.CareerStage = types.CareerStage(stage)
	if joinedAt.Valid {
		m.JoinedAt = joinedAt.Time.UTC()
	}
	return &m, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// upsertMemberWithQuerier inserts or updates a member keyed by username
func (s *SQLiteStorage) upsertMemberWithQuerier(ctx context.Context, q querier, member *types.Member) error {
	if err := member.Validate(); err != nil {
		return fmt.Errorf("invalid member %q: %w", member.Username, err)
	}
	query := `
		INSERT INTO members (username, display_name, role, organization, career_stage,
		                     location, bio, karma, joined_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			display_name = excluded.display_name,
			role = excluded.role,
			organization = excluded.organization,
			career_stage = excluded.career_stage,
			location = excluded.location,
			bio = excluded.bio,
			karma = excluded.karma,
			joined_at = excluded.joined_at,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now().UTC()
	err := q.QueryRowContext(ctx, query,
		member.Username, member.DisplayName, member.Role, member.Organization,
		string(member.CareerStage), member.Location, member.Bio, member.Karma,
		nullTime(member.JoinedAt), now, now).Scan(&member.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert member: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertMember(ctx context.Context, member *types.Member) error {
	return s.upsertMemberWithQuerier(ctx, s.querier(), member)
}

func (s *SQLiteStorage) getMemberWithQuerier(ctx context.Context, q querier, username string) (*types.Member, error) {
	row := q.QueryRowContext(ctx, "SELECT "+memberColumns+" FROM members WHERE username = ?", username)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStorage) GetMember(ctx context.Context, username string) (*types.Member, error) {
	return s.getMemberWithQuerier(ctx, s.querier(), username)
}

func (s *SQLiteStorage) deleteMemberWithQuerier(ctx context.Context, q querier, username string) error {
	res, err := q.ExecContext(ctx, "DELETE FROM members WHERE username = ?", username)
	if err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("member %q: %w", username, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) DeleteMember(ctx context.Context, username string) error {
	return s.deleteMemberWithQuerier(ctx, s.querier(), username)
}

func (s *SQLiteStorage) countMembersWithQuerier(ctx context.Context, q querier) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM members").Scan(&n)
	return n, err
}

func (s *SQLiteStorage) CountMembers(ctx context.Context) (int, error) {
	return s.countMembersWithQuerier(ctx, s.querier())
}

// Column preference operations

func (s *SQLiteStorage) loadColumnPrefsWithQuerier(ctx context.Context, q querier, profile string) (types.ColumnPrefs, error) {
	var visible string
	var prefs types.ColumnPrefs
	err := q.QueryRowContext(ctx, "SELECT visible, edited FROM column_prefs WHERE profile = ?", profile).
		Scan(&visible, &prefs.Edited)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ColumnPrefs{}, fmt.Errorf("column prefs for %q: %w", profile, ErrNotFound)
	}
	if err != nil {
		return types.ColumnPrefs{}, err
	}
	if err := json.Unmarshal([]byte(visible), &prefs.Visible); err != nil {
		return types.ColumnPrefs{}, fmt.Errorf("corrupt column prefs for %q: %w", profile, err)
	}
	return prefs, nil
}

func (s *SQLiteStorage) LoadColumnPrefs(ctx context.Context, profile string) (types.ColumnPrefs, error) {
	return s.loadColumnPrefsWithQuerier(ctx, s.querier(), profile)
}

func (s *SQLiteStorage) saveColumnPrefsWithQuerier(ctx context.Context, q querier, profile string, prefs types.ColumnPrefs) error {
	visible, err := json.Marshal(prefs.Visible)
	if err != nil {
		return fmt.Errorf("failed to encode column prefs: %w", err)
	}
	query := `
		INSERT INTO column_prefs (profile, visible, edited, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(profile) DO UPDATE SET
			visible = excluded.visible,
			edited = excluded.edited,
			updated_at = excluded.updated_at
	`
	if _, err := q.ExecContext(ctx, query, profile, string(visible), prefs.Edited, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save column prefs: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) SaveColumnPrefs(ctx context.Context, profile string, prefs types.ColumnPrefs) error {
	return s.saveColumnPrefsWithQuerier(ctx, s.querier(), profile, prefs)
}

// Import run operations

func (s *SQLiteStorage) createImportRunWithQuerier(ctx context.Context, q querier, run *ImportRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	res, err := q.ExecContext(ctx, "INSERT INTO import_runs (source, started_at) VALUES (?, ?)",
		run.Source, run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create import run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	run.ID = id
	return nil
}

func (s *SQLiteStorage) CreateImportRun(ctx context.Context, run *ImportRun) error {
	return s.createImportRunWithQuerier(ctx, s.querier(), run)
}

func (s *SQLiteStorage) finishImportRunWithQuerier(ctx context.Context, q querier, run *ImportRun) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	query := `
		UPDATE import_runs
		SET files_total = ?, files_failed = ?, members_stored = ?, finished_at = ?, error = ?
		WHERE id = ?
	`
	_, err := q.ExecContext(ctx, query, run.FilesTotal, run.FilesFailed, run.MembersStored,
		run.FinishedAt.UTC(), run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish import run: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) FinishImportRun(ctx context.Context, run *ImportRun) error {
	return s.finishImportRunWithQuerier(ctx, s.querier(), run)
}

func (s *SQLiteStorage) latestImportRunWithQuerier(ctx context.Context, q querier) (*ImportRun, error) {
	query := `
		SELECT id, source, files_total, files_failed, members_stored, started_at, finished_at, error
		FROM import_runs
		ORDER BY id DESC
		LIMIT 1
	`
	var run ImportRun
	var finishedAt sql.NullTime
	err := q.QueryRowContext(ctx, query).Scan(&run.ID, &run.Source, &run.FilesTotal,
		&run.FilesFailed, &run.MembersStored, &run.StartedAt, &finishedAt, &run.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	return &run, nil
}

func (s *SQLiteStorage) LatestImportRun(ctx context.Context) (*ImportRun, error) {
	return s.latestImportRunWithQuerier(ctx, s.querier())
}

// Status operations

func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier) (*Status, error) {
	status := &Status{BuildMode: BuildMode}

	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM members").Scan(&status.MembersCount); err != nil {
		return nil, err
	}
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT organization) FROM members WHERE organization != ''").Scan(&status.OrganizationsCount)
	if err != nil {
		return nil, err
	}
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM column_prefs").Scan(&status.ProfilesCount); err != nil {
		return nil, err
	}

	run, err := s.latestImportRunWithQuerier(ctx, q)
	switch {
	case err == nil:
		status.LastImport = run
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	// Calculate database size
	var pageCount, pageSize int
	if err := q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	var ftsRows int
	ftsErr := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM members_fts").Scan(&ftsRows)
	status.Health = HealthStatus{
		DatabaseAccessible: true,
		FTSIndexBuilt:      ftsErr == nil && ftsRows == status.MembersCount,
	}
	return status, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	return s.getStatusWithQuerier(ctx, s.querier())
}

// Transaction implementations use the transaction querier

func (t *sqliteTx) UpsertMember(ctx context.Context, member *types.Member) error {
	return t.storage.upsertMemberWithQuerier(ctx, t.querier(), member)
}

func (t *sqliteTx) GetMember(ctx context.Context, username string) (*types.Member, error) {
	return t.storage.getMemberWithQuerier(ctx, t.querier(), username)
}

func (t *sqliteTx) DeleteMember(ctx context.Context, username string) error {
	return t.storage.deleteMemberWithQuerier(ctx, t.querier(), username)
}

func (t *sqliteTx) CountMembers(ctx context.Context) (int, error) {
	return t.storage.countMembersWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) Suggest(ctx context.Context, facetID, query string) ([]string, error) {
	return t.storage.suggestWithQuerier(ctx, t.querier(), facetID, query)
}

func (t *sqliteTx) DefaultSuggestions(ctx context.Context, facetID string, limit int) ([]string, error) {
	return t.storage.defaultSuggestionsWithQuerier(ctx, t.querier(), facetID, limit)
}

func (t *sqliteTx) Results(ctx context.Context, req types.ResultsRequest) (types.ResultsPage, error) {
	return t.storage.resultsWithQuerier(ctx, t.querier(), req)
}

func (t *sqliteTx) LoadColumnPrefs(ctx context.Context, profile string) (types.ColumnPrefs, error) {
	return t.storage.loadColumnPrefsWithQuerier(ctx, t.querier(), profile)
}

func (t *sqliteTx) SaveColumnPrefs(ctx context.Context, profile string, prefs types.ColumnPrefs) error {
	return t.storage.saveColumnPrefsWithQuerier(ctx, t.querier(), profile, prefs)
}

func (t *sqliteTx) CreateImportRun(ctx context.Context, run *ImportRun) error {
	return t.storage.createImportRunWithQuerier(ctx, t.querier(), run)
}

func (t *sqliteTx) FinishImportRun(ctx context.Context, run *ImportRun) error {
	return t.storage.finishImportRunWithQuerier(ctx, t.querier(), run)
}

func (t *sqliteTx) LatestImportRun(ctx context.Context) (*ImportRun, error) {
	return t.storage.latestImportRunWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*Status, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) Close() error {
	return errors.New("cannot close database from within transaction")
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, errors.New("nested transactions not supported")
}
