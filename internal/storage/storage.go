package storage

import (
	"context"
	"time"

	"github.com/dshills/memberdir/pkg/types"
)

// Storage defines the interface for persisting and querying directory data
type Storage interface {
	// Member operations
	UpsertMember(ctx context.Context, member *types.Member) error
	GetMember(ctx context.Context, username string) (*types.Member, error)
	DeleteMember(ctx context.Context, username string) error
	CountMembers(ctx context.Context) (int, error)

	// Directory queries
	Suggest(ctx context.Context, facetID, query string) ([]string, error)
	DefaultSuggestions(ctx context.Context, facetID string, limit int) ([]string, error)
	Results(ctx context.Context, req types.ResultsRequest) (types.ResultsPage, error)

	// Column preference operations
	LoadColumnPrefs(ctx context.Context, profile string) (types.ColumnPrefs, error)
	SaveColumnPrefs(ctx context.Context, profile string, prefs types.ColumnPrefs) error

	// Import run operations
	CreateImportRun(ctx context.Context, run *ImportRun) error
	FinishImportRun(ctx context.Context, run *ImportRun) error
	LatestImportRun(ctx context.Context) (*ImportRun, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// ImportRun records one import of member profile files
type ImportRun struct {
	ID            int64
	Source        string // Directory or file that was imported
	FilesTotal    int
	FilesFailed   int
	MembersStored int
	StartedAt     time.Time
	FinishedAt    time.Time
	Error         string // Set when the import failed before completing
}

// Status contains statistics about the directory database
type Status struct {
	MembersCount       int
	OrganizationsCount int
	ProfilesCount      int // Profiles with saved column preferences
	LastImport         *ImportRun
	DatabaseSizeMB     float64
	BuildMode          string
	Health             HealthStatus
}

// HealthStatus represents the health of the database
type HealthStatus struct {
	DatabaseAccessible bool
	FTSIndexBuilt      bool
}
