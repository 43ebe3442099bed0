package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/memberdir/internal/storage"
	"github.com/dshills/memberdir/pkg/types"
)

// ErrImportInProgress is returned when another import holds the lock
var ErrImportInProgress = errors.New("import already in progress")

// DefaultBatchSize is the number of members committed per transaction
const DefaultBatchSize = 100

// Importer loads member profile files into storage: discover -> parse -> store
type Importer struct {
	storage storage.Storage
	logger  *zap.Logger
	lock    ImportLock
}

// Config contains configuration for an import
type Config struct {
	Workers       int  // Concurrent parsers (default: runtime.NumCPU())
	BatchSize     int  // Members per transaction (default: 100)
	IncludeHidden bool // Descend into dot directories (default: false)
}

// Statistics describes a finished import
type Statistics struct {
	RunID          int64
	FilesFound     int
	FilesFailed    int
	MembersStored  int
	MembersInvalid int
	Duration       time.Duration
	ErrorMessages  []string
}

// Option configures an Importer
type Option func(*Importer)

// WithLogger sets the importer's logger
func WithLogger(l *zap.Logger) Option {
	return func(i *Importer) {
		if l != nil {
			i.logger = l
		}
	}
}

// New creates a new Importer writing to store
func New(store storage.Storage, opts ...Option) *Importer {
	imp := &Importer{storage: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(imp)
	}
	return imp
}

// Running reports whether an import is in progress
func (imp *Importer) Running() bool {
	return imp.lock.Held()
}

// Import loads every profile file under path, which may also name a single
// file. Files that fail to parse and members that fail validation are
// counted and reported in the statistics; they do not abort the import.
func (imp *Importer) Import(ctx context.Context, path string, config *Config) (*Statistics, error) {
	if !imp.lock.TryAcquire() {
		return nil, ErrImportInProgress
	}
	defer imp.lock.Release()

	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	start := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	files, err := discoverFiles(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	stats.FilesFound = len(files)

	run := &storage.ImportRun{Source: path, StartedAt: start.UTC()}
	if err := imp.storage.CreateImportRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record import: %w", err)
	}
	stats.RunID = run.ID

	imp.logger.Info("import started",
		zap.String("path", path),
		zap.Int("files", len(files)),
		zap.Int("workers", cfg.Workers))

	members, err := imp.parseFiles(ctx, files, cfg.Workers, stats)
	if err == nil {
		err = imp.storeMembers(ctx, members, cfg.BatchSize, stats)
	}
	if err != nil {
		imp.abortRun(ctx, run, stats, err)
		return nil, err
	}

	if err := imp.finishRun(ctx, run, stats); err != nil {
		return nil, fmt.Errorf("failed to record import: %w", err)
	}

	stats.Duration = time.Since(start)
	imp.logger.Info("import finished",
		zap.Int("stored", stats.MembersStored),
		zap.Int("invalid", stats.MembersInvalid),
		zap.Int("failed_files", stats.FilesFailed),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

func (imp *Importer) finishRun(ctx context.Context, run *storage.ImportRun, stats *Statistics) error {
	run.FilesTotal = stats.FilesFound
	run.FilesFailed = stats.FilesFailed
	run.MembersStored = stats.MembersStored
	return imp.storage.FinishImportRun(ctx, run)
}

// abortRun closes out run with the error that stopped the import. It runs
// even when ctx is already canceled.
func (imp *Importer) abortRun(ctx context.Context, run *storage.ImportRun, stats *Statistics, cause error) {
	run.Error = cause.Error()
	if err := imp.finishRun(context.WithoutCancel(ctx), run, stats); err != nil {
		imp.logger.Warn("failed to record aborted import", zap.Int64("run_id", run.ID), zap.Error(err))
		return
	}
	imp.logger.Warn("import aborted",
		zap.String("path", run.Source),
		zap.Int("stored", stats.MembersStored),
		zap.Error(cause))
}

func isProfileFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// discoverFiles finds all profile files under root in lexical order
func discoverFiles(root string, cfg Config) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if !isProfileFile(root) {
			return nil, fmt.Errorf("%s is not a .yaml, .yml or .json file", root)
		}
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !cfg.IncludeHidden && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if isProfileFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// parseFiles parses files concurrently. The returned members keep file
// order so a username repeated across files resolves to the last file.
func (imp *Importer) parseFiles(ctx context.Context, files []string, workers int, stats *Statistics) ([]types.Member, error) {
	parsed := make([][]types.Member, len(files))
	var mu sync.Mutex // Protects stats

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			members, problems, err := parseFile(path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.FilesFailed++
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", path, err))
				imp.logger.Warn("failed to parse profile file", zap.String("file", path), zap.Error(err))
				return nil
			}
			for _, p := range problems {
				stats.MembersInvalid++
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", path, p))
			}
			parsed[i] = members
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []types.Member
	for _, ms := range parsed {
		out = append(out, ms...)
	}
	return out, nil
}

// storeMembers validates and upserts members in batches, one transaction
// per batch
func (imp *Importer) storeMembers(ctx context.Context, members []types.Member, batchSize int, stats *Statistics) error {
	valid := members[:0:0]
	for i := range members {
		if err := members[i].Validate(); err != nil {
			stats.MembersInvalid++
			stats.ErrorMessages = append(stats.ErrorMessages,
				fmt.Sprintf("member %q: %v", members[i].Username, err))
			continue
		}
		valid = append(valid, members[i])
	}

	for i := 0; i < len(valid); i += batchSize {
		end := min(i+batchSize, len(valid))
		if err := imp.storeBatch(ctx, valid[i:end]); err != nil {
			return err
		}
		stats.MembersStored += end - i
	}
	return nil
}

func (imp *Importer) storeBatch(ctx context.Context, batch []types.Member) error {
	tx, err := imp.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range batch {
		if err := tx.UpsertMember(ctx, &batch[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SortedErrors returns the error messages in lexical order, for stable output
func (s *Statistics) SortedErrors() []string {
	out := append([]string(nil), s.ErrorMessages...)
	sort.Strings(out)
	return out
}
