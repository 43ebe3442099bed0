// Package config loads memberdir settings from flags, MEMBERDIR_ environment
// variables and an optional YAML file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/memberdir/internal/cache"
	"github.com/dshills/memberdir/internal/directory"
	"github.com/dshills/memberdir/internal/facet"
	"github.com/dshills/memberdir/internal/importer"
)

// EnvPrefix prefixes every environment variable, e.g. MEMBERDIR_DB_PATH
const EnvPrefix = "MEMBERDIR"

// Keys
const (
	KeyConfig            = "config"
	KeyDBPath            = "db-path"
	KeyLogLevel          = "log-level"
	KeyCacheSize         = "cache-size"
	KeyCacheTTL          = "cache-ttl"
	KeyDebounce          = "debounce"
	KeySuggestionTimeout = "suggestion-timeout"
	KeyResultsTimeout    = "results-timeout"
	KeySettleTimeout     = "settle-timeout"
	KeyPageSize          = "page-size"
	KeySuggestionLimit   = "suggestion-limit"
	KeyMaxSessions       = "max-sessions"
	KeyStrict            = "strict"
	KeyImportWorkers     = "import-workers"
	KeyImportBatchSize   = "import-batch-size"
)

var (
	ErrInvalidPageSize = errors.New("page-size must be positive")
	ErrInvalidCache    = errors.New("cache-size must be positive")
	ErrInvalidTimeout  = errors.New("timeouts must be positive")
	ErrInvalidLogLevel = errors.New("invalid log-level")
)

// Config holds resolved settings
type Config struct {
	File              string // config file that was read, if any
	DBPath            string
	LogLevel          string
	CacheSize         int
	CacheTTL          time.Duration
	Debounce          time.Duration // zero or negative looks up immediately
	SuggestionTimeout time.Duration
	ResultsTimeout    time.Duration
	SettleTimeout     time.Duration
	PageSize          int
	SuggestionLimit   int
	MaxSessions       int
	Strict            bool
	ImportWorkers     int // 0 means one per CPU
	ImportBatchSize   int
}

// New returns a viper instance with defaults and environment binding set up
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyDBPath, "~/.memberdir/directory.db")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyCacheSize, facet.DefaultCacheSize)
	v.SetDefault(KeyCacheTTL, cache.DefaultTTL)
	v.SetDefault(KeyDebounce, facet.DefaultDebounce)
	v.SetDefault(KeySuggestionTimeout, facet.DefaultTimeout)
	v.SetDefault(KeyResultsTimeout, directory.DefaultTimeout)
	v.SetDefault(KeySettleTimeout, 15*time.Second)
	v.SetDefault(KeyPageSize, directory.DefaultPageSize)
	v.SetDefault(KeySuggestionLimit, directory.DefaultSuggestionLimit)
	v.SetDefault(KeyMaxSessions, 64)
	v.SetDefault(KeyStrict, false)
	v.SetDefault(KeyImportWorkers, 0)
	v.SetDefault(KeyImportBatchSize, importer.DefaultBatchSize)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// RegisterFlags defines the persistent flags shared by every command
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(KeyConfig, "", "path to a YAML config file")
	flags.String(KeyDBPath, "~/.memberdir/directory.db", "SQLite database path")
	flags.String(KeyLogLevel, "info", "log level (debug, info, warn, error)")
	flags.Bool(KeyStrict, false, "fail on directory contract violations instead of degrading")
	flags.Int(KeyPageSize, directory.DefaultPageSize, "results per page")
}

// BindFlags binds every registered flag in flags to its key
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil {
			return
		}
		if err := v.BindPFlag(f.Name, f); err != nil {
			bindErr = fmt.Errorf("bind flag %q: %w", f.Name, err)
		}
	})
	return bindErr
}

// expandPath resolves a leading ~ to the user's home directory
func expandPath(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// readConfigFile reads the file named by the config key, if any
func readConfigFile(v *viper.Viper) (string, error) {
	path := strings.TrimSpace(v.GetString(KeyConfig))
	if path == "" {
		return "", nil
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", path, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	v.SetConfigFile(expanded)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

// Load reads the optional config file and resolves every setting
func Load(v *viper.Viper) (*Config, error) {
	file, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	dbPath, err := expandPath(v.GetString(KeyDBPath))
	if err != nil {
		return nil, fmt.Errorf("expand db path: %w", err)
	}

	cfg := &Config{
		File:              file,
		DBPath:            dbPath,
		LogLevel:          strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel))),
		CacheSize:         v.GetInt(KeyCacheSize),
		CacheTTL:          v.GetDuration(KeyCacheTTL),
		Debounce:          v.GetDuration(KeyDebounce),
		SuggestionTimeout: v.GetDuration(KeySuggestionTimeout),
		ResultsTimeout:    v.GetDuration(KeyResultsTimeout),
		SettleTimeout:     v.GetDuration(KeySettleTimeout),
		PageSize:          v.GetInt(KeyPageSize),
		SuggestionLimit:   v.GetInt(KeySuggestionLimit),
		MaxSessions:       v.GetInt(KeyMaxSessions),
		Strict:            v.GetBool(KeyStrict),
		ImportWorkers:     v.GetInt(KeyImportWorkers),
		ImportBatchSize:   v.GetInt(KeyImportBatchSize),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no usable fallback
func (c *Config) Validate() error {
	if c.PageSize <= 0 {
		return ErrInvalidPageSize
	}
	if c.CacheSize <= 0 {
		return ErrInvalidCache
	}
	if c.CacheTTL <= 0 || c.SuggestionTimeout <= 0 || c.ResultsTimeout <= 0 || c.SettleTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return nil
}

// Directory returns the session template for the directory controller
func (c *Config) Directory() directory.Config {
	return directory.Config{
		PageSize:        c.PageSize,
		Timeout:         c.ResultsTimeout,
		Strict:          c.Strict,
		SuggestionLimit: c.SuggestionLimit,
		Facet: facet.Config{
			CacheSize: c.CacheSize,
			CacheTTL:  c.CacheTTL,
			Debounce:  c.Debounce,
			Timeout:   c.SuggestionTimeout,
		},
	}
}

// Logger builds a production zap logger writing to stderr. stdout is left
// to the MCP protocol.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
