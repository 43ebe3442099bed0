package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/memberdir/internal/directory"
	"github.com/dshills/memberdir/internal/facet"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New())
	require.NoError(t, err)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".memberdir", "directory.db"), cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, facet.DefaultDebounce, cfg.Debounce)
	assert.Equal(t, directory.DefaultPageSize, cfg.PageSize)
	assert.Equal(t, 100, cfg.ImportBatchSize)
	assert.False(t, cfg.Strict)
	assert.Empty(t, cfg.File)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("MEMBERDIR_PAGE_SIZE", "50")
	t.Setenv("MEMBERDIR_DEBOUNCE", "-1ms")
	t.Setenv("MEMBERDIR_STRICT", "true")
	t.Setenv("MEMBERDIR_DB_PATH", "/var/lib/memberdir.db")

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, -time.Millisecond, cfg.Debounce)
	assert.True(t, cfg.Strict)
	assert.Equal(t, "/var/lib/memberdir.db", cfg.DBPath)
}

func TestLoad_ZeroDebounce(t *testing.T) {
	t.Setenv("MEMBERDIR_DEBOUNCE", "0")

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Zero(t, cfg.Debounce)
	assert.Zero(t, cfg.Directory().Facet.Debounce, "zero reaches the facets unchanged")
}

func TestLoad_ConfigFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memberdir.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
page-size: 40
cache-ttl: 5m
log-level: debug
`), 0o644))

	v := New()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, BindFlags(v, flags))
	require.NoError(t, flags.Parse([]string{"--config", path, "--page-size", "7"}))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, 7, cfg.PageSize, "flags win over the config file")
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want error
	}{
		{"PageSize", map[string]string{"MEMBERDIR_PAGE_SIZE": "0"}, ErrInvalidPageSize},
		{"CacheSize", map[string]string{"MEMBERDIR_CACHE_SIZE": "-1"}, ErrInvalidCache},
		{"Timeout", map[string]string{"MEMBERDIR_RESULTS_TIMEOUT": "0s"}, ErrInvalidTimeout},
		{"LogLevel", map[string]string{"MEMBERDIR_LOG_LEVEL": "chatty"}, ErrInvalidLogLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(New())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	v := New()
	v.Set(KeyConfig, filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load(v)
	assert.Error(t, err)
}

func TestDirectoryConfig(t *testing.T) {
	cfg := &Config{
		PageSize:          12,
		ResultsTimeout:    time.Second,
		Strict:            true,
		SuggestionLimit:   4,
		CacheSize:         8,
		CacheTTL:          time.Minute,
		Debounce:          -1,
		SuggestionTimeout: 2 * time.Second,
	}
	dc := cfg.Directory()
	assert.Equal(t, 12, dc.PageSize)
	assert.True(t, dc.Strict)
	assert.Equal(t, 4, dc.SuggestionLimit)
	assert.Equal(t, 8, dc.Facet.CacheSize)
	assert.Equal(t, time.Duration(-1), dc.Facet.Debounce)
	assert.Equal(t, 2*time.Second, dc.Facet.Timeout)
}

func TestLogger(t *testing.T) {
	cfg := &Config{LogLevel: "warn"}
	logger, err := cfg.Logger()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1)) // debug
	assert.True(t, logger.Core().Enabled(1))   // warn

	_, err = (&Config{LogLevel: "loud"}).Logger()
	assert.ErrorIs(t, err, ErrInvalidLogLevel)
}
