//go:build !sqlite_cgo

package storage

// Default build: pure Go SQLite, no C compiler required.
//
//   CGO_ENABLED=0 go build ./...
//
// modernc.org/sqlite ships with FTS5 enabled, which the members_fts index
// and keyword suggestions rely on.

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
