// Package storage provides SQLite-based persistence for the member directory.
//
// The storage layer manages:
//   - Member profiles
//   - The full-text index over names and bios
//   - Column visibility preferences per profile
//   - Import history
//
// SQLiteStorage implements the suggestion source, results source and column
// store used by the directory controller.
//
// # Database Schema
//
// Tables:
//   - members: Member profiles, unique by username
//   - members_fts: FTS5 index over username, display name and bio
//   - members_vocab: fts5vocab view of members_fts, used for keyword suggestions
//   - column_prefs: Visible columns per profile, stored as JSON
//   - import_runs: One row per import
//   - schema_version: Applied migrations, ordered by semantic version
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("~/.memberdir/directory.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	err = db.UpsertMember(ctx, &types.Member{Username: "ada", Role: "Researcher"})
//
// # Transactions
//
// Use transactions for batched writes:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	for i := range batch {
//	    if err := tx.UpsertMember(ctx, &batch[i]); err != nil {
//	        return err
//	    }
//	}
//	return tx.Commit()
//
// The pool holds a single connection. Do not call methods on the
// SQLiteStorage while a transaction from it is open; use the Tx instead.
//
// # Suggestions
//
// Field facets (role, organization, career_stage, location) suggest the
// distinct column values containing the query, most common first. The
// keywords facet suggests index terms starting with the query.
//
//	values, err := db.Suggest(ctx, types.FacetOrganization, "acm")
//
// DefaultSuggestions returns the most common values for an empty query.
// Concurrent identical calls are collapsed into one query.
//
// # Results
//
// Results applies the free-text query (every word as an FTS prefix match),
// facet filters (OR within a facet, AND across facets), the sort and the
// page window, and reports the total match count:
//
//	page, err := db.Results(ctx, types.ResultsRequest{
//	    Query:    "graph",
//	    Filters:  map[string][]string{types.FacetRole: {"Researcher"}},
//	    Sort:     &types.Sort{Field: "karma", Direction: types.Desc},
//	    Page:     1,
//	    PageSize: 25,
//	})
//
// Ties are broken by member id so pages never overlap.
//
// # Build Tags
//
// Pure Go build (default):
//
//   - Uses modernc.org/sqlite driver
//
//   - No C compiler needed
//
//     CGO_ENABLED=0 go build ./...
//
// CGO build (sqlite_cgo tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Requires a C compiler and the sqlite_fts5 tag
//
//     CGO_ENABLED=1 go build -tags "sqlite_cgo,sqlite_fts5" ./...
package storage
