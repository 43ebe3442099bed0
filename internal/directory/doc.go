// Package directory composes facet controllers, a free-text query, sorting
// and column visibility into a paginated member listing.
//
// One Directory exists per browsing session. Any change to the request key
// (query, facet selections or sort) discards loaded pages and fetches page
// 1 again; responses that arrive for an older key are dropped.
//
// # Loading states
//
//	Empty -> Loading -> Loaded -> LoadingMore -> Loaded ... -> Exhausted
//
// LoadMore only acts in the Loaded state, which makes it safe to call
// repeatedly. A page shorter than the page size, or reaching the reported
// total, marks the listing Exhausted.
//
// # Sorting
//
// The effective sort is the explicit choice if any, otherwise the first
// column with a default sort, otherwise unsorted. Sorting on a column that
// is not sortable returns ErrColumnNotSortable when Config.Strict is set and
// falls back to unsorted with a warning otherwise.
//
// # Columns
//
// Column visibility is independent of sort and persisted per profile
// through a ColumnStore.
package directory
