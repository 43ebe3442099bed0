// Package facet implements the searchable multi-select controller behind
// each directory filter.
//
// A Controller owns one facet: its search text, its suggestion list and the
// user's selection. Typing moves the facet through three phases:
//
//	Idle      query empty, default suggestions shown
//	Fetching  query non-empty, lookup pending
//	Ready     suggestions reflect the latest query
//
// # Usage
//
//	c, err := facet.New(facet.Config{
//	    ID:                 "organization",
//	    DefaultSuggestions: []string{"Acme", "Globex"},
//	}, store, facet.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	c.SetQuery("ac")
//	_ = c.Wait(ctx)
//	c.Toggle("Acme")
//
// # Ordering
//
// Each SetQuery increments a sequence number. A lookup commits only if its
// sequence number is still current, so a slow answer for "a" never
// overwrites a faster answer for "ab". Superseded lookups are cancelled
// through their context.
//
// # Grandfathering
//
// Selected options that drop out of a new result list stay in the list,
// first, flagged Grandfathered. Toggling a grandfathered option removes it.
//
// # Failures
//
// Lookups are cached per query in an LRU with a TTL. A failed or timed out
// lookup is reported to the ErrorSink and shown as an empty result list; it
// is not cached, so the next identical query retries.
//
// Typing is debounced by Config.Debounce so bursts of keystrokes issue one
// lookup. A zero window looks up immediately; the config package defaults
// it to DefaultDebounce.
package facet
