package facet

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/memberdir/internal/cache"
	"github.com/dshills/memberdir/internal/selection"
	"github.com/dshills/memberdir/internal/telemetry"
)

// Defaults for facet controllers
const (
	DefaultDebounce  = 150 * time.Millisecond
	DefaultTimeout   = 5 * time.Second
	DefaultCacheSize = 100
)

var (
	// ErrMissingID is returned when a facet has no identifier
	ErrMissingID = errors.New("facet id is required")
	// ErrNilSource is returned when no suggestion source is given
	ErrNilSource = errors.New("suggestion source is required")
	// ErrClosed is returned by lookups started after Close
	ErrClosed = errors.New("facet controller closed")
)

// Phase is the lifecycle state of a facet search
type Phase string

const (
	PhaseIdle     Phase = "idle"     // Empty query, showing default suggestions
	PhaseFetching Phase = "fetching" // Waiting for the latest query's results
	PhaseReady    Phase = "ready"    // Suggestions reflect the latest query
)

// SuggestionSource looks up suggestion ids for a facet query
type SuggestionSource interface {
	Suggest(ctx context.Context, facetID, query string) ([]string, error)
}

// SuggestionSourceFunc adapts a function to SuggestionSource
type SuggestionSourceFunc func(ctx context.Context, facetID, query string) ([]string, error)

func (f SuggestionSourceFunc) Suggest(ctx context.Context, facetID, query string) ([]string, error) {
	return f(ctx, facetID, query)
}

// Config contains facet controller settings
type Config struct {
	ID                 string
	Title              string
	DefaultSuggestions []string
	CacheSize          int           // default: 100
	CacheTTL           time.Duration // default: cache.DefaultTTL
	Debounce           time.Duration // zero or negative runs lookups immediately
	Timeout            time.Duration // default: 5s
	Now                func() time.Time
}

// State is a snapshot of a facet
type State struct {
	ID                 string                          `json:"id"`
	Title              string                          `json:"title"`
	Query              string                          `json:"query"`
	Phase              Phase                           `json:"phase"`
	Loading            bool                            `json:"loading"`
	Suggestions        []selection.GrandfatheredOption `json:"suggestions"`
	DefaultSuggestions []string                        `json:"default_suggestions"`
	Selected           []string                        `json:"selected"`
	Summary            string                          `json:"summary"`
	NoResults          bool                            `json:"no_results"`
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithErrorSink sets where fetch failures are reported
func WithErrorSink(s telemetry.ErrorSink) Option {
	return func(c *Controller) {
		if s != nil {
			c.errs = s
		}
	}
}

// WithAnalytics sets the analytics sink
func WithAnalytics(s telemetry.AnalyticsSink) Option {
	return func(c *Controller) {
		if s != nil {
			c.analytics = s
		}
	}
}

// Controller is the searchable multi-select state machine for one facet.
// All state changes are serialized by mu; fetch results are tagged with the
// sequence number of the query that issued them and dropped if stale.
type Controller struct {
	cfg       Config
	source    SuggestionSource
	cache     *cache.Cache[string, []string]
	debounce  *Debouncer
	logger    *zap.Logger
	errs      telemetry.ErrorSink
	analytics telemetry.AnalyticsSink

	ctx      context.Context
	cancelFn context.CancelFunc
	wg       sync.WaitGroup

	mu          sync.Mutex
	query       string
	phase       Phase
	suggestions []selection.GrandfatheredOption
	seq         uint64
	inflight    context.CancelFunc
	onSelect    func()
	changed     chan struct{}
	closed      bool
}

// New creates a facet controller showing its default suggestions
func New(cfg Config, source SuggestionSource, opts ...Option) (*Controller, error) {
	if cfg.ID == "" {
		return nil, ErrMissingID
	}
	if source == nil {
		return nil, ErrNilSource
	}
	if cfg.Title == "" {
		cfg.Title = cfg.ID
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:    cfg,
		source: source,
		cache: cache.New[string, []string](cache.Config{
			Capacity: cfg.CacheSize,
			TTL:      cfg.CacheTTL,
			Now:      cfg.Now,
		}),
		debounce:  NewDebouncer(cfg.Debounce),
		logger:    zap.NewNop(),
		errs:      telemetry.Nop{},
		analytics: telemetry.Nop{},
		ctx:       ctx,
		cancelFn:  cancel,
		phase:     PhaseIdle,
		changed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("facet", cfg.ID))
	c.suggestions = selection.Merge(nil, selection.OptionsFromValues(cfg.DefaultSuggestions))

	return c, nil
}

// ID returns the facet identifier
func (c *Controller) ID() string {
	return c.cfg.ID
}

// OnSelectionChange registers fn to run after every selection change
func (c *Controller) OnSelectionChange(fn func()) {
	c.mu.Lock()
	c.onSelect = fn
	c.mu.Unlock()
}

// SetQuery updates the search text. A non-empty query moves the facet to
// Fetching and schedules a lookup; an empty query returns to the defaults.
func (c *Controller) SetQuery(query string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.query = query
	c.seq++
	seq := c.seq
	c.cancelInflightLocked()

	if strings.TrimSpace(query) == "" {
		c.debounce.Cancel()
		c.phase = PhaseIdle
		c.suggestions = selection.Merge(c.suggestions, selection.OptionsFromValues(c.cfg.DefaultSuggestions))
		c.notifyLocked()
		c.mu.Unlock()
		return
	}

	c.phase = PhaseFetching
	c.notifyLocked()
	c.mu.Unlock()

	c.debounce.Trigger(func() { c.fetch(seq, query) })
}

// SetDefaultSuggestions replaces the suggestions shown for an empty query
func (c *Controller) SetDefaultSuggestions(values []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.DefaultSuggestions = append([]string(nil), values...)
	if c.phase == PhaseIdle && !c.closed {
		c.suggestions = selection.Merge(c.suggestions, selection.OptionsFromValues(c.cfg.DefaultSuggestions))
		c.notifyLocked()
	}
}

// fetch issues the lookup for seq unless a newer query superseded it
func (c *Controller) fetch(seq uint64, query string) {
	c.mu.Lock()
	if c.closed || seq != c.seq {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.Timeout)
	c.inflight = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer cancel()

		// The lookup outlives a superseding query so it still fills the
		// cache, but not the controller.
		results, err := c.cache.GetOrCompute(ctx, query, func(context.Context) ([]string, error) {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return nil, ErrClosed
			}
			c.wg.Add(1)
			c.mu.Unlock()
			defer c.wg.Done()

			tctx, tcancel := context.WithTimeout(c.ctx, c.cfg.Timeout)
			defer tcancel()
			return c.source.Suggest(tctx, c.cfg.ID, query)
		})
		c.commit(ctx, seq, query, results, err)
	}()
}

// commit applies a fetch outcome if it still belongs to the latest query.
// Sinks are called before waiters are released.
func (c *Controller) commit(ctx context.Context, seq uint64, query string, results []string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || seq != c.seq {
		c.logger.Debug("discarding stale suggestions", zap.String("query", query), zap.Uint64("seq", seq))
		return
	}
	if err != nil {
		results = nil
	}
	c.suggestions = selection.Merge(c.suggestions, selection.OptionsFromValues(results))
	c.phase = PhaseReady
	c.inflight = nil
	defer c.notifyLocked()

	if err != nil {
		c.logger.Warn("suggestion fetch failed", zap.String("query", query), zap.Error(err))
		c.errs.CaptureError(ctx, err, map[string]any{
			"component": "facet",
			"facet":     c.cfg.ID,
			"query":     query,
		})
		return
	}
	c.analytics.Track(telemetry.EventFacetSearch, map[string]any{
		"facet":   c.cfg.ID,
		"query":   query,
		"results": len(results),
	})
}

// Toggle flips the option with the given value. Grandfathered options are
// removed instead. Unknown values are ignored.
func (c *Controller) Toggle(value string) bool {
	c.mu.Lock()
	next, ok := selection.Toggle(c.suggestions, value)
	if !ok || c.closed {
		c.mu.Unlock()
		return false
	}
	c.suggestions = next
	hook := c.onSelect
	c.notifyLocked()
	c.mu.Unlock()

	c.analytics.Track(telemetry.EventFacetToggle, map[string]any{
		"facet": c.cfg.ID,
		"value": value,
	})
	if hook != nil {
		hook()
	}
	return true
}

// Clear deselects everything and drops grandfathered options
func (c *Controller) Clear() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	hadSelection := len(selection.SelectedValues(c.suggestions)) > 0
	c.suggestions = selection.ClearAll(c.suggestions)
	hook := c.onSelect
	c.notifyLocked()
	c.mu.Unlock()

	if hadSelection && hook != nil {
		hook()
	}
}

// SelectedValues returns the selected option ids in display order
func (c *Controller) SelectedValues() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return selection.SelectedValues(c.suggestions)
}

// State returns a snapshot of the facet
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	suggestions := make([]selection.GrandfatheredOption, len(c.suggestions))
	copy(suggestions, c.suggestions)

	return State{
		ID:                 c.cfg.ID,
		Title:              c.cfg.Title,
		Query:              c.query,
		Phase:              c.phase,
		Loading:            c.phase == PhaseFetching,
		Suggestions:        suggestions,
		DefaultSuggestions: append([]string(nil), c.cfg.DefaultSuggestions...),
		Selected:           selection.SelectedValues(suggestions),
		Summary:            selection.Summarize(selection.SelectedLabels(suggestions)),
		NoResults:          c.phase == PhaseReady && len(suggestions) == 0,
	}
}

// Flush runs a debounced lookup immediately
func (c *Controller) Flush() {
	c.debounce.Flush()
}

// Wait blocks until the facet is no longer fetching or ctx is done
func (c *Controller) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.closed || c.phase != PhaseFetching {
			c.mu.Unlock()
			return nil
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Changed returns a channel closed on the next state change
func (c *Controller) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// CacheStats exposes the suggestion cache counters
func (c *Controller) CacheStats() cache.Stats {
	return c.cache.Stats()
}

// Close cancels pending work, including lookups still filling the cache,
// and waits for running fetches to finish
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancelInflightLocked()
	c.cancelFn()
	c.notifyLocked()
	c.mu.Unlock()

	c.debounce.Stop()
	c.wg.Wait()
}

func (c *Controller) cancelInflightLocked() {
	if c.inflight != nil {
		c.inflight()
		c.inflight = nil
	}
}

func (c *Controller) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
