package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/memberdir/internal/facet"
	"github.com/dshills/memberdir/internal/telemetry"
	"github.com/dshills/memberdir/pkg/types"
)

// Defaults for directory sessions
const (
	DefaultPageSize               = 25
	DefaultTimeout                = 10 * time.Second
	DefaultSuggestionLimit        = 10
	defaultSuggestionsLoadTimeout = 5 * time.Second
)

var (
	// ErrUnknownFacet is returned for a facet id the directory does not have
	ErrUnknownFacet = errors.New("unknown facet")
	// ErrUnknownColumn is returned for a column id the directory does not have
	ErrUnknownColumn = errors.New("unknown column")
	// ErrInvalidColumn is returned for malformed column definitions
	ErrInvalidColumn = errors.New("invalid column definition")
	// ErrColumnNotSortable is returned in strict mode when sorting on a column
	// that is not sortable
	ErrColumnNotSortable = errors.New("column is not sortable")
	// ErrNoResultsSource is returned when no results source is given
	ErrNoResultsSource = errors.New("results source is required")
)

// LoadState is the result loading state
type LoadState string

const (
	StateEmpty       LoadState = "empty"        // Nothing requested yet
	StateLoading     LoadState = "loading"      // First page in flight
	StateLoaded      LoadState = "loaded"       // More pages may exist
	StateLoadingMore LoadState = "loading_more" // Next page in flight
	StateExhausted   LoadState = "exhausted"    // All results loaded
)

// ResultsSource fetches one page of directory results
type ResultsSource interface {
	Results(ctx context.Context, req types.ResultsRequest) (types.ResultsPage, error)
}

// ColumnStore persists column visibility per profile. LoadColumnPrefs
// returns an error wrapping types.ErrNotFound when nothing was saved.
type ColumnStore interface {
	LoadColumnPrefs(ctx context.Context, profile string) (types.ColumnPrefs, error)
	SaveColumnPrefs(ctx context.Context, profile string, prefs types.ColumnPrefs) error
}

// DefaultSuggester supplies the suggestions shown for an empty facet query
type DefaultSuggester interface {
	DefaultSuggestions(ctx context.Context, facetID string, limit int) ([]string, error)
}

// Sources are the collaborators a directory reads from
type Sources struct {
	Suggestions facet.SuggestionSource
	Results     ResultsSource
	Columns     ColumnStore // optional
}

// Config contains directory session settings
type Config struct {
	Profile         string        // key for persisted column preferences
	PageSize        int           // default: 25
	Timeout         time.Duration // results fetch timeout, default: 10s
	Strict          bool          // fail on contract violations instead of degrading
	Columns         []Column      // default: DefaultColumns
	Facets          []FacetSpec   // default: DefaultFacets
	Facet           facet.Config  // template for facet cache, debounce and timeout
	SuggestionLimit int           // default suggestions per facet, default: 10
}

// State is a snapshot of a directory session
type State struct {
	Query         string         `json:"query"`
	Facets        []facet.State  `json:"facets"`
	Sort          *types.Sort    `json:"sort"`
	Columns       []ColumnState  `json:"columns"`
	ColumnsEdited bool           `json:"columns_edited"`
	Page          int            `json:"page"`
	PageSize      int            `json:"page_size"`
	Results       []types.Member `json:"results"`
	TotalResults  int            `json:"total_results"`
	LoadState     LoadState      `json:"load_state"`
	Loading       bool           `json:"loading"`
	HasMore       bool           `json:"has_more"`
	NoResults     bool           `json:"no_results"`
}

// Option configures a Directory
type Option func(*Directory)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(d *Directory) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithErrorSink sets where fetch failures are reported
func WithErrorSink(s telemetry.ErrorSink) Option {
	return func(d *Directory) {
		if s != nil {
			d.errs = s
		}
	}
}

// WithAnalytics sets the analytics sink
func WithAnalytics(s telemetry.AnalyticsSink) Option {
	return func(d *Directory) {
		if s != nil {
			d.analytics = s
		}
	}
}

// Directory aggregates facet selections, the free-text query, sort and
// columns into paginated result requests. Every change to the request key
// bumps gen; page responses for an older gen are discarded.
type Directory struct {
	cfg       Config
	results   ResultsSource
	store     ColumnStore
	logger    *zap.Logger
	errs      telemetry.ErrorSink
	analytics telemetry.AnalyticsSink

	facets     []*facet.Controller
	facetIndex map[string]*facet.Controller

	ctx      context.Context
	cancelFn context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	query    string
	sort     *types.Sort // explicit choice, nil means use column defaults
	columns  *columnSet
	items    []types.Member
	total    int
	page     int // pages loaded
	state    LoadState
	request  types.ResultsRequest
	gen      uint64
	batching int
	dirty    bool
	inflight context.CancelFunc
	changed  chan struct{}
	closed   bool
}

// New creates a directory session. Persisted column preferences and default
// facet suggestions are loaded using ctx.
func New(ctx context.Context, cfg Config, src Sources, opts ...Option) (*Directory, error) {
	if src.Results == nil {
		return nil, ErrNoResultsSource
	}
	if src.Suggestions == nil {
		return nil, facet.ErrNilSource
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if len(cfg.Columns) == 0 {
		cfg.Columns = DefaultColumns
	}
	if len(cfg.Facets) == 0 {
		cfg.Facets = DefaultFacets
	}
	if cfg.SuggestionLimit <= 0 {
		cfg.SuggestionLimit = DefaultSuggestionLimit
	}

	base, cancel := context.WithCancel(context.Background())
	d := &Directory{
		cfg:        cfg,
		results:    src.Results,
		store:      src.Columns,
		logger:     zap.NewNop(),
		errs:       telemetry.Nop{},
		analytics:  telemetry.Nop{},
		facetIndex: make(map[string]*facet.Controller, len(cfg.Facets)),
		ctx:        base,
		cancelFn:   cancel,
		columns:    newColumnSet(cfg.Columns),
		state:      StateEmpty,
		changed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.columns.validate(); err != nil {
		if d.cfg.Strict || !errors.Is(err, ErrColumnNotSortable) {
			cancel()
			return nil, err
		}
		dropped := d.columns.dropInvalidDefaults()
		d.logger.Warn("ignoring default sort on non-sortable columns", zap.Strings("columns", dropped))
		if err := d.columns.validate(); err != nil {
			cancel()
			return nil, err
		}
	}

	if err := d.buildFacets(src.Suggestions); err != nil {
		d.Close()
		return nil, err
	}

	d.loadColumnPrefs(ctx)
	d.loadDefaultSuggestions(ctx, src.Suggestions)

	d.analytics.Track(telemetry.EventDirectoryOpened, map[string]any{
		"profile": cfg.Profile,
		"facets":  len(d.facets),
	})
	return d, nil
}

func (d *Directory) buildFacets(source facet.SuggestionSource) error {
	for _, spec := range d.cfg.Facets {
		if _, dup := d.facetIndex[spec.ID]; dup {
			return fmt.Errorf("duplicate facet %q", spec.ID)
		}
		fc := d.cfg.Facet
		fc.ID = spec.ID
		fc.Title = spec.Title
		c, err := facet.New(fc, source,
			facet.WithLogger(d.logger),
			facet.WithErrorSink(d.errs),
			facet.WithAnalytics(d.analytics),
		)
		if err != nil {
			return fmt.Errorf("facet %q: %w", spec.ID, err)
		}
		c.OnSelectionChange(d.selectionChanged)
		d.facets = append(d.facets, c)
		d.facetIndex[spec.ID] = c
	}
	return nil
}

func (d *Directory) loadColumnPrefs(ctx context.Context) {
	if d.store == nil {
		return
	}
	prefs, err := d.store.LoadColumnPrefs(ctx, d.cfg.Profile)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			d.logger.Warn("failed to load column preferences", zap.Error(err))
			d.errs.CaptureError(ctx, err, map[string]any{"component": "directory", "profile": d.cfg.Profile})
		}
		return
	}
	d.mu.Lock()
	d.columns.apply(prefs)
	d.mu.Unlock()
}

func (d *Directory) loadDefaultSuggestions(ctx context.Context, source facet.SuggestionSource) {
	ds, ok := source.(DefaultSuggester)
	if !ok || len(d.cfg.Facet.DefaultSuggestions) > 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, defaultSuggestionsLoadTimeout)
	defer cancel()
	for _, c := range d.facets {
		values, err := ds.DefaultSuggestions(ctx, c.ID(), d.cfg.SuggestionLimit)
		if err != nil {
			d.errs.CaptureError(ctx, err, map[string]any{"component": "directory", "facet": c.ID()})
			continue
		}
		c.SetDefaultSuggestions(values)
	}
}

// Facet returns the controller for a facet id
func (d *Directory) Facet(id string) (*facet.Controller, bool) {
	c, ok := d.facetIndex[id]
	return c, ok
}

// Facets returns the facet controllers in display order
func (d *Directory) Facets() []*facet.Controller {
	return append([]*facet.Controller(nil), d.facets...)
}

func (d *Directory) facet(id string) (*facet.Controller, error) {
	c, ok := d.facetIndex[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFacet, id)
	}
	return c, nil
}

// SearchFacet sets the suggestion query of one facet
func (d *Directory) SearchFacet(facetID, query string) error {
	c, err := d.facet(facetID)
	if err != nil {
		return err
	}
	c.SetQuery(query)
	return nil
}

// ToggleFacetOption toggles one option of one facet. It reports whether the
// option existed. A change restarts pagination.
func (d *Directory) ToggleFacetOption(facetID, value string) (bool, error) {
	c, err := d.facet(facetID)
	if err != nil {
		return false, err
	}
	return c.Toggle(value), nil
}

// ClearFacet deselects everything in one facet
func (d *Directory) ClearFacet(facetID string) error {
	c, err := d.facet(facetID)
	if err != nil {
		return err
	}
	c.Clear()
	return nil
}

// ClearAll clears the free-text query and every facet, refreshing once
func (d *Directory) ClearAll() {
	d.mu.Lock()
	d.batching++
	d.mu.Unlock()

	for _, c := range d.facets {
		c.Clear()
	}

	d.mu.Lock()
	d.batching--
	changed := d.dirty || d.query != ""
	d.dirty = false
	d.query = ""
	d.mu.Unlock()

	if changed {
		d.Refresh()
	}
}

// selectionChanged runs after any facet selection change
func (d *Directory) selectionChanged() {
	d.mu.Lock()
	if d.batching > 0 {
		d.dirty = true
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	d.Refresh()
}

// SetQuery sets the free-text query. A different query restarts pagination.
func (d *Directory) SetQuery(query string) {
	d.mu.Lock()
	if d.query == query {
		d.mu.Unlock()
		return
	}
	d.query = query
	d.mu.Unlock()

	d.analytics.Track(telemetry.EventQueryChanged, map[string]any{"query": query})
	d.Refresh()
}

// Query returns the free-text query
func (d *Directory) Query() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.query
}

// SetSort sets an explicit sort. Sorting on a column that is not sortable
// fails with ErrColumnNotSortable in strict mode and falls back to unsorted
// otherwise.
func (d *Directory) SetSort(field string, dir types.Direction) error {
	if dir != types.Asc && dir != types.Desc {
		return types.ErrInvalidDirection
	}

	d.mu.Lock()
	col, ok := d.columns.lookup(field)
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownColumn, field)
	}
	next := &types.Sort{Field: field, Direction: dir}
	if !col.Sortable {
		if d.cfg.Strict {
			d.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrColumnNotSortable, field)
		}
		d.logger.Warn("sort on non-sortable column, leaving results unsorted", zap.String("column", field))
		next = nil
	}
	prev := d.effectiveSortLocked()
	d.sort = next
	if next == nil {
		// An explicit "unsorted" must not fall back to column defaults
		d.sort = &types.Sort{}
	}
	same := sortEqual(prev, d.effectiveSortLocked())
	d.mu.Unlock()

	if same {
		return nil
	}
	d.analytics.Track(telemetry.EventSortChanged, map[string]any{"field": field, "direction": string(dir)})
	d.Refresh()
	return nil
}

// ClearSort drops the explicit sort so column defaults apply again
func (d *Directory) ClearSort() {
	d.mu.Lock()
	prev := d.effectiveSortLocked()
	d.sort = nil
	same := sortEqual(prev, d.effectiveSortLocked())
	d.mu.Unlock()

	if !same {
		d.analytics.Track(telemetry.EventSortChanged, map[string]any{"field": "", "direction": ""})
		d.Refresh()
	}
}

// Sort returns the effective sort, or nil when unsorted
func (d *Directory) Sort() *types.Sort {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.effectiveSortLocked()
}

// effectiveSortLocked applies precedence: explicit choice, then the first
// column default, then unsorted.
func (d *Directory) effectiveSortLocked() *types.Sort {
	if d.sort != nil {
		if d.sort.Field == "" {
			return nil
		}
		s := *d.sort
		return &s
	}
	return d.columns.defaultSort()
}

func sortEqual(a, b *types.Sort) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Columns returns the columns with their visibility
func (d *Directory) Columns() []ColumnState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.columns.states()
}

// ColumnsEdited reports whether visibility differs from the defaults by user choice
func (d *Directory) ColumnsEdited() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.columns.edited
}

// ToggleColumn flips a column's visibility and persists it. Visibility does
// not affect sort or pagination.
func (d *Directory) ToggleColumn(ctx context.Context, id string) error {
	d.mu.Lock()
	if err := d.columns.toggle(id); err != nil {
		d.mu.Unlock()
		return err
	}
	prefs := d.columns.prefs()
	d.notifyLocked()
	d.mu.Unlock()

	d.analytics.Track(telemetry.EventColumnsChanged, map[string]any{"column": id, "visible": prefs.Visible[id]})
	return d.saveColumnPrefs(ctx, prefs)
}

// ResetColumns restores default visibility and clears the edited flag
func (d *Directory) ResetColumns(ctx context.Context) error {
	d.mu.Lock()
	d.columns.reset()
	prefs := d.columns.prefs()
	d.notifyLocked()
	d.mu.Unlock()

	d.analytics.Track(telemetry.EventColumnsChanged, map[string]any{"reset": true})
	return d.saveColumnPrefs(ctx, prefs)
}

func (d *Directory) saveColumnPrefs(ctx context.Context, prefs types.ColumnPrefs) error {
	if d.store == nil {
		return nil
	}
	if err := d.store.SaveColumnPrefs(ctx, d.cfg.Profile, prefs); err != nil {
		return fmt.Errorf("failed to save column preferences: %w", err)
	}
	return nil
}

// filtersLocked collects the selected values of every facet with a selection
func (d *Directory) filtersLocked() map[string][]string {
	filters := make(map[string][]string)
	for _, c := range d.facets {
		if values := c.SelectedValues(); len(values) > 0 {
			filters[c.ID()] = values
		}
	}
	return filters
}

// Refresh discards loaded pages and fetches page 1 for the current key
func (d *Directory) Refresh() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	d.gen++
	d.cancelInflightLocked()
	d.items = nil
	d.total = 0
	d.page = 0
	d.state = StateLoading
	d.request = types.ResultsRequest{
		Query:    d.query,
		Filters:  d.filtersLocked(),
		Sort:     d.effectiveSortLocked(),
		Page:     1,
		PageSize: d.cfg.PageSize,
	}
	d.notifyLocked()
	d.fetchLocked(d.gen, d.request)
}

// LoadMore fetches the next page. It is a no-op returning false while a
// fetch is in flight, before the first load, and once results are exhausted.
func (d *Directory) LoadMore() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.state != StateLoaded {
		return false
	}

	d.state = StateLoadingMore
	req := d.request
	req.Page = d.page + 1
	d.notifyLocked()
	d.fetchLocked(d.gen, req)

	d.analytics.Track(telemetry.EventLoadMore, map[string]any{"page": req.Page})
	return true
}

// fetchLocked starts a page fetch tagged with gen
func (d *Directory) fetchLocked(gen uint64, req types.ResultsRequest) {
	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.Timeout)
	d.inflight = cancel
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()
		defer cancel()
		page, err := d.results.Results(ctx, req)
		d.commit(ctx, gen, req, page, err)
	}()
}

// commit applies a page if it belongs to the current key and is the next page
func (d *Directory) commit(ctx context.Context, gen uint64, req types.ResultsRequest, page types.ResultsPage, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || gen != d.gen || req.Page != d.page+1 {
		d.logger.Debug("discarding stale results page", zap.Uint64("gen", gen), zap.Int("page", req.Page))
		return
	}

	if err != nil {
		d.logger.Warn("results fetch failed", zap.Int("page", req.Page), zap.Error(err))
		d.errs.CaptureError(ctx, err, map[string]any{
			"component": "directory",
			"query":     req.Query,
			"page":      req.Page,
		})
		page = types.ResultsPage{Total: d.total}
	}

	d.items = append(d.items, page.Items...)
	d.total = page.Total
	if d.total < len(d.items) {
		d.total = len(d.items)
	}
	d.page = req.Page
	d.inflight = nil
	if len(page.Items) < req.PageSize || len(d.items) >= d.total {
		d.state = StateExhausted
	} else {
		d.state = StateLoaded
	}
	d.notifyLocked()
}

// Request returns the request for the most recently requested page
func (d *Directory) Request() types.ResultsRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	req := d.request
	if d.page > 0 {
		req.Page = d.page
	}
	if d.state == StateLoadingMore {
		req.Page = d.page + 1
	}
	if req.PageSize == 0 {
		req = types.ResultsRequest{
			Query:    d.query,
			Filters:  d.filtersLocked(),
			Sort:     d.effectiveSortLocked(),
			Page:     1,
			PageSize: d.cfg.PageSize,
		}
	}
	return req
}

// State returns a snapshot of the session
func (d *Directory) State() State {
	facets := make([]facet.State, 0, len(d.facets))
	for _, c := range d.facets {
		facets = append(facets, c.State())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	loading := d.state == StateLoading || d.state == StateLoadingMore
	return State{
		Query:         d.query,
		Facets:        facets,
		Sort:          d.effectiveSortLocked(),
		Columns:       d.columns.states(),
		ColumnsEdited: d.columns.edited,
		Page:          d.page,
		PageSize:      d.cfg.PageSize,
		Results:       append([]types.Member(nil), d.items...),
		TotalResults:  d.total,
		LoadState:     d.state,
		Loading:       loading,
		HasMore:       d.state == StateLoaded,
		NoResults:     d.state == StateExhausted && len(d.items) == 0,
	}
}

// Wait blocks until no results page is in flight or ctx is done
func (d *Directory) Wait(ctx context.Context) error {
	for {
		d.mu.Lock()
		if d.closed || (d.state != StateLoading && d.state != StateLoadingMore) {
			d.mu.Unlock()
			return nil
		}
		ch := d.changed
		d.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitFacets flushes debounced facet lookups and waits for them to settle
func (d *Directory) WaitFacets(ctx context.Context) error {
	for _, c := range d.facets {
		c.Flush()
	}
	for _, c := range d.facets {
		if err := c.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// FacetIDs returns the facet ids in display order
func (d *Directory) FacetIDs() []string {
	ids := make([]string, 0, len(d.facets))
	for _, c := range d.facets {
		ids = append(ids, c.ID())
	}
	return ids
}

// SortableColumns returns the ids of sortable columns, alphabetically
func (d *Directory) SortableColumns() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []string
	for _, c := range d.columns.defs {
		if c.Sortable {
			ids = append(ids, c.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Close cancels in-flight work and releases every facet
func (d *Directory) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.cancelInflightLocked()
	d.cancelFn()
	d.notifyLocked()
	d.mu.Unlock()

	for _, c := range d.facets {
		c.Close()
	}
	d.wg.Wait()
}

func (d *Directory) cancelInflightLocked() {
	if d.inflight != nil {
		d.inflight()
		d.inflight = nil
	}
}

func (d *Directory) notifyLocked() {
	close(d.changed)
	d.changed = make(chan struct{})
}
