// Package telemetry provides the fire-and-forget error capture and
// analytics sinks used by the directory controllers.
package telemetry

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ErrorSink receives errors for observability. Implementations must not block.
type ErrorSink interface {
	CaptureError(ctx context.Context, err error, fields map[string]any)
}

// AnalyticsSink receives named events. Implementations must not block.
type AnalyticsSink interface {
	Track(event string, props map[string]any)
}

// Event names emitted by the directory
const (
	EventFacetSearch     = "facet_search_performed"
	EventFacetToggle     = "facet_option_toggled"
	EventQueryChanged    = "directory_query_changed"
	EventSortChanged     = "directory_sort_changed"
	EventColumnsChanged  = "directory_columns_changed"
	EventLoadMore        = "directory_load_more"
	EventDirectoryOpened = "directory_opened"
)

// Nop discards everything
type Nop struct{}

func (Nop) CaptureError(context.Context, error, map[string]any) {}
func (Nop) Track(string, map[string]any)                        {}

// LogErrorSink writes captured errors to a zap logger
type LogErrorSink struct {
	logger *zap.Logger
}

// NewLogErrorSink creates an error sink backed by logger
func NewLogErrorSink(logger *zap.Logger) *LogErrorSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogErrorSink{logger: logger.Named("errors")}
}

func (s *LogErrorSink) CaptureError(_ context.Context, err error, fields map[string]any) {
	zf := make([]zap.Field, 0, len(fields)+1)
	zf = append(zf, zap.Error(err))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	s.logger.Warn("captured error", zf...)
}

// Event is a tracked analytics event
type Event struct {
	Name  string
	Props map[string]any
}

// AsyncAnalytics buffers events and hands them to a handler on a background
// goroutine. When the buffer is full new events are dropped.
type AsyncAnalytics struct {
	events  chan Event
	handler func(Event)
	logger  *zap.Logger

	mu      sync.Mutex
	closed  bool
	dropped int
	done    chan struct{}
}

// DefaultAnalyticsBuffer is the event buffer used when size is not positive
const DefaultAnalyticsBuffer = 256

// NewAsyncAnalytics starts the background delivery loop. Call Close to stop it.
func NewAsyncAnalytics(size int, handler func(Event), logger *zap.Logger) *AsyncAnalytics {
	if size <= 0 {
		size = DefaultAnalyticsBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &AsyncAnalytics{
		events:  make(chan Event, size),
		handler: handler,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// NewLogAnalytics delivers events to logger at info level
func NewLogAnalytics(size int, logger *zap.Logger) *AsyncAnalytics {
	if logger == nil {
		logger = zap.NewNop()
	}
	named := logger.Named("analytics")
	return NewAsyncAnalytics(size, func(e Event) {
		named.Info(e.Name, zap.Any("props", e.Props))
	}, logger)
}

func (a *AsyncAnalytics) run() {
	defer close(a.done)
	for e := range a.events {
		if a.handler != nil {
			a.handler(e)
		}
	}
}

// Track enqueues an event without blocking
func (a *AsyncAnalytics) Track(event string, props map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.events <- Event{Name: event, Props: props}:
	default:
		a.dropped++
	}
}

// Dropped returns the number of events discarded because the buffer was full
func (a *AsyncAnalytics) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Close stops accepting events and waits for queued ones to be delivered
func (a *AsyncAnalytics) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.events)
	dropped := a.dropped
	a.mu.Unlock()

	<-a.done
	if dropped > 0 {
		a.logger.Warn("analytics events dropped", zap.Int("count", dropped))
	}
	return nil
}
