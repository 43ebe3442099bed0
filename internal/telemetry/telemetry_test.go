package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLogErrorSink_CaptureError(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sink := NewLogErrorSink(zap.New(core))

	sink.CaptureError(context.Background(), errors.New("timeout"), map[string]any{"facet": "role"})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "captured error", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "timeout", ctx["error"])
	assert.Equal(t, "role", ctx["facet"])
}

func TestAsyncAnalytics_DeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	a := NewAsyncAnalytics(8, func(e Event) {
		mu.Lock()
		got = append(got, e.Name)
		mu.Unlock()
	}, nil)

	a.Track("one", nil)
	a.Track("two", map[string]any{"k": 1})
	require.NoError(t, a.Close())

	assert.Equal(t, []string{"one", "two"}, got)
}

func TestAsyncAnalytics_DropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	a := NewAsyncAnalytics(1, func(Event) { <-block }, nil)

	// First event is picked up by the loop and blocks; next fills the buffer
	a.Track("first", nil)
	require.Eventually(t, func() bool { return len(a.events) == 0 }, testTimeout, testTick)
	a.Track("second", nil)
	a.Track("third", nil)

	assert.Equal(t, 1, a.Dropped())
	close(block)
	require.NoError(t, a.Close())
}

func TestAsyncAnalytics_TrackAfterClose(t *testing.T) {
	a := NewAsyncAnalytics(1, nil, nil)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	a.Track("late", nil)
	assert.Equal(t, 0, a.Dropped())
}

func TestLogAnalytics(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	a := NewLogAnalytics(4, zap.New(core))
	a.Track(EventFacetSearch, map[string]any{"facet": "role", "query": "res"})
	require.NoError(t, a.Close())

	require.Equal(t, 1, logs.FilterMessage(EventFacetSearch).Len())
}

func TestNop(t *testing.T) {
	var n Nop
	n.CaptureError(context.Background(), errors.New("x"), nil)
	n.Track("x", nil)
}

const (
	testTimeout = time.Second
	testTick    = time.Millisecond
)
