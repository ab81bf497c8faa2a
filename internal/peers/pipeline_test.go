package peers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinmesh/peerloc/internal/markers"
	"github.com/pinmesh/peerloc/internal/model"
	"github.com/pinmesh/peerloc/internal/validate"
)

type fakeFeed struct {
	ch chan Event
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{ch: make(chan Event, 16)}
}

func (f *fakeFeed) Subscribe(ctx context.Context) (<-chan Event, error) {
	return f.ch, nil
}

func peerReading(lat, lon float64) model.PositionReading {
	return model.PositionReading{
		Latitude:     lat,
		Longitude:    lon,
		AccuracyM:    10,
		CapturedAtMs: time.Now().UnixMilli(),
	}
}

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, *markers.Store) {
	t.Helper()
	store := markers.NewStore(markers.DefaultConfig(), nil)
	p, err := New(cfg, store, validate.New(), slog.Default())
	require.NoError(t, err)
	return p, store
}

func TestPipeline_DebounceCancelAndReplace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debounce = 200 * time.Millisecond
	p, store := newTestPipeline(t, cfg)

	// Two updates for the same peer 100 ms apart: exactly one commit,
	// reflecting the newest event.
	p.Submit(Event{PeerID: "p1", DisplayName: "Alice", Reading: peerReading(37.0000, -122.0)})
	p.drain()
	time.Sleep(100 * time.Millisecond)
	p.Submit(Event{PeerID: "p1", DisplayName: "Alice", Reading: peerReading(37.0010, -122.0)})
	p.drain()

	time.Sleep(400 * time.Millisecond)

	m, ok := store.Get("p1")
	require.True(t, ok)
	assert.Equal(t, 37.0010, m.Location.Latitude)
	assert.Zero(t, p.PendingCount())
}

func TestPipeline_IndependentPeersDoNotInterfere(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debounce = 50 * time.Millisecond
	p, store := newTestPipeline(t, cfg)

	p.Submit(Event{PeerID: "p1", DisplayName: "Alice", Reading: peerReading(37.0, -122.0)})
	p.Submit(Event{PeerID: "p2", DisplayName: "Bob", Reading: peerReading(48.85, 2.35)})
	p.drain()

	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, 2, store.Len())
}

func TestPipeline_ForceImmediateBypassesDebounce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debounce = 200 * time.Millisecond
	p, store := newTestPipeline(t, cfg)

	p.Submit(Event{PeerID: "p1", DisplayName: "Alice", Reading: peerReading(37.0, -122.0)})
	p.drain()

	p.ForceImmediate("p1", "Alice", peerReading(48.85, 2.35))

	// Committed without waiting for the debounce window.
	m, ok := store.Get("p1")
	require.True(t, ok)
	assert.Equal(t, 48.85, m.Location.Latitude)

	// The superseded pending update never commits.
	time.Sleep(400 * time.Millisecond)
	m, _ = store.Get("p1")
	assert.Equal(t, 48.85, m.Location.Latitude)
}

func TestPipeline_InvalidEventsDropped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debounce = 50 * time.Millisecond
	p, store := newTestPipeline(t, cfg)

	p.Submit(Event{PeerID: "p1", DisplayName: "Alice", Reading: peerReading(95, 200)})
	p.drain()

	time.Sleep(150 * time.Millisecond)

	assert.Zero(t, store.Len())
}

func TestPipeline_SubmitBatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debounce = 50 * time.Millisecond
	p, store := newTestPipeline(t, cfg)

	p.SubmitBatch(map[string]Event{
		"p1": {PeerID: "p1", DisplayName: "Alice", Reading: peerReading(37.0, -122.0)},
		"p2": {PeerID: "p2", DisplayName: "Bob", Reading: peerReading(48.85, 2.35)},
		"p3": {PeerID: "p3", DisplayName: "Carol", Reading: peerReading(52.52, 13.405)},
	})
	p.drain()

	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, 3, store.Len())
}

func TestPipeline_DropOldestUnderBurst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueCapacity = 2
	p, _ := newTestPipeline(t, cfg)

	p.Submit(Event{PeerID: "p1", Reading: peerReading(37.0, -122.0)})
	p.Submit(Event{PeerID: "p2", Reading: peerReading(48.85, 2.35)})
	p.Submit(Event{PeerID: "p3", Reading: peerReading(52.52, 13.405)})

	// Oldest gave way; the two freshest survive.
	assert.Equal(t, 2, p.ingest.Len())
	assert.Equal(t, uint64(1), p.ingest.Dropped())
}

func TestPipeline_RunConsumesFeed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debounce = 50 * time.Millisecond
	p, store := newTestPipeline(t, cfg)

	feed := newFakeFeed()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, feed) }()

	feed.ch <- Event{PeerID: "p1", DisplayName: "Alice", Reading: peerReading(37.0, -122.0)}

	require.Eventually(t, func() bool {
		_, ok := store.Get("p1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Zero(t, p.PendingCount())
}

func TestPipeline_RunSweepsStaleMarkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debounce = 30 * time.Millisecond
	cfg.StaleAfter = 80 * time.Millisecond
	p, store := newTestPipeline(t, cfg)

	feed := newFakeFeed()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, feed)

	p.ForceImmediate("p1", "Alice", peerReading(37.0, -122.0))
	_, ok := store.Get("p1")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := store.Get("p1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPipeline_FeedCloseEndsRun(t *testing.T) {
	p, _ := newTestPipeline(t, DefaultConfig())

	feed := newFakeFeed()
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), feed) }()

	close(feed.ch)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after feed close")
	}
}
