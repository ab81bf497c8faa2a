// Package peers ingests the live feed of peer location events and applies
// them to the marker store with per-peer rate limiting. The core concurrency
// primitive is cancel-and-replace: each peer owns at most one pending update
// at any time, and a newer event atomically supersedes the older one.
package peers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/pinmesh/peerloc/internal/markers"
	"github.com/pinmesh/peerloc/internal/model"
	"github.com/pinmesh/peerloc/internal/queue"
	"github.com/pinmesh/peerloc/internal/validate"
)

// Event is one peer location update from the remote feed.
type Event struct {
	PeerID      string
	DisplayName string
	Reading     model.PositionReading
}

// Feed is the remote peer feed collaborator. Push backends implement it
// directly; pull backends adapt polling into it.
type Feed interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// Config holds the pipeline's tunables.
type Config struct {
	// QueueCapacity bounds the ingest queue; bursts drop the oldest entries.
	QueueCapacity int
	// Debounce is the delay before a pending update commits, during which a
	// newer event for the same peer may replace it.
	Debounce time.Duration
	// StaleAfter is the marker age at which the sweep evicts a peer.
	StaleAfter time.Duration
}

// DefaultConfig returns production defaults. StaleAfter is ten times the
// marker suppression window.
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 50,
		Debounce:      time.Second,
		StaleAfter:    5 * time.Minute,
	}
}

// pendingUpdate is a scheduled commit that a newer event may cancel.
type pendingUpdate struct {
	event  Event
	cancel context.CancelFunc
}

// Pipeline routes peer events into the marker store.
type Pipeline struct {
	cfg       Config
	store     *markers.Store
	validator *validate.Validator
	log       *slog.Logger

	ingest *queue.Bounded[Event]
	wake   chan struct{}

	mu      sync.Mutex
	pending map[string]*pendingUpdate
	baseCtx context.Context

	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
}

// New creates a Pipeline. Run must be called for events to flow.
func New(cfg Config, store *markers.Store, validator *validate.Validator, log *slog.Logger) (*Pipeline, error) {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig().Debounce
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultConfig().StaleAfter
	}

	p := &Pipeline{
		cfg:       cfg,
		store:     store,
		validator: validator,
		log:       log,
		ingest:    queue.NewBounded[Event](cfg.QueueCapacity),
		wake:      make(chan struct{}, 1),
		pending:   make(map[string]*pendingUpdate),
		baseCtx:   context.Background(),
	}

	m := meter()
	var err error

	p.queueSize, err = m.Int64ObservableGauge(
		"peers.queue.size",
		metric.WithDescription("Current number of events in the ingest queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(p.queueSize, int64(p.ingest.Len()))
			return nil
		},
		p.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	p.processed, err = m.Int64Counter(
		"peers.events.processed",
		metric.WithDescription("Total peer events committed to the marker store"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	p.dropped, err = m.Int64Counter(
		"peers.events.dropped",
		metric.WithDescription("Total peer events dropped due to a full ingest queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return p, nil
}

// Submit enqueues one peer event. When the queue is full the oldest entry
// gives way — the pipeline favors freshness over completeness.
func (p *Pipeline) Submit(e Event) {
	if p.ingest.Push(e) {
		p.dropped.Add(context.Background(), 1)
		p.log.Debug("ingest queue full, dropped oldest event")
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// SubmitBatch fans a keyed set of updates through the per-peer debounce path.
func (p *Pipeline) SubmitBatch(events map[string]Event) {
	for _, e := range events {
		p.Submit(e)
	}
}

// ForceImmediate bypasses the debounce for caller-initiated refreshes and
// cancels any pending update for the peer.
func (p *Pipeline) ForceImmediate(peerID, displayName string, reading model.PositionReading) {
	report := p.validator.Validate(reading)
	if !report.Valid() {
		p.log.Debug("dropping invalid forced update", "peer", peerID, "errors", len(report.Errors))
		return
	}

	p.mu.Lock()
	if old, ok := p.pending[peerID]; ok {
		old.cancel()
		delete(p.pending, peerID)
	}
	p.mu.Unlock()

	p.store.Upsert(peerID, displayName, reading, true)
	p.processed.Add(context.Background(), 1)
}

// Run consumes the feed until ctx is cancelled, draining the ingest queue
// and sweeping stale markers every debounce tick.
func (p *Pipeline) Run(ctx context.Context, feed Feed) error {
	p.mu.Lock()
	p.baseCtx = ctx
	p.mu.Unlock()

	events, err := feed.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribing to peer feed: %w", err)
	}

	sweep := time.NewTicker(p.cfg.Debounce)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			p.cancelAll()
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				p.cancelAll()
				return nil
			}
			p.Submit(e)
			p.drain()
		case <-p.wake:
			p.drain()
		case <-sweep.C:
			if evicted := p.store.SweepStale(p.cfg.StaleAfter); len(evicted) > 0 {
				p.log.Info("evicted stale peer markers", "count", len(evicted), "peers", evicted)
			}
		}
	}
}

func (p *Pipeline) drain() {
	for {
		e, ok := p.ingest.Pop()
		if !ok {
			return
		}
		report := p.validator.Validate(e.Reading)
		if !report.Valid() {
			p.log.Debug("dropping invalid peer reading", "peer", e.PeerID, "errors", len(report.Errors))
			continue
		}
		p.schedule(e)
	}
}

// schedule installs a debounced commit for the event, cancelling and
// replacing any pending update for the same peer.
func (p *Pipeline) schedule(e Event) {
	p.mu.Lock()
	if old, ok := p.pending[e.PeerID]; ok {
		old.cancel()
	}
	ctx, cancel := context.WithCancel(p.baseCtx)
	pu := &pendingUpdate{event: e, cancel: cancel}
	p.pending[e.PeerID] = pu
	p.mu.Unlock()

	go func() {
		timer := time.NewTimer(p.cfg.Debounce)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			// Superseded or shut down: a cancelled update never touches the store.
			return
		case <-timer.C:
		}

		// Commit only if we are still the installed update for this peer.
		p.mu.Lock()
		if p.pending[e.PeerID] != pu {
			p.mu.Unlock()
			return
		}
		delete(p.pending, e.PeerID)
		p.mu.Unlock()

		p.store.Upsert(e.PeerID, e.DisplayName, e.Reading, false)
		p.processed.Add(context.Background(), 1)
	}()
}

// PendingCount returns the number of peers with an update awaiting commit.
func (p *Pipeline) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// QueueLen returns the number of events awaiting drain.
func (p *Pipeline) QueueLen() int {
	return p.ingest.Len()
}

// DroppedCount returns the total events dropped to a full queue.
func (p *Pipeline) DroppedCount() uint64 {
	return p.ingest.Dropped()
}

func (p *Pipeline) cancelAll() {
	p.mu.Lock()
	for id, pu := range p.pending {
		pu.cancel()
		delete(p.pending, id)
	}
	p.mu.Unlock()
}
