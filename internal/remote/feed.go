// internal/remote/feed.go
package remote

import (
	"context"
	"log/slog"
	"time"

	"github.com/pinmesh/peerloc/internal/peers"
)

const defaultPollInterval = 5 * time.Second

// PollingFeed adapts the presence client to the peer pipeline's feed
// contract by polling the backend at a fixed interval.
type PollingFeed struct {
	client   *Client
	interval time.Duration
	log      *slog.Logger
}

// NewPollingFeed creates a feed polling every interval. A non-positive
// interval falls back to the default.
func NewPollingFeed(client *Client, interval time.Duration, log *slog.Logger) *PollingFeed {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &PollingFeed{client: client, interval: interval, log: log}
}

// Subscribe starts the poll loop. The returned channel closes when ctx is
// cancelled. Poll failures are logged and retried at the next tick.
func (f *PollingFeed) Subscribe(ctx context.Context) (<-chan peers.Event, error) {
	out := make(chan peers.Event, 16)

	go func() {
		defer close(out)

		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		f.poll(ctx, out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.poll(ctx, out)
			}
		}
	}()

	return out, nil
}

func (f *PollingFeed) poll(ctx context.Context, out chan<- peers.Event) {
	positions, err := f.client.FetchPeers(ctx)
	if err != nil {
		if ctx.Err() == nil {
			f.log.Warn("peer poll failed", "error", err)
		}
		return
	}
	for _, p := range positions {
		e := peers.Event{PeerID: p.PeerID, DisplayName: p.DisplayName, Reading: p.Reading}
		select {
		case out <- e:
		case <-ctx.Done():
			return
		}
	}
}
