// Package markers holds the authoritative in-memory projection of peer
// positions: where each peer was last seen and whether it should be drawn.
package markers

import (
	"sync"
	"time"

	"github.com/pinmesh/peerloc/internal/geo"
	"github.com/pinmesh/peerloc/internal/model"
)

// Renderer receives marker changes to reflect on the map. The store only
// calls into it; it never reads rendering state back.
type Renderer interface {
	UpsertMarker(m model.MarkerState)
	RemoveMarker(peerID string)
}

// Config holds the suppression thresholds for marker updates. These apply
// to peers and are distinct from the sampling controller's own dedup rule
// for the local feed.
type Config struct {
	// MinInterval is the age beyond which an update is always worthy.
	MinInterval time.Duration
	// MinDistanceM is the displacement beyond which an update is always worthy.
	MinDistanceM float64
}

// DefaultConfig returns the production suppression thresholds.
func DefaultConfig() Config {
	return Config{
		MinInterval:  30 * time.Second,
		MinDistanceM: 10,
	}
}

// Store maps peer IDs to their last-known marker state. The peer pipeline
// is the sole writer; everyone else reads through snapshots.
type Store struct {
	mu       sync.RWMutex
	markers  map[string]model.MarkerState
	cfg      Config
	renderer Renderer

	// now is injectable for tests; defaults to time.Now.
	now func() time.Time
}

// NewStore creates an empty Store. renderer may be nil when no map is attached.
func NewStore(cfg Config, renderer Renderer) *Store {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultConfig().MinInterval
	}
	if cfg.MinDistanceM <= 0 {
		cfg.MinDistanceM = DefaultConfig().MinDistanceM
	}
	return &Store{
		markers:  make(map[string]model.MarkerState),
		cfg:      cfg,
		renderer: renderer,
		now:      time.Now,
	}
}

// Upsert creates or updates a peer's marker. Without force, updates that are
// both fresher than MinInterval and closer than MinDistanceM to the stored
// position are suppressed as no-ops. It reports whether a commit happened.
func (s *Store) Upsert(peerID, displayName string, reading model.PositionReading, force bool) bool {
	s.mu.Lock()

	nowMs := s.now().UnixMilli()
	existing, ok := s.markers[peerID]
	if ok && !force && !s.updateWorthy(existing, reading, nowMs) {
		s.mu.Unlock()
		return false
	}

	m := model.MarkerState{
		PeerID:        peerID,
		DisplayName:   displayName,
		Location:      reading,
		Visible:       true,
		LastUpdatedMs: nowMs,
	}
	if ok {
		// Visibility survives position updates.
		m.Visible = existing.Visible
	}
	s.markers[peerID] = m
	s.mu.Unlock()

	if s.renderer != nil && m.Visible {
		s.renderer.UpsertMarker(m)
	}
	return true
}

// updateWorthy holds when the stored marker is old enough or the new reading
// has moved far enough. Caller holds the lock.
func (s *Store) updateWorthy(existing model.MarkerState, reading model.PositionReading, nowMs int64) bool {
	if nowMs-existing.LastUpdatedMs > s.cfg.MinInterval.Milliseconds() {
		return true
	}
	dist := geo.DistanceMeters(
		existing.Location.Latitude, existing.Location.Longitude,
		reading.Latitude, reading.Longitude,
	)
	return dist > s.cfg.MinDistanceM
}

// SetVisible toggles a marker's visibility without discarding its position.
// It reports whether the peer was known.
func (s *Store) SetVisible(peerID string, visible bool) bool {
	s.mu.Lock()
	m, ok := s.markers[peerID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	m.Visible = visible
	s.markers[peerID] = m
	s.mu.Unlock()

	if s.renderer != nil {
		if visible {
			s.renderer.UpsertMarker(m)
		} else {
			s.renderer.RemoveMarker(peerID)
		}
	}
	return true
}

// Get returns a peer's marker state by ID.
func (s *Store) Get(peerID string) (model.MarkerState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markers[peerID]
	return m, ok
}

// Remove deletes a peer's marker immediately, independent of any cooldown.
func (s *Store) Remove(peerID string) bool {
	s.mu.Lock()
	_, ok := s.markers[peerID]
	delete(s.markers, peerID)
	s.mu.Unlock()

	if ok && s.renderer != nil {
		s.renderer.RemoveMarker(peerID)
	}
	return ok
}

// Clear removes all markers.
func (s *Store) Clear() {
	s.mu.Lock()
	removed := make([]string, 0, len(s.markers))
	for id := range s.markers {
		removed = append(removed, id)
	}
	s.markers = make(map[string]model.MarkerState)
	s.mu.Unlock()

	if s.renderer != nil {
		for _, id := range removed {
			s.renderer.RemoveMarker(id)
		}
	}
}

// Len returns the number of markers, visible or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.markers)
}

// Snapshot returns a point-in-time copy of all markers.
func (s *Store) Snapshot() []model.MarkerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MarkerState, 0, len(s.markers))
	for _, m := range s.markers {
		out = append(out, m)
	}
	return out
}

// VisibleSnapshot returns a point-in-time copy of markers flagged visible.
func (s *Store) VisibleSnapshot() []model.MarkerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MarkerState, 0, len(s.markers))
	for _, m := range s.markers {
		if m.Visible {
			out = append(out, m)
		}
	}
	return out
}

// SweepStale removes markers whose last update is older than maxAge and
// returns the evicted peer IDs for the caller to log.
func (s *Store) SweepStale(maxAge time.Duration) []string {
	s.mu.Lock()
	cutoff := s.now().Add(-maxAge).UnixMilli()
	var evicted []string
	for id, m := range s.markers {
		if m.LastUpdatedMs < cutoff {
			evicted = append(evicted, id)
			delete(s.markers, id)
		}
	}
	s.mu.Unlock()

	if s.renderer != nil {
		for _, id := range evicted {
			s.renderer.RemoveMarker(id)
		}
	}
	return evicted
}
