// internal/render/render.go
package render

import (
	"log/slog"
	"sync"

	"github.com/pinmesh/peerloc/internal/geo"
	"github.com/pinmesh/peerloc/internal/markers"
	"github.com/pinmesh/peerloc/internal/model"
)

// LogRenderer is the headless map surface. It tracks the markers a real map
// layer would draw and logs each change with the projected tile coordinates.
type LogRenderer struct {
	log *slog.Logger

	mu      sync.RWMutex
	markers map[string]model.MarkerState
}

// NewLogRenderer creates a renderer logging marker changes to log.
func NewLogRenderer(log *slog.Logger) *LogRenderer {
	return &LogRenderer{
		log:     log,
		markers: make(map[string]model.MarkerState),
	}
}

// UpsertMarker draws or moves a peer marker.
func (r *LogRenderer) UpsertMarker(m model.MarkerState) {
	r.mu.Lock()
	r.markers[m.PeerID] = m
	r.mu.Unlock()

	// Map tiles address positions in web mercator.
	point, err := geo.Coords3857From4326(m.Location.Longitude, m.Location.Latitude)
	if err != nil {
		r.log.Warn("marker outside projectable bounds",
			"peer", m.PeerID,
			"lat", m.Location.Latitude,
			"lng", m.Location.Longitude,
		)
		return
	}
	xy, _ := point.XY()
	r.log.Debug("marker upserted",
		"peer", m.PeerID,
		"name", m.DisplayName,
		"x", xy.X,
		"y", xy.Y,
		"accuracy_m", m.Location.AccuracyM,
	)
}

// RemoveMarker erases a peer marker.
func (r *LogRenderer) RemoveMarker(peerID string) {
	r.mu.Lock()
	delete(r.markers, peerID)
	r.mu.Unlock()

	r.log.Debug("marker removed", "peer", peerID)
}

// Count reports the number of markers currently drawn.
func (r *LogRenderer) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markers)
}

// Center returns the centroid of the drawn markers, for camera framing.
// ok is false when nothing is drawn.
func (r *LogRenderer) Center() (lat, lng float64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.markers) == 0 {
		return 0, 0, false
	}
	for _, m := range r.markers {
		lat += m.Location.Latitude
		lng += m.Location.Longitude
	}
	n := float64(len(r.markers))
	return lat / n, lng / n, true
}

// Multi fans marker changes out to several render surfaces, letting the map
// layer and the journal observe the same stream.
type Multi struct {
	renderers []markers.Renderer
}

// NewMulti creates a fan-out renderer. Nil entries are skipped.
func NewMulti(renderers ...markers.Renderer) *Multi {
	kept := make([]markers.Renderer, 0, len(renderers))
	for _, r := range renderers {
		if r != nil {
			kept = append(kept, r)
		}
	}
	return &Multi{renderers: kept}
}

func (m *Multi) UpsertMarker(state model.MarkerState) {
	for _, r := range m.renderers {
		r.UpsertMarker(state)
	}
}

func (m *Multi) RemoveMarker(peerID string) {
	for _, r := range m.renderers {
		r.RemoveMarker(peerID)
	}
}
