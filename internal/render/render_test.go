package render

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinmesh/peerloc/internal/model"
)

func marker(peerID string, lat, lng float64) model.MarkerState {
	return model.MarkerState{
		PeerID:      peerID,
		DisplayName: peerID,
		Location:    model.PositionReading{Latitude: lat, Longitude: lng, AccuracyM: 10},
		Visible:     true,
	}
}

func TestLogRenderer_UpsertAndRemove(t *testing.T) {
	r := NewLogRenderer(slog.Default())

	r.UpsertMarker(marker("p1", 37.5, -122.25))
	r.UpsertMarker(marker("p2", 48.85, 2.35))
	assert.Equal(t, 2, r.Count())

	r.UpsertMarker(marker("p1", 37.6, -122.25))
	assert.Equal(t, 2, r.Count())

	r.RemoveMarker("p1")
	assert.Equal(t, 1, r.Count())

	r.RemoveMarker("missing")
	assert.Equal(t, 1, r.Count())
}

func TestLogRenderer_Center(t *testing.T) {
	r := NewLogRenderer(slog.Default())

	_, _, ok := r.Center()
	assert.False(t, ok)

	r.UpsertMarker(marker("p1", 10, 20))
	r.UpsertMarker(marker("p2", 30, 40))

	lat, lng, ok := r.Center()
	require.True(t, ok)
	assert.InDelta(t, 20, lat, 1e-9)
	assert.InDelta(t, 30, lng, 1e-9)
}

func TestLogRenderer_OutOfBoundsStillTracked(t *testing.T) {
	r := NewLogRenderer(slog.Default())

	// Unprojectable positions are logged but the marker stays tracked so a
	// later valid update replaces it in place.
	r.UpsertMarker(marker("p1", 95, 200))
	assert.Equal(t, 1, r.Count())
}

type countingRenderer struct {
	upserts int
	removes int
}

func (c *countingRenderer) UpsertMarker(model.MarkerState) { c.upserts++ }
func (c *countingRenderer) RemoveMarker(string)            { c.removes++ }

func TestMulti_FansOut(t *testing.T) {
	a := &countingRenderer{}
	b := &countingRenderer{}
	m := NewMulti(a, nil, b)

	m.UpsertMarker(marker("p1", 37.5, -122.25))
	m.UpsertMarker(marker("p2", 48.85, 2.35))
	m.RemoveMarker("p1")

	assert.Equal(t, 2, a.upserts)
	assert.Equal(t, 2, b.upserts)
	assert.Equal(t, 1, a.removes)
	assert.Equal(t, 1, b.removes)
}
