package sampling

import (
	"time"

	"github.com/pinmesh/peerloc/internal/geo"
	"github.com/pinmesh/peerloc/internal/model"
)

// motionTracker classifies device movement from consecutive readings using
// displacement-over-time and instantaneous speed.
type motionTracker struct {
	cfg       Config
	hasLast   bool
	lastLat   float64
	lastLon   float64
	lastMoved time.Time
	class     model.MotionClass
}

// Classify folds a reading into the tracker and returns the current class.
func (t *motionTracker) Classify(r model.PositionReading, now time.Time) model.MotionClass {
	moved := false
	if t.hasLast {
		d := geo.DistanceMeters(t.lastLat, t.lastLon, r.Latitude, r.Longitude)
		moved = d >= t.cfg.MinDistanceM
	} else {
		t.lastMoved = now
	}
	t.lastLat = r.Latitude
	t.lastLon = r.Longitude
	t.hasLast = true

	speed := float64(r.SpeedMS)

	switch {
	case r.HasSpeed && speed > t.cfg.FastSpeedMS:
		t.class = model.MotionFastMoving
		t.lastMoved = now
	case moved || (r.HasSpeed && speed > t.cfg.MovingSpeedMS):
		t.class = model.MotionMoving
		t.lastMoved = now
	case now.Sub(t.lastMoved) >= t.cfg.StationaryAfter:
		t.class = model.MotionStationary
	}
	// Otherwise keep the previous class until the stationary window elapses.

	return t.class
}
