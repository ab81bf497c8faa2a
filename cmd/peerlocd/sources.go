package main

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pinmesh/peerloc/internal/model"
)

// simulatedSource emits a random walk around an origin. It stands in for a
// platform location service when peerlocd runs headless.
type simulatedSource struct {
	mu   sync.Mutex
	lat  float64
	lng  float64
	last model.PositionReading
	has  bool
	rng  *rand.Rand
}

func newSimulatedSource(lat, lng float64) *simulatedSource {
	return &simulatedSource{
		lat: lat,
		lng: lng,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *simulatedSource) RequestUpdates(ctx context.Context, priority model.Priority, interval time.Duration) (<-chan model.PositionReading, error) {
	out := make(chan model.PositionReading, 4)

	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r := s.step(priority)
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *simulatedSource) LastKnown(ctx context.Context) (model.PositionReading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.has
}

// step advances the walk. Roughly 1e-5 deg is a meter of latitude.
func (s *simulatedSource) step(priority model.Priority) model.PositionReading {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lat += (s.rng.Float64() - 0.5) * 2e-4
	s.lng += (s.rng.Float64() - 0.5) * 2e-4

	accuracy := float32(5 + s.rng.Float64()*20)
	if priority == model.PriorityHigh {
		accuracy = float32(3 + s.rng.Float64()*5)
	}

	r := model.PositionReading{
		Latitude:     s.lat,
		Longitude:    s.lng,
		AccuracyM:    accuracy,
		SpeedMS:      float32(s.rng.Float64() * 3),
		HasSpeed:     true,
		CapturedAtMs: time.Now().UnixMilli(),
	}
	s.last = r
	s.has = true
	return r
}

// simulatedPower drains one percent per minute and recharges below ten.
type simulatedPower struct {
	mu       sync.Mutex
	pct      int
	charging bool
}

func newSimulatedPower(ctx context.Context) *simulatedPower {
	p := &simulatedPower{pct: 100}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.tick()
			}
		}
	}()

	return p
}

func (p *simulatedPower) tick() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.charging {
		p.pct += 5
		if p.pct >= 100 {
			p.pct = 100
			p.charging = false
		}
		return
	}
	p.pct--
	if p.pct <= 10 {
		p.charging = true
	}
}

func (p *simulatedPower) BatteryPercent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pct
}

func (p *simulatedPower) IsCharging() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.charging
}
