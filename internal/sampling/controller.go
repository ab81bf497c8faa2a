// Package sampling produces a deduplicated stream of validated position
// readings while continuously tuning the platform polling request to battery
// and motion state.
package sampling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pinmesh/peerloc/internal/channel"
	"github.com/pinmesh/peerloc/internal/geo"
	"github.com/pinmesh/peerloc/internal/model"
	"github.com/pinmesh/peerloc/internal/validate"
)

// ErrPermissionDenied is returned by position sources when location access
// is not granted. It is terminal for the session: the stream closes and the
// caller must re-request permission out of band.
var ErrPermissionDenied = errors.New("location permission denied")

// PositionSource is the platform location collaborator.
type PositionSource interface {
	// RequestUpdates starts a subscription at the given priority and interval.
	// Cancelling ctx must stop the subscription and close the channel.
	RequestUpdates(ctx context.Context, priority model.Priority, interval time.Duration) (<-chan model.PositionReading, error)
	// LastKnown returns the platform's cached position, if any.
	LastKnown(ctx context.Context) (model.PositionReading, bool)
}

// PowerSource reports battery state.
type PowerSource interface {
	BatteryPercent() int
	IsCharging() bool
}

// Controller owns the local position feed. Construct with New, drive with
// Run, consume via Readings.
type Controller struct {
	cfg       Config
	source    PositionSource
	power     PowerSource
	validator *validate.Validator
	log       *slog.Logger

	out           *channel.Buffered[model.PositionReading]
	policyChanges metric.Int64Counter

	mu          sync.Mutex
	governor    policyGovernor
	motion      motionTracker
	high        bool
	lastEmit    model.PositionReading
	hasEmit     bool
	lastEmitAt  time.Time
	lastReading model.PositionReading
	hasReading  bool
	restart     context.CancelFunc
	err         error

	// now is injectable for tests; defaults to time.Now.
	now func() time.Time
}

// New creates a Controller. Run must be called before Readings yields data.
func New(cfg Config, source PositionSource, power PowerSource, validator *validate.Validator, log *slog.Logger) (*Controller, error) {
	c := &Controller{
		cfg:       cfg,
		source:    source,
		power:     power,
		validator: validator,
		log:       log,
		out:       channel.NewBuffered[model.PositionReading](cfg.StreamBuffer),
		governor:  policyGovernor{cfg: cfg},
		motion:    motionTracker{cfg: cfg},
		now:       time.Now,
	}

	var err error
	c.policyChanges, err = meter().Int64Counter(
		"sampling.policy.changes",
		metric.WithDescription("Total committed sampling policy changes"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating policy change counter: %w", err)
	}

	return c, nil
}

// Readings returns the deduplicated stream of validated readings. The
// channel closes when Run returns.
func (c *Controller) Readings() <-chan model.PositionReading {
	return c.out.Receive()
}

// Err returns the terminal error, if any, after the stream closed.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// ActivePolicy returns the committed sampling policy.
func (c *Controller) ActivePolicy() model.SamplingPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.governor.Active()
}

// Motion returns the current motion classification.
func (c *Controller) Motion() model.MotionClass {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.motion.class
}

// SetHighAccuracy toggles forced High priority, still subject to the battery
// floor. The change takes effect per the hysteresis rules: immediately when
// allowed, otherwise at the next reading outside the cooldown window.
func (c *Controller) SetHighAccuracy(enabled bool) {
	c.mu.Lock()
	if c.high == enabled {
		c.mu.Unlock()
		return
	}
	c.high = enabled
	committed, restart := c.rederiveLocked()
	c.mu.Unlock()

	if committed {
		c.log.Info("high accuracy mode changed", "enabled", enabled, "policy", c.ActivePolicy().Priority.String())
		if restart != nil {
			restart()
		}
	}
}

// rederiveLocked derives a fresh policy from current inputs and attempts a
// commit. Caller holds the lock. Returns whether a commit happened and the
// cancel func to restart the subscription with.
func (c *Controller) rederiveLocked() (bool, context.CancelFunc) {
	p := derivePolicy(c.cfg, c.power.BatteryPercent(), c.power.IsCharging(), c.motion.class, c.high)
	if !c.governor.Commit(p, c.now()) {
		return false, nil
	}
	return true, c.restart
}

// Run drives the subscription loop until ctx is cancelled or permission is
// denied. The readings channel closes when Run returns.
func (c *Controller) Run(ctx context.Context) error {
	defer c.out.Close()

	// Seed the initial policy before the first subscription.
	c.mu.Lock()
	seed := derivePolicy(c.cfg, c.power.BatteryPercent(), c.power.IsCharging(), c.motion.class, c.high)
	c.governor.Commit(seed, c.now())
	c.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		policy := c.ActivePolicy()
		subCtx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.restart = cancel
		c.mu.Unlock()

		stream, err := c.source.RequestUpdates(subCtx, policy.Priority, policy.Interval())
		if err != nil {
			cancel()
			if errors.Is(err, ErrPermissionDenied) {
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
				c.log.Warn("position permission denied, closing stream")
				return err
			}
			// Transient platform failure: keep the stream open, try again next tick.
			c.log.Error("position subscription failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(policy.Interval()):
			}
			continue
		}

		c.log.Debug("position subscription started",
			"priority", policy.Priority.String(), "intervalMs", policy.IntervalMs)
		c.consume(ctx, stream)
		// Always cancel the old subscription before starting the next one so
		// there is never more than one physical location session.
		cancel()
	}
}

func (c *Controller) consume(ctx context.Context, stream <-chan model.PositionReading) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-stream:
			if !ok {
				return
			}
			c.handleReading(ctx, r)
		}
	}
}

func (c *Controller) handleReading(ctx context.Context, r model.PositionReading) {
	report := c.validator.Validate(r)
	if !report.Valid() {
		c.log.Debug("dropping invalid reading", "errors", len(report.Errors))
		return
	}

	c.mu.Lock()
	now := c.now()
	c.lastReading = r
	c.hasReading = true
	c.motion.Classify(r, now)

	committed, restart := c.rederiveLocked()
	policy := c.governor.Active()

	emit := !c.hasEmit
	if !emit {
		d := geo.DistanceMeters(c.lastEmit.Latitude, c.lastEmit.Longitude, r.Latitude, r.Longitude)
		emit = d >= c.cfg.MinDistanceM || now.Sub(c.lastEmitAt) >= c.cfg.LivenessInterval
	}
	if emit {
		c.lastEmit = r
		c.hasEmit = true
		c.lastEmitAt = now
	}
	c.mu.Unlock()

	if emit {
		// Slow consumers lose readings rather than stalling the controller.
		if !c.out.TrySend(r) {
			c.log.Debug("reading dropped, consumer not keeping up")
		}
	}

	if committed {
		c.policyChanges.Add(ctx, 1,
			metric.WithAttributes(attribute.String("priority", policy.Priority.String())))
		c.log.Info("sampling policy changed",
			"priority", policy.Priority.String(), "intervalMs", policy.IntervalMs)
		if restart != nil {
			restart()
		}
	}
}

// Current returns the last known reading, or performs a single bounded
// high-priority fetch when none is cached. Returns false on timeout rather
// than hanging.
func (c *Controller) Current(ctx context.Context) (model.PositionReading, bool) {
	c.mu.Lock()
	if c.hasReading {
		r := c.lastReading
		c.mu.Unlock()
		return r, true
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.OneShotTimeout)
	defer cancel()

	if r, ok := c.source.LastKnown(ctx); ok && c.validator.Validate(r).Valid() {
		c.storeReading(r)
		return r, true
	}

	// One-shot high-priority request, first valid reading wins.
	stream, err := c.source.RequestUpdates(ctx, model.PriorityHigh, time.Second)
	if err != nil {
		c.log.Error("one-shot position fetch failed", "error", err)
		return model.PositionReading{}, false
	}
	for {
		select {
		case <-ctx.Done():
			return model.PositionReading{}, false
		case r, ok := <-stream:
			if !ok {
				return model.PositionReading{}, false
			}
			if c.validator.Validate(r).Valid() {
				c.storeReading(r)
				return r, true
			}
		}
	}
}

func (c *Controller) storeReading(r model.PositionReading) {
	c.mu.Lock()
	c.lastReading = r
	c.hasReading = true
	c.mu.Unlock()
}
