package sampling

import (
	"time"

	"github.com/pinmesh/peerloc/internal/model"
)

// Polling intervals per priority tier, in milliseconds.
const (
	intervalHighFastMs   = 1000
	intervalHighMs       = 2000
	intervalMovingMs     = 2000
	intervalStationaryMs = 5000
	intervalLowPowerMs   = 10000
)

// Config holds the controller's tunables. Every threshold is a config knob;
// the defaults mirror production behavior.
type Config struct {
	// MinDistanceM is the displacement below which consecutive emissions are
	// suppressed, and also the movement threshold for motion classification.
	MinDistanceM float64
	// LivenessInterval bounds suppression: at least one emission per window
	// while readings arrive.
	LivenessInterval time.Duration
	// PolicyCooldown is the minimum time between committed policy changes.
	PolicyCooldown time.Duration
	// IntervalTolerance is the interval delta below which a derived policy is
	// considered unchanged.
	IntervalTolerance time.Duration
	// OneShotTimeout bounds one-shot current-position fetches.
	OneShotTimeout time.Duration
	// StreamBuffer is the emission channel capacity.
	StreamBuffer int

	LowBatteryPct      int
	CriticalBatteryPct int

	// StationaryAfter is how long without movement before the device is
	// classified stationary.
	StationaryAfter time.Duration
	MovingSpeedMS   float64
	FastSpeedMS     float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinDistanceM:       5,
		LivenessInterval:   30 * time.Second,
		PolicyCooldown:     30 * time.Second,
		IntervalTolerance:  2 * time.Second,
		OneShotTimeout:     8 * time.Second,
		StreamBuffer:       16,
		LowBatteryPct:      20,
		CriticalBatteryPct: 10,
		StationaryAfter:    30 * time.Second,
		MovingSpeedMS:      1,
		FastSpeedMS:        10,
	}
}

// derivePolicy computes the sampling policy for the current battery, motion
// and accuracy inputs. Battery floors win over a high-accuracy request
// unless the device is charging.
func derivePolicy(cfg Config, batteryPct int, charging bool, motion model.MotionClass, highAccuracy bool) model.SamplingPolicy {
	if !charging {
		if batteryPct < cfg.CriticalBatteryPct {
			// Critical battery doubles the low-power interval.
			return model.SamplingPolicy{IntervalMs: intervalLowPowerMs * 2, Priority: model.PriorityLowPower}
		}
		if batteryPct < cfg.LowBatteryPct {
			return balancedPolicy(motion)
		}
	}
	if highAccuracy {
		if motion == model.MotionFastMoving {
			return model.SamplingPolicy{IntervalMs: intervalHighFastMs, Priority: model.PriorityHigh}
		}
		return model.SamplingPolicy{IntervalMs: intervalHighMs, Priority: model.PriorityHigh}
	}
	return balancedPolicy(motion)
}

func balancedPolicy(motion model.MotionClass) model.SamplingPolicy {
	if motion == model.MotionStationary {
		return model.SamplingPolicy{IntervalMs: intervalStationaryMs, Priority: model.PriorityBalanced}
	}
	return model.SamplingPolicy{IntervalMs: intervalMovingMs, Priority: model.PriorityBalanced}
}

// policyGovernor applies hysteresis to derived policies so the platform
// request is not restarted on every flicker of battery or motion state.
type policyGovernor struct {
	cfg        Config
	active     model.SamplingPolicy
	hasActive  bool
	lastCommit time.Time
}

// Commit installs the derived policy if it meaningfully differs from the
// active one and the cooldown window has passed. It reports whether the
// policy changed.
func (g *policyGovernor) Commit(p model.SamplingPolicy, now time.Time) bool {
	if !g.hasActive {
		g.active = p
		g.hasActive = true
		g.lastCommit = now
		return true
	}
	if !g.differs(p) {
		return false
	}
	if now.Sub(g.lastCommit) < g.cfg.PolicyCooldown {
		return false
	}
	g.active = p
	g.lastCommit = now
	return true
}

func (g *policyGovernor) differs(p model.SamplingPolicy) bool {
	if p.Priority != g.active.Priority {
		return true
	}
	delta := p.IntervalMs - g.active.IntervalMs
	if delta < 0 {
		delta = -delta
	}
	return time.Duration(delta)*time.Millisecond > g.cfg.IntervalTolerance
}

// Active returns the committed policy.
func (g *policyGovernor) Active() model.SamplingPolicy {
	return g.active
}
