// Package model holds the domain types shared across the location pipeline.
package model

import "time"

// PositionReading is a single sample from a position source.
// Altitude and speed are optional; their Has* flags indicate presence.
// Readings are transient: they are validated, used for derivation and
// marker updates, and never persisted raw.
type PositionReading struct {
	Latitude     float64
	Longitude    float64
	AccuracyM    float32
	AltitudeM    float64
	HasAltitude  bool
	SpeedMS      float32
	HasSpeed     bool
	CapturedAtMs int64
}

// CapturedAt returns the capture timestamp as a time.Time.
func (r PositionReading) CapturedAt() time.Time {
	return time.UnixMilli(r.CapturedAtMs)
}

// MotionClass classifies the device's movement derived from consecutive readings.
type MotionClass int

const (
	MotionStationary MotionClass = iota
	MotionMoving
	MotionFastMoving
)

func (m MotionClass) String() string {
	switch m {
	case MotionStationary:
		return "stationary"
	case MotionMoving:
		return "moving"
	case MotionFastMoving:
		return "fast_moving"
	default:
		return "unknown"
	}
}

// Priority is the urgency requested from the platform position source.
type Priority int

const (
	PriorityLowPower Priority = iota
	PriorityBalanced
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLowPower:
		return "low_power"
	case PriorityBalanced:
		return "balanced"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// SamplingPolicy is the (interval, priority) pair governing how often and how
// urgently the device polls its own position. Derived, never persisted.
type SamplingPolicy struct {
	IntervalMs int64
	Priority   Priority
}

// Interval returns the polling interval as a time.Duration.
func (p SamplingPolicy) Interval() time.Duration {
	return time.Duration(p.IntervalMs) * time.Millisecond
}

// SharingStatus is the lifecycle state of the "share my location" feature.
type SharingStatus int

const (
	SharingInactive SharingStatus = iota
	SharingStarting
	SharingActive
	SharingStopping
	SharingError
)

func (s SharingStatus) String() string {
	switch s {
	case SharingInactive:
		return "inactive"
	case SharingStarting:
		return "starting"
	case SharingActive:
		return "active"
	case SharingStopping:
		return "stopping"
	case SharingError:
		return "error"
	default:
		return "unknown"
	}
}

// SharingSnapshot is a read-only projection of the sharing state machine,
// safe to hand to observers.
type SharingSnapshot struct {
	Status      SharingStatus
	StartedAtMs int64
	LastError   string
	RetryCount  int
}

// MarkerState is the last known state of a peer's marker on the map,
// keyed by PeerID. Owned exclusively by the marker store.
type MarkerState struct {
	PeerID        string
	DisplayName   string
	Location      PositionReading
	Visible       bool
	LastUpdatedMs int64
}
