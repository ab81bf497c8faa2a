// Package sharing owns the "share my location" lifecycle: it persists the
// sharing flag to the remote store, drives the sampling controller's
// high-accuracy mode, and retries transient failures with a bounded,
// fixed-delay backoff.
package sharing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pinmesh/peerloc/internal/model"
)

// ErrPermissionDenied marks remote failures caused by missing backend
// permissions, usually a misconfigured access rule. Callers render these as
// warnings rather than errors.
var ErrPermissionDenied = errors.New("remote permission denied")

// ErrRetryExhausted is returned once the retry budget is spent; only an
// explicit user-initiated start clears it.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// Store is the remote sharing persistence collaborator.
type Store interface {
	// SetSharing persists the sharing flag; lat/lng accompany an enable.
	SetSharing(ctx context.Context, enabled bool, lat, lng *float64) error
	// GetSharing reads the persisted flag.
	GetSharing(ctx context.Context) (bool, error)
}

// Sampler is the slice of the sampling controller the machine drives.
type Sampler interface {
	SetHighAccuracy(enabled bool)
	Current(ctx context.Context) (model.PositionReading, bool)
}

// Severity grades notifications for UI rendering.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Notification is a fire-and-forget point-in-time event for transient UI
// feedback. It is not part of persisted state.
type Notification struct {
	Severity Severity
	Message  string
}

// Config holds the machine's tunables.
type Config struct {
	MaxRetries    int
	RetryDelay    time.Duration
	RemoteTimeout time.Duration
}

// DefaultConfig returns production defaults: 3 attempts, fixed 2 s delay.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		RetryDelay:    2 * time.Second,
		RemoteTimeout: 10 * time.Second,
	}
}

// Machine is the sharing state machine. All transitions are serialized:
// calls that arrive while a transition is in flight are no-ops, never queued.
type Machine struct {
	cfg     Config
	store   Store
	sampler Sampler
	log     *slog.Logger

	mu          sync.Mutex
	status      model.SharingStatus
	startedAtMs int64
	lastError   string
	retryCount  int

	notifications chan Notification

	// now and sleep are injectable for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a Machine in the Inactive state.
func New(cfg Config, store Store, sampler Sampler, log *slog.Logger) *Machine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = DefaultConfig().RemoteTimeout
	}
	return &Machine{
		cfg:           cfg,
		store:         store,
		sampler:       sampler,
		log:           log,
		status:        model.SharingInactive,
		notifications: make(chan Notification, 8),
		now:           time.Now,
		sleep:         time.Sleep,
	}
}

// Snapshot returns a read-only projection of the machine's state.
func (m *Machine) Snapshot() model.SharingSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.SharingSnapshot{
		Status:      m.status,
		StartedAtMs: m.startedAtMs,
		LastError:   m.lastError,
		RetryCount:  m.retryCount,
	}
}

// Notifications returns the transient event stream. Events are dropped when
// nobody listens.
func (m *Machine) Notifications() <-chan Notification {
	return m.notifications
}

// Start transitions Inactive/Error to Active through Starting: it enables
// high-accuracy sampling, reads one current position, and persists the
// sharing flag remotely. A failure lands in Error with the retry count
// incremented.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	switch m.status {
	case model.SharingStarting, model.SharingStopping:
		// A transition is already in flight; never queue a second one.
		m.mu.Unlock()
		return nil
	case model.SharingActive:
		m.mu.Unlock()
		return nil
	}
	m.status = model.SharingStarting
	m.mu.Unlock()

	m.sampler.SetHighAccuracy(true)

	var lat, lng *float64
	if r, ok := m.sampler.Current(ctx); ok {
		lat = &r.Latitude
		lng = &r.Longitude
	}

	rctx, cancel := context.WithTimeout(ctx, m.cfg.RemoteTimeout)
	err := m.store.SetSharing(rctx, true, lat, lng)
	cancel()

	if err != nil {
		m.failStart(err)
		return err
	}

	m.mu.Lock()
	m.status = model.SharingActive
	m.startedAtMs = m.now().UnixMilli()
	m.lastError = ""
	m.retryCount = 0
	m.mu.Unlock()

	m.log.Info("location sharing started")
	m.notify(Notification{Severity: SeverityInfo, Message: "Location sharing is on"})
	return nil
}

func (m *Machine) failStart(err error) {
	m.mu.Lock()
	m.status = model.SharingError
	m.lastError = err.Error()
	m.mu.Unlock()

	m.sampler.SetHighAccuracy(false)

	sev := SeverityError
	if errors.Is(err, ErrPermissionDenied) {
		// Permission failures point at a backend rule misconfiguration.
		sev = SeverityWarning
	}
	m.log.Error("failed to start sharing", "error", err, "severity", sev.String())
	m.notify(Notification{Severity: sev, Message: "Could not start location sharing"})
}

// Stop transitions Active/Error to Inactive through Stopping by clearing the
// remote sharing flag.
func (m *Machine) Stop(ctx context.Context) error {
	m.mu.Lock()
	switch m.status {
	case model.SharingStarting, model.SharingStopping:
		m.mu.Unlock()
		return nil
	case model.SharingInactive:
		m.mu.Unlock()
		return nil
	}
	m.status = model.SharingStopping
	m.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, m.cfg.RemoteTimeout)
	err := m.store.SetSharing(rctx, false, nil, nil)
	cancel()

	if err != nil {
		m.mu.Lock()
		m.status = model.SharingError
		m.lastError = err.Error()
		m.mu.Unlock()

		sev := SeverityError
		if errors.Is(err, ErrPermissionDenied) {
			sev = SeverityWarning
		}
		m.log.Error("failed to stop sharing", "error", err, "severity", sev.String())
		m.notify(Notification{Severity: sev, Message: "Could not stop location sharing"})
		return err
	}

	m.mu.Lock()
	m.status = model.SharingInactive
	m.startedAtMs = 0
	m.lastError = ""
	m.mu.Unlock()

	m.sampler.SetHighAccuracy(false)

	m.log.Info("location sharing stopped")
	m.notify(Notification{Severity: SeverityInfo, Message: "Location sharing is off"})
	return nil
}

// Toggle dispatches to Start or Stop based on the current state. Calls
// during Starting/Stopping are no-op successes.
func (m *Machine) Toggle(ctx context.Context) error {
	m.mu.Lock()
	status := m.status
	m.mu.Unlock()

	switch status {
	case model.SharingActive:
		return m.Stop(ctx)
	case model.SharingInactive, model.SharingError:
		return m.Start(ctx)
	default:
		return nil
	}
}

// Retry re-attempts Start after the fixed retry delay. Once the retry budget
// is spent it refuses with ErrRetryExhausted and performs no remote write.
func (m *Machine) Retry(ctx context.Context) error {
	m.mu.Lock()
	if m.status != model.SharingError {
		m.mu.Unlock()
		return nil
	}
	if m.retryCount >= m.cfg.MaxRetries {
		m.mu.Unlock()
		m.log.Warn("sharing retry refused, budget exhausted", "retries", m.cfg.MaxRetries)
		return ErrRetryExhausted
	}
	m.retryCount++
	m.mu.Unlock()

	m.sleep(m.cfg.RetryDelay)
	return m.Start(ctx)
}

// Publish persists the current position while sharing is active. Readings
// that arrive in any other state are ignored.
func (m *Machine) Publish(ctx context.Context, r model.PositionReading) error {
	m.mu.Lock()
	if m.status != model.SharingActive {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, m.cfg.RemoteTimeout)
	defer cancel()
	if err := m.store.SetSharing(rctx, true, &r.Latitude, &r.Longitude); err != nil {
		// Publish failures are transient; the machine stays Active and the
		// next reading retries naturally.
		m.log.Warn("failed to publish position", "error", err)
		return err
	}
	return nil
}

func (m *Machine) notify(n Notification) {
	select {
	case m.notifications <- n:
	default:
	}
}
