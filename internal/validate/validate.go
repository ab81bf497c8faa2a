// Package validate sanitizes raw position readings before they enter the
// pipeline. The validator is pure and safe for concurrent use; all failing
// checks are collected so callers see the complete picture, not just the
// first failure.
package validate

import (
	"fmt"
	"time"

	"github.com/pinmesh/peerloc/internal/model"
)

// FieldError describes a single failed check on a reading.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Report is the outcome of validating one reading.
type Report struct {
	Reading model.PositionReading
	Errors  []FieldError
}

// Valid reports whether the reading passed every check.
func (r Report) Valid() bool {
	return len(r.Errors) == 0
}

// BatchReport splits a batch of readings into valid and invalid sets.
type BatchReport struct {
	Valid   []model.PositionReading
	Invalid []Report
}

// ValidityRate returns the fraction of readings that passed, in [0,1].
// An empty batch has a rate of 1.
func (b BatchReport) ValidityRate() float64 {
	total := len(b.Valid) + len(b.Invalid)
	if total == 0 {
		return 1
	}
	return float64(len(b.Valid)) / float64(total)
}

// Validator holds the tunable bounds for reading checks.
type Validator struct {
	MaxAccuracyM      float64
	MaxAge            time.Duration
	EpochSentinel     time.Time
	MinAltitudeM      float64
	MaxAltitudeM      float64
	NullIslandEpsilon float64

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// New returns a Validator with production bounds.
func New() *Validator {
	return &Validator{
		MaxAccuracyM:      1000,
		MaxAge:            time.Hour,
		EpochSentinel:     time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		MinAltitudeM:      -500,
		MaxAltitudeM:      10000,
		NullIslandEpsilon: 0.001,
		Now:               time.Now,
	}
}

// Validate runs every check on the reading and returns a report with all
// failures. It never panics and never short-circuits.
func (v *Validator) Validate(r model.PositionReading) Report {
	var errs []FieldError

	if r.Latitude < -90 || r.Latitude > 90 {
		errs = append(errs, FieldError{"latitude", fmt.Sprintf("out of range [-90,90]: %f", r.Latitude)})
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		errs = append(errs, FieldError{"longitude", fmt.Sprintf("out of range [-180,180]: %f", r.Longitude)})
	}
	if r.AccuracyM < 0 || float64(r.AccuracyM) > v.MaxAccuracyM {
		errs = append(errs, FieldError{"accuracy", fmt.Sprintf("out of range [0,%.0f]: %f", v.MaxAccuracyM, r.AccuracyM)})
	}

	now := v.Now()
	captured := r.CapturedAt()
	switch {
	case captured.After(now):
		errs = append(errs, FieldError{"capturedAt", "timestamp is in the future"})
	case captured.Before(v.EpochSentinel):
		errs = append(errs, FieldError{"capturedAt", "timestamp predates epoch sentinel"})
	case now.Sub(captured) > v.MaxAge:
		errs = append(errs, FieldError{"capturedAt", fmt.Sprintf("reading older than %s", v.MaxAge)})
	}

	if r.HasAltitude && (r.AltitudeM < v.MinAltitudeM || r.AltitudeM > v.MaxAltitudeM) {
		errs = append(errs, FieldError{"altitude", fmt.Sprintf("out of range [%.0f,%.0f]: %f", v.MinAltitudeM, v.MaxAltitudeM, r.AltitudeM)})
	}

	// (0,0) is the null-island sentinel produced by uninitialized hardware.
	if absf(r.Latitude) < v.NullIslandEpsilon && absf(r.Longitude) < v.NullIslandEpsilon {
		errs = append(errs, FieldError{"coordinates", "null island (0,0) rejected"})
	}

	return Report{Reading: r, Errors: errs}
}

// ValidateBatch validates a slice of readings and partitions the results.
func (v *Validator) ValidateBatch(readings []model.PositionReading) BatchReport {
	var b BatchReport
	for _, r := range readings {
		report := v.Validate(r)
		if report.Valid() {
			b.Valid = append(b.Valid, r)
		} else {
			b.Invalid = append(b.Invalid, report)
		}
	}
	return b
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
