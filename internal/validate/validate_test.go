package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinmesh/peerloc/internal/model"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestValidator() *Validator {
	v := New()
	v.Now = func() time.Time { return testNow }
	return v
}

func goodReading() model.PositionReading {
	return model.PositionReading{
		Latitude:     52.52,
		Longitude:    13.405,
		AccuracyM:    12,
		CapturedAtMs: testNow.Add(-time.Minute).UnixMilli(),
	}
}

func TestValidate_GoodReading(t *testing.T) {
	v := newTestValidator()

	report := v.Validate(goodReading())

	assert.True(t, report.Valid())
	assert.Empty(t, report.Errors)
}

func TestValidate_BoundaryCoordinatesPass(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name     string
		lat, lon float64
	}{
		{"north pole", 90, 13.405},
		{"south pole", -90, 13.405},
		{"date line east", 52.52, 180},
		{"date line west", 52.52, -180},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := goodReading()
			r.Latitude = tt.lat
			r.Longitude = tt.lon
			assert.True(t, v.Validate(r).Valid())
		})
	}
}

func TestValidate_OutOfRangeCoordinates(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name     string
		lat, lon float64
		field    string
	}{
		{"lat too high", 90.01, 13.405, "latitude"},
		{"lat too low", -91, 13.405, "latitude"},
		{"lon too high", 52.52, 180.5, "longitude"},
		{"lon too low", 52.52, -181, "longitude"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := goodReading()
			r.Latitude = tt.lat
			r.Longitude = tt.lon
			report := v.Validate(r)
			require.False(t, report.Valid())
			assert.Equal(t, tt.field, report.Errors[0].Field)
		})
	}
}

func TestValidate_NullIsland(t *testing.T) {
	v := newTestValidator()

	r := goodReading()
	r.Latitude = 0.0003
	r.Longitude = -0.0007

	report := v.Validate(r)
	require.False(t, report.Valid())
	assert.Equal(t, "coordinates", report.Errors[0].Field)
}

func TestValidate_NearNullIslandButValid(t *testing.T) {
	v := newTestValidator()

	// Just outside the epsilon on one axis.
	r := goodReading()
	r.Latitude = 0.002
	r.Longitude = 0.0

	assert.True(t, v.Validate(r).Valid())
}

func TestValidate_Timestamps(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name       string
		capturedAt time.Time
		valid      bool
	}{
		{"fresh", testNow.Add(-time.Second), true},
		{"future", testNow.Add(time.Minute), false},
		{"too old", testNow.Add(-2 * time.Hour), false},
		{"before epoch sentinel", time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := goodReading()
			r.CapturedAtMs = tt.capturedAt.UnixMilli()
			assert.Equal(t, tt.valid, v.Validate(r).Valid())
		})
	}
}

func TestValidate_Altitude(t *testing.T) {
	v := newTestValidator()

	r := goodReading()
	r.HasAltitude = true
	r.AltitudeM = 12000
	report := v.Validate(r)
	require.False(t, report.Valid())
	assert.Equal(t, "altitude", report.Errors[0].Field)

	r.AltitudeM = 8848
	assert.True(t, v.Validate(r).Valid())

	// Altitude absent: bound not applied.
	r.HasAltitude = false
	r.AltitudeM = 99999
	assert.True(t, v.Validate(r).Valid())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	v := newTestValidator()

	r := model.PositionReading{
		Latitude:     95,
		Longitude:    200,
		AccuracyM:    -1,
		CapturedAtMs: testNow.Add(time.Hour).UnixMilli(),
	}

	report := v.Validate(r)
	require.False(t, report.Valid())
	// lat, lon, accuracy, timestamp: all reported, none short-circuited.
	assert.Len(t, report.Errors, 4)
}

func TestValidate_Totality(t *testing.T) {
	v := newTestValidator()

	// Hostile inputs must produce a report, never a panic.
	readings := []model.PositionReading{
		{},
		{Latitude: -1e300, Longitude: 1e300, AccuracyM: -1e30},
		{CapturedAtMs: -1 << 62},
		{CapturedAtMs: 1 << 62},
	}
	for _, r := range readings {
		report := v.Validate(r)
		assert.False(t, report.Valid())
		assert.NotEmpty(t, report.Errors)
	}
}

func TestValidateBatch(t *testing.T) {
	v := newTestValidator()

	bad := goodReading()
	bad.Latitude = 120

	b := v.ValidateBatch([]model.PositionReading{goodReading(), bad, goodReading(), bad})

	assert.Len(t, b.Valid, 2)
	assert.Len(t, b.Invalid, 2)
	assert.InDelta(t, 0.5, b.ValidityRate(), 1e-9)
}

func TestValidateBatch_Empty(t *testing.T) {
	v := newTestValidator()

	b := v.ValidateBatch(nil)

	assert.Empty(t, b.Valid)
	assert.Empty(t, b.Invalid)
	assert.Equal(t, 1.0, b.ValidityRate())
}
