package geo

import (
	"errors"
	"math"
	"testing"
)

func TestDistanceMeters_SamePoint(t *testing.T) {
	d := DistanceMeters(52.52, 13.405, 52.52, 13.405)
	if d != 0 {
		t.Errorf("expected 0 distance, got %f", d)
	}
}

func TestDistanceMeters_KnownDistance(t *testing.T) {
	// One degree of latitude is ~111.2 km.
	d := DistanceMeters(37.0, -122.0, 38.0, -122.0)
	if math.Abs(d-111195) > 300 {
		t.Errorf("expected ~111195 m, got %f", d)
	}
}

func TestDistanceMeters_SmallDisplacement(t *testing.T) {
	// 0.001 degrees of latitude is ~111 m.
	d := DistanceMeters(37.0000, -122.0, 37.0010, -122.0)
	if math.Abs(d-111.2) > 1 {
		t.Errorf("expected ~111 m, got %f", d)
	}
}

func TestInBounds(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"origin", 0, 0, true},
		{"boundary lat", 90, 0, true},
		{"boundary lon", 0, -180, true},
		{"lat too high", 90.1, 0, false},
		{"lon too low", 0, -180.5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InBounds(tt.lat, tt.lon); got != tt.want {
				t.Errorf("InBounds(%f, %f) = %v, want %v", tt.lat, tt.lon, got, tt.want)
			}
		})
	}
}

func TestCoords3857From4326_Origin(t *testing.T) {
	point, err := Coords3857From4326(0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	coords, ok := point.Coordinates()
	if !ok {
		t.Fatal("expected valid coordinates")
	}
	if math.Abs(coords.X) > 0.001 || math.Abs(coords.Y) > 0.001 {
		t.Errorf("expected origin to project to (0,0), got (%f, %f)", coords.X, coords.Y)
	}
}

func TestCoords3857From4326_Known(t *testing.T) {
	// 180 degrees of longitude projects to half the mercator circumference.
	point, err := Coords3857From4326(180, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	coords, ok := point.Coordinates()
	if !ok {
		t.Fatal("expected valid coordinates")
	}
	if math.Abs(coords.X-20037508.34) > 10 {
		t.Errorf("expected X~20037508, got %f", coords.X)
	}
}

func TestCoords3857From4326_OutOfBounds(t *testing.T) {
	_, err := Coords3857From4326(200, 95)
	if !errors.Is(err, ErrInvalidCoordinates) {
		t.Errorf("expected ErrInvalidCoordinates, got %v", err)
	}
}
