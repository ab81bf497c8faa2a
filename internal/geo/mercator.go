package geo

import (
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Map tiles are addressed in EPSG:3857 (web mercator), so marker positions
// handed to the render layer are projected from WGS84 first.

// Coords3857From4326 projects a WGS84 longitude/latitude pair into web
// mercator and returns it as a geometry point.
func Coords3857From4326(longitude, latitude float64) (geom.Point, error) {
	if !InBounds(latitude, longitude) {
		return geom.Point{}, ErrInvalidCoordinates
	}
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(longitude, latitude, 0)
	point, err := geom.NewPoint(
		geom.Coordinates{
			XY: geom.XY{X: x, Y: y},
		},
	)
	if err != nil {
		return geom.Point{}, err
	}
	return point, nil
}
