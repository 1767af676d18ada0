// Package geo implements the great-circle math behind proximity groups and
// radius alerts. Distance and tie-breaking live here rather than in SQL so they
// can be tested without a database.
package geo

import (
	"fmt"
	"math"

	"github.com/resqzone/server/internal/apperror"
)

// ErrInvalidCoordinate is returned for latitudes outside [-90, 90], longitudes
// outside [-180, 180], or non-finite values.
var ErrInvalidCoordinate = apperror.New(apperror.ErrInvalidCoordinate, "invalid coordinate")

// Point is a WGS84 position in degrees
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewPoint builds a validated point
func NewPoint(lat, lon float64) (Point, error) {
	p := Point{Latitude: lat, Longitude: lon}
	if err := p.Validate(); err != nil {
		return Point{}, err
	}
	return p, nil
}

// Validate checks that the point is on the globe
func (p Point) Validate() error {
	if !finite(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinate, p.Latitude)
	}
	if !finite(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinate, p.Longitude)
	}
	return nil
}

// Rounded returns the point rounded to the given number of decimals.
func (p Point) Rounded(decimals int) Point {
	scale := math.Pow(10, float64(decimals))
	return Point{
		Latitude:  math.Round(p.Latitude*scale) / scale,
		Longitude: math.Round(p.Longitude*scale) / scale,
	}
}

func (p Point) String() string {
	return fmt.Sprintf("%.5f,%.5f", p.Latitude, p.Longitude)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
