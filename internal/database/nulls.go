package database

import (
	"database/sql"

	"github.com/resqzone/server/internal/geo"
)

// NullPoint returns nil unless both coordinates are set
func NullPoint(lat, lon sql.NullFloat64) *geo.Point {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &geo.Point{Latitude: lat.Float64, Longitude: lon.Float64}
}

// PointArgs splits an optional point into nullable query arguments
func PointArgs(p *geo.Point) (lat, lon *float64) {
	if p == nil {
		return nil, nil
	}
	return &p.Latitude, &p.Longitude
}

func NullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func NullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func NullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}
