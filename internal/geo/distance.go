package geo

import "math"

// EarthRadiusKm is the mean Earth radius
const EarthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two points using the
// spherical law of cosines. The cosine is clamped to [-1, 1] so nearly
// antipodal or nearly identical points never produce NaN.
func DistanceKm(a, b Point) float64 {
	// cos²φ + sin²φ can round to just under 1, which acos turns into ~1e-4 km
	if a == b {
		return 0
	}

	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	deltaLon := toRadians(b.Longitude - a.Longitude)

	cosAngle := math.Cos(lat1)*math.Cos(lat2)*math.Cos(deltaLon) + math.Sin(lat1)*math.Sin(lat2)
	cosAngle = math.Max(-1, math.Min(1, cosAngle))

	return EarthRadiusKm * math.Acos(cosAngle)
}

// Within reports whether b lies within radiusKm of a (inclusive)
func Within(a, b Point, radiusKm float64) bool {
	return DistanceKm(a, b) <= radiusKm
}

func toRadians(degrees float64) float64 {
	return degrees * (math.Pi / 180)
}
