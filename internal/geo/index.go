package geo

import "sort"

// Area is a candidate geofence. Center and RadiusKm are both nil for plain
// (non geo-bound) records, which never cover any point.
type Area struct {
	ID       int64
	Center   *Point
	RadiusKm *float64
}

// GeoBound reports whether the area has both a center and a radius
func (a Area) GeoBound() bool {
	return a.Center != nil && a.RadiusKm != nil
}

// Located is a candidate recipient with an optional recorded position
type Located struct {
	ID       int64
	Position *Point
}

// NearestCoveringGroup returns the geo-bound area closest to point among those
// whose radius covers it. Equidistant areas resolve to the lower id, so the
// result does not depend on candidate order.
func NearestCoveringGroup(point Point, candidates []Area) (Area, bool, error) {
	if err := point.Validate(); err != nil {
		return Area{}, false, err
	}

	var (
		best     Area
		bestDist float64
		found    bool
	)
	for _, c := range candidates {
		if !c.GeoBound() || c.Center.Validate() != nil {
			continue
		}
		dist := DistanceKm(point, *c.Center)
		if dist > *c.RadiusKm {
			continue
		}
		if !found || dist < bestDist || (dist == bestDist && c.ID < best.ID) {
			best, bestDist, found = c, dist, true
		}
	}
	return best, found, nil
}

// UsersWithinRadius returns every candidate with a recorded position at most
// radiusKm from center, ordered by id. Candidates without a position are
// never included.
func UsersWithinRadius(center Point, radiusKm float64, candidates []Located) ([]Located, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}

	matched := make([]Located, 0)
	for _, c := range candidates {
		if c.Position == nil || c.Position.Validate() != nil {
			continue
		}
		if DistanceKm(center, *c.Position) <= radiusKm {
			matched = append(matched, c)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched, nil
}
