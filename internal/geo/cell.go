package geo

import (
	"hash/fnv"

	"github.com/mmcloughlin/geohash"
)

// DefaultCellPrecision gives cells of roughly 4.9km x 4.9km
const DefaultCellPrecision = 5

// Cell returns the geohash cell containing p
func Cell(p Point, precision uint) string {
	return geohash.EncodeWithPrecision(p.Latitude, p.Longitude, precision)
}

// LockKey maps a cell to a signed 64-bit key usable with pg_advisory_xact_lock
func LockKey(cell string) int64 {
	h := fnv.New64a()
	h.Write([]byte(cell))
	return int64(h.Sum64())
}
