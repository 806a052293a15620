package geo

// Point is a WGS84 coordinate in GeoJSON order (longitude, latitude).
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Polygon is a GeoJSON-style ring set: each ring is a list of [lng, lat]
// pairs. Only the first (outer) ring is honored; inner rings (holes) are
// ignored. A nil polygon means "global scope", not an empty area.
type Polygon [][][2]float64

// IsUsable reports whether the polygon has a well-formed outer ring. A
// degenerate polygon (no rings, or fewer than 3 vertices) is not usable and
// callers must fall back to global scope rather than treat it as a filter.
func (p Polygon) IsUsable() bool {
	return len(p) > 0 && len(p[0]) >= 3
}

// Contains applies the even-odd ray-casting rule against the outer ring.
// Degenerate polygons never contain anything.
func (p Polygon) Contains(pt Point) bool {
	if !p.IsUsable() {
		return false
	}

	ring := p[0]
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]

		intersects := (yi > pt.Lat) != (yj > pt.Lat) &&
			pt.Lng < (xj-xi)*(pt.Lat-yi)/(yj-yi)+xi
		if intersects {
			inside = !inside
		}
	}
	return inside
}

// Station is the geographic view of a monitoring station.
type Station struct {
	ID       string
	Name     string
	Location Point
}

// MatchStations returns the subset of stations whose location falls inside
// the polygon, preserving input order.
func MatchStations(p Polygon, stations []Station) []Station {
	var matched []Station
	for _, s := range stations {
		if p.Contains(s.Location) {
			matched = append(matched, s)
		}
	}
	return matched
}
