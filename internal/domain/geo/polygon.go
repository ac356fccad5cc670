package geo

// Polygon is a closed ring of vertices. The ring does not need to repeat the
// first vertex at the end; Contains treats the last->first edge implicitly.
type Polygon []LatLng

// Contains reports whether p lies inside the polygon using the ray-casting
// rule (odd number of edge crossings on a horizontal ray). Points exactly on
// an edge may fall on either side; zone boundaries are not that precise.
func (poly Polygon) Contains(p LatLng) bool {
	n := len(poly)
	if n < 3 {
		return false
	}

	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		vi, vj := poly[i], poly[j]
		if (vi.Lat > p.Lat) != (vj.Lat > p.Lat) {
			x := (vj.Lng-vi.Lng)*(p.Lat-vi.Lat)/(vj.Lat-vi.Lat) + vi.Lng
			if p.Lng < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// BoundingBox is an axis-aligned lat/lng rectangle.
type BoundingBox struct {
	MinLat float64
	MinLng float64
	MaxLat float64
	MaxLng float64
}

// Contains reports whether p falls within the box (inclusive).
func (box BoundingBox) Contains(p LatLng) bool {
	return p.Lat >= box.MinLat && p.Lat <= box.MaxLat &&
		p.Lng >= box.MinLng && p.Lng <= box.MaxLng
}
