package geofence

import (
	"fmt"
	"math"

	"safeguard/internal/model"
)

// EarthRadiusKm is the IUGG mean earth radius.
const EarthRadiusKm = 6371.0088

const degToRad = math.Pi / 180

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b model.Point) float64 {
	lat1 := a.Lat * degToRad
	lat2 := b.Lat * degToRad
	dLat := (b.Lat - a.Lat) * degToRad
	dLon := (b.Lon - a.Lon) * degToRad

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Destination returns the point reached by travelling distKm from p along
// the initial bearing (degrees clockwise from north).
func Destination(p model.Point, bearingDeg, distKm float64) model.Point {
	lat1 := p.Lat * degToRad
	lon1 := p.Lon * degToRad
	brg := bearingDeg * degToRad
	d := distKm / EarthRadiusKm

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(brg))
	lon2 := lon1 + math.Atan2(math.Sin(brg)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))
	lon := math.Mod(lon2/degToRad+540, 360) - 180
	return model.Point{Lat: lat2 / degToRad, Lon: lon}
}

// Contains reports whether p lies inside the zone geometry. Circle edges
// count as inside.
func Contains(g model.Geometry, p model.Point) bool {
	switch g.Kind {
	case model.GeometryCircle:
		return Haversine(g.Center, p) <= g.RadiusKm
	case model.GeometryPolygon:
		return inRing(g.Ring, p)
	}
	return false
}

// inRing casts a ray eastwards from p (x=lon, y=lat) and counts crossings.
func inRing(ring []model.Point, p model.Point) bool {
	inside := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := (b.Lon-a.Lon)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lon
			if p.Lon < x {
				inside = !inside
			}
		}
	}
	return inside
}

// DistanceKm approximates the distance from p to the zone boundary: the
// center distance for circles, the nearest edge for polygons. Points inside
// a polygon are at distance zero.
func DistanceKm(g model.Geometry, p model.Point) float64 {
	switch g.Kind {
	case model.GeometryCircle:
		return Haversine(g.Center, p)
	case model.GeometryPolygon:
		if inRing(g.Ring, p) {
			return 0
		}
		best := math.Inf(1)
		for i := 0; i+1 < len(g.Ring); i++ {
			if d := segmentDistance(p, g.Ring[i], g.Ring[i+1]); d < best {
				best = d
			}
		}
		return best
	}
	return math.Inf(1)
}

// segmentDistance projects the segment onto a local equirectangular plane
// around p, finds the closest point there and measures it on the sphere.
func segmentDistance(p, a, b model.Point) float64 {
	k := math.Cos(p.Lat * degToRad)
	ax, ay := (a.Lon-p.Lon)*k, a.Lat-p.Lat
	bx, by := (b.Lon-p.Lon)*k, b.Lat-p.Lat
	dx, dy := bx-ax, by-ay

	t := 0.0
	if l := dx*dx + dy*dy; l > 0 {
		t = -(ax*dx + ay*dy) / l
		t = math.Max(0, math.Min(1, t))
	}
	closest := model.Point{
		Lat: a.Lat + t*(b.Lat-a.Lat),
		Lon: a.Lon + t*(b.Lon-a.Lon),
	}
	return Haversine(p, closest)
}

// Validate rejects zones that cannot be evaluated.
func Validate(z model.RiskZone) error {
	if z.ID == "" {
		return model.ZoneInvalid(z.ID, "missing id")
	}
	switch z.Type {
	case model.ZoneWildlife, model.ZoneRestricted, model.ZoneWeather:
	default:
		return model.ZoneInvalid(z.ID, fmt.Sprintf("unknown zone type %q", z.Type))
	}
	if z.RiskLevel < 1 || z.RiskLevel > 5 {
		return model.ZoneInvalid(z.ID, fmt.Sprintf("risk level %d outside 1..5", z.RiskLevel))
	}
	g := z.Geometry
	switch g.Kind {
	case model.GeometryCircle:
		if !validPoint(g.Center) {
			return model.ZoneInvalid(z.ID, "center out of range")
		}
		if !(g.RadiusKm > 0) || math.IsInf(g.RadiusKm, 0) {
			return model.ZoneInvalid(z.ID, "radius must be positive")
		}
	case model.GeometryPolygon:
		return validateRing(z.ID, g.Ring)
	default:
		return model.ZoneInvalid(z.ID, fmt.Sprintf("unknown geometry kind %q", g.Kind))
	}
	return nil
}

func validateRing(id string, ring []model.Point) error {
	if len(ring) < 4 {
		return model.ZoneInvalid(id, "ring needs at least 3 distinct vertices and a closing point")
	}
	if ring[0] != ring[len(ring)-1] {
		return model.ZoneInvalid(id, "ring is not closed")
	}
	for _, p := range ring {
		if !validPoint(p) {
			return model.ZoneInvalid(id, "vertex out of range")
		}
	}
	for i := 0; i+1 < len(ring); i++ {
		if ring[i] == ring[i+1] {
			return model.ZoneInvalid(id, fmt.Sprintf("repeated vertex at %d", i))
		}
	}
	if ringArea(ring) == 0 {
		return model.ZoneInvalid(id, "ring has zero area")
	}
	n := len(ring) - 1
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			// adjacent edges share a vertex, including the closing pair
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if segmentsIntersect(ring[i], ring[i+1], ring[j], ring[j+1]) {
				return model.ZoneInvalid(id, fmt.Sprintf("ring self-intersects between edges %d and %d", i, j))
			}
		}
	}
	return nil
}

func validPoint(p model.Point) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

func ringArea(ring []model.Point) float64 {
	var sum float64
	for i := 0; i+1 < len(ring); i++ {
		sum += ring[i].Lon*ring[i+1].Lat - ring[i+1].Lon*ring[i].Lat
	}
	return math.Abs(sum) / 2
}

func orient(a, b, c model.Point) float64 {
	return (b.Lon-a.Lon)*(c.Lat-a.Lat) - (b.Lat-a.Lat)*(c.Lon-a.Lon)
}

func onSegment(a, b, p model.Point) bool {
	return math.Min(a.Lon, b.Lon) <= p.Lon && p.Lon <= math.Max(a.Lon, b.Lon) &&
		math.Min(a.Lat, b.Lat) <= p.Lat && p.Lat <= math.Max(a.Lat, b.Lat)
}

func segmentsIntersect(p1, p2, p3, p4 model.Point) bool {
	d1 := orient(p3, p4, p1)
	d2 := orient(p3, p4, p2)
	d3 := orient(p1, p2, p3)
	d4 := orient(p1, p2, p4)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(p3, p4, p1):
		return true
	case d2 == 0 && onSegment(p3, p4, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, p3):
		return true
	case d4 == 0 && onSegment(p1, p2, p4):
		return true
	}
	return false
}
