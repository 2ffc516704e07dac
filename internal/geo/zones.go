// Package geo holds the scenario geometry: restricted zones, the mission
// bounding box, and the projection from geographic to local coordinates.
package geo

import (
	"fmt"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
)

// Zone is a named area in local coordinates.
type Zone struct {
	Name string
	area geom.Geometry
}

// ParseZone reads a zone from WKT, e.g. "POLYGON((0 0,1000 0,1000 1000,0 1000,0 0))".
func ParseZone(name, wkt string) (Zone, error) {
	g, err := geom.UnmarshalWKT(wkt)
	if err != nil {
		return Zone{}, fmt.Errorf("zone %q: %w", name, err)
	}
	switch g.Type() {
	case geom.TypePolygon, geom.TypeMultiPolygon:
	default:
		return Zone{}, fmt.Errorf("zone %q: expected polygon, got %s", name, g.Type())
	}
	return Zone{Name: name, area: g}, nil
}

// ZoneFromPoints closes the ring formed by pts and builds a polygon zone.
func ZoneFromPoints(name string, pts [][2]float64) (Zone, error) {
	if len(pts) < 3 {
		return Zone{}, fmt.Errorf("zone %q: need at least 3 points, got %d", name, len(pts))
	}
	flat := make([]float64, 0, 2*len(pts)+2)
	for _, p := range pts {
		flat = append(flat, p[0], p[1])
	}
	if pts[0] != pts[len(pts)-1] {
		flat = append(flat, pts[0][0], pts[0][1])
	}
	ring := geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
	poly := geom.NewPolygon([]geom.LineString{ring})
	if err := poly.Validate(); err != nil {
		return Zone{}, fmt.Errorf("zone %q: %w", name, err)
	}
	return Zone{Name: name, area: poly.AsGeometry()}, nil
}

func point(x, y float64) geom.Geometry {
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: x, Y: y}, Type: geom.DimXY}).AsGeometry()
}

// Contains reports whether x, y lies in the zone or on its boundary.
func (z Zone) Contains(x, y float64) bool {
	return geom.Intersects(z.area, point(x, y))
}

// CrossedBy reports whether the segment from (x0,y0) to (x1,y1) touches the zone.
func (z Zone) CrossedBy(x0, y0, x1, y1 float64) bool {
	seg := geom.NewLineString(geom.NewSequence([]float64{x0, y0, x1, y1}, geom.DimXY))
	return geom.Intersects(z.area, seg.AsGeometry())
}

// WKT renders the zone geometry.
func (z Zone) WKT() string {
	return z.area.AsText()
}

// RayEnd returns the point length meters from (x,y) along a compass bearing.
func RayEnd(x, y, bearing, length float64) (float64, float64) {
	rad := bearing * math.Pi / 180
	return x + math.Sin(rad)*length, y + math.Cos(rad)*length
}

// Bounds is an axis-aligned box in local meters. The zero value is unbounded.
type Bounds struct {
	MinX float64 `yaml:"min_x" json:"minX"`
	MinY float64 `yaml:"min_y" json:"minY"`
	MaxX float64 `yaml:"max_x" json:"maxX"`
	MaxY float64 `yaml:"max_y" json:"maxY"`
}

// IsZero reports whether no bounds are set.
func (b Bounds) IsZero() bool {
	return b == Bounds{}
}

// Contains reports whether x, y is inside b. Zero bounds contain everything.
func (b Bounds) Contains(x, y float64) bool {
	if b.IsZero() {
		return true
	}
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// Clamp moves x, y to the nearest point inside b.
func (b Bounds) Clamp(x, y float64) (float64, float64) {
	if b.IsZero() {
		return x, y
	}
	return math.Min(math.Max(x, b.MinX), b.MaxX), math.Min(math.Max(y, b.MinY), b.MaxY)
}
