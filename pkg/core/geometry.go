package core

import "math"

// KnotsToMS converts knots to metres per second.
const KnotsToMS = 0.514444

// NormalizeHeading maps any angle in degrees into [0, 360).
func NormalizeHeading(deg float64) float64 {
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h = 0
	}
	return h
}

// HeadingDiff returns the signed shortest turn from `from` to `to`, in (-180, 180].
func HeadingDiff(from, to float64) float64 {
	d := math.Mod(to-from+540, 360)
	if d < 0 {
		d += 360
	}
	d -= 180
	if d == -180 {
		return 180
	}
	return d
}

// BearingTo returns the compass bearing from (x1,y1) to (x2,y2).
func BearingTo(x1, y1, x2, y2 float64) float64 {
	return NormalizeHeading(math.Atan2(x2-x1, y2-y1) * 180 / math.Pi)
}

// Distance2D is the horizontal distance between two points.
func Distance2D(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}

// Distance3D includes the depth separation.
func Distance3D(x1, y1, d1, x2, y2, d2 float64) float64 {
	return math.Sqrt((x2-x1)*(x2-x1) + (y2-y1)*(y2-y1) + (d2-d1)*(d2-d1))
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
