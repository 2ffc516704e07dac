package geo

import (
	"errors"
	"math"

	"github.com/wroge/wgs84"
)

// ErrInvalidCoordinates is returned for longitudes or latitudes out of range.
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Frame maps WGS84 longitude/latitude onto the local metric plane: X east
// and Y north in meters from the origin. Web Mercator (EPSG:3857) is used
// for the projection and scaled back to true meters at the origin latitude,
// which is accurate over the few tens of kilometers a scenario spans.
type Frame struct {
	originX, originY float64
	scale            float64
	toMercator       func(a, b, c float64) (float64, float64, float64)
}

// NewFrame creates a frame centered on lon, lat.
func NewFrame(lon, lat float64) (*Frame, error) {
	if !validLonLat(lon, lat) {
		return nil, ErrInvalidCoordinates
	}
	f := &Frame{
		toMercator: wgs84.EPSG().Transform(4326, 3857),
		scale:      math.Cos(lat * math.Pi / 180),
	}
	f.originX, f.originY, _ = f.toMercator(lon, lat, 0)
	return f, nil
}

// ToLocal projects lon, lat into the frame.
func (f *Frame) ToLocal(lon, lat float64) (x, y float64, err error) {
	if !validLonLat(lon, lat) {
		return 0, 0, ErrInvalidCoordinates
	}
	mx, my, _ := f.toMercator(lon, lat, 0)
	return (mx - f.originX) * f.scale, (my - f.originY) * f.scale, nil
}

func validLonLat(lon, lat float64) bool {
	return lon >= -180 && lon <= 180 && lat > -85 && lat < 85 &&
		!math.IsNaN(lon) && !math.IsNaN(lat)
}
