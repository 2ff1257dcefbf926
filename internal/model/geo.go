package model

import (
	"errors"
	"math"
	"time"
)

var (
	ErrInvalidLatitude  = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude = errors.New("longitude must be between -180 and 180")
)

// Coordinate is a WGS84 position.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// DefaultFallback is Bhubaneswar, Odisha. It is used only when no real fix
// has ever been obtained.
var DefaultFallback = Coordinate{Lat: 20.2961, Lng: 85.8245}

// Validate checks the coordinate ranges. NaN and infinities are rejected.
func (c Coordinate) Validate() error {
	if !finite(c.Lat) || c.Lat < -90 || c.Lat > 90 {
		return ErrInvalidLatitude
	}
	if !finite(c.Lng) || c.Lng < -180 || c.Lng > 180 {
		return ErrInvalidLongitude
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Fix is a single position reported by the positioning capability.
type Fix struct {
	Coordinate
	At time.Time `json:"at"`
}

// CoordinateSource records where a stored coordinate came from.
type CoordinateSource string

const (
	SourceNone     CoordinateSource = ""
	SourceLive     CoordinateSource = "live"
	SourceFallback CoordinateSource = "fallback"
)
