// Package position acquires device position readings.
//
// A Reader produces one Fix per call. The daemon wraps whichever source
// it is configured with (a gpsd receiver or surveyed fixed coordinates)
// in a Cached reader that bounds both the wait for a fresh reading and
// the staleness of a reused one.
package position

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the host has no positioning capability:
// no receiver is reachable and no fixed coordinates are configured.
var ErrUnavailable = errors.New("position source unavailable")

// Fix is a single position reading.
type Fix struct {
	// Latitude and Longitude in decimal degrees.
	Latitude  float64
	Longitude float64

	// Accuracy is the estimated horizontal error in meters.
	Accuracy float64

	// Time is when the reading was taken.
	Time time.Time
}

// Reader produces position readings.
type Reader interface {
	// Current returns the device's position. Implementations honor ctx
	// cancellation and deadlines; a reading that cannot be produced in
	// time is an error, not a stale value.
	Current(ctx context.Context) (*Fix, error)
}

// Fixed is a Reader for stationary devices with surveyed coordinates.
type Fixed struct {
	lat, lon, acc float64
}

// NewFixed creates a Reader that always reports the given coordinates.
func NewFixed(lat, lon, acc float64) *Fixed {
	return &Fixed{lat: lat, lon: lon, acc: acc}
}

// Current implements Reader.
func (f *Fixed) Current(ctx context.Context) (*Fix, error) {
	return &Fix{
		Latitude:  f.lat,
		Longitude: f.lon,
		Accuracy:  f.acc,
		Time:      time.Now(),
	}, nil
}
