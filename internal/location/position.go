// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import (
	"fmt"
	"math"
	"time"
)

const (
	// EarthRadius is the mean earth radius in meters used for great-circle distances.
	EarthRadius = 6371000.0

	// TruncPrecision is the number of decimal places provider coordinates are truncated to.
	TruncPrecision = 6
)

// Position represents a single geographic position sample reported by a Provider.
type Position struct {
	Lat      float64
	Lon      float64
	Alt      float64
	Accuracy float64 // horizontal accuracy in meters, 0 if unknown
	Time     time.Time
	Source   string
}

// Equal reports whether two positions describe the same place. Only latitude and longitude
// are compared, metadata like accuracy or time is ignored.
func (p Position) Equal(other Position) bool {
	return p.Lat == other.Lat && p.Lon == other.Lon
}

// Valid checks if the position is valid according to the EPSG:4326 ranges.
func (p Position) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180 &&
		!math.IsNaN(p.Lat) && !math.IsNaN(p.Lon)
}

// DistanceTo returns the great-circle distance in meters between p and other. We are using the
// Haversine formula on a spherical Earth.
func (p Position) DistanceTo(other Position) float64 {
	dLat := (other.Lat - p.Lat) * math.Pi / 180
	dLon := (other.Lon - p.Lon) * math.Pi / 180
	lat1 := p.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadius * math.Asin(math.Sqrt(h))
}

func (p Position) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// Truncate cuts x down to the given number of decimal places.
func Truncate(x float64, precision int) float64 {
	pow := math.Pow(10, float64(precision))
	return math.Trunc(x*pow) / pow
}

// Result is a batch of positions delivered by a single provider push.
type Result struct {
	Locations []Position
}

// NewResult returns a Result holding the given positions, oldest first.
func NewResult(positions ...Position) Result {
	return Result{Locations: positions}
}

// LastLocation returns the most recent usable position of the batch. It returns false if
// the batch holds no valid position.
func (r Result) LastLocation() (Position, bool) {
	for i := len(r.Locations) - 1; i >= 0; i-- {
		if r.Locations[i].Valid() {
			return r.Locations[i], true
		}
	}
	return Position{}, false
}
