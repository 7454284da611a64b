package wind

import (
	"errors"
	"fmt"
	"math"
)

// HoursPerDay is the fixed length of a forecast series: one entry per hour of
// a calendar day, index-addressed by hour-of-day.
const HoursPerDay = 24

// Hourly is a single hour of wind forecast. DirectionDeg is meteorological:
// the direction the wind blows FROM, in degrees [0,360).
type Hourly struct {
	Time         string  `json:"time"`
	SpeedKmh     float64 `json:"speed_kmh"`
	DirectionDeg float64 `json:"direction_deg"`
}

// Series is a full day of hourly wind entries. Missing hours are nil slots,
// not omitted, so the series is always index-addressable 0-23.
type Series [HoursPerDay]*Hourly

// At returns the entry for the given hour-of-day, or nil when the hour is out
// of range or has no data.
func (s Series) At(hour int) *Hourly {
	if hour < 0 || hour >= HoursPerDay {
		return nil
	}
	return s[hour]
}

// IsEmpty reports whether the series carries no data at all.
func (s Series) IsEmpty() bool {
	for _, e := range s {
		if e != nil {
			return false
		}
	}
	return true
}

// Fetch error taxonomy. Rate limiting is distinguishable from other failures
// so callers can back off, and an empty day is a user-visible no-data
// condition.
var (
	ErrRateLimited = errors.New("wind provider rate limit reached")
	ErrEmptyResult = errors.New("wind provider returned no hourly data")
)

// PointResult is one slot of a batch fetch. A failed point carries its error
// and a zero Series; the batch as a whole never fails because of one point.
type PointResult struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Series *Series `json:"series,omitempty"`
	Err    error   `json:"-"`
}

// Round4 rounds a coordinate to 4 decimal places, the point-cache key
// precision (~11 m of latitude).
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Round2 rounds a coordinate to 2 decimal places, the arrow-grid key
// precision.
func Round2(v float64) float64 {
	return math.Round(v*1e2) / 1e2
}

// PointKey builds the point-cache key: 4-decimal rounded location plus date.
func PointKey(lat, lon float64, date string) string {
	return fmt.Sprintf("%.4f,%.4f|%s", Round4(lat), Round4(lon), date)
}

// GridKey builds the arrow-grid cache key: 2-decimal rounded location plus
// date. Coarser than the point key, which raises the hit rate across
// viewport pans.
func GridKey(lat, lon float64, date string) string {
	return fmt.Sprintf("%.2f,%.2f|%s", Round2(lat), Round2(lon), date)
}
