package route

import (
	"time"
)

// Point is a single route coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Route is an ordered sequence of at least two points. Order defines the
// segments and the direction of travel. A route is immutable once parsed and
// replaced wholesale on a new upload.
type Route struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Points    []Point   `json:"points"`
	Elevation []float64 `json:"elevation,omitempty"` // meters, aligned by index; empty when unavailable
	CreatedAt time.Time `json:"created_at"`
}

// NumSegments returns the number of segments (consecutive point pairs).
func (r *Route) NumSegments() int {
	if len(r.Points) < 2 {
		return 0
	}
	return len(r.Points) - 1
}

// HasElevation reports whether an elevation profile aligned with the points
// is available.
func (r *Route) HasElevation() bool {
	return len(r.Elevation) == len(r.Points) && len(r.Points) > 0
}
