package scoring

import (
	"fmt"
	"math"

	"github.com/jenniferccao/wind-route-sim/internal/geo"
	"github.com/jenniferccao/wind-route-sim/internal/route"
	"github.com/jenniferccao/wind-route-sim/internal/wind"
)

const (
	// ClimbPenaltyFactor scales the positive grade into the suffer score.
	ClimbPenaltyFactor = 600.0
	// GradeClamp bounds the grade to +/-50% to keep bad elevation data from
	// dominating.
	GradeClamp = 0.5
	// MinSegmentDistanceM guards the grade division against duplicate points.
	MinSegmentDistanceM = 0.1
	// epsilon floors the normalization divisor when every segment has zero
	// suffer.
	epsilon = 1e-9
)

// Input carries everything a scoring pass needs. Scoring is a pure function
// of this input: identical inputs produce byte-for-byte identical outputs,
// which is what lets the UI recolor on every toggle or time change.
type Input struct {
	Points           []route.Point
	Elevation        []float64      // meters, aligned with Points; empty when unavailable
	Samples          []route.Point  // wind sample locations
	Series           []*wind.Series // one per sample, aligned by index; nil means unavailable
	HourIndex        int            // hour-of-day 0-23
	IncludeElevation bool
	IncludeWind      bool
}

// SegmentScore is the scored result for the segment between route points i
// and i+1.
type SegmentScore struct {
	Index       int     `json:"index"`
	MidLat      float64 `json:"mid_lat"`
	MidLon      float64 `json:"mid_lon"`
	BearingDeg  float64 `json:"bearing_deg"`
	DistanceM   float64 `json:"distance_m"`
	HeadwindKmh float64 `json:"headwind_kmh"` // max(0, headwind component); tailwind benefit is discarded
	Grade       float64 `json:"grade"`        // signed rise/run, clamped; reported even when the penalty is 0
	ClimbPen    float64 `json:"climb_penalty"`
	SufferRaw   float64 `json:"suffer_raw"`
	Score       float64 `json:"score"`      // SufferRaw normalized by the route-wide maximum
	PassIndex   int     `json:"pass_index"` // 0 first traversal of an edge, 1 for repeat traversals
}

// ScoreRoute computes per-segment difficulty scores. A route with fewer than
// two points yields an empty segment set. Normalization is global over the
// route: the maximum suffer value is the divisor for every segment, floored
// by epsilon so an all-calm route scores uniform 0 rather than NaN.
func ScoreRoute(in Input) []SegmentScore {
	if len(in.Points) < 2 {
		return nil
	}

	n := len(in.Points) - 1
	scores := make([]SegmentScore, n)
	useElevation := in.IncludeElevation && len(in.Elevation) == len(in.Points)

	for i := 0; i < n; i++ {
		a, b := in.Points[i], in.Points[i+1]

		seg := SegmentScore{
			Index:      i,
			MidLat:     (a.Lat + b.Lat) / 2,
			MidLon:     (a.Lon + b.Lon) / 2,
			BearingDeg: geo.Bearing(a.Lat, a.Lon, b.Lat, b.Lon),
			DistanceM:  geo.DistanceMeters(a.Lat, a.Lon, b.Lat, b.Lon),
		}

		if in.IncludeWind {
			if entry := sampleAt(in, seg.MidLat, seg.MidLon); entry != nil {
				hw := geo.HeadwindComponent(seg.BearingDeg, entry.DirectionDeg, entry.SpeedKmh)
				seg.HeadwindKmh = math.Max(0, hw)
			}
		}

		if useElevation && seg.DistanceM > MinSegmentDistanceM {
			grade := (in.Elevation[i+1] - in.Elevation[i]) / seg.DistanceM
			grade = clamp(grade, -GradeClamp, GradeClamp)
			seg.Grade = grade
			if grade > 0 {
				seg.ClimbPen = ClimbPenaltyFactor * grade
			}
		}

		seg.SufferRaw = seg.HeadwindKmh + seg.ClimbPen
		scores[i] = seg
	}

	assignPassIndexes(in.Points, scores)
	normalize(scores)
	return scores
}

// sampleAt finds the wind entry at the scoring hour from the sample point
// nearest to the segment midpoint. Squared lat/lon distance is enough at
// route scale. Returns nil when wind data doesn't resolve for the hour.
func sampleAt(in Input, lat, lon float64) *wind.Hourly {
	bestIdx := -1
	bestDist := math.MaxFloat64
	for i, p := range in.Samples {
		dLat := p.Lat - lat
		dLon := p.Lon - lon
		d := dLat*dLat + dLon*dLon
		if d < bestDist {
			bestDist = d
			bestIdx = i
		}
	}
	if bestIdx < 0 || bestIdx >= len(in.Series) || in.Series[bestIdx] == nil {
		return nil
	}
	return in.Series[bestIdx].At(in.HourIndex)
}

// assignPassIndexes marks repeat traversals of geometrically identical edges
// so the rendering layer can offset overlapping lines. The edge identity is
// order-independent over endpoints rounded to 5 decimals: on an out-and-back
// route the A->B and B->A segments share one identity. The first traversal
// gets pass 0, every subsequent one gets pass 1. Purely visual; geometry and
// score are untouched.
func assignPassIndexes(points []route.Point, scores []SegmentScore) {
	counts := make(map[string]int, len(scores))
	for i := range scores {
		counts[edgeKey(points[i], points[i+1])]++
	}

	seen := make(map[string]bool, len(scores))
	for i := range scores {
		key := edgeKey(points[i], points[i+1])
		if counts[key] > 1 && seen[key] {
			scores[i].PassIndex = 1
		}
		seen[key] = true
	}
}

func edgeKey(a, b route.Point) string {
	ka := fmt.Sprintf("%.5f,%.5f", a.Lat, a.Lon)
	kb := fmt.Sprintf("%.5f,%.5f", b.Lat, b.Lon)
	if kb < ka {
		ka, kb = kb, ka
	}
	return ka + "|" + kb
}

func normalize(scores []SegmentScore) {
	maxRaw := 0.0
	for i := range scores {
		if scores[i].SufferRaw > maxRaw {
			maxRaw = scores[i].SufferRaw
		}
	}
	divisor := math.Max(maxRaw, epsilon)
	for i := range scores {
		scores[i].Score = scores[i].SufferRaw / divisor
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
