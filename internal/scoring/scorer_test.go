package scoring

import (
	"math"
	"reflect"
	"testing"

	"github.com/jenniferccao/wind-route-sim/internal/route"
	"github.com/jenniferccao/wind-route-sim/internal/wind"
)

func uniformSeries(speedKmh, directionDeg float64) *wind.Series {
	var s wind.Series
	for h := 0; h < wind.HoursPerDay; h++ {
		s[h] = &wind.Hourly{SpeedKmh: speedKmh, DirectionDeg: directionDeg}
	}
	return &s
}

func northboundInput(series *wind.Series) Input {
	points := []route.Point{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 0}, {Lat: 2, Lon: 0}}
	return Input{
		Points:      points,
		Samples:     points,
		Series:      []*wind.Series{series, series, series},
		HourIndex:   12,
		IncludeWind: true,
	}
}

func TestScoreRouteHeadwind(t *testing.T) {
	// Travelling due north into wind blowing from the north.
	scores := ScoreRoute(northboundInput(uniformSeries(20, 0)))
	if len(scores) != 2 {
		t.Fatalf("got %d segments, want 2", len(scores))
	}
	for _, seg := range scores {
		if math.Abs(seg.HeadwindKmh-20) > 1e-9 {
			t.Errorf("segment %d HeadwindKmh = %v, want 20", seg.Index, seg.HeadwindKmh)
		}
		if math.Abs(seg.Score-1.0) > 1e-9 {
			t.Errorf("segment %d Score = %v, want 1.0", seg.Index, seg.Score)
		}
	}
}

func TestScoreRouteTailwindDiscarded(t *testing.T) {
	// Same route with the wind blowing from behind: the benefit is dropped,
	// not credited.
	scores := ScoreRoute(northboundInput(uniformSeries(20, 180)))
	for _, seg := range scores {
		if seg.HeadwindKmh != 0 {
			t.Errorf("segment %d HeadwindKmh = %v, want 0", seg.Index, seg.HeadwindKmh)
		}
		if seg.Score != 0 {
			t.Errorf("segment %d Score = %v, want 0 on all-calm route", seg.Index, seg.Score)
		}
	}
}

func TestScoreRouteAllZeroNormalization(t *testing.T) {
	in := northboundInput(nil)
	in.Series = []*wind.Series{nil, nil, nil}

	scores := ScoreRoute(in)
	for _, seg := range scores {
		if seg.Score != 0 || math.IsNaN(seg.Score) {
			t.Errorf("segment %d Score = %v, want exactly 0", seg.Index, seg.Score)
		}
	}
}

func TestScoreRouteDeterministic(t *testing.T) {
	in := northboundInput(uniformSeries(15, 45))
	first := ScoreRoute(in)
	second := ScoreRoute(in)
	if !reflect.DeepEqual(first, second) {
		t.Error("identical inputs must produce identical outputs")
	}
}

func TestScoreRouteTooFewPoints(t *testing.T) {
	if s := ScoreRoute(Input{Points: []route.Point{{Lat: 1, Lon: 1}}}); s != nil {
		t.Errorf("single-point route: got %v, want nil", s)
	}
	if s := ScoreRoute(Input{}); s != nil {
		t.Errorf("empty route: got %v, want nil", s)
	}
}

func TestScoreRouteClimbPenalty(t *testing.T) {
	points := []route.Point{{Lat: 0, Lon: 0}, {Lat: 0.01, Lon: 0}, {Lat: 0.02, Lon: 0}}
	dist := 0.01 * (math.Pi / 180) * 6371000 // ~1112 m per segment

	in := Input{
		Points:           points,
		Elevation:        []float64{0, 50, 50}, // climb then flat
		IncludeElevation: true,
	}

	scores := ScoreRoute(in)
	wantGrade := 50 / dist
	if math.Abs(scores[0].Grade-wantGrade) > 1e-6 {
		t.Errorf("Grade = %v, want %v", scores[0].Grade, wantGrade)
	}
	if math.Abs(scores[0].ClimbPen-ClimbPenaltyFactor*wantGrade) > 1e-6 {
		t.Errorf("ClimbPen = %v, want %v", scores[0].ClimbPen, ClimbPenaltyFactor*wantGrade)
	}
	if scores[1].ClimbPen != 0 {
		t.Errorf("flat segment ClimbPen = %v, want 0", scores[1].ClimbPen)
	}
	if scores[0].Score != 1.0 {
		t.Errorf("climbing segment Score = %v, want 1.0", scores[0].Score)
	}

	// Descents report a negative grade but never a penalty.
	in.Elevation = []float64{100, 0, 0}
	scores = ScoreRoute(in)
	if scores[0].Grade >= 0 {
		t.Errorf("descent Grade = %v, want negative", scores[0].Grade)
	}
	if scores[0].ClimbPen != 0 {
		t.Errorf("descent ClimbPen = %v, want 0", scores[0].ClimbPen)
	}
}

func TestScoreRouteGradeClamp(t *testing.T) {
	points := []route.Point{{Lat: 0, Lon: 0}, {Lat: 0.0001, Lon: 0}}
	in := Input{
		Points:           points,
		Elevation:        []float64{0, 10000}, // absurd rise over ~11 m
		IncludeElevation: true,
	}

	scores := ScoreRoute(in)
	if scores[0].Grade != GradeClamp {
		t.Errorf("Grade = %v, want clamped to %v", scores[0].Grade, GradeClamp)
	}
}

func TestAssignPassIndexesOutAndBack(t *testing.T) {
	points := []route.Point{
		{Lat: 0, Lon: 0},
		{Lat: 1, Lon: 0},
		{Lat: 0, Lon: 0},
	}
	scores := ScoreRoute(Input{Points: points})

	if scores[0].PassIndex != 0 {
		t.Errorf("outbound PassIndex = %d, want 0", scores[0].PassIndex)
	}
	if scores[1].PassIndex != 1 {
		t.Errorf("return PassIndex = %d, want 1 (same edge, reversed)", scores[1].PassIndex)
	}
}

func TestAssignPassIndexesDistinctEdges(t *testing.T) {
	points := []route.Point{
		{Lat: 0, Lon: 0},
		{Lat: 1, Lon: 0},
		{Lat: 2, Lon: 0},
	}
	scores := ScoreRoute(Input{Points: points})
	for _, seg := range scores {
		if seg.PassIndex != 0 {
			t.Errorf("segment %d PassIndex = %d, want 0", seg.Index, seg.PassIndex)
		}
	}
}
