package arrows

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/jenniferccao/wind-route-sim/internal/wind"
	"github.com/jenniferccao/wind-route-sim/pkg/logger"
)

const testDate = "2026-06-01"

func TestBuildGrid(t *testing.T) {
	b := Bounds{SWLat: 45, SWLon: -74, NELat: 46, NELon: -73}

	grid := BuildGrid(b, 3, 3)
	if len(grid) != 9 {
		t.Fatalf("got %d points, want 9", len(grid))
	}
	first, last := grid[0], grid[len(grid)-1]
	if first.Lat != 45 || first.Lon != -74 {
		t.Errorf("first point = %+v, want the SW corner", first)
	}
	if last.Lat != 46 || last.Lon != -73 {
		t.Errorf("last point = %+v, want the NE corner", last)
	}
	mid := grid[4]
	if math.Abs(mid.Lat-45.5) > 1e-9 || math.Abs(mid.Lon+73.5) > 1e-9 {
		t.Errorf("center point = %+v, want (45.5,-73.5)", mid)
	}
}

func TestBuildGridDegenerate(t *testing.T) {
	b := Bounds{SWLat: 45, SWLon: -74, NELat: 46, NELon: -73}

	if grid := BuildGrid(b, 0, 5); grid != nil {
		t.Errorf("zero cols: got %d points, want nil", len(grid))
	}

	grid := BuildGrid(b, 1, 2)
	if len(grid) != 2 {
		t.Fatalf("got %d points, want 2", len(grid))
	}
	for _, p := range grid {
		if p.Lon != -74 {
			t.Errorf("single-column grid point lon = %v, want the SW edge", p.Lon)
		}
	}
}

func TestRotationFor(t *testing.T) {
	tests := []struct {
		from float64
		want float64
	}{
		{0, 180},
		{180, 0},
		{90, 270},
		{270, 90},
		{359, 179},
	}
	for _, tt := range tests {
		if got := rotationFor(tt.from); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("rotationFor(%v) = %v, want %v", tt.from, got, tt.want)
		}
	}
}

func TestSizeFor(t *testing.T) {
	s := &Service{config: DefaultConfig()}

	tests := []struct {
		speed float64
		want  float64
	}{
		{0, 12},
		{-5, 12},  // clamped up
		{60, 36},  // top of range
		{100, 36}, // clamped down
		{30, 24},  // midpoint
	}
	for _, tt := range tests {
		if got := s.sizeFor(tt.speed); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("sizeFor(%v) = %v, want %v", tt.speed, got, tt.want)
		}
	}
}

func newTestArrowService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := wind.DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.MaxRetries = 0
	cfg.RequestsPerSecond = 1000
	cfg.Burst = 1000

	log := logger.NewNop()
	return NewService(DefaultConfig(), wind.NewClient(cfg, log), log)
}

func serveWind(w http.ResponseWriter, speedKmh, directionDeg float64) {
	times := make([]string, wind.HoursPerDay)
	speeds := make([]float64, wind.HoursPerDay)
	dirs := make([]float64, wind.HoursPerDay)
	for h := 0; h < wind.HoursPerDay; h++ {
		times[h] = fmt.Sprintf("%sT%02d:00", testDate, h)
		speeds[h] = speedKmh
		dirs[h] = directionDeg
	}
	json.NewEncoder(w).Encode(map[string]any{
		"hourly": map[string]any{
			"time":              times,
			"windspeed_10m":     speeds,
			"winddirection_10m": dirs,
		},
	})
}

func TestRenderableArrows(t *testing.T) {
	svc := newTestArrowService(t, func(w http.ResponseWriter, r *http.Request) {
		serveWind(w, 30, 90)
	})

	points := []GridPoint{{Lat: 45.5, Lon: -73.6}, {Lat: 45.6, Lon: -73.7}}
	svc.LoadGrid(context.Background(), points, testDate, 2)

	glyphs := svc.RenderableArrows(points, testDate, 12)
	if len(glyphs) != 2 {
		t.Fatalf("got %d glyphs, want 2", len(glyphs))
	}
	for _, g := range glyphs {
		if g.RotationDeg != 270 {
			t.Errorf("RotationDeg = %v, want 270 (wind from 90 points toward 270)", g.RotationDeg)
		}
		if g.SpeedKmh != 30 {
			t.Errorf("SpeedKmh = %v, want 30", g.SpeedKmh)
		}
		if g.SizePx != 24 {
			t.Errorf("SizePx = %v, want midpoint 24", g.SizePx)
		}
	}
}

func TestFailedCellCachedAsUnavailable(t *testing.T) {
	var requests int32
	svc := newTestArrowService(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	ctx := context.Background()
	svc.LoadGridPoint(ctx, 45.5, -73.6, testDate)
	// The failure is cached: the same cell must not hit the provider again.
	svc.LoadGridPoint(ctx, 45.5, -73.6, testDate)

	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("provider saw %d requests, want 1", n)
	}

	glyphs := svc.RenderableArrows([]GridPoint{{Lat: 45.5, Lon: -73.6}}, testDate, 12)
	if len(glyphs) != 0 {
		t.Errorf("got %d glyphs for an unavailable cell with no fallback, want 0", len(glyphs))
	}
}

func TestNearestCellFallback(t *testing.T) {
	svc := newTestArrowService(t, func(w http.ResponseWriter, r *http.Request) {
		serveWind(w, 20, 0)
	})

	ctx := context.Background()
	svc.LoadGridPoint(ctx, 45.50, -73.60, testDate)
	svc.LoadGridPoint(ctx, 48.00, -70.00, testDate)

	// A point whose own cell was never loaded borrows the nearest cached cell.
	glyphs := svc.RenderableArrows([]GridPoint{{Lat: 45.49, Lon: -73.59}}, testDate, 12)
	if len(glyphs) != 1 {
		t.Fatalf("got %d glyphs, want 1 via nearest-cell fallback", len(glyphs))
	}
	if glyphs[0].SpeedKmh != 20 {
		t.Errorf("SpeedKmh = %v, want 20", glyphs[0].SpeedKmh)
	}

	// A different date has nothing cached: nothing to borrow.
	if g := svc.RenderableArrows([]GridPoint{{Lat: 45.49, Lon: -73.59}}, "2026-06-02", 12); len(g) != 0 {
		t.Errorf("got %d glyphs for an uncached date, want 0", len(g))
	}
}

func TestSharedCellCollapsesRequests(t *testing.T) {
	var requests int32
	svc := newTestArrowService(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		serveWind(w, 10, 0)
	})

	// All three points round to the same 2-decimal cell.
	points := []GridPoint{
		{Lat: 45.501, Lon: -73.601},
		{Lat: 45.502, Lon: -73.602},
		{Lat: 45.499, Lon: -73.599},
	}
	svc.LoadGrid(context.Background(), points, testDate, 3)

	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("provider saw %d requests, want 1 for one shared cell", n)
	}
}
