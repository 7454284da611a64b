package arrows

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/jenniferccao/wind-route-sim/internal/wind"
	"github.com/jenniferccao/wind-route-sim/pkg/logger"
)

// Config holds arrow rendering settings.
type Config struct {
	DefaultCols int     `toml:"default_cols"` // Grid columns when the request doesn't specify
	DefaultRows int     `toml:"default_rows"` // Grid rows when the request doesn't specify
	MinGlyphPx  float64 `toml:"min_glyph_px"` // Smallest glyph size regardless of speed
	MaxGlyphPx  float64 `toml:"max_glyph_px"` // Largest glyph size regardless of speed
}

// DefaultConfig returns the default arrows configuration.
func DefaultConfig() Config {
	return Config{
		DefaultCols: 8,
		DefaultRows: 8,
		MinGlyphPx:  12,
		MaxGlyphPx:  36,
	}
}

// maxGlyphSpeedKmh caps the speed-to-size mapping; faster wind doesn't grow
// the glyph further.
const maxGlyphSpeedKmh = 60.0

// Bounds is a viewport in degrees.
type Bounds struct {
	SWLat float64 `json:"sw_lat"`
	SWLon float64 `json:"sw_lon"`
	NELat float64 `json:"ne_lat"`
	NELon float64 `json:"ne_lon"`
}

// GridPoint is one sample location of the viewport grid.
type GridPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Glyph is a renderable wind arrow.
type Glyph struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	RotationDeg float64 `json:"rotation_deg"` // points where the wind blows TOWARD
	SizePx      float64 `json:"size_px"`
	SpeedKmh    float64 `json:"speed_kmh"`
}

// BuildGrid spreads cols x rows points evenly over the viewport, edges
// inclusive. A count of 1 on either axis degenerates to that axis's
// southwest edge rather than dividing by zero.
func BuildGrid(b Bounds, cols, rows int) []GridPoint {
	if cols < 1 || rows < 1 {
		return nil
	}

	points := make([]GridPoint, 0, cols*rows)
	for r := 0; r < rows; r++ {
		lat := b.SWLat
		if rows > 1 {
			lat += (b.NELat - b.SWLat) * float64(r) / float64(rows-1)
		}
		for c := 0; c < cols; c++ {
			lon := b.SWLon
			if cols > 1 {
				lon += (b.NELon - b.SWLon) * float64(c) / float64(cols-1)
			}
			points = append(points, GridPoint{Lat: lat, Lon: lon})
		}
	}
	return points
}

type gridEntry struct {
	lat    float64
	lon    float64
	date   string
	series wind.Series
}

// Service is the arrow-grid wind cache. Same cache-and-join discipline as
// the point cache, but keyed at 2-decimal precision, and a failed fetch
// stores a fully-null series so a hopeless cell is "known unavailable"
// instead of being retried on every render.
type Service struct {
	config Config
	client *wind.Client
	logger *logger.Logger

	mu       sync.Mutex
	cache    map[string]gridEntry
	inflight map[string]chan struct{}
}

// NewService creates a new arrow grid service sharing the wind client.
func NewService(config Config, client *wind.Client, log *logger.Logger) *Service {
	return &Service{
		config:   config,
		client:   client,
		logger:   log.Named("arrow-grid"),
		cache:    make(map[string]gridEntry),
		inflight: make(map[string]chan struct{}),
	}
}

// LoadGridPoint ensures the 2-decimal cell containing the point is cached
// for the date. The provider is queried with the rounded coordinates, which
// collapses slightly-panned viewports onto the same upstream request.
func (s *Service) LoadGridPoint(ctx context.Context, lat, lon float64, date string) {
	key := wind.GridKey(lat, lon, date)

	s.mu.Lock()
	if _, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return
	}
	if done, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.inflight[key] = done
	s.mu.Unlock()

	go s.fetchCell(key, wind.Round2(lat), wind.Round2(lon), date, done)

	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Service) fetchCell(key string, lat, lon float64, date string, done chan struct{}) {
	series, err := s.client.FetchSeries(context.Background(), lat, lon, date)
	if err != nil {
		s.logger.Warn("Grid cell fetch failed, caching as unavailable",
			logger.String("key", key),
			logger.Error(err))
		series = wind.Series{} // all-nil: known unavailable, never retried this session
	}

	s.mu.Lock()
	s.cache[key] = gridEntry{lat: lat, lon: lon, date: date, series: series}
	delete(s.inflight, key)
	s.mu.Unlock()
	close(done)
}

// LoadGrid warms the cache for every grid point with at most concurrency
// upstream requests in flight. Cells sharing a 2-decimal key collapse onto
// one request via the in-flight join.
func (s *Service) LoadGrid(ctx context.Context, points []GridPoint, date string, concurrency int) {
	if concurrency <= 0 {
		concurrency = 3
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	var wg sync.WaitGroup
	for _, p := range points {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(lat, lon float64) {
			defer wg.Done()
			defer sem.Release(1)
			s.LoadGridPoint(ctx, lat, lon, date)
		}(p.Lat, p.Lon)
	}
	wg.Wait()
}

// RenderableArrows builds the glyph list for the grid points at the given
// hour. A point whose own cell has no entry falls back to the nearest cached
// cell for the same date (linear scan; the cache is bounded by visited map
// area at 2-decimal granularity). Points with no data at all are omitted:
// a synthetic default direction is never drawn.
func (s *Service) RenderableArrows(points []GridPoint, date string, hourIndex int) []Glyph {
	s.mu.Lock()
	defer s.mu.Unlock()

	glyphs := make([]Glyph, 0, len(points))
	for _, p := range points {
		entry := s.entryForLocked(p.Lat, p.Lon, date, hourIndex)
		if entry == nil {
			continue
		}
		glyphs = append(glyphs, Glyph{
			Lat:         p.Lat,
			Lon:         p.Lon,
			RotationDeg: rotationFor(entry.DirectionDeg),
			SizePx:      s.sizeFor(entry.SpeedKmh),
			SpeedKmh:    entry.SpeedKmh,
		})
	}
	return glyphs
}

// entryForLocked resolves the hourly entry for a location: own cell first,
// then the nearest cached cell with data for the same date. Caller holds
// s.mu.
func (s *Service) entryForLocked(lat, lon float64, date string, hourIndex int) *wind.Hourly {
	if cell, ok := s.cache[wind.GridKey(lat, lon, date)]; ok {
		if e := cell.series.At(hourIndex); e != nil {
			return e
		}
	}

	var best *wind.Hourly
	bestDist := 0.0
	for _, cell := range s.cache {
		if cell.date != date {
			continue
		}
		e := cell.series.At(hourIndex)
		if e == nil {
			continue
		}
		dLat := cell.lat - lat
		dLon := cell.lon - lon
		d := dLat*dLat + dLon*dLon
		if best == nil || d < bestDist {
			best = e
			bestDist = d
		}
	}
	return best
}

// rotationFor converts the meteorological "from" direction into the
// "pointing toward" convention used for display.
func rotationFor(directionDeg float64) float64 {
	r := directionDeg + 180
	for r >= 360 {
		r -= 360
	}
	for r < 0 {
		r += 360
	}
	return r
}

// sizeFor maps speed, clamped to [0, 60] km/h, linearly into the configured
// glyph size range.
func (s *Service) sizeFor(speedKmh float64) float64 {
	speed := speedKmh
	if speed < 0 {
		speed = 0
	}
	if speed > maxGlyphSpeedKmh {
		speed = maxGlyphSpeedKmh
	}
	return s.config.MinGlyphPx + (s.config.MaxGlyphPx-s.config.MinGlyphPx)*speed/maxGlyphSpeedKmh
}

// Stats returns cache statistics for the status endpoint.
func (s *Service) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	unavailable := 0
	for _, cell := range s.cache {
		if cell.series.IsEmpty() {
			unavailable++
		}
	}
	return map[string]any{
		"cells":       len(s.cache),
		"in_flight":   len(s.inflight),
		"unavailable": unavailable,
	}
}

// DefaultDims returns the configured default grid dimensions.
func (s *Service) DefaultDims() (cols, rows int) {
	return s.config.DefaultCols, s.config.DefaultRows
}
