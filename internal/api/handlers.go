package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jenniferccao/wind-route-sim/internal/arrows"
	"github.com/jenniferccao/wind-route-sim/internal/briefing"
	"github.com/jenniferccao/wind-route-sim/internal/config"
	"github.com/jenniferccao/wind-route-sim/internal/geo"
	"github.com/jenniferccao/wind-route-sim/internal/route"
	"github.com/jenniferccao/wind-route-sim/internal/scoring"
	"github.com/jenniferccao/wind-route-sim/internal/storage/sqlite"
	"github.com/jenniferccao/wind-route-sim/internal/wind"
	"github.com/jenniferccao/wind-route-sim/internal/websocket"
	"github.com/jenniferccao/wind-route-sim/pkg/logger"
)

// maxUploadBytes caps GPX upload size.
const maxUploadBytes = 16 << 20

// defaultSampleCount is how many wind sample points a scoring pass spreads
// along the route when the request doesn't say.
const defaultSampleCount = 5

// Handler contains the API handlers
type Handler struct {
	windService     *wind.Service
	arrowService    *arrows.Service
	briefingService *briefing.Service // nil when disabled
	storage         *sqlite.RouteStorage
	config          *config.Config
	logger          *logger.Logger
	wsServer        *websocket.Server
}

// NewHandler creates a new API handler
func NewHandler(windService *wind.Service, arrowService *arrows.Service, briefingService *briefing.Service,
	storage *sqlite.RouteStorage, cfg *config.Config, log *logger.Logger, wsServer *websocket.Server) *Handler {
	return &Handler{
		windService:     windService,
		arrowService:    arrowService,
		briefingService: briefingService,
		storage:         storage,
		config:          cfg,
		logger:          log.Named("api-handler"),
		wsServer:        wsServer,
	}
}

// UploadRoute parses a GPX body into a new route, replacing nothing on
// failure: a parse error leaves previously stored routes untouched.
func (h *Handler) UploadRoute(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	parsed, err := route.ParseGPX(string(body))
	if err != nil {
		status, code := parseErrorStatus(err)
		h.logger.Warn("Route upload rejected", logger.String("code", code), logger.Error(err))
		respondJSON(w, status, map[string]any{"error": code, "detail": err.Error()})
		return
	}

	parsed.ID = fmt.Sprintf("route_%d", time.Now().UnixNano())
	parsed.CreatedAt = time.Now().UTC()
	if parsed.Name == "" {
		parsed.Name = parsed.ID
	}

	if err := h.storage.StoreRoute(parsed); err != nil {
		h.logger.Error("Failed to store route", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to store route")
		return
	}

	h.logger.Info("Route uploaded",
		logger.String("id", parsed.ID),
		logger.String("name", parsed.Name),
		logger.Int("points", len(parsed.Points)),
		logger.Int("segments", parsed.NumSegments()),
		logger.Bool("has_elevation", parsed.HasElevation()))

	h.wsServer.Broadcast(&websocket.Message{
		Type: websocket.MessageTypeRouteLoaded,
		Data: map[string]any{
			"route_id": parsed.ID,
			"points":   len(parsed.Points),
			"segments": parsed.NumSegments(),
		},
	})

	respondJSON(w, http.StatusCreated, parsed)
}

// ListRoutes returns all routes uploaded this session
func (h *Handler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.storage.ListRoutes()
	if err != nil {
		h.logger.Error("Failed to list routes", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list routes")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"routes": routes})
}

// GetRoute returns a single route by ID
func (h *Handler) GetRoute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rt, err := h.storage.GetRoute(id)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			respondError(w, http.StatusNotFound, "route not found")
			return
		}
		h.logger.Error("Failed to load route", logger.String("id", id), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load route")
		return
	}
	respondJSON(w, http.StatusOK, rt)
}

type scoreRequest struct {
	Date             string `json:"date"` // YYYY-MM-DD
	HourIndex        int    `json:"hour_index"`
	IncludeWind      bool   `json:"include_wind"`
	IncludeElevation bool   `json:"include_elevation"`
	SampleCount      int    `json:"sample_count"`
}

type scoreResponse struct {
	RouteID                string                 `json:"route_id"`
	Date                   string                 `json:"date"`
	HourIndex              int                    `json:"hour_index"`
	Segments               []scoring.SegmentScore `json:"segments"`
	MagneticBearingsDeg    []float64              `json:"magnetic_bearings_deg"` // compass bearing per segment, aligned with Segments
	MagneticDeclinationDeg float64                `json:"magnetic_declination_deg"`
	RateLimited            bool                   `json:"rate_limited"`
}

// ScoreRoute runs a scoring pass over a stored route. Wind samples that fail
// to fetch degrade to zero wind contribution for the segments they would
// have served; the pass itself never fails because of a bad sample.
func (h *Handler) ScoreRoute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rt, err := h.storage.GetRoute(id)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			respondError(w, http.StatusNotFound, "route not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load route")
		return
	}

	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.HourIndex < 0 || req.HourIndex >= wind.HoursPerDay {
		respondError(w, http.StatusBadRequest, "hour_index must be 0-23")
		return
	}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	samples := samplePoints(rt.Points, req.SampleCount)

	var series []*wind.Series
	if req.IncludeWind {
		coords := make([][2]float64, len(samples))
		for i, p := range samples {
			coords[i] = [2]float64{p.Lat, p.Lon}
		}
		results := h.windService.ForecastForPoints(r.Context(), coords, req.Date)
		series = make([]*wind.Series, len(results))
		for i, res := range results {
			series[i] = res.Series // nil on failure: scorer treats it as calm
		}
	}

	scores := scoring.ScoreRoute(scoring.Input{
		Points:           rt.Points,
		Elevation:        rt.Elevation,
		Samples:          samples,
		Series:           series,
		HourIndex:        req.HourIndex,
		IncludeElevation: req.IncludeElevation,
		IncludeWind:      req.IncludeWind,
	})

	run := &sqlite.ScoreRun{
		RouteID:          rt.ID,
		Date:             req.Date,
		HourIndex:        req.HourIndex,
		IncludeWind:      req.IncludeWind,
		IncludeElevation: req.IncludeElevation,
		Segments:         scores,
		CreatedAt:        time.Now().UTC(),
	}
	if err := h.storage.StoreScoreRun(run); err != nil {
		h.logger.Error("Failed to store score run", logger.Error(err))
	}

	h.wsServer.Broadcast(&websocket.Message{
		Type: websocket.MessageTypeScoreUpdate,
		Data: map[string]any{"route_id": rt.ID, "hour_index": req.HourIndex},
	})

	// Segment bearings are true; the UI draws compass bearings, so convert
	// each at its own midpoint.
	day, _ := time.Parse("2006-01-02", req.Date)
	elev := firstElevation(rt)
	declination := geo.MagneticDeclination(rt.Points[0].Lat, rt.Points[0].Lon, elev, day)
	magBearings := make([]float64, len(scores))
	for i, seg := range scores {
		magBearings[i] = geo.MagneticBearing(seg.BearingDeg, seg.MidLat, seg.MidLon, elev, day)
	}

	respondJSON(w, http.StatusOK, scoreResponse{
		RouteID:                rt.ID,
		Date:                   req.Date,
		HourIndex:              req.HourIndex,
		Segments:               scores,
		MagneticBearingsDeg:    magBearings,
		MagneticDeclinationDeg: declination,
		RateLimited:            h.windService.RateLimited(),
	})
}

// GetWindPoint returns the 24-hour series for one point
func (h *Handler) GetWindPoint(w http.ResponseWriter, r *http.Request) {
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	date := r.URL.Query().Get("date")
	if err1 != nil || err2 != nil {
		respondError(w, http.StatusBadRequest, "lat and lon are required numbers")
		return
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	series, err := h.windService.ForecastForPoint(r.Context(), lat, lon, date)
	if err != nil {
		switch {
		case errors.Is(err, wind.ErrRateLimited):
			respondError(w, http.StatusTooManyRequests, "wind provider rate limit reached")
		case errors.Is(err, wind.ErrEmptyResult):
			respondError(w, http.StatusNotFound, "no wind data for this date")
		default:
			respondError(w, http.StatusBadGateway, "wind fetch failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"lat":    wind.Round4(lat),
		"lon":    wind.Round4(lon),
		"date":   date,
		"hourly": series,
	})
}

type windBatchRequest struct {
	Points [][2]float64 `json:"points"` // [lat, lon] pairs
	Date   string       `json:"date"`
}

// GetWindPoints fetches a batch of points, preserving input order. Failed
// points come back as null series with an error code instead of failing the
// batch.
func (h *Handler) GetWindPoints(w http.ResponseWriter, r *http.Request) {
	var req windBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	results := h.windService.ForecastForPoints(r.Context(), req.Points, req.Date)

	type slot struct {
		Lat    float64      `json:"lat"`
		Lon    float64      `json:"lon"`
		Series *wind.Series `json:"series"`
		Error  string       `json:"error,omitempty"`
	}
	out := make([]slot, len(results))
	for i, res := range results {
		out[i] = slot{Lat: res.Lat, Lon: res.Lon, Series: res.Series}
		if res.Err != nil {
			out[i].Error = errorCode(res.Err)
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"date":         req.Date,
		"results":      out,
		"rate_limited": h.windService.RateLimited(),
	})
}

// GetArrows builds and returns wind glyphs for a viewport
func (h *Handler) GetArrows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	swLat, e1 := strconv.ParseFloat(q.Get("sw_lat"), 64)
	swLon, e2 := strconv.ParseFloat(q.Get("sw_lon"), 64)
	neLat, e3 := strconv.ParseFloat(q.Get("ne_lat"), 64)
	neLon, e4 := strconv.ParseFloat(q.Get("ne_lon"), 64)
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
		respondError(w, http.StatusBadRequest, "sw_lat, sw_lon, ne_lat, ne_lon are required numbers")
		return
	}

	date := q.Get("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	hour, err := strconv.Atoi(q.Get("hour"))
	if err != nil || hour < 0 || hour >= wind.HoursPerDay {
		respondError(w, http.StatusBadRequest, "hour must be 0-23")
		return
	}

	cols, rows := h.arrowService.DefaultDims()
	if v, err := strconv.Atoi(q.Get("cols")); err == nil && v > 0 {
		cols = v
	}
	if v, err := strconv.Atoi(q.Get("rows")); err == nil && v > 0 {
		rows = v
	}

	bounds := arrows.Bounds{SWLat: swLat, SWLon: swLon, NELat: neLat, NELon: neLon}
	grid := arrows.BuildGrid(bounds, cols, rows)

	h.arrowService.LoadGrid(r.Context(), grid, date, h.config.Wind.BatchConcurrency)
	glyphs := h.arrowService.RenderableArrows(grid, date, hour)

	respondJSON(w, http.StatusOK, map[string]any{
		"date":   date,
		"hour":   hour,
		"arrows": glyphs,
	})
}

// GetBriefing generates an AI briefing for a route's latest score run
func (h *Handler) GetBriefing(w http.ResponseWriter, r *http.Request) {
	if h.briefingService == nil {
		respondError(w, http.StatusNotImplemented, "briefing is not enabled")
		return
	}

	id := chi.URLParam(r, "id")
	rt, err := h.storage.GetRoute(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "route not found")
		return
	}
	run, err := h.storage.GetScoreRun(id)
	if err != nil {
		respondError(w, http.StatusConflict, "route has not been scored yet")
		return
	}

	text, err := h.briefingService.Generate(r.Context(), rt, run)
	if err != nil {
		h.logger.Error("Briefing generation failed", logger.String("route_id", id), logger.Error(err))
		respondError(w, http.StatusBadGateway, "briefing generation failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"route_id": id, "briefing": text})
}

// GetStatus reports cache and rate-limit state
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"rate_limited": h.windService.RateLimited(),
		"wind_cache":   h.windService.Stats(),
		"arrow_cache":  h.arrowService.Stats(),
	})
}

// samplePoints spreads up to count sample locations evenly along the route's
// points, including the first and last when count allows. A single sample
// collapses to the route's middle point.
func samplePoints(points []route.Point, count int) []route.Point {
	if count <= 0 {
		count = defaultSampleCount
	}
	if count >= len(points) {
		out := make([]route.Point, len(points))
		copy(out, points)
		return out
	}

	if count == 1 {
		return []route.Point{points[len(points)/2]}
	}

	out := make([]route.Point, 0, count)
	step := float64(len(points)-1) / float64(count-1)
	for i := 0; i < count; i++ {
		idx := int(float64(i)*step + 0.5)
		if idx < 0 {
			idx = 0
		}
		if idx > len(points)-1 {
			idx = len(points) - 1
		}
		out = append(out, points[idx])
	}
	return out
}

func firstElevation(rt *route.Route) float64 {
	if rt.HasElevation() {
		return rt.Elevation[0]
	}
	return 0
}

func parseErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, route.ErrNoPoints):
		return http.StatusUnprocessableEntity, "no_points"
	case errors.Is(err, route.ErrInsufficientPoints):
		return http.StatusUnprocessableEntity, "insufficient_points"
	default:
		return http.StatusBadRequest, "invalid_format"
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, wind.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, wind.ErrEmptyResult):
		return "empty_result"
	default:
		return "fetch_failed"
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers are gone; nothing left to do but drop it.
		return
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
