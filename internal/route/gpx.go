package route

import (
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Parse error taxonomy. A parse failure is fatal to the current load attempt;
// callers keep their previous route state.
var (
	ErrInvalidFormat      = errors.New("invalid GPX document")
	ErrNoPoints           = errors.New("no track or route points in GPX document")
	ErrInsufficientPoints = errors.New("fewer than 2 valid points in GPX document")
)

type gpxDocument struct {
	XMLName xml.Name   `xml:"gpx"`
	Tracks  []gpxTrack `xml:"trk"`
	Routes  []gpxRoute `xml:"rte"`
}

type gpxTrack struct {
	Name     string       `xml:"name"`
	Segments []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxRoute struct {
	Name   string     `xml:"name"`
	Points []gpxPoint `xml:"rtept"`
}

type gpxPoint struct {
	Lat string `xml:"lat,attr"`
	Lon string `xml:"lon,attr"`
	Ele string `xml:"ele"`
}

// ParseGPX parses raw GPX text into a Route. Track points are preferred;
// route points are the fallback when the document carries no tracks. When
// multiple tracks exist, the one with the most points wins (first encountered
// on ties) and the rest are discarded, since scoring needs a single
// contiguous path. Points whose coordinates do not parse as finite numbers
// are dropped. The elevation profile is populated only when every retained
// point carries a parseable elevation.
func ParseGPX(raw string) (*Route, error) {
	var doc gpxDocument
	if err := xml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	name, points := selectPoints(&doc)
	if points == nil {
		return nil, ErrNoPoints
	}

	coords := make([]Point, 0, len(points))
	elevation := make([]float64, 0, len(points))
	elevationComplete := true

	for _, p := range points {
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(p.Lat), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(p.Lon), 64)
		if latErr != nil || lonErr != nil || !isFinite(lat) || !isFinite(lon) {
			continue
		}
		coords = append(coords, Point{Lat: lat, Lon: lon})

		ele, eleErr := strconv.ParseFloat(strings.TrimSpace(p.Ele), 64)
		if eleErr != nil || !isFinite(ele) {
			elevationComplete = false
			continue
		}
		elevation = append(elevation, ele)
	}

	if len(coords) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientPoints, len(coords))
	}

	r := &Route{
		Name:   name,
		Points: coords,
	}
	if elevationComplete && len(elevation) == len(coords) {
		r.Elevation = elevation
	}
	return r, nil
}

// selectPoints picks the point source for the document: the largest track, or
// the largest rte element when no track points exist. Returns nil when the
// document contains neither.
func selectPoints(doc *gpxDocument) (string, []gpxPoint) {
	var bestName string
	var best []gpxPoint

	for _, trk := range doc.Tracks {
		var merged []gpxPoint
		for _, seg := range trk.Segments {
			merged = append(merged, seg.Points...)
		}
		if len(merged) > len(best) {
			best = merged
			bestName = trk.Name
		}
	}
	if best != nil {
		return bestName, best
	}

	for _, rte := range doc.Routes {
		if len(rte.Points) > len(best) {
			best = rte.Points
			bestName = rte.Name
		}
	}
	return bestName, best
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
