package briefing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/jenniferccao/wind-route-sim/internal/route"
	"github.com/jenniferccao/wind-route-sim/internal/storage/sqlite"
	"github.com/jenniferccao/wind-route-sim/pkg/logger"
)

// Service generates plain-text ride briefings from a scored route using the
// Gemini API. It is optional: the server runs without it when no API key is
// configured.
type Service struct {
	client *genai.Client
	model  string
	logger *logger.Logger
}

// NewService creates the briefing service and its Gemini client.
func NewService(ctx context.Context, apiKey, model string, log *logger.Logger) (*Service, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("briefing requires an API key")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Service{
		client: client,
		model:  model,
		logger: log.Named("briefing"),
	}, nil
}

// Generate produces a short briefing for a route and its latest score run.
func (s *Service) Generate(ctx context.Context, r *route.Route, run *sqlite.ScoreRun) (string, error) {
	start := time.Now()

	prompt := buildPrompt(r, run)
	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("briefing generation failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("briefing generation returned no text")
	}

	s.logger.Info("Briefing generated",
		logger.String("route_id", r.ID),
		logger.Duration("duration", time.Since(start)))
	return text, nil
}

// buildPrompt summarizes the scored route into a compact prompt. Only
// aggregates go in: per-segment dumps blow past useful prompt sizes on long
// routes.
func buildPrompt(r *route.Route, run *sqlite.ScoreRun) string {
	var totalDist, maxScore, avgScore, worstHeadwind, totalClimbPen float64
	hardSegments := 0
	for _, seg := range run.Segments {
		totalDist += seg.DistanceM
		avgScore += seg.Score
		totalClimbPen += seg.ClimbPen
		if seg.Score > maxScore {
			maxScore = seg.Score
		}
		if seg.HeadwindKmh > worstHeadwind {
			worstHeadwind = seg.HeadwindKmh
		}
		if seg.Score > 0.7 {
			hardSegments++
		}
	}
	if len(run.Segments) > 0 {
		avgScore /= float64(len(run.Segments))
	}

	var b strings.Builder
	b.WriteString("You are a cycling coach. Write a brief, practical ride briefing (3-5 sentences, plain text) for this route and forecast:\n")
	fmt.Fprintf(&b, "- Route: %q, %.1f km, %d segments\n", r.Name, totalDist/1000, len(run.Segments))
	fmt.Fprintf(&b, "- Date %s, start hour %02d:00\n", run.Date, run.HourIndex)
	fmt.Fprintf(&b, "- Worst headwind on any segment: %.0f km/h\n", worstHeadwind)
	fmt.Fprintf(&b, "- Average difficulty %.2f of 1.0, %d segments above 0.7\n", avgScore, hardSegments)
	if run.IncludeElevation && totalClimbPen > 0 {
		b.WriteString("- The route includes scored climbs\n")
	}
	b.WriteString("Mention when to expect the hardest stretches and any pacing advice. Do not use markdown.")
	return b.String()
}
