package wind

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jenniferccao/wind-route-sim/pkg/logger"
	"golang.org/x/time/rate"
)

// Config holds the wind provider and fetch settings.
type Config struct {
	BaseURL               string  `toml:"base_url"`                // Forecast API base URL (Open-Meteo compatible)
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds"` // HTTP timeout per request
	MaxRetries            int     `toml:"max_retries"`             // Retries for transport errors and 5xx (never for rate limits)
	BatchConcurrency      int     `toml:"batch_concurrency"`       // Max simultaneous requests in a batch fetch
	RequestsPerSecond     float64 `toml:"requests_per_second"`     // Client-side limiter feeding the provider
	Burst                 int     `toml:"burst"`                   // Limiter burst size
}

// DefaultConfig returns the default wind configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:               "https://api.open-meteo.com",
		RequestTimeoutSeconds: 15,
		MaxRetries:            2,
		BatchConcurrency:      3,
		RequestsPerSecond:     5,
		Burst:                 5,
	}
}

// Client fetches hourly wind forecasts from the provider. A token-bucket
// limiter sits in front of every request so bursts of cache misses don't
// trip the provider's quota in the first place.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

// NewClient creates a new wind provider client.
func NewClient(config Config, log *logger.Logger) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.RequestTimeoutSeconds) * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		logger:  log.Named("wind-client"),
	}
}

// forecastResponse mirrors the provider's JSON body. The provider signals
// some errors with HTTP 200 plus an error flag and reason string.
type forecastResponse struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
	Hourly struct {
		Time         []string  `json:"time"`
		WindSpeed10m []float64 `json:"windspeed_10m"`
		WindDir10m   []float64 `json:"winddirection_10m"`
	} `json:"hourly"`
}

// FetchSeries fetches the 24-hour wind series for one already-rounded
// coordinate and calendar date (YYYY-MM-DD). Returns ErrRateLimited when the
// provider signals quota exhaustion and ErrEmptyResult when the date has no
// hourly data.
func (c *Client) FetchSeries(ctx context.Context, lat, lon float64, date string) (Series, error) {
	url := fmt.Sprintf(
		"%s/v1/forecast?latitude=%v&longitude=%v&hourly=windspeed_10m,winddirection_10m&start_date=%s&end_date=%s&timezone=auto&wind_speed_unit=kmh",
		c.config.BaseURL, lat, lon, date, date)

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(500*(1<<uint(attempt-1))) * time.Millisecond
			c.logger.Info("Retrying wind fetch",
				logger.Float64("lat", lat),
				logger.Float64("lon", lon),
				logger.Int("attempt", attempt),
				logger.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Series{}, ctx.Err()
			}
		}

		series, retryable, err := c.fetchOnce(ctx, url, lat, lon, date)
		if err == nil {
			return series, nil
		}
		lastErr = err
		if !retryable {
			return Series{}, err
		}
	}

	c.logger.Error("All attempts to fetch wind data failed",
		logger.Float64("lat", lat),
		logger.Float64("lon", lon),
		logger.String("date", date),
		logger.Error(lastErr),
		logger.Int("max_attempts", c.config.MaxRetries+1))
	return Series{}, lastErr
}

// fetchOnce performs a single provider request. The second return value says
// whether a failure is worth retrying: transport errors and 5xx are,
// rate limits and malformed/empty payloads are not.
func (c *Client) fetchOnce(ctx context.Context, url string, lat, lon float64, date string) (Series, bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Series{}, false, fmt.Errorf("rate limit wait canceled: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Series{}, false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Wind API request failed, may retry",
			logger.Float64("lat", lat),
			logger.Float64("lon", lon),
			logger.Error(err))
		return Series{}, true, fmt.Errorf("error making request to wind API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Series{}, false, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500
		return Series{}, retryable, fmt.Errorf("unexpected status code from wind API: %d", resp.StatusCode)
	}

	var body forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Series{}, false, fmt.Errorf("error decoding wind data: %w", err)
	}

	// Some quota responses come back as HTTP 200 with an error payload.
	if body.Error {
		if strings.Contains(strings.ToLower(body.Reason), "limit") {
			return Series{}, false, ErrRateLimited
		}
		return Series{}, false, fmt.Errorf("wind API error: %s", body.Reason)
	}

	if len(body.Hourly.Time) == 0 {
		return Series{}, false, fmt.Errorf("%w for %s", ErrEmptyResult, date)
	}

	return decodeSeries(&body), false, nil
}

// decodeSeries maps the provider's parallel arrays into the fixed 24-slot
// series, keyed by each timestamp's hour-of-day. Entries whose timestamp
// doesn't parse, or whose speed/direction slot is missing, stay nil.
func decodeSeries(body *forecastResponse) Series {
	var s Series
	for i, ts := range body.Hourly.Time {
		t, err := time.Parse("2006-01-02T15:04", ts)
		if err != nil {
			continue
		}
		hour := t.Hour()
		if hour < 0 || hour >= HoursPerDay {
			continue
		}
		if i >= len(body.Hourly.WindSpeed10m) || i >= len(body.Hourly.WindDir10m) {
			continue
		}
		s[hour] = &Hourly{
			Time:         ts,
			SpeedKmh:     body.Hourly.WindSpeed10m[i],
			DirectionDeg: body.Hourly.WindDir10m[i],
		}
	}
	return s
}
