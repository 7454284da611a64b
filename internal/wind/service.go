package wind

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jenniferccao/wind-route-sim/pkg/logger"
	"golang.org/x/sync/semaphore"
)

// StatusNotifier receives rate-limit state transitions. The production
// subscriber is the websocket hub; tests use a recording stub.
type StatusNotifier interface {
	RateLimitStateChanged(limited bool)
}

type inflightCall struct {
	done   chan struct{}
	series Series
	err    error
}

// Service is the point-level wind cache. Entries are keyed by 4-decimal
// rounded location plus date and, once populated, live for the whole process
// session (same key means same forecast within a session). At most one
// provider request is ever in flight per key: concurrent requesters join the
// pending call and observe its result.
type Service struct {
	config   Config
	client   *Client
	logger   *logger.Logger
	notifier StatusNotifier

	mu       sync.Mutex
	cache    map[string]Series
	inflight map[string]*inflightCall
	limited  bool
	hits     int
	misses   int
}

// NewService creates a new wind cache service around the given client.
func NewService(config Config, client *Client, log *logger.Logger) *Service {
	return &Service{
		config:   config,
		client:   client,
		logger:   log.Named("wind-cache"),
		cache:    make(map[string]Series),
		inflight: make(map[string]*inflightCall),
	}
}

// SetNotifier registers the rate-limit state observer.
func (s *Service) SetNotifier(n StatusNotifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// ForecastForPoint returns the 24-hour wind series for a point and date,
// fetching from the provider on a cache miss. The caller's context only
// bounds how long this call waits: an in-flight fetch is never aborted
// mid-request, so the cache still gets populated for future callers even
// when the original requester has gone away.
func (s *Service) ForecastForPoint(ctx context.Context, lat, lon float64, date string) (Series, error) {
	key := PointKey(lat, lon, date)

	s.mu.Lock()
	if series, ok := s.cache[key]; ok {
		s.hits++
		s.mu.Unlock()
		return series, nil
	}
	s.misses++

	if call, ok := s.inflight[key]; ok {
		// Join the pending request instead of issuing a duplicate.
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.series, call.err
		case <-ctx.Done():
			return Series{}, ctx.Err()
		}
	}

	call := &inflightCall{done: make(chan struct{})}
	s.inflight[key] = call
	s.mu.Unlock()

	go s.fetch(call, key, Round4(lat), Round4(lon), date)

	select {
	case <-call.done:
		return call.series, call.err
	case <-ctx.Done():
		return Series{}, ctx.Err()
	}
}

// fetch runs the single provider request for a key and settles the in-flight
// call. It deliberately uses its own context: joiners cancelling must not
// kill the request for everyone else.
func (s *Service) fetch(call *inflightCall, key string, lat, lon float64, date string) {
	fetchCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(s.config.RequestTimeoutSeconds*(s.config.MaxRetries+2))*time.Second)
	defer cancel()

	series, err := s.client.FetchSeries(fetchCtx, lat, lon, date)

	s.mu.Lock()
	if err == nil {
		s.cache[key] = series
	}
	// Remove the in-flight marker on success or failure so a future miss can
	// retry. Rate-limit failures in particular must stay retryable.
	delete(s.inflight, key)
	s.updateLimitedLocked(errors.Is(err, ErrRateLimited))
	s.mu.Unlock()

	call.series = series
	call.err = err
	close(call.done)

	if err != nil {
		s.logger.Warn("Wind fetch failed",
			logger.String("key", key),
			logger.Error(err))
	}
}

// updateLimitedLocked flips the rate-limited flag and notifies the observer
// on transitions. Caller holds s.mu.
func (s *Service) updateLimitedLocked(limited bool) {
	if limited == s.limited {
		return
	}
	s.limited = limited
	s.logger.Info("Rate limit state changed", logger.Bool("limited", limited))
	if s.notifier != nil {
		go s.notifier.RateLimitStateChanged(limited)
	}
}

// RateLimited reports whether the most recent provider response indicated
// quota exhaustion.
func (s *Service) RateLimited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limited
}

// ForecastForPoints fetches a list of points with at most BatchConcurrency
// requests in flight at once. The result slice matches the input order
// regardless of completion order, and a failed point yields a nil Series
// with its error rather than aborting the batch.
func (s *Service) ForecastForPoints(ctx context.Context, points [][2]float64, date string) []PointResult {
	concurrency := int64(s.config.BatchConcurrency)
	if concurrency <= 0 {
		concurrency = 3
	}
	sem := semaphore.NewWeighted(concurrency)

	results := make([]PointResult, len(points))
	var wg sync.WaitGroup

	for i, p := range points {
		results[i] = PointResult{Lat: p[0], Lon: p[1]}

		if err := sem.Acquire(ctx, 1); err != nil {
			results[i].Err = err
			continue
		}

		wg.Add(1)
		go func(i int, lat, lon float64) {
			defer wg.Done()
			defer sem.Release(1)

			series, err := s.ForecastForPoint(ctx, lat, lon, date)
			if err != nil {
				results[i].Err = err
				return
			}
			results[i].Series = &series
		}(i, p[0], p[1])
	}

	wg.Wait()
	return results
}

// Stats returns cache statistics for the status endpoint.
func (s *Service) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"entries":      len(s.cache),
		"in_flight":    len(s.inflight),
		"hits":         s.hits,
		"misses":       s.misses,
		"rate_limited": s.limited,
	}
}
