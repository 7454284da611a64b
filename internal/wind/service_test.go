package wind

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jenniferccao/wind-route-sim/pkg/logger"
)

const testDate = "2026-06-01"

func testConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.MaxRetries = 0
	cfg.RequestTimeoutSeconds = 5
	cfg.RequestsPerSecond = 1000
	cfg.Burst = 1000
	return cfg
}

func newTestService(t *testing.T, handler http.HandlerFunc) (*Service, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := testConfig(server.URL)
	log := logger.NewNop()
	client := NewClient(cfg, log)
	return NewService(cfg, client, log), server
}

func forecastHandler(speedKmh, directionDeg float64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		times := make([]string, HoursPerDay)
		speeds := make([]float64, HoursPerDay)
		dirs := make([]float64, HoursPerDay)
		for h := 0; h < HoursPerDay; h++ {
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
}

func TestForecastForPointCaches(t *testing.T) {
	var requests int32
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		forecastHandler(12, 270)(w, r)
	})

	ctx := context.Background()
	first, err := svc.ForecastForPoint(ctx, 45.5, -73.6, testDate)
	if err != nil {
		t.Fatalf("ForecastForPoint() error = %v", err)
	}
	if entry := first.At(10); entry == nil || entry.SpeedKmh != 12 {
		t.Fatalf("At(10) = %+v, want speed 12", entry)
	}

	// Coordinates within 4-decimal rounding of the first call must hit the
	// cache, not the provider.
	if _, err := svc.ForecastForPoint(ctx, 45.50004, -73.60004, testDate); err != nil {
		t.Fatalf("second ForecastForPoint() error = %v", err)
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("provider saw %d requests, want 1", n)
	}
}

func TestForecastForPointDeduplicatesConcurrent(t *testing.T) {
	var requests int32
	release := make(chan struct{})
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		<-release
		forecastHandler(10, 0)(w, r)
	})

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ForecastForPoint(context.Background(), 45.5, -73.6, testDate)
		}(i)
	}

	// Let all callers pile onto the single in-flight request.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d error = %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("provider saw %d requests, want 1 (concurrent callers must join)", n)
	}
}

func TestForecastForPointRateLimited(t *testing.T) {
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := svc.ForecastForPoint(context.Background(), 45.5, -73.6, testDate)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
	if !svc.RateLimited() {
		t.Error("RateLimited() = false after a 429")
	}
}

func TestForecastForPointRateLimitedInBody(t *testing.T) {
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error":  true,
			"reason": "Minutely API request limit exceeded",
		})
	})

	_, err := svc.ForecastForPoint(context.Background(), 45.5, -73.6, testDate)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited for 200 body with limit reason", err)
	}
}

func TestForecastForPointEmptyResult(t *testing.T) {
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"hourly": map[string]any{"time": []string{}},
		})
	})

	_, err := svc.ForecastForPoint(context.Background(), 45.5, -73.6, testDate)
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("error = %v, want ErrEmptyResult", err)
	}
}

func TestFailedFetchIsRetryable(t *testing.T) {
	var requests int32
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		forecastHandler(10, 0)(w, r)
	})

	ctx := context.Background()
	if _, err := svc.ForecastForPoint(ctx, 45.5, -73.6, testDate); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("first call error = %v, want ErrRateLimited", err)
	}

	// A failure must not poison the key: the next miss tries again.
	series, err := svc.ForecastForPoint(ctx, 45.5, -73.6, testDate)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if series.IsEmpty() {
		t.Error("second call returned an empty series")
	}
	if svc.RateLimited() {
		t.Error("RateLimited() = true after a successful fetch")
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	states []bool
}

func (n *recordingNotifier) RateLimitStateChanged(limited bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, limited)
}

func (n *recordingNotifier) snapshot() []bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]bool, len(n.states))
	copy(out, n.states)
	return out
}

func TestNotifierSeesTransitionsOnly(t *testing.T) {
	var limited atomic.Bool
	limited.Store(true)
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if limited.Load() {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		forecastHandler(10, 0)(w, r)
	})

	notifier := &recordingNotifier{}
	svc.SetNotifier(notifier)

	ctx := context.Background()
	svc.ForecastForPoint(ctx, 1, 1, testDate)
	svc.ForecastForPoint(ctx, 2, 2, testDate) // still limited: no second notification
	limited.Store(false)
	svc.ForecastForPoint(ctx, 3, 3, testDate)

	// Notifications are delivered asynchronously.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(notifier.snapshot()) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	got := notifier.snapshot()
	want := []bool{true, false}
	if len(got) != len(want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("notifications = %v, want %v", got, want)
		}
	}
}

func TestForecastForPointsOrderAndPartialFailure(t *testing.T) {
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		// The second point's latitude triggers a failure.
		if r.URL.Query().Get("latitude") == "50" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		forecastHandler(10, 0)(w, r)
	})

	points := [][2]float64{{45, -73}, {50, -73}, {46, -74}}
	results := svc.ForecastForPoints(context.Background(), points, testDate)

	if len(results) != len(points) {
		t.Fatalf("got %d results, want %d", len(results), len(points))
	}
	for i, p := range points {
		if results[i].Lat != p[0] || results[i].Lon != p[1] {
			t.Errorf("result %d is (%v,%v), want (%v,%v): order must be preserved",
				i, results[i].Lat, results[i].Lon, p[0], p[1])
		}
	}
	if results[0].Err != nil || results[0].Series == nil {
		t.Errorf("result 0 = %+v, want success", results[0])
	}
	if !errors.Is(results[1].Err, ErrRateLimited) || results[1].Series != nil {
		t.Errorf("result 1 err = %v, want ErrRateLimited with nil series", results[1].Err)
	}
	if results[2].Err != nil || results[2].Series == nil {
		t.Errorf("result 2 = %+v, want success", results[2])
	}
}

func TestForecastForPointsBoundsConcurrency(t *testing.T) {
	var current, peak int32
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		forecastHandler(10, 0)(w, r)
	})

	points := make([][2]float64, 9)
	for i := range points {
		points[i] = [2]float64{float64(i), float64(i)}
	}
	svc.ForecastForPoints(context.Background(), points, testDate)

	if p := atomic.LoadInt32(&peak); p > int32(svc.config.BatchConcurrency) {
		t.Errorf("peak concurrency = %d, want <= %d", p, svc.config.BatchConcurrency)
	}
}
