package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jenniferccao/wind-route-sim/internal/route"
	"github.com/jenniferccao/wind-route-sim/internal/scoring"
	"github.com/jenniferccao/wind-route-sim/pkg/logger"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a route or score run doesn't exist.
var ErrNotFound = errors.New("not found")

// ScoreRun is the persisted result of one scoring pass over a route.
type ScoreRun struct {
	RouteID          string                 `json:"route_id"`
	Date             string                 `json:"date"`
	HourIndex        int                    `json:"hour_index"`
	IncludeWind      bool                   `json:"include_wind"`
	IncludeElevation bool                   `json:"include_elevation"`
	Segments         []scoring.SegmentScore `json:"segments"`
	CreatedAt        time.Time              `json:"created_at"`
}

// RouteStorage keeps the session's uploaded routes and their latest score
// runs. The database is in-memory: nothing survives a process restart.
type RouteStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewRouteStorage opens the session database and creates the schema.
func NewRouteStorage(log *logger.Logger) (*RouteStorage, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	// One connection only: each pool connection would otherwise get its own
	// private in-memory database.
	db.SetMaxOpenConns(1)

	storage := &RouteStorage{
		db:     db,
		logger: log.Named("sqlite-routes"),
	}

	if err := storage.initDB(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *RouteStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS routes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			points TEXT NOT NULL,
			elevation TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create routes table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS score_runs (
			route_id TEXT PRIMARY KEY,
			date TEXT NOT NULL,
			hour_index INTEGER NOT NULL,
			include_wind BOOLEAN NOT NULL,
			include_elevation BOOLEAN NOT NULL,
			segments TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (route_id) REFERENCES routes(id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create score_runs table: %w", err)
	}

	return nil
}

// StoreRoute stores an uploaded route
func (s *RouteStorage) StoreRoute(r *route.Route) error {
	points, err := json.Marshal(r.Points)
	if err != nil {
		return fmt.Errorf("failed to marshal points: %w", err)
	}

	var elevation []byte
	if r.HasElevation() {
		elevation, err = json.Marshal(r.Elevation)
		if err != nil {
			return fmt.Errorf("failed to marshal elevation: %w", err)
		}
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO routes (id, name, created_at, points, elevation) VALUES (?, ?, ?, ?, ?)`,
		r.ID,
		r.Name,
		r.CreatedAt.Format(time.RFC3339),
		string(points),
		nullableString(elevation),
	)
	if err != nil {
		return fmt.Errorf("failed to insert route: %w", err)
	}

	s.logger.Debug("Route stored",
		logger.String("id", r.ID),
		logger.Int("points", len(r.Points)),
		logger.Bool("has_elevation", r.HasElevation()))
	return nil
}

// GetRoute returns a route by ID
func (s *RouteStorage) GetRoute(id string) (*route.Route, error) {
	row := s.db.QueryRow(`SELECT id, name, created_at, points, elevation FROM routes WHERE id = ?`, id)

	var r route.Route
	var createdAt string
	var points string
	var elevation sql.NullString

	if err := row.Scan(&r.ID, &r.Name, &createdAt, &points, &elevation); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query route: %w", err)
	}

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		r.CreatedAt = t
	}
	if err := json.Unmarshal([]byte(points), &r.Points); err != nil {
		return nil, fmt.Errorf("failed to unmarshal points: %w", err)
	}
	if elevation.Valid && elevation.String != "" {
		if err := json.Unmarshal([]byte(elevation.String), &r.Elevation); err != nil {
			return nil, fmt.Errorf("failed to unmarshal elevation: %w", err)
		}
	}

	return &r, nil
}

// ListRoutes returns all routes uploaded this session, newest first
func (s *RouteStorage) ListRoutes() ([]*route.Route, error) {
	rows, err := s.db.Query(`SELECT id, name, created_at, points, elevation FROM routes ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	defer rows.Close()

	var routes []*route.Route
	for rows.Next() {
		var r route.Route
		var createdAt string
		var points string
		var elevation sql.NullString

		if err := rows.Scan(&r.ID, &r.Name, &createdAt, &points, &elevation); err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			r.CreatedAt = t
		}
		if err := json.Unmarshal([]byte(points), &r.Points); err != nil {
			return nil, fmt.Errorf("failed to unmarshal points: %w", err)
		}
		if elevation.Valid && elevation.String != "" {
			if err := json.Unmarshal([]byte(elevation.String), &r.Elevation); err != nil {
				return nil, fmt.Errorf("failed to unmarshal elevation: %w", err)
			}
		}
		routes = append(routes, &r)
	}

	return routes, rows.Err()
}

// StoreScoreRun upserts the latest score run for a route
func (s *RouteStorage) StoreScoreRun(run *ScoreRun) error {
	segments, err := json.Marshal(run.Segments)
	if err != nil {
		return fmt.Errorf("failed to marshal segments: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO score_runs
		(route_id, date, hour_index, include_wind, include_elevation, segments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RouteID,
		run.Date,
		run.HourIndex,
		run.IncludeWind,
		run.IncludeElevation,
		string(segments),
		run.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert score run: %w", err)
	}

	return nil
}

// GetScoreRun returns the latest score run for a route
func (s *RouteStorage) GetScoreRun(routeID string) (*ScoreRun, error) {
	row := s.db.QueryRow(
		`SELECT route_id, date, hour_index, include_wind, include_elevation, segments, created_at
		FROM score_runs WHERE route_id = ?`, routeID)

	var run ScoreRun
	var segments string
	var createdAt string

	if err := row.Scan(&run.RouteID, &run.Date, &run.HourIndex, &run.IncludeWind,
		&run.IncludeElevation, &segments, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query score run: %w", err)
	}

	if err := json.Unmarshal([]byte(segments), &run.Segments); err != nil {
		return nil, fmt.Errorf("failed to unmarshal segments: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		run.CreatedAt = t
	}

	return &run, nil
}

// Close closes the database
func (s *RouteStorage) Close() error {
	return s.db.Close()
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
