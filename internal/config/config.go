package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/jenniferccao/wind-route-sim/internal/arrows"
	"github.com/jenniferccao/wind-route-sim/internal/wind"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server   ServerConfig   `toml:"server"`   // HTTP server settings
	Logging  LoggingConfig  `toml:"logging"`  // Application logging settings
	Wind     wind.Config    `toml:"wind"`     // Wind provider and caching settings
	Arrows   arrows.Config  `toml:"arrows"`   // Arrow grid rendering settings
	Briefing BriefingConfig `toml:"briefing"` // AI ride briefing settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // Primary HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // Origins allowed for CORS requests (["*"] for all)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Keep-alive idle timeout
	AdditionalPorts    []int    `toml:"additional_ports"`      // Additional HTTP ports to listen on
	StaticFilesDir     string   `toml:"static_files_dir"`      // Directory to serve static UI files from
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" or "console"
}

// BriefingConfig contains settings for the optional AI ride briefing
type BriefingConfig struct {
	Enabled bool   `toml:"enabled"` // Enable the briefing endpoint
	APIKey  string `toml:"api_key"` // Gemini API key (falls back to GEMINI_API_KEY env var)
	Model   string `toml:"model"`   // Model name, e.g. "gemini-2.0-flash"
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in
// order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,
		"configs/config.toml",
		"config.toml",
	}

	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate validates the configuration and applies defaults
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	portsSeen := map[int]bool{c.Server.Port: true}
	for _, p := range c.Server.AdditionalPorts {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid additional server port: %d", p)
		}
		if portsSeen[p] {
			return fmt.Errorf("duplicate port configured: %d (primary or additional)", p)
		}
		portsSeen[p] = true
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	defaults := wind.DefaultConfig()
	if c.Wind.BaseURL == "" {
		c.Wind.BaseURL = defaults.BaseURL
	}
	if c.Wind.RequestTimeoutSeconds <= 0 {
		c.Wind.RequestTimeoutSeconds = defaults.RequestTimeoutSeconds
	}
	if c.Wind.MaxRetries < 0 {
		return fmt.Errorf("wind max_retries must be 0 or greater")
	}
	if c.Wind.BatchConcurrency <= 0 {
		c.Wind.BatchConcurrency = defaults.BatchConcurrency
	}
	if c.Wind.RequestsPerSecond <= 0 {
		c.Wind.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if c.Wind.Burst <= 0 {
		c.Wind.Burst = defaults.Burst
	}

	arrowDefaults := arrows.DefaultConfig()
	if c.Arrows.DefaultCols <= 0 {
		c.Arrows.DefaultCols = arrowDefaults.DefaultCols
	}
	if c.Arrows.DefaultRows <= 0 {
		c.Arrows.DefaultRows = arrowDefaults.DefaultRows
	}
	if c.Arrows.MinGlyphPx <= 0 {
		c.Arrows.MinGlyphPx = arrowDefaults.MinGlyphPx
	}
	if c.Arrows.MaxGlyphPx <= 0 {
		c.Arrows.MaxGlyphPx = arrowDefaults.MaxGlyphPx
	}
	if c.Arrows.MaxGlyphPx < c.Arrows.MinGlyphPx {
		return fmt.Errorf("arrows max_glyph_px (%v) must not be smaller than min_glyph_px (%v)",
			c.Arrows.MaxGlyphPx, c.Arrows.MinGlyphPx)
	}

	if c.Briefing.Enabled {
		if c.Briefing.APIKey == "" {
			c.Briefing.APIKey = os.Getenv("GEMINI_API_KEY")
		}
		if c.Briefing.Model == "" {
			c.Briefing.Model = "gemini-2.0-flash"
		}
	}

	return nil
}
