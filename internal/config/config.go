// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing or malformed, Load returns an
// error and the process exits. Queue tuning and the reference permission
// list may additionally come from a YAML file named by CONFIG_FILE.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"smar/scraper-service/internal/model"
)

// QueueConfig tunes one queue's worker pool.
type QueueConfig struct {
	Workers       int `yaml:"workers"`
	Limit         int `yaml:"limit"`
	WindowSeconds int `yaml:"windowSeconds"`
}

// Window returns the limiter window as a duration.
func (q QueueConfig) Window() time.Duration { return time.Duration(q.WindowSeconds) * time.Second }

// Config holds all runtime configuration for the scraper service.
type Config struct {
	Port        string
	GRPCPort    string
	RedisURL    string
	DatabaseURL string // optional: run log falls back to memory
	CatalogURL  string
	Version     string

	SearchDelay       time.Duration
	DetailConcurrency int
	ScoreDescription  bool
	CacheTTL          time.Duration
	ResultTTL         time.Duration
	JobRetention      time.Duration
	RunLogRetention   time.Duration

	Queues      map[string]QueueConfig
	Permissions []string // empty: scraper.DefaultReferencePermissions
}

// fileConfig is the optional YAML overlay.
type fileConfig struct {
	Queues           map[string]QueueConfig `yaml:"queues"`
	Permissions      []string               `yaml:"permissions"`
	ScoreDescription *bool                  `yaml:"scoreDescription"`
}

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	cfg := &Config{
		Port:        envOr("SCRAPER_PORT", "8080"),
		GRPCPort:    envOr("SCRAPER_GRPC_PORT", "9090"),
		RedisURL:    redisURL,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		CatalogURL:  envOr("PLAY_API_URL", "http://localhost:3000"),
		Version:     envOr("SMAR_VERSION", "1.0.0"),
		Queues:      defaultQueues(),
	}

	n, err := intEnv("DETAIL_CONCURRENCY", 0, 0)
	if err != nil {
		return nil, err
	}
	cfg.DetailConcurrency = n

	durations := []struct {
		name string
		def  int
		low  int
		unit time.Duration
		dst  *time.Duration
	}{
		{"SEARCH_DELAY_MS", 3000, 0, time.Millisecond, &cfg.SearchDelay},
		{"CACHE_TTL_SECONDS", 3600, 1, time.Second, &cfg.CacheTTL},
		{"RESULT_TTL_SECONDS", 7 * 24 * 3600, 1, time.Second, &cfg.ResultTTL},
		{"JOB_RETENTION_HOURS", 24, 1, time.Hour, &cfg.JobRetention},
		{"RUNLOG_RETENTION_DAYS", 30, 1, 24 * time.Hour, &cfg.RunLogRetention},
	}
	for _, d := range durations {
		n, err := intEnv(d.name, d.def, d.low)
		if err != nil {
			return nil, err
		}
		*d.dst = time.Duration(n) * d.unit
	}

	if s := os.Getenv("SCORE_DESCRIPTION"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("SCORE_DESCRIPTION must be a boolean, got %q", s)
		}
		cfg.ScoreDescription = b
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) overlay(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: cannot read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("config: cannot parse %s: %w", path, err)
	}
	for name, q := range fc.Queues {
		base, ok := c.Queues[name]
		if !ok {
			return fmt.Errorf("config: unknown queue %q in %s", name, path)
		}
		if q.Workers < 0 || q.Limit < 0 || q.WindowSeconds < 0 {
			return fmt.Errorf("config: queue %q has a negative setting", name)
		}
		if q.Workers > 0 {
			base.Workers = q.Workers
		}
		if q.Limit > 0 {
			base.Limit = q.Limit
		}
		if q.WindowSeconds > 0 {
			base.WindowSeconds = q.WindowSeconds
		}
		c.Queues[name] = base
	}
	if len(fc.Permissions) > 0 {
		c.Permissions = fc.Permissions
	}
	if fc.ScoreDescription != nil {
		c.ScoreDescription = *fc.ScoreDescription
	}
	return nil
}

func defaultQueues() map[string]QueueConfig {
	def := QueueConfig{Workers: 1, Limit: 20, WindowSeconds: 60}
	return map[string]QueueConfig{
		model.KindSearch:  def,
		model.KindReviews: def,
		model.KindTopList: def,
	}
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func intEnv(name string, def, low int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < low {
		return 0, fmt.Errorf("%s must be an integer >= %d, got %q", name, low, s)
	}
	return v, nil
}
