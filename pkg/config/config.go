// Package config holds the scraper configuration. A Config is built
// once in main and passed into the constructors that need it; there is
// no package-level settings singleton.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the scraper.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Download DownloadConfig `yaml:"download"`
	Paths    PathsConfig    `yaml:"paths"`
	Scrape   ScrapeConfig   `yaml:"scrape"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// APIConfig configures network access to the remote service.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	UserAgent  string        `yaml:"user_agent"`
	// Connection pool ceilings.
	MaxConnections    int `yaml:"max_connections"`
	MaxConnsPerHost   int `yaml:"max_conns_per_host"`
	RequestsPerSecond int `yaml:"requests_per_second"`
	RequestBurst      int `yaml:"request_burst"`
}

// DownloadConfig configures the worker pool.
type DownloadConfig struct {
	ParallelWorkers int           `yaml:"parallel_workers"`
	RateLimitDelay  time.Duration `yaml:"rate_limit_delay"`
	SkipExisting    bool          `yaml:"skip_existing"`
	// StaleThreshold is how long an in_progress row may sit before
	// cleanup reverts it to failed.
	StaleThreshold time.Duration `yaml:"stale_threshold"`
}

// PathsConfig configures output locations. JSON, documents and the
// database all live under DataDir.
type PathsConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ScrapeConfig configures the default date range and features.
type ScrapeConfig struct {
	StartDate    string `yaml:"start_date"` // YYYY-MM-DD
	EndDate      string `yaml:"end_date"`
	DownloadPDFs bool   `yaml:"download_pdfs"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:           "https://dawson.uscourts.gov/api",
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RetryDelay:        5 * time.Second,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
			MaxConnections:    100,
			MaxConnsPerHost:   10,
			RequestsPerSecond: 10,
			RequestBurst:      20,
		},
		Download: DownloadConfig{
			ParallelWorkers: 5,
			RateLimitDelay:  200 * time.Millisecond,
			SkipExisting:    true,
			StaleThreshold:  24 * time.Hour,
		},
		Paths: PathsConfig{
			DataDir: "./data",
		},
		Scrape: ScrapeConfig{
			DownloadPDFs: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// JSONDir is where search result batches are written.
func (c *Config) JSONDir() string { return filepath.Join(c.Paths.DataDir, "json") }

// DocumentsDir is the root of the per-month PDF tree.
func (c *Config) DocumentsDir() string { return filepath.Join(c.Paths.DataDir, "documents") }

// DatabasePath is the SQLite database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "db", "dawson_scraper.db")
}

// LoadFromFile overlays values from a YAML file. A missing file is not
// an error when path is empty.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// LoadFromEnv overlays values from environment variables, using the
// documented variable names.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v, ok := envInt("MAX_RETRIES"); ok {
		c.API.MaxRetries = v
	}
	if v, ok := envSeconds("RETRY_DELAY"); ok {
		c.API.RetryDelay = v
	}
	if v, ok := envSeconds("API_TIMEOUT"); ok {
		c.API.Timeout = v
	}
	if v, ok := envInt("PARALLEL_WORKERS"); ok {
		c.Download.ParallelWorkers = v
	}
	if v, ok := envSeconds("RATE_LIMIT_DELAY"); ok {
		c.Download.RateLimitDelay = v
	}
	if v, ok := envBool("SKIP_EXISTING"); ok {
		c.Download.SkipExisting = v
	}
	if v, ok := envBool("DOWNLOAD_PDFS"); ok {
		c.Scrape.DownloadPDFs = v
	}
	if v := os.Getenv("START_DATE"); v != "" {
		c.Scrape.StartDate = v
	}
	if v := os.Getenv("END_DATE"); v != "" {
		c.Scrape.EndDate = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// envSeconds reads a duration expressed in (possibly fractional)
// seconds, e.g. RATE_LIMIT_DELAY=0.2.
func envSeconds(name string) (time.Duration, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(f * float64(time.Second)), true
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

// Validate checks the configuration, collecting all problems.
func (c *Config) Validate() error {
	var errs []error

	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("base URL is required"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("API timeout must be positive"))
	}
	if c.API.MaxRetries < 1 {
		errs = append(errs, errors.New("max retries must be at least 1"))
	}
	if c.Download.ParallelWorkers < 1 || c.Download.ParallelWorkers > 20 {
		errs = append(errs, errors.New("parallel workers must be between 1 and 20"))
	}
	if c.Download.RateLimitDelay < 0 {
		errs = append(errs, errors.New("rate limit delay cannot be negative"))
	}
	if c.Paths.DataDir == "" {
		errs = append(errs, errors.New("data directory is required"))
	}
	if c.Scrape.StartDate != "" {
		if _, err := ParseDate(c.Scrape.StartDate); err != nil {
			errs = append(errs, fmt.Errorf("invalid start date: %w", err))
		}
	}
	if c.Scrape.EndDate != "" {
		if _, err := ParseDate(c.Scrape.EndDate); err != nil {
			errs = append(errs, fmt.Errorf("invalid end date: %w", err))
		}
	}

	return errors.Join(errs...)
}

// ParseDate accepts the date formats operators commonly paste in.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "01/02/2006", "2006/01/02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date %q", s)
}

// Load builds the effective configuration: defaults, then the YAML
// file, then .env, then environment variables.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := Default()
	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, err
	}
	cfg.LoadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}
