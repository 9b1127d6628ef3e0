package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultSeeds are well-known titles the crawl starts from.
var DefaultSeeds = []string{
	"tt0111161",
	"tt0068646",
	"tt0468569",
	"tt0071562",
	"tt0050083",
	"tt0108052",
	"tt0167260",
	"tt0110912",
	"tt0120737",
	"tt0060196",
}

// Config holds harvester configuration.
type Config struct {
	BaseURL     string   `mapstructure:"base_url"`
	DetailPath  string   `mapstructure:"detail_path"`
	RelatedPath string   `mapstructure:"related_path"`
	Seeds       []string `mapstructure:"seeds"`

	TargetCount     int     `mapstructure:"target_count"`
	MinYear         int     `mapstructure:"min_year"`
	MinRating       float64 `mapstructure:"min_rating"`
	MinVotes        int     `mapstructure:"min_votes"`
	MaxDepth        int     `mapstructure:"max_depth"`
	CheckpointEvery int     `mapstructure:"checkpoint_every"`

	OutputDir  string `mapstructure:"output_dir"`
	OutputFile string `mapstructure:"output_file"`
	ExportCSV  string `mapstructure:"export_csv"`

	CachePath    string `mapstructure:"cache_path"`
	CacheTTLDays int    `mapstructure:"cache_ttl_days"`
	CacheHotSize int    `mapstructure:"cache_hot_size"`

	Concurrency      int           `mapstructure:"concurrency"`
	Timeout          time.Duration `mapstructure:"timeout"`
	PolitenessMin    time.Duration `mapstructure:"politeness_min"`
	PolitenessMax    time.Duration `mapstructure:"politeness_max"`
	RateLimit        float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	UserAgent        string        `mapstructure:"user_agent"`
	RespectRobotsTxt bool          `mapstructure:"respect_robots_txt"`

	ProfileBaseURL  string `mapstructure:"profile_base_url"`
	ProfileMaxPages int    `mapstructure:"profile_max_pages"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	Verbose     bool   `mapstructure:"verbose"`
}

// ConfigError reports an unusable configuration value. It is fatal at startup.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func invalid(field, format string, args ...any) error {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// DefaultConfig returns conservative defaults for the public title catalogue.
func DefaultConfig() *Config {
	seeds := make([]string, len(DefaultSeeds))
	copy(seeds, DefaultSeeds)

	return &Config{
		BaseURL:          "https://www.imdb.com",
		DetailPath:       "/title/%s/",
		RelatedPath:      "/title/%s/",
		Seeds:            seeds,
		TargetCount:      2000,
		MinYear:          1950,
		MinRating:        6.0,
		MinVotes:         1000,
		MaxDepth:         5,
		CheckpointEvery:  50,
		OutputDir:        "data",
		OutputFile:       "movie_database.json",
		CachePath:        ".cache/titles.db",
		CacheTTLDays:     30,
		CacheHotSize:     1024,
		Concurrency:      5,
		Timeout:          30 * time.Second,
		PolitenessMin:    1 * time.Second,
		PolitenessMax:    3 * time.Second,
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		ProfileBaseURL:   "https://letterboxd.com",
		ProfileMaxPages:  0,
		RespectRobotsTxt: false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if err := validateURL("base_url", c.BaseURL); err != nil {
		return err
	}
	if err := validateURL("profile_base_url", c.ProfileBaseURL); err != nil {
		return err
	}
	if !strings.Contains(c.DetailPath, "%s") {
		return invalid("detail_path", "must contain %%s placeholder")
	}
	if !strings.Contains(c.RelatedPath, "%s") {
		return invalid("related_path", "must contain %%s placeholder")
	}
	if len(c.Seeds) == 0 {
		return invalid("seeds", "at least one seed id is required")
	}

	if c.TargetCount <= 0 {
		return invalid("target_count", "must be positive")
	}
	if c.MinYear < 1900 || c.MinYear > 2030 {
		return invalid("min_year", "must be within [1900, 2030], got %d", c.MinYear)
	}
	if c.MinRating < 0 || c.MinRating > 10 {
		return invalid("min_rating", "must be within [0, 10], got %g", c.MinRating)
	}
	if c.MinVotes < 0 {
		return invalid("min_votes", "cannot be negative")
	}
	if c.MaxDepth < 0 {
		return invalid("max_depth", "cannot be negative")
	}
	if c.CheckpointEvery <= 0 {
		return invalid("checkpoint_every", "must be positive")
	}

	if strings.TrimSpace(c.OutputDir) == "" {
		return invalid("output_dir", "cannot be empty")
	}
	if strings.TrimSpace(c.OutputFile) == "" {
		return invalid("output_file", "cannot be empty")
	}
	if strings.TrimSpace(c.CachePath) == "" {
		return invalid("cache_path", "cannot be empty")
	}
	if c.CacheTTLDays <= 0 {
		return invalid("cache_ttl_days", "must be positive")
	}
	if c.CacheHotSize <= 0 {
		return invalid("cache_hot_size", "must be positive")
	}

	if c.Concurrency <= 0 {
		return invalid("concurrency", "must be positive")
	}
	if c.Timeout <= 0 {
		return invalid("timeout", "must be positive")
	}
	if c.PolitenessMin < 0 || c.PolitenessMax < 0 {
		return invalid("politeness", "delay cannot be negative")
	}
	if c.PolitenessMin > c.PolitenessMax {
		return invalid("politeness", "min (%s) cannot exceed max (%s)", c.PolitenessMin, c.PolitenessMax)
	}
	if c.RateLimit < 0 {
		return invalid("rate_limit", "cannot be negative")
	}
	if c.ProfileMaxPages < 0 {
		return invalid("profile_max_pages", "cannot be negative")
	}
	if c.UserAgent == "" {
		return invalid("user_agent", "cannot be empty")
	}

	return nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return invalid(field, "cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return &ConfigError{Field: field, Err: err}
	}
	if parsed.Host == "" {
		return invalid(field, "must include a host")
	}
	return nil
}

// CacheTTL converts the configured day count into a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLDays) * 24 * time.Hour
}

// OutputPath is the snapshot file location.
func (c *Config) OutputPath() string {
	return filepath.Join(c.OutputDir, c.OutputFile)
}

// DetailURL resolves the detail page for an id.
func (c *Config) DetailURL(id string) string {
	return strings.TrimSuffix(c.BaseURL, "/") + fmt.Sprintf(c.DetailPath, id)
}

// RelatedURL resolves the related-titles page for an id.
func (c *Config) RelatedURL(id string) string {
	return strings.TrimSuffix(c.BaseURL, "/") + fmt.Sprintf(c.RelatedPath, id)
}

// EnsureOutputDir creates the output directory and proves it is writable.
func (c *Config) EnsureOutputDir() error {
	if err := os.MkdirAll(c.OutputDir, 0o755); err != nil {
		return &ConfigError{Field: "output_dir", Err: err}
	}
	probe, err := os.CreateTemp(c.OutputDir, ".write-check-*")
	if err != nil {
		return &ConfigError{Field: "output_dir", Err: fmt.Errorf("not writable: %w", err)}
	}
	name := probe.Name()
	probe.Close()
	if err := os.Remove(name); err != nil {
		return &ConfigError{Field: "output_dir", Err: err}
	}
	return nil
}
