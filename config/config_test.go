package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "zero concurrency",
			mutate: func(cfg *Config) {
				cfg.Concurrency = 0
			},
			wantErr: "concurrency",
		},
		{
			name: "negative max depth",
			mutate: func(cfg *Config) {
				cfg.MaxDepth = -1
			},
			wantErr: "max_depth",
		},
		{
			name: "empty base url",
			mutate: func(cfg *Config) {
				cfg.BaseURL = ""
			},
			wantErr: "base_url",
		},
		{
			name: "invalid url format",
			mutate: func(cfg *Config) {
				cfg.BaseURL = "http://"
			},
			wantErr: "base_url",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "min year out of range",
			mutate: func(cfg *Config) {
				cfg.MinYear = 1800
			},
			wantErr: "min_year",
		},
		{
			name: "rating above ten",
			mutate: func(cfg *Config) {
				cfg.MinRating = 10.5
			},
			wantErr: "min_rating",
		},
		{
			name: "inverted politeness range",
			mutate: func(cfg *Config) {
				cfg.PolitenessMin = 5 * time.Second
				cfg.PolitenessMax = time.Second
			},
			wantErr: "politeness",
		},
		{
			name: "detail path without placeholder",
			mutate: func(cfg *Config) {
				cfg.DetailPath = "/title/"
			},
			wantErr: "detail_path",
		},
		{
			name: "no seeds",
			mutate: func(cfg *Config) {
				cfg.Seeds = nil
			},
			wantErr: "seeds",
		},
		{
			name: "zero ttl",
			mutate: func(cfg *Config) {
				cfg.CacheTTLDays = 0
			},
			wantErr: "cache_ttl_days",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got %T", err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
	if got := cfg.CacheTTL(); got != 30*24*time.Hour {
		t.Fatalf("cache ttl = %v, want 720h", got)
	}
}

func TestDefaultConfigSeedsAreCopied(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seeds[0] = "tt0000001"
	if DefaultSeeds[0] == "tt0000001" {
		t.Fatalf("mutating a config must not change the package seeds")
	}
}

func TestURLResolution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseURL = "http://example.test/"
	cfg.RelatedPath = "/title/%s/morelikethis"

	if got := cfg.DetailURL("tt1"); got != "http://example.test/title/tt1/" {
		t.Fatalf("detail url = %q", got)
	}
	if got := cfg.RelatedURL("tt1"); got != "http://example.test/title/tt1/morelikethis" {
		t.Fatalf("related url = %q", got)
	}
}

func TestEnsureOutputDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputDir = filepath.Join(t.TempDir(), "nested", "out")
	if err := cfg.EnsureOutputDir(); err != nil {
		t.Fatalf("ensure output dir: %v", err)
	}
	entries, err := os.ReadDir(cfg.OutputDir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("probe file left behind: %v", entries)
	}
}

func TestEnsureOutputDirRejectsFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	cfg := DefaultConfig()
	cfg.OutputDir = filepath.Join(blocker, "out")
	err := cfg.EnsureOutputDir()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "output_dir" {
		t.Fatalf("expected output_dir ConfigError, got %v", err)
	}
}
