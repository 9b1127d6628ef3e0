package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. HARVEST_MAX_DEPTH.
const EnvPrefix = "HARVEST"

// Load builds a Config from defaults, an optional file, the environment and,
// highest precedence, any changed flag whose dashed name matches a key
// (--max-depth sets max_depth).
func Load(path string, flags ...*pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())
	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, &ConfigError{Field: "file", Err: fmt.Errorf("read config: %w", err)}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &ConfigError{Field: "file", Err: fmt.Errorf("unmarshal config: %w", err)}
	}
	return cfg, nil
}

func bindFlags(v *viper.Viper, sets []*pflag.FlagSet) error {
	known := make(map[string]bool)
	for _, k := range v.AllKeys() {
		known[k] = true
	}

	var err error
	for _, fs := range sets {
		if fs == nil {
			continue
		}
		fs.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if !known[key] || err != nil {
				return
			}
			if bindErr := v.BindPFlag(key, f); bindErr != nil {
				err = &ConfigError{Field: key, Err: fmt.Errorf("bind flag: %w", bindErr)}
			}
		})
	}
	return err
}

// setDefaults registers every key so AutomaticEnv can resolve it during Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("detail_path", d.DetailPath)
	v.SetDefault("related_path", d.RelatedPath)
	v.SetDefault("seeds", d.Seeds)
	v.SetDefault("target_count", d.TargetCount)
	v.SetDefault("min_year", d.MinYear)
	v.SetDefault("min_rating", d.MinRating)
	v.SetDefault("min_votes", d.MinVotes)
	v.SetDefault("max_depth", d.MaxDepth)
	v.SetDefault("checkpoint_every", d.CheckpointEvery)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("output_file", d.OutputFile)
	v.SetDefault("export_csv", d.ExportCSV)
	v.SetDefault("cache_path", d.CachePath)
	v.SetDefault("cache_ttl_days", d.CacheTTLDays)
	v.SetDefault("cache_hot_size", d.CacheHotSize)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("politeness_min", d.PolitenessMin)
	v.SetDefault("politeness_max", d.PolitenessMax)
	v.SetDefault("rate_limit", d.RateLimit)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("respect_robots_txt", d.RespectRobotsTxt)
	v.SetDefault("profile_base_url", d.ProfileBaseURL)
	v.SetDefault("profile_max_pages", d.ProfileMaxPages)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("verbose", d.Verbose)
}
