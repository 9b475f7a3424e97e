// Package config reads the optional YAML file that supplies defaults for
// the command line flags and BIKEFLOW_* environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"bikeflow/pkg/bluebikes"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path
const EnvConfigPath = "BIKEFLOW_CONFIG"

type Config struct {
	StationsURL string       `yaml:"stations_url"`
	TripsURL    string       `yaml:"trips_url"`
	TimeFilter  string       `yaml:"time_filter"`
	SweepStep   int          `yaml:"sweep_step"`
	Timezone    string       `yaml:"timezone"`
	Loki        LokiConfig   `yaml:"loki"`
	Server      ServerConfig `yaml:"server"`
}

type LokiConfig struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	MapWidth       int           `yaml:"map_width"`
	MapHeight      int           `yaml:"map_height"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		StationsURL: bluebikes.DefaultStationsURL,
		TripsURL:    bluebikes.DefaultTripsURL,
		TimeFilter:  "-1",
		Timezone:    "America/New_York",
		Loki: LokiConfig{
			URL: "http://localhost:3100",
		},
		Server: ServerConfig{
			Addr:      ":8080",
			CacheTTL:  30 * time.Minute,
			MapWidth:  960,
			MapHeight: 720,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.SweepStep < 0 {
		return fmt.Errorf("sweep_step must not be negative")
	}
	if c.Server.CacheTTL < 0 {
		return fmt.Errorf("server.cache_ttl must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone. An empty timezone means UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
