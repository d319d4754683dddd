// Package config loads gridsync's YAML configuration file.
//
// Unknown keys are rejected so typos surface at load time. Durations are
// written as Go duration strings ("300ms", "1.5s"). The bearer token may be
// left out of the file and supplied through GRIDSYNC_TOKEN instead.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/gridsync/internal/pager"
	"github.com/roach88/gridsync/internal/rowsync"
	"github.com/roach88/gridsync/internal/trigger"
)

// TokenEnv is consulted when the file has no token.
const TokenEnv = "GRIDSYNC_TOKEN"

// Config is the decoded configuration file.
type Config struct {
	// BaseURL is the API root; resource paths are joined onto it.
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token,omitempty"`
	// Headers are sent with every request.
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty"`

	SchemaDir string `yaml:"schema_dir"`
	Resource  string `yaml:"resource,omitempty"`
	DB        string `yaml:"db,omitempty"`

	Debounce          time.Duration `yaml:"debounce,omitempty"`
	Cooldown          time.Duration `yaml:"cooldown,omitempty"`
	PollInterval      time.Duration `yaml:"poll_interval,omitempty"`
	Threshold         float64       `yaml:"threshold,omitempty"`
	PageSize          int           `yaml:"page_size,omitempty"`
	MaxStalls         int           `yaml:"max_stalls,omitempty"`
	StopAfterFailures int           `yaml:"stop_after_failures,omitempty"`
}

// Default returns a config with every tunable at its component default.
func Default() Config {
	return Config{
		Timeout:      30 * time.Second,
		Debounce:     rowsync.DefaultDebounce,
		Cooldown:     trigger.DefaultCooldown,
		PollInterval: trigger.DefaultPollInterval,
		Threshold:    trigger.DefaultThreshold,
		MaxStalls:    pager.DefaultMaxStalls,
	}
}

// Load reads path over Default. An empty path yields the defaults with the
// environment applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(bytes.NewReader(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// Parse decodes YAML source over Default without touching the environment.
func Parse(src []byte) (Config, error) {
	cfg := Default()
	if err := decode(bytes.NewReader(src), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	if c.Token == "" {
		c.Token = os.Getenv(TokenEnv)
	}
}

// Validate checks the fields needed to talk to a live backend.
func (c Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	} else if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("base_url %q is not an absolute URL", c.BaseURL))
	}
	if c.SchemaDir == "" {
		errs = append(errs, errors.New("schema_dir is required"))
	}
	if c.PageSize < 0 {
		errs = append(errs, fmt.Errorf("page_size must be >= 0, got %d", c.PageSize))
	}
	if c.MaxStalls < 1 {
		errs = append(errs, fmt.Errorf("max_stalls must be >= 1, got %d", c.MaxStalls))
	}
	if c.StopAfterFailures < 0 {
		errs = append(errs, fmt.Errorf("stop_after_failures must be >= 0, got %d", c.StopAfterFailures))
	}
	for name, d := range map[string]time.Duration{
		"timeout":       c.Timeout,
		"debounce":      c.Debounce,
		"cooldown":      c.Cooldown,
		"poll_interval": c.PollInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	return errors.Join(errs...)
}
