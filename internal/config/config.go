// Package config loads the hvload TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/blacktop/go-hvloader"
	"github.com/blacktop/go-hvloader/internal/logging"
)

// Config is the on-disk configuration.
type Config struct {
	LaunchBufferSize  int    `toml:"launch_buffer_size"`
	ControlBufferSize int    `toml:"control_buffer_size"`
	SignalTimeout     string `toml:"signal_timeout"`
	// CPUs restricts the pass to a kernel cpulist, e.g. "0-3,6".
	CPUs       string         `toml:"cpus"`
	OnlinePath string         `toml:"online_path"`
	Log        logging.Config `toml:"log"`
	Metrics    MetricsConfig  `toml:"metrics"`
}

// MetricsConfig controls metric export.
type MetricsConfig struct {
	// Textfile is written in Prometheus text format after each command.
	Textfile string `toml:"textfile"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LaunchBufferSize:  hvloader.DefaultBufferSize,
		ControlBufferSize: hvloader.DefaultBufferSize,
		SignalTimeout:     hvloader.DefaultSignalTimeout.String(),
		OnlinePath:        hvloader.DefaultOnlinePath,
		Log:               logging.DefaultConfig(),
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.LaunchBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("launch_buffer_size must be positive, got %d", c.LaunchBufferSize))
	}
	if c.ControlBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("control_buffer_size must be positive, got %d", c.ControlBufferSize))
	}
	if d, err := time.ParseDuration(c.SignalTimeout); err != nil {
		errs = append(errs, fmt.Errorf("signal_timeout: %w", err))
	} else if d <= 0 {
		errs = append(errs, fmt.Errorf("signal_timeout must be positive, got %s", d))
	}
	if c.CPUs != "" {
		if _, err := hvloader.ParseCPUList(c.CPUs); err != nil {
			errs = append(errs, fmt.Errorf("cpus: %w", err))
		}
	}
	if c.Log.Level != "" {
		if _, ok := logging.ParseLevel(c.Log.Level); !ok {
			errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
		}
	}
	return errors.Join(errs...)
}

// Enumerator returns the processor enumerator described by c.
func (c Config) Enumerator() hvloader.Enumerator {
	return hvloader.SysfsEnumerator{Path: c.OnlinePath, Restrict: c.CPUs}
}

// Options converts c into loader options. Platform components are left to
// the loader's defaults.
func (c Config) Options() (hvloader.Options, error) {
	if err := c.Validate(); err != nil {
		return hvloader.Options{}, err
	}
	timeout, _ := time.ParseDuration(c.SignalTimeout)
	return hvloader.Options{
		LaunchBufferSize:  c.LaunchBufferSize,
		ControlBufferSize: c.ControlBufferSize,
		SignalTimeout:     timeout,
		Enumerator:        c.Enumerator(),
	}, nil
}
