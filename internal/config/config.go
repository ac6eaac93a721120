// Package config handles airnode configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./airnode.yaml, ~/.config/airnode/airnode.yaml, /etc/airnode/airnode.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"airnode.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "airnode", "airnode.yaml"))
	}

	paths = append(paths, "/etc/airnode/airnode.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all airnode configuration.
type Config struct {
	Listen    ListenConfig  `yaml:"listen"`
	Sensor    SensorConfig  `yaml:"sensor"`
	Bus       BusConfig     `yaml:"bus"`
	History   HistoryConfig `yaml:"history"`
	Updater   UpdaterConfig `yaml:"updater"`
	DataDir   string        `yaml:"data_dir"`
	NodeName  string        `yaml:"node_name"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
}

// ListenConfig defines the HTTP server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// SensorConfig defines the sensor source and sampling cadence.
type SensorConfig struct {
	// TempPath is the sysfs attribute file carrying the raw temperature
	// value (IIO convention: millidegrees Celsius).
	TempPath string `yaml:"temp_path"`
	// HumidityPath is the sysfs attribute file carrying the raw
	// relative humidity value (IIO convention: milli-percent).
	HumidityPath string `yaml:"humidity_path"`
	// SampleIntervalSec is the number of seconds between sample
	// attempts (default 60). The cadence is measured from each attempt,
	// successful or not.
	SampleIntervalSec int `yaml:"sample_interval_sec"`
}

// BusConfig defines optional MQTT broker credentials. The broker
// address itself is deliberately absent: it is runtime-mutable state
// owned by the endpoint store and editable via the HTTP surface.
type BusConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HistoryConfig defines reading history retention.
type HistoryConfig struct {
	// Keep is the number of readings retained (default 288, one day
	// at the default cadence).
	Keep int `yaml:"keep"`
}

// UpdaterConfig defines the firmware update poll cadence.
type UpdaterConfig struct {
	// PollIntervalSec is the number of seconds between update checks
	// (default 300).
	PollIntervalSec int `yaml:"poll_interval_sec"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:  ListenConfig{Port: 8080},
		Sensor:  SensorConfig{SampleIntervalSec: 60},
		History: HistoryConfig{Keep: 288},
		Updater: UpdaterConfig{PollIntervalSec: 300},
		DataDir: "/var/lib/airnode",
	}
}

// Validate enforces invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg.Listen.Port <= 0 || cfg.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", cfg.Listen.Port)
	}
	if cfg.Sensor.SampleIntervalSec <= 0 {
		return fmt.Errorf("sensor.sample_interval_sec must be positive")
	}
	if cfg.History.Keep < 0 {
		return fmt.Errorf("history.keep must not be negative")
	}
	if cfg.Updater.PollIntervalSec <= 0 {
		return fmt.Errorf("updater.poll_interval_sec must be positive")
	}
	if cfg.LogLevel != "" {
		if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
			return err
		}
	}
	if cfg.LogFormat != "" && cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", cfg.LogFormat)
	}
	return nil
}
