// Package config loads the host configuration from hearth.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hearthboard/hearth/internal/manifest"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ServiceConfig covers host identity and the update loop.
type ServiceConfig struct {
	Name           string `yaml:"name"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	TickIntervalMS int    `yaml:"tick_interval_ms"`
}

// TickInterval returns the scheduler tick as a duration.
func (s ServiceConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalMS) * time.Millisecond
}

// SupervisorConfig covers worker process management.
type SupervisorConfig struct {
	// BasePort is where the per-instance endpoint allocation starts.
	BasePort int `yaml:"base_port"`
	// WorkerBin is the fallback worker executable used when a widget's
	// manifest does not ship its own.
	WorkerBin string `yaml:"worker_bin"`
}

// WidgetsConfig points at the widget roots scanned during discovery.
type WidgetsConfig struct {
	Roots []string `yaml:"roots"`
}

// APIConfig covers the ops HTTP surface.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Config is the parsed hearth.yaml.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Widgets    WidgetsConfig    `yaml:"widgets"`
	API        APIConfig        `yaml:"api"`
	// Throttle holds per-widget overrides keyed by widget ID. They take
	// precedence over manifest throttle blocks.
	Throttle map[string]manifest.ThrottleSpec `yaml:"throttle,omitempty"`
}

// Defaults returns the configuration used when hearth.yaml is absent.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:           "hearth",
			LogLevel:       "info",
			LogFormat:      "text",
			TickIntervalMS: 50,
		},
		Supervisor: SupervisorConfig{
			BasePort: 5555,
		},
		Widgets: WidgetsConfig{
			Roots: []string{"./widgets"},
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8090",
		},
	}
}

// Load reads, interpolates and validates a config file. ${VAR} references
// are replaced with environment values; undefined variables stay as-is and
// fail validation where they matter.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %q: %w", path, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s", absPath)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	defaults := Defaults()
	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.TickIntervalMS == 0 {
		cfg.Service.TickIntervalMS = defaults.Service.TickIntervalMS
	}
	if cfg.Supervisor.BasePort == 0 {
		cfg.Supervisor.BasePort = defaults.Supervisor.BasePort
	}
	if len(cfg.Widgets.Roots) == 0 {
		cfg.Widgets.Roots = defaults.Widgets.Roots
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
}

func validate(cfg *Config) error {
	if cfg.Service.TickIntervalMS <= 0 {
		return fmt.Errorf("service.tick_interval_ms must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "text" && cfg.Service.LogFormat != "json" {
		return fmt.Errorf("service.log_format must be text or json (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Supervisor.BasePort < 1024 || cfg.Supervisor.BasePort > 65000 {
		return fmt.Errorf("supervisor.base_port must be in 1024..65000 (got %d)", cfg.Supervisor.BasePort)
	}
	if cfg.Supervisor.WorkerBin != "" && envVarPattern.MatchString(cfg.Supervisor.WorkerBin) {
		matches := envVarPattern.FindStringSubmatch(cfg.Supervisor.WorkerBin)
		return fmt.Errorf("supervisor.worker_bin: environment variable ${%s} is not set", matches[1])
	}

	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when api.enabled is true")
	}

	for id, t := range cfg.Throttle {
		if t.MinIntervalMS < 0 || t.MaxPending < 0 || t.CoalesceWindowMS < 0 {
			return fmt.Errorf("throttle[%s]: values must be non-negative", id)
		}
	}

	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
