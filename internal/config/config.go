// Package config loads relftpd's server-side configuration: the tunables
// that are not part of a single client request (§10 "Configuration").
package config

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config is relftpd's full YAML configuration.
type Config struct {
	Server  ServerConfig  `yaml:"Server"`
	Storage StorageConfig `yaml:"Storage"`
	Log     LogConfig     `yaml:"Log"`
	Metrics MetricsConfig `yaml:"Metrics"`
	Tracing TracingConfig `yaml:"Tracing"`
}

// ServerConfig is the control-channel listener.
type ServerConfig struct {
	Host        string `yaml:"Host"`
	ControlPort int    `yaml:"ControlPort"`
}

// StorageConfig names the root directory files are served from/to
// (§6 "Persisted state": `<storage>/<remoteName>`).
type StorageConfig struct {
	Root string `yaml:"Root"`
}

// LogConfig selects zap's encoder and level.
type LogConfig struct {
	Level  string `yaml:"Level"`  // debug, info, warn, error
	Format string `yaml:"Format"` // json, console
}

// MetricsConfig controls the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enable bool   `yaml:"Enable"`
	Host   string `yaml:"Host"`
	Port   int    `yaml:"Port"`
	Path   string `yaml:"Path"`
}

// TracingConfig controls the OpenTelemetry exporter, disabled by default.
type TracingConfig struct {
	Enable       bool    `yaml:"Enable"`
	ServiceName  string  `yaml:"ServiceName"`
	Endpoint     string  `yaml:"Endpoint"`
	Exporter     string  `yaml:"Exporter"` // jaeger, zipkin
	SampleRate   float64 `yaml:"SampleRate"`
	Environment  string  `yaml:"Environment"`
	BatchTimeout int     `yaml:"BatchTimeout"` // seconds
	MaxQueueSize int     `yaml:"MaxQueueSize"`
}

// DefaultConfig returns the configuration relftpd runs with if no config
// file is present, mirroring the teacher's DefaultConfig()/"fall back to
// defaults if absent" pattern.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			ControlPort: 10000,
		},
		Storage: StorageConfig{
			Root: "./storage",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enable: true,
			Host:   "0.0.0.0",
			Port:   9101,
			Path:   "/metrics",
		},
		Tracing: TracingConfig{
			Enable:       false,
			ServiceName:  "relftpd",
			Endpoint:     "http://localhost:14268/api/traces",
			Exporter:     "jaeger",
			SampleRate:   1.0,
			Environment:  "development",
			BatchTimeout: 5,
			MaxQueueSize: 2048,
		},
	}
}

// Load reads filename as YAML over DefaultConfig(); a missing file is not
// an error, it just yields the defaults.
func Load(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %q: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", filename, err)
	}
	return cfg, nil
}

// NewLogger builds a zap.Logger from LogConfig, choosing the production
// (JSON) or development (console) preset and overriding its level.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zcfg.Level = level

	return zcfg.Build()
}
