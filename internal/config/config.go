// Package config loads settings for the synthtree command-line tools.
//
// Values are resolved with priority env > file > defaults and then validated.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/phroun/synthtree"
)

// ByteSize is a byte count that reads human forms such as "8 MiB" or "512KB".
type ByteSize int64

// ParseByteSize reads a plain integer or a humanized size.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseByteSize(value.Value)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// ArenaConfig sizes the node arena.
type ArenaConfig struct {
	Size      ByteSize `yaml:"size"`
	SoftLimit ByteSize `yaml:"soft_limit"`
}

// NodesConfig sizes the node slot table.
type NodesConfig struct {
	Max int `yaml:"max"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// MetricsConfig controls observability output.
type MetricsConfig struct {
	Addr           string        `yaml:"addr"`            // listen address for /metrics; empty disables
	ReportInterval time.Duration `yaml:"report_interval"` // stats log interval; 0 disables
}

// Config is the full tool configuration.
type Config struct {
	Arena   ArenaConfig   `yaml:"arena"`
	Nodes   NodesConfig   `yaml:"nodes"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Arena: ArenaConfig{
			Size: synthtree.DefaultArenaSize,
		},
		Nodes: NodesConfig{
			Max: synthtree.DefaultMaxNodes,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load resolves the configuration from defaults, the optional YAML file at
// path, and SYNTHTREE_* environment variables. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := loadFromEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("SYNTHTREE_ARENA_SIZE"); v != "" {
		size, err := ParseByteSize(v)
		if err != nil {
			return fmt.Errorf("SYNTHTREE_ARENA_SIZE: %w", err)
		}
		cfg.Arena.Size = size
	}
	if v := os.Getenv("SYNTHTREE_ARENA_SOFT_LIMIT"); v != "" {
		size, err := ParseByteSize(v)
		if err != nil {
			return fmt.Errorf("SYNTHTREE_ARENA_SOFT_LIMIT: %w", err)
		}
		cfg.Arena.SoftLimit = size
	}
	if v := os.Getenv("SYNTHTREE_MAX_NODES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SYNTHTREE_MAX_NODES: %w", err)
		}
		cfg.Nodes.Max = n
	}
	if v := os.Getenv("SYNTHTREE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SYNTHTREE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("SYNTHTREE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("SYNTHTREE_REPORT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SYNTHTREE_REPORT_INTERVAL: %w", err)
		}
		cfg.Metrics.ReportInterval = d
	}
	return nil
}

// Validate checks that the configuration can build a graph.
func (c Config) Validate() error {
	size := int64(c.Arena.Size)
	if size < 16 || size&(size-1) != 0 || size > 1<<31 {
		return fmt.Errorf("arena.size %s: %w", c.Arena.Size, synthtree.ErrInvalidArenaSize)
	}
	if c.Arena.SoftLimit < 0 || c.Arena.SoftLimit > c.Arena.Size {
		return fmt.Errorf("arena.soft_limit %s must be between 0 and arena.size", c.Arena.SoftLimit)
	}
	if c.Nodes.Max < 1 {
		return fmt.Errorf("nodes.max must be positive, got %d", c.Nodes.Max)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Metrics.ReportInterval < 0 {
		return fmt.Errorf("metrics.report_interval must not be negative")
	}
	return nil
}

// Options converts the configuration into graph options.
func (c Config) Options(logger *slog.Logger) synthtree.Options {
	return synthtree.Options{
		ArenaSize:      int(c.Arena.Size),
		MaxNodes:       c.Nodes.Max,
		ArenaSoftLimit: int(c.Arena.SoftLimit),
		Logger:         logger,
	}
}

// NewLogger builds a logger writing to w as the log settings describe.
func NewLogger(c LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
