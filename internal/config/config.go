// Package config loads the YAML settings of a probe run.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/tinyrange/dtboot/internal/irq"
	"github.com/tinyrange/dtboot/internal/probe"
	"gopkg.in/yaml.v3"
)

const DefaultFilename = "dtboot.yaml"

// Mapper kinds
const (
	MapperSim    = "sim"
	MapperDevMem = "devmem"
	MapperLinear = "linear"
)

// Config describes how a probe run is set up.
type Config struct {
	Version int `yaml:"version"`

	Log     LogConfig     `yaml:"log"`
	Drivers DriversConfig `yaml:"drivers"`
	Mapper  MapperConfig  `yaml:"mapper"`
	PLIC    PLICConfig    `yaml:"plic"`
}

type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

type DriversConfig struct {
	// Disable names drivers removed from the default registry.
	Disable []string `yaml:"disable,omitempty"`
}

type MapperConfig struct {
	Kind   string `yaml:"kind,omitempty"`
	Offset uint64 `yaml:"offset,omitempty"`
	Path   string `yaml:"path,omitempty"`
}

type PLICConfig struct {
	// Context is the PLIC hart context. Unset means hart 0 S-mode.
	Context *uint32 `yaml:"context,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var c Config
	c.normalize()
	return c
}

func (c *Config) normalize() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Mapper.Kind == "" {
		c.Mapper.Kind = MapperSim
	}
	if c.Mapper.Path == "" {
		c.Mapper.Path = "/dev/mem"
	}
	if c.PLIC.Context == nil {
		ctx := uint32(irq.PLICDefaultContext)
		c.PLIC.Context = &ctx
	}
}

// Validate checks enumerated fields and driver names.
func (c Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version %d", c.Version)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	switch c.Mapper.Kind {
	case MapperSim, MapperDevMem, MapperLinear:
	default:
		return fmt.Errorf("unknown mapper kind %q", c.Mapper.Kind)
	}

	known := probe.DefaultRegistry(probe.DriverOptions{}).Names()
	for _, name := range c.Drivers.Disable {
		if !slices.Contains(known, name) {
			return fmt.Errorf("drivers.disable: unknown driver %q (known: %s)", name, strings.Join(known, ", "))
		}
	}
	return nil
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Registry returns the default driver registry minus the disabled drivers.
func (c Config) Registry() *probe.Registry {
	return probe.DefaultRegistry(probe.DriverOptions{PLICContext: c.PLIC.Context}).Without(c.Drivers.Disable...)
}

// Logger builds the run's logger. debug forces the debug level.
func (c Config) Logger(w io.Writer, debug bool) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}
