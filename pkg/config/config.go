// Package config handles wirebus.toml project configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"wirebus/pkg/isa"
	"wirebus/pkg/peripherals"
)

const FileName = "wirebus.toml"

var ErrInvalid = errors.New("invalid config")

// Config represents a wirebus.toml file.
type Config struct {
	Build Build  `toml:"build"`
	Run   Run    `toml:"run"`
	Log   Log    `toml:"log"`
	Serve Serve  `toml:"serve"`
	Ports []Port `toml:"port"`

	// Dir is the directory containing the wirebus.toml file (set at load time).
	Dir string `toml:"-"`
}

type Build struct {
	Width  int    `toml:"width"`
	Source string `toml:"source"`
	Output string `toml:"output"`
}

type Run struct {
	Params     []uint64 `toml:"params"`
	MaxSteps   int      `toml:"max_steps"`
	StackDepth int      `toml:"stack_depth"`
}

type Log struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

type Serve struct {
	Addr string `toml:"addr"`
	DB   string `toml:"db"`
}

// Port mounts one peripheral on the bus.
type Port struct {
	Number  uint64 `toml:"number"`
	Kind    string `toml:"kind"`
	Initial uint64 `toml:"initial"`
}

// Default is the configuration used when no wirebus.toml is found.
func Default() *Config {
	return &Config{
		Build: Build{Width: 8, Source: "main.src", Output: "main.bin"},
		Run:   Run{MaxSteps: 1_000_000, StackDepth: 256},
		Log:   Log{Level: "info"},
		Serve: Serve{Addr: ":8080", DB: "wirebus.db"},
		Ports: []Port{{Number: 1, Kind: peripherals.ConsoleType}},
	}
}

// Load parses the wirebus.toml in dir on top of Default.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	c.Ports = nil
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if !md.IsDefined("port") {
		c.Ports = Default().Ports
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		zap.L().Named("config").Warn("unknown keys", zap.String("file", path), zap.Stringers("keys", undecoded))
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a wirebus.toml file.
// Returns nil if none is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

func (c *Config) Validate() error {
	if _, err := isa.ParseWidth(c.Build.Width); err != nil {
		return fmt.Errorf("%w: build.width: %w", ErrInvalid, err)
	}
	if c.Run.MaxSteps < 0 {
		return fmt.Errorf("%w: run.max_steps must not be negative", ErrInvalid)
	}
	if c.Run.StackDepth < 0 {
		return fmt.Errorf("%w: run.stack_depth must not be negative", ErrInvalid)
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalid, err)
	}

	seen := make(map[uint64]bool)
	for _, p := range c.Ports {
		if seen[p.Number] {
			return fmt.Errorf("%w: port %d declared twice", ErrInvalid, p.Number)
		}
		seen[p.Number] = true
		if _, err := peripherals.New(peripherals.Config{Kind: p.Kind}); err != nil {
			return fmt.Errorf("%w: port %d: %w", ErrInvalid, p.Number, err)
		}
	}
	return nil
}

// Width returns the build width. Call Validate first.
func (c *Config) Width() isa.Width {
	return isa.Width(c.Build.Width)
}

// Path resolves p against the config directory.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// PortConfigs converts the [[port]] tables for peripherals.Mount.
func (c *Config) PortConfigs() []peripherals.Config {
	out := make([]peripherals.Config, 0, len(c.Ports))
	for _, p := range c.Ports {
		out = append(out, peripherals.Config{Number: p.Number, Kind: p.Kind, Initial: p.Initial})
	}
	return out
}

// Logger builds a zap logger from the [log] table.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
