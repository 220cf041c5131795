// Package config handles nativegen.toml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents a nativegen.toml project configuration.
type Config struct {
	Protection Protection `toml:"protection"`
	Output     Output     `toml:"output"`

	// Dir is the directory containing the nativegen.toml file (set at load time).
	Dir string `toml:"-"`
}

// Protection selects which transformations apply.
type Protection struct {
	Virtualization      bool  `toml:"virtualization"`
	ConstantObfuscation bool  `toml:"constant-obfuscation"`
	Seed                int64 `toml:"seed"`
}

// Output configures where generated sources and streams go.
type Output struct {
	Dir        string `toml:"dir"`
	NativeDir  string `toml:"native-dir"`
	DumpStream bool   `toml:"dump-stream"`
}

// Load parses a nativegen.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "nativegen.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if c.Output.Dir == "" {
		c.Output.Dir = "out"
	}
	if c.Output.NativeDir == "" {
		c.Output.NativeDir = "native0"
	}

	return &c, nil
}

// FindAndLoad walks up from startDir to find a nativegen.toml file, then
// loads and returns the config. Returns nil if no config is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "nativegen.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// OutputDir returns the absolute output directory.
func (c *Config) OutputDir() string {
	return filepath.Join(c.Dir, c.Output.Dir)
}
