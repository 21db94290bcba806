package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "bdqrun.yaml"

const (
	providerDemo   = "demo"
	providerRemote = "remote"
)

// config is the bdqrun.yaml shape. Flags override file values; positional
// arguments add input patterns.
type config struct {
	Registry  string         `yaml:"registry"`
	Provider  string         `yaml:"provider"`
	Endpoint  string         `yaml:"endpoint"`
	Inputs    []string       `yaml:"inputs"`
	OutputDir string         `yaml:"output_dir"`
	Serve     string         `yaml:"serve"`
	LogLevel  string         `yaml:"log_level"`
	Overrides map[string]any `yaml:"overrides"`
}

// loadConfig reads the YAML run configuration. A missing file is an error
// only when the path was given explicitly; the default path is optional.
func loadConfig(path string, explicit bool) (config, error) {
	var cfg config
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = providerDemo
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *config) validate() error {
	switch c.Provider {
	case providerDemo:
	case providerRemote:
		if c.Endpoint == "" {
			return errors.New("remote provider needs -endpoint")
		}
	default:
		return fmt.Errorf("unknown provider %q (want %s or %s)", c.Provider, providerDemo, providerRemote)
	}
	if len(c.Inputs) == 0 && c.Serve == "" {
		return errors.New("no inputs given (pass file globs or -serve)")
	}
	return nil
}

// buildLogger constructs the production logger at the configured level.
func buildLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}

// resolveInputs expands the patterns, deduplicates, and sorts. Patterns use
// doublestar syntax, so **/*.csv walks subdirectories.
func resolveInputs(patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("input pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}
