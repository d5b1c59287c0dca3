// Package config loads xcore configuration from YAML.
//
// A file is first checked against the embedded CUE schema (schema.cue),
// which rejects unknown fields and out-of-range values with positions,
// and then decoded over Default().
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/xcore/internal/store"
	"github.com/roach88/xcore/internal/trigger"
	"github.com/roach88/xcore/internal/update"
	"github.com/roach88/xcore/internal/xquery"
)

//go:embed schema.cue
var schemaSource string

// Config is the full runtime configuration.
type Config struct {
	// DB is the SQLite database path.
	DB string `yaml:"db"`

	// PageCapacity is the number of node slots per storage page.
	PageCapacity int `yaml:"page_capacity"`

	// FragmentationLimit is the split count above which a document is
	// defragmented after an update.
	FragmentationLimit int64 `yaml:"fragmentation_limit"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Pool PoolConfig `yaml:"pool"`

	// Triggers are registered on startup, in order.
	Triggers []TriggerConfig `yaml:"triggers"`
}

// PoolConfig bounds the compiled query pool.
type PoolConfig struct {
	MaxIdle int `yaml:"max_idle"`
}

// TriggerConfig names a trigger type for a collection and event.
type TriggerConfig struct {
	Collection string            `yaml:"collection"`
	Event      string            `yaml:"event"`
	Type       string            `yaml:"type"`
	Params     map[string]string `yaml:"params,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DB:                 "xcore.db",
		PageCapacity:       store.DefaultPageCapacity,
		FragmentationLimit: update.DefaultFragmentationLimit,
		LogLevel:           "info",
		Pool:               PoolConfig{MaxIdle: xquery.DefaultMaxIdle},
	}
}

// Load reads the configuration at path. An empty path returns Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates data against the schema and decodes it over Default().
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validate(raw); err != nil {
		return nil, err
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// validate unifies raw with #Config. Definitions are closed, so unknown
// fields are errors.
func validate(raw map[string]any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", cueerrors.Details(err, nil))
	}
	return nil
}

// Level returns the slog level for LogLevel, Info if it is unset.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// TriggerSpecs converts the configured triggers for trigger.Registry.
func (c *Config) TriggerSpecs() ([]trigger.Spec, error) {
	specs := make([]trigger.Spec, 0, len(c.Triggers))
	for i, t := range c.Triggers {
		event, err := trigger.ParseEvent(t.Event)
		if err != nil {
			return nil, fmt.Errorf("triggers[%d]: %w", i, err)
		}
		specs = append(specs, trigger.Spec{
			Collection: t.Collection,
			Event:      event,
			Type:       t.Type,
			Params:     t.Params,
		})
	}
	return specs, nil
}

// StoreOptions returns the store options the configuration implies.
func (c *Config) StoreOptions() []store.Option {
	return []store.Option{store.WithPageCapacity(c.PageCapacity)}
}

// UpdateOptions returns the update controller options the configuration
// implies.
func (c *Config) UpdateOptions() []update.Option {
	return []update.Option{update.WithFragmentationLimit(c.FragmentationLimit)}
}

// ServiceOptions returns the query service options the configuration
// implies.
func (c *Config) ServiceOptions() []xquery.ServiceOption {
	return []xquery.ServiceOption{xquery.WithMaxIdle(c.Pool.MaxIdle)}
}
