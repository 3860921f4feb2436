// Package config loads texrender settings from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wudi/texkit/channel"
	"github.com/wudi/texkit/engine"
	"github.com/wudi/texkit/observability"
	"github.com/wudi/texkit/render"
)

// Config is the complete texrender configuration. Zero values select
// defaults.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Renderer RendererConfig `yaml:"renderer"`
	Stream   StreamConfig   `yaml:"stream"`
	Log      LogConfig      `yaml:"log"`
}

// EngineConfig contains reference engine settings.
type EngineConfig struct {
	Density         float64 `yaml:"density"`           // device pixels per CSS pixel
	PaintDelayMS    int     `yaml:"paint_delay_ms"`    // delay between layout and paint
	ViewportWidth   float64 `yaml:"viewport_width"`    // CSS pixels
	DefaultFontSize float64 `yaml:"default_font_size"` // CSS pixels
}

// RendererConfig contains scheduler settings.
type RendererConfig struct {
	MaxAttempts int   `yaml:"max_attempts"` // captures per stabilization
	BackoffMS   int   `yaml:"backoff_ms"`   // pause between captures
	Memoize     *bool `yaml:"memoize,omitempty"`
}

// StreamConfig contains stream mode settings.
type StreamConfig struct {
	Codec     string `yaml:"codec"`      // json, msgpack
	OutputDir string `yaml:"output_dir"` // write PNGs here instead of inline results
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	if err := Validate(cfg); err != nil {
		panic(err)
	}
	return cfg
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// EngineOptions converts the engine section to Surface options.
func (c *Config) EngineOptions(logger observability.Logger) []engine.Option {
	return []engine.Option{
		engine.WithDensity(c.Engine.Density),
		engine.WithPaintDelay(time.Duration(c.Engine.PaintDelayMS) * time.Millisecond),
		engine.WithViewportWidth(c.Engine.ViewportWidth),
		engine.WithDefaultFontSize(c.Engine.DefaultFontSize),
		engine.WithLogger(logger),
	}
}

// RendererOptions converts the renderer section to render options.
func (c *Config) RendererOptions(logger observability.Logger, tracer observability.Tracer) []render.Option {
	return []render.Option{
		render.WithMaxAttempts(c.Renderer.MaxAttempts),
		render.WithBackoff(time.Duration(c.Renderer.BackoffMS) * time.Millisecond),
		render.WithMemoize(*c.Renderer.Memoize),
		render.WithLogger(logger),
		render.WithTracer(tracer),
	}
}

// Codec returns the configured stream codec.
func (c *Config) Codec() (channel.Codec, error) {
	return channel.GetCodec(c.Stream.Codec)
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
