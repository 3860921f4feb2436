package config

import (
	"fmt"
	"math"

	"github.com/wudi/texkit/channel"
	"github.com/wudi/texkit/engine"
	"github.com/wudi/texkit/render"
)

// Validate checks cfg and fills in defaults for zero values.
func Validate(cfg *Config) error {
	if err := validateEngine(&cfg.Engine); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := validateRenderer(&cfg.Renderer); err != nil {
		return fmt.Errorf("renderer: %w", err)
	}

	switch cfg.Stream.Codec {
	case "":
		cfg.Stream.Codec = channel.CodecNameJSON
	case channel.CodecNameJSON, channel.CodecNameMsgpack:
	default:
		return fmt.Errorf("stream.codec must be json or msgpack, got %q", cfg.Stream.Codec)
	}

	switch cfg.Log.Level {
	case "":
		cfg.Log.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}
	return nil
}

func validateEngine(e *EngineConfig) error {
	if e.Density < 0 || math.IsNaN(e.Density) || math.IsInf(e.Density, 0) {
		return fmt.Errorf("density must be > 0, got %v", e.Density)
	}
	if e.Density == 0 {
		e.Density = engine.DefaultDensity
	}
	if e.PaintDelayMS < 0 {
		return fmt.Errorf("paint_delay_ms must be >= 0, got %d", e.PaintDelayMS)
	}
	if e.PaintDelayMS == 0 {
		e.PaintDelayMS = int(engine.DefaultPaintDelay.Milliseconds())
	}
	if e.ViewportWidth < 0 {
		return fmt.Errorf("viewport_width must be > 0, got %v", e.ViewportWidth)
	}
	if e.ViewportWidth == 0 {
		e.ViewportWidth = engine.DefaultViewportWidth
	}
	if e.DefaultFontSize < 0 {
		return fmt.Errorf("default_font_size must be > 0, got %v", e.DefaultFontSize)
	}
	if e.DefaultFontSize == 0 {
		e.DefaultFontSize = engine.DefaultFontSize
	}
	return nil
}

func validateRenderer(r *RendererConfig) error {
	def := render.DefaultConfig()
	if r.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", r.MaxAttempts)
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = def.MaxAttempts
	}
	if r.BackoffMS < 0 {
		return fmt.Errorf("backoff_ms must be >= 0, got %d", r.BackoffMS)
	}
	if r.BackoffMS == 0 {
		r.BackoffMS = int(def.Backoff.Milliseconds())
	}
	if r.Memoize == nil {
		memoize := def.Memoize
		r.Memoize = &memoize
	}
	return nil
}
