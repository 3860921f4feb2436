package engine

import (
	"time"

	"github.com/wudi/texkit/fonts"
	"github.com/wudi/texkit/observability"
)

// Option configures a Surface.
type Option func(*Surface)

// WithDensity sets device pixels per CSS pixel.
func WithDensity(density float64) Option {
	return func(s *Surface) {
		if density > 0 {
			s.density = density
		}
	}
}

// WithPaintDelay sets how long after layout the surface repaints.
func WithPaintDelay(d time.Duration) Option {
	return func(s *Surface) {
		if d >= 0 {
			s.paintDelay = d
		}
	}
}

// WithViewportWidth sets the page width in CSS pixels used when no explicit
// width is set.
func WithViewportWidth(w float64) Option {
	return func(s *Surface) {
		if w > 0 {
			s.viewportWidth = w
		}
	}
}

// WithDefaultFontSize sets the font size in CSS pixels used when the page
// has not set one.
func WithDefaultFontSize(size float64) Option {
	return func(s *Surface) {
		if size > 0 {
			s.defaultFontSize = size
		}
	}
}

// WithFontLoader replaces the font source. The loader runs off the engine
// goroutine.
func WithFontLoader(load func() (*fonts.Set, error)) Option {
	return func(s *Surface) {
		if load != nil {
			s.loadFonts = load
		}
	}
}

// WithLogger sets the logger for engine diagnostics.
func WithLogger(l observability.Logger) Option {
	return func(s *Surface) {
		if l != nil {
			s.logger = l
		}
	}
}

const (
	DefaultDensity       = 2.0
	DefaultPaintDelay    = 16 * time.Millisecond
	DefaultViewportWidth = 1024.0
	DefaultFontSize      = 16.0
	defaultQueue         = 64
)
