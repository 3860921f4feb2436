package render

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wudi/texkit/engine"
	"github.com/wudi/texkit/observability"
)

// Capturer snapshots a region of the engine's painted surface.
type Capturer interface {
	CaptureRegion(ctx context.Context, r engine.Region) ([]byte, error)
	Density() float64
}

// Stabilizer captures a region repeatedly until two consecutive captures
// agree. It also holds the single-entry memo of the last stable result.
type Stabilizer struct {
	capturer    Capturer
	maxAttempts int
	backoff     time.Duration
	memoize     bool
	logger      observability.Logger
	tracer      observability.Tracer

	unstable atomic.Uint64

	mu       sync.Mutex
	memoKey  Params
	memoData []byte
	memoOK   bool
}

func NewStabilizer(c Capturer, cfg Config) *Stabilizer {
	cfg.normalize()
	return &Stabilizer{
		capturer:    c,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		memoize:     cfg.Memoize,
		logger:      cfg.Logger,
		tracer:      cfg.Tracer,
	}
}

// RegionFor converts CSS-pixel bounds to a device-pixel capture region.
// Coordinates are rounded, the origin is clamped to zero and the extent is
// at least one pixel.
func RegionFor(b engine.Bounds, density float64) engine.Region {
	if density <= 0 {
		density = 1
	}
	r := engine.Region{
		X: int(math.Round(b.X * density)),
		Y: int(math.Round(b.Y * density)),
		W: int(math.Round(b.Width * density)),
		H: int(math.Round(b.Height * density)),
	}
	r.X = max(r.X, 0)
	r.Y = max(r.Y, 0)
	r.W = max(r.W, 1)
	r.H = max(r.H, 1)
	return r
}

// Capture returns the first capture that matches its predecessor. When
// the attempt budget runs out the last capture is returned as is and the
// memo stays empty. A single attempt budget disables the comparison.
func (s *Stabilizer) Capture(ctx context.Context, b engine.Bounds, sig Params) ([]byte, error) {
	region := RegionFor(b, s.capturer.Density())

	ctx, span := s.tracer.StartSpan(ctx, observability.SpanCapture)
	defer span.Finish()
	span.SetTag("region", region.String())

	var prev []byte
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		data, err := s.capturer.CaptureRegion(ctx, region)
		if err != nil {
			s.Forget()
			span.SetError(err)
			if ctx.Err() != nil || errors.Is(err, engine.ErrClosed) {
				return nil, err
			}
			return nil, newError(ErrSnapshot, "", "capture "+region.String()+" failed", err)
		}

		if s.maxAttempts == 1 || (prev != nil && bytes.Equal(prev, data)) {
			span.SetTag(observability.MetricCaptureAttempts, attempt)
			span.SetTag(observability.MetricCaptureBytes, len(data))
			s.remember(sig, data)
			return data, nil
		}
		prev = data

		if attempt < s.maxAttempts {
			if err := sleep(ctx, s.backoff); err != nil {
				s.Forget()
				return nil, err
			}
		}
	}

	s.unstable.Add(1)
	s.Forget()
	span.SetTag(observability.MetricCaptureAttempts, s.maxAttempts)
	span.SetTag(observability.MetricCaptureBytes, len(prev))
	s.logger.Warn("capture did not stabilize",
		observability.String("region", region.String()),
		observability.Int("attempts", s.maxAttempts))
	return prev, nil
}

// Recall returns the memoized bytes for p, if any.
func (s *Stabilizer) Recall(p Params) ([]byte, bool) {
	if !s.memoize {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.memoOK || s.memoKey != p {
		return nil, false
	}
	return bytes.Clone(s.memoData), true
}

// Forget clears the memo.
func (s *Stabilizer) Forget() {
	s.mu.Lock()
	s.memoKey, s.memoData, s.memoOK = Params{}, nil, false
	s.mu.Unlock()
}

// Unstable counts captures that exhausted their attempt budget.
func (s *Stabilizer) Unstable() uint64 { return s.unstable.Load() }

func (s *Stabilizer) remember(p Params, data []byte) {
	if !s.memoize {
		return
	}
	s.mu.Lock()
	s.memoKey, s.memoData, s.memoOK = p, bytes.Clone(data), true
	s.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
