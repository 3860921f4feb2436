package engine

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/wudi/texkit/fonts"
	"github.com/wudi/texkit/observability"
	"github.com/wudi/texkit/scripting"
)

//go:embed page.js
var pageScript string

// Surface is a reference Adapter: a scripted page whose math container is
// typeset synchronously and painted one frame later. Captures taken before
// the paint lands see the previous frame.
type Surface struct {
	density         float64
	paintDelay      time.Duration
	viewportWidth   float64
	defaultFontSize float64
	loadFonts       func() (*fonts.Set, error)
	logger          observability.Logger

	loop *loop

	mu      sync.Mutex
	closed  bool
	booted  bool
	onReady func(error)

	// Owned by the loop goroutine.
	js   *scripting.GojaEngine
	page *page
}

// NewSurface creates a surface. The script runtime is created on the first
// Bootstrap.
func NewSurface(opts ...Option) *Surface {
	s := &Surface{
		density:         DefaultDensity,
		paintDelay:      DefaultPaintDelay,
		viewportWidth:   DefaultViewportWidth,
		defaultFontSize: DefaultFontSize,
		loadFonts:       fonts.LoadDefault,
		logger:          observability.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loop = newLoop(defaultQueue)
	return s
}

func (s *Surface) Bootstrap(onReady func(error)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.booted {
		s.mu.Unlock()
		return nil
	}
	s.booted = true
	s.onReady = onReady
	s.mu.Unlock()

	var bootErr error
	err := s.loop.call(context.Background(), func() {
		s.js = scripting.NewEngine()
		s.page = newPage(s)
		if err := s.js.RegisterDOM(s.page); err != nil {
			bootErr = fmt.Errorf("register dom: %w", err)
			return
		}
		if _, err := s.js.Execute(context.Background(), pageScript); err != nil {
			bootErr = fmt.Errorf("load page: %w", err)
		}
	})
	if err == nil {
		err = bootErr
	}
	if err != nil {
		s.mu.Lock()
		s.booted = false
		s.onReady = nil
		s.mu.Unlock()
		return err
	}
	s.logger.Debug("surface bootstrapped", observability.Float64("density", s.density))
	return nil
}

// bootDone runs on the loop when the page reports ready or its fonts fail
// to load. The callback fires once per Bootstrap on its own goroutine so
// it may call back into the surface.
func (s *Surface) bootDone(err error) {
	s.mu.Lock()
	fn := s.onReady
	s.onReady = nil
	if err != nil {
		s.booted = false
	}
	s.mu.Unlock()
	if fn == nil {
		return
	}
	if err != nil {
		s.logger.Error("surface bootstrap failed", observability.Error("error", err))
	} else {
		s.logger.Debug("surface ready")
	}
	go fn(err)
}

func (s *Surface) Evaluate(ctx context.Context, script string) (Reply, error) {
	if s.isClosed() {
		return Reply{}, ErrClosed
	}
	var (
		result interface{}
		runErr error
	)
	err := s.loop.call(ctx, func() {
		if s.js == nil {
			runErr = errors.New("surface is not bootstrapped")
			return
		}
		result, runErr = s.js.Execute(ctx, script)
	})
	if err != nil {
		return Reply{}, err
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			return Reply{}, runErr
		}
		return Reply{Kind: ReplyExecutionError, Message: runErr.Error()}, nil
	}
	return interpret(result), nil
}

func (s *Surface) CaptureRegion(ctx context.Context, r Region) ([]byte, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	if r.W <= 0 || r.H <= 0 {
		return nil, fmt.Errorf("capture %s: empty region", r)
	}
	var img *image.RGBA
	err := s.loop.call(ctx, func() {
		if s.page == nil {
			return
		}
		img = s.page.painter.crop(r)
	})
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, errors.New("surface is not bootstrapped")
	}
	data, err := encodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("encode capture %s: %w", r, err)
	}
	return data, nil
}

func (s *Surface) Density() float64 { return s.density }

// Close stops the loop. Pending timers and font loads are dropped.
func (s *Surface) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.loop.stop()
	return nil
}

func (s *Surface) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// interpret maps a page script result to a Reply: a bounds object is OK,
// an object with an error field is a typeset error, undefined is OK with
// empty bounds.
func interpret(v interface{}) Reply {
	switch r := v.(type) {
	case nil:
		return Reply{Kind: ReplyOK}
	case map[string]interface{}:
		if msg, ok := r["error"]; ok {
			return Reply{Kind: ReplyTypesetError, Message: fmt.Sprint(msg)}
		}
		return Reply{Kind: ReplyOK, Bounds: Bounds{
			X:      number(r["x"]),
			Y:      number(r["y"]),
			Width:  number(r["width"]),
			Height: number(r["height"]),
		}}
	default:
		return Reply{Kind: ReplyExecutionError, Message: fmt.Sprintf("unexpected script result of type %T", v)}
	}
}

func number(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float32:
		return float64(n)
	}
	return 0
}
