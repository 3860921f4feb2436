package engine

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wudi/texkit/fonts"
)

const renderCommand = `setNoWrap(true); setWidth('unset'); setColor('#ff0000'); setFontSize('20px'); render('x^2 + 1', false);`

func bootSurface(t *testing.T, opts ...Option) *Surface {
	t.Helper()
	s := NewSurface(opts...)
	t.Cleanup(func() { _ = s.Close() })

	ready := make(chan error, 1)
	if err := s.Bootstrap(func(err error) { ready <- err }); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	select {
	case err := <-ready:
		if err != nil {
			t.Fatalf("bootstrap failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("surface never became ready")
	}
	return s
}

func regionFor(b Bounds, density float64) Region {
	return Region{
		X: int(math.Round(b.X * density)),
		Y: int(math.Round(b.Y * density)),
		W: int(math.Max(1, math.Round(b.Width*density))),
		H: int(math.Max(1, math.Round(b.Height*density))),
	}
}

func TestLoop_OrderAndStop(t *testing.T) {
	l := newLoop(4)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		if err := l.call(context.Background(), func() { order = append(order, i) }); err != nil {
			t.Fatalf("call: %v", err)
		}
	}
	if len(order) != 3 || order[0] != 0 || order[2] != 2 {
		t.Fatalf("unexpected order %v", order)
	}

	fired := make(chan struct{})
	l.after(time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("delayed task never ran")
	}

	l.stop()
	l.stop()
	if err := l.call(context.Background(), func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after stop, got %v", err)
	}
}

func TestLoop_CallContext(t *testing.T) {
	l := newLoop(1)
	defer l.stop()

	block := make(chan struct{})
	l.post(func() { <-block })
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.call(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestSurface_RenderAndCapture(t *testing.T) {
	s := bootSurface(t, WithPaintDelay(time.Millisecond))

	reply, err := s.Evaluate(context.Background(), renderCommand)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if reply.Kind != ReplyOK {
		t.Fatalf("expected ok reply, got %v %q", reply.Kind, reply.Message)
	}
	if reply.Bounds.Width <= 0 || reply.Bounds.Height <= 2 {
		t.Fatalf("unexpected bounds %+v", reply.Bounds)
	}

	region := regionFor(reply.Bounds, s.Density())
	var data []byte
	deadline := time.Now().Add(5 * time.Second)
	for {
		next, err := s.CaptureRegion(context.Background(), region)
		if err != nil {
			t.Fatalf("CaptureRegion: %v", err)
		}
		if data != nil && bytes.Equal(data, next) {
			break
		}
		data = next
		if time.Now().After(deadline) {
			t.Fatalf("capture never stabilized")
		}
		time.Sleep(10 * time.Millisecond)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := img.Bounds(); got.Dx() != region.W || got.Dy() != region.H {
		t.Fatalf("image size %v, want %dx%d", got, region.W, region.H)
	}
	painted := false
	for y := 0; y < region.H && !painted; y++ {
		for x := 0; x < region.W; x++ {
			r, _, b, a := img.At(x, y).RGBA()
			if a > 0 && r > b {
				painted = true
				break
			}
		}
	}
	if !painted {
		t.Fatalf("expected red glyph pixels in capture")
	}
}

func TestSurface_StaleBeforePaint(t *testing.T) {
	s := bootSurface(t, WithPaintDelay(300*time.Millisecond))

	reply, err := s.Evaluate(context.Background(), renderCommand)
	if err != nil || reply.Kind != ReplyOK {
		t.Fatalf("Evaluate: %v %+v", err, reply)
	}
	region := regionFor(reply.Bounds, s.Density())
	before, err := s.CaptureRegion(context.Background(), region)
	if err != nil {
		t.Fatalf("CaptureRegion: %v", err)
	}
	time.Sleep(600 * time.Millisecond)
	after, err := s.CaptureRegion(context.Background(), region)
	if err != nil {
		t.Fatalf("CaptureRegion: %v", err)
	}
	if bytes.Equal(before, after) {
		t.Fatalf("capture before paint should differ from the painted frame")
	}
}

func TestSurface_Errors(t *testing.T) {
	s := bootSurface(t)

	reply, err := s.Evaluate(context.Background(), `render('\\frac{a', true);`)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if reply.Kind != ReplyTypesetError || !strings.Contains(reply.Message, "ParseError") {
		t.Fatalf("expected typeset error, got %v %q", reply.Kind, reply.Message)
	}

	reply, err = s.Evaluate(context.Background(), `noSuchFunction();`)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if reply.Kind != ReplyExecutionError {
		t.Fatalf("expected execution error, got %v", reply.Kind)
	}

	if _, err := s.CaptureRegion(context.Background(), Region{W: 0, H: 1}); err == nil {
		t.Fatalf("expected error for empty region")
	}
}

func TestSurface_BootstrapIdempotent(t *testing.T) {
	var calls atomic.Int32
	s := NewSurface()
	defer s.Close()

	ready := make(chan struct{})
	if err := s.Bootstrap(func(error) { calls.Add(1); close(ready) }); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := s.Bootstrap(func(error) { calls.Add(1) }); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	select {
	case <-ready:
	case <-time.After(10 * time.Second):
		t.Fatalf("never ready")
	}
	time.Sleep(20 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("onReady fired %d times", n)
	}
}

func TestSurface_FontFailureReported(t *testing.T) {
	var loads atomic.Int32
	s := NewSurface(WithFontLoader(func() (*fonts.Set, error) {
		loads.Add(1)
		return nil, errors.New("no fonts")
	}))
	defer s.Close()

	for i := range 2 {
		done := make(chan error, 1)
		if err := s.Bootstrap(func(err error) { done <- err }); err != nil {
			t.Fatalf("Bootstrap %d: %v", i, err)
		}
		select {
		case err := <-done:
			if err == nil || err.Error() != "load fonts: no fonts" {
				t.Fatalf("bootstrap %d reported %v", i, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("font failure never reported")
		}
	}
	if n := loads.Load(); n != 2 {
		t.Fatalf("fonts loaded %d times, want a retry per Bootstrap", n)
	}
}

func TestSurface_NotBootstrappedAndClosed(t *testing.T) {
	s := NewSurface()
	reply, err := s.Evaluate(context.Background(), `1`)
	if err != nil || reply.Kind != ReplyExecutionError {
		t.Fatalf("expected execution error before bootstrap, got %v %+v", err, reply)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.Evaluate(context.Background(), `1`); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := s.CaptureRegion(context.Background(), Region{W: 1, H: 1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := s.Bootstrap(func(error) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestInterpret(t *testing.T) {
	ok := interpret(map[string]interface{}{"x": int64(0), "y": 1.5, "width": 10.0, "height": int64(4)})
	if ok.Kind != ReplyOK || ok.Bounds != (Bounds{X: 0, Y: 1.5, Width: 10, Height: 4}) {
		t.Fatalf("unexpected reply %+v", ok)
	}
	if r := interpret(map[string]interface{}{"error": "ParseError: x"}); r.Kind != ReplyTypesetError || r.Message != "ParseError: x" {
		t.Fatalf("unexpected reply %+v", r)
	}
	if r := interpret(nil); r.Kind != ReplyOK {
		t.Fatalf("undefined should be ok, got %+v", r)
	}
	if r := interpret(true); r.Kind != ReplyExecutionError {
		t.Fatalf("unexpected kind %v", r.Kind)
	}
}

func TestParseHelpers(t *testing.T) {
	if v, ok := parsePixels(" 24px "); !ok || v != 24 {
		t.Fatalf("parsePixels = %v %v", v, ok)
	}
	if _, ok := parsePixels("unset"); ok {
		t.Fatalf("unset is not a length")
	}
	r, g, b, a := parseColor("#00ff00").RGBA()
	if r != 0 || g != 0xffff || b != 0 || a != 0xffff {
		t.Fatalf("unexpected color %v %v %v %v", r, g, b, a)
	}
	if parseColor("not-a-color") == nil {
		t.Fatalf("fallback color should be black")
	}
}
