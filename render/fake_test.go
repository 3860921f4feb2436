package render

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wudi/texkit/engine"
)

// fakeAdapter is a scripted engine. By default it becomes ready right
// after Bootstrap, answers every command with fixed bounds and captures
// the text of the last command, so two captures always agree.
type fakeAdapter struct {
	density float64

	mu         sync.Mutex
	onReady    func(error)
	bootstraps int
	bootErr    error
	autoReady  bool
	scripts    []string
	last       string
	captures   int
	closed     bool
	block      chan struct{}
	entered    chan string
	reply      func(script string) engine.Reply
	capture    func(n int, last string) ([]byte, error)

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{density: 2, autoReady: true}
}

func (f *fakeAdapter) Bootstrap(onReady func(error)) error {
	f.mu.Lock()
	f.bootstraps++
	if f.bootErr != nil {
		err := f.bootErr
		f.mu.Unlock()
		return err
	}
	f.onReady = onReady
	auto := f.autoReady
	f.mu.Unlock()
	if auto {
		go onReady(nil)
	}
	return nil
}

// ready fires the stored bootstrap callback.
func (f *fakeAdapter) ready() { f.finishBoot(nil) }

// fail reports err through the stored bootstrap callback, as an engine
// whose initialization broke after Bootstrap returned.
func (f *fakeAdapter) fail(err error) { f.finishBoot(err) }

func (f *fakeAdapter) finishBoot(err error) {
	f.mu.Lock()
	fn := f.onReady
	f.mu.Unlock()
	fn(err)
}

func (f *fakeAdapter) Evaluate(ctx context.Context, script string) (engine.Reply, error) {
	f.enter()
	defer f.inFlight.Add(-1)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return engine.Reply{}, engine.ErrClosed
	}
	f.scripts = append(f.scripts, script)
	f.last = script
	block, entered, reply := f.block, f.entered, f.reply
	f.mu.Unlock()

	if entered != nil {
		entered <- script
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return engine.Reply{}, ctx.Err()
		}
	}
	time.Sleep(time.Millisecond)
	if reply != nil {
		return reply(script), nil
	}
	return engine.Reply{Kind: engine.ReplyOK, Bounds: engine.Bounds{Width: 10, Height: 5}}, nil
}

func (f *fakeAdapter) CaptureRegion(ctx context.Context, r engine.Region) ([]byte, error) {
	f.enter()
	defer f.inFlight.Add(-1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, engine.ErrClosed
	}
	f.captures++
	if f.capture != nil {
		return f.capture(f.captures, f.last)
	}
	return []byte(f.last), nil
}

func (f *fakeAdapter) Density() float64 { return f.density }

func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) enter() {
	n := f.inFlight.Add(1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			return
		}
	}
}

func (f *fakeAdapter) counts() (bootstraps, scripts, captures int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bootstraps, len(f.scripts), f.captures
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
