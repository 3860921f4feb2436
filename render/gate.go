package render

import (
	"context"
	"fmt"
	"sync"

	"github.com/wudi/texkit/observability"
)

// Bootstrapper starts asynchronous engine initialization. onReady reports
// nil once the engine is ready or the error that stopped it.
type Bootstrapper interface {
	Bootstrap(onReady func(error)) error
}

type gateState int

const (
	gateUninitialized gateState = iota
	gateInitializing
	gateReady
)

func (s gateState) String() string {
	switch s {
	case gateInitializing:
		return "initializing"
	case gateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Gate holds work back until the engine reports ready. It keeps at most
// one pending continuation; callers are expected to be serialized.
type Gate struct {
	engine Bootstrapper
	logger observability.Logger

	mu        sync.Mutex
	state     gateState
	pending   func(error)
	pendingID uint64
	nextID    uint64
}

func NewGate(engine Bootstrapper, logger observability.Logger) *Gate {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Gate{engine: engine, logger: logger}
}

// Ready reports whether the engine has signalled readiness.
func (g *Gate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == gateReady
}

// WhenReady runs fn once the engine is ready: immediately if it already
// is, otherwise from the engine's signal. fn receives the bootstrap error
// if initialization fails after starting. The returned withdraw func
// removes fn if it has not run yet. A second pending continuation fails
// with ErrConcurrentRequest; a failed bootstrap returns the gate to its
// initial state so the next caller retries.
func (g *Gate) WhenReady(fn func(error)) (withdraw func(), err error) {
	g.mu.Lock()
	switch g.state {
	case gateReady:
		g.mu.Unlock()
		fn(nil)
		return func() {}, nil

	case gateInitializing:
		if g.pending != nil {
			g.mu.Unlock()
			return nil, ErrConcurrentRequest
		}
		id := g.register(fn)
		g.mu.Unlock()
		return g.withdrawFunc(id), nil

	default:
		g.state = gateInitializing
		id := g.register(fn)
		g.mu.Unlock()

		g.logger.Debug("bootstrapping engine")
		if err := g.engine.Bootstrap(g.signal); err != nil {
			g.mu.Lock()
			g.state = gateUninitialized
			if g.pendingID == id {
				g.pending = nil
			}
			g.mu.Unlock()
			g.logger.Error("engine bootstrap failed", observability.Error("error", err))
			return nil, fmt.Errorf("bootstrap engine: %w", err)
		}
		return g.withdrawFunc(id), nil
	}
}

// Await blocks until the engine is ready or ctx ends. On ctx expiry the
// continuation is withdrawn so a later caller can wait in its place.
func (g *Gate) Await(ctx context.Context) error {
	done := make(chan error, 1)
	withdraw, err := g.WhenReady(func(err error) { done <- err })
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		withdraw()
		select {
		case err := <-done:
			return err
		default:
		}
		return ctx.Err()
	}
}

func (g *Gate) register(fn func(error)) uint64 {
	g.nextID++
	g.pending = fn
	g.pendingID = g.nextID
	return g.nextID
}

func (g *Gate) withdrawFunc(id uint64) func() {
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.pendingID == id {
			g.pending = nil
		}
	}
}

// signal is the engine's bootstrap callback. A failure returns the gate
// to uninitialized and hands the error to the pending continuation.
func (g *Gate) signal(err error) {
	g.mu.Lock()
	if g.state != gateInitializing {
		state := g.state
		g.mu.Unlock()
		g.logger.Warn("ignoring ready signal", observability.String("state", state.String()))
		return
	}
	fn := g.pending
	g.pending = nil
	if err != nil {
		g.state = gateUninitialized
		g.mu.Unlock()
		err = fmt.Errorf("bootstrap engine: %w", err)
		g.logger.Error("engine bootstrap failed", observability.Error("error", err))
	} else {
		g.state = gateReady
		g.mu.Unlock()
		g.logger.Debug("engine ready")
	}
	if fn != nil {
		fn(err)
	}
}
