// Package engine defines the contract between the render scheduler and a
// typesetting engine, and provides Surface, a pure-Go reference engine.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by adapter operations after Close.
var ErrClosed = errors.New("engine: closed")

// Adapter drives a single stateful typesetting engine. Implementations
// need not be safe for concurrent Evaluate/CaptureRegion calls; the
// scheduler serializes them.
type Adapter interface {
	// Bootstrap starts asynchronous initialization. onReady is invoked
	// exactly once, off the engine's own goroutine: with nil when the
	// engine can accept commands, or with the error that stopped
	// initialization. After a failure Bootstrap may be called again; other
	// calls while initializing or ready are no-ops.
	Bootstrap(onReady func(error)) error

	// Evaluate runs a command script. The error return is reserved for
	// context cancellation and a closed adapter; script outcomes are
	// reported through Reply.
	Evaluate(ctx context.Context, script string) (Reply, error)

	// CaptureRegion snapshots a device-pixel region of the surface as PNG.
	CaptureRegion(ctx context.Context, r Region) ([]byte, error)

	// Density is the number of device pixels per CSS pixel.
	Density() float64

	Close() error
}

// ReplyKind classifies the outcome of a command.
type ReplyKind int

const (
	ReplyOK ReplyKind = iota
	ReplyTypesetError
	ReplyExecutionError
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyOK:
		return "ok"
	case ReplyTypesetError:
		return "typeset_error"
	case ReplyExecutionError:
		return "execution_error"
	default:
		return fmt.Sprintf("ReplyKind(%d)", int(k))
	}
}

// Reply is the result of Evaluate. Bounds is set for ReplyOK, Message for
// the error kinds.
type Reply struct {
	Kind    ReplyKind
	Bounds  Bounds
	Message string
}

// Bounds is the rendered element's bounding rectangle in CSS pixels.
type Bounds struct {
	X, Y, Width, Height float64
}

// Region is a rectangle in device pixels.
type Region struct {
	X, Y, W, H int
}

func (r Region) String() string {
	return fmt.Sprintf("[%d,%d %dx%d]", r.X, r.Y, r.W, r.H)
}
