package engine

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// loop runs every task on one goroutine locked to its OS thread. Script and
// raster state owned by the surface is only touched from inside tasks.
type loop struct {
	tasks    chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newLoop(queue int) *loop {
	l := &loop{
		tasks: make(chan func(), queue),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *loop) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.done)

	for {
		select {
		case <-l.quit:
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// post enqueues fn. It reports false once the loop has stopped.
// Tasks must not call post themselves; use after.
func (l *loop) post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// after posts fn once d has elapsed.
func (l *loop) after(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { l.post(fn) })
}

// call runs fn on the loop and waits for it to finish, for ctx to end or
// for the loop to stop.
func (l *loop) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

func (l *loop) stop() {
	l.stopOnce.Do(func() { close(l.quit) })
	<-l.done
}
