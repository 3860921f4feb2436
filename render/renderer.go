// Package render schedules math render jobs onto a single stateful
// typesetting engine.
//
// Each request id has at most one current job. Submitting again under the
// same id supersedes the previous job, which is then delivered Cancelled.
// Jobs take exclusive engine access in FIFO order, wait for the engine to
// become ready, issue one render command and capture the painted output
// once it stops changing.
package render

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/wudi/texkit/engine"
	"github.com/wudi/texkit/observability"
)

// Renderer is the job controller. It is safe for concurrent use.
type Renderer struct {
	cfg        Config
	adapter    engine.Adapter
	gate       *Gate
	session    *Session
	stabilizer *Stabilizer
	access     *semaphore.Weighted

	// registry maps request id to the token of its current job.
	registry sync.Map
	seq      atomic.Uint64
	stats    counters

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// New returns a Renderer driving adapter. The adapter is bootstrapped
// lazily by the first job.
func New(adapter engine.Adapter, opts ...Option) (*Renderer, error) {
	if adapter == nil {
		return nil, errors.New("render: nil adapter")
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.normalize()

	stab := NewStabilizer(adapter, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	return &Renderer{
		cfg:        cfg,
		adapter:    adapter,
		gate:       NewGate(adapter, cfg.Logger),
		session:    NewSession(adapter, stab, cfg.Logger),
		stabilizer: stab,
		access:     semaphore.NewWeighted(1),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Job is one admitted render. It reaches exactly one terminal result.
type Job struct {
	RequestID string
	Params    Params

	token uint64
	done  chan struct{}
	once  sync.Once
	data  []byte
	err   error
}

// Token is the generation token minted on admission.
func (j *Job) Token() uint64 { return j.token }

// Done is closed once the result is available.
func (j *Job) Done() <-chan struct{} { return j.done }

// Result blocks until the job finishes and returns its outcome.
func (j *Job) Result() ([]byte, error) {
	<-j.done
	return j.data, j.err
}

// Wait is Result bounded by ctx. It returns ctx.Err() if ctx ends first;
// the job itself keeps running.
func (j *Job) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-j.done:
		return j.data, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (j *Job) finish(data []byte, err error) {
	j.once.Do(func() {
		j.data, j.err = data, err
		close(j.done)
	})
}

// Submit admits a job for requestID and returns without waiting. Any job
// previously current under the same id is superseded.
func (r *Renderer) Submit(requestID string, p Params) *Job {
	r.stats.submitted.Add(1)
	job := &Job{
		RequestID: requestID,
		Params:    p,
		token:     r.seq.Add(1),
		done:      make(chan struct{}),
	}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		r.stats.cancelled.Add(1)
		job.finish(nil, newError(ErrCancelled, requestID, "renderer closed", ErrClosed))
		return job
	}
	if prev, loaded := r.registry.Swap(requestID, job.token); loaded {
		r.stats.superseded.Add(1)
		r.cfg.Logger.Debug("job superseded",
			observability.String("request_id", requestID),
			observability.Uint64("token", prev.(uint64)),
			observability.Uint64("by", job.token))
	}
	r.wg.Add(1)
	r.mu.RUnlock()

	go r.run(job, time.Now())
	return job
}

// Render submits a job and waits for it. If ctx ends first the job is
// cancelled, unless a newer job has already replaced it.
func (r *Renderer) Render(ctx context.Context, requestID string, p Params) ([]byte, error) {
	job := r.Submit(requestID, p)
	data, err := job.Wait(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		r.registry.CompareAndDelete(requestID, job.token)
		return nil, newError(ErrCancelled, requestID, "caller gave up", err)
	}
	return data, err
}

// Cancel withdraws the current job for requestID, if any. The job is
// delivered Cancelled once it next checks its liveness.
func (r *Renderer) Cancel(requestID string) {
	if tok, loaded := r.registry.LoadAndDelete(requestID); loaded {
		r.cfg.Logger.Debug("job cancelled",
			observability.String("request_id", requestID),
			observability.Uint64("token", tok.(uint64)))
	}
}

// Stats returns a snapshot of the renderer counters.
func (r *Renderer) Stats() Stats {
	s := r.stats.snapshot()
	s.MemoHits = r.session.MemoHits()
	s.Unstable = r.stabilizer.Unstable()
	return s
}

// Close cancels all pending jobs, waits for their goroutines and releases
// the engine. It is safe to call more than once.
func (r *Renderer) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		r.registry.Range(func(key, _ any) bool {
			r.registry.Delete(key)
			return true
		})
		r.cancel()
		r.wg.Wait()
		r.closeErr = r.adapter.Close()
		r.cfg.Logger.Debug("renderer closed")
	})
	return r.closeErr
}

func (r *Renderer) live(job *Job) bool {
	tok, ok := r.registry.Load(job.RequestID)
	return ok && tok.(uint64) == job.token
}

func (r *Renderer) run(job *Job, admitted time.Time) {
	defer r.wg.Done()

	ctx, span := r.cfg.Tracer.StartSpan(r.ctx, observability.SpanJob)
	defer span.Finish()
	span.SetTag("request_id", job.RequestID)
	span.SetTag("params", job.Params.Digest())

	log := r.cfg.Logger.With(
		observability.String("request_id", job.RequestID),
		observability.Uint64("token", job.token))

	data, err := r.execute(ctx, job, admitted, log)
	if err == nil && !r.registry.CompareAndDelete(job.RequestID, job.token) {
		data, err = nil, r.cancelled(job, "job no longer current")
	}

	var rerr *Error
	if err != nil {
		rerr = r.classify(job.RequestID, err)
		if rerr.Kind != ErrCancelled && !r.registry.CompareAndDelete(job.RequestID, job.token) {
			rerr = r.cancelled(job, "job no longer current")
		}
	}

	elapsed := time.Since(admitted)
	span.SetTag(observability.MetricJobDuration, elapsed)
	switch {
	case rerr == nil:
		r.stats.delivered.Add(1)
		log.Debug("job delivered",
			observability.Int("bytes", len(data)),
			observability.Duration(observability.MetricJobDuration, elapsed))
		job.finish(data, nil)
	case rerr.Kind == ErrCancelled:
		r.stats.cancelled.Add(1)
		log.Debug("job cancelled", observability.String("reason", rerr.Message))
		job.finish(nil, rerr)
	default:
		r.stats.failed.Add(1)
		span.SetError(rerr)
		log.Info("job failed", observability.Error("error", rerr))
		job.finish(nil, rerr)
	}
}

func (r *Renderer) execute(ctx context.Context, job *Job, admitted time.Time, log observability.Logger) ([]byte, error) {
	if err := r.access.Acquire(ctx, 1); err != nil {
		return nil, r.cancelled(job, "renderer closed while queued")
	}
	defer r.access.Release(1)

	queued := time.Since(admitted)
	log.Debug("job started", observability.Duration(observability.MetricQueueWait, queued))

	if !r.live(job) {
		return nil, r.cancelled(job, "job no longer current before start")
	}
	if err := r.gate.Await(ctx); err != nil {
		return nil, err
	}
	if !r.live(job) {
		return nil, r.cancelled(job, "job no longer current after engine ready")
	}

	start := time.Now()
	data, err := r.session.Render(ctx, job.Params)
	log.Debug("render finished",
		observability.Duration(observability.MetricQueueWait, queued),
		observability.Duration("render", time.Since(start)))
	return data, err
}

// cancelled builds the Cancelled result for job, citing ErrClosed once the
// renderer is shutting down.
func (r *Renderer) cancelled(job *Job, reason string) *Error {
	if r.ctx.Err() != nil {
		return newError(ErrCancelled, job.RequestID, "renderer closed", ErrClosed)
	}
	return newError(ErrCancelled, job.RequestID, reason, nil)
}

func (r *Renderer) classify(requestID string, err error) *Error {
	var rerr *Error
	if errors.As(err, &rerr) {
		cp := *rerr
		cp.RequestID = requestID
		return &cp
	}
	switch {
	case errors.Is(err, ErrConcurrentRequest):
		return newError(ErrConcurrentRequest, requestID, "a job is already waiting for the engine", nil)
	case r.ctx.Err() != nil:
		return newError(ErrCancelled, requestID, "renderer closed", ErrClosed)
	default:
		return newError(ErrExecution, requestID, err.Error(), err)
	}
}
