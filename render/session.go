package render

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/wudi/texkit/engine"
	"github.com/wudi/texkit/observability"
)

// Session issues one render command to the engine and hands a successful
// reply to the stabilizer. It refuses to overlap with itself.
type Session struct {
	adapter    engine.Adapter
	stabilizer *Stabilizer
	logger     observability.Logger

	busy     atomic.Bool
	memoHits atomic.Uint64
}

func NewSession(adapter engine.Adapter, stabilizer *Stabilizer, logger observability.Logger) *Session {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Session{adapter: adapter, stabilizer: stabilizer, logger: logger}
}

// Render produces PNG bytes for p. Engine-reported failures come back as
// *Error with an empty RequestID; context and closed-engine errors are
// returned unchanged.
func (s *Session) Render(ctx context.Context, p Params) ([]byte, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, newError(ErrConcurrentRequest, "", "a render is already in progress", nil)
	}
	defer s.busy.Store(false)

	if data, ok := s.stabilizer.Recall(p); ok {
		hits := s.memoHits.Add(1)
		s.logger.Debug("memo hit", observability.Uint64(observability.MetricMemoHits, hits))
		return data, nil
	}

	start := time.Now()
	reply, err := s.adapter.Evaluate(ctx, BuildCommand(p))
	s.logger.Debug("command evaluated",
		observability.Duration(observability.MetricEngineEvaluate, time.Since(start)),
		observability.String("reply", reply.Kind.String()))
	if err != nil {
		s.stabilizer.Forget()
		return nil, err
	}

	switch reply.Kind {
	case engine.ReplyTypesetError:
		s.stabilizer.Forget()
		return nil, newError(ErrTypeset, "", reply.Message, nil)
	case engine.ReplyExecutionError:
		s.stabilizer.Forget()
		return nil, newError(ErrExecution, "", reply.Message, nil)
	}
	return s.stabilizer.Capture(ctx, reply.Bounds, p)
}

// MemoHits counts renders served from the memo.
func (s *Session) MemoHits() uint64 { return s.memoHits.Load() }
