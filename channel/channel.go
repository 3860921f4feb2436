// Package channel exposes a Renderer to a host through method calls.
//
// A host sends Call values naming a method and a loosely typed argument
// map; every call is answered by exactly one Response carrying either the
// PNG bytes or an error triple of code, message and details.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wudi/texkit/observability"
	"github.com/wudi/texkit/render"
)

// Methods understood by Handler.
const (
	MethodRender = "render"
	MethodCancel = "cancel"
)

// Error codes reported in ErrorDetail.Code.
const (
	CodeMissingArg        = "MissingArg"
	CodeJobCancelled      = "JobCancelled"
	CodeRenderError       = "RenderError"
	CodeExecutionError    = "ExecutionError"
	CodeConcurrencyError  = "ConcurrencyError"
	CodeSnapshotError     = "SnapshotError"
	CodeUnsupportedMethod = "UnsupportedMethod"
)

// Call is one method invocation from the host.
type Call struct {
	// ID is echoed in the response so hosts can match replies.
	ID        string         `json:"id,omitempty" msgpack:"id,omitempty"`
	Method    string         `json:"method" msgpack:"method"`
	Arguments map[string]any `json:"arguments,omitempty" msgpack:"arguments,omitempty"`
}

// Response answers a Call. Exactly one of Result or Error is meaningful;
// a successful cancel has neither.
type Response struct {
	ID        string       `json:"id,omitempty" msgpack:"id,omitempty"`
	Method    string       `json:"method" msgpack:"method"`
	RequestID string       `json:"requestId,omitempty" msgpack:"requestId,omitempty"`
	Result    []byte       `json:"result,omitempty" msgpack:"result,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty" msgpack:"error,omitempty"`
}

// ErrorDetail is the (code, message, details) failure triple.
type ErrorDetail struct {
	Code    string `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
	Details string `json:"details,omitempty" msgpack:"details,omitempty"`
}

func (e *ErrorDetail) Error() string {
	if e.Details == "" {
		return e.Code + ": " + e.Message
	}
	return e.Code + ": " + e.Message + " (" + e.Details + ")"
}

// Renderer is the part of render.Renderer the handler needs.
type Renderer interface {
	Submit(requestID string, p render.Params) *render.Job
	Cancel(requestID string)
}

// Handler dispatches calls to a Renderer. Calls reach the renderer in the
// order they are admitted; waiting for results may happen concurrently.
type Handler struct {
	renderer Renderer
	logger   observability.Logger
}

func NewHandler(r Renderer, logger observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Handler{renderer: r, logger: logger}
}

// Pending is an admitted call whose response may not be known yet.
type Pending struct {
	resp Response
	job  *render.Job
}

// Wait blocks until the call's response is known. If ctx ends first the
// response reports the job as cancelled; the job itself is not withdrawn.
func (p *Pending) Wait(ctx context.Context) Response {
	resp := p.resp
	if p.job == nil {
		return resp
	}
	data, err := p.job.Wait(ctx)
	switch {
	case err == nil:
		resp.Result = data
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		resp.Error = Detail(&render.Error{Kind: render.ErrCancelled, RequestID: p.job.RequestID, Message: "caller gave up", Err: err})
	default:
		resp.Error = Detail(err)
	}
	return resp
}

// Admit decodes call and hands it to the renderer before returning: render
// calls are submitted, cancel calls applied. Argument and method errors are
// answered without touching the renderer.
func (h *Handler) Admit(call Call) *Pending {
	p := &Pending{resp: Response{ID: call.ID, Method: call.Method}}
	args := arguments{method: call.Method, values: call.Arguments}
	if id, ok := call.Arguments["requestId"].(string); ok {
		p.resp.RequestID = id
	}

	switch call.Method {
	case MethodRender:
		id, params, err := args.renderParams()
		if err != nil {
			p.resp.Error = Detail(err)
			return p
		}
		h.logger.Debug("render call",
			observability.String("request_id", id),
			observability.String("params", params.Digest()))
		p.job = h.renderer.Submit(id, params)

	case MethodCancel:
		id, err := args.string("requestId")
		if err != nil {
			p.resp.Error = Detail(err)
			return p
		}
		h.renderer.Cancel(id)

	default:
		h.logger.Warn("unsupported method", observability.String("method", call.Method))
		p.resp.Error = &ErrorDetail{
			Code:    CodeUnsupportedMethod,
			Message: fmt.Sprintf("%s is not supported", call.Method),
		}
	}
	return p
}

// Handle admits call and waits for its response.
func (h *Handler) Handle(ctx context.Context, call Call) Response {
	return h.Admit(call).Wait(ctx)
}

// Detail maps an error from argument decoding or rendering to its
// transport triple.
func Detail(err error) *ErrorDetail {
	var argErr *ArgumentError
	if errors.As(err, &argErr) {
		return &ErrorDetail{Code: CodeMissingArg, Message: "Required argument missing", Details: argErr.Error()}
	}

	var rerr *render.Error
	if !errors.As(err, &rerr) {
		return &ErrorDetail{Code: CodeExecutionError, Message: "The engine failed", Details: err.Error()}
	}
	switch rerr.Kind {
	case render.ErrCancelled:
		return &ErrorDetail{Code: CodeJobCancelled, Message: "The job was cancelled", Details: "Request ID: " + rerr.RequestID}
	case render.ErrTypeset:
		return &ErrorDetail{Code: CodeRenderError, Message: "An error occurred during rendering", Details: rerr.Message}
	case render.ErrConcurrentRequest:
		return &ErrorDetail{Code: CodeConcurrencyError, Message: "A render job was already in progress"}
	case render.ErrSnapshot:
		return &ErrorDetail{Code: CodeSnapshotError, Message: "Capturing the rendered image failed", Details: causeText(rerr)}
	case render.ErrMissingArgument:
		return &ErrorDetail{Code: CodeMissingArg, Message: "Required argument missing", Details: rerr.Message}
	default:
		return &ErrorDetail{Code: CodeExecutionError, Message: "The engine failed", Details: causeText(rerr)}
	}
}

func causeText(e *render.Error) string {
	if e.Err != nil && e.Err.Error() != e.Message {
		if e.Message == "" {
			return e.Err.Error()
		}
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Serve decodes calls from dec until EOF and admits each in stream order,
// then waits for its response on its own goroutine and passes it to emit.
// emit is never called concurrently. Serve returns once all responses are
// emitted, or early once emit fails or ctx ends.
func Serve(ctx context.Context, dec Decoder, h *Handler, emit func(Response) error) error {
	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for ctx.Err() == nil {
		var call Call
		if err := dec.Decode(&call); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if werr := g.Wait(); werr != nil {
				return werr
			}
			return fmt.Errorf("decode call: %w", err)
		}
		pending := h.Admit(call)
		g.Go(func() error {
			resp := pending.Wait(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err := emit(resp); err != nil {
				return fmt.Errorf("emit response %s: %w", resp.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}
