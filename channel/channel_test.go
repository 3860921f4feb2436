package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wudi/texkit/engine"
	"github.com/wudi/texkit/render"
)

// scriptEngine is an engine whose captures read "png:" followed by the text
// of the last rendered formula. Evaluate blocks while hold is open.
type scriptEngine struct {
	mu    sync.Mutex
	texts map[string]string
	last  string
	hold  chan struct{}
}

func (e *scriptEngine) Bootstrap(onReady func(error)) error {
	go onReady(nil)
	return nil
}

func (e *scriptEngine) Evaluate(ctx context.Context, script string) (engine.Reply, error) {
	e.mu.Lock()
	e.last = script
	hold := e.hold
	e.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return engine.Reply{}, ctx.Err()
		}
	}
	return engine.Reply{Kind: engine.ReplyOK, Bounds: engine.Bounds{Width: 10, Height: 5}}, nil
}

func (e *scriptEngine) CaptureRegion(context.Context, engine.Region) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return []byte("png:" + e.texts[e.last]), nil
}

func (e *scriptEngine) Density() float64 { return 1 }

func (e *scriptEngine) Close() error { return nil }

// recordingRenderer is a real renderer that logs the order in which calls
// reach it.
type recordingRenderer struct {
	*render.Renderer
	engine *scriptEngine

	mu     sync.Mutex
	params map[string]render.Params
	calls  []string
}

func newRecordingRenderer(t *testing.T) *recordingRenderer {
	t.Helper()
	e := &scriptEngine{texts: make(map[string]string)}
	r, err := render.New(e, render.WithMaxAttempts(1))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return &recordingRenderer{Renderer: r, engine: e, params: make(map[string]render.Params)}
}

func (r *recordingRenderer) Submit(id string, p render.Params) *render.Job {
	r.engine.mu.Lock()
	r.engine.texts[render.BuildCommand(p)] = p.Text
	r.engine.mu.Unlock()

	r.mu.Lock()
	r.params[id] = p
	r.calls = append(r.calls, "render:"+p.Text)
	r.mu.Unlock()
	return r.Renderer.Submit(id, p)
}

func (r *recordingRenderer) Cancel(id string) {
	r.Renderer.Cancel(id)
	r.mu.Lock()
	r.calls = append(r.calls, "cancel:"+id)
	r.mu.Unlock()
}

func (r *recordingRenderer) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func renderArgs() map[string]any {
	return map[string]any{
		"requestId":   "a",
		"text":        `x^2`,
		"displayMode": false,
		"color":       "#000",
		"fontSize":    16.0,
		"maxWidth":    math.Inf(1),
	}
}

func TestHandleRender(t *testing.T) {
	r := newRecordingRenderer(t)
	h := NewHandler(r, nil)

	resp := h.Handle(context.Background(), Call{ID: "1", Method: MethodRender, Arguments: renderArgs()})
	if resp.Error != nil {
		t.Fatal(resp.Error)
	}
	if string(resp.Result) != "png:x^2" || resp.ID != "1" || resp.RequestID != "a" {
		t.Errorf("resp = %+v", resp)
	}
	want := render.Params{Text: "x^2", Color: "#000", FontSize: 16, MaxWidth: math.Inf(1)}
	if got := r.params["a"]; got != want {
		t.Errorf("params = %+v, want %+v", got, want)
	}
}

func TestHandleMissingArgument(t *testing.T) {
	fields := []string{"requestId", "text", "displayMode", "color", "fontSize", "maxWidth"}
	for _, field := range fields {
		t.Run(field, func(t *testing.T) {
			args := renderArgs()
			delete(args, field)
			resp := NewHandler(newRecordingRenderer(t), nil).Handle(context.Background(), Call{Method: MethodRender, Arguments: args})
			if resp.Error == nil || resp.Error.Code != CodeMissingArg {
				t.Fatalf("resp = %+v", resp)
			}
			if want := "render requires '" + field + "'"; resp.Error.Details != want {
				t.Errorf("details = %q, want %q", resp.Error.Details, want)
			}
		})
	}
}

func TestHandleMistypedArgument(t *testing.T) {
	args := renderArgs()
	args["displayMode"] = "yes"
	resp := NewHandler(newRecordingRenderer(t), nil).Handle(context.Background(), Call{Method: MethodRender, Arguments: args})
	if resp.Error == nil || resp.Error.Details != "render requires 'displayMode'" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestNumberArgument(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{16.0, 16, true},
		{float32(1.5), 1.5, true},
		{int8(12), 12, true},
		{uint16(300), 300, true},
		{int64(-2), -2, true},
		{"Infinity", math.Inf(1), true},
		{"+Inf", math.Inf(1), true},
		{"12.5", 12.5, true},
		{"wide", 0, false},
		{math.NaN(), 0, false},
		{true, 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		a := arguments{method: "render", values: map[string]any{"maxWidth": tt.in}}
		got, err := a.number("maxWidth")
		if (err == nil) != tt.ok {
			t.Errorf("number(%v) err = %v", tt.in, err)
			continue
		}
		if tt.ok && got != tt.want {
			t.Errorf("number(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHandleCancel(t *testing.T) {
	r := newRecordingRenderer(t)
	h := NewHandler(r, nil)

	for range 2 {
		resp := h.Handle(context.Background(), Call{Method: MethodCancel, Arguments: map[string]any{"requestId": "b"}})
		if resp.Error != nil || resp.Result != nil {
			t.Fatalf("resp = %+v", resp)
		}
	}
	if got := strings.Join(r.recorded(), " "); got != "cancel:b cancel:b" {
		t.Errorf("calls = %s", got)
	}

	resp := h.Handle(context.Background(), Call{Method: MethodCancel})
	if resp.Error == nil || resp.Error.Details != "cancel requires 'requestId'" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandleUnsupported(t *testing.T) {
	resp := NewHandler(newRecordingRenderer(t), nil).Handle(context.Background(), Call{Method: "typeset"})
	if resp.Error == nil || resp.Error.Code != CodeUnsupportedMethod || resp.Error.Message != "typeset is not supported" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestDetail(t *testing.T) {
	tests := []struct {
		err     error
		code    string
		details string
	}{
		{&render.Error{Kind: render.ErrCancelled, RequestID: "a"}, CodeJobCancelled, "Request ID: a"},
		{&render.Error{Kind: render.ErrTypeset, Message: "ParseError: Expected '}'"}, CodeRenderError, "ParseError: Expected '}'"},
		{&render.Error{Kind: render.ErrExecution, Message: "ReferenceError: x"}, CodeExecutionError, "ReferenceError: x"},
		{&render.Error{Kind: render.ErrConcurrentRequest}, CodeConcurrencyError, ""},
		{&render.Error{Kind: render.ErrSnapshot, Message: "capture failed", Err: errors.New("gone")}, CodeSnapshotError, "capture failed: gone"},
		{&ArgumentError{Method: "render", Field: "text"}, CodeMissingArg, "render requires 'text'"},
		{fmt.Errorf("wrapped: %w", &render.Error{Kind: render.ErrTypeset, Message: "m"}), CodeRenderError, "m"},
		{errors.New("other"), CodeExecutionError, "other"},
	}
	for _, tt := range tests {
		d := Detail(tt.err)
		if d.Code != tt.code || d.Details != tt.details {
			t.Errorf("Detail(%v) = %+v, want %s %q", tt.err, d, tt.code, tt.details)
		}
	}
	if !errors.Is(&ArgumentError{Method: "m", Field: "f"}, render.ErrMissingArgument) {
		t.Error("ArgumentError should match ErrMissingArgument")
	}
}

func TestServeConcurrent(t *testing.T) {
	for _, name := range []string{CodecNameJSON, CodecNameMsgpack} {
		t.Run(name, func(t *testing.T) {
			codec, err := GetCodec(name)
			if err != nil {
				t.Fatal(err)
			}
			var in bytes.Buffer
			enc := codec.NewEncoder(&in)
			for i := range 5 {
				args := renderArgs()
				args["requestId"] = fmt.Sprintf("r%d", i)
				args["text"] = fmt.Sprintf("x_%d", i)
				if name == CodecNameJSON {
					args["maxWidth"] = "Infinity"
				}
				if err := enc.Encode(Call{ID: fmt.Sprint(i), Method: MethodRender, Arguments: args}); err != nil {
					t.Fatal(err)
				}
			}
			if err := enc.Encode(Call{ID: "c", Method: MethodCancel, Arguments: map[string]any{"requestId": "r9"}}); err != nil {
				t.Fatal(err)
			}

			r := newRecordingRenderer(t)
			var out bytes.Buffer
			outEnc := codec.NewEncoder(&out)
			if err := Serve(context.Background(), codec.NewDecoder(&in), NewHandler(r, nil), func(resp Response) error {
				return outEnc.Encode(resp)
			}); err != nil {
				t.Fatal(err)
			}

			dec := codec.NewDecoder(&out)
			var got []string
			for range 6 {
				var resp Response
				if err := dec.Decode(&resp); err != nil {
					t.Fatal(err)
				}
				if resp.Error != nil {
					t.Fatalf("response %s: %v", resp.ID, resp.Error)
				}
				got = append(got, resp.ID+"="+string(resp.Result))
			}
			sort.Strings(got)
			want := "0=png:x_0 1=png:x_1 2=png:x_2 3=png:x_3 4=png:x_4 c="
			if strings.Join(got, " ") != want {
				t.Errorf("responses = %v", got)
			}
			if p := r.params["r3"]; !p.NoWrap() {
				t.Errorf("maxWidth did not decode as +Inf: %+v", p)
			}
		})
	}
}

func TestServeDecodeError(t *testing.T) {
	codec, _ := GetCodec(CodecNameJSON)
	dec := codec.NewDecoder(strings.NewReader(`{"method":"cancel","arguments":{"requestId":"a"}} {oops`))
	var n int
	err := Serve(context.Background(), dec, NewHandler(newRecordingRenderer(t), nil), func(Response) error {
		n++
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "decode call") {
		t.Fatalf("err = %v", err)
	}
	if n != 1 {
		t.Errorf("emitted %d responses before the error", n)
	}
}

func TestGetCodec(t *testing.T) {
	if c, err := GetCodec(""); err != nil || c.Name() != CodecNameJSON {
		t.Errorf("default codec = %v, %v", c, err)
	}
	if _, err := GetCodec("protobuf"); err == nil {
		t.Error("expected error for unknown codec")
	}
}

func TestHandleCallerGivesUp(t *testing.T) {
	r := newRecordingRenderer(t)
	r.engine.hold = make(chan struct{})
	defer close(r.engine.hold)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	resp := NewHandler(r, nil).Handle(ctx, Call{Method: MethodRender, Arguments: renderArgs()})
	if resp.Error == nil || resp.Error.Code != CodeJobCancelled || resp.Error.Details != "Request ID: a" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestServeAdmitsInStreamOrder(t *testing.T) {
	codec, _ := GetCodec(CodecNameJSON)
	for trial := range 50 {
		var in bytes.Buffer
		enc := codec.NewEncoder(&in)
		for i, text := range []string{"first", "second"} {
			args := renderArgs()
			args["text"] = text
			if err := enc.Encode(Call{ID: fmt.Sprint(i), Method: MethodRender, Arguments: args}); err != nil {
				t.Fatal(err)
			}
		}
		if err := enc.Encode(Call{ID: "c", Method: MethodCancel, Arguments: map[string]any{"requestId": "a"}}); err != nil {
			t.Fatal(err)
		}

		r := newRecordingRenderer(t)
		hold := make(chan struct{})
		r.engine.hold = hold
		go func() {
			for len(r.recorded()) < 3 {
				time.Sleep(time.Millisecond)
			}
			close(hold)
		}()

		got := make(map[string]Response)
		err := Serve(context.Background(), codec.NewDecoder(&in), NewHandler(r, nil), func(resp Response) error {
			got[resp.ID] = resp
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}

		if calls := strings.Join(r.recorded(), " "); calls != "render:first render:second cancel:a" {
			t.Fatalf("trial %d: calls reached the renderer as %s", trial, calls)
		}
		// first is superseded by second, which the cancel withdraws.
		for _, id := range []string{"0", "1"} {
			if e := got[id].Error; e == nil || e.Code != CodeJobCancelled {
				t.Fatalf("trial %d: response %s = %+v, want JobCancelled", trial, id, got[id])
			}
		}
		if resp, ok := got["c"]; !ok || resp.Error != nil {
			t.Fatalf("trial %d: cancel response = %+v", trial, resp)
		}
	}
}

// cancelStream yields cancel calls until limit. Once failed is closed each
// decode takes a millisecond.
type cancelStream struct {
	failed  chan struct{}
	decodes atomic.Int32
	limit   int32
}

func (s *cancelStream) Decode(v any) error {
	n := s.decodes.Add(1)
	if n > s.limit {
		return io.EOF
	}
	if n > 1 {
		select {
		case <-s.failed:
			time.Sleep(time.Millisecond)
		case <-time.After(5 * time.Second):
		}
	}
	*v.(*Call) = Call{ID: fmt.Sprint(n), Method: MethodCancel, Arguments: map[string]any{"requestId": "x"}}
	return nil
}

func TestServeStopsAfterEmitFailure(t *testing.T) {
	stream := &cancelStream{failed: make(chan struct{}), limit: 1000}
	var once sync.Once
	err := Serve(context.Background(), stream, NewHandler(newRecordingRenderer(t), nil), func(Response) error {
		once.Do(func() { close(stream.failed) })
		return errors.New("broken pipe")
	})
	if err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Fatalf("err = %v", err)
	}
	if n := stream.decodes.Load(); n >= stream.limit {
		t.Errorf("decoded %d calls after the emit failure", n)
	}
}
