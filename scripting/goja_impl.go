package scripting

import (
	"context"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// GojaEngine runs page scripts on a goja runtime. It is not safe for
// concurrent use; callers confine it to one goroutine.
type GojaEngine struct {
	vm       *goja.Runtime
	dom      DOM
	elements map[string]*goja.Object
}

func NewEngine() *GojaEngine {
	vm := goja.New()
	return &GojaEngine{vm: vm, elements: make(map[string]*goja.Object)}
}

func (e *GojaEngine) Execute(ctx context.Context, script string) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)
	defer e.vm.ClearInterrupt()

	go func() {
		select {
		case <-ctx.Done():
			e.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	val, err := e.vm.RunString(script)
	if err != nil {
		if interruptedErr, ok := err.(*goja.InterruptedError); ok {
			if cause := interruptedErr.Unwrap(); cause != nil {
				return nil, cause
			}
			return nil, context.Canceled
		}
		return nil, err
	}
	if val == nil {
		return nil, nil
	}
	return val.Export(), nil
}

func (e *GojaEngine) RegisterDOM(dom DOM) error {
	if dom == nil {
		return fmt.Errorf("register dom: nil dom")
	}
	e.dom = dom

	document := e.vm.NewObject()
	if err := document.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			return goja.Null()
		}
		obj := e.element(call.Arguments[0].String())
		if obj == nil {
			return goja.Null()
		}
		return obj
	}); err != nil {
		return err
	}

	fonts := e.vm.NewObject()
	if err := fonts.Set("loadAll", func(call goja.FunctionCall) goja.Value {
		cb, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(e.vm.NewTypeError("document.fonts.loadAll requires a callback"))
		}
		err := dom.LoadFonts(func() {
			if _, err := cb(goja.Undefined()); err != nil {
				dom.Log("fonts callback: " + err.Error())
			}
		})
		if err != nil {
			panic(e.vm.NewGoError(err))
		}
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if err := document.Set("fonts", fonts); err != nil {
		return err
	}
	if err := e.vm.Set("document", document); err != nil {
		return err
	}

	katex := e.vm.NewObject()
	if err := katex.Set("render", func(call goja.FunctionCall) goja.Value {
		math := call.Argument(0).String()
		target, ok := call.Argument(1).(*goja.Object)
		if !ok {
			panic(e.vm.NewTypeError("katex.render requires an element"))
		}
		el, err := dom.Element(target.Get("id").String())
		if err != nil {
			panic(e.vm.NewGoError(err))
		}
		displayMode := false
		if opts, ok := call.Argument(2).(*goja.Object); ok {
			if v := opts.Get("displayMode"); v != nil {
				displayMode = v.ToBoolean()
			}
		}
		if err := dom.Typeset(el, math, displayMode); err != nil {
			panic(e.parseError(err))
		}
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if err := e.vm.Set("katex", katex); err != nil {
		return err
	}

	window := e.vm.NewObject()
	if err := window.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		body := ""
		if len(call.Arguments) > 1 {
			body = call.Arguments[1].String()
		}
		dom.PostMessage(name, body)
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if err := e.vm.Set("window", window); err != nil {
		return err
	}

	console := e.vm.NewObject()
	if err := console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		dom.Log(strings.Join(parts, " "))
		return goja.Undefined()
	}); err != nil {
		return err
	}
	return e.vm.Set("console", console)
}

// element returns the cached script object for an element id, creating it on
// first use so identity is stable across lookups.
func (e *GojaEngine) element(id string) *goja.Object {
	if obj, ok := e.elements[id]; ok {
		return obj
	}
	el, err := e.dom.Element(id)
	if err != nil || el == nil {
		return nil
	}

	obj := e.vm.NewObject()
	_ = obj.Set("id", el.ID())

	style := e.vm.NewObject()
	for _, prop := range StyleProperties {
		prop := prop
		style.DefineAccessorProperty(prop,
			e.vm.ToValue(func(call goja.FunctionCall) goja.Value {
				return e.vm.ToValue(el.Style(prop))
			}),
			e.vm.ToValue(func(call goja.FunctionCall) goja.Value {
				if len(call.Arguments) > 0 {
					el.SetStyle(prop, call.Arguments[0].String())
				}
				return goja.Undefined()
			}),
			goja.FLAG_TRUE, // Configurable
			goja.FLAG_TRUE, // Enumerable
		)
	}
	_ = obj.Set("style", style)

	_ = obj.Set("getBoundingClientRect", func(call goja.FunctionCall) goja.Value {
		r := el.BoundingClientRect()
		return e.vm.ToValue(map[string]interface{}{
			"x":      r.X,
			"y":      r.Y,
			"left":   r.X,
			"top":    r.Y,
			"width":  r.Width,
			"height": r.Height,
			"right":  r.X + r.Width,
			"bottom": r.Y + r.Height,
		})
	})

	e.elements[id] = obj
	return obj
}

// parseError builds a script Error named ParseError so page code sees the
// same shape the typesetting library throws.
func (e *GojaEngine) parseError(err error) goja.Value {
	obj, cerr := e.vm.New(e.vm.Get("Error"), e.vm.ToValue(err.Error()))
	if cerr != nil {
		return e.vm.NewGoError(err)
	}
	_ = obj.Set("name", "ParseError")
	return obj
}
