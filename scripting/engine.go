package scripting

import (
	"context"
)

// Engine represents a scripting engine (e.g., JavaScript).
type Engine interface {
	// Execute executes a script in the context of the page.
	Execute(ctx context.Context, script string) (interface{}, error)

	// RegisterDOM registers the surface Document Object Model with the engine.
	RegisterDOM(dom DOM) error
}

// DOM exposes the rendering surface to page scripts.
// It provides a small, controlled subset of a browser document: elements with
// inline styles, the math typesetting entry point, font loading and a message
// channel back to the host.
type DOM interface {
	// Element returns an element by id.
	Element(id string) (ElementProxy, error)

	// Typeset lays out math markup inside the element (katex.render).
	Typeset(el ElementProxy, math string, displayMode bool) error

	// LoadFonts begins loading the surface fonts. done must be invoked on the
	// goroutine that owns the engine once every font is available.
	LoadFonts(done func()) error

	// PostMessage delivers a message from the page to the host.
	PostMessage(name, body string)

	// Log receives console output.
	Log(message string)
}

// ElementProxy represents an element exposed to scripts.
type ElementProxy interface {
	ID() string
	Style(property string) string
	SetStyle(property, value string)
	BoundingClientRect() Rect
}

// Rect is a DOMRect in CSS pixels.
type Rect struct {
	X, Y, Width, Height float64
}

// StyleProperties lists the inline style properties scripts may set.
var StyleProperties = []string{"color", "fontSize", "whiteSpace", "width"}
