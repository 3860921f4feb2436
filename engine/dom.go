package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wudi/texkit/fonts"
	"github.com/wudi/texkit/layout"
	"github.com/wudi/texkit/observability"
	"github.com/wudi/texkit/scripting"
)

// verticalPadding is the space kept above and below typeset math, in CSS
// pixels, so glyph overshoot is not clipped by captures.
const verticalPadding = 1.0

type element struct {
	id       string
	style    map[string]string
	rect     func() scripting.Rect
	onChange func()
}

func (e *element) ID() string { return e.id }

func (e *element) Style(property string) string { return e.style[property] }

func (e *element) SetStyle(property, value string) {
	if e.style[property] == value {
		return
	}
	e.style[property] = value
	if e.onChange != nil {
		e.onChange()
	}
}

func (e *element) BoundingClientRect() scripting.Rect { return e.rect() }

// page is the document the page script sees: a #root element holding a
// left-floated #math container. All methods run on the surface loop.
type page struct {
	s       *Surface
	root    *element
	math    *element
	fonts   *fonts.Set
	formula *layout.Formula
	painter *painter
	gen     uint64
}

func newPage(s *Surface) *page {
	p := &page{s: s, painter: newPainter(s.density)}
	p.root = &element{id: "root", style: map[string]string{}, rect: p.rootRect}
	p.math = &element{id: "math", style: map[string]string{}, rect: p.mathRect, onChange: p.invalidate}
	return p
}

func (p *page) Element(id string) (scripting.ElementProxy, error) {
	switch id {
	case "root":
		return p.root, nil
	case "math":
		return p.math, nil
	}
	return nil, fmt.Errorf("no element with id %q", id)
}

func (p *page) Typeset(el scripting.ElementProxy, math string, displayMode bool) error {
	if el.ID() != p.math.id {
		return fmt.Errorf("element %q cannot hold math", el.ID())
	}
	if p.fonts == nil {
		return fmt.Errorf("fonts are not loaded")
	}

	node, err := layout.Parse(math, displayMode)
	if err != nil {
		p.formula = nil
		p.invalidate()
		return err
	}
	p.formula = layout.Layout(node, p.fonts, layout.Options{
		Size:     p.fontSize(),
		Display:  displayMode,
		MaxWidth: p.width(),
		NoWrap:   p.math.Style("whiteSpace") == "nowrap",
	})
	p.invalidate()
	return nil
}

func (p *page) LoadFonts(done func()) error {
	load := p.s.loadFonts
	go func() {
		set, err := load()
		if err != nil {
			p.s.loop.post(func() { p.s.bootDone(fmt.Errorf("load fonts: %w", err)) })
			return
		}
		p.s.loop.post(func() {
			p.fonts = set
			done()
		})
	}()
	return nil
}

func (p *page) PostMessage(name, body string) {
	switch name {
	case "ready":
		p.s.bootDone(nil)
	default:
		p.s.logger.Debug("page message", observability.String("name", name), observability.String("body", body))
	}
}

func (p *page) Log(message string) {
	p.s.logger.Debug("page console", observability.String("message", message))
}

// invalidate schedules a repaint one frame later. Only the most recent
// request paints.
func (p *page) invalidate() {
	p.gen++
	gen := p.gen
	p.s.loop.after(p.s.paintDelay, func() {
		if gen != p.gen {
			return
		}
		p.painter.paint(p.formula, p.fonts, parseColor(p.math.Style("color")))
	})
}

func (p *page) mathRect() scripting.Rect {
	if p.formula == nil {
		return scripting.Rect{}
	}
	return scripting.Rect{Width: p.formula.Width, Height: p.formula.Height + 2*verticalPadding}
}

func (p *page) rootRect() scripting.Rect {
	return scripting.Rect{Width: p.width(), Height: p.mathRect().Height}
}

func (p *page) fontSize() float64 {
	if v, ok := parsePixels(p.math.Style("fontSize")); ok && v > 0 {
		return v
	}
	return p.s.defaultFontSize
}

func (p *page) width() float64 {
	if v, ok := parsePixels(p.root.Style("width")); ok && v > 0 {
		return v
	}
	return p.s.viewportWidth
}

// parsePixels reads a CSS pixel length such as "24px" or "24".
func parsePixels(v string) (float64, bool) {
	v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "px"))
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
