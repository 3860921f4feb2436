package layout

import (
	"math"

	"golang.org/x/net/html"

	"github.com/wudi/texkit/fonts"
)

// Metrics supplies text measurements in CSS pixels.
type Metrics interface {
	Advance(text string, style fonts.Style, size float64) float64
	Ascent(style fonts.Style, size float64) float64
	Descent(style fonts.Style, size float64) float64
}

// Canvas receives drawing operations in CSS pixels with y growing down.
// Text is positioned at its baseline.
type Canvas interface {
	Text(s string, style fonts.Style, size, x, baseline float64)
	Line(x1, y1, x2, y2, width float64)
}

// Options controls formula layout.
type Options struct {
	// Size is the base font size in CSS pixels.
	Size float64
	// Display selects display style (larger fractions, no line breaks).
	Display bool
	// MaxWidth bounds line width when wrapping. Zero means unbounded.
	MaxWidth float64
	// NoWrap disables line breaking.
	NoWrap bool
}

// Box is a laid-out MathML node. X and Y locate the box baseline origin
// relative to the parent baseline origin.
type Box struct {
	Kind     string
	Text     string
	Style    fonts.Style
	Size     float64
	Width    float64
	Ascent   float64
	Descent  float64
	X, Y     float64
	Children []*Box

	breakAfter bool
	hidden     bool
	rules      []rule
}

// rule is a stroke relative to the box baseline origin.
type rule struct {
	x1, y1, x2, y2, width float64
}

// Height returns the total vertical extent.
func (b *Box) Height() float64 { return b.Ascent + b.Descent }

// Draw paints the box with its baseline origin at (x, baseline).
func (b *Box) Draw(c Canvas, x, baseline float64) {
	if b == nil || b.hidden {
		return
	}
	if b.Text != "" {
		c.Text(b.Text, b.Style, b.Size, x, baseline)
	}
	for _, r := range b.rules {
		c.Line(x+r.x1, baseline+r.y1, x+r.x2, baseline+r.y2, r.width)
	}
	for _, child := range b.Children {
		child.Draw(c, x+child.X, baseline+child.Y)
	}
}

// Formula is laid-out math split into lines.
type Formula struct {
	Lines   []*Box
	LineGap float64
	Width   float64
	Height  float64
}

// Layout measures the <math> element and breaks it into lines.
func Layout(root *html.Node, m Metrics, opts Options) *Formula {
	if opts.Size <= 0 {
		opts.Size = 16
	}
	s := &state{m: m}
	items := s.topLevel(root, opts)

	width := math.Inf(1)
	if !opts.NoWrap && !opts.Display && opts.MaxWidth > 0 {
		width = opts.MaxWidth
	}

	strutAsc := m.Ascent(fonts.Regular, opts.Size)
	strutDesc := m.Descent(fonts.Regular, opts.Size)

	f := &Formula{LineGap: math.Round(opts.Size * 0.2)}
	for _, line := range breakLines(items, width) {
		box := hbox("line", line)
		box.Ascent = math.Max(box.Ascent, strutAsc)
		box.Descent = math.Max(box.Descent, strutDesc)
		f.Lines = append(f.Lines, box)
	}
	if len(f.Lines) == 0 {
		f.Lines = []*Box{{Kind: "line", Ascent: strutAsc, Descent: strutDesc}}
	}

	for i, line := range f.Lines {
		f.Width = math.Max(f.Width, line.Width)
		f.Height += line.Height()
		if i > 0 {
			f.Height += f.LineGap
		}
	}
	return f
}

// Draw paints every line with the formula's top-left corner at (x, y).
func (f *Formula) Draw(c Canvas, x, y float64) {
	top := y
	for _, line := range f.Lines {
		line.Draw(c, x, top+line.Ascent)
		top += line.Height() + f.LineGap
	}
}

// breakLines packs items greedily into lines no wider than width, breaking
// only after items marked as break opportunities.
func breakLines(items []*Box, width float64) [][]*Box {
	if len(items) == 0 {
		return nil
	}
	if math.IsInf(width, 1) {
		return [][]*Box{items}
	}

	var segments [][]*Box
	var seg []*Box
	for _, it := range items {
		seg = append(seg, it)
		if it.breakAfter {
			segments = append(segments, seg)
			seg = nil
		}
	}
	if len(seg) > 0 {
		segments = append(segments, seg)
	}

	var lines [][]*Box
	var cur []*Box
	curW := 0.0
	for _, seg := range segments {
		w := 0.0
		for _, it := range seg {
			w += it.Width
		}
		if len(cur) > 0 && curW+w > width {
			lines = append(lines, cur)
			cur, curW = nil, 0
		}
		cur = append(cur, seg...)
		curW += w
	}
	if len(cur) > 0 {
		lines = append(lines, cur)
	}
	return lines
}

// hbox lays children out left to right on a shared baseline.
func hbox(kind string, children []*Box) *Box {
	box := &Box{Kind: kind}
	var w float64
	for _, c := range children {
		c.X = w
		c.Y = 0
		w += c.Width
		box.Ascent = math.Max(box.Ascent, c.Ascent)
		box.Descent = math.Max(box.Descent, c.Descent)
	}
	box.Width = w
	box.Children = children
	return box
}
