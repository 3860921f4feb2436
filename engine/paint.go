package engine

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"

	"github.com/gogpu/gg"
	"golang.org/x/image/draw"

	"github.com/wudi/texkit/fonts"
	"github.com/wudi/texkit/layout"
)

// painter rasterizes the page at device density into a frame that
// captures read from.
type painter struct {
	dc      *gg.Context
	density float64
	frame   *image.RGBA
}

func newPainter(density float64) *painter {
	return &painter{dc: gg.NewContext(1, 1), density: density}
}

func (p *painter) paint(f *layout.Formula, set *fonts.Set, col color.Color) {
	if f == nil || set == nil {
		p.frame = nil
		return
	}
	w := int(math.Max(1, math.Ceil(f.Width*p.density)))
	h := int(math.Max(1, math.Ceil((f.Height+2*verticalPadding)*p.density)))
	if err := p.dc.Resize(w, h); err != nil {
		p.frame = nil
		return
	}
	p.dc.Clear()
	p.dc.SetColor(col)
	f.Draw(&canvas{dc: p.dc, set: set, density: p.density}, 0, verticalPadding)

	img := p.dc.Image()
	frame := image.NewRGBA(img.Bounds())
	draw.Draw(frame, frame.Bounds(), img, img.Bounds().Min, draw.Src)
	p.frame = frame
}

// crop copies a region of the current frame. Pixels outside the frame are
// transparent.
func (p *painter) crop(r Region) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.W, r.H))
	if p.frame != nil {
		draw.Draw(dst, dst.Bounds(), p.frame, image.Pt(r.X, r.Y), draw.Src)
	}
	return dst
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// canvas adapts a gg context to layout.Canvas, scaling CSS pixels to
// device pixels.
type canvas struct {
	dc      *gg.Context
	set     *fonts.Set
	density float64
}

func (c *canvas) Text(s string, style fonts.Style, size, x, baseline float64) {
	c.dc.SetFont(c.set.Face(style).Raster(size * c.density))
	c.dc.DrawString(s, x*c.density, baseline*c.density)
}

func (c *canvas) Line(x1, y1, x2, y2, width float64) {
	c.dc.SetLineWidth(width * c.density)
	c.dc.DrawLine(x1*c.density, y1*c.density, x2*c.density, y2*c.density)
	_ = c.dc.Stroke()
}

var namedColors = map[string]color.Color{
	"black":       color.Black,
	"white":       color.White,
	"transparent": color.Transparent,
	"red":         color.RGBA{R: 0xff, A: 0xff},
	"green":       color.RGBA{G: 0x80, A: 0xff},
	"blue":        color.RGBA{B: 0xff, A: 0xff},
	"gray":        color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff},
}

// parseColor understands named colors and #rgb, #rgba, #rrggbb and
// #rrggbbaa. Anything else paints black.
func parseColor(v string) color.Color {
	v = strings.ToLower(strings.TrimSpace(v))
	if c, ok := namedColors[v]; ok {
		return c
	}
	if strings.HasPrefix(v, "#") {
		switch len(v) {
		case 4, 5, 7, 9:
			return gg.Hex(v).Color()
		}
	}
	return color.Black
}
