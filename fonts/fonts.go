package fonts

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	gotext "github.com/go-text/typesetting/font"
	"github.com/gogpu/gg/text"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

// Style selects a face within a Set.
type Style int

const (
	Regular Style = iota
	Italic
	Bold
)

func (s Style) String() string {
	switch s {
	case Italic:
		return "italic"
	case Bold:
		return "bold"
	default:
		return "regular"
	}
}

// Face is a parsed TrueType/OpenType font usable for measuring and drawing.
// Metrics are stored per em so callers scale by pixel size.
type Face struct {
	Name string

	ascent  float64
	descent float64

	shapeMu   sync.Mutex
	shapeFace *gotext.Face

	rasterMu sync.Mutex
	source   *text.FontSource
	raster   map[float64]text.Face
}

// Parse parses font data, extracts vertical metrics and prepares the shaping
// and raster backends.
func Parse(name string, data []byte) (*Face, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("font %s: data is empty", name)
	}
	f, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font %s: %w", name, err)
	}
	unitsPerEm := f.UnitsPerEm()
	if unitsPerEm == 0 {
		return nil, fmt.Errorf("font %s: invalid unitsPerEm", name)
	}
	buf := &sfnt.Buffer{}
	ppem := fixed.Int26_6(unitsPerEm << 6)

	baseName := strings.TrimSpace(name)
	if ps, _ := f.Name(buf, sfnt.NameIDPostScript); len(ps) > 0 {
		baseName = ps
	}

	metrics, err := f.Metrics(buf, ppem, xfont.HintingNone)
	if err != nil {
		return nil, fmt.Errorf("font %s metrics: %w", name, err)
	}

	loader, err := gotext.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("shape font %s: %w", name, err)
	}

	source, err := text.NewFontSource(data)
	if err != nil {
		return nil, fmt.Errorf("raster font %s: %w", name, err)
	}

	return &Face{
		Name:      baseName,
		ascent:    perEm(metrics.Ascent, unitsPerEm),
		descent:   perEm(metrics.Descent, unitsPerEm),
		shapeFace: loader,
		source:    source,
		raster:    make(map[float64]text.Face),
	}, nil
}

// Ascent returns the distance above the baseline at the given pixel size.
func (f *Face) Ascent(size float64) float64 { return f.ascent * size }

// Descent returns the distance below the baseline at the given pixel size.
func (f *Face) Descent(size float64) float64 { return f.descent * size }

// Advance returns the shaped advance width of s at the given pixel size.
func (f *Face) Advance(s string, size float64) float64 {
	if s == "" || size <= 0 {
		return 0
	}
	f.shapeMu.Lock()
	defer f.shapeMu.Unlock()
	return shapedAdvance(f.shapeFace, []rune(s), size)
}

// Raster returns a drawing face at the given pixel size. Faces are cached
// per size.
func (f *Face) Raster(size float64) text.Face {
	f.rasterMu.Lock()
	defer f.rasterMu.Unlock()
	if face, ok := f.raster[size]; ok {
		return face
	}
	face := f.source.Face(size)
	f.raster[size] = face
	return face
}

// Set groups the faces a surface draws math with.
type Set struct {
	faces map[Style]*Face
}

// NewSet builds a set from per-style faces. Regular is required; missing
// styles fall back to it.
func NewSet(faces map[Style]*Face) (*Set, error) {
	if faces[Regular] == nil {
		return nil, fmt.Errorf("font set: regular face is required")
	}
	cp := make(map[Style]*Face, len(faces))
	for k, v := range faces {
		if v != nil {
			cp[k] = v
		}
	}
	return &Set{faces: cp}, nil
}

// Face returns the face for a style.
func (s *Set) Face(style Style) *Face {
	if f, ok := s.faces[style]; ok {
		return f
	}
	return s.faces[Regular]
}

func (s *Set) Advance(text string, style Style, size float64) float64 {
	return s.Face(style).Advance(text, size)
}

func (s *Set) Ascent(style Style, size float64) float64 {
	return s.Face(style).Ascent(size)
}

func (s *Set) Descent(style Style, size float64) float64 {
	return s.Face(style).Descent(size)
}

// LoadDefault parses the bundled Go fonts.
func LoadDefault() (*Set, error) {
	sources := []struct {
		style Style
		name  string
		data  []byte
	}{
		{Regular, "Go-Regular", goregular.TTF},
		{Italic, "Go-Italic", goitalic.TTF},
		{Bold, "Go-Bold", gobold.TTF},
	}
	faces := make(map[Style]*Face, len(sources))
	for _, src := range sources {
		face, err := Parse(src.name, src.data)
		if err != nil {
			return nil, err
		}
		faces[src.style] = face
	}
	return NewSet(faces)
}

func perEm(val fixed.Int26_6, unitsPerEm sfnt.Units) float64 {
	v := float64(val) / (64.0 * float64(unitsPerEm))
	if v < 0 {
		return -v
	}
	return v
}
