package fonts

import (
	"math"
	"unicode"

	"github.com/go-text/typesetting/di"
	gotext "github.com/go-text/typesetting/font"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/shaping"
	"golang.org/x/image/math/fixed"
)

// ShapedGlyph represents a single shaped glyph with positioning in pixels.
type ShapedGlyph struct {
	ID       int
	Cluster  int
	XAdvance float64
	XOffset  float64
	YOffset  float64
}

// Shape shapes s with the face at the given pixel size.
func (f *Face) Shape(s string, size float64) []ShapedGlyph {
	if s == "" || size <= 0 {
		return nil
	}
	f.shapeMu.Lock()
	defer f.shapeMu.Unlock()

	output := shapeRunes(f.shapeFace, []rune(s), size)
	result := make([]ShapedGlyph, 0, len(output.Glyphs))
	for _, g := range output.Glyphs {
		result = append(result, ShapedGlyph{
			ID:       int(g.GlyphID),
			Cluster:  int(g.ClusterIndex),
			XAdvance: fromFixed(g.XAdvance),
			XOffset:  fromFixed(g.XOffset),
			YOffset:  fromFixed(g.YOffset),
		})
	}
	return result
}

func shapedAdvance(face *gotext.Face, runes []rune, size float64) float64 {
	output := shapeRunes(face, runes, size)
	return fromFixed(output.Advance)
}

func shapeRunes(face *gotext.Face, runes []rune, size float64) shaping.Output {
	script := DetectScript(runes)
	shaper := &shaping.HarfbuzzShaper{}
	return shaper.Shape(shaping.Input{
		Text:      runes,
		RunStart:  0,
		RunEnd:    len(runes),
		Direction: scriptDirection(script),
		Face:      face,
		Size:      fixed.Int26_6(math.Round(size * 64)),
		Script:    script,
		Language:  language.DefaultLanguage(),
	})
}

func fromFixed(v fixed.Int26_6) float64 {
	return float64(v) / 64.0
}

func scriptDirection(script language.Script) di.Direction {
	switch script {
	case language.Arabic, language.Hebrew, language.Syriac, language.Thaana, language.Nko:
		return di.DirectionRTL
	default:
		return di.DirectionLTR
	}
}

// DetectScript returns the dominant script of runes, defaulting to Latin.
func DetectScript(runes []rune) language.Script {
	counts := make(map[language.Script]int)
	maxCount := 0
	bestScript := language.Latin

	for _, r := range runes {
		script := scriptFromRune(r)
		if script == language.Unknown {
			continue
		}
		counts[script]++
		if counts[script] > maxCount {
			maxCount = counts[script]
			bestScript = script
		}
	}
	return bestScript
}

func scriptFromRune(r rune) language.Script {
	switch {
	case unicode.Is(unicode.Latin, r):
		return language.Latin
	case unicode.Is(unicode.Greek, r):
		return language.Greek
	case unicode.Is(unicode.Cyrillic, r):
		return language.Cyrillic
	case unicode.Is(unicode.Arabic, r):
		return language.Arabic
	case unicode.Is(unicode.Hebrew, r):
		return language.Hebrew
	case unicode.Is(unicode.Han, r):
		return language.Han
	}
	return language.Unknown
}
