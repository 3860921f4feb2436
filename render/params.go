package render

import (
	"encoding/hex"
	"math"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// Params describes one render. It is comparable and doubles as the
// command signature for memoization.
type Params struct {
	Text        string
	DisplayMode bool
	Color       string
	FontSize    float64
	// MaxWidth is the wrapping width in CSS pixels; +Inf disables wrapping.
	MaxWidth float64
}

// NoWrap reports whether the text is laid out on a single line.
func (p Params) NoWrap() bool { return math.IsInf(p.MaxWidth, 1) }

// Digest is a stable BLAKE2b-256 hex digest of the parameters.
func (p Params) Digest() string {
	h, _ := blake2b.New256(nil)
	writeField := func(s string) {
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte{':'})
		h.Write([]byte(s))
	}
	writeField(p.Text)
	writeField(strconv.FormatBool(p.DisplayMode))
	writeField(p.Color)
	writeField(strconv.FormatFloat(p.FontSize, 'g', -1, 64))
	writeField(strconv.FormatFloat(p.MaxWidth, 'g', -1, 64))
	return hex.EncodeToString(h.Sum(nil))
}
