package layout

import (
	"fmt"
	"unicode"
)

// ParseError reports malformed math input. Position is a rune offset into
// the source, or -1 when the error is not tied to a position.
type ParseError struct {
	Message  string
	Position int
}

func (e *ParseError) Error() string {
	if e.Position < 0 {
		return "TeX parse error: " + e.Message
	}
	return fmt.Sprintf("TeX parse error: %s at position %d", e.Message, e.Position)
}

func parseErrorAt(pos int, format string, args ...any) *ParseError {
	return &ParseError{Message: fmt.Sprintf(format, args...), Position: pos}
}

// Validate checks the structural well-formedness of TeX math: balanced
// groups, paired \left/\right, no dangling escapes and no stray math shifts.
func Validate(tex string) error {
	runes := []rune(tex)
	var groups []int
	var lefts []int

	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; r {
		case '\\':
			if i+1 >= len(runes) {
				return parseErrorAt(i+1, "Unexpected end of input after '\\'")
			}
			start := i + 1
			if !isCommandLetter(runes[start]) {
				// Control symbol such as \{ or \\.
				i++
				continue
			}
			end := start
			for end < len(runes) && isCommandLetter(runes[end]) {
				end++
			}
			switch string(runes[start:end]) {
			case "left":
				lefts = append(lefts, i)
			case "right":
				if len(lefts) == 0 {
					return parseErrorAt(i, "Unexpected '\\right'")
				}
				lefts = lefts[:len(lefts)-1]
			}
			i = end - 1
		case '{':
			groups = append(groups, i)
		case '}':
			if len(groups) == 0 {
				return parseErrorAt(i, "Unexpected '}'")
			}
			groups = groups[:len(groups)-1]
		case '$':
			return parseErrorAt(i, "Unexpected '$' in math mode")
		case '%':
			// Comments run to the end of the line.
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		}
	}

	if len(groups) > 0 {
		return parseErrorAt(len(runes), "Expected '}', opened at position %d", groups[len(groups)-1])
	}
	if len(lefts) > 0 {
		return parseErrorAt(len(runes), "Expected '\\right' for '\\left' at position %d", lefts[len(lefts)-1])
	}
	return nil
}

func isCommandLetter(r rune) bool {
	return r < unicode.MaxASCII && unicode.IsLetter(r)
}
