package render

import (
	"fmt"
	"strconv"
	"strings"
)

// BuildCommand encodes params as a page script call sequence.
func BuildCommand(p Params) string {
	width := "unset"
	if !p.NoWrap() {
		width = pixels(p.MaxWidth)
	}
	return fmt.Sprintf("setNoWrap(%t); setWidth(%s); setColor(%s); setFontSize(%s); render(%s, %t);",
		p.NoWrap(),
		QuoteJS(width),
		QuoteJS(p.Color),
		QuoteJS(pixels(p.FontSize)),
		QuoteJS(p.Text),
		p.DisplayMode,
	)
}

func pixels(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}

// QuoteJS returns s as a single-quoted JavaScript string literal.
func QuoteJS(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '\'':
			sb.WriteString(`\'`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		case '\v':
			sb.WriteString(`\v`)
		case '\u2028':
			sb.WriteString(`\u2028`)
		case '\u2029':
			sb.WriteString(`\u2029`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&sb, `\x%02x`, r)
				continue
			}
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}
