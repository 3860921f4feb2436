package layout

import (
	"bytes"
	"fmt"
	"strings"

	treeblood "github.com/wyatt915/goldmark-treeblood"
	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		treeblood.MathML(),
	),
)

// ToMathML converts TeX math to a MathML fragment.
func ToMathML(tex string, displayMode bool) (out string, err error) {
	if err := Validate(tex); err != nil {
		return "", err
	}
	src := strings.TrimSpace(strings.Join(strings.Fields(stripComments(tex)), " "))
	if src == "" {
		return `<math></math>`, nil
	}

	source := "$" + src + "$"
	if displayMode {
		source = "$$" + src + "$$"
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = "", &ParseError{Message: fmt.Sprint(r), Position: -1}
		}
	}()

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("convert tex: %w", err)
	}
	return buf.String(), nil
}

// Parse converts TeX math to a MathML tree and returns its <math> element.
func Parse(tex string, displayMode bool) (*html.Node, error) {
	fragment, err := ToMathML(tex, displayMode)
	if err != nil {
		return nil, err
	}
	return ParseMathML(fragment)
}

// ParseMathML parses markup and returns the first <math> element.
// An <merror> anywhere in the tree is reported as a ParseError.
func ParseMathML(markup string) (*html.Node, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse mathml: %w", err)
	}
	math := findElement(doc, "math")
	if math == nil {
		return nil, &ParseError{Message: "input is not math", Position: -1}
	}
	if merr := findElement(math, "merror"); merr != nil {
		msg := strings.TrimSpace(textContent(merr))
		if msg == "" {
			msg = "invalid expression"
		}
		return nil, &ParseError{Message: msg, Position: -1}
	}
	return math, nil
}

func findElement(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && (n.Data == name || (name == "math" && n.DataAtom == atom.Math)) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, name); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// stripComments drops unescaped % comments through end of line.
func stripComments(tex string) string {
	if !strings.Contains(tex, "%") {
		return tex
	}
	var sb strings.Builder
	runes := []rune(tex)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			sb.WriteRune(runes[i])
			if i+1 < len(runes) {
				i++
				sb.WriteRune(runes[i])
			}
		case '%':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			if i < len(runes) {
				sb.WriteRune('\n')
			}
		default:
			sb.WriteRune(runes[i])
		}
	}
	return sb.String()
}
