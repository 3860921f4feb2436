package layout

import (
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/wudi/texkit/fonts"
)

type state struct {
	m Metrics
}

// ctx carries the inherited math style down the tree.
type ctx struct {
	size    float64
	display bool
	script  bool
}

func (c ctx) scripted(factor float64) ctx {
	return ctx{size: math.Max(c.size*factor, 5), script: true}
}

func (c ctx) axis() float64 { return c.size * 0.25 }

func (c ctx) rule() float64 { return math.Max(1, c.size*0.04) }

// topLevel returns the items of the outermost row of a <math> element.
func (s *state) topLevel(root *html.Node, opts Options) []*Box {
	c := ctx{size: opts.Size, display: opts.Display}
	n := root
	for {
		kids := elementChildren(n)
		if n.Data == "semantics" && len(kids) > 0 {
			kids = kids[:1]
		}
		if len(kids) != 1 {
			break
		}
		k := kids[0]
		if k.Data != "mrow" && k.Data != "semantics" && k.Data != "mstyle" {
			break
		}
		if k.Data == "mstyle" {
			c = applyStyle(k, c)
		}
		n = k
	}
	return s.rowItems(n, c, true)
}

func (s *state) measure(n *html.Node, c ctx) *Box {
	if n.Type == html.TextNode {
		text := strings.TrimSpace(n.Data)
		if text == "" {
			return nil
		}
		return s.textBox("text", text, fonts.Regular, c.size)
	}
	if n.Type != html.ElementNode {
		return nil
	}

	switch n.Data {
	case "annotation", "annotation-xml", "none", "mprescripts":
		return nil
	case "semantics":
		if kids := elementChildren(n); len(kids) > 0 {
			return s.measure(kids[0], c)
		}
		return nil
	case "mi":
		return s.leaf(n, identifierStyle(n), c)
	case "mn", "mtext", "ms":
		return s.leaf(n, variantStyle(n, fonts.Regular), c)
	case "mo":
		return s.leaf(n, variantStyle(n, fonts.Regular), c)
	case "mspace":
		return &Box{Kind: "mspace", Width: parseLength(attr(n, "width"), c.size)}
	case "mstyle":
		return hbox("mstyle", s.rowItems(n, applyStyle(n, c), false))
	case "mphantom":
		box := hbox("mphantom", s.rowItems(n, c, false))
		box.hidden = true
		return box
	case "mfrac":
		return s.fraction(n, c)
	case "msup", "msub", "msubsup":
		return s.scripts(n, c)
	case "msqrt":
		return s.radical(hbox("mrow", s.rowItems(n, c, false)), nil, c)
	case "mroot":
		kids := s.children(n, c)
		var index *Box
		if len(kids) > 1 {
			index = s.measure(elementChildren(n)[1], c.scripted(0.5))
		}
		return s.radical(first(kids), index, c)
	case "munder", "mover", "munderover":
		return s.limits(n, c)
	case "mtable":
		return s.table(n, c)
	default:
		return hbox(n.Data, s.rowItems(n, c, false))
	}
}

func (s *state) leaf(n *html.Node, style fonts.Style, c ctx) *Box {
	text := strings.Map(func(r rune) rune {
		if r >= 0x2061 && r <= 0x2064 {
			// Invisible function application, times, separator and plus.
			return -1
		}
		return r
	}, strings.TrimSpace(textContent(n)))
	if text == "" {
		return &Box{Kind: n.Data}
	}
	box := s.textBox(n.Data, text, style, c.size)
	return box
}

func (s *state) textBox(kind, text string, style fonts.Style, size float64) *Box {
	return &Box{
		Kind:    kind,
		Text:    text,
		Style:   style,
		Size:    size,
		Width:   s.m.Advance(text, style, size),
		Ascent:  s.m.Ascent(style, size),
		Descent: s.m.Descent(style, size),
	}
}

func (s *state) children(n *html.Node, c ctx) []*Box {
	var out []*Box
	for _, k := range elementChildren(n) {
		b := s.measure(k, c)
		if b == nil {
			b = &Box{Kind: k.Data}
		}
		out = append(out, b)
	}
	return out
}

// rowItems measures the children of a row and applies operator spacing.
// Break opportunities are recorded only for the outermost row.
func (s *state) rowItems(n *html.Node, c ctx, top bool) []*Box {
	var items []*Box
	var nodes []*html.Node
	for k := n.FirstChild; k != nil; k = k.NextSibling {
		b := s.measure(k, c)
		if b == nil {
			continue
		}
		items = append(items, b)
		nodes = append(nodes, k)
	}

	s.stretchFences(items, nodes, c)

	prevOperator := true
	for i, b := range items {
		node := nodes[i]
		if node.Type != html.ElementNode || node.Data != "mo" {
			prevOperator = false
			continue
		}
		class := opClass(strings.TrimSpace(textContent(node)))
		if class == opBinary && prevOperator {
			class = opOrdinary
		}
		lspace, rspace := class.spacing(c)
		if v := attr(node, "lspace"); v != "" {
			lspace = parseLength(v, c.size)
		}
		if v := attr(node, "rspace"); v != "" {
			rspace = parseLength(v, c.size)
		}
		if lspace > 0 || rspace > 0 {
			items[i] = pad(b, lspace, rspace)
		}
		if top && (class == opBinary || class == opRelation) {
			items[i].breakAfter = true
		}
		prevOperator = class != opOrdinary && class != opClose
	}
	return items
}

// stretchFences enlarges stretchy delimiters to cover the tallest item in
// the row, centered on the math axis.
func (s *state) stretchFences(items []*Box, nodes []*html.Node, c ctx) {
	var asc, desc float64
	var fences []int
	for i, b := range items {
		n := nodes[i]
		if n.Type == html.ElementNode && n.Data == "mo" && isFence(n) {
			fences = append(fences, i)
			continue
		}
		asc = math.Max(asc, b.Ascent)
		desc = math.Max(desc, b.Descent)
	}
	if len(fences) == 0 {
		return
	}
	axis := c.axis()
	target := 2 * math.Max(asc-axis, desc+axis)
	for _, i := range fences {
		b := items[i]
		natural := b.Height()
		if b.Text == "" || natural <= 0 || target <= natural*1.05 {
			continue
		}
		grown := s.textBox(b.Kind, b.Text, b.Style, b.Size*target/natural)
		dy := -axis - (grown.Descent-grown.Ascent)/2
		items[i] = shift(grown, dy)
	}
}

func (s *state) fraction(n *html.Node, c ctx) *Box {
	inner := ctx{size: c.size, script: c.script}
	if !c.display {
		inner = c.scripted(0.7)
	}
	kids := s.children(n, inner)
	num, den := first(kids), &Box{}
	if len(kids) > 1 {
		den = kids[1]
	}

	thick := c.rule()
	switch strings.TrimSpace(attr(n, "linethickness")) {
	case "0", "0px", "0em", "0pt":
		thick = 0
	}
	axis := c.axis()
	gap := c.size * 0.1
	padX := c.size * 0.1
	w := math.Max(num.Width, den.Width) + 2*padX

	num.X = (w - num.Width) / 2
	num.Y = -(axis + thick/2 + gap + num.Descent)
	den.X = (w - den.Width) / 2
	den.Y = -axis + thick/2 + gap + den.Ascent

	box := &Box{
		Kind:     "mfrac",
		Width:    w,
		Ascent:   -num.Y + num.Ascent,
		Descent:  den.Y + den.Descent,
		Children: []*Box{num, den},
	}
	if thick > 0 {
		box.rules = append(box.rules, rule{x1: 0, y1: -axis, x2: w, y2: -axis, width: thick})
	}
	return box
}

func (s *state) scripts(n *html.Node, c ctx) *Box {
	nodes := elementChildren(n)
	if len(nodes) == 0 {
		return &Box{Kind: n.Data}
	}
	base := s.measure(nodes[0], c)
	if base == nil {
		base = &Box{}
	}
	sc := c.scripted(0.7)
	var sup, sub *Box
	switch n.Data {
	case "msup":
		if len(nodes) > 1 {
			sup = s.measure(nodes[1], sc)
		}
	case "msub":
		if len(nodes) > 1 {
			sub = s.measure(nodes[1], sc)
		}
	case "msubsup":
		if len(nodes) > 1 {
			sub = s.measure(nodes[1], sc)
		}
		if len(nodes) > 2 {
			sup = s.measure(nodes[2], sc)
		}
	}
	return s.attachScripts(n.Data, base, sub, sup, c)
}

func (s *state) attachScripts(kind string, base, sub, sup *Box, c ctx) *Box {
	kern := c.size * 0.05
	box := &Box{Kind: kind, Ascent: base.Ascent, Descent: base.Descent}
	box.Children = append(box.Children, base)

	supShift := math.Max(c.size*0.35, base.Ascent-c.size*0.55)
	subShift := math.Max(c.size*0.2, base.Descent-c.size*0.1)
	if sup != nil && sub != nil {
		subTop := subShift - sub.Ascent
		supBottom := -supShift + sup.Descent
		if minGap := c.size * 0.1; subTop-supBottom < minGap {
			subShift += minGap - (subTop - supBottom)
		}
	}

	scriptW := 0.0
	if sup != nil {
		sup.X = base.Width + kern
		sup.Y = -supShift
		box.Ascent = math.Max(box.Ascent, supShift+sup.Ascent)
		box.Descent = math.Max(box.Descent, sup.Descent-supShift)
		scriptW = math.Max(scriptW, sup.Width)
		box.Children = append(box.Children, sup)
	}
	if sub != nil {
		sub.X = base.Width + kern
		sub.Y = subShift
		box.Descent = math.Max(box.Descent, subShift+sub.Descent)
		scriptW = math.Max(scriptW, sub.Width)
		box.Children = append(box.Children, sub)
	}
	box.Width = base.Width
	if scriptW > 0 {
		box.Width += kern + scriptW
	}
	return box
}

func (s *state) radical(content, index *Box, c ctx) *Box {
	if content == nil {
		content = &Box{}
	}
	thick := c.rule()
	gap := c.size * 0.12
	sign := c.size * 0.55
	padR := c.size * 0.1

	offset := 0.0
	if index != nil {
		offset = math.Max(0, index.Width-sign*0.5)
	}

	content.X = offset + sign
	content.Y = 0
	top := content.Ascent + gap + thick/2

	box := &Box{
		Kind:     "msqrt",
		Width:    offset + sign + content.Width + padR,
		Ascent:   content.Ascent + gap + thick,
		Descent:  content.Descent + c.size*0.05,
		Children: []*Box{content},
	}
	bottom := box.Descent - thick
	box.rules = []rule{
		{offset, -c.size * 0.25, offset + sign*0.3, -c.size * 0.32, thick},
		{offset + sign*0.3, -c.size * 0.32, offset + sign*0.55, bottom, thick},
		{offset + sign*0.55, bottom, offset + sign, -top, thick},
		{offset + sign, -top, box.Width, -top, thick},
	}

	if index != nil {
		box.Kind = "mroot"
		index.X = 0
		index.Y = -(box.Ascent*0.45 + index.Descent)
		box.Ascent = math.Max(box.Ascent, -index.Y+index.Ascent)
		box.Children = append(box.Children, index)
	}
	return box
}

func (s *state) limits(n *html.Node, c ctx) *Box {
	nodes := elementChildren(n)
	if len(nodes) == 0 {
		return &Box{Kind: n.Data}
	}
	base := s.measure(nodes[0], c)
	if base == nil {
		base = &Box{}
	}

	scriptCtx := func(accentAttr string) ctx {
		if attr(n, accentAttr) == "true" {
			return ctx{size: c.size, script: c.script}
		}
		return c.scripted(0.7)
	}

	var under, over *Box
	switch n.Data {
	case "munder":
		if len(nodes) > 1 {
			under = s.measure(nodes[1], scriptCtx("accentunder"))
		}
	case "mover":
		if len(nodes) > 1 {
			over = s.measure(nodes[1], scriptCtx("accent"))
		}
	case "munderover":
		if len(nodes) > 1 {
			under = s.measure(nodes[1], scriptCtx("accentunder"))
		}
		if len(nodes) > 2 {
			over = s.measure(nodes[2], scriptCtx("accent"))
		}
	}

	gap := c.size * 0.08
	w := base.Width
	for _, b := range []*Box{under, over} {
		if b != nil {
			w = math.Max(w, b.Width)
		}
	}

	box := &Box{Kind: n.Data, Width: w, Ascent: base.Ascent, Descent: base.Descent}
	base.X = (w - base.Width) / 2
	box.Children = append(box.Children, base)
	if over != nil {
		if attr(n, "accent") == "true" {
			gap = -c.size * 0.2
		}
		over.X = (w - over.Width) / 2
		over.Y = -(base.Ascent + gap + over.Descent)
		box.Ascent = math.Max(box.Ascent, -over.Y+over.Ascent)
		box.Children = append(box.Children, over)
	}
	if under != nil {
		under.X = (w - under.Width) / 2
		under.Y = base.Descent + c.size*0.08 + under.Ascent
		box.Descent = math.Max(box.Descent, under.Y+under.Descent)
		box.Children = append(box.Children, under)
	}
	return box
}

func (s *state) table(n *html.Node, c ctx) *Box {
	var rows [][]*Box
	for _, tr := range elementChildren(n) {
		if tr.Data != "mtr" && tr.Data != "mlabeledtr" {
			continue
		}
		var cells []*Box
		for _, td := range elementChildren(tr) {
			cells = append(cells, hbox("mtd", s.rowItems(td, c, false)))
		}
		rows = append(rows, cells)
	}

	var colW []float64
	for _, cells := range rows {
		for j, cell := range cells {
			if j >= len(colW) {
				colW = append(colW, 0)
			}
			colW[j] = math.Max(colW[j], cell.Width)
		}
	}

	colGap := c.size * 0.8
	rowGap := c.size * 0.3
	strutAsc := s.m.Ascent(fonts.Regular, c.size)
	strutDesc := s.m.Descent(fonts.Regular, c.size)

	box := &Box{Kind: "mtable"}
	for j, w := range colW {
		box.Width += w
		if j > 0 {
			box.Width += colGap
		}
	}

	y := 0.0
	for i, cells := range rows {
		asc, desc := strutAsc, strutDesc
		for _, cell := range cells {
			asc = math.Max(asc, cell.Ascent)
			desc = math.Max(desc, cell.Descent)
		}
		if i > 0 {
			y += rowGap
		}
		x := 0.0
		for j, cell := range cells {
			cell.X = x + (colW[j]-cell.Width)/2
			cell.Y = y + asc
			x += colW[j] + colGap
			box.Children = append(box.Children, cell)
		}
		y += asc + desc
	}

	// Center the grid on the math axis.
	top := -c.axis() - y/2
	for _, cell := range box.Children {
		cell.Y += top
	}
	box.Ascent = -top
	box.Descent = y + top
	return box
}

func pad(b *Box, left, right float64) *Box {
	b.X, b.Y = left, 0
	return &Box{
		Kind:     b.Kind,
		Width:    left + b.Width + right,
		Ascent:   b.Ascent,
		Descent:  b.Descent,
		Children: []*Box{b},
	}
}

func shift(b *Box, dy float64) *Box {
	b.X, b.Y = 0, dy
	return &Box{
		Kind:     b.Kind,
		Width:    b.Width,
		Ascent:   b.Ascent - dy,
		Descent:  b.Descent + dy,
		Children: []*Box{b},
	}
}

func first(boxes []*Box) *Box {
	if len(boxes) == 0 {
		return &Box{}
	}
	return boxes[0]
}

func elementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

func applyStyle(n *html.Node, c ctx) ctx {
	switch attr(n, "displaystyle") {
	case "true":
		c.display = true
	case "false":
		c.display = false
	}
	return c
}

func identifierStyle(n *html.Node) fonts.Style {
	text := strings.TrimSpace(textContent(n))
	def := fonts.Regular
	if r, size := utf8.DecodeRuneInString(text); size == len(text) && unicode.IsLetter(r) {
		def = fonts.Italic
	}
	return variantStyle(n, def)
}

func variantStyle(n *html.Node, def fonts.Style) fonts.Style {
	switch attr(n, "mathvariant") {
	case "normal":
		return fonts.Regular
	case "italic":
		return fonts.Italic
	case "bold", "bold-italic":
		return fonts.Bold
	}
	return def
}

// parseLength converts a MathML length (em, ex, px, pt, mu or named
// space) to pixels.
func parseLength(v string, size float64) float64 {
	v = strings.TrimSpace(v)
	switch v {
	case "":
		return 0
	case "thinmathspace":
		return size * 3 / 18
	case "mediummathspace":
		return size * 4 / 18
	case "thickmathspace":
		return size * 5 / 18
	}
	units := map[string]float64{"em": size, "ex": size * 0.45, "px": 1, "pt": 4.0 / 3.0, "mu": size / 18}
	for suffix, scale := range units {
		if strings.HasSuffix(v, suffix) {
			f, err := strconv.ParseFloat(strings.TrimSuffix(v, suffix), 64)
			if err != nil {
				return 0
			}
			return f * scale
		}
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return 0
}

type operatorClass int

const (
	opOrdinary operatorClass = iota
	opBinary
	opRelation
	opPunct
	opOpen
	opClose
)

func opClass(text string) operatorClass {
	switch text {
	case "+", "-", "−", "×", "⋅", "·", "±", "∓", "÷", "∗", "*", "∘", "∪", "∩", "⊕", "⊗", "∧", "∨":
		return opBinary
	case "=", "<", ">", "≤", "≥", "≠", "≈", "≡", "→", "←", "⇒", "⇔", "∈", "∉", "⊂", "⊆", "∼", "≅", "∝", "↦", ":", "≃":
		return opRelation
	case ",", ";":
		return opPunct
	case "(", "[", "{", "⟨", "⌈", "⌊":
		return opOpen
	case ")", "]", "}", "⟩", "⌉", "⌋":
		return opClose
	}
	return opOrdinary
}

// spacing returns the space before and after an operator. Script styles
// drop binary and relation spacing.
func (o operatorClass) spacing(c ctx) (float64, float64) {
	if c.script {
		return 0, 0
	}
	switch o {
	case opBinary:
		return c.size * 4 / 18, c.size * 4 / 18
	case opRelation:
		return c.size * 5 / 18, c.size * 5 / 18
	case opPunct:
		return 0, c.size * 3 / 18
	}
	return 0, 0
}

func isFence(n *html.Node) bool {
	if attr(n, "stretchy") == "false" {
		return false
	}
	if attr(n, "fence") == "true" || attr(n, "stretchy") == "true" {
		return true
	}
	switch strings.TrimSpace(textContent(n)) {
	case "(", ")", "[", "]", "{", "}", "|", "‖", "⟨", "⟩":
		return attr(n, "form") == "prefix" || attr(n, "form") == "postfix"
	}
	return false
}
