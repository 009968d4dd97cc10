package cleaner

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// highlightClass matches the GitHub-style syntax highlighting marker,
// e.g. class="highlight highlight-source-go".
var highlightClass = regexp.MustCompile(`highlight-source-[a-z]+`)

// RenderPre renders a <pre> element as a fenced code block:
//
//	"\n```" + lang + "\n" + code + "\n```\n\n"
//
// It returns "" for nodes that are not <pre> elements.
func RenderPre(n *html.Node) string {
	if !isPre(n) {
		return ""
	}
	return fenceBlock(DetectLanguage(n), CodeText(n))
}

func fenceBlock(lang, code string) string {
	return "\n```" + lang + "\n" + code + "\n```\n\n"
}

func isPre(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && (n.DataAtom == atom.Pre || strings.EqualFold(n.Data, "pre"))
}

// DetectLanguage returns the code language hinted by a highlight-source-<lang>
// marker in the opening tag of n or, when n is its parent's only child node,
// in the parent's opening tag. It returns "" when there is no hint and never
// panics.
func DetectLanguage(n *html.Node) (lang string) {
	defer func() {
		if r := recover(); r != nil {
			lang = ""
		}
	}()

	if n == nil {
		return ""
	}
	if lang := languageFromTag(n); lang != "" {
		return lang
	}
	if p := n.Parent; p != nil && p.FirstChild == n && n.NextSibling == nil {
		return languageFromTag(p)
	}
	return ""
}

func languageFromTag(n *html.Node) string {
	m := highlightClass.FindString(openingTag(n))
	if m == "" {
		return ""
	}
	return m[strings.LastIndexByte(m, '-')+1:]
}

// openingTag serializes the start tag of an element, attributes included.
func openingTag(n *html.Node) string {
	if n.Type != html.ElementNode {
		return ""
	}
	shallow := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      n.Attr,
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, shallow); err != nil {
		return ""
	}
	s := buf.String()
	// Attribute values are escaped, so the first '>' closes the tag.
	if i := strings.IndexByte(s, '>'); i >= 0 {
		return s[:i+1]
	}
	return s
}

// CodeText concatenates the text content of each direct child of n in
// document order, without separators or escaping.
func CodeText(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode, html.CommentNode:
			sb.WriteString(c.Data)
		case html.ElementNode:
			writeDescendantText(&sb, c)
		}
	}
	return sb.String()
}

func writeDescendantText(sb *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			sb.WriteString(c.Data)
		case html.ElementNode:
			writeDescendantText(sb, c)
		}
	}
}

func hasText(n *html.Node) bool {
	var sb strings.Builder
	writeDescendantText(&sb, n)
	return strings.TrimSpace(sb.String()) != ""
}

// fenceTag names the element that stands in for a <pre> during conversion.
const fenceTag = "x-distill-fence"

// fenceSet holds the code blocks of one conversion. Each <pre> is rendered
// up front and swapped for a fenceTag element holding a placeholder, so the
// converter's own handling of <pre> (renaming it inside inline parents,
// swapping it with a wrapping <code>) never reaches the code. Placeholders
// are expanded after whitespace cleanup, so code bodies reach the output
// untouched.
type fenceSet struct {
	nonce  string
	blocks map[*html.Node]int
	fences []string
}

func collectFences(doc *html.Node, nonce string) *fenceSet {
	fs := &fenceSet{nonce: nonce, blocks: make(map[*html.Node]int)}
	var pres []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if isPre(n) {
			pres = append(pres, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	// Render every block before touching the tree; DetectLanguage reads
	// the parent's children.
	for _, n := range pres {
		fs.fences = append(fs.fences, RenderPre(n))
	}
	for i, n := range pres {
		stand := &html.Node{Type: html.ElementNode, Data: fenceTag}
		stand.AppendChild(&html.Node{Type: html.TextNode, Data: fs.placeholder(i)})
		n.Parent.InsertBefore(stand, n)
		n.Parent.RemoveChild(n)
		fs.blocks[stand] = i
	}
	return fs
}

// contains reports whether a code block lies inside n.
func (fs *fenceSet) contains(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if _, ok := fs.blocks[c]; ok || fs.contains(c) {
			return true
		}
	}
	return false
}

// isInlineCode reports whether the converter renders n as a code span.
func isInlineCode(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.Data {
	case "code", "var", "samp", "kbd", "tt":
		return true
	}
	return false
}

func (fs *fenceSet) placeholder(i int) string {
	return fmt.Sprintf("DISTILLFENCE%s%dX", fs.nonce, i)
}

// expand replaces every placeholder in md with its fenced block. When a
// placeholder sits behind a container prefix such as "> " or list
// indentation, that prefix is repeated on each line of the block.
func (fs *fenceSet) expand(md string) string {
	if len(fs.fences) == 0 {
		return md
	}

	lines := strings.Split(md, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = fs.expandLine(out, line)
	}
	return strings.Join(out, "\n")
}

func (fs *fenceSet) expandLine(out []string, line string) []string {
	token := "DISTILLFENCE" + fs.nonce
	start := strings.Index(line, token)
	if start < 0 {
		return append(out, line)
	}

	// Parse the block index and the terminating 'X'.
	end := start + len(token)
	idx := 0
	digits := 0
	for end < len(line) && line[end] >= '0' && line[end] <= '9' {
		idx = idx*10 + int(line[end]-'0')
		end++
		digits++
	}
	if digits == 0 || end >= len(line) || line[end] != 'X' || idx >= len(fs.fences) {
		return append(out, line)
	}
	end++

	prefix, rest := line[:start], line[end:]
	body := strings.Split(strings.TrimSuffix(strings.TrimPrefix(fs.fences[idx], "\n"), "\n\n"), "\n")

	first, cont := prefix, continuation(prefix)
	if !isContainerPrefix(prefix) {
		if strings.TrimSpace(prefix) != "" {
			out = append(out, strings.TrimRight(prefix, " \t"))
		}
		first, cont = "", ""
	}

	for i, l := range body {
		p := cont
		if i == 0 {
			p = first
		}
		if l == "" {
			out = append(out, strings.TrimRight(p, " \t"))
			continue
		}
		out = append(out, p+l)
	}

	// Text after the placeholder on the same line gets its own line and is
	// checked for further placeholders.
	if strings.TrimSpace(rest) != "" {
		return fs.expandLine(out, cont+strings.TrimLeft(rest, " \t"))
	}
	return out
}

// containerPrefix matches runs of blockquote markers, list markers and
// indentation. A list marker must be followed by a space, so an emphasis
// delimiter such as "*" is not a container.
var containerPrefix = regexp.MustCompile(`^(?:[ \t]*(?:> ?|[-*+][ \t]|[0-9]{1,9}[.)][ \t]))*[ \t]*$`)

func isContainerPrefix(prefix string) bool {
	return containerPrefix.MatchString(prefix)
}

// continuation turns a first-line prefix into the prefix for following
// lines: blockquote markers stay, list markers become indentation.
func continuation(prefix string) string {
	b := []byte(prefix)
	for i, c := range b {
		if c != '>' && c != '\t' {
			b[i] = ' '
		}
	}
	return string(b)
}
