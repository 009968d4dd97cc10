package cleaner

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/strikethrough"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/net/html"
)

const nonceAlphabet = "abcdef0123456789"

// MarkdownCleaner converts HTML to Markdown using html-to-markdown with the
// CommonMark, table, strikethrough and task list rules. Every <pre> becomes one fenced
// code block tagged with the language found by DetectLanguage, with its text
// copied verbatim.
type MarkdownCleaner struct {
	cfg markdownConfig
}

// MarkdownOption configures the markdown cleaner.
type MarkdownOption func(*markdownConfig)

type markdownConfig struct {
	// Domain resolves relative link and image URLs when set
	Domain string
}

// WithDomain resolves relative URLs against domain (e.g. the page URL).
func WithDomain(domain string) MarkdownOption {
	return func(c *markdownConfig) {
		c.Domain = domain
	}
}

// NewMarkdown creates a new Markdown cleaner.
func NewMarkdown(opts ...MarkdownOption) *MarkdownCleaner {
	c := &MarkdownCleaner{}
	for _, opt := range opts {
		opt(&c.cfg)
	}
	return c
}

// Clean converts HTML to Markdown. Conversion errors match
// ErrConversionFailed.
func (c *MarkdownCleaner) Clean(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", fmt.Errorf("%w: parsing html: %w", ErrConversionFailed, err)
	}

	nonce, err := gonanoid.Generate(nonceAlphabet, 12)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	fences := collectFences(doc, nonce)

	conv := c.newConverter(fences)

	var out []byte
	if c.cfg.Domain != "" {
		out, err = conv.ConvertNode(doc, converter.WithDomain(c.cfg.Domain))
	} else {
		out, err = conv.ConvertNode(doc)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}

	// Clean up excessive whitespace before code bodies are put back.
	markdown := cleanWhitespace(string(out))
	return fences.expand(markdown), nil
}

// Name returns the cleaner type.
func (c *MarkdownCleaner) Name() string {
	return "markdown"
}

func (c *MarkdownCleaner) newConverter(fences *fenceSet) *converter.Converter {
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(
				commonmark.WithCodeBlockFence("```"),
			),
			table.NewTablePlugin(),
			strikethrough.NewStrikethroughPlugin(),
		),
	)

	// Runs ahead of the commonmark handlers.
	conv.Register.TagType(fenceTag, converter.TagTypeBlock, converter.PriorityEarly)
	conv.Register.Renderer(
		func(ctx converter.Context, w converter.Writer, n *html.Node) converter.RenderStatus {
			if i, ok := fences.blocks[n]; ok {
				_, _ = w.WriteString("\n\n" + fences.placeholder(i) + "\n\n")
				return converter.RenderSuccess
			}
			// Inline code flattens its children to text; render them
			// instead so a block inside keeps its own line.
			if isInlineCode(n) && fences.contains(n) {
				ctx.RenderChildNodes(ctx, w, n)
				return converter.RenderSuccess
			}
			return converter.RenderTryNext
		},
		converter.PriorityEarly,
	)

	// GFM task list items. Registering <input> as inline overrides the base
	// plugin's removal; inputs other than task checkboxes render as nothing.
	conv.Register.RendererFor("input", converter.TagTypeInline,
		func(_ converter.Context, w converter.Writer, n *html.Node) converter.RenderStatus {
			if marker := taskMarker(n); marker != "" {
				_, _ = w.WriteString(marker)
			}
			return converter.RenderSuccess
		},
		converter.PriorityEarly,
	)
	return conv
}

// taskMarker returns "[x] " or "[ ] " for a checkbox that is a direct child
// of a list item, and "" for any other input.
func taskMarker(n *html.Node) string {
	if n.Parent == nil || n.Parent.Type != html.ElementNode || n.Parent.Data != "li" {
		return ""
	}
	checkbox, checked := false, false
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "type":
			checkbox = strings.EqualFold(strings.TrimSpace(a.Val), "checkbox")
		case "checked":
			checked = true
		}
	}
	if !checkbox {
		return ""
	}
	marker := "[ ]"
	if checked {
		marker = "[x]"
	}
	// The following text usually carries its own separating space.
	if next := n.NextSibling; next != nil && next.Type == html.TextNode &&
		strings.TrimLeftFunc(next.Data, unicode.IsSpace) != next.Data {
		return marker
	}
	return marker + " "
}

// cleanWhitespace normalizes whitespace in the output.
func cleanWhitespace(s string) string {
	// Replace multiple blank lines with a single blank line (max 2 consecutive newlines)
	lines := strings.Split(s, "\n")
	var result []string
	blankCount := 0

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			blankCount++
			if blankCount <= 1 {
				result = append(result, "")
			}
		} else {
			blankCount = 0
			result = append(result, line)
		}
	}

	return strings.TrimSpace(strings.Join(result, "\n"))
}
