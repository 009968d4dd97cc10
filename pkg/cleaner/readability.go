package cleaner

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	readability "codeberg.org/readeck/go-readability/v2"
	"golang.org/x/net/html"
)

// ReadabilityConfig configures the Readability cleaner.
type ReadabilityConfig struct {
	// MaxElemsToParse limits the number of nodes to parse (0 = no limit).
	MaxElemsToParse int
	// NTopCandidates is the number of top candidates to consider (default: 5).
	NTopCandidates int
	// CharThreshold is the minimum character count for valid content (default: 500).
	CharThreshold int
	// KeepClasses preserves CSS classes on elements when true.
	KeepClasses bool
	// ClassesToPreserve specifies specific CSS classes to keep (even if KeepClasses is false).
	ClassesToPreserve []string
	// BaseURL is used for resolving relative URLs. If empty, URLs remain relative.
	BaseURL string
}

// ReadabilityCleaner extracts the main content of a page using go-readability,
// a port of Mozilla's Readability.js. The output is the article HTML fragment.
type ReadabilityCleaner struct {
	cfg    ReadabilityConfig
	parser readability.Parser
}

// DefaultReadabilityConfig keeps CSS classes so highlight-source-<lang> code
// language hints survive extraction.
func DefaultReadabilityConfig() *ReadabilityConfig {
	return &ReadabilityConfig{KeepClasses: true}
}

// NewReadability creates a new Readability cleaner.
// Pass nil for default configuration.
func NewReadability(cfg *ReadabilityConfig) *ReadabilityCleaner {
	if cfg == nil {
		cfg = DefaultReadabilityConfig()
	}

	parser := readability.NewParser()

	if cfg.MaxElemsToParse > 0 {
		parser.MaxElemsToParse = cfg.MaxElemsToParse
	}
	if cfg.NTopCandidates > 0 {
		parser.NTopCandidates = cfg.NTopCandidates
	}
	if cfg.CharThreshold > 0 {
		parser.CharThresholds = cfg.CharThreshold
	}
	if cfg.KeepClasses {
		parser.KeepClasses = true
	}
	if len(cfg.ClassesToPreserve) > 0 {
		parser.ClassesToPreserve = cfg.ClassesToPreserve
	}

	return &ReadabilityCleaner{
		cfg:    *cfg,
		parser: parser,
	}
}

// Clean extracts the main content from HTML. It returns ErrNoContent when
// Readability finds no article.
func (c *ReadabilityCleaner) Clean(htmlContent string) (string, error) {
	var baseURL *url.URL
	if c.cfg.BaseURL != "" {
		// An unparsable base URL leaves links relative.
		baseURL, _ = url.Parse(c.cfg.BaseURL)
	}

	article, err := c.parser.Parse(strings.NewReader(htmlContent), baseURL)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	if article.Node == nil || !hasText(article.Node) {
		return "", fmt.Errorf("readability: %w", ErrNoContent)
	}

	var buf bytes.Buffer
	if err := article.RenderHTML(&buf); err != nil {
		// Fall back to rendering the node directly
		buf.Reset()
		if err := html.Render(&buf, article.Node); err != nil {
			return "", fmt.Errorf("readability: rendering article: %w", err)
		}
	}
	return buf.String(), nil
}

// Name returns the cleaner type.
func (c *ReadabilityCleaner) Name() string {
	return "readability"
}
