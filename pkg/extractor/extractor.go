// Package extractor pulls the primary readable content out of a loaded page.
//
// Two strategies exist, selected by Choice: Readability (Mozilla's
// algorithm) and DomDistiller (Chromium's). Each runs in the page when its
// JavaScript bundle is configured, and otherwise snapshots the rendered DOM
// and runs the equivalent Go library in-process.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/distill/pkg/browser"
)

// ErrExtractionFailed indicates the strategy could not produce a content
// fragment: script injection or evaluation failed, or the result had an
// unexpected shape.
var ErrExtractionFailed = errors.New("extraction failed")

// Extractor extracts a content fragment from a loaded page.
type Extractor interface {
	// Extract runs the strategy against page. Errors match ErrExtractionFailed.
	Extract(ctx context.Context, page browser.Page) (Fragment, error)

	// Choice returns the strategy this extractor implements.
	Choice() Choice
}

// Mode records where extraction ran.
type Mode string

const (
	// ModeScript means the strategy's JavaScript bundle ran in the page.
	ModeScript Mode = "script"
	// ModeNative means the page DOM was snapshotted and extracted in Go.
	ModeNative Mode = "native"
)

// Fragment is the HTML chosen as a page's main content.
type Fragment struct {
	HTML     string `json:"html" yaml:"html"`
	Strategy Choice `json:"strategy" yaml:"strategy"`
	Mode     Mode   `json:"mode" yaml:"mode"`

	// Metadata parsed from HTML.
	Title      string `json:"title,omitempty" yaml:"title,omitempty"`
	TextLength int    `json:"text_length" yaml:"text_length"`
	Links      int    `json:"links" yaml:"links"`
	Images     int    `json:"images" yaml:"images"`
}

func newFragment(html string, choice Choice, mode Mode) Fragment {
	f := Fragment{HTML: html, Strategy: choice, Mode: mode}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return f
	}
	f.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	if f.Title == "" {
		f.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	f.TextLength = len([]rune(strings.TrimSpace(doc.Text())))
	f.Links = doc.Find("a[href]").Length()
	f.Images = doc.Find("img").Length()
	return f
}

// New returns the extractor for choice. A non-empty bundle for the choice
// selects script mode.
func New(choice Choice, bundles Bundles) Extractor {
	if choice == DomDistiller {
		return &DomDistillerExtractor{bundle: bundles.DomDistiller}
	}
	return &ReadabilityExtractor{bundle: bundles.Readability}
}

// Set holds one extractor per choice.
type Set struct {
	readability  Extractor
	domDistiller Extractor
}

// NewSet builds the extractors for both choices.
func NewSet(bundles Bundles) *Set {
	return &Set{
		readability:  New(Readability, bundles),
		domDistiller: New(DomDistiller, bundles),
	}
}

// Get returns the extractor for choice.
func (s *Set) Get(choice Choice) Extractor {
	if choice == DomDistiller {
		return s.domDistiller
	}
	return s.readability
}

// Extract runs exactly the extractor for choice.
func (s *Set) Extract(ctx context.Context, page browser.Page, choice Choice) (Fragment, error) {
	return s.Get(choice).Extract(ctx, page)
}

// nameShim defines the helper esbuild-style bundles call to name functions.
const nameShim = `window.__name = (n, v) => v`

func injectShim(ctx context.Context, page browser.Page) error {
	if err := page.Inject(ctx, nameShim); err != nil {
		return fmt.Errorf("%w: injecting helper shim: %w", ErrExtractionFailed, err)
	}
	return nil
}

// decodeString decodes a JSON string result, rejecting null and other types.
func decodeString(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("decoding result: %w", err)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("result is %s, not a string", jsonKind(v))
	}
	return s, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "a boolean"
	case float64:
		return "a number"
	case string:
		return "a string"
	case []any:
		return "an array"
	case map[string]any:
		return "an object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
