package extractor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmylchreest/distill/internal/logger"
	"github.com/jmylchreest/distill/pkg/browser"
	"github.com/jmylchreest/distill/pkg/cleaner"
)

const domDistillerScript = `org.chromium.distiller.DomDistiller.apply()`

// DomDistillerExtractor extracts content with Chromium's DOM Distiller.
type DomDistillerExtractor struct {
	bundle string
}

// NewDomDistiller returns a DOM Distiller extractor. An empty bundle selects
// native mode.
func NewDomDistiller(bundle string) *DomDistillerExtractor {
	return &DomDistillerExtractor{bundle: bundle}
}

// Choice returns DomDistiller.
func (e *DomDistillerExtractor) Choice() Choice {
	return DomDistiller
}

// Extract injects the DOM Distiller bundle, runs it, and returns the
// distilled HTML found at index [2][1] of its result. Without a bundle it
// runs go-domdistiller on a DOM snapshot.
func (e *DomDistillerExtractor) Extract(ctx context.Context, page browser.Page) (Fragment, error) {
	if err := injectShim(ctx, page); err != nil {
		return Fragment{}, err
	}

	if e.bundle == "" {
		return extractNative(ctx, page, DomDistiller, func(snap snapshot) cleaner.Cleaner {
			return cleaner.NewDomDistiller(snap.URL)
		})
	}

	logger.Debug("injecting dom distiller script", "size", len(e.bundle))
	if err := page.Inject(ctx, e.bundle); err != nil {
		return Fragment{}, fmt.Errorf("%w: injecting dom distiller: %w", ErrExtractionFailed, err)
	}

	logger.Debug("running dom distiller")
	raw, err := page.Evaluate(ctx, domDistillerScript)
	if err != nil {
		return Fragment{}, fmt.Errorf("%w: running dom distiller: %w", ErrExtractionFailed, err)
	}

	var result any
	if err := json.Unmarshal(raw, &result); err != nil {
		return Fragment{}, fmt.Errorf("%w: decoding dom distiller result: %w", ErrExtractionFailed, err)
	}

	content, err := DistilledContent(result)
	if err != nil {
		return Fragment{}, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	return newFragment(content, DomDistiller, ModeScript), nil
}

// DistilledContent returns the HTML string at result[2][1], the position
// where DomDistiller.apply() places the distilled content. Any other shape
// is an error; no other positions are tried.
func DistilledContent(result any) (string, error) {
	outer, ok := result.([]any)
	if !ok {
		return "", fmt.Errorf("dom distiller result is %s, not an array", jsonKind(result))
	}
	if len(outer) <= 2 {
		return "", fmt.Errorf("dom distiller result has %d elements, need at least 3", len(outer))
	}
	inner, ok := outer[2].([]any)
	if !ok {
		return "", fmt.Errorf("dom distiller result[2] is %s, not an array", jsonKind(outer[2]))
	}
	if len(inner) <= 1 {
		return "", fmt.Errorf("dom distiller result[2] has %d elements, need at least 2", len(inner))
	}
	content, ok := inner[1].(string)
	if !ok {
		return "", fmt.Errorf("dom distiller result[2][1] is %s, not a string", jsonKind(inner[1]))
	}
	return content, nil
}
