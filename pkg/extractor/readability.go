package extractor

import (
	"context"
	"fmt"

	"github.com/jmylchreest/distill/internal/logger"
	"github.com/jmylchreest/distill/pkg/browser"
	"github.com/jmylchreest/distill/pkg/cleaner"
)

const readabilityScript = `new Readability(document).parse().content`

// ReadabilityExtractor extracts content with Mozilla's Readability.
type ReadabilityExtractor struct {
	bundle string
}

// NewReadability returns a Readability extractor. An empty bundle selects
// native mode.
func NewReadability(bundle string) *ReadabilityExtractor {
	return &ReadabilityExtractor{bundle: bundle}
}

// Choice returns Readability.
func (e *ReadabilityExtractor) Choice() Choice {
	return Readability
}

// Extract injects the Readability bundle and returns the parsed article's
// content. Without a bundle it runs go-readability on a DOM snapshot.
func (e *ReadabilityExtractor) Extract(ctx context.Context, page browser.Page) (Fragment, error) {
	if err := injectShim(ctx, page); err != nil {
		return Fragment{}, err
	}

	if e.bundle == "" {
		return extractNative(ctx, page, Readability, func(snap snapshot) cleaner.Cleaner {
			cfg := cleaner.DefaultReadabilityConfig()
			cfg.BaseURL = snap.URL
			return cleaner.NewReadability(cfg)
		})
	}

	logger.Debug("injecting readability script", "size", len(e.bundle))
	if err := page.Inject(ctx, e.bundle); err != nil {
		return Fragment{}, fmt.Errorf("%w: injecting readability: %w", ErrExtractionFailed, err)
	}

	logger.Debug("running readability")
	raw, err := page.Evaluate(ctx, readabilityScript)
	if err != nil {
		return Fragment{}, fmt.Errorf("%w: running readability: %w", ErrExtractionFailed, err)
	}

	content, err := decodeString(raw)
	if err != nil {
		return Fragment{}, fmt.Errorf("%w: readability: %w", ErrExtractionFailed, err)
	}
	return newFragment(content, Readability, ModeScript), nil
}
