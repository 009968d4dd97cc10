package extractor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/distill/internal/logger"
	"github.com/jmylchreest/distill/pkg/browser"
	"github.com/jmylchreest/distill/pkg/cleaner"
)

// snapshotScript captures the rendered DOM and the final URL after redirects.
const snapshotScript = `({html: document.documentElement.outerHTML, url: location.href})`

type snapshot struct {
	HTML string `json:"html"`
	URL  string `json:"url"`
}

func takeSnapshot(ctx context.Context, page browser.Page) (snapshot, error) {
	raw, err := page.Evaluate(ctx, snapshotScript)
	if err != nil {
		return snapshot{}, err
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	if snap.HTML == "" {
		return snapshot{}, fmt.Errorf("snapshot is empty")
	}
	return snap, nil
}

// extractNative runs an in-process extraction cleaner over a DOM snapshot.
func extractNative(ctx context.Context, page browser.Page, choice Choice, newCleaner func(snapshot) cleaner.Cleaner) (Fragment, error) {
	snap, err := takeSnapshot(ctx, page)
	if err != nil {
		return Fragment{}, fmt.Errorf("%w: %s snapshot: %w", ErrExtractionFailed, choice, err)
	}

	c := newCleaner(snap)
	logger.Debug("extracting from snapshot",
		"extractor", c.Name(),
		"url", snap.URL,
		"size", humanize.Bytes(uint64(len(snap.HTML))))

	content, err := c.Clean(snap.HTML)
	if err != nil {
		return Fragment{}, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	return newFragment(content, choice, ModeNative), nil
}
