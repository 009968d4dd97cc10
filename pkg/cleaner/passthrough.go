package cleaner

import (
	"fmt"
	"strings"
)

// PassthroughCleaner stands in for an extractor when the input is already an
// extracted fragment, e.g. a body saved from a previous fetch.
type PassthroughCleaner struct{}

// NewPassthrough creates a cleaner that keeps its input.
func NewPassthrough() *PassthroughCleaner {
	return &PassthroughCleaner{}
}

// Clean returns the input unchanged. Blank input matches ErrNoContent, like
// the extracting cleaners.
func (c *PassthroughCleaner) Clean(fragment string) (string, error) {
	if strings.TrimSpace(fragment) == "" {
		return "", fmt.Errorf("none: %w", ErrNoContent)
	}
	return fragment, nil
}

// Name returns "none", the extractor name the clean command accepts.
func (c *PassthroughCleaner) Name() string {
	return "none"
}
