package cleaner

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	distiller "github.com/markusmobius/go-domdistiller"
	"golang.org/x/net/html"
)

// DomDistillerCleaner extracts the main content of a page using
// go-domdistiller, a port of Chromium's DOM Distiller.
type DomDistillerCleaner struct {
	baseURL string
}

// NewDomDistiller creates a DOM Distiller cleaner. baseURL, when set, is the
// page's original URL and is used to resolve relative links.
func NewDomDistiller(baseURL string) *DomDistillerCleaner {
	return &DomDistillerCleaner{baseURL: baseURL}
}

// Clean extracts the main content from HTML. It returns ErrNoContent when
// the distiller finds no content.
func (c *DomDistillerCleaner) Clean(htmlContent string) (string, error) {
	opts := &distiller.Options{}
	if c.baseURL != "" {
		if u, err := url.Parse(c.baseURL); err == nil {
			opts.OriginalURL = u
		}
	}

	result, err := distiller.ApplyForReader(strings.NewReader(htmlContent), opts)
	if err != nil {
		return "", fmt.Errorf("domdistiller: %w", err)
	}
	if result == nil || result.Node == nil || !hasText(result.Node) {
		return "", fmt.Errorf("domdistiller: %w", ErrNoContent)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, result.Node); err != nil {
		return "", fmt.Errorf("domdistiller: rendering content: %w", err)
	}
	return buf.String(), nil
}

// Name returns the cleaner type.
func (c *DomDistillerCleaner) Name() string {
	return "domdistiller"
}
