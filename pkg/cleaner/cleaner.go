// Package cleaner provides interfaces and implementations for transforming
// extracted HTML: in-process article extraction (Readability, DOM Distiller)
// and conversion to Markdown.
package cleaner

import "errors"

var (
	// ErrConversionFailed indicates the Markdown engine failed on its input.
	ErrConversionFailed = errors.New("markdown conversion failed")

	// ErrNoContent indicates an extraction cleaner found no article content.
	ErrNoContent = errors.New("no content extracted")
)

// Cleaner transforms HTML content into a cleaner format.
type Cleaner interface {
	// Clean transforms the input HTML into a cleaned format.
	// The output format depends on the implementation (HTML fragment, markdown).
	Clean(html string) (string, error)

	// Name returns the cleaner type for logging/debugging.
	Name() string
}
