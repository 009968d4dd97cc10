package output

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Texter is implemented by results with a plain-text rendering.
type Texter interface {
	Text() string
}

// TextWriter streams plain text: a Texter's Text, a string as-is, anything
// else through fmt. Consecutive results are separated by a blank line.
type TextWriter struct {
	w     *bufio.Writer
	count int
}

// NewTextWriter creates a text writer.
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: bufio.NewWriter(w)}
}

// Write renders data and flushes it.
func (w *TextWriter) Write(data any) error {
	var s string
	switch v := data.(type) {
	case Texter:
		s = v.Text()
	case string:
		s = v
	default:
		s = fmt.Sprint(v)
	}

	if w.count > 0 {
		if _, err := w.w.WriteString("\n"); err != nil {
			return err
		}
	}
	w.count++

	if _, err := w.w.WriteString(s); err != nil {
		return err
	}
	if !strings.HasSuffix(s, "\n") {
		if _, err := w.w.WriteString("\n"); err != nil {
			return err
		}
	}
	return w.w.Flush()
}

// Close flushes the writer.
func (w *TextWriter) Close() error {
	return w.w.Flush()
}
