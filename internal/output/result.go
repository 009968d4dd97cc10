package output

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/distill/pkg/browser"
)

// Document is the result of distilling one URL.
type Document struct {
	URL       string `json:"url" yaml:"url"`
	Extractor string `json:"extractor" yaml:"extractor"`
	Markdown  bool   `json:"markdown" yaml:"markdown"`
	Body      string `json:"body,omitempty" yaml:"body,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms" yaml:"elapsed_ms"`
}

// NewDocument builds a Document from a pipeline outcome.
func NewDocument(url, extractor string, markdown bool, body string, err error, elapsed time.Duration) Document {
	d := Document{
		URL:       url,
		Extractor: extractor,
		Markdown:  markdown,
		Body:      body,
		ElapsedMS: elapsed.Milliseconds(),
	}
	if err != nil {
		d.Error = err.Error()
	}
	return d
}

// Text returns the body, or an error line for failed documents.
func (d Document) Text() string {
	if d.Error != "" {
		return fmt.Sprintf("error: %s: %s", d.URL, d.Error)
	}
	return d.Body
}

// SessionReport describes a provider's sessions and capacity.
type SessionReport struct {
	Provider string            `json:"provider" yaml:"provider"`
	Sessions []browser.Session `json:"sessions" yaml:"sessions"`
	Limits   browser.Limits    `json:"limits" yaml:"limits"`
}

// Text renders the report as an aligned table followed by the limits.
func (r SessionReport) Text() string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTATE\tSTARTED")
	for _, s := range r.Sessions {
		state := "idle"
		if !s.Idle() {
			state = "busy"
		}
		started := "-"
		if !s.StartTime.IsZero() {
			started = humanize.Time(s.StartTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, state, started)
	}
	tw.Flush()

	fmt.Fprintf(&b, "\nprovider %s: %d/%d active, %d acquisitions allowed",
		r.Provider, r.Limits.ActiveSessions, r.Limits.MaxConcurrentSessions, r.Limits.AllowedAcquisitions)
	if r.Limits.AllowedAcquisitions < 1 {
		fmt.Fprintf(&b, ", retry after %ds", r.Limits.RetryAfterSeconds())
	}
	b.WriteString("\n")
	return b.String()
}
