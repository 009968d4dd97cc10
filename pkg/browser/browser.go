// Package browser defines the capability contract distill consumes from a
// browser-rendering provider: listing and claiming sessions, launching new
// browsers, reporting capacity, and driving pages.
//
// Implementations live in the cdp, local and remote subpackages. The
// browsertest subpackage provides a scripted fake for tests.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Provider abstracts a pool of remote browser sessions.
type Provider interface {
	// Sessions lists the provider's active sessions.
	Sessions(ctx context.Context) ([]Session, error)

	// Connect attaches to an existing session. It fails when another
	// client claimed the session first.
	Connect(ctx context.Context, sessionID string) (Browser, error)

	// Launch starts a new session and attaches to it.
	Launch(ctx context.Context) (Browser, error)

	// Limits reports how many browser acquisitions are currently allowed.
	Limits(ctx context.Context) (Limits, error)

	// Close releases provider resources (processes, idle connections).
	Close() error

	// Type returns a string identifying the provider (e.g. "local", "remote").
	Type() string
}

// Browser is a live connection to a session. It is owned by one request and
// must be closed exactly once; implementations treat repeat calls as no-ops.
type Browser interface {
	SessionID() string
	NewPage(ctx context.Context) (Page, error)
	Close(ctx context.Context) error
}

// Page is a single browsing context opened on a Browser. It is destroyed
// when its Browser closes.
type Page interface {
	// Navigate loads url and returns once the network is almost idle.
	Navigate(ctx context.Context, url string) error

	// Inject runs script in the page for its side effects.
	Inject(ctx context.Context, script string) error

	// Evaluate runs script in the page and returns its JSON-encoded result.
	Evaluate(ctx context.Context, script string) (json.RawMessage, error)
}

// Session describes a provider-side browser instance.
type Session struct {
	ID           string    `json:"sessionId" yaml:"session_id"`
	ConnectionID string    `json:"connectionId,omitempty" yaml:"connection_id,omitempty"`
	StartTime    time.Time `json:"startTime,omitzero" yaml:"start_time,omitempty"`
}

// Idle reports whether no client is attached to the session.
func (s Session) Idle() bool {
	return s.ConnectionID == ""
}

// Limits is the provider's capacity report.
type Limits struct {
	ActiveSessions        int           `json:"activeSessions" yaml:"active_sessions"`
	MaxConcurrentSessions int           `json:"maxConcurrentSessions" yaml:"max_concurrent_sessions"`
	AllowedAcquisitions   int           `json:"allowedBrowserAcquisitions" yaml:"allowed_acquisitions"`
	RetryAfter            time.Duration `json:"-" yaml:"retry_after"`
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, with a floor of one
// second so callers always have a usable Retry-After value.
func (l Limits) RetryAfterSeconds() int {
	secs := int((l.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Error types shared by providers.
var (
	// ErrSessionBusy indicates the session already has a client attached.
	ErrSessionBusy = errors.New("session already has a connection")
	// ErrSessionNotFound indicates the provider does not know the session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoCapacity indicates the provider cannot start another session.
	ErrNoCapacity = errors.New("no browser capacity available")
	// ErrClosed is returned when using a closed provider or browser.
	ErrClosed = errors.New("browser: closed")
)
