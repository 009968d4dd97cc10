// Package session obtains a browser handle from a provider, preferring an
// idle existing session over launching a new one.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/jmylchreest/distill/internal/logger"
	"github.com/jmylchreest/distill/pkg/browser"
)

// ErrProviderUnavailable indicates no handle could be obtained: reuse was
// impossible or failed and launching a new session failed too.
var ErrProviderUnavailable = errors.New("browser provider unavailable")

// Acquisition is the result of a successful Acquire.
type Acquisition struct {
	Browser browser.Browser
	Reused  bool // Attached to an existing idle session rather than a launched one
}

// Acquirer picks sessions. The zero value is ready to use.
type Acquirer struct {
	// IntN returns a uniform random int in [0, n). Defaults to rand.IntN.
	IntN func(n int) int
}

// Acquire returns a handle using the default Acquirer.
func Acquire(ctx context.Context, provider browser.Provider) (Acquisition, error) {
	var a Acquirer
	return a.Acquire(ctx, provider)
}

// Acquire lists the provider's sessions and tries to attach to one idle
// session chosen at random. If there is none, or that one attach fails, it
// launches a new session. Nothing is retried.
func (a *Acquirer) Acquire(ctx context.Context, provider browser.Provider) (Acquisition, error) {
	if id, ok := a.pickIdle(ctx, provider); ok {
		b, err := provider.Connect(ctx, id)
		if err == nil {
			logger.Debug("reusing browser session", "session", id)
			return Acquisition{Browser: b, Reused: true}, nil
		}
		// Another client most likely claimed it between list and connect.
		logger.Debug("failed to connect to idle session, launching", "session", id, "error", err)
	}

	b, err := provider.Launch(ctx)
	if err != nil {
		logger.Warn("failed to launch browser session", "provider", provider.Type(), "error", err)
		return Acquisition{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	logger.Debug("launched browser session", "session", b.SessionID())
	return Acquisition{Browser: b}, nil
}

func (a *Acquirer) pickIdle(ctx context.Context, provider browser.Provider) (string, bool) {
	sessions, err := provider.Sessions(ctx)
	if err != nil {
		logger.Debug("failed to list browser sessions", "provider", provider.Type(), "error", err)
		return "", false
	}

	idle := make([]string, 0, len(sessions))
	for _, s := range sessions {
		if s.Idle() {
			idle = append(idle, s.ID)
		}
	}
	if len(idle) == 0 {
		return "", false
	}

	intN := a.IntN
	if intN == nil {
		intN = rand.IntN
	}
	return idle[intN(len(idle))], true
}
