// Package remote provides a browser.Provider backed by a browser-rendering
// service. Session bookkeeping goes over its HTTP API; pages are driven over
// the CDP websocket the service exposes per session.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmylchreest/distill/internal/logger"
	"github.com/jmylchreest/distill/pkg/browser"
	"github.com/jmylchreest/distill/pkg/browser/cdp"
)

// ErrUnavailable indicates the browser service is not reachable or failed.
var ErrUnavailable = errors.New("browser service unavailable")

// Config holds configuration for the remote provider.
type Config struct {
	BaseURL           string // e.g. https://browser.example.com
	APIKey            string // Sent as a bearer token, and as ?token= on the websocket
	HTTPTimeout       time.Duration
	NavigationTimeout time.Duration
	RetryAfter        time.Duration // Used when the service sends no hint
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HTTPTimeout:       30 * time.Second,
		NavigationTimeout: 30 * time.Second,
		RetryAfter:        10 * time.Second,
	}
}

type connectFunc func(ctx context.Context, sessionID, wsURL string, opts cdp.Options) (browser.Browser, error)

// Provider is a client for the browser service API.
type Provider struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	connect    connectFunc
}

type sessionsResponse struct {
	Sessions []browser.Session `json:"sessions"`
}

type limitsResponse struct {
	ActiveSessions        int `json:"activeSessions"`
	MaxConcurrentSessions int `json:"maxConcurrentSessions"`
	AllowedAcquisitions   int `json:"allowedBrowserAcquisitions"`
	TimeUntilNextAllowed  int `json:"timeUntilNextAllowedBrowserAcquisition"` // milliseconds
}

type acquireResponse struct {
	SessionID string `json:"sessionId"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// New creates a remote provider.
func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote provider requires a base URL")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL scheme %q", base.Scheme)
	}

	d := DefaultConfig()
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = d.HTTPTimeout
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = d.NavigationTimeout
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = d.RetryAfter
	}

	logger.Debug("remote provider created", "base_url", base.String())

	return &Provider{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		connect: func(ctx context.Context, sessionID, wsURL string, opts cdp.Options) (browser.Browser, error) {
			return cdp.Connect(ctx, sessionID, wsURL, opts)
		},
	}, nil
}

// Type returns the provider type.
func (p *Provider) Type() string {
	return "remote"
}

// Sessions lists the service's sessions.
func (p *Provider) Sessions(ctx context.Context) ([]browser.Session, error) {
	var resp sessionsResponse
	if err := p.do(ctx, http.MethodGet, "/v1/sessions", &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// Limits reports the service's acquisition limits.
func (p *Provider) Limits(ctx context.Context) (browser.Limits, error) {
	var resp limitsResponse
	if err := p.do(ctx, http.MethodGet, "/v1/limits", &resp); err != nil {
		return browser.Limits{}, err
	}
	retry := time.Duration(resp.TimeUntilNextAllowed) * time.Millisecond
	if retry <= 0 {
		retry = p.cfg.RetryAfter
	}
	return browser.Limits{
		ActiveSessions:        resp.ActiveSessions,
		MaxConcurrentSessions: resp.MaxConcurrentSessions,
		AllowedAcquisitions:   resp.AllowedAcquisitions,
		RetryAfter:            retry,
	}, nil
}

// Connect attaches to an existing session over its CDP websocket. The
// service rejects the upgrade when the session already has a client.
func (p *Provider) Connect(ctx context.Context, sessionID string) (browser.Browser, error) {
	b, err := p.connect(ctx, sessionID, p.connectURL(sessionID), cdp.Options{
		NavigationTimeout: p.cfg.NavigationTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to session %s: %w", sessionID, err)
	}
	return b, nil
}

// Launch asks the service for a new session and attaches to it.
func (p *Provider) Launch(ctx context.Context) (browser.Browser, error) {
	var resp acquireResponse
	if err := p.do(ctx, http.MethodPost, "/v1/acquire", &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("%w: acquire returned no session id", ErrUnavailable)
	}
	logger.Debug("remote session acquired", "session", resp.SessionID)
	return p.Connect(ctx, resp.SessionID)
}

// Close releases idle HTTP connections. Remote sessions are left to the
// service's own keep-alive.
func (p *Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// connectURL builds the websocket URL for a session.
func (p *Provider) connectURL(sessionID string) string {
	u := *p.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/v1/connect"
	q := url.Values{"session_id": {sessionID}}
	if p.cfg.APIKey != "" {
		q.Set("token", p.cfg.APIKey)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *Provider) do(ctx context.Context, method, path string, out any) error {
	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader([]byte("{}"))
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL.String()+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		logger.Debug("browser service request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		logger.Warn("browser service returned invalid response", "path", path, "body", truncate(string(data), 200))
		return fmt.Errorf("%w: invalid response: %w", ErrUnavailable, err)
	}
	return nil
}

// classifyStatus maps an error response to a typed error.
func classifyStatus(status int, body []byte) error {
	msg := http.StatusText(status)
	var er errorResponse
	if json.Unmarshal(body, &er) == nil {
		switch {
		case er.Message != "":
			msg = er.Message
		case er.Error != "":
			msg = er.Error
		}
	}

	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", browser.ErrSessionNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", browser.ErrSessionBusy, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", browser.ErrNoCapacity, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, status, msg)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
