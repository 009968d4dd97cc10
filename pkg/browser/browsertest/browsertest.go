// Package browsertest provides a scripted, in-memory browser.Provider for
// tests. Pages answer Evaluate calls from rules matched against the script
// text, so tests can return canned structured results without Chrome.
package browsertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jmylchreest/distill/pkg/browser"
)

// ErrNoRule is returned by Page.Evaluate when no rule matches the script.
var ErrNoRule = errors.New("browsertest: no rule matches script")

// Provider is a fake browser.Provider. Configure the exported fields before
// use; the recorded calls are safe to read after the code under test returns.
type Provider struct {
	SessionList []browser.Session
	SessionsErr error
	ConnectErr  error
	LaunchErr   error
	LimitsValue browser.Limits
	LimitsErr   error
	// CloseErr is returned by Close on every browser handed out.
	CloseErr    error

	// Page is the page template handed out by every browser.
	Page *Page

	mu           sync.Mutex
	connectCalls []string
	launchCalls  int
	browsers     []*Browser
	closed       bool
}

// NewProvider returns a provider whose browsers serve page.
func NewProvider(page *Page) *Provider {
	return &Provider{Page: page}
}

func (p *Provider) Sessions(context.Context) ([]browser.Session, error) {
	if p.SessionsErr != nil {
		return nil, p.SessionsErr
	}
	out := make([]browser.Session, len(p.SessionList))
	copy(out, p.SessionList)
	return out, nil
}

func (p *Provider) Connect(_ context.Context, sessionID string) (browser.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectCalls = append(p.connectCalls, sessionID)
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	return p.newBrowser(sessionID), nil
}

func (p *Provider) Launch(context.Context) (browser.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.launchCalls++
	if p.LaunchErr != nil {
		return nil, p.LaunchErr
	}
	return p.newBrowser(fmt.Sprintf("launched-%d", p.launchCalls)), nil
}

func (p *Provider) Limits(context.Context) (browser.Limits, error) {
	return p.LimitsValue, p.LimitsErr
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Provider) Type() string { return "fake" }

func (p *Provider) newBrowser(id string) *Browser {
	page := p.Page
	if page == nil {
		page = NewPage()
	}
	b := &Browser{ID: id, Page: page, CloseErr: p.CloseErr}
	p.browsers = append(p.browsers, b)
	return b
}

// ConnectCalls returns the session ids passed to Connect, in order.
func (p *Provider) ConnectCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.connectCalls...)
}

// LaunchCalls returns how many times Launch was called.
func (p *Provider) LaunchCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.launchCalls
}

// Browsers returns every browser handed out, in order.
func (p *Provider) Browsers() []*Browser {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Browser(nil), p.browsers...)
}

// Browser is a fake browser.Browser that counts Close calls.
type Browser struct {
	ID         string
	Page       *Page
	NewPageErr error
	CloseErr   error

	mu         sync.Mutex
	closeCalls int
}

func (b *Browser) SessionID() string { return b.ID }

func (b *Browser) NewPage(context.Context) (browser.Page, error) {
	if b.NewPageErr != nil {
		return nil, b.NewPageErr
	}
	return b.Page, nil
}

func (b *Browser) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeCalls++
	return b.CloseErr
}

// CloseCalls returns how many times Close was called.
func (b *Browser) CloseCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeCalls
}

type rule struct {
	contains string
	result   json.RawMessage
	err      error
}

// Page is a fake browser.Page driven by rules.
type Page struct {
	// NavigateFunc, when set, replaces the default successful navigation.
	NavigateFunc func(ctx context.Context, url string) error

	mu        sync.Mutex
	rules     []rule
	navigated []string
	injected  []string
	evaluated []string
}

// NewPage returns a page with no rules.
func NewPage() *Page {
	return &Page{}
}

// On makes scripts containing substr evaluate to the JSON value result.
func (p *Page) On(substr string, result any) *Page {
	raw, err := json.Marshal(result)
	if err != nil {
		panic(err)
	}
	return p.OnRaw(substr, raw)
}

// OnRaw is On with a pre-encoded JSON result.
func (p *Page) OnRaw(substr string, raw json.RawMessage) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = append(p.rules, rule{contains: substr, result: raw})
	return p
}

// Fail makes scripts containing substr fail with err, for both Inject and
// Evaluate.
func (p *Page) Fail(substr string, err error) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = append(p.rules, rule{contains: substr, err: err})
	return p
}

func (p *Page) match(script string) (rule, bool) {
	for _, r := range p.rules {
		if strings.Contains(script, r.contains) {
			return r, true
		}
	}
	return rule{}, false
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.navigated = append(p.navigated, url)
	fn := p.NavigateFunc
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, url)
	}
	return ctx.Err()
}

func (p *Page) Inject(ctx context.Context, script string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.injected = append(p.injected, script)
	if r, ok := p.match(script); ok && r.err != nil {
		return r.err
	}
	return ctx.Err()
}

func (p *Page) Evaluate(ctx context.Context, script string) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evaluated = append(p.evaluated, script)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, ok := p.match(script)
	if !ok {
		return nil, fmt.Errorf("%w: %.60q", ErrNoRule, script)
	}
	return r.result, r.err
}

// Navigated returns the URLs passed to Navigate.
func (p *Page) Navigated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigated...)
}

// Injected returns the scripts passed to Inject.
func (p *Page) Injected() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.injected...)
}

// Evaluated returns the scripts passed to Evaluate.
func (p *Page) Evaluated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.evaluated...)
}
