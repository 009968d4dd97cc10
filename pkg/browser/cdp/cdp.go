// Package cdp implements browser.Browser and browser.Page over the Chrome
// DevTools Protocol using chromedp. Providers hand it a DevTools websocket URL;
// it owns the connection for the lifetime of one request.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/distill/internal/logger"
	"github.com/jmylchreest/distill/pkg/browser"
)

// Lifecycle event Chrome emits once a frame has had at most two in-flight
// requests for 500ms.
const networkAlmostIdle = "networkAlmostIdle"

// Options configures a CDP connection.
type Options struct {
	// ConnectTimeout bounds the initial websocket attach (default 15s).
	ConnectTimeout time.Duration

	// NavigationTimeout bounds Navigate including the idle wait (default 30s).
	NavigationTimeout time.Duration

	// OnClose runs once after the connection has been torn down. Providers
	// use it to release their claim on the session.
	OnClose func()
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 15 * time.Second
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = 30 * time.Second
	}
	return o
}

// Browser is a chromedp connection to one session.
type Browser struct {
	sessionID string
	opts      Options

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu        sync.Mutex
	pages     []context.CancelFunc
	closed    bool
	closeOnce sync.Once
	closeDone chan struct{}
}

// Connect attaches to the browser listening on wsURL.
func Connect(ctx context.Context, sessionID, wsURL string, opts Options) (*Browser, error) {
	opts = opts.withDefaults()

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), wsURL, chromedp.NoModifyURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug("chromedp", "session", sessionID, "msg", fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug("chromedp error", "session", sessionID, "msg", fmt.Sprintf(format, args...))
		}),
	)

	connectCtx, cancelConnect := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancelConnect()
	stop := context.AfterFunc(connectCtx, browserCancel)

	// The first Run attaches eagerly so connection errors surface here.
	err := chromedp.Run(browserCtx)
	if !stop() || err != nil {
		browserCancel()
		allocCancel()
		if err == nil {
			err = connectCtx.Err()
		}
		return nil, fmt.Errorf("connecting to session %s: %w", sessionID, err)
	}

	logger.Debug("cdp connected", "session", sessionID)

	return &Browser{
		sessionID:     sessionID,
		opts:          opts,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		closeDone:     make(chan struct{}),
	}, nil
}

// SessionID returns the id of the session this connection is attached to.
func (b *Browser) SessionID() string {
	return b.sessionID
}

// NewPage opens a new tab with lifecycle events and console logging enabled.
func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, browser.ErrClosed
	}
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	b.pages = append(b.pages, tabCancel)
	b.mu.Unlock()

	chromedp.ListenTarget(tabCtx, func(ev any) {
		if e, ok := ev.(*runtime.EventConsoleAPICalled); ok {
			logger.Debug("page log", "session", b.sessionID, "type", e.Type, "text", consoleText(e.Args))
		}
	})

	// The first Run must use the tab context itself: chromedp binds the
	// target's lifetime to the context that created it.
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx,
		runtime.Enable(),
		page.SetLifecycleEventsEnabled(true),
	)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("opening page: %w", err)
	}

	return &Page{ctx: tabCtx, opts: b.opts}, nil
}

// Close tears down all tabs and the connection. It is safe to call more
// than once; only the first call has any effect and later calls wait for it.
func (b *Browser) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		pages := b.pages
		b.pages = nil
		b.closed = true
		b.mu.Unlock()

		go func() {
			defer close(b.closeDone)
			// Under a remote allocator no chromedp context counts as the
			// browser's first, so each cancel closes its own target, the
			// attach tab included, before the websocket is dropped.
			for _, cancel := range pages {
				cancel()
			}
			b.browserCancel()
			b.allocCancel()
			if b.opts.OnClose != nil {
				b.opts.OnClose()
			}
			logger.Debug("cdp connection closed", "session", b.sessionID)
		}()
	})

	select {
	case <-b.closeDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("closing session %s: %w", b.sessionID, ctx.Err())
	}
}

// Page is one tab of a Browser.
type Page struct {
	ctx  context.Context
	opts Options
}

// Navigate loads url and waits for the main frame's networkAlmostIdle
// lifecycle event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := p.runContext(ctx, p.opts.NavigationTimeout)
	defer cancel()

	mainFrame := cdp.FrameID(chromedp.FromContext(p.ctx).Target.TargetID)

	idle := make(chan struct{})
	var (
		mu      sync.Mutex
		sawInit bool
		once    sync.Once
	)

	listenCtx, stopListening := context.WithCancel(runCtx)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, func(ev any) {
		e, ok := ev.(*page.EventLifecycleEvent)
		if !ok || e.FrameID != mainFrame {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		switch e.Name {
		case "init":
			sawInit = true
		case networkAlmostIdle:
			if sawInit {
				once.Do(func() { close(idle) })
			}
		}
	})

	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}

	select {
	case <-idle:
		return nil
	case <-runCtx.Done():
		return fmt.Errorf("waiting for network idle on %s: %w", url, runCtx.Err())
	}
}

// Inject evaluates script for its side effects, discarding the result.
func (p *Page) Inject(ctx context.Context, script string) error {
	runCtx, cancel := p.runContext(ctx, 0)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Evaluate(script, nil))
}

// Evaluate runs script and returns the JSON encoding of its result.
func (p *Page) Evaluate(ctx context.Context, script string) (json.RawMessage, error) {
	runCtx, cancel := p.runContext(ctx, 0)
	defer cancel()

	var raw []byte
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &raw)); err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// runContext derives a chromedp-bound context from the tab that is also
// cancelled when the caller's ctx is done.
func (p *Page) runContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.ctx)
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		inner := cancel
		cancel = func() {
			cancelTimeout()
			inner()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func consoleText(args []*runtime.RemoteObject) string {
	var out []byte
	for i, a := range args {
		if i > 0 {
			out = append(out, ' ')
		}
		switch {
		case len(a.Value) > 0:
			var s string
			if json.Unmarshal(a.Value, &s) == nil {
				out = append(out, s...)
			} else {
				out = append(out, a.Value...)
			}
		case a.Description != "":
			out = append(out, a.Description...)
		default:
			out = append(out, string(a.Type)...)
		}
	}
	return string(out)
}
