package local

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmylchreest/distill/pkg/browser"
	"github.com/jmylchreest/distill/pkg/browser/browsertest"
	"github.com/jmylchreest/distill/pkg/browser/cdp"
)

type fakeChrome struct {
	mu        sync.Mutex
	launched  int
	killed    int
	launchErr error
}

func (f *fakeChrome) launch(ctx context.Context) (string, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launchErr != nil {
		return "", nil, f.launchErr
	}
	f.launched++
	return "ws://127.0.0.1/devtools/browser/fake", func() {
		f.mu.Lock()
		f.killed++
		f.mu.Unlock()
	}, nil
}

func (f *fakeChrome) kills() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

// closingBrowser runs the cdp OnClose hook like the real connection does.
type closingBrowser struct {
	*browsertest.Browser
	onClose func()
	once    sync.Once
}

func (b *closingBrowser) Close(ctx context.Context) error {
	b.once.Do(func() {
		if b.onClose != nil {
			b.onClose()
		}
	})
	return b.Browser.Close(ctx)
}

func fakeConnect(err error) connectFunc {
	return func(_ context.Context, sessionID, _ string, opts cdp.Options) (browser.Browser, error) {
		if err != nil {
			return nil, err
		}
		return &closingBrowser{
			Browser: &browsertest.Browser{ID: sessionID, Page: browsertest.NewPage()},
			onClose: opts.OnClose,
		}, nil
	}
}

func newTestProvider(t *testing.T, cfg Config, chrome *fakeChrome, connectErr error) *Provider {
	t.Helper()
	p := newProvider(cfg, chrome.launch, fakeConnect(connectErr))
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestLaunchThenReuse(t *testing.T) {
	chrome := &fakeChrome{}
	p := newTestProvider(t, Config{MaxSessions: 2}, chrome, nil)
	ctx := context.Background()

	b, err := p.Launch(ctx)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	sessions, _ := p.Sessions(ctx)
	if len(sessions) != 1 {
		t.Fatalf("Sessions() = %d, want 1", len(sessions))
	}
	if sessions[0].Idle() {
		t.Error("launched session should be claimed")
	}
	if sessions[0].ID != b.SessionID() {
		t.Errorf("session id = %q, want %q", sessions[0].ID, b.SessionID())
	}

	if _, err := p.Connect(ctx, b.SessionID()); !errors.Is(err, browser.ErrSessionBusy) {
		t.Errorf("Connect() on claimed session error = %v, want ErrSessionBusy", err)
	}

	if err := b.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	sessions, _ = p.Sessions(ctx)
	if !sessions[0].Idle() {
		t.Fatal("session should be idle after Close")
	}

	b2, err := p.Connect(ctx, b.SessionID())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if b2.SessionID() != b.SessionID() {
		t.Errorf("reconnected to %q, want %q", b2.SessionID(), b.SessionID())
	}
	if chrome.launched != 1 {
		t.Errorf("launched = %d, want 1", chrome.launched)
	}
}

func TestConnectUnknownSession(t *testing.T) {
	p := newTestProvider(t, Config{}, &fakeChrome{}, nil)
	_, err := p.Connect(context.Background(), "nope")
	if !errors.Is(err, browser.ErrSessionNotFound) {
		t.Errorf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestConnectFailureDiscardsSession(t *testing.T) {
	chrome := &fakeChrome{}
	p := newTestProvider(t, Config{}, chrome, nil)
	ctx := context.Background()

	b, err := p.Launch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	_ = b.Close(ctx)

	p.connect = fakeConnect(errors.New("websocket refused"))
	if _, err := p.Connect(ctx, b.SessionID()); err == nil {
		t.Fatal("expected connect error")
	}

	sessions, _ := p.Sessions(ctx)
	if len(sessions) != 0 {
		t.Errorf("Sessions() = %d, want dead session removed", len(sessions))
	}
	if chrome.kills() != 1 {
		t.Errorf("kills = %d, want 1", chrome.kills())
	}
}

func TestLaunchCapacity(t *testing.T) {
	chrome := &fakeChrome{}
	p := newTestProvider(t, Config{MaxSessions: 1}, chrome, nil)
	ctx := context.Background()

	b, err := p.Launch(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.Launch(ctx); !errors.Is(err, browser.ErrNoCapacity) {
		t.Fatalf("second Launch() error = %v, want ErrNoCapacity", err)
	}

	// An idle process is evicted to make room.
	_ = b.Close(ctx)
	if _, err := p.Launch(ctx); err != nil {
		t.Fatalf("Launch() after release error = %v", err)
	}
	sessions, _ := p.Sessions(ctx)
	if len(sessions) != 1 {
		t.Errorf("Sessions() = %d, want 1", len(sessions))
	}
}

func TestLaunchError(t *testing.T) {
	chrome := &fakeChrome{launchErr: errors.New("no chrome")}
	p := newTestProvider(t, Config{}, chrome, nil)

	if _, err := p.Launch(context.Background()); err == nil {
		t.Fatal("expected launch error")
	}
	lim, _ := p.Limits(context.Background())
	if lim.AllowedAcquisitions != 2 {
		t.Errorf("AllowedAcquisitions = %d, want 2 after failed launch", lim.AllowedAcquisitions)
	}
}

func TestLimits(t *testing.T) {
	p := newTestProvider(t, Config{MaxSessions: 3, RetryAfter: 5 * time.Second}, &fakeChrome{}, nil)
	ctx := context.Background()

	lim, err := p.Limits(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if lim.AllowedAcquisitions != 3 || lim.MaxConcurrentSessions != 3 || lim.ActiveSessions != 0 {
		t.Errorf("Limits() = %+v", lim)
	}

	b1, _ := p.Launch(ctx)
	_, _ = p.Launch(ctx)
	lim, _ = p.Limits(ctx)
	if lim.AllowedAcquisitions != 1 || lim.ActiveSessions != 2 {
		t.Errorf("Limits() with 2 busy = %+v", lim)
	}

	_ = b1.Close(ctx)
	lim, _ = p.Limits(ctx)
	if lim.AllowedAcquisitions != 2 {
		t.Errorf("AllowedAcquisitions = %d, want 2 (idle session is reusable)", lim.AllowedAcquisitions)
	}
	if lim.RetryAfterSeconds() != 5 {
		t.Errorf("RetryAfterSeconds() = %d, want 5", lim.RetryAfterSeconds())
	}
}

func TestReapIdle(t *testing.T) {
	chrome := &fakeChrome{}
	p := newTestProvider(t, Config{}, chrome, nil)
	ctx := context.Background()

	idle, _ := p.Launch(ctx)
	busy, _ := p.Launch(ctx)
	_ = idle.Close(ctx)

	p.reapIdle(time.Now().Add(time.Hour), time.Minute)

	sessions, _ := p.Sessions(ctx)
	if len(sessions) != 1 || sessions[0].ID != busy.SessionID() {
		t.Errorf("Sessions() after reap = %+v, want only busy session", sessions)
	}
	if chrome.kills() != 1 {
		t.Errorf("kills = %d, want 1", chrome.kills())
	}
}

func TestCloseKillsAll(t *testing.T) {
	chrome := &fakeChrome{}
	p := newProvider(Config{KeepAlive: time.Minute}, chrome.launch, fakeConnect(nil))
	ctx := context.Background()

	_, _ = p.Launch(ctx)
	_, _ = p.Launch(ctx)

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if chrome.kills() != 2 {
		t.Errorf("kills = %d, want 2", chrome.kills())
	}
	if _, err := p.Launch(ctx); !errors.Is(err, browser.ErrClosed) {
		t.Errorf("Launch() after Close error = %v, want ErrClosed", err)
	}
	if _, err := p.Sessions(ctx); !errors.Is(err, browser.ErrClosed) {
		t.Errorf("Sessions() after Close error = %v, want ErrClosed", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestConcurrentConnectClaimsOnce(t *testing.T) {
	p := newTestProvider(t, Config{}, &fakeChrome{}, nil)
	ctx := context.Background()

	b, _ := p.Launch(ctx)
	_ = b.Close(ctx)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Connect(ctx, b.SessionID()); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("successful connects = %d, want 1", wins.Load())
	}
}

func TestNewID(t *testing.T) {
	a, b := newID(), newID()
	if len(a) != 16 {
		t.Errorf("len(newID()) = %d, want 16", len(a))
	}
	if a == b {
		t.Error("newID() returned duplicate ids")
	}
}
