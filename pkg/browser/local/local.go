// Package local provides a browser.Provider that runs Chrome processes on
// this machine. Processes are started with rod's launcher and driven over
// CDP by the cdp package. Idle processes are kept for reuse until they have
// been unused for KeepAlive.
package local

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/jmylchreest/distill/internal/logger"
	"github.com/jmylchreest/distill/pkg/browser"
	"github.com/jmylchreest/distill/pkg/browser/cdp"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Config holds configuration for the local provider.
type Config struct {
	ChromePath   string
	AutoDownload bool // Download Chromium when no binary is found
	Headful      bool // Show the browser window
	NoSandbox    bool // Required when running as root, e.g. in containers

	MaxSessions       int           // Concurrent Chrome processes
	KeepAlive         time.Duration // Idle time before a process is killed (0 = forever)
	RetryAfter        time.Duration // Hint reported by Limits
	NavigationTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSessions:       2,
		KeepAlive:         60 * time.Second,
		RetryAfter:        10 * time.Second,
		NavigationTimeout: 30 * time.Second,
	}
}

type launchFunc func(ctx context.Context) (wsURL string, kill func(), err error)

type connectFunc func(ctx context.Context, sessionID, wsURL string, opts cdp.Options) (browser.Browser, error)

type instance struct {
	id           string
	wsURL        string
	kill         func()
	connectionID string
	started      time.Time
	lastUsed     time.Time
}

// Provider runs Chrome processes locally.
type Provider struct {
	cfg     Config
	launch  launchFunc
	connect connectFunc

	mu        sync.Mutex
	instances map[string]*instance
	pending   int
	closed    bool

	stopReaper context.CancelFunc
	reaperDone chan struct{}
}

// New creates a local provider. It resolves the Chrome binary eagerly so a
// missing browser is reported at startup rather than on the first request.
func New(cfg Config) (*Provider, error) {
	bin, err := resolveBinary(cfg.ChromePath, cfg.AutoDownload)
	if err != nil {
		return nil, err
	}
	logger.Debug("local provider created",
		"chrome", bin,
		"max_sessions", cfg.MaxSessions,
		"keep_alive", cfg.KeepAlive)

	return newProvider(cfg, rodLauncher(bin, cfg), connectCDP), nil
}

func newProvider(cfg Config, launch launchFunc, connect connectFunc) *Provider {
	d := DefaultConfig()
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = d.MaxSessions
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = d.RetryAfter
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = d.NavigationTimeout
	}

	p := &Provider{
		cfg:       cfg,
		launch:    launch,
		connect:   connect,
		instances: make(map[string]*instance),
	}

	if cfg.KeepAlive > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		p.stopReaper = cancel
		p.reaperDone = make(chan struct{})
		go p.reap(ctx, cfg.KeepAlive)
	}
	return p
}

func rodLauncher(bin string, cfg Config) launchFunc {
	return func(ctx context.Context) (string, func(), error) {
		l := launcher.New().
			Bin(bin).
			Headless(!cfg.Headful).
			NoSandbox(cfg.NoSandbox).
			Set("disable-gpu").
			Set("disable-dev-shm-usage").
			Set("disable-extensions").
			Set("no-first-run")

		type result struct {
			url string
			err error
		}
		ch := make(chan result, 1)
		go func() {
			u, err := l.Launch()
			ch <- result{u, err}
		}()

		select {
		case r := <-ch:
			if r.err != nil {
				return "", nil, fmt.Errorf("launching chrome: %w", r.err)
			}
			return r.url, func() {
				l.Kill()
				l.Cleanup()
			}, nil
		case <-ctx.Done():
			go func() {
				if r := <-ch; r.err == nil {
					l.Kill()
					l.Cleanup()
				}
			}()
			return "", nil, ctx.Err()
		}
	}
}

func connectCDP(ctx context.Context, sessionID, wsURL string, opts cdp.Options) (browser.Browser, error) {
	return cdp.Connect(ctx, sessionID, wsURL, opts)
}

// Type returns the provider type.
func (p *Provider) Type() string {
	return "local"
}

// Sessions lists running Chrome processes, oldest first.
func (p *Provider) Sessions(_ context.Context) ([]browser.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, browser.ErrClosed
	}

	out := make([]browser.Session, 0, len(p.instances))
	for _, inst := range p.instances {
		out = append(out, browser.Session{
			ID:           inst.id,
			ConnectionID: inst.connectionID,
			StartTime:    inst.started,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// Connect claims an idle process and attaches to it.
func (p *Provider) Connect(ctx context.Context, sessionID string) (browser.Browser, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, browser.ErrClosed
	}
	inst, ok := p.instances[sessionID]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", browser.ErrSessionNotFound, sessionID)
	}
	if inst.connectionID != "" {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", browser.ErrSessionBusy, sessionID)
	}
	connID := newID()
	inst.connectionID = connID
	wsURL := inst.wsURL
	p.mu.Unlock()

	b, err := p.attach(ctx, sessionID, wsURL, connID)
	if err != nil {
		// An unreachable process is assumed dead.
		p.discard(sessionID)
		return nil, err
	}
	return b, nil
}

// Launch starts a new Chrome process and attaches to it.
func (p *Provider) Launch(ctx context.Context) (browser.Browser, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, browser.ErrClosed
	}
	if len(p.instances)+p.pending >= p.cfg.MaxSessions {
		// Make room by retiring an idle process before giving up.
		if !p.evictIdleLocked() {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: %d sessions running", browser.ErrNoCapacity, p.cfg.MaxSessions)
		}
	}
	p.pending++
	p.mu.Unlock()

	wsURL, kill, err := p.launch(ctx)

	p.mu.Lock()
	p.pending--
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if p.closed {
		p.mu.Unlock()
		kill()
		return nil, browser.ErrClosed
	}
	now := time.Now()
	inst := &instance{
		id:           newID(),
		wsURL:        wsURL,
		kill:         kill,
		connectionID: newID(),
		started:      now,
		lastUsed:     now,
	}
	p.instances[inst.id] = inst
	p.mu.Unlock()

	logger.Debug("chrome launched", "session", inst.id, "ws", wsURL)

	b, err := p.attach(ctx, inst.id, wsURL, inst.connectionID)
	if err != nil {
		p.discard(inst.id)
		return nil, err
	}
	return b, nil
}

// Limits reports capacity: each process not currently claimed counts as an
// allowed acquisition, whether by reuse or by launching.
func (p *Provider) Limits(_ context.Context) (browser.Limits, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	busy := p.pending
	for _, inst := range p.instances {
		if inst.connectionID != "" {
			busy++
		}
	}
	allowed := p.cfg.MaxSessions - busy
	if allowed < 0 {
		allowed = 0
	}
	return browser.Limits{
		ActiveSessions:        len(p.instances),
		MaxConcurrentSessions: p.cfg.MaxSessions,
		AllowedAcquisitions:   allowed,
		RetryAfter:            p.cfg.RetryAfter,
	}, nil
}

// Close kills every Chrome process. Further calls return browser.ErrClosed.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	instances := p.instances
	p.instances = make(map[string]*instance)
	p.mu.Unlock()

	if p.stopReaper != nil {
		p.stopReaper()
		<-p.reaperDone
	}
	for _, inst := range instances {
		inst.kill()
	}
	logger.Debug("local provider closed", "killed", len(instances))
	return nil
}

func (p *Provider) attach(ctx context.Context, sessionID, wsURL, connID string) (browser.Browser, error) {
	return p.connect(ctx, sessionID, wsURL, cdp.Options{
		NavigationTimeout: p.cfg.NavigationTimeout,
		OnClose:           func() { p.release(sessionID, connID) },
	})
}

// release clears the claim held by connID, leaving the process for reuse.
func (p *Provider) release(sessionID, connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if inst, ok := p.instances[sessionID]; ok && inst.connectionID == connID {
		inst.connectionID = ""
		inst.lastUsed = time.Now()
	}
}

func (p *Provider) discard(sessionID string) {
	p.mu.Lock()
	inst, ok := p.instances[sessionID]
	delete(p.instances, sessionID)
	p.mu.Unlock()
	if ok {
		inst.kill()
	}
}

// evictIdleLocked kills the least recently used idle process. p.mu must be held.
func (p *Provider) evictIdleLocked() bool {
	var victim *instance
	for _, inst := range p.instances {
		if inst.connectionID != "" {
			continue
		}
		if victim == nil || inst.lastUsed.Before(victim.lastUsed) {
			victim = inst
		}
	}
	if victim == nil {
		return false
	}
	delete(p.instances, victim.id)
	go victim.kill()
	logger.Debug("evicted idle chrome", "session", victim.id)
	return true
}

func (p *Provider) reap(ctx context.Context, keepAlive time.Duration) {
	defer close(p.reaperDone)

	interval := keepAlive / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.reapIdle(now, keepAlive)
		}
	}
}

func (p *Provider) reapIdle(now time.Time, keepAlive time.Duration) {
	var expired []*instance
	p.mu.Lock()
	for id, inst := range p.instances {
		if inst.connectionID == "" && now.Sub(inst.lastUsed) >= keepAlive {
			expired = append(expired, inst)
			delete(p.instances, id)
		}
	}
	p.mu.Unlock()

	for _, inst := range expired {
		logger.Debug("reaping idle chrome", "session", inst.id, "idle", now.Sub(inst.lastUsed))
		inst.kill()
	}
}

func newID() string {
	id, err := gonanoid.Generate(idAlphabet, 16)
	if err != nil {
		// Generate only fails on an invalid alphabet or size.
		panic(err)
	}
	return id
}
