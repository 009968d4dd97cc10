package local

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func skipIfNoChrome(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Chrome test in short mode")
	}
	if FindChromePath() == "" {
		t.Skip("skipping: Chrome/Chromium not found in PATH")
	}
}

func TestResolveBinaryConfigured(t *testing.T) {
	got, err := resolveBinary("/opt/chrome/chrome", false)
	if err != nil {
		t.Fatal(err)
	}
	if got != "/opt/chrome/chrome" {
		t.Errorf("resolveBinary() = %q", got)
	}
}

func TestProviderWithChrome(t *testing.T) {
	skipIfNoChrome(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Fixture</title></head><body>
<article><h1>Hello</h1><p>From the fixture page.</p></article>
<script>console.log("fixture loaded")</script>
</body></html>`)
	}))
	defer srv.Close()

	p, err := New(Config{NoSandbox: true, MaxSessions: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	b, err := p.Launch(ctx)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	page, err := b.NewPage(ctx)
	if err != nil {
		t.Fatalf("NewPage() error = %v", err)
	}
	if err := page.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	if err := page.Inject(ctx, `window.__name = (n, v) => v`); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}

	raw, err := page.Evaluate(ctx, `document.title`)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	var title string
	if err := json.Unmarshal(raw, &title); err != nil {
		t.Fatal(err)
	}
	if title != "Fixture" {
		t.Errorf("title = %q, want Fixture", title)
	}

	if err := b.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := b.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	sessions, err := p.Sessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || !sessions[0].Idle() {
		t.Fatalf("sessions after close = %+v, want one idle", sessions)
	}

	// The idle process is reusable.
	b2, err := p.Connect(ctx, sessions[0].ID)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	_ = b2.Close(ctx)
}
