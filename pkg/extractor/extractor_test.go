package extractor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmylchreest/distill/pkg/browser/browsertest"
)

const (
	readabilityBundle  = "/* readability bundle */ var Readability = function () {};"
	domDistillerBundle = "/* dom distiller bundle */ var org = {};"
)

var testBundles = Bundles{Readability: readabilityBundle, DomDistiller: domDistillerBundle}

func readTestdata(t *testing.T, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", filename))
	if err != nil {
		t.Fatalf("failed to read testdata %s: %v", filename, err)
	}
	return string(data)
}

func TestReadabilityScript(t *testing.T) {
	content := `<div><h1>Title</h1><p>Hello <a href="/x">link</a></p><img src="a.png"></div>`
	page := browsertest.NewPage().On("new Readability", content)

	got, err := New(Readability, testBundles).Extract(context.Background(), page)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if got.HTML != content {
		t.Errorf("HTML = %q, want %q", got.HTML, content)
	}
	if got.Strategy != Readability || got.Mode != ModeScript {
		t.Errorf("Strategy/Mode = %v/%v", got.Strategy, got.Mode)
	}
	if got.Title != "Title" || got.Links != 1 || got.Images != 1 {
		t.Errorf("metadata = %+v", got)
	}

	injected := page.Injected()
	if len(injected) != 2 || injected[0] != nameShim || injected[1] != readabilityBundle {
		t.Errorf("Injected() = %q, want shim then bundle", injected)
	}
	if ev := page.Evaluated(); len(ev) != 1 || ev[0] != readabilityScript {
		t.Errorf("Evaluated() = %q", ev)
	}
}

func TestReadabilityScriptFailures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		page  *browsertest.Page
		cause error
	}{
		{"shim injection fails", browsertest.NewPage().Fail("__name", boom), boom},
		{"bundle injection fails", browsertest.NewPage().Fail("readability bundle", boom), boom},
		{"parse throws", browsertest.NewPage().Fail("new Readability", boom), boom},
		{"null result", browsertest.NewPage().OnRaw("new Readability", []byte("null")), nil},
		{"object result", browsertest.NewPage().On("new Readability", map[string]string{"content": "x"}), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Readability, testBundles).Extract(context.Background(), tt.page)
			if !errors.Is(err, ErrExtractionFailed) {
				t.Fatalf("error = %v, want ErrExtractionFailed", err)
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Errorf("error = %v, want wrapped %v", err, tt.cause)
			}
		})
	}
}

func TestDomDistillerScript(t *testing.T) {
	result := []any{"Page title", []any{}, []any{"ignored", "<p>distilled</p>"}, 42}
	page := browsertest.NewPage().On("DomDistiller.apply", result)

	got, err := New(DomDistiller, testBundles).Extract(context.Background(), page)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.HTML != "<p>distilled</p>" {
		t.Errorf("HTML = %q", got.HTML)
	}
	if got.Strategy != DomDistiller || got.Mode != ModeScript {
		t.Errorf("Strategy/Mode = %v/%v", got.Strategy, got.Mode)
	}

	injected := page.Injected()
	if len(injected) != 2 || injected[1] != domDistillerBundle {
		t.Errorf("Injected() = %q", injected)
	}
}

func TestDomDistillerScriptBadShape(t *testing.T) {
	page := browsertest.NewPage().On("DomDistiller.apply", []any{"title", "x"})
	_, err := New(DomDistiller, testBundles).Extract(context.Background(), page)
	if !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("error = %v, want ErrExtractionFailed", err)
	}
}

func TestDistilledContent(t *testing.T) {
	tests := []struct {
		name    string
		result  any
		want    string
		wantErr bool
	}{
		{"valid", []any{nil, nil, []any{nil, "<p>x</p>"}}, "<p>x</p>", false},
		{"extra elements", []any{1, 2, []any{3, "<p>y</p>", 5}, 6}, "<p>y</p>", false},
		{"empty string leaf", []any{nil, nil, []any{nil, ""}}, "", false},
		{"null", nil, "", true},
		{"object", map[string]any{"2": []any{nil, "x"}}, "", true},
		{"too short", []any{nil, nil}, "", true},
		{"index 2 not array", []any{nil, nil, "x"}, "", true},
		{"index 2 too short", []any{nil, nil, []any{"x"}}, "", true},
		{"leaf not string", []any{nil, nil, []any{nil, 12.0}}, "", true},
		{"leaf null", []any{nil, nil, []any{nil, nil}}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DistilledContent(tt.result)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DistilledContent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DistilledContent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNativeReadability(t *testing.T) {
	page := browsertest.NewPage().On("outerHTML", snapshot{
		HTML: readTestdata(t, "article.html"),
		URL:  "https://blog.example.com/posts/pipes",
	})

	got, err := New(Readability, Bundles{}).Extract(context.Background(), page)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Mode != ModeNative || got.Strategy != Readability {
		t.Errorf("Strategy/Mode = %v/%v", got.Strategy, got.Mode)
	}
	if !strings.Contains(got.HTML, "Unix pipes compose small programs") {
		t.Errorf("HTML missing article text: %q", got.HTML)
	}
	if strings.Contains(got.HTML, "Subscribe to our newsletter") {
		t.Errorf("HTML kept footer: %q", got.HTML)
	}
	if got.TextLength == 0 {
		t.Error("TextLength = 0")
	}

	if injected := page.Injected(); len(injected) != 1 || injected[0] != nameShim {
		t.Errorf("Injected() = %q, want only the shim", injected)
	}
}

func TestNativeDomDistiller(t *testing.T) {
	page := browsertest.NewPage().On("outerHTML", snapshot{
		HTML: readTestdata(t, "article.html"),
		URL:  "https://blog.example.com/posts/pipes",
	})

	got, err := New(DomDistiller, Bundles{}).Extract(context.Background(), page)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Mode != ModeNative || got.Strategy != DomDistiller {
		t.Errorf("Strategy/Mode = %v/%v", got.Strategy, got.Mode)
	}
	if !strings.Contains(got.HTML, "Unix pipes compose small programs") {
		t.Errorf("HTML missing article text: %q", got.HTML)
	}
}

func TestNativeFailures(t *testing.T) {
	tests := []struct {
		name string
		page *browsertest.Page
	}{
		{"snapshot fails", browsertest.NewPage().Fail("outerHTML", errors.New("detached"))},
		{"empty snapshot", browsertest.NewPage().On("outerHTML", snapshot{})},
		{"empty page", browsertest.NewPage().On("outerHTML", snapshot{HTML: "<html><body></body></html>"})},
	}

	for _, tt := range tests {
		for _, choice := range []Choice{Readability, DomDistiller} {
			t.Run(tt.name+"/"+choice.String(), func(t *testing.T) {
				_, err := New(choice, Bundles{}).Extract(context.Background(), tt.page)
				if !errors.Is(err, ErrExtractionFailed) {
					t.Errorf("error = %v, want ErrExtractionFailed", err)
				}
			})
		}
	}
}

func TestSetRunsOnlySelectedStrategy(t *testing.T) {
	s := NewSet(testBundles)

	tests := []struct {
		choice   Choice
		wantEval string
	}{
		{Readability, readabilityScript},
		{DomDistiller, domDistillerScript},
	}

	for _, tt := range tests {
		t.Run(tt.choice.String(), func(t *testing.T) {
			page := browsertest.NewPage().
				On("new Readability", "<p>r</p>").
				On("DomDistiller.apply", []any{nil, nil, []any{nil, "<p>d</p>"}})

			got, err := s.Extract(context.Background(), page, tt.choice)
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if got.Strategy != tt.choice {
				t.Errorf("Strategy = %v, want %v", got.Strategy, tt.choice)
			}
			if ev := page.Evaluated(); len(ev) != 1 || ev[0] != tt.wantEval {
				t.Errorf("Evaluated() = %q, want only %q", ev, tt.wantEval)
			}
			if s.Get(tt.choice).Choice() != tt.choice {
				t.Errorf("Get(%v).Choice() = %v", tt.choice, s.Get(tt.choice).Choice())
			}
		})
	}
}

func TestExtractCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	page := browsertest.NewPage().On("new Readability", "<p>x</p>")
	_, err := New(Readability, testBundles).Extract(ctx, page)
	if !errors.Is(err, ErrExtractionFailed) || !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want ErrExtractionFailed wrapping context.Canceled", err)
	}
}

func TestLoadBundles(t *testing.T) {
	dir := t.TempDir()
	rPath := filepath.Join(dir, "readability.js")
	if err := os.WriteFile(rPath, []byte(readabilityBundle), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := LoadBundles(rPath, "")
	if err != nil {
		t.Fatalf("LoadBundles() error = %v", err)
	}
	if b.Readability != readabilityBundle || b.DomDistiller != "" {
		t.Errorf("LoadBundles() = %+v", b)
	}

	if _, err := LoadBundles("", filepath.Join(dir, "missing.js")); err == nil {
		t.Error("expected error for missing bundle")
	}

	empty := filepath.Join(dir, "empty.js")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadBundles(empty, ""); err == nil {
		t.Error("expected error for empty bundle")
	}
}
