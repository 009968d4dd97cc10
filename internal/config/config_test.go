package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newViper(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Provider != "local" {
		t.Errorf("Provider = %q, want local", cfg.Provider)
	}
	if cfg.NavigationTimeout != 30*time.Second || cfg.ReleaseTimeout != 10*time.Second {
		t.Errorf("timeouts = %v/%v", cfg.NavigationTimeout, cfg.ReleaseTimeout)
	}
	if cfg.Local.MaxSessions != 2 || cfg.Local.KeepAlive != time.Minute {
		t.Errorf("local = %+v", cfg.Local)
	}
	if cfg.Server.Addr != ":8787" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if got := cfg.Server.MaxBodyBytes(); got != 64000 {
		t.Errorf("MaxBodyBytes() = %d, want 64000", got)
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("DISTILL_PROVIDER", "remote")
	t.Setenv("DISTILL_REMOTE_URL", "https://browser.example.com")
	t.Setenv("DISTILL_LOCAL_MAX_SESSIONS", "5")
	t.Setenv("DISTILL_NAVIGATION_TIMEOUT", "45s")
	t.Setenv("DISTILL_SERVER_MAX_BODY", "1MiB")

	cfg, err := Load(newViper(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider != "remote" || cfg.Remote.URL != "https://browser.example.com" {
		t.Errorf("provider = %q %q", cfg.Provider, cfg.Remote.URL)
	}
	if cfg.Local.MaxSessions != 5 {
		t.Errorf("Local.MaxSessions = %d", cfg.Local.MaxSessions)
	}
	if cfg.NavigationTimeout != 45*time.Second {
		t.Errorf("NavigationTimeout = %v", cfg.NavigationTimeout)
	}
	if cfg.Server.MaxBodyBytes() != 1<<20 {
		t.Errorf("MaxBodyBytes() = %d", cfg.Server.MaxBodyBytes())
	}

	rc := cfg.RemoteProvider()
	if rc.BaseURL != "https://browser.example.com" || rc.NavigationTimeout != 45*time.Second {
		t.Errorf("RemoteProvider() = %+v", rc)
	}
}

func TestServiceAPIKeyFallback(t *testing.T) {
	t.Setenv("SERVICE_API_KEY", "from-worker")

	cfg, err := Load(newViper(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.APIKey != "from-worker" {
		t.Errorf("Server.APIKey = %q, want SERVICE_API_KEY value", cfg.Server.APIKey)
	}

	t.Setenv("DISTILL_SERVER_API_KEY", "explicit")
	cfg, err = Load(newViper(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.APIKey != "explicit" {
		t.Errorf("Server.APIKey = %q, want DISTILL_SERVER_API_KEY to win", cfg.Server.APIKey)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	bundle := filepath.Join(dir, "readability.js")
	if err := os.WriteFile(bundle, []byte("var Readability;"), 0o644); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(dir, "distill.yaml")
	content := "provider: local\n" +
		"bundles:\n  readability: " + bundle + "\n" +
		"local:\n  no_sandbox: true\n  keep_alive: 2m\n" +
		"server:\n  cors_origins: [\"https://app.example.com\"]\n"
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	v := newViper(t)
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Local.NoSandbox || cfg.Local.KeepAlive != 2*time.Minute {
		t.Errorf("local = %+v", cfg.Local)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://app.example.com" {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}

	b, err := cfg.LoadBundles()
	if err != nil {
		t.Fatalf("LoadBundles() error = %v", err)
	}
	if b.Readability != "var Readability;" || b.DomDistiller != "" {
		t.Errorf("LoadBundles() = %+v", b)
	}

	lc := cfg.LocalProvider()
	if !lc.NoSandbox || lc.NavigationTimeout != 30*time.Second {
		t.Errorf("LocalProvider() = %+v", lc)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   any
		wantErr string
	}{
		{"unknown provider", "provider", "cloud", "provider must be one of [local remote]"},
		{"remote without url", "provider", "remote", "remote.url is required"},
		{"zero sessions", "local.max_sessions", 0, "local.max_sessions must be at least 1"},
		{"bad body size", "server.max_body", "lots", "server.max_body must be a size"},
		{"missing bundle", "bundles.domdistiller", "/nonexistent/dd.js", "bundles.domdistiller must be an existing file"},
		{"bad remote url", "remote.url", "not a url", "remote.url must be a valid URL"},
		{"zero navigation timeout", "navigation_timeout", "0s", "navigation_timeout must be greater than 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper(t)
			v.Set(tt.key, tt.value)

			_, err := Load(v)
			if err == nil {
				t.Fatal("Load() succeeded, want validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestSnake(t *testing.T) {
	tests := map[string]string{
		"MaxSessions":       "max_sessions",
		"NavigationTimeout": "navigation_timeout",
		"APIKey":            "api_key",
		"DomDistiller":      "domdistiller",
		"Addr":              "addr",
	}
	for in, want := range tests {
		if got := snake(in); got != want {
			t.Errorf("snake(%q) = %q, want %q", in, got, want)
		}
	}
}
