// Package config loads distill settings from flags, environment and an
// optional YAML file through viper, and validates them.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/jmylchreest/distill/pkg/browser/local"
	"github.com/jmylchreest/distill/pkg/browser/remote"
	"github.com/jmylchreest/distill/pkg/extractor"
)

// EnvPrefix prefixes every environment variable, e.g. DISTILL_PROVIDER.
const EnvPrefix = "DISTILL"

// Config holds all distill settings.
type Config struct {
	Provider          string        `mapstructure:"provider" validate:"oneof=local remote"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" validate:"gt=0"`
	ReleaseTimeout    time.Duration `mapstructure:"release_timeout" validate:"gt=0"`

	Bundles BundlesConfig `mapstructure:"bundles"`
	Local   LocalConfig   `mapstructure:"local"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Server  ServerConfig  `mapstructure:"server"`
}

// BundlesConfig names the JavaScript bundles for script-mode extraction.
// Unset paths select in-process extraction.
type BundlesConfig struct {
	Readability  string `mapstructure:"readability" validate:"omitempty,file"`
	DomDistiller string `mapstructure:"domdistiller" validate:"omitempty,file"`
}

// LocalConfig configures the local Chrome provider.
type LocalConfig struct {
	ChromePath   string        `mapstructure:"chrome_path"`
	AutoDownload bool          `mapstructure:"auto_download"`
	Headful      bool          `mapstructure:"headful"`
	NoSandbox    bool          `mapstructure:"no_sandbox"`
	MaxSessions  int           `mapstructure:"max_sessions" validate:"min=1"`
	KeepAlive    time.Duration `mapstructure:"keep_alive" validate:"gte=0"`
	RetryAfter   time.Duration `mapstructure:"retry_after" validate:"gt=0"`
}

// RemoteConfig configures the browser-rendering service client.
type RemoteConfig struct {
	URL         string        `mapstructure:"url" validate:"omitempty,url"`
	APIKey      string        `mapstructure:"api_key"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout" validate:"gt=0"`
	RetryAfter  time.Duration `mapstructure:"retry_after" validate:"gt=0"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Addr        string   `mapstructure:"addr" validate:"required"`
	APIKey      string   `mapstructure:"api_key"`
	MaxBody     string   `mapstructure:"max_body" validate:"bytesize"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// MaxBodyBytes returns MaxBody parsed, e.g. "64KB" -> 64000.
func (s ServerConfig) MaxBodyBytes() int64 {
	n, err := humanize.ParseBytes(s.MaxBody)
	if err != nil {
		return 0
	}
	return int64(n)
}

// SetDefaults registers defaults and environment bindings on v. Every key
// needs a default so AutomaticEnv can see it during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("provider", "local")
	v.SetDefault("navigation_timeout", 30*time.Second)
	v.SetDefault("release_timeout", 10*time.Second)

	v.SetDefault("bundles.readability", "")
	v.SetDefault("bundles.domdistiller", "")

	v.SetDefault("local.chrome_path", "")
	v.SetDefault("local.auto_download", false)
	v.SetDefault("local.headful", false)
	v.SetDefault("local.no_sandbox", false)
	v.SetDefault("local.max_sessions", 2)
	v.SetDefault("local.keep_alive", 60*time.Second)
	v.SetDefault("local.retry_after", 10*time.Second)

	v.SetDefault("remote.url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.http_timeout", 30*time.Second)
	v.SetDefault("remote.retry_after", 10*time.Second)

	v.SetDefault("server.addr", ":8787")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.max_body", "64KB")
	v.SetDefault("server.cors_origins", []string{})

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// SERVICE_API_KEY is the name deployments of the worker already use.
	_ = v.BindEnv("server.api_key", EnvPrefix+"_SERVER_API_KEY", "SERVICE_API_KEY")
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	validate := validator.New()
	_ = validate.RegisterValidation("bytesize", func(fl validator.FieldLevel) bool {
		_, err := humanize.ParseBytes(fl.Field().String())
		return err == nil
	})

	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating config: %w", err)
		}
		for _, e := range verrs {
			errs = append(errs, fmt.Errorf("%s %s", configKey(e), formatValidationError(e)))
		}
	}
	if c.Provider == "remote" && c.Remote.URL == "" {
		errs = append(errs, errors.New("remote.url is required when provider is remote"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// configKey turns a validator namespace like Config.Local.MaxSessions into
// the dotted viper key.
func configKey(e validator.FieldError) string {
	parts := strings.Split(e.StructNamespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	switch s {
	case "DomDistiller":
		return "domdistiller"
	case "CORSOrigins":
		return "cors_origins"
	case "APIKey":
		return "api_key"
	case "HTTPTimeout":
		return "http_timeout"
	case "URL":
		return "url"
	}
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", e.Param())
	case "url":
		return "must be a valid URL"
	case "file":
		return "must be an existing file"
	case "bytesize":
		return "must be a size such as 64KB"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

// LocalProvider returns the local provider settings.
func (c *Config) LocalProvider() local.Config {
	return local.Config{
		ChromePath:        c.Local.ChromePath,
		AutoDownload:      c.Local.AutoDownload,
		Headful:           c.Local.Headful,
		NoSandbox:         c.Local.NoSandbox,
		MaxSessions:       c.Local.MaxSessions,
		KeepAlive:         c.Local.KeepAlive,
		RetryAfter:        c.Local.RetryAfter,
		NavigationTimeout: c.NavigationTimeout,
	}
}

// RemoteProvider returns the remote provider settings.
func (c *Config) RemoteProvider() remote.Config {
	return remote.Config{
		BaseURL:           c.Remote.URL,
		APIKey:            c.Remote.APIKey,
		HTTPTimeout:       c.Remote.HTTPTimeout,
		NavigationTimeout: c.NavigationTimeout,
		RetryAfter:        c.Remote.RetryAfter,
	}
}

// LoadBundles reads the configured extraction bundles.
func (c *Config) LoadBundles() (extractor.Bundles, error) {
	return extractor.LoadBundles(c.Bundles.Readability, c.Bundles.DomDistiller)
}
