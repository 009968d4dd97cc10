package commands

import (
	"fmt"

	"github.com/jmylchreest/distill/internal/config"
	"github.com/jmylchreest/distill/internal/logger"
	"github.com/jmylchreest/distill/pkg/browser"
	"github.com/jmylchreest/distill/pkg/browser/local"
	"github.com/jmylchreest/distill/pkg/browser/remote"
	"github.com/jmylchreest/distill/pkg/distill"
)

// newProvider builds the configured browser provider. The caller closes it.
func newProvider(cfg *config.Config) (browser.Provider, error) {
	switch cfg.Provider {
	case "remote":
		logger.Debug("using remote browser provider", "url", cfg.Remote.URL)
		return remote.New(cfg.RemoteProvider())
	case "local", "":
		p, err := local.New(cfg.LocalProvider())
		if err != nil {
			return nil, fmt.Errorf("starting local provider: %w", err)
		}
		logger.Debug("using local browser provider", "max_sessions", cfg.Local.MaxSessions)
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// serviceOptions maps config onto pipeline options.
func serviceOptions(cfg *config.Config) (distill.Options, error) {
	bundles, err := cfg.LoadBundles()
	if err != nil {
		return distill.Options{}, err
	}
	return distill.Options{
		Bundles:        bundles,
		ReleaseTimeout: cfg.ReleaseTimeout,
	}, nil
}
