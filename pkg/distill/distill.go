// Package distill runs the page-to-content pipeline: acquire a browser,
// load the page, extract its main content, and optionally convert it to
// Markdown. The browser handle is released exactly once on every path.
package distill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/distill/internal/logger"
	"github.com/jmylchreest/distill/pkg/browser"
	"github.com/jmylchreest/distill/pkg/cleaner"
	"github.com/jmylchreest/distill/pkg/extractor"
	"github.com/jmylchreest/distill/pkg/session"
)

// Error kinds returned by Distill. Match them with errors.Is.
var (
	ErrProviderUnavailable = session.ErrProviderUnavailable
	ErrNavigationFailed    = errors.New("navigation failed")
	ErrExtractionFailed    = extractor.ErrExtractionFailed
	ErrConversionFailed    = cleaner.ErrConversionFailed
	ErrCapacityExceeded    = errors.New("browser capacity exceeded")
)

// CapacityError reports that the provider allows no further acquisitions.
type CapacityError struct {
	Limits browser.Limits
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: %d of %d sessions active, retry after %s",
		ErrCapacityExceeded, e.Limits.ActiveSessions, e.Limits.MaxConcurrentSessions, e.Limits.RetryAfter)
}

// Is makes errors.Is(err, ErrCapacityExceeded) match.
func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

// RetryAfter is the provider's hint for when to try again.
func (e *CapacityError) RetryAfter() time.Duration {
	return e.Limits.RetryAfter
}

// Options configures a Service.
type Options struct {
	// Bundles are the extraction scripts; empty fields use native extraction.
	Bundles extractor.Bundles

	// ReleaseTimeout bounds closing the browser handle (default 10s). Release
	// runs even after the request context is cancelled.
	ReleaseTimeout time.Duration

	// Acquirer picks sessions. Nil uses the default random acquirer.
	Acquirer *session.Acquirer

	// Observer, when set, is told about each acquisition and finished request.
	Observer Observer

	// Converter turns extracted HTML into Markdown. Nil uses
	// cleaner.NewMarkdown(), which leaves link targets as the page wrote them.
	Converter cleaner.Cleaner
}

// Observer receives pipeline events, e.g. for metrics.
type Observer interface {
	Acquired(reused bool)
	Finished(choice extractor.Choice, markdown bool, err error, elapsed time.Duration)
}

// Service runs the pipeline against one provider. It holds no per-request
// state and is safe for concurrent use.
type Service struct {
	provider   browser.Provider
	extractors *extractor.Set
	acquirer   *session.Acquirer
	release    time.Duration
	observer   Observer
	converter  cleaner.Cleaner
}

// New creates a Service.
func New(provider browser.Provider, opts Options) *Service {
	if opts.ReleaseTimeout <= 0 {
		opts.ReleaseTimeout = 10 * time.Second
	}
	if opts.Acquirer == nil {
		opts.Acquirer = &session.Acquirer{}
	}
	if opts.Converter == nil {
		opts.Converter = cleaner.NewMarkdown()
	}
	return &Service{
		provider:   provider,
		extractors: extractor.NewSet(opts.Bundles),
		acquirer:   opts.Acquirer,
		release:    opts.ReleaseTimeout,
		observer:   opts.Observer,
		converter:  opts.Converter,
	}
}

// Distill runs the pipeline once with default options.
func Distill(ctx context.Context, provider browser.Provider, url string, markdown bool, choice extractor.Choice) (string, error) {
	return New(provider, Options{}).Distill(ctx, url, markdown, choice)
}

// Distill loads url in a provider browser and returns its main content as
// HTML, or as Markdown when markdown is set.
func (s *Service) Distill(ctx context.Context, url string, markdown bool, choice extractor.Choice) (out string, err error) {
	start := time.Now()
	log := logger.With("url", url, "extractor", choice.String(), "markdown", markdown)

	defer func() {
		if s.observer != nil {
			s.observer.Finished(choice, markdown, err, time.Since(start))
		}
	}()

	acq, err := s.acquirer.Acquire(ctx, s.provider)
	if err != nil {
		return "", err
	}
	if s.observer != nil {
		s.observer.Acquired(acq.Reused)
	}
	b := acq.Browser
	log = log.With("session", b.SessionID(), "reused", acq.Reused)

	defer s.releaseBrowser(ctx, b, log)

	page, err := b.NewPage(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: opening page: %w", ErrNavigationFailed, err)
	}

	log.Debug("navigating")
	if err := page.Navigate(ctx, url); err != nil {
		return "", fmt.Errorf("%w: %w", ErrNavigationFailed, err)
	}

	frag, err := s.extractors.Extract(ctx, page, choice)
	if err != nil {
		return "", err
	}
	log.Debug("extracted content",
		"mode", frag.Mode,
		"title", frag.Title,
		"text_length", frag.TextLength,
		"links", frag.Links,
		"images", frag.Images)

	if !markdown {
		return frag.HTML, nil
	}

	md, err := s.converter.Clean(frag.HTML)
	if err != nil {
		if !errors.Is(err, ErrConversionFailed) {
			err = fmt.Errorf("%w: %w", ErrConversionFailed, err)
		}
		return "", err
	}
	log.Debug("converted to markdown", "size", len(md), "elapsed", time.Since(start))
	return md, nil
}

// releaseBrowser closes b on a context that survives cancellation of ctx.
// Close errors are logged and never replace the pipeline result.
func (s *Service) releaseBrowser(ctx context.Context, b browser.Browser, log *slog.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.release)
	defer cancel()

	if err := b.Close(rctx); err != nil {
		log.Warn("failed to release browser", "error", err)
		return
	}
	log.Debug("released browser")
}

// Capacity reports the provider's current limits.
func (s *Service) Capacity(ctx context.Context) (browser.Limits, error) {
	return s.provider.Limits(ctx)
}

// Admit returns a *CapacityError when the provider allows no further
// acquisitions. Distill never calls it; callers gate requests with it.
func (s *Service) Admit(ctx context.Context) error {
	lim, err := s.Capacity(ctx)
	if err != nil {
		return fmt.Errorf("%w: reading limits: %w", ErrProviderUnavailable, err)
	}
	if lim.AllowedAcquisitions < 1 {
		return &CapacityError{Limits: lim}
	}
	return nil
}

// Provider returns the provider the service runs against.
func (s *Service) Provider() browser.Provider {
	return s.provider
}
