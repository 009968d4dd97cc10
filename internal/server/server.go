// Package server exposes the distill pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/jmylchreest/distill/internal/logger"
	"github.com/jmylchreest/distill/internal/version"
	"github.com/jmylchreest/distill/pkg/browser"
	"github.com/jmylchreest/distill/pkg/distill"
	"github.com/jmylchreest/distill/pkg/extractor"
)

// Options configures a Server.
type Options struct {
	APIKey       string   // Bearer token; empty disables auth
	MaxBodyBytes int64    // Request body cap for POST /distill
	CORSOrigins  []string // Empty allows any origin

	Service distill.Options
}

// Server routes HTTP requests to a distill.Service.
type Server struct {
	svc      *distill.Service
	metrics  *Metrics
	validate *validator.Validate
	opts     Options
	router   chi.Router
}

// Request is the POST /distill body.
type Request struct {
	URL            string `json:"url" validate:"required,http_url"`
	Markdown       *bool  `json:"markdown" validate:"required"`
	UseReadability *bool  `json:"useReadability,omitempty"`
}

// Choice returns the requested extractor; readability unless disabled.
func (r Request) Choice() extractor.Choice {
	if r.UseReadability == nil {
		return extractor.Readability
	}
	return extractor.ChoiceFromReadability(*r.UseReadability)
}

// Response is the POST /distill reply.
type Response struct {
	Body string `json:"body"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New creates a Server running the pipeline against provider.
func New(provider browser.Provider, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 10
	}

	m := NewMetrics()
	svcOpts := opts.Service
	svcOpts.Observer = m

	s := &Server{
		svc:      distill.New(provider, svcOpts),
		metrics:  m,
		validate: validator.New(),
		opts:     opts,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}).Handler)

	r.Get("/healthz", s.handleHealth)
	r.Get("/version", s.handleVersion)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(s.opts.APIKey))
		r.Post("/distill", s.handleDistill)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests for up to shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", shutdownTimeout)
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleDistill(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)

	var req Request
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationMessage(err)})
		return
	}

	if err := s.svc.Admit(r.Context()); err != nil {
		var capErr *distill.CapacityError
		if errors.As(err, &capErr) {
			s.metrics.Rejected()
			w.Header().Set("Retry-After", strconv.Itoa(capErr.Limits.RetryAfterSeconds()))
			writeText(w, http.StatusTooManyRequests, "The browser worker is busy")
			return
		}
		logger.Warn("capacity check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	body, err := s.svc.Distill(r.Context(), req.URL, *req.Markdown, req.Choice())
	if err != nil {
		status := statusFor(err)
		logger.Warn("distill failed", "url", req.URL, "status", status, "error", err)
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, Response{Body: body})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":   "ok",
		"provider": s.svc.Provider().Type(),
	}
	if lim, err := s.svc.Capacity(r.Context()); err == nil {
		resp["limits"] = lim
	} else {
		resp["limits_error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

// statusFor maps pipeline error kinds to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, distill.ErrNavigationFailed):
		return http.StatusBadGateway
	case errors.Is(err, distill.ErrExtractionFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, distill.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	e := verrs[0]
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fieldName(e))
	case "http_url":
		return fmt.Sprintf("%s must be an http(s) URL", fieldName(e))
	default:
		return fmt.Sprintf("%s failed validation '%s'", fieldName(e), e.Tag())
	}
}

func fieldName(e validator.FieldError) string {
	switch e.Field() {
	case "URL":
		return "url"
	case "Markdown":
		return "markdown"
	}
	return e.Field()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write response", "error", err)
	}
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

// requestLogger logs each request at debug with its status and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
