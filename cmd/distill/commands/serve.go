package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/distill/internal/logger"
	"github.com/jmylchreest/distill/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the distill HTTP API",
	Long: `Serve POST /distill, plus /healthz, /version and /metrics.

Request:  {"url": "https://example.com", "markdown": true, "useReadability": true}
Response: {"body": "..."}

When server.api_key (or SERVICE_API_KEY) is set, requests to /distill need
"Authorization: Bearer <key>". Requests are rejected with 429 and a
Retry-After header while the provider is at capacity.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.String("addr", "", "listen address (default :8787)")
	flags.Duration("shutdown-timeout", 30*time.Second, "time allowed for in-flight requests on shutdown")

	_ = viper.BindPFlag("server.addr", flags.Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts, err := serviceOptions(cfg)
	if err != nil {
		return err
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Close(); err != nil {
			logger.Warn("failed to close provider", "error", err)
		}
	}()

	if cfg.Server.APIKey == "" {
		logger.Warn("no API key configured, /distill is unauthenticated")
	}

	srv := server.New(provider, server.Options{
		APIKey:       cfg.Server.APIKey,
		MaxBodyBytes: cfg.Server.MaxBodyBytes(),
		CORSOrigins:  cfg.Server.CORSOrigins,
		Service:      opts,
	})

	shutdown, _ := cmd.Flags().GetDuration("shutdown-timeout")
	return srv.ListenAndServe(ctx, cfg.Server.Addr, shutdown)
}
