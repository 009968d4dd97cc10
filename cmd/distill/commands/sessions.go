package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/distill/internal/output"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List provider sessions and capacity",
	Long: `Show the browser sessions the provider knows about, whether each is
idle or claimed, and how many more acquisitions it currently allows.

Most useful with the remote provider; a fresh local provider has no
sessions until it launches one.`,
	RunE: runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.Flags().String("format", "text", "output format: text, json, yaml")
}

func runSessions(cmd *cobra.Command, args []string) error {
	formatName, _ := cmd.Flags().GetString("format")
	format, err := output.ParseFormat(formatName)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = provider.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	sessions, err := provider.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	limits, err := provider.Limits(ctx)
	if err != nil {
		return fmt.Errorf("reading limits: %w", err)
	}

	writer, err := output.NewWriter(os.Stdout, format)
	if err != nil {
		return err
	}
	if err := writer.Write(output.SessionReport{
		Provider: provider.Type(),
		Sessions: sessions,
		Limits:   limits,
	}); err != nil {
		return err
	}
	return writer.Close()
}
