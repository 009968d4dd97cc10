package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/distill/internal/logger"
	"github.com/jmylchreest/distill/internal/output"
	"github.com/jmylchreest/distill/pkg/distill"
	"github.com/jmylchreest/distill/pkg/extractor"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Distill the main content of one or more URLs",
	Long: `Load each URL in a provider browser, extract its main content and
write it to stdout or a file.

URLs are processed one at a time. A failed URL is reported and the rest
still run; the command exits non-zero if any failed.

Examples:
  distill fetch -u "https://example.com/post"
  distill fetch -u "https://example.com/post" --markdown
  distill fetch -u https://a.example -u https://b.example --format jsonl`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	flags := fetchCmd.Flags()
	flags.StringSliceP("url", "u", nil, "URL(s) to distill (can be repeated)")
	flags.BoolP("markdown", "m", false, "convert the content to Markdown")
	flags.StringP("extractor", "e", "readability", "content extractor: readability, domdistiller")
	flags.StringP("output", "o", "", "output file (default: stdout)")
	flags.String("format", "text", "output format: text, json, jsonl, yaml")
	flags.Duration("timeout", 2*time.Minute, "overall timeout per URL")

	_ = fetchCmd.MarkFlagRequired("url")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	urls, _ := cmd.Flags().GetStringSlice("url")
	markdown, _ := cmd.Flags().GetBool("markdown")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	extractorName, _ := cmd.Flags().GetString("extractor")
	choice, err := extractor.ParseChoice(extractorName)
	if err != nil {
		return err
	}

	formatName, _ := cmd.Flags().GetString("format")
	format, err := output.ParseFormat(formatName)
	if err != nil {
		return err
	}

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

	var out io.Writer = os.Stdout
	if outPath, _ := cmd.Flags().GetString("output"); outPath != "" {
		f, err := os.Create(outPath) //#nosec G304 -- CLI tool writes to user-specified output file
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	writer, err := output.NewWriter(out, format)
	if err != nil {
		return err
	}

	svc := distill.New(provider, opts)
	var failed int
	for i, u := range urls {
		logInfo("[%d/%d] %s", i+1, len(urls), u)

		start := time.Now()
		uctx, ucancel := context.WithTimeout(ctx, timeout)
		body, err := svc.Distill(uctx, u, markdown, choice)
		ucancel()

		if err != nil {
			failed++
			logger.Error("distill failed", "url", u, "error", err)
		}
		// Plain text output carries bodies only; failures go to the log.
		if err != nil && format == output.FormatText {
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if werr := writer.Write(output.NewDocument(u, choice.String(), markdown, body, err, time.Since(start))); werr != nil {
			return fmt.Errorf("writing output: %w", werr)
		}
		if ctx.Err() != nil {
			break
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if failed > 0 {
		return errors.New(pluralFailed(failed, len(urls)))
	}
	return nil
}

func pluralFailed(failed, total int) string {
	if total == 1 {
		return "distill failed"
	}
	return fmt.Sprintf("%d of %d URLs failed", failed, total)
}
