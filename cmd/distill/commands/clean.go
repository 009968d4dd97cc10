package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/distill/internal/logger"
	"github.com/jmylchreest/distill/pkg/cleaner"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [file]",
	Short: "Extract and convert saved HTML without a browser",
	Long: `Run the in-process extractors and Markdown converter over HTML read from
a file or stdin. Useful for testing extraction on saved pages.

Examples:
  distill clean page.html --markdown
  curl -s https://example.com | distill clean --extractor domdistiller
  distill clean page.html --extractor none --markdown`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)

	flags := cleanCmd.Flags()
	flags.StringP("extractor", "e", "readability", "content extractor: readability, domdistiller, none")
	flags.BoolP("markdown", "m", false, "convert the content to Markdown")
	flags.String("base-url", "", "page URL, for resolving relative links")
	flags.StringP("output", "o", "", "output file (default: stdout)")
}

func runClean(cmd *cobra.Command, args []string) error {
	var in io.Reader = os.Stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		in = f
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	name, _ := cmd.Flags().GetString("extractor")
	markdown, _ := cmd.Flags().GetBool("markdown")
	baseURL, _ := cmd.Flags().GetString("base-url")

	c, err := buildCleaner(name, markdown, baseURL)
	if err != nil {
		return err
	}

	result, err := c.Clean(string(data))
	if err != nil {
		return err
	}
	logger.Debug("cleaned content",
		"cleaner", c.Name(),
		"input", humanize.Bytes(uint64(len(data))),
		"output", humanize.Bytes(uint64(len(result))))

	out := cmd.OutOrStdout()
	if outPath, _ := cmd.Flags().GetString("output"); outPath != "" {
		f, err := os.Create(outPath) //#nosec G304 -- CLI tool writes to user-specified output file
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}
	_, err = io.WriteString(out, result)
	return err
}

// buildCleaner chains the chosen extractor with the optional converter.
func buildCleaner(extractorName string, markdown bool, baseURL string) (cleaner.Cleaner, error) {
	var first cleaner.Cleaner
	switch extractorName {
	case "readability", "":
		cfg := cleaner.DefaultReadabilityConfig()
		cfg.BaseURL = baseURL
		first = cleaner.NewReadability(cfg)
	case "domdistiller", "dom-distiller":
		first = cleaner.NewDomDistiller(baseURL)
	case "none":
		first = cleaner.NewPassthrough()
	default:
		return nil, fmt.Errorf("unknown extractor %q", extractorName)
	}

	if !markdown {
		return first, nil
	}
	var opts []cleaner.MarkdownOption
	if baseURL != "" {
		opts = append(opts, cleaner.WithDomain(baseURL))
	}
	return cleaner.NewChain(first, cleaner.NewMarkdown(opts...)), nil
}
