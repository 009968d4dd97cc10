// Package commands implements the CLI commands for distill.
package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/distill/internal/config"
	"github.com/jmylchreest/distill/internal/logger"
	"github.com/jmylchreest/distill/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "distill",
	Short: "Render web pages in a browser and extract their main content",
	Long: `Distill loads a page in a headless browser, extracts the main content
with Readability or DOM Distiller, and optionally converts it to Markdown
with fenced, language-tagged code blocks.

Browsers come from a provider: "local" launches Chrome on this machine,
"remote" uses a browser-rendering service. Idle sessions are reused.

Examples:
  # Print the article of a page as Markdown
  distill fetch -u "https://example.com/post" --markdown

  # Use DOM Distiller and write JSON to a file
  distill fetch -u "https://example.com/post" --extractor domdistiller \
      --format json -o post.json

  # Serve POST /distill on :8787
  distill serve

  # Show provider sessions and capacity
  distill sessions`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version.String(),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(logger.Options{
			Debug: viper.GetBool("debug"),
			Quiet: viper.GetBool("quiet"),
			JSON:  viper.GetBool("log_json"),
		})
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default $HOME/.distill.yaml)")
	flags.Bool("debug", false, "enable debug logging")
	flags.BoolP("quiet", "q", false, "suppress progress output")
	flags.Bool("log-json", false, "write logs as JSON")
	flags.String("provider", "", "browser provider: local, remote")
	flags.Duration("navigation-timeout", 0, "page load timeout (default 30s)")
	flags.String("readability-bundle", "", "Readability.js bundle to inject (default: in-process extraction)")
	flags.String("domdistiller-bundle", "", "DOM Distiller bundle to inject (default: in-process extraction)")

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("debug", flags.Lookup("debug"))
	_ = viper.BindPFlag("quiet", flags.Lookup("quiet"))
	_ = viper.BindPFlag("log_json", flags.Lookup("log-json"))
	_ = viper.BindPFlag("provider", flags.Lookup("provider"))
	_ = viper.BindPFlag("navigation_timeout", flags.Lookup("navigation-timeout"))
	_ = viper.BindPFlag("bundles.readability", flags.Lookup("readability-bundle"))
	_ = viper.BindPFlag("bundles.domdistiller", flags.Lookup("domdistiller-bundle"))
}

func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".distill")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			logError("reading config: %v", err)
		}
	}
}

// loadConfig returns the validated configuration for the current command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger.Debug("configuration loaded",
		"file", viper.ConfigFileUsed(),
		"provider", cfg.Provider,
		"navigation_timeout", cfg.NavigationTimeout)
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		logError("%v", err)
		return err
	}
	return nil
}

// logError prints an error message to stderr.
func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// logInfo prints an info message to stderr (unless quiet mode).
func logInfo(format string, args ...any) {
	if !viper.GetBool("quiet") {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
