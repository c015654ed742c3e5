package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/katerpii/issue-agent/internal/app"
	"github.com/katerpii/issue-agent/internal/config"
	"github.com/katerpii/issue-agent/internal/logging"
)

var (
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "issueagent",
	Short: "issueagent finds problem reports across developer sources",
	Long: `issueagent fans keyword queries out to search sources (google, reddit,
github, rss feeds, configured sites), reduces the findings through staged
filters with model-based relevance scoring, and delivers daily digests for
stored subscriptions.

Run a one-off search with "query", manage stored searches with "sub", or
start the scheduler daemon with "run".`,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file (overrides "+config.EnvConfig+")")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(subCmd)
	rootCmd.AddCommand(runCmd)
}

// newApplication loads the configuration and assembles the services. The
// caller owns the returned application and must Close it.
func newApplication(ctx context.Context) (*app.Application, error) {
	if configPath != "" {
		os.Setenv(config.EnvConfig, configPath)
	}
	cfg := config.Load()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	return app.New(ctx, cfg, logger)
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
