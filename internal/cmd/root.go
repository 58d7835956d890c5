// Package cmd defines the CLI commands for the spiderjobs executable.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spiderjobs",
		Short: "A polite, resilient crawler for job listing sites.",
		Long: `spiderjobs crawls configured job boards, extracts listings, and routes
deduplicated results to a sink (CSV, Postgres, or Kafka). Per-site rate
governors, circuit breakers, and an identity pool keep the crawl polite and
resilient to blocking.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// ExecuteContext runs the root command under the given context.
func ExecuteContext(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}
