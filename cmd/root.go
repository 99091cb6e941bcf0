// Package cmd holds the CLI entry points.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "0.3.0"

	cfgPath string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:     "agenthub",
	Short:   "AI agent hub: points ledger, message exchange and channel bridges",
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Optional .env for local development; real deployments set env
		// directly.
		_ = godotenv.Load()
		setupLogging()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "agenthub.json5", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
