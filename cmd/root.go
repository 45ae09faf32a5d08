package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var logLevel string // Log verbosity level, parsed by each subcommand

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "apisentinel",
	Short: "Online detector for API misuse and impending failure",
	Long: `apisentinel ingests HTTP request observations, aggregates them into
per-source behavioral windows, scores each completed window with a hybrid
rule/model ensemble and serves the resulting detections over a control API
and a websocket event bus.`,
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
}
