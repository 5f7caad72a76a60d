// Package cmd implements the lectern command line interface.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lectern-ai/lectern/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "lectern",
	Short: "Lectern answers questions about course transcripts",
	Long: `Lectern indexes course transcripts into a vector store and answers
questions about them through provider-driven tool calls.

Typical workflow:

  lectern ingest --dir ./docs     index transcripts
  lectern serve                   run the HTTP API
  lectern ask "what is chunking?" one-shot question from the terminal`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var verbose bool

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// newLogger builds the process logger from the verbose flag. Server output
// is JSON; interactive commands log human-readable text to stderr.
func newLogger(json bool) log.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return log.NewWithWriter(os.Stderr, log.Config{Level: level, JSON: json})
}
