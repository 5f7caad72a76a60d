package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lectern-ai/lectern/internal/app"
	"github.com/lectern-ai/lectern/internal/config"
)

var (
	ingestDir   string
	ingestClear bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index course transcripts from a directory",
	Long: `Ingest parses every *.txt transcript in the courses directory, chunks
the lesson text, embeds the chunks, and stores them in the retrieval index.
Re-ingesting a course with the same title replaces it wholesale.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "transcript directory (overrides configuration)")
	ingestCmd.Flags().BoolVar(&ingestClear, "clear", false, "remove all indexed courses first")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(false)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	dir := ingestDir
	if dir == "" {
		dir = cfg.CoursesDir
	}

	summary, err := a.Ingestor.AddCoursesFromDir(ctx, dir, ingestClear)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", dir, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d courses (%d chunks), skipped %d documents\n",
		summary.Courses, summary.Chunks, summary.Skipped)
	return nil
}
