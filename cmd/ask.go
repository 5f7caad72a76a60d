package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lectern-ai/lectern/internal/app"
	"github.com/lectern-ai/lectern/internal/config"
)

var askSession string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a one-shot question from the terminal",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd, strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "", "session id for a follow-up question")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, query string) error {
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

	var sessionID uuid.UUID
	if askSession == "" {
		sessionID = a.Sessions.NewID()
	} else if sessionID, err = uuid.Parse(askSession); err != nil {
		return fmt.Errorf("parsing session id: %w", err)
	}

	answer, err := a.Chat.Answer(ctx, sessionID, query)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, answer.Text)
	if len(answer.Sources) > 0 {
		fmt.Fprintln(out, "\nSources:")
		for _, s := range answer.Sources {
			if s.Link != "" {
				fmt.Fprintf(out, "  - %s (%s)\n", s.Label, s.Link)
			} else {
				fmt.Fprintf(out, "  - %s\n", s.Label)
			}
		}
	}
	fmt.Fprintf(out, "\nSession: %s\n", sessionID)
	return nil
}
