package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/neoclaw-ai/herald/internal/channels"
	"github.com/neoclaw-ai/herald/internal/logging"
	"github.com/spf13/cobra"
)

func newConsoleCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Run dialogs against a local terminal chat",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadValidConfig()
			if err != nil {
				return err
			}

			b := newBroker(cfg)
			listener := channels.NewConsole(channels.ConsoleOptions{
				In:          cmd.InOrStdin(),
				Out:         cmd.OutOrStdout(),
				Broker:      b,
				UserID:      userID,
				HistoryFile: cfg.ConsoleHistoryPath(),
			})
			a, err := newApp(cfg, b, listener)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := a.start(runCtx); err != nil {
				return err
			}

			listenErr := listener.Listen(runCtx, a.dispatcher)

			// Let commands typed before /quit answer before shutdown cancels them.
			if err := a.drain(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Logger().Warn("console commands still running at exit", "err", err)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.shutdown(shutdownCtx); err != nil {
				return errors.Join(listenErr, err)
			}
			return listenErr
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID the console speaks as")

	return cmd
}
