package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/neoclaw-ai/herald/internal/channels"
	"github.com/neoclaw-ai/herald/internal/config"
	"github.com/neoclaw-ai/herald/internal/logging"
	"github.com/spf13/cobra"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the Telegram bot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadValidConfig()
			if err != nil {
				return err
			}

			telegram := cfg.TelegramChannel()
			if !telegram.Enabled {
				return errors.New("channels.telegram is disabled; enable it or use `herald console`")
			}
			if strings.TrimSpace(telegram.Token) == "" {
				return errors.New("channels.telegram.token is required")
			}

			logging.Logger().Info(
				"starting server",
				"home_dir", cfg.HomeDir,
				"max_concurrent", cfg.Dialog.MaxConcurrent,
				"cleanup", cfg.Dialog.Cleanup,
			)

			b := newBroker(cfg)
			listener := channels.NewTelegram(channels.TelegramOptions{
				Token:       telegram.Token,
				PollTimeout: telegram.PollTimeout,
				Broker:      b,
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

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.shutdown(shutdownCtx); err != nil {
				return errors.Join(listenErr, err)
			}
			if listenErr != nil {
				return listenErr
			}
			logging.Logger().Info("server stopped")
			return nil
		},
	}
}

// loadValidConfig loads config, fails on validation errors, and logs warnings.
func loadValidConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	report, err := config.ValidateStartup(cfg)
	if err != nil {
		return nil, err
	}
	warnStartupConditions(cfg, report)
	return cfg, nil
}
