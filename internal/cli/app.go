package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neoclaw-ai/herald/internal/broker"
	"github.com/neoclaw-ai/herald/internal/chat"
	"github.com/neoclaw-ai/herald/internal/commands"
	"github.com/neoclaw-ai/herald/internal/config"
	"github.com/neoclaw-ai/herald/internal/dialog"
	"github.com/neoclaw-ai/herald/internal/runtime"
	"github.com/neoclaw-ai/herald/internal/scheduler"
)

const (
	shutdownTimeout      = 5 * time.Second
	dispatchDrainTimeout = 5 * time.Second
)

// app holds the long-lived services shared by `start` and `console`.
type app struct {
	broker     *broker.Broker
	router     *commands.Router
	dispatcher *runtime.Dispatcher
	scheduler  *scheduler.Service

	cancel context.CancelFunc
}

func newBroker(cfg *config.Config) *broker.Broker {
	return broker.New(broker.Options{
		MessageTimeout:   cfg.Interaction.MessageTimeout,
		ReactionTimeout:  cfg.Interaction.ReactionTimeout,
		ComponentTimeout: cfg.Interaction.ComponentTimeout,
	})
}

// newApp composes the command pipeline on top of b and the transport that
// renders dialogs.
func newApp(cfg *config.Config, b *broker.Broker, transport chat.Transport) (*app, error) {
	canceler := &dispatcherCanceler{}
	router := commands.New(commands.Options{
		Broker:    b,
		Transport: transport,
		Timeouts: dialog.Timeouts{
			Message:   cfg.Interaction.MessageTimeout,
			Reaction:  cfg.Interaction.ReactionTimeout,
			Component: cfg.Interaction.ComponentTimeout,
		},
		Cleanup:      cfg.Dialog.Cleanup,
		BlockedChats: cfg.Dialog.BlockedChats,
		Canceler:     canceler,
	})
	dispatcher := runtime.NewDispatcher(router, cfg.Dialog.QueueSize, cfg.Dialog.MaxConcurrent)
	canceler.dispatcher = dispatcher

	service := scheduler.NewService()
	if schedule := strings.TrimSpace(cfg.Scheduler.StatsSchedule); schedule != "" {
		if err := service.AddJob(scheduler.BrokerStatsJobName, schedule, scheduler.BrokerStatsJob(b)); err != nil {
			return nil, fmt.Errorf("register %s job: %w", scheduler.BrokerStatsJobName, err)
		}
	}

	return &app{
		broker:     b,
		router:     router,
		dispatcher: dispatcher,
		scheduler:  service,
	}, nil
}

// start launches the broker loops, the dispatcher, and the scheduler.
func (a *app) start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.broker.Start(runCtx)
	if err := a.dispatcher.Start(runCtx); err != nil {
		cancel()
		a.broker.Shutdown()
		return err
	}
	if err := a.scheduler.Start(runCtx); err != nil {
		_ = a.shutdown(context.Background())
		return err
	}
	return nil
}

// drain waits for queued and running commands before shutdown cancels them.
func (a *app) drain(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, dispatchDrainTimeout)
	defer cancel()
	return a.dispatcher.WaitUntilIdle(drainCtx)
}

// shutdown stops in dependency order: commands first so their dialogs see
// cancellation, then housekeeping, then the broker fails whatever still waits.
func (a *app) shutdown(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.dispatcher.Stop()
	a.dispatcher.Wait()
	err := a.scheduler.Stop(ctx)
	a.broker.Shutdown()
	return err
}

// dispatcherCanceler breaks the construction cycle between the router, which
// cancels through the dispatcher, and the dispatcher, which runs the router.
type dispatcherCanceler struct {
	dispatcher *runtime.Dispatcher
}

func (c *dispatcherCanceler) CancelUser(ctx context.Context, userID string) int {
	if c.dispatcher == nil {
		return 0
	}
	return c.dispatcher.CancelUser(ctx, userID)
}
