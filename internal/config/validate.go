package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validatable is implemented by config sections that can self-validate.
type Validatable interface {
	Validate() error
}

type ValidationReport struct {
	Warnings []string
}

// Validate checks required channel fields when the channel is enabled.
func (c ChannelConfig) Validate() error {
	if c.PollTimeout < 0 {
		return errors.New("poll_timeout must be >= 0")
	}
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("token is required when enabled=true")
	}
	return nil
}

// Validate requires every wait window to be positive.
func (c InteractionConfig) Validate() error {
	var errs []error
	if c.MessageTimeout <= 0 {
		errs = append(errs, errors.New("message_timeout must be > 0"))
	}
	if c.ReactionTimeout <= 0 {
		errs = append(errs, errors.New("reaction_timeout must be > 0"))
	}
	if c.ComponentTimeout <= 0 {
		errs = append(errs, errors.New("component_timeout must be > 0"))
	}
	return errors.Join(errs...)
}

func (c DialogConfig) Validate() error {
	var errs []error
	if c.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("max_concurrent must be > 0"))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, errors.New("queue_size must be > 0"))
	}
	return errors.Join(errs...)
}

// Validate checks that the stats schedule parses as a cron spec.
func (c SchedulerConfig) Validate() error {
	if strings.TrimSpace(c.StatsSchedule) == "" {
		return nil
	}
	if _, err := cron.ParseStandard(c.StatsSchedule); err != nil {
		return fmt.Errorf("stats_schedule: %w", err)
	}
	return nil
}

// ValidateStartup validates startup configuration and returns warning messages.
func ValidateStartup(cfg *Config) (*ValidationReport, error) {
	var errs []error
	report := &ValidationReport{}

	if len(cfg.Channels) == 0 {
		errs = append(errs, errors.New("at least one channels.* entry is required"))
	}
	if err := cfg.Interaction.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("interaction: %w", err))
	}
	if err := cfg.Dialog.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("dialog: %w", err))
	}
	if err := cfg.Scheduler.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}

	enabled := 0
	for name, chCfg := range cfg.Channels {
		if err := chCfg.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("channels.%s: %w", name, err))
		}
		if chCfg.Enabled {
			enabled++
		}
	}
	if len(cfg.Channels) > 0 && enabled == 0 {
		report.Warnings = append(report.Warnings, "no channel is enabled; only `herald console` can run dialogs")
	}
	if len(cfg.Dialog.BlockedChats) > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("dialogs are blocked in %d chat(s)", len(cfg.Dialog.BlockedChats)))
	}

	if len(errs) > 0 {
		return report, errors.Join(errs...)
	}
	return report, nil
}
