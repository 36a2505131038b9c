package cli

import (
	"github.com/neoclaw-ai/herald/internal/config"
	"github.com/neoclaw-ai/herald/internal/logging"
)

// Emit startup warnings derived from non-fatal config conditions.
func warnStartupConditions(cfg *config.Config, report *config.ValidationReport) {
	if report != nil {
		for _, warning := range report.Warnings {
			logging.Logger().Warn(warning)
		}
	}
	if cfg == nil {
		return
	}

	if cfg.Dialog.MaxConcurrent == 1 {
		logging.Logger().Warn("dialog.max_concurrent is 1; a dialog waiting for input blocks every other command")
	}
	if cfg.Scheduler.StatsSchedule == "" {
		logging.Logger().Info("scheduler.stats_schedule is empty; broker stats will not be logged")
	}
}
