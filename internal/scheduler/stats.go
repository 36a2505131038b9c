package scheduler

import (
	"context"

	"github.com/neoclaw-ai/herald/internal/broker"
	"github.com/neoclaw-ai/herald/internal/logging"
)

// BrokerStatsJobName is the name the broker stats report is registered under.
const BrokerStatsJobName = "broker-stats"

// StatsSource reports outstanding broker waits.
type StatsSource interface {
	Stats() broker.Stats
}

// BrokerStatsJob logs pending waits and sessions. Quiet ticks log at debug.
func BrokerStatsJob(source StatsSource) JobFunc {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats := source.Stats()
		log := logging.Logger().Info
		if stats.PendingMessages+stats.PendingReactions+stats.Sessions+stats.Queued == 0 {
			log = logging.Logger().Debug
		}
		log(
			"broker stats",
			"pending_messages", stats.PendingMessages,
			"pending_reactions", stats.PendingReactions,
			"sessions", stats.Sessions,
			"queued", stats.Queued,
		)
		return nil
	}
}
