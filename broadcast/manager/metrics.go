package manager

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/nadimpalla570/myazan-app/internal/otel"
)

var (
	sessionsStarted      metric.Int64Counter
	sessionsRejected     metric.Int64Counter
	sessionsEnded        metric.Int64Counter
	sessionsReclaimed    metric.Int64Counter
	collisionCheckErrors metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("broadcast.manager", intotel.PrefixCoordinator)

	f.Int64Counter(&sessionsStarted, "sessions.started",
		metric.WithDescription("Total broadcast sessions started"))

	f.Int64Counter(&sessionsRejected, "sessions.rejected",
		metric.WithDescription("Session starts rejected by the collision check"))

	f.Int64Counter(&sessionsEnded, "sessions.ended",
		metric.WithDescription("Total broadcast sessions ended explicitly"))

	f.Int64Counter(&sessionsReclaimed, "sessions.reclaimed",
		metric.WithDescription("Stale sessions reclaimed by the sweep"))

	f.Int64Counter(&collisionCheckErrors, "collision_check.errors",
		metric.WithDescription("Collision checks that failed open due to store errors"))
}
