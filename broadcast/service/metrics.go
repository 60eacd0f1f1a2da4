package service

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/nadimpalla570/myazan-app/internal/otel"
)

var (
	broadcastsStarted  metric.Int64Counter
	broadcastsEnded    metric.Int64Counter
	autoJoins          metric.Int64Counter
	activeParticipants metric.Int64UpDownCounter
	sessionDuration    metric.Float64Histogram

	sweepRuns     metric.Int64Counter
	sweepDuration metric.Float64Histogram
)

func init() {
	f := intotel.NewFactory("broadcast.service", intotel.PrefixCoordinator)

	f.Int64Counter(&broadcastsStarted, "broadcasts.started",
		metric.WithDescription("Sender broadcasts started end to end"))

	f.Int64Counter(&broadcastsEnded, "broadcasts.ended",
		metric.WithDescription("Broadcasts ended through the service"))

	f.Int64Counter(&autoJoins, "receiver.auto_joins",
		metric.WithDescription("Receiver auto-joins triggered by announcements"))

	f.Int64UpDownCounter(&activeParticipants, "participants.active",
		metric.WithDescription("Participant records currently attached"))

	f.Float64Histogram(&sessionDuration, "participants.session_duration",
		metric.WithDescription("Joined duration per participant in seconds"),
		metric.WithUnit("s"))

	f.Int64Counter(&sweepRuns, "housekeeping.runs",
		metric.WithDescription("Stale-session sweeps executed"))

	f.Float64Histogram(&sweepDuration, "housekeeping.duration",
		metric.WithDescription("Duration of stale-session sweeps in seconds"),
		metric.WithUnit("s"))
}
