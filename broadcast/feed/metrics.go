package feed

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/nadimpalla570/myazan-app/internal/otel"
)

var (
	announcementsStarted metric.Int64Counter
	announcementsEnded   metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("broadcast.feed", intotel.PrefixCoordinator)

	f.Int64Counter(&announcementsStarted, "announcements.started",
		metric.WithDescription("De-duplicated session-started callbacks fired"))

	f.Int64Counter(&announcementsEnded, "announcements.ended",
		metric.WithDescription("De-duplicated session-ended callbacks fired"))
}
