package credential

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/nadimpalla570/myazan-app/internal/otel"
)

var (
	renewalAttempts metric.Int64Counter
	renewalSuccess  metric.Int64Counter
	renewalFailures metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("credential", intotel.PrefixCoordinator)

	f.Int64Counter(&renewalAttempts, "renewal.attempts",
		metric.WithDescription("Credential renewals triggered by expiry warnings"))

	f.Int64Counter(&renewalSuccess, "renewal.success",
		metric.WithDescription("Credential renewals fetched and installed"))

	f.Int64Counter(&renewalFailures, "renewal.failures",
		metric.WithDescription("Credential renewals that failed to fetch or install"))
}
