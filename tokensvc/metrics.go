package tokensvc

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/nadimpalla570/myazan-app/internal/otel"
)

var (
	issuesTotal       metric.Int64Counter
	issuesRateLimited metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("tokensvc", intotel.PrefixTokenSvc)

	f.Int64Counter(&issuesTotal, "credentials.issued",
		metric.WithDescription("Channel credentials issued"))

	f.Int64Counter(&issuesRateLimited, "credentials.rate_limited",
		metric.WithDescription("Credential requests rejected by the per-identity rate limit"))
}
