// Package health serves liveness, readiness and operational metrics.
package health

import (
	"go.uber.org/fx"
)

var Module = fx.Module("health",
	fx.Provide(
		NewHandler,
		NewMetricsHandler,
	),
	fx.Invoke(RegisterRoutes),
)
