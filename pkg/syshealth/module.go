package syshealth

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the system health monitor.
var Module = fx.Module("syshealth",
	fx.Provide(
		NewConfig,
		NewMonitor,
	),
	fx.Invoke(RegisterMonitorLifecycle),
)

// RegisterMonitorLifecycle runs the monitor with the app.
func RegisterMonitorLifecycle(lc fx.Lifecycle, m Monitor, cfg *Config) {
	if !cfg.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return m.Start(ctx) },
		OnStop:  func(ctx context.Context) error { return m.Stop(ctx) },
	})
}
