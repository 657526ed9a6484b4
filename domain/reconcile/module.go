package reconcile

import "go.uber.org/fx"

// Module provides the reconciliation store.
var Module = fx.Module("reconcile",
	fx.Provide(NewStore),
)
