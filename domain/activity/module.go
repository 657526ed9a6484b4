package activity

import (
	"go.uber.org/fx"
)

// Module provides the audit log domain
var Module = fx.Module("activity",
	fx.Provide(NewRepository),
	fx.Provide(NewService),
	fx.Provide(func(s *Service) Recorder { return s }),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)
