package webhooks

import (
	"go.uber.org/fx"
)

// Module provides the webhook outbox
var Module = fx.Module("webhooks",
	fx.Provide(
		NewOutboxDispatcher,
		func(d *OutboxDispatcher) Dispatcher { return d },
	),
)
