package taskqueue

import (
	"go.uber.org/fx"
)

// Module provides the durable task queue
var Module = fx.Module("taskqueue",
	fx.Provide(
		NewPGQueue,
		func(q *PGQueue) Queue { return q },
	),
)
