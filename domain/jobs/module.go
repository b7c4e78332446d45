package jobs

import "go.uber.org/fx"

// Module provides the job orchestration core
var Module = fx.Module("jobs",
	fx.Provide(
		NewRepository,
		NewCapacityMonitor,
		NewDispatcher,
		NewAggregator,
		NewService,
		NewHandler,
		NewWorkerHandler,
	),
)
