package cleanup

import (
	"go.uber.org/fx"

	"github.com/crawlforge/crawlforge/domain/jobs"
)

// Module provides the cleanup engine
var Module = fx.Module("cleanup",
	fx.Provide(
		NewEngine,
		func(e *Engine) jobs.ChunkReclaimer { return e },
	),
)
