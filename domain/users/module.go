package users

import (
	"go.uber.org/fx"

	"github.com/crawlforge/crawlforge/pkg/auth"
)

// Module provides the users domain
var Module = fx.Module("users",
	fx.Provide(
		NewRepository,
		func(r *Repository) auth.ProfileResolver { return r },
	),
)
