package persistence

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/bankcore/internal/engine"
)

var Module = fx.Module("persistence",
	fx.Provide(
		fx.Annotate(New, fx.As(new(engine.Persister))),
	),
)
