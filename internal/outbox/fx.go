package outbox

import (
	"github.com/smallbiznis/bankcore/internal/outbox/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("outbox",
	fx.Provide(repository.New),
)
