package account

import (
	"github.com/smallbiznis/bankcore/internal/account/repository"
	"github.com/smallbiznis/bankcore/internal/account/state"
	"go.uber.org/fx"
)

var Module = fx.Module("account",
	fx.Provide(
		repository.New,
		state.NewStore,
	),
)
