package bootstrap

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/bankcore/internal/account/domain"
	accountrepo "github.com/smallbiznis/bankcore/internal/account/repository"
	"github.com/smallbiznis/bankcore/internal/account/state"
	"github.com/smallbiznis/bankcore/internal/engine"
	"github.com/smallbiznis/bankcore/internal/idempotency"
	"github.com/smallbiznis/bankcore/internal/journal"
	outboxdomain "github.com/smallbiznis/bankcore/internal/outbox/domain"
	"github.com/smallbiznis/bankcore/internal/poller"
)

// Params collects everything startup needs to bring the node to a consistent
// state before the first poll.
type Params struct {
	fx.In

	DB       *gorm.DB
	Outbox   outboxdomain.Repository
	Keys     *idempotency.Repository
	Cache    *idempotency.Cache
	Accounts *accountrepo.Repository
	State    *state.Store
	Pipeline *engine.Pipeline
	Poller   *poller.Poller
	Logger   *zap.Logger
}

// Register runs recovery and starts the pipeline and poller in dependency
// order. Recovery must finish before the poller's first fetch: stuck
// PROCESSING rows go back to PENDING, and the idempotency cache is warmed so
// their replay cannot double-apply.
func Register(lc fx.Lifecycle, p Params) {
	log := p.Logger.Named("bootstrap")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := migrate(p.DB); err != nil {
				return err
			}

			reset, err := p.Outbox.ResetStuckProcessing(ctx)
			if err != nil {
				return err
			}

			keys, err := p.Keys.LoadKeys(ctx)
			if err != nil {
				return err
			}
			p.Cache.Warm(keys)

			accounts, err := p.Accounts.FindAll(ctx)
			if err != nil {
				return err
			}
			p.State.LoadAll(accounts)

			p.Pipeline.Start()
			p.Poller.Start()

			log.Info("node ready",
				zap.Int64("recovered_rows", reset),
				zap.Int("warmed_keys", len(keys)),
				zap.Int("accounts", len(accounts)),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// Poller first so nothing publishes into a closing ring.
			p.Poller.Stop()
			p.Pipeline.Close()
			return nil
		},
	})
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Account{},
		&outboxdomain.Entry{},
		&outboxdomain.DeadLetter{},
		&idempotency.ProcessedTransaction{},
		&journal.Entry{},
	)
}

var Module = fx.Module("bootstrap",
	fx.Invoke(Register),
)
