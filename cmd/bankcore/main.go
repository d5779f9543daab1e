package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/bankcore/internal/account"
	"github.com/smallbiznis/bankcore/internal/bootstrap"
	"github.com/smallbiznis/bankcore/internal/clock"
	"github.com/smallbiznis/bankcore/internal/config"
	"github.com/smallbiznis/bankcore/internal/engine"
	"github.com/smallbiznis/bankcore/internal/idempotency"
	"github.com/smallbiznis/bankcore/internal/journal"
	"github.com/smallbiznis/bankcore/internal/logger"
	"github.com/smallbiznis/bankcore/internal/observability"
	"github.com/smallbiznis/bankcore/internal/outbox"
	"github.com/smallbiznis/bankcore/internal/persistence"
	"github.com/smallbiznis/bankcore/internal/poller"
	"github.com/smallbiznis/bankcore/internal/server"
	"github.com/smallbiznis/bankcore/internal/service"
	"github.com/smallbiznis/bankcore/pkg/db"
)

func newSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func main() {
	fx.New(
		config.Module,
		logger.Module,
		clock.Module,
		db.Module,
		observability.Module,
		fx.Provide(newSnowflakeNode),
		account.Module,
		outbox.Module,
		idempotency.Module,
		journal.Module,
		engine.Module,
		persistence.Module,
		poller.Module,
		service.Module,
		server.Module,
		bootstrap.Module,
	).Run()
}
