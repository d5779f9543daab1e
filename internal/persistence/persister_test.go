package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/smallbiznis/bankcore/internal/account/domain"
	"github.com/smallbiznis/bankcore/internal/clock"
	"github.com/smallbiznis/bankcore/internal/command"
	"github.com/smallbiznis/bankcore/internal/engine"
	"github.com/smallbiznis/bankcore/internal/idempotency"
	"github.com/smallbiznis/bankcore/internal/journal"
	outboxdomain "github.com/smallbiznis/bankcore/internal/outbox/domain"
	outboxrepo "github.com/smallbiznis/bankcore/internal/outbox/repository"
)

type fixture struct {
	persister *BatchPersister
	outbox    outboxdomain.Repository
	db        *gorm.DB
	node      *snowflake.Node
	clock     *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, gdb.AutoMigrate(
		&domain.Account{},
		&outboxdomain.Entry{},
		&outboxdomain.DeadLetter{},
		&idempotency.ProcessedTransaction{},
		&journal.Entry{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	return &fixture{
		persister: New(gdb, clk, zap.NewNop()),
		outbox:    outboxrepo.New(gdb, zap.NewNop(), clk),
		db:        gdb,
		node:      node,
		clock:     clk,
	}
}

func TestPersistBatchWritesEverythingTogether(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acc := domain.New(uuid.New(), decimal.NewFromInt(150))
	cmd := command.NewDeposit(f.node, uuid.New(), acc.ID, decimal.NewFromInt(50))
	_, err := f.outbox.Save(ctx, cmd)
	require.NoError(t, err)

	uow := engine.NewUnitOfWork()
	uow.KeysToInsert = append(uow.KeysToInsert, cmd.IdempotencyKey)
	uow.Journal = append(uow.Journal, cmd)
	uow.Accounts[acc.ID] = acc
	uow.RemoveKeys = append(uow.RemoveKeys, cmd.IdempotencyKey)

	require.NoError(t, f.persister.PersistBatch(ctx, uow))

	var key idempotency.ProcessedTransaction
	require.NoError(t, f.db.First(&key, "idempotency_key = ?", cmd.IdempotencyKey).Error)

	var entry journal.Entry
	require.NoError(t, f.db.First(&entry, "idempotency_key = ?", cmd.IdempotencyKey).Error)
	assert.Equal(t, string(command.ActionDeposit), entry.CommandType)
	assert.Equal(t, acc.ID, entry.AccountIDFrom)

	var stored domain.Account
	require.NoError(t, f.db.First(&stored, "id = ?", acc.ID).Error)
	assert.True(t, stored.Balance.Equal(decimal.NewFromInt(150)))

	staged, err := f.outbox.HasEntry(ctx, cmd.IdempotencyKey)
	require.NoError(t, err)
	assert.False(t, staged)
}

func TestPersistBatchUpsertsExistingAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acc := domain.New(uuid.New(), decimal.NewFromInt(100))
	require.NoError(t, f.db.Create(acc).Error)

	updated := acc.Clone()
	require.NoError(t, updated.Deposit(decimal.NewFromInt(25)))

	uow := engine.NewUnitOfWork()
	uow.Accounts[updated.ID] = updated
	require.NoError(t, f.persister.PersistBatch(ctx, uow))

	var stored domain.Account
	require.NoError(t, f.db.First(&stored, "id = ?", acc.ID).Error)
	assert.True(t, stored.Balance.Equal(decimal.NewFromInt(125)))
}

func TestPersistBatchMovesDeadLetters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd := command.NewWithdraw(f.node, uuid.New(), uuid.New(), decimal.NewFromInt(10))
	_, err := f.outbox.Save(ctx, cmd)
	require.NoError(t, err)

	uow := engine.NewUnitOfWork()
	uow.KeysToInsert = append(uow.KeysToInsert, cmd.IdempotencyKey)
	uow.DeadLetters[cmd.IdempotencyKey] = "insufficient funds"
	require.NoError(t, f.persister.PersistBatch(ctx, uow))

	var dl outboxdomain.DeadLetter
	require.NoError(t, f.db.First(&dl, "idempotency_key = ?", cmd.IdempotencyKey).Error)
	assert.Equal(t, "insufficient funds", dl.Reason)

	staged, err := f.outbox.HasEntry(ctx, cmd.IdempotencyKey)
	require.NoError(t, err)
	assert.False(t, staged)

	// The key is durable even though the command was rejected.
	var key idempotency.ProcessedTransaction
	require.NoError(t, f.db.First(&key, "idempotency_key = ?", cmd.IdempotencyKey).Error)
}

func TestPersistBatchMissingOutboxRowIsTolerated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A dead letter whose outbox row is already gone, for example deleted
	// by a previous flush. The rest of the unit of work still applies.
	uow := engine.NewUnitOfWork()
	uow.DeadLetters[uuid.New()] = "whatever"
	key := uuid.New()
	uow.KeysToInsert = append(uow.KeysToInsert, key)

	require.NoError(t, f.persister.PersistBatch(ctx, uow))

	var stored idempotency.ProcessedTransaction
	require.NoError(t, f.db.First(&stored, "idempotency_key = ?", key).Error)
}

func TestPersistBatchEmptyIsNoop(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.persister.PersistBatch(context.Background(), engine.NewUnitOfWork()))
}

func TestPersistBatchIdempotentOnReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acc := domain.New(uuid.New(), decimal.NewFromInt(10))
	cmd := command.NewDeposit(f.node, uuid.New(), acc.ID, decimal.NewFromInt(10))

	uow := engine.NewUnitOfWork()
	uow.KeysToInsert = append(uow.KeysToInsert, cmd.IdempotencyKey)
	uow.Journal = append(uow.Journal, cmd)
	uow.Accounts[acc.ID] = acc

	require.NoError(t, f.persister.PersistBatch(ctx, uow))
	// Replaying the identical unit of work must not duplicate rows.
	require.NoError(t, f.persister.PersistBatch(ctx, uow))

	var keys int64
	require.NoError(t, f.db.Model(&idempotency.ProcessedTransaction{}).Count(&keys).Error)
	assert.Equal(t, int64(1), keys)

	var entries int64
	require.NoError(t, f.db.Model(&journal.Entry{}).Count(&entries).Error)
	assert.Equal(t, int64(1), entries)
}
