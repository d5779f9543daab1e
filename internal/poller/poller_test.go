package poller

import (
	"context"
	"sync"
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
	"github.com/smallbiznis/bankcore/internal/account/state"
	"github.com/smallbiznis/bankcore/internal/clock"
	"github.com/smallbiznis/bankcore/internal/command"
	"github.com/smallbiznis/bankcore/internal/config"
	"github.com/smallbiznis/bankcore/internal/engine"
	"github.com/smallbiznis/bankcore/internal/idempotency"
	outboxdomain "github.com/smallbiznis/bankcore/internal/outbox/domain"
	outboxrepo "github.com/smallbiznis/bankcore/internal/outbox/repository"
)

type memPersister struct {
	mu   sync.Mutex
	uows []*engine.UnitOfWork
}

func (p *memPersister) PersistBatch(ctx context.Context, uow *engine.UnitOfWork) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uows = append(p.uows, uow)
	return nil
}

func (p *memPersister) journaledCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, uow := range p.uows {
		n += len(uow.Journal)
	}
	return n
}

type fixture struct {
	poller    *Poller
	pipeline  *engine.Pipeline
	repo      outboxdomain.Repository
	state     *state.Store
	persister *memPersister
	node      *snowflake.Node
}

func newFixture(t *testing.T, cfg config.EngineConfig) *fixture {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, gdb.AutoMigrate(&outboxdomain.Entry{}, &outboxdomain.DeadLetter{}))

	holder, err := config.NewStaticEngineConfigHolder(cfg)
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		repo:      outboxrepo.New(gdb, zap.NewNop(), clock.NewSystemClock()),
		state:     state.NewStore(),
		persister: &memPersister{},
		node:      node,
	}
	f.pipeline = engine.NewPipeline(engine.PipelineParams{
		Holder:     holder,
		State:      f.state,
		Cache:      idempotency.NewCache(),
		Persister:  f.persister,
		Replicator: engine.NoopReplicator{},
		Clock:      clock.NewSystemClock(),
		Logger:     zap.NewNop(),
	})
	f.poller = New(f.repo, f.pipeline, holder, nil, zap.NewNop())
	return f
}

func defaultTestConfig() config.EngineConfig {
	return config.EngineConfig{
		RingSize:           64,
		WaitStrategy:       "blocking",
		PollBatchSize:      16,
		EmptyPark:          time.Millisecond,
		ErrorBackoff:       time.Millisecond,
		MaxPublishFailures: 3,
	}
}

func TestPollerDrivesOutboxThroughPipeline(t *testing.T) {
	f := newFixture(t, defaultTestConfig())
	ctx := context.Background()

	acc := domain.New(uuid.New(), decimal.NewFromInt(0))
	f.state.CreateOrUpdate(acc)

	const n = 5
	for i := 0; i < n; i++ {
		cmd := command.NewDeposit(f.node, uuid.New(), acc.ID, decimal.NewFromInt(1))
		accepted, err := f.repo.Save(ctx, cmd)
		require.NoError(t, err)
		require.True(t, accepted)
	}

	f.pipeline.Start()
	f.poller.Start()
	defer func() {
		f.poller.Stop()
		f.pipeline.Close()
	}()

	require.Eventually(t, func() bool {
		return f.persister.journaledCount() == n
	}, 5*time.Second, 5*time.Millisecond)

	got, err := f.state.Get(acc.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(n)))
}

func TestPollerStopJoinsLoop(t *testing.T) {
	f := newFixture(t, defaultTestConfig())

	f.pipeline.Start()
	f.poller.Start()
	f.poller.Stop()
	f.pipeline.Close()

	// A second stop is a no-op, not a panic or a hang.
	f.poller.Stop()
}

func TestPollerStopWithoutStart(t *testing.T) {
	f := newFixture(t, defaultTestConfig())
	f.poller.Stop()
}

func TestPublishFailureDeadLettersAfterMaxAttempts(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.RingSize = 2
	cfg.PollBatchSize = 2
	f := newFixture(t, cfg)
	ctx := context.Background()

	cmds := make([]command.Command, 0, 3)
	for i := 0; i < 3; i++ {
		cmd := command.NewDeposit(f.node, uuid.New(), uuid.New(), decimal.NewFromInt(1))
		_, err := f.repo.Save(ctx, cmd)
		require.NoError(t, err)
		cmds = append(cmds, cmd)
	}

	// Three commands cannot fit a ring of two, so the publish fails and
	// each row's failure count reaches the limit immediately.
	err := f.poller.publish(ctx, cmds, 1)
	assert.ErrorIs(t, err, engine.ErrBatchTooLarge)

	for _, cmd := range cmds {
		dead, derr := f.repo.HasDeadLetter(ctx, cmd.IdempotencyKey)
		require.NoError(t, derr)
		assert.True(t, dead, "command %s not dead-lettered", cmd.IdempotencyKey)
	}
}
