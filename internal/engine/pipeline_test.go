package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/bankcore/internal/account/domain"
	"github.com/smallbiznis/bankcore/internal/account/state"
	"github.com/smallbiznis/bankcore/internal/clock"
	"github.com/smallbiznis/bankcore/internal/command"
	"github.com/smallbiznis/bankcore/internal/config"
	"github.com/smallbiznis/bankcore/internal/idempotency"
)

// memPersister records flushed units of work and can be told to fail.
type memPersister struct {
	mu       sync.Mutex
	uows     []*UnitOfWork
	failures int
}

func (p *memPersister) PersistBatch(ctx context.Context, uow *UnitOfWork) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("simulated flush failure")
	}
	p.uows = append(p.uows, uow)
	return nil
}

func (p *memPersister) keysPersisted() map[uuid.UUID]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[uuid.UUID]int)
	for _, uow := range p.uows {
		for _, k := range uow.KeysToInsert {
			out[k]++
		}
	}
	return out
}

func (p *memPersister) journaled() []command.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []command.Command
	for _, uow := range p.uows {
		out = append(out, uow.Journal...)
	}
	return out
}

func (p *memPersister) deadLetters() map[uuid.UUID]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[uuid.UUID]string)
	for _, uow := range p.uows {
		for k, reason := range uow.DeadLetters {
			out[k] = reason
		}
	}
	return out
}

type pipelineFixture struct {
	pipeline  *Pipeline
	state     *state.Store
	cache     *idempotency.Cache
	persister *memPersister
	node      *snowflake.Node
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	holder, err := config.NewStaticEngineConfigHolder(config.EngineConfig{
		RingSize:           64,
		WaitStrategy:       "blocking",
		PollBatchSize:      64,
		EmptyPark:          time.Millisecond,
		ErrorBackoff:       time.Millisecond,
		MaxPublishFailures: 3,
	})
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &pipelineFixture{
		state:     state.NewStore(),
		cache:     idempotency.NewCache(),
		persister: &memPersister{},
		node:      node,
	}
	f.pipeline = NewPipeline(PipelineParams{
		Holder:     holder,
		State:      f.state,
		Cache:      f.cache,
		Persister:  f.persister,
		Replicator: NoopReplicator{},
		Clock:      clock.NewSystemClock(),
		Logger:     zap.NewNop(),
	})
	f.pipeline.Start()
	return f
}

func (f *pipelineFixture) addAccount(t *testing.T, balance int64) uuid.UUID {
	t.Helper()
	acc := domain.New(uuid.New(), decimal.NewFromInt(balance))
	f.state.CreateOrUpdate(acc)
	return acc.ID
}

func (f *pipelineFixture) balance(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	acc, err := f.state.Get(id)
	require.NoError(t, err)
	return acc.Balance
}

func TestPipelineAppliesDeposit(t *testing.T) {
	f := newPipelineFixture(t)
	accID := f.addAccount(t, 100)

	cmd := command.NewDeposit(f.node, uuid.New(), accID, decimal.NewFromInt(50))
	require.NoError(t, f.pipeline.Publish([]command.Command{cmd}))
	f.pipeline.Close()

	assert.True(t, f.balance(t, accID).Equal(decimal.NewFromInt(150)))
	assert.Len(t, f.persister.journaled(), 1)
	assert.Equal(t, 1, f.persister.keysPersisted()[cmd.IdempotencyKey])
}

func TestPipelineDuplicateKeyAppliesOnce(t *testing.T) {
	f := newPipelineFixture(t)
	accID := f.addAccount(t, 100)
	key := uuid.New()

	// Same logical request enqueued twice, distinct transaction ids.
	first := command.NewDeposit(f.node, key, accID, decimal.NewFromInt(50))
	second := command.NewDeposit(f.node, key, accID, decimal.NewFromInt(50))
	require.NoError(t, f.pipeline.Publish([]command.Command{first, second}))
	f.pipeline.Close()

	assert.True(t, f.balance(t, accID).Equal(decimal.NewFromInt(150)))
	assert.Len(t, f.persister.journaled(), 1)
	assert.Equal(t, 1, f.persister.keysPersisted()[key])
}

func TestPipelineDuplicateAcrossBatches(t *testing.T) {
	f := newPipelineFixture(t)
	accID := f.addAccount(t, 0)
	key := uuid.New()

	for i := 0; i < 5; i++ {
		cmd := command.NewDeposit(f.node, key, accID, decimal.NewFromInt(10))
		require.NoError(t, f.pipeline.Publish([]command.Command{cmd}))
	}
	f.pipeline.Close()

	assert.True(t, f.balance(t, accID).Equal(decimal.NewFromInt(10)))
	assert.Len(t, f.persister.journaled(), 1)
}

func TestPipelineRejectionGoesToDeadLetters(t *testing.T) {
	f := newPipelineFixture(t)
	accID := f.addAccount(t, 10)

	cmd := command.NewWithdraw(f.node, uuid.New(), accID, decimal.NewFromInt(100))
	require.NoError(t, f.pipeline.Publish([]command.Command{cmd}))
	f.pipeline.Close()

	assert.True(t, f.balance(t, accID).Equal(decimal.NewFromInt(10)))
	assert.Empty(t, f.persister.journaled())

	dead := f.persister.deadLetters()
	require.Contains(t, dead, cmd.IdempotencyKey)
	assert.Contains(t, dead[cmd.IdempotencyKey], "insufficient funds")

	// The key is still durable so a replay stays rejected without a
	// second evaluation.
	assert.Equal(t, 1, f.persister.keysPersisted()[cmd.IdempotencyKey])
}

func TestPipelineUnknownAccountRejected(t *testing.T) {
	f := newPipelineFixture(t)

	cmd := command.NewDeposit(f.node, uuid.New(), uuid.New(), decimal.NewFromInt(1))
	require.NoError(t, f.pipeline.Publish([]command.Command{cmd}))
	f.pipeline.Close()

	dead := f.persister.deadLetters()
	require.Contains(t, dead, cmd.IdempotencyKey)
	assert.Contains(t, dead[cmd.IdempotencyKey], "not found")
}

func TestPipelineTransferMovesMoneyAtomically(t *testing.T) {
	f := newPipelineFixture(t)
	a := f.addAccount(t, 100)
	b := f.addAccount(t, 20)

	cmd := command.NewTransfer(f.node, uuid.New(), a, b, decimal.NewFromInt(30))
	require.NoError(t, f.pipeline.Publish([]command.Command{cmd}))
	f.pipeline.Close()

	assert.True(t, f.balance(t, a).Equal(decimal.NewFromInt(70)))
	assert.True(t, f.balance(t, b).Equal(decimal.NewFromInt(50)))
}

func TestPipelineRejectedTransferLeavesBothUntouched(t *testing.T) {
	f := newPipelineFixture(t)
	a := f.addAccount(t, 100)
	b := f.addAccount(t, 20)

	frozen, err := f.state.Get(b)
	require.NoError(t, err)
	fb := frozen.Clone()
	require.NoError(t, fb.Freeze())
	f.state.CreateOrUpdate(fb)

	cmd := command.NewTransfer(f.node, uuid.New(), a, b, decimal.NewFromInt(30))
	require.NoError(t, f.pipeline.Publish([]command.Command{cmd}))
	f.pipeline.Close()

	assert.True(t, f.balance(t, a).Equal(decimal.NewFromInt(100)))
	assert.True(t, f.balance(t, b).Equal(decimal.NewFromInt(20)))
	assert.Contains(t, f.persister.deadLetters(), cmd.IdempotencyKey)
}

func TestPipelineConservationUnderContention(t *testing.T) {
	f := newPipelineFixture(t)
	a := f.addAccount(t, 5000)
	b := f.addAccount(t, 5000)

	// Opposing one-unit transfer streams from concurrent producers, the
	// same number in each direction, so both accounts must converge back
	// to their starting balance once everything drains.
	const producers = 8
	const perProducer = 1250

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				from, to := a, b
				if (p+i)%2 == 0 {
					from, to = b, a
				}
				cmd := command.NewTransfer(f.node, uuid.New(), from, to, decimal.NewFromInt(1))
				if err := f.pipeline.Publish([]command.Command{cmd}); err != nil {
					t.Error(err)
					return
				}
			}
		}(p)
	}
	wg.Wait()
	f.pipeline.Close()

	assert.Empty(t, f.persister.deadLetters())
	assert.True(t, f.balance(t, a).Equal(decimal.NewFromInt(5000)), "a drifted to %s", f.balance(t, a))
	assert.True(t, f.balance(t, b).Equal(decimal.NewFromInt(5000)), "b drifted to %s", f.balance(t, b))
}

func TestPipelineFanOutConservation(t *testing.T) {
	f := newPipelineFixture(t)

	const senders = 20
	const receivers = 20
	const transfersEach = 500

	senderIDs := make([]uuid.UUID, senders)
	for i := range senderIDs {
		senderIDs[i] = f.addAccount(t, transfersEach)
	}
	receiverIDs := make([]uuid.UUID, receivers)
	for i := range receiverIDs {
		receiverIDs[i] = f.addAccount(t, 0)
	}

	// Every sender drains its whole balance one unit at a time, fanned
	// across all receivers from a concurrent producer per sender.
	var wg sync.WaitGroup
	for s, from := range senderIDs {
		wg.Add(1)
		go func(s int, from uuid.UUID) {
			defer wg.Done()
			for i := 0; i < transfersEach; i++ {
				to := receiverIDs[(s+i)%receivers]
				cmd := command.NewTransfer(f.node, uuid.New(), from, to, decimal.NewFromInt(1))
				if err := f.pipeline.Publish([]command.Command{cmd}); err != nil {
					t.Error(err)
					return
				}
			}
		}(s, from)
	}
	wg.Wait()
	f.pipeline.Close()

	assert.Empty(t, f.persister.deadLetters())

	total := decimal.Zero
	for _, id := range senderIDs {
		assert.True(t, f.balance(t, id).IsZero(), "sender %s left with %s", id, f.balance(t, id))
		total = total.Add(f.balance(t, id))
	}
	for _, id := range receiverIDs {
		total = total.Add(f.balance(t, id))
	}
	assert.True(t, total.Equal(decimal.NewFromInt(senders*transfersEach)))
}

func TestPipelineCacheStaysBoundedAcrossClearCycles(t *testing.T) {
	f := newPipelineFixture(t)
	accID := f.addAccount(t, 0)

	const cycles = 5
	const perCycle = 50

	for c := 0; c < cycles; c++ {
		for i := 0; i < perCycle; i++ {
			cmd := command.NewDeposit(f.node, uuid.New(), accID, decimal.NewFromInt(1))
			require.NoError(t, f.pipeline.Publish([]command.Command{cmd}))
		}
		published := f.pipeline.Published()
		require.Eventually(t, func() bool {
			return f.pipeline.Cursor(StagePersistence) >= published
		}, 5*time.Second, time.Millisecond)

		// Operator-style reset between cycles: the key set never grows
		// past one cycle's worth.
		assert.Equal(t, perCycle, f.cache.Len())
		f.cache.Clear()
	}
	f.pipeline.Close()

	assert.True(t, f.balance(t, accID).Equal(decimal.NewFromInt(cycles*perCycle)))
}

func TestPipelineFlushFailureEvictsClaimedKeys(t *testing.T) {
	f := newPipelineFixture(t)
	accID := f.addAccount(t, 0)
	f.persister.failures = 1

	key := uuid.New()
	first := command.NewDeposit(f.node, key, accID, decimal.NewFromInt(10))
	require.NoError(t, f.pipeline.Publish([]command.Command{first}))

	// Wait for the failed flush to evict the key, then replay. The replay
	// must be processed as a fresh command, not skipped as a duplicate.
	require.Eventually(t, func() bool {
		return !f.cache.Contains(key)
	}, 2*time.Second, time.Millisecond)

	retry := command.NewDeposit(f.node, key, accID, decimal.NewFromInt(10))
	require.NoError(t, f.pipeline.Publish([]command.Command{retry}))
	f.pipeline.Close()

	assert.Equal(t, 1, f.persister.keysPersisted()[key])
	assert.Len(t, f.persister.journaled(), 1)
}
