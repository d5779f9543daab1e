package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/smallbiznis/bankcore/internal/clock"
	"github.com/smallbiznis/bankcore/internal/idempotency"
	"github.com/smallbiznis/bankcore/internal/observability/metrics"
)

// PersistenceStage is the final consumer. It folds each event into the
// current unit of work and flushes the whole window in one database
// transaction at end of batch.
type PersistenceStage struct {
	persister  Persister
	replicator Replicator
	cache      *idempotency.Cache
	metrics    *metrics.Metrics
	clock      clock.Clock
	log        *zap.Logger

	uow *UnitOfWork
}

func NewPersistenceStage(
	persister Persister,
	replicator Replicator,
	cache *idempotency.Cache,
	m *metrics.Metrics,
	clk clock.Clock,
	log *zap.Logger,
) *PersistenceStage {
	return &PersistenceStage{
		persister:  persister,
		replicator: replicator,
		cache:      cache,
		metrics:    m,
		clock:      clk,
		log:        log.Named("stage.persistence"),
		uow:        NewUnitOfWork(),
	}
}

func (s *PersistenceStage) OnEvent(ev *Event, seq int64, endOfBatch bool) {
	s.collect(ev)
	if endOfBatch {
		s.flush()
	}
}

func (s *PersistenceStage) collect(ev *Event) {
	cmd := &ev.Command
	key := cmd.IdempotencyKey

	switch {
	case !ev.ShouldProcess:
		// Duplicate. Its outbox row, if one still exists, is spent.
		s.uow.RemoveKeys = append(s.uow.RemoveKeys, key)
		s.metrics.IncProcessed(string(cmd.Action), metrics.OutcomeDuplicate)
		return
	case ev.Err != nil:
		// Rejected. The key still becomes durable so replays of the
		// same command stay rejected without re-evaluation.
		if ev.KeyToPersist != nil {
			s.uow.KeysToInsert = append(s.uow.KeysToInsert, *ev.KeyToPersist)
		}
		s.uow.DeadLetters[key] = ev.Err.Error()
		s.metrics.IncProcessed(string(cmd.Action), metrics.OutcomeRejected)
		return
	}

	if ev.KeyToPersist != nil {
		s.uow.KeysToInsert = append(s.uow.KeysToInsert, *ev.KeyToPersist)
	}
	s.uow.Journal = append(s.uow.Journal, *cmd)
	for _, acc := range ev.ModifiedAccounts {
		s.uow.Accounts[acc.ID] = acc
	}
	s.uow.RemoveKeys = append(s.uow.RemoveKeys, key)
	s.metrics.IncProcessed(string(cmd.Action), metrics.OutcomeApplied)
}

func (s *PersistenceStage) flush() {
	if s.uow.Empty() {
		return
	}
	uow := s.uow
	s.uow = NewUnitOfWork()

	ctx := context.Background()
	start := s.clock.Now()
	err := s.persister.PersistBatch(ctx, uow)
	s.metrics.ObserveFlush(s.clock.Now().Sub(start))

	if err != nil {
		// The transaction rolled back, so nothing from this window is
		// durable. Evict the claimed keys; the outbox rows stay
		// PROCESSING and startup recovery will replay them.
		for _, key := range uow.KeysToInsert {
			s.cache.Remove(key)
		}
		s.metrics.IncFlushFailure()
		s.log.Error("flush failed, window discarded",
			zap.Int("journal_entries", len(uow.Journal)),
			zap.Int("keys", len(uow.KeysToInsert)),
			zap.Error(err),
		)
		return
	}

	if err := s.replicator.Replicate(ctx, uow); err != nil {
		s.log.Warn("replication failed", zap.Error(err))
	}

	s.log.Debug("window flushed",
		zap.Int("journal_entries", len(uow.Journal)),
		zap.Int("dead_letters", len(uow.DeadLetters)),
	)
}
