package engine

import (
	"go.uber.org/zap"

	"github.com/smallbiznis/bankcore/internal/idempotency"
)

// IdempotencyStage is the first consumer. It claims each command's
// idempotency key in the in-memory cache; a key already present means the
// command is a duplicate and is marked skipped for the rest of the pipeline.
type IdempotencyStage struct {
	cache *idempotency.Cache
	log   *zap.Logger
}

func NewIdempotencyStage(cache *idempotency.Cache, log *zap.Logger) *IdempotencyStage {
	return &IdempotencyStage{
		cache: cache,
		log:   log.Named("stage.idempotency"),
	}
}

func (s *IdempotencyStage) OnEvent(ev *Event, seq int64, endOfBatch bool) {
	if !s.cache.Add(ev.Command.IdempotencyKey) {
		ev.ShouldProcess = false
		s.log.Debug("duplicate command skipped",
			zap.Stringer("idempotency_key", ev.Command.IdempotencyKey),
			zap.Int64("transaction_id", int64(ev.Command.TransactionID)),
		)
		return
	}
	key := ev.Command.IdempotencyKey
	ev.KeyToPersist = &key
}
