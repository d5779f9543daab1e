package persistence

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smallbiznis/bankcore/internal/clock"
	"github.com/smallbiznis/bankcore/internal/engine"
	"github.com/smallbiznis/bankcore/internal/idempotency"
	"github.com/smallbiznis/bankcore/internal/journal"
	outboxdomain "github.com/smallbiznis/bankcore/internal/outbox/domain"
)

// BatchPersister writes a whole unit of work in a single transaction:
// processed keys, journal entries, account snapshots, dead letters and the
// deletion of spent outbox rows commit or roll back together.
type BatchPersister struct {
	db    *gorm.DB
	clock clock.Clock
	log   *zap.Logger
}

func New(db *gorm.DB, clk clock.Clock, log *zap.Logger) *BatchPersister {
	return &BatchPersister{
		db:    db,
		clock: clk,
		log:   log.Named("persister"),
	}
}

func (p *BatchPersister) PersistBatch(ctx context.Context, uow *engine.UnitOfWork) error {
	if uow.Empty() {
		return nil
	}
	now := p.clock.Now()

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(uow.KeysToInsert) > 0 {
			rows := make([]idempotency.ProcessedTransaction, 0, len(uow.KeysToInsert))
			for _, key := range uow.KeysToInsert {
				rows = append(rows, idempotency.ProcessedTransaction{
					IdempotencyKey: key,
					ProcessedAt:    now,
				})
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&rows).Error; err != nil {
				return err
			}
		}

		if len(uow.Journal) > 0 {
			entries := make([]journal.Entry, 0, len(uow.Journal))
			for _, cmd := range uow.Journal {
				entries = append(entries, journal.Entry{
					IdempotencyKey: cmd.IdempotencyKey,
					TransactionID:  cmd.TransactionID,
					Timestamp:      now,
					CommandType:    string(cmd.Action),
					AccountIDFrom:  cmd.AccountID,
					AccountIDTo:    cmd.TargetAccountID,
					Amount:         cmd.Amount,
				})
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&entries).Error; err != nil {
				return err
			}
		}

		for _, acc := range uow.Accounts {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).
				Create(acc).Error; err != nil {
				return err
			}
		}

		for key, reason := range uow.DeadLetters {
			var entry outboxdomain.Entry
			err := tx.Where("idempotency_key = ?", key).First(&entry).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			dl := outboxdomain.DeadLetter{
				ID:             entry.TransactionID,
				IdempotencyKey: entry.IdempotencyKey,
				Payload:        entry.Payload,
				Reason:         reason,
				MovedAt:        now,
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&dl).Error; err != nil {
				return err
			}
			if err := tx.Delete(&outboxdomain.Entry{}, "idempotency_key = ?", key).Error; err != nil {
				return err
			}
		}

		if len(uow.RemoveKeys) > 0 {
			if err := tx.Delete(&outboxdomain.Entry{}, "idempotency_key IN ?", uow.RemoveKeys).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
