package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/smallbiznis/bankcore/internal/clock"
	"github.com/smallbiznis/bankcore/internal/command"
	outboxdomain "github.com/smallbiznis/bankcore/internal/outbox/domain"
	"github.com/smallbiznis/bankcore/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func New(gdb *gorm.DB, log *zap.Logger, clk clock.Clock) outboxdomain.Repository {
	return &Repository{
		db:    gdb,
		log:   log.Named("outbox.repository"),
		clock: clk,
	}
}

func (r *Repository) Save(ctx context.Context, cmd command.Command) (bool, error) {
	payload, err := cmd.Encode()
	if err != nil {
		return false, fmt.Errorf("encode command %s: %w", cmd.TransactionID, err)
	}

	entry := outboxdomain.Entry{
		IdempotencyKey: cmd.IdempotencyKey,
		TransactionID:  cmd.TransactionID,
		Payload:        payload,
		Status:         outboxdomain.StatusPending,
		CreatedAt:      r.clock.Now(),
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entry)
	if result.Error != nil {
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		r.log.Debug("duplicate submission ignored", zap.String("idempotency_key", cmd.IdempotencyKey.String()))
		return false, nil
	}
	return true, nil
}

func (r *Repository) FetchAndLockBatch(ctx context.Context, n int) ([]command.Command, error) {
	var entries []outboxdomain.Entry

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ?", outboxdomain.StatusPending).
			Order("created_at ASC").
			Limit(n)
		// sqlite has no row locks; its single-writer model covers the claim.
		if tx.Dialector.Name() != "sqlite" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&entries).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		keys := make([]uuid.UUID, 0, len(entries))
		for _, e := range entries {
			keys = append(keys, e.IdempotencyKey)
		}
		return tx.Model(&outboxdomain.Entry{}).
			Where("idempotency_key IN ?", keys).
			Update("status", outboxdomain.StatusProcessing).Error
	})
	if err != nil {
		return nil, err
	}

	commands := make([]command.Command, 0, len(entries))
	for _, e := range entries {
		cmd, err := command.Decode(e.Payload)
		if err != nil {
			// A row that cannot be decoded would wedge the queue; park it in
			// the DLQ instead of failing the whole fetch.
			r.log.Error("undecodable outbox payload",
				zap.String("idempotency_key", e.IdempotencyKey.String()),
				zap.Error(err),
			)
			if dlqErr := r.MoveToDeadLetter(ctx, e.IdempotencyKey, "undecodable payload: "+err.Error()); dlqErr != nil {
				r.log.Error("failed to dead-letter undecodable row", zap.Error(dlqErr))
			}
			continue
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, key uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		Delete(&outboxdomain.Entry{}).Error
}

func (r *Repository) MoveToDeadLetter(ctx context.Context, key uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry outboxdomain.Entry
		if err := tx.First(&entry, "idempotency_key = ?", key).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				// Already processed or moved by someone else.
				return nil
			}
			return err
		}

		dl := outboxdomain.DeadLetter{
			ID:             entry.TransactionID,
			IdempotencyKey: entry.IdempotencyKey,
			Payload:        entry.Payload,
			Reason:         reason,
			MovedAt:        r.clock.Now(),
		}
		if err := tx.Create(&dl).Error; err != nil {
			return err
		}
		return tx.Where("idempotency_key = ?", key).Delete(&outboxdomain.Entry{}).Error
	})
}

func (r *Repository) IncrementFailureCount(ctx context.Context, key uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&outboxdomain.Entry{}).
		Where("idempotency_key = ?", key).
		UpdateColumn("failure_count", gorm.Expr("failure_count + 1")).Error
}

func (r *Repository) GetFailureCount(ctx context.Context, key uuid.UUID) (int, error) {
	var count int
	err := r.db.WithContext(ctx).
		Model(&outboxdomain.Entry{}).
		Where("idempotency_key = ?", key).
		Select("failure_count").
		Limit(1).
		Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *Repository) HasEntry(ctx context.Context, key uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&outboxdomain.Entry{}).
		Where("idempotency_key = ?", key).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Repository) HasDeadLetter(ctx context.Context, key uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&outboxdomain.DeadLetter{}).
		Where("idempotency_key = ?", key).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Repository) ResetStuckProcessing(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&outboxdomain.Entry{}).
		Where("status = ?", outboxdomain.StatusProcessing).
		Update("status", outboxdomain.StatusPending)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		r.log.Info("crash recovery: reset stuck transactions to PENDING",
			zap.Int64("count", result.RowsAffected),
		)
	}
	return result.RowsAffected, nil
}
