package journal

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// HasEntry reports whether a command with the given key was journaled.
func (r *Repository) HasEntry(ctx context.Context, key uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Entry{}).
		Where("idempotency_key = ?", key).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ForAccount returns the journal entries touching an account, oldest first.
func (r *Repository) ForAccount(ctx context.Context, accountID uuid.UUID) ([]Entry, error) {
	var entries []Entry
	err := r.db.WithContext(ctx).
		Where("account_id_from = ? OR account_id_to = ?", accountID, accountID).
		Order("sequence_id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
