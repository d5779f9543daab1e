package idempotency

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

// LoadKeys returns every durably processed key, used to warm the cache at
// startup.
func (r *Repository) LoadKeys(ctx context.Context) ([]uuid.UUID, error) {
	var keys []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&ProcessedTransaction{}).
		Pluck("idempotency_key", &keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}
