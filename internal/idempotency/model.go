package idempotency

import (
	"time"

	"github.com/google/uuid"
)

// ProcessedTransaction is the durable copy of one cache entry.
type ProcessedTransaction struct {
	IdempotencyKey uuid.UUID `gorm:"type:uuid;primaryKey" json:"idempotency_key"`
	ProcessedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"processed_at"`
}

func (ProcessedTransaction) TableName() string { return "processed_transactions" }
