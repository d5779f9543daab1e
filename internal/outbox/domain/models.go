package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Entry statuses. PROCESSING rows belong to an in-flight pipeline batch; any
// left over after a crash are reset to PENDING at startup.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
)

// Entry is a staged command waiting to be applied. The idempotency key is the
// primary key, so a duplicate submission of the same logical request cannot
// create a second row.
type Entry struct {
	IdempotencyKey uuid.UUID      `gorm:"type:uuid;primaryKey" json:"idempotency_key"`
	TransactionID  snowflake.ID   `gorm:"uniqueIndex;not null" json:"transaction_id"`
	Payload        datatypes.JSON `gorm:"not null" json:"payload"`
	Status         string         `gorm:"type:text;index;not null;default:PENDING" json:"status"`
	FailureCount   int            `gorm:"not null;default:0" json:"failure_count"`
	CreatedAt      time.Time      `gorm:"index;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Entry) TableName() string { return "transaction_outbox" }

// DeadLetter is a command that permanently failed, keyed by its transaction id
// and carrying a human-readable reason.
type DeadLetter struct {
	ID             snowflake.ID   `gorm:"primaryKey;autoIncrement:false" json:"id"`
	IdempotencyKey uuid.UUID      `gorm:"type:uuid;index" json:"idempotency_key"`
	Payload        datatypes.JSON `gorm:"not null" json:"payload"`
	Reason         string         `gorm:"type:text;not null" json:"reason"`
	MovedAt        time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"moved_at"`
}

func (DeadLetter) TableName() string { return "transaction_outbox_dlq" }
