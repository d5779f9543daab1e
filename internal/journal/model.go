package journal

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Entry is one successfully applied command. The journal is append-only and
// is the durable record from which account state can be reconstructed.
type Entry struct {
	SequenceID     int64            `gorm:"primaryKey;autoIncrement" json:"sequence_id"`
	IdempotencyKey uuid.UUID        `gorm:"type:uuid;uniqueIndex;not null" json:"idempotency_key"`
	TransactionID  snowflake.ID     `gorm:"not null" json:"transaction_id"`
	Timestamp      time.Time        `gorm:"not null" json:"timestamp"`
	CommandType    string           `gorm:"type:text;not null" json:"command_type"`
	AccountIDFrom  uuid.UUID        `gorm:"type:uuid;not null;index" json:"account_id_from"`
	AccountIDTo    *uuid.UUID       `gorm:"type:uuid" json:"account_id_to,omitempty"`
	Amount         *decimal.Decimal `gorm:"type:decimal(24,6)" json:"amount,omitempty"`
}

func (Entry) TableName() string { return "transaction_journal" }
