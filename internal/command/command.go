package command

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ActionType enumerates the operations the pipeline can apply.
type ActionType string

const (
	ActionDeposit  ActionType = "DEPOSIT"
	ActionWithdraw ActionType = "WITHDRAW"
	ActionTransfer ActionType = "TRANSFER"
	ActionFreeze   ActionType = "FREEZE"
	ActionUnfreeze ActionType = "UNFREEZE"
	ActionClose    ActionType = "CLOSE"
)

// Command is an immutable description of one requested operation.
//
// TransactionID is generated per enqueue attempt; IdempotencyKey is supplied
// by the client and must be reused when the same logical request is retried.
// Amount is present only for DEPOSIT, WITHDRAW and TRANSFER; TargetAccountID
// only for TRANSFER.
type Command struct {
	TransactionID   snowflake.ID     `json:"transaction_id"`
	IdempotencyKey  uuid.UUID        `json:"idempotency_key"`
	Action          ActionType       `json:"action"`
	AccountID       uuid.UUID        `json:"account_id"`
	TargetAccountID *uuid.UUID       `json:"target_account_id,omitempty"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

func NewDeposit(node *snowflake.Node, key, accountID uuid.UUID, amount decimal.Decimal) Command {
	return newAmountCommand(node, key, accountID, ActionDeposit, amount)
}

func NewWithdraw(node *snowflake.Node, key, accountID uuid.UUID, amount decimal.Decimal) Command {
	return newAmountCommand(node, key, accountID, ActionWithdraw, amount)
}

func NewTransfer(node *snowflake.Node, key, fromAccountID, toAccountID uuid.UUID, amount decimal.Decimal) Command {
	cmd := newAmountCommand(node, key, fromAccountID, ActionTransfer, amount)
	cmd.TargetAccountID = &toAccountID
	return cmd
}

func NewFreeze(node *snowflake.Node, key, accountID uuid.UUID) Command {
	return newStatusCommand(node, key, accountID, ActionFreeze)
}

func NewUnfreeze(node *snowflake.Node, key, accountID uuid.UUID) Command {
	return newStatusCommand(node, key, accountID, ActionUnfreeze)
}

func NewClose(node *snowflake.Node, key, accountID uuid.UUID) Command {
	return newStatusCommand(node, key, accountID, ActionClose)
}

func newAmountCommand(node *snowflake.Node, key, accountID uuid.UUID, action ActionType, amount decimal.Decimal) Command {
	return Command{
		TransactionID:  node.Generate(),
		IdempotencyKey: key,
		Action:         action,
		AccountID:      accountID,
		Amount:         &amount,
		CreatedAt:      time.Now().UTC(),
	}
}

func newStatusCommand(node *snowflake.Node, key, accountID uuid.UUID, action ActionType) Command {
	return Command{
		TransactionID:  node.Generate(),
		IdempotencyKey: key,
		Action:         action,
		AccountID:      accountID,
		CreatedAt:      time.Now().UTC(),
	}
}

// Encode serializes the command for the outbox payload column.
func (c Command) Encode() ([]byte, error) {
	return json.Marshal(c)
}

func Decode(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}
