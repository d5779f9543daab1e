package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an account. CLOSED is terminal.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusFrozen Status = "FROZEN"
	StatusClosed Status = "CLOSED"
)

// Account is the aggregate holding a balance and its lifecycle status.
// Balance moves only while the account is ACTIVE.
type Account struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Balance   decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"balance"`
	Status    Status          `gorm:"type:text;not null" json:"status"`
	CreatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

func New(id uuid.UUID, balance decimal.Decimal) *Account {
	return &Account{ID: id, Balance: balance, Status: StatusActive}
}

// Clone returns an independent copy. The business stage mutates clones and
// swaps them into the state store, so stored snapshots stay immutable.
func (a *Account) Clone() *Account {
	cp := *a
	return &cp
}

func (a *Account) checkActive() error {
	if a.Status != StatusActive {
		return fmt.Errorf("account %s is %s: %w", a.ID, a.Status, ErrAccountNotActive)
	}
	return nil
}

func (a *Account) Deposit(amount decimal.Decimal) error {
	if err := a.checkActive(); err != nil {
		return err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("deposit of %s: %w", amount, ErrInvalidAmount)
	}
	a.Balance = a.Balance.Add(amount)
	return nil
}

func (a *Account) Withdraw(amount decimal.Decimal) error {
	if err := a.checkActive(); err != nil {
		return err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("withdrawal of %s: %w", amount, ErrInvalidAmount)
	}
	if a.Balance.LessThan(amount) {
		return fmt.Errorf("account %s balance %s below %s: %w", a.ID, a.Balance, amount, ErrInsufficientFunds)
	}
	a.Balance = a.Balance.Sub(amount)
	return nil
}

func (a *Account) Freeze() error {
	if a.Status == StatusClosed {
		return fmt.Errorf("account %s: %w", a.ID, ErrAccountClosed)
	}
	a.Status = StatusFrozen
	return nil
}

func (a *Account) Unfreeze() error {
	if a.Status == StatusClosed {
		return fmt.Errorf("account %s: %w", a.ID, ErrAccountClosed)
	}
	a.Status = StatusActive
	return nil
}

// Close marks the account CLOSED. Closing an already closed account is a no-op.
func (a *Account) Close() {
	a.Status = StatusClosed
}
