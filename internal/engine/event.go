package engine

import (
	"github.com/google/uuid"

	"github.com/smallbiznis/bankcore/internal/account/domain"
	"github.com/smallbiznis/bankcore/internal/command"
)

// Event is one reusable ring slot. The poller fills Command on publish and
// the stages annotate the rest as the slot moves through the pipeline.
type Event struct {
	Command command.Command

	// ShouldProcess is cleared by the idempotency stage for duplicates so
	// downstream stages skip the slot.
	ShouldProcess bool

	// KeyToPersist is set when this event claimed its idempotency key and
	// the key must be made durable by the persistence stage.
	KeyToPersist *uuid.UUID

	// Err records a business rejection or panic for this command.
	Err error

	// ModifiedAccounts holds the post-apply snapshots produced by the
	// business stage, already swapped into the state store.
	ModifiedAccounts []*domain.Account
}

// Reset prepares a recycled slot for a new command. Stale annotations from
// the slot's previous occupant must never leak into the new one.
func (e *Event) Reset(cmd command.Command) {
	e.Command = cmd
	e.ShouldProcess = true
	e.KeyToPersist = nil
	e.Err = nil
	e.ModifiedAccounts = e.ModifiedAccounts[:0]
}
