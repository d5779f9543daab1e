package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/smallbiznis/bankcore/internal/account/domain"
	"github.com/smallbiznis/bankcore/internal/command"
)

// UnitOfWork accumulates the durable side effects of one flush window. The
// persister applies all of it in a single database transaction.
type UnitOfWork struct {
	// KeysToInsert are idempotency keys newly claimed in this window.
	KeysToInsert []uuid.UUID
	// Journal holds the commands that applied successfully, in order.
	Journal []command.Command
	// Accounts is the final snapshot per touched account. Later commands
	// in the window overwrite earlier snapshots of the same account.
	Accounts map[uuid.UUID]*domain.Account
	// RemoveKeys are outbox rows to delete, covering both applied and
	// duplicate commands.
	RemoveKeys []uuid.UUID
	// DeadLetters maps rejected commands to their rejection reason. Their
	// outbox rows move to the dead letter table instead of being deleted.
	DeadLetters map[uuid.UUID]string
}

func NewUnitOfWork() *UnitOfWork {
	return &UnitOfWork{
		Accounts:    make(map[uuid.UUID]*domain.Account),
		DeadLetters: make(map[uuid.UUID]string),
	}
}

func (u *UnitOfWork) Empty() bool {
	return len(u.KeysToInsert) == 0 &&
		len(u.Journal) == 0 &&
		len(u.Accounts) == 0 &&
		len(u.RemoveKeys) == 0 &&
		len(u.DeadLetters) == 0
}

// Persister writes a unit of work durably and atomically.
type Persister interface {
	PersistBatch(ctx context.Context, uow *UnitOfWork) error
}

// Replicator ships committed units of work to a follower. The engine calls
// it after a successful flush; failures are logged, not retried.
type Replicator interface {
	Replicate(ctx context.Context, uow *UnitOfWork) error
}

// NoopReplicator is the default single-node replicator.
type NoopReplicator struct{}

func (NoopReplicator) Replicate(ctx context.Context, uow *UnitOfWork) error { return nil }
