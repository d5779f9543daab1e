package domain

import (
	"context"

	"github.com/google/uuid"
	"github.com/smallbiznis/bankcore/internal/command"
)

// Repository is the durable staging queue consumed by the poller. Save may be
// called from any goroutine; the fetch/mark/move operations are driven by the
// poller and the persistence stage.
type Repository interface {
	// Save stages a command. It returns false when the idempotency key is
	// already present, which callers treat as a duplicate submission, not an
	// error.
	Save(ctx context.Context, cmd command.Command) (bool, error)

	// FetchAndLockBatch claims up to n PENDING rows, oldest first, skipping
	// rows already claimed by a concurrent fetch, and marks them PROCESSING.
	FetchAndLockBatch(ctx context.Context, n int) ([]command.Command, error)

	MarkProcessed(ctx context.Context, key uuid.UUID) error
	MoveToDeadLetter(ctx context.Context, key uuid.UUID, reason string) error

	IncrementFailureCount(ctx context.Context, key uuid.UUID) error
	GetFailureCount(ctx context.Context, key uuid.UUID) (int, error)

	// HasEntry and HasDeadLetter back transaction status queries.
	HasEntry(ctx context.Context, key uuid.UUID) (bool, error)
	HasDeadLetter(ctx context.Context, key uuid.UUID) (bool, error)

	// ResetStuckProcessing returns PROCESSING rows to PENDING. Called once at
	// startup; re-fetched rows are re-validated for duplication downstream,
	// so re-processing is safe.
	ResetStuckProcessing(ctx context.Context) (int64, error)
}
