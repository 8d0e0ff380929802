package evp

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TxKey is the context key under which repositories store their native
// transaction.
type TxKey any

// Tx is a driver agnostic handle over a native transaction.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Repository manages outbox records persistent operations.
type Repository interface {

	// Begin starts a business transaction. The returned context carries the
	// native transaction so that business code and Save share it.
	Begin(ctx context.Context) (context.Context, Tx, error)

	// Save persists an outbox record. This operation should be called inside an
	// existing business transaction provided in the context.
	Save(ctx context.Context, r *OutboxRecord) error

	// ClaimPending reserves up to limit pending records for the claimant during
	// ttl. Records already claimed by someone else whose claim has not expired
	// are skipped. Implementations should return them ordered by (occurredAt, id).
	ClaimPending(ctx context.Context, claimant uuid.UUID, limit int, ttl time.Duration) ([]*OutboxRecord, error)

	// ExtendClaim renews the claim of a record for ttl. It returns ErrClaimLost
	// if the claimant no longer holds a live claim on the record.
	ExtendClaim(ctx context.Context, id uuid.UUID, claimant uuid.UUID, ttl time.Duration) error

	// MarkProcessed sets processedAt, clears the error and releases the claim.
	// It returns ErrClaimLost if the claimant no longer holds a live claim on
	// the record.
	MarkProcessed(ctx context.Context, id uuid.UUID, claimant uuid.UUID, at time.Time) error

	// MarkFailed keeps the record pending, stores the failure reason, increments
	// the attempts and releases the claim. Like MarkProcessed it requires a live
	// claim.
	MarkFailed(ctx context.Context, id uuid.UUID, claimant uuid.UUID, reason string) error

	// ReleaseClaims releases every pending record still claimed by the claimant.
	ReleaseClaims(ctx context.Context, claimant uuid.UUID) error
}
