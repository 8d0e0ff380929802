package pgxv5

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/3rs4lg4d0/eventpipe/evp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	insertOutboxSql = "INSERT INTO outbox (id, event_type, payload, occurred_at) VALUES ($1, $2, $3, $4)"
	claimPendingSql = `UPDATE outbox SET claimed_by=$1, claimed_until=$2
WHERE id IN (
	SELECT id FROM outbox
	WHERE processed_at IS NULL AND (claimed_until IS NULL OR claimed_until < $3)
	ORDER BY occurred_at ASC, id ASC
	LIMIT $4
	FOR UPDATE SKIP LOCKED)
RETURNING id, event_type, payload, occurred_at, processed_at, error, attempts`
	extendClaimSql   = "UPDATE outbox SET claimed_until=$1 WHERE id=$2 AND claimed_by=$3 AND claimed_until > $4 AND processed_at IS NULL"
	markProcessedSql = "UPDATE outbox SET processed_at=$1, error=NULL, claimed_by=NULL, claimed_until=NULL WHERE id=$2 AND claimed_by=$3 AND claimed_until > $4 AND processed_at IS NULL"
	markFailedSql    = "UPDATE outbox SET error=$1, attempts=attempts+1, claimed_by=NULL, claimed_until=NULL WHERE id=$2 AND claimed_by=$3 AND claimed_until > $4 AND processed_at IS NULL"
	releaseClaimsSql = "UPDATE outbox SET claimed_by=NULL, claimed_until=NULL WHERE claimed_by=$1 AND processed_at IS NULL"
	getOutboxSql     = "SELECT id, event_type, payload, occurred_at, processed_at, error, attempts FROM outbox WHERE id=$1"
)

// dbpool is a helper interface to work with pgxpool.Pool.
type dbpool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...interface{}) (commandTag pgconn.CommandTag, err error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type Repository struct {
	txKey  evp.TxKey
	db     dbpool
	logger evp.Logger
}

var _ evp.Loggable = (*Repository)(nil)
var _ evp.Repository = (*Repository)(nil)

func New(txKey evp.TxKey, pool dbpool) *Repository {
	if txKey == nil {
		panic("txKey is mandatory")
	}
	if pool == nil || reflect.ValueOf(pool).IsNil() {
		panic("pool is mandatory")
	}
	return &Repository{
		txKey:  txKey,
		db:     pool,
		logger: &evp.NopLogger{},
	}
}

// SetLogger sets an optional logger.
func (r *Repository) SetLogger(l evp.Logger) {
	r.logger = l
}

// Tx returns the business transaction stored in ctx, if any.
func (r *Repository) Tx(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(r.txKey).(pgx.Tx)
	return tx, ok
}

// Begin starts a transaction and stores it in the returned context. pgx.Tx
// already satisfies evp.Tx.
func (r *Repository) Begin(ctx context.Context) (context.Context, evp.Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return ctx, nil, err
	}
	return context.WithValue(ctx, r.txKey, tx), tx, nil
}

// Save persist an outbox entry in the same provided business transaction
// that should be present in the context. The expected transaction should
// implement pgx.Tx interface.
func (r *Repository) Save(ctx context.Context, o *evp.OutboxRecord) error {
	tx, ok := r.Tx(ctx)
	if !ok {
		return errors.New("a pgx.Tx transaction was expected")
	}
	_, err := tx.Exec(ctx, insertOutboxSql, o.Id, o.Type, o.Payload, o.OccurredAt)
	if err != nil {
		return fmt.Errorf("could not persist the outbox record: %w", err)
	}

	return nil
}

// ClaimPending reserves a batch of pending outbox records for the claimant.
// Rows locked by a concurrent claim are skipped.
func (r *Repository) ClaimPending(ctx context.Context, claimant uuid.UUID, limit int, ttl time.Duration) ([]*evp.OutboxRecord, error) {
	now := time.Now()
	rows, err := r.db.Query(ctx, claimPendingSql, claimant, now.Add(ttl), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ors []*evp.OutboxRecord
	for rows.Next() {
		var or evp.OutboxRecord
		err := rows.Scan(&or.Id, &or.Type, &or.Payload, &or.OccurredAt, &or.ProcessedAt, &or.Error, &or.Attempts)
		if err != nil {
			return nil, err
		}
		ors = append(ors, &or)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	r.logger.Debug(fmt.Sprintf("%d outbox records claimed by %s", len(ors), claimant))

	return ors, nil
}

// ExtendClaim renews the lease of a record the claimant still holds.
func (r *Repository) ExtendClaim(ctx context.Context, id uuid.UUID, claimant uuid.UUID, ttl time.Duration) error {
	now := time.Now()
	ct, err := r.db.Exec(ctx, extendClaimSql, now.Add(ttl), id, claimant, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return evp.ErrClaimLost
	}
	return nil
}

// MarkProcessed marks the record as processed if the claimant still holds a
// live claim on it.
func (r *Repository) MarkProcessed(ctx context.Context, id uuid.UUID, claimant uuid.UUID, at time.Time) error {
	ct, err := r.db.Exec(ctx, markProcessedSql, at, id, claimant, time.Now())
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return evp.ErrClaimLost
	}
	return nil
}

// MarkFailed records the failure reason and releases the claim.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, claimant uuid.UUID, reason string) error {
	ct, err := r.db.Exec(ctx, markFailedSql, reason, id, claimant, time.Now())
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return evp.ErrClaimLost
	}
	return nil
}

// ReleaseClaims releases every pending record claimed by the claimant.
func (r *Repository) ReleaseClaims(ctx context.Context, claimant uuid.UUID) error {
	ct, err := r.db.Exec(ctx, releaseClaimsSql, claimant)
	if err != nil {
		return err
	}
	r.logger.Debug(fmt.Sprintf("%d outbox claims released by %s", ct.RowsAffected(), claimant))
	return nil
}

// Get returns a single outbox record.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*evp.OutboxRecord, error) {
	var or evp.OutboxRecord
	err := r.db.QueryRow(ctx, getOutboxSql, id).
		Scan(&or.Id, &or.Type, &or.Payload, &or.OccurredAt, &or.ProcessedAt, &or.Error, &or.Attempts)
	if err != nil {
		return nil, err
	}
	return &or, nil
}
