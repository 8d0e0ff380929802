package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/3rs4lg4d0/eventpipe/evp"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	insertOutboxSql = "INSERT INTO outbox (id, event_type, payload, occurred_at) VALUES (?, ?, ?, ?)"
	claimPendingSql = `UPDATE outbox SET claimed_by=?, claimed_until=?
WHERE id IN (
	SELECT id FROM outbox
	WHERE processed_at IS NULL AND (claimed_until IS NULL OR claimed_until < ?)
	ORDER BY occurred_at ASC, id ASC
	LIMIT ?
	FOR UPDATE SKIP LOCKED)
RETURNING id, event_type, payload, occurred_at, processed_at, error, attempts`
	extendClaimSql   = "UPDATE outbox SET claimed_until=? WHERE id=? AND claimed_by=? AND claimed_until > ? AND processed_at IS NULL"
	markProcessedSql = "UPDATE outbox SET processed_at=?, error=NULL, claimed_by=NULL, claimed_until=NULL WHERE id=? AND claimed_by=? AND claimed_until > ? AND processed_at IS NULL"
	markFailedSql    = "UPDATE outbox SET error=?, attempts=attempts+1, claimed_by=NULL, claimed_until=NULL WHERE id=? AND claimed_by=? AND claimed_until > ? AND processed_at IS NULL"
	releaseClaimsSql = "UPDATE outbox SET claimed_by=NULL, claimed_until=NULL WHERE claimed_by=? AND processed_at IS NULL"
	getOutboxSql     = "SELECT id, event_type, payload, occurred_at, processed_at, error, attempts FROM outbox WHERE id=?"
)

type Repository struct {
	txKey  evp.TxKey
	db     *gorm.DB
	logger evp.Logger
}

var _ evp.Loggable = (*Repository)(nil)
var _ evp.Repository = (*Repository)(nil)

func New(txKey evp.TxKey, db *gorm.DB) *Repository {
	if txKey == nil {
		panic("txKey is mandatory")
	}
	if db == nil {
		panic("db is mandatory")
	}
	return &Repository{
		txKey:  txKey,
		db:     db,
		logger: &evp.NopLogger{},
	}
}

// SetLogger sets an optional logger.
func (r *Repository) SetLogger(l evp.Logger) {
	r.logger = l
}

// Tx returns the business transaction stored in ctx, if any. Business code
// should use it to run its own statements in the same transaction.
func (r *Repository) Tx(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(r.txKey).(*gorm.DB)
	return tx, ok
}

type gormTx struct {
	tx *gorm.DB
}

func (t gormTx) Commit(context.Context) error {
	return t.tx.Commit().Error
}

func (t gormTx) Rollback(context.Context) error {
	err := t.tx.Rollback().Error
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// Begin starts a transaction and stores it in the returned context.
func (r *Repository) Begin(ctx context.Context) (context.Context, evp.Tx, error) {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return ctx, nil, tx.Error
	}
	return context.WithValue(ctx, r.txKey, tx), gormTx{tx: tx}, nil
}

// Save persist an outbox entry in the same provided business transaction
// that should be present in the context. The expected transaction should
// be a pointer to an instance of gorm.DB.
func (r *Repository) Save(ctx context.Context, o *evp.OutboxRecord) error {
	tx, ok := r.Tx(ctx)
	if !ok {
		return errors.New("a *gorm.DB transaction was expected")
	}
	err := tx.Exec(insertOutboxSql, o.Id, o.Type, o.Payload, o.OccurredAt).Error
	if err != nil {
		return fmt.Errorf("could not persist the outbox record: %w", err)
	}

	return nil
}

// ClaimPending reserves a batch of pending outbox records for the claimant.
func (r *Repository) ClaimPending(ctx context.Context, claimant uuid.UUID, limit int, ttl time.Duration) ([]*evp.OutboxRecord, error) {
	now := time.Now()
	var rows []outboxRow
	err := r.db.WithContext(ctx).Raw(claimPendingSql, claimant, now.Add(ttl), now, limit).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	ors := make([]*evp.OutboxRecord, 0, len(rows))
	for _, row := range rows {
		ors = append(ors, row.record())
	}
	r.logger.Debug(fmt.Sprintf("%d outbox records claimed by %s", len(ors), claimant))

	return ors, nil
}

// ExtendClaim renews the lease of a record the claimant still holds.
func (r *Repository) ExtendClaim(ctx context.Context, id uuid.UUID, claimant uuid.UUID, ttl time.Duration) error {
	now := time.Now()
	return claimed(r.db.WithContext(ctx).Exec(extendClaimSql, now.Add(ttl), id, claimant, now))
}

// MarkProcessed marks the record as processed if the claimant still holds a
// live claim on it.
func (r *Repository) MarkProcessed(ctx context.Context, id uuid.UUID, claimant uuid.UUID, at time.Time) error {
	return claimed(r.db.WithContext(ctx).Exec(markProcessedSql, at, id, claimant, time.Now()))
}

// MarkFailed records the failure reason and releases the claim.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, claimant uuid.UUID, reason string) error {
	return claimed(r.db.WithContext(ctx).Exec(markFailedSql, reason, id, claimant, time.Now()))
}

// ReleaseClaims releases every pending record claimed by the claimant.
func (r *Repository) ReleaseClaims(ctx context.Context, claimant uuid.UUID) error {
	return r.db.WithContext(ctx).Exec(releaseClaimsSql, claimant).Error
}

// Get returns a single outbox record.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*evp.OutboxRecord, error) {
	var rows []outboxRow
	err := r.db.WithContext(ctx).Raw(getOutboxSql, id).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return rows[0].record(), nil
}

func claimed(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return evp.ErrClaimLost
	}
	return nil
}
