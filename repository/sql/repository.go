package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3rs4lg4d0/eventpipe/evp"
	"github.com/google/uuid"
)

const raNotSupported string = "RowsAffected not supported"

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

// queries holds the statements with the placeholder style of the driver.
type queries struct {
	insert, claim, extend, markProcessed, markFailed, release, get string
}

type Repository struct {
	txKey   evp.TxKey
	db      *sql.DB
	queries queries
	logger  evp.Logger
}

var _ evp.Loggable = (*Repository)(nil)
var _ evp.Repository = (*Repository)(nil)

// New creates a database/sql backed outbox store. Set useDollar for drivers
// that expect $n placeholders (e.g. pgx stdlib or lib/pq).
func New(txKey evp.TxKey, db *sql.DB, useDollar bool) *Repository {
	if txKey == nil {
		panic("txKey is mandatory")
	}
	if db == nil {
		panic("db is mandatory")
	}

	q := queries{
		insert:        insertOutboxSql,
		claim:         claimPendingSql,
		extend:        extendClaimSql,
		markProcessed: markProcessedSql,
		markFailed:    markFailedSql,
		release:       releaseClaimsSql,
		get:           getOutboxSql,
	}
	if useDollar {
		for _, s := range []*string{&q.insert, &q.claim, &q.extend, &q.markProcessed, &q.markFailed, &q.release, &q.get} {
			*s = convertToDollarPlaceholder(*s)
		}
	}

	return &Repository{
		txKey:   txKey,
		db:      db,
		queries: q,
		logger:  &evp.NopLogger{},
	}
}

// SetLogger sets an optional logger.
func (r *Repository) SetLogger(l evp.Logger) {
	r.logger = l
}

// Tx returns the business transaction stored in ctx, if any.
func (r *Repository) Tx(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(r.txKey).(*sql.Tx)
	return tx, ok
}

// sqlTx adapts *sql.Tx to evp.Tx.
type sqlTx struct {
	tx *sql.Tx
}

func (t sqlTx) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t sqlTx) Rollback(context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// Begin starts a transaction and stores it in the returned context.
func (r *Repository) Begin(ctx context.Context) (context.Context, evp.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return ctx, nil, err
	}
	return context.WithValue(ctx, r.txKey, tx), sqlTx{tx: tx}, nil
}

// Save persist an outbox entry in the same provided business transaction
// that should be present in the context. The expected transaction should
// be a pointer to an instance of sql.Tx.
func (r *Repository) Save(ctx context.Context, o *evp.OutboxRecord) error {
	tx, ok := r.Tx(ctx)
	if !ok {
		return errors.New("an *sql.Tx transaction was expected")
	}
	_, err := tx.ExecContext(ctx, r.queries.insert, o.Id, o.Type, o.Payload, o.OccurredAt)
	if err != nil {
		return fmt.Errorf("could not persist the outbox record: %w", err)
	}

	return nil
}

// ClaimPending reserves a batch of pending outbox records for the claimant.
func (r *Repository) ClaimPending(ctx context.Context, claimant uuid.UUID, limit int, ttl time.Duration) ([]*evp.OutboxRecord, error) {
	now := time.Now()
	rows, err := r.db.QueryContext(ctx, r.queries.claim, claimant, now.Add(ttl), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ors []*evp.OutboxRecord
	for rows.Next() {
		or, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		ors = append(ors, or)
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
	res, err := r.db.ExecContext(ctx, r.queries.extend, now.Add(ttl), id, claimant, now)
	if err != nil {
		return err
	}
	return checkClaimed(res)
}

// MarkProcessed marks the record as processed if the claimant still holds a
// live claim on it.
func (r *Repository) MarkProcessed(ctx context.Context, id uuid.UUID, claimant uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, r.queries.markProcessed, at, id, claimant, time.Now())
	if err != nil {
		return err
	}
	return checkClaimed(res)
}

// MarkFailed records the failure reason and releases the claim.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, claimant uuid.UUID, reason string) error {
	res, err := r.db.ExecContext(ctx, r.queries.markFailed, reason, id, claimant, time.Now())
	if err != nil {
		return err
	}
	return checkClaimed(res)
}

// ReleaseClaims releases every pending record claimed by the claimant.
func (r *Repository) ReleaseClaims(ctx context.Context, claimant uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, r.queries.release, claimant)
	return err
}

// Get returns a single outbox record.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*evp.OutboxRecord, error) {
	return scanRecord(r.db.QueryRowContext(ctx, r.queries.get, id))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*evp.OutboxRecord, error) {
	var or evp.OutboxRecord
	var processedAt sql.NullTime
	var lastErr sql.NullString
	err := s.Scan(&or.Id, &or.Type, &or.Payload, &or.OccurredAt, &processedAt, &lastErr, &or.Attempts)
	if err != nil {
		return nil, err
	}
	if processedAt.Valid {
		or.ProcessedAt = &processedAt.Time
	}
	if lastErr.Valid {
		or.Error = &lastErr.String
	}
	return &or, nil
}

func checkClaimed(res sql.Result) error {
	ra, err := res.RowsAffected()
	if err != nil {
		return errors.New(raNotSupported)
	}
	if ra == 0 {
		return evp.ErrClaimLost
	}
	return nil
}

func convertToDollarPlaceholder(query string) string {
	count := 0
	for strings.Contains(query, "?") {
		count++
		query = strings.Replace(query, "?", fmt.Sprintf("$%d", count), 1)
	}
	return query
}
