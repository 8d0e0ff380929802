// Package memory provides an in-memory outbox store. Transactions are buffered
// and applied atomically on commit, which makes it suitable for tests and
// single process deployments that do not need durability.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/3rs4lg4d0/eventpipe/evp"
	"github.com/google/uuid"
)

type txKey struct{}

type entry struct {
	record       evp.OutboxRecord
	claimedBy    uuid.UUID
	claimedUntil time.Time
}

type Repository struct {
	mu        sync.Mutex
	entries   map[uuid.UUID]*entry
	commitErr error
	now       func() time.Time
	logger    evp.Logger
}

var _ evp.Repository = (*Repository)(nil)
var _ evp.Loggable = (*Repository)(nil)

func New() *Repository {
	return &Repository{
		entries: map[uuid.UUID]*entry{},
		now:     time.Now,
		logger:  &evp.NopLogger{},
	}
}

// SetLogger sets an optional logger.
func (r *Repository) SetLogger(l evp.Logger) {
	r.logger = l
}

// SetClock replaces the clock used to compute and check claim leases.
func (r *Repository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// FailCommits makes every following commit fail with err (nil restores the
// normal behaviour).
func (r *Repository) FailCommits(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commitErr = err
}

// Tx is the native transaction of the in-memory store.
type Tx struct {
	repo     *Repository
	pending  []evp.OutboxRecord
	onCommit []func()
	done     bool
}

// TxFromContext returns the transaction stored by Begin.
func TxFromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok
}

// OnCommit registers a business mutation applied only if the transaction
// commits.
func (tx *Tx) OnCommit(fn func()) {
	tx.onCommit = append(tx.onCommit, fn)
}

func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return errors.New("transaction already finished")
	}
	tx.repo.mu.Lock()
	if err := tx.repo.commitErr; err != nil {
		tx.repo.mu.Unlock()
		return err
	}
	for _, rec := range tx.pending {
		tx.repo.entries[rec.Id] = &entry{record: rec}
	}
	tx.repo.mu.Unlock()
	tx.done = true
	for _, fn := range tx.onCommit {
		fn()
	}
	return nil
}

func (tx *Tx) Rollback(ctx context.Context) error {
	tx.done = true
	tx.pending = nil
	tx.onCommit = nil
	return nil
}

// Begin starts a buffered transaction.
func (r *Repository) Begin(ctx context.Context) (context.Context, evp.Tx, error) {
	tx := &Tx{repo: r}
	return context.WithValue(ctx, txKey{}, tx), tx, nil
}

// Save buffers the record in the transaction found in ctx.
func (r *Repository) Save(ctx context.Context, o *evp.OutboxRecord) error {
	tx, ok := TxFromContext(ctx)
	if !ok {
		return errors.New("a *memory.Tx transaction was expected")
	}
	if tx.done {
		return errors.New("could not persist the outbox record: transaction already finished")
	}
	tx.pending = append(tx.pending, *o)
	return nil
}

// ClaimPending reserves pending records that are not claimed (or whose claim
// expired) ordered by occurredAt and id.
func (r *Repository) ClaimPending(ctx context.Context, claimant uuid.UUID, limit int, ttl time.Duration) ([]*evp.OutboxRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var candidates []*entry
	for _, e := range r.entries {
		if e.record.ProcessedAt != nil {
			continue
		}
		if e.claimedBy != uuid.Nil && e.claimedUntil.After(now) {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].record, candidates[j].record
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		return a.Id.String() < b.Id.String()
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	records := make([]*evp.OutboxRecord, 0, len(candidates))
	for _, e := range candidates {
		e.claimedBy = claimant
		e.claimedUntil = now.Add(ttl)
		rec := e.record
		records = append(records, &rec)
	}
	if len(records) > 0 {
		r.logger.Debug(fmt.Sprintf("%d outbox records claimed by %s", len(records), claimant))
	}
	return records, nil
}

// ExtendClaim renews the lease of a record the claimant still holds.
func (r *Repository) ExtendClaim(ctx context.Context, id uuid.UUID, claimant uuid.UUID, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.claimed(id, claimant)
	if err != nil {
		return err
	}
	e.claimedUntil = r.now().Add(ttl)
	return nil
}

func (r *Repository) MarkProcessed(ctx context.Context, id uuid.UUID, claimant uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.claimed(id, claimant)
	if err != nil {
		return err
	}
	e.record.ProcessedAt = &at
	e.record.Error = nil
	e.claimedBy = uuid.Nil
	return nil
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, claimant uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.claimed(id, claimant)
	if err != nil {
		return err
	}
	e.record.Error = &reason
	e.record.Attempts++
	e.claimedBy = uuid.Nil
	return nil
}

func (r *Repository) ReleaseClaims(ctx context.Context, claimant uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.claimedBy == claimant && e.record.ProcessedAt == nil {
			e.claimedBy = uuid.Nil
		}
	}
	return nil
}

// Get returns a copy of the stored record.
func (r *Repository) Get(id uuid.UUID) (*evp.OutboxRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	rec := e.record
	return &rec, true
}

// Records returns a copy of every stored record ordered by occurredAt.
func (r *Repository) Records() []*evp.OutboxRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := make([]*evp.OutboxRecord, 0, len(r.entries))
	for _, e := range r.entries {
		rec := e.record
		records = append(records, &rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].OccurredAt.Before(records[j].OccurredAt)
	})
	return records
}

func (r *Repository) claimed(id uuid.UUID, claimant uuid.UUID) (*entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("outbox record '%s' not found", id)
	}
	if e.claimedBy != claimant || e.record.ProcessedAt != nil || !e.claimedUntil.After(r.now()) {
		return nil, evp.ErrClaimLost
	}
	return e, nil
}
