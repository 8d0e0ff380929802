package evp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxErrorLength = 2048

// RelayResult captures the outcome of one relay cycle.
type RelayResult struct {
	Claimed           int // records claimed from the outbox
	Processed         int // records whose handlers all succeeded
	Failed            int // records with at least one failing handler
	StateUpdateFailed int // records whose final state could not be stored
	Skipped           int // records whose claim expired before they were dispatched
}

// Relay drains the outbox: it claims pending records, dispatches them and
// marks each one processed or failed. Delivery is at-least-once.
type Relay struct {
	id         uuid.UUID
	settings   Settings
	repository Repository
	dispatcher dispatcher
	logger     Logger
	successCtr Counter
	errorCtr   Counter
	now        func() time.Time
	running    atomic.Bool
}

func NewRelay(s Settings, r Repository, sz Serializer, hr HandlerResolver) *Relay {
	if r == nil || sz == nil || hr == nil {
		panic("you must provide a repository, a serializer and a handler resolver")
	}
	s.EnableRelay = true
	validateSettings(&s)
	return &Relay{
		id:         uuid.New(),
		settings:   s,
		repository: r,
		dispatcher: dispatcher{serializer: sz, resolver: hr},
		logger:     &NopLogger{},
		successCtr: &NopCounter{},
		errorCtr:   &NopCounter{},
		now:        time.Now,
	}
}

// Id returns the identifier the relay uses to claim records.
func (r *Relay) Id() uuid.UUID {
	return r.id
}

// Run executes a relay cycle every RelayInterval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.settings.RelayInterval)
	defer ticker.Stop()
	r.logger.Debug(fmt.Sprintf("outbox relay '%s' started", r.id))
	defer r.logger.Debug(fmt.Sprintf("outbox relay '%s' stopped", r.id))

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("running the outbox relay cycle", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single relay cycle. Overlapping calls on the same relay
// return ErrRelayBusy.
func (r *Relay) RunOnce(ctx context.Context) (RelayResult, error) {
	var res RelayResult
	if !r.running.CompareAndSwap(false, true) {
		return res, ErrRelayBusy
	}
	defer r.running.Store(false)

	if err := ctx.Err(); err != nil {
		return res, err
	}

	records, err := r.repository.ClaimPending(ctx, r.id, r.settings.RelayBatchSize, r.settings.ClaimTTL)
	if err != nil {
		return res, fmt.Errorf("could not claim outbox records: %w", err)
	}
	res.Claimed = len(records)
	if len(records) == 0 {
		return res, nil
	}
	sortRecords(records)
	r.logger.Debug(fmt.Sprintf("relay '%s' claimed %d outbox records", r.id, len(records)))

	// the record in flight is always completed, even if ctx is cancelled.
	workCtx := context.WithoutCancel(ctx)
	for _, rec := range records {
		if ctx.Err() != nil {
			r.releaseClaims(workCtx)
			break
		}
		// the batch shares one lease: renew it so a slow batch never hands a
		// record to another relay while it is being dispatched here.
		if err := r.repository.ExtendClaim(workCtx, rec.Id, r.id, r.settings.ClaimTTL); err != nil {
			res.Skipped++
			if errors.Is(err, ErrClaimLost) {
				r.logger.Warn(fmt.Sprintf("claim on outbox record '%s' expired, skipping it", rec.Id))
			} else {
				r.logger.Error(fmt.Sprintf("renewing the claim on outbox record '%s'", rec.Id), err)
			}
			continue
		}
		r.relay(workCtx, rec, &res)
	}

	r.logger.Info(fmt.Sprintf("%d outbox records were successfully relayed (with %d failed, %d skipped) from a total of %d claimed",
		res.Processed, res.Failed, res.Skipped, res.Claimed))
	return res, nil
}

func (r *Relay) relay(ctx context.Context, rec *OutboxRecord, res *RelayResult) {
	dctx, cancel := context.WithTimeout(ctx, r.settings.HandlerTimeout)
	err := r.dispatcher.dispatch(dctx, &rec.Envelope)
	cancel()
	if err != nil {
		res.Failed++
		r.errorCtr.Inc(1)
		r.logger.Error(fmt.Sprintf("relaying outbox record '%s' (%s)", rec.Id, rec.Type), err)
		if err := r.repository.MarkFailed(ctx, rec.Id, r.id, describe(err)); err != nil {
			res.StateUpdateFailed++
			r.logger.Error(fmt.Sprintf("marking outbox record '%s' as failed", rec.Id), err)
		}
		return
	}

	if err := r.repository.MarkProcessed(ctx, rec.Id, r.id, r.now().UTC()); err != nil {
		// handlers already ran; the record will be delivered again.
		res.StateUpdateFailed++
		r.logger.Error(fmt.Sprintf("marking outbox record '%s' as processed", rec.Id), err)
		return
	}
	res.Processed++
	r.successCtr.Inc(1)
}

func (r *Relay) releaseClaims(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.repository.ReleaseClaims(ctx, r.id); err != nil {
		r.logger.Error(fmt.Sprintf("releasing the claims of relay '%s'", r.id), err)
	}
}

// sortRecords orders records by (occurredAt, id).
func sortRecords(records []*OutboxRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		return bytes.Compare(a.Id[:], b.Id[:]) < 0
	})
}

// describe renders a dispatch error for storage in the outbox error column:
// valid UTF-8 without NUL bytes, at most maxErrorLength bytes long.
func describe(err error) string {
	msg := strings.ToValidUTF8(err.Error(), "\uFFFD")
	msg = strings.ReplaceAll(msg, "\x00", "")
	if len(msg) <= maxErrorLength {
		return msg
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
