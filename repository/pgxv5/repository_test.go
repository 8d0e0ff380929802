package pgxv5

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/3rs4lg4d0/eventpipe/evp"
	"github.com/3rs4lg4d0/eventpipe/test"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pool          *pgxpool.Pool
	repository    *Repository
	defaultCtxKey evp.TxKey = "myKey"
)

// TestMain prepares the database setup needed to run these tests. As you can see
// the database layer is tested against a real Postgres containerized instance, but
// for some specific cases (mostly to simulate errors) a pgxmock instance is used.
func TestMain(m *testing.M) {
	ctx := context.Background()

	database, err := test.InitPostgresContainer(ctx)
	if err != nil {
		fmt.Printf("A problem occurred initializing the database: %v", err)
		os.Exit(1)
	}

	dsn, err := database.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Printf("A problem occurred getting the connection string: %v", err)
		os.Exit(1)
	}

	pool, err = pgxpool.New(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}

	repository = New(defaultCtxKey, pool)
	repository.SetLogger(&evp.NopLogger{})
	code := m.Run()

	pool.Close()
	err = database.Terminate(ctx)
	if err != nil {
		fmt.Printf("an error ocurred terminating the database container: %v", err)
	}
	os.Exit(code)
}

func TestNew(t *testing.T) {
	type args struct {
		txKey evp.TxKey
		pool  dbpool
	}
	testcases := []struct {
		name      string
		args      args
		wantPanic bool
	}{
		{
			name: "valid txKey and valid pool",
			args: args{
				txKey: defaultCtxKey,
				pool:  pool,
			},
			wantPanic: false,
		},
		{
			name: "txKey is nil",
			args: args{
				txKey: nil,
				pool:  pool,
			},
			wantPanic: true,
		},
		{
			name: "pool is nil",
			args: args{
				txKey: defaultCtxKey,
				pool:  nil,
			},
			wantPanic: true,
		},
		{
			name: "pool is not nil but the underlying value is",
			args: args{
				txKey: defaultCtxKey,
				pool: func() dbpool {
					var p *pgxpool.Pool
					return p
				}(),
			},
			wantPanic: true,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.wantPanic {
				assert.Panics(t, func() {
					New(tc.args.txKey, tc.args.pool)
				})
			} else {
				assert.NotPanics(t, func() {
					New(tc.args.txKey, tc.args.pool)
				})
			}
		})
	}
}

func TestSave(t *testing.T) {
	testcases := []struct {
		name       string
		ctx        func() context.Context
		wantErr    bool
		wantErrMsg string
	}{
		{
			name: "valid context and valid record",
			ctx: func() context.Context {
				ctx, _, _ := repository.Begin(context.Background())
				return ctx
			},
			wantErr: false,
		},
		{
			name: "context without an existing transaction",
			ctx: func() context.Context {
				return context.Background()
			},
			wantErr:    true,
			wantErrMsg: "a pgx.Tx transaction was expected",
		},
		{
			name: "simulate error when saving",
			ctx: func() context.Context {
				mock, _ := pgxmock.NewConn()
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO outbox.+").WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
					WillReturnError(errors.New("error#1"))
				tx, _ := mock.Begin(context.Background())
				return context.WithValue(context.Background(), defaultCtxKey, tx)
			},
			wantErr:    true,
			wantErrMsg: "could not persist the outbox record: error#1",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := tc.ctx()
			err := repository.Save(ctx, newRecord("OrderPlaced", time.Now()))
			if !tc.wantErr {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Equal(t, tc.wantErrMsg, err.Error())
			}

			if tx, ok := ctx.Value(defaultCtxKey).(pgx.Tx); ok {
				_ = tx.Rollback(ctx)
			}
		})
	}
}

func TestCommitAndRollback(t *testing.T) {
	cleanOutbox(t)
	ctx := context.Background()

	committed := newRecord("OrderPlaced", time.Now())
	txCtx, tx, err := repository.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, repository.Save(txCtx, committed))
	require.NoError(t, tx.Commit(ctx))

	discarded := newRecord("OrderPlaced", time.Now())
	txCtx, tx, err = repository.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, repository.Save(txCtx, discarded))
	require.NoError(t, tx.Rollback(ctx))

	got, err := repository.Get(ctx, committed.Id)
	require.NoError(t, err)
	assert.Equal(t, committed.Type, got.Type)
	assert.Equal(t, committed.Payload, got.Payload)
	assert.True(t, got.Pending())
	assert.Nil(t, got.Error)

	_, err = repository.Get(ctx, discarded.Id)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestClaimPending(t *testing.T) {
	cleanOutbox(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	third := insertRecord(t, newRecord("C", base.Add(2*time.Second)))
	first := insertRecord(t, newRecord("A", base))
	second := insertRecord(t, newRecord("B", base.Add(time.Second)))

	claimant := uuid.New()
	records, err := repository.ClaimPending(ctx, claimant, 2, time.Minute)
	require.NoError(t, err)
	require.Len(t, records, 2)
	ids := []uuid.UUID{records[0].Id, records[1].Id}
	assert.ElementsMatch(t, []uuid.UUID{first.Id, second.Id}, ids)

	// claimed rows are not handed to a second claimant.
	others, err := repository.ClaimPending(ctx, uuid.New(), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, third.Id, others[0].Id)

	// processed rows are never claimed again.
	require.NoError(t, repository.MarkProcessed(ctx, first.Id, claimant, time.Now()))
	require.NoError(t, repository.ReleaseClaims(ctx, claimant))
	again, err := repository.ClaimPending(ctx, claimant, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, second.Id, again[0].Id)
}

func TestClaimPendingExpiredClaim(t *testing.T) {
	cleanOutbox(t)
	ctx := context.Background()
	rec := insertRecord(t, newRecord("A", time.Now()))

	records, err := repository.ClaimPending(ctx, uuid.New(), 10, -time.Second)
	require.NoError(t, err)
	require.Len(t, records, 1)

	reclaimed, err := repository.ClaimPending(ctx, uuid.New(), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, rec.Id, reclaimed[0].Id)
}

func TestClaimPendingConcurrentClaimants(t *testing.T) {
	cleanOutbox(t)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		insertRecord(t, newRecord("A", time.Now().Add(time.Duration(i)*time.Millisecond)))
	}

	var mu sync.Mutex
	var claimed []string
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			records, err := repository.ClaimPending(ctx, uuid.New(), 20, time.Minute)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, r := range records {
				claimed = append(claimed, r.Id.String())
			}
		}()
	}
	wg.Wait()

	sort.Strings(claimed)
	for i := 1; i < len(claimed); i++ {
		assert.NotEqual(t, claimed[i-1], claimed[i], "a record was claimed twice")
	}
	assert.Len(t, claimed, 20)
}

func TestMarkProcessedAndFailed(t *testing.T) {
	cleanOutbox(t)
	ctx := context.Background()
	rec := insertRecord(t, newRecord("A", time.Now()))
	claimant := uuid.New()

	assert.ErrorIs(t, repository.MarkFailed(ctx, rec.Id, claimant, "boom"), evp.ErrClaimLost)

	_, err := repository.ClaimPending(ctx, claimant, 10, time.Minute)
	require.NoError(t, err)
	require.NoError(t, repository.MarkFailed(ctx, rec.Id, claimant, "boom"))

	got, err := repository.Get(ctx, rec.Id)
	require.NoError(t, err)
	assert.True(t, got.Pending())
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", *got.Error)
	assert.Equal(t, 1, got.Attempts)

	_, err = repository.ClaimPending(ctx, claimant, 10, time.Minute)
	require.NoError(t, err)
	require.NoError(t, repository.MarkProcessed(ctx, rec.Id, claimant, time.Now()))

	got, err = repository.Get(ctx, rec.Id)
	require.NoError(t, err)
	assert.False(t, got.Pending())
	assert.Nil(t, got.Error)

	assert.ErrorIs(t, repository.MarkProcessed(ctx, rec.Id, claimant, time.Now()), evp.ErrClaimLost)
}

func TestClaimPendingErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo := New(defaultCtxKey, mock)

	mock.ExpectQuery("UPDATE outbox SET claimed_by=.+").WillReturnError(errors.New("error#2"))
	_, err = repo.ClaimPending(context.Background(), uuid.New(), 10, time.Minute)
	assert.EqualError(t, err, "error#2")

	mock.ExpectExec("UPDATE outbox SET processed_at=.+").WillReturnError(errors.New("error#3"))
	err = repo.MarkProcessed(context.Background(), uuid.New(), uuid.New(), time.Now())
	assert.EqualError(t, err, "error#3")

	mock.ExpectExec("UPDATE outbox SET error=.+").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = repo.MarkFailed(context.Background(), uuid.New(), uuid.New(), "boom")
	assert.ErrorIs(t, err, evp.ErrClaimLost)

	mock.ExpectExec("UPDATE outbox SET claimed_until=.+").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = repo.ExtendClaim(context.Background(), uuid.New(), uuid.New(), time.Minute)
	assert.ErrorIs(t, err, evp.ErrClaimLost)

	mock.ExpectExec("UPDATE outbox SET claimed_until=.+").WillReturnError(errors.New("error#4"))
	err = repo.ExtendClaim(context.Background(), uuid.New(), uuid.New(), time.Minute)
	assert.EqualError(t, err, "error#4")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func newRecord(eventType string, occurredAt time.Time) *evp.OutboxRecord {
	return &evp.OutboxRecord{Envelope: evp.Envelope{
		Id:         uuid.New(),
		Type:       eventType,
		Payload:    []byte(`{"ok":true}`),
		OccurredAt: occurredAt.UTC(),
	}}
}

func insertRecord(t *testing.T, r *evp.OutboxRecord) *evp.OutboxRecord {
	t.Helper()
	ctx := context.Background()
	txCtx, tx, err := repository.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, repository.Save(txCtx, r))
	require.NoError(t, tx.Commit(ctx))
	return r
}

func cleanOutbox(t *testing.T) {
	t.Helper()
	_, err := pool.Exec(context.Background(), "DELETE FROM outbox")
	require.NoError(t, err)
}

func TestExpiredClaim(t *testing.T) {
	cleanOutbox(t)
	ctx := context.Background()
	rec := insertRecord(t, newRecord("A", time.Now()))

	stale := uuid.New()
	records, err := repository.ClaimPending(ctx, stale, 10, -time.Second)
	require.NoError(t, err)
	require.Len(t, records, 1)

	// an expired lease can neither be renewed nor used to store a result.
	assert.ErrorIs(t, repository.ExtendClaim(ctx, rec.Id, stale, time.Minute), evp.ErrClaimLost)
	assert.ErrorIs(t, repository.MarkFailed(ctx, rec.Id, stale, "boom"), evp.ErrClaimLost)

	owner := uuid.New()
	records, err = repository.ClaimPending(ctx, owner, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NoError(t, repository.ExtendClaim(ctx, rec.Id, owner, time.Minute))

	assert.ErrorIs(t, repository.MarkProcessed(ctx, rec.Id, stale, time.Now()), evp.ErrClaimLost)
	require.NoError(t, repository.MarkProcessed(ctx, rec.Id, owner, time.Now()))
	assert.ErrorIs(t, repository.ExtendClaim(ctx, rec.Id, owner, time.Minute), evp.ErrClaimLost)

	got, err := repository.Get(ctx, rec.Id)
	require.NoError(t, err)
	assert.False(t, got.Pending())
	assert.Equal(t, 0, got.Attempts)
}
