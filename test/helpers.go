package test

import (
	"context"
	"database/sql/driver"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/integralist/go-findroot/find"
	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var DefaultCtxKey any = "myKey"

// OutboxColumns are the columns returned by the claim and get queries.
var OutboxColumns = []string{"id", "event_type", "payload", "occurred_at", "processed_at", "error", "attempts"}

func AssertError(t *testing.T, err error, expectErr bool) {
	if expectErr {
		assert.Error(t, err)
	} else {
		assert.NoError(t, err)
	}
}

// InitPostgresContainer initializes a local Postgres instance using Testcontainers.
func InitPostgresContainer(ctx context.Context) (*postgres.PostgresContainer, error) {
	root, _ := find.Repo()
	return postgres.RunContainer(ctx,
		testcontainers.WithImage("docker.io/postgres:15.2-alpine"),
		postgres.WithInitScripts(
			filepath.Join(root.Path, "sql/postgres/000001_outbox.up.sql"),
			filepath.Join(root.Path, "sql/postgres/000002_orders.up.sql"),
		),
		postgres.WithDatabase("dbname"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(5*time.Second)),
	)
}

func GenerateAnyArgsSlice(n int) []driver.Value {
	var result []driver.Value = make([]driver.Value, n)
	for i := 0; i < n; i++ {
		result[i] = sqlmock.AnyArg()
	}
	return result
}

// MockClaimedRows expects a claim query returning three pending records.
func MockClaimedRows(mock sqlmock.Sqlmock) *sqlmock.Rows {
	now := time.Now()
	rows := sqlmock.NewRows(OutboxColumns).
		AddRow(uuid.New().String(), "event_type", []byte("payload"), now, nil, nil, 0).
		AddRow(uuid.New().String(), "event_type", []byte("payload"), now.Add(time.Millisecond), nil, "boom", 1).
		AddRow(uuid.New().String(), "event_type", []byte("payload"), now.Add(2*time.Millisecond), nil, nil, 0)
	mock.ExpectQuery("UPDATE outbox SET claimed_by=.+").WillReturnRows(rows)
	return rows
}

// TestLogger is a logger that keeps the written messages.
type TestLogger struct {
	mu       sync.Mutex
	Messages []string
	Errors   []error
}

func (l *TestLogger) Debug(msg string) { l.add(msg, nil) }

func (l *TestLogger) Info(msg string) { l.add(msg, nil) }

func (l *TestLogger) Warn(msg string) { l.add(msg, nil) }

func (l *TestLogger) Error(msg string, err error) { l.add(msg, err) }

func (l *TestLogger) add(msg string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Messages = append(l.Messages, msg)
	if err != nil {
		l.Errors = append(l.Errors, err)
	}
}

// ErrorCount returns how many errors were logged.
func (l *TestLogger) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Errors)
}

// TestCounter is a counter that keeps its value.
type TestCounter struct {
	mu    sync.Mutex
	Value int64
}

func (c *TestCounter) Inc(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Value += delta
}

// Get returns the current value.
func (c *TestCounter) Get() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Value
}
