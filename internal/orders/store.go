package orders

import (
	"context"
	"errors"

	"github.com/3rs4lg4d0/eventpipe/repository/gorm"
	"github.com/3rs4lg4d0/eventpipe/repository/pgxv5"
	reposql "github.com/3rs4lg4d0/eventpipe/repository/sql"
)

const (
	insertOrderSql         = "INSERT INTO orders (id, customer, total, created_at) VALUES ($1, $2, $3, $4)"
	insertOrderQuestionSql = "INSERT INTO orders (id, customer, total, created_at) VALUES (?, ?, ?, ?)"
)

// PgxStore writes orders in the pgx transaction opened by the outbox
// repository.
type PgxStore struct {
	repository *pgxv5.Repository
}

var _ Store = (*PgxStore)(nil)

func NewPgxStore(r *pgxv5.Repository) *PgxStore {
	if r == nil {
		panic("repository is mandatory")
	}
	return &PgxStore{repository: r}
}

func (s *PgxStore) Insert(ctx context.Context, o Order) error {
	tx, ok := s.repository.Tx(ctx)
	if !ok {
		return errors.New("a pgx.Tx transaction was expected")
	}
	_, err := tx.Exec(ctx, insertOrderSql, o.Id, o.Customer, o.Total, o.CreatedAt)
	return err
}

// SQLStore writes orders in the *sql.Tx opened by the outbox repository. The
// driver is expected to use $n placeholders.
type SQLStore struct {
	repository *reposql.Repository
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(r *reposql.Repository) *SQLStore {
	if r == nil {
		panic("repository is mandatory")
	}
	return &SQLStore{repository: r}
}

func (s *SQLStore) Insert(ctx context.Context, o Order) error {
	tx, ok := s.repository.Tx(ctx)
	if !ok {
		return errors.New("an *sql.Tx transaction was expected")
	}
	_, err := tx.ExecContext(ctx, insertOrderSql, o.Id, o.Customer, o.Total, o.CreatedAt)
	return err
}

// GormStore writes orders in the *gorm.DB transaction opened by the outbox
// repository.
type GormStore struct {
	repository *gorm.Repository
}

var _ Store = (*GormStore)(nil)

func NewGormStore(r *gorm.Repository) *GormStore {
	if r == nil {
		panic("repository is mandatory")
	}
	return &GormStore{repository: r}
}

func (s *GormStore) Insert(ctx context.Context, o Order) error {
	tx, ok := s.repository.Tx(ctx)
	if !ok {
		return errors.New("a *gorm.DB transaction was expected")
	}
	return tx.WithContext(ctx).Exec(insertOrderQuestionSql, o.Id, o.Customer, o.Total, o.CreatedAt).Error
}
