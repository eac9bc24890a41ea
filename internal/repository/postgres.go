package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

type sqlStore struct {
	sdb    *sqlx.DB
	db     queryer
	logger *zap.Logger
}

var _ Store = (*sqlStore)(nil)

func NewPostgres(db *sqlx.DB, logger *zap.Logger) Store {
	return &sqlStore{
		sdb:    db,
		db:     db,
		logger: logger.Named("repository"),
	}
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.sdb.PingContext(ctx)
}

// InTx runs fn in a database transaction. Calling InTx on a Store that is
// already inside a transaction reuses it.
func (s *sqlStore) InTx(ctx context.Context, fn func(Store) error, opts *TxOptions) error {
	if _, ok := s.db.(*sqlx.Tx); ok {
		return fn(s)
	}
	if opts == nil {
		opts = &TxOptions{}
	}

	tx, err := s.sdb.BeginTxx(ctx, &sql.TxOptions{
		Isolation: opts.Isolation,
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		rerr := tx.Rollback()
		if rerr == nil || errors.Is(rerr, sql.ErrTxDone) {
			return
		}
		s.logger.Warn("failed to rollback transaction", zap.Error(rerr))
	}()

	if err := fn(&sqlStore{sdb: s.sdb, db: tx, logger: s.logger}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsSerializationError reports whether err is a Postgres serialization
// failure or deadlock that can be resolved by retrying the transaction.
func IsSerializationError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func checkAffected(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
