package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zeebo/errs"

	"github.com/JesusCabrera84/siscom-trips/internal/config"
	"github.com/JesusCabrera84/siscom-trips/internal/processor"
)

// Error is the class for storage failures. They are transient from the
// caller's point of view: the message stays unacknowledged and is
// redelivered, which the idempotency keys make safe.
var Error = errs.Class("store")

const (
	txMaxRetries  = 5
	txRetryWindow = time.Minute
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBMaxConns,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, Error.Wrap(err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InTx runs fn in one transaction, retrying serialization conflicts and
// deadlocks for a bounded window. fn may run more than once; all writes it
// performs go through idempotency keys, so that is safe.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, uow processor.UnitOfWork) error) error {
	start := time.Now()
	for attempt := 0; ; attempt++ {
		err := s.inTxOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if attempt < txMaxRetries && time.Since(start) < txRetryWindow && retryableCode(err) {
			continue
		}
		return Error.Wrap(err)
	}
}

func (s *PostgresStore) inTxOnce(ctx context.Context, fn func(ctx context.Context, uow processor.UnitOfWork) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			err = tx.Commit(ctx)
		} else {
			_ = tx.Rollback(ctx)
		}
	}()

	return fn(ctx, &unitOfWork{tx: tx})
}

// retryableCode reports whether err is a serialization failure (40001) or
// deadlock (40P01), the two conditions a fresh attempt can resolve.
func retryableCode(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

type unitOfWork struct {
	tx pgx.Tx
}
