package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"graph-ingest/graph"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"
)

// PostgresStore keeps the graph in two tables, graph_nodes and graph_edges,
// with pgvector embeddings on the nodes.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var (
	_ graph.Store      = (*PostgresStore)(nil)
	_ graph.Transactor = (*PostgresStore)(nil)
)

func NewPostgresStore(ctx context.Context, connStr string, logger *zap.Logger) (*PostgresStore, error) {
	// The vector type must exist before pool connections can register it
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	_, err = conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("enable pgvector extension: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("Successfully connected to the database")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) Dialect() graph.Dialect { return SQLDialect{} }

func (s *PostgresStore) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	return runQuery(ctx, s.pool, query, params)
}

// WithinTransaction runs fn in a single transaction, rolled back on error.
// Transactions aborted by a deadlock or a serialization failure are retried.
func (s *PostgresStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, q graph.Querier) error) error {
	return retryTx(ctx, txAttempts, txRetryDelay, s.logger, func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			return fn(ctx, txQuerier{tx: tx})
		})
	})
}

const (
	txAttempts   = 4
	txRetryDelay = 50 * time.Millisecond

	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

func retryTx(ctx context.Context, attempts int, delay time.Duration, logger *zap.Logger, run func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = run()
		if err == nil || !retryable(err) || attempt >= attempts {
			return err
		}
		logger.Warn("Transaction aborted, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		delay *= 2
	}
}

// retryable reports whether Postgres aborted the transaction with
// deadlock_detected or serialization_failure.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateDeadlockDetected || pgErr.Code == sqlStateSerializationFailure
}

func (s *PostgresStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type txQuerier struct {
	tx pgx.Tx
}

func (t txQuerier) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	return runQuery(ctx, t.tx, query, params)
}

func runQuery(ctx context.Context, q querier, query string, params map[string]any) ([]map[string]any, error) {
	var args []any
	if len(params) > 0 {
		named, err := namedArgs(params)
		if err != nil {
			return nil, err
		}
		args = append(args, named)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	result, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// namedArgs encodes graph parameters for pgx: row sets travel as jsonb and
// bare vectors as pgvector values.
func namedArgs(params map[string]any) (pgx.NamedArgs, error) {
	args := make(pgx.NamedArgs, len(params))
	for name, v := range params {
		switch t := v.(type) {
		case []map[string]any:
			encoded, err := json.Marshal(t)
			if err != nil {
				return nil, fmt.Errorf("encode %s parameter: %w", name, err)
			}
			args[name] = string(encoded)
		case []float32:
			args[name] = pgvector.NewVector(t)
		default:
			args[name] = v
		}
	}
	return args, nil
}
