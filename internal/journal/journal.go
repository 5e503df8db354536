// Package journal archives terminal trade executions in Postgres.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gswapcopy/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS trade_records (
    id             TEXT PRIMARY KEY,
    activity_id    TEXT NOT NULL,
    source_wallet  TEXT NOT NULL,
    source_tx_id   TEXT NOT NULL DEFAULT '',
    token_in       TEXT NOT NULL,
    token_out      TEXT NOT NULL,
    amount_in      NUMERIC NOT NULL,
    expected_out   NUMERIC NOT NULL,
    amount_out     NUMERIC NOT NULL,
    slippage       DOUBLE PRECISION NOT NULL DEFAULT 0,
    fee_tier       INTEGER NOT NULL DEFAULT 0,
    status         TEXT NOT NULL,
    transaction_id TEXT NOT NULL DEFAULT '',
    error          TEXT NOT NULL DEFAULT '',
    attempts       INTEGER NOT NULL DEFAULT 0,
    latency_ms     BIGINT NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ NOT NULL,
    completed_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trade_records_wallet_idx ON trade_records (source_wallet, completed_at DESC);
`

const insertTrade = `
INSERT INTO trade_records (
    id, activity_id, source_wallet, source_tx_id, token_in, token_out,
    amount_in, expected_out, amount_out, slippage, fee_tier, status,
    transaction_id, error, attempts, latency_ms, created_at, completed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (id) DO NOTHING`

const selectRecent = `
SELECT id, activity_id, source_wallet, source_tx_id, token_in, token_out,
       amount_in::text, expected_out::text, amount_out::text, slippage, fee_tier, status,
       transaction_id, error, attempts, latency_ms, created_at, completed_at
FROM trade_records
ORDER BY completed_at DESC
LIMIT $1`

// pgErrUniqueViolation is the Postgres unique_violation code.
const pgErrUniqueViolation = "23505"

// QueryObserver receives the duration and outcome of each query.
type QueryObserver interface {
	RecordDBQuery(operation string, d time.Duration, err error)
}

// Journal writes TradeRecords to the trade_records table.
type Journal struct {
	logger   *zap.Logger
	pool     *pgxpool.Pool
	timeout  time.Duration
	observer QueryObserver
}

// Open connects to dsn, verifies the connection and creates the schema.
func Open(ctx context.Context, logger *zap.Logger, dsn string, timeout time.Duration, observer QueryObserver) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create trade_records schema: %w", err)
	}

	logger.Named("journal").Info("trade journal connected",
		zap.String("host", config.ConnConfig.Host),
		zap.String("database", config.ConnConfig.Database),
	)
	return &Journal{
		logger:   logger.Named("journal"),
		pool:     pool,
		timeout:  timeout,
		observer: observer,
	}, nil
}

// Insert stores rec. Records already present are left untouched.
func (j *Journal) Insert(ctx context.Context, rec domain.TradeRecord) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	start := time.Now()
	_, err := j.pool.Exec(ctx, insertTrade,
		rec.ID, rec.ActivityID, rec.SourceWallet, rec.SourceTxID, rec.TokenIn, rec.TokenOut,
		rec.AmountIn.String(), rec.ExpectedOut.String(), rec.AmountOut.String(), rec.Slippage, rec.FeeTier, string(rec.Status),
		rec.TransactionID, rec.Error, rec.Attempts, rec.LatencyMs, rec.CreatedAt, rec.CompletedAt,
	)
	j.observe("insert_trade", start, err)
	if err != nil && !isDuplicateKeyError(err) {
		return fmt.Errorf("insert trade %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	start := time.Now()
	rows, err := j.pool.Query(ctx, selectRecent, limit)
	if err != nil {
		j.observe("select_recent", start, err)
		return nil, fmt.Errorf("query recent trades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			j.observe("select_recent", start, err)
			return nil, err
		}
		out = append(out, rec)
	}
	err = rows.Err()
	j.observe("select_recent", start, err)
	if err != nil {
		return nil, fmt.Errorf("iterate recent trades: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (domain.TradeRecord, error) {
	var (
		rec                           domain.TradeRecord
		status                        string
		amountIn, expected, amountOut string
	)
	err := row.Scan(
		&rec.ID, &rec.ActivityID, &rec.SourceWallet, &rec.SourceTxID, &rec.TokenIn, &rec.TokenOut,
		&amountIn, &expected, &amountOut, &rec.Slippage, &rec.FeeTier, &status,
		&rec.TransactionID, &rec.Error, &rec.Attempts, &rec.LatencyMs, &rec.CreatedAt, &rec.CompletedAt,
	)
	if err != nil {
		return rec, fmt.Errorf("scan trade record: %w", err)
	}
	rec.ExecutionID = rec.ID
	rec.Status = domain.ExecutionStatus(status)
	if rec.AmountIn, err = decimal.NewFromString(amountIn); err != nil {
		return rec, fmt.Errorf("parse amount_in: %w", err)
	}
	if rec.ExpectedOut, err = decimal.NewFromString(expected); err != nil {
		return rec, fmt.Errorf("parse expected_out: %w", err)
	}
	if rec.AmountOut, err = decimal.NewFromString(amountOut); err != nil {
		return rec, fmt.Errorf("parse amount_out: %w", err)
	}
	return rec, nil
}

func (j *Journal) observe(op string, start time.Time, err error) {
	if j.observer != nil {
		j.observer.RecordDBQuery(op, time.Since(start), err)
	}
}

// Close releases the connection pool.
func (j *Journal) Close() {
	j.pool.Close()
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}
