package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	pkgch "MarketPull/pkg/clickhouse"
	applogger "MarketPull/pkg/logger"
)

// Schema for the bar table. ReplacingMergeTree keyed by
// (symbol, timeframe, open_time) with inserted_at as the version column:
// re-inserting the same key is the upsert, FINAL reads resolve to the
// latest row.
var barSchema = []string{
	`CREATE DATABASE IF NOT EXISTS marketpull`,
	`CREATE TABLE IF NOT EXISTS marketpull.bars (
		symbol      LowCardinality(String),
		timeframe   LowCardinality(String),
		open_time   DateTime64(3),
		close_time  DateTime64(3),
		open        Decimal(38, 18),
		high        Decimal(38, 18),
		low         Decimal(38, 18),
		close       Decimal(38, 18),
		volume      Decimal(38, 18),
		inserted_at DateTime64(3) DEFAULT now64(3)
	) ENGINE = ReplacingMergeTree(inserted_at)
	PARTITION BY toYYYYMM(open_time)
	ORDER BY (symbol, timeframe, open_time)`,
}

const barTable = "marketpull.bars"

// CHBarStore implements BarStore backed by ClickHouse.
type CHBarStore struct {
	db          *sql.DB
	poolTimeout time.Duration
	l           *applogger.Logger
}

// CHBarStoreOption configures CHBarStore.
type CHBarStoreOption func(*CHBarStore)

// WithPoolTimeout bounds how long a query waits for a pool connection.
func WithPoolTimeout(d time.Duration) CHBarStoreOption {
	return func(s *CHBarStore) { s.poolTimeout = d }
}

// WithBarStoreLogger injects a structured logger.
func WithBarStoreLogger(l *applogger.Logger) CHBarStoreOption {
	return func(s *CHBarStore) { s.l = l }
}

// NewCHBarStore creates a ClickHouse-backed bar store.
func NewCHBarStore(ch *pkgch.Client, opts ...CHBarStoreOption) *CHBarStore {
	s := &CHBarStore{
		db:          ch.DB(),
		poolTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init creates the database and table if they do not exist.
func (s *CHBarStore) Init(ctx context.Context) error {
	for _, stmt := range barSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &domrepo.PersistenceError{Op: "init", Err: err}
		}
	}
	return nil
}

// acquire checks a connection out of the pool, converting an acquisition
// timeout into ErrPoolExhausted so callers see a bounded error, not a hang.
func (s *CHBarStore) acquire(ctx context.Context) (*sql.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, s.poolTimeout)
	defer cancel()
	conn, err := s.db.Conn(actx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, domrepo.ErrPoolExhausted
		}
		return nil, err
	}
	return conn, nil
}

// Upsert writes one bar; a bar with the same key supersedes the stored row.
func (s *CHBarStore) Upsert(ctx context.Context, bar *models.Bar) error {
	return s.UpsertBatch(ctx, []*models.Bar{bar})
}

// UpsertBatch writes bars in chunked multi-row inserts.
func (s *CHBarStore) UpsertBatch(ctx context.Context, bars []*models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	start := time.Now()
	const chunkSize = 1000
	for lo := 0; lo < len(bars); lo += chunkSize {
		hi := lo + chunkSize
		if hi > len(bars) {
			hi = len(bars)
		}

		values := make([]string, 0, hi-lo)
		args := make([]interface{}, 0, (hi-lo)*9)
		for _, b := range bars[lo:hi] {
			if b == nil {
				continue
			}
			if err := b.Validate(); err != nil {
				return &domrepo.PersistenceError{Op: "upsert", Err: err}
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				b.Symbol, b.Timeframe, b.OpenTime, b.CloseTime,
				b.Open, b.High, b.Low, b.Close, b.Volume,
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf(
			"INSERT INTO %s (symbol, timeframe, open_time, close_time, open, high, low, close, volume) VALUES %s",
			barTable, strings.Join(values, ","))
		if _, err := conn.ExecContext(ctx, q, args...); err != nil {
			return &domrepo.PersistenceError{Op: "upsert", Err: err}
		}
	}

	if s.l != nil {
		s.l.Debug("bars upserted",
			applogger.Int("rows", len(bars)),
			applogger.Duration("duration_ms", time.Since(start)))
	}
	return nil
}

// QueryRange returns bars for one symbol within [from, to], oldest first.
func (s *CHBarStore) QueryRange(ctx context.Context, symbol string, tf domrepo.Timeframe, from, to time.Time, limit int) ([]models.Bar, error) {
	if limit <= 0 {
		limit = 1000
	}
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	q := fmt.Sprintf(`
		SELECT symbol, timeframe, open_time, close_time, open, high, low, close, volume
		FROM %s FINAL
		WHERE symbol = ? AND timeframe = ? AND open_time >= ? AND open_time <= ?
		ORDER BY open_time ASC
		LIMIT ?`, barTable)
	rows, err := conn.QueryContext(ctx, q, symbol, string(tf), from, to, limit)
	if err != nil {
		return nil, &domrepo.PersistenceError{Op: "query_range", Err: err}
	}
	defer rows.Close()

	return scanBars(rows)
}

// QueryRecent returns bars written within maxAge for the given symbols.
// Symbols whose rows have all aged out are treated as absent; if the store
// holds rows for the request but none are fresh, ErrStale is returned so the
// caller can fall back to the exchange instead of acting on old data.
func (s *CHBarStore) QueryRecent(ctx context.Context, symbols []string, tf domrepo.Timeframe, maxAge time.Duration) ([]models.Bar, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
	args := make([]interface{}, 0, len(symbols)+2)
	for _, sym := range symbols {
		args = append(args, sym)
	}
	args = append(args, string(tf), time.Now().Add(-maxAge))

	q := fmt.Sprintf(`
		SELECT symbol, timeframe, open_time, close_time, open, high, low, close, volume
		FROM %s FINAL
		WHERE symbol IN (%s) AND timeframe = ? AND inserted_at >= ?
		ORDER BY symbol, open_time ASC`, barTable, placeholders)
	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &domrepo.PersistenceError{Op: "query_recent", Err: err}
	}
	bars, err := scanBars(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(bars) > 0 {
		return bars, nil
	}

	// nothing fresh: distinguish an empty store from an aged-out one
	var count uint64
	cq := fmt.Sprintf("SELECT count() FROM %s WHERE symbol IN (%s) AND timeframe = ?", barTable, placeholders)
	cargs := args[:len(args)-1]
	if err := conn.QueryRowContext(ctx, cq, cargs...).Scan(&count); err != nil {
		return nil, &domrepo.PersistenceError{Op: "query_recent", Err: err}
	}
	if count > 0 {
		return nil, domrepo.ErrStale
	}
	return nil, nil
}

func scanBars(rows *sql.Rows) ([]models.Bar, error) {
	out := make([]models.Bar, 0, 256)
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Symbol, &b.Timeframe, &b.OpenTime, &b.CloseTime,
			&b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, &domrepo.PersistenceError{Op: "scan", Err: err}
		}
		b.Closed = true
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, &domrepo.PersistenceError{Op: "scan", Err: err}
	}
	return out, nil
}

// Health pings the connection pool.
func (s *CHBarStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool is owned by pkg/clickhouse.
func (s *CHBarStore) Close() error {
	return nil
}
