package repository

import (
	"context"
	"time"

	"MarketPull/internal/domain/models"
)

// StreamKind identifies a logical market-data stream.
type StreamKind string

const (
	StreamTicker StreamKind = "ticker"
	StreamKline  StreamKind = "kline"
	StreamTrade  StreamKind = "trade"
	StreamDepth  StreamKind = "depth"
)

// StreamEvent is a normalized record delivered by the stream client.
// Implemented by *models.Ticker, *models.Bar, *models.Trade and
// *models.OrderBookSnapshot via the wrappers in the stream package.
type StreamEvent interface {
	EventKind() StreamKind
	EventSymbol() string
}

// StreamHandler receives normalized stream events. Handlers run on the
// connection goroutine that received the message; a panic is recovered and
// logged, never propagated into the read loop.
type StreamHandler func(StreamEvent)

// MarketStream keeps one logical subscription alive per (symbol, kind) and
// fans incoming records out to registered handlers in registration order.
// Stop cancels every connection goroutine and returns only after all
// in-flight handler calls have finished.
type MarketStream interface {
	Subscribe(kind StreamKind, h StreamHandler)
	Start(ctx context.Context, kinds ...StreamKind) error
	Stop() error
	IsRunning() bool
}

// ExchangeREST wraps the exchange's point-in-time HTTP endpoints.
type ExchangeREST interface {
	GetTicker(ctx context.Context, symbol string) (*models.Ticker, error)
	GetAllTickers(ctx context.Context) ([]models.Ticker, error)
	Get24hStats(ctx context.Context, symbol string) (*models.Stats24h, error)
	GetAll24hStats(ctx context.Context) ([]models.Stats24h, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBookSnapshot, error)
	GetCandles(ctx context.Context, symbol string, tf Timeframe, limit int) ([]models.Bar, error)
	GetRecentTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error)

	PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
	GetBalance(ctx context.Context, asset string) (*models.Balance, error)
	GetAllBalances(ctx context.Context) ([]models.Balance, error)
}

// BarStore is the durable latest-value cache keyed by
// (symbol, timeframe, open_time).
type BarStore interface {
	Init(ctx context.Context) error // ensure tables, health checks
	Upsert(ctx context.Context, bar *models.Bar) error
	UpsertBatch(ctx context.Context, bars []*models.Bar) error
	QueryRange(ctx context.Context, symbol string, tf Timeframe, from, to time.Time, limit int) ([]models.Bar, error)
	// QueryRecent returns only bars written within maxAge of now. Stale rows
	// are treated as absent, never purged.
	QueryRecent(ctx context.Context, symbols []string, tf Timeframe, maxAge time.Duration) ([]models.Bar, error)
	Health(ctx context.Context) error
	Close() error
}

// BarPublisher publishes closed bars to a message backend.
type BarPublisher interface {
	Publish(ctx context.Context, bar *models.Bar) error
	PublishBatch(ctx context.Context, bars []*models.Bar) error
	Close() error
}

// Metrics records operational measurements.
type Metrics interface {
	RecordMessageSent(backend, symbol string)
	RecordStreamEvent(kind, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordReconnect(symbol, kind string)
}
