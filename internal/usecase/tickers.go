package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/pkg/cache"
)

// TickerBoard holds the latest ticker per symbol. The stream keeps it warm;
// reads older than the TTL fall through to the cache and then the exchange.
type TickerBoard struct {
	rest  domrepo.ExchangeREST
	cache cache.Service
	ttl   time.Duration

	mu     sync.RWMutex
	latest map[string]*models.Ticker
}

// NewTickerBoard creates a ticker board. cacheSvc may be nil in tests.
func NewTickerBoard(rest domrepo.ExchangeREST, cacheSvc cache.Service, ttl time.Duration) *TickerBoard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &TickerBoard{
		rest:   rest,
		cache:  cacheSvc,
		ttl:    ttl,
		latest: make(map[string]*models.Ticker),
	}
}

// Apply records a stream update as the newest value for its symbol and
// refreshes the shared cache.
func (b *TickerBoard) Apply(t *models.Ticker) {
	if t == nil || t.Symbol == "" {
		return
	}
	b.mu.Lock()
	prev, ok := b.latest[t.Symbol]
	if !ok || !t.Timestamp.Before(prev.Timestamp) {
		b.latest[t.Symbol] = t
	}
	b.mu.Unlock()

	if b.cache != nil {
		_ = b.cache.Set(context.Background(), tickerKey(t.Symbol), t, b.ttl)
	}
}

// GetTicker returns the freshest known ticker for symbol.
func (b *TickerBoard) GetTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}

	b.mu.RLock()
	t, ok := b.latest[symbol]
	b.mu.RUnlock()
	if ok && time.Since(t.Timestamp) <= b.ttl {
		return t, nil
	}

	if b.cache != nil {
		// a miss or degraded cache both fall through to the exchange
		var cached models.Ticker
		if err := b.cache.Get(ctx, tickerKey(symbol), &cached); err == nil &&
			time.Since(cached.Timestamp) <= b.ttl {
			return &cached, nil
		}
	}

	fresh, err := b.rest.GetTicker(ctx, symbol)
	if err != nil {
		// an aged board entry beats an error when the exchange is down
		if ok {
			return t, nil
		}
		return nil, err
	}
	b.Apply(fresh)
	return fresh, nil
}

// Snapshot returns every known ticker, sorted by symbol.
func (b *TickerBoard) Snapshot() []models.Ticker {
	b.mu.RLock()
	out := make([]models.Ticker, 0, len(b.latest))
	for _, t := range b.latest {
		out = append(out, *t)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// GetAllTickers returns the board when warm, otherwise the full exchange
// snapshot.
func (b *TickerBoard) GetAllTickers(ctx context.Context) ([]models.Ticker, error) {
	if snap := b.Snapshot(); len(snap) > 0 {
		return snap, nil
	}
	tickers, err := b.rest.GetAllTickers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tickers {
		b.Apply(&tickers[i])
	}
	return tickers, nil
}

func tickerKey(symbol string) string {
	return cache.GenerateKey("ticker", symbol)
}
