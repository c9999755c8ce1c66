package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
)

type barKey struct {
	symbol    string
	timeframe string
	openTime  int64 // unix millis
}

type barEntry struct {
	bar       models.Bar
	writtenAt time.Time
}

// MemoryBarStore is an in-process BarStore used by the memory backend and
// as the reference for store semantics: last write wins per
// (symbol, timeframe, open_time), freshness bounds on recent reads.
type MemoryBarStore struct {
	mu   sync.RWMutex
	bars map[barKey]barEntry
	now  func() time.Time
}

// NewMemoryBarStore creates an empty in-memory bar store.
func NewMemoryBarStore() *MemoryBarStore {
	return &MemoryBarStore{
		bars: make(map[barKey]barEntry),
		now:  time.Now,
	}
}

func keyOf(b *models.Bar) barKey {
	return barKey{symbol: b.Symbol, timeframe: b.Timeframe, openTime: b.OpenTime.UnixMilli()}
}

func (s *MemoryBarStore) Init(ctx context.Context) error { return nil }

func (s *MemoryBarStore) Upsert(ctx context.Context, bar *models.Bar) error {
	if err := bar.Validate(); err != nil {
		return &domrepo.PersistenceError{Op: "upsert", Err: err}
	}
	s.mu.Lock()
	s.bars[keyOf(bar)] = barEntry{bar: *bar, writtenAt: s.now()}
	s.mu.Unlock()
	return nil
}

func (s *MemoryBarStore) UpsertBatch(ctx context.Context, bars []*models.Bar) error {
	for _, b := range bars {
		if b == nil {
			continue
		}
		if err := s.Upsert(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryBarStore) QueryRange(ctx context.Context, symbol string, tf domrepo.Timeframe, from, to time.Time, limit int) ([]models.Bar, error) {
	if limit <= 0 {
		limit = 1000
	}
	s.mu.RLock()
	out := make([]models.Bar, 0, 64)
	for k, e := range s.bars {
		if k.symbol != symbol || k.timeframe != string(tf) {
			continue
		}
		if e.bar.OpenTime.Before(from) || e.bar.OpenTime.After(to) {
			continue
		}
		out = append(out, e.bar)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryBarStore) QueryRecent(ctx context.Context, symbols []string, tf domrepo.Timeframe, maxAge time.Duration) ([]models.Bar, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	wanted := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		wanted[sym] = true
	}
	cutoff := s.now().Add(-maxAge)

	s.mu.RLock()
	fresh := make([]models.Bar, 0, 64)
	matched := 0
	for k, e := range s.bars {
		if !wanted[k.symbol] || k.timeframe != string(tf) {
			continue
		}
		matched++
		if e.writtenAt.Before(cutoff) {
			continue
		}
		fresh = append(fresh, e.bar)
	}
	s.mu.RUnlock()

	if len(fresh) == 0 {
		if matched > 0 {
			return nil, domrepo.ErrStale
		}
		return nil, nil
	}
	sort.Slice(fresh, func(i, j int) bool {
		if fresh[i].Symbol != fresh[j].Symbol {
			return fresh[i].Symbol < fresh[j].Symbol
		}
		return fresh[i].OpenTime.Before(fresh[j].OpenTime)
	})
	return fresh, nil
}

func (s *MemoryBarStore) Health(ctx context.Context) error { return nil }

func (s *MemoryBarStore) Close() error { return nil }

// Len reports how many distinct bars are stored.
func (s *MemoryBarStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars)
}
