package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"

	"github.com/shopspring/decimal"
)

func testBar(symbol string, openTime time.Time, close string) *models.Bar {
	c, _ := decimal.NewFromString(close)
	return &models.Bar{
		Symbol:    symbol,
		Timeframe: "1m",
		Open:      c,
		High:      c,
		Low:       c,
		Close:     c,
		Volume:    decimal.NewFromInt(1),
		OpenTime:  openTime,
		CloseTime: openTime.Add(time.Minute),
		Closed:    true,
	}
}

func TestUpsertLastWriteWins(t *testing.T) {
	s := NewMemoryBarStore()
	ctx := context.Background()
	open := time.UnixMilli(1700000000000)

	if err := s.Upsert(ctx, testBar("BTCUSDT", open, "100")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, testBar("BTCUSDT", open, "101.5")); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("same key must not duplicate, have %d rows", s.Len())
	}

	bars, err := s.QueryRange(ctx, "BTCUSDT", domrepo.TF1m, open.Add(-time.Hour), open.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("expected 1 bar, got %d", len(bars))
	}
	if got := bars[0].Close.String(); got != "101.5" {
		t.Fatalf("close = %s, want the superseding 101.5", got)
	}
}

func TestUpsertRejectsInvalidBar(t *testing.T) {
	s := NewMemoryBarStore()
	bad := testBar("BTCUSDT", time.UnixMilli(1700000000000), "100")
	bad.Low = decimal.NewFromInt(200) // low above open/close

	err := s.Upsert(context.Background(), bad)
	var pe *domrepo.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
}

func TestQueryRangeOrderAndBounds(t *testing.T) {
	s := NewMemoryBarStore()
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	// insert out of order
	for _, offset := range []time.Duration{2 * time.Minute, 0, time.Minute, 5 * time.Minute} {
		if err := s.Upsert(ctx, testBar("ETHUSDT", base.Add(offset), "10")); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	bars, err := s.QueryRange(ctx, "ETHUSDT", domrepo.TF1m, base, base.Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("expected 3 bars inside bounds, got %d", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i-1].OpenTime.Before(bars[i].OpenTime) {
			t.Fatalf("bars not in ascending open_time order")
		}
	}
}

func TestQueryRecentFreshnessBound(t *testing.T) {
	s := NewMemoryBarStore()
	ctx := context.Background()
	open := time.UnixMilli(1700000000000)

	clock := time.Now()
	s.now = func() time.Time { return clock }

	if err := s.Upsert(ctx, testBar("BTCUSDT", open, "100")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	bars, err := s.QueryRecent(ctx, []string{"BTCUSDT"}, domrepo.TF1m, 5*time.Minute)
	if err != nil {
		t.Fatalf("fresh query: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("expected 1 fresh bar, got %d", len(bars))
	}

	// advance past the freshness bound; the row stays stored but aged out
	clock = clock.Add(10 * time.Minute)
	_, err = s.QueryRecent(ctx, []string{"BTCUSDT"}, domrepo.TF1m, 5*time.Minute)
	if !errors.Is(err, domrepo.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("stale rows must never be purged")
	}

	// unknown symbols are absent, not stale
	bars, err = s.QueryRecent(ctx, []string{"NOSUCH"}, domrepo.TF1m, 5*time.Minute)
	if err != nil || len(bars) != 0 {
		t.Fatalf("unknown symbol: bars=%d err=%v", len(bars), err)
	}
}

func TestBarMessageRoundTrip(t *testing.T) {
	bar := testBar("SHIBUSDT", time.UnixMilli(1700000000000), "0.00000899")

	msg := NewBarMessage(bar)
	if msg.Close != "0.00000899" {
		t.Fatalf("wire close = %s, want exact decimal text", msg.Close)
	}

	back, err := msg.ToBar()
	if err != nil {
		t.Fatalf("to bar: %v", err)
	}
	if !back.Close.Equal(bar.Close) {
		t.Fatalf("close changed across the wire: %s != %s", back.Close, bar.Close)
	}
	if !back.OpenTime.Equal(bar.OpenTime) {
		t.Fatalf("open time changed across the wire")
	}
}

func TestBarMessageRejectsMalformed(t *testing.T) {
	msg := BarMessage{
		Symbol: "BTCUSDT", Timeframe: "1m",
		OpenTime: 1700000000000, CloseTime: 1700000059999,
		Open: "100", High: "101", Low: "99", Close: "oops", Volume: "1",
	}
	_, err := msg.ToBar()
	var pe *domrepo.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}
