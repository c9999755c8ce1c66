package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"MarketPull/internal/domain/repository"
)

func TestGetTickerDecimalExact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/24hr" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "SHIBUSDT" {
			t.Fatalf("symbol param = %q", got)
		}
		fmt.Fprint(w, `{"symbol":"SHIBUSDT","lastPrice":"0.00000899","priceChange":"-0.00000011","priceChangePercent":"-1.21","volume":"123456789.00000000","quoteVolume":"1110.45","highPrice":"0.00000950","lowPrice":"0.00000880","openPrice":"0.00000910","closeTime":1700000000123,"count":9876}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	tick, err := c.GetTicker(context.Background(), "SHIBUSDT")
	if err != nil {
		t.Fatalf("get ticker: %v", err)
	}
	if got := tick.LastPrice.String(); got != "0.00000899" {
		t.Fatalf("last price = %s, want 0.00000899", got)
	}
	if got := tick.Low24h.String(); got != "0.0000088" {
		t.Fatalf("low = %s, want 0.0000088", got)
	}
	if !tick.Timestamp.Equal(time.UnixMilli(1700000000123)) {
		t.Fatalf("timestamp = %v", tick.Timestamp)
	}
}

func TestGetTickerUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetTicker(context.Background(), "NOSUCHPAIR")
	if err == nil {
		t.Fatalf("expected error")
	}
	var ue *repository.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %T: %v", err, err)
	}
	if ue.Code != -1121 || ue.Status != http.StatusBadRequest {
		t.Fatalf("unexpected upstream error: %+v", ue)
	}
}

func TestGetTickerMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"BTCUSDT","lastPrice":"not-a-number","priceChangePercent":"0","volume":"0","highPrice":"0","lowPrice":"0"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetTicker(context.Background(), "BTCUSDT")
	var pe *repository.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %T: %v", err, err)
	}
}

func TestValidateSymbolFailsFast(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	for _, sym := range []string{"", "btc", "btcusdt", "BTC USDT", "BTC-USDT", "AVERYLONGSYMBOLNAMEXXX"} {
		if _, err := c.GetTicker(context.Background(), sym); err == nil {
			t.Fatalf("symbol %q should be rejected", sym)
		}
	}
	if hit {
		t.Fatalf("invalid symbols must not reach the network")
	}
}

func TestGetCandlesDropsFormingBar(t *testing.T) {
	closedOpen := time.Now().Add(-2 * time.Minute).UnixMilli()
	closedClose := time.Now().Add(-1 * time.Minute).UnixMilli()
	formingOpen := time.Now().Add(-30 * time.Second).UnixMilli()
	formingClose := time.Now().Add(30 * time.Second).UnixMilli()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("interval") != "1m" {
			t.Fatalf("interval param = %q", q.Get("interval"))
		}
		fmt.Fprintf(w, `[
			[%d,"100.10","101.50","99.90","101.00","12.50000000",%d,"0",0,"0","0","0"],
			[%d,"101.00","101.20","100.80","101.10","3.20000000",%d,"0",0,"0","0","0"]
		]`, closedOpen, closedClose, formingOpen, formingClose)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	bars, err := c.GetCandles(context.Background(), "BTCUSDT", repository.TF1m, 2)
	if err != nil {
		t.Fatalf("get candles: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("expected 1 closed bar, got %d", len(bars))
	}
	if !bars[0].Closed {
		t.Fatalf("returned bar must be closed")
	}
	if got := bars[0].Volume.String(); got != "12.5" {
		t.Fatalf("volume = %s, want 12.5", got)
	}
	if err := bars[0].Validate(); err != nil {
		t.Fatalf("bar invariants: %v", err)
	}
}

func TestGetOrderBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"lastUpdateId":42,"bids":[["100.50","1.0"],["100.40","2.0"]],"asks":[["100.60","0.5"]]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	snap, err := c.GetOrderBook(context.Background(), "BTCUSDT", 20)
	if err != nil {
		t.Fatalf("get order book: %v", err)
	}
	if snap.LastUpdateID != 42 || len(snap.Bids) != 2 || len(snap.Asks) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Crossed() {
		t.Fatalf("book should not be crossed")
	}
	bid, _ := snap.BestBid()
	if got := bid.Price.String(); got != "100.5" {
		t.Fatalf("best bid = %s, want 100.5", got)
	}
}

func TestGetOrderBookRejectsCrossedBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"lastUpdateId":43,"bids":[["100.70","1.0"]],"asks":[["100.60","0.5"]]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetOrderBook(context.Background(), "BTCUSDT", 20)
	var pe *repository.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("crossed book must surface as ParseError, got %v", err)
	}
}

func TestSignedRequestCarriesSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-MBX-APIKEY"); got != "test-key" {
			t.Fatalf("api key header = %q", got)
		}
		q := r.URL.Query()
		if q.Get("signature") == "" || q.Get("timestamp") == "" {
			t.Fatalf("signed request missing signature or timestamp: %v", q)
		}
		fmt.Fprint(w, `{"balances":[{"asset":"BTC","free":"0.50000000","locked":"0.00000000"},{"asset":"DUST","free":"0.00000000","locked":"0.00000000"}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithCredentials("test-key", "test-secret"))
	balances, err := c.GetAllBalances(context.Background())
	if err != nil {
		t.Fatalf("get balances: %v", err)
	}
	if len(balances) != 1 {
		t.Fatalf("zero balances should be filtered, got %d", len(balances))
	}
	if got := balances[0].Free.String(); got != "0.5" {
		t.Fatalf("free = %s, want 0.5", got)
	}
}

func TestSignedRequestWithoutCredentials(t *testing.T) {
	c := NewClient("http://unused")
	if _, err := c.GetAllBalances(context.Background()); err == nil {
		t.Fatalf("expected error without credentials")
	}
}
