package binance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"MarketPull/internal/domain/repository"

	"github.com/gorilla/websocket"
)

// fakeConn replays scripted messages then blocks until closed.
type fakeConn struct {
	mu     sync.Mutex
	msgs   [][]byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(msgs ...string) *fakeConn {
	c := &fakeConn{closed: make(chan struct{})}
	for _, m := range msgs {
		c.msgs = append(c.msgs, []byte(m))
	}
	return c
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	if len(c.msgs) > 0 {
		m := c.msgs[0]
		c.msgs = c.msgs[1:]
		c.mu.Unlock()
		return websocket.TextMessage, m, nil
	}
	c.mu.Unlock()
	<-c.closed
	return 0, nil, errors.New("use of closed connection")
}

func (c *fakeConn) WriteMessage(int, []byte) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer fails the first failures attempts, then hands out conns in order.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	conns    []*fakeConn
	attempts int
	urls     []string
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	d.urls = append(d.urls, url)
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("dial refused")
	}
	if len(d.conns) == 0 {
		return nil, errors.New("no conn scripted")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) attemptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

// collector is a thread-safe event sink.
type collector struct {
	mu     sync.Mutex
	events []repository.StreamEvent
}

func (c *collector) add(e repository.StreamEvent) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) at(i int) repository.StreamEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[i]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within deadline")
}

const closedKlineMsg = `{"e":"kline","s":"BTCUSDT","k":{"t":1700000000000,"T":1700000059999,"i":"1m","o":"100.1","h":"101.5","l":"99.9","c":"101.0","v":"12.5","x":true}}`
const openKlineMsg = `{"e":"kline","s":"BTCUSDT","k":{"t":1700000060000,"T":1700000119999,"i":"1m","o":"101.0","h":"101.2","l":"100.8","c":"101.1","v":"3.2","x":false}}`
const tickerMsg = `{"e":"24hrTicker","E":1700000000123,"s":"BTCUSDT","c":"101.0","P":"2.5","v":"1000","h":"105","l":"95"}`

func newTestStream(d Dialer, symbols ...string) *StreamClient {
	return NewStreamClient(StreamConfig{
		BaseURL:     "wss://test/ws",
		Symbols:     symbols,
		Interval:    "1m",
		BackoffBase: time.Millisecond,
		BackoffMax:  4 * time.Millisecond,
	}, WithDialer(d))
}

func TestStreamReconnectsAfterDialFailures(t *testing.T) {
	dialer := &fakeDialer{
		failures: 2,
		conns:    []*fakeConn{newFakeConn(closedKlineMsg)},
	}
	s := newTestStream(dialer, "BTCUSDT")

	sink := &collector{}
	s.Subscribe(repository.StreamKline, sink.add)

	if err := s.Start(context.Background(), repository.StreamKline); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return sink.count() >= 1 })
	if dialer.attemptCount() < 3 {
		t.Fatalf("expected at least 3 dial attempts, got %d", dialer.attemptCount())
	}
}

func TestStreamFiltersUnclosedKlines(t *testing.T) {
	dialer := &fakeDialer{
		conns: []*fakeConn{newFakeConn(openKlineMsg, closedKlineMsg, openKlineMsg)},
	}
	s := newTestStream(dialer, "BTCUSDT")

	sink := &collector{}
	s.Subscribe(repository.StreamKline, sink.add)

	if err := s.Start(context.Background(), repository.StreamKline); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return sink.count() >= 1 })
	// give the loop a chance to (incorrectly) deliver the open klines
	time.Sleep(20 * time.Millisecond)
	if sink.count() != 1 {
		t.Fatalf("expected exactly 1 closed kline, got %d", sink.count())
	}

	ev := sink.at(0)
	bar, ok := ev.(KlineEvent)
	if !ok {
		t.Fatalf("expected KlineEvent, got %T", ev)
	}
	if !bar.Closed {
		t.Fatalf("emitted bar must be closed")
	}
	if got := bar.Close.String(); got != "101" {
		t.Fatalf("close price = %s, want 101", got)
	}
}

func TestStreamNoEventsAfterStop(t *testing.T) {
	// a steady ticker feed that never runs out
	conn := newFakeConn(tickerMsg, tickerMsg, tickerMsg, tickerMsg, tickerMsg)
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	s := newTestStream(dialer, "BTCUSDT")

	sink := &collector{}
	s.Subscribe(repository.StreamTicker, sink.add)

	if err := s.Start(context.Background(), repository.StreamTicker); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return sink.count() >= 1 })

	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	frozen := sink.count()
	time.Sleep(20 * time.Millisecond)
	if sink.count() != frozen {
		t.Fatalf("events delivered after Stop returned: %d -> %d", frozen, sink.count())
	}
	if s.IsRunning() {
		t.Fatalf("IsRunning should be false after Stop")
	}
}

func TestStreamHandlerPanicIsolated(t *testing.T) {
	dialer := &fakeDialer{conns: []*fakeConn{newFakeConn(tickerMsg, tickerMsg)}}
	s := newTestStream(dialer, "BTCUSDT")

	sink := &collector{}
	s.Subscribe(repository.StreamTicker, func(repository.StreamEvent) { panic("boom") })
	s.Subscribe(repository.StreamTicker, sink.add)

	if err := s.Start(context.Background(), repository.StreamTicker); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return sink.count() >= 2 })
}

func TestStreamTopicURLs(t *testing.T) {
	s := NewStreamClient(StreamConfig{
		BaseURL:     "wss://stream.binance.com:9443/ws",
		Interval:    "5m",
		DepthLevels: 20,
	})
	cases := []struct {
		kind repository.StreamKind
		want string
	}{
		{repository.StreamTicker, "wss://stream.binance.com:9443/ws/btcusdt@ticker"},
		{repository.StreamKline, "wss://stream.binance.com:9443/ws/btcusdt@kline_5m"},
		{repository.StreamTrade, "wss://stream.binance.com:9443/ws/btcusdt@trade"},
		{repository.StreamDepth, "wss://stream.binance.com:9443/ws/btcusdt@depth20@100ms"},
	}
	for _, tc := range cases {
		got := s.topicURL(connKey{symbol: "btcusdt", kind: tc.kind})
		if got != tc.want {
			t.Fatalf("topic for %s = %s, want %s", tc.kind, got, tc.want)
		}
	}
}

func TestParseTickerDecimalExact(t *testing.T) {
	ev, err := parseTickerMessage([]byte(`{"e":"24hrTicker","E":1700000000123,"s":"SHIBUSDT","c":"0.00000899","P":"-1.20","v":"123456789","h":"0.00000950","l":"0.00000880"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tick, ok := ev.(TickerEvent)
	if !ok {
		t.Fatalf("expected TickerEvent, got %T", ev)
	}
	if got := tick.LastPrice.String(); got != "0.00000899" {
		t.Fatalf("last price = %s, want 0.00000899", got)
	}
	if got := tick.Change24h.String(); got != "-1.2" {
		t.Fatalf("change = %s, want -1.2", got)
	}
}

func TestParseDepthRejectsCrossedBook(t *testing.T) {
	_, err := parseDepthMessage("btcusdt", []byte(`{"lastUpdateId":7,"bids":[["100.70","1.0"]],"asks":[["100.60","0.5"]]}`))
	if err == nil {
		t.Fatalf("crossed snapshot must be dropped with an error")
	}

	ev, err := parseDepthMessage("btcusdt", []byte(`{"lastUpdateId":8,"bids":[["100.50","1.0"]],"asks":[["100.60","0.5"]]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	de, ok := ev.(DepthEvent)
	if !ok {
		t.Fatalf("expected DepthEvent, got %T", ev)
	}
	if de.Crossed() {
		t.Fatalf("well-formed snapshot reported crossed")
	}
}

func TestParseControlFrameIgnored(t *testing.T) {
	ev, err := parseKlineMessage([]byte(`{"result":null,"id":1}`))
	if err != nil {
		t.Fatalf("control frame should not error: %v", err)
	}
	if ev != nil {
		t.Fatalf("control frame should yield no event")
	}
}
