package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"MarketPull/internal/domain/models"

	"github.com/shopspring/decimal"
)

type fakeProc struct {
	mu    sync.Mutex
	bars  []*models.Bar
	fail  bool
	delay time.Duration
}

func (f *fakeProc) Process(ctx context.Context, bar *models.Bar) error {
	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("downstream down")
	}
	f.bars = append(f.bars, bar)
	return nil
}

func (f *fakeProc) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bars)
}

func (f *fakeProc) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

type nopMetrics struct{}

func (nopMetrics) RecordMessageSent(string, string) {}
func (nopMetrics) RecordStreamEvent(string, string) {}
func (nopMetrics) RecordError(string)               {}
func (nopMetrics) RecordLastPrice(string, float64)  {}
func (nopMetrics) RecordLatency(string, float64)    {}
func (nopMetrics) RecordReconnect(string, string)   {}

func pipelineBar(symbol string, openMs int64, close string) *models.Bar {
	c, _ := decimal.NewFromString(close)
	open := time.UnixMilli(openMs)
	return &models.Bar{
		Symbol:    symbol,
		Timeframe: "1m",
		Open:      c,
		High:      c,
		Low:       c,
		Close:     c,
		Volume:    decimal.NewFromInt(1),
		OpenTime:  open,
		CloseTime: open.Add(time.Minute),
		Closed:    true,
	}
}

func TestPipelineForwardsValidBars(t *testing.T) {
	proc := &fakeProc{}
	p := NewRealtimePipeline(proc, nopMetrics{})

	if err := p.Process(context.Background(), pipelineBar("BTCUSDT", 1700000000000, "100")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if proc.count() != 1 {
		t.Fatalf("bar not forwarded")
	}
}

func TestPipelineDropsUnclosedBars(t *testing.T) {
	proc := &fakeProc{}
	p := NewRealtimePipeline(proc, nopMetrics{})

	bar := pipelineBar("BTCUSDT", 1700000000000, "100")
	bar.Closed = false
	if err := p.Process(context.Background(), bar); err != nil {
		t.Fatalf("unclosed bar should be dropped without error, got %v", err)
	}
	if proc.count() != 0 {
		t.Fatalf("unclosed bar must not reach downstream")
	}
}

func TestPipelineRejectsInvalidBars(t *testing.T) {
	proc := &fakeProc{}
	p := NewRealtimePipeline(proc, nopMetrics{})

	bar := pipelineBar("BTCUSDT", 1700000000000, "100")
	bar.High = decimal.NewFromInt(1) // high below open/close
	if err := p.Process(context.Background(), bar); err == nil {
		t.Fatalf("invalid bar should error")
	}
	if proc.count() != 0 {
		t.Fatalf("invalid bar must not reach downstream")
	}
}

func TestPipelineSuppressesIdenticalRedelivery(t *testing.T) {
	proc := &fakeProc{}
	p := NewRealtimePipeline(proc, nopMetrics{})
	ctx := context.Background()

	bar := pipelineBar("BTCUSDT", 1700000000000, "100")
	if err := p.Process(ctx, bar); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// reconnect replays the same closed bar
	if err := p.Process(ctx, pipelineBar("BTCUSDT", 1700000000000, "100")); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if proc.count() != 1 {
		t.Fatalf("identical redelivery must be suppressed, downstream saw %d", proc.count())
	}

	// a correction with the same key passes through
	if err := p.Process(ctx, pipelineBar("BTCUSDT", 1700000000000, "100.5")); err != nil {
		t.Fatalf("correction: %v", err)
	}
	if proc.count() != 2 {
		t.Fatalf("correction must reach downstream")
	}
}

func TestPipelineBuffersOnDownstreamFailure(t *testing.T) {
	proc := &fakeProc{}
	proc.setFail(true)
	p := NewRealtimePipeline(proc, nopMetrics{}, WithBufferSize(8))
	ctx := context.Background()

	p.Start(ctx)
	defer p.Stop()

	if err := p.Process(ctx, pipelineBar("BTCUSDT", 1700000000000, "100")); err != nil {
		t.Fatalf("process: %v", err)
	}

	proc.setFail(false)
	deadline := time.Now().Add(2 * time.Second)
	for proc.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if proc.count() != 1 {
		t.Fatalf("buffered bar was not flushed after recovery")
	}
}

func TestPipelineSlowDownstreamDoesNotBlockProcess(t *testing.T) {
	proc := &fakeProc{delay: 200 * time.Millisecond}
	p := NewRealtimePipeline(proc, nopMetrics{}, WithWorkers(1))
	ctx := context.Background()

	p.Start(ctx)
	defer p.Stop()

	start := time.Now()
	for i := 0; i < 4; i++ {
		open := int64(1700000000000 + i*60000)
		if err := p.Process(ctx, pipelineBar("BTCUSDT", open, "100")); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("dispatch blocked on slow downstream: took %v", elapsed)
	}
}

func TestPipelineStopWaitsForAcceptedWrites(t *testing.T) {
	proc := &fakeProc{delay: 50 * time.Millisecond}
	p := NewRealtimePipeline(proc, nopMetrics{}, WithWorkers(2))
	ctx := context.Background()

	p.Start(ctx)
	for i := 0; i < 3; i++ {
		open := int64(1700000000000 + i*60000)
		if err := p.Process(ctx, pipelineBar("BTCUSDT", open, "100")); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	p.Stop()

	if proc.count() != 3 {
		t.Fatalf("stop returned before accepted writes landed, got %d of 3", proc.count())
	}
}
