package indicators

import (
	"math"
	"testing"
	"time"

	"MarketPull/internal/domain/models"

	"github.com/shopspring/decimal"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMAGoldenVector(t *testing.T) {
	got := SMA([]float64{10, 11, 12, 11, 13}, 3)
	want := []Point{
		{},
		{},
		{Value: 11.0, Valid: true},
		{Value: 34.0 / 3.0, Valid: true},
		{Value: 12.0, Valid: true},
	}
	for i := range want {
		if got[i].Valid != want[i].Valid {
			t.Fatalf("point %d: valid=%v want %v", i, got[i].Valid, want[i].Valid)
		}
		if got[i].Valid && !almostEqual(got[i].Value, want[i].Value) {
			t.Fatalf("point %d: got %v want %v", i, got[i].Value, want[i].Value)
		}
	}
}

func TestSMAShortSeries(t *testing.T) {
	got := SMA([]float64{10, 11}, 3)
	for i, p := range got {
		if p.Valid {
			t.Fatalf("point %d should be invalid for short input", i)
		}
	}
}

func TestEMASeedEqualsSMA(t *testing.T) {
	values := []float64{10, 11, 12, 11, 13, 14, 13, 15}
	n := 4
	ema := EMA(values, n)
	sma := SMA(values, n)
	if !ema[n-1].Valid || !sma[n-1].Valid {
		t.Fatalf("seed point must be valid")
	}
	if !almostEqual(ema[n-1].Value, sma[n-1].Value) {
		t.Fatalf("ema seed %v != sma %v", ema[n-1].Value, sma[n-1].Value)
	}
	for i := 0; i < n-1; i++ {
		if ema[i].Valid {
			t.Fatalf("warm-up point %d should be invalid", i)
		}
	}
}

func TestEMATracksMomentum(t *testing.T) {
	// Accelerating series: EMA weights recent prices and leans above SMA.
	values := make([]float64, 10)
	for i := range values {
		values[i] = float64(i * i)
	}
	n := 3
	ema := EMA(values, n)
	sma := SMA(values, n)
	for i := n; i < len(values); i++ {
		if ema[i].Value <= sma[i].Value {
			t.Fatalf("point %d: ema %v should exceed sma %v on rising series", i, ema[i].Value, sma[i].Value)
		}
	}
}

func TestRSIBounds(t *testing.T) {
	values := []float64{44, 44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84,
		46.08, 45.89, 46.03, 45.61, 46.28, 46.28, 46.00, 46.03, 46.41, 46.22}
	for _, p := range RSI(values, 14) {
		if !p.Valid {
			continue
		}
		if p.Value < 0 || p.Value > 100 {
			t.Fatalf("rsi %v out of [0,100]", p.Value)
		}
	}
}

func TestRSIMonotoneSeries(t *testing.T) {
	rising := make([]float64, 30)
	falling := make([]float64, 30)
	for i := range rising {
		rising[i] = float64(i)
		falling[i] = float64(len(falling) - i)
	}

	up := RSI(rising, 14)
	if last := up[len(up)-1]; !last.Valid || last.Value != 100 {
		t.Fatalf("monotonically rising series should reach RSI 100, got %v", last.Value)
	}
	down := RSI(falling, 14)
	if last := down[len(down)-1]; !last.Valid || last.Value != 0 {
		t.Fatalf("monotonically falling series should reach RSI 0, got %v", last.Value)
	}
}

func TestRSIFlatSeriesNeutral(t *testing.T) {
	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 42
	}
	out := RSI(flat, 14)
	last := out[len(out)-1]
	if !last.Valid || last.Value != 50 {
		t.Fatalf("flat series should yield neutral RSI 50, got %v", last.Value)
	}
}

func TestRSIWarmup(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}
	out := RSI(values, 5)
	for i := 0; i < 5; i++ {
		if out[i].Valid {
			t.Fatalf("point %d should be invalid before n deltas", i)
		}
	}
	if !out[5].Valid {
		t.Fatalf("point 5 should be valid")
	}
}

func TestMACDAlignment(t *testing.T) {
	values := make([]float64, 60)
	for i := range values {
		values[i] = 100 + math.Sin(float64(i)/5)*10
	}
	m := MACD(values, 12, 26, 9)

	for i := 0; i < 25; i++ {
		if m.Line[i].Valid {
			t.Fatalf("macd line valid too early at %d", i)
		}
	}
	if !m.Line[25].Valid {
		t.Fatalf("macd line should be valid at slow-1")
	}
	for i := 0; i < 33; i++ {
		if m.Signal[i].Valid {
			t.Fatalf("signal valid too early at %d", i)
		}
	}
	if !m.Signal[33].Valid {
		t.Fatalf("signal should be valid at slow-1+signal-1")
	}
	for i := 33; i < len(values); i++ {
		want := m.Line[i].Value - m.Signal[i].Value
		if !almostEqual(m.Histogram[i].Value, want) {
			t.Fatalf("histogram at %d: got %v want %v", i, m.Histogram[i].Value, want)
		}
	}
}

func TestBollingerBands(t *testing.T) {
	values := []float64{2, 4, 6, 8, 10, 12}
	b := Bollinger(values, 5, 2)

	if b.Middle[3].Valid {
		t.Fatalf("bands valid before window filled")
	}
	// window [2,4,6,8,10]: mean 6, population stddev sqrt(8)
	if !almostEqual(b.Middle[4].Value, 6) {
		t.Fatalf("middle got %v want 6", b.Middle[4].Value)
	}
	sd := math.Sqrt(8)
	if !almostEqual(b.Upper[4].Value, 6+2*sd) {
		t.Fatalf("upper got %v want %v", b.Upper[4].Value, 6+2*sd)
	}
	if !almostEqual(b.Lower[4].Value, 6-2*sd) {
		t.Fatalf("lower got %v want %v", b.Lower[4].Value, 6-2*sd)
	}
}

func barsFromOHLC(rows [][4]float64) []models.Bar {
	bars := make([]models.Bar, len(rows))
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	for i, r := range rows {
		bars[i] = models.Bar{
			Symbol:    "BTCUSDT",
			Timeframe: "1m",
			Open:      decimal.NewFromFloat(r[0]),
			High:      decimal.NewFromFloat(r[1]),
			Low:       decimal.NewFromFloat(r[2]),
			Close:     decimal.NewFromFloat(r[3]),
			Volume:    decimal.NewFromInt(1),
			OpenTime:  start.Add(time.Duration(i) * time.Minute),
			CloseTime: start.Add(time.Duration(i+1) * time.Minute),
			Closed:    true,
		}
	}
	return bars
}

func TestATRWilder(t *testing.T) {
	bars := barsFromOHLC([][4]float64{
		{10, 12, 9, 11},  // tr = 3
		{11, 13, 10, 12}, // tr = max(3, 2, 1) = 3
		{12, 16, 11, 15}, // tr = max(5, 4, 1) = 5
		{15, 17, 14, 16}, // tr = max(3, 2, 1) = 3
	})
	out := ATR(bars, 3)
	if out[0].Valid || out[1].Valid {
		t.Fatalf("atr valid before window filled")
	}
	first := (3.0 + 3.0 + 5.0) / 3.0
	if !almostEqual(out[2].Value, first) {
		t.Fatalf("first atr got %v want %v", out[2].Value, first)
	}
	next := (first*2 + 3) / 3
	if !almostEqual(out[3].Value, next) {
		t.Fatalf("smoothed atr got %v want %v", out[3].Value, next)
	}
}

func TestOBVGoldenVector(t *testing.T) {
	closes := []float64{10, 11, 9, 9, 12}
	volumes := []float64{100, 50, 80, 20, 60}
	want := []float64{100, 150, 70, 70, 130}
	out := OBV(closes, volumes)
	for i := range want {
		if !out[i].Valid {
			t.Fatalf("obv point %d invalid", i)
		}
		if !almostEqual(out[i].Value, want[i]) {
			t.Fatalf("obv point %d: got %v want %v", i, out[i].Value, want[i])
		}
	}
}

func TestOBVMismatchedLengths(t *testing.T) {
	out := OBV([]float64{1, 2}, []float64{10})
	for i, p := range out {
		if p.Valid {
			t.Fatalf("point %d should be invalid on mismatched input", i)
		}
	}
}
