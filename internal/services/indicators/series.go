// Package indicators provides pure technical-indicator transforms over
// ordered price/volume series.
//
// Every transform is a deterministic function of its input with no hidden
// state. Outputs align 1:1 with the input series; points that fall inside a
// lookback warm-up are marked invalid rather than emitted as zero.
package indicators

import (
	"MarketPull/internal/domain/models"
)

// Point is one output value of an indicator series. Valid is false for the
// warm-up points before the lookback window is filled.
type Point struct {
	Value float64
	Valid bool
}

func valid(v float64) Point { return Point{Value: v, Valid: true} }

// Closes extracts close prices from a bar series as float64.
// Indicator math is statistical, not ledger arithmetic, so the exact-decimal
// requirement on stored prices does not extend here.
func Closes(bars []models.Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Close.InexactFloat64()
	}
	return out
}

// Volumes extracts volumes from a bar series as float64.
func Volumes(bars []models.Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Volume.InexactFloat64()
	}
	return out
}
