package indicators

import (
	"math"

	"MarketPull/internal/domain/models"
)

// BollingerSeries holds the three aligned bands.
type BollingerSeries struct {
	Upper  []Point
	Middle []Point
	Lower  []Point
}

// Bollinger computes SMA(n) +/- k standard deviations. Population standard
// deviation is used throughout (the window is the whole population of the
// band, not a sample from it).
func Bollinger(values []float64, n int, k float64) BollingerSeries {
	res := BollingerSeries{
		Upper:  make([]Point, len(values)),
		Middle: make([]Point, len(values)),
		Lower:  make([]Point, len(values)),
	}
	if n <= 0 || len(values) < n {
		return res
	}
	mid := SMA(values, n)
	for i := n - 1; i < len(values); i++ {
		m := mid[i].Value
		var ss float64
		for j := i - n + 1; j <= i; j++ {
			d := values[j] - m
			ss += d * d
		}
		sd := math.Sqrt(ss / float64(n))
		res.Middle[i] = valid(m)
		res.Upper[i] = valid(m + k*sd)
		res.Lower[i] = valid(m - k*sd)
	}
	return res
}

// ATR computes the Wilder-smoothed average true range over window n. The
// first true range is high-low; later ones account for gaps against the
// previous close. Points are valid from index n-1.
func ATR(bars []models.Bar, n int) []Point {
	out := make([]Point, len(bars))
	if n <= 0 || len(bars) < n {
		return out
	}

	tr := make([]float64, len(bars))
	for i := range bars {
		high := bars[i].High.InexactFloat64()
		low := bars[i].Low.InexactFloat64()
		if i == 0 {
			tr[i] = high - low
			continue
		}
		prevClose := bars[i-1].Close.InexactFloat64()
		tr[i] = math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
	}

	sum := 0.0
	for i := 0; i < n; i++ {
		sum += tr[i]
	}
	atr := sum / float64(n)
	out[n-1] = valid(atr)
	for i := n; i < len(bars); i++ {
		atr = (atr*float64(n-1) + tr[i]) / float64(n)
		out[i] = valid(atr)
	}
	return out
}
