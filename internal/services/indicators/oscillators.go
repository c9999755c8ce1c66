package indicators

// RSI computes the relative strength index with Wilder smoothing over window
// n. The first n points are invalid (n deltas are needed before the first
// average). A fully flat window, where both average gain and average loss
// are zero, yields the neutral value 50.
func RSI(values []float64, n int) []Point {
	out := make([]Point, len(values))
	if n <= 0 || len(values) < n+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= n; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(n)
	avgLoss /= float64(n)
	out[n] = valid(rsiValue(avgGain, avgLoss))

	for i := n + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(n-1) + gain) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + loss) / float64(n)
		out[i] = valid(rsiValue(avgGain, avgLoss))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	switch {
	case avgGain == 0 && avgLoss == 0:
		return 50
	case avgLoss == 0:
		return 100
	case avgGain == 0:
		return 0
	default:
		rs := avgGain / avgLoss
		return 100 - 100/(1+rs)
	}
}

// MACDSeries holds the three aligned output series of MACD.
type MACDSeries struct {
	Line      []Point
	Signal    []Point
	Histogram []Point
}

// MACD computes EMA(fast) - EMA(slow), an EMA(signal) of that difference,
// and the histogram (line minus signal). Line points are valid from index
// slow-1, signal and histogram from slow-1 + signal-1.
func MACD(values []float64, fast, slow, signal int) MACDSeries {
	n := len(values)
	res := MACDSeries{
		Line:      make([]Point, n),
		Signal:    make([]Point, n),
		Histogram: make([]Point, n),
	}
	if fast <= 0 || slow <= fast || signal <= 0 || n < slow {
		return res
	}

	emaFast := EMA(values, fast)
	emaSlow := EMA(values, slow)
	lineVals := make([]float64, 0, n-slow+1)
	for i := slow - 1; i < n; i++ {
		v := emaFast[i].Value - emaSlow[i].Value
		res.Line[i] = valid(v)
		lineVals = append(lineVals, v)
	}

	sig := EMA(lineVals, signal)
	for j, p := range sig {
		if !p.Valid {
			continue
		}
		i := slow - 1 + j
		res.Signal[i] = valid(p.Value)
		res.Histogram[i] = valid(res.Line[i].Value - p.Value)
	}
	return res
}
