package indicators

// SMA computes the simple moving average with window n. The first n-1 points
// are invalid.
func SMA(values []float64, n int) []Point {
	out := make([]Point, len(values))
	if n <= 0 || len(values) < n {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= n {
			sum -= values[i-n]
		}
		if i >= n-1 {
			out[i] = valid(sum / float64(n))
		}
	}
	return out
}

// EMA computes the exponential moving average with window n, seeded with the
// SMA of the first window. At the seed point EMA equals SMA by construction.
func EMA(values []float64, n int) []Point {
	out := make([]Point, len(values))
	if n <= 0 || len(values) < n {
		return out
	}
	seed := 0.0
	for i := 0; i < n; i++ {
		seed += values[i]
	}
	seed /= float64(n)
	out[n-1] = valid(seed)

	alpha := 2.0 / (float64(n) + 1.0)
	prev := seed
	for i := n; i < len(values); i++ {
		prev = alpha*values[i] + (1-alpha)*prev
		out[i] = valid(prev)
	}
	return out
}
