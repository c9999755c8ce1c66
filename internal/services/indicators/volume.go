package indicators

// OBV computes on-balance volume: a running signed-volume total where the
// sign follows the close-over-close direction and a flat close contributes
// zero. The first point is the first volume (implicit zero baseline), so
// every output point is valid.
func OBV(closes, volumes []float64) []Point {
	if len(closes) != len(volumes) {
		return make([]Point, len(closes))
	}
	out := make([]Point, len(closes))
	if len(closes) == 0 {
		return out
	}
	obv := volumes[0]
	out[0] = valid(obv)
	for i := 1; i < len(closes); i++ {
		switch {
		case closes[i] > closes[i-1]:
			obv += volumes[i]
		case closes[i] < closes[i-1]:
			obv -= volumes[i]
		}
		out[i] = valid(obv)
	}
	return out
}
