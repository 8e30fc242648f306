package portfolio

import "math"

// returnWindow is a bounded ring buffer of log returns.
type returnWindow struct {
	buf   []float64
	next  int
	count int
}

func newReturnWindow(size int) *returnWindow {
	return &returnWindow{buf: make([]float64, size)}
}

func (w *returnWindow) push(v float64) {
	w.buf[w.next] = v
	w.next = (w.next + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
}

// samples returns the window contents oldest first.
func (w *returnWindow) samples() []float64 {
	out := make([]float64, 0, w.count)
	start := w.next - w.count
	if start < 0 {
		start += len(w.buf)
	}
	for i := 0; i < w.count; i++ {
		out = append(out, w.buf[(start+i)%len(w.buf)])
	}
	return out
}

// stddev is the sample standard deviation of the window.
func (w *returnWindow) stddev() float64 {
	s := w.samples()
	if len(s) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range s {
		mean += v
	}
	mean /= float64(len(s))
	variance := 0.0
	for _, v := range s {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(s)-1))
}

// GetCorrelationMatrix computes pairwise Pearson correlations over the
// rolling return windows. The diagonal is exactly 1.0 for symbols with at
// least two samples; pairs with insufficient samples report 0.
func (c *Coordinator) GetCorrelationMatrix() map[string]map[string]float64 {
	c.mu.RLock()
	symbols := c.symbols
	samples := make(map[string][]float64, len(symbols))
	for _, symbol := range symbols {
		if w, ok := c.returns[symbol]; ok {
			samples[symbol] = w.samples()
		}
	}
	c.mu.RUnlock()

	matrix := make(map[string]map[string]float64, len(symbols))
	for _, a := range symbols {
		matrix[a] = make(map[string]float64, len(symbols))
		for _, b := range symbols {
			if a == b {
				if len(samples[a]) >= 2 {
					matrix[a][b] = 1.0
				} else {
					matrix[a][b] = 0
				}
				continue
			}
			matrix[a][b] = pearson(samples[a], samples[b])
		}
	}
	return matrix
}

// pearson correlates the trailing overlap of two sample series; fewer than
// two aligned samples, or a flat series, yields 0.
func pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	meanA, meanB := 0.0, 0.0
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	cov, varA, varB := 0.0, 0.0, 0.0
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	r := cov / math.Sqrt(varA*varB)
	// Clamp float noise back into [-1, 1].
	if r > 1 {
		r = 1
	} else if r < -1 {
		r = -1
	}
	return r
}
