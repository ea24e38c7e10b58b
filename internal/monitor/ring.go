package monitor

// ring keeps the most recent samples up to a fixed capacity.
type ring struct {
	buf   []float64
	start int
	n     int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]float64, capacity)}
}

func (r *ring) push(v float64) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) len() int { return r.n }

// tailMean averages the last k samples. k must not exceed len().
func (r *ring) tailMean(k int) float64 {
	if k <= 0 {
		return 0
	}
	var sum float64
	for i := r.n - k; i < r.n; i++ {
		sum += r.buf[(r.start+i)%len(r.buf)]
	}
	return sum / float64(k)
}

// values returns the samples oldest first.
func (r *ring) values() []float64 {
	out := make([]float64, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
