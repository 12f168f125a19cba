package util

// Window is a fixed-capacity ring buffer of float64 samples. Appending
// beyond capacity overwrites the oldest sample, making the memory bound
// an invariant rather than a trimming chore.
type Window struct {
	buf   []float64
	head  int
	count int
}

// NewWindow creates a ring buffer holding at most capacity samples.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]float64, capacity)}
}

// Push appends a sample, evicting the oldest when full.
func (w *Window) Push(v float64) {
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
}

// Len returns the number of stored samples.
func (w *Window) Len() int { return w.count }

// Cap returns the fixed capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Values returns samples oldest-first as a fresh slice.
func (w *Window) Values() []float64 {
	out := make([]float64, w.count)
	start := w.head - w.count
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[((start+i)%len(w.buf)+len(w.buf))%len(w.buf)]
	}
	return out
}

// Last returns the most recent sample, or 0 when empty.
func (w *Window) Last() float64 {
	if w.count == 0 {
		return 0
	}
	return w.buf[((w.head-1)%len(w.buf)+len(w.buf))%len(w.buf)]
}

// Tail returns up to n most recent samples, oldest-first.
func (w *Window) Tail(n int) []float64 {
	vs := w.Values()
	if n >= len(vs) {
		return vs
	}
	return vs[len(vs)-n:]
}
