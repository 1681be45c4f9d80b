package live

import "time"

// RateWindow estimates message frequency from a sliding window of arrival
// times. Pushing beyond capacity evicts the oldest sample. It is not
// synchronized; callers serialize access.
type RateWindow struct {
	samples []time.Time
	cap     int
}

// NewRateWindow returns a window holding at most capacity samples.
func NewRateWindow(capacity int) *RateWindow {
	if capacity < 2 {
		capacity = 2
	}
	return &RateWindow{samples: make([]time.Time, 0, capacity), cap: capacity}
}

// Push records one arrival.
func (w *RateWindow) Push(t time.Time) {
	if len(w.samples) == w.cap {
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:w.cap-1]
	}
	w.samples = append(w.samples, t)
}

// Rate returns messages per second across the window. Fewer than two
// samples, or a span of zero, yields 0.
func (w *RateWindow) Rate() float64 {
	if len(w.samples) < 2 {
		return 0
	}
	span := w.samples[len(w.samples)-1].Sub(w.samples[0])
	if span <= 0 {
		return 0
	}
	return float64(len(w.samples)-1) / span.Seconds()
}

// Len returns the current sample count.
func (w *RateWindow) Len() int {
	return len(w.samples)
}
