package phy

import (
	"math"

	"github.com/doismellburning/athernet/internal/sample"
)

// ringBuffer is a fixed-capacity circular buffer of float64 samples; it
// backs both the short correlation window and the longer stream window the
// framer keeps, giving O(1) push with no unbounded growth.
type ringBuffer struct {
	buf   []float64
	start int
	count int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{buf: make([]float64, capacity)}
}

// push appends v, evicting and returning the oldest sample if already full.
func (r *ringBuffer) push(v float64) (evicted float64, wasFull bool) {
	if r.count == len(r.buf) {
		evicted = r.buf[r.start]
		r.buf[r.start] = v
		r.start = (r.start + 1) % len(r.buf)
		return evicted, true
	}

	idx := (r.start + r.count) % len(r.buf)
	r.buf[idx] = v
	r.count++
	return 0, false
}

// at returns the i-th oldest element currently held (0 is the oldest).
func (r *ringBuffer) at(i int) float64 {
	return r.buf[(r.start+i)%len(r.buf)]
}

func (r *ringBuffer) clear() {
	for i := range r.buf {
		r.buf[i] = 0
	}
	r.start = 0
	r.count = 0
}

// correlationWindow is a sliding window of exactly preambleLen samples,
// tracking its running square sum so norm() is O(1) per sample rather than
// re-summing the whole window every call.
type correlationWindow struct {
	ring      *ringBuffer
	squareSum float64
}

func newCorrelationWindow(capacity int) *correlationWindow {
	return &correlationWindow{ring: newRingBuffer(capacity)}
}

func (w *correlationWindow) onSample(v sample.Sample) {
	evicted, wasFull := w.ring.push(v)
	if wasFull {
		w.squareSum -= evicted * evicted
	}
	w.squareSum += v * v
}

func (w *correlationWindow) norm() float64 {
	return math.Sqrt(w.squareSum)
}

// samples returns the window contents oldest-first, matching the order the
// preamble reference sequence is stored in so a plain dot product lines up.
func (w *correlationWindow) samples() []sample.Sample {
	out := make([]sample.Sample, w.ring.count)
	for i := range out {
		out[i] = w.ring.at(i)
	}
	return out
}

func (w *correlationWindow) clear() {
	w.ring.clear()
	w.squareSum = 0
}

// streamWindow holds the last `capacity` raw samples along with a smoothed
// power estimate, and can extract an arbitrary absolute-index range out of
// what it currently retains (used to seed the payload buffer with samples
// consumed between the correlation peak and the falling edge).
type streamWindow struct {
	ring        *ringBuffer
	headIndex   int // absolute (1-based) index of the oldest retained sample
	smoothPower float64
}

func newStreamWindow(capacity int, initPower float64) *streamWindow {
	return &streamWindow{ring: newRingBuffer(capacity), headIndex: 1, smoothPower: initPower}
}

func (s *streamWindow) onSample(v sample.Sample) {
	s.smoothPower = s.smoothPower*63.0/64.0 + v*v/64.0

	_, wasFull := s.ring.push(v)
	if wasFull {
		s.headIndex++
	}
}

// clonedRange returns the retained samples whose absolute index falls in
// [start, end).
func (s *streamWindow) clonedRange(start, end int) []sample.Sample {
	lo := start - s.headIndex
	hi := end - s.headIndex

	out := make([]sample.Sample, hi-lo)
	for i := range out {
		out[i] = s.ring.at(lo + i)
	}
	return out
}
