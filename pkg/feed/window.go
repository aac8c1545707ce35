// Package feed maintains the live sample window behind the real-time chart.
//
// A Feed polls an adapters.Adapter on a fixed interval, stamps each value
// with the wall-clock time of the tick, and keeps the most recent samples in
// a bounded FIFO Window. Subscribers receive a copy of the window after
// every successful tick.
package feed

import "time"

// DefaultCapacity is the number of samples kept by a window.
const DefaultCapacity = 10

// LabelLayout is the HH:MM:SS layout used for sample timestamps.
const LabelLayout = "15:04:05"

// Sample is one observation produced by a feed tick. Samples are immutable
// once created.
type Sample struct {
	Timestamp string    `json:"timestamp"`
	Value     float64   `json:"value"`
	Time      time.Time `json:"-"`
}

// Window is an ordered, bounded sequence of samples. The oldest sample is
// evicted first once the capacity is reached.
//
// Window is not safe for concurrent use; Feed guards its own window.
type Window struct {
	capacity int
	samples  []Sample
}

// NewWindow returns an empty window. A capacity <= 0 uses DefaultCapacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		capacity: capacity,
		samples:  make([]Sample, 0, capacity),
	}
}

// Push appends s and evicts from the front until the window fits.
func (w *Window) Push(s Sample) {
	w.samples = append(w.samples, s)
	if over := len(w.samples) - w.capacity; over > 0 {
		// Shift in place so the backing array never grows past capacity+1.
		n := copy(w.samples, w.samples[over:])
		clear(w.samples[n:])
		w.samples = w.samples[:n]
	}
}

// Samples returns a copy of the window, oldest first.
func (w *Window) Samples() []Sample {
	out := make([]Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Len returns the number of samples held.
func (w *Window) Len() int { return len(w.samples) }

// Cap returns the window capacity.
func (w *Window) Cap() int { return w.capacity }

// Last returns the most recent sample.
func (w *Window) Last() (Sample, bool) {
	if len(w.samples) == 0 {
		return Sample{}, false
	}
	return w.samples[len(w.samples)-1], true
}
