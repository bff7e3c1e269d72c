package window

import (
	"time"

	"netwarden/internal/model"
)

type Sample struct {
	At       time.Time
	Features model.FeatureVector
}

// ring keeps samples in timestamp order. Evicted entries are skipped via
// head and the backing slice is compacted once half of it is dead.
type ring struct {
	samples  []Sample
	head     int
	capacity int
}

func newRing(capacity int) *ring {
	initial := capacity
	if initial > 64 {
		initial = 64
	}
	return &ring{samples: make([]Sample, 0, initial), capacity: capacity}
}

func (r *ring) len() int {
	return len(r.samples) - r.head
}

func (r *ring) add(s Sample) {
	r.samples = append(r.samples, s)
	// Late arrivals are moved back into place.
	for i := len(r.samples) - 1; i > r.head && r.samples[i].At.Before(r.samples[i-1].At); i-- {
		r.samples[i], r.samples[i-1] = r.samples[i-1], r.samples[i]
	}
	for r.capacity > 0 && r.len() > r.capacity {
		r.samples[r.head] = Sample{}
		r.head++
	}
	r.compact()
}

func (r *ring) evict(cutoff time.Time) {
	for r.head < len(r.samples) {
		if !r.samples[r.head].At.Before(cutoff) {
			break
		}
		r.samples[r.head] = Sample{}
		r.head++
	}
	r.compact()
}

func (r *ring) compact() {
	if r.head > 0 && r.head*2 >= len(r.samples) {
		r.samples = append([]Sample{}, r.samples[r.head:]...)
		r.head = 0
	}
}

func (r *ring) live() []Sample {
	return r.samples[r.head:]
}
