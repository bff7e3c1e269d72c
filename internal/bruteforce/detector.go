package bruteforce

import (
	"sync/atomic"
	"time"
)

// TrackerStore owns tracker instances and serializes access per MAC. fn must
// not retain the tracker after it returns.
type TrackerStore interface {
	WithTracker(mac string, fn func(t *Tracker))
}

type Detector struct {
	store  TrackerStore
	policy atomic.Value
}

func NewDetector(store TrackerStore, p Policy) *Detector {
	d := &Detector{store: store}
	d.SetPolicy(p)
	return d
}

func (d *Detector) SetPolicy(p Policy) {
	d.policy.Store(p.normalized())
}

func (d *Detector) Policy() Policy {
	if v := d.policy.Load(); v != nil {
		return v.(Policy)
	}
	return DefaultPolicy()
}

// Attempt records a qualifying frame from mac observed at at.
func (d *Detector) Attempt(mac string, at time.Time) Outcome {
	p := d.Policy()
	var out Outcome
	d.store.WithTracker(mac, func(t *Tracker) {
		out = t.Record(at, p)
	})
	return out
}
