// Package bruteforce implements the per-MAC authentication brute-force state
// machine: Idle → Tracking → Alerted → Cooldown → Tracking.
package bruteforce

import (
	"fmt"
	"sort"
	"time"

	"netwarden/internal/model"
)

type State string

const (
	StateIdle     State = "idle"
	StateTracking State = "tracking"
	StateAlerted  State = "alerted"
	StateCooldown State = "cooldown"
)

// maxAttempts bounds a tracker even when the window is misconfigured.
const maxAttempts = 4096

type Policy struct {
	Threshold int
	Window    time.Duration
	Cooldown  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Threshold: 5, Window: 60 * time.Second, Cooldown: 300 * time.Second}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.Threshold <= 0 {
		p.Threshold = d.Threshold
	}
	if p.Window <= 0 {
		p.Window = d.Window
	}
	if p.Cooldown < 0 {
		p.Cooldown = 0
	}
	return p
}

// Tracker holds one MAC's attempt history. It is not safe for concurrent
// use; the state store serializes access per key.
type Tracker struct {
	mac       string
	attempts  []time.Time
	lastAlert time.Time
}

func NewTracker(mac string) *Tracker {
	return &Tracker{mac: mac}
}

type Outcome struct {
	MAC      string
	Alert    bool
	Attempts int
	State    State
	// Reset is set when a corrupted tracker was discarded before recording.
	Reset bool
}

// Record adds one qualifying attempt and reports whether it crosses into
// Alerted. At most one alert is produced per cooldown period.
func (t *Tracker) Record(at time.Time, p Policy) Outcome {
	p = p.normalized()
	out := Outcome{MAC: t.mac}
	if err := t.Validate(at, p); err != nil {
		t.Reset()
		out.Reset = true
	}

	t.insert(at)
	now := t.attempts[len(t.attempts)-1]
	t.prune(now, p)

	out.Attempts = len(t.attempts)
	if out.Attempts >= p.Threshold && (t.lastAlert.IsZero() || now.Sub(t.lastAlert) >= p.Cooldown) {
		t.lastAlert = now
		out.Alert = true
		out.State = StateAlerted
		return out
	}
	out.State = t.State(now, p)
	return out
}

func (t *Tracker) insert(at time.Time) {
	i := sort.Search(len(t.attempts), func(i int) bool { return t.attempts[i].After(at) })
	t.attempts = append(t.attempts, time.Time{})
	copy(t.attempts[i+1:], t.attempts[i:])
	t.attempts[i] = at
	if len(t.attempts) > maxAttempts {
		t.attempts = append([]time.Time(nil), t.attempts[len(t.attempts)-maxAttempts:]...)
	}
}

func (t *Tracker) prune(now time.Time, p Policy) {
	cut := 0
	for cut < len(t.attempts) && now.Sub(t.attempts[cut]) > p.Window {
		cut++
	}
	if cut == len(t.attempts) {
		t.attempts = nil
		return
	}
	if cut > 0 {
		t.attempts = append([]time.Time(nil), t.attempts[cut:]...)
	}
}

// Prune drops attempts outside the window and forgets an expired alert, so a
// tracker with nothing left is indistinguishable from a new one.
func (t *Tracker) Prune(now time.Time, p Policy) {
	p = p.normalized()
	t.prune(now, p)
	if !t.lastAlert.IsZero() && now.Sub(t.lastAlert) >= p.Cooldown {
		t.lastAlert = time.Time{}
	}
}

// Idle reports whether the tracker holds nothing worth keeping at now.
func (t *Tracker) Idle(now time.Time, p Policy) bool {
	return t.State(now, p.normalized()) == StateIdle
}

func (t *Tracker) State(now time.Time, p Policy) State {
	p = p.normalized()
	if !t.lastAlert.IsZero() && now.Sub(t.lastAlert) < p.Cooldown {
		return StateCooldown
	}
	for _, at := range t.attempts {
		if now.Sub(at) <= p.Window {
			return StateTracking
		}
	}
	return StateIdle
}

// Validate checks the tracker invariants relative to now.
func (t *Tracker) Validate(now time.Time, p Policy) error {
	p = p.normalized()
	if !t.lastAlert.IsZero() && t.lastAlert.Sub(now) > p.Cooldown+p.Window {
		return fmt.Errorf("%w: tracker %s last alert %s is ahead of %s", model.ErrStateCorruption, t.mac, t.lastAlert, now)
	}
	if len(t.attempts) > maxAttempts {
		return fmt.Errorf("%w: tracker %s holds %d attempts", model.ErrStateCorruption, t.mac, len(t.attempts))
	}
	for i := 1; i < len(t.attempts); i++ {
		if t.attempts[i].Before(t.attempts[i-1]) {
			return fmt.Errorf("%w: tracker %s attempts out of order", model.ErrStateCorruption, t.mac)
		}
	}
	return nil
}

func (t *Tracker) Reset() {
	t.attempts = nil
	t.lastAlert = time.Time{}
}

func (t *Tracker) Summary(now time.Time, p Policy) model.TrackerSummary {
	p = p.normalized()
	s := model.TrackerSummary{MAC: t.mac, State: string(t.State(now, p))}
	for _, at := range t.attempts {
		if now.Sub(at) <= p.Window {
			s.Attempts++
		}
	}
	if !t.lastAlert.IsZero() {
		last := t.lastAlert
		s.LastAlert = &last
	}
	return s
}
