package bruteforce

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netwarden/internal/model"
)

const mac = "AA:BB:CC:DD:EE:FF"

var t0 = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

type mapStore struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
}

func (m *mapStore) WithTracker(key string, fn func(*Tracker)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trackers == nil {
		m.trackers = map[string]*Tracker{}
	}
	tr, ok := m.trackers[key]
	if !ok {
		tr = NewTracker(key)
		m.trackers[key] = tr
	}
	fn(tr)
}

func sec(n int) time.Time {
	return t0.Add(time.Duration(n) * time.Second)
}

func TestFiveAttemptsAlertOnce(t *testing.T) {
	d := NewDetector(&mapStore{}, DefaultPolicy())
	alerts := 0
	for i := 0; i < 5; i++ {
		out := d.Attempt(mac, sec(i*10))
		if out.Alert {
			alerts++
			assert.Equal(t, 5, out.Attempts)
			assert.Equal(t, StateAlerted, out.State)
		}
	}
	assert.Equal(t, 1, alerts)

	out := d.Attempt(mac, sec(50))
	assert.False(t, out.Alert, "sixth attempt inside cooldown")
	assert.Equal(t, StateCooldown, out.State)
}

func TestAlertAgainAfterCooldown(t *testing.T) {
	d := NewDetector(&mapStore{}, DefaultPolicy())
	for i := 0; i < 5; i++ {
		d.Attempt(mac, sec(i))
	}
	// lastAlert is at +4s
	require.False(t, d.Attempt(mac, sec(14)).Alert)

	for _, off := range []int{297, 298, 299, 300} {
		out := d.Attempt(mac, sec(4+off))
		require.False(t, out.Alert, "offset %d", off)
	}
	out := d.Attempt(mac, sec(4+301))
	assert.True(t, out.Alert)
	assert.Equal(t, 5, out.Attempts)

	assert.False(t, d.Attempt(mac, sec(4+302)).Alert)
}

func TestBurstProducesSingleAlert(t *testing.T) {
	d := NewDetector(&mapStore{}, DefaultPolicy())
	alerts := 0
	for i := 0; i < 500; i++ {
		if d.Attempt(mac, t0.Add(time.Duration(i)*100*time.Millisecond)).Alert {
			alerts++
		}
	}
	assert.Equal(t, 1, alerts)
}

func TestSpreadOutAttemptsNeverAlert(t *testing.T) {
	d := NewDetector(&mapStore{}, DefaultPolicy())
	for i := 0; i < 20; i++ {
		out := d.Attempt(mac, sec(i*20))
		require.False(t, out.Alert)
		require.LessOrEqual(t, out.Attempts, 4)
	}
}

func TestCooldownReturnsToTracking(t *testing.T) {
	p := DefaultPolicy()
	tr := NewTracker(mac)
	for i := 0; i < 5; i++ {
		tr.Record(sec(i), p)
	}
	assert.Equal(t, StateCooldown, tr.State(sec(100), p))
	tr.Record(sec(350), p)
	assert.Equal(t, StateTracking, tr.State(sec(351), p))
	assert.Equal(t, StateIdle, tr.State(sec(1000), p))
}

func TestLateAttemptIsOrdered(t *testing.T) {
	p := DefaultPolicy()
	tr := NewTracker(mac)
	tr.Record(sec(10), p)
	tr.Record(sec(5), p)
	tr.Record(sec(20), p)
	require.NoError(t, tr.Validate(sec(20), p))
	assert.Equal(t, 3, tr.Summary(sec(20), p).Attempts)
}

func TestPrunedTrackerEqualsFresh(t *testing.T) {
	p := DefaultPolicy()
	tr := NewTracker(mac)
	for i := 0; i < 6; i++ {
		tr.Record(sec(i), p)
	}
	tr.Prune(sec(1000), p)
	assert.Equal(t, NewTracker(mac), tr)
	assert.True(t, tr.Idle(sec(1000), p))

	fresh := NewTracker(mac)
	later := sec(2000)
	assert.Equal(t, fresh.Record(later, p), tr.Record(later, p))
	assert.Equal(t, fresh.Summary(later, p), tr.Summary(later, p))
	assert.Equal(t, fresh, tr)
}

func TestCorruptedTrackerIsReset(t *testing.T) {
	p := DefaultPolicy()
	tr := NewTracker(mac)
	tr.lastAlert = sec(100000)
	err := tr.Validate(sec(0), p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrStateCorruption))

	out := tr.Record(sec(0), p)
	assert.True(t, out.Reset)
	assert.Equal(t, 1, out.Attempts)
	assert.Nil(t, tr.Summary(sec(0), p).LastAlert)
}

func TestSummary(t *testing.T) {
	p := DefaultPolicy()
	tr := NewTracker(mac)
	for i := 0; i < 5; i++ {
		tr.Record(sec(i), p)
	}
	s := tr.Summary(sec(30), p)
	assert.Equal(t, mac, s.MAC)
	assert.Equal(t, string(StateCooldown), s.State)
	assert.Equal(t, 5, s.Attempts)
	require.NotNil(t, s.LastAlert)
	assert.True(t, s.LastAlert.Equal(sec(4)))
}
