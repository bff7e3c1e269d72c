package response

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netwarden/internal/model"
)

type fakeFirewall struct {
	mu       sync.Mutex
	blocks   []string
	unblocks []string
	failures int
	gate     chan struct{}
}

func (f *fakeFirewall) Block(ctx context.Context, ip string) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, ip)
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return errors.New("iptables: resource busy")
	}
	return nil
}

func (f *fakeFirewall) Unblock(_ context.Context, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unblocks = append(f.unblocks, ip)
	return nil
}

func (f *fakeFirewall) blockCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blocks)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *fakeNotifier) Send(_ context.Context, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func testConfig() Config {
	return Config{
		DedupWindow:    5 * time.Minute,
		QueueSize:      16,
		Workers:        2,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		CallTimeout:    time.Second,
		LogLimit:       100,
	}
}

func ip(t *testing.T, s string) model.EntityKey {
	t.Helper()
	k, ok := model.IPKey(s)
	require.True(t, ok)
	return k
}

func waitTerminal(t *testing.T, e *Engine, id string) model.Action {
	t.Helper()
	var out model.Action
	require.Eventually(t, func() bool {
		a, ok := e.Action(id)
		out = a
		return ok && a.Status.Terminal()
	}, 2*time.Second, time.Millisecond)
	return out
}

func TestBlockTwiceDispatchesOnce(t *testing.T) {
	fw := &fakeFirewall{}
	e := New(fw, &fakeNotifier{}, testConfig(), nil)
	e.Start(context.Background())
	defer e.Shutdown(context.Background())

	target := ip(t, "203.0.113.9")
	first := e.Submit(Request{Type: model.ActionBlock, Target: target, Reason: "blacklisted"})
	second := e.Submit(Request{Type: model.ActionBlock, Target: target, Reason: "blacklisted"})

	assert.Equal(t, model.StatusPending, first.Status)
	assert.Equal(t, model.StatusDeduplicated, second.Status)
	assert.Equal(t, "ip:203.0.113.9|block", first.IdempotencyKey)

	done := waitTerminal(t, e, first.ID)
	assert.Equal(t, model.StatusSucceeded, done.Status)
	assert.Equal(t, 1, done.Attempts)
	assert.Equal(t, 1, fw.blockCalls())
	assert.Len(t, e.Actions(0), 1)
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	fw := &fakeFirewall{failures: 2}
	var mu sync.Mutex
	var seen []model.ActionStatus
	e := New(fw, nil, testConfig(), nil, WithObserver(func(a model.Action) {
		mu.Lock()
		seen = append(seen, a.Status)
		mu.Unlock()
	}))
	e.Start(context.Background())
	defer e.Shutdown(context.Background())

	a := e.Submit(Request{Type: model.ActionBlock, Target: ip(t, "198.51.100.4"), Reason: "test"})
	done := waitTerminal(t, e, a.ID)
	assert.Equal(t, model.StatusSucceeded, done.Status)
	assert.Equal(t, 3, done.Attempts)
	assert.Empty(t, done.LastError)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, model.StatusPendingRetry)
}

func TestPersistentFailureEndsFailed(t *testing.T) {
	fw := &fakeFirewall{failures: -1}
	e := New(fw, nil, testConfig(), nil)
	e.Start(context.Background())
	defer e.Shutdown(context.Background())

	target := ip(t, "198.51.100.5")
	a := e.Submit(Request{Type: model.ActionBlock, Target: target, Reason: "test"})
	done := waitTerminal(t, e, a.ID)
	assert.Equal(t, model.StatusFailed, done.Status)
	assert.Equal(t, 4, done.Attempts)
	assert.Contains(t, done.LastError, "resource busy")
	assert.Contains(t, done.LastError, model.ErrActuatorFailure.Error())

	// a failed action frees its dedup slot
	again := e.Submit(Request{Type: model.ActionBlock, Target: target, Reason: "test"})
	assert.Equal(t, model.StatusPending, again.Status)
}

func TestBlockRequiresIPTarget(t *testing.T) {
	fw := &fakeFirewall{}
	e := New(fw, nil, testConfig(), nil)
	mac, ok := model.MACKey("aa:bb:cc:dd:ee:ff")
	require.True(t, ok)

	a := e.Submit(Request{Type: model.ActionBlock, Target: mac, Reason: "test"})
	assert.Equal(t, model.StatusFailed, a.Status)
	assert.Contains(t, a.LastError, ErrInvalidTarget.Error())
	assert.Zero(t, fw.blockCalls())
}

func TestMissingActuatorIsNotRetried(t *testing.T) {
	e := New(nil, nil, testConfig(), nil)
	e.Start(context.Background())
	defer e.Shutdown(context.Background())

	a := e.Submit(Request{Type: model.ActionAlert, Target: ip(t, "192.0.2.1"), Reason: "traffic_spike"})
	done := waitTerminal(t, e, a.ID)
	assert.Equal(t, model.StatusFailed, done.Status)
	assert.Equal(t, 1, done.Attempts)
}

func TestFullQueueFailsWithoutBlocking(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	fw := &fakeFirewall{}
	e := New(fw, nil, cfg, nil)

	first := e.Submit(Request{Type: model.ActionBlock, Target: ip(t, "192.0.2.10"), Reason: "test"})
	second := e.Submit(Request{Type: model.ActionBlock, Target: ip(t, "192.0.2.11"), Reason: "test"})
	assert.Equal(t, model.StatusPending, first.Status)
	assert.Equal(t, model.StatusFailed, second.Status)
	assert.Equal(t, "dispatch queue full", second.LastError)
	assert.Equal(t, 1, e.QueueDepth())

	e.Start(context.Background())
	done := waitTerminal(t, e, first.ID)
	assert.Equal(t, model.StatusSucceeded, done.Status)
	require.NoError(t, e.Shutdown(context.Background()))
}

func TestUnblockClearsBlockDedup(t *testing.T) {
	fw := &fakeFirewall{}
	e := New(fw, nil, testConfig(), nil)
	e.Start(context.Background())
	defer e.Shutdown(context.Background())

	target := ip(t, "203.0.113.20")
	b := e.Submit(Request{Type: model.ActionBlock, Target: target, Reason: "test"})
	waitTerminal(t, e, b.ID)
	u := e.Submit(Request{Type: model.ActionUnblock, Target: target, Reason: "operator"})
	waitTerminal(t, e, u.ID)
	b2 := e.Submit(Request{Type: model.ActionBlock, Target: target, Reason: "test"})
	assert.Equal(t, model.StatusPending, b2.Status)
	waitTerminal(t, e, b2.ID)
	assert.Equal(t, 2, fw.blockCalls())
}

func TestDedupWindowExpires(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	n := &fakeNotifier{}
	e := New(nil, n, testConfig(), nil, WithClock(clock))
	e.Start(context.Background())
	defer e.Shutdown(context.Background())

	target := ip(t, "192.0.2.50")
	a := e.Submit(Request{Type: model.ActionAlert, Target: target, Reason: "traffic_spike"})
	waitTerminal(t, e, a.ID)
	assert.Equal(t, model.StatusDeduplicated, e.Submit(Request{Type: model.ActionAlert, Target: target, Reason: "traffic_spike"}).Status)

	mu.Lock()
	now = now.Add(5 * time.Minute)
	mu.Unlock()
	b := e.Submit(Request{Type: model.ActionAlert, Target: target, Reason: "traffic_spike"})
	assert.Equal(t, model.StatusPending, b.Status)
	waitTerminal(t, e, b.ID)

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, []string{"traffic_spike", "traffic_spike"}, n.sent)
}

func TestShutdownDeadlineFailsInFlight(t *testing.T) {
	fw := &fakeFirewall{gate: make(chan struct{})}
	e := New(fw, nil, testConfig(), nil)
	e.Start(context.Background())

	a := e.Submit(Request{Type: model.ActionBlock, Target: ip(t, "192.0.2.77"), Reason: "test"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.Shutdown(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	done, ok := e.Action(a.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusFailed, done.Status)

	late := e.Submit(Request{Type: model.ActionBlock, Target: ip(t, "192.0.2.78"), Reason: "test"})
	assert.Equal(t, model.StatusFailed, late.Status)
	assert.Equal(t, "response engine stopped", late.LastError)
}

func TestActionLogIsBounded(t *testing.T) {
	l := NewActionLog(3)
	for i := 0; i < 10; i++ {
		l.Add(model.Action{ID: string(rune('a' + i))})
	}
	assert.Equal(t, 3, l.Len())
	list := l.List(0)
	require.Len(t, list, 3)
	assert.Equal(t, "h", list[0].ID)
	assert.Equal(t, "j", list[2].ID)
	_, ok := l.Get("a")
	assert.False(t, ok)
	got, ok := l.Update("i", func(a *model.Action) { a.Attempts = 7 })
	require.True(t, ok)
	assert.Equal(t, 7, got.Attempts)
	assert.Len(t, l.List(2), 2)
}
