package engine

import (
	"math"
	"testing"
	"time"

	"netwarden/internal/model"
)

func TestDedupeKeepsDistinctNonFiniteEvents(t *testing.T) {
	d := NewDedupeCache()
	a := flow("10.0.0.1", 443, t0)
	a.Flow.PacketRate = math.Inf(1)
	b := flow("192.168.7.7", 443, t0)
	b.Flow.PacketRate = math.Inf(1)

	if d.Seen(a, t0, time.Second) {
		t.Fatal("first event marked seen")
	}
	if d.Seen(b, t0, time.Second) {
		t.Fatal("event from another host with the same rate marked seen")
	}
	if !d.Seen(a, t0, time.Second) {
		t.Fatal("exact repeat not detected")
	}
}

func TestDedupeNonFiniteFlowsReachState(t *testing.T) {
	eng := newEngineForTest(t, testConfig(), Deps{})
	for _, ip := range []string{"10.0.0.1", "192.168.7.7"} {
		ev := flow(ip, 443, t0)
		ev.Flow.PacketRate = math.Inf(1)
		if res := eng.ProcessEvent(ev); res.Duplicate {
			t.Fatalf("%s dropped as duplicate", ip)
		}
		if _, ok := eng.state.Get(model.EntityKey{Kind: model.KeyIP, Value: ip}); !ok {
			t.Fatalf("%s not tracked", ip)
		}
	}
}

func TestDedupeSweepsExpiredDigests(t *testing.T) {
	d := NewDedupeCache()
	const n = 20000
	for i := 0; i < n; i++ {
		d.Seen(flow("10.0.0.1", i, t0), t0, time.Second)
	}
	later := t0.Add(time.Hour)
	for i := 0; i < n; i++ {
		d.Seen(flow("10.0.0.2", i, later), later, time.Second)
	}
	if got := d.Len(); got >= 2*n {
		t.Fatalf("expired digests never swept: len=%d", got)
	}
}

func TestDigestIgnoresSource(t *testing.T) {
	ev := flow("10.0.0.1", 22, t0)
	other := ev
	other.Source = "sensor-2"
	if digestEvent(ev) != digestEvent(other) {
		t.Fatal("source changed the digest")
	}
	other.DstPort = 23
	if digestEvent(ev) == digestEvent(other) {
		t.Fatal("different ports share a digest")
	}
}
