package engine

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

const alertGateShards = 16

type alertKey struct {
	entity    string
	alertType string
}

// alertGate rate-limits alerts per (entity, alert type) on event time, so a
// late replayed event cannot reopen a window that wall-clock time closed.
// Entities are spread over independently locked shards.
type alertGate struct {
	shards     [alertGateShards]gateShard
	suppressed atomic.Uint64
}

type gateShard struct {
	mu   sync.Mutex
	last map[alertKey]time.Time
}

func newAlertGate() *alertGate {
	g := &alertGate{}
	for i := range g.shards {
		g.shards[i].last = make(map[alertKey]time.Time)
	}
	return g
}

func (g *alertGate) shardFor(entity string) *gateShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(entity))
	return &g.shards[h.Sum32()%alertGateShards]
}

// allow reports whether an alert of alertType for entity may fire at at.
// An event older than the last recorded alert for the key is suppressed.
func (g *alertGate) allow(entity, alertType string, at time.Time, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	k := alertKey{entity: entity, alertType: alertType}
	sh := g.shardFor(entity)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if prev, ok := sh.last[k]; ok && at.Sub(prev) < window {
		g.suppressed.Add(1)
		return false
	}
	sh.last[k] = at
	return true
}

// forget drops keys whose window closed before now.
func (g *alertGate) forget(now time.Time, window time.Duration) int {
	n := 0
	for i := range g.shards {
		sh := &g.shards[i]
		sh.mu.Lock()
		for k, at := range sh.last {
			if now.Sub(at) >= window {
				delete(sh.last, k)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

func (g *alertGate) suppressedTotal() uint64 { return g.suppressed.Load() }
