// Package window keeps a bounded, time-pruned history of feature vectors per
// entity and runs behavioural detectors over it.
package window

import (
	"hash/fnv"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"netwarden/internal/features"
	"netwarden/internal/model"
)

type Pattern string

const (
	PatternTrafficSpike    Pattern = "traffic_spike"
	PatternUnusualPorts    Pattern = "unusual_port_combinations"
	PatternConnectionFlood Pattern = "connection_flood"
)

const (
	spikeMinSamples     = 5
	unusualPortFraction = 0.30
	floodConnections    = 100
)

type Config struct {
	Duration   time.Duration
	Capacity   int
	MinSamples int
	Shards     int
}

func (c Config) normalized() Config {
	if c.Duration <= 0 {
		c.Duration = 300 * time.Second
	}
	if c.Capacity <= 0 {
		c.Capacity = 1024
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 10
	}
	if c.Shards <= 0 {
		c.Shards = 64
	}
	return c
}

// Verdict is the aggregator's view of one entity. Patterns is empty unless
// Sufficient is true.
type Verdict struct {
	Sufficient    bool      `json:"sufficient"`
	Samples       int       `json:"samples"`
	Patterns      []Pattern `json:"patterns,omitempty"`
	Severity      int       `json:"severity"`
	AvgPacketRate float64   `json:"avg_packet_rate"`
	AvgByteRate   float64   `json:"avg_byte_rate"`
	MaxConnCount  float64   `json:"max_conn_count"`
}

type Aggregator struct {
	cfg    atomic.Value
	shards []*shard
}

type shard struct {
	mu    sync.Mutex
	rings map[model.EntityKey]*ring
}

func New(cfg Config) *Aggregator {
	cfg = cfg.normalized()
	a := &Aggregator{shards: make([]*shard, cfg.Shards)}
	for i := range a.shards {
		a.shards[i] = &shard{rings: make(map[model.EntityKey]*ring)}
	}
	a.cfg.Store(cfg)
	return a
}

func (a *Aggregator) config() Config {
	if v := a.cfg.Load(); v != nil {
		return v.(Config)
	}
	return Config{}.normalized()
}

// SetConfig applies new window limits. The shard count is fixed at creation.
func (a *Aggregator) SetConfig(cfg Config) {
	cfg = cfg.normalized()
	cfg.Shards = len(a.shards)
	a.cfg.Store(cfg)
}

func (a *Aggregator) shardFor(key model.EntityKey) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return a.shards[h.Sum32()%uint32(len(a.shards))]
}

// Observe records a sample for key, prunes everything older than the window
// relative to at, and evaluates the detectors.
func (a *Aggregator) Observe(key model.EntityKey, at time.Time, fv model.FeatureVector) Verdict {
	cfg := a.config()
	s := a.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rings[key]
	if !ok {
		r = newRing(cfg.Capacity)
		s.rings[key] = r
	}
	r.capacity = cfg.Capacity
	r.add(Sample{At: at, Features: fv})
	r.evict(at.Add(-cfg.Duration))
	return evaluate(r.live(), cfg.MinSamples)
}

// Evaluate prunes key's window relative to now and evaluates it without
// adding a sample.
func (a *Aggregator) Evaluate(key model.EntityKey, now time.Time) Verdict {
	cfg := a.config()
	s := a.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rings[key]
	if !ok {
		return Verdict{}
	}
	r.evict(now.Add(-cfg.Duration))
	return evaluate(r.live(), cfg.MinSamples)
}

// Samples returns a copy of key's live samples.
func (a *Aggregator) Samples(key model.EntityKey, now time.Time) []Sample {
	cfg := a.config()
	s := a.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rings[key]
	if !ok {
		return nil
	}
	r.evict(now.Add(-cfg.Duration))
	return append([]Sample(nil), r.live()...)
}

// Prune evicts expired samples everywhere and drops entities left empty.
func (a *Aggregator) Prune(now time.Time) int {
	cutoff := now.Add(-a.config().Duration)
	removed := 0
	for _, s := range a.shards {
		s.mu.Lock()
		for key, r := range s.rings {
			r.evict(cutoff)
			if r.len() == 0 {
				delete(s.rings, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (a *Aggregator) Len() int {
	n := 0
	for _, s := range a.shards {
		s.mu.Lock()
		n += len(s.rings)
		s.mu.Unlock()
	}
	return n
}

func evaluate(samples []Sample, minSamples int) Verdict {
	v := Verdict{Samples: len(samples)}
	if len(samples) == 0 {
		return v
	}

	rates := make([]float64, len(samples))
	var byteSum float64
	unusual := 0
	for i, s := range samples {
		fv := s.Features
		rates[i] = fv[model.FeatPacketRate]
		byteSum += fv[model.FeatByteRate]
		if fv[model.FeatConnCount] > v.MaxConnCount {
			v.MaxConnCount = fv[model.FeatConnCount]
		}
		if fv[model.FeatSrcPort] > 1024 && features.SensitivePort(int(fv[model.FeatDstPort])) {
			unusual++
		}
	}
	mean, std := meanStd(rates)
	v.AvgPacketRate = mean
	v.AvgByteRate = byteSum / float64(len(samples))

	if len(samples) < minSamples {
		return v
	}
	v.Sufficient = true
	if len(rates) >= spikeMinSamples && std > 2*mean {
		v.Patterns = append(v.Patterns, PatternTrafficSpike)
	}
	if float64(unusual)/float64(len(samples)) > unusualPortFraction {
		v.Patterns = append(v.Patterns, PatternUnusualPorts)
	}
	if v.MaxConnCount > floodConnections {
		v.Patterns = append(v.Patterns, PatternConnectionFlood)
	}
	v.Severity = len(v.Patterns)
	return v
}

// meanStd returns the mean and population standard deviation.
func meanStd(values []float64) (float64, float64) {
	var n int
	var mean, m2 float64
	for _, x := range values {
		n++
		diff := x - mean
		mean += diff / float64(n)
		m2 += diff * (x - mean)
	}
	if n == 0 {
		return 0, 0
	}
	return mean, math.Sqrt(m2 / float64(n))
}
