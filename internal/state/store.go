// Package state owns every ThreatRecord and brute-force tracker. Access is
// serialized per key through sharded locks; no caller ever holds a pointer
// into a shard after a call returns.
package state

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"netwarden/internal/bruteforce"
	"netwarden/internal/model"
)

const (
	// minAlpha keeps bursts of same-instant scores from being ignored.
	minAlpha       = 0.2
	maxThreatHits  = 1024
	defaultShards  = 64
	defaultRecent  = 64
	defaultTTL     = 24 * time.Hour
	defaultHalf    = time.Hour
	defaultHits    = 3
	defaultHitSpan = time.Hour
)

type Policy struct {
	ThreatHits          int
	HitWindow           time.Duration
	SingleHitConfidence float64
	HalfLife            time.Duration
	RecentLimit         int
	RetentionTTL        time.Duration
	Tracker             bruteforce.Policy
}

func DefaultPolicy() Policy {
	return Policy{
		ThreatHits:          defaultHits,
		HitWindow:           defaultHitSpan,
		SingleHitConfidence: 0.9,
		HalfLife:            defaultHalf,
		RecentLimit:         defaultRecent,
		RetentionTTL:        defaultTTL,
		Tracker:             bruteforce.DefaultPolicy(),
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.ThreatHits <= 0 {
		p.ThreatHits = d.ThreatHits
	}
	if p.HitWindow <= 0 {
		p.HitWindow = d.HitWindow
	}
	if p.SingleHitConfidence <= 0 || p.SingleHitConfidence > 1 {
		p.SingleHitConfidence = d.SingleHitConfidence
	}
	if p.HalfLife <= 0 {
		p.HalfLife = d.HalfLife
	}
	if p.RecentLimit <= 0 {
		p.RecentLimit = d.RecentLimit
	}
	if p.RetentionTTL <= 0 {
		p.RetentionTTL = d.RetentionTTL
	}
	return p
}

type record struct {
	key         model.EntityKey
	hitCount    int
	threatHits  []time.Time
	score       float64
	scoreAt     time.Time
	scored      bool
	recent      []model.ScoreSample
	blacklisted bool
	unblockedAt time.Time
	firstSeen   time.Time
	lastSeen    time.Time
}

type shard struct {
	mu       sync.Mutex
	records  map[model.EntityKey]*record
	trackers map[string]*bruteforce.Tracker
}

type Store struct {
	shards []*shard
	policy atomic.Value
}

func New(shards int, p Policy) *Store {
	if shards <= 0 {
		shards = defaultShards
	}
	s := &Store{shards: make([]*shard, shards)}
	for i := range s.shards {
		s.shards[i] = &shard{
			records:  make(map[model.EntityKey]*record),
			trackers: make(map[string]*bruteforce.Tracker),
		}
	}
	s.SetPolicy(p)
	return s
}

func (s *Store) SetPolicy(p Policy) {
	s.policy.Store(p.normalized())
}

func (s *Store) Policy() Policy {
	if v := s.policy.Load(); v != nil {
		return v.(Policy)
	}
	return DefaultPolicy()
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Transition reports what ApplyScore changed.
type Transition struct {
	Record model.ThreatRecord
	// Blacklisted is true only on the call that flipped the flag.
	Blacklisted bool
	// Reset is set when a corrupted record was discarded first.
	Reset error
}

func (s *Store) GetOrCreate(key model.EntityKey, now time.Time) model.ThreatRecord {
	p := s.Policy()
	sh := s.shardFor(key.String())
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.getOrCreate(key, now).snapshot(p)
}

func (s *Store) Get(key model.EntityKey) (model.ThreatRecord, bool) {
	p := s.Policy()
	sh := s.shardFor(key.String())
	sh.mu.Lock()
	defer sh.mu.Unlock()
	r, ok := sh.records[key]
	if !ok {
		return model.ThreatRecord{}, false
	}
	return r.snapshot(p), true
}

func (sh *shard) getOrCreate(key model.EntityKey, now time.Time) *record {
	r, ok := sh.records[key]
	if !ok {
		r = &record{key: key, firstSeen: now, lastSeen: now}
		sh.records[key] = r
	}
	return r
}

// ApplyScore folds one scored event into key's record. Only ensemble
// results move the weighted score and the blacklist; untrained and error
// results still count as hits.
func (s *Store) ApplyScore(key model.EntityKey, res model.ScoreResult, at time.Time) Transition {
	p := s.Policy()
	sh := s.shardFor(key.String())
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var tr Transition
	r := sh.getOrCreate(key, at)
	if err := r.validate(); err != nil {
		r.reset(at)
		tr.Reset = err
	}

	r.hitCount++
	if at.After(r.lastSeen) {
		r.lastSeen = at
	}
	if at.Before(r.firstSeen) {
		r.firstSeen = at
	}

	if res.Method == model.MethodEnsemble {
		r.updateScore(res.Score, at, p.HalfLife)
		r.recent = append(r.recent, model.ScoreSample{At: at, Score: res.Score, Confidence: res.Confidence, Threat: res.IsThreat})
		if len(r.recent) > p.RecentLimit {
			r.recent = append([]model.ScoreSample(nil), r.recent[len(r.recent)-p.RecentLimit:]...)
		}
		if res.IsThreat {
			r.addThreatHit(at, p.HitWindow)
			if !r.blacklisted && (res.Confidence >= p.SingleHitConfidence || r.threatsSince(r.hitCutoff(p)) >= p.ThreatHits) {
				r.blacklisted = true
				tr.Blacklisted = true
			}
		}
	}
	tr.Record = r.snapshot(p)
	return tr
}

// MarkBlacklisted sets the flag explicitly. Clearing it is an unblock: threat
// hits recorded before at no longer count toward the next blacklisting.
func (s *Store) MarkBlacklisted(key model.EntityKey, blacklisted bool, at time.Time) bool {
	sh := s.shardFor(key.String())
	sh.mu.Lock()
	defer sh.mu.Unlock()
	r := sh.getOrCreate(key, at)
	if r.blacklisted == blacklisted {
		return false
	}
	r.blacklisted = blacklisted
	if !blacklisted {
		r.unblockedAt = at
		r.threatHits = nil
	}
	if at.After(r.lastSeen) {
		r.lastSeen = at
	}
	return true
}

// Restore seeds a record from persisted state, typically at startup.
func (s *Store) Restore(rec model.ThreatRecord) {
	if rec.Key.IsZero() {
		return
	}
	sh := s.shardFor(rec.Key.String())
	sh.mu.Lock()
	defer sh.mu.Unlock()
	r := sh.getOrCreate(rec.Key, rec.FirstSeen)
	r.hitCount = rec.HitCount
	r.score = rec.Score
	r.scoreAt = rec.LastSeen
	r.scored = true
	r.blacklisted = rec.Blacklisted
	r.firstSeen = rec.FirstSeen
	r.lastSeen = rec.LastSeen
}

type PruneStats struct {
	Records  int
	Trackers int
}

// Prune evicts records idle past the retention TTL and trackers with nothing
// left in their window. Blacklisted records are kept until unblocked.
func (s *Store) Prune(now time.Time) PruneStats {
	p := s.Policy()
	cutoff := now.Add(-p.RetentionTTL)
	var stats PruneStats
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, r := range sh.records {
			if r.blacklisted || !r.lastSeen.Before(cutoff) {
				continue
			}
			delete(sh.records, key)
			stats.Records++
		}
		for mac, t := range sh.trackers {
			t.Prune(now, p.Tracker)
			if t.Idle(now, p.Tracker) {
				delete(sh.trackers, mac)
				stats.Trackers++
			}
		}
		sh.mu.Unlock()
	}
	return stats
}

// WithTracker runs fn with exclusive access to mac's tracker, creating it on
// first use.
func (s *Store) WithTracker(mac string, fn func(t *bruteforce.Tracker)) {
	sh := s.shardFor("mac:" + mac)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	t, ok := sh.trackers[mac]
	if !ok {
		t = bruteforce.NewTracker(mac)
		sh.trackers[mac] = t
	}
	fn(t)
}

// PredictiveScore estimates near-term risk from the last hour of threat hits
// and the entity's average traffic rates.
func (s *Store) PredictiveScore(key model.EntityKey, now time.Time, avgPacketRate, avgByteRate float64) float64 {
	var score float64
	sh := s.shardFor(key.String())
	sh.mu.Lock()
	if r, ok := sh.records[key]; ok {
		score += math.Min(float64(r.threatsSince(now.Add(-time.Hour)))*0.2, 0.5)
	}
	sh.mu.Unlock()
	if avgPacketRate > 50 {
		score += 0.3
	}
	if avgByteRate > 50000 {
		score += 0.3
	}
	return math.Min(score, 1)
}

func (s *Store) Snapshot() []model.ThreatRecord {
	p := s.Policy()
	var out []model.ThreatRecord
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, r := range sh.records {
			out = append(out, r.snapshot(p))
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

func (s *Store) Trackers(now time.Time) []model.TrackerSummary {
	p := s.Policy()
	var out []model.TrackerSummary
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, t := range sh.trackers {
			out = append(out, t.Summary(now, p.Tracker))
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}

type Counts struct {
	Records     int `json:"records"`
	Blacklisted int `json:"blacklisted"`
	Trackers    int `json:"trackers"`
}

func (s *Store) Counts() Counts {
	var c Counts
	for _, sh := range s.shards {
		sh.mu.Lock()
		c.Records += len(sh.records)
		c.Trackers += len(sh.trackers)
		for _, r := range sh.records {
			if r.blacklisted {
				c.Blacklisted++
			}
		}
		sh.mu.Unlock()
	}
	return c
}

func (r *record) updateScore(score float64, at time.Time, halfLife time.Duration) {
	if !r.scored {
		r.score = score
		r.scoreAt = at
		r.scored = true
		return
	}
	dt := at.Sub(r.scoreAt)
	if dt < 0 {
		dt = 0
	}
	alpha := 1 - math.Exp2(-float64(dt)/float64(halfLife))
	if alpha < minAlpha {
		alpha = minAlpha
	}
	r.score += alpha * (score - r.score)
	if at.After(r.scoreAt) {
		r.scoreAt = at
	}
}

func (r *record) addThreatHit(at time.Time, window time.Duration) {
	r.threatHits = append(r.threatHits, at)
	sort.Slice(r.threatHits, func(i, j int) bool { return r.threatHits[i].Before(r.threatHits[j]) })
	latest := r.threatHits[len(r.threatHits)-1]
	cut := 0
	for cut < len(r.threatHits) && latest.Sub(r.threatHits[cut]) > window {
		cut++
	}
	if n := len(r.threatHits) - cut; n > maxThreatHits {
		cut = len(r.threatHits) - maxThreatHits
	}
	if cut > 0 {
		r.threatHits = append([]time.Time(nil), r.threatHits[cut:]...)
	}
}

func (r *record) hitCutoff(p Policy) time.Time {
	cutoff := r.lastSeen.Add(-p.HitWindow)
	if r.unblockedAt.After(cutoff) {
		cutoff = r.unblockedAt
	}
	return cutoff
}

func (r *record) threatsSince(cutoff time.Time) int {
	n := 0
	for _, t := range r.threatHits {
		if !t.Before(cutoff) {
			n++
		}
	}
	return n
}

func (r *record) validate() error {
	switch {
	case r.hitCount < 0:
		return fmt.Errorf("%w: %s has negative hit count %d", model.ErrStateCorruption, r.key, r.hitCount)
	case math.IsNaN(r.score) || r.score < 0 || r.score > 1:
		return fmt.Errorf("%w: %s has score %v", model.ErrStateCorruption, r.key, r.score)
	case r.lastSeen.Before(r.firstSeen):
		return fmt.Errorf("%w: %s last seen before first seen", model.ErrStateCorruption, r.key)
	}
	return nil
}

// reset empties a corrupted record. The blacklist flag survives: only an
// explicit unblock may clear it.
func (r *record) reset(at time.Time) {
	*r = record{key: r.key, blacklisted: r.blacklisted, firstSeen: at, lastSeen: at}
}

func (r *record) snapshot(p Policy) model.ThreatRecord {
	return model.ThreatRecord{
		Key:          r.key,
		HitCount:     r.hitCount,
		ThreatHits:   r.threatsSince(r.lastSeen.Add(-p.HitWindow)),
		Score:        r.score,
		RecentScores: append([]model.ScoreSample(nil), r.recent...),
		Blacklisted:  r.blacklisted,
		FirstSeen:    r.firstSeen,
		LastSeen:     r.lastSeen,
	}
}
