package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"netwarden/internal/model"
)

const (
	dedupeShards     = 16
	dedupeShardLimit = 1024
)

type eventDigest [sha256.Size]byte

// DedupeCache suppresses identical events replayed by more than one source.
// Events are compared by content, including their timestamp, and ignoring
// which source delivered them. Digests are spread over independently locked
// shards.
type DedupeCache struct {
	shards [dedupeShards]dedupeShard
}

type dedupeShard struct {
	mu    sync.Mutex
	items map[eventDigest]time.Time
	// sweepAt is the size that triggers the next expiry sweep.
	sweepAt int
}

func NewDedupeCache() *DedupeCache {
	d := &DedupeCache{}
	for i := range d.shards {
		d.shards[i].items = make(map[eventDigest]time.Time)
		d.shards[i].sweepAt = dedupeShardLimit
	}
	return d
}

// digestEvent hashes a fixed-format rendering of every event field except
// Source. It cannot fail, so distinct events never share a digest by accident.
func digestEvent(ev model.NetworkEvent) eventDigest {
	h := sha256.New()
	field := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{'|'})
	}
	num := func(f float64) { field(strconv.FormatFloat(f, 'g', -1, 64)) }
	field(string(ev.Kind))
	field(strconv.FormatInt(ev.Timestamp.UnixNano(), 10))
	field(ev.SrcIP)
	field(ev.DstIP)
	field(ev.SrcMAC)
	field(ev.DstMAC)
	field(strconv.Itoa(ev.SrcPort))
	field(strconv.Itoa(ev.DstPort))
	field(strconv.Itoa(ev.Protocol))
	field(strconv.Itoa(ev.Size))
	if f := ev.Flow; f != nil {
		field("flow")
		num(f.ConnCount)
		num(f.BytesSent)
		num(f.BytesReceived)
		num(f.PacketRate)
		num(f.ByteRate)
	}
	if a := ev.Auth; a != nil {
		field("auth")
		field(a.Subtype)
		field(a.BSSID)
		field(a.SSID)
	}
	if t := ev.TLS; t != nil {
		field("tls")
		field(t.Version)
		field(t.ServerName)
		field(t.CipherSuite)
		field(hex.EncodeToString(t.Record))
	}
	if dv := ev.Device; dv != nil {
		field("device")
		ports := make([]string, len(dv.Ports))
		for i, p := range dv.Ports {
			ports[i] = strconv.Itoa(p)
		}
		field(strings.Join(ports, ","))
		field(dv.UserAgent)
		field(dv.Service)
		field(dv.Hostname)
	}
	var out eventDigest
	h.Sum(out[:0])
	return out
}

// Seen records ev at now and reports whether an identical event was recorded
// within ttl.
func (d *DedupeCache) Seen(ev model.NetworkEvent, now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	key := digestEvent(ev)
	sh := &d.shards[int(key[0])%dedupeShards]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if ts, ok := sh.items[key]; ok && now.Sub(ts) <= ttl {
		return true
	}
	sh.items[key] = now
	if len(sh.items) >= sh.sweepAt {
		sh.expire(now, ttl)
		sh.sweepAt = max(2*len(sh.items), dedupeShardLimit)
	}
	return false
}

func (sh *dedupeShard) expire(now time.Time, ttl time.Duration) {
	for k, ts := range sh.items {
		if now.Sub(ts) > ttl {
			delete(sh.items, k)
		}
	}
}

func (d *DedupeCache) Len() int {
	n := 0
	for i := range d.shards {
		sh := &d.shards[i]
		sh.mu.Lock()
		n += len(sh.items)
		sh.mu.Unlock()
	}
	return n
}
