package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netwarden/internal/model"
)

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func flow(srcPort, dstPort int, conns, packetRate float64) model.FeatureVector {
	var fv model.FeatureVector
	fv[model.FeatSrcPort] = float64(srcPort)
	fv[model.FeatDstPort] = float64(dstPort)
	fv[model.FeatConnCount] = conns
	fv[model.FeatPacketRate] = packetRate
	return fv
}

func testKey(t *testing.T) model.EntityKey {
	t.Helper()
	k, ok := model.IPKey("10.0.0.5")
	require.True(t, ok)
	return k
}

func TestInsufficientBelowMinSamples(t *testing.T) {
	a := New(Config{})
	key := testKey(t)
	// Every sample on its own would trip all three detectors.
	for i := 0; i < 9; i++ {
		v := a.Observe(key, base.Add(time.Duration(i)*time.Second), flow(50000, 22, 500, float64(i*i*1000)))
		assert.False(t, v.Sufficient)
		assert.Empty(t, v.Patterns)
		assert.Zero(t, v.Severity)
	}
	v := a.Observe(key, base.Add(9*time.Second), flow(50000, 22, 500, 0))
	assert.True(t, v.Sufficient)
	assert.Contains(t, v.Patterns, PatternConnectionFlood)
	assert.Contains(t, v.Patterns, PatternUnusualPorts)
}

func TestQuietTrafficHasNoPatterns(t *testing.T) {
	a := New(Config{})
	key := testKey(t)
	var v Verdict
	for i := 0; i < 20; i++ {
		v = a.Observe(key, base.Add(time.Duration(i)*time.Second), flow(443, 51000, 3, 10))
	}
	assert.True(t, v.Sufficient)
	assert.Empty(t, v.Patterns)
	assert.Equal(t, 20, v.Samples)
	assert.InDelta(t, 10, v.AvgPacketRate, 1e-9)
}

func TestTrafficSpike(t *testing.T) {
	a := New(Config{})
	key := testKey(t)
	var v Verdict
	for i := 0; i < 9; i++ {
		v = a.Observe(key, base.Add(time.Duration(i)*time.Second), flow(0, 0, 1, 0))
	}
	v = a.Observe(key, base.Add(9*time.Second), flow(0, 0, 1, 1000))
	require.True(t, v.Sufficient)
	// mean 100, population stddev 300
	assert.Equal(t, []Pattern{PatternTrafficSpike}, v.Patterns)
	assert.Equal(t, 1, v.Severity)
}

func TestUnusualPortThresholdIsStrict(t *testing.T) {
	a := New(Config{})
	key := testKey(t)
	var v Verdict
	for i := 0; i < 10; i++ {
		fv := flow(80, 60000, 1, 5)
		if i < 3 {
			fv = flow(40000, 3389, 1, 5)
		}
		v = a.Observe(key, base.Add(time.Duration(i)*time.Second), fv)
	}
	// exactly 30% does not exceed the threshold
	assert.NotContains(t, v.Patterns, PatternUnusualPorts)

	v = a.Observe(key, base.Add(10*time.Second), flow(40000, 445, 1, 5))
	assert.Contains(t, v.Patterns, PatternUnusualPorts)
}

func TestSamplesOutsideWindowArePruned(t *testing.T) {
	a := New(Config{Duration: time.Minute})
	key := testKey(t)
	for i := 0; i < 12; i++ {
		a.Observe(key, base.Add(time.Duration(i)*time.Second), flow(0, 0, 200, 0))
	}
	v := a.Evaluate(key, base.Add(11*time.Second))
	assert.True(t, v.Sufficient)

	v = a.Evaluate(key, base.Add(65*time.Second))
	assert.Equal(t, 7, v.Samples)
	assert.False(t, v.Sufficient)
	assert.Empty(t, v.Patterns)
}

func TestCapacityBoundsRing(t *testing.T) {
	a := New(Config{Capacity: 16})
	key := testKey(t)
	var v Verdict
	for i := 0; i < 100; i++ {
		v = a.Observe(key, base.Add(time.Duration(i)*time.Millisecond), flow(0, 0, 1, 1))
	}
	assert.Equal(t, 16, v.Samples)
	assert.Len(t, a.Samples(key, base), 16)
}

func TestLateSampleKeepsOrder(t *testing.T) {
	a := New(Config{})
	key := testKey(t)
	a.Observe(key, base.Add(2*time.Second), flow(0, 0, 1, 1))
	a.Observe(key, base.Add(3*time.Second), flow(0, 0, 1, 1))
	a.Observe(key, base.Add(1*time.Second), flow(0, 0, 1, 1))
	samples := a.Samples(key, base.Add(3*time.Second))
	require.Len(t, samples, 3)
	assert.True(t, samples[0].At.Before(samples[1].At))
	assert.True(t, samples[1].At.Before(samples[2].At))
}

func TestPruneDropsIdleEntities(t *testing.T) {
	a := New(Config{Duration: time.Minute})
	k1 := testKey(t)
	k2, _ := model.IPKey("10.0.0.6")
	a.Observe(k1, base, flow(0, 0, 1, 1))
	a.Observe(k2, base.Add(50*time.Second), flow(0, 0, 1, 1))
	assert.Equal(t, 2, a.Len())
	assert.Equal(t, 1, a.Prune(base.Add(70*time.Second)))
	assert.Equal(t, 1, a.Len())
}
