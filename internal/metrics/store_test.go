package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netwarden/internal/window"
)

func TestStoreEvictsOldest(t *testing.T) {
	s := NewStore(2)
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s.Update("ip:10.0.0.1", window.Verdict{Samples: 1}, base)
	s.Update("ip:10.0.0.2", window.Verdict{Samples: 2}, base.Add(time.Second))
	s.Update("ip:10.0.0.3", window.Verdict{Samples: 3}, base.Add(2*time.Second))

	assert.Equal(t, 2, s.Len())
	_, _, ok := s.Get("ip:10.0.0.1")
	assert.False(t, ok)
	v, at, ok := s.Get("ip:10.0.0.3")
	require.True(t, ok)
	assert.Equal(t, 3, v.Samples)
	assert.True(t, at.Equal(base.Add(2*time.Second)))

	s.Update("", window.Verdict{}, base)
	assert.Equal(t, 2, s.Len())
}

func TestStoreForget(t *testing.T) {
	s := NewStore(0)
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s.Update("a", window.Verdict{}, base)
	s.Update("b", window.Verdict{}, base.Add(time.Hour))
	assert.Equal(t, 1, s.Forget(base.Add(time.Minute)))
	assert.Len(t, s.GetAll(), 1)
}

func TestCollectorsRegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors(reg)
	c.EventsTotal.WithLabelValues("flow").Inc()
	c.QueueDepth.Set(3)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.EventsTotal.WithLabelValues("flow")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.QueueDepth))

	assert.Panics(t, func() { NewCollectors(reg) })
	assert.NotPanics(t, func() { NewCollectors(nil); NewCollectors(nil) })
}
