package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"netwarden/internal/model"
)

func TestStoreBoundedAndQueryable(t *testing.T) {
	s := NewStore(3)
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		key := "ip:10.0.0.1"
		if i%2 == 1 {
			key = "mac:AA:BB:CC:00:11:22"
		}
		s.Add(model.Alert{Timestamp: base.Add(time.Duration(i) * time.Minute), EntityKey: key, AlertType: "threat_score"})
	}
	assert.Equal(t, 3, s.Len())
	list := s.List(0)
	assert.True(t, list[0].Timestamp.Equal(base.Add(2*time.Minute)))
	assert.Len(t, s.List(1), 1)
	assert.Len(t, s.Since(base.Add(3*time.Minute)), 2)
	assert.Len(t, s.ByEntity("ip:10.0.0.1"), 2)
	assert.Equal(t, 1, s.CountSince("ip:10.0.0.1", base.Add(3*time.Minute)))

	s.Clear()
	assert.Zero(t, s.Len())
}
