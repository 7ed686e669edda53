package atomic_clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock(t *testing.T) {
	t.Parallel()
	const delta = 100 * time.Millisecond

	c := Now()
	assert.InDelta(t, time.Now().UnixNano(), c.UnixNano(), float64(delta))
	assert.False(t, c.IsZero())

	tim := time.Now().Add(-time.Second)
	c.Set(tim)
	assert.Equal(t, tim.UnixNano(), c.Time().UnixNano())
	assert.InDelta(t, float64(time.Second), float64(Since(c)), float64(delta))

	later := New(tim.Add(time.Minute).UnixNano())
	assert.Equal(t, time.Minute, later.Sub(c))

	c.Reset()
	assert.True(t, c.IsZero())
}

func TestZeroValue(t *testing.T) {
	t.Parallel()
	var c Clock
	assert.True(t, c.IsZero())
	c.SetNow()
	assert.True(t, Since(&c) < time.Second)
}
