package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/wemod/internal/accessory"
)

func TestReverterRestoresValue(t *testing.T) {
	acc := accessory.New("dev", "Lamp", "switch")
	on := acc.Add(accessory.On, accessory.Bool())
	require.NoError(t, on.Set(context.Background(), 1))

	r := NewReverter(20 * time.Millisecond)
	defer r.Stop()
	r.Schedule(on, 0)

	assert.True(t, r.Pending(accessory.On))
	assert.Equal(t, 1.0, on.Value(), "failed value stays visible until the delay")

	assert.Eventually(t, func() bool { return on.Value() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, r.Pending(accessory.On))
}

func TestReverterCancel(t *testing.T) {
	acc := accessory.New("dev", "Lamp", "switch")
	on := acc.Add(accessory.On, accessory.Bool())
	on.Update(1)

	r := NewReverter(20 * time.Millisecond)
	r.Schedule(on, 0)

	assert.True(t, r.Cancel(accessory.On))
	assert.False(t, r.Cancel(accessory.On))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1.0, on.Value())
}

func TestReverterReschedule(t *testing.T) {
	acc := accessory.New("dev", "Dimmer", "dimmer")
	level := acc.Add(accessory.Brightness, accessory.Range(0, 100, 1))
	level.Update(70)

	var mu sync.Mutex
	var pushed []float64
	acc.SetListener(func(c accessory.Change) {
		mu.Lock()
		pushed = append(pushed, c.Value)
		mu.Unlock()
	})

	r := NewReverter(20 * time.Millisecond)
	r.Schedule(level, 10)
	r.Schedule(level, 40)

	assert.Eventually(t, func() bool { return !r.Pending(accessory.Brightness) }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{40}, pushed, "only the latest revert fires")
}

func TestReverterDefaultDelay(t *testing.T) {
	r := NewReverter(0)
	assert.Equal(t, DefaultRevertDelay, r.delay)
}
