package engine

import (
	"sync"
	"time"

	"github.com/dokzlo13/wemod/internal/accessory"
)

// DefaultRevertDelay is how long a failed write stays visible before the
// characteristic is restored.
const DefaultRevertDelay = 2 * time.Second

// Reverter schedules restoration of characteristics after failed writes.
// At most one revert is pending per characteristic.
type Reverter struct {
	delay time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewReverter creates a reverter with the given delay.
func NewReverter(delay time.Duration) *Reverter {
	if delay <= 0 {
		delay = DefaultRevertDelay
	}
	return &Reverter{
		delay:   delay,
		pending: make(map[string]*time.Timer),
	}
}

// Schedule restores c to value after the delay, replacing any revert already
// pending for c.
func (r *Reverter) Schedule(c *accessory.Characteristic, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if t, ok := r.pending[name]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(r.delay, func() {
		r.mu.Lock()
		if r.pending[name] != t {
			r.mu.Unlock()
			return
		}
		delete(r.pending, name)
		r.mu.Unlock()

		c.Update(value)
	})
	r.pending[name] = t
}

// Cancel drops the pending revert of the named characteristic, if any.
func (r *Reverter) Cancel(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.pending[name]
	if !ok {
		return false
	}
	t.Stop()
	delete(r.pending, name)
	return true
}

// Pending reports whether a revert is scheduled for the named characteristic.
func (r *Reverter) Pending(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[name]
	return ok
}

// Stop cancels every pending revert.
func (r *Reverter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, t := range r.pending {
		t.Stop()
		delete(r.pending, name)
	}
}
