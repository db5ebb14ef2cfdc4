package engine

import (
	"context"
	"sync"
	"time"
)

// Generation identifies one write attempt within a write class.
type Generation struct {
	class string
	n     uint64
}

// Debouncer hands out increasing generations per write class. Only the
// newest generation of a class is current.
type Debouncer struct {
	mu   sync.Mutex
	gens map[string]uint64
}

// NewDebouncer creates an empty debouncer.
func NewDebouncer() *Debouncer {
	return &Debouncer{gens: make(map[string]uint64)}
}

// Next creates a new generation for class and makes it current.
func (d *Debouncer) Next(class string) Generation {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gens[class]++
	return Generation{class: class, n: d.gens[class]}
}

// Current reports whether g is still the newest generation of its class.
func (d *Debouncer) Current(g Generation) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gens[g.class] == g.n
}

// Settle starts a write of class, waits for window and reports whether the
// write may proceed. It returns false when a newer write of the same class
// started in the meantime or ctx was cancelled.
func (d *Debouncer) Settle(ctx context.Context, class string, window time.Duration) bool {
	g := d.Next(class)

	if window > 0 {
		timer := time.NewTimer(window)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return false
		}
	}

	return d.Current(g)
}
