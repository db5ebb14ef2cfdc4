package engine

// Cached is a last-confirmed remote value. The zero value holds nothing, so
// the first report always counts as a change.
type Cached[T comparable] struct {
	value T
	ok    bool
}

// Is reports whether v equals the cached value.
func (c *Cached[T]) Is(v T) bool {
	return c.ok && c.value == v
}

// Set stores v.
func (c *Cached[T]) Set(v T) {
	c.value = v
	c.ok = true
}

// Get returns the cached value and whether one is present.
func (c *Cached[T]) Get() (T, bool) {
	return c.value, c.ok
}
