// Package persist holds the restart-durable fields of a device adapter.
package persist

import (
	"fmt"
	"sync"

	"github.com/dokzlo13/wemod/internal/kv"
)

// Persisted field names.
const (
	KeyLastOnMode  = "last_on_mode"
	KeyCookMinutes = "cook_minutes"
	KeyLastWm      = "last_wm"
	KeyLastTodayTC = "last_today_kwh"
	KeyTotalTC     = "total_kwh"
)

// Context is a typed view over a device's bucket. Values are read once and
// cached; every Set writes through.
type Context struct {
	bucket kv.Bucket

	mu     sync.Mutex
	values map[string]float64
}

// New creates a context over bucket.
func New(bucket kv.Bucket) *Context {
	return &Context{
		bucket: bucket,
		values: make(map[string]float64),
	}
}

// Float returns the stored number under key, or def if none is stored.
func (c *Context) Float(key string, def float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.values[key]; ok {
		return v
	}

	raw, err := c.bucket.Get(key)
	if err != nil || raw == nil {
		return def
	}
	v, ok := toFloat(raw)
	if !ok {
		return def
	}
	c.values[key] = v
	return v
}

// Int returns the stored number under key as an int.
func (c *Context) Int(key string, def int) int {
	return int(c.Float(key, float64(def)))
}

// Has reports whether a value is stored under key.
func (c *Context) Has(key string) bool {
	c.mu.Lock()
	_, ok := c.values[key]
	c.mu.Unlock()
	if ok {
		return true
	}

	raw, err := c.bucket.Get(key)
	return err == nil && raw != nil
}

// Set stores v under key.
func (c *Context) Set(key string, v float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.bucket.Store(key, v); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	c.values[key] = v
	return nil
}

// SetMany stores several fields in one bucket write. Either all of them are
// stored or none is, and the in-memory view follows the bucket.
func (c *Context) SetMany(fields map[string]float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	values := make(map[string]any, len(fields))
	for key, v := range fields {
		values[key] = v
	}
	if err := c.bucket.StoreMany(values); err != nil {
		return fmt.Errorf("persist %d fields: %w", len(fields), err)
	}
	for key, v := range fields {
		c.values[key] = v
	}
	return nil
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
