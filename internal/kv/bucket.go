// Package kv provides named key-value buckets backed by SQLite or memory.
// Device adapters keep their restart-durable fields here.
package kv

// Bucket is the interface for key-value storage operations.
type Bucket interface {
	// Name returns the bucket name.
	Name() string

	// IsPersistent returns true if the bucket survives restarts.
	IsPersistent() bool

	// Store saves a JSON-serializable value under key.
	Store(key string, value any) error

	// StoreMany saves several values at once. Either every value is stored
	// or none is.
	StoreMany(values map[string]any) error

	// Get retrieves a value by key. Returns nil if the key doesn't exist.
	// Numbers read back from SQLite are float64.
	Get(key string) (any, error)

	// Delete removes a key from the bucket.
	// Returns true if the key existed.
	Delete(key string) (bool, error)

	// Keys returns all keys in the bucket.
	Keys() ([]string, error)

	// Clear removes all keys from the bucket.
	Clear() error
}
