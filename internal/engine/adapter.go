// Package engine holds the mediation primitives shared by all device
// adapters: write debouncing, revert-on-failure, failure classification and
// refresh polling.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dokzlo13/wemod/internal/accessory"
)

// Connection is how a device delivers state changes.
type Connection string

const (
	// ConnectionPush devices send event notifications.
	ConnectionPush Connection = "upnp"
	// ConnectionPoll devices must be polled.
	ConnectionPoll Connection = "http"
)

// Identity describes one device.
type Identity struct {
	ID         string
	Name       string
	Kind       string
	Connection Connection
}

// Attribute is one named value reported by a device, in wire form.
type Attribute struct {
	Name  string
	Value string
}

// Int parses the attribute as an integer. Pipe-separated values are read up
// to the first separator.
func (a Attribute) Int() (int, error) {
	raw := strings.TrimSpace(a.Value)
	if i := strings.IndexByte(raw, '|'); i >= 0 {
		raw = raw[:i]
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %w", a.Name, err)
	}
	return v, nil
}

// Adapter is the contract shared by every device kind.
type Adapter interface {
	// ID returns the device identity string.
	ID() string

	// Accessory returns the controller-facing accessory.
	Accessory() *accessory.Accessory

	// Receive applies one externally reported attribute. Duplicate values
	// are ignored.
	Receive(attr Attribute)

	// RequestRefresh reads the device state and feeds every attribute
	// present through Receive. Failures are logged, never returned.
	RequestRefresh(ctx context.Context)

	// Close stops pending timers.
	Close()
}
