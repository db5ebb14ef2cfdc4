// Package accessory models the controller-facing side of a device: named
// characteristics with a value domain, write handlers and push updates.
package accessory

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotResponding is returned from write handlers when the device could not
// be reached. Controllers render it as "not responding".
var ErrNotResponding = errors.New("device not responding")

// Characteristic names used by the device adapters.
const (
	On                                  = "On"
	Active                              = "Active"
	Brightness                          = "Brightness"
	RotationSpeed                       = "RotationSpeed"
	CurrentAirPurifierState             = "CurrentAirPurifierState"
	TargetAirPurifierState              = "TargetAirPurifierState"
	CurrentConsumption                  = "CurrentConsumption"
	TotalConsumption                    = "TotalConsumption"
	ResetTotal                          = "ResetTotal"
	TargetHeaterCoolerState             = "TargetHeaterCoolerState"
	HeatingThresholdTemperature         = "HeatingThresholdTemperature"
	CurrentTemperature                  = "CurrentTemperature"
	TargetHumidifierDehumidifierState   = "TargetHumidifierDehumidifierState"
	RelativeHumidityHumidifierThreshold = "RelativeHumidityHumidifierThreshold"
	CurrentRelativeHumidity             = "CurrentRelativeHumidity"
)

// Change describes a controller-visible value update.
type Change struct {
	AccessoryID    string
	Characteristic string
	Value          float64
	Format         Format
}

// Listener receives every pushed or written value.
type Listener func(Change)

// Accessory groups the characteristics exposed for one device.
type Accessory struct {
	ID   string
	Name string
	Kind string

	mu       sync.RWMutex
	chars    map[string]*Characteristic
	listener Listener
}

// New creates an empty accessory.
func New(id, name, kind string) *Accessory {
	return &Accessory{
		ID:    id,
		Name:  name,
		Kind:  kind,
		chars: make(map[string]*Characteristic),
	}
}

// Add registers a characteristic with the given value domain.
// Adding an existing name updates its props and returns the existing one.
func (a *Accessory) Add(name string, props Props) *Characteristic {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := a.chars[name]; ok {
		c.SetProps(props)
		return c
	}
	c := &Characteristic{
		name:      name,
		props:     props,
		accessory: a,
	}
	a.chars[name] = c
	return c
}

// Characteristic returns the characteristic with the given name, or nil.
func (a *Accessory) Characteristic(name string) *Characteristic {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.chars[name]
}

// Names returns the registered characteristic names in sorted order.
func (a *Accessory) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.chars))
	for name := range a.chars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetListener installs the change listener. Pass nil to remove it.
func (a *Accessory) SetListener(l Listener) {
	a.mu.Lock()
	a.listener = l
	a.mu.Unlock()
}

func (a *Accessory) emit(c *Characteristic, value float64) {
	a.mu.RLock()
	l := a.listener
	a.mu.RUnlock()

	if l != nil {
		l(Change{
			AccessoryID:    a.ID,
			Characteristic: c.name,
			Value:          value,
			Format:         c.Props().Format,
		})
	}
}
