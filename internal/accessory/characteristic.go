package accessory

import (
	"context"
	"math"
	"sync"
)

// Format is the value domain kind of a characteristic.
type Format int

const (
	FormatBool Format = iota
	FormatRange
	FormatEnum
)

func (f Format) String() string {
	switch f {
	case FormatBool:
		return "bool"
	case FormatRange:
		return "range"
	case FormatEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// Props is the value-domain descriptor registered with the controller.
type Props struct {
	Format      Format
	Min         float64
	Max         float64
	Step        float64
	ValidValues []float64
}

// Bool is the domain of on/off characteristics.
func Bool() Props {
	return Props{Format: FormatBool, Min: 0, Max: 1, Step: 1}
}

// Range is a bounded numeric domain with a step.
func Range(min, max, step float64) Props {
	return Props{Format: FormatRange, Min: min, Max: max, Step: step}
}

// Enum is a fixed set of valid values.
func Enum(values ...float64) Props {
	p := Props{Format: FormatEnum, ValidValues: values}
	for i, v := range values {
		if i == 0 || v < p.Min {
			p.Min = v
		}
		if i == 0 || v > p.Max {
			p.Max = v
		}
	}
	return p
}

// Clamp brings v into the domain. Bools collapse to 0/1, enums snap to the
// nearest valid value.
func (p Props) Clamp(v float64) float64 {
	switch p.Format {
	case FormatBool:
		if v != 0 {
			return 1
		}
		return 0
	case FormatEnum:
		if len(p.ValidValues) == 0 {
			return v
		}
		best := p.ValidValues[0]
		for _, candidate := range p.ValidValues[1:] {
			if math.Abs(candidate-v) < math.Abs(best-v) {
				best = candidate
			}
		}
		return best
	default:
		if v < p.Min {
			return p.Min
		}
		if p.Max > p.Min && v > p.Max {
			return p.Max
		}
		return v
	}
}

// SetHandler is invoked on controller writes with the candidate value and the
// last confirmed value.
type SetHandler func(ctx context.Context, value, prev float64) error

// Characteristic is a named controller-visible value.
type Characteristic struct {
	name      string
	accessory *Accessory

	mu        sync.RWMutex
	value     float64
	confirmed float64
	props     Props
	handler SetHandler
}

// Name returns the characteristic name.
func (c *Characteristic) Name() string {
	return c.name
}

// Props returns the value domain.
func (c *Characteristic) Props() Props {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.props
}

// SetProps replaces the value domain.
func (c *Characteristic) SetProps(p Props) *Characteristic {
	c.mu.Lock()
	c.props = p
	c.mu.Unlock()
	return c
}

// OnSet installs the write handler.
func (c *Characteristic) OnSet(h SetHandler) *Characteristic {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
	return c
}

// Value returns the current controller-visible value.
func (c *Characteristic) Value() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Confirmed returns the last value known to match the device. Optimistic
// writes do not change it until they are committed.
func (c *Characteristic) Confirmed() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.confirmed
}

// Commit records v as matching the device without pushing it.
func (c *Characteristic) Commit(v float64) {
	c.mu.Lock()
	c.confirmed = c.props.Clamp(v)
	c.mu.Unlock()
}

// Bool reports whether the value is non-zero.
func (c *Characteristic) Bool() bool {
	return c.Value() != 0
}

// Update pushes a device-confirmed value to the controller. It never fails.
func (c *Characteristic) Update(v float64) {
	c.mu.Lock()
	v = c.props.Clamp(v)
	c.value = v
	c.confirmed = v
	c.mu.Unlock()

	c.accessory.emit(c, v)
}

// Set performs a controller write: the value is shown optimistically and the
// write handler decides whether it sticks.
func (c *Characteristic) Set(ctx context.Context, v float64) error {
	c.mu.Lock()
	v = c.props.Clamp(v)
	prev := c.confirmed
	c.value = v
	h := c.handler
	c.mu.Unlock()

	c.accessory.emit(c, v)

	if h == nil {
		return nil
	}
	return h(ctx, v, prev)
}
