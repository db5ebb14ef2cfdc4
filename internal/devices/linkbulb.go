package devices

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dokzlo13/wemod/internal/accessory"
	"github.com/dokzlo13/wemod/internal/engine"
	"github.com/dokzlo13/wemod/internal/quantize"
)

// Hub capability identifiers.
const (
	CapabilityOnOff = "10006"
	CapabilityLevel = "10008"
)

// LinkBulb is a bulb paired with a hub. It is addressed by its hub-side
// identity and every request goes through the hub.
type LinkBulb struct {
	*engine.Base

	hub        Hub
	on         *accessory.Characteristic
	brightness *accessory.Characteristic

	mu    sync.Mutex
	state engine.Cached[int]
	level engine.Cached[int]
}

func newLinkBulb(base *engine.Base, deps Deps, opts Options) *LinkBulb {
	b := &LinkBulb{Base: base, hub: deps.Hub}

	acc := base.Accessory()
	b.on = acc.Add(accessory.On, accessory.Bool()).OnSet(b.setOn)
	b.brightness = acc.Add(accessory.Brightness, accessory.Range(0, 100, brightnessStep(opts.BrightnessStep))).
		OnSet(b.setBrightness)
	return b
}

// Receive implements engine.Adapter. Attributes are named by capability.
func (b *LinkBulb) Receive(attr engine.Attribute) {
	b.Received(attr)

	switch attr.Name {
	case CapabilityOnOff:
		v, err := attr.Int()
		if err != nil {
			b.Unknown(attr, err)
			return
		}
		b.receiveState(boolCode(float64(v)))
	case CapabilityLevel:
		level, err := parseLevel(attr.Value)
		if err != nil {
			b.Unknown(attr, err)
			return
		}
		b.receiveLevel(level)
	}
}

// RequestRefresh implements engine.Adapter.
func (b *LinkBulb) RequestRefresh(ctx context.Context) {
	attrs, err := b.hub.RequestStatus(ctx, b.ID())
	if err != nil {
		b.RefreshFailed(err)
		return
	}
	for _, attr := range attrs {
		b.Receive(attr)
	}
}

func (b *LinkBulb) receiveState(state int) {
	b.mu.Lock()
	if b.state.Is(state) {
		b.mu.Unlock()
		return
	}
	b.state.Set(state)
	b.mu.Unlock()

	b.on.Update(float64(state))
	b.Log.Info().Bool("on", state == 1).Msg("Current state")
}

func (b *LinkBulb) receiveLevel(level int) {
	b.mu.Lock()
	if b.level.Is(level) {
		b.mu.Unlock()
		return
	}
	b.level.Set(level)
	b.mu.Unlock()

	percent := quantize.LevelToPercent(level)
	b.brightness.Update(percent)
	b.Log.Info().Float64("brightness", percent).Msg("Current brightness")
}

func (b *LinkBulb) setOn(ctx context.Context, value, prev float64) error {
	if !b.Settle(ctx, classState, b.Timing.Settle) {
		return nil
	}

	state := boolCode(value)
	b.mu.Lock()
	same := b.state.Is(state)
	b.mu.Unlock()
	if same {
		b.Confirmed(b.on, float64(state))
		return nil
	}

	if _, err := b.hub.Send(ctx, b.ID(), CapabilityOnOff, strconv.Itoa(state)); err != nil {
		return b.Fail(err, b.on, prev)
	}

	b.mu.Lock()
	b.state.Set(state)
	b.mu.Unlock()
	b.Confirmed(b.on, float64(state))
	b.Log.Info().Bool("on", state == 1).Msg("Current state")
	return nil
}

func (b *LinkBulb) setBrightness(ctx context.Context, value, prev float64) error {
	if !b.Settle(ctx, classLevel, b.Timing.LevelSettle) {
		return nil
	}

	level := quantize.PercentToLevel(value)
	b.mu.Lock()
	same := b.level.Is(level)
	b.mu.Unlock()
	if same {
		b.Confirmed(b.brightness, quantize.LevelToPercent(level))
		return nil
	}

	// level:transition time
	if _, err := b.hub.Send(ctx, b.ID(), CapabilityLevel, fmt.Sprintf("%d:0", level)); err != nil {
		return b.Fail(err, b.brightness, prev)
	}

	b.mu.Lock()
	b.level.Set(level)
	b.mu.Unlock()
	b.Confirmed(b.brightness, quantize.LevelToPercent(level))
	b.Log.Info().Float64("brightness", value).Msg("Current brightness")
	return nil
}

// parseLevel reads the level from a "level:transition" capability value.
func parseLevel(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, ':'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return 0, fmt.Errorf("empty level")
	}
	return strconv.Atoi(raw)
}
