package devices

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/dokzlo13/wemod/internal/accessory"
	"github.com/dokzlo13/wemod/internal/engine"
	"github.com/dokzlo13/wemod/internal/persist"
	"github.com/dokzlo13/wemod/internal/quantize"
	"github.com/dokzlo13/wemod/internal/transport"
)

var crockpotLabels = map[int]string{
	quantize.CrockpotOff:  "off",
	quantize.CrockpotWarm: "warm",
	quantize.CrockpotLow:  "low",
	quantize.CrockpotHigh: "high",
}

// Crockpot is a slow cooker presented as a heater: RotationSpeed selects the
// mode and HeatingThresholdTemperature carries the cooking time in hours.
// CurrentTemperature shows the time left.
type Crockpot struct {
	*engine.Base

	ctx       *persist.Context
	active    *accessory.Characteristic
	speed     *accessory.Characteristic
	threshold *accessory.Characteristic
	remaining *accessory.Characteristic

	mu      sync.Mutex
	mode    engine.Cached[int]
	minutes engine.Cached[int]
}

func newCrockpot(base *engine.Base, deps Deps) *Crockpot {
	c := &Crockpot{Base: base, ctx: deps.Context}

	acc := base.Accessory()
	c.active = acc.Add(accessory.Active, accessory.Bool()).OnSet(c.setActive)
	acc.Add(accessory.TargetHeaterCoolerState, accessory.Enum(0))
	c.speed = acc.Add(accessory.RotationSpeed, accessory.Range(0, 100, 33)).OnSet(c.setMode)
	c.threshold = acc.Add(accessory.HeatingThresholdTemperature, accessory.Range(0, 24, 0.5)).OnSet(c.setCookTime)
	c.remaining = acc.Add(accessory.CurrentTemperature, accessory.Range(0, 24, 0.5))
	return c
}

// Receive implements engine.Adapter.
func (c *Crockpot) Receive(attr engine.Attribute) {
	c.Received(attr)

	switch attr.Name {
	case "mode":
		v, err := attr.Int()
		if err != nil {
			c.Unknown(attr, err)
			return
		}
		if !quantize.CrockpotMode.Valid(v) {
			c.Unknown(attr, fmt.Errorf("unknown mode %d", v))
			return
		}
		c.receiveMode(v)
	case "time":
		v, err := attr.Int()
		if err != nil {
			c.Unknown(attr, err)
			return
		}
		c.receiveTime(v)
	}
}

// RequestRefresh implements engine.Adapter.
func (c *Crockpot) RequestRefresh(ctx context.Context) {
	resp, err := c.Send(ctx, transport.ServiceBasicEvent, "GetCrockpotState", nil)
	if err != nil {
		c.RefreshFailed(err)
		return
	}
	if v, ok := resp["mode"]; ok {
		c.Receive(engine.Attribute{Name: "mode", Value: v})
	}
	if v, ok := resp["time"]; ok {
		c.Receive(engine.Attribute{Name: "time", Value: v})
	}
}

func (c *Crockpot) receiveMode(mode int) {
	c.mu.Lock()
	if c.mode.Is(mode) {
		c.mu.Unlock()
		return
	}
	c.mode.Set(mode)
	if mode == quantize.CrockpotOff {
		c.minutes.Set(0)
	}
	c.mu.Unlock()

	c.showMode(mode)
	if mode == quantize.CrockpotOff {
		c.remaining.Update(0)
		c.threshold.Update(0)
	}
}

func (c *Crockpot) receiveTime(minutes int) {
	c.mu.Lock()
	if c.minutes.Is(minutes) {
		c.mu.Unlock()
		return
	}
	c.minutes.Set(minutes)
	hours := quantize.CookHours(minutes)
	// a running timer means the pot is at least warming
	warming := hours > 0 && c.speed.Value() == 0
	if warming {
		c.mode.Set(quantize.CrockpotWarm)
	}
	c.mu.Unlock()

	if warming {
		c.showMode(quantize.CrockpotWarm)
	}
	c.remaining.Update(hours)
	c.threshold.Update(hours)
	c.Log.Info().Str("timer", formatMinutes(minutes)).Msg("Current timer")
}

// showMode pushes a confirmed mode to Active and RotationSpeed.
func (c *Crockpot) showMode(mode int) {
	speed, _ := quantize.CrockpotMode.Value(mode)
	c.active.Update(float64(boolCode(float64(mode))))
	c.speed.Update(speed)

	if mode != quantize.CrockpotOff {
		if err := c.ctx.Set(persist.KeyLastOnMode, float64(mode)); err != nil {
			c.Log.Warn().Err(err).Msg("Failed to persist last mode")
		}
	}
	c.Log.Info().Str("mode", crockpotLabels[mode]).Msg("Current mode")
}

// setActive turns the pot off, or on in the last mode it cooked in.
func (c *Crockpot) setActive(ctx context.Context, value, _ float64) error {
	if !c.Settle(ctx, classState, c.Timing.Settle) {
		return nil
	}
	confirmed := c.active.Confirmed()
	if boolCode(value) == boolCode(confirmed) {
		c.Confirmed(c.active, confirmed)
		return nil
	}

	target := 0.0
	if value != 0 {
		mode := c.ctx.Int(persist.KeyLastOnMode, quantize.CrockpotWarm)
		if !quantize.CrockpotMode.Valid(mode) || mode == quantize.CrockpotOff {
			mode = quantize.CrockpotWarm
		}
		target, _ = quantize.CrockpotMode.Value(mode)
	}

	if err := c.speed.Set(ctx, target); err != nil {
		c.Reverter().Schedule(c.active, confirmed)
		return err
	}
	c.Confirmed(c.active, float64(boolCode(value)))
	return nil
}

func (c *Crockpot) setMode(ctx context.Context, value, prev float64) error {
	if !c.Settle(ctx, classLevel, c.Timing.LevelSettle) {
		return nil
	}

	mode := quantize.CrockpotMode.Code(value)
	c.mu.Lock()
	same := c.mode.Is(mode)
	minutes, _ := c.minutes.Get()
	c.mu.Unlock()
	if same {
		c.Confirmed(c.speed, quantize.CrockpotMode.Snap(value))
		if snapped := quantize.CrockpotMode.Snap(value); snapped != value {
			c.speed.Update(snapped)
		}
		return nil
	}

	// off and warm run without a timer
	if mode == quantize.CrockpotOff || mode == quantize.CrockpotWarm {
		minutes = 0
	}

	if err := c.send(ctx, mode, minutes); err != nil {
		return c.Fail(err, c.speed, prev)
	}

	c.mu.Lock()
	c.mode.Set(mode)
	c.minutes.Set(minutes)
	c.mu.Unlock()
	c.Confirmed(c.speed, quantize.CrockpotMode.Snap(value))

	c.showMode(mode)
	if minutes == 0 {
		c.remaining.Update(0)
		c.threshold.Update(0)
	}
	return nil
}

func (c *Crockpot) setCookTime(ctx context.Context, value, prev float64) error {
	if !c.Settle(ctx, classTime, c.Timing.LevelSettle) {
		return nil
	}

	minutes := quantize.CookMinutes(value)
	hours := float64(minutes) / 60

	c.mu.Lock()
	same := c.minutes.Is(minutes)
	mode, _ := c.mode.Get()
	c.mu.Unlock()
	if same {
		c.Confirmed(c.threshold, hours)
		if hours != value {
			c.threshold.Update(hours)
		}
		return nil
	}

	// a timer needs the pot to actually cook
	if minutes != 0 && (mode == quantize.CrockpotOff || mode == quantize.CrockpotWarm) {
		mode = quantize.CrockpotLow
	}

	if err := c.send(ctx, mode, minutes); err != nil {
		return c.Fail(err, c.threshold, prev)
	}

	c.mu.Lock()
	modeChanged := !c.mode.Is(mode)
	c.mode.Set(mode)
	c.minutes.Set(minutes)
	c.mu.Unlock()
	c.Confirmed(c.threshold, hours)

	if modeChanged {
		c.showMode(mode)
	}
	c.threshold.Update(hours)
	c.remaining.Update(hours)
	c.Log.Info().Str("timer", formatMinutes(minutes)).Msg("Current timer")
	return nil
}

func (c *Crockpot) send(ctx context.Context, mode, minutes int) error {
	_, err := c.Send(ctx, transport.ServiceBasicEvent, "SetCrockpotState", transport.Payload{
		"mode": strconv.Itoa(mode),
		"time": strconv.Itoa(minutes),
	})
	return err
}

func formatMinutes(minutes int) string {
	return fmt.Sprintf("%d:%02d", minutes/60, minutes%60)
}
