package devices

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/dokzlo13/wemod/internal/accessory"
	"github.com/dokzlo13/wemod/internal/engine"
	"github.com/dokzlo13/wemod/internal/persist"
	"github.com/dokzlo13/wemod/internal/quantize"
	"github.com/dokzlo13/wemod/internal/transport"
)

var fanLabels = []string{"off", "minimum", "low", "medium", "high", "maximum"}

// Humidifier exposes fan mode as RotationSpeed and the humidity setpoint as
// a threshold. The device talks in attribute lists.
type Humidifier struct {
	*engine.Base

	ctx      *persist.Context
	active   *accessory.Characteristic
	speed    *accessory.Characteristic
	target   *accessory.Characteristic
	humidity *accessory.Characteristic

	mu      sync.Mutex
	fan     engine.Cached[int]
	desired engine.Cached[int]
	current engine.Cached[int]
}

func newHumidifier(base *engine.Base, deps Deps) *Humidifier {
	h := &Humidifier{Base: base, ctx: deps.Context}

	acc := base.Accessory()
	h.active = acc.Add(accessory.Active, accessory.Bool()).OnSet(h.setActive)
	acc.Add(accessory.TargetHumidifierDehumidifierState, accessory.Enum(1)).Update(1)
	h.target = acc.Add(accessory.RelativeHumidityHumidifierThreshold, accessory.Range(0, 100, 1)).OnSet(h.setTarget)
	h.speed = acc.Add(accessory.RotationSpeed, accessory.Range(0, 100, 20)).OnSet(h.setFan)
	h.humidity = acc.Add(accessory.CurrentRelativeHumidity, accessory.Range(0, 100, 1))
	return h
}

// Receive implements engine.Adapter. A pushed attributeList is unpacked
// into its attributes.
func (h *Humidifier) Receive(attr engine.Attribute) {
	if attr.Name == "attributeList" {
		h.receiveList(attr)
		return
	}
	h.Received(attr)

	switch attr.Name {
	case "FanMode", "DesiredHumidity", "CurrentHumidity":
	default:
		return
	}
	v, err := attr.Int()
	if err != nil {
		h.Unknown(attr, err)
		return
	}

	switch attr.Name {
	case "FanMode":
		if !quantize.HumidifierFan.Valid(v) {
			h.Unknown(attr, fmt.Errorf("unknown fan mode %d", v))
			return
		}
		h.receiveFan(v)
	case "DesiredHumidity":
		if !quantize.HumidifierTarget.Valid(v) {
			h.Unknown(attr, fmt.Errorf("unknown humidity setting %d", v))
			return
		}
		h.receiveDesired(v)
	case "CurrentHumidity":
		h.receiveHumidity(v)
	}
}

// RequestRefresh implements engine.Adapter.
func (h *Humidifier) RequestRefresh(ctx context.Context) {
	resp, err := h.Send(ctx, transport.ServiceDeviceEvent, "GetAttributes", nil)
	if err != nil {
		h.RefreshFailed(err)
		return
	}
	if v, ok := resp["attributeList"]; ok {
		h.receiveList(engine.Attribute{Name: "attributeList", Value: v})
	}
}

func (h *Humidifier) receiveList(attr engine.Attribute) {
	attrs, err := transport.DecodeAttributeList(attr.Value)
	if err != nil {
		h.Unknown(attr, err)
		return
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h.Receive(engine.Attribute{Name: name, Value: attrs[name]})
	}
}

func (h *Humidifier) receiveFan(code int) {
	h.mu.Lock()
	if h.fan.Is(code) {
		h.mu.Unlock()
		return
	}
	h.fan.Set(code)
	h.mu.Unlock()

	h.showFan(code)
}

func (h *Humidifier) receiveDesired(code int) {
	h.mu.Lock()
	if h.desired.Is(code) {
		h.mu.Unlock()
		return
	}
	h.desired.Set(code)
	h.mu.Unlock()

	target, _ := quantize.HumidifierTarget.Value(code)
	h.target.Update(target)
	h.Log.Info().Float64("humidity", target).Msg("Target humidity")
}

func (h *Humidifier) receiveHumidity(v int) {
	h.mu.Lock()
	if h.current.Is(v) {
		h.mu.Unlock()
		return
	}
	h.current.Set(v)
	h.mu.Unlock()

	h.humidity.Update(float64(v))
	h.Log.Info().Int("humidity", v).Msg("Current humidity")
}

// showFan pushes a confirmed fan mode to Active and RotationSpeed.
func (h *Humidifier) showFan(code int) {
	speed, _ := quantize.HumidifierFan.Value(code)
	h.active.Update(float64(boolCode(float64(code))))
	h.speed.Update(speed)

	if code != 0 {
		if err := h.ctx.Set(persist.KeyLastOnMode, float64(code)); err != nil {
			h.Log.Warn().Err(err).Msg("Failed to persist last mode")
		}
	}
	h.Log.Info().Str("mode", fanLabels[code]).Msg("Current mode")
}

// setActive turns the fan off, or on in the last mode it ran in.
func (h *Humidifier) setActive(ctx context.Context, value, _ float64) error {
	if !h.Settle(ctx, classState, h.Timing.Settle) {
		return nil
	}
	confirmed := h.active.Confirmed()
	if boolCode(value) == boolCode(confirmed) {
		h.Confirmed(h.active, confirmed)
		return nil
	}

	target := 0.0
	if value != 0 {
		code := h.ctx.Int(persist.KeyLastOnMode, 1)
		if code <= 0 || !quantize.HumidifierFan.Valid(code) {
			code = 1
		}
		target, _ = quantize.HumidifierFan.Value(code)
	}

	if err := h.speed.Set(ctx, target); err != nil {
		h.Reverter().Schedule(h.active, confirmed)
		return err
	}
	h.Confirmed(h.active, float64(boolCode(value)))
	return nil
}

func (h *Humidifier) setFan(ctx context.Context, value, prev float64) error {
	if !h.Settle(ctx, classLevel, h.Timing.LevelSettle) {
		return nil
	}

	code := quantize.HumidifierFan.Code(value)
	h.mu.Lock()
	same := h.fan.Is(code)
	h.mu.Unlock()
	if same {
		h.Confirmed(h.speed, quantize.HumidifierFan.Snap(value))
		if snapped := quantize.HumidifierFan.Snap(value); snapped != value {
			h.speed.Update(snapped)
		}
		return nil
	}

	if err := h.send(ctx, "FanMode", code); err != nil {
		return h.Fail(err, h.speed, prev)
	}

	h.mu.Lock()
	h.fan.Set(code)
	h.mu.Unlock()
	h.Confirmed(h.speed, quantize.HumidifierFan.Snap(value))

	h.showFan(code)
	return nil
}

func (h *Humidifier) setTarget(ctx context.Context, value, prev float64) error {
	if !h.Settle(ctx, classHumid, h.Timing.LevelSettle) {
		return nil
	}

	code := quantize.HumidifierTarget.Code(value)
	target, _ := quantize.HumidifierTarget.Value(code)

	h.mu.Lock()
	same := h.desired.Is(code)
	h.mu.Unlock()
	if same {
		h.Confirmed(h.target, target)
		if target != value {
			h.target.Update(target)
		}
		return nil
	}

	if err := h.send(ctx, "DesiredHumidity", code); err != nil {
		return h.Fail(err, h.target, prev)
	}

	h.mu.Lock()
	h.desired.Set(code)
	h.mu.Unlock()
	h.Confirmed(h.target, target)

	h.target.Update(target)
	h.Log.Info().Float64("humidity", target).Msg("Target humidity")
	return nil
}

func (h *Humidifier) send(ctx context.Context, name string, code int) error {
	_, err := h.Send(ctx, transport.ServiceDeviceEvent, "SetAttributes", transport.Payload{
		"attributeList": transport.EncodeAttributeList(map[string]string{name: strconv.Itoa(code)}),
	})
	return err
}
