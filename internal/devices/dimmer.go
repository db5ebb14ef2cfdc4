package devices

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/dokzlo13/wemod/internal/accessory"
	"github.com/dokzlo13/wemod/internal/engine"
	"github.com/dokzlo13/wemod/internal/transport"
)

// Dimmer is a wall dimmer with on/off and a 0-100 brightness.
type Dimmer struct {
	*engine.Base

	on         *accessory.Characteristic
	brightness *accessory.Characteristic

	mu     sync.Mutex
	state  engine.Cached[int]
	bright engine.Cached[int]
}

func newDimmer(base *engine.Base, opts Options) *Dimmer {
	d := &Dimmer{Base: base}

	acc := base.Accessory()
	d.on = acc.Add(accessory.On, accessory.Bool()).OnSet(d.setOn)
	d.brightness = acc.Add(accessory.Brightness, accessory.Range(0, 100, brightnessStep(opts.BrightnessStep))).
		OnSet(d.setBrightness)

	d.Log.Info().Float64("brightness_step", d.brightness.Props().Step).Msg("Device options")
	return d
}

// Receive implements engine.Adapter.
func (d *Dimmer) Receive(attr engine.Attribute) {
	d.Received(attr)

	v, err := attr.Int()
	switch {
	case attr.Name == "BinaryState":
		if err != nil {
			d.Unknown(attr, err)
			return
		}
		if d.receiveState(boolCode(float64(v))) {
			go d.followBrightness()
		}
	case strings.EqualFold(attr.Name, "brightness"):
		if err != nil {
			d.Unknown(attr, err)
			return
		}
		d.receiveBrightness(v)
	}
}

// RequestRefresh implements engine.Adapter.
func (d *Dimmer) RequestRefresh(ctx context.Context) {
	resp, err := d.Send(ctx, transport.ServiceBasicEvent, "GetBinaryState", nil)
	if err != nil {
		d.RefreshFailed(err)
		return
	}
	// brightness first, so turning on does not trigger another read
	if v, ok := resp["brightness"]; ok {
		d.Receive(engine.Attribute{Name: "Brightness", Value: v})
	}
	if v, ok := resp["BinaryState"]; ok {
		attr := engine.Attribute{Name: "BinaryState", Value: v}
		d.Received(attr)
		if state, err := attr.Int(); err != nil {
			d.Unknown(attr, err)
		} else {
			d.receiveState(boolCode(float64(state)))
		}
	}
}

// receiveState reports whether the dimmer just turned on.
func (d *Dimmer) receiveState(state int) bool {
	d.mu.Lock()
	if d.state.Is(state) {
		d.mu.Unlock()
		return false
	}
	d.state.Set(state)
	d.mu.Unlock()

	d.on.Update(float64(state))
	d.Log.Info().Bool("on", state == 1).Msg("Current state")
	return state == 1
}

func (d *Dimmer) receiveBrightness(v int) {
	d.mu.Lock()
	if d.bright.Is(v) {
		d.mu.Unlock()
		return
	}
	d.bright.Set(v)
	d.mu.Unlock()

	d.brightness.Update(float64(v))
	d.Log.Info().Int("brightness", v).Msg("Current brightness")
}

func (d *Dimmer) followBrightness() {
	ctx, cancel := d.FetchContext()
	defer cancel()
	d.fetchBrightness(ctx)
}

// fetchBrightness reads the level the device restored after turning on.
// Failures leave the on/off change in place.
func (d *Dimmer) fetchBrightness(ctx context.Context) {
	resp, err := d.Send(ctx, transport.ServiceBasicEvent, "GetBinaryState", nil)
	if err != nil {
		d.Log.Warn().Str("reason", string(engine.Classify(err))).Msg("Failed to read brightness")
		return
	}
	raw, ok := resp["brightness"]
	if !ok {
		return
	}
	attr := engine.Attribute{Name: "Brightness", Value: raw}
	v, err := attr.Int()
	if err != nil {
		d.Unknown(attr, err)
		return
	}
	d.receiveBrightness(v)
}

func (d *Dimmer) setOn(ctx context.Context, value, prev float64) error {
	if !d.Settle(ctx, classState, d.Timing.Settle) {
		return nil
	}

	state := boolCode(value)
	d.mu.Lock()
	same := d.state.Is(state)
	d.mu.Unlock()
	if same {
		d.Confirmed(d.on, float64(state))
		return nil
	}

	_, err := d.Send(ctx, transport.ServiceBasicEvent, "SetBinaryState", transport.Payload{
		"BinaryState": strconv.Itoa(state),
	})
	if err != nil {
		return d.Fail(err, d.on, prev)
	}

	d.mu.Lock()
	d.state.Set(state)
	d.mu.Unlock()
	d.Confirmed(d.on, float64(state))
	d.Log.Info().Bool("on", state == 1).Msg("Current state")

	if state == 1 {
		d.fetchBrightness(ctx)
	}
	return nil
}

func (d *Dimmer) setBrightness(ctx context.Context, value, prev float64) error {
	if !d.Settle(ctx, classLevel, d.Timing.LevelSettle) {
		return nil
	}

	level := int(math.Round(value))
	state := boolCode(float64(level))
	d.mu.Lock()
	same := d.bright.Is(level) && d.state.Is(state)
	d.mu.Unlock()
	if same {
		d.Confirmed(d.brightness, float64(level))
		return nil
	}

	_, err := d.Send(ctx, transport.ServiceBasicEvent, "SetBinaryState", transport.Payload{
		"BinaryState": strconv.Itoa(state),
		"brightness":  strconv.Itoa(level),
	})
	if err != nil {
		return d.Fail(err, d.brightness, prev)
	}

	d.mu.Lock()
	d.bright.Set(level)
	d.mu.Unlock()
	d.Confirmed(d.brightness, float64(level))
	if float64(level) != value {
		d.brightness.Update(float64(level))
	}
	d.Log.Info().Int("brightness", level).Msg("Current brightness")

	// a brightness of zero turns the dimmer off and anything else turns it on
	d.receiveState(state)
	return nil
}
