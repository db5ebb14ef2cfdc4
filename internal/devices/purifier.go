package devices

import (
	"context"
	"strconv"
	"sync"

	"github.com/dokzlo13/wemod/internal/accessory"
	"github.com/dokzlo13/wemod/internal/engine"
	"github.com/dokzlo13/wemod/internal/transport"
)

// Air purifier states.
const (
	purifierInactive  = 0
	purifierIdle      = 1
	purifierPurifying = 2
)

// Purifier presents an outlet as an air purifier: Active drives the relay,
// CurrentAirPurifierState follows it.
type Purifier struct {
	*engine.Base

	history History
	active  *accessory.Characteristic
	current *accessory.Characteristic

	// stateChanged runs after every confirmed or received state change.
	stateChanged func(on bool)

	mu    sync.Mutex
	state engine.Cached[int]
}

func newPurifier(base *engine.Base, deps Deps) *Purifier {
	p := &Purifier{Base: base, history: deps.History}

	acc := base.Accessory()
	p.active = acc.Add(accessory.Active, accessory.Bool()).OnSet(p.setActive)
	p.current = acc.Add(accessory.CurrentAirPurifierState, accessory.Enum(purifierInactive, purifierIdle, purifierPurifying))
	acc.Add(accessory.TargetAirPurifierState, accessory.Enum(1)).Update(1)
	return p
}

// Receive implements engine.Adapter.
func (p *Purifier) Receive(attr engine.Attribute) {
	p.Received(attr)
	if attr.Name != "BinaryState" {
		return
	}

	v, err := attr.Int()
	if err != nil {
		p.Unknown(attr, err)
		return
	}
	p.receiveState(boolCode(float64(v)))
}

func (p *Purifier) receiveState(state int) {
	p.mu.Lock()
	if p.state.Is(state) {
		p.mu.Unlock()
		return
	}
	p.state.Set(state)
	p.mu.Unlock()

	p.active.Update(float64(state))
	p.committed(state)
}

// RequestRefresh implements engine.Adapter.
func (p *Purifier) RequestRefresh(ctx context.Context) {
	refreshBinaryState(ctx, p.Base, p)
}

func (p *Purifier) setActive(ctx context.Context, value, prev float64) error {
	if !p.Settle(ctx, classState, p.Timing.Settle) {
		return nil
	}

	state := boolCode(value)
	p.mu.Lock()
	same := p.state.Is(state)
	p.mu.Unlock()
	if same {
		p.Confirmed(p.active, float64(state))
		return nil
	}

	_, err := p.Send(ctx, transport.ServiceBasicEvent, "SetBinaryState", transport.Payload{
		"BinaryState": strconv.Itoa(state),
	})
	if err != nil {
		return p.Fail(err, p.active, prev)
	}

	p.mu.Lock()
	p.state.Set(state)
	p.mu.Unlock()
	p.Confirmed(p.active, float64(state))

	p.committed(state)
	return nil
}

func (p *Purifier) committed(state int) {
	on := state == 1
	if on {
		p.current.Update(purifierPurifying)
	} else {
		p.current.Update(purifierInactive)
	}
	if p.stateChanged != nil {
		p.stateChanged(on)
	}

	p.history.RecordState(p.ID(), on)
	p.Log.Info().Bool("purifying", on).Msg("Current state")
}
