package devices

import (
	"context"
	"strconv"
	"sync"

	"github.com/dokzlo13/wemod/internal/accessory"
	"github.com/dokzlo13/wemod/internal/engine"
	"github.com/dokzlo13/wemod/internal/transport"
)

// Switch is a plain on/off socket or light switch.
type Switch struct {
	*engine.Base

	history History
	on      *accessory.Characteristic

	mu    sync.Mutex
	state engine.Cached[int]
}

func newSwitch(base *engine.Base, deps Deps) *Switch {
	s := &Switch{Base: base, history: deps.History}
	s.on = base.Accessory().Add(accessory.On, accessory.Bool()).OnSet(s.setOn)
	return s
}

// Receive implements engine.Adapter.
func (s *Switch) Receive(attr engine.Attribute) {
	s.Received(attr)
	if attr.Name != "BinaryState" {
		return
	}

	v, err := attr.Int()
	if err != nil {
		s.Unknown(attr, err)
		return
	}
	// anything but 0 is on, including standby (8)
	state := boolCode(float64(v))

	s.mu.Lock()
	if s.state.Is(state) {
		s.mu.Unlock()
		return
	}
	s.state.Set(state)
	s.mu.Unlock()

	s.on.Update(float64(state))
	s.history.RecordState(s.ID(), state == 1)
	s.Log.Info().Bool("on", state == 1).Msg("Current state")
}

// RequestRefresh implements engine.Adapter.
func (s *Switch) RequestRefresh(ctx context.Context) {
	refreshBinaryState(ctx, s.Base, s)
}

func (s *Switch) setOn(ctx context.Context, value, prev float64) error {
	if !s.Settle(ctx, classState, s.Timing.Settle) {
		return nil
	}

	state := boolCode(value)
	s.mu.Lock()
	same := s.state.Is(state)
	s.mu.Unlock()
	if same {
		s.Confirmed(s.on, float64(state))
		return nil
	}

	_, err := s.Send(ctx, transport.ServiceBasicEvent, "SetBinaryState", transport.Payload{
		"BinaryState": strconv.Itoa(state),
	})
	if err != nil {
		return s.Fail(err, s.on, prev)
	}

	s.mu.Lock()
	s.state.Set(state)
	s.mu.Unlock()
	s.Confirmed(s.on, float64(state))

	s.history.RecordState(s.ID(), state == 1)
	s.Log.Info().Bool("on", state == 1).Msg("Current state")
	return nil
}

// refreshBinaryState reads BinaryState and, when present, brightness.
func refreshBinaryState(ctx context.Context, b *engine.Base, a engine.Adapter) {
	resp, err := b.Send(ctx, transport.ServiceBasicEvent, "GetBinaryState", nil)
	if err != nil {
		b.RefreshFailed(err)
		return
	}
	if v, ok := resp["BinaryState"]; ok {
		a.Receive(engine.Attribute{Name: "BinaryState", Value: v})
	}
	if v, ok := resp["brightness"]; ok {
		a.Receive(engine.Attribute{Name: "Brightness", Value: v})
	}
}
