package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wemod/internal/accessory"
	"github.com/dokzlo13/wemod/internal/transport"
)

// Timing holds the per-kind delays of an adapter.
type Timing struct {
	// Settle is the debounce window of state writes.
	Settle time.Duration
	// LevelSettle is the debounce window of level writes (brightness,
	// speed, humidity, cook time).
	LevelSettle time.Duration
	// Revert is how long a failed value stays visible.
	Revert time.Duration
	// Fetch bounds follow-up reads issued outside a caller context.
	Fetch time.Duration
}

// WithDefaults fills zero fields from d.
func (t Timing) WithDefaults(d Timing) Timing {
	if t.Settle == 0 {
		t.Settle = d.Settle
	}
	if t.LevelSettle == 0 {
		t.LevelSettle = d.LevelSettle
	}
	if t.Revert == 0 {
		t.Revert = d.Revert
	}
	if t.Fetch == 0 {
		t.Fetch = d.Fetch
	}
	return t
}

// Base carries what every adapter needs: identity, transport, logger,
// debouncer and reverter.
type Base struct {
	Identity Identity
	Ref      transport.Ref
	Client   transport.Client
	Timing   Timing
	Log      zerolog.Logger

	acc      *accessory.Accessory
	debounce *Debouncer
	revert   *Reverter
}

// NewBase creates the shared adapter state and its accessory.
func NewBase(id Identity, ref transport.Ref, client transport.Client, timing Timing) *Base {
	if timing.Fetch == 0 {
		timing.Fetch = 10 * time.Second
	}
	return &Base{
		Identity: id,
		Ref:      ref,
		Client:   client,
		Timing:   timing,
		Log: log.With().
			Str("device", id.ID).
			Str("name", id.Name).
			Str("kind", id.Kind).
			Logger(),
		acc:      accessory.New(id.ID, id.Name, id.Kind),
		debounce: NewDebouncer(),
		revert:   NewReverter(timing.Revert),
	}
}

// ID implements Adapter.
func (b *Base) ID() string {
	return b.Identity.ID
}

// Accessory implements Adapter.
func (b *Base) Accessory() *accessory.Accessory {
	return b.acc
}

// Close implements Adapter.
func (b *Base) Close() {
	b.revert.Stop()
}

// Reverter exposes the pending-revert tracker.
func (b *Base) Reverter() *Reverter {
	return b.revert
}

// Settle debounces a write of the given class.
func (b *Base) Settle(ctx context.Context, class string, window time.Duration) bool {
	return b.debounce.Settle(ctx, class, window)
}

// Send issues a control request to the device.
func (b *Base) Send(ctx context.Context, service, action string, payload transport.Payload) (transport.Response, error) {
	if payload != nil {
		b.Log.Debug().Str("action", action).Interface("payload", payload).Msg("Sending update")
	}
	return b.Client.SendCommand(transport.WithDevice(ctx, b.Identity.ID), b.Ref, service, action, payload)
}

// Fail handles a failed write: it logs, schedules the revert of c to prev,
// the last confirmed value, and returns the controller fault.
func (b *Base) Fail(err error, c *accessory.Characteristic, prev float64) error {
	class := Classify(err)
	event := b.Log.Warn().Str("reason", string(class)).Str("characteristic", c.Name())
	if !class.Expected() {
		event = event.Err(err)
	}
	event.Msg("Failed to control device")

	b.revert.Schedule(c, prev)
	return fmt.Errorf("%w: %v", accessory.ErrNotResponding, err)
}

// Confirmed records that the device now holds v for c. A revert still
// pending from an earlier failed write would overwrite it, so it is dropped.
func (b *Base) Confirmed(c *accessory.Characteristic, v float64) {
	c.Commit(v)
	b.revert.Cancel(c.Name())
}

// RefreshFailed logs a failed refresh. Refresh failures never propagate.
func (b *Base) RefreshFailed(err error) {
	class := Classify(err)
	event := b.Log.Debug().Str("reason", string(class))
	if !class.Expected() {
		event = event.Err(err)
	}
	event.Msg("Failed to request device update")
}

// Received logs an incoming attribute at debug level.
func (b *Base) Received(attr Attribute) {
	b.Log.Debug().Str("attribute", attr.Name).Str("value", attr.Value).Msg("Received update")
}

// Unknown logs a device-reported value outside the declared set.
func (b *Base) Unknown(attr Attribute, err error) {
	event := b.Log.Warn().Str("attribute", attr.Name).Str("value", attr.Value)
	if err != nil {
		event = event.Err(err)
	}
	event.Msg("Ignoring unknown device value")
}

// FetchContext returns a context for follow-up reads triggered by
// notifications, which carry no caller context.
func (b *Base) FetchContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.Timing.Fetch)
}
