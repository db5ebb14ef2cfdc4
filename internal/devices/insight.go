package devices

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/dokzlo13/wemod/internal/accessory"
	"github.com/dokzlo13/wemod/internal/engine"
	"github.com/dokzlo13/wemod/internal/metering"
	"github.com/dokzlo13/wemod/internal/transport"
)

// Insight is a metering outlet presented as a purifier with power and energy
// characteristics.
type Insight struct {
	*Purifier

	meter *metering.Meter
	power *accessory.Characteristic
	total *accessory.Characteristic
	reset *accessory.Characteristic

	mu    sync.Mutex
	inUse engine.Cached[bool]
}

func newInsight(base *engine.Base, deps Deps, opts Options) *Insight {
	i := &Insight{
		Purifier: newPurifier(base, deps),
		meter: metering.New(deps.Context, metering.Options{
			ShowToday: opts.ShowTodayTotal,
			WattDiff:  opts.WattDiff,
			TimeDiff:  opts.TimeDiff,
		}),
	}

	acc := base.Accessory()
	i.power = acc.Add(accessory.CurrentConsumption, accessory.Range(0, math.MaxUint16, 1))
	i.total = acc.Add(accessory.TotalConsumption, accessory.Range(0, math.MaxUint32, 0.001))
	i.reset = acc.Add(accessory.ResetTotal, accessory.Range(0, math.MaxUint32, 1)).OnSet(i.resetTotal)
	i.stateChanged = i.switched

	if !opts.ShowTodayTotal {
		i.total.Update(i.meter.Total())
	}
	return i
}

// Receive implements engine.Adapter. Pushed BinaryState values carry the
// full parameter list.
func (i *Insight) Receive(attr engine.Attribute) {
	if attr.Name == "BinaryState" && strings.Count(attr.Value, "|") >= 8 {
		attr.Name = "InsightParams"
	}
	if attr.Name != "InsightParams" {
		i.Purifier.Receive(attr)
		return
	}
	i.Received(attr)

	params, err := metering.ParseParams(attr.Value)
	if err != nil {
		i.Unknown(attr, err)
		return
	}

	i.receiveState(boolCode(float64(params.State)))
	i.receiveInUse(params.State)
	i.receiveEnergy(params.TodayMWMin, params.TodayOnSeconds)
	i.receivePower(params.PowerMW)
}

// RequestRefresh implements engine.Adapter. Devices that do not expose the
// insight service still report their relay state.
func (i *Insight) RequestRefresh(ctx context.Context) {
	refreshBinaryState(ctx, i.Base, i)

	resp, err := i.Send(ctx, transport.ServiceInsight, "GetInsightParams", nil)
	if err != nil {
		i.RefreshFailed(err)
		return
	}
	if v, ok := resp["InsightParams"]; ok {
		i.Receive(engine.Attribute{Name: "InsightParams", Value: v})
	}
}

// Close implements engine.Adapter.
func (i *Insight) Close() {
	i.meter.Stop()
	i.Purifier.Close()
}

// receiveInUse distinguishes drawing power (1) from standby (8).
func (i *Insight) receiveInUse(state int) {
	want := float64(purifierInactive)
	switch {
	case state == 1:
		want = purifierPurifying
	case state != 0:
		want = purifierIdle
	}
	if i.current.Value() != want {
		i.current.Update(want)
	}

	inUse := state == 1
	i.mu.Lock()
	if i.inUse.Is(inUse) {
		i.mu.Unlock()
		return
	}
	i.inUse.Set(inUse)
	i.mu.Unlock()

	i.Log.Info().Bool("in_use", inUse).Msg("Current state")
}

func (i *Insight) receiveEnergy(todayMWMin, onSeconds int64) {
	e, changed, err := i.meter.Energy(todayMWMin, onSeconds)
	if err != nil {
		i.Log.Warn().Err(err).Msg("Failed to persist energy counters")
		return
	}
	if !changed {
		return
	}

	i.total.Update(e.Display)
	i.history.RecordEnergy(i.ID(), e.TodayKWh, e.TotalKWh)
	if i.meter.Quiet() {
		return
	}
	i.Log.Info().
		Dur("on_today", e.OnToday).
		Float64("today_kwh", e.TodayKWh).
		Float64("total_kwh", e.TotalKWh).
		Msg("Energy")
}

func (i *Insight) receivePower(milliwatts int64) {
	p, changed := i.meter.Power(milliwatts)
	if !changed {
		return
	}

	i.power.Update(p.Watts)
	i.history.RecordPower(i.ID(), p.Watts)
	if p.Log {
		i.Log.Info().Float64("watts", p.Watts).Msg("Current consumption")
	}
}

// switched zeroes the power reading whenever the relay turns off.
func (i *Insight) switched(on bool) {
	if on {
		return
	}
	i.meter.Off()
	i.power.Update(0)
	i.history.RecordPower(i.ID(), 0)
}

func (i *Insight) resetTotal(_ context.Context, _, _ float64) error {
	if err := i.meter.Reset(); err != nil {
		i.Log.Warn().Err(err).Msg("Failed to reset energy total")
		return err
	}
	i.total.Update(0)
	i.Log.Info().Msg("Energy total reset")
	return nil
}
