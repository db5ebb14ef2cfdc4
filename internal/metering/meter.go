package metering

import (
	"math"
	"sync"
	"time"

	"github.com/dokzlo13/wemod/internal/persist"
)

// Options tune how readings are exposed and logged.
type Options struct {
	// ShowToday exposes today's energy instead of the running total.
	ShowToday bool
	// WattDiff is the minimum power change worth a log line.
	WattDiff float64
	// TimeDiff is the quiet period after a logged power change.
	// Zero disables the gate.
	TimeDiff time.Duration
}

// Energy is the result of one energy telemetry delivery.
type Energy struct {
	TodayKWh float64
	TotalKWh float64
	// Display is what the controller shows, depending on ShowToday.
	Display float64
	OnToday time.Duration
}

// Power is the result of one power telemetry delivery.
type Power struct {
	Watts float64
	// Log reports whether the change passed the watt-diff and quiet gates.
	Log bool
}

// Meter derives readings from cumulative counters. The counters it needs
// across restarts live in the persisted context.
type Meter struct {
	opts Options
	ctx  *persist.Context

	mu         sync.Mutex
	watts      float64
	wattsKnown bool
	quiet      bool
	quietTimer *time.Timer
}

// New creates a meter over the device's persisted context.
func New(ctx *persist.Context, opts Options) *Meter {
	return &Meter{opts: opts, ctx: ctx}
}

// Energy applies a cumulative reading of today's energy. It returns false
// when the reading equals the last one. A reading below the previous one (the
// daily counter rolled over) adds nothing to the total.
func (m *Meter) Energy(todayMWMin int64, onSeconds int64) (Energy, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lastWm := m.ctx.Float(persist.KeyLastWm, 0)
	if m.ctx.Has(persist.KeyLastWm) && float64(todayMWMin) == lastWm {
		return Energy{}, false, nil
	}

	// mW·min -> Wh, rounded, then kWh
	todayKWh := math.Round(float64(todayMWMin)/60000) / 1000

	lastToday := m.ctx.Float(persist.KeyLastTodayTC, 0)
	total := m.ctx.Float(persist.KeyTotalTC, 0) + math.Max(todayKWh-lastToday, 0)

	err := m.ctx.SetMany(map[string]float64{
		persist.KeyLastWm:      float64(todayMWMin),
		persist.KeyLastTodayTC: todayKWh,
		persist.KeyTotalTC:     total,
	})
	if err != nil {
		return Energy{}, false, err
	}

	e := Energy{
		TodayKWh: todayKWh,
		TotalKWh: total,
		Display:  total,
		OnToday:  time.Duration(onSeconds) * time.Second,
	}
	if m.opts.ShowToday {
		e.Display = todayKWh
	}
	return e, true, nil
}

// Power applies an instantaneous power reading in milliwatts. It returns
// false when the rounded wattage did not change.
func (m *Meter) Power(milliwatts int64) (Power, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	watts := math.Round(float64(milliwatts) / 1000)
	if m.wattsKnown && watts == m.watts {
		return Power{}, false
	}

	diff := math.Abs(watts - m.watts)
	m.watts = watts
	m.wattsKnown = true

	p := Power{Watts: watts}
	if !m.quiet && diff >= m.opts.WattDiff {
		p.Log = true
		if m.opts.TimeDiff > 0 {
			m.quiet = true
			m.quietTimer = time.AfterFunc(m.opts.TimeDiff, m.clearQuiet)
		}
	}
	return p, true
}

// Off records that the device stopped drawing power.
func (m *Meter) Off() {
	m.mu.Lock()
	m.watts = 0
	m.wattsKnown = true
	m.mu.Unlock()
}

// Quiet reports whether the log gate is closed.
func (m *Meter) Quiet() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quiet
}

// Total returns the running total in kWh.
func (m *Meter) Total() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx.Float(persist.KeyTotalTC, 0)
}

// Reset zeroes the last reading, the last derived value and the total.
func (m *Meter) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.ctx.SetMany(map[string]float64{
		persist.KeyLastWm:      0,
		persist.KeyLastTodayTC: 0,
		persist.KeyTotalTC:     0,
	})
}

// Stop cancels the quiet timer.
func (m *Meter) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quietTimer != nil {
		m.quietTimer.Stop()
	}
	m.quiet = false
}

func (m *Meter) clearQuiet() {
	m.mu.Lock()
	m.quiet = false
	m.mu.Unlock()
}
