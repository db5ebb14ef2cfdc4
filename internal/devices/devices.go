// Package devices implements one adapter per supported appliance kind. Each
// adapter owns an accessory, translates controller writes into control
// requests and folds device reports back into characteristic values.
package devices

import (
	"context"
	"fmt"
	"time"

	"github.com/dokzlo13/wemod/internal/engine"
	"github.com/dokzlo13/wemod/internal/kv"
	"github.com/dokzlo13/wemod/internal/persist"
	"github.com/dokzlo13/wemod/internal/transport"
)

// Device kinds.
const (
	KindSwitch     = "switch"
	KindPurifier   = "purifier"
	KindInsight    = "insight"
	KindDimmer     = "dimmer"
	KindCrockpot   = "crockpot"
	KindHumidifier = "humidifier"
	KindLinkBulb   = "linkbulb"
)

// Write classes. Writes of different classes never supersede each other.
const (
	classState = "state"
	classLevel = "level"
	classTime  = "time"
	classHumid = "humidity"
)

// Kinds lists every supported kind.
func Kinds() []string {
	return []string{KindSwitch, KindPurifier, KindInsight, KindDimmer, KindCrockpot, KindHumidifier, KindLinkBulb}
}

// DefaultTiming returns the settle windows a kind needs. State writes of the
// dimmer wait longer than brightness writes so a scene sends brightness first.
func DefaultTiming(kind string) engine.Timing {
	t := engine.Timing{Revert: engine.DefaultRevertDelay, Fetch: 10 * time.Second}
	switch kind {
	case KindDimmer:
		t.Settle = 500 * time.Millisecond
		t.LevelSettle = 300 * time.Millisecond
	case KindCrockpot, KindHumidifier:
		t.Settle = 500 * time.Millisecond
		t.LevelSettle = 500 * time.Millisecond
	case KindLinkBulb:
		t.Settle = 300 * time.Millisecond
		t.LevelSettle = 300 * time.Millisecond
	}
	return t
}

// History records device readings outside the controller.
type History interface {
	RecordState(device string, on bool)
	RecordPower(device string, watts float64)
	RecordEnergy(device string, todayKWh, totalKWh float64)
}

type nopHistory struct{}

func (nopHistory) RecordState(string, bool)              {}
func (nopHistory) RecordPower(string, float64)           {}
func (nopHistory) RecordEnergy(string, float64, float64) {}

// Hub sends commands to devices behind a shared gateway.
type Hub interface {
	Send(ctx context.Context, deviceID, capability, value string) (transport.Response, error)
	RequestStatus(ctx context.Context, deviceID string) ([]engine.Attribute, error)
}

// Options are the per-device settings.
type Options struct {
	// Timing overrides the kind's defaults where non-zero.
	Timing engine.Timing
	// BrightnessStep is the brightness granularity of dimmers and bulbs.
	BrightnessStep float64
	// ShowTodayTotal exposes today's energy instead of the running total.
	ShowTodayTotal bool
	// WattDiff is the minimum power change worth a log line.
	WattDiff float64
	// TimeDiff is the quiet period after a logged power change.
	TimeDiff time.Duration
}

// Deps are the collaborators of an adapter.
type Deps struct {
	Client  transport.Client
	Context *persist.Context
	History History
	// Hub is required for devices behind a gateway.
	Hub Hub
}

// New constructs the adapter for id.Kind. The adapter is not refreshed;
// callers issue the initial RequestRefresh.
func New(id engine.Identity, ref transport.Ref, deps Deps, opts Options) (engine.Adapter, error) {
	if deps.Context == nil {
		deps.Context = persist.New(kv.NewMemoryBucket("device:" + id.ID))
	}
	if deps.History == nil {
		deps.History = nopHistory{}
	}
	if id.Kind != KindLinkBulb && deps.Client == nil {
		return nil, fmt.Errorf("device %s: no transport client", id.ID)
	}

	timing := opts.Timing.WithDefaults(DefaultTiming(id.Kind))
	base := engine.NewBase(id, ref, deps.Client, timing)

	switch id.Kind {
	case KindSwitch:
		return newSwitch(base, deps), nil
	case KindPurifier:
		return newPurifier(base, deps), nil
	case KindInsight:
		return newInsight(base, deps, opts), nil
	case KindDimmer:
		return newDimmer(base, opts), nil
	case KindCrockpot:
		return newCrockpot(base, deps), nil
	case KindHumidifier:
		return newHumidifier(base, deps), nil
	case KindLinkBulb:
		if deps.Hub == nil {
			return nil, fmt.Errorf("device %s: link bulb requires a hub", id.ID)
		}
		return newLinkBulb(base, deps, opts), nil
	default:
		return nil, fmt.Errorf("device %s: unknown kind %q", id.ID, id.Kind)
	}
}

func boolCode(v float64) int {
	if v != 0 {
		return 1
	}
	return 0
}

func brightnessStep(step float64) float64 {
	if step <= 0 {
		return 1
	}
	if step > 100 {
		return 100
	}
	return step
}
