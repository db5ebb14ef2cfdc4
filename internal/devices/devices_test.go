package devices

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/wemod/internal/accessory"
	"github.com/dokzlo13/wemod/internal/engine"
	"github.com/dokzlo13/wemod/internal/persist"
	"github.com/dokzlo13/wemod/internal/transport"
)

func TestNewRejectsBadConfig(t *testing.T) {
	id := engine.Identity{ID: "x", Kind: "toaster"}
	_, err := New(id, transport.Ref{}, Deps{Client: newFakeClient()}, Options{})
	assert.Error(t, err)

	id.Kind = KindLinkBulb
	_, err = New(id, transport.Ref{}, Deps{}, Options{})
	assert.Error(t, err, "link bulb needs a hub")

	id.Kind = KindSwitch
	_, err = New(id, transport.Ref{}, Deps{}, Options{})
	assert.Error(t, err, "switch needs a client")
}

func TestEveryKindConstructs(t *testing.T) {
	f := newFixture()
	for _, kind := range Kinds() {
		a := f.adapter(t, kind, Options{})
		assert.NotEmpty(t, a.Accessory().Names(), kind)
	}
}

func TestDebounceSendsOnlyNewestWrite(t *testing.T) {
	f := newFixture()
	a := f.adapter(t, KindDimmer, Options{})
	brightness := char(a, accessory.Brightness)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = brightness.Set(context.Background(), 30)
	}()
	time.Sleep(5 * time.Millisecond)
	errs[1] = brightness.Set(context.Background(), 60)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	calls := f.client.sent("SetBinaryState")
	require.Len(t, calls, 1)
	assert.Equal(t, transport.Payload{"BinaryState": "1", "brightness": "60"}, calls[0].payload)
	assert.Equal(t, 60.0, brightness.Value())
	assert.Equal(t, 1.0, char(a, accessory.On).Value())
}

func TestReceiveSuppressesDuplicates(t *testing.T) {
	f := newFixture()
	a := f.adapter(t, KindSwitch, Options{})
	rec := record(a.Accessory())

	a.Receive(engine.Attribute{Name: "BinaryState", Value: "1"})
	a.Receive(engine.Attribute{Name: "BinaryState", Value: "1"})
	// standby still counts as on
	a.Receive(engine.Attribute{Name: "BinaryState", Value: "8"})

	assert.Equal(t, []float64{1}, rec.of(accessory.On))
	assert.Equal(t, []bool{true}, f.history.states)
}

func TestWriteMatchingCacheSkipsTransport(t *testing.T) {
	f := newFixture()
	a := f.adapter(t, KindSwitch, Options{})
	a.Receive(engine.Attribute{Name: "BinaryState", Value: "1"})

	require.NoError(t, char(a, accessory.On).Set(context.Background(), 1))
	assert.Empty(t, f.client.sent("SetBinaryState"))
}

func TestRevertOnFailure(t *testing.T) {
	f := newFixture()
	a := f.adapter(t, KindSwitch, Options{})
	on := char(a, accessory.On)
	f.client.failWith(1, fmt.Errorf("post: %w", transport.ErrTimeout))

	err := on.Set(context.Background(), 1)
	require.ErrorIs(t, err, accessory.ErrNotResponding)
	assert.Equal(t, 1.0, on.Value(), "attempted value stays visible")

	assert.Eventually(t, func() bool { return on.Value() == 0 }, time.Second, 5*time.Millisecond)

	// the cache was never updated, so the same write goes out again
	require.NoError(t, on.Set(context.Background(), 1))
	assert.Len(t, f.client.sent("SetBinaryState"), 2)
}

func TestConfirmedWriteCancelsPendingRevert(t *testing.T) {
	f := newFixture()
	a := f.adapter(t, KindSwitch, Options{Timing: engine.Timing{Revert: 80 * time.Millisecond}})
	on := char(a, accessory.On)
	f.client.failWith(1, errors.New("connection reset"))

	require.Error(t, on.Set(context.Background(), 1))
	require.NoError(t, on.Set(context.Background(), 1))

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 1.0, on.Value())
}

func TestRefreshFailureIsSwallowed(t *testing.T) {
	f := newFixture()
	a := f.adapter(t, KindSwitch, Options{})
	rec := record(a.Accessory())
	f.client.failWith(1, transport.ErrUnreachable)

	a.RequestRefresh(context.Background())
	assert.Empty(t, rec.of(accessory.On))

	f.client.respond("GetBinaryState", transport.Response{"BinaryState": "1"})
	a.RequestRefresh(context.Background())
	assert.Equal(t, []float64{1}, rec.of(accessory.On))
}

func TestPurifierState(t *testing.T) {
	f := newFixture()
	a := f.adapter(t, KindPurifier, Options{})

	assert.Equal(t, 1.0, char(a, accessory.TargetAirPurifierState).Value())

	require.NoError(t, char(a, accessory.Active).Set(context.Background(), 1))
	assert.Equal(t, 2.0, char(a, accessory.CurrentAirPurifierState).Value())

	a.Receive(engine.Attribute{Name: "BinaryState", Value: "0"})
	assert.Equal(t, 0.0, char(a, accessory.Active).Value())
	assert.Equal(t, 0.0, char(a, accessory.CurrentAirPurifierState).Value())
}

func TestDimmerReadsBrightnessAfterTurningOn(t *testing.T) {
	f := newFixture()
	a := f.adapter(t, KindDimmer, Options{BrightnessStep: 5})
	f.client.respond("GetBinaryState", transport.Response{"BinaryState": "1", "brightness": "70"})

	require.NoError(t, char(a, accessory.On).Set(context.Background(), 1))

	calls := f.client.sent("SetBinaryState")
	require.Len(t, calls, 1)
	assert.Equal(t, transport.Payload{"BinaryState": "1"}, calls[0].payload)
	assert.Equal(t, 70.0, char(a, accessory.Brightness).Value())
	assert.Equal(t, 5.0, char(a, accessory.Brightness).Props().Step)
}

func TestDimmerExternalOnFollowsBrightness(t *testing.T) {
	f := newFixture()
	a := f.adapter(t, KindDimmer, Options{})
	f.client.respond("GetBinaryState", transport.Response{"BinaryState": "1", "brightness": "35"})

	a.Receive(engine.Attribute{Name: "BinaryState", Value: "1"})

	assert.Equal(t, 1.0, char(a, accessory.On).Value())
	assert.Eventually(t, func() bool {
		return char(a, accessory.Brightness).Value() == 35
	}, time.Second, 5*time.Millisecond)
}

func TestLinkBulbGoesThroughHub(t *testing.T) {
	f := newFixture()
	a := f.adapter(t, KindLinkBulb, Options{})

	require.NoError(t, char(a, accessory.Brightness).Set(context.Background(), 50))
	require.NoError(t, char(a, accessory.On).Set(context.Background(), 1))

	assert.Equal(t, [][3]string{
		{"dev-linkbulb", CapabilityLevel, "128:0"},
		{"dev-linkbulb", CapabilityOnOff, "1"},
	}, f.hub.sends)
	assert.Empty(t, f.client.calls)

	f.hub.status = []engine.Attribute{
		{Name: CapabilityOnOff, Value: "0"},
		{Name: CapabilityLevel, Value: "255:0"},
	}
	a.RequestRefresh(context.Background())
	assert.Equal(t, 0.0, char(a, accessory.On).Value())
	assert.Equal(t, 100.0, char(a, accessory.Brightness).Value())
}

func TestInsightMetering(t *testing.T) {
	f := newFixture()
	a := f.adapter(t, KindInsight, Options{WattDiff: 1})

	// on, 45W, 2kWh today
	a.Receive(engine.Attribute{Name: "InsightParams", Value: "1|1617000000|120|3600|86400|1209600|13|45000|120000000|98000000|8000"})

	assert.Equal(t, 1.0, char(a, accessory.Active).Value())
	assert.Equal(t, 2.0, char(a, accessory.CurrentAirPurifierState).Value())
	assert.Equal(t, 45.0, char(a, accessory.CurrentConsumption).Value())
	assert.InDelta(t, 2.0, char(a, accessory.TotalConsumption).Value(), 1e-9)
	assert.Equal(t, [][2]float64{{2, 2}}, f.history.energy)

	// standby
	a.Receive(engine.Attribute{Name: "InsightParams", Value: "8|1617000000|120|3600|86400|1209600|13|1000|120000000|98000000|8000"})
	assert.Equal(t, 1.0, char(a, accessory.CurrentAirPurifierState).Value())
	assert.Equal(t, 1.0, char(a, accessory.CurrentConsumption).Value())

	require.NoError(t, char(a, accessory.ResetTotal).Set(context.Background(), 1))
	assert.Equal(t, 0.0, char(a, accessory.TotalConsumption).Value())
	assert.Equal(t, 0.0, f.context.Float(persist.KeyTotalTC, -1))

	require.NoError(t, char(a, accessory.Active).Set(context.Background(), 0))
	assert.Equal(t, 0.0, char(a, accessory.CurrentConsumption).Value())
	assert.Equal(t, 0.0, char(a, accessory.CurrentAirPurifierState).Value())
}

func TestInsightRefreshReadsParams(t *testing.T) {
	f := newFixture()
	a := f.adapter(t, KindInsight, Options{})
	f.client.respond("GetBinaryState", transport.Response{"BinaryState": "1"})
	f.client.respond("GetInsightParams", transport.Response{
		"InsightParams": "1|1617000000|120|3600|86400|1209600|13|60000|60000000|98000000|8000",
	})

	a.RequestRefresh(context.Background())

	assert.Equal(t, 60.0, char(a, accessory.CurrentConsumption).Value())
	assert.InDelta(t, 1.0, char(a, accessory.TotalConsumption).Value(), 1e-9)
	require.Len(t, f.client.sent("GetInsightParams"), 1)
	assert.Equal(t, transport.ServiceInsight, f.client.sent("GetInsightParams")[0].service)
}

func TestInsightPushedBinaryStateCarriesParams(t *testing.T) {
	f := newFixture()
	a := f.adapter(t, KindInsight, Options{})

	a.Receive(engine.Attribute{Name: "BinaryState", Value: "1|1617000000|120|3600|86400|1209600|13|12000|0|98000000|8000"})

	assert.Equal(t, 1.0, char(a, accessory.Active).Value())
	assert.Equal(t, 12.0, char(a, accessory.CurrentConsumption).Value())
}

func TestSupersededWriteRevertsToConfirmedValue(t *testing.T) {
	f := newFixture()
	a := f.adapter(t, KindDimmer, Options{})
	a.Receive(engine.Attribute{Name: "Brightness", Value: "20"})
	brightness := char(a, accessory.Brightness)
	f.client.failWith(1, fmt.Errorf("post: %w", transport.ErrTimeout))

	var wg sync.WaitGroup
	var first error
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = brightness.Set(context.Background(), 40)
	}()
	time.Sleep(5 * time.Millisecond)
	second := brightness.Set(context.Background(), 60)
	wg.Wait()

	require.NoError(t, first)
	require.ErrorIs(t, second, accessory.ErrNotResponding)
	assert.Len(t, f.client.sent("SetBinaryState"), 1)

	// 40 was never sent, so the display goes back to 20
	assert.Eventually(t, func() bool { return brightness.Value() == 20 }, time.Second, 5*time.Millisecond)
	time.Sleep(2 * testTiming.Revert)
	assert.Equal(t, 20.0, brightness.Value())
}

func TestDimmerRoundsBrightness(t *testing.T) {
	f := newFixture()
	a := f.adapter(t, KindDimmer, Options{})
	brightness := char(a, accessory.Brightness)

	require.NoError(t, brightness.Set(context.Background(), 40.7))

	calls := f.client.sent("SetBinaryState")
	require.Len(t, calls, 1)
	assert.Equal(t, "41", calls[0].payload["brightness"])
	assert.Equal(t, 41.0, brightness.Value())
}

func TestRapidActiveToggleSendsNothing(t *testing.T) {
	for _, kind := range []string{KindCrockpot, KindHumidifier} {
		t.Run(kind, func(t *testing.T) {
			f := newFixture()
			a := f.adapter(t, kind, Options{})
			active := char(a, accessory.Active)

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, active.Set(context.Background(), 1))
			}()
			time.Sleep(5 * time.Millisecond)
			require.NoError(t, active.Set(context.Background(), 0))
			wg.Wait()

			assert.Empty(t, f.client.calls)
			assert.Equal(t, 0.0, active.Value())
		})
	}
}

func TestInsightEnergyLogRespectsQuietPeriod(t *testing.T) {
	var buf bytes.Buffer
	saved := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = saved })

	f := newFixture()
	a := f.adapter(t, KindInsight, Options{WattDiff: 1, TimeDiff: time.Hour})

	// the first power change is logged and closes the gate for an hour
	a.Receive(engine.Attribute{Name: "InsightParams", Value: "1|1617000000|120|3600|86400|1209600|13|45000|60000000|98000000|8000"})
	a.Receive(engine.Attribute{Name: "InsightParams", Value: "1|1617000000|120|3660|86400|1209600|13|45000|120000000|98000000|8000"})

	assert.InDelta(t, 2.0, char(a, accessory.TotalConsumption).Value(), 1e-9)
	assert.Equal(t, 1, strings.Count(buf.String(), `"message":"Energy"`))
}
