package devices

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/wemod/internal/accessory"
	"github.com/dokzlo13/wemod/internal/engine"
	"github.com/dokzlo13/wemod/internal/kv"
	"github.com/dokzlo13/wemod/internal/persist"
	"github.com/dokzlo13/wemod/internal/transport"
)

type call struct {
	service string
	action  string
	payload transport.Payload
}

// fakeClient records requests and answers reads from canned responses.
type fakeClient struct {
	mu        sync.Mutex
	calls     []call
	responses map[string]transport.Response
	failNext  int
	err       error
}

func newFakeClient() *fakeClient {
	return &fakeClient{responses: make(map[string]transport.Response)}
}

func (f *fakeClient) SendCommand(_ context.Context, _ transport.Ref, service, action string, payload transport.Payload) (transport.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call{service: service, action: action, payload: payload})
	if f.failNext > 0 {
		f.failNext--
		return nil, f.err
	}
	return f.responses[action], nil
}

func (f *fakeClient) respond(action string, resp transport.Response) {
	f.mu.Lock()
	f.responses[action] = resp
	f.mu.Unlock()
}

func (f *fakeClient) failWith(n int, err error) {
	f.mu.Lock()
	f.failNext = n
	f.err = err
	f.mu.Unlock()
}

func (f *fakeClient) sent(action string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []call
	for _, c := range f.calls {
		if c.action == action {
			out = append(out, c)
		}
	}
	return out
}

type fakeHub struct {
	mu     sync.Mutex
	sends  [][3]string
	status []engine.Attribute
}

func (h *fakeHub) Send(_ context.Context, deviceID, capability, value string) (transport.Response, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sends = append(h.sends, [3]string{deviceID, capability, value})
	return transport.Response{}, nil
}

func (h *fakeHub) RequestStatus(context.Context, string) ([]engine.Attribute, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, nil
}

type fakeHistory struct {
	mu     sync.Mutex
	states []bool
	power  []float64
	energy [][2]float64
}

func (h *fakeHistory) RecordState(_ string, on bool) {
	h.mu.Lock()
	h.states = append(h.states, on)
	h.mu.Unlock()
}

func (h *fakeHistory) RecordPower(_ string, watts float64) {
	h.mu.Lock()
	h.power = append(h.power, watts)
	h.mu.Unlock()
}

func (h *fakeHistory) RecordEnergy(_ string, today, total float64) {
	h.mu.Lock()
	h.energy = append(h.energy, [2]float64{today, total})
	h.mu.Unlock()
}

// recorder counts pushed values per characteristic.
type recorder struct {
	mu     sync.Mutex
	values map[string][]float64
}

func record(acc *accessory.Accessory) *recorder {
	r := &recorder{values: make(map[string][]float64)}
	acc.SetListener(func(c accessory.Change) {
		r.mu.Lock()
		r.values[c.Characteristic] = append(r.values[c.Characteristic], c.Value)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) of(name string) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.values[name]...)
}

var testTiming = engine.Timing{
	Settle:      20 * time.Millisecond,
	LevelSettle: 20 * time.Millisecond,
	Revert:      40 * time.Millisecond,
	Fetch:       time.Second,
}

type fixture struct {
	client  *fakeClient
	context *persist.Context
	history *fakeHistory
	hub     *fakeHub
}

func newFixture() *fixture {
	return &fixture{
		client:  newFakeClient(),
		context: persist.New(kv.NewMemoryBucket("device:test")),
		history: &fakeHistory{},
		hub:     &fakeHub{},
	}
}

func (f *fixture) adapter(t *testing.T, kind string, opts Options) engine.Adapter {
	t.Helper()

	if opts.Timing == (engine.Timing{}) {
		opts.Timing = testTiming
	}
	a, err := New(
		engine.Identity{ID: "dev-" + kind, Name: "Test " + kind, Kind: kind, Connection: engine.ConnectionPush},
		transport.Ref{Host: "127.0.0.1", Port: 49153},
		Deps{Client: f.client, Context: f.context, History: f.history, Hub: f.hub},
		opts,
	)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func char(a engine.Adapter, name string) *accessory.Characteristic {
	return a.Accessory().Characteristic(name)
}
