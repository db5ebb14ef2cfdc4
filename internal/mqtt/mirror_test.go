package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/wemod/internal/accessory"
	"github.com/dokzlo13/wemod/internal/engine"
)

type mockPublish struct {
	Topic    string
	Payload  string
	Retained bool
}

type MockConn struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]MessageHandler
}

func NewMockConn() *MockConn {
	return &MockConn{handlers: make(map[string]MessageHandler)}
}

func (m *MockConn) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: string(payload), Retained: retained})
	return nil
}

func (m *MockConn) Subscribe(topic string, _ byte, handler MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockConn) Close() error { return nil }

func (m *MockConn) deliver(filter, topic, payload string) {
	m.mu.Lock()
	h := m.handlers[filter]
	m.mu.Unlock()
	h(topic, []byte(payload))
}

func (m *MockConn) last() mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published[len(m.published)-1]
}

type stubAdapter struct {
	acc *accessory.Accessory
}

func (s *stubAdapter) ID() string                      { return s.acc.ID }
func (s *stubAdapter) Accessory() *accessory.Accessory { return s.acc }
func (s *stubAdapter) Receive(engine.Attribute)        {}
func (s *stubAdapter) RequestRefresh(context.Context)  {}
func (s *stubAdapter) Close()                          {}

type writes struct {
	mu     sync.Mutex
	values []float64
}

func (w *writes) get() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]float64(nil), w.values...)
}

func newLamp(id string, w *writes) *stubAdapter {
	acc := accessory.New(id, "Lamp", "dimmer")
	acc.Add(accessory.On, accessory.Bool())
	acc.Add(accessory.Brightness, accessory.Range(0, 100, 1)).
		OnSet(func(_ context.Context, v, _ float64) error {
			w.mu.Lock()
			w.values = append(w.values, v)
			w.mu.Unlock()
			return nil
		})
	return &stubAdapter{acc: acc}
}

func TestMirrorPublishesRetained(t *testing.T) {
	conn := NewMockConn()
	m := NewMirror(conn, engine.NewRegistry(), "", 1)
	defer m.Close()

	m.Publish(accessory.Change{AccessoryID: "lamp", Characteristic: "On", Value: 1, Format: accessory.FormatBool})
	assert.Equal(t, mockPublish{Topic: "wemod/lamp/On", Payload: "true", Retained: true}, conn.last())

	m.Publish(accessory.Change{AccessoryID: "lamp", Characteristic: "Brightness", Value: 37.5, Format: accessory.FormatRange})
	assert.Equal(t, "37.5", conn.last().Payload)
}

func TestMirrorPublishAll(t *testing.T) {
	conn := NewMockConn()
	m := NewMirror(conn, engine.NewRegistry(), "home/", 0)
	defer m.Close()

	m.PublishAll(newLamp("lamp", &writes{}).acc)

	require.Len(t, conn.published, 2)
	assert.Equal(t, "home/lamp/Brightness", conn.published[0].Topic)
	assert.Equal(t, "home/lamp/On", conn.published[1].Topic)
	assert.Equal(t, "false", conn.published[1].Payload)
}

func TestMirrorRoutesSet(t *testing.T) {
	conn := NewMockConn()
	reg := engine.NewRegistry()
	w := &writes{}
	reg.Add(newLamp("lamp", w))

	m := NewMirror(conn, reg, "wemod", 1)
	require.NoError(t, m.Start())
	defer m.Close()

	conn.deliver("wemod/+/+/set", "wemod/lamp/Brightness/set", "64")

	assert.Eventually(t, func() bool {
		return len(w.get()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []float64{64}, w.get())
}

func TestMirrorIgnoresBadSet(t *testing.T) {
	conn := NewMockConn()
	reg := engine.NewRegistry()
	w := &writes{}
	reg.Add(newLamp("lamp", w))

	m := NewMirror(conn, reg, "wemod", 1)
	require.NoError(t, m.Start())

	for _, c := range []struct{ topic, payload string }{
		{"wemod/other/On/set", "on"},
		{"wemod/lamp/Missing/set", "1"},
		{"wemod/lamp/Brightness/set", "bright"},
		{"wemod/lamp/set", "1"},
		{"other/lamp/Brightness/set", "1"},
	} {
		conn.deliver("wemod/+/+/set", c.topic, c.payload)
	}
	m.Close()

	assert.Empty(t, w.get())
	assert.Empty(t, conn.published)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"true", 1, false},
		{"ON", 1, false},
		{"off", 0, false},
		{" 42 ", 42, false},
		{"0.5", 0.5, false},
		{"", 0, true},
		{"yes", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseValue(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
