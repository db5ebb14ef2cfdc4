package mqtt

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wemod/internal/accessory"
	"github.com/dokzlo13/wemod/internal/engine"
)

// DefaultPrefix is the topic root when none is configured.
const DefaultPrefix = "wemod"

const setSuffix = "/set"

// defaultWriteTimeout bounds a write routed from the broker.
const defaultWriteTimeout = 30 * time.Second

// Devices resolves device identities to adapters.
type Devices interface {
	Get(id string) (engine.Adapter, bool)
}

// Mirror publishes every characteristic change retained under
// <prefix>/<device>/<characteristic> and applies <...>/set messages as
// controller writes.
type Mirror struct {
	conn    Conn
	devices Devices
	prefix  string
	qos     byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMirror creates a mirror over an open connection.
func NewMirror(conn Conn, devices Devices, prefix string, qos byte) *Mirror {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Mirror{
		conn:    conn,
		devices: devices,
		prefix:  strings.TrimSuffix(prefix, "/"),
		qos:     qos,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Topic returns the state topic of a characteristic.
func (m *Mirror) Topic(device, characteristic string) string {
	return m.prefix + "/" + device + "/" + characteristic
}

// Start subscribes to the set topics.
func (m *Mirror) Start() error {
	return m.conn.Subscribe(m.prefix+"/+/+"+setSuffix, m.qos, m.handleSet)
}

// Publish mirrors one change.
func (m *Mirror) Publish(ch accessory.Change) {
	topic := m.Topic(ch.AccessoryID, ch.Characteristic)
	if err := m.conn.Publish(topic, []byte(FormatValue(ch.Value, ch.Format)), m.qos, true); err != nil {
		log.Debug().Err(err).Str("topic", topic).Msg("MQTT publish failed")
	}
}

// PublishAll mirrors the current value of every characteristic of a.
func (m *Mirror) PublishAll(a *accessory.Accessory) {
	for _, name := range a.Names() {
		c := a.Characteristic(name)
		m.Publish(accessory.Change{
			AccessoryID:    a.ID,
			Characteristic: name,
			Value:          c.Value(),
			Format:         c.Props().Format,
		})
	}
}

func (m *Mirror) handleSet(topic string, payload []byte) {
	device, name, ok := m.parseSetTopic(topic)
	if !ok {
		log.Debug().Str("topic", topic).Msg("Ignoring MQTT topic")
		return
	}
	logger := log.With().Str("device", device).Str("characteristic", name).Logger()

	adapter, ok := m.devices.Get(device)
	if !ok {
		logger.Warn().Msg("MQTT set for unknown device")
		return
	}
	c := adapter.Accessory().Characteristic(name)
	if c == nil {
		logger.Warn().Msg("MQTT set for unknown characteristic")
		return
	}
	value, err := ParseValue(string(payload))
	if err != nil {
		logger.Warn().Err(err).Msg("Invalid MQTT set payload")
		return
	}

	// writes settle for up to a debounce window; keep the paho router free
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(m.ctx, defaultWriteTimeout)
		defer cancel()
		if err := c.Set(ctx, value); err != nil {
			logger.Warn().Err(err).Float64("value", value).Msg("MQTT write failed")
		}
	}()
}

func (m *Mirror) parseSetTopic(topic string) (device, name string, ok bool) {
	rest, found := strings.CutPrefix(topic, m.prefix+"/")
	if !found {
		return "", "", false
	}
	rest, found = strings.CutSuffix(rest, setSuffix)
	if !found {
		return "", "", false
	}
	device, name, found = strings.Cut(rest, "/")
	if !found || device == "" || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	return device, name, true
}

// Close cancels in-flight writes and waits for them.
func (m *Mirror) Close() {
	m.cancel()
	m.wg.Wait()
}

// FormatValue renders a value for a state topic.
func FormatValue(v float64, f accessory.Format) string {
	if f == accessory.FormatBool {
		return strconv.FormatBool(v != 0)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseValue accepts true/false, on/off or a number.
func ParseValue(s string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "on":
		return 1, nil
	case "false", "off":
		return 0, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("mqtt: invalid value %q", s)
	}
	return v, nil
}
