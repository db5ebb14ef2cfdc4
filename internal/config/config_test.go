package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
log:
  level: debug
database:
  path: ${WEMOD_TEST_DB:/tmp/wemod.sqlite}
transport:
  timeout: 3s
polling:
  interval: 15s
mqtt:
  enabled: true
  host: broker.local
  password: ${WEMOD_TEST_MQTT_PASSWORD}
hubs:
  - id: bridge
    host: 10.0.0.5
devices:
  - id: kitchen
    kind: switch
    host: 10.0.0.10
  - id: pot
    name: Slow Cooker
    kind: crockpot
    host: 10.0.0.11
    port: 49154
    connection: poll
  - id: "94103EA2B27803ED"
    kind: linkbulb
    hub: bridge
    brightness_step: 5
  - id: meter
    kind: insight
    host: 10.0.0.12
    watt_diff: 5
    time_diff: 1m
    show_today_total: true
`

func TestParse(t *testing.T) {
	t.Setenv("WEMOD_TEST_MQTT_PASSWORD", "secret")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/wemod.sqlite", cfg.Database.Path)
	assert.Equal(t, 3*time.Second, cfg.Transport.Timeout.Duration())
	assert.Equal(t, 5.0, cfg.Transport.RateLimitRPS)
	assert.Equal(t, 15*time.Second, cfg.Polling.Interval.Duration())
	assert.Equal(t, "secret", cfg.MQTT.Password)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "wemod", cfg.MQTT.Prefix)
	assert.Equal(t, 49153, cfg.Hubs[0].Port)

	require.Len(t, cfg.Devices, 4)
	kitchen := cfg.Devices[0]
	assert.Equal(t, "kitchen", kitchen.Name)
	assert.Equal(t, 49153, kitchen.Port)
	assert.Equal(t, ConnectionPush, kitchen.Connection)

	pot := cfg.Devices[1]
	assert.Equal(t, "Slow Cooker", pot.Name)
	assert.Equal(t, 49154, pot.Port)
	assert.Equal(t, ConnectionPoll, pot.Connection)

	assert.Equal(t, 5.0, cfg.Devices[2].BrightnessStep)

	meter := cfg.Devices[3]
	assert.Equal(t, 5.0, meter.WattDiff)
	assert.Equal(t, time.Minute, meter.TimeDiff.Duration())
	assert.True(t, meter.ShowTodayTotal)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Database.Path)
	assert.Equal(t, 10*time.Second, cfg.Transport.Timeout.Duration())
	assert.Equal(t, 30*time.Second, cfg.Polling.Interval.Duration())
	assert.Equal(t, 3400, cfg.Notify.Port)
	assert.Equal(t, 30, cfg.Ledger.RetentionDays)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout.Duration())
	assert.Equal(t, 1, cfg.EventBus.GetWorkers())
	assert.Equal(t, 256, cfg.EventBus.GetQueueSize())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing id", "devices: [{kind: switch, host: a}]", "id is required"},
		{"duplicate", "devices: [{id: a, kind: switch, host: h}, {id: a, kind: switch, host: h}]", "duplicate id"},
		{"missing kind", "devices: [{id: a, host: h}]", "kind is required"},
		{"missing host", "devices: [{id: a, kind: dimmer}]", "host is required"},
		{"bad connection", "devices: [{id: a, kind: switch, host: h, connection: carrier-pigeon}]", "connection must be"},
		{"unknown hub", "devices: [{id: a, kind: linkbulb, hub: nope}]", `unknown hub "nope"`},
		{"hub without host", "hubs: [{id: b}]", "host is required"},
		{"bad qos", "mqtt: {qos: 3}", "qos"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBadDuration(t *testing.T) {
	_, err := Parse([]byte("polling: {interval: soon}"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Devices, 4)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
