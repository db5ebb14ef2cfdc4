// Package metrics writes device power, energy and on/off history to InfluxDB.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"
)

var (
	ErrDisabled         = errors.New("metrics: disabled in configuration")
	ErrConnectionFailed = errors.New("metrics: connection failed")
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
	defaultPingTimeout   = 10 * time.Second
)

// Measurement names.
const (
	MeasurementDevice = "device_metrics"
	MeasurementEnergy = "energy"
)

// Config selects the InfluxDB target.
type Config struct {
	Enabled       bool
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     int
	FlushInterval time.Duration
}

// PointWriter is the subset of the InfluxDB write API used here.
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// History records device history points. A nil *History drops everything.
type History struct {
	writer PointWriter
	close  func()
	now    func() time.Time
}

// NewHistory wraps an existing writer.
func NewHistory(w PointWriter) *History {
	return &History{writer: w, now: time.Now}
}

// Connect creates a client, pings the server and returns a History backed by
// the non-blocking write API. Async write errors are logged.
func Connect(ctx context.Context, cfg Config) (*History, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultFlushInterval
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batch)).
			SetFlushInterval(uint(flush.Milliseconds())))

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Warn().Err(err).Msg("InfluxDB write failed")
		}
	}()

	h := NewHistory(writeAPI)
	h.close = client.Close

	log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("InfluxDB history enabled")
	return h, nil
}

// RecordState writes the on/off state of a device.
func (h *History) RecordState(device string, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	h.writeDevice(device, "on", v)
}

// RecordPower writes the current power draw.
func (h *History) RecordPower(device string, watts float64) {
	if h == nil {
		return
	}
	h.writer.WritePoint(write.NewPoint(MeasurementEnergy,
		map[string]string{"device_id": device},
		map[string]interface{}{"power_watts": watts},
		h.now()))
}

// RecordEnergy writes the energy counters in kWh.
func (h *History) RecordEnergy(device string, todayKWh, totalKWh float64) {
	if h == nil {
		return
	}
	h.writer.WritePoint(write.NewPoint(MeasurementEnergy,
		map[string]string{"device_id": device},
		map[string]interface{}{
			"today_kwh":  todayKWh,
			"energy_kwh": totalKWh,
		},
		h.now()))
}

func (h *History) writeDevice(device, measurement string, value float64) {
	if h == nil {
		return
	}
	h.writer.WritePoint(write.NewPoint(MeasurementDevice,
		map[string]string{
			"device_id":   device,
			"measurement": measurement,
		},
		map[string]interface{}{"value": value},
		h.now()))
}

// Close flushes pending points and closes the client.
func (h *History) Close() {
	if h == nil {
		return
	}
	h.writer.Flush()
	if h.close != nil {
		h.close()
	}
}
