package app

import (
	"github.com/dokzlo13/wemod/internal/config"
	"github.com/dokzlo13/wemod/internal/engine"
	"github.com/dokzlo13/wemod/internal/mqtt"
)

// MQTTService owns the broker connection and the accessory mirror.
type MQTTService struct {
	Conn   *mqtt.Client
	Mirror *mqtt.Mirror
}

// NewMQTTService connects to the broker.
func NewMQTTService(cfg *config.Config, registry *engine.Registry) (*MQTTService, error) {
	conn, err := mqtt.Connect(mqtt.Config{
		Enabled:  true,
		Host:     cfg.MQTT.Host,
		Port:     cfg.MQTT.Port,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		Prefix:   cfg.MQTT.Prefix,
		QoS:      byte(cfg.MQTT.QoS),
	})
	if err != nil {
		return nil, err
	}
	return &MQTTService{
		Conn:   conn,
		Mirror: mqtt.NewMirror(conn, registry, cfg.MQTT.Prefix, byte(cfg.MQTT.QoS)),
	}, nil
}

// Start subscribes to set topics.
func (s *MQTTService) Start() error {
	return s.Mirror.Start()
}

// Close waits for routed writes and disconnects.
func (s *MQTTService) Close() {
	s.Mirror.Close()
	s.Conn.Close()
}
