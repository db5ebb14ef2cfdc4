package app

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wemod/internal/accessory"
	"github.com/dokzlo13/wemod/internal/config"
	"github.com/dokzlo13/wemod/internal/devices"
	"github.com/dokzlo13/wemod/internal/engine"
	"github.com/dokzlo13/wemod/internal/eventbus"
	"github.com/dokzlo13/wemod/internal/hub"
	"github.com/dokzlo13/wemod/internal/persist"
	"github.com/dokzlo13/wemod/internal/transport"
)

func deviceBucket(id string) string {
	return "device:" + id
}

func connection(mode string) engine.Connection {
	if mode == config.ConnectionPoll {
		return engine.ConnectionPoll
	}
	return engine.ConnectionPush
}

// buildDevices creates the hub routers and one adapter per configured device.
func (s *Services) buildDevices() error {
	for _, h := range s.cfg.Hubs {
		s.Hubs[h.ID] = hub.NewRouter(h.ID, transport.Ref{Host: h.Host, Port: h.Port}, s.Client)
	}

	for _, d := range s.cfg.Devices {
		identity := engine.Identity{
			ID:         d.ID,
			Name:       d.Name,
			Kind:       d.Kind,
			Connection: connection(d.Connection),
		}
		deps := devices.Deps{
			Client:  s.Client,
			Context: persist.New(s.KV.Bucket(deviceBucket(d.ID))),
		}
		if s.History != nil {
			deps.History = s.History
		}

		ref := transport.Ref{Host: d.Host, Port: d.Port}
		var router *hub.Router
		if d.Hub != "" {
			router = s.Hubs[d.Hub]
			if router == nil {
				return fmt.Errorf("device %s: unknown hub %q", d.ID, d.Hub)
			}
			deps.Hub = router
			ref = router.Ref()
		}

		adapter, err := devices.New(identity, ref, deps, devices.Options{
			BrightnessStep: d.BrightnessStep,
			ShowTodayTotal: d.ShowTodayTotal,
			WattDiff:       d.WattDiff,
			TimeDiff:       d.TimeDiff.Duration(),
		})
		if err != nil {
			return err
		}

		adapter.Accessory().SetListener(func(ch accessory.Change) {
			s.Bus.Publish(eventbus.Event{Type: eventbus.EventTypeChange, Change: ch})
		})

		s.Registry.Add(adapter)
		if router != nil {
			router.Register(adapter)
		}
		if identity.Connection == engine.ConnectionPoll {
			s.Poller.Add(adapter)
		}

		log.Info().
			Str("device", d.ID).
			Str("name", d.Name).
			Str("kind", d.Kind).
			Str("connection", d.Connection).
			Msg("Device registered")
	}
	return nil
}

// dispatcher routes decoded notifications to adapters and hub routers.
type dispatcher struct {
	s *Services
}

func (d *dispatcher) Dispatch(deviceID string, attrs []engine.Attribute) bool {
	return d.s.Registry.Dispatch(deviceID, attrs)
}

func (d *dispatcher) DispatchHub(hubID, childID string, attr engine.Attribute) bool {
	router, ok := d.s.Hubs[hubID]
	if !ok {
		return false
	}
	return router.Receive(childID, attr) > 0
}
