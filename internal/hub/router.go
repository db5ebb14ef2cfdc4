// Package hub routes traffic for devices that sit behind a shared gateway:
// notifications fan out to the registered child adapters, and commands are
// wrapped in the gateway's device-status envelope.
package hub

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wemod/internal/engine"
	"github.com/dokzlo13/wemod/internal/transport"
)

// Router serves the children of one hub.
type Router struct {
	id     string
	ref    transport.Ref
	client transport.Client
	log    zerolog.Logger

	mu       sync.RWMutex
	adapters map[string][]engine.Adapter
}

// NewRouter creates a router for the hub reachable at ref.
func NewRouter(id string, ref transport.Ref, client transport.Client) *Router {
	return &Router{
		id:       id,
		ref:      ref,
		client:   client,
		log:      log.With().Str("hub", id).Logger(),
		adapters: make(map[string][]engine.Adapter),
	}
}

// ID returns the hub identity.
func (r *Router) ID() string {
	return r.id
}

// Ref returns the hub address.
func (r *Router) Ref() transport.Ref {
	return r.ref
}

// Register adds a child adapter. Several adapters may share an identity.
func (r *Router) Register(a engine.Adapter) {
	r.mu.Lock()
	r.adapters[a.ID()] = append(r.adapters[a.ID()], a)
	r.mu.Unlock()
}

// Devices returns the registered child identities in sorted order.
func (r *Router) Devices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Receive forwards attr to every adapter registered under deviceID and
// returns how many received it. Unknown children are not an error; they may
// be served by another controller.
func (r *Router) Receive(deviceID string, attr engine.Attribute) int {
	r.mu.RLock()
	targets := append([]engine.Adapter(nil), r.adapters[deviceID]...)
	r.mu.RUnlock()

	if len(targets) == 0 {
		r.log.Debug().Str("device", deviceID).Str("capability", attr.Name).Msg("No adapter for hub child")
		return 0
	}
	for _, a := range targets {
		a.Receive(attr)
	}
	return len(targets)
}

// Send sets one capability of a child and returns the hub's raw response.
func (r *Router) Send(ctx context.Context, deviceID, capability, value string) (transport.Response, error) {
	envelope, err := Envelope(deviceID, capability, value)
	if err != nil {
		return nil, err
	}

	r.log.Debug().
		Str("device", deviceID).
		Str("capability", capability).
		Str("value", value).
		Msg("Sending hub update")

	return r.client.SendCommand(transport.WithDevice(ctx, deviceID), r.ref, transport.ServiceBridge, "SetDeviceStatus", transport.Payload{
		"DeviceStatusList": envelope,
	})
}

// RequestStatus reads the capabilities of one child.
func (r *Router) RequestStatus(ctx context.Context, deviceID string) ([]engine.Attribute, error) {
	resp, err := r.client.SendCommand(transport.WithDevice(ctx, deviceID), r.ref, transport.ServiceBridge, "GetDeviceStatus", transport.Payload{
		"DeviceIDs": deviceID,
	})
	if err != nil {
		return nil, err
	}

	raw, ok := resp["DeviceStatusList"]
	if !ok {
		return nil, fmt.Errorf("hub %s: response without DeviceStatusList", r.id)
	}
	list, err := ParseStatusList(raw)
	if err != nil {
		return nil, err
	}
	for _, st := range list {
		if st.DeviceID == deviceID {
			return st.Attributes, nil
		}
	}
	return nil, nil
}
