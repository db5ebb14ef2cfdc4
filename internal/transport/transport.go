// Package transport speaks the devices' SOAP control protocol.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Control services exposed by the devices.
const (
	ServiceBasicEvent  = "urn:Belkin:service:basicevent:1"
	ServiceDeviceEvent = "urn:Belkin:service:deviceevent:1"
	ServiceInsight     = "urn:Belkin:service:insight:1"
	ServiceBridge      = "urn:Belkin:service:bridge:1"
)

// Failure classes. Every error returned by a Client wraps at most one of them.
var (
	ErrTimeout     = errors.New("device request timed out")
	ErrUnreachable = errors.New("device unreachable")
	ErrNoService   = errors.New("device does not support service")
)

// Ref locates a device on the network.
type Ref struct {
	Host string
	Port int
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Payload is the flat argument list of an action. Values are sent as text.
type Payload map[string]string

// Response holds the decoded output arguments of an action.
type Response map[string]string

// Client issues one control request and returns the decoded response.
type Client interface {
	SendCommand(ctx context.Context, ref Ref, service, action string, payload Payload) (Response, error)
}

type deviceKey struct{}

// WithDevice tags ctx with the identity of the device a request is for.
func WithDevice(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deviceKey{}, id)
}

// DeviceFromContext returns the identity set by WithDevice.
func DeviceFromContext(ctx context.Context) string {
	id, _ := ctx.Value(deviceKey{}).(string)
	return id
}

// ControlPath returns the control URL path of a service,
// e.g. urn:Belkin:service:basicevent:1 -> /upnp/control/basicevent1.
func ControlPath(service string) string {
	parts := strings.Split(service, ":")
	if len(parts) < 5 {
		return "/upnp/control/" + service
	}
	return "/upnp/control/" + parts[3] + parts[4]
}
