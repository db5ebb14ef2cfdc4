package hub

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/dokzlo13/wemod/internal/engine"
)

// groupIDLength is the length of group identities; single devices use
// longer hardware identifiers.
const groupIDLength = 10

// IsGroup reports whether id addresses a group of devices.
func IsGroup(id string) bool {
	return len(id) == groupIDLength
}

type deviceStatus struct {
	XMLName         xml.Name `xml:"DeviceStatus"`
	IsGroupAction   string   `xml:"IsGroupAction"`
	DeviceID        string   `xml:"DeviceID"`
	CapabilityID    string   `xml:"CapabilityID"`
	CapabilityValue string   `xml:"CapabilityValue"`
}

// Envelope renders the DeviceStatusList argument of SetDeviceStatus.
func Envelope(deviceID, capability, value string) (string, error) {
	group := "NO"
	if IsGroup(deviceID) {
		group = "YES"
	}

	out, err := xml.Marshal(deviceStatus{
		IsGroupAction:   group,
		DeviceID:        deviceID,
		CapabilityID:    capability,
		CapabilityValue: value,
	})
	if err != nil {
		return "", fmt.Errorf("encode device status: %w", err)
	}
	return `<?xml version="1.0" encoding="utf-8"?>` + string(out), nil
}

// Status is the state of one hub child.
type Status struct {
	DeviceID   string
	Attributes []engine.Attribute
}

// ParseStatusList decodes a GetDeviceStatus response. Capability ids and
// values are parallel comma-separated lists; empty values are skipped.
func ParseStatusList(raw string) ([]Status, error) {
	var list struct {
		Devices []struct {
			DeviceID        string `xml:"DeviceID"`
			CapabilityID    string `xml:"CapabilityID"`
			CapabilityValue string `xml:"CapabilityValue"`
		} `xml:"DeviceStatus"`
	}
	if err := decode(raw, &list); err != nil {
		return nil, fmt.Errorf("decode device status list: %w", err)
	}

	out := make([]Status, 0, len(list.Devices))
	for _, d := range list.Devices {
		ids := strings.Split(d.CapabilityID, ",")
		values := strings.Split(d.CapabilityValue, ",")

		st := Status{DeviceID: strings.TrimSpace(d.DeviceID)}
		for i, id := range ids {
			if i >= len(values) || strings.TrimSpace(values[i]) == "" {
				continue
			}
			st.Attributes = append(st.Attributes, engine.Attribute{
				Name:  strings.TrimSpace(id),
				Value: strings.TrimSpace(values[i]),
			})
		}
		out = append(out, st)
	}
	return out, nil
}

// ParseStateEvent decodes a StatusChange notification value.
func ParseStateEvent(raw string) (string, engine.Attribute, error) {
	var ev struct {
		DeviceID     string `xml:"DeviceID"`
		CapabilityID string `xml:"CapabilityId"`
		Value        string `xml:"Value"`
	}
	if err := decode(raw, &ev); err != nil {
		return "", engine.Attribute{}, fmt.Errorf("decode state event: %w", err)
	}
	id := strings.TrimSpace(ev.DeviceID)
	if id == "" || ev.CapabilityID == "" {
		return "", engine.Attribute{}, errors.New("state event without device or capability")
	}
	return id, engine.Attribute{
		Name:  strings.TrimSpace(ev.CapabilityID),
		Value: strings.TrimSpace(ev.Value),
	}, nil
}

// decode unmarshals hub XML that may arrive entity-escaped and may lack a
// consistent encoding declaration.
func decode(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "&lt;") {
		raw = html.UnescapeString(raw)
	}
	dec := xml.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }
	return dec.Decode(v)
}
