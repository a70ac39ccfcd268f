// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package schema implements the IoT wire payloads of spec §3/§6: JSON
// over the wire, binary fields lowercase-hex, timestamps ISO-8601, unset
// optional fields omitted. Grounded on
// absmach-fluxmq/broker/events.Envelope's JSON-tagged event structs and
// its RFC3339Nano timestamp-as-string convention, generalized to typed
// hex/time wrapper types so the manager layer works with []byte/time.Time
// instead of raw strings.
package schema

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// HexBytes marshals as a lowercase hex string and unmarshals from one.
type HexBytes []byte

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("schema: invalid hex data: %w", err)
	}
	*h = b
	return nil
}

// Time marshals as an ISO-8601/RFC3339 string (millisecond precision,
// matching spec §8 invariant 9's "compared at millisecond resolution
// after ISO round-trip") and unmarshals from one.
type Time time.Time

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format("2006-01-02T15:04:05.000Z07:00"))
}

func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("schema: invalid ISO-8601 time: %w", err)
	}
	*t = Time(parsed)
	return nil
}

func (t Time) Time() time.Time { return time.Time(t) }

// AppUlData is an uplink data message delivered to an Application, spec
// §3.
type AppUlData struct {
	DataID      string   `json:"dataId"`
	Time        Time     `json:"time"`
	Pub         Time     `json:"pub"`
	DeviceID    string   `json:"deviceId"`
	NetworkID   string   `json:"networkId"`
	NetworkCode string   `json:"networkCode"`
	NetworkAddr string   `json:"networkAddr"`
	IsPublic    bool     `json:"isPublic"`
	Data        HexBytes `json:"data"`
	Extension   any      `json:"extension,omitempty"`
}

// AppDlData is a downlink data message an Application publishes, spec §3.
// Addressing is by DeviceID XOR (NetworkCode AND NetworkAddr) — see
// Validate.
type AppDlData struct {
	CorrelationID string   `json:"correlationId"`
	DeviceID      string   `json:"deviceId,omitempty"`
	NetworkCode   string   `json:"networkCode,omitempty"`
	NetworkAddr   string   `json:"networkAddr,omitempty"`
	Data          HexBytes `json:"data"`
	Extension     any      `json:"extension,omitempty"`
}

// Validate enforces spec §3's addressing disjunction and the non-empty
// correlationId rule.
func (d *AppDlData) Validate(newErr func(field, reason string) error) error {
	if d.CorrelationID == "" {
		return newErr("correlationId", "must not be empty")
	}
	byDevice := d.DeviceID != ""
	byNetwork := d.NetworkCode != "" && d.NetworkAddr != ""
	if byDevice == byNetwork {
		return newErr("deviceId/networkCode+networkAddr", "exactly one addressing mode must be set")
	}
	if d.NetworkCode != "" && d.NetworkAddr == "" {
		return newErr("networkAddr", "required when networkCode is set")
	}
	if d.NetworkAddr != "" && d.NetworkCode == "" {
		return newErr("networkCode", "required when networkAddr is set")
	}
	return nil
}

// AppDlDataResp acknowledges receipt of an AppDlData, spec §3.
type AppDlDataResp struct {
	CorrelationID string `json:"correlationId"`
	DataID        string `json:"dataId,omitempty"`
	Error         string `json:"error,omitempty"`
	Message       string `json:"message,omitempty"`
}

// AppDlDataResult reports the terminal delivery outcome of a downlink,
// spec §3.
type AppDlDataResult struct {
	DataID  string `json:"dataId"`
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

// NetUlData is an uplink message a Network publishes, spec §3.
type NetUlData struct {
	Time        Time     `json:"time"`
	NetworkAddr string   `json:"networkAddr"`
	Data        HexBytes `json:"data"`
	Extension   any      `json:"extension,omitempty"`
}

// NetDlData is a downlink message delivered to a Network, spec §3.
type NetDlData struct {
	DataID      string   `json:"dataId"`
	Pub         Time     `json:"pub"`
	ExpiresIn   int      `json:"expiresIn"`
	NetworkAddr string   `json:"networkAddr"`
	Data        HexBytes `json:"data"`
	Extension   any      `json:"extension,omitempty"`
}

// NetDlDataResult reports a downlink delivery outcome, spec §3.
type NetDlDataResult struct {
	DataID  string `json:"dataId"`
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

// Control operations recognized by NetCtrlMsg, spec §3.
const (
	OpAddDevice      = "add-device"
	OpAddDeviceBulk  = "add-device-bulk"
	OpAddDeviceRange = "add-device-range"
	OpDelDevice      = "del-device"
	OpDelDeviceBulk  = "del-device-bulk"
	OpDelDeviceRange = "del-device-range"
)

// CtrlAddDevice is the "new" payload for add-device.
type CtrlAddDevice struct {
	NetworkAddr string `json:"networkAddr"`
}

// CtrlAddDeviceBulk is the "new" payload for add-device-bulk.
type CtrlAddDeviceBulk struct {
	NetworkAddrs []string `json:"networkAddrs"`
}

// CtrlAddDeviceRange is the "new" payload for add-device-range.
type CtrlAddDeviceRange struct {
	StartAddr string `json:"startAddr"`
	EndAddr   string `json:"endAddr"`
}

// CtrlDelDevice is the "new" payload for del-device.
type CtrlDelDevice struct {
	NetworkAddr string `json:"networkAddr"`
}

// CtrlDelDeviceBulk is the "new" payload for del-device-bulk.
type CtrlDelDeviceBulk struct {
	NetworkAddrs []string `json:"networkAddrs"`
}

// CtrlDelDeviceRange is the "new" payload for del-device-range.
type CtrlDelDeviceRange struct {
	StartAddr string `json:"startAddr"`
	EndAddr   string `json:"endAddr"`
}

// NetCtrlMsg is a control message delivered to a Network, spec §3. New
// holds one of the Ctrl* structs above, chosen by Operation.
type NetCtrlMsg struct {
	Operation string `json:"operation"`
	Time      Time   `json:"time"`
	New       any    `json:"new"`
}

// UnmarshalJSON decodes New into the concrete Ctrl* type selected by
// Operation.
func (m *NetCtrlMsg) UnmarshalJSON(data []byte) error {
	var raw struct {
		Operation string          `json:"operation"`
		Time      Time            `json:"time"`
		New       json.RawMessage `json:"new"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Operation = raw.Operation
	m.Time = raw.Time

	var target any
	switch raw.Operation {
	case OpAddDevice:
		target = &CtrlAddDevice{}
	case OpAddDeviceBulk:
		target = &CtrlAddDeviceBulk{}
	case OpAddDeviceRange:
		target = &CtrlAddDeviceRange{}
	case OpDelDevice:
		target = &CtrlDelDevice{}
	case OpDelDeviceBulk:
		target = &CtrlDelDeviceBulk{}
	case OpDelDeviceRange:
		target = &CtrlDelDeviceRange{}
	default:
		return fmt.Errorf("schema: unknown control operation %q", raw.Operation)
	}
	if len(raw.New) > 0 {
		if err := json.Unmarshal(raw.New, target); err != nil {
			return err
		}
	}
	m.New = target
	return nil
}
