// Package registry implements the device registry and dynamic
// capability composition (C6): it owns the lifecycle of Device and
// SubDevice entities, synthesizes each device's effective ability set
// from its reported abilities, and is the single-writer-many-readers
// store every other component (C5, C8, C9, meross.Manager) mutates or
// reads. It has no direct teacher analog — haylesnortal-iothub never
// manages more than one connection — so its shape borrows the
// corpus's general "keyed-by-id, mutex-guarded map" idiom used by
// nugget-thane-ai-agent's connwatch registry and the options-pattern
// construction used throughout this module.
package registry

import (
	"encoding/json"
	"time"
)

// Online status values as reported by Appliance.System.All's
// system.online.status field.
const (
	OnlineStatusUnknown   = 0
	OnlineStatusOnline    = 1
	OnlineStatusOffline   = 2
	OnlineStatusUpgrading = 3
)

// ChannelInfo describes one control channel of a device, per spec §3.
// Channel 0 is the master channel by convention.
type ChannelInfo struct {
	Index    int
	Name     string
	Type     string
	IsMaster bool
}

// DeviceDescriptor is the registry's internal copy of a vendor device
// listing entry (httpapi.DeviceDescriptor), kept here so registry
// doesn't need to import httpapi just for a struct shape.
type DeviceDescriptor struct {
	UUID            string
	Name            string
	Type            string
	SubType         string
	HardwareVersion string
	FirmwareVersion string
	OnlineStatus    int
	Domain          string
	ReservedDomain  string
	DeviceClass     string
}

// SubDeviceDescriptor mirrors httpapi.SubDeviceDescriptor.
type SubDeviceDescriptor struct {
	SubDeviceID   string
	SubDeviceType string
	SubDeviceName string
	SubDeviceIcon string
}

// Identifier names either a top-level device or a hub's sub-device,
// per spec §4.5's initializeDevice(uuid | {hubUuid,id}).
type Identifier struct {
	UUID        string
	HubUUID     string
	SubDeviceID string
}

// IsSubDevice reports whether id names a sub-device.
func (id Identifier) IsSubDevice() bool { return id.HubUUID != "" }

// abilitySet is the raw per-namespace ability payloads reported by
// Appliance.System.Ability.
type abilitySet map[string]json.RawMessage

// systemAllPayload is the shape of a successful Appliance.System.All
// GETACK, per the vendor protocol's well-known digest/hardware split.
type systemAllPayload struct {
	All struct {
		System struct {
			Hardware struct {
				Type       string `json:"type"`
				SubType    string `json:"subType"`
				Version    string `json:"version"`
				UUID       string `json:"uuid"`
				MacAddress string `json:"macAddress"`
			} `json:"hardware"`
			Firmware struct {
				Version string `json:"version"`
				WifiMac string `json:"wifiMac"`
				InnerIP string `json:"innerIp"`
				Server  string `json:"server"`
				Port    int    `json:"port"`
			} `json:"firmware"`
			Online struct {
				Status int `json:"status"`
			} `json:"online"`
		} `json:"system"`
		Digest json.RawMessage `json:"digest"`
	} `json:"all"`
}

// systemAbilityPayload is the shape of an Appliance.System.Ability
// GETACK.
type systemAbilityPayload struct {
	Ability abilitySet `json:"ability"`
}

// ChangeEvent is the record C8's reducer produces and the registry
// simply threads through to its EventSink, per spec §3's Change record.
type ChangeEvent struct {
	Type      string
	Channel   int
	OldValue  any
	NewValue  any
	Source    string
	Timestamp time.Time
}
