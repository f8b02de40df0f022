package registry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/Doekse/merossiot-sub004/common"
)

// SubDevice is a hub-attached device (ms100, ma151, mts100v3, ...),
// per spec §3. It has its own identifier and ability subset but no
// direct transport: every command and push routes through its parent
// hub's UUID, per spec §4.5 ("sub-device identity is {hubUuid, id},
// routing for commands and pushes both stay keyed by the hub's uuid").
type SubDevice struct {
	mu sync.RWMutex

	hub *Device

	id      string
	kind    string
	name    string
	icon    string
	channel int

	abilities abilitySet

	onlineStatus    int
	onlineUpdatedAt time.Time

	state map[string]map[int]any
}

func newSubDevice(hub *Device, d SubDeviceDescriptor, channel int) *SubDevice {
	return &SubDevice{
		hub:     hub,
		id:      d.SubDeviceID,
		kind:    d.SubDeviceType,
		name:    d.SubDeviceName,
		icon:    d.SubDeviceIcon,
		channel: channel,
		state:   make(map[string]map[int]any),
	}
}

func (sd *SubDevice) ID() string      { sd.mu.RLock(); defer sd.mu.RUnlock(); return sd.id }
func (sd *SubDevice) Kind() string    { sd.mu.RLock(); defer sd.mu.RUnlock(); return sd.kind }
func (sd *SubDevice) Name() string    { sd.mu.RLock(); defer sd.mu.RUnlock(); return sd.name }
func (sd *SubDevice) HubUUID() string { return sd.hub.UUID() }
func (sd *SubDevice) Channel() int    { sd.mu.RLock(); defer sd.mu.RUnlock(); return sd.channel }

func (sd *SubDevice) IsOnline() bool {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	return sd.onlineStatus == OnlineStatusOnline
}

// SetOnlineStatus mirrors Device.SetOnlineStatus, scoped to this
// sub-device's own status field (hubs report per-subdevice online
// status inside Appliance.Hub.Online pushes).
func (sd *SubDevice) SetOnlineStatus(status int, ts time.Time) bool {
	sd.mu.Lock()
	if !sd.onlineUpdatedAt.IsZero() && ts.Before(sd.onlineUpdatedAt) {
		sd.mu.Unlock()
		return false
	}
	previous := sd.onlineStatus
	sd.onlineStatus = status
	sd.onlineUpdatedAt = ts
	sd.mu.Unlock()

	if previous == status {
		return false
	}
	sd.hub.emit("online", map[string]any{"subDeviceId": sd.id, "previous": previous, "current": status})
	return true
}

func (sd *SubDevice) Ability(namespace string) (json.RawMessage, bool) {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	v, ok := sd.abilities[namespace]
	return v, ok
}

func (sd *SubDevice) applyAbilities(abilities abilitySet) {
	sd.mu.Lock()
	sd.abilities = abilities
	sd.mu.Unlock()
}

func (sd *SubDevice) State(feature string, channel int) (any, bool) {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	ch, ok := sd.state[feature]
	if !ok {
		return nil, false
	}
	v, ok := ch[channel]
	return v, ok
}

func (sd *SubDevice) SetState(feature string, channel int, newValue any) (old any) {
	sd.mu.Lock()
	ch, ok := sd.state[feature]
	if !ok {
		ch = make(map[int]any)
		sd.state[feature] = ch
	}
	old = ch[channel]
	ch[channel] = newValue
	sd.mu.Unlock()
	return old
}

func (sd *SubDevice) EmitState(change ChangeEvent) {
	change.Source = sd.id
	sd.hub.emit("state", change)
}

// Send routes through the parent hub: Appliance.Hub.* commands always
// carry the hub's uuid at the transport layer and the sub-device id in
// the payload body, which the feature package is responsible for
// shaping; SubDevice.Send only forwards to the hub's Commander.
func (sd *SubDevice) Send(ctx context.Context, method common.Method, namespace string, payload any) (common.Message, error) {
	return sd.hub.Send(ctx, method, namespace, payload)
}

// subDeviceAbilityRules maps a sub-device type prefix to the set of
// Hub-scoped ability namespaces it is allowed to use, per spec §4.5's
// sub-device ability filtering table.
var subDeviceAbilityRules = []struct {
	prefix string
	allow  []string
}{
	{"ms100", []string{"Appliance.Hub.Sensor.TempHum", "Appliance.Hub.Sensor.All"}},
	{"ma151", []string{"Appliance.Hub.Sensor.Smoke", "Appliance.Hub.Sensor.All"}},
	{"mts100v3", []string{
		"Appliance.Hub.Mts100.All",
		"Appliance.Hub.Mts100.Temperature",
		"Appliance.Hub.Mts100.Mode",
		"Appliance.Hub.Mts100.Adjust",
	}},
}

// matchSubDeviceAbilities filters the hub's composed ability set down
// to the namespaces applicable to a sub-device of the given type,
// based on a prefix match against subDeviceAbilityRules.
func matchSubDeviceAbilities(hubAbilities abilitySet, subDeviceType string) abilitySet {
	out := make(abilitySet)
	lowered := strings.ToLower(subDeviceType)
	for _, rule := range subDeviceAbilityRules {
		if !strings.HasPrefix(lowered, rule.prefix) {
			continue
		}
		for _, ns := range rule.allow {
			if v, ok := hubAbilities[ns]; ok {
				out[ns] = v
			}
		}
	}
	return out
}
