package registry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/Doekse/merossiot-sub004/common"
	"github.com/Doekse/merossiot-sub004/crypto"
)

// encryptAbility is the ability namespace whose presence gates AES-256-CBC
// encryption of a device's traffic, per spec §4.1.
const encryptAbility = "Appliance.Encrypt.ECDHE"

// Commander is the narrow surface a Device needs to issue a command
// against itself; the router is the usual implementation. Kept
// separate from router.Router so registry never imports router (router
// instead depends on registry.LANResolver going the other way).
type Commander interface {
	Send(ctx context.Context, uuid string, method common.Method, namespace string, payload any) (common.Message, error)
}

// EventSink receives every event a Device or SubDevice emits. The
// top-level façade (meross.Manager) is the usual implementation; this
// keeps the manager→device→manager reference unidirectional per spec
// §9 ("the device holds an opaque SessionHandle").
type EventSink interface {
	Emit(event string, payload any)
}

// Device is the registry's live representation of one top-level
// Meross device, per spec §3. All mutation happens through its
// methods, which take mu; readers see a consistent snapshot of any
// single feature's channel map, never a half-applied one.
type Device struct {
	mu sync.RWMutex

	uuid            string
	name            string
	deviceType      string
	subType         string
	hardwareVersion string
	firmwareVersion string
	domain          string
	reservedDomain  string
	deviceClass     string

	abilities abilitySet
	channels  []ChannelInfo

	macAddress string
	lanIP      string
	mqttHost   string
	mqttPort   int

	onlineStatus    int
	onlineUpdatedAt time.Time

	accountKey          string
	encryptionSupported bool
	encryptionKey       string

	lastFullUpdateTimestamp time.Time

	isHub      bool
	subDevices map[string]*SubDevice

	// state is the per-feature, per-channel cached value table: feature
	// name (e.g. "toggle", "light") -> channel index -> reduced state.
	// Feature packages own the concrete value type stored per key; the
	// registry only provides atomic get/set/diff-notify around it.
	state map[string]map[int]any

	sender Commander
	sink   EventSink
}

func newDevice(d DeviceDescriptor, sender Commander, sink EventSink, accountKey string) *Device {
	return &Device{
		uuid:            d.UUID,
		name:            d.Name,
		deviceType:      d.Type,
		subType:         d.SubType,
		hardwareVersion: d.HardwareVersion,
		firmwareVersion: d.FirmwareVersion,
		domain:          d.Domain,
		reservedDomain:  d.ReservedDomain,
		deviceClass:     d.DeviceClass,
		onlineStatus:    d.OnlineStatus,
		subDevices:      make(map[string]*SubDevice),
		state:           make(map[string]map[int]any),
		sender:          sender,
		sink:            sink,
		accountKey:      accountKey,
	}
}

func (d *Device) UUID() string { d.mu.RLock(); defer d.mu.RUnlock(); return d.uuid }
func (d *Device) Name() string { d.mu.RLock(); defer d.mu.RUnlock(); return d.name }
func (d *Device) Type() string { d.mu.RLock(); defer d.mu.RUnlock(); return d.deviceType }

// IsHub reports whether this device exposes Appliance.Hub.SubdeviceList.
func (d *Device) IsHub() bool { d.mu.RLock(); defer d.mu.RUnlock(); return d.isHub }

// IsOnline reports whether the device's last known online status
// crosses the ONLINE boundary, per spec §4.6.
func (d *Device) IsOnline() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.onlineStatus == OnlineStatusOnline
}

// SetOnlineStatus applies a new online status if ts is not older than
// the last applied timestamp, enforcing the monotonic-per-timestamp
// invariant from spec §3. It returns whether the status actually
// changed, and emits "online" when it does.
func (d *Device) SetOnlineStatus(status int, ts time.Time) bool {
	d.mu.Lock()
	if !d.onlineUpdatedAt.IsZero() && ts.Before(d.onlineUpdatedAt) {
		d.mu.Unlock()
		return false
	}
	previous := d.onlineStatus
	d.onlineStatus = status
	d.onlineUpdatedAt = ts
	d.mu.Unlock()

	if previous == status {
		return false
	}
	d.emit("online", map[string]any{"previous": previous, "current": status})
	return true
}

// LANAddress implements router.LANResolver for a single device;
// registry.Registry aggregates these across all known devices.
func (d *Device) LANAddress() (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lanIP, d.lanIP != ""
}

// EncryptionKey returns the device's derived AES-256 key (as the 32
// hex-ASCII bytes crypto.Encrypt/Decrypt expect) and whether it is
// currently known, per spec invariant 4 ("encryptionKey exists iff
// encryptionSupported AND macAddress AND account key are all known").
func (d *Device) EncryptionKey() (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.encryptionKey, d.encryptionKey != ""
}

// recomputeEncryptionLocked re-derives encryptionKey from the current
// encryptionSupported/macAddress/accountKey inputs. Called with mu held,
// after either input changes, since the two inputs become known at
// different points in Registry.Initialize (System.All reports the mac,
// System.Ability reports Appliance.Encrypt.ECDHE).
func (d *Device) recomputeEncryptionLocked() {
	if !d.encryptionSupported || d.macAddress == "" || d.accountKey == "" {
		d.encryptionKey = ""
		return
	}
	key, err := crypto.DeviceKey(d.uuid, d.accountKey, d.macAddress)
	if err != nil {
		d.encryptionKey = ""
		return
	}
	d.encryptionKey = key
}

// Ability reports whether namespace is in the device's composed
// ability set, and returns its raw ability payload.
func (d *Device) Ability(namespace string) (json.RawMessage, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.abilities[namespace]
	return v, ok
}

// Abilities returns a snapshot of the composed ability set.
func (d *Device) Abilities() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.abilities))
	for ns := range d.abilities {
		out = append(out, ns)
	}
	return out
}

// Channels returns a copy of the device's channel table.
func (d *Device) Channels() []ChannelInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ChannelInfo, len(d.channels))
	copy(out, d.channels)
	return out
}

// SubDevice returns the hub's sub-device with the given id, used by
// the push reducer (C8) to route Hub.* entries to the right target.
func (d *Device) SubDevice(id string) (*SubDevice, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sd, ok := d.subDevices[id]
	return sd, ok
}

// SubDevices returns a snapshot of every sub-device attached to this hub.
func (d *Device) SubDevices() []*SubDevice {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*SubDevice, 0, len(d.subDevices))
	for _, sd := range d.subDevices {
		out = append(out, sd)
	}
	return out
}

// State reads the cached reduced state for (feature, channel).
func (d *Device) State(feature string, channel int) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.state[feature]
	if !ok {
		return nil, false
	}
	v, ok := ch[channel]
	return v, ok
}

// SetState stores newValue for (feature, channel) and returns the
// value it replaced (nil if absent). It is the only mutation path C8's
// reducer uses; the caller is responsible for diffing old vs new and
// emitting "state" — registry just makes the swap atomic, per spec §5
// ("the reducer takes the device lock only to swap in the new state").
func (d *Device) SetState(feature string, channel int, newValue any) (old any) {
	d.mu.Lock()
	ch, ok := d.state[feature]
	if !ok {
		ch = make(map[int]any)
		d.state[feature] = ch
	}
	old = ch[channel]
	ch[channel] = newValue
	d.mu.Unlock()
	return old
}

// EmitState emits a "state" event for a changed channel projection,
// called by C8 after SetState.
func (d *Device) EmitState(change ChangeEvent) {
	d.emit("state", change)
}

// Send issues a command against this device through the router.
func (d *Device) Send(ctx context.Context, method common.Method, namespace string, payload any) (common.Message, error) {
	d.mu.RLock()
	uuid := d.uuid
	d.mu.RUnlock()
	return d.sender.Send(ctx, uuid, method, namespace, payload)
}

func (d *Device) emit(event string, payload any) {
	if d.sink == nil {
		return
	}
	d.sink.Emit(event, payload)
}

// applyAbilities stores the composed ability set and determines hub
// status, per spec §4.5 ("presence of Appliance.Hub.SubdeviceList
// selects the Hub base class").
func (d *Device) applyAbilities(abilities abilitySet) {
	d.mu.Lock()
	d.abilities = abilities
	_, d.isHub = abilities["Appliance.Hub.SubdeviceList"]
	d.channels = deriveChannels(abilities)
	_, d.encryptionSupported = abilities[encryptAbility]
	d.recomputeEncryptionLocked()
	d.mu.Unlock()
}

// AbsorbSystemAll parses a raw Appliance.System.All response, applies
// its hardware/firmware/online fields to the device, and returns the
// digest section for the caller (push.AbsorbSystemAll) to route to
// per-feature reducers with source="response", per spec §4.6.
func (d *Device) AbsorbSystemAll(raw json.RawMessage, now time.Time) (json.RawMessage, error) {
	var p systemAllPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	d.applySystemAll(p, now)
	return p.All.Digest, nil
}

// applySystemAll absorbs a full-state response's hardware/firmware
// metadata, per spec §4.6 ("Hardware/firmware fields...update device
// metadata").
func (d *Device) applySystemAll(p systemAllPayload, now time.Time) {
	d.mu.Lock()
	hw, fw := p.All.System.Hardware, p.All.System.Firmware
	if hw.MacAddress != "" {
		d.macAddress = hw.MacAddress
	}
	if hw.Version != "" {
		d.hardwareVersion = hw.Version
	}
	if fw.Version != "" {
		d.firmwareVersion = fw.Version
	}
	if fw.InnerIP != "" {
		d.lanIP = fw.InnerIP
	}
	if fw.Server != "" {
		d.mqttHost = fw.Server
		d.mqttPort = fw.Port
	}
	d.recomputeEncryptionLocked()
	d.lastFullUpdateTimestamp = now
	d.mu.Unlock()

	d.SetOnlineStatus(p.All.System.Online.Status, now)
}

// deriveChannels builds a minimal channel table from the reported
// abilities, naming only the master channel explicitly; feature
// modules append additional channels as they're discovered from
// digest contents.
func deriveChannels(abilities abilitySet) []ChannelInfo {
	if len(abilities) == 0 {
		return nil
	}
	return []ChannelInfo{{Index: 0, Name: "main", IsMaster: true}}
}

// composeAbilities implements spec §4.5's X-suffix precedence rule:
// "When both a base and an X-suffixed namespace are present...the X
// version wins; otherwise the base version is included."
func composeAbilities(in abilitySet) abilitySet {
	out := make(abilitySet, len(in))
	for ns, payload := range in {
		out[ns] = payload
	}
	for ns := range in {
		if !strings.HasSuffix(ns, "X") {
			continue
		}
		base := strings.TrimSuffix(ns, "X")
		if _, ok := in[base]; ok {
			delete(out, base)
		}
	}
	return out
}
