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
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Doekse/merossiot-sub004/common"
)

// Lister is the narrow surface the registry needs of the vendor HTTP
// API to discover devices and sub-devices (httpapi.Client satisfies
// this).
type Lister interface {
	ListDevices(ctx context.Context) ([]DeviceDescriptor, error)
	ListSubDevices(ctx context.Context, hubUUID string) ([]SubDeviceDescriptor, error)
}

// Subscriber is the narrow surface the registry needs of the MQTT
// session to keep per-device subscriptions in sync with the device
// set (transport/mqtt.Session satisfies this).
type Subscriber interface {
	SubscribeDevice(uuid string) error
	UnsubscribeDevice(uuid string) error
}

// PendingFailer is the narrow surface the registry needs of the MQTT
// session to fail any in-flight request addressed to a device being
// removed, per spec §4.5's remove(uuid) operation
// (transport/mqtt.Session satisfies this).
type PendingFailer interface {
	FailPending(uuid string)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLister sets the device/sub-device discovery source.
func WithLister(l Lister) Option { return func(r *Registry) { r.lister = l } }

// WithCommander sets the command sender handed to every Device.
func WithCommander(c Commander) Option { return func(r *Registry) { r.commander = c } }

// WithSubscriber sets the MQTT subscription manager kept in sync with
// the device set.
func WithSubscriber(s Subscriber) Option { return func(r *Registry) { r.subscriber = s } }

// WithEventSink sets the sink every Device/SubDevice emits through.
func WithEventSink(sink EventSink) Option { return func(r *Registry) { r.sink = sink } }

// WithPendingFailer sets the collaborator consulted by Remove to fail
// in-flight requests addressed to a device being removed.
func WithPendingFailer(f PendingFailer) Option { return func(r *Registry) { r.pendingFailer = f } }

// WithAccountKey sets the account key mixed into every device's
// derived AES-256 encryption key, per spec §4.1.
func WithAccountKey(key string) Option { return func(r *Registry) { r.accountKey = key } }

// Registry is the single-writer-many-readers store of all known
// devices, keyed by UUID. Sub-devices are addressed through their hub.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device

	lister        Lister
	commander     Commander
	subscriber    Subscriber
	sink          EventSink
	pendingFailer PendingFailer
	accountKey    string
}

// New builds an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{devices: make(map[string]*Device)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Get returns the device with the given uuid, if known.
func (r *Registry) Get(uuid string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[uuid]
	return d, ok
}

// List returns a snapshot of every known top-level device.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// Find returns the Device or SubDevice named by id. A sub-device
// lookup fails if its hub is not registered or the id is not one of
// the hub's known sub-devices, per spec §4.5.
func (r *Registry) Find(id Identifier) (device *Device, subDevice *SubDevice, err error) {
	if !id.IsSubDevice() {
		d, ok := r.Get(id.UUID)
		if !ok {
			return nil, nil, common.New(common.KindNotFound, fmt.Sprintf("unknown device %q", id.UUID))
		}
		return d, nil, nil
	}
	hub, ok := r.Get(id.HubUUID)
	if !ok {
		return nil, nil, common.New(common.KindNotFound, fmt.Sprintf("unknown hub %q", id.HubUUID))
	}
	hub.mu.RLock()
	sd, ok := hub.subDevices[id.SubDeviceID]
	hub.mu.RUnlock()
	if !ok {
		return nil, nil, common.New(common.KindNotFound, fmt.Sprintf("unknown sub-device %q on hub %q", id.SubDeviceID, id.HubUUID))
	}
	return hub, sd, nil
}

// LANAddress implements router.LANResolver by fanning out to every
// known device, so one Registry can back the router's LAN resolution
// for the whole account without the router needing to know about
// Device at all.
func (r *Registry) LANAddress(uuid string) (string, bool) {
	d, ok := r.Get(uuid)
	if !ok {
		return "", false
	}
	return d.LANAddress()
}

// EncryptionKey implements the mqtt/lan transports' EncryptionKeys
// collaborator interface by fanning out to the named device.
func (r *Registry) EncryptionKey(uuid string) (string, bool) {
	d, ok := r.Get(uuid)
	if !ok {
		return "", false
	}
	return d.EncryptionKey()
}

// Discover calls the vendor device list and returns the descriptors of
// every device not yet present in the registry, per spec §4.5's
// discover() operation. It does not itself add devices; the caller is
// expected to follow up with Initialize for each new descriptor.
func (r *Registry) Discover(ctx context.Context) ([]DeviceDescriptor, error) {
	descriptors, err := r.lister.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	var fresh []DeviceDescriptor
	for _, desc := range descriptors {
		if _, known := r.devices[desc.UUID]; !known {
			fresh = append(fresh, desc)
		}
	}
	r.mu.RUnlock()
	return fresh, nil
}

// Initialize fetches Appliance.System.All and Appliance.System.Ability
// for uuid, builds its Device, registers it, subscribes its MQTT
// topic, and — if it is a hub — discovers and initializes its
// sub-devices, per spec §4.5's initialize(uuid) operation.
func (r *Registry) Initialize(ctx context.Context, desc DeviceDescriptor) (*Device, error) {
	d := newDevice(desc, r.commander, r.sink, r.accountKey)

	allMsg, err := d.Send(ctx, common.MethodGET, "Appliance.System.All", nil)
	if err != nil {
		return nil, err
	}
	allRaw, err := json.Marshal(allMsg.Payload)
	if err != nil {
		return nil, common.Wrap(common.KindParseError, err)
	}
	if _, err := d.AbsorbSystemAll(allRaw, time.Now()); err != nil {
		return nil, common.Wrap(common.KindParseError, err)
	}

	abilityMsg, err := d.Send(ctx, common.MethodGET, "Appliance.System.Ability", nil)
	if err != nil {
		return nil, err
	}
	var abilityPayload systemAbilityPayload
	if err := decodePayload(abilityMsg.Payload, &abilityPayload); err != nil {
		return nil, common.Wrap(common.KindParseError, err)
	}
	d.applyAbilities(composeAbilities(abilityPayload.Ability))

	r.mu.Lock()
	r.devices[d.uuid] = d
	r.mu.Unlock()

	if r.subscriber != nil {
		if err := r.subscriber.SubscribeDevice(d.uuid); err != nil {
			return d, err
		}
	}

	d.emit("deviceInitialized", d)

	if d.IsHub() {
		if err := r.initializeSubDevices(ctx, d); err != nil {
			return d, err
		}
	}
	return d, nil
}

// initializeSubDevices lists and attaches every sub-device reported
// for a hub, filtering each one's visible abilities down to the rules
// matched by its reported type, per spec §4.5.
func (r *Registry) initializeSubDevices(ctx context.Context, hub *Device) error {
	descriptors, err := r.lister.ListSubDevices(ctx, hub.uuid)
	if err != nil {
		return err
	}
	hub.mu.RLock()
	hubAbilities := hub.abilities
	hub.mu.RUnlock()

	for i, desc := range descriptors {
		sd := newSubDevice(hub, desc, i+1)
		sd.applyAbilities(matchSubDeviceAbilities(hubAbilities, desc.SubDeviceType))

		hub.mu.Lock()
		hub.subDevices[desc.SubDeviceID] = sd
		hub.mu.Unlock()

		hub.emit("deviceInitialized", sd)
	}
	return nil
}

// Remove unregisters uuid, unsubscribes its MQTT topic, and emits
// "deviceRemoved", per spec §4.5's remove(uuid) operation. Removing a
// hub removes its sub-devices implicitly since they are only
// reachable through it.
func (r *Registry) Remove(uuid string) {
	r.mu.Lock()
	d, ok := r.devices[uuid]
	if ok {
		delete(r.devices, uuid)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	if r.subscriber != nil {
		_ = r.subscriber.UnsubscribeDevice(uuid)
	}
	if r.pendingFailer != nil {
		r.pendingFailer.FailPending(uuid)
	}
	d.emit("deviceRemoved", d)
}

// decodePayload round-trips an already-decoded any (typically a
// map[string]any from a transport's generic JSON unmarshal) into a
// concrete struct, avoiding a second network parse.
func decodePayload(payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
