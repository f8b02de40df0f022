// Package subscription implements the hybrid poll/push subscription
// scheduler (C9): one set of independent interval timers per device
// (device state, electricity, consumption), smart-caching suppression
// of polls a recent push already satisfied, and a longer-interval
// account-wide device-list poll that diffs against its previous
// snapshot. Grounded on nugget-thane-ai-agent's connwatch.Watcher
// shape (two cooperating phases owned by one goroutine, cancellation
// via context.CancelFunc plus a done channel the caller waits on)
// generalized from a single probe to several independently-ticking
// timers per subscription.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/Doekse/merossiot-sub004/logx"
	"github.com/Doekse/merossiot-sub004/registry"
)

// DefaultCacheMaxAge is the smart-caching freshness window applied
// when a Config doesn't set its own, per spec §4.7.
const DefaultCacheMaxAge = 10 * time.Second

// Freshness bucket names a poll interval suppresses against. Every
// namespace touched by a push is mapped onto one of these by
// sectionFor, since the config exposes exactly these three intervals.
const (
	SectionDeviceState = "deviceState"
	SectionElectricity = "electricity"
	SectionConsumption = "consumption"
)

// Config controls one device's poll/push hybrid subscription, per
// spec §4.7.
type Config struct {
	DeviceStateInterval time.Duration
	ElectricityInterval time.Duration
	ConsumptionInterval time.Duration
	SmartCaching        bool
	CacheMaxAge         time.Duration
}

func (c Config) withDefaults() Config {
	if c.CacheMaxAge <= 0 {
		c.CacheMaxAge = DefaultCacheMaxAge
	}
	return c
}

// DeviceUpdate is the "deviceUpdate:<uuid>" event payload: the merge
// of one poll result or one batch of push-driven diffs, per spec
// §4.7.
type DeviceUpdate struct {
	UUID      string
	Source    string // "poll" or "push"
	Timestamp time.Time
	Changes   []registry.ChangeEvent
}

// ListChange is the "deviceList" event payload emitted by the
// account-wide device-list poll, per spec §4.7's {added, removed,
// changed} shape.
type ListChange struct {
	Added   []registry.DeviceDescriptor
	Removed []string
	Changed []registry.DeviceDescriptor
}

// EventSink receives every event a Manager emits: "deviceUpdate:<uuid>"
// (DeviceUpdate), "deviceList" (ListChange), and "error" (error).
type EventSink interface {
	Emit(event string, payload any)
}

// Lister is the narrow account-level surface device-list polling
// needs (registry.Registry.Discover and httpapi.Client both satisfy
// the underlying call shape).
type Lister interface {
	ListDevices(ctx context.Context) ([]registry.DeviceDescriptor, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l logx.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithEventSink sets the sink the manager emits through.
func WithEventSink(sink EventSink) Option { return func(m *Manager) { m.sink = sink } }

// Manager schedules per-device polling and the account-wide
// device-list poll, per spec §4.7.
type Manager struct {
	mu   sync.Mutex
	subs map[string]*deviceSubscription

	logger logx.Logger
	sink   EventSink

	listCancel context.CancelFunc
	listDone   chan struct{}
}

// New builds an idle Manager with no active subscriptions.
func New(opts ...Option) *Manager {
	m := &Manager{subs: make(map[string]*deviceSubscription), logger: logx.Noop()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Subscribe starts (or restarts, replacing any existing one) device's
// poll/push hybrid subscription under cfg.
func (m *Manager) Subscribe(device *registry.Device, cfg Config) {
	cfg = cfg.withDefaults()
	m.Unsubscribe(device.UUID())

	ctx, cancel := context.WithCancel(context.Background())
	sub := &deviceSubscription{
		uuid:      device.UUID(),
		device:    device,
		cfg:       cfg,
		cancel:    cancel,
		done:      make(chan struct{}),
		freshness: make(map[string]time.Time),
		mgr:       m,
	}

	m.mu.Lock()
	m.subs[device.UUID()] = sub
	m.mu.Unlock()

	go sub.run(ctx)
}

// Unsubscribe stops uuid's per-device timers and removes it from the
// active subscription set, per spec §4.7's unsubscribe(uuid).
func (m *Manager) Unsubscribe(uuid string) {
	m.mu.Lock()
	sub, ok := m.subs[uuid]
	if ok {
		delete(m.subs, uuid)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	sub.cancel()
	<-sub.done
}

// Touch marks namespace's freshness bucket as just-updated for uuid,
// suppressing that bucket's next poll tick while it remains within
// CacheMaxAge, per spec §4.7 ("push notifications that touch a
// section also update freshness"). The top-level façade wires this to
// push.WithTouchHook so every successfully-routed push counts.
func (m *Manager) Touch(uuid, namespace string) {
	m.mu.Lock()
	sub, ok := m.subs[uuid]
	m.mu.Unlock()
	if !ok {
		return
	}
	sub.touch(sectionFor(namespace))
}

// WatchDeviceList starts the account-wide device-list poll against
// lister, ticking every interval and diffing against the previous
// snapshot, per spec §4.7's subscribeToDeviceList(). Calling it again
// replaces any previous device-list watch.
func (m *Manager) WatchDeviceList(lister Lister, interval time.Duration) {
	m.mu.Lock()
	if m.listCancel != nil {
		m.listCancel()
		<-m.listDone
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.listCancel = cancel
	m.listDone = make(chan struct{})
	done := m.listDone
	m.mu.Unlock()

	go m.runDeviceListPoll(ctx, done, lister, interval)
}

// Destroy halts every per-device subscription and the device-list
// poller, per spec §4.7's destroy().
func (m *Manager) Destroy() {
	m.mu.Lock()
	subs := make([]*deviceSubscription, 0, len(m.subs))
	for uuid, sub := range m.subs {
		subs = append(subs, sub)
		delete(m.subs, uuid)
	}
	listCancel, listDone := m.listCancel, m.listDone
	m.listCancel, m.listDone = nil, nil
	m.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
	if listCancel != nil {
		listCancel()
		<-listDone
	}
}

func (m *Manager) emit(event string, payload any) {
	if m.sink == nil {
		return
	}
	m.sink.Emit(event, payload)
}

// sectionFor maps a namespace to the freshness bucket its poll
// interval belongs to. Everything outside electricity/consumption
// counts toward the general device-state bucket, since a
// System.All poll refreshes every other feature in one call.
func sectionFor(namespace string) string {
	switch namespace {
	case "Appliance.Control.Electricity":
		return SectionElectricity
	case "Appliance.Control.ConsumptionX":
		return SectionConsumption
	default:
		return SectionDeviceState
	}
}
