// Package meross is the top-level façade (C13): it owns exactly one
// httpapi.Client, one transport/mqtt.Session, one router.Router, one
// registry.Registry, one subscription.Manager, and one stats.Stats for
// a single Meross account, wiring them together and re-exposing the
// combined surface an application actually drives. Multiple accounts
// are simply multiple Manager instances; nothing here is package-level
// mutable state, per spec §9.
package meross

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Doekse/merossiot-sub004/common"
	"github.com/Doekse/merossiot-sub004/httpapi"
	"github.com/Doekse/merossiot-sub004/logx"
	"github.com/Doekse/merossiot-sub004/push"
	"github.com/Doekse/merossiot-sub004/registry"
	"github.com/Doekse/merossiot-sub004/router"
	"github.com/Doekse/merossiot-sub004/stats"
	"github.com/Doekse/merossiot-sub004/subscription"
	"github.com/Doekse/merossiot-sub004/transport/lan"
	mqtttransport "github.com/Doekse/merossiot-sub004/transport/mqtt"
)

// Option configures a Manager at construction time.
type Option func(*config)

type config struct {
	logger       logx.Logger
	statsEnabled bool
	routerMode   router.Mode
	errorBudget  int
	cooldown     time.Duration
	timeout      time.Duration
	useLAN       bool
}

func defaultConfig() config {
	return config{
		logger:      logx.Noop(),
		routerMode:  router.ModeLANFirstOnlyGet,
		errorBudget: router.DefaultErrorBudget,
		cooldown:    router.DefaultCooldown,
		timeout:     router.DefaultTimeout,
		useLAN:      true,
	}
}

// WithLogger sets the logger every owned component is built with.
func WithLogger(l logx.Logger) Option { return func(c *config) { c.logger = l } }

// WithStats turns on the HTTP/MQTT sample rings (spec §4.8); disabled
// by default, matching stats.New's own zero-cost-when-off contract.
func WithStats(enabled bool) Option { return func(c *config) { c.statsEnabled = enabled } }

// WithRouterMode overrides the default LAN_HTTP_FIRST_ONLY_GET mode.
func WithRouterMode(m router.Mode) Option { return func(c *config) { c.routerMode = m } }

// WithoutLAN disables the LAN transport entirely; every request goes
// over cloud MQTT regardless of router mode.
func WithoutLAN() Option { return func(c *config) { c.useLAN = false } }

// WithLANErrorBudget overrides router.DefaultErrorBudget.
func WithLANErrorBudget(n int) Option { return func(c *config) { c.errorBudget = n } }

// WithLANCooldown overrides router.DefaultCooldown.
func WithLANCooldown(d time.Duration) Option { return func(c *config) { c.cooldown = d } }

// WithRequestTimeout overrides the per-request timeout applied to both
// the HTTP client and the router.
func WithRequestTimeout(d time.Duration) Option { return func(c *config) { c.timeout = d } }

// Manager is the process-wide façade for one authenticated account.
type Manager struct {
	*Emitter

	logger logx.Logger

	http    *httpapi.Client
	session *mqtttransport.Session
	lan     *lan.Transport
	router  *router.Router
	devices *registry.Registry
	subs    *subscription.Manager
	stats   *stats.Stats

	mu            sync.Mutex
	everConnected bool
}

// New authenticates against the vendor API with email/password (and an
// optional MFA code) and returns a ready-to-Connect Manager.
func New(ctx context.Context, email, password, mfaCode string, opts ...Option) (*Manager, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	st := stats.New(cfg.statsEnabled)
	_, client, err := httpapi.Login(ctx, email, password, mfaCode,
		httpapi.WithLogger(cfg.logger), httpapi.WithStats(st), httpapi.WithTimeout(cfg.timeout))
	if err != nil {
		return nil, err
	}
	return build(client, cfg, st), nil
}

// NewManagerFromTokenData rebuilds a Manager from a previously
// persisted TokenData blob instead of calling Login, per spec §6 ("the
// library only reads/writes it through its factory methods").
func NewManagerFromTokenData(data TokenData, opts ...Option) (*Manager, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	st := stats.New(cfg.statsEnabled)
	client := httpapi.New(data.credentials(),
		httpapi.WithLogger(cfg.logger), httpapi.WithStats(st), httpapi.WithTimeout(cfg.timeout))
	return build(client, cfg, st), nil
}

// build wires one account's components together. The three
// construction-order cycles (registry needs the router before it
// exists; the MQTT session needs the push reducer before it exists;
// the session and LAN transport need the registry's encryption-key
// lookup before the registry exists) are broken by
// routerHandle/dispatcherHandle/encryptionKeysHandle, see handles.go.
func build(client *httpapi.Client, cfg config, st *stats.Stats) *Manager {
	m := &Manager{Emitter: NewEmitter(), logger: cfg.logger, http: client, stats: st}

	dispatch := &dispatcherHandle{}
	keys := &encryptionKeysHandle{}
	session := mqtttransport.New(
		mqtttransport.WithLogger(cfg.logger),
		mqtttransport.WithStats(st),
		mqtttransport.WithDispatcher(dispatch),
		mqtttransport.WithEncryptionKeys(keys),
		mqtttransport.WithOnConnect(m.handleConnect),
		mqtttransport.WithOnConnectionLost(m.handleConnectionLost),
	)
	m.session = session

	if cfg.useLAN {
		m.lan = lan.New(lan.WithLogger(cfg.logger), lan.WithEncryptionKeys(keys))
	}

	routeTo := &routerHandle{}
	devices := registry.New(
		registry.WithLister(httpLister{client: client}),
		registry.WithCommander(routeTo),
		registry.WithSubscriber(session),
		registry.WithEventSink(m),
		registry.WithPendingFailer(session),
		registry.WithAccountKey(client.Credentials().Key),
	)
	keys.set(devices)
	m.devices = devices

	routerOpts := []router.Option{
		router.WithHeaderBuilder(session),
		router.WithCloudSender(session),
		router.WithLANResolver(devices),
		router.WithErrorBudget(cfg.errorBudget),
		router.WithCooldown(cfg.cooldown),
		router.WithTimeout(cfg.timeout),
		router.WithLogger(cfg.logger),
		router.WithStats(st),
	}
	if m.lan != nil {
		routerOpts = append(routerOpts, router.WithLANSender(m.lan))
	}
	r := router.New(cfg.routerMode, routerOpts...)
	routeTo.set(r)
	m.router = r

	subs := subscription.New(subscription.WithLogger(cfg.logger), subscription.WithEventSink(m))
	m.subs = subs

	reducer := push.New(devices, push.WithLogger(cfg.logger), push.WithTouchHook(subs.Touch))
	dispatch.set(&dispatcherBridge{reducer: reducer, emit: m.Emit})

	return m
}

// dispatcherBridge sits in front of the push reducer so every
// device-initiated message also surfaces as the "rawData" and
// "pushNotification" events spec.md §6 names, which package push has
// no reason to know about on its own.
type dispatcherBridge struct {
	reducer *push.Reducer
	emit    func(event string, payload any)
}

func (b *dispatcherBridge) Dispatch(uuid string, raw common.RawMessage) {
	b.emit("rawData", raw)
	b.emit("pushNotification", push.Parse(uuid, raw))
	b.reducer.Dispatch(uuid, raw)
}

func (m *Manager) handleConnect() {
	m.mu.Lock()
	first := !m.everConnected
	m.everConnected = true
	m.mu.Unlock()
	if first {
		m.Emit("connected", nil)
		return
	}
	m.Emit("reconnect", nil)
}

func (m *Manager) handleConnectionLost(err error) {
	m.Emit("disconnected", err)
}

// Connect dials the account's MQTT broker using the client's current
// (possibly domain-redirected) credentials.
func (m *Manager) Connect(ctx context.Context) error {
	return m.session.Connect(ctx, m.http.Credentials())
}

// Close disconnects the MQTT session and halts every active
// subscription.
func (m *Manager) Close() error {
	m.subs.Destroy()
	return m.session.Close()
}

// Discover lists devices not yet known to the registry and initializes
// each one, per spec §4.5's discover()+initialize() pair. A device
// that fails to initialize is reported via the "error" event and
// skipped rather than aborting the whole call.
func (m *Manager) Discover(ctx context.Context) ([]*registry.Device, error) {
	descriptors, err := m.devices.Discover(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*registry.Device, 0, len(descriptors))
	for _, desc := range descriptors {
		d, err := m.devices.Initialize(ctx, desc)
		if err != nil {
			m.Emit("error", err)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Devices returns a snapshot of every known top-level device.
func (m *Manager) Devices() []*registry.Device { return m.devices.List() }

// Device looks up a known top-level device by uuid.
func (m *Manager) Device(uuid string) (*registry.Device, bool) { return m.devices.Get(uuid) }

// Remove unregisters uuid and stops its subscription, if any.
func (m *Manager) Remove(uuid string) {
	m.subs.Unsubscribe(uuid)
	m.devices.Remove(uuid)
}

// Subscribe starts device's poll/push hybrid subscription under cfg.
func (m *Manager) Subscribe(uuid string, cfg subscription.Config) error {
	d, ok := m.devices.Get(uuid)
	if !ok {
		return common.New(common.KindNotFound, fmt.Sprintf("unknown device %q", uuid))
	}
	m.subs.Subscribe(d, cfg)
	return nil
}

// Unsubscribe stops uuid's poll/push hybrid subscription.
func (m *Manager) Unsubscribe(uuid string) { m.subs.Unsubscribe(uuid) }

// WatchDeviceList starts the account-wide device-list poll.
func (m *Manager) WatchDeviceList(interval time.Duration) {
	m.subs.WatchDeviceList(httpLister{client: m.http}, interval)
}

// SendCommand issues a command directly against uuid through the
// router, emitting "rawSendData" before the request goes out. Feature
// helpers normally go through a registry.Device instead; this exists
// for callers that need to address a namespace the feature modules
// don't model.
func (m *Manager) SendCommand(ctx context.Context, uuid string, method common.Method, namespace string, payload any) (common.Message, error) {
	m.Emit("rawSendData", map[string]any{"uuid": uuid, "method": method, "namespace": namespace, "payload": payload})
	return m.router.Send(ctx, uuid, method, namespace, payload)
}

// TokenData exports the account's current credentials for persistence,
// per spec §6.
func (m *Manager) TokenData() TokenData {
	return tokenDataFromCredentials(m.http.Credentials())
}

// Stats returns the account's HTTP/MQTT sample rings.
func (m *Manager) Stats() *stats.Stats { return m.stats }

// Logout calls the vendor logout endpoint (best-effort, per spec §5)
// and closes the session.
func (m *Manager) Logout(ctx context.Context) error {
	_ = m.http.Logout(ctx)
	return m.Close()
}
