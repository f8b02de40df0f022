package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Doekse/merossiot-sub004/common"
)

func TestComposeAbilities_XSuffixWins(t *testing.T) {
	in := abilitySet{
		"Appliance.Control.Toggle":  json.RawMessage(`{}`),
		"Appliance.Control.ToggleX": json.RawMessage(`{}`),
		"Appliance.System.All":      json.RawMessage(`{}`),
	}
	out := composeAbilities(in)

	if _, ok := out["Appliance.Control.Toggle"]; ok {
		t.Fatalf("expected base Toggle to be superseded by ToggleX")
	}
	if _, ok := out["Appliance.Control.ToggleX"]; !ok {
		t.Fatalf("expected ToggleX to survive composition")
	}
	if _, ok := out["Appliance.System.All"]; !ok {
		t.Fatalf("expected unrelated ability to survive composition")
	}
}

func TestComposeAbilities_BaseOnlySurvivesAlone(t *testing.T) {
	in := abilitySet{"Appliance.Control.Toggle": json.RawMessage(`{}`)}
	out := composeAbilities(in)
	if _, ok := out["Appliance.Control.Toggle"]; !ok {
		t.Fatalf("expected lone base ability to survive composition")
	}
}

func TestMatchSubDeviceAbilities_FiltersByPrefix(t *testing.T) {
	hubAbilities := abilitySet{
		"Appliance.Hub.Sensor.TempHum":     json.RawMessage(`{}`),
		"Appliance.Hub.Sensor.All":         json.RawMessage(`{}`),
		"Appliance.Hub.Sensor.Smoke":       json.RawMessage(`{}`),
		"Appliance.Hub.Mts100.All":         json.RawMessage(`{}`),
		"Appliance.Hub.SubdeviceList":      json.RawMessage(`{}`),
	}

	tempHum := matchSubDeviceAbilities(hubAbilities, "ms100h")
	if _, ok := tempHum["Appliance.Hub.Sensor.TempHum"]; !ok {
		t.Fatalf("expected ms100h to see TempHum ability")
	}
	if _, ok := tempHum["Appliance.Hub.Sensor.Smoke"]; ok {
		t.Fatalf("expected ms100h not to see Smoke ability")
	}
	if _, ok := tempHum["Appliance.Hub.SubdeviceList"]; ok {
		t.Fatalf("expected ms100h not to see hub-only ability")
	}

	smoke := matchSubDeviceAbilities(hubAbilities, "ma151")
	if _, ok := smoke["Appliance.Hub.Sensor.Smoke"]; !ok {
		t.Fatalf("expected ma151 to see Smoke ability")
	}

	thermo := matchSubDeviceAbilities(hubAbilities, "mts100v3")
	if _, ok := thermo["Appliance.Hub.Mts100.All"]; !ok {
		t.Fatalf("expected mts100v3 to see Mts100.All ability")
	}
	if len(thermo) != 1 {
		t.Fatalf("expected mts100v3 to see only the ability actually present on the hub, got %v", thermo)
	}
}

// fakeCommander answers Appliance.System.All and Appliance.System.Ability
// GET requests with canned payloads; anything else errors.
type fakeCommander struct {
	hub        bool
	extraAbil  map[string]json.RawMessage
	sendCalls  int
}

func (f *fakeCommander) Send(_ context.Context, _ string, method common.Method, namespace string, _ any) (common.Message, error) {
	f.sendCalls++
	switch namespace {
	case "Appliance.System.All":
		return common.Message{Payload: map[string]any{
			"all": map[string]any{
				"system": map[string]any{
					"hardware": map[string]any{"version": "1.0.0", "macAddress": "aa:bb:cc:dd:ee:ff"},
					"firmware": map[string]any{"version": "2.0.0", "innerIp": "192.168.1.50"},
					"online":   map[string]any{"status": OnlineStatusOnline},
				},
			},
		}}, nil
	case "Appliance.System.Ability":
		ability := map[string]json.RawMessage{
			"Appliance.Control.ToggleX": json.RawMessage(`{}`),
			"Appliance.Control.Toggle":  json.RawMessage(`{}`),
		}
		if f.hub {
			ability["Appliance.Hub.SubdeviceList"] = json.RawMessage(`{}`)
			ability["Appliance.Hub.Sensor.TempHum"] = json.RawMessage(`{}`)
		}
		for k, v := range f.extraAbil {
			ability[k] = v
		}
		return common.Message{Payload: map[string]any{"ability": ability}}, nil
	default:
		return common.Message{}, common.New(common.KindUnsupported, "unexpected namespace "+namespace)
	}
}

type fakeLister struct {
	subDevices []SubDeviceDescriptor
}

func (f *fakeLister) ListDevices(_ context.Context) ([]DeviceDescriptor, error) { return nil, nil }
func (f *fakeLister) ListSubDevices(_ context.Context, _ string) ([]SubDeviceDescriptor, error) {
	return f.subDevices, nil
}

type fakeSubscriber struct {
	subscribed   map[string]bool
	unsubscribed map[string]bool
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{subscribed: map[string]bool{}, unsubscribed: map[string]bool{}}
}
func (f *fakeSubscriber) SubscribeDevice(uuid string) error   { f.subscribed[uuid] = true; return nil }
func (f *fakeSubscriber) UnsubscribeDevice(uuid string) error { f.unsubscribed[uuid] = true; return nil }

type fakeSink struct {
	events []string
}

func (f *fakeSink) Emit(event string, _ any) { f.events = append(f.events, event) }

type fakePendingFailer struct {
	failed []string
}

func (f *fakePendingFailer) FailPending(uuid string) { f.failed = append(f.failed, uuid) }

func TestRegistry_InitializePlainDevice(t *testing.T) {
	commander := &fakeCommander{}
	sub := newFakeSubscriber()
	sink := &fakeSink{}
	r := New(WithLister(&fakeLister{}), WithCommander(commander), WithSubscriber(sub), WithEventSink(sink))

	d, err := r.Initialize(context.Background(), DeviceDescriptor{UUID: "uuid-1", Name: "Plug"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if d.IsHub() {
		t.Fatalf("expected plain device to not be a hub")
	}
	if !d.IsOnline() {
		t.Fatalf("expected device to be online after System.All")
	}
	if !sub.subscribed["uuid-1"] {
		t.Fatalf("expected registry to subscribe the new device")
	}
	if got, ok := d.Ability("Appliance.Control.Toggle"); ok {
		t.Fatalf("expected base Toggle to be composed away, got %v", got)
	}
	if _, ok := d.Ability("Appliance.Control.ToggleX"); !ok {
		t.Fatalf("expected ToggleX to remain after composition")
	}
	found := false
	for _, e := range sink.events {
		if e == "deviceInitialized" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected deviceInitialized event, got %v", sink.events)
	}
}

func TestRegistry_InitializeHubAttachesSubDevices(t *testing.T) {
	commander := &fakeCommander{hub: true}
	lister := &fakeLister{subDevices: []SubDeviceDescriptor{
		{SubDeviceID: "sd-1", SubDeviceType: "ms100h", SubDeviceName: "Bedroom Sensor"},
	}}
	sub := newFakeSubscriber()
	r := New(WithLister(lister), WithCommander(commander), WithSubscriber(sub), WithEventSink(&fakeSink{}))

	hub, err := r.Initialize(context.Background(), DeviceDescriptor{UUID: "hub-1"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !hub.IsHub() {
		t.Fatalf("expected hub device to be detected as a hub")
	}

	_, sd, err := r.Find(Identifier{HubUUID: "hub-1", SubDeviceID: "sd-1"})
	if err != nil {
		t.Fatalf("Find sub-device: %v", err)
	}
	if sd.Name() != "Bedroom Sensor" {
		t.Fatalf("unexpected sub-device name %q", sd.Name())
	}
	if _, ok := sd.Ability("Appliance.Hub.Sensor.TempHum"); !ok {
		t.Fatalf("expected sub-device to inherit matched hub ability")
	}
}

func TestRegistry_FindUnknownDeviceReturnsNotFound(t *testing.T) {
	r := New()
	_, _, err := r.Find(Identifier{UUID: "missing"})
	if common.KindOf(err) != common.KindNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestRegistry_RemoveUnsubscribesAndEmits(t *testing.T) {
	commander := &fakeCommander{}
	sub := newFakeSubscriber()
	sink := &fakeSink{}
	r := New(WithLister(&fakeLister{}), WithCommander(commander), WithSubscriber(sub), WithEventSink(sink))

	_, err := r.Initialize(context.Background(), DeviceDescriptor{UUID: "uuid-1"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	r.Remove("uuid-1")

	if _, ok := r.Get("uuid-1"); ok {
		t.Fatalf("expected device to be removed")
	}
	if !sub.unsubscribed["uuid-1"] {
		t.Fatalf("expected registry to unsubscribe the removed device")
	}
	last := sink.events[len(sink.events)-1]
	if last != "deviceRemoved" {
		t.Fatalf("expected deviceRemoved as last event, got %q", last)
	}
}

func TestRegistry_RemoveFailsPendingRequests(t *testing.T) {
	commander := &fakeCommander{}
	sub := newFakeSubscriber()
	failer := &fakePendingFailer{}
	r := New(WithLister(&fakeLister{}), WithCommander(commander), WithSubscriber(sub), WithEventSink(&fakeSink{}), WithPendingFailer(failer))

	_, err := r.Initialize(context.Background(), DeviceDescriptor{UUID: "uuid-1"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	r.Remove("uuid-1")

	if len(failer.failed) != 1 || failer.failed[0] != "uuid-1" {
		t.Fatalf("expected FailPending to be called with uuid-1, got %v", failer.failed)
	}
}

func TestRegistry_InitializeDerivesEncryptionKeyWhenAbilityPresent(t *testing.T) {
	commander := &fakeCommander{extraAbil: map[string]json.RawMessage{
		"Appliance.Encrypt.ECDHE": json.RawMessage(`{}`),
	}}
	r := New(WithLister(&fakeLister{}), WithCommander(commander), WithSubscriber(newFakeSubscriber()), WithEventSink(&fakeSink{}), WithAccountKey("0123456789abcdef0123456789abcdef"))

	d, err := r.Initialize(context.Background(), DeviceDescriptor{UUID: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	key, ok := d.EncryptionKey()
	if !ok || key == "" {
		t.Fatalf("expected an encryption key to be derived once mac/ability/account key are known")
	}
	if got, ok := r.EncryptionKey(d.UUID()); !ok || got != key {
		t.Fatalf("expected Registry.EncryptionKey to mirror Device.EncryptionKey, got %q ok=%v", got, ok)
	}
}

func TestRegistry_InitializeLeavesEncryptionKeyUnsetWithoutAbility(t *testing.T) {
	commander := &fakeCommander{}
	r := New(WithLister(&fakeLister{}), WithCommander(commander), WithSubscriber(newFakeSubscriber()), WithEventSink(&fakeSink{}), WithAccountKey("0123456789abcdef0123456789abcdef"))

	d, err := r.Initialize(context.Background(), DeviceDescriptor{UUID: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, ok := d.EncryptionKey(); ok {
		t.Fatalf("expected no encryption key without Appliance.Encrypt.ECDHE ability")
	}
}

func TestDevice_SetOnlineStatusIgnoresStaleTimestamp(t *testing.T) {
	d := newDevice(DeviceDescriptor{UUID: "uuid-1"}, nil, nil, "")
	now := time.Now()

	if !d.SetOnlineStatus(OnlineStatusOnline, now) {
		t.Fatalf("expected first status application to report changed")
	}
	if d.SetOnlineStatus(OnlineStatusOffline, now.Add(-time.Second)) {
		t.Fatalf("expected stale timestamp to be ignored")
	}
	if !d.IsOnline() {
		t.Fatalf("expected device to remain online after stale update was ignored")
	}
}

func TestDevice_StateRoundTrip(t *testing.T) {
	d := newDevice(DeviceDescriptor{UUID: "uuid-1"}, nil, nil, "")
	if _, ok := d.State("toggle", 0); ok {
		t.Fatalf("expected no initial state")
	}
	old := d.SetState("toggle", 0, true)
	if old != nil {
		t.Fatalf("expected nil previous value, got %v", old)
	}
	v, ok := d.State("toggle", 0)
	if !ok || v != true {
		t.Fatalf("expected state true, got %v ok=%v", v, ok)
	}
}
