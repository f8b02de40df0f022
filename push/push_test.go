package push

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Doekse/merossiot-sub004/common"
	"github.com/Doekse/merossiot-sub004/feature"
	"github.com/Doekse/merossiot-sub004/registry"
)

// fakeCommander answers System.All / System.Ability GETs during
// registry.Initialize, then records every later Send call unanswered
// (the push tests under this file never issue further commands).
type fakeCommander struct {
	hub bool
}

func (f *fakeCommander) Send(_ context.Context, _ string, _ common.Method, namespace string, _ any) (common.Message, error) {
	switch namespace {
	case "Appliance.System.All":
		return common.Message{Payload: map[string]any{
			"all": map[string]any{
				"system": map[string]any{
					"hardware": map[string]any{"version": "1.0.0", "macAddress": "aa:bb:cc:dd:ee:ff"},
					"firmware": map[string]any{"version": "2.0.0", "innerIp": "192.168.1.50"},
					"online":   map[string]any{"status": registry.OnlineStatusOnline},
				},
			},
		}}, nil
	case "Appliance.System.Ability":
		ability := map[string]json.RawMessage{
			"Appliance.Control.ToggleX": json.RawMessage(`{}`),
		}
		if f.hub {
			ability["Appliance.Hub.SubdeviceList"] = json.RawMessage(`{}`)
			ability["Appliance.Hub.Sensor.Smoke"] = json.RawMessage(`{}`)
		}
		return common.Message{Payload: map[string]any{"ability": ability}}, nil
	default:
		return common.Message{}, common.New(common.KindUnsupported, "unexpected namespace "+namespace)
	}
}

type fakeLister struct {
	subDevices []registry.SubDeviceDescriptor
}

func (f *fakeLister) ListDevices(_ context.Context) ([]registry.DeviceDescriptor, error) { return nil, nil }
func (f *fakeLister) ListSubDevices(_ context.Context, _ string) ([]registry.SubDeviceDescriptor, error) {
	return f.subDevices, nil
}

func newPlainDevice(t *testing.T, uuid string) *registry.Device {
	t.Helper()
	r := registry.New(registry.WithLister(&fakeLister{}), registry.WithCommander(&fakeCommander{}))
	d, err := r.Initialize(context.Background(), registry.DeviceDescriptor{UUID: uuid})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return d
}

func newHubDevice(t *testing.T, uuid, subID, subType string) *registry.Device {
	t.Helper()
	lister := &fakeLister{subDevices: []registry.SubDeviceDescriptor{
		{SubDeviceID: subID, SubDeviceType: subType, SubDeviceName: "Kitchen Smoke"},
	}}
	r := registry.New(registry.WithLister(lister), registry.WithCommander(&fakeCommander{hub: true}))
	d, err := r.Initialize(context.Background(), registry.DeviceDescriptor{UUID: uuid})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return d
}

type fakeRegistry struct {
	devices map[string]*registry.Device
}

func (f *fakeRegistry) Get(uuid string) (*registry.Device, bool) {
	d, ok := f.devices[uuid]
	return d, ok
}

func rawMessage(method common.Method, namespace string, payload any) common.RawMessage {
	raw, _ := json.Marshal(payload)
	return common.RawMessage{
		Header:  common.Header{Method: method, Namespace: namespace},
		Payload: raw,
	}
}

func TestDispatch_RoutesToggleXPush(t *testing.T) {
	d := newPlainDevice(t, "uuid-1")
	reg := &fakeRegistry{devices: map[string]*registry.Device{"uuid-1": d}}
	reducer := New(reg)

	msg := rawMessage(common.MethodPUSH, "Appliance.Control.ToggleX", map[string]any{
		"togglex": map[string]any{"channel": 0, "onoff": 1},
	})
	reducer.Dispatch("uuid-1", msg)

	v, ok := d.State(feature.ToggleName, 0)
	if !ok || !v.(feature.ToggleState).IsOn {
		t.Fatalf("expected channel 0 toggled on, got %v ok=%v", v, ok)
	}
}

func TestDispatch_UnknownDeviceDropped(t *testing.T) {
	reg := &fakeRegistry{devices: map[string]*registry.Device{}}
	reducer := New(reg)

	// Must not panic despite the device being unknown.
	reducer.Dispatch("ghost", rawMessage(common.MethodPUSH, "Appliance.Control.ToggleX", map[string]any{}))
}

func TestDispatch_GenericNamespaceIsIgnored(t *testing.T) {
	d := newPlainDevice(t, "uuid-1")
	reg := &fakeRegistry{devices: map[string]*registry.Device{"uuid-1": d}}
	reducer := New(reg)

	// Not in dispatchTable, not online, not hub, not roller: classified
	// Generic by Parse and must not reach any reducer (nor panic on a
	// nil dispatchTable entry).
	reducer.Dispatch("uuid-1", rawMessage(common.MethodPUSH, "Appliance.Control.Unknown", map[string]any{}))
}

func TestDispatch_OnlinePushUpdatesStatus(t *testing.T) {
	d := newPlainDevice(t, "uuid-1")
	reg := &fakeRegistry{devices: map[string]*registry.Device{"uuid-1": d}}
	reducer := New(reg)

	msg := rawMessage(common.MethodPUSH, onlineNamespace, map[string]any{
		"online": map[string]any{"status": registry.OnlineStatusOffline},
	})
	reducer.Dispatch("uuid-1", msg)

	if d.IsOnline() {
		t.Fatalf("expected device to be marked offline after Online push")
	}
}

func TestDispatch_RollerNamespaceRoutes(t *testing.T) {
	d := newPlainDevice(t, "uuid-1")
	reg := &fakeRegistry{devices: map[string]*registry.Device{"uuid-1": d}}
	reducer := New(reg)

	msg := rawMessage(common.MethodPUSH, "Appliance.RollerShutter.Position", map[string]any{
		"position": map[string]any{"channel": 0, "position": 55},
	})
	reducer.Dispatch("uuid-1", msg)

	v, ok := d.State(feature.RollerName, 0)
	if !ok {
		t.Fatalf("expected roller state present")
	}
	if v.(feature.RollerState).Position != 55 {
		t.Fatalf("unexpected roller state: %+v", v)
	}
}

func TestReduceHub_RoutesToKnownSubDeviceAndDropsUnknown(t *testing.T) {
	hub := newHubDevice(t, "hub-1", "sd-1", "ma151")
	reg := &fakeRegistry{devices: map[string]*registry.Device{"hub-1": hub}}
	reducer := New(reg)

	msg := rawMessage(common.MethodPUSH, "Appliance.Hub.Sensor.Smoke", map[string]any{
		"smokeAlarm": []map[string]any{
			{"id": "sd-1", "status": 1, "interConn": 1},
			{"id": "sd-unknown", "status": 1, "interConn": 0},
		},
	})
	reducer.Dispatch("hub-1", msg)

	sub, ok := hub.SubDevice("sd-1")
	if !ok {
		t.Fatalf("expected sub-device sd-1 to be registered")
	}
	v, ok := sub.State(feature.HubSmokeName, 0)
	if !ok {
		t.Fatalf("expected smoke state on sd-1")
	}
	if !v.(feature.HubSmokeState).InterConn {
		t.Fatalf("unexpected smoke state: %+v", v)
	}

	if _, ok := hub.SubDevice("sd-unknown"); ok {
		t.Fatalf("unknown sub-device should not materialize from a push entry")
	}
}

func TestAbsorbSystemAll_FansOutDigestSections(t *testing.T) {
	d := newPlainDevice(t, "uuid-1")

	raw, _ := json.Marshal(map[string]any{
		"all": map[string]any{
			"system": map[string]any{
				"hardware": map[string]any{"version": "1.0.1"},
				"firmware": map[string]any{"version": "2.0.1"},
				"online":   map[string]any{"status": registry.OnlineStatusOnline},
			},
			"digest": map[string]any{
				"togglex": map[string]any{"channel": 0, "onoff": 0},
			},
		},
	})

	if err := AbsorbSystemAll(d, raw); err != nil {
		t.Fatalf("AbsorbSystemAll: %v", err)
	}

	v, ok := d.State(feature.ToggleName, 0)
	if !ok {
		t.Fatalf("expected toggle state absorbed from digest")
	}
	if v.(feature.ToggleState).IsOn {
		t.Fatalf("expected channel turned off by digest, got %+v", v)
	}
}

func TestParse_ClassifiesGenericNamespace(t *testing.T) {
	n := Parse("uuid-1", rawMessage(common.MethodPUSH, "Appliance.Control.Unknown", map[string]any{}))
	if !n.Generic {
		t.Fatalf("expected unrouted namespace to be classified Generic")
	}

	n = Parse("uuid-1", rawMessage(common.MethodPUSH, "Appliance.RollerShutter.State", map[string]any{}))
	if n.Generic {
		t.Fatalf("expected roller namespace to be classified routable, not Generic")
	}
}
