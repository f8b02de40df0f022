package meross

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/Doekse/merossiot-sub004/common"
	"github.com/Doekse/merossiot-sub004/httpapi"
	"github.com/Doekse/merossiot-sub004/subscription"
)

func TestConvertDeviceDescriptor_MapsVendorFieldNames(t *testing.T) {
	in := httpapi.DeviceDescriptor{
		UUID: "uuid-1", DevName: "Plug", DeviceType: "mss310", SubType: "us",
		HardwareVersion: "1.0.0", FirmwareVersion: "2.0.0", OnlineStatus: 1,
		Domain: "iotx.meross.com", ReservedDomain: "iotx2.meross.com", DeviceClass: "mss310",
	}
	out := convertDeviceDescriptor(in)
	if out.UUID != in.UUID || out.Name != in.DevName || out.Type != in.DeviceType ||
		out.HardwareVersion != in.HardwareVersion || out.FirmwareVersion != in.FirmwareVersion ||
		out.OnlineStatus != in.OnlineStatus || out.Domain != in.Domain ||
		out.ReservedDomain != in.ReservedDomain || out.DeviceClass != in.DeviceClass {
		t.Fatalf("field mismatch: in=%+v out=%+v", in, out)
	}
}

func TestConvertSubDeviceDescriptor_MapsFields(t *testing.T) {
	in := httpapi.SubDeviceDescriptor{SubDeviceID: "1", SubDeviceType: "ms100", SubDeviceName: "Sensor", SubDeviceIcon: "icon"}
	out := convertSubDeviceDescriptor(in)
	if out.SubDeviceID != in.SubDeviceID || out.SubDeviceType != in.SubDeviceType ||
		out.SubDeviceName != in.SubDeviceName || out.SubDeviceIcon != in.SubDeviceIcon {
		t.Fatalf("field mismatch: in=%+v out=%+v", in, out)
	}
}

// fakeDoer answers /v1/Device/devList with a single device listing,
// regardless of the request body.
type fakeDoer struct{}

func (fakeDoer) Do(req *http.Request) (*http.Response, error) {
	body, _ := json.Marshal(map[string]any{
		"apiStatus": 0,
		"data": []httpapi.DeviceDescriptor{
			{UUID: "uuid-1", DevName: "Plug", DeviceType: "mss310"},
		},
	})
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(body)), Header: make(http.Header)}, nil
}

func TestHTTPLister_ListDevicesConvertsDescriptors(t *testing.T) {
	client := httpapi.New(common.Credentials{HTTPDomain: "example.meross.com"}, httpapi.WithHTTPDoer(fakeDoer{}), httpapi.WithTimeout(time.Second))
	lister := httpLister{client: client}

	devices, err := lister.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 1 || devices[0].UUID != "uuid-1" || devices[0].Name != "Plug" {
		t.Fatalf("unexpected devices: %+v", devices)
	}
}

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManagerFromTokenData(TokenData{
		Token: "tok", Key: "key", UserID: "u1", UserEmail: "a@b.com",
		Domain: "example.meross.com", MQTTDomain: "mqtt.example.meross.com",
		IssuedOn: time.Unix(1000, 0).UTC(),
	})
	if err != nil {
		t.Fatalf("NewManagerFromTokenData: %v", err)
	}
	return m
}

func TestTokenData_RoundTripsThroughManager(t *testing.T) {
	want := TokenData{
		Token: "tok", Key: "key", UserID: "u1", UserEmail: "a@b.com",
		Domain: "example.meross.com", MQTTDomain: "mqtt.example.meross.com",
		IssuedOn: time.Unix(1000, 0).UTC(),
	}
	m, err := NewManagerFromTokenData(want)
	if err != nil {
		t.Fatalf("NewManagerFromTokenData: %v", err)
	}
	got := m.TokenData()
	if got != want {
		t.Fatalf("TokenData() = %+v, want %+v", got, want)
	}
}

func TestManager_HandleConnectDistinguishesFirstFromReconnect(t *testing.T) {
	m := testManager(t)
	var events []string
	m.On("connected", func(any) { events = append(events, "connected") })
	m.On("reconnect", func(any) { events = append(events, "reconnect") })

	m.handleConnect()
	m.handleConnect()

	if len(events) != 2 || events[0] != "connected" || events[1] != "reconnect" {
		t.Fatalf("unexpected event sequence: %v", events)
	}
}

func TestManager_HandleConnectionLostEmitsDisconnected(t *testing.T) {
	m := testManager(t)
	var got error
	m.On("disconnected", func(payload any) { got, _ = payload.(error) })

	boom := common.New(common.KindNetworkTimeout, "boom")
	m.handleConnectionLost(boom)

	if got != boom {
		t.Fatalf("expected disconnected payload %v, got %v", boom, got)
	}
}

func TestManager_SubscribeUnknownDeviceReturnsNotFound(t *testing.T) {
	m := testManager(t)
	err := m.Subscribe("missing-uuid", subscription.Config{})
	if common.KindOf(err) != common.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestManager_SendCommandEmitsRawSendDataBeforeSending(t *testing.T) {
	m := testManager(t)
	var payload any
	m.On("rawSendData", func(p any) { payload = p })

	_, _ = m.SendCommand(context.Background(), "uuid-1", common.MethodGET, "Appliance.System.All", nil)

	fields, ok := payload.(map[string]any)
	if !ok {
		t.Fatalf("expected a map payload, got %T", payload)
	}
	if fields["uuid"] != "uuid-1" || fields["namespace"] != "Appliance.System.All" {
		t.Fatalf("unexpected rawSendData payload: %+v", fields)
	}
}
