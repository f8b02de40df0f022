package feature

import (
	"context"
	"encoding/json"

	"github.com/Doekse/merossiot-sub004/common"
)

// HubTempHumName and HubSmokeName are the feature keys for the two
// hub-sensor sub-device families, per SPEC_FULL.md's feature table.
const (
	HubTempHumName = "hubTempHum"
	HubSmokeName   = "hubSmoke"
)

// HubTempHumState is the reduced state for an ms100* sub-device:
// {temperature, humidity}.
type HubTempHumState struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// HubSmokeState is the reduced state for an ma151 sub-device:
// {status, interConn}.
type HubSmokeState struct {
	Status    int  `json:"status"`
	InterConn bool `json:"interConn"`
}

type hubTempHumEntry struct {
	ID   string `json:"id"`
	Temp struct {
		Latest int `json:"latest"`
	} `json:"temperature"`
	Humi struct {
		Latest int `json:"latest"`
	} `json:"humidity"`
}

type hubSmokeEntry struct {
	ID        string `json:"id"`
	Status    int    `json:"status"`
	InterConn int    `json:"interConn"`
}

// GetHubTempHum issues a GET for Appliance.Hub.Sensor.TempHum against
// the owning hub; the hub dispatches the reply to the right
// sub-device by id, so only the channel-0 (master) cached value is
// meaningful on the returned Target.
func GetHubTempHum(ctx context.Context, t Target) (HubTempHumState, error) {
	msg, err := t.Send(ctx, common.MethodGET, "Appliance.Hub.Sensor.TempHum", nil)
	if err != nil {
		return HubTempHumState{}, err
	}
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return HubTempHumState{}, common.Wrap(common.KindParseError, err)
	}
	var env struct {
		TempHum json.RawMessage `json:"tempHum"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return HubTempHumState{}, common.Wrap(common.KindParseError, err)
	}
	for _, entry := range asArray(env.TempHum) {
		var e hubTempHumEntry
		if err := json.Unmarshal(entry, &e); err == nil {
			st := HubTempHumState{Temperature: float64(e.Temp.Latest) / 10, Humidity: float64(e.Humi.Latest) / 10}
			apply(t, HubTempHumName, 0, st, "response")
			return st, nil
		}
	}
	return HubTempHumState{}, common.New(common.KindParseError, "tempHum entry not present in response")
}

// ReduceHubTempHum reduces an Appliance.Hub.Sensor.TempHum PUSH,
// dispatching each entry to sink for its sub-device id (sink is the
// already-resolved SubDevice.Target; routing to the correct
// sub-device is the hub push parser's job, per spec §4.6).
func ReduceHubTempHum(sink Target, raw json.RawMessage, source string) {
	var e hubTempHumEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return
	}
	st := HubTempHumState{Temperature: float64(e.Temp.Latest) / 10, Humidity: float64(e.Humi.Latest) / 10}
	apply(sink, HubTempHumName, 0, st, source)
}

// ReduceHubSmoke reduces an Appliance.Hub.Sensor.Smoke PUSH entry
// already routed to the right sub-device.
func ReduceHubSmoke(sink Target, raw json.RawMessage, source string) {
	var e hubSmokeEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return
	}
	st := HubSmokeState{Status: e.Status, InterConn: e.InterConn != 0}
	apply(sink, HubSmokeName, 0, st, source)
}
