package feature

import (
	"context"
	"encoding/json"

	"github.com/Doekse/merossiot-sub004/common"
)

// ConsumptionName is the feature key for daily energy consumption
// history, per Appliance.Control.ConsumptionX.
const ConsumptionName = "consumption"

// ConsumptionSample is one day's accumulated energy reading.
type ConsumptionSample struct {
	Date  string `json:"date"`
	Watts int    `json:"watt"`
}

// ConsumptionState is the reduced per-channel state: the most recent
// consumption history the device reported.
type ConsumptionState struct {
	Samples []ConsumptionSample `json:"samples"`
}

// GetConsumption issues a GET for Appliance.Control.ConsumptionX and
// replaces the channel's cached history, for
// subscription.Manager's consumptionInterval poll. The vendor
// namespace reports one rolling window per call rather than a
// per-channel array, so the whole history is swapped atomically.
func GetConsumption(ctx context.Context, t Target, channel int) (ConsumptionState, error) {
	msg, err := t.Send(ctx, common.MethodGET, "Appliance.Control.ConsumptionX", nil)
	if err != nil {
		return ConsumptionState{}, err
	}
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return ConsumptionState{}, common.Wrap(common.KindParseError, err)
	}
	var env struct {
		ConsumptionX []ConsumptionSample `json:"consumptionx"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return ConsumptionState{}, common.Wrap(common.KindParseError, err)
	}
	st := ConsumptionState{Samples: env.ConsumptionX}
	apply(t, ConsumptionName, channel, st, "response")
	return st, nil
}

// ReduceConsumption reduces a PUSH or System.All digest section for
// ConsumptionX into the device's cached state. The namespace reports a
// single rolling history rather than a per-channel array, so it is
// always stored under channel 0.
func ReduceConsumption(t Target, raw json.RawMessage, source string) {
	var samples []ConsumptionSample
	if err := json.Unmarshal(raw, &samples); err != nil {
		return
	}
	apply(t, ConsumptionName, 0, ConsumptionState{Samples: samples}, source)
}
