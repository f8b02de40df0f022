package feature

import (
	"context"
	"encoding/json"

	"github.com/Doekse/merossiot-sub004/common"
)

// ElectricityName is the feature key for instantaneous power metering.
const ElectricityName = "electricity"

// ElectricityState is the reduced per-channel state for
// Appliance.Control.Electricity: instantaneous power/voltage/current,
// reported by the vendor in milliwatts/decivolts/milliamps and
// converted here to their natural units.
type ElectricityState struct {
	Power   float64 `json:"power"`
	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`
}

type electricityEntry struct {
	Channel int `json:"channel"`
	Power   int `json:"power"`
	Voltage int `json:"voltage"`
	Current int `json:"current"`
}

// GetElectricity issues a GET for Appliance.Control.Electricity and
// reduces the reply into the channel's cached state, for
// subscription.Manager's electricityInterval poll.
func GetElectricity(ctx context.Context, t Target, channel int) (ElectricityState, error) {
	msg, err := t.Send(ctx, common.MethodGET, "Appliance.Control.Electricity", nil)
	if err != nil {
		return ElectricityState{}, err
	}
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return ElectricityState{}, common.Wrap(common.KindParseError, err)
	}
	var env struct {
		Electricity json.RawMessage `json:"electricity"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return ElectricityState{}, common.Wrap(common.KindParseError, err)
	}
	var e electricityEntry
	if err := json.Unmarshal(env.Electricity, &e); err != nil {
		return ElectricityState{}, common.New(common.KindParseError, "electricity entry not present in response")
	}
	st := electricityFromEntry(e)
	apply(t, ElectricityName, channel, st, "response")
	return st, nil
}

// ReduceElectricity reduces a PUSH or System.All digest section for
// Electricity into the device's cached per-channel state.
func ReduceElectricity(t Target, raw json.RawMessage, source string) {
	for _, entry := range asArray(raw) {
		var e electricityEntry
		if err := json.Unmarshal(entry, &e); err != nil {
			continue
		}
		apply(t, ElectricityName, e.Channel, electricityFromEntry(e), source)
	}
}

func electricityFromEntry(e electricityEntry) ElectricityState {
	return ElectricityState{
		Power:   float64(e.Power) / 1000,
		Voltage: float64(e.Voltage) / 10,
		Current: float64(e.Current) / 1000,
	}
}
