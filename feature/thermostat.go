package feature

import (
	"context"
	"encoding/json"

	"github.com/Doekse/merossiot-sub004/common"
)

// ThermostatName is the feature key for Appliance.Control.Thermostat.Mode.
const ThermostatName = "thermostat"

// ThermostatState is the reduced per-channel state for
// Thermostat.Mode, per SPEC_FULL.md's feature table.
type ThermostatState struct {
	Mode          int     `json:"mode"`
	State         int     `json:"state"`
	TargetTemp    float64 `json:"targetTemp"`
	CurrentTemp   float64 `json:"currentTemp"`
}

type thermostatEntry struct {
	Channel int  `json:"channel"`
	Mode    *int `json:"mode,omitempty"`
	OnOff   *int `json:"onoff,omitempty"`
	// Target/current temperatures are reported in tenths of a degree.
	TargetTemp *int `json:"targetTemp,omitempty"`
	Current    *int `json:"currentTemp,omitempty"`
}

// ThermostatParams are the settable fields of a Thermostat.Mode SET.
type ThermostatParams struct {
	Mode       *int
	On         *bool
	TargetTemp *float64
}

// GetThermostat issues a GET for Appliance.Control.Thermostat.Mode.
func GetThermostat(ctx context.Context, t Target, channel int) (ThermostatState, error) {
	msg, err := t.Send(ctx, common.MethodGET, "Appliance.Control.Thermostat.Mode", nil)
	if err != nil {
		return ThermostatState{}, err
	}
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return ThermostatState{}, common.Wrap(common.KindParseError, err)
	}
	st, ok := reduceThermostatDigest(raw, channel, thermostatState(t, channel))
	if !ok {
		return ThermostatState{}, common.New(common.KindParseError, "thermostat channel not present in response")
	}
	apply(t, ThermostatName, channel, st, "response")
	return st, nil
}

// SetThermostat issues a SET for Appliance.Control.Thermostat.Mode.
func SetThermostat(ctx context.Context, t Target, channel int, params ThermostatParams) error {
	entry := map[string]any{"channel": channel}
	st := thermostatState(t, channel)
	if params.Mode != nil {
		entry["mode"] = *params.Mode
		st.Mode = *params.Mode
	}
	if params.On != nil {
		entry["onoff"] = boolToInt(*params.On)
	}
	if params.TargetTemp != nil {
		tenths := int(*params.TargetTemp * 10)
		entry["targetTemp"] = tenths
		st.TargetTemp = *params.TargetTemp
	}
	payload := map[string]any{"mode": entry}
	if _, err := t.Send(ctx, common.MethodSET, "Appliance.Control.Thermostat.Mode", payload); err != nil {
		return err
	}
	apply(t, ThermostatName, channel, st, "command")
	return nil
}

// ReduceThermostat reduces a PUSH or System.All digest section for
// Thermostat.Mode into the device's cached state.
func ReduceThermostat(t Target, raw json.RawMessage, source string) {
	for _, entry := range asArray(raw) {
		var e thermostatEntry
		if err := json.Unmarshal(entry, &e); err != nil {
			continue
		}
		st := mergeThermostatEntry(thermostatState(t, e.Channel), e)
		apply(t, ThermostatName, e.Channel, st, source)
	}
}

func reduceThermostatDigest(raw json.RawMessage, channel int, old ThermostatState) (ThermostatState, bool) {
	var env struct {
		Mode json.RawMessage `json:"mode"`
		All  struct {
			Digest struct {
				Mode json.RawMessage `json:"mode"`
			} `json:"digest"`
		} `json:"all"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return ThermostatState{}, false
	}
	for _, c := range []json.RawMessage{env.Mode, env.All.Digest.Mode} {
		for _, entry := range asArray(c) {
			var e thermostatEntry
			if err := json.Unmarshal(entry, &e); err == nil && e.Channel == channel {
				return mergeThermostatEntry(old, e), true
			}
		}
	}
	return ThermostatState{}, false
}

func mergeThermostatEntry(old ThermostatState, e thermostatEntry) ThermostatState {
	st := old
	if e.Mode != nil {
		st.Mode = *e.Mode
	}
	if e.OnOff != nil {
		st.State = *e.OnOff
	}
	if e.TargetTemp != nil {
		st.TargetTemp = float64(*e.TargetTemp) / 10
	}
	if e.Current != nil {
		st.CurrentTemp = float64(*e.Current) / 10
	}
	return st
}

func thermostatState(t Target, channel int) ThermostatState {
	v, ok := t.State(ThermostatName, channel)
	if !ok {
		return ThermostatState{}
	}
	st, _ := v.(ThermostatState)
	return st
}
