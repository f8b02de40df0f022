package feature

import (
	"context"
	"encoding/json"

	"github.com/Doekse/merossiot-sub004/common"
)

// Mts100Name is the feature key for an mts100v3 thermostat valve
// sub-device, per SPEC_FULL.md's feature table.
const Mts100Name = "mts100"

// Mts100 valve states, as reported by Appliance.Hub.Mts100.All.
const (
	Mts100ValveClosed = 0
	Mts100ValveOpen   = 1
)

// Mts100State is the reduced state for an mts100v3 sub-device:
// {mode, targetTemp, currentTemp, valveState}.
type Mts100State struct {
	Mode        int     `json:"mode"`
	TargetTemp  float64 `json:"targetTemp"`
	CurrentTemp float64 `json:"currentTemp"`
	ValveState  int     `json:"valveState"`
}

type mts100AllEntry struct {
	ID   string `json:"id"`
	Mode struct {
		State int `json:"state"`
	} `json:"mode"`
	Temperature struct {
		Room       int `json:"room"`
		CurrentSet int `json:"currentSet"`
		Custom     int `json:"custom"`
	} `json:"temperature"`
	Togglex struct {
		Onoff int `json:"onoff"`
	} `json:"togglex"`
}

// Mts100Params are the settable fields of an Appliance.Hub.Mts100.*
// command set.
type Mts100Params struct {
	Mode       *int
	TargetTemp *float64
}

// SetMts100 issues a SET for Appliance.Hub.Mts100.Mode/.Temperature
// (whichever params requires), addressed by the sub-device's id.
func SetMts100(ctx context.Context, t Target, subDeviceID string, params Mts100Params) error {
	if params.Mode != nil {
		payload := map[string]any{"mode": []map[string]any{{"id": subDeviceID, "state": *params.Mode}}}
		if _, err := t.Send(ctx, common.MethodSET, "Appliance.Hub.Mts100.Mode", payload); err != nil {
			return err
		}
	}
	if params.TargetTemp != nil {
		tenths := int(*params.TargetTemp * 10)
		payload := map[string]any{"temperature": []map[string]any{{"id": subDeviceID, "custom": tenths}}}
		if _, err := t.Send(ctx, common.MethodSET, "Appliance.Hub.Mts100.Temperature", payload); err != nil {
			return err
		}
	}
	st := mts100State(t)
	if params.Mode != nil {
		st.Mode = *params.Mode
	}
	if params.TargetTemp != nil {
		st.TargetTemp = *params.TargetTemp
	}
	apply(t, Mts100Name, 0, st, "command")
	return nil
}

// ReduceMts100All reduces one Appliance.Hub.Mts100.All entry already
// routed to the right sub-device.
func ReduceMts100All(sink Target, raw json.RawMessage, source string) {
	var e mts100AllEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return
	}
	st := Mts100State{
		Mode:        e.Mode.State,
		TargetTemp:  float64(e.Temperature.CurrentSet) / 10,
		CurrentTemp: float64(e.Temperature.Room) / 10,
		ValveState:  e.Togglex.Onoff,
	}
	apply(sink, Mts100Name, 0, st, source)
}

func mts100State(t Target) Mts100State {
	v, ok := t.State(Mts100Name, 0)
	if !ok {
		return Mts100State{}
	}
	st, _ := v.(Mts100State)
	return st
}
