package feature

import (
	"context"
	"encoding/json"

	"github.com/Doekse/merossiot-sub004/common"
)

// LightName is the feature key for Appliance.Control.Light state.
const LightName = "light"

// LightState is the reduced per-channel state for Light, per
// SPEC_FULL.md's feature table: {isOn, brightness, mode, rgb}.
type LightState struct {
	IsOn       bool `json:"isOn"`
	Brightness int  `json:"brightness"`
	Mode       int  `json:"mode"`
	RGB        int  `json:"rgb"`
}

type lightEntry struct {
	Channel     int  `json:"channel"`
	Onoff       *int `json:"onoff,omitempty"`
	Luminance   *int `json:"luminance,omitempty"`
	Temperature *int `json:"temperature,omitempty"`
	RGB         *int `json:"rgb,omitempty"`
}

// LightParams are the settable fields of a Light SET; a nil pointer
// leaves the corresponding device field unchanged.
type LightParams struct {
	IsOn       *bool
	Brightness *int
	Mode       *int
	RGB        *int
}

// GetLight issues a GET for Appliance.Control.Light and reduces the
// reply into channel's cached state.
func GetLight(ctx context.Context, t Target, channel int) (LightState, error) {
	msg, err := t.Send(ctx, common.MethodGET, "Appliance.Control.Light", nil)
	if err != nil {
		return LightState{}, err
	}
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return LightState{}, common.Wrap(common.KindParseError, err)
	}
	old := lightState(t, channel)
	st, ok := reduceLightDigest(raw, channel, old)
	if !ok {
		return LightState{}, common.New(common.KindParseError, "light channel not present in response")
	}
	apply(t, LightName, channel, st, "response")
	return st, nil
}

// SetLight issues a SET for Appliance.Control.Light, sending only the
// fields present in params and applying them to the cached state on
// success.
func SetLight(ctx context.Context, t Target, channel int, params LightParams) error {
	entry := map[string]any{"channel": channel}
	st := lightState(t, channel)
	if params.IsOn != nil {
		entry["onoff"] = boolToInt(*params.IsOn)
		st.IsOn = *params.IsOn
	}
	if params.Brightness != nil {
		entry["luminance"] = *params.Brightness
		st.Brightness = *params.Brightness
	}
	if params.Mode != nil {
		entry["temperature"] = *params.Mode
		st.Mode = *params.Mode
	}
	if params.RGB != nil {
		entry["rgb"] = *params.RGB
		st.RGB = *params.RGB
	}
	payload := map[string]any{"light": entry}
	if _, err := t.Send(ctx, common.MethodSET, "Appliance.Control.Light", payload); err != nil {
		return err
	}
	apply(t, LightName, channel, st, "command")
	return nil
}

// ReduceLight reduces a PUSH or System.All digest section for Light
// into the device's cached per-channel state, preserving fields not
// present in the notification, per spec §4.6.
func ReduceLight(t Target, raw json.RawMessage, source string) {
	for _, entry := range asArray(raw) {
		var e lightEntry
		if err := json.Unmarshal(entry, &e); err != nil {
			continue
		}
		st := mergeLightEntry(lightState(t, e.Channel), e)
		apply(t, LightName, e.Channel, st, source)
	}
}

func reduceLightDigest(raw json.RawMessage, channel int, old LightState) (LightState, bool) {
	var env struct {
		Light json.RawMessage `json:"light"`
		All   struct {
			Digest struct {
				Light json.RawMessage `json:"light"`
			} `json:"digest"`
		} `json:"all"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return LightState{}, false
	}
	for _, c := range []json.RawMessage{env.Light, env.All.Digest.Light} {
		for _, entry := range asArray(c) {
			var e lightEntry
			if err := json.Unmarshal(entry, &e); err == nil && e.Channel == channel {
				return mergeLightEntry(old, e), true
			}
		}
	}
	return LightState{}, false
}

func mergeLightEntry(old LightState, e lightEntry) LightState {
	st := old
	if e.Onoff != nil {
		st.IsOn = *e.Onoff != 0
	}
	if e.Luminance != nil {
		st.Brightness = *e.Luminance
	}
	if e.Temperature != nil {
		st.Mode = *e.Temperature
	}
	if e.RGB != nil {
		st.RGB = *e.RGB
	}
	return st
}

func lightState(t Target, channel int) LightState {
	v, ok := t.State(LightName, channel)
	if !ok {
		return LightState{}
	}
	st, _ := v.(LightState)
	return st
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
