package feature

import (
	"context"
	"encoding/json"

	"github.com/Doekse/merossiot-sub004/common"
)

// ToggleName is the feature key used for both Appliance.Control.Toggle
// and Appliance.Control.ToggleX state, per SPEC_FULL.md's feature
// table — the two namespaces project onto the same {isOn} shape and
// ability composition ensures only one of them is ever live on a
// given device.
const ToggleName = "toggle"

// ToggleState is the reduced per-channel state for Toggle/ToggleX.
type ToggleState struct {
	IsOn bool `json:"isOn"`
}

type toggleEntry struct {
	Channel int `json:"channel"`
	Onoff   int `json:"onoff"`
}

// ToggleNamespace reports which of Toggle/ToggleX a device actually
// exposes, given its composed ability set — X wins when both are
// present, but composeAbilities already dropped the base in that case,
// so a caller only ever needs to check ToggleX first.
func ToggleNamespace(hasX bool) string {
	if hasX {
		return "Appliance.Control.ToggleX"
	}
	return "Appliance.Control.Toggle"
}

// GetToggle issues a GET for namespace (Toggle or ToggleX) and reduces
// the reply into the channel's cached state.
func GetToggle(ctx context.Context, t Target, namespace string, channel int) (ToggleState, error) {
	msg, err := t.Send(ctx, common.MethodGET, namespace, nil)
	if err != nil {
		return ToggleState{}, err
	}
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return ToggleState{}, common.Wrap(common.KindParseError, err)
	}
	st, ok := reduceToggleDigest(raw, channel)
	if !ok {
		return ToggleState{}, common.New(common.KindParseError, "toggle channel not present in response")
	}
	apply(t, ToggleName, channel, st, "response")
	return st, nil
}

// SetToggle issues a SET for namespace turning channel on or off, and
// optimistically applies the new state once the device acknowledges.
func SetToggle(ctx context.Context, t Target, namespace string, channel int, isOn bool) error {
	onoff := 0
	if isOn {
		onoff = 1
	}
	payload := map[string]any{"togglex": toggleEntry{Channel: channel, Onoff: onoff}}
	if namespace == "Appliance.Control.Toggle" {
		payload = map[string]any{"toggle": toggleEntry{Channel: channel, Onoff: onoff}}
	}
	if _, err := t.Send(ctx, common.MethodSET, namespace, payload); err != nil {
		return err
	}
	apply(t, ToggleName, channel, ToggleState{IsOn: isOn}, "command")
	return nil
}

// ReduceToggle reduces a PUSH or System.All digest section for
// Toggle/ToggleX into the device's cached per-channel state, per spec
// §4.6. source is "push" or "response".
func ReduceToggle(t Target, raw json.RawMessage, source string) {
	for _, entry := range asArray(raw) {
		var e toggleEntry
		if err := json.Unmarshal(entry, &e); err != nil {
			continue
		}
		apply(t, ToggleName, e.Channel, ToggleState{IsOn: e.Onoff != 0}, source)
	}
}

func reduceToggleDigest(raw json.RawMessage, channel int) (ToggleState, bool) {
	var env struct {
		Togglex json.RawMessage `json:"togglex"`
		Toggle  json.RawMessage `json:"toggle"`
		All     struct {
			Digest struct {
				Togglex json.RawMessage `json:"togglex"`
				Toggle  json.RawMessage `json:"toggle"`
			} `json:"digest"`
		} `json:"all"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return ToggleState{}, false
	}
	candidates := []json.RawMessage{env.Togglex, env.Toggle, env.All.Digest.Togglex, env.All.Digest.Toggle}
	for _, c := range candidates {
		for _, entry := range asArray(c) {
			var e toggleEntry
			if err := json.Unmarshal(entry, &e); err == nil && e.Channel == channel {
				return ToggleState{IsOn: e.Onoff != 0}, true
			}
		}
	}
	return ToggleState{}, false
}
