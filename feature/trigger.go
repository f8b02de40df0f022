package feature

import (
	"context"
	"encoding/json"

	"github.com/Doekse/merossiot-sub004/common"
)

// TriggerName is the feature key for Appliance.Control.Trigger*.
const TriggerName = "trigger"

// TriggerEntry is one configured automation rule (sensor threshold
// or schedule firing a scene/command).
type TriggerEntry struct {
	ID      int    `json:"id"`
	Enable  bool   `json:"enable"`
	Channel int    `json:"channel"`
	Kind    string `json:"type"`
}

// TriggerState is the reduced per-device state for Trigger*: the full
// configured rule set, mirroring TimerState's whole-set-at-once shape.
type TriggerState struct {
	Entries []TriggerEntry `json:"entries"`
}

type triggerWireEntry struct {
	ID      int    `json:"id"`
	Enable  int    `json:"enable"`
	Channel int    `json:"channel"`
	Type    string `json:"type"`
}

// GetTrigger issues a GET for Appliance.Control.Trigger.
func GetTrigger(ctx context.Context, t Target) (TriggerState, error) {
	msg, err := t.Send(ctx, common.MethodGET, "Appliance.Control.Trigger", nil)
	if err != nil {
		return TriggerState{}, err
	}
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return TriggerState{}, common.Wrap(common.KindParseError, err)
	}
	st, ok := reduceTriggerDigest(raw)
	if !ok {
		return TriggerState{}, common.New(common.KindParseError, "trigger entries not present in response")
	}
	apply(t, TriggerName, 0, st, "response")
	return st, nil
}

// SetTrigger issues a SET replacing the full Trigger rule set.
func SetTrigger(ctx context.Context, t Target, entries []TriggerEntry) error {
	wire := make([]triggerWireEntry, len(entries))
	for i, e := range entries {
		wire[i] = triggerWireEntry{ID: e.ID, Enable: boolToInt(e.Enable), Channel: e.Channel, Type: e.Kind}
	}
	payload := map[string]any{"trigger": wire}
	if _, err := t.Send(ctx, common.MethodSET, "Appliance.Control.Trigger", payload); err != nil {
		return err
	}
	apply(t, TriggerName, 0, TriggerState{Entries: entries}, "command")
	return nil
}

// ReduceTrigger reduces a PUSH for Appliance.Control.Trigger.
func ReduceTrigger(t Target, raw json.RawMessage, source string) {
	st, ok := reduceTriggerDigest(raw)
	if !ok {
		return
	}
	apply(t, TriggerName, 0, st, source)
}

func reduceTriggerDigest(raw json.RawMessage) (TriggerState, bool) {
	var env struct {
		Trigger json.RawMessage `json:"trigger"`
		All     struct {
			Digest struct {
				Trigger json.RawMessage `json:"trigger"`
			} `json:"digest"`
		} `json:"all"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return TriggerState{}, false
	}
	src := env.Trigger
	if len(src) == 0 {
		src = env.All.Digest.Trigger
	}
	if len(src) == 0 {
		return TriggerState{}, false
	}
	var wire []triggerWireEntry
	if err := json.Unmarshal(src, &wire); err != nil {
		return TriggerState{}, false
	}
	entries := make([]TriggerEntry, len(wire))
	for i, w := range wire {
		entries[i] = TriggerEntry{ID: w.ID, Enable: w.Enable != 0, Channel: w.Channel, Kind: w.Type}
	}
	return TriggerState{Entries: entries}, true
}
