package feature

import (
	"context"
	"encoding/json"

	"github.com/Doekse/merossiot-sub004/common"
)

// RollerName is the feature key for RollerShutter state/position.
const RollerName = "roller"

// Roller motor states, per the vendor's RollerShutter.State namespace.
const (
	RollerStateStopped = 0
	RollerStateOpening = 1
	RollerStateClosing = 2
)

// RollerState is the reduced per-channel state for RollerShutter, per
// SPEC_FULL.md's feature table: {state, position}.
type RollerState struct {
	State    int `json:"state"`
	Position int `json:"position"`
}

type rollerStateEntry struct {
	Channel int `json:"channel"`
	State   int `json:"state"`
}

type rollerPositionEntry struct {
	Channel  int `json:"channel"`
	Position int `json:"position"`
}

// GetRoller issues GETs for both RollerShutter.State and .Position and
// merges them into one reduced state.
func GetRoller(ctx context.Context, t Target, channel int) (RollerState, error) {
	st := rollerState(t, channel)

	stateMsg, err := t.Send(ctx, common.MethodGET, "Appliance.RollerShutter.State", nil)
	if err != nil {
		return RollerState{}, err
	}
	if raw, merr := json.Marshal(stateMsg.Payload); merr == nil {
		reduceRollerStateDigest(raw, channel, &st)
	}

	posMsg, err := t.Send(ctx, common.MethodGET, "Appliance.RollerShutter.Position", nil)
	if err != nil {
		return RollerState{}, err
	}
	if raw, merr := json.Marshal(posMsg.Payload); merr == nil {
		reduceRollerPositionDigest(raw, channel, &st)
	}

	apply(t, RollerName, channel, st, "response")
	return st, nil
}

// SetRollerState issues a SET for RollerShutter.State (open/close/stop).
func SetRollerState(ctx context.Context, t Target, channel, state int) error {
	payload := map[string]any{"state": rollerStateEntry{Channel: channel, State: state}}
	if _, err := t.Send(ctx, common.MethodSET, "Appliance.RollerShutter.State", payload); err != nil {
		return err
	}
	st := rollerState(t, channel)
	st.State = state
	apply(t, RollerName, channel, st, "command")
	return nil
}

// SetRollerPosition issues a SET for RollerShutter.Position.
func SetRollerPosition(ctx context.Context, t Target, channel, position int) error {
	payload := map[string]any{"position": rollerPositionEntry{Channel: channel, Position: position}}
	if _, err := t.Send(ctx, common.MethodSET, "Appliance.RollerShutter.Position", payload); err != nil {
		return err
	}
	st := rollerState(t, channel)
	st.Position = position
	apply(t, RollerName, channel, st, "command")
	return nil
}

// ReduceRoller reduces a PUSH for RollerShutter.State or .Position.
func ReduceRoller(t Target, namespace string, raw json.RawMessage, source string) {
	st := rollerState(t, 0)
	switch namespace {
	case "Appliance.RollerShutter.State":
		for _, entry := range asArray(raw) {
			var e rollerStateEntry
			if err := json.Unmarshal(entry, &e); err != nil {
				continue
			}
			st = rollerState(t, e.Channel)
			st.State = e.State
			apply(t, RollerName, e.Channel, st, source)
		}
	case "Appliance.RollerShutter.Position":
		for _, entry := range asArray(raw) {
			var e rollerPositionEntry
			if err := json.Unmarshal(entry, &e); err != nil {
				continue
			}
			st = rollerState(t, e.Channel)
			st.Position = e.Position
			apply(t, RollerName, e.Channel, st, source)
		}
	}
}

func reduceRollerStateDigest(raw json.RawMessage, channel int, st *RollerState) {
	var env struct {
		State json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	for _, entry := range asArray(env.State) {
		var e rollerStateEntry
		if err := json.Unmarshal(entry, &e); err == nil && e.Channel == channel {
			st.State = e.State
			return
		}
	}
}

func reduceRollerPositionDigest(raw json.RawMessage, channel int, st *RollerState) {
	var env struct {
		Position json.RawMessage `json:"position"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	for _, entry := range asArray(env.Position) {
		var e rollerPositionEntry
		if err := json.Unmarshal(entry, &e); err == nil && e.Channel == channel {
			st.Position = e.Position
			return
		}
	}
}

func rollerState(t Target, channel int) RollerState {
	v, ok := t.State(RollerName, channel)
	if !ok {
		return RollerState{}
	}
	st, _ := v.(RollerState)
	return st
}
