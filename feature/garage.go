package feature

import (
	"context"
	"encoding/json"

	"github.com/Doekse/merossiot-sub004/common"
)

// GarageName is the feature key for GarageDoor.State.
const GarageName = "garage"

// GarageState is the reduced per-channel state for GarageDoor.
type GarageState struct {
	Open bool `json:"open"`
}

type garageEntry struct {
	Channel int `json:"channel"`
	Open    int `json:"open"`
}

// GetGarage issues a GET for Appliance.GarageDoor.State.
func GetGarage(ctx context.Context, t Target, channel int) (GarageState, error) {
	msg, err := t.Send(ctx, common.MethodGET, "Appliance.GarageDoor.State", nil)
	if err != nil {
		return GarageState{}, err
	}
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return GarageState{}, common.Wrap(common.KindParseError, err)
	}
	var env struct {
		State json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return GarageState{}, common.Wrap(common.KindParseError, err)
	}
	for _, entry := range asArray(env.State) {
		var e garageEntry
		if err := json.Unmarshal(entry, &e); err == nil && e.Channel == channel {
			st := GarageState{Open: e.Open != 0}
			apply(t, GarageName, channel, st, "response")
			return st, nil
		}
	}
	return GarageState{}, common.New(common.KindParseError, "garage channel not present in response")
}

// SetGarage issues a SET to open or close channel.
func SetGarage(ctx context.Context, t Target, channel int, open bool) error {
	payload := map[string]any{"state": garageEntry{Channel: channel, Open: boolToInt(open)}}
	if _, err := t.Send(ctx, common.MethodSET, "Appliance.GarageDoor.State", payload); err != nil {
		return err
	}
	apply(t, GarageName, channel, GarageState{Open: open}, "command")
	return nil
}

// ReduceGarage reduces a PUSH for GarageDoor.State.
func ReduceGarage(t Target, raw json.RawMessage, source string) {
	for _, entry := range asArray(raw) {
		var e garageEntry
		if err := json.Unmarshal(entry, &e); err != nil {
			continue
		}
		apply(t, GarageName, e.Channel, GarageState{Open: e.Open != 0}, source)
	}
}
