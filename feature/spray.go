package feature

import (
	"context"
	"encoding/json"

	"github.com/Doekse/merossiot-sub004/common"
)

// SprayName is the feature key for Appliance.Control.Spray (a plain
// humidifier/sprayer, distinct from the hub diffuser's spray
// sub-namespace).
const SprayName = "spray"

// SprayState is the reduced per-channel state for Spray: {mode}.
type SprayState struct {
	Mode int `json:"mode"`
}

type sprayEntry struct {
	Channel int `json:"channel"`
	Mode    int `json:"mode"`
}

// SetSpray issues a SET for Appliance.Control.Spray.
func SetSpray(ctx context.Context, t Target, channel, mode int) error {
	payload := map[string]any{"spray": sprayEntry{Channel: channel, Mode: mode}}
	if _, err := t.Send(ctx, common.MethodSET, "Appliance.Control.Spray", payload); err != nil {
		return err
	}
	apply(t, SprayName, channel, SprayState{Mode: mode}, "command")
	return nil
}

// ReduceSpray reduces a PUSH/digest section for Appliance.Control.Spray.
func ReduceSpray(t Target, raw json.RawMessage, source string) {
	for _, entry := range asArray(raw) {
		var e sprayEntry
		if err := json.Unmarshal(entry, &e); err != nil {
			continue
		}
		apply(t, SprayName, e.Channel, SprayState{Mode: e.Mode}, source)
	}
}
