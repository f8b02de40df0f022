package push

import (
	"encoding/json"
	"time"

	"github.com/Doekse/merossiot-sub004/registry"
)

// AbsorbSystemAll applies a full Appliance.System.All response to
// device — updating its hardware/firmware/online metadata — and routes
// every digest section it contains to the matching feature reducer
// with source="response", per spec §4.6. Callers are the subscription
// manager (C9, on each device-state poll tick) and registry.Initialize
// (directly, via Device.AbsorbSystemAll, without needing this fan-out
// since a freshly constructed Device has no prior per-feature state to
// reconcile against external callers).
func AbsorbSystemAll(device *registry.Device, raw json.RawMessage) error {
	digest, err := device.AbsorbSystemAll(raw, time.Now())
	if err != nil {
		return err
	}
	if len(digest) == 0 {
		return nil
	}

	var sections map[string]json.RawMessage
	if err := json.Unmarshal(digest, &sections); err != nil {
		return nil
	}
	for key, raw := range sections {
		namespace, ok := namespaceForSection(key)
		if !ok {
			continue
		}
		if fn, ok := dispatchTable[namespace]; ok {
			fn(device, raw, "response")
		}
	}
	return nil
}

// namespaceForSection is the inverse of sectionKey for the digest keys
// actually observed in Appliance.System.All responses.
func namespaceForSection(key string) (string, bool) {
	switch key {
	case "togglex":
		return "Appliance.Control.ToggleX", true
	case "toggle":
		return "Appliance.Control.Toggle", true
	case "light":
		return "Appliance.Control.Light", true
	case "mode":
		return "Appliance.Control.Thermostat.Mode", true
	case "garageDoor":
		return "Appliance.GarageDoor.State", true
	case "diffuser":
		return "Appliance.Control.Diffuser.Light", true
	case "spray":
		return "Appliance.Control.Spray", true
	case "timer":
		return "Appliance.Control.Timer", true
	case "trigger":
		return "Appliance.Control.Trigger", true
	case "electricity":
		return "Appliance.Control.Electricity", true
	case "consumptionx":
		return "Appliance.Control.ConsumptionX", true
	default:
		return "", false
	}
}
