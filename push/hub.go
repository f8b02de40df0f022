package push

import (
	"encoding/json"
	"strings"

	"github.com/Doekse/merossiot-sub004/feature"
	"github.com/Doekse/merossiot-sub004/logx"
	"github.com/Doekse/merossiot-sub004/registry"
)

// hubEntry is the minimal shape every Hub.* push entry carries: a
// sub-device id. The rest of the entry is namespace-specific and
// handled by the matching feature reducer.
type hubEntry struct {
	ID string `json:"id"`
}

// hubReduceFunc applies one already-routed entry to a SubDevice.
type hubReduceFunc func(sink feature.Target, raw json.RawMessage, source string)

var hubDispatchTable = map[string]struct {
	section string
	reduce  hubReduceFunc
}{
	"Appliance.Hub.Sensor.TempHum": {"tempHum", feature.ReduceHubTempHum},
	"Appliance.Hub.Sensor.Smoke":   {"smokeAlarm", feature.ReduceHubSmoke},
	"Appliance.Hub.Mts100.All":     {"all", feature.ReduceMts100All},
}

// isHubNamespace reports whether namespace is one of the
// Appliance.Hub.* families routed per-sub-device.
func isHubNamespace(namespace string) bool {
	return strings.HasPrefix(namespace, "Appliance.Hub.") && namespace != "Appliance.Hub.SubdeviceList"
}

// reduceHub extracts each sub-device entry from a Hub.* push payload
// and dispatches it to the matching SubDevice's cached state. Entries
// naming a sub-device id the hub doesn't know about are dropped after
// a warning, per spec §4.6.
func reduceHub(logger logx.Logger, hub *registry.Device, namespace string, payload json.RawMessage, source string) {
	spec, ok := hubDispatchTable[namespace]
	if !ok {
		logger.Debugf("no hub reducer for namespace %s on hub %s", namespace, hub.UUID())
		return
	}

	section := extractSection(payload, spec.section)
	for _, raw := range splitHubEntries(section) {
		var e hubEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		sub, found := hub.SubDevice(e.ID)
		if !found {
			logger.Warnf("hub %s reported entry for unknown sub-device %s (namespace=%s), dropping", hub.UUID(), e.ID, namespace)
			continue
		}
		spec.reduce(sub, raw, source)
	}
}

// splitHubEntries normalizes a Hub.* payload section (object or array
// of per-sub-device entries) into individual raw entries.
func splitHubEntries(raw json.RawMessage) []json.RawMessage {
	trimmed := bytesTrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil
		}
		return arr
	}
	return []json.RawMessage{trimmed}
}

func bytesTrimSpace(raw json.RawMessage) json.RawMessage {
	start, end := 0, len(raw)
	for start < end && isWhitespace(raw[start]) {
		start++
	}
	for end > start && isWhitespace(raw[end-1]) {
		end--
	}
	return raw[start:end]
}

func isWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
