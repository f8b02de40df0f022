// Package push implements the push notification parser and state
// reducer (C8): every inbound non-reply MQTT message is turned into a
// typed PushNotification, normalized, routed to the owning Device or
// SubDevice, and reduced into that entity's per-channel cached state
// through the matching feature.Reduce* function, per spec §4.6.
package push

import (
	"encoding/json"

	"github.com/Doekse/merossiot-sub004/common"
)

// PushNotification is a typed, namespace-classified inbound device
// message. Namespaces the reducer has no handler for become Generic
// rather than being dropped, so callers can still observe them.
type PushNotification struct {
	UUID      string
	Namespace string
	Method    common.Method
	Payload   json.RawMessage
	Generic   bool
}

// Parse builds a PushNotification from a raw inbound message already
// addressed to uuid (the mqtt.Dispatcher contract hands the uuid and
// message separately, since the topic — not the envelope — carries it
// for some firmwares).
func Parse(uuid string, raw common.RawMessage) PushNotification {
	_, known := dispatchTable[raw.Header.Namespace]
	routable := known ||
		raw.Header.Namespace == onlineNamespace ||
		isHubNamespace(raw.Header.Namespace) ||
		rollerNamespaces[raw.Header.Namespace]
	return PushNotification{
		UUID:      uuid,
		Namespace: raw.Header.Namespace,
		Method:    raw.Header.Method,
		Payload:   raw.Payload,
		Generic:   !routable,
	}
}
