// Package transport defines the narrow interface the command router
// (C5) uses to reach a device over either cloud MQTT (transport/mqtt)
// or LAN HTTP (transport/lan), mirroring the teacher's
// iotmodule/transport.Transport abstraction (one interface, multiple
// backends selected by the caller).
package transport

import (
	"context"

	"github.com/Doekse/merossiot-sub004/common"
)

// Kind identifies which transport handled (or should handle) a request.
type Kind string

const (
	KindMQTT Kind = "mqtt"
	KindLAN  Kind = "lan"
)

// Sender is the minimal surface the command router needs from a
// transport: send one signed envelope and wait for its reply.
type Sender interface {
	// Send publishes msg to uuid and blocks until either a reply with
	// a matching messageId arrives or ctx is done.
	Send(ctx context.Context, uuid string, msg common.Message) (common.Message, error)

	// Kind identifies this transport for error budgeting/logging.
	Kind() Kind
}
