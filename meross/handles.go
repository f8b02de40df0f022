package meross

import (
	"context"
	"sync"

	"github.com/Doekse/merossiot-sub004/common"
	mqtttransport "github.com/Doekse/merossiot-sub004/transport/mqtt"
)

// routerHandle, dispatcherHandle, and encryptionKeysHandle break the
// three construction-order cycles in build(): registry.Registry needs
// a registry.Commander (the router) before the router exists (the
// router itself needs the registry as its LANResolver);
// transport/mqtt.Session needs a Dispatcher (the push reducer) before
// the reducer exists (the reducer needs the registry, which needs the
// session as its Subscriber); and both transport/mqtt.Session and
// transport/lan.Transport need the registry's per-device encryption
// key lookup before the registry exists (same Subscriber dependency).
// Each handle is constructed empty, handed to the component that needs
// it up front, and pointed at the real implementation once build()
// finishes wiring everything else — exactly the indirection spec §9
// describes as "an opaque handle" breaking a circular reference,
// applied here at the registry/router/session boundary rather than at
// the device/manager one (registry's existing Commander/EventSink
// narrow interfaces already cover that one, see DESIGN.md).

type routerHandle struct {
	mu sync.RWMutex
	r  commander
}

type commander interface {
	Send(ctx context.Context, uuid string, method common.Method, namespace string, payload any) (common.Message, error)
}

func (h *routerHandle) set(r commander) {
	h.mu.Lock()
	h.r = r
	h.mu.Unlock()
}

func (h *routerHandle) Send(ctx context.Context, uuid string, method common.Method, namespace string, payload any) (common.Message, error) {
	h.mu.RLock()
	r := h.r
	h.mu.RUnlock()
	return r.Send(ctx, uuid, method, namespace, payload)
}

// encryptionKeysHandle breaks a third construction-order cycle: both
// transport/mqtt.Session and transport/lan.Transport need the
// registry's per-device AES key lookup before the registry exists (the
// registry needs the session as its Subscriber).
type encryptionKeysHandle struct {
	mu   sync.RWMutex
	keys encryptionKeys
}

type encryptionKeys interface {
	EncryptionKey(uuid string) (string, bool)
}

func (h *encryptionKeysHandle) set(k encryptionKeys) {
	h.mu.Lock()
	h.keys = k
	h.mu.Unlock()
}

func (h *encryptionKeysHandle) EncryptionKey(uuid string) (string, bool) {
	h.mu.RLock()
	k := h.keys
	h.mu.RUnlock()
	if k == nil {
		return "", false
	}
	return k.EncryptionKey(uuid)
}

type dispatcherHandle struct {
	mu sync.RWMutex
	d  mqtttransport.Dispatcher
}

func (h *dispatcherHandle) set(d mqtttransport.Dispatcher) {
	h.mu.Lock()
	h.d = d
	h.mu.Unlock()
}

func (h *dispatcherHandle) Dispatch(uuid string, msg common.RawMessage) {
	h.mu.RLock()
	d := h.d
	h.mu.RUnlock()
	if d != nil {
		d.Dispatch(uuid, msg)
	}
}
