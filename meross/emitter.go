package meross

import "sync"

// ListenerID identifies a listener registered with On or Once, for a
// later Off.
type ListenerID uint64

type listener struct {
	id   uint64
	fn   func(any)
	once bool
}

// Emitter is a per-event-name listener registry delivering payloads
// synchronously from the emitting goroutine, per spec §9's "event
// emitter pattern" design note. Manager embeds one so every named
// event in spec.md §6 (deviceInitialized, connected, disconnected,
// reconnect, error, pushNotification, state, online, rawData,
// rawSendData) — plus the subscription manager's "deviceUpdate:<uuid>"
// and "deviceList" — flow through a single registration surface.
type Emitter struct {
	mu        sync.Mutex
	listeners map[string][]*listener
	nextID    uint64
}

// NewEmitter builds an Emitter with no registered listeners.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string][]*listener)}
}

// On registers fn to run on every future emission of event.
func (e *Emitter) On(event string, fn func(any)) ListenerID {
	return e.add(event, fn, false)
}

// Once registers fn to run on only the next emission of event.
func (e *Emitter) Once(event string, fn func(any)) ListenerID {
	return e.add(event, fn, true)
}

func (e *Emitter) add(event string, fn func(any), once bool) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.listeners[event] = append(e.listeners[event], &listener{id: id, fn: fn, once: once})
	return ListenerID(id)
}

// Off removes the listener id previously returned by On/Once for event.
func (e *Emitter) Off(event string, id ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ls := e.listeners[event]
	for i, l := range ls {
		if l.id == uint64(id) {
			e.listeners[event] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// Emit delivers payload to every listener currently registered for
// event, in registration order, then drops any that were Once. It
// satisfies registry.EventSink and subscription.EventSink, letting a
// Manager be handed directly to both as their event sink.
func (e *Emitter) Emit(event string, payload any) {
	e.mu.Lock()
	ls := e.listeners[event]
	fire := append([]*listener(nil), ls...)
	remaining := ls[:0:0]
	for _, l := range ls {
		if !l.once {
			remaining = append(remaining, l)
		}
	}
	e.listeners[event] = remaining
	e.mu.Unlock()

	for _, l := range fire {
		l.fn(payload)
	}
}
