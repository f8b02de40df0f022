// Package feature implements the per-namespace operation sets and
// state reducers (C7): one file per ability family, each exposing a
// uniform Get/Set pair plus a Reduce function the push reducer (C8)
// calls for PUSH notifications and System.All digest sections, per
// spec.md §4.5/§4.6. No corpus repo models an ability-keyed feature
// set, so the shape here follows the "narrow interface, concrete
// struct per concern" idiom used throughout this module's own
// collaborator interfaces (router.HeaderBuilder, registry.Commander).
package feature

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Doekse/merossiot-sub004/common"
	"github.com/Doekse/merossiot-sub004/registry"
)

// Target is the narrow surface a feature module needs of a device or
// sub-device: issue a command, swap in new per-channel state, and emit
// the resulting change. *registry.Device and *registry.SubDevice both
// satisfy this without feature importing anything but registry.
type Target interface {
	Send(ctx context.Context, method common.Method, namespace string, payload any) (common.Message, error)
	State(feature string, channel int) (value any, ok bool)
	SetState(feature string, channel int, newValue any) (old any)
	EmitState(change registry.ChangeEvent)
}

// apply stores newValue for (featureName, channel) on t, and if it
// differs from the previous value emits a "state" change event with
// the given source. It returns whether the state actually changed.
func apply(t Target, featureName string, channel int, newValue any, source string) bool {
	old := t.SetState(featureName, channel, newValue)
	if equalState(old, newValue) {
		return false
	}
	t.EmitState(registry.ChangeEvent{
		Type:      featureName,
		Channel:   channel,
		OldValue:  old,
		NewValue:  newValue,
		Source:    source,
		Timestamp: time.Now(),
	})
	return true
}

// equalState compares two feature state values for the purpose of
// diff suppression. Feature states are small comparable structs, so a
// plain JSON round-trip comparison is cheap and avoids every feature
// having to hand-write an Equal method.
func equalState(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	ja, aerr := json.Marshal(a)
	jb, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return string(ja) == string(jb)
}

// decode unmarshals raw into dst, tolerating an empty/nil payload by
// leaving dst untouched (a partial PUSH that says nothing about this
// feature should not zero it out).
func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// asArray normalizes a JSON value that firmwares sometimes send as a
// single object and sometimes as an array of objects, per spec §4.6's
// normalization requirement, into a slice of raw per-entry messages.
func asArray(raw json.RawMessage) []json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	trimmed := trimSpace(raw)
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

func trimSpace(raw json.RawMessage) json.RawMessage {
	start, end := 0, len(raw)
	for start < end && isSpace(raw[start]) {
		start++
	}
	for end > start && isSpace(raw[end-1]) {
		end--
	}
	return raw[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
