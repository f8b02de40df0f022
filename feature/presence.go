package feature

import (
	"encoding/json"
	"time"
)

// PresenceName is the feature key for the presence-sensor projection
// of Appliance.Control.Sensor.LatestX.
const PresenceName = "presence"

// PresenceState is the reduced per-channel state for the presence
// sensor: {present, distance, ts}.
type PresenceState struct {
	Present  bool      `json:"present"`
	Distance int       `json:"distance"`
	Ts       time.Time `json:"ts"`
}

type presenceEntry struct {
	Channel int `json:"channel"`
	Value   struct {
		Presence int `json:"presence"`
		Distance int `json:"distance"`
		Times    int `json:"times"`
	} `json:"value"`
}

// ReducePresence reduces a PUSH for Appliance.Control.Sensor.LatestX
// into the presence-sensor projection. This namespace is push-only:
// the vendor protocol has no corresponding GET that returns a single
// current reading, only a history query out of scope for this module.
func ReducePresence(t Target, raw json.RawMessage, source string) {
	var env struct {
		LatestX json.RawMessage `json:"latest"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	for _, entry := range asArray(env.LatestX) {
		var e presenceEntry
		if err := json.Unmarshal(entry, &e); err != nil {
			continue
		}
		st := PresenceState{
			Present:  e.Value.Presence != 0,
			Distance: e.Value.Distance,
			Ts:       time.Now(),
		}
		apply(t, PresenceName, e.Channel, st, source)
	}
}
