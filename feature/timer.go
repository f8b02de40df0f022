package feature

import (
	"context"
	"encoding/json"

	"github.com/Doekse/merossiot-sub004/common"
)

// TimerName is the feature key for Appliance.Control.Timer*.
const TimerName = "timer"

// Timer type constants as reported by the device; the two share a
// wire value in some firmwares, which is why TimerEntry also carries
// Semantic — see SPEC_FULL.md's Open Question resolution.
const (
	TimerTypeAutoOff              = 0
	TimerTypeSinglePointWeekly    = 1
)

// TimerEntry is one scheduled timer rule.
type TimerEntry struct {
	ID       int    `json:"id"`
	Enable   bool   `json:"enable"`
	Type     int    `json:"type"`
	Semantic string `json:"semantic"` // caller-supplied hint: "autoOff" or "weeklyCycle"
	Duration int    `json:"duration"`
	Channel  int    `json:"channel"`
}

// TimerState is the reduced per-device state for Timer*: the full set
// of configured entries (timers are not meaningfully diffed per field;
// the whole rule set changes atomically on the device).
type TimerState struct {
	Entries []TimerEntry `json:"entries"`
}

type timerWireEntry struct {
	ID       int  `json:"id"`
	Enable   int  `json:"enable"`
	Type     int  `json:"type"`
	Duration int  `json:"duration"`
	Channel  int  `json:"channel"`
}

// GetTimer issues a GET for Appliance.Control.Timer.
func GetTimer(ctx context.Context, t Target) (TimerState, error) {
	msg, err := t.Send(ctx, common.MethodGET, "Appliance.Control.Timer", nil)
	if err != nil {
		return TimerState{}, err
	}
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return TimerState{}, common.Wrap(common.KindParseError, err)
	}
	st, ok := reduceTimerDigest(raw)
	if !ok {
		return TimerState{}, common.New(common.KindParseError, "timer entries not present in response")
	}
	apply(t, TimerName, 0, st, "response")
	return st, nil
}

// SetTimer issues a SET replacing the full Appliance.Control.Timer rule set.
func SetTimer(ctx context.Context, t Target, entries []TimerEntry) error {
	wire := make([]timerWireEntry, len(entries))
	for i, e := range entries {
		wire[i] = timerWireEntry{ID: e.ID, Enable: boolToInt(e.Enable), Type: e.Type, Duration: e.Duration, Channel: e.Channel}
	}
	payload := map[string]any{"timer": wire}
	if _, err := t.Send(ctx, common.MethodSET, "Appliance.Control.Timer", payload); err != nil {
		return err
	}
	apply(t, TimerName, 0, TimerState{Entries: entries}, "command")
	return nil
}

// ReduceTimer reduces a PUSH for Appliance.Control.Timer.
func ReduceTimer(t Target, raw json.RawMessage, source string) {
	var env struct {
		Timer json.RawMessage `json:"timer"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	st, ok := reduceTimerDigest(raw)
	if !ok {
		return
	}
	apply(t, TimerName, 0, st, source)
}

func reduceTimerDigest(raw json.RawMessage) (TimerState, bool) {
	var env struct {
		Timer json.RawMessage `json:"timer"`
		All   struct {
			Digest struct {
				Timer json.RawMessage `json:"timer"`
			} `json:"digest"`
		} `json:"all"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return TimerState{}, false
	}
	src := env.Timer
	if len(src) == 0 {
		src = env.All.Digest.Timer
	}
	if len(src) == 0 {
		return TimerState{}, false
	}
	var wire []timerWireEntry
	if err := json.Unmarshal(src, &wire); err != nil {
		return TimerState{}, false
	}
	entries := make([]TimerEntry, len(wire))
	for i, w := range wire {
		semantic := "autoOff"
		if w.Type == TimerTypeSinglePointWeekly {
			semantic = "weeklyCycle"
		}
		entries[i] = TimerEntry{ID: w.ID, Enable: w.Enable != 0, Type: w.Type, Semantic: semantic, Duration: w.Duration, Channel: w.Channel}
	}
	return TimerState{Entries: entries}, true
}
