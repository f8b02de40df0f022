package feature

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/Doekse/merossiot-sub004/common"
	"github.com/Doekse/merossiot-sub004/registry"
)

// fakeTarget is a minimal in-memory Target used across feature tests,
// modeled on the state-table methods registry.Device itself exposes.
type fakeTarget struct {
	mu     sync.Mutex
	state  map[string]map[int]any
	events []registry.ChangeEvent
	reply  common.Message
	err    error
	sent   []sentCall
}

type sentCall struct {
	method    common.Method
	namespace string
	payload   any
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{state: make(map[string]map[int]any)}
}

func (f *fakeTarget) Send(_ context.Context, method common.Method, namespace string, payload any) (common.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sentCall{method, namespace, payload})
	f.mu.Unlock()
	if f.err != nil {
		return common.Message{}, f.err
	}
	return f.reply, nil
}

func (f *fakeTarget) State(feature string, channel int) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.state[feature]
	if !ok {
		return nil, false
	}
	v, ok := ch[channel]
	return v, ok
}

func (f *fakeTarget) SetState(feature string, channel int, newValue any) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.state[feature]
	if !ok {
		ch = make(map[int]any)
		f.state[feature] = ch
	}
	old := ch[channel]
	ch[channel] = newValue
	return old
}

func (f *fakeTarget) EmitState(change registry.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, change)
}

func jsonPayload(t *testing.T, v any) any {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestGetToggle_ReducesResponseAndEmits(t *testing.T) {
	target := newFakeTarget()
	target.reply = common.Message{Payload: jsonPayload(t, map[string]any{
		"all": map[string]any{"digest": map[string]any{
			"togglex": []map[string]any{{"channel": 0, "onoff": 1}},
		}},
	})}

	st, err := GetToggle(context.Background(), target, "Appliance.Control.ToggleX", 0)
	if err != nil {
		t.Fatalf("GetToggle: %v", err)
	}
	if !st.IsOn {
		t.Fatalf("expected isOn=true")
	}
	if len(target.events) != 1 {
		t.Fatalf("expected exactly one emitted change, got %d", len(target.events))
	}
}

func TestSetToggle_SendsCorrectPayloadAndUpdatesState(t *testing.T) {
	target := newFakeTarget()
	if err := SetToggle(context.Background(), target, "Appliance.Control.ToggleX", 2, true); err != nil {
		t.Fatalf("SetToggle: %v", err)
	}
	if len(target.sent) != 1 || target.sent[0].namespace != "Appliance.Control.ToggleX" {
		t.Fatalf("unexpected send calls: %+v", target.sent)
	}
	v, ok := target.State(ToggleName, 2)
	if !ok || !v.(ToggleState).IsOn {
		t.Fatalf("expected channel 2 to be on, got %v ok=%v", v, ok)
	}
}

func TestReduceToggle_SuppressesDuplicateDiffs(t *testing.T) {
	target := newFakeTarget()
	raw, _ := json.Marshal([]map[string]any{{"channel": 0, "onoff": 1}})

	ReduceToggle(target, raw, "push")
	ReduceToggle(target, raw, "push")

	if len(target.events) != 1 {
		t.Fatalf("expected duplicate reduction to be suppressed, got %d events", len(target.events))
	}
}

func TestReduceLight_PreservesUnmentionedFields(t *testing.T) {
	target := newFakeTarget()
	target.SetState(LightName, 0, LightState{IsOn: true, Brightness: 50, Mode: 1, RGB: 0xff0000})

	raw, _ := json.Marshal([]map[string]any{{"channel": 0, "luminance": 80}})
	ReduceLight(target, raw, "push")

	v, ok := target.State(LightName, 0)
	if !ok {
		t.Fatalf("expected light state present")
	}
	st := v.(LightState)
	if st.Brightness != 80 {
		t.Fatalf("expected brightness updated to 80, got %d", st.Brightness)
	}
	if !st.IsOn || st.Mode != 1 || st.RGB != 0xff0000 {
		t.Fatalf("expected unmentioned fields preserved, got %+v", st)
	}
}

func TestSetLight_OnlySendsProvidedFields(t *testing.T) {
	target := newFakeTarget()
	brightness := 42
	if err := SetLight(context.Background(), target, 0, LightParams{Brightness: &brightness}); err != nil {
		t.Fatalf("SetLight: %v", err)
	}
	payload, ok := target.sent[0].payload.(map[string]any)
	if !ok {
		t.Fatalf("unexpected payload type %T", target.sent[0].payload)
	}
	entry := payload["light"].(map[string]any)
	if _, hasOnoff := entry["onoff"]; hasOnoff {
		t.Fatalf("expected onoff to be omitted, got %+v", entry)
	}
	if entry["luminance"] != 42 {
		t.Fatalf("expected luminance 42, got %+v", entry)
	}
}

func TestReduceTimer_RoundTripsSemanticHint(t *testing.T) {
	target := newFakeTarget()
	raw, _ := json.Marshal(map[string]any{
		"timer": []map[string]any{{"id": 1, "enable": 1, "type": TimerTypeSinglePointWeekly, "duration": 60, "channel": 0}},
	})
	ReduceTimer(target, raw, "push")

	v, ok := target.State(TimerName, 0)
	if !ok {
		t.Fatalf("expected timer state present")
	}
	entries := v.(TimerState).Entries
	if len(entries) != 1 || entries[0].Semantic != "weeklyCycle" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestReduceHubSmoke_AppliesToSubDeviceTarget(t *testing.T) {
	target := newFakeTarget()
	raw, _ := json.Marshal(map[string]any{"id": "sd-1", "status": 1, "interConn": 1})
	ReduceHubSmoke(target, raw, "push")

	v, ok := target.State(HubSmokeName, 0)
	if !ok {
		t.Fatalf("expected smoke state present")
	}
	st := v.(HubSmokeState)
	if st.Status != 1 || !st.InterConn {
		t.Fatalf("unexpected state: %+v", st)
	}
}
