package push

import (
	"encoding/json"
	"time"

	"github.com/Doekse/merossiot-sub004/common"
	"github.com/Doekse/merossiot-sub004/feature"
	"github.com/Doekse/merossiot-sub004/logx"
	"github.com/Doekse/merossiot-sub004/registry"
)

const onlineNamespace = "Appliance.System.Online"

// Registry is the narrow surface the reducer needs of registry.Registry:
// look up an already-initialized Device by uuid. Devices not yet known
// (e.g. a push arriving before initialize() completes) are dropped
// with a warning, per spec §4.6's "entries for unknown ... are dropped
// silently after logging" rule generalized to the device level.
type Registry interface {
	Get(uuid string) (*registry.Device, bool)
}

// reduceFunc applies one namespace's PUSH/digest payload to a device's
// cached state.
type reduceFunc func(t feature.Target, raw json.RawMessage, source string)

// dispatchTable maps a namespace to the feature reducer responsible
// for it, for namespaces whose payload applies directly to the owning
// device (as opposed to one of its hub sub-devices — see hub.go).
var dispatchTable = map[string]reduceFunc{
	"Appliance.Control.Toggle":           feature.ReduceToggle,
	"Appliance.Control.ToggleX":          feature.ReduceToggle,
	"Appliance.Control.Light":            feature.ReduceLight,
	"Appliance.Control.Thermostat.Mode":  feature.ReduceThermostat,
	"Appliance.GarageDoor.State":         feature.ReduceGarage,
	"Appliance.Control.Diffuser.Light":   feature.ReduceDiffuserLight,
	"Appliance.Control.Diffuser.Spray":   feature.ReduceDiffuserSpray,
	"Appliance.Control.Spray":            feature.ReduceSpray,
	"Appliance.Control.Sensor.LatestX":   feature.ReducePresence,
	"Appliance.Control.Timer":            feature.ReduceTimer,
	"Appliance.Control.TimerX":           feature.ReduceTimer,
	"Appliance.Control.Trigger":          feature.ReduceTrigger,
	"Appliance.Control.TriggerX":         feature.ReduceTrigger,
	"Appliance.Control.Electricity":      feature.ReduceElectricity,
	"Appliance.Control.ConsumptionX":     feature.ReduceConsumption,
}

var rollerNamespaces = map[string]bool{
	"Appliance.RollerShutter.State":    true,
	"Appliance.RollerShutter.Position": true,
}

// Option configures a Reducer.
type Option func(*Reducer)

// WithLogger sets the reducer's logger.
func WithLogger(l logx.Logger) Option { return func(r *Reducer) { r.logger = l } }

// WithTouchHook registers fn to be called with (uuid, namespace)
// whenever Dispatch successfully routes a push to a reducer. The
// top-level façade wires this to subscription.Manager.Touch so a push
// that touches a section suppresses that section's next poll tick,
// per spec §4.7.
func WithTouchHook(fn func(uuid, namespace string)) Option {
	return func(r *Reducer) { r.touch = fn }
}

// Reducer implements transport/mqtt.Dispatcher, routing every
// device-initiated message to the registered Device (and, for hub
// namespaces, onward to the matching SubDevice).
type Reducer struct {
	registry Registry
	logger   logx.Logger
	touch    func(uuid, namespace string)
}

// New builds a Reducer backed by reg.
func New(reg Registry, opts ...Option) *Reducer {
	r := &Reducer{registry: reg, logger: logx.Noop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Dispatch satisfies transport/mqtt.Dispatcher. It never blocks on I/O
// and never returns an error: malformed or unroutable messages are
// logged and dropped, per spec §4.6.
func (r *Reducer) Dispatch(uuid string, raw common.RawMessage) {
	notification := Parse(uuid, raw)

	device, ok := r.registry.Get(uuid)
	if !ok {
		r.logger.Warnf("push for unknown device %s (namespace=%s), dropping", uuid, notification.Namespace)
		return
	}

	if notification.Generic {
		r.logger.Debugf("no reducer for namespace %s on device %s, treating as generic", notification.Namespace, uuid)
		return
	}

	namespace := notification.Namespace
	source := pushSource(notification.Method)

	switch {
	case namespace == onlineNamespace:
		r.reduceOnline(device, notification.Payload)
	case isHubNamespace(namespace):
		reduceHub(r.logger, device, namespace, notification.Payload, source)
	case rollerNamespaces[namespace]:
		feature.ReduceRoller(device, namespace, extractSection(notification.Payload, rollerSectionKey(namespace)), source)
	default:
		fn := dispatchTable[namespace]
		fn(device, extractSection(notification.Payload, sectionKey(namespace)), source)
	}

	if r.touch != nil {
		r.touch(uuid, namespace)
	}
}

func (r *Reducer) reduceOnline(device *registry.Device, raw json.RawMessage) {
	var env struct {
		Online struct {
			Status int `json:"status"`
		} `json:"online"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		r.logger.Warnf("malformed Online push for %s: %v", device.UUID(), err)
		return
	}
	device.SetOnlineStatus(env.Online.Status, time.Now())
}

func pushSource(method common.Method) string {
	if method == common.MethodPUSH {
		return "push"
	}
	return "push-" + string(method)
}

// sectionKey returns the JSON field name holding a namespace's payload
// body, e.g. "Appliance.Control.Toggle" -> "toggle". Ability
// namespaces are dotted CamelCase; the wire payload key is the
// lowercased final segment with "X" suffixes preserved, which is the
// observed vendor convention (ToggleX -> "togglex").
func sectionKey(namespace string) string {
	segment := lastSegment(namespace)
	return lowerFirstRestLower(segment)
}

func rollerSectionKey(namespace string) string {
	switch namespace {
	case "Appliance.RollerShutter.State":
		return "state"
	case "Appliance.RollerShutter.Position":
		return "position"
	default:
		return ""
	}
}

func lastSegment(namespace string) string {
	last := namespace
	for i := len(namespace) - 1; i >= 0; i-- {
		if namespace[i] == '.' {
			last = namespace[i+1:]
			break
		}
	}
	return last
}

func lowerFirstRestLower(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// extractSection pulls payload[key] back out as raw JSON, falling back
// to the whole payload if key is absent (some firmwares omit the
// wrapper object on PUSH, unlike on GETACK).
func extractSection(payload json.RawMessage, key string) json.RawMessage {
	if key == "" || len(payload) == 0 {
		return payload
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(payload, &generic); err != nil {
		return payload
	}
	if section, ok := generic[key]; ok {
		return section
	}
	return payload
}
