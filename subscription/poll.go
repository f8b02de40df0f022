package subscription

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/Doekse/merossiot-sub004/common"
	"github.com/Doekse/merossiot-sub004/feature"
	"github.com/Doekse/merossiot-sub004/push"
	"github.com/Doekse/merossiot-sub004/registry"
)

// deviceSubscription owns the timers for one device's hybrid
// poll/push stream.
type deviceSubscription struct {
	uuid   string
	device *registry.Device
	cfg    Config
	mgr    *Manager

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	freshness map[string]time.Time
}

func (s *deviceSubscription) touch(section string) {
	s.mu.Lock()
	s.freshness[section] = time.Now()
	s.mu.Unlock()
}

// fresh reports whether section was touched within CacheMaxAge,
// meaning a poll tick for it can be skipped.
func (s *deviceSubscription) fresh(section string) bool {
	if !s.cfg.SmartCaching {
		return false
	}
	s.mu.Lock()
	last, ok := s.freshness[section]
	s.mu.Unlock()
	return ok && time.Since(last) < s.cfg.CacheMaxAge
}

// run drives every configured interval timer for the device until ctx
// is cancelled. Zero-valued intervals never start a timer, so a
// Config that only sets DeviceStateInterval polls nothing else.
func (s *deviceSubscription) run(ctx context.Context) {
	defer close(s.done)

	var deviceState, electricity, consumption *time.Ticker
	if s.cfg.DeviceStateInterval > 0 {
		deviceState = time.NewTicker(s.cfg.DeviceStateInterval)
		defer deviceState.Stop()
	}
	if s.cfg.ElectricityInterval > 0 {
		electricity = time.NewTicker(s.cfg.ElectricityInterval)
		defer electricity.Stop()
	}
	if s.cfg.ConsumptionInterval > 0 {
		consumption = time.NewTicker(s.cfg.ConsumptionInterval)
		defer consumption.Stop()
	}

	deviceStateC, electricityC, consumptionC := tickerChan(deviceState), tickerChan(electricity), tickerChan(consumption)

	for {
		select {
		case <-ctx.Done():
			return
		case <-deviceStateC:
			s.pollDeviceState(ctx)
		case <-electricityC:
			s.pollElectricity(ctx)
		case <-consumptionC:
			s.pollConsumption(ctx)
		}
	}
}

// tickerChan returns t.C, or nil if t is nil. A nil channel blocks
// forever in a select, which is exactly "this interval is disabled".
func tickerChan(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (s *deviceSubscription) pollDeviceState(ctx context.Context) {
	if s.fresh(SectionDeviceState) {
		return
	}
	msg, err := s.device.Send(ctx, common.MethodGET, "Appliance.System.All", nil)
	if err != nil {
		s.mgr.emit("error", err)
		return
	}
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		s.mgr.emit("error", common.Wrap(common.KindParseError, err))
		return
	}
	if err := push.AbsorbSystemAll(s.device, raw); err != nil {
		s.mgr.emit("error", err)
		return
	}
	s.touch(SectionDeviceState)
	s.mgr.emit("deviceUpdate:"+s.uuid, DeviceUpdate{UUID: s.uuid, Source: "poll", Timestamp: time.Now()})
}

func (s *deviceSubscription) pollElectricity(ctx context.Context) {
	if s.fresh(SectionElectricity) {
		return
	}
	if _, err := feature.GetElectricity(ctx, s.device, 0); err != nil {
		s.mgr.emit("error", err)
		return
	}
	s.touch(SectionElectricity)
	s.mgr.emit("deviceUpdate:"+s.uuid, DeviceUpdate{UUID: s.uuid, Source: "poll", Timestamp: time.Now()})
}

func (s *deviceSubscription) pollConsumption(ctx context.Context) {
	if s.fresh(SectionConsumption) {
		return
	}
	if _, err := feature.GetConsumption(ctx, s.device, 0); err != nil {
		s.mgr.emit("error", err)
		return
	}
	s.touch(SectionConsumption)
	s.mgr.emit("deviceUpdate:"+s.uuid, DeviceUpdate{UUID: s.uuid, Source: "poll", Timestamp: time.Now()})
}

// runDeviceListPoll ticks every interval, fetches the current device
// list, and emits a ListChange diffed against the previous snapshot,
// per spec §4.7's subscribeToDeviceList().
func (m *Manager) runDeviceListPoll(ctx context.Context, done chan struct{}, lister Lister, interval time.Duration) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	previous := map[string]registry.DeviceDescriptor{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := lister.ListDevices(ctx)
			if err != nil {
				m.emit("error", err)
				continue
			}
			snapshot := make(map[string]registry.DeviceDescriptor, len(current))
			for _, d := range current {
				snapshot[d.UUID] = d
			}
			change := diffDeviceList(previous, snapshot)
			previous = snapshot
			if len(change.Added) == 0 && len(change.Removed) == 0 && len(change.Changed) == 0 {
				continue
			}
			m.emit("deviceList", change)
		}
	}
}

func diffDeviceList(previous, current map[string]registry.DeviceDescriptor) ListChange {
	var change ListChange
	for uuid, desc := range current {
		old, existed := previous[uuid]
		if !existed {
			change.Added = append(change.Added, desc)
			continue
		}
		if old != desc {
			change.Changed = append(change.Changed, desc)
		}
	}
	for uuid := range previous {
		if _, stillPresent := current[uuid]; !stillPresent {
			change.Removed = append(change.Removed, uuid)
		}
	}
	sort.Slice(change.Added, func(i, j int) bool { return change.Added[i].UUID < change.Added[j].UUID })
	sort.Slice(change.Changed, func(i, j int) bool { return change.Changed[i].UUID < change.Changed[j].UUID })
	sort.Strings(change.Removed)
	return change
}
