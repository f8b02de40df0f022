package meross

import (
	"context"

	"github.com/Doekse/merossiot-sub004/httpapi"
	"github.com/Doekse/merossiot-sub004/registry"
)

// convertDeviceDescriptor adapts the vendor-named httpapi shape
// (DevName, hdwareVersion, ...) to registry's idiomatic field names.
// registry deliberately declares its own descriptor types rather than
// importing httpapi (see registry.DeviceDescriptor's doc comment), so
// this conversion lives here at the façade, the one package that knows
// about both.
func convertDeviceDescriptor(d httpapi.DeviceDescriptor) registry.DeviceDescriptor {
	return registry.DeviceDescriptor{
		UUID:            d.UUID,
		Name:            d.DevName,
		Type:            d.DeviceType,
		SubType:         d.SubType,
		HardwareVersion: d.HardwareVersion,
		FirmwareVersion: d.FirmwareVersion,
		OnlineStatus:    d.OnlineStatus,
		Domain:          d.Domain,
		ReservedDomain:  d.ReservedDomain,
		DeviceClass:     d.DeviceClass,
	}
}

func convertSubDeviceDescriptor(d httpapi.SubDeviceDescriptor) registry.SubDeviceDescriptor {
	return registry.SubDeviceDescriptor{
		SubDeviceID:   d.SubDeviceID,
		SubDeviceType: d.SubDeviceType,
		SubDeviceName: d.SubDeviceName,
		SubDeviceIcon: d.SubDeviceIcon,
	}
}

// httpLister adapts httpapi.Client to registry.Lister and
// subscription.Lister, translating every returned descriptor through
// convertDeviceDescriptor/convertSubDeviceDescriptor.
type httpLister struct {
	client *httpapi.Client
}

func (l httpLister) ListDevices(ctx context.Context) ([]registry.DeviceDescriptor, error) {
	devices, err := l.client.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]registry.DeviceDescriptor, len(devices))
	for i, d := range devices {
		out[i] = convertDeviceDescriptor(d)
	}
	return out, nil
}

func (l httpLister) ListSubDevices(ctx context.Context, hubUUID string) ([]registry.SubDeviceDescriptor, error) {
	subDevices, err := l.client.ListSubDevices(ctx, hubUUID)
	if err != nil {
		return nil, err
	}
	out := make([]registry.SubDeviceDescriptor, len(subDevices))
	for i, d := range subDevices {
		out[i] = convertSubDeviceDescriptor(d)
	}
	return out, nil
}
