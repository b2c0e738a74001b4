package models

import (
	"time"

	"github.com/moyoez/readersync/types"
)

// DeviceView is a discovered device as listed by the control API.
type DeviceView struct {
	types.DiscoveredDevice
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
}

// NodeInfo is returned by GET /info.
type NodeInfo struct {
	Device       types.AnnounceMessage `json:"device"`
	Capabilities []string              `json:"capabilities"`
	PinRequired  bool                  `json:"pinRequired"`
}

// NewDeviceViews joins the discovery snapshot with the last sync time of each device.
func NewDeviceViews(devices []types.DiscoveredDevice, lastSync func(deviceID string) (time.Time, bool)) []DeviceView {
	views := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		view := DeviceView{DiscoveredDevice: d}
		if lastSync != nil {
			if at, ok := lastSync(d.Info.DeviceID); ok {
				at := at
				view.LastSyncAt = &at
			}
		}
		views = append(views, view)
	}
	return views
}
