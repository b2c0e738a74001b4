package share

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	ttlworker "github.com/FloatTech/ttl"

	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/types"
)

// DeviceRegistry is the live peer table behind discovery. Entries expire when a
// peer has not been heard within the liveness window; every visible change is
// published as a fresh snapshot.
type DeviceRegistry struct {
	mu       sync.Mutex
	window   time.Duration
	now      func() time.Time
	cache    *ttlworker.Cache[string, types.DiscoveredDevice]
	keys     map[string]struct{}
	snapshot *Latest[[]types.DiscoveredDevice]
}

// NewDeviceRegistry creates a registry; now may be nil for time.Now.
func NewDeviceRegistry(window time.Duration, now func() time.Time) *DeviceRegistry {
	if now == nil {
		now = time.Now
	}
	return &DeviceRegistry{
		window: window,
		now:    now,
		// The cache TTL is only a backstop; Prune enforces the window with r.now.
		cache:    ttlworker.NewCache[string, types.DiscoveredDevice](2 * window),
		keys:     make(map[string]struct{}),
		snapshot: NewLatest[[]types.DiscoveredDevice]([]types.DiscoveredDevice{}),
	}
}

// Upsert records that a peer was heard now. It returns true for a new peer.
func (r *DeviceRegistry) Upsert(info types.DeviceInfo) bool {
	if info.DeviceID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	existing, known := r.lookupLocked(info.DeviceID)
	device := types.DiscoveredDevice{
		Info:         info,
		IsReachable:  true,
		DiscoveredAt: now,
		LastSeen:     now,
	}
	if known {
		device.DiscoveredAt = existing.DiscoveredAt
	}
	r.cache.Set(info.DeviceID, device)
	r.keys[info.DeviceID] = struct{}{}
	if !known {
		tool.DefaultLogger.Debugf("[Discovery] New device %s", info)
	}
	r.publishLocked()
	return !known
}

// SetReachable flips the reachability of a known peer.
func (r *DeviceRegistry) SetReachable(deviceID string, reachable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.lookupLocked(deviceID)
	if !ok || device.IsReachable == reachable {
		return
	}
	device.IsReachable = reachable
	r.cache.Set(deviceID, device)
	r.publishLocked()
}

// Prune drops peers not heard within the window and returns their ids.
func (r *DeviceRegistry) Prune() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.window)
	var dropped []string
	for id := range r.keys {
		device, ok := r.lookupLocked(id)
		if !ok || device.LastSeen.Before(cutoff) {
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		r.cache.Delete(id)
		delete(r.keys, id)
		tool.DefaultLogger.Debugf("[Discovery] Device %s expired", id)
	}
	if len(dropped) > 0 {
		r.publishLocked()
	}
	return dropped
}

// Get returns a known peer.
func (r *DeviceRegistry) Get(deviceID string) (types.DiscoveredDevice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(deviceID)
}

// List returns the current snapshot.
func (r *DeviceRegistry) List() []types.DiscoveredDevice {
	return slices.Clone(r.snapshot.Get())
}

// Clear forgets every peer.
func (r *DeviceRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.keys {
		r.cache.Delete(id)
	}
	clear(r.keys)
	r.publishLocked()
}

// Subscribe streams snapshots; see Latest.Subscribe.
func (r *DeviceRegistry) Subscribe(ctx context.Context) <-chan []types.DiscoveredDevice {
	return r.snapshot.Subscribe(ctx)
}

func (r *DeviceRegistry) lookupLocked(deviceID string) (types.DiscoveredDevice, bool) {
	if _, ok := r.keys[deviceID]; !ok {
		return types.DiscoveredDevice{}, false
	}
	device := r.cache.Get(deviceID)
	if device.Info.DeviceID == "" {
		// evicted by the cache backstop
		delete(r.keys, deviceID)
		return types.DiscoveredDevice{}, false
	}
	return device, true
}

// publishLocked emits a new snapshot if membership, address, name or
// reachability changed. LastSeen refreshes alone are not emitted.
func (r *DeviceRegistry) publishLocked() {
	next := make([]types.DiscoveredDevice, 0, len(r.keys))
	for id := range r.keys {
		if device, ok := r.lookupLocked(id); ok {
			next = append(next, device)
		}
	}
	slices.SortFunc(next, func(a, b types.DiscoveredDevice) int {
		if c := strings.Compare(a.Info.DeviceName, b.Info.DeviceName); c != 0 {
			return c
		}
		return strings.Compare(a.Info.DeviceID, b.Info.DeviceID)
	})
	r.snapshot.Update(func(current []types.DiscoveredDevice) ([]types.DiscoveredDevice, bool) {
		return next, !sameDevices(current, next)
	})
}

func sameDevices(a, b []types.DiscoveredDevice) bool {
	return slices.EqualFunc(a, b, func(x, y types.DiscoveredDevice) bool {
		return x.Info == y.Info && x.IsReachable == y.IsReachable
	})
}
