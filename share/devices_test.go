package share

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/readersync/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func device(id, name string) types.DeviceInfo {
	return types.DeviceInfo{
		DeviceID:   id,
		DeviceName: name,
		DeviceType: types.DeviceTypeAndroid,
		IPAddress:  "192.168.1.20",
		Port:       8963,
	}
}

func TestRegistryUpsertPublishesSnapshot(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := NewDeviceRegistry(15*time.Second, clock.Now)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := r.Subscribe(ctx)
	assert.Empty(t, recv(t, ch))

	assert.True(t, r.Upsert(device("b", "Pixel")))
	snap := recv(t, ch)
	require.Len(t, snap, 1)
	assert.Equal(t, "b", snap[0].Info.DeviceID)
	assert.True(t, snap[0].IsReachable)

	clock.Advance(time.Second)
	assert.False(t, r.Upsert(device("b", "Pixel")))
	select {
	case s := <-ch:
		t.Fatalf("refresh without visible change must not emit, got %v", s)
	default:
	}
	got, ok := r.Get("b")
	require.True(t, ok)
	assert.Equal(t, clock.Now(), got.LastSeen)
	assert.Equal(t, snap[0].DiscoveredAt, got.DiscoveredAt)
}

func TestRegistryPruneDropsSilentPeers(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := NewDeviceRegistry(15*time.Second, clock.Now)
	r.Upsert(device("a", "Desk"))
	clock.Advance(10 * time.Second)
	r.Upsert(device("b", "Phone"))

	clock.Advance(6 * time.Second)
	dropped := r.Prune()
	assert.Equal(t, []string{"a"}, dropped)

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].Info.DeviceID)
	_, ok := r.Get("a")
	assert.False(t, ok)
}

func TestRegistryReachabilityFlipEmits(t *testing.T) {
	r := NewDeviceRegistry(time.Minute, nil)
	r.Upsert(device("a", "Desk"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := r.Subscribe(ctx)
	assert.True(t, recv(t, ch)[0].IsReachable)

	r.SetReachable("a", false)
	assert.False(t, recv(t, ch)[0].IsReachable)

	r.SetReachable("missing", false)
	r.Clear()
	assert.Empty(t, recv(t, ch))
}

func TestRegistrySnapshotsAreSortedCopies(t *testing.T) {
	r := NewDeviceRegistry(time.Minute, nil)
	r.Upsert(device("2", "Beta"))
	r.Upsert(device("1", "Alpha"))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "Alpha", list[0].Info.DeviceName)

	list[0].IsReachable = false
	assert.True(t, r.List()[0].IsReachable)
}
