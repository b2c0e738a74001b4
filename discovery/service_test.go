package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/readersync/status"
	"github.com/moyoez/readersync/types"
)

type fakeTransport struct {
	mu      sync.Mutex
	packets chan Packet
	sent    []types.AnnounceMessage
	openErr error
	sendErr error
	closed  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{packets: make(chan Packet, 16)}
}

func (f *fakeTransport) Open(context.Context) (<-chan Packet, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.packets, nil
}

func (f *fakeTransport) Send(_ context.Context, msg *types.AnnounceMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, *msg)
	return f.sendErr
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) Sent() []types.AnnounceMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.AnnounceMessage(nil), f.sent...)
}

type fakeRegistrar struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeRegistrar) Register(_ context.Context, ip string, _, _ *types.AnnounceMessage) (*types.AnnounceMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ip)
	return nil, f.err
}

func (f *fakeRegistrar) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeProber struct {
	mu        sync.Mutex
	reachable map[string]bool
}

func (f *fakeProber) Probe(_ context.Context, d types.DeviceInfo) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reachable[d.DeviceID]
	return !ok || r
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var self = &types.AnnounceMessage{
	DeviceID: "self", DeviceName: "Laptop", DeviceType: types.DeviceTypeDesktop,
	ProtocolVersion: types.ProtocolVersion, Port: 8963, Protocol: "http", Announce: true,
}

func announce(id, name string) types.AnnounceMessage {
	return types.AnnounceMessage{
		DeviceID: id, DeviceName: name, DeviceType: types.DeviceTypeAndroid,
		ProtocolVersion: types.ProtocolVersion, Port: 8963, Protocol: "http", Announce: true,
	}
}

type harness struct {
	svc       *Service
	transport *fakeTransport
	registrar *fakeRegistrar
	prober    *fakeProber
	clock     *clock
	status    *status.Publisher
}

func newHarness() *harness {
	h := &harness{
		transport: newFakeTransport(),
		registrar: &fakeRegistrar{},
		prober:    &fakeProber{reachable: map[string]bool{}},
		clock:     &clock{now: time.Unix(1_700_000_000, 0)},
		status:    status.NewPublisher(),
	}
	h.svc = NewService(Options{
		Self:      self,
		Interval:  time.Hour, // ticks are driven by the test
		Window:    15 * time.Second,
		Transport: h.transport,
		Registrar: h.registrar,
		Prober:    h.prober,
		Status:    h.status,
		Now:       h.clock.Now,
	})
	return h
}

func waitDevices(t *testing.T, ch <-chan []types.DiscoveredDevice, pred func([]types.DiscoveredDevice) bool) []types.DiscoveredDevice {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ds := <-ch:
			if pred(ds) {
				return ds
			}
		case <-deadline:
			t.Fatal("device snapshot never matched")
			return nil
		}
	}
}

func TestStartAnnouncesAndSeesPeer(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, h.svc.Start(ctx))
	defer h.svc.Stop()
	assert.Equal(t, types.PhaseDiscovering, h.status.Current().Phase())

	devices := h.svc.Observe(ctx)
	h.transport.packets <- Packet{Message: announce("peer-b", "Pixel"), IP: "192.168.1.20"}

	got := waitDevices(t, devices, func(ds []types.DiscoveredDevice) bool { return len(ds) == 1 })
	assert.Equal(t, "peer-b", got[0].Info.DeviceID)
	assert.Equal(t, "192.168.1.20", got[0].Info.IPAddress)
	assert.True(t, got[0].IsReachable)

	assert.Eventually(t, func() bool { return h.registrar.Calls() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(h.transport.Sent()) >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, h.transport.Sent()[0].Announce)
}

func TestOwnAnnouncementIgnored(t *testing.T) {
	h := newHarness()
	assert.False(t, h.svc.Register(self, "10.0.0.1"))
	assert.Empty(t, h.svc.Devices())
}

func TestRegisterFallbackUsesUDPWithoutAnnounce(t *testing.T) {
	h := newHarness()
	h.registrar.err = errors.New("connection refused")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.svc.Start(ctx))
	defer h.svc.Stop()

	h.transport.packets <- Packet{Message: announce("peer-b", "Pixel"), IP: "192.168.1.20"}
	assert.Eventually(t, func() bool {
		for _, m := range h.transport.Sent() {
			if !m.Announce {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNonAnnounceMessageGetsNoReply(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.svc.Start(ctx))
	defer h.svc.Stop()

	msg := announce("peer-b", "Pixel")
	msg.Announce = false
	devices := h.svc.Observe(ctx)
	h.transport.packets <- Packet{Message: msg, IP: "192.168.1.20"}
	waitDevices(t, devices, func(ds []types.DiscoveredDevice) bool { return len(ds) == 1 })
	assert.Equal(t, 0, h.registrar.Calls())
}

func TestLivenessWindowDropsSilentPeer(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.svc.Register(&types.AnnounceMessage{DeviceID: "peer-b", DeviceName: "Pixel", Port: 8963}, "192.168.1.20")
	h.clock.Advance(10 * time.Second)
	h.svc.Register(&types.AnnounceMessage{DeviceID: "peer-c", DeviceName: "Tablet", Port: 8963}, "192.168.1.21")
	h.clock.Advance(6 * time.Second)

	h.svc.Tick(ctx)
	devices := h.svc.Devices()
	require.Len(t, devices, 1)
	assert.Equal(t, "peer-c", devices[0].Info.DeviceID)

	got := <-h.svc.Observe(ctx)
	require.Len(t, got, 1)
}

func TestTickFlipsReachability(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.svc.Register(&types.AnnounceMessage{DeviceID: "peer-b", DeviceName: "Pixel", Port: 8963}, "192.168.1.20")

	h.prober.mu.Lock()
	h.prober.reachable["peer-b"] = false
	h.prober.mu.Unlock()
	h.svc.Tick(ctx)

	d, ok := h.svc.Lookup("peer-b")
	require.True(t, ok)
	assert.False(t, d.IsReachable)
}

func TestAnnounceFailureDoesNotStopDiscovery(t *testing.T) {
	h := newHarness()
	h.transport.sendErr = errors.New("network unreachable")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.svc.Start(ctx))
	defer h.svc.Stop()

	h.svc.Tick(ctx)
	assert.True(t, h.svc.Running())
}

func TestStartFailureIsNetworkError(t *testing.T) {
	h := newHarness()
	h.transport.openErr = errors.New("address in use")
	err := h.svc.Start(context.Background())
	assert.ErrorIs(t, err, &types.SyncError{Kind: types.ErrKindNetwork})
	assert.False(t, h.svc.Running())
	assert.Equal(t, types.PhaseIdle, h.status.Current().Phase())
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.svc.Stop())
	assert.Equal(t, types.PhaseIdle, h.status.Current().Phase())

	require.NoError(t, h.svc.Start(context.Background()))
	require.NoError(t, h.svc.Start(context.Background()))
	require.NoError(t, h.svc.Stop())
	require.NoError(t, h.svc.Stop())
	assert.Equal(t, 1, h.transport.closed)
	assert.Equal(t, types.PhaseIdle, h.status.Current().Phase())
}

func TestStopKeepsNonDiscoveryStatus(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.svc.Start(context.Background()))
	h.status.Publish(types.StatusSyncing{DeviceName: "Pixel", Progress: 0.5})
	require.NoError(t, h.svc.Stop())
	assert.Equal(t, types.PhaseSyncing, h.status.Current().Phase())
}

func TestRestartRacingStop(t *testing.T) {
	h := newHarness()
	for range 20 {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = h.svc.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			_ = h.svc.Stop()
		}()
		wg.Wait()
	}
	require.NoError(t, h.svc.Stop())
	assert.False(t, h.svc.Running())
	assert.Equal(t, types.PhaseIdle, h.status.Current().Phase())
}

func TestCancelledContextOfEarlierRunIsIgnored(t *testing.T) {
	h := newHarness()
	first, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.svc.Start(first))
	require.NoError(t, h.svc.Stop())

	require.NoError(t, h.svc.Start(context.Background()))
	defer h.svc.Stop()
	cancel()
	assert.Never(t, func() bool { return !h.svc.Running() }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestContextEndStopsDiscovery(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.svc.Start(ctx))
	cancel()
	assert.Eventually(t, func() bool { return !h.svc.Running() }, time.Second, 10*time.Millisecond)
	assert.Equal(t, types.PhaseIdle, h.status.Current().Phase())
}

func TestOnFoundFiresOncePerPeer(t *testing.T) {
	var found []string
	svc := NewService(Options{
		Self:      self,
		Transport: newFakeTransport(),
		OnFound:   func(d types.DeviceInfo) { found = append(found, d.DeviceID) },
	})
	peer := announce("peer-b", "Pixel")
	assert.True(t, svc.Register(&peer, "192.168.1.20"))
	assert.True(t, svc.Register(&peer, "192.168.1.20"))
	assert.False(t, svc.Register(self, "10.0.0.1"))
	assert.Equal(t, []string{"peer-b"}, found)
}
