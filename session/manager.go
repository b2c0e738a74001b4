package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/moyoez/readersync/conflict"
	"github.com/moyoez/readersync/status"
	"github.com/moyoez/readersync/store"
	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/transfer"
	"github.com/moyoez/readersync/types"
)

var (
	// ErrSessionInProgress rejects a second sync while one is running.
	ErrSessionInProgress = types.BusyError("A sync is already in progress")
	// ErrNoActiveSession is returned by SubmitResolution when nothing is running.
	ErrNoActiveSession = errors.New("session: no active sync")
)

// DeviceLookup resolves a device id to a live peer.
type DeviceLookup interface {
	Lookup(deviceID string) (types.DiscoveredDevice, bool)
}

// Config is the node-wide session configuration.
type Config struct {
	Self         *types.AnnounceMessage
	Capabilities []string
	Strategy     types.ConflictResolutionStrategy
	Timeout      time.Duration
	Pin          string
}

// Manager starts outgoing sessions, one at a time.
type Manager struct {
	cfg      Config
	devices  DeviceLookup
	store    store.Store
	dialer   transfer.Dialer
	status   *status.Publisher
	gate     *Gate
	resolver *conflict.Resolver
	now      func() time.Time

	// OnFinish, when set, receives the log entry of every finished session.
	OnFinish func(types.SyncLogEntry)

	mu     sync.Mutex
	active *Session
	cancel context.CancelFunc
}

func NewManager(cfg Config, devices DeviceLookup, st store.Store, dialer transfer.Dialer, pub *status.Publisher, gate *Gate) *Manager {
	if len(cfg.Capabilities) == 0 {
		cfg.Capabilities = types.AllCapabilities
	}
	if cfg.Strategy == "" {
		cfg.Strategy = types.StrategyNewestWins
	}
	if gate == nil {
		gate = &Gate{}
	}
	return &Manager{
		cfg:      cfg,
		devices:  devices,
		store:    st,
		dialer:   dialer,
		status:   pub,
		gate:     gate,
		resolver: conflict.NewResolver(),
		now:      time.Now,
	}
}

// SyncWithDevice syncs with a discovered peer and blocks until the session ends.
// An empty strategy uses the configured default.
func (m *Manager) SyncWithDevice(ctx context.Context, deviceID string, strategy types.ConflictResolutionStrategy) (Result, error) {
	id := tool.GenerateRandomUUID()
	if !m.gate.TryAcquire(id) {
		return Result{}, ErrSessionInProgress
	}
	return m.syncReserved(ctx, id, deviceID, strategy)
}

// Start takes the session gate and runs SyncWithDevice in a new goroutine.
// A busy node is reported here; every other outcome goes to done, which may be nil.
// The returned seq is the status sequence number at the moment the gate was
// taken: every terminal status published later belongs to this sync.
func (m *Manager) Start(ctx context.Context, deviceID string, strategy types.ConflictResolutionStrategy, done func(Result, error)) (uint64, error) {
	id := tool.GenerateRandomUUID()
	if !m.gate.TryAcquire(id) {
		return 0, ErrSessionInProgress
	}
	_, after := m.status.CurrentSeq()
	go func() {
		res, err := m.syncReserved(ctx, id, deviceID, strategy)
		if done != nil {
			done(res, err)
		}
	}()
	return after, nil
}

// syncReserved runs a sync under the gate already held by id and releases it.
func (m *Manager) syncReserved(ctx context.Context, id, deviceID string, strategy types.ConflictResolutionStrategy) (Result, error) {
	device, ok := m.devices.Lookup(deviceID)
	if !ok {
		m.gate.Release(id)
		se := types.NetworkError("The device is no longer available", nil)
		m.status.Publish(types.StatusFailed{DeviceName: deviceID, Error: se})
		return Result{}, se
	}
	return m.run(ctx, m.newSession(id, device.Info, strategy))
}

// SyncWithAddress syncs with a peer typed in by the user, bypassing discovery.
func (m *Manager) SyncWithAddress(ctx context.Context, ip string, port int, protocol string, strategy types.ConflictResolutionStrategy) (Result, error) {
	if port == 0 {
		port = tool.DefaultAPIPort
	}
	if protocol == "" {
		protocol = "http"
	}
	return m.SyncWithPeer(ctx, types.DeviceInfo{DeviceName: ip, IPAddress: ip, Port: port, Protocol: protocol}, strategy)
}

// SyncWithPeer syncs with a peer known from a pairing code, including the
// certificate fingerprint it carried.
func (m *Manager) SyncWithPeer(ctx context.Context, peer types.DeviceInfo, strategy types.ConflictResolutionStrategy) (Result, error) {
	if peer.DeviceName == "" {
		peer.DeviceName = peer.IPAddress
	}
	id := tool.GenerateRandomUUID()
	if !m.gate.TryAcquire(id) {
		return Result{}, ErrSessionInProgress
	}
	return m.run(ctx, m.newSession(id, peer, strategy))
}

func (m *Manager) newSession(id string, peer types.DeviceInfo, strategy types.ConflictResolutionStrategy) *Session {
	if strategy == "" {
		strategy = m.cfg.Strategy
	}
	return &Session{
		id:       id,
		peer:     peer,
		self:     m.cfg.Self,
		caps:     m.cfg.Capabilities,
		pin:      m.cfg.Pin,
		strategy: strategy,
		timeout:  m.cfg.Timeout,
		local:    m.store,
		dialer:   m.dialer,
		status:   m.status,
		resolver: m.resolver,
		now:      m.now,
		state:    StateConnecting,
		choices:  make(chan map[string]types.ResolutionChoice, 1),
	}
}

// run executes s, whose id already holds the gate.
func (m *Manager) run(ctx context.Context, s *Session) (Result, error) {
	defer m.gate.Release(s.id)

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.active, m.cancel = s, cancel
	m.mu.Unlock()
	defer func() {
		cancel()
		m.mu.Lock()
		m.active, m.cancel = nil, nil
		m.mu.Unlock()
	}()

	tool.DefaultLogger.Infof("[Session] %s: syncing with %s using %s", s.id, s.peer, s.strategy)
	res, err := s.Run(runCtx)
	m.record(ctx, s, res, err)
	return res, err
}

func (m *Manager) record(ctx context.Context, s *Session, res Result, err error) {
	entry := types.SyncLogEntry{
		SyncID:      s.id,
		DeviceID:    s.peer.DeviceID,
		DeviceName:  s.peer.DeviceName,
		ItemsSynced: res.ItemsSynced,
		DurationMs:  res.Duration.Milliseconds(),
		Unresolved:  len(res.Unresolved),
		Timestamp:   m.now().UnixMilli(),
	}
	switch s.State() {
	case StateCompleted:
		entry.Status = types.PhaseCompleted
	case StateCancelled:
		entry.Status = types.PhaseCancelled
	default:
		entry.Status = types.PhaseFailed
	}
	if err != nil {
		entry.Error = err.Error()
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if rerr := m.store.RecordSync(rctx, entry); rerr != nil {
		tool.DefaultLogger.Warnf("[Session] could not record sync %s: %v", s.id, rerr)
	}
	if m.OnFinish != nil {
		m.OnFinish(entry)
	}
}

// CancelSync cancels the running session. It is a no-op when nothing runs.
func (m *Manager) CancelSync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		tool.DefaultLogger.Infof("[Session] %s: cancel requested", m.active.id)
		m.cancel()
	}
	return nil
}

// SubmitResolution supplies manual choices to the running session.
func (m *Manager) SubmitResolution(choices map[string]types.ResolutionChoice) error {
	m.mu.Lock()
	s := m.active
	m.mu.Unlock()
	if s == nil {
		return ErrNoActiveSession
	}
	return s.SubmitResolution(choices)
}

// PendingConflicts lists the conflicts the running session waits on.
func (m *Manager) PendingConflicts() []types.DataConflict {
	m.mu.Lock()
	s := m.active
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.PendingConflicts()
}

// Active reports whether an outgoing session is running.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// LastSyncTime is the time of the last completed sync with deviceID.
func (m *Manager) LastSyncTime(ctx context.Context, deviceID string) (time.Time, bool, error) {
	ms, err := m.store.LastSyncTime(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}
