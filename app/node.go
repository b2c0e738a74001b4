// Package app wires the services of a readersync node together.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/moyoez/readersync/api"
	"github.com/moyoez/readersync/discovery"
	"github.com/moyoez/readersync/notify"
	"github.com/moyoez/readersync/pairing"
	"github.com/moyoez/readersync/session"
	"github.com/moyoez/readersync/share"
	"github.com/moyoez/readersync/status"
	"github.com/moyoez/readersync/store"
	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/transfer"
	"github.com/moyoez/readersync/types"
)

// ErrNoAddress is returned when no LAN address can be put into a pairing code.
var ErrNoAddress = errors.New("app: no usable IPv4 address")

// Option overrides a default collaborator of a Node.
type Option func(*Node)

// WithStore replaces the store opened from the config.
func WithStore(st store.Store) Option {
	return func(n *Node) { n.store = st }
}

// WithTransport replaces the UDP multicast transport.
func WithTransport(t discovery.Transport) Option {
	return func(n *Node) { n.transport = t }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d transfer.Dialer) Option {
	return func(n *Node) { n.dialer = d }
}

// WithProber replaces the reachability probe.
func WithProber(p discovery.Prober) Option {
	return func(n *Node) { n.prober = p }
}

// Node is one running readersync device.
type Node struct {
	cfg  tool.AppConfig
	self *types.AnnounceMessage

	store     store.Store
	transport discovery.Transport
	dialer    transfer.Dialer
	prober    discovery.Prober

	status    *status.Publisher
	gate      *session.Gate
	discovery *discovery.Service
	manager   *session.Manager
	responder *session.Responder
	notifier  *notify.Notifier
	server    *api.Server
	cert      *tool.NodeCertificate

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// New builds a node from cfg. The store is SQLite at cfg.DatabasePath, or in
// memory when the path is empty.
func New(cfg tool.AppConfig, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &Node{cfg: cfg, self: cfg.SelfAnnounce()}
	for _, opt := range opts {
		opt(n)
	}
	if cfg.Protocol == "https" {
		cert, err := tool.NewNodeCertificate(cfg.Alias)
		if err != nil {
			return nil, fmt.Errorf("failed to generate TLS certificate: %w", err)
		}
		n.cert = cert
		n.self.Fingerprint = cert.Fingerprint
	}
	if n.store == nil {
		st, err := openStore(cfg)
		if err != nil {
			return nil, err
		}
		n.store = st
	}
	if n.transport == nil {
		n.transport = discovery.NewUDPTransport(cfg.MulticastAddress, cfg.MulticastPort)
	}
	if n.dialer == nil {
		n.dialer = transfer.NewWSDialer(cfg.Pin)
	}
	if n.prober == nil {
		n.prober = discovery.NewProber(cfg.Reachability, time.Second)
	}
	strategy, _ := types.ParseStrategy(cfg.ConflictStrategy)

	n.status = status.NewPublisher()
	n.gate = &session.Gate{}
	n.notifier = notify.New(cfg.NotifyURL)
	n.discovery = discovery.NewService(discovery.Options{
		Self:      n.self,
		Interval:  cfg.AnnounceInterval,
		Window:    cfg.LivenessWindow(),
		Transport: n.transport,
		Prober:    n.prober,
		Status:    n.status,
		OnFound:   n.notifier.DeviceFound,
	})
	scfg := session.Config{
		Self:         n.self,
		Capabilities: types.AllCapabilities,
		Strategy:     strategy,
		Timeout:      cfg.SessionTimeout,
		Pin:          cfg.Pin,
	}
	n.manager = session.NewManager(scfg, n.discovery, n.store, n.dialer, n.status, n.gate)
	n.manager.OnFinish = n.notifier.SyncFinished
	n.responder = session.NewResponder(scfg, n.store, n.status, n.gate)
	n.responder.OnFinish = n.notifier.SyncFinished
	n.server = api.NewServer(cfg.Port, cfg.Protocol, cfg.Alias, api.Deps{
		Peers:        n.discovery,
		Responder:    n.responder,
		Control:      n,
		Capabilities: types.AllCapabilities,
		PinRequired:  cfg.Pin != "",
		Certificate:  n.cert,
		PeerRate:     rate.Limit(20),
		PeerBurst:    40,
	})
	n.bgCtx, n.bgCancel = context.WithCancel(context.Background())
	return n, nil
}

func openStore(cfg tool.AppConfig) (store.Store, error) {
	if cfg.DatabasePath == "" {
		tool.DefaultLogger.Warn("No database path configured, library is kept in memory")
		return store.NewMemory(cfg.DeviceID), nil
	}
	return store.OpenSQLite(cfg.DatabasePath, cfg.DeviceID)
}

// Run serves the API and runs discovery until ctx ends.
func (n *Node) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- n.server.Start() }()

	if err := n.discovery.Start(ctx); err != nil {
		tool.DefaultLogger.Errorf("Discovery failed to start: %v", err)
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := n.server.Stop(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	return err
}

// Close stops background work and closes the store.
func (n *Node) Close() error {
	_ = n.discovery.Stop()
	_ = n.manager.CancelSync()
	n.bgCancel()
	n.bg.Wait()
	return n.store.Close()
}

func (n *Node) Self() *types.AnnounceMessage  { return n.self }
func (n *Node) Store() store.Store            { return n.store }
func (n *Node) Discovery() *discovery.Service { return n.discovery }
func (n *Node) Manager() *session.Manager     { return n.manager }
func (n *Node) Server() *api.Server           { return n.server }
func (n *Node) Status() types.SyncStatus      { return n.status.Current() }

// StatusSeq is Status with its publish sequence number.
func (n *Node) StatusSeq() (types.SyncStatus, uint64) { return n.status.CurrentSeq() }
func (n *Node) Devices() []types.DiscoveredDevice     { return n.discovery.Devices() }

// ObserveStatus streams status changes until ctx ends.
func (n *Node) ObserveStatus(ctx context.Context) <-chan types.SyncStatus {
	return n.status.Observe(ctx)
}

// StartDiscovery runs discovery until StopDiscovery or Close, independent of
// the caller's request.
func (n *Node) StartDiscovery() error {
	return n.discovery.Start(n.bgCtx)
}

func (n *Node) StopDiscovery() error {
	return n.discovery.Stop()
}

// SyncWithDevice blocks until the sync with deviceID ends.
func (n *Node) SyncWithDevice(ctx context.Context, deviceID string, strategy types.ConflictResolutionStrategy) (session.Result, error) {
	return n.manager.SyncWithDevice(ctx, deviceID, strategy)
}

// StartSync runs SyncWithDevice in the background. Only a busy node is
// reported synchronously; every other outcome goes through the status stream.
func (n *Node) StartSync(deviceID string, strategy types.ConflictResolutionStrategy) (uint64, error) {
	n.bg.Add(1)
	after, err := n.manager.Start(n.bgCtx, deviceID, strategy, func(_ session.Result, err error) {
		defer n.bg.Done()
		if err != nil {
			tool.DefaultLogger.Warnf("[Sync] %s: %v", deviceID, err)
		}
	})
	if err != nil {
		n.bg.Done()
	}
	return after, err
}

func (n *Node) CancelSync() error {
	return n.manager.CancelSync()
}

func (n *Node) PendingConflicts() []types.DataConflict {
	return n.manager.PendingConflicts()
}

func (n *Node) SubmitResolution(choices map[string]types.ResolutionChoice) error {
	return n.manager.SubmitResolution(choices)
}

func (n *Node) SyncLog(ctx context.Context, limit int) ([]types.SyncLogEntry, error) {
	return n.store.SyncLog(ctx, limit)
}

func (n *Node) LastSyncTime(ctx context.Context, deviceID string) (time.Time, bool, error) {
	return n.manager.LastSyncTime(ctx, deviceID)
}

// PairingPayload describes this node at its primary LAN address.
func (n *Node) PairingPayload() (pairing.Payload, error) {
	ip := share.PrimaryIPv4()
	if ip == "" {
		return pairing.Payload{}, ErrNoAddress
	}
	return pairing.NewPayload(n.self, ip, n.cfg.Pin, time.Now(), pairing.DefaultTTL), nil
}
