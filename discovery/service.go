package discovery

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/moyoez/readersync/share"
	"github.com/moyoez/readersync/status"
	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/types"
)

// Options configures a Service. Zero values fall back to the defaults of a fresh config.
type Options struct {
	Self      *types.AnnounceMessage
	Interval  time.Duration
	Window    time.Duration
	Transport Transport
	Registrar Registrar
	Prober    Prober
	Status    *status.Publisher
	Now       func() time.Time
	// OnFound, when set, is called once for every peer not already in the snapshot.
	OnFound func(types.DeviceInfo)
	// ReplyRate bounds register callbacks per second; bursts up to ReplyBurst.
	ReplyRate  rate.Limit
	ReplyBurst int
}

// Service announces this node periodically, listens for peers and keeps the
// live peer snapshot.
type Service struct {
	opts     Options
	registry *share.DeviceRegistry
	limiter  *rate.Limiter

	// lifecycle serializes Start and Stop; mu guards current.
	lifecycle sync.Mutex
	mu        sync.Mutex
	current   *run
}

// run is one Start..Stop cycle. Each cycle waits on its own goroutines.
type run struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(opts Options) *Service {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Window <= 0 {
		opts.Window = 3 * opts.Interval
	}
	if opts.Registrar == nil {
		opts.Registrar = HTTPRegistrar{}
	}
	if opts.Prober == nil {
		opts.Prober = TCPProber{Timeout: time.Second}
	}
	if opts.Status == nil {
		opts.Status = status.NewPublisher()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReplyRate == 0 {
		opts.ReplyRate = rate.Limit(10)
	}
	if opts.ReplyBurst == 0 {
		opts.ReplyBurst = 20
	}
	return &Service{
		opts:     opts,
		registry: share.NewDeviceRegistry(opts.Window, opts.Now),
		limiter:  rate.NewLimiter(opts.ReplyRate, opts.ReplyBurst),
	}
}

// Start opens the transport and runs the announce and listen loops until Stop
// or ctx ends. Calling Start while running is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.Running() {
		return nil
	}
	if s.opts.Transport == nil {
		return types.NetworkError("Discovery transport not configured", nil)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	packets, err := s.opts.Transport.Open(runCtx)
	if err != nil {
		cancel()
		return types.NetworkError("Could not start discovery on this network", err)
	}
	r := &run{cancel: cancel}
	s.mu.Lock()
	s.current = r
	s.mu.Unlock()
	s.opts.Status.PublishIf(func(cur types.SyncStatus) bool {
		return cur.Phase() == types.PhaseIdle || types.IsTerminal(cur)
	}, types.StatusDiscovering{})

	r.wg.Add(2)
	go s.listenLoop(runCtx, r, packets)
	go s.announceLoop(runCtx, r)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.stop(r)
		case <-runCtx.Done():
		}
	}()
	tool.DefaultLogger.Infof("[Discovery] started as %s (%s)", s.opts.Self.DeviceName, s.opts.Self.DeviceID)
	return nil
}

// Stop halts the loops and closes the transport. It is a no-op when not running.
func (s *Service) Stop() error {
	return s.stop(nil)
}

// stop ends the run r, or the current run when r is nil.
func (s *Service) stop(r *run) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.mu.Lock()
	cur := s.current
	if cur == nil || (r != nil && r != cur) {
		s.mu.Unlock()
		return nil
	}
	s.current = nil
	s.mu.Unlock()

	cur.cancel()
	err := s.opts.Transport.Close()
	cur.wg.Wait()
	s.registry.Clear()
	s.opts.Status.PublishIf(func(cur types.SyncStatus) bool {
		return cur.Phase() == types.PhaseDiscovering
	}, types.StatusIdle{})
	tool.DefaultLogger.Info("[Discovery] stopped")
	return err
}

// Running reports whether the loops are active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Observe streams the live peer snapshot. It starts with the current snapshot
// and closes only when ctx ends.
func (s *Service) Observe(ctx context.Context) <-chan []types.DiscoveredDevice {
	return s.registry.Subscribe(ctx)
}

// Devices returns the current snapshot.
func (s *Service) Devices() []types.DiscoveredDevice {
	return s.registry.List()
}

// Lookup finds a live peer by id.
func (s *Service) Lookup(deviceID string) (types.DiscoveredDevice, bool) {
	return s.registry.Get(deviceID)
}

// Register records a peer heard at ip. It returns false for this node's own messages.
func (s *Service) Register(msg *types.AnnounceMessage, ip string) bool {
	if msg == nil || msg.DeviceID == "" || msg.DeviceID == s.opts.Self.DeviceID {
		return false
	}
	info := msg.DeviceInfoAt(ip)
	if s.registry.Upsert(info) && s.opts.OnFound != nil {
		s.opts.OnFound(info)
	}
	return true
}

// Self is the announce message of this node.
func (s *Service) Self() *types.AnnounceMessage {
	return s.opts.Self
}

func (s *Service) listenLoop(ctx context.Context, r *run, packets <-chan Packet) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-packets:
			if !ok {
				return
			}
			s.handlePacket(ctx, r, p)
		}
	}
}

func (s *Service) handlePacket(ctx context.Context, r *run, p Packet) {
	if !s.Register(&p.Message, p.IP) {
		return
	}
	if !ShouldRespond(s.opts.Self, &p.Message) {
		return
	}
	if !s.limiter.Allow() {
		tool.DefaultLogger.Debugf("[Discovery] reply to %s dropped by rate limit", p.IP)
		return
	}
	r.wg.Add(1)
	go func(remote types.AnnounceMessage, ip string) {
		defer r.wg.Done()
		s.reply(ctx, &remote, ip)
	}(p.Message, p.IP)
}

// reply answers an announcement over HTTP, falling back to a multicast
// response with Announce=false so the peer does not answer again.
func (s *Service) reply(ctx context.Context, remote *types.AnnounceMessage, ip string) {
	rctx, cancel := context.WithTimeout(ctx, s.opts.Interval)
	defer cancel()
	peer, err := s.opts.Registrar.Register(rctx, ip, remote, s.opts.Self)
	if err == nil {
		if peer != nil && peer.DeviceID != "" {
			s.Register(peer, ip)
		}
		return
	}
	tool.DefaultLogger.Warnf("[Discovery] register callback to %s failed: %v. Falling back to UDP multicast.", ip, err)
	response := *s.opts.Self
	response.Announce = false
	if udpErr := s.opts.Transport.Send(ctx, &response); udpErr != nil && ctx.Err() == nil {
		tool.DefaultLogger.Errorf("[Discovery] both HTTP and UDP multicast fallback failed: %v; original: %v", udpErr, err)
	}
}

func (s *Service) announceLoop(ctx context.Context, r *run) {
	defer r.wg.Done()
	s.Tick(ctx)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one discovery cycle: drop silent peers, probe the rest and announce.
// Failures are logged and retried on the next tick.
func (s *Service) Tick(ctx context.Context) {
	if dropped := s.registry.Prune(); len(dropped) > 0 {
		tool.DefaultLogger.Infof("[Discovery] %d device(s) left: %v", len(dropped), dropped)
	}
	s.probeAll(ctx)
	if err := s.opts.Transport.Send(ctx, s.opts.Self); err != nil && ctx.Err() == nil {
		tool.DefaultLogger.Warnf("[Discovery] announce failed, retrying next tick: %v", err)
	}
}

func (s *Service) probeAll(ctx context.Context) {
	devices := s.registry.List()
	if len(devices) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, d := range devices {
		wg.Add(1)
		go func(d types.DiscoveredDevice) {
			defer wg.Done()
			s.registry.SetReachable(d.Info.DeviceID, s.opts.Prober.Probe(ctx, d.Info))
		}(d)
	}
	wg.Wait()
}
