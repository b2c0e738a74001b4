package session

import (
	"context"
	"errors"
	"time"

	"github.com/moyoez/readersync/status"
	"github.com/moyoez/readersync/store"
	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/transfer"
	"github.com/moyoez/readersync/types"
)

// Responder serves sessions started by peers.
type Responder struct {
	self    *types.AnnounceMessage
	caps    []string
	pin     string
	timeout time.Duration
	store   store.Store
	status  *status.Publisher
	gate    *Gate
	now     func() time.Time

	// OnFinish, when set, receives the log entry of every served session.
	OnFinish func(types.SyncLogEntry)
}

func NewResponder(cfg Config, st store.Store, pub *status.Publisher, gate *Gate) *Responder {
	if len(cfg.Capabilities) == 0 {
		cfg.Capabilities = types.AllCapabilities
	}
	if gate == nil {
		gate = &Gate{}
	}
	return &Responder{
		self:    cfg.Self,
		caps:    cfg.Capabilities,
		pin:     cfg.Pin,
		timeout: cfg.Timeout,
		store:   st,
		status:  pub,
		gate:    gate,
		now:     time.Now,
	}
}

// Busy reports whether a session of either direction is running.
func (r *Responder) Busy() bool {
	return r.gate.Owner() != ""
}

// CheckPin reports whether pin unlocks this node.
func (r *Responder) CheckPin(pin string) bool {
	return r.pin == "" || r.pin == pin
}

func (r *Responder) recvCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// Serve answers one peer session on ch and closes ch when done.
func (r *Responder) Serve(ctx context.Context, ch transfer.Channel, remoteAddr string) error {
	defer ch.Close()
	started := r.now()

	hctx, cancel := r.recvCtx(ctx)
	var hello types.HelloPayload
	frame, err := transfer.Expect(hctx, ch, types.FrameHello, &hello)
	cancel()
	if err != nil {
		tool.DefaultLogger.Warnf("[Responder] bad hello from %s: %v", remoteAddr, err)
		return err
	}
	sessionID := frame.SessionID
	if sessionID == "" {
		sessionID = tool.GenerateRandomUUID()
	}
	peer := hello.Device.DeviceInfoAt(remoteAddr)

	reject := func(se *types.SyncError) error {
		_ = transfer.SendError(ctx, ch, sessionID, se)
		tool.DefaultLogger.Warnf("[Responder] rejected %s: %s", peer, se.Message)
		return se
	}
	if !r.CheckPin(hello.PairingToken) {
		return reject(types.AuthError(""))
	}
	if err := checkVersion(hello.ProtocolVersion); err != nil {
		return reject(types.AsSyncError(err))
	}
	scope, err := intersect(r.caps, hello.Capabilities)
	if err != nil {
		return reject(types.AsSyncError(err))
	}
	if !r.gate.TryAcquire(sessionID) {
		return reject(types.BusyError("The other device is busy with another sync"))
	}
	defer r.gate.Release(sessionID)
	if err := tool.JoinSession(sessionID, peer.DeviceID); err != nil {
		return reject(types.RejectedError("Session already in use"))
	}
	defer tool.DestroySession(sessionID)
	if err := transfer.SendPayload(ctx, ch, types.FrameHelloAck, sessionID, types.HelloAckPayload{
		ProtocolVersion: types.ProtocolVersion,
		Device:          *r.self,
		Capabilities:    scope,
		IdleTimeoutMs:   r.timeout.Milliseconds(),
	}); err != nil {
		return err
	}
	tool.DefaultLogger.Infof("[Responder] %s: session with %s", sessionID, peer)
	r.status.Publish(types.StatusSyncing{DeviceName: peer.DeviceName, Progress: 0.1, CurrentItem: "Receiving sync"})

	applied, err := r.loop(ctx, ch, sessionID, scope, peer.DeviceName)
	r.finish(ctx, sessionID, peer, applied, r.now().Sub(started), err)
	return err
}

func (r *Responder) loop(ctx context.Context, ch transfer.Channel, sessionID string, scope []string, peerName string) (int, error) {
	applied := 0
	for {
		rctx, cancel := r.recvCtx(ctx)
		frame, err := ch.Receive(rctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return applied, types.TimeoutError("", err)
			}
			return applied, err
		}
		switch frame.Type {
		case types.FrameSnapshotRequest:
			snap, err := r.store.Snapshot(ctx)
			if err != nil {
				se := types.StorageError("Could not read the library", err)
				_ = transfer.SendError(ctx, ch, sessionID, se)
				return applied, se
			}
			if err := transfer.SendPayload(ctx, ch, types.FrameSnapshot, sessionID, snap.Scoped(scope)); err != nil {
				return applied, err
			}
			r.status.Publish(types.StatusSyncing{DeviceName: peerName, Progress: 0.4, CurrentItem: "Sending library"})
		case types.FramePush:
			var push types.PushPayload
			if err := transfer.Decode(frame, &push); err != nil {
				_ = transfer.SendError(ctx, ch, sessionID, types.AsSyncError(err))
				return applied, err
			}
			changes := push.Changes.Scoped(scope)
			if err := r.store.Apply(ctx, changes); err != nil {
				se := types.AsSyncError(err)
				_ = transfer.SendError(ctx, ch, sessionID, se)
				return applied, se
			}
			applied += changes.Len()
			if err := transfer.SendPayload(ctx, ch, types.FramePushAck, sessionID, types.PushAckPayload{Applied: changes.Len()}); err != nil {
				return applied, err
			}
		case types.FrameKeepalive:
			// the initiator is waiting on its user; the next receive gets a fresh deadline
		case types.FrameBye:
			return applied, nil
		case types.FrameError:
			var p types.ErrorPayload
			if err := transfer.Decode(frame, &p); err != nil {
				return applied, err
			}
			return applied, types.NewSyncError(p.Kind, p.Message)
		default:
			se := types.ProtocolMismatchError("Unexpected " + frame.Type + " frame")
			_ = transfer.SendError(ctx, ch, sessionID, se)
			return applied, se
		}
	}
}

func (r *Responder) finish(ctx context.Context, sessionID string, peer types.DeviceInfo, applied int, took time.Duration, err error) {
	entry := types.SyncLogEntry{
		SyncID:      sessionID,
		DeviceID:    peer.DeviceID,
		DeviceName:  peer.DeviceName,
		Status:      types.PhaseCompleted,
		ItemsSynced: applied,
		DurationMs:  took.Milliseconds(),
		Timestamp:   r.now().UnixMilli(),
	}
	if err != nil {
		se := types.AsSyncError(err)
		if errors.Is(err, context.Canceled) {
			entry.Status = types.PhaseCancelled
			r.status.Publish(types.StatusCancelled{DeviceName: peer.DeviceName})
		} else {
			entry.Status = types.PhaseFailed
			r.status.Publish(types.StatusFailed{DeviceName: peer.DeviceName, Error: se})
		}
		entry.Error = se.Message
		tool.DefaultLogger.Warnf("[Responder] %s: session with %s ended: %v", sessionID, peer.DeviceName, err)
	} else {
		r.status.Publish(types.StatusCompleted{DeviceName: peer.DeviceName, ItemsSynced: applied, DurationMs: took.Milliseconds()})
		tool.DefaultLogger.Infof("[Responder] %s: applied %d change(s) from %s", sessionID, applied, peer.DeviceName)
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if rerr := r.store.RecordSync(rctx, entry); rerr != nil {
		tool.DefaultLogger.Warnf("[Responder] could not record sync %s: %v", sessionID, rerr)
	}
	if r.OnFinish != nil {
		r.OnFinish(entry)
	}
}
