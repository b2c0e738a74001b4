package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/moyoez/readersync/conflict"
	"github.com/moyoez/readersync/status"
	"github.com/moyoez/readersync/store"
	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/transfer"
	"github.com/moyoez/readersync/types"
)

// Result summarises a finished session.
type Result struct {
	SessionID   string
	Peer        types.DeviceInfo
	ItemsSynced int
	Duration    time.Duration
	Conflicts   int
	// Unresolved are the conflicts left undecided; both devices kept their own value.
	Unresolved []types.UnresolvedConflict
}

// Session is one outgoing sync with a peer. It runs its stages in order on
// the caller's goroutine; only SubmitResolution and State are safe to call
// from elsewhere.
type Session struct {
	id       string
	peer     types.DeviceInfo
	self     *types.AnnounceMessage
	caps     []string
	pin      string
	strategy types.ConflictResolutionStrategy
	timeout  time.Duration
	// peerIdle is the responder's receive timeout from hello_ack.
	peerIdle time.Duration

	local    store.Store
	dialer   transfer.Dialer
	status   *status.Publisher
	resolver *conflict.Resolver
	now      func() time.Time

	mu        sync.Mutex
	state     State
	conflicts []types.DataConflict
	choices   chan map[string]types.ResolutionChoice
}

func (s *Session) ID() string { return s.id }

// State returns the current stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PendingConflicts returns the conflicts awaiting a manual decision.
func (s *Session) PendingConflicts() []types.DataConflict {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConflictPending {
		return nil
	}
	return append([]types.DataConflict(nil), s.conflicts...)
}

// ErrNotAwaitingResolution is returned when choices arrive outside ConflictPending.
var ErrNotAwaitingResolution = errors.New("session: no conflicts awaiting resolution")

// SubmitResolution hands manual choices to a session waiting in ConflictPending.
func (s *Session) SubmitResolution(choices map[string]types.ResolutionChoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConflictPending {
		return ErrNotAwaitingResolution
	}
	select {
	case s.choices <- choices:
		return nil
	default:
		return ErrNotAwaitingResolution
	}
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.state = to
	s.mu.Unlock()
	tool.DefaultLogger.Debugf("[Session] %s: %s -> %s", s.id, from, to)

	if to.Terminal() {
		return nil
	}
	if to == StateConflictPending {
		s.status.Publish(types.StatusConflictPending{DeviceName: s.peer.DeviceName, Conflicts: s.PendingConflicts()})
		return nil
	}
	p, label := progress(to)
	s.status.Publish(types.StatusSyncing{DeviceName: s.peer.DeviceName, Progress: p, CurrentItem: label})
	return nil
}

// stepCtx bounds one network exchange by the session timeout.
func (s *Session) stepCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Run executes the session. It returns context.Canceled when ctx was cancelled
// and a *types.SyncError for every other failure.
func (s *Session) Run(ctx context.Context) (Result, error) {
	started := s.now()
	res := Result{SessionID: s.id, Peer: s.peer}

	var ch transfer.Channel
	plan, err := s.run(ctx, &ch, &res)
	res.Duration = s.now().Sub(started)
	if ch != nil {
		defer ch.Close()
	}

	if err == nil {
		res.ItemsSynced = plan.ItemCount()
		if terr := s.transition(StateCompleted); terr != nil {
			return res, terr
		}
		s.status.Publish(types.StatusCompleted{
			DeviceName:  s.peer.DeviceName,
			ItemsSynced: res.ItemsSynced,
			DurationMs:  res.Duration.Milliseconds(),
			Unresolved:  res.Unresolved,
		})
		tool.DefaultLogger.Infof("[Session] %s: synced %d item(s) with %s in %s", s.id, res.ItemsSynced, s.peer.DeviceName, res.Duration)
		for _, u := range res.Unresolved {
			tool.DefaultLogger.Warnf("[Session] %s: %s %s/%s left unresolved: %s", s.id, u.ConflictType, u.EntityKey, u.ConflictField, u.Reason)
		}
		return res, nil
	}

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		_ = s.transition(StateCancelled)
		s.status.Publish(types.StatusCancelled{DeviceName: s.peer.DeviceName})
		tool.DefaultLogger.Infof("[Session] %s: cancelled", s.id)
		if ch != nil {
			s.notifyPeer(ch, types.FrameError, types.ErrorPayload{
				Kind:    types.ErrKindRejected,
				Message: "The other device cancelled the sync",
			})
		}
		return res, context.Canceled
	}

	se := toSyncError(err)
	_ = s.transition(StateFailed)
	s.status.Publish(types.StatusFailed{DeviceName: s.peer.DeviceName, Error: se})
	tool.DefaultLogger.Errorf("[Session] %s: failed with %s: %v", s.id, s.peer.DeviceName, err)
	if ch != nil && se.Kind != types.ErrKindNetwork {
		s.notifyPeer(ch, types.FrameError, types.ErrorPayload{Kind: se.Kind, Message: se.Message})
	}
	return res, se
}

// notifyPeer sends a last frame without waiting long; the channel may already be gone.
func (s *Session) notifyPeer(ch transfer.Channel, frameType string, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := transfer.SendPayload(ctx, ch, frameType, s.id, payload); err != nil {
		tool.DefaultLogger.Debugf("[Session] %s: could not send %s: %v", s.id, frameType, err)
	}
}

func (s *Session) run(ctx context.Context, chOut *transfer.Channel, res *Result) (conflict.Plan, error) {
	var plan conflict.Plan

	s.publishProgress(StateConnecting)
	dctx, cancel := s.stepCtx(ctx)
	ch, err := s.dialer.Dial(dctx, s.peer)
	cancel()
	if err != nil {
		return plan, err
	}
	*chOut = ch

	// Handshaking
	if err := s.transition(StateHandshaking); err != nil {
		return plan, err
	}
	scope, err := s.handshake(ctx, ch)
	if err != nil {
		return plan, err
	}

	// Pulling
	if err := s.transition(StatePulling); err != nil {
		return plan, err
	}
	remote, err := s.pull(ctx, ch)
	if err != nil {
		return plan, err
	}

	// Diffing
	if err := s.transition(StateDiffing); err != nil {
		return plan, err
	}
	local, err := s.local.Snapshot(ctx)
	if err != nil {
		return plan, types.StorageError("Could not read the local library", err)
	}
	local = local.Scoped(scope)
	remote = remote.Scoped(scope)
	conflicts := conflict.Detect(local, remote, scope)
	res.Conflicts = len(conflicts)

	var resolved []types.ReconciledEntity
	if len(conflicts) > 0 {
		resolved, res.Unresolved, err = s.resolve(ctx, ch, conflicts)
		if err != nil {
			return plan, err
		}
	}

	// Pushing
	if err := s.transition(StatePushing); err != nil {
		return plan, err
	}
	plan = conflict.Merge(local, remote, resolved, scope)
	if err := ctx.Err(); err != nil {
		return plan, err
	}
	if !plan.LocalChanges.IsEmpty() {
		if err := s.local.Apply(ctx, plan.LocalChanges); err != nil {
			return plan, err
		}
	}
	if err := s.push(ctx, ch, plan.RemoteChanges); err != nil {
		return plan, err
	}
	s.notifyPeer(ch, types.FrameBye, nil)
	return plan, nil
}

// publishProgress reports Connecting, the state every session starts in.
func (s *Session) publishProgress(st State) {
	p, label := progress(st)
	s.status.Publish(types.StatusSyncing{DeviceName: s.peer.DeviceName, Progress: p, CurrentItem: label})
}

func (s *Session) handshake(ctx context.Context, ch transfer.Channel) ([]string, error) {
	hctx, cancel := s.stepCtx(ctx)
	defer cancel()
	hello := types.HelloPayload{
		ProtocolVersion: types.ProtocolVersion,
		Device:          *s.self,
		Capabilities:    s.caps,
		PairingToken:    s.pin,
	}
	if err := transfer.SendPayload(hctx, ch, types.FrameHello, s.id, hello); err != nil {
		return nil, err
	}
	var ack types.HelloAckPayload
	if _, err := transfer.Expect(hctx, ch, types.FrameHelloAck, &ack); err != nil {
		return nil, err
	}
	if err := checkVersion(ack.ProtocolVersion); err != nil {
		return nil, err
	}
	if ack.Device.DeviceID != "" {
		s.peer.DeviceID = ack.Device.DeviceID
	}
	if ack.Device.DeviceName != "" {
		s.peer.DeviceName = ack.Device.DeviceName
	}
	s.peerIdle = time.Duration(ack.IdleTimeoutMs) * time.Millisecond
	return intersect(s.caps, ack.Capabilities)
}

func (s *Session) pull(ctx context.Context, ch transfer.Channel) (types.Snapshot, error) {
	pctx, cancel := s.stepCtx(ctx)
	defer cancel()
	var remote types.Snapshot
	if err := transfer.SendPayload(pctx, ch, types.FrameSnapshotRequest, s.id, nil); err != nil {
		return remote, err
	}
	_, err := transfer.Expect(pctx, ch, types.FrameSnapshot, &remote)
	return remote, err
}

// resolve decides conflicts by strategy, or by the user's choices for MANUAL.
// Conflicts that stay undecided are returned as unresolved; the session still
// completes and both devices keep their own value for them.
func (s *Session) resolve(ctx context.Context, ch transfer.Channel, conflicts []types.DataConflict) ([]types.ReconciledEntity, []types.UnresolvedConflict, error) {
	var (
		resolved []types.ReconciledEntity
		err      error
	)
	if s.strategy == types.StrategyManual {
		choices, werr := s.awaitChoices(ctx, ch, conflicts)
		if werr != nil {
			return nil, nil, werr
		}
		if terr := s.transition(StateResolving); terr != nil {
			return nil, nil, terr
		}
		resolved, err = s.resolver.ResolveManual(conflicts, choices)
	} else {
		if terr := s.transition(StateResolving); terr != nil {
			return nil, nil, terr
		}
		resolved, err = s.resolver.Resolve(conflicts, s.strategy)
		if err != nil && !errors.As(err, new(*conflict.ConflictError)) {
			return nil, nil, err
		}
	}
	return resolved, conflict.Unresolved(conflicts, resolved, err), nil
}

// awaitChoices parks the session in ConflictPending until the user answers.
// The wait has no deadline of its own, so keepalives stop the peer from
// timing out meanwhile.
func (s *Session) awaitChoices(ctx context.Context, ch transfer.Channel, conflicts []types.DataConflict) (map[string]types.ResolutionChoice, error) {
	s.mu.Lock()
	s.conflicts = conflicts
	s.mu.Unlock()
	if err := s.transition(StateConflictPending); err != nil {
		return nil, err
	}
	var tick <-chan time.Time
	if s.peerIdle > 0 {
		ticker := time.NewTicker(s.peerIdle / 3)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case choices := <-s.choices:
			return choices, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tick:
			kctx, cancel := s.stepCtx(ctx)
			err := transfer.SendPayload(kctx, ch, types.FrameKeepalive, s.id, nil)
			cancel()
			if err != nil {
				return nil, err
			}
		}
	}
}

func (s *Session) push(ctx context.Context, ch transfer.Channel, changes types.Snapshot) error {
	pctx, cancel := s.stepCtx(ctx)
	defer cancel()
	if err := transfer.SendPayload(pctx, ch, types.FramePush, s.id, types.PushPayload{Changes: changes}); err != nil {
		return err
	}
	var ack types.PushAckPayload
	if _, err := transfer.Expect(pctx, ch, types.FramePushAck, &ack); err != nil {
		return err
	}
	if ack.Applied != changes.Len() {
		return types.TransferError(fmt.Sprintf("The other device saved %d of %d changes", ack.Applied, changes.Len()), nil)
	}
	return nil
}

// toSyncError turns any session failure into the error the user sees.
func toSyncError(err error) *types.SyncError {
	var se *types.SyncError
	switch {
	case errors.As(err, &se):
		return se
	case errors.Is(err, context.DeadlineExceeded):
		return types.TimeoutError("", err)
	case errors.Is(err, ErrInvalidTransition):
		return types.NewSyncError(types.ErrKindUnknown, "Internal sync error")
	}
	return types.AsSyncError(err)
}
