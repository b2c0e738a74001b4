package controllers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/moyoez/readersync/pairing"
	"github.com/moyoez/readersync/transfer"
	"github.com/moyoez/readersync/types"
)

// PeerRegistry receives /register callbacks from peers.
type PeerRegistry interface {
	Register(msg *types.AnnounceMessage, ip string) bool
	Self() *types.AnnounceMessage
}

// SessionResponder serves incoming sync sessions.
type SessionResponder interface {
	Busy() bool
	CheckPin(pin string) bool
	Serve(ctx context.Context, ch transfer.Channel, remoteAddr string) error
}

// NodeControl is the local control surface of a node.
type NodeControl interface {
	Devices() []types.DiscoveredDevice
	StatusSeq() (types.SyncStatus, uint64)
	StartDiscovery() error
	StopDiscovery() error
	StartSync(deviceID string, strategy types.ConflictResolutionStrategy) (uint64, error)
	CancelSync() error
	PendingConflicts() []types.DataConflict
	SubmitResolution(choices map[string]types.ResolutionChoice) error
	SyncLog(ctx context.Context, limit int) ([]types.SyncLogEntry, error)
	LastSyncTime(ctx context.Context, deviceID string) (time.Time, bool, error)
	PairingPayload() (pairing.Payload, error)
}

func fastReturnError(msg string) gin.H {
	return gin.H{"error": msg}
}

// syncErrorBody renders a SyncError with its suggestion.
func syncErrorBody(se *types.SyncError) gin.H {
	return gin.H{"error": se.Message, "kind": se.Kind, "suggestion": se.Suggestion()}
}
