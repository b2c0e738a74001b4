package types

import "encoding/json"

// ProtocolVersion of the sync channel; peers must share the major part.
const ProtocolVersion = "1.0"

// Frame types exchanged on the sync channel.
const (
	FrameHello           = "hello"
	FrameHelloAck        = "hello_ack"
	FrameSnapshotRequest = "snapshot_request"
	FrameSnapshot        = "snapshot"
	FramePush            = "push"
	FramePushAck         = "push_ack"
	FrameKeepalive       = "keepalive"
	FrameBye             = "bye"
	FrameError           = "error"
)

// Frame is the envelope of every message on the sync channel.
type Frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type HelloPayload struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Device          AnnounceMessage `json:"device"`
	Capabilities    []string        `json:"capabilities"`
	PairingToken    string          `json:"pairingToken,omitempty"`
}

type HelloAckPayload struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Device          AnnounceMessage `json:"device"`
	Capabilities    []string        `json:"capabilities"`
	// IdleTimeoutMs is how long the responder waits for the next frame; 0 means no limit.
	IdleTimeoutMs int64 `json:"idleTimeoutMs,omitempty"`
}

type PushPayload struct {
	Changes Snapshot `json:"changes"`
}

type PushAckPayload struct {
	Applied int `json:"applied"`
}

type ErrorPayload struct {
	Kind    SyncErrorKind `json:"kind"`
	Message string        `json:"message"`
}

// RegisterResponse is returned by POST /register.
type RegisterResponse struct {
	Status string          `json:"status"`
	Device AnnounceMessage `json:"device"`
}

// SyncLogEntry is one row of the sync history.
type SyncLogEntry struct {
	SyncID      string    `json:"syncId"`
	DeviceID    string    `json:"deviceId"`
	DeviceName  string    `json:"deviceName"`
	Status      SyncPhase `json:"status"`
	ItemsSynced int       `json:"itemsSynced"`
	DurationMs  int64     `json:"durationMs"`
	Error       string    `json:"error,omitempty"`
	// Unresolved counts the conflicts left undecided by a completed sync.
	Unresolved int   `json:"unresolved,omitempty"`
	Timestamp  int64 `json:"timestamp"`
}
