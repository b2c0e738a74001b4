package types

import (
	"errors"
	"fmt"
)

// SyncErrorKind tags a SyncError.
type SyncErrorKind string

const (
	ErrKindNetwork          SyncErrorKind = "network_error"
	ErrKindTimeout          SyncErrorKind = "timeout"
	ErrKindProtocolMismatch SyncErrorKind = "protocol_mismatch"
	ErrKindAuthFailed       SyncErrorKind = "auth_failed"
	ErrKindRejected         SyncErrorKind = "rejected"
	ErrKindBusy             SyncErrorKind = "busy"
	ErrKindTransferFailed   SyncErrorKind = "transfer_failed"
	ErrKindStorageFailed    SyncErrorKind = "storage_failed"
	ErrKindUnknown          SyncErrorKind = "unknown"
)

// SyncError is the only error shape that leaves the sync core towards the UI.
// Message is always human readable.
type SyncError struct {
	Kind    SyncErrorKind `json:"kind"`
	Message string        `json:"message"`
	Err     error         `json:"-"`
}

func (e *SyncError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Is matches on Kind so callers can write errors.Is(err, &SyncError{Kind: ErrKindBusy}).
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func newSyncError(kind SyncErrorKind, message string, err error) *SyncError {
	if message == "" {
		message = defaultMessages[kind]
	}
	return &SyncError{Kind: kind, Message: message, Err: err}
}

func NetworkError(message string, err error) *SyncError {
	return newSyncError(ErrKindNetwork, message, err)
}

func TimeoutError(message string, err error) *SyncError {
	return newSyncError(ErrKindTimeout, message, err)
}

func ProtocolMismatchError(message string) *SyncError {
	return newSyncError(ErrKindProtocolMismatch, message, nil)
}

func AuthError(message string) *SyncError {
	return newSyncError(ErrKindAuthFailed, message, nil)
}

func RejectedError(message string) *SyncError {
	return newSyncError(ErrKindRejected, message, nil)
}

func BusyError(message string) *SyncError {
	return newSyncError(ErrKindBusy, message, nil)
}

func TransferError(message string, err error) *SyncError {
	return newSyncError(ErrKindTransferFailed, message, err)
}

func StorageError(message string, err error) *SyncError {
	return newSyncError(ErrKindStorageFailed, message, err)
}

// NewSyncError builds a SyncError of an arbitrary kind, e.g. from a wire error frame.
func NewSyncError(kind SyncErrorKind, message string) *SyncError {
	switch kind {
	case ErrKindNetwork, ErrKindTimeout, ErrKindProtocolMismatch, ErrKindAuthFailed,
		ErrKindRejected, ErrKindBusy, ErrKindTransferFailed, ErrKindStorageFailed:
	default:
		kind = ErrKindUnknown
	}
	return newSyncError(kind, message, nil)
}

// AsSyncError converts any error into a SyncError, keeping an existing one intact.
func AsSyncError(err error) *SyncError {
	if err == nil {
		return nil
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	return newSyncError(ErrKindUnknown, err.Error(), err)
}

var defaultMessages = map[SyncErrorKind]string{
	ErrKindNetwork:          "Connection lost",
	ErrKindTimeout:          "The other device did not answer in time",
	ErrKindProtocolMismatch: "The other device runs an incompatible sync protocol",
	ErrKindAuthFailed:       "The other device refused the pairing",
	ErrKindRejected:         "The other device rejected the sync",
	ErrKindBusy:             "A sync is already in progress",
	ErrKindTransferFailed:   "Data transfer failed",
	ErrKindStorageFailed:    "Could not save synced data",
	ErrKindUnknown:          "Unknown error",
}

// Suggestion returns an actionable hint for the UI.
func (e *SyncError) Suggestion() string {
	switch e.Kind {
	case ErrKindNetwork:
		return "Check that both devices are on the same WiFi network and try again."
	case ErrKindTimeout:
		return "Keep the other device awake with the app open, then retry."
	case ErrKindProtocolMismatch:
		return "Update the app on both devices to the same version."
	case ErrKindAuthFailed:
		return "Pair the devices again."
	case ErrKindRejected:
		return "Accept the sync request on the other device."
	case ErrKindBusy:
		return "Wait for the current sync to finish."
	case ErrKindTransferFailed:
		return "Retry the sync; if it keeps failing restart the app on both devices."
	case ErrKindStorageFailed:
		return "Free some storage space and retry."
	case ErrKindUnknown:
		return "Retry the sync."
	}
	return "Retry the sync."
}
