// Package transfer carries sync frames between two nodes.
package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/moyoez/readersync/types"
)

// ErrClosed is wrapped by every error returned after a channel is closed.
var ErrClosed = errors.New("transfer: channel closed")

// Channel is an ordered, bidirectional frame stream. Send and Receive honour
// ctx so a cancelled session stops at its next network operation.
type Channel interface {
	Send(ctx context.Context, frame types.Frame) error
	Receive(ctx context.Context) (types.Frame, error)
	Close() error
}

// SendPayload encodes payload into a frame of the given type and sends it.
func SendPayload(ctx context.Context, ch Channel, frameType, sessionID string, payload any) error {
	frame := types.Frame{Type: frameType, SessionID: sessionID}
	if payload != nil {
		data, err := sonic.Marshal(payload)
		if err != nil {
			return types.TransferError("encode "+frameType, err)
		}
		frame.Payload = data
	}
	return ch.Send(ctx, frame)
}

// SendError reports err to the peer as an error frame.
func SendError(ctx context.Context, ch Channel, sessionID string, err *types.SyncError) error {
	return SendPayload(ctx, ch, types.FrameError, sessionID, types.ErrorPayload{Kind: err.Kind, Message: err.Message})
}

// Decode unmarshals the frame payload into v.
func Decode(frame types.Frame, v any) error {
	if len(frame.Payload) == 0 {
		return types.TransferError(fmt.Sprintf("empty %s payload", frame.Type), nil)
	}
	if err := sonic.Unmarshal(frame.Payload, v); err != nil {
		return types.TransferError("decode "+frame.Type, err)
	}
	return nil
}

// Expect receives the next frame and decodes it into v when it has the wanted
// type. An error frame from the peer is returned as the SyncError it carries.
func Expect(ctx context.Context, ch Channel, want string, v any) (types.Frame, error) {
	frame, err := ch.Receive(ctx)
	if err != nil {
		return frame, err
	}
	if frame.Type == types.FrameError {
		var p types.ErrorPayload
		if err := Decode(frame, &p); err != nil {
			return frame, err
		}
		return frame, types.NewSyncError(p.Kind, p.Message)
	}
	if frame.Type != want {
		return frame, types.ProtocolMismatchError(fmt.Sprintf("expected %s frame, got %q", want, frame.Type))
	}
	if v == nil {
		return frame, nil
	}
	return frame, Decode(frame, v)
}
