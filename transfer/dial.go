package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/types"
)

// HTTP statuses a peer answers the session upgrade with.
const (
	StatusInvalidBody           = 400 // Invalid request
	StatusPinRequiredOrInvalid  = 401 // PIN required / Invalid PIN
	StatusRejected              = 403 // Rejected
	StatusBlockedByOtherSession = 409 // Blocked by another session
	StatusTooManyRequests       = 429 // Too many requests
	StatusUnknownReceiverError  = 500 // Unknown error by receiver
)

// Dialer opens a sync channel to a peer.
type Dialer interface {
	Dial(ctx context.Context, device types.DeviceInfo) (Channel, error)
}

// WSDialer dials the peer's websocket session endpoint.
type WSDialer struct {
	HandshakeTimeout time.Duration
	// Pin is sent in the tool.PinHeader header when set.
	Pin string
}

func NewWSDialer(pin string) *WSDialer {
	return &WSDialer{HandshakeTimeout: 10 * time.Second, Pin: pin}
}

func (d *WSDialer) Dial(ctx context.Context, device types.DeviceInfo) (Channel, error) {
	target, err := tool.BuildSessionURL(device)
	if err != nil {
		return nil, types.NetworkError("Device address unknown", err)
	}
	header := http.Header{}
	if d.Pin != "" {
		header.Set(tool.PinHeader, d.Pin)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if device.Protocol == "https" {
		if device.Fingerprint == "" {
			tool.DefaultLogger.Warnf("[Transfer] %s announced no certificate fingerprint, trusting it as presented", device)
		}
		dialer.TLSClientConfig = tool.PinnedTLSConfig(device.Fingerprint)
	}
	tool.DefaultLogger.Debugf("[Transfer] dialing %s", target)
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, tool.ErrFingerprintMismatch) {
			return nil, types.AuthError("The device's certificate does not match the one it announced")
		}
		if resp != nil {
			resp.Body.Close()
			return nil, StatusError(resp.StatusCode)
		}
		return nil, mapNetErr(err)
	}
	return NewWSChannel(conn), nil
}

// StatusError maps a refused upgrade to the SyncError the user sees.
func StatusError(code int) *types.SyncError {
	switch code {
	case StatusPinRequiredOrInvalid:
		return types.AuthError("")
	case StatusRejected:
		return types.RejectedError("")
	case StatusBlockedByOtherSession, StatusTooManyRequests:
		return types.BusyError("The other device is busy with another sync")
	case StatusInvalidBody:
		return types.ProtocolMismatchError("")
	default:
		return types.NetworkError(fmt.Sprintf("Unexpected response %d from peer", code), nil)
	}
}
