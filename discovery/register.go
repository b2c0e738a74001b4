package discovery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/types"
)

// Registrar answers an announcement by calling the peer's /register endpoint.
type Registrar interface {
	Register(ctx context.Context, ip string, remote, self *types.AnnounceMessage) (*types.AnnounceMessage, error)
}

// HTTPRegistrar posts this node's announce message to the peer.
type HTTPRegistrar struct{}

func (HTTPRegistrar) Register(ctx context.Context, ip string, remote, self *types.AnnounceMessage) (*types.AnnounceMessage, error) {
	if remote == nil || self == nil {
		return nil, fmt.Errorf("invalid callback params")
	}
	url := tool.BuildRegisterURL(ip, remote)
	payload, err := sonic.Marshal(self)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create register request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tool.NewHTTPClient(remote.Protocol, remote.Fingerprint).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send register request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("register request failed: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed reading register response: %w", err)
	}
	var out types.RegisterResponse
	if err := sonic.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse register response: %w", err)
	}
	return &out.Device, nil
}

// ShouldRespond reports whether incoming is an announcement from another device.
func ShouldRespond(self, incoming *types.AnnounceMessage) bool {
	if incoming == nil || !incoming.Announce {
		return false
	}
	if self != nil && self.DeviceID != "" && incoming.DeviceID == self.DeviceID {
		return false
	}
	return true
}
