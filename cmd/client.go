package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/moyoez/readersync/api"
	"github.com/moyoez/readersync/api/models"
	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/types"
)

// controlClient talks to the control API of the node running on this machine.
type controlClient struct {
	base   string
	client *http.Client
}

func newControlClient(c tool.AppConfig) *controlClient {
	return &controlClient{
		base: fmt.Sprintf("%s://%s%s", c.Protocol, net.JoinHostPort("127.0.0.1", strconv.Itoa(c.Port)), api.ControlPrefix),
		// loopback to our own node, whose certificate changes on every start
		client: tool.NewHTTPClient(c.Protocol, ""),
	}
}

type envelope[T any] struct {
	Data       T                   `json:"data"`
	Error      string              `json:"error"`
	Kind       types.SyncErrorKind `json:"kind"`
	Suggestion string              `json:"suggestion"`
}

func (c *controlClient) do(ctx context.Context, method, path string, out any) error {
	return c.send(ctx, method, path, nil, out)
}

func (c *controlClient) send(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := sonic.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("node not reachable, is \"readersync serve\" running? %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var failure envelope[any]
		if err := sonic.Unmarshal(raw, &failure); err == nil && failure.Error != "" {
			if failure.Kind != "" {
				return &types.SyncError{Kind: failure.Kind, Message: failure.Error}
			}
			return fmt.Errorf("%s", failure.Error)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return sonic.Unmarshal(raw, out)
}

func (c *controlClient) Devices(ctx context.Context) ([]models.DeviceView, error) {
	var env envelope[[]models.DeviceView]
	err := c.do(ctx, http.MethodGet, "/devices", &env)
	return env.Data, err
}

func (c *controlClient) Status(ctx context.Context) (types.StatusView, error) {
	var env envelope[types.StatusView]
	err := c.do(ctx, http.MethodGet, "/status", &env)
	return env.Data, err
}

func (c *controlClient) History(ctx context.Context, limit int) ([]types.SyncLogEntry, error) {
	var env envelope[[]types.SyncLogEntry]
	err := c.do(ctx, http.MethodGet, "/history?limit="+strconv.Itoa(limit), &env)
	return env.Data, err
}

func (c *controlClient) StartDiscovery(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/discovery/start", nil)
}

func (c *controlClient) Sync(ctx context.Context, deviceID string, strategy types.ConflictResolutionStrategy) (models.SyncAccepted, error) {
	path := "/sync/" + url.PathEscape(deviceID)
	if strategy != "" {
		path += "?strategy=" + url.QueryEscape(string(strategy))
	}
	var env envelope[models.SyncAccepted]
	err := c.do(ctx, http.MethodPost, path, &env)
	return env.Data, err
}

func (c *controlClient) Resolve(ctx context.Context, choices map[string]types.ResolutionChoice) error {
	return c.send(ctx, http.MethodPost, "/conflicts/resolve", models.ResolveRequest{Choices: choices}, nil)
}

// PairURI is the pairing code of the running node, fingerprint included.
func (c *controlClient) PairURI(ctx context.Context) (string, error) {
	var env envelope[string]
	err := c.do(ctx, http.MethodGet, "/pair/qr?format=uri", &env)
	return env.Data, err
}

func (c *controlClient) Cancel(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/cancel", nil)
}
