package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/moyoez/readersync/pairing"
	"github.com/moyoez/readersync/session"
	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/transfer"
	"github.com/moyoez/readersync/types"
)

func selfAnnounce() *types.AnnounceMessage {
	return &types.AnnounceMessage{
		DeviceID:        "self-id",
		DeviceName:      "Self",
		DeviceType:      types.DeviceTypeDesktop,
		ProtocolVersion: types.ProtocolVersion,
		Port:            8963,
		Protocol:        "http",
		Announce:        true,
	}
}

type fakePeers struct {
	mu   sync.Mutex
	seen map[string]string
}

func (f *fakePeers) Register(msg *types.AnnounceMessage, ip string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = map[string]string{}
	}
	f.seen[msg.DeviceID] = ip
	return true
}

func (f *fakePeers) Self() *types.AnnounceMessage { return selfAnnounce() }

type fakeResponder struct {
	busy   bool
	pin    string
	served int
}

func (f *fakeResponder) Busy() bool               { return f.busy }
func (f *fakeResponder) CheckPin(pin string) bool { return f.pin == "" || f.pin == pin }
func (f *fakeResponder) Serve(context.Context, transfer.Channel, string) error {
	f.served++
	return nil
}

type fakeControl struct {
	status     types.SyncStatus
	devices    []types.DiscoveredDevice
	syncErr    error
	resolveErr error
	synced     []string
	strategies []types.ConflictResolutionStrategy
	choices    map[string]types.ResolutionChoice
	cancelled  bool
	lastSync   map[string]time.Time
}

func (f *fakeControl) Devices() []types.DiscoveredDevice { return f.devices }
func (f *fakeControl) StatusSeq() (types.SyncStatus, uint64) {
	return f.status, uint64(len(f.synced))
}
func (f *fakeControl) StartDiscovery() error {
	f.status = types.StatusDiscovering{}
	return nil
}
func (f *fakeControl) StopDiscovery() error {
	f.status = types.StatusIdle{}
	return nil
}
func (f *fakeControl) StartSync(deviceID string, strategy types.ConflictResolutionStrategy) (uint64, error) {
	if f.syncErr != nil {
		return 0, f.syncErr
	}
	f.synced = append(f.synced, deviceID)
	f.strategies = append(f.strategies, strategy)
	return uint64(len(f.synced)), nil
}
func (f *fakeControl) CancelSync() error {
	f.cancelled = true
	return nil
}
func (f *fakeControl) PendingConflicts() []types.DataConflict { return nil }
func (f *fakeControl) SubmitResolution(choices map[string]types.ResolutionChoice) error {
	if f.resolveErr != nil {
		return f.resolveErr
	}
	f.choices = choices
	return nil
}
func (f *fakeControl) SyncLog(context.Context, int) ([]types.SyncLogEntry, error) {
	return []types.SyncLogEntry{{SyncID: "s1", DeviceID: "peer", Status: types.PhaseCompleted}}, nil
}
func (f *fakeControl) LastSyncTime(_ context.Context, deviceID string) (time.Time, bool, error) {
	at, ok := f.lastSync[deviceID]
	return at, ok, nil
}
func (f *fakeControl) PairingPayload() (pairing.Payload, error) {
	return pairing.NewPayload(selfAnnounce(), "192.168.1.20", "1234", time.Now(), time.Minute), nil
}

type testServer struct {
	handler   http.Handler
	peers     *fakePeers
	responder *fakeResponder
	control   *fakeControl
}

func newTestServer(t *testing.T, mutate func(*Deps)) *testServer {
	t.Helper()
	ts := &testServer{
		peers:     &fakePeers{},
		responder: &fakeResponder{},
		control:   &fakeControl{status: types.StatusIdle{}},
	}
	deps := Deps{
		Peers:        ts.peers,
		Responder:    ts.responder,
		Control:      ts.control,
		Capabilities: types.AllCapabilities,
	}
	if mutate != nil {
		mutate(&deps)
	}
	ts.handler = NewServer(0, "http", "test", deps).Handler()
	return ts
}

func (ts *testServer) do(method, path, body string, local bool) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if local {
		req.RemoteAddr = "127.0.0.1:40000"
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestRegister(t *testing.T) {
	ts := newTestServer(t, nil)
	body, err := sonic.Marshal(types.AnnounceMessage{DeviceID: "peer-1", DeviceName: "Phone", Port: 8963, Protocol: "http"})
	require.NoError(t, err)

	rec := ts.do(http.MethodPost, PeerPrefix+"/register", string(body), false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.RegisterResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "self-id", resp.Device.DeviceID)
	assert.Equal(t, "192.0.2.1", ts.peers.seen["peer-1"])
}

func TestRegisterRejectsBadBody(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPost, PeerPrefix+"/register", "{not json", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, PeerPrefix+"/register", `{"deviceName":"no id"}`, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ts.peers.seen)
}

func TestInfo(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) { d.PinRequired = true })
	rec := ts.do(http.MethodGet, PeerPrefix+"/info", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pinRequired":true`)
	assert.Contains(t, rec.Body.String(), types.CapabilityProgress)
}

func TestSessionChecksPinBeforeUpgrade(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.responder.pin = "1234"

	req := httptest.NewRequest(http.MethodGet, PeerPrefix+"/session", nil)
	req.Header.Set(tool.PinHeader, "0000")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// right pin gets past the check; the plain GET then fails the upgrade
	req = httptest.NewRequest(http.MethodGet, PeerPrefix+"/session", nil)
	req.Header.Set(tool.PinHeader, "1234")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// a pin in the query string is not read
	rec = ts.do(http.MethodGet, PeerPrefix+"/session?pin=1234", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, ts.responder.served)
}

func TestSessionBusy(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.responder.busy = true

	rec := ts.do(http.MethodGet, PeerPrefix+"/session", "", false)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, types.ErrKindBusy, transfer.StatusError(rec.Code).Kind)
}

func TestPeerRateLimit(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.PeerRate = rate.Every(time.Hour)
		d.PeerBurst = 1
	})
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, PeerPrefix+"/info", "", false).Code)
	assert.Equal(t, http.StatusTooManyRequests, ts.do(http.MethodGet, PeerPrefix+"/info", "", false).Code)
}

func TestControlIsLocalOnly(t *testing.T) {
	ts := newTestServer(t, nil)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, ControlPrefix+"/status", "", false).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, ControlPrefix+"/status", "", true).Code)

	remote := newTestServer(t, func(d *Deps) { d.RemoteControl = true })
	assert.Equal(t, http.StatusOK, remote.do(http.MethodGet, ControlPrefix+"/status", "", false).Code)
}

func TestControlStatusAndDiscovery(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, ControlPrefix+"/discovery/start", "", true)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodGet, ControlPrefix+"/status", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"phase":"discovering"`)
	assert.NotContains(t, rec.Body.String(), `"seq"`)

	rec = ts.do(http.MethodPost, ControlPrefix+"/discovery/stop", "", true)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, types.PhaseIdle, ts.control.status.Phase())
}

func TestControlDevicesCarryLastSync(t *testing.T) {
	ts := newTestServer(t, nil)
	at := time.UnixMilli(1700000000000)
	ts.control.devices = []types.DiscoveredDevice{
		{Info: types.DeviceInfo{DeviceID: "a", DeviceName: "Phone"}, IsReachable: true},
		{Info: types.DeviceInfo{DeviceID: "b", DeviceName: "Tablet"}},
	}
	ts.control.lastSync = map[string]time.Time{"a": at}

	rec := ts.do(http.MethodGet, ControlPrefix+"/devices", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "lastSyncAt"))
	assert.Contains(t, rec.Body.String(), "Tablet")
}

func TestControlSync(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, ControlPrefix+"/sync/peer-1?strategy=remote_wins", "", true)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"after":1`)
	assert.Equal(t, []string{"peer-1"}, ts.control.synced)
	assert.Equal(t, []types.ConflictResolutionStrategy{types.StrategyRemoteWins}, ts.control.strategies)

	rec = ts.do(http.MethodPost, ControlPrefix+"/sync/peer-1?strategy=coin_flip", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.control.syncErr = session.ErrSessionInProgress
	rec = ts.do(http.MethodPost, ControlPrefix+"/sync/peer-1", "", true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"busy"`)
}

func TestControlCancel(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPost, ControlPrefix+"/cancel", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.control.cancelled)
}

func TestControlResolve(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, ControlPrefix+"/conflicts/resolve", `{"choices":{"c1":"remote"}}`, true)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, types.ChooseRemote, ts.control.choices["c1"])

	rec = ts.do(http.MethodPost, ControlPrefix+"/conflicts/resolve", `{"choices":{"c1":"both"}}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, ControlPrefix+"/conflicts/resolve", `{"choices":{}}`, true)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, ts.control.choices)

	rec = ts.do(http.MethodPost, ControlPrefix+"/conflicts/resolve", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.control.resolveErr = session.ErrNoActiveSession
	rec = ts.do(http.MethodPost, ControlPrefix+"/conflicts/resolve", `{"choices":{"c1":"local"}}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.control.resolveErr = session.ErrNotAwaitingResolution
	rec = ts.do(http.MethodPost, ControlPrefix+"/conflicts/resolve", `{"choices":{"c1":"local"}}`, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestControlHistory(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodGet, ControlPrefix+"/history?limit=5", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"syncId":"s1"`)

	rec = ts.do(http.MethodGet, ControlPrefix+"/history?limit=-1", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPairQR(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, ControlPrefix+"/pair/qr", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = ts.do(http.MethodGet, ControlPrefix+"/pair/qr?format=uri", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "readersync://pair?data=")
}
