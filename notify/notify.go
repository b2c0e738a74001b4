// Package notify posts sync events to a webhook.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"

	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/types"
)

// Notification types.
const (
	TypeSyncCompleted = "sync_completed"
	TypeSyncFailed    = "sync_failed"
	TypeSyncCancelled = "sync_cancelled"
	TypeDeviceFound   = "device_found"
)

// Notification represents a notification message structure
type Notification struct {
	Type    string         `json:"type,omitempty"`
	Title   string         `json:"title,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Options contains options for sending notifications
type Options struct {
	URL     string            // Target URL
	Method  string            // HTTP method, defaults to POST
	Headers map[string]string // Custom HTTP headers
	Timeout time.Duration     // 0 means tool.DefaultTimeout
}

// Send posts notification to options.URL.
// If notification is nil, an empty JSON object will be sent
func Send(ctx context.Context, notification *Notification, options Options) error {
	if options.URL == "" {
		return fmt.Errorf("notification URL cannot be empty")
	}
	parsedURL, err := url.Parse(options.URL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("unsupported notification URL scheme %q", parsedURL.Scheme)
	}
	method := options.Method
	if method == "" {
		method = http.MethodPost
	}

	payload := []byte("{}")
	if notification != nil {
		payload, err = sonic.Marshal(notification)
		if err != nil {
			return fmt.Errorf("failed to serialize notification data: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, options.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range options.Headers {
		req.Header.Set(key, value)
	}

	// Webhooks are ordinary servers, verified against the system roots.
	client := &http.Client{Timeout: tool.DefaultTimeout}
	if options.Timeout > 0 {
		client.Timeout = options.Timeout
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		tool.DefaultLogger.Debugf("failed to read response body: %v", readErr)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("notification send failed, HTTP status code: %d, response: %s", resp.StatusCode, string(body))
	}
	if notification != nil {
		tool.DefaultLogger.Infof("notification successfully sent to %s: %s - %s", options.URL, notification.Type, notification.Title)
	}
	return nil
}

// FromSyncLog builds the notification for a finished session.
func FromSyncLog(entry types.SyncLogEntry, extra map[string]any) *Notification {
	n := &Notification{
		Data: map[string]any{
			"syncId":      entry.SyncID,
			"deviceId":    entry.DeviceID,
			"deviceName":  entry.DeviceName,
			"itemsSynced": entry.ItemsSynced,
			"durationMs":  entry.DurationMs,
			"timestamp":   entry.Timestamp,
		},
	}
	maps.Copy(n.Data, extra)
	switch entry.Status {
	case types.PhaseCompleted:
		n.Type = TypeSyncCompleted
		n.Title = "Sync completed"
		n.Message = fmt.Sprintf("Synced %d item(s) with %s", entry.ItemsSynced, entry.DeviceName)
		if entry.Unresolved > 0 {
			n.Message += fmt.Sprintf(", %d conflict(s) left unresolved", entry.Unresolved)
			n.Data["unresolved"] = entry.Unresolved
		}
	case types.PhaseCancelled:
		n.Type = TypeSyncCancelled
		n.Title = "Sync cancelled"
		n.Message = fmt.Sprintf("Sync with %s was cancelled", entry.DeviceName)
	default:
		n.Type = TypeSyncFailed
		n.Title = "Sync failed"
		n.Message = entry.Error
		n.Data["error"] = entry.Error
	}
	return n
}

// FromDevice builds the notification for a newly discovered peer.
func FromDevice(info types.DeviceInfo) *Notification {
	return &Notification{
		Type:    TypeDeviceFound,
		Title:   "Device found",
		Message: fmt.Sprintf("%s is nearby", info.DeviceName),
		Data: map[string]any{
			"deviceId":   info.DeviceID,
			"deviceName": info.DeviceName,
			"deviceType": info.DeviceType,
			"ipAddress":  info.IPAddress,
		},
	}
}

// Notifier sends sync results to a fixed webhook in the background.
type Notifier struct {
	opts Options
}

// New returns nil when url is empty; a nil Notifier drops everything.
func New(webhookURL string) *Notifier {
	if webhookURL == "" {
		return nil
	}
	return &Notifier{opts: Options{URL: webhookURL, Timeout: 5 * time.Second}}
}

// SyncFinished posts entry without blocking the caller.
func (n *Notifier) SyncFinished(entry types.SyncLogEntry) {
	if n == nil {
		return
	}
	go func() {
		if err := Send(context.Background(), FromSyncLog(entry, nil), n.opts); err != nil {
			tool.DefaultLogger.Warnf("[Notify] %v", err)
		}
	}()
}

// DeviceFound posts a device_found event without blocking discovery.
func (n *Notifier) DeviceFound(info types.DeviceInfo) {
	if n == nil {
		return
	}
	go func() {
		if err := Send(context.Background(), FromDevice(info), n.opts); err != nil {
			tool.DefaultLogger.Warnf("[Notify] %v", err)
		}
	}()
}
