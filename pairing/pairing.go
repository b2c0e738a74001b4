// Package pairing encodes a node's address and pin into a QR code another
// device can scan to sync without discovery.
package pairing

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/skip2/go-qrcode"

	"github.com/moyoez/readersync/types"
)

const (
	scheme         = "readersync://pair?data="
	payloadVersion = 1
	// DefaultTTL is how long a generated code stays valid.
	DefaultTTL = 5 * time.Minute
)

// Payload is the content of a pairing code.
type Payload struct {
	Version     int    `json:"v"`
	DeviceID    string `json:"id"`
	DeviceName  string `json:"name"`
	IP          string `json:"ip"`
	Port        int    `json:"port"`
	Protocol    string `json:"proto"`
	Pin         string `json:"pin,omitempty"`
	Fingerprint string `json:"fp,omitempty"`
	Expires     int64  `json:"exp"`
}

// NewPayload describes self reachable at ip, valid for ttl from now.
func NewPayload(self *types.AnnounceMessage, ip, pin string, now time.Time, ttl time.Duration) Payload {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return Payload{
		Version:     payloadVersion,
		DeviceID:    self.DeviceID,
		DeviceName:  self.DeviceName,
		IP:          ip,
		Port:        self.Port,
		Protocol:    self.Protocol,
		Pin:         pin,
		Fingerprint: self.Fingerprint,
		Expires:     now.Add(ttl).Unix(),
	}
}

// DeviceInfo is the peer the payload points at.
func (p Payload) DeviceInfo() types.DeviceInfo {
	return types.DeviceInfo{
		DeviceID:    p.DeviceID,
		DeviceName:  p.DeviceName,
		IPAddress:   p.IP,
		Port:        p.Port,
		Protocol:    p.Protocol,
		Fingerprint: p.Fingerprint,
	}
}

// URI renders the payload as the text stored in the QR code.
func (p Payload) URI() (string, error) {
	data, err := sonic.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal pairing data: %w", err)
	}
	return scheme + base64.URLEncoding.EncodeToString(data), nil
}

// Parse decodes a scanned URI and rejects expired or unknown versions.
func Parse(uri string, now time.Time) (Payload, error) {
	var p Payload
	encoded, ok := strings.CutPrefix(strings.TrimSpace(uri), scheme)
	if !ok {
		return p, fmt.Errorf("invalid pairing code format")
	}
	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return p, fmt.Errorf("failed to decode pairing code: %w", err)
	}
	if err := sonic.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse pairing data: %w", err)
	}
	if p.Version != payloadVersion {
		return p, fmt.Errorf("unsupported pairing code version: %d", p.Version)
	}
	if now.Unix() > p.Expires {
		return p, fmt.Errorf("pairing code has expired")
	}
	if p.IP == "" {
		return p, fmt.Errorf("pairing code has no address")
	}
	return p, nil
}

// PNG renders the payload as a size×size PNG.
func PNG(p Payload, size int) ([]byte, error) {
	uri, err := p.URI()
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(uri, qrcode.Medium, size)
}

// Terminal renders the payload for a text console.
func Terminal(p Payload) (string, error) {
	uri, err := p.URI()
	if err != nil {
		return "", err
	}
	qr, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to generate QR code: %w", err)
	}
	return qr.ToSmallString(false), nil
}
