package types

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// DeviceType identifies the platform a peer runs on.
type DeviceType string

const (
	DeviceTypeAndroid DeviceType = "ANDROID"
	DeviceTypeDesktop DeviceType = "DESKTOP"
	DeviceTypeIOS     DeviceType = "IOS"
	DeviceTypeUnknown DeviceType = "UNKNOWN"
)

// ParseDeviceType maps config/wire spellings onto a DeviceType.
func ParseDeviceType(s string) DeviceType {
	switch DeviceType(s) {
	case DeviceTypeAndroid, DeviceTypeDesktop, DeviceTypeIOS:
		return DeviceType(s)
	}
	switch s {
	case "android", "mobile":
		return DeviceTypeAndroid
	case "desktop", "headless", "server":
		return DeviceTypeDesktop
	case "ios":
		return DeviceTypeIOS
	}
	return DeviceTypeUnknown
}

// DeviceInfo identifies a peer. It is created when the peer is first heard
// and treated as an immutable value afterwards.
type DeviceInfo struct {
	DeviceID   string     `json:"deviceId"`
	DeviceName string     `json:"deviceName"`
	DeviceType DeviceType `json:"deviceType"`
	AppVersion string     `json:"appVersion,omitempty"`
	IPAddress  string     `json:"ipAddress"`
	Port       int        `json:"port"`
	Protocol   string     `json:"protocol,omitempty"` // http | https
	// Fingerprint is the SHA-256 of the peer's TLS certificate, when announced.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Address returns host:port of the peer's sync endpoint.
func (d DeviceInfo) Address() string {
	return net.JoinHostPort(d.IPAddress, strconv.Itoa(d.Port))
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s (%s) at %s", d.DeviceName, d.DeviceID, d.Address())
}

// DiscoveredDevice is a point-in-time view of a peer. A new value is built for
// every discovery snapshot; IsReachable only holds for the cycle that produced it.
type DiscoveredDevice struct {
	Info         DeviceInfo `json:"info"`
	IsReachable  bool       `json:"isReachable"`
	DiscoveredAt time.Time  `json:"discoveredAt"`
	LastSeen     time.Time  `json:"lastSeen"`
}

// AnnounceMessage is broadcast over UDP multicast and posted to /register.
type AnnounceMessage struct {
	DeviceID        string     `json:"deviceId"`
	DeviceName      string     `json:"deviceName"`
	DeviceType      DeviceType `json:"deviceType"`
	AppVersion      string     `json:"appVersion,omitempty"`
	ProtocolVersion string     `json:"protocolVersion"`
	Port            int        `json:"port"`
	Protocol        string     `json:"protocol"`
	Announce        bool       `json:"announce"`
	Fingerprint     string     `json:"fingerprint,omitempty"`
}

// DeviceInfoAt builds the DeviceInfo of the announcing device as seen from ip.
func (m *AnnounceMessage) DeviceInfoAt(ip string) DeviceInfo {
	return DeviceInfo{
		DeviceID:    m.DeviceID,
		DeviceName:  m.DeviceName,
		DeviceType:  m.DeviceType,
		AppVersion:  m.AppVersion,
		IPAddress:   ip,
		Port:        m.Port,
		Protocol:    m.Protocol,
		Fingerprint: m.Fingerprint,
	}
}
