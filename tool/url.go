package tool

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/moyoez/readersync/types"
)

const (
	DefaultAPIPort = 8963
	APIPrefix      = "/api/readersync/v1"
	// PinHeader carries the pairing pin on the session upgrade request.
	PinHeader = "X-Readersync-Pin"
)

func schemeAndPort(protocol string, port int) (string, int) {
	if protocol == "" {
		protocol = "http"
	}
	if port == 0 {
		port = DefaultAPIPort
	}
	return protocol, port
}

// BuildRegisterURL builds the /register callback URL of a peer.
func BuildRegisterURL(ip string, remote *types.AnnounceMessage) string {
	scheme, port := schemeAndPort(remote.Protocol, remote.Port)
	return fmt.Sprintf("%s://%s%s/register", scheme, net.JoinHostPort(ip, strconv.Itoa(port)), APIPrefix)
}

// BuildSessionURL builds the websocket URL of a peer's sync channel.
func BuildSessionURL(device types.DeviceInfo) (string, error) {
	scheme, port := schemeAndPort(device.Protocol, device.Port)
	wsScheme := "ws"
	if scheme == "https" {
		wsScheme = "wss"
	}
	if device.IPAddress == "" {
		return "", fmt.Errorf("device %s has no address", device.DeviceID)
	}
	u := url.URL{
		Scheme: wsScheme,
		Host:   net.JoinHostPort(device.IPAddress, strconv.Itoa(port)),
		Path:   APIPrefix + "/session",
	}
	q := u.Query()
	q.Set("deviceId", device.DeviceID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
