package share

import (
	"fmt"
	"net"
	"strings"

	"github.com/moyoez/readersync/tool"
)

// SelfNetworkInfo represents the local device's network information
// including IP address and broadcast segment number
type SelfNetworkInfo struct {
	InterfaceName string `json:"interface_name"`
	IPAddress     string `json:"ip_address"`
	Number        string `json:"number"`
}

var rejectedInterfacePrefixes = []string{"tun", "tap", "utun", "wg", "docker", "veth", "br-", "zt"}

func rejectUnsupportedInterface(iface *net.Interface) bool {
	if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
		return true
	}
	name := strings.ToLower(iface.Name)
	for _, prefix := range rejectedInterfacePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// GetSelfNetworkInfos returns all valid local IPv4 interfaces.
// It ignores tun/vpn interfaces and loopback interfaces.
// The number is derived from the last octet of the IP address.
// For example: 192.168.3.12 -> #12
func GetSelfNetworkInfos() []SelfNetworkInfo {
	var result []SelfNetworkInfo

	interfaces, err := net.Interfaces()
	if err != nil {
		tool.DefaultLogger.Errorf("Failed to get network interfaces: %v", err)
		return result
	}

	for _, iface := range interfaces {
		if rejectUnsupportedInterface(&iface) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP.To4()
			if ip == nil || ip.IsLoopback() {
				continue
			}
			result = append(result, SelfNetworkInfo{
				InterfaceName: iface.Name,
				IPAddress:     ip.String(),
				Number:        fmt.Sprintf("#%d", int(ip[3])),
			})
		}
	}
	return result
}

// PrimaryIPv4 returns the first usable local address or "".
func PrimaryIPv4() string {
	infos := GetSelfNetworkInfos()
	if len(infos) == 0 {
		return ""
	}
	return infos[0].IPAddress
}
