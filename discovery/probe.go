package discovery

import (
	"context"
	"net"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/types"
)

// Prober checks whether a peer can currently be reached.
type Prober interface {
	Probe(ctx context.Context, device types.DeviceInfo) bool
}

// NewProber returns the prober for a reachability mode: tcp, icmp or none.
func NewProber(mode string, timeout time.Duration) Prober {
	switch mode {
	case "icmp":
		return ICMPProber{Timeout: timeout}
	case "none":
		return noopProber{}
	default:
		return TCPProber{Timeout: timeout}
	}
}

// TCPProber dials the peer's API port.
type TCPProber struct {
	Timeout time.Duration
}

func (p TCPProber) Probe(ctx context.Context, device types.DeviceInfo) bool {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", device.Address())
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// ICMPProber sends a single echo request. Unprivileged mode uses UDP pings,
// which most desktop kernels allow without root.
type ICMPProber struct {
	Timeout    time.Duration
	Privileged bool
}

func (p ICMPProber) Probe(ctx context.Context, device types.DeviceInfo) bool {
	pinger, err := probing.NewPinger(device.IPAddress)
	if err != nil {
		tool.DefaultLogger.Debugf("[Discovery] pinger for %s: %v", device.IPAddress, err)
		return false
	}
	pinger.Count = 1
	pinger.Timeout = p.Timeout
	pinger.SetPrivileged(p.Privileged)
	if err := pinger.RunWithContext(ctx); err != nil {
		tool.DefaultLogger.Debugf("[Discovery] ping %s: %v", device.IPAddress, err)
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}

type noopProber struct{}

func (noopProber) Probe(context.Context, types.DeviceInfo) bool { return true }
