// Package discovery finds peers on the local network through UDP multicast
// announcements and the HTTP register callback.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/types"
)

// Packet is one announcement heard on the network.
type Packet struct {
	Message types.AnnounceMessage
	IP      string
}

// Transport announces this node and delivers announcements of others.
type Transport interface {
	// Open starts listening. The returned channel is closed when the transport closes.
	Open(ctx context.Context) (<-chan Packet, error)
	Send(ctx context.Context, msg *types.AnnounceMessage) error
	Close() error
}

// UDPTransport is the multicast Transport.
type UDPTransport struct {
	group string
	port  int

	mu   sync.Mutex
	conn *net.UDPConn
	out  *net.UDPConn
}

func NewUDPTransport(group string, port int) *UDPTransport {
	return &UDPTransport{group: group, port: port}
}

func (t *UDPTransport) addr() (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(t.group, fmt.Sprint(t.port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	return addr, nil
}

func (t *UDPTransport) Open(ctx context.Context) (<-chan Packet, error) {
	addr, err := t.addr()
	if err != nil {
		return nil, err
	}
	c, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on multicast UDP address: %w", err)
	}
	out, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to dial UDP address: %w", err)
	}
	_ = c.SetReadBuffer(256 * 1024)
	t.mu.Lock()
	t.conn, t.out = c, out
	t.mu.Unlock()
	tool.DefaultLogger.Infof("[Discovery] listening on multicast UDP address: %s", addr.String())

	packets := make(chan Packet, 16)
	go func() {
		defer close(packets)
		buf := make([]byte, 64*1024)
		for {
			n, from, err := c.ReadFromUDP(buf)
			if err != nil {
				if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
					return
				}
				tool.DefaultLogger.Errorf("[Discovery] error reading from UDP: %v", err)
				continue
			}
			var msg types.AnnounceMessage
			if err := sonic.Unmarshal(buf[:n], &msg); err != nil {
				tool.DefaultLogger.Debugf("[Discovery] failed to parse UDP message from %s: %v", from, err)
				continue
			}
			select {
			case packets <- Packet{Message: msg, IP: from.IP.String()}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return packets, nil
}

func (t *UDPTransport) Send(_ context.Context, msg *types.AnnounceMessage) error {
	t.mu.Lock()
	out := t.out
	t.mu.Unlock()
	if out == nil {
		return fmt.Errorf("transport not open")
	}
	payload, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if _, err := out.Write(payload); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	if t.conn != nil {
		errs = append(errs, t.conn.Close())
		t.conn = nil
	}
	if t.out != nil {
		errs = append(errs, t.out.Close())
		t.out = nil
	}
	return errors.Join(errs...)
}
