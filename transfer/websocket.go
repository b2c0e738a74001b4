package transfer

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxFrame   = 32 << 20
)

type received struct {
	frame types.Frame
	err   error
}

// WSChannel is a Channel over a websocket connection. A single reader
// goroutine decodes frames so Receive can select on ctx.
type WSChannel struct {
	conn    *websocket.Conn
	in      chan received
	done    chan struct{}
	writeMu sync.Mutex
	once    sync.Once
}

// NewWSChannel takes ownership of conn.
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	c := &WSChannel{
		conn: conn,
		in:   make(chan received, 8),
		done: make(chan struct{}),
	}
	conn.SetReadLimit(maxFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.readLoop()
	go c.pingLoop()
	return c
}

func (c *WSChannel) readLoop() {
	defer close(c.in)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				tool.DefaultLogger.Debugf("[Transfer] websocket closed unexpectedly: %v", err)
			}
			c.deliver(received{err: mapNetErr(err)})
			return
		}
		var frame types.Frame
		if err := sonic.Unmarshal(data, &frame); err != nil {
			c.deliver(received{err: types.TransferError("malformed frame", err)})
			continue
		}
		if !c.deliver(received{frame: frame}) {
			return
		}
	}
}

func (c *WSChannel) deliver(r received) bool {
	select {
	case c.in <- r:
		return true
	case <-c.done:
		return false
	}
}

func (c *WSChannel) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *WSChannel) Send(ctx context.Context, frame types.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return types.NetworkError("", ErrClosed)
	default:
	}
	data, err := sonic.Marshal(frame)
	if err != nil {
		return types.TransferError("encode frame", err)
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return mapNetErr(err)
	}
	return nil
}

func (c *WSChannel) Receive(ctx context.Context) (types.Frame, error) {
	select {
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	case r, ok := <-c.in:
		if !ok {
			return types.Frame{}, types.NetworkError("", ErrClosed)
		}
		return r.frame, r.err
	case <-c.done:
		return types.Frame{}, types.NetworkError("", ErrClosed)
	}
}

// Close sends a close message and releases the connection. Safe to call twice.
func (c *WSChannel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func mapNetErr(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return types.TimeoutError("", err)
	}
	return types.NetworkError("", err)
}
