package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/websocket"
)

// maxFrameSize bounds a single inbound frame.
const maxFrameSize = 1 << 20

// Conn is one live chat socket.
type Conn interface {
	// Read blocks for the next text frame.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens chat sockets. The endpoint is fixed: department scoping
// happens on the client by filtering inbound messages.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// WebSocketDialer dials a plain websocket endpoint with no subprotocol and
// no handshake payload.
type WebSocketDialer struct {
	URL string
}

// Dial implements Dialer.
func (d WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial chat socket %s: %w", d.URL, err)
	}
	ws.SetReadLimit(maxFrameSize)
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	err := c.ws.Close(websocket.StatusNormalClosure, "scope changed")
	if err != nil && websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// RemoteClosed reports whether err is a close frame sent by the server,
// as opposed to a transport failure.
func RemoteClosed(err error) bool {
	return websocket.CloseStatus(err) != -1
}
