package tunnelhttp

import (
	"bufio"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// tunnelConn is the minimal surface Serve needs from a sniffed socket.
type tunnelConn interface {
	net.Conn
}

// hijackWriter lets gorilla/websocket.Upgrader hijack a connection
// Serve already owns, without routing the upgrade through a real
// net/http server and listener.
type hijackWriter struct {
	header http.Header
	code   int
	conn   net.Conn
	rw     *bufio.ReadWriter
}

func (h *hijackWriter) Header() http.Header { return h.header }

func (h *hijackWriter) Write(b []byte) (int, error) {
	n, err := h.rw.Write(b)
	if err == nil {
		err = h.rw.Flush()
	}
	return n, err
}

func (h *hijackWriter) WriteHeader(code int) { h.code = code }

func (h *hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return h.conn, h.rw, nil
}

// websocketConn adapts a *websocket.Conn to net.Conn, framing each
// Write as one binary message and buffering a message across multiple
// Reads, the same pattern tunnelWrapper uses for the message-backed
// Tunnel carrier.
type websocketConn struct {
	ws *websocket.Conn

	mu      sync.Mutex
	pending []byte
}

func newWebsocketConn(ws *websocket.Conn) *websocketConn {
	return &websocketConn{ws: ws}
}

func (c *websocketConn) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) == 0 {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		c.pending = data
	}
	n := copy(b, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *websocketConn) Write(b []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *websocketConn) Close() error                       { return c.ws.Close() }
func (c *websocketConn) LocalAddr() net.Addr                { return c.ws.LocalAddr() }
func (c *websocketConn) RemoteAddr() net.Addr               { return c.ws.RemoteAddr() }
func (c *websocketConn) SetDeadline(t time.Time) error      { return c.ws.UnderlyingConn().SetDeadline(t) }
func (c *websocketConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *websocketConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
