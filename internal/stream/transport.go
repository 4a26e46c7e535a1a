package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed for the close handshake frame.
	closeWait = time.Second

	// Maximum inbound message size.
	maxMessageSize = 1 << 20
)

// ErrInvalidTarget is returned for targets that are not absolute ws(s) or http(s) URLs.
var ErrInvalidTarget = errors.New("stream target must be an absolute ws(s) URL")

// Conn is one established stream connection.
type Conn interface {
	// ReadMessage blocks until the next inbound payload or an error.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one payload.
	WriteMessage(data []byte) error
	// Close releases the connection with a normal closure. Safe to call twice.
	Close() error
}

// Dialer opens stream connections.
type Dialer interface {
	Dial(ctx context.Context, target string) (Conn, error)
}

// WebSocketDialer dials targets with gorilla/websocket.
type WebSocketDialer struct {
	dialer *websocket.Dialer
	header http.Header
}

// NewWebSocketDialer creates a dialer whose handshake is bounded by
// handshakeTimeout.
func NewWebSocketDialer(handshakeTimeout time.Duration, header http.Header) *WebSocketDialer {
	return &WebSocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		header: header,
	}
}

// Dial performs the websocket handshake. http(s) targets are dialed as ws(s).
func (d *WebSocketDialer) Dial(ctx context.Context, target string) (Conn, error) {
	wsURL, err := websocketURL(target)
	if err != nil {
		return nil, err
	}
	conn, resp, err := d.dialer.DialContext(ctx, wsURL, d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s (status %d): %w", wsURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}
	conn.SetReadLimit(maxMessageSize)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWait))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// IsNormalClosure reports whether err is a peer close with code 1000 or 1001.
func IsNormalClosure(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// ValidateTarget checks that target is an absolute ws, wss, http or https URL.
func ValidateTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
}

func websocketURL(target string) (string, error) {
	if err := ValidateTarget(target); err != nil {
		return "", err
	}
	u, _ := url.Parse(target)
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

// ProjectTarget returns streamURL with the project_id query parameter set.
// Existing query parameters are kept. A non-positive projectID returns an
// empty target, which disconnects when passed to Manager.Connect.
func ProjectTarget(streamURL string, projectID int64) (string, error) {
	if projectID <= 0 {
		return "", nil
	}
	if err := ValidateTarget(streamURL); err != nil {
		return "", err
	}
	u, _ := url.Parse(streamURL)
	q := u.Query()
	q.Set("project_id", strconv.FormatInt(projectID, 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
