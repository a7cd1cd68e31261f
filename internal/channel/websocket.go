package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 2 * time.Second
	pongWait   = 3 * time.Second
	pingPeriod = 1 * time.Second
)

// DialOptions configure the controller side of a link.
type DialOptions struct {
	// Token is sent as a bearer token during the handshake. Empty sends
	// none.
	Token            string
	HandshakeTimeout time.Duration
}

func (o DialOptions) header() http.Header {
	h := http.Header{}
	if o.Token != "" {
		h.Set("Authorization", "Bearer "+o.Token)
	}
	return h
}

// closeStatus extracts the websocket close code and text when err carries one.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

// wsURL joins the robot base URL with a channel path.
func wsURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse robot url %q: %w", base, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("robot url %q: unsupported scheme %q", base, u.Scheme)
	}
	return u.JoinPath(path).String(), nil
}

// handshakeError maps a failed handshake response onto the package errors.
func handshakeError(target string, resp *http.Response, err error) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusConflict:
			return fmt.Errorf("dial %s: %w", target, ErrBusy)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("dial %s: %w", target, ErrUnauthorized)
		}
	}
	return fmt.Errorf("dial %s: %w", target, err)
}

// WSConn is a control link over a websocket. Tokens travel as text frames.
type WSConn struct {
	conn    *websocket.Conn
	mailbox *Mailbox
	logger  *slog.Logger
	onClose func()

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

// DialWebsocket connects to the robot at baseURL (for example
// "ws://ricardo.local:8765") and returns the controller's end of the link.
func DialWebsocket(ctx context.Context, baseURL string, opts DialOptions, logger *slog.Logger) (*WSConn, error) {
	target, err := wsURL(baseURL, MailboxPath)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, target, opts.header())
	if err != nil {
		return nil, handshakeError(target, resp, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("websocket link established", "url", target)
	c := newWSConn(conn, NewMailbox(), logger, nil)
	c.start()
	return c, nil
}

func newWSConn(conn *websocket.Conn, mailbox *Mailbox, logger *slog.Logger, onClose func()) *WSConn {
	return &WSConn{
		conn:    conn,
		mailbox: mailbox,
		logger:  logger,
		onClose: onClose,
		done:    make(chan struct{}),
	}
}

func (c *WSConn) start() {
	go c.readPump()
	go c.pingPump()
}

func (c *WSConn) Send(token string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(token)); err != nil {
		c.shutdown()
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

func (c *WSConn) Read() (string, bool) { return c.mailbox.Read() }

func (c *WSConn) Connected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Done is closed once the link is gone.
func (c *WSConn) Done() <-chan struct{} { return c.done }

// Close sends a normal close frame and tears the connection down.
func (c *WSConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.shutdown()
	return nil
}

func (c *WSConn) shutdown() {
	c.once.Do(func() {
		c.conn.Close()
		close(c.done)
		if c.onClose != nil {
			c.onClose()
		}
	})
}

// readPump moves text frames into the mailbox until the connection fails.
func (c *WSConn) readPump() {
	defer c.shutdown()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if code, text, ok := closeStatus(err); ok {
				c.logger.Info("websocket link closed", "code", code, "reason", text)
			} else if !errors.Is(err, websocket.ErrCloseSent) {
				select {
				case <-c.done:
				default:
					c.logger.Warn("websocket link lost", "error", err)
				}
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		// Any traffic proves the peer alive.
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.mailbox.Put(string(data))
	}
}

// pingPump keeps the read deadline on the far side fed.
func (c *WSConn) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.shutdown()
				return
			}
		}
	}
}
