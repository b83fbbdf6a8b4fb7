// Package middleware implements the remote backend: an authenticated
// JSON-RPC-over-WebSocket session against the storage management daemon.
// One reader goroutine demultiplexes inbound frames into call responses and
// server-pushed job events.
package middleware

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"snapportal/src/backend"
)

// jobsCollection is the event collection the daemon pushes job updates on.
const jobsCollection = "core.get_jobs"

// Config for the websocket client.
type Config struct {
	URL         string // ws:// or wss:// endpoint
	APIKey      string
	VerifyTLS   bool
	CallTimeout time.Duration
}

type rpcError struct {
	Code    int    `json:"error"`
	Name    string `json:"errname"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (e *rpcError) String() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("rpc error %d %s", e.Code, e.Name)
}

type inFrame struct {
	ID         *int64          `json:"id"`
	Msg        string          `json:"msg"`
	Result     json.RawMessage `json:"result"`
	Error      *rpcError       `json:"error"`
	Collection string          `json:"collection"`
	Fields     json.RawMessage `json:"fields"`
}

type outFrame struct {
	ID     int64  `json:"id,omitempty"`
	Msg    string `json:"msg"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
}

type callResult struct {
	result json.RawMessage
	err    error
}

type connectAttempt struct {
	done chan struct{}
	err  error
}

// Client is the duplex channel to the daemon. Safe for concurrent use; any
// number of callers may issue Call while the reader demultiplexes.
type Client struct {
	cfg Config
	log logrus.FieldLogger

	// onJobEvent receives raw pushed job fields; set before Connect.
	onJobEvent func(fields json.RawMessage)

	mu         sync.Mutex
	conn       *websocket.Conn
	connected  bool
	closed     bool
	connecting *connectAttempt
	pending    map[int64]chan callResult
	nextID     int64

	writeMu sync.Mutex
}

// NewClient creates a disconnected client. onJobEvent may be nil when the
// caller has no interest in pushed job events.
func NewClient(cfg Config, onJobEvent func(json.RawMessage), log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		log:        log.WithField("backend", "middleware"),
		onJobEvent: onJobEvent,
		pending:    make(map[int64]chan callResult),
	}
}

// Healthy reports whether the session is connected and authenticated.
func (c *Client) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect opens the channel and performs the credential exchange. Exactly
// one attempt is in flight at a time; concurrent callers share its outcome.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return backend.UnavailableError("client closed", nil)
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	if att := c.connecting; att != nil {
		c.mu.Unlock()
		select {
		case <-att.done:
			return att.err
		case <-ctx.Done():
			return backend.TimeoutError("connect attempt abandoned")
		}
	}
	att := &connectAttempt{done: make(chan struct{})}
	c.connecting = att
	c.mu.Unlock()

	conn, err := c.dial(ctx)

	c.mu.Lock()
	c.connecting = nil
	if err == nil {
		c.conn = conn
		c.connected = true
	}
	c.mu.Unlock()

	att.err = err
	close(att.done)

	if err == nil {
		go c.readLoop(conn)
	}
	return err
}

// dial opens the socket, runs the protocol handshake and authenticates.
// All reads here are synchronous; the reader goroutine starts afterwards.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.CallTimeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: !c.cfg.VerifyTLS},
	}
	c.log.WithField("url", c.cfg.URL).Info("connecting")
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, backend.UnavailableError("websocket dial failed", err)
	}

	deadline := time.Now().Add(c.cfg.CallTimeout)
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)

	if err := conn.WriteJSON(map[string]any{"msg": "connect", "version": "1", "support": []string{"1"}}); err != nil {
		conn.Close()
		return nil, backend.TransportError("handshake write failed", err)
	}
	if err := c.awaitMsg(conn, "connected", nil); err != nil {
		conn.Close()
		return nil, err
	}

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		return nil, err
	}

	// Subscribe to job events before handing the socket to the reader.
	if err := conn.WriteJSON(map[string]any{"msg": "sub", "id": "jobs", "name": jobsCollection}); err != nil {
		conn.Close()
		return nil, backend.TransportError("job subscription failed", err)
	}

	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})
	c.log.Info("connected and authenticated")
	return conn, nil
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	if c.cfg.APIKey == "" {
		return backend.AuthError("api key not configured", nil)
	}
	id := c.allocID()
	frame := outFrame{ID: id, Msg: "method", Method: "auth.login_with_api_key", Params: []any{c.cfg.APIKey}}
	if err := conn.WriteJSON(frame); err != nil {
		return backend.TransportError("auth write failed", err)
	}
	var resp inFrame
	if err := c.awaitMsg(conn, "result", &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return backend.AuthError(resp.Error.String(), nil)
	}
	var ok bool
	if err := json.Unmarshal(resp.Result, &ok); err != nil || !ok {
		return backend.AuthError("credential rejected", nil)
	}
	return nil
}

// awaitMsg reads frames until one with the wanted msg type arrives,
// answering pings along the way. Used only during the handshake.
func (c *Client) awaitMsg(conn *websocket.Conn, want string, out *inFrame) error {
	for {
		var f inFrame
		if err := conn.ReadJSON(&f); err != nil {
			return backend.TransportError("handshake read failed", err)
		}
		if f.Msg == "ping" {
			if err := conn.WriteJSON(map[string]string{"msg": "pong"}); err != nil {
				return backend.TransportError("pong write failed", err)
			}
			continue
		}
		if f.Msg != want {
			continue
		}
		if out != nil {
			*out = f
		}
		return nil
	}
}

func (c *Client) allocID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return c.nextID
}

// Call issues one method call and suspends the caller until the correlated
// response arrives or the call timeout elapses. A late response for a timed
// out id is discarded by the reader.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, backend.UnavailableError("not connected", nil)
	}
	c.nextID++
	id := c.nextID
	ch := make(chan callResult, 1)
	c.pending[id] = ch
	conn := c.conn
	c.mu.Unlock()

	if params == nil {
		params = []any{}
	}
	frame := outFrame{ID: id, Msg: "method", Method: method, Params: params}

	c.writeMu.Lock()
	err := conn.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		c.removePending(id)
		return nil, backend.TransportError(fmt.Sprintf("write %s failed", method), err)
	}
	c.log.WithFields(logrus.Fields{"method": method, "id": id}).Debug("call issued")

	timer := time.NewTimer(c.cfg.CallTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.result, res.err
	case <-timer.C:
		c.removePending(id)
		return nil, backend.TimeoutError(fmt.Sprintf("no response to %s within %s", method, c.cfg.CallTimeout))
	case <-ctx.Done():
		c.removePending(id)
		return nil, backend.TimeoutError(fmt.Sprintf("call %s abandoned", method))
	}
}

func (c *Client) removePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// readLoop demultiplexes inbound frames: call responses are matched to their
// correlation id, pushed job events are forwarded, pings are answered.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var f inFrame
		if err := conn.ReadJSON(&f); err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		switch f.Msg {
		case "ping":
			c.writeMu.Lock()
			_ = conn.WriteJSON(map[string]string{"msg": "pong"})
			c.writeMu.Unlock()
		case "result":
			if f.ID == nil {
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[*f.ID]
			if ok {
				delete(c.pending, *f.ID)
			}
			c.mu.Unlock()
			if !ok {
				// Late response for a timed out call.
				c.log.WithField("id", *f.ID).Debug("discarding uncorrelated response")
				continue
			}
			if f.Error != nil {
				ch <- callResult{err: backend.BackendError(f.Error.String(), nil)}
			} else {
				ch <- callResult{result: f.Result}
			}
		case "added", "changed":
			if f.Collection == jobsCollection && c.onJobEvent != nil {
				c.onJobEvent(f.Fields)
			}
		}
	}
}

// handleDisconnect fails every outstanding call and marks the session
// unhealthy until a successful reconnect.
func (c *Client) handleDisconnect(conn *websocket.Conn, cause error) {
	conn.Close()
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	pending := c.pending
	c.pending = make(map[int64]chan callResult)
	c.mu.Unlock()

	for id, ch := range pending {
		ch <- callResult{err: backend.UnavailableError(fmt.Sprintf("connection lost before response to call %d", id), cause)}
	}
	if len(pending) > 0 || !websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		c.log.WithError(cause).Warn("connection lost")
	}
}

// Close tears the session down; further calls fail with BackendUnavailable.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
