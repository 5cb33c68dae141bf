// Package chattest provides a protocol-level test client for the chat server.
//
// A Client speaks either the framed TCP protocol or the WebSocket gateway and
// exposes helpers that send requests and wait for specific envelopes, so
// tests can be written as request/response scripts.
package chattest

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/tcpchat/internal/protocol"
)

// DefaultTimeout bounds every blocking read the client performs.
const DefaultTimeout = 5 * time.Second

// Envelope is any server-to-client message. Response fields are empty on
// notifications.
type Envelope struct {
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Timestamp float64         `json:"timestamp"`
}

// OK reports whether the envelope is a success response.
func (e Envelope) OK() bool { return e.Status == protocol.StatusSuccess }

type wire interface {
	write(payload []byte) error
	read(deadline time.Time) ([]byte, error)
	close() error
}

// Client is a single test connection.
type Client struct {
	t    testing.TB
	conn wire
}

// Dial connects to a TCP chat listener at addr.
func Dial(t testing.TB, addr string) *Client {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, DefaultTimeout)
	require.NoError(t, err, "dial %s", addr)

	c := &Client{t: t, conn: &tcpWire{conn: conn, reader: protocol.NewReader(conn, 0)}}
	t.Cleanup(c.Close)
	return c
}

// DialWebSocket connects to a gateway URL such as ws://host/ws. A non-empty
// origin is sent as the Origin header.
func DialWebSocket(t testing.TB, url, origin string) *Client {
	t.Helper()

	conn, err := DialWebSocketRaw(url, origin)
	require.NoError(t, err, "dial %s", url)

	c := &Client{t: t, conn: &wsWire{conn: conn}}
	t.Cleanup(c.Close)
	return c
}

// DialWebSocketRaw performs the handshake and returns the connection or the
// handshake error.
func DialWebSocketRaw(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: DefaultTimeout}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() {
	if c.conn != nil {
		_ = c.conn.close()
	}
}

// SendRaw writes payload as one message without validating it.
func (c *Client) SendRaw(payload []byte) {
	c.t.Helper()
	require.NoError(c.t, c.conn.write(payload))
}

// Send writes a {"type", "data"} envelope. A nil data omits the field.
func (c *Client) Send(requestType string, data any) {
	c.t.Helper()

	envelope := map[string]any{"type": requestType}
	if data != nil {
		envelope["data"] = data
	}
	payload, err := json.Marshal(envelope)
	require.NoError(c.t, err)
	c.SendRaw(payload)
}

// Next returns the next envelope, failing the test after DefaultTimeout.
func (c *Client) Next() Envelope {
	c.t.Helper()

	payload, err := c.conn.read(time.Now().Add(DefaultTimeout))
	require.NoError(c.t, err, "waiting for envelope")

	var env Envelope
	require.NoError(c.t, json.Unmarshal(payload, &env), "decoding %s", payload)
	return env
}

// Expect returns the next envelope whose type is envelopeType, discarding
// anything before it.
func (c *Client) Expect(envelopeType string) Envelope {
	c.t.Helper()
	for {
		if env := c.Next(); env.Type == envelopeType {
			return env
		}
	}
}

// Request sends a request and returns its response, skipping any
// notifications that arrive first.
func (c *Client) Request(requestType string, data any) Envelope {
	c.t.Helper()
	c.Send(requestType, data)
	return c.Expect(requestType + "_response")
}

// Register registers username and requires success.
func (c *Client) Register(username, password string) {
	c.t.Helper()
	resp := c.Request(protocol.TypeRegister, map[string]string{"username": username, "password": password})
	require.True(c.t, resp.OK(), "register %s: %s", username, resp.Message)
}

// Login logs in as username and requires success.
func (c *Client) Login(username, password string) protocol.LoginResult {
	c.t.Helper()
	resp := c.Request(protocol.TypeLogin, map[string]string{"username": username, "password": password})
	require.True(c.t, resp.OK(), "login %s: %s", username, resp.Message)

	var result protocol.LoginResult
	resp.Decode(c.t, &result)
	return result
}

// Drain collects every envelope that arrives within quiet of the previous
// one and returns them in order. On a WebSocket client the timeout that ends
// the drain leaves the connection unreadable, so Drain must be its last read.
func (c *Client) Drain(quiet time.Duration) []Envelope {
	c.t.Helper()

	var out []Envelope
	for {
		payload, err := c.conn.read(time.Now().Add(quiet))
		if err != nil {
			if isTimeout(err) {
				return out
			}
			require.NoError(c.t, err)
		}
		var env Envelope
		require.NoError(c.t, json.Unmarshal(payload, &env))
		out = append(out, env)
	}
}

// ExpectSilence fails the test if anything arrives within d.
func (c *Client) ExpectSilence(d time.Duration) {
	c.t.Helper()
	got := c.Drain(d)
	require.Empty(c.t, got, "expected no traffic")
}

// ExpectClosed waits for the server to close the connection.
func (c *Client) ExpectClosed() {
	c.t.Helper()

	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		_, err := c.conn.read(deadline)
		if err == nil {
			continue
		}
		require.False(c.t, isTimeout(err), "connection still open")
		return
	}
	c.t.Fatal("connection still open")
}

// Decode unmarshals the envelope's data into v.
func (e Envelope) Decode(t testing.TB, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(e.Data, v), "decoding data %s", e.Data)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type tcpWire struct {
	conn   net.Conn
	reader *protocol.Reader
}

func (w *tcpWire) write(payload []byte) error { return protocol.WriteFrame(w.conn, payload) }

func (w *tcpWire) read(deadline time.Time) ([]byte, error) {
	if err := w.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	return w.reader.ReadFrame()
}

func (w *tcpWire) close() error { return w.conn.Close() }

type wsWire struct {
	conn *websocket.Conn
}

func (w *wsWire) write(payload []byte) error {
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

func (w *wsWire) read(deadline time.Time) ([]byte, error) {
	if err := w.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	_, payload, err := w.conn.ReadMessage()
	return payload, err
}

func (w *wsWire) close() error { return w.conn.Close() }
