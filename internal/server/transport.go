package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/tcpchat/internal/protocol"
)

// tcpTransport carries length-prefixed frames over a raw TCP connection.
type tcpTransport struct {
	conn         net.Conn
	reader       *protocol.Reader
	idleTimeout  time.Duration
	writeTimeout time.Duration
}

func newTCPTransport(conn net.Conn, cfg Config) *tcpTransport {
	return &tcpTransport{
		conn:         conn,
		reader:       protocol.NewReader(conn, cfg.MaxFrameSize),
		idleTimeout:  cfg.IdleTimeout,
		writeTimeout: cfg.WriteTimeout,
	}
}

func (t *tcpTransport) ReadPayload() ([]byte, error) {
	if t.idleTimeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(t.idleTimeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
	}
	return t.reader.ReadFrame()
}

func (t *tcpTransport) WritePayload(payload []byte) error {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	return protocol.WriteFrame(t.conn, payload)
}

func (t *tcpTransport) Close() error { return t.conn.Close() }

func (t *tcpTransport) RemoteAddr() string { return t.conn.RemoteAddr().String() }

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// wsTransport carries one envelope per WebSocket message. It keeps the
// connection alive with pings; a peer that stops answering is dropped after
// pongWait, or after the idle timeout when that is shorter.
type wsTransport struct {
	conn         *websocket.Conn
	addr         string
	readWait     time.Duration
	writeTimeout time.Duration

	stopPing  chan struct{}
	closeOnce sync.Once
}

func newWSTransport(conn *websocket.Conn, addr string, cfg Config) *wsTransport {
	if cfg.MaxFrameSize > 0 {
		conn.SetReadLimit(cfg.MaxFrameSize)
	}

	readWait := pongWait
	if cfg.IdleTimeout > 0 && cfg.IdleTimeout < readWait {
		readWait = cfg.IdleTimeout
	}

	t := &wsTransport{
		conn:         conn,
		addr:         addr,
		readWait:     readWait,
		writeTimeout: cfg.WriteTimeout,
		stopPing:     make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.readWait))
	})
	go t.pingLoop()
	return t
}

// pingLoop uses WriteControl, which gorilla allows concurrently with the
// write pump's WriteMessage calls.
func (t *wsTransport) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopPing:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.writeTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (t *wsTransport) ReadPayload() ([]byte, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.readWait)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	for {
		messageType, payload, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return payload, nil
		}
	}
}

func (t *wsTransport) WritePayload(payload []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopPing)
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) RemoteAddr() string { return t.addr }
