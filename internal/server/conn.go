// Package server manages individual chat connections, handling read/write
// pumps, rate limiting, and lifecycle control for each client.
package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/tcpchat/internal/protocol"
)

// Conn is one client connection. The read pump owns the connection's State
// and feeds requests to the Router; the write pump drains the outbox onto
// the transport. Everything else reaches the client only through Send.
type Conn struct {
	id        string
	transport transport
	hub       *Hub
	router    *Router
	state     *State
	limiter   *rateLimiter
	log       *slog.Logger

	mu        sync.Mutex
	queue     [][]byte
	closed    bool
	maxQueued int
	wake      chan struct{}
	done      chan struct{}
	flush     chan struct{}
	closeOnce sync.Once
	flushOnce sync.Once
}

func newConn(t transport, hub *Hub, router *Router, cfg Config, log *slog.Logger) *Conn {
	id := uuid.NewString()
	c := &Conn{
		id:        id,
		transport: t,
		hub:       hub,
		router:    router,
		limiter:   newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		log:       log.With("conn_id", id, "remote_addr", t.RemoteAddr()),
		maxQueued: cfg.MaxQueuedFrames,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		flush:     make(chan struct{}),
	}
	c.state = NewState(id, c)
	return c
}

// ID returns the connection identifier used in logs.
func (c *Conn) ID() string { return c.id }

// Send queues payload for the write pump. It never blocks. It returns false
// once the connection is closed, or closes the connection and returns false
// when the outbox is capped and full. Callers may hold registry locks, so
// the transport is closed on another goroutine.
func (c *Conn) Send(payload []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if c.maxQueued > 0 && len(c.queue) >= c.maxQueued {
		c.closed = true
		c.queue = nil
		c.mu.Unlock()
		c.log.Warn("outbox full; disconnecting slow consumer", "queued", c.maxQueued)
		go c.Close()
		return false
	}
	c.queue = append(c.queue, payload)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// Close shuts the connection down. It is safe to call more than once and
// from any goroutine; the read pump notices the closed transport and runs
// the disconnect path.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.queue = nil
		c.mu.Unlock()
		close(c.done)

		if err := c.transport.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("error closing connection", "error", err)
		}
	})
}

// finish stops accepting payloads and asks the write pump to send what is
// already queued before it closes the transport.
func (c *Conn) finish() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.flushOnce.Do(func() { close(c.flush) })
}

// queued returns the number of payloads waiting for the write pump.
func (c *Conn) queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Conn) takeQueue() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := c.queue
	c.queue = nil
	return batch
}

func (c *Conn) readPump() {
	flush := false
	defer func() {
		if flush {
			c.finish()
		} else {
			c.Close()
		}
		c.router.Close(c.state)
		c.hub.Unregister(c)
	}()

	for {
		payload, err := c.transport.ReadPayload()
		if err != nil {
			c.handleReadError(err)
			// The peer stopped sending but may still be reading.
			flush = errors.Is(err, io.EOF) || errors.Is(err, protocol.ErrTruncated)
			return
		}

		var reply []byte
		if c.limiter.allow() {
			reply = c.router.Handle(c.state, payload)
		} else {
			c.log.Warn("rate limit exceeded; rejecting request")
			reply = c.router.Throttled(payload)
		}

		if reply != nil && !c.Send(reply) {
			return
		}
	}
}

func (c *Conn) writePump() {
	defer c.Close()

	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
			if !c.writeQueued() {
				return
			}
		case <-c.flush:
			c.writeQueued()
			return
		}
	}
}

// writeQueued writes everything in the outbox and reports whether the
// transport is still usable.
func (c *Conn) writeQueued() bool {
	for _, payload := range c.takeQueue() {
		if err := c.transport.WritePayload(payload); err != nil {
			if !isExpectedCloseError(err) {
				c.log.Warn("write failed", "error", err)
			}
			return false
		}
	}
	return true
}

// handleReadError logs why the read loop is stopping.
func (c *Conn) handleReadError(err error) {
	switch {
	case errors.Is(err, io.EOF):
		c.log.Info("client disconnected")
	case errors.Is(err, protocol.ErrTruncated):
		c.log.Warn("connection dropped mid-frame", "error", err)
	case errors.Is(err, protocol.ErrFrameTooLarge), errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("frame exceeded maximum size; closing connection", "error", err)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.log.Info("client disconnected", "reason", err)
	case isTimeout(err):
		c.log.Info("connection idle; closing", "error", err)
	case isExpectedCloseError(err):
		c.log.Debug("connection closed", "error", err)
	default:
		c.log.Warn("read error", "error", err)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
