// Package server coordinates connection registration, pump startup, and
// teardown for the chat service via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Hub tracks every live connection and owns the goroutines that serve them.
// Message routing does not pass through the hub; it only starts, counts and
// stops connections.
type Hub struct {
	conns      map[*Conn]struct{}
	register   chan *Conn
	unregister chan *Conn
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        *slog.Logger
}

// NewHub creates a Hub. Run must be started before connections register.
func NewHub(log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		conns:      make(map[*Conn]struct{}),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log.With("component", "hub"),
	}
}

// Register hands c to the hub, which starts its pumps. It returns false if
// the hub has shut down; the caller then owns closing c.
func (h *Hub) Register(c *Conn) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes c from the hub. It does not block after shutdown.
func (h *Hub) Unregister(c *Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.conns)
}

// Run is the hub's event loop. It returns after Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownConns()
			return

		case c := <-h.register:
			if c == nil {
				h.log.Warn("received nil connection registration; skipping")
				continue
			}

			h.mutex.Lock()
			h.conns[c] = struct{}{}
			count := len(h.conns)
			h.mutex.Unlock()
			c.log.Info("connection registered", "connections", count)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				c.writePump()
			}()
			go func() {
				defer h.wg.Done()
				c.readPump()
			}()

		case c := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.conns[c]; ok {
				delete(h.conns, c)
				count := len(h.conns)
				h.mutex.Unlock()
				c.log.Info("connection unregistered", "connections", count)
			} else {
				h.mutex.Unlock()
			}
		}
	}
}

// shutdownConns closes every registered connection. Each read pump then runs
// its disconnect path.
func (h *Hub) shutdownConns() {
	h.log.Info("shutting down all client connections")

	h.mutex.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mutex.Unlock()

	for _, c := range conns {
		c.Close()
	}

	h.log.Info("closed client connections", "count", len(conns))
}

// Shutdown stops the hub and waits for all connection goroutines to finish,
// or until timeout elapses.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
