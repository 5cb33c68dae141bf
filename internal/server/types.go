// Package server defines the per-connection state and the transport
// abstraction shared by the TCP listener and the WebSocket gateway.
package server

import (
	"errors"
	"net"
	"strings"

	"github.com/Tyrowin/tcpchat/internal/session"
)

// Phase is the authentication phase of one connection.
type Phase int

const (
	// Unauthenticated connections may only register, log in or log out.
	Unauthenticated Phase = iota
	// Authenticated connections are bound to a user.
	Authenticated
	// Closed connections are finished; the phase is terminal.
	Closed
)

func (p Phase) String() string {
	switch p {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// State is the router-visible state of one connection. It is owned by the
// connection's read loop and must not be shared between goroutines.
type State struct {
	ID     string
	Sender session.Sender

	phase Phase
	user  string
}

// NewState returns the state of a freshly accepted connection.
func NewState(id string, sender session.Sender) *State {
	return &State{ID: id, Sender: sender}
}

// Phase returns the current phase.
func (s *State) Phase() Phase { return s.phase }

// User returns the bound username, or "" when unauthenticated.
func (s *State) User() string { return s.user }

func (s *State) bind(user string) {
	s.phase = Authenticated
	s.user = user
}

func (s *State) unbind() {
	s.phase = Unauthenticated
	s.user = ""
}

// transport moves whole payloads over one client connection. The TCP
// transport frames them with the length-prefix codec; the WebSocket
// transport maps each payload onto one WebSocket message.
type transport interface {
	ReadPayload() ([]byte, error)
	WritePayload(payload []byte) error
	Close() error
	RemoteAddr() string
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
