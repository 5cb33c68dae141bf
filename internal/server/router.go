package server

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/Tyrowin/tcpchat/internal/auth"
	"github.com/Tyrowin/tcpchat/internal/group"
	"github.com/Tyrowin/tcpchat/internal/mailbox"
	"github.com/Tyrowin/tcpchat/internal/protocol"
	"github.com/Tyrowin/tcpchat/internal/session"
)

const (
	msgInvalidFormat = "invalid message format"
	msgLoginRequired = "please log in first"
	msgInternal      = "internal server error"
	msgRateLimited   = "rate limit exceeded"
)

// Stores groups the shared registries every connection reads and mutates.
type Stores struct {
	Users    *auth.Store
	Sessions *session.Registry
	Groups   *group.Registry
	Mailbox  *mailbox.Mailbox
}

// NewStores returns empty registries with users hashed by hasher.
func NewStores(hasher auth.Hasher) Stores {
	return Stores{
		Users:    auth.NewStore(hasher),
		Sessions: session.NewRegistry(),
		Groups:   group.NewRegistry(),
		Mailbox:  mailbox.New(),
	}
}

// Router decodes client payloads, checks them against the connection's
// phase and dispatches them to the request handlers. It holds no lock of its
// own; each registry serializes its own mutations.
type Router struct {
	users       *auth.Store
	sessions    *session.Registry
	groups      *group.Registry
	mailbox     *mailbox.Mailbox
	broadcaster *Broadcaster
	log         *slog.Logger
	now         protocol.Clock
}

// NewRouter returns a Router over stores.
func NewRouter(stores Stores, log *slog.Logger) *Router {
	return newRouterWithClock(stores, log, time.Now)
}

func newRouterWithClock(stores Stores, log *slog.Logger, now protocol.Clock) *Router {
	log = log.With("component", "router")
	return &Router{
		users:       stores.Users,
		sessions:    stores.Sessions,
		groups:      stores.Groups,
		mailbox:     stores.Mailbox,
		broadcaster: newBroadcaster(stores.Users, stores.Sessions, log, now),
		log:         log,
		now:         now,
	}
}

// Handle processes one request payload for the connection owning state and
// returns the encoded response. Notifications caused by the request are
// pushed through the registries before Handle returns. A nil result means
// there is nothing to send.
func (r *Router) Handle(state *State, payload []byte) (reply []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("recovered panic in request handler",
				"conn_id", state.ID, "panic", rec, "stack", string(debug.Stack()))
			reply = r.encode(protocol.Failure(r.now(), protocol.TypeServer, msgInternal))
		}
	}()

	if state.Phase() == Closed {
		return nil
	}

	req, err := protocol.DecodeRequest(payload)
	if err != nil {
		return r.encode(r.decodeFailure(state, err))
	}
	return r.encode(r.dispatch(state, req))
}

// Throttled returns the error response for a request rejected by the rate
// limiter. The payload is decoded only to name the response type.
func (r *Router) Throttled(payload []byte) []byte {
	requestType := protocol.TypeParse
	req, err := protocol.DecodeRequest(payload)
	var fieldErr *protocol.FieldError
	switch {
	case err == nil:
		requestType = responseTypeOf(req)
	case errors.As(err, &fieldErr):
		requestType = fieldErr.RequestType
	}
	return r.encode(protocol.Failure(r.now(), requestType, msgRateLimited))
}

// Close moves state to Closed. A bound user is logged out first, which
// clears the session and broadcasts the new roster. Further calls do nothing.
func (r *Router) Close(state *State) {
	if state.Phase() == Closed {
		return
	}
	if state.Phase() == Authenticated {
		r.logout(state, "disconnect")
	}
	state.phase = Closed
}

func (r *Router) dispatch(state *State, req protocol.Request) protocol.Response {
	switch req := req.(type) {
	case protocol.Register:
		return r.handleRegister(req)
	case protocol.Login:
		return r.handleLogin(state, req)
	case protocol.Logout:
		return r.handleLogout(state)
	}

	if state.Phase() != Authenticated {
		return protocol.Failure(r.now(), protocol.TypeAuth, msgLoginRequired)
	}

	switch req := req.(type) {
	case protocol.PrivateChat:
		return r.handlePrivateChat(state, req)
	case protocol.GroupChat:
		return r.handleGroupChat(state, req)
	case protocol.CreateGroup:
		return r.handleCreateGroup(state, req)
	case protocol.JoinGroup:
		return r.handleJoinGroup(state, req)
	case protocol.ListGroups:
		return r.handleListGroups(state)
	default:
		return protocol.Failure(r.now(), protocol.TypeUnknown,
			fmt.Sprintf("unknown message type %q", req.RequestType()))
	}
}

func (r *Router) decodeFailure(state *State, err error) protocol.Response {
	var fieldErr *protocol.FieldError
	if errors.As(err, &fieldErr) {
		r.log.Debug("invalid request data", "conn_id", state.ID, "error", err)
		msg := "invalid request data"
		if fieldErr.Field != "" {
			msg = fmt.Sprintf("invalid value for field %q", fieldErr.Field)
		}
		return protocol.Failure(r.now(), fieldErr.RequestType, msg)
	}

	r.log.Debug("malformed request", "conn_id", state.ID, "error", err)
	return protocol.Failure(r.now(), protocol.TypeParse, msgInvalidFormat)
}

// encode marshals a response. Responses hold only strings, ints and string
// slices, so a failure here is a bug and is logged rather than sent.
func (r *Router) encode(resp protocol.Response) []byte {
	payload, err := protocol.Marshal(resp)
	if err != nil {
		r.log.Error("failed to encode response", "type", resp.Type, "error", err)
		return nil
	}
	return payload
}

func (r *Router) notification(notificationType string, data any) ([]byte, error) {
	payload, err := protocol.Marshal(protocol.NewNotification(r.now(), notificationType, data))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", notificationType, err)
	}
	return payload, nil
}

// responseTypeOf names the response for req, falling back to unknown for an
// empty type.
func responseTypeOf(req protocol.Request) string {
	if t := req.RequestType(); t != "" {
		return t
	}
	return protocol.TypeUnknown
}
