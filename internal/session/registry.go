// Package session tracks which users are online and where to deliver their
// traffic.
//
// The registry maps a username to the Sender of the connection that logged
// in as that user. It only ever pushes payloads through a Sender; closing the
// connection stays the job of whoever owns it.
package session

import (
	"errors"
	"sort"
	"sync"
)

// ErrAlreadyOnline is returned when a login names a user that already has a
// session.
var ErrAlreadyOnline = errors.New("session: user already online")

// Sender queues a payload for delivery on a connection. Send must not block
// and returns false once the connection can no longer accept traffic.
type Sender interface {
	Send(payload []byte) bool
}

// Registry is the set of live sessions. All methods are safe for concurrent
// use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Sender
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Sender)}
}

// Login binds username to sender if the user is not already online.
//
// When onBind is non-nil it runs after the insert and before the lock is
// released, receiving the online usernames at that moment. Nothing else can
// observe or change the registry while it runs, so it must not call back
// into the Registry.
func (r *Registry) Login(username string, sender Sender, onBind func(online []string)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, online := r.sessions[username]; online {
		return ErrAlreadyOnline
	}
	r.sessions[username] = sender
	if onBind != nil {
		onBind(r.onlineLocked())
	}
	return nil
}

// Logout removes the session for username. It reports whether a session was
// removed; logging out an offline user is a no-op.
func (r *Registry) Logout(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, online := r.sessions[username]; !online {
		return false
	}
	delete(r.sessions, username)
	return true
}

// IsOnline reports whether username has a session.
func (r *Registry) IsOnline(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, online := r.sessions[username]
	return online
}

// Lookup returns the Sender bound to username.
func (r *Registry) Lookup(username string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sender, online := r.sessions[username]
	return sender, online
}

// OnlineUsernames returns the online usernames in sorted order.
func (r *Registry) OnlineUsernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onlineLocked()
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Deliver sends payload to username if online. Otherwise it calls offline,
// if non-nil, while still holding the lock so a concurrent Login cannot slip
// in between the check and the fallback. It reports whether the user was
// online.
func (r *Registry) Deliver(username string, payload []byte, offline func()) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sender, online := r.sessions[username]; online {
		sender.Send(payload)
		return true
	}
	if offline != nil {
		offline()
	}
	return false
}

// Broadcast builds one payload from the current online usernames and sends
// it to every session. Broadcasts are serialized with each other and with
// logins and logouts, so the last payload each session receives describes
// the latest state. It returns the number of sessions the payload was
// queued for.
func (r *Registry) Broadcast(build func(online []string) []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	payload := build(r.onlineLocked())
	if payload == nil {
		return 0
	}

	sent := 0
	for _, sender := range r.sessions {
		if sender.Send(payload) {
			sent++
		}
	}
	return sent
}

func (r *Registry) onlineLocked() []string {
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
