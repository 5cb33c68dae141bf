package server

import (
	"errors"

	"github.com/Tyrowin/tcpchat/internal/auth"
	"github.com/Tyrowin/tcpchat/internal/group"
	"github.com/Tyrowin/tcpchat/internal/protocol"
	"github.com/Tyrowin/tcpchat/internal/session"
)

func (r *Router) handleRegister(req protocol.Register) protocol.Response {
	now := r.now()
	err := r.users.Register(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrEmptyField):
		return protocol.Failure(now, req.RequestType(), "username and password must not be empty")
	case errors.Is(err, auth.ErrAlreadyExists):
		return protocol.Failure(now, req.RequestType(), "username already exists")
	case err != nil:
		r.log.Error("registration failed", "user", req.Username, "error", err)
		return protocol.Failure(now, req.RequestType(), "registration failed")
	}

	r.log.Info("user registered", "user", req.Username)
	r.broadcaster.Roster()
	return protocol.Success(now, req.RequestType(), "registration successful", nil)
}

// handleLogin binds the connection to the user. The offline backlog is sent
// to the connection while the session registry is still locked, so any
// private message that arrives later is queued behind it.
func (r *Router) handleLogin(state *State, req protocol.Login) protocol.Response {
	now := r.now()
	if state.Phase() == Authenticated {
		return protocol.Failure(now, req.RequestType(), "already logged in")
	}
	if req.Username == "" || req.Password == "" {
		return protocol.Failure(now, req.RequestType(), "username and password must not be empty")
	}

	switch err := r.users.Verify(req.Username, req.Password); {
	case errors.Is(err, auth.ErrNoSuchUser):
		return protocol.Failure(now, req.RequestType(), "user does not exist")
	case errors.Is(err, auth.ErrWrongPassword):
		return protocol.Failure(now, req.RequestType(), "wrong password")
	case err != nil:
		r.log.Error("login verification failed", "user", req.Username, "error", err)
		return protocol.Failure(now, req.RequestType(), "login failed")
	}

	var (
		snapshot protocol.LoginResult
		drained  int
	)
	err := r.sessions.Login(req.Username, state.Sender, func(online []string) {
		snapshot = protocol.LoginResult{
			OnlineUsers:     protocol.NonNil(online),
			RegisteredUsers: protocol.NonNil(r.users.Usernames()),
		}
		backlog := r.mailbox.DrainAll(req.Username)
		for i, notification := range backlog {
			if !state.Sender.Send(notification) {
				r.mailbox.Restore(req.Username, backlog[i:])
				break
			}
			drained++
		}
	})
	if errors.Is(err, session.ErrAlreadyOnline) {
		return protocol.Failure(now, req.RequestType(), "user already online")
	}
	if err != nil {
		r.log.Error("session login failed", "user", req.Username, "error", err)
		return protocol.Failure(now, req.RequestType(), "login failed")
	}

	state.bind(req.Username)
	r.log.Info("user logged in", "conn_id", state.ID, "user", req.Username, "offline_delivered", drained)
	r.broadcaster.Roster()
	return protocol.Success(now, req.RequestType(), "login successful", snapshot)
}

func (r *Router) handleLogout(state *State) protocol.Response {
	now := r.now()
	if state.Phase() != Authenticated {
		return protocol.Failure(now, protocol.TypeLogout, "you are not logged in")
	}
	r.logout(state, "request")
	return protocol.Success(now, protocol.TypeLogout, "logged out", nil)
}

func (r *Router) logout(state *State, reason string) {
	user := state.User()
	r.sessions.Logout(user)
	state.unbind()
	r.log.Info("user logged out", "conn_id", state.ID, "user", user, "reason", reason)
	r.broadcaster.Roster()
}

func (r *Router) handlePrivateChat(state *State, req protocol.PrivateChat) protocol.Response {
	now := r.now()
	sender := state.User()
	switch {
	case req.To == "" || req.Message == "":
		return protocol.Failure(now, req.RequestType(), "recipient and message must not be empty")
	case req.To == sender:
		return protocol.Failure(now, req.RequestType(), "cannot send a message to yourself")
	case !r.users.Exists(req.To):
		return protocol.Failure(now, req.RequestType(), "recipient does not exist")
	}

	payload, err := r.notification(protocol.TypePrivateMessage, protocol.PrivateMessage{
		From:    sender,
		Message: req.Message,
	})
	if err != nil {
		r.log.Error("failed to build private message", "error", err)
		return protocol.Failure(now, protocol.TypeServer, msgInternal)
	}

	online := r.sessions.Deliver(req.To, payload, func() {
		r.mailbox.Enqueue(req.To, payload)
	})
	if !online {
		r.log.Debug("stored offline message", "from", sender, "to", req.To)
		return protocol.Success(now, req.RequestType(), "recipient is offline; message stored for later delivery", nil)
	}
	return protocol.Success(now, req.RequestType(), "message sent", nil)
}

// handleGroupChat delivers to the other online members. Offline members are
// skipped; group traffic is never queued.
func (r *Router) handleGroupChat(state *State, req protocol.GroupChat) protocol.Response {
	now := r.now()
	sender := state.User()
	if req.Group == "" || req.Message == "" {
		return protocol.Failure(now, req.RequestType(), "group name and message must not be empty")
	}

	members, err := r.groups.Members(req.Group)
	if errors.Is(err, group.ErrNoSuchGroup) {
		return protocol.Failure(now, req.RequestType(), "group does not exist")
	}
	if !r.groups.IsMember(req.Group, sender) {
		return protocol.Failure(now, req.RequestType(), "you are not a member of this group")
	}

	payload, err := r.notification(protocol.TypeGroupMessage, protocol.GroupMessage{
		From:    sender,
		Group:   req.Group,
		Message: req.Message,
	})
	if err != nil {
		r.log.Error("failed to build group message", "error", err)
		return protocol.Failure(now, protocol.TypeServer, msgInternal)
	}

	sent := 0
	for _, member := range members {
		if member == sender {
			continue
		}
		if r.sessions.Deliver(member, payload, nil) {
			sent++
		}
	}
	return protocol.Success(now, req.RequestType(), "message sent to group", protocol.GroupChatResult{SentTo: sent})
}

func (r *Router) handleCreateGroup(state *State, req protocol.CreateGroup) protocol.Response {
	now := r.now()
	switch err := r.groups.Create(req.GroupName, state.User()); {
	case errors.Is(err, group.ErrEmptyField):
		return protocol.Failure(now, req.RequestType(), "group name must not be empty")
	case errors.Is(err, group.ErrAlreadyExists):
		return protocol.Failure(now, req.RequestType(), "group already exists")
	case err != nil:
		r.log.Error("create group failed", "group", req.GroupName, "error", err)
		return protocol.Failure(now, req.RequestType(), "could not create group")
	}

	r.log.Info("group created", "group", req.GroupName, "user", state.User())
	return protocol.Success(now, req.RequestType(), "group created", nil)
}

func (r *Router) handleJoinGroup(state *State, req protocol.JoinGroup) protocol.Response {
	now := r.now()
	switch err := r.groups.Join(req.GroupName, state.User()); {
	case errors.Is(err, group.ErrEmptyField):
		return protocol.Failure(now, req.RequestType(), "group name must not be empty")
	case errors.Is(err, group.ErrNoSuchGroup):
		return protocol.Failure(now, req.RequestType(), "group does not exist")
	case errors.Is(err, group.ErrAlreadyMember):
		return protocol.Failure(now, req.RequestType(), "you are already a member of this group")
	case err != nil:
		r.log.Error("join group failed", "group", req.GroupName, "error", err)
		return protocol.Failure(now, req.RequestType(), "could not join group")
	}

	r.log.Info("group joined", "group", req.GroupName, "user", state.User())
	return protocol.Success(now, req.RequestType(), "joined group", nil)
}

func (r *Router) handleListGroups(state *State) protocol.Response {
	return protocol.Success(r.now(), protocol.TypeListGroups, "group list", protocol.ListGroupsResult{
		MyGroups:  protocol.NonNil(r.groups.GroupsOf(state.User())),
		AllGroups: protocol.NonNil(r.groups.AllGroupNames()),
	})
}
