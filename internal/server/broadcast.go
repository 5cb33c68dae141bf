package server

import (
	"log/slog"

	"github.com/Tyrowin/tcpchat/internal/auth"
	"github.com/Tyrowin/tcpchat/internal/protocol"
	"github.com/Tyrowin/tcpchat/internal/session"
)

// Broadcaster pushes roster snapshots to every live session.
type Broadcaster struct {
	users    *auth.Store
	sessions *session.Registry
	log      *slog.Logger
	now      protocol.Clock
}

func newBroadcaster(users *auth.Store, sessions *session.Registry, log *slog.Logger, now protocol.Clock) *Broadcaster {
	return &Broadcaster{users: users, sessions: sessions, log: log, now: now}
}

// Roster sends an update_online_users notification with the current online
// and registered usernames to every session and returns how many sessions it
// reached. The snapshot is taken inside the session registry's broadcast, so
// concurrent rosters cannot arrive out of order.
func (b *Broadcaster) Roster() int {
	sent := b.sessions.Broadcast(func(online []string) []byte {
		payload, err := protocol.Marshal(protocol.NewNotification(b.now(), protocol.TypeUpdateOnlineUsers,
			protocol.OnlineUsersUpdate{
				OnlineUsers:     protocol.NonNil(online),
				RegisteredUsers: protocol.NonNil(b.users.Usernames()),
			}))
		if err != nil {
			b.log.Error("failed to encode roster", "error", err)
			return nil
		}
		return payload
	})
	b.log.Debug("roster broadcast", "sessions", sent)
	return sent
}
