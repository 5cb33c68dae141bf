// Package mailbox queues notifications for users who are offline.
package mailbox

import "sync"

// Mailbox holds an ordered queue of encoded notifications per recipient.
// There is no cap on queue length.
type Mailbox struct {
	mu     sync.Mutex
	queues map[string][][]byte
}

// New returns an empty Mailbox.
func New() *Mailbox {
	return &Mailbox{queues: make(map[string][][]byte)}
}

// Enqueue appends notification to the queue for username.
func (m *Mailbox) Enqueue(username string, notification []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[username] = append(m.queues[username], notification)
}

// DrainAll removes and returns everything queued for username, oldest
// first. It returns nil when nothing is queued.
func (m *Mailbox) DrainAll(username string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	queued := m.queues[username]
	delete(m.queues, username)
	return queued
}

// Restore puts notifications back at the front of the queue for username,
// ahead of anything enqueued since they were drained.
func (m *Mailbox) Restore(username string, notifications [][]byte) {
	if len(notifications) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := make([][]byte, 0, len(notifications)+len(m.queues[username]))
	queue = append(queue, notifications...)
	m.queues[username] = append(queue, m.queues[username]...)
}

// Len returns the number of notifications queued for username.
func (m *Mailbox) Len(username string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[username])
}

// Pending returns the number of notifications queued across all users.
func (m *Mailbox) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, q := range m.queues {
		total += len(q)
	}
	return total
}
