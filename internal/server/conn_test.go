package server

import (
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/tcpchat/internal/auth"
	"github.com/Tyrowin/tcpchat/internal/chattest"
	"github.com/Tyrowin/tcpchat/internal/logging"
)

// fakeTransport feeds queued payloads to the read pump and records writes.
// Closing hangup makes reads return io.EOF once the queued payloads are
// consumed. A non-nil closeGate holds Close until it is closed.
type fakeTransport struct {
	reads     chan []byte
	hangup    chan struct{}
	closed    chan struct{}
	closeGate chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		reads:  make(chan []byte, 16),
		hangup: make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadPayload() ([]byte, error) {
	select {
	case p := <-f.reads:
		return p, nil
	default:
	}
	select {
	case p := <-f.reads:
		return p, nil
	case <-f.hangup:
		return nil, io.EOF
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeTransport) WritePayload(payload []byte) error {
	if f.isClosed() {
		return net.ErrClosed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, payload)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() {
		if f.closeGate != nil {
			<-f.closeGate
		}
		close(f.closed)
	})
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "fake:1" }

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func (f *fakeTransport) envelopes(t *testing.T) []chattest.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]chattest.Envelope, 0, len(f.written))
	for _, w := range f.written {
		var env chattest.Envelope
		require.NoError(t, json.Unmarshal(w, &env))
		out = append(out, env)
	}
	return out
}

type connFixture struct {
	hub    *Hub
	router *Router
	stores Stores
}

func newConnFixture(t *testing.T) *connFixture {
	t.Helper()
	stores := NewStores(auth.SHA256Hasher{})
	hub := NewHub(logging.Discard())
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(time.Second) })

	return &connFixture{hub: hub, router: NewRouter(stores, logging.Discard()), stores: stores}
}

func (f *connFixture) open(t *testing.T, cfg Config) (*Conn, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	c := newConn(tr, f.hub, f.router, sanitizeConfig(cfg), logging.Discard())
	require.True(t, f.hub.Register(c))
	return c, tr
}

func TestConnSendAfterClose(t *testing.T) {
	f := newConnFixture(t)
	tr := newFakeTransport()
	c := newConn(tr, f.hub, f.router, DefaultConfig(), logging.Discard())

	assert.True(t, c.Send([]byte("one")))
	assert.Equal(t, 1, c.queued())

	c.Close()
	c.Close()
	assert.True(t, tr.isClosed())
	assert.False(t, c.Send([]byte("two")))
	assert.Zero(t, c.queued())
}

func TestConnOutboxCapDisconnects(t *testing.T) {
	f := newConnFixture(t)
	tr := newFakeTransport()
	cfg := DefaultConfig()
	cfg.MaxQueuedFrames = 2
	c := newConn(tr, f.hub, f.router, cfg, logging.Discard())

	assert.True(t, c.Send([]byte("1")))
	assert.True(t, c.Send([]byte("2")))
	assert.False(t, c.Send([]byte("3")))
	assert.False(t, c.Send([]byte("4")))
	assert.Zero(t, c.queued())
	require.Eventually(t, tr.isClosed, time.Second, 5*time.Millisecond)
}

func TestConnOutboxCapDoesNotWaitForClose(t *testing.T) {
	f := newConnFixture(t)
	tr := newFakeTransport()
	tr.closeGate = make(chan struct{})
	cfg := DefaultConfig()
	cfg.MaxQueuedFrames = 1
	c := newConn(tr, f.hub, f.router, cfg, logging.Discard())
	require.True(t, c.Send([]byte("1")))

	returned := make(chan bool, 1)
	go func() { returned <- c.Send([]byte("2")) }()
	select {
	case ok := <-returned:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Send waited for the transport to close")
	}
	assert.False(t, tr.isClosed())

	close(tr.closeGate)
	require.Eventually(t, tr.isClosed, time.Second, 5*time.Millisecond)
}

func TestConnFlushesRepliesOnHangup(t *testing.T) {
	f := newConnFixture(t)
	_, tr := f.open(t, DefaultConfig())

	for i := 0; i < 5; i++ {
		tr.reads <- []byte(`{"type":"list_groups"}`)
	}
	close(tr.hangup)

	require.Eventually(t, func() bool { return tr.isClosed() && f.hub.Len() == 0 }, time.Second, 5*time.Millisecond)
	got := tr.envelopes(t)
	require.Len(t, got, 5)
	for _, env := range got {
		assert.Equal(t, "auth_response", env.Type)
	}
}

func TestConnServesRequestsInOrder(t *testing.T) {
	f := newConnFixture(t)
	_, tr := f.open(t, DefaultConfig())

	tr.reads <- []byte(`{"type":"register","data":{"username":"ann","password":"pw"}}`)
	tr.reads <- []byte(`{"type":"login","data":{"username":"ann","password":"pw"}}`)
	tr.reads <- []byte(`{"type":"list_groups"}`)

	require.Eventually(t, func() bool { return tr.count() == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t,
		[]string{"register_response", "update_online_users", "login_response", "list_groups_response"},
		types(tr.envelopes(t)))
	assert.Equal(t, 1, f.hub.Len())
}

func TestConnDisconnectLogsOut(t *testing.T) {
	f := newConnFixture(t)
	require.NoError(t, f.stores.Users.Register("ben", "pw"))
	_, tr := f.open(t, DefaultConfig())

	tr.reads <- []byte(`{"type":"login","data":{"username":"ben","password":"pw"}}`)
	require.Eventually(t, func() bool { return f.stores.Sessions.IsOnline("ben") }, time.Second, 5*time.Millisecond)

	require.NoError(t, tr.Close())
	require.Eventually(t, func() bool {
		return !f.stores.Sessions.IsOnline("ben") && f.hub.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestConnRateLimit(t *testing.T) {
	f := newConnFixture(t)
	cfg := DefaultConfig()
	cfg.RateLimit = RateLimitConfig{Burst: 1, RefillInterval: time.Hour}
	_, tr := f.open(t, cfg)

	tr.reads <- []byte(`{"type":"logout"}`)
	tr.reads <- []byte(`{"type":"logout"}`)

	require.Eventually(t, func() bool { return tr.count() == 2 }, time.Second, 5*time.Millisecond)
	got := tr.envelopes(t)
	assert.Equal(t, "you are not logged in", got[0].Message)
	assert.Equal(t, "logout_response", got[1].Type)
	assert.Equal(t, msgRateLimited, got[1].Message)
}

func TestHubRejectsAfterShutdown(t *testing.T) {
	hub := NewHub(logging.Discard())
	go hub.Run()
	require.NoError(t, hub.Shutdown(time.Second))

	c := newConn(newFakeTransport(), hub, nil, DefaultConfig(), logging.Discard())
	assert.False(t, hub.Register(c))
	hub.Unregister(c)
}
