package auth_test

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/tcpchat/internal/auth"
)

func TestRegisterAndVerify(t *testing.T) {
	store := auth.NewStore(nil)

	require.NoError(t, store.Register("alice", "p1"))
	assert.ErrorIs(t, store.Register("alice", "p2"), auth.ErrAlreadyExists)

	assert.NoError(t, store.Verify("alice", "p1"))
	assert.ErrorIs(t, store.Verify("alice", "p2"), auth.ErrWrongPassword)
	assert.ErrorIs(t, store.Verify("bob", "p1"), auth.ErrNoSuchUser)
}

func TestRegisterRejectsBlankFields(t *testing.T) {
	store := auth.NewStore(nil)

	for _, tc := range []struct{ user, pass string }{
		{"", "p"},
		{"u", ""},
		{"   ", "p"},
		{"u", "\t\n"},
	} {
		assert.ErrorIs(t, store.Register(tc.user, tc.pass), auth.ErrEmptyField)
	}
	assert.Zero(t, store.Len())
}

func TestRegisterTrimsFields(t *testing.T) {
	store := auth.NewStore(nil)

	require.NoError(t, store.Register("  carol ", " secret "))
	assert.True(t, store.Exists("carol"))
	assert.NoError(t, store.Verify("carol", "secret"))
}

func TestUsernamesAreCaseSensitiveAndSorted(t *testing.T) {
	store := auth.NewStore(nil)
	for _, name := range []string{"bob", "Alice", "alice"} {
		require.NoError(t, store.Register(name, "pw"))
	}

	assert.Equal(t, []string{"Alice", "alice", "bob"}, store.Usernames())
}

func TestStoredHashIsLegacySHA256(t *testing.T) {
	store := auth.NewStore(nil)
	require.NoError(t, store.Register("alice", "p1"))

	user, ok := store.Lookup("alice")
	require.True(t, ok)

	sum := sha256.Sum256([]byte("p1"))
	assert.Equal(t, hex.EncodeToString(sum[:]), user.PasswordHash)
	assert.False(t, user.CreatedAt.IsZero())
}

func TestConcurrentRegisterSameNameSucceedsOnce(t *testing.T) {
	store := auth.NewStore(nil)

	const workers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := store.Register("racer", "pw")
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, auth.ErrAlreadyExists) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, store.Len())
}

func TestBcryptStore(t *testing.T) {
	store := auth.NewStore(auth.BcryptHasher{Cost: 4})

	require.NoError(t, store.Register("alice", "p1"))
	assert.NoError(t, store.Verify("alice", "p1"))
	assert.ErrorIs(t, store.Verify("alice", "nope"), auth.ErrWrongPassword)
}
