// Package auth keeps the registered accounts of the chat server and checks
// their passwords.
//
// Accounts live in memory for the lifetime of the process. They are created
// once and never changed or removed.
package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrEmptyField is returned when the username or password is blank.
	ErrEmptyField = errors.New("auth: username and password must not be empty")

	// ErrAlreadyExists is returned when registering a taken username.
	ErrAlreadyExists = errors.New("auth: username already exists")

	// ErrNoSuchUser is returned when verifying an unregistered username.
	ErrNoSuchUser = errors.New("auth: no such user")

	// ErrWrongPassword is returned when the password does not match.
	ErrWrongPassword = errors.New("auth: wrong password")
)

// User is a registered account.
type User struct {
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Store is a concurrency-safe set of accounts keyed by username.
type Store struct {
	mu     sync.RWMutex
	users  map[string]User
	hasher Hasher
	now    func() time.Time
}

// NewStore returns an empty Store. A nil hasher selects SHA256Hasher.
func NewStore(hasher Hasher) *Store {
	if hasher == nil {
		hasher = SHA256Hasher{}
	}
	return &Store{
		users:  make(map[string]User),
		hasher: hasher,
		now:    time.Now,
	}
}

// Register creates an account. Surrounding whitespace is stripped from both
// fields before they are checked and stored.
func (s *Store) Register(username, password string) error {
	username, password = strings.TrimSpace(username), strings.TrimSpace(password)
	if username == "" || password == "" {
		return ErrEmptyField
	}

	// Hash outside the lock; bcrypt is deliberately slow.
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("register %q: %w", username, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return ErrAlreadyExists
	}
	s.users[username] = User{
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	return nil
}

// Verify checks password against the stored hash for username.
func (s *Store) Verify(username, password string) error {
	s.mu.RLock()
	user, exists := s.users[username]
	s.mu.RUnlock()

	if !exists {
		return ErrNoSuchUser
	}
	if !s.hasher.Compare(user.PasswordHash, password) {
		return ErrWrongPassword
	}
	return nil
}

// Exists reports whether username is registered.
func (s *Store) Exists(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.users[username]
	return exists
}

// Lookup returns the account for username.
func (s *Store) Lookup(username string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, exists := s.users[username]
	return user, exists
}

// Usernames returns every registered username in sorted order.
func (s *Store) Usernames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered accounts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
