package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hash scheme names accepted by NewHasher.
const (
	SchemeSHA256 = "sha256"
	SchemeBcrypt = "bcrypt"
)

// ErrUnknownScheme is returned by NewHasher for an unrecognized scheme name.
var ErrUnknownScheme = errors.New("auth: unknown password hash scheme")

// Hasher derives and checks stored password hashes.
type Hasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
}

// NewHasher returns the Hasher for scheme. An empty scheme selects SHA-256.
func NewHasher(scheme string) (Hasher, error) {
	switch scheme {
	case "", SchemeSHA256:
		return SHA256Hasher{}, nil
	case SchemeBcrypt:
		return BcryptHasher{Cost: bcrypt.DefaultCost}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
}

// SHA256Hasher stores the hex SHA-256 digest of the password. It is
// unsalted and fast, and exists for compatibility with credentials created
// by earlier deployments.
type SHA256Hasher struct{}

// Hash returns the hex digest of password.
func (SHA256Hasher) Hash(password string) (string, error) {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:]), nil
}

// Compare reports whether password digests to hash.
func (h SHA256Hasher) Compare(hash, password string) bool {
	candidate, _ := h.Hash(password)
	return subtle.ConstantTimeCompare([]byte(hash), []byte(candidate)) == 1
}

// BcryptHasher stores salted bcrypt hashes. Hashes it produces are not
// readable by SHA256Hasher and vice versa.
type BcryptHasher struct {
	Cost int
}

// Hash returns a bcrypt hash of password.
func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(hash), nil
}

// Compare reports whether password matches the bcrypt hash.
func (BcryptHasher) Compare(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
