// internal/access/credentials.go
package access

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrMalformedHash    = errors.New("malformed token hash")
	ErrEmptyCredentials = errors.New("principal and token must not be empty")
)

// hashToken generates a salted Argon2id hash of the token, encoded as
// "<salt>$<hash>" in standard base64.
func hashToken(token string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(token), salt, 1, 64*1024, 4, 32)

	return base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(hash), nil
}

// verifyToken compares a token with an encoded salted hash.
func verifyToken(token, encoded string) (bool, error) {
	saltPart, hashPart, ok := strings.Cut(encoded, "$")
	if !ok {
		return false, ErrMalformedHash
	}

	salt, err := base64.StdEncoding.DecodeString(saltPart)
	if err != nil {
		return false, fmt.Errorf("failed to decode salt: %w", err)
	}

	expected, err := base64.StdEncoding.DecodeString(hashPart)
	if err != nil {
		return false, fmt.Errorf("failed to decode hash: %w", err)
	}

	actual := argon2.IDKey([]byte(token), salt, 1, 64*1024, 4, 32)

	return subtle.ConstantTimeCompare(expected, actual) == 1, nil
}

// Credentials holds bearer token hashes for principals that must prove their
// identity, typically just the owner.
type Credentials struct {
	mu     sync.RWMutex
	hashes map[Principal]string
}

// NewCredentials creates an empty registry.
func NewCredentials() *Credentials {
	return &Credentials{hashes: make(map[Principal]string)}
}

// Register stores a hash of token for p, replacing any previous one.
func (c *Credentials) Register(p Principal, token string) error {
	if p == "" || token == "" {
		return ErrEmptyCredentials
	}
	hash, err := hashToken(token)
	if err != nil {
		return fmt.Errorf("failed to hash token: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes[p] = hash
	return nil
}

// Protected reports whether p has a registered token.
func (c *Credentials) Protected(p Principal) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.hashes[p]
	return ok
}

// Verify checks token for p. Principals without a registered token pass.
func (c *Credentials) Verify(p Principal, token string) error {
	c.mu.RLock()
	hash, ok := c.hashes[p]
	c.mu.RUnlock()

	if !ok {
		return nil
	}
	if token == "" {
		return fmt.Errorf("%w: token required for %s", ErrUnauthenticated, p)
	}

	valid, err := verifyToken(token, hash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !valid {
		return fmt.Errorf("%w: invalid token for %s", ErrUnauthenticated, p)
	}
	return nil
}
