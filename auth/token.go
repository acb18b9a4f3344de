// Package auth holds the session credential shared by the REST and socket
// clients, plus the HS256 helpers the emulator uses to mint and check it.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	jw "github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoSubject    = errors.New("token has no subject")
	ErrInvalidToken = errors.New("invalid token")
)

// TokenSource supplies the current bearer credential. ok is false when the
// session has none.
type TokenSource interface {
	Token() (token string, ok bool)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() (string, bool)

// Token implements TokenSource.
func (f TokenFunc) Token() (string, bool) { return f() }

// Static returns a TokenSource that always yields token.
func Static(token string) TokenSource {
	return TokenFunc(func() (string, bool) { return token, token != "" })
}

// MemoryStore keeps the credential in memory. Login sets it, logout clears it.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryStore creates a store holding token.
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

// Token implements TokenSource.
func (s *MemoryStore) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Set replaces the stored credential.
func (s *MemoryStore) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Clear forgets the stored credential.
func (s *MemoryStore) Clear() {
	s.Set("")
}

// Subject returns the "sub" claim of token without checking the signature.
// The client only needs it to tell its own messages apart; the server is the
// one that verifies.
func Subject(token string) (string, error) {
	claims := jw.MapClaims{}
	if _, _, err := jw.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrNoSubject
	}
	return sub, nil
}

// Issue mints an HS256 token for userID.
func Issue(secret []byte, userID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jw.MapClaims{
		"sub":  userID,
		"name": name,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	return jw.NewWithClaims(jw.SigningMethodHS256, claims).SignedString(secret)
}

// Verify validates an HS256 token and returns its subject.
func Verify(secret []byte, token string) (string, error) {
	t, err := jw.Parse(token, func(t *jw.Token) (any, error) {
		return secret, nil
	}, jw.WithValidMethods([]string{jw.SigningMethodHS256.Alg()}))
	if err != nil || !t.Valid {
		return "", ErrInvalidToken
	}
	sub, err := t.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrNoSubject
	}
	return sub, nil
}
