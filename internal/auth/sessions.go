// Package auth maps session tokens to usernames and scopes every
// request to its tenant.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/filecove/filecove/internal/credstore"
)

// ErrAuthFailure covers bad credentials, unknown sessions and tenant
// mismatches.
var ErrAuthFailure = errors.New("authentication failed")

// Sessions is the in-memory session registry. A token is the credential
// digest of its user, so the credential list can vouch for tokens minted
// before a restart.
type Sessions struct {
	creds *credstore.Store

	mu      sync.RWMutex
	byToken map[string]string
}

// NewSessions returns a registry backed by creds.
func NewSessions(creds *credstore.Store) *Sessions {
	return &Sessions{
		creds:   creds,
		byToken: make(map[string]string),
	}
}

// Login verifies a username/password pair and registers a session.
func (s *Sessions) Login(username, password string) (string, error) {
	token, ok := s.creds.Verify(username, password)
	if !ok {
		return "", fmt.Errorf("login %s: %w", username, ErrAuthFailure)
	}
	s.mu.Lock()
	s.byToken[token] = username
	s.mu.Unlock()
	return token, nil
}

// Resolve returns the username owning token.
func (s *Sessions) Resolve(token string) (string, error) {
	if token == "" {
		return "", ErrAuthFailure
	}
	s.mu.RLock()
	username, ok := s.byToken[token]
	s.mu.RUnlock()
	if ok {
		return username, nil
	}
	username, ok = s.creds.Lookup(token)
	if !ok {
		return "", ErrAuthFailure
	}
	s.mu.Lock()
	s.byToken[token] = username
	s.mu.Unlock()
	return username, nil
}

// Authorize resolves token and checks that relPath lies inside that
// user's tenant: the first path segment must equal the username. The
// check is independent of how the path was routed.
func (s *Sessions) Authorize(token, relPath string) (string, error) {
	username, err := s.Resolve(token)
	if err != nil {
		return "", err
	}
	segment, _, _ := strings.Cut(relPath, "/")
	if segment != username {
		return "", fmt.Errorf("path outside tenant %s: %w", username, ErrAuthFailure)
	}
	return username, nil
}
