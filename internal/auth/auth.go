// Package auth has the credential providers used to authorize the calls made to
// the OCR service and its progress channels.
package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/slok/ocrtrack/internal/model"
)

// Provider returns the current authorization token. It is read on every call and
// on every channel (re)connection, so rotated tokens are picked up.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// ProviderFunc is a helper to implement Provider with a function.
type ProviderFunc func(ctx context.Context) (string, error)

func (p ProviderFunc) Token(ctx context.Context) (string, error) { return p(ctx) }

// Static returns a provider with a fixed token.
func Static(token string) Provider {
	return ProviderFunc(func(context.Context) (string, error) {
		if token == "" {
			return "", fmt.Errorf("empty token: %w", model.ErrNotAuthenticated)
		}
		return token, nil
	})
}

// Session is an in-memory credential with an explicit lifecycle: set on login and
// cleared on logout. It is safe for concurrent use.
type Session struct {
	mu    sync.RWMutex
	token string
}

// NewSession returns an empty (logged out) session.
func NewSession() *Session { return &Session{} }

// Set stores the token obtained on login.
func (s *Session) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Clear removes the token (logout).
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

// Authenticated returns true if there is a token.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

// Token satisfies Provider.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" {
		return "", fmt.Errorf("no session: %w", model.ErrNotAuthenticated)
	}
	return s.token, nil
}
