// Package session holds the bearer token of the signed-in customer.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/storefront/internal/apperr"
	"github.com/fjod/go_cart/storefront/internal/storage"
)

type Session struct {
	mu        sync.RWMutex
	store     storage.Store
	namespace string
	token     string
	listeners []func()
	log       *zap.Logger

	now func() time.Time
}

func New(store storage.Store, namespace string, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		store:     store,
		namespace: namespace,
		log:       log,
		now:       time.Now,
	}
}

// Restore loads a previously persisted token. A missing token is not an error.
func (s *Session) Restore(ctx context.Context) error {
	token, err := s.store.LoadToken(ctx, s.namespace)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

// Login stores token for later requests. Tokens whose exp claim is already
// in the past are refused.
func (s *Session) Login(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperr.Validation("session.login", map[string]string{"token": "token is required"})
	}
	if s.expired(token) {
		return apperr.New(apperr.KindUnauthenticated, "session.login", "token has expired")
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	if err := s.store.SaveToken(ctx, s.namespace, token); err != nil {
		s.log.Warn("failed to persist token", zap.Error(err))
	}
	return nil
}

// Token returns the current bearer token or an Unauthenticated error.
func (s *Session) Token() (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return "", apperr.ErrUnauthenticated
	}
	if s.expired(token) {
		return "", apperr.New(apperr.KindUnauthenticated, "session.token", "session has expired")
	}
	return token, nil
}

func (s *Session) Authenticated() bool {
	_, err := s.Token()
	return err == nil
}

// ExpiresAt reports the exp claim of a JWT token. Opaque tokens have none.
func (s *Session) ExpiresAt() (time.Time, bool) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	return expiry(token)
}

// OnExpired registers fn to run each time the session is expired.
func (s *Session) OnExpired(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Expire drops the token locally and from the store, then notifies listeners.
func (s *Session) Expire(ctx context.Context) {
	s.mu.Lock()
	had := s.token != ""
	s.token = ""
	listeners := make([]func(), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	if err := s.store.DeleteToken(ctx, s.namespace); err != nil {
		s.log.Warn("failed to delete persisted token", zap.Error(err))
	}
	if had {
		s.log.Info("session expired, login required")
	}
	for _, fn := range listeners {
		fn()
	}
}

func (s *Session) expired(token string) bool {
	exp, ok := expiry(token)
	return ok && !s.now().Before(exp)
}

func expiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
