// Package storage persists the device-local cart mirror and access token.
// It is a disposable cache, never the system of record: the backend owns
// the durable cart.
package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

var ErrNotFound = errors.New("not found in local store")

type Store interface {
	LoadCart(ctx context.Context, namespace string) (*domain.CartSnapshot, error)
	SaveCart(ctx context.Context, namespace string, cart *domain.CartSnapshot) error
	DeleteCart(ctx context.Context, namespace string) error
	LoadToken(ctx context.Context, namespace string) (string, error)
	SaveToken(ctx context.Context, namespace string, token string) error
	DeleteToken(ctx context.Context, namespace string) error
	Close() error
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	carts  map[string]domain.CartSnapshot
	tokens map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		carts:  make(map[string]domain.CartSnapshot),
		tokens: make(map[string]string),
	}
}

func (m *MemoryStore) LoadCart(_ context.Context, ns string) (*domain.CartSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cart, ok := m.carts[ns]
	if !ok {
		return nil, ErrNotFound
	}
	c := cart.Clone()
	return &c, nil
}

func (m *MemoryStore) SaveCart(_ context.Context, ns string, cart *domain.CartSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[ns] = cart.Clone()
	return nil
}

func (m *MemoryStore) DeleteCart(_ context.Context, ns string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, ns)
	return nil
}

func (m *MemoryStore) LoadToken(_ context.Context, ns string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.tokens[ns]
	if !ok {
		return "", ErrNotFound
	}
	return token, nil
}

func (m *MemoryStore) SaveToken(_ context.Context, ns string, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[ns] = token
	return nil
}

func (m *MemoryStore) DeleteToken(_ context.Context, ns string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, ns)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
