// Package mirror holds the device-local copy of the cart. Only the
// reconciler mutates it; everyone else reads deep-copied snapshots.
package mirror

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fjod/go_cart/storefront/internal/apperr"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/storage"
)

const persistTimeout = 2 * time.Second

// Undo reverts exactly the change that produced it.
type Undo func()

type Mirror struct {
	mu        sync.Mutex
	cart      domain.CartSnapshot
	store     storage.Store
	namespace string
	listeners []func(domain.CartSnapshot)
	log       *zap.Logger
}

func New(store storage.Store, namespace string, log *zap.Logger) *Mirror {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mirror{store: store, namespace: namespace, log: log}
}

// Restore loads the persisted cart. The store is only a cache, so any
// failure leaves an empty cart behind.
func (m *Mirror) Restore(ctx context.Context) {
	cart, err := m.store.LoadCart(ctx, m.namespace)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.log.Warn("discarding unreadable local cart", zap.Error(err))
		}
		return
	}
	m.mu.Lock()
	m.cart = cart.Clone()
	m.cart.Authoritative = false
	m.mu.Unlock()
}

func (m *Mirror) Snapshot() domain.CartSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cart.Clone()
}

func (m *Mirror) Line(lineID string) (domain.CartLine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.cart.IndexOf(lineID)
	if i < 0 {
		return domain.CartLine{}, false
	}
	return m.cart.Clone().Lines[i], true
}

// Subscribe registers fn to receive a copy of the cart after every change.
func (m *Mirror) Subscribe(fn func(domain.CartSnapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// MergeLine adds line.Quantity to the line of the same variant or appends
// line at the end.
func (m *Mirror) MergeLine(line domain.CartLine) Undo {
	return m.merge(line, false)
}

// MergeLocalLine is MergeLine for changes made without a session. It only
// merges into lines the backend has not seen yet, so quantity added on top
// of a server line stays a separate local line until it is pushed.
func (m *Mirror) MergeLocalLine(line domain.CartLine) Undo {
	line.ID = ""
	return m.merge(line, true)
}

func (m *Mirror) merge(line domain.CartLine, localOnly bool) Undo {
	m.mu.Lock()
	i := indexOfVariant(m.cart, line, localOnly)
	if i >= 0 {
		prev := m.cart.Lines[i].Quantity
		m.cart.Lines[i].Quantity += line.Quantity
		m.changedLocked()
		return m.undo(func() {
			if j := indexOfVariant(m.cart, line, localOnly); j >= 0 {
				m.cart.Lines[j].Quantity = prev
			}
		})
	}

	m.cart.Lines = append(m.cart.Lines, line.Clone())
	m.changedLocked()
	return m.undo(func() {
		if j := indexOfVariant(m.cart, line, localOnly); j >= 0 {
			m.cart.Lines = append(m.cart.Lines[:j], m.cart.Lines[j+1:]...)
		}
	})
}

func indexOfVariant(cart domain.CartSnapshot, line domain.CartLine, localOnly bool) int {
	if !localOnly {
		return cart.IndexOfVariant(line)
	}
	for i, l := range cart.Lines {
		if l.ID == "" && l.SameVariant(line) {
			return i
		}
	}
	return -1
}

// SetQuantity replaces the quantity of an existing line.
func (m *Mirror) SetQuantity(lineID string, qty int) (Undo, error) {
	if qty < 1 {
		return nil, apperr.New(apperr.KindInvalidQuantity, "mirror.set_quantity", "quantity must be at least 1")
	}
	m.mu.Lock()
	i := m.cart.IndexOf(lineID)
	if i < 0 {
		m.mu.Unlock()
		return nil, apperr.New(apperr.KindNotFound, "mirror.set_quantity", "line "+lineID+" not in cart")
	}
	original := m.cart.Lines[i].Clone()
	m.cart.Lines[i].Quantity = qty
	m.changedLocked()
	return m.undo(func() {
		m.restoreLineLocked(i, original)
	}), nil
}

// Remove drops a line; its undo puts it back at the same position.
func (m *Mirror) Remove(lineID string) (Undo, error) {
	m.mu.Lock()
	i := m.cart.IndexOf(lineID)
	if i < 0 {
		m.mu.Unlock()
		return nil, apperr.New(apperr.KindNotFound, "mirror.remove", "line "+lineID+" not in cart")
	}
	original := m.cart.Lines[i].Clone()
	m.cart.Lines = append(m.cart.Lines[:i], m.cart.Lines[i+1:]...)
	m.changedLocked()
	return m.undo(func() {
		m.restoreLineLocked(i, original)
	}), nil
}

func (m *Mirror) Clear() Undo {
	m.mu.Lock()
	prev := m.cart.Clone()
	m.cart = domain.CartSnapshot{}
	m.changedLocked()
	return m.undo(func() {
		m.cart = prev.Clone()
	})
}

// Replace installs cart wholesale, typically an authoritative snapshot.
func (m *Mirror) Replace(cart domain.CartSnapshot) Undo {
	m.mu.Lock()
	prev := m.cart.Clone()
	m.cart = cart.Clone()
	m.persistLocked()
	return m.undo(func() {
		m.cart = prev.Clone()
	})
}

// restoreLineLocked puts original back where it was, replacing whatever
// line now carries its id.
func (m *Mirror) restoreLineLocked(index int, original domain.CartLine) {
	if j := m.cart.IndexOf(original.ID); j >= 0 {
		m.cart.Lines[j] = original
		return
	}
	if index > len(m.cart.Lines) {
		index = len(m.cart.Lines)
	}
	m.cart.Lines = append(m.cart.Lines, domain.CartLine{})
	copy(m.cart.Lines[index+1:], m.cart.Lines[index:])
	m.cart.Lines[index] = original
}

// undo releases the lock held by the mutation and wraps revert so that it
// runs once, under the lock, followed by persistence and notification.
func (m *Mirror) undo(revert func()) Undo {
	m.notify()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			revert()
			m.persistLocked()
			m.notify()
		})
	}
}

// changedLocked marks the cart optimistic and persists it.
func (m *Mirror) changedLocked() {
	m.cart.Authoritative = false
	m.persistLocked()
}

func (m *Mirror) persistLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	if m.cart.IsEmpty() {
		err = m.store.DeleteCart(ctx, m.namespace)
	} else {
		err = m.store.SaveCart(ctx, m.namespace, &m.cart)
	}
	if err != nil {
		m.log.Warn("failed to persist local cart", zap.Error(err))
	}
}

// notify must be called with the lock held; it releases it.
func (m *Mirror) notify() {
	snapshot := m.cart.Clone()
	listeners := m.listeners
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(snapshot.Clone())
	}
}
