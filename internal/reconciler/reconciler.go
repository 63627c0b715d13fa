// Package reconciler keeps the local cart mirror consistent with the
// backend. Changes are applied optimistically and reverted when the
// backend refuses them.
package reconciler

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_cart/storefront/internal/apperr"
	"github.com/fjod/go_cart/storefront/internal/backend"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/mirror"
	"github.com/fjod/go_cart/storefront/internal/telemetry"
)

// Remote is the part of the backend client the reconciler drives.
type Remote interface {
	GetCart(ctx context.Context) (domain.CartSnapshot, error)
	AddItem(ctx context.Context, item backend.AddItemRequest) error
	UpdateItem(ctx context.Context, lineID string, quantity int) error
	RemoveItem(ctx context.Context, lineID string) error
	ClearCart(ctx context.Context) error
}

type Session interface {
	Authenticated() bool
	Expire(ctx context.Context)
}

// LineOptions selects the variant of a product being added.
type LineOptions struct {
	Size          string
	Color         string
	Customization string
}

type Reconciler struct {
	mirror  *mirror.Mirror
	remote  Remote
	session Session
	log     *zap.Logger

	// line operations hold cart.RLock, cart-wide ones hold cart.Lock
	cart    sync.RWMutex
	lines   lineLocks
	fetches singleflight.Group
}

func New(m *mirror.Mirror, remote Remote, session Session, log *zap.Logger) *Reconciler {
	return &Reconciler{
		mirror:  m,
		remote:  remote,
		session: session,
		log:     logger.OrNop(log),
		lines:   lineLocks{locks: make(map[string]*lineLock)},
	}
}

// Transact applies a local change and runs remote. When remote fails the
// change is reverted before Transact returns.
func Transact(ctx context.Context, apply func() (mirror.Undo, error), remote func(context.Context) error) error {
	undo, err := apply()
	if err != nil {
		return err
	}
	if err := remote(ctx); err != nil {
		undo()
		return err
	}
	return nil
}

func (r *Reconciler) Snapshot() domain.CartSnapshot {
	return r.mirror.Snapshot()
}

// AddLine merges qty of product into the line of the same variant, or
// appends a new line. Without a session the change stays local, on a line
// without an id, until SyncLocalLines pushes it.
func (r *Reconciler) AddLine(ctx context.Context, product domain.ProductRef, qty int, opts LineOptions) (domain.CartSnapshot, error) {
	const op = "cart.add_line"
	ctx, span := telemetry.Tracer().Start(ctx, op)
	defer span.End()
	if strings.TrimSpace(product.ID) == "" {
		return r.Snapshot(), apperr.Validation(op, map[string]string{"product_id": "product is required"})
	}
	if qty < 1 {
		return r.Snapshot(), apperr.New(apperr.KindInvalidQuantity, op, "quantity must be at least 1")
	}

	line := domain.CartLine{
		Product:       product,
		Quantity:      qty,
		Size:          strings.TrimSpace(opts.Size),
		Color:         strings.TrimSpace(opts.Color),
		Customization: strings.TrimSpace(opts.Customization),
	}

	if !r.session.Authenticated() {
		r.cart.RLock()
		r.mirror.MergeLocalLine(line)
		r.cart.RUnlock()
		return r.Snapshot(), nil
	}

	err := r.withLine(r.variantKey(line), func() error {
		return Transact(ctx,
			func() (mirror.Undo, error) { return r.mirror.MergeLine(line), nil },
			func(ctx context.Context) error {
				return r.remote.AddItem(ctx, backend.AddItemRequest{
					ProductID:         line.Product.ID,
					Quantity:          line.Quantity,
					Size:              line.Size,
					Color:             line.Color,
					CustomizationText: line.Customization,
				})
			})
	})
	if err != nil {
		return r.Snapshot(), r.fail(ctx, op, err)
	}
	return r.refresh(ctx, op), nil
}

// UpdateQuantity sets the quantity of a server line. Quantities below one
// remove the line instead.
func (r *Reconciler) UpdateQuantity(ctx context.Context, lineID string, qty int) (domain.CartSnapshot, error) {
	const op = "cart.update_quantity"
	ctx, span := telemetry.Tracer().Start(ctx, op)
	defer span.End()
	if qty < 1 {
		return r.RemoveLine(ctx, lineID)
	}
	if err := r.requireSession(ctx, op); err != nil {
		return r.Snapshot(), err
	}

	err := r.withLine(lineID, func() error {
		return Transact(ctx,
			func() (mirror.Undo, error) { return r.mirror.SetQuantity(lineID, qty) },
			func(ctx context.Context) error { return r.remote.UpdateItem(ctx, lineID, qty) })
	})
	if err != nil {
		return r.Snapshot(), r.fail(ctx, op, err)
	}
	return r.refresh(ctx, op), nil
}

// RemoveLine deletes a server line. Nothing derived changes, so no refresh
// follows.
func (r *Reconciler) RemoveLine(ctx context.Context, lineID string) (domain.CartSnapshot, error) {
	const op = "cart.remove_line"
	ctx, span := telemetry.Tracer().Start(ctx, op)
	defer span.End()
	if err := r.requireSession(ctx, op); err != nil {
		return r.Snapshot(), err
	}

	err := r.withLine(lineID, func() error {
		return Transact(ctx,
			func() (mirror.Undo, error) { return r.mirror.Remove(lineID) },
			func(ctx context.Context) error { return r.remote.RemoveItem(ctx, lineID) })
	})
	if err != nil {
		return r.Snapshot(), r.fail(ctx, op, err)
	}
	return r.Snapshot(), nil
}

// ClearCart empties the cart. Confirming with the shopper is the caller's
// job.
func (r *Reconciler) ClearCart(ctx context.Context) (domain.CartSnapshot, error) {
	const op = "cart.clear"
	ctx, span := telemetry.Tracer().Start(ctx, op)
	defer span.End()
	r.cart.Lock()
	defer r.cart.Unlock()

	if !r.session.Authenticated() {
		r.mirror.Clear()
		return r.mirror.Snapshot(), nil
	}

	err := Transact(ctx,
		func() (mirror.Undo, error) { return r.mirror.Clear(), nil },
		r.remote.ClearCart)
	if err != nil {
		return r.mirror.Snapshot(), r.fail(ctx, op, err)
	}
	return r.mirror.Snapshot(), nil
}

// DiscardLocal empties the mirror without a backend call, for when the
// backend has already consumed the cart.
func (r *Reconciler) DiscardLocal() {
	r.cart.Lock()
	defer r.cart.Unlock()
	r.mirror.Clear()
}

// FetchAuthoritative replaces the mirror with the backend cart. Concurrent
// callers share one request.
func (r *Reconciler) FetchAuthoritative(ctx context.Context) (domain.CartSnapshot, error) {
	const op = "cart.fetch"
	ctx, span := telemetry.Tracer().Start(ctx, op)
	defer span.End()
	if err := r.requireSession(ctx, op); err != nil {
		return r.Snapshot(), err
	}

	v, err, _ := r.fetches.Do("cart", func() (any, error) {
		r.cart.Lock()
		defer r.cart.Unlock()

		snap, err := r.remote.GetCart(ctx)
		if err != nil {
			return nil, err
		}
		r.mirror.Replace(snap)
		return r.mirror.Snapshot(), nil
	})
	if err != nil {
		return r.Snapshot(), r.fail(ctx, op, err)
	}
	return v.(domain.CartSnapshot).Clone(), nil
}

// SyncLocalLines pushes lines added before login to the backend, then
// refreshes. Lines the backend refuses are dropped by the refresh.
func (r *Reconciler) SyncLocalLines(ctx context.Context) (domain.CartSnapshot, error) {
	const op = "cart.sync_local"
	ctx, span := telemetry.Tracer().Start(ctx, op)
	defer span.End()
	if err := r.requireSession(ctx, op); err != nil {
		return r.Snapshot(), err
	}

	var pushErr error
	for _, line := range r.Snapshot().Lines {
		if line.ID != "" {
			continue
		}
		err := r.remote.AddItem(ctx, backend.AddItemRequest{
			ProductID:         line.Product.ID,
			Quantity:          line.Quantity,
			Size:              line.Size,
			Color:             line.Color,
			CustomizationText: line.Customization,
		})
		if err != nil {
			logger.WithContext(ctx, r.log).Warn("local line not accepted by backend",
				zap.String("product_id", line.Product.ID), zap.Error(err))
			if apperr.Is(err, apperr.KindUnauthenticated) {
				return r.Snapshot(), r.fail(ctx, op, err)
			}
			pushErr = errors.Join(pushErr, err)
		}
	}

	snap, err := r.FetchAuthoritative(ctx)
	if err != nil {
		return snap, err
	}
	if pushErr != nil {
		return snap, r.fail(ctx, op, pushErr)
	}
	return snap, nil
}

func (r *Reconciler) withLine(key string, fn func() error) error {
	r.cart.RLock()
	defer r.cart.RUnlock()
	unlock := r.lines.lock(key)
	defer unlock()
	return fn()
}

// variantKey serialises adds with other operations on the line they merge
// into; new variants are keyed by their selectors.
func (r *Reconciler) variantKey(line domain.CartLine) string {
	snap := r.mirror.Snapshot()
	if i := snap.IndexOfVariant(line); i >= 0 && snap.Lines[i].ID != "" {
		return snap.Lines[i].ID
	}
	return strings.Join([]string{"variant", line.Product.ID, line.Size, line.Color, line.Customization}, "\x00")
}

// refresh follows a confirmed mutation. The mutation stands even when the
// refresh fails; the mirror then stays optimistic until the next fetch.
func (r *Reconciler) refresh(ctx context.Context, op string) domain.CartSnapshot {
	snap, err := r.FetchAuthoritative(ctx)
	if err != nil {
		logger.WithContext(ctx, r.log).Warn("refresh after mutation failed",
			zap.String("op", op), zap.Error(err))
	}
	return snap
}

func (r *Reconciler) requireSession(ctx context.Context, op string) error {
	if r.session.Authenticated() {
		return nil
	}
	return r.fail(ctx, op, apperr.New(apperr.KindUnauthenticated, op, "login required"))
}

// fail classifies err and expires the session on authentication failures.
func (r *Reconciler) fail(ctx context.Context, op string, err error) error {
	var e *apperr.Error
	if !errors.As(err, &e) {
		kind := apperr.KindUnknown
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			kind = apperr.KindNetworkError
		}
		e = apperr.Wrap(kind, op, err)
		err = e
	}

	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, e.Kind.String())

	log := logger.WithContext(ctx, r.log)
	switch e.Kind {
	case apperr.KindInvalidInput, apperr.KindInvalidQuantity:
		log.Info("cart change rejected", zap.String("op", op), zap.Error(err))
	default:
		log.Warn("cart change failed", zap.String("op", op), zap.String("kind", e.Kind.String()), zap.Error(err))
	}

	if e.Kind == apperr.KindUnauthenticated {
		r.session.Expire(ctx)
	}
	return err
}

type lineLock struct {
	sync.Mutex
	refs int
}

type lineLocks struct {
	mu    sync.Mutex
	locks map[string]*lineLock
}

// lock serialises callers using the same key and returns the release func.
func (l *lineLocks) lock(key string) func() {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &lineLock{}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.Lock()
	return func() {
		lk.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
