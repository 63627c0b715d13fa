// Package checkout combines the cart mirror with the shipping reference
// list and an optional discount code into order totals, and submits the
// order.
package checkout

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/storefront/internal/apperr"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/retry"
	"github.com/fjod/go_cart/storefront/internal/telemetry"
)

type Remote interface {
	GetDiscountCode(ctx context.Context, code string) (domain.DiscountCode, error)
	ListShippingFees(ctx context.Context) ([]domain.ShippingFee, error)
	CreateOrder(ctx context.Context, order domain.OrderSubmission, idemKey string) (domain.Order, error)
}

// Cart is the read side of the cart mirror plus the local discard used
// once the backend has consumed the cart.
type Cart interface {
	Snapshot() domain.CartSnapshot
	DiscardLocal()
}

type Session interface {
	Authenticated() bool
	Expire(ctx context.Context)
}

type ProofUploader interface {
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
}

type Notifier interface {
	NotifyOrder(ctx context.Context, orderID string, total decimal.Decimal) error
}

type Options struct {
	ShippingTTL  time.Duration
	NotifyPolicy retry.Policy
	Uploader     ProofUploader
	Notifier     Notifier
	Logger       *zap.Logger
}

type Aggregator struct {
	cart     Cart
	remote   Remote
	session  Session
	uploader ProofUploader
	notifier Notifier
	policy   retry.Policy
	ttl      time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu         sync.Mutex
	shipping   []domain.ShippingFee
	shippingAt time.Time
	selection  *domain.ShippingSelection
	discount   *domain.DiscountApplication
	state      domain.SubmissionState
	reason     domain.FailureReason
}

func New(cart Cart, remote Remote, session Session, opts Options) *Aggregator {
	policy := opts.NotifyPolicy
	if policy.Retryable == nil {
		policy.Retryable = notifyRetryable
	}
	return &Aggregator{
		cart:     cart,
		remote:   remote,
		session:  session,
		uploader: opts.Uploader,
		notifier: opts.Notifier,
		policy:   policy,
		ttl:      opts.ShippingTTL,
		log:      logger.OrNop(opts.Logger),
		now:      time.Now,
		state:    domain.SubmissionIdle,
	}
}

// SetNotifier replaces the admin notifier. It must not be called while an
// order is being submitted.
func (a *Aggregator) SetNotifier(n Notifier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notifier = n
}

// LoadShipping returns the shipping reference list, served from cache
// while it is younger than the configured TTL unless force is set.
func (a *Aggregator) LoadShipping(ctx context.Context, force bool) ([]domain.ShippingFee, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "checkout.load_shipping")
	defer span.End()

	a.mu.Lock()
	if !force && a.shipping != nil && a.ttl > 0 && a.now().Sub(a.shippingAt) < a.ttl {
		fees := append([]domain.ShippingFee(nil), a.shipping...)
		a.mu.Unlock()
		return fees, nil
	}
	a.mu.Unlock()

	fees, err := a.remote.ListShippingFees(ctx)
	if err != nil {
		logger.WithContext(ctx, a.log).Warn("failed to load shipping fees", zap.Error(err))
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.shipping = fees
	a.shippingAt = a.now()
	if a.selection != nil {
		// keep the selection in step with the fresh list
		if fee, ok := findFee(fees, a.selection.Governorate); ok {
			a.selection = selectionOf(fee)
		} else {
			a.selection = nil
		}
	}
	return append([]domain.ShippingFee(nil), fees...), nil
}

// InvalidateShipping makes the next LoadShipping fetch the list again.
// The current list and selection stay usable until then.
func (a *Aggregator) InvalidateShipping() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shippingAt = time.Time{}
}

// SelectShipping picks the fee for governorate from the loaded list.
func (a *Aggregator) SelectShipping(governorate string) (domain.ShippingSelection, error) {
	const op = "checkout.select_shipping"
	governorate = strings.TrimSpace(governorate)
	if governorate == "" {
		return domain.ShippingSelection{}, apperr.Validation(op, map[string]string{"governorate": "governorate is required"})
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.shipping == nil {
		return domain.ShippingSelection{}, apperr.New(apperr.KindInvalidInput, op, "shipping fees have not been loaded")
	}
	fee, ok := findFee(a.shipping, governorate)
	if !ok {
		a.selection = nil
		return domain.ShippingSelection{}, apperr.New(apperr.KindNotFound, op, "no shipping fee for governorate "+governorate)
	}
	a.selection = selectionOf(fee)
	return *a.selection, nil
}

func (a *Aggregator) Selection() (domain.ShippingSelection, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.selection == nil {
		return domain.ShippingSelection{}, false
	}
	return *a.selection, true
}

// ValidateDiscountCode looks code up and, when it applies to the current
// subtotal, makes it the applied discount. A rejected code leaves the
// applied discount untouched.
func (a *Aggregator) ValidateDiscountCode(ctx context.Context, code string) (domain.DiscountApplication, error) {
	const op = "checkout.validate_discount"
	ctx, span := telemetry.Tracer().Start(ctx, op)
	defer span.End()
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.DiscountApplication{}, apperr.Validation(op, map[string]string{"code": "discount code is required"})
	}

	dc, err := a.remote.GetDiscountCode(ctx, code)
	if err != nil {
		if apperr.Is(err, apperr.KindUnauthenticated) {
			a.session.Expire(ctx)
		}
		return domain.DiscountApplication{}, err
	}

	subtotal := a.cart.Snapshot().Subtotal()
	if err := checkDiscount(op, dc, subtotal, a.now()); err != nil {
		logger.WithContext(ctx, a.log).Info("discount code rejected",
			zap.String("code", code), zap.Error(err))
		return domain.DiscountApplication{}, err
	}

	applied := domain.DiscountApplication{
		Code:                 code,
		Amount:               dc.Amount(subtotal),
		MinOrderAmount:       dc.MinOrderAmount,
		SubtotalAtValidation: subtotal,
	}
	a.mu.Lock()
	a.discount = &applied
	a.mu.Unlock()
	return applied, nil
}

func checkDiscount(op string, dc domain.DiscountCode, subtotal decimal.Decimal, now time.Time) error {
	switch {
	case !dc.IsActive:
		return apperr.New(apperr.KindInvalidInput, op, "discount code is not active")
	case !dc.StartDate.IsZero() && now.Before(dc.StartDate.Time):
		return apperr.New(apperr.KindInvalidInput, op, "discount code is not valid yet")
	case !dc.EndDate.IsZero() && now.After(dc.EndDate.Time):
		return apperr.New(apperr.KindInvalidInput, op, "discount code has expired")
	case dc.UsageLimit > 0 && dc.UsageCount >= dc.UsageLimit:
		return apperr.New(apperr.KindInvalidInput, op, "discount code usage limit reached")
	case subtotal.LessThan(dc.MinOrderAmount):
		return apperr.New(apperr.KindInvalidInput, op,
			"order subtotal must be at least "+dc.MinOrderAmount.StringFixed(2)+" to use this code")
	case !dc.Amount(subtotal).IsPositive():
		return apperr.New(apperr.KindInvalidInput, op, "discount code grants no discount")
	}
	return nil
}

func (a *Aggregator) ClearDiscount() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.discount = nil
}

func (a *Aggregator) Discount() (domain.DiscountApplication, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.discount == nil {
		return domain.DiscountApplication{}, false
	}
	return *a.discount, true
}

// ComputeTotal is max(0, subtotal - discount) + shipping, with the subtotal
// taken from the cart as it is now. A discount whose minimum the current
// subtotal no longer meets is reported stale but still shown.
func (a *Aggregator) ComputeTotal() domain.Totals {
	cart := a.cart.Snapshot()
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalsLocked(cart)
}

func (a *Aggregator) totalsLocked(cart domain.CartSnapshot) domain.Totals {
	t := domain.Totals{
		Subtotal:    cart.Subtotal(),
		Discount:    decimal.Zero,
		ShippingFee: decimal.Zero,
		ItemCount:   cart.ItemCount(),
	}
	if a.discount != nil {
		t.Discount = a.discount.Amount
		t.DiscountCode = a.discount.Code
		t.DiscountStale = t.Subtotal.LessThan(a.discount.MinOrderAmount)
	}
	if a.selection != nil {
		t.ShippingFee = a.selection.Fee
	}
	t.Total = decimal.Max(decimal.Zero, t.Subtotal.Sub(t.Discount)).Add(t.ShippingFee)
	return t
}

// State reports the submission state and, after a failure, its reason.
func (a *Aggregator) State() (domain.SubmissionState, domain.FailureReason) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state, a.reason
}

func findFee(fees []domain.ShippingFee, governorate string) (domain.ShippingFee, bool) {
	for _, f := range fees {
		if strings.EqualFold(f.Governorate, governorate) {
			return f, true
		}
	}
	return domain.ShippingFee{}, false
}

func selectionOf(fee domain.ShippingFee) *domain.ShippingSelection {
	return &domain.ShippingSelection{
		Governorate:  fee.Governorate,
		Fee:          fee.Fee,
		DeliveryTime: fee.DeliveryTime,
	}
}
