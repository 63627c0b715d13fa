package checkout

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/storefront/internal/apperr"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/retry"
	"github.com/fjod/go_cart/storefront/internal/telemetry"
)

var phonePattern = regexp.MustCompile(`^01[0-9]{9}$`)

// Receipt describes an accepted order. Proof upload and admin notification
// failures do not fail the order; they are reported here instead.
type Receipt struct {
	Order             domain.Order
	Totals            domain.Totals
	IdempotencyKey    string
	ProofURL          string
	ProofError        error
	NotificationError error
}

// SubmissionError is returned by SubmitOrder when the order was not placed.
type SubmissionError struct {
	Reason domain.FailureReason
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("order submission failed (%s): %v", e.Reason, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// ReasonOf returns the failure reason carried by err, if any.
func ReasonOf(err error) (domain.FailureReason, bool) {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Reason, true
	}
	return "", false
}

// ValidateForm checks the checkout form and returns an InvalidInput error
// listing every offending field.
func ValidateForm(form domain.OrderForm) error {
	fields := make(map[string]string)
	if strings.TrimSpace(form.FullName) == "" {
		fields["full_name"] = "full name is required"
	}
	switch phone := strings.TrimSpace(form.Phone); {
	case phone == "":
		fields["phone"] = "phone number is required"
	case !phonePattern.MatchString(phone):
		fields["phone"] = "phone number must be 11 digits starting with 01"
	}
	if strings.TrimSpace(form.Address) == "" {
		fields["address"] = "address is required"
	}
	if strings.TrimSpace(form.Governorate) == "" {
		fields["governorate"] = "governorate is required"
	}
	if strings.TrimSpace(form.SenderDetails) == "" {
		if form.PaymentMethod == domain.PaymentVodafoneCash {
			fields["sender_details"] = "sender mobile number is required"
		} else {
			fields["sender_details"] = "sender name or InstaPay account is required"
		}
	}
	if len(fields) > 0 {
		return apperr.Validation("checkout.validate_form", fields)
	}
	return nil
}

// SubmitOrder places the order for the current cart. Only one submission
// runs at a time; a second call while one is in flight is rejected. A
// failed submission leaves the cart as it was and is never retried here.
func (a *Aggregator) SubmitOrder(ctx context.Context, form domain.OrderForm) (*Receipt, error) {
	const op = "checkout.submit_order"
	ctx, span := telemetry.Tracer().Start(ctx, op)
	defer span.End()
	log := logger.WithContext(ctx, a.log)

	a.mu.Lock()
	if !domain.CanTransitionTo(a.state, domain.SubmissionValidating) {
		a.mu.Unlock()
		return nil, apperr.New(apperr.KindConflict, op, "an order submission is already in progress")
	}
	a.state = domain.SubmissionValidating
	a.reason = ""
	a.mu.Unlock()

	if err := ValidateForm(form); err != nil {
		return nil, a.failed(ctx, domain.FailureInvalidPayload, err)
	}
	cart := a.cart.Snapshot()
	if len(cart.Lines) == 0 {
		return nil, a.failed(ctx, domain.FailureInvalidPayload, apperr.ErrEmptyCart)
	}
	if !a.session.Authenticated() {
		a.session.Expire(ctx)
		return nil, a.failed(ctx, domain.FailureAuthExpired, apperr.New(apperr.KindUnauthenticated, op, "login required"))
	}

	governorate := strings.TrimSpace(form.Governorate)
	if sel, ok := a.Selection(); !ok || !strings.EqualFold(sel.Governorate, governorate) {
		if _, err := a.SelectShipping(governorate); err != nil {
			return nil, a.failed(ctx, domain.FailureInvalidPayload,
				apperr.New(apperr.KindInvalidInput, op, "shipping fee for "+governorate+" could not be resolved"))
		}
	}

	a.mu.Lock()
	totals := a.totalsLocked(cart)
	var code *string
	if a.discount != nil {
		c := a.discount.Code
		code = &c
	}
	if totals.DiscountStale {
		a.mu.Unlock()
		return nil, a.failed(ctx, domain.FailureInvalidPayload,
			apperr.New(apperr.KindInvalidInput, op, "discount code "+totals.DiscountCode+" no longer applies to this cart"))
	}
	a.state = domain.SubmissionSubmitting
	a.mu.Unlock()

	receipt := &Receipt{Totals: totals, IdempotencyKey: uuid.NewString()}

	if form.ProofImage != nil && a.uploader != nil {
		url, err := a.uploader.Upload(ctx, form.ProofFilename, form.ProofImage)
		if err != nil {
			log.Warn("payment proof upload failed, submitting without it", zap.Error(err))
			receipt.ProofError = err
		} else {
			receipt.ProofURL = url
		}
	}

	submission := domain.OrderSubmission{
		FullName:      strings.TrimSpace(form.FullName),
		PhoneNumber:   strings.TrimSpace(form.Phone),
		Address:       strings.TrimSpace(form.Address),
		Governorate:   governorate,
		DiscountCode:  code,
		PaymentMethod: form.PaymentMethod.Code(),
		SenderDetails: strings.TrimSpace(form.SenderDetails),
		PaymentNotes:  optionalString(form.Notes),
		Items:         domain.NewOrderLines(cart),
	}
	if receipt.ProofURL != "" {
		submission.PaymentProofImage = &receipt.ProofURL
	}

	order, err := a.remote.CreateOrder(ctx, submission, receipt.IdempotencyKey)
	if err != nil {
		reason := reasonFor(err)
		if reason == domain.FailureAuthExpired {
			a.session.Expire(ctx)
		}
		return nil, a.failed(ctx, reason, err)
	}
	receipt.Order = order

	// the backend has consumed the cart and the code
	a.cart.DiscardLocal()
	a.mu.Lock()
	a.discount = nil
	a.state = domain.SubmissionSucceeded
	a.mu.Unlock()

	span.SetAttributes(attribute.String("order.id", order.ID))
	log.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("total", totals.Total.StringFixed(2)))

	receipt.NotificationError = a.notify(ctx, order, totals.Total)
	return receipt, nil
}

func (a *Aggregator) notify(ctx context.Context, order domain.Order, total decimal.Decimal) error {
	a.mu.Lock()
	notifier := a.notifier
	a.mu.Unlock()
	if notifier == nil {
		return nil
	}
	ref := order.ID
	if ref == "" {
		ref = order.OrderNumber
	}
	err := retry.Do(ctx, a.policy, func(ctx context.Context) error {
		return notifier.NotifyOrder(ctx, ref, total)
	})
	if err != nil {
		logger.WithContext(ctx, a.log).Warn("admin notification failed, order kept",
			zap.String("order_id", ref), zap.Error(err))
	}
	return err
}

func (a *Aggregator) failed(ctx context.Context, reason domain.FailureReason, err error) error {
	a.mu.Lock()
	a.state = domain.SubmissionFailed
	a.reason = reason
	a.mu.Unlock()

	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(reason))

	logger.WithContext(ctx, a.log).Warn("order submission failed",
		zap.String("reason", string(reason)), zap.Error(err))
	return &SubmissionError{Reason: reason, Err: err}
}

func reasonFor(err error) domain.FailureReason {
	switch apperr.KindOf(err) {
	case apperr.KindUnauthenticated:
		return domain.FailureAuthExpired
	case apperr.KindInvalidInput, apperr.KindInvalidQuantity, apperr.KindNotFound, apperr.KindConflict:
		return domain.FailureInvalidPayload
	case apperr.KindForbidden:
		return domain.FailureForbidden
	case apperr.KindNetworkError:
		return domain.FailureNetworkError
	default:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return domain.FailureNetworkError
		}
		return domain.FailureServerError
	}
}

// notifyRetryable retries everything except failures a retry cannot fix.
func notifyRetryable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindUnauthenticated, apperr.KindForbidden, apperr.KindInvalidInput:
		return false
	}
	return !errors.Is(err, context.Canceled)
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
