package gateway

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/storefront"
)

// multipartMemory is held in memory per form; larger proofs spill to temp files.
const multipartMemory = 1 << 20

type CheckoutHandler struct {
	responder
	sf      *storefront.Storefront
	timeout time.Duration
}

func NewCheckoutHandler(sf *storefront.Storefront, timeout time.Duration, log *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{responder: newResponder(log), sf: sf, timeout: timeout}
}

type DiscountRequestDTO struct {
	Code string `json:"code"`
}

type ShippingRequestDTO struct {
	Governorate string `json:"governorate"`
}

type OrderRequestDTO struct {
	FullName      string `json:"full_name"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	Governorate   string `json:"governorate"`
	PaymentMethod string `json:"payment_method"`
	SenderDetails string `json:"sender_details"`
	Notes         string `json:"notes"`
}

type ReceiptResponseDTO struct {
	Order             domain.Order  `json:"order"`
	Totals            domain.Totals `json:"totals"`
	ProofURL          string        `json:"proof_url,omitempty"`
	ProofError        string        `json:"proof_error,omitempty"`
	NotificationError string        `json:"notification_error,omitempty"`
}

type StateResponseDTO struct {
	State  domain.SubmissionState `json:"state"`
	Reason domain.FailureReason   `json:"reason,omitempty"`
}

// GET /api/v1/checkout/shipping?refresh=true
func (h *CheckoutHandler) ListShipping(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	force, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	fees, err := h.sf.Checkout.LoadShipping(ctx, force)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, fees)
}

// PUT /api/v1/checkout/shipping
func (h *CheckoutHandler) SelectShipping(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ShippingRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	// the list must be loaded before a governorate can be picked
	if _, err := h.sf.Checkout.LoadShipping(ctx, false); err != nil {
		h.handleError(w, err)
		return
	}
	if _, err := h.sf.Checkout.SelectShipping(req.Governorate); err != nil {
		h.handleError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, h.sf.Checkout.ComputeTotal())
}

// POST /api/v1/checkout/discount
func (h *CheckoutHandler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req DiscountRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if _, err := h.sf.Checkout.ValidateDiscountCode(ctx, req.Code); err != nil {
		h.handleError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, h.sf.Checkout.ComputeTotal())
}

// DELETE /api/v1/checkout/discount
func (h *CheckoutHandler) ClearDiscount(w http.ResponseWriter, _ *http.Request) {
	h.sf.Checkout.ClearDiscount()
	h.respondJSON(w, http.StatusOK, h.sf.Checkout.ComputeTotal())
}

// GET /api/v1/checkout/totals
func (h *CheckoutHandler) Totals(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, h.sf.Checkout.ComputeTotal())
}

// GET /api/v1/checkout/state
func (h *CheckoutHandler) State(w http.ResponseWriter, _ *http.Request) {
	state, reason := h.sf.Checkout.State()
	h.respondJSON(w, http.StatusOK, StateResponseDTO{State: state, Reason: reason})
}

// POST /api/v1/checkout/orders
//
// Accepts a JSON body, or multipart/form-data with the same fields and an
// optional "proof" image file.
func (h *CheckoutHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	form, cleanup, ok := h.parseOrderForm(w, r)
	if !ok {
		return
	}
	defer cleanup()

	receipt, err := h.sf.Checkout.SubmitOrder(ctx, form)
	if err != nil {
		h.handleError(w, err)
		return
	}

	resp := ReceiptResponseDTO{
		Order:    receipt.Order,
		Totals:   receipt.Totals,
		ProofURL: receipt.ProofURL,
	}
	if receipt.ProofError != nil {
		resp.ProofError = receipt.ProofError.Error()
	}
	if receipt.NotificationError != nil {
		resp.NotificationError = receipt.NotificationError.Error()
	}
	h.respondJSON(w, http.StatusCreated, resp)
}

func (h *CheckoutHandler) parseOrderForm(w http.ResponseWriter, r *http.Request) (domain.OrderForm, func(), bool) {
	noop := func() {}
	var req OrderRequestDTO
	var form domain.OrderForm
	cleanup := noop

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			removeMultipart(r)
			h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid multipart body")
			return form, noop, false
		}
		cleanup = func() { removeMultipart(r) }
		req = OrderRequestDTO{
			FullName:      r.FormValue("full_name"),
			Phone:         r.FormValue("phone"),
			Address:       r.FormValue("address"),
			Governorate:   r.FormValue("governorate"),
			PaymentMethod: r.FormValue("payment_method"),
			SenderDetails: r.FormValue("sender_details"),
			Notes:         r.FormValue("notes"),
		}
		if file, hdr, err := r.FormFile("proof"); err == nil {
			form.ProofImage = file
			form.ProofFilename = hdr.Filename
			cleanup = func() {
				_ = file.Close()
				removeMultipart(r)
			}
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return form, noop, false
	}

	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		cleanup()
		h.respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Please review the highlighted fields.",
			Code:    "invalid_input",
			Details: map[string]string{"payment_method": "payment method must be instapay or vodafonecash"},
		})
		return form, noop, false
	}

	form.FullName = req.FullName
	form.Phone = req.Phone
	form.Address = req.Address
	form.Governorate = req.Governorate
	form.PaymentMethod = method
	form.SenderDetails = req.SenderDetails
	form.Notes = req.Notes
	return form, cleanup, true
}

// removeMultipart deletes the temp files a parsed multipart form spilled
// to disk.
func removeMultipart(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}
