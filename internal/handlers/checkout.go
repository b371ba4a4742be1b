package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/brightpath-academy/enroll/internal/domain"
	"github.com/brightpath-academy/enroll/internal/gateway"
	"github.com/brightpath-academy/enroll/internal/platform/httpx"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutResolver resolves a suspended checkout window by order. Exactly
// one of Complete or Dismiss wins; the loser is reported as missing.
type CheckoutResolver interface {
	Complete(orderID string, receipt domain.PaymentReceipt) error
	Dismiss(orderID string) error
}

// CheckoutHandlers receives the widget callbacks: the payment receipt on
// completion, or a bare dismissal when the payer closes the window.
type CheckoutHandlers struct {
	resolver CheckoutResolver
}

// NewCheckoutHandlers constructs checkout callback handlers.
func NewCheckoutHandlers(resolver CheckoutResolver) *CheckoutHandlers {
	return &CheckoutHandlers{resolver: resolver}
}

// Routes registers checkout callback endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/{orderID}/complete", h.complete)
	r.Post("/{orderID}/dismiss", h.dismiss)
}

type checkoutCompleteRequest struct {
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

type checkoutResolvedResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"orderId"`
}

func (h *CheckoutHandlers) complete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.resolver == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req checkoutCompleteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	paymentID := strings.TrimSpace(req.PaymentID)
	signature := strings.TrimSpace(req.Signature)
	if paymentID == "" || signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "razorpay_payment_id and razorpay_signature are required", http.StatusBadRequest))
		return
	}

	receipt := domain.PaymentReceipt{
		OrderID:   orderID,
		PaymentID: paymentID,
		Signature: signature,
	}
	if err := h.resolver.Complete(orderID, receipt); err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutResolvedResponse{Status: "completed", OrderID: orderID})
}

func (h *CheckoutHandlers) dismiss(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.resolver == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	if err := h.resolver.Dismiss(orderID); err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutResolvedResponse{Status: "dismissed", OrderID: orderID})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrNoPendingCheckout):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_not_found", "no checkout is awaiting this order", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to resolve checkout", http.StatusInternalServerError))
	}
}
