package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rise-n-smoke/ordering/internal/checkout"
	"github.com/rise-n-smoke/ordering/internal/platform/httpx"
	"github.com/rise-n-smoke/ordering/internal/services"
)

const maxCheckoutBodySize = 16 * 1024

// CheckoutHandlers drives checkout for the caller's cart session.
type CheckoutHandlers struct {
	checkout services.CheckoutService
	limiter  rateLimiter
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutPaymentRateLimit caps pay attempts per session within window.
func WithCheckoutPaymentRateLimit(limit int, window time.Duration) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newRateLimiter(limit, window, nil)
	}
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(svc services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{checkout: svc}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.begin)
	r.With(limitByClient(h.limiter)).Post("/{orderId}/pay", h.pay)
}

type beginCheckoutRequest struct {
	Name                string `json:"name"`
	Email               string `json:"email"`
	Phone               string `json:"phone"`
	PickupDate          string `json:"pickupDate"`
	PickupTime          string `json:"pickupTime"`
	SpecialInstructions string `json:"specialInstructions"`
}

type payCheckoutRequest struct {
	Token string `json:"token"`
}

type checkoutResponse struct {
	State         checkout.State `json:"state"`
	OrderID       string         `json:"orderId"`
	OrderNumber   string         `json:"orderNumber"`
	Total         int64          `json:"total"`
	PaymentID     string         `json:"paymentId,omitempty"`
	CloverOrderID string         `json:"cloverOrderId,omitempty"`
	Printed       *bool          `json:"printed,omitempty"`
}

func (h *CheckoutHandlers) begin(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	var req beginCheckoutRequest
	if !decodeJSONBody(w, r, maxCheckoutBodySize, &req) {
		return
	}
	result, err := h.checkout.Begin(ctx, services.BeginCheckoutCommand{
		SessionID:           ensureCartSession(w, r),
		Name:                req.Name,
		Email:               req.Email,
		Phone:               req.Phone,
		PickupDate:          strings.TrimSpace(req.PickupDate),
		PickupClock:         strings.TrimSpace(req.PickupTime),
		SpecialInstructions: req.SpecialInstructions,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusCreated, buildCheckoutResponse(result))
}

func (h *CheckoutHandlers) pay(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	var req payCheckoutRequest
	if !decodeJSONBody(w, r, maxCheckoutBodySize, &req) {
		return
	}
	result, err := h.checkout.Pay(ctx, services.PayCheckoutCommand{
		SessionID: ensureCartSession(w, r),
		OrderID:   strings.TrimSpace(chi.URLParam(r, "orderId")),
		Token:     req.Token,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, buildCheckoutResponse(result))
}

func (h *CheckoutHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.checkout == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("checkout_unavailable", "checkout is unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func buildCheckoutResponse(result services.CheckoutResult) checkoutResponse {
	resp := checkoutResponse{
		State:       result.State,
		OrderID:     result.OrderID,
		OrderNumber: result.OrderNumber,
		Total:       result.Total,
	}
	if result.Payment != nil {
		printed := result.Payment.Printed
		resp.PaymentID = result.Payment.PaymentID
		resp.CloverOrderID = result.Payment.CloverOrderID
		resp.Printed = &printed
	}
	return resp
}
