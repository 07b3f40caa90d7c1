package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/payments"
	"github.com/rise-n-smoke/ordering/internal/platform/httpx"
	"github.com/rise-n-smoke/ordering/internal/services"
)

const maxCloverBodySize = 8 * 1024

// CloverHandlers submits local orders to the POS and charges them.
type CloverHandlers struct {
	pos     services.POSService
	limiter rateLimiter
}

// CloverOption customises CloverHandlers.
type CloverOption func(*CloverHandlers)

// WithChargeRateLimit caps charge attempts per client within window.
func WithChargeRateLimit(limit int, window time.Duration) CloverOption {
	return func(h *CloverHandlers) {
		h.limiter = newRateLimiter(limit, window, nil)
	}
}

// NewCloverHandlers constructs POS handlers.
func NewCloverHandlers(pos services.POSService, opts ...CloverOption) *CloverHandlers {
	h := &CloverHandlers{pos: pos}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /clover POS endpoints onto the provided router.
func (h *CloverHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders", h.submitOrder)
	r.Get("/orders/{cloverOrderId}/status", h.orderStatus)
	r.With(limitByClient(h.limiter)).Post("/payments/charge", h.charge)
	r.Post("/payments/{orderId}/refund", h.refund)
}

type submitOrderRequest struct {
	OrderID string `json:"orderId"`
}

type chargeRequest struct {
	OrderID  string `json:"orderId"`
	Token    string `json:"token"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

type refundRequest struct {
	Amount *int64 `json:"amount"`
	Reason string `json:"reason"`
}

type submissionResponse struct {
	Success       bool               `json:"success"`
	OrderID       string             `json:"orderId"`
	OrderNumber   string             `json:"orderNumber"`
	CloverOrderID string             `json:"cloverOrderId"`
	Status        domain.OrderStatus `json:"status"`
	PaymentID     string             `json:"paymentId,omitempty"`
	Printed       bool               `json:"printed"`
}

type orderStatusResponse struct {
	CloverOrderID string `json:"cloverOrderId"`
	State         string `json:"state"`
	PaymentState  string `json:"paymentState"`
	Total         int64  `json:"total"`
}

type refundResponse struct {
	PaymentID string          `json:"paymentId"`
	Provider  string          `json:"provider"`
	Status    payments.Status `json:"status"`
	Amount    int64           `json:"amount"`
}

func (h *CloverHandlers) submitOrder(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	var req submitOrderRequest
	if !decodeJSONBody(w, r, maxCloverBodySize, &req) {
		return
	}
	submission, err := h.pos.SubmitOrder(ctx, strings.TrimSpace(req.OrderID))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, buildSubmissionResponse(submission))
}

func (h *CloverHandlers) charge(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	var req chargeRequest
	if !decodeJSONBody(w, r, maxCloverBodySize, &req) {
		return
	}
	submission, err := h.pos.SubmitWithPayment(ctx, services.ChargeCommand{
		OrderID:  strings.TrimSpace(req.OrderID),
		Token:    req.Token,
		Email:    req.Email,
		Provider: strings.TrimSpace(req.Provider),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, buildSubmissionResponse(submission))
}

func (h *CloverHandlers) orderStatus(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	status, err := h.pos.GetOrderStatus(ctx, strings.TrimSpace(chi.URLParam(r, "cloverOrderId")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, orderStatusResponse{
		CloverOrderID: status.OrderID,
		State:         status.State,
		PaymentState:  status.PaymentState,
		Total:         status.Total,
	})
}

func (h *CloverHandlers) refund(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	var req refundRequest
	if !decodeJSONBody(w, r, maxCloverBodySize, &req) {
		return
	}
	details, err := h.pos.Refund(ctx, services.RefundCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderId")),
		Amount:  req.Amount,
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, refundResponse{
		PaymentID: details.PaymentID,
		Provider:  details.Provider,
		Status:    details.Status,
		Amount:    details.Amount,
	})
}

func (h *CloverHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.pos == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("pos_unavailable", "point of sale is unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func buildSubmissionResponse(sub services.POSSubmission) submissionResponse {
	resp := submissionResponse{
		Success:     true,
		OrderID:     sub.Order.ID,
		OrderNumber: sub.Order.OrderNumber,
		Status:      sub.Order.Status,
		Printed:     sub.Printed,
	}
	resp.CloverOrderID = sub.CloverOrder.ID
	if resp.CloverOrderID == "" && sub.Order.CloverOrderID != nil {
		resp.CloverOrderID = *sub.Order.CloverOrderID
	}
	if sub.Payment != nil {
		resp.PaymentID = sub.Payment.PaymentID
	}
	return resp
}
