package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/rise-n-smoke/ordering/internal/checkout"
	"github.com/rise-n-smoke/ordering/internal/platform/httpx"
	"github.com/rise-n-smoke/ordering/internal/platform/requestctx"
	"github.com/rise-n-smoke/ordering/internal/services"
)

// paymentMarkers flag collaborator messages that describe a card problem the
// customer can fix by trying another card.
var paymentMarkers = []string{"declin", "card", "insufficient funds"}

// writeServiceError maps service errors onto the HTTP error taxonomy:
// validation 400, conflict 400, not found 404, card failure 402 and any
// other collaborator failure 500 with its message.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var validation *checkout.ValidationError
	switch {
	case errors.As(err, &validation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest).
			WithDetails(map[string]any{"fields": validation.Fields}))
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrCartInvalidInput),
		errors.Is(err, checkout.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_already_submitted", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", err.Error(), http.StatusPaymentRequired))
	case errors.Is(err, services.ErrPOSUnavailable):
		if isPaymentFailure(err) {
			httpx.WriteError(ctx, w, httpx.NewError("payment_failed", err.Error(), http.StatusPaymentRequired))
			return
		}
		requestctx.Logger(ctx).Error("pos request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("pos_error", err.Error(), http.StatusInternalServerError))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		requestctx.Logger(ctx).Error("request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}

func isPaymentFailure(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range paymentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
