package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rise-n-smoke/ordering/internal/clover"
	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/orders"
	"github.com/rise-n-smoke/ordering/internal/payments"
	"github.com/rise-n-smoke/ordering/internal/services"
)

type stubOrderService struct {
	createFn func(ctx context.Context, req orders.CreateRequest) (domain.Order, error)
	getFn    func(ctx context.Context, orderID string) (domain.Order, error)
	findFn   func(ctx context.Context, number string) (domain.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, req orders.CreateRequest) (domain.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, req)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return domain.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) FindByNumber(ctx context.Context, number string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, number)
	}
	return domain.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) ExpireUnpaid(context.Context, time.Duration, int) (int, error) {
	return 0, nil
}

type stubPOSService struct {
	submitFn func(ctx context.Context, orderID string) (services.POSSubmission, error)
	chargeFn func(ctx context.Context, cmd services.ChargeCommand) (services.POSSubmission, error)
	statusFn func(ctx context.Context, cloverOrderID string) (clover.OrderStatus, error)
	refundFn func(ctx context.Context, cmd services.RefundCommand) (payments.PaymentDetails, error)

	submitCalls int
	chargeCalls int
}

func (s *stubPOSService) SubmitOrder(ctx context.Context, orderID string) (services.POSSubmission, error) {
	s.submitCalls++
	if s.submitFn != nil {
		return s.submitFn(ctx, orderID)
	}
	return services.POSSubmission{}, nil
}

func (s *stubPOSService) SubmitWithPayment(ctx context.Context, cmd services.ChargeCommand) (services.POSSubmission, error) {
	s.chargeCalls++
	if s.chargeFn != nil {
		return s.chargeFn(ctx, cmd)
	}
	return services.POSSubmission{}, nil
}

func (s *stubPOSService) GetOrderStatus(ctx context.Context, cloverOrderID string) (clover.OrderStatus, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, cloverOrderID)
	}
	return clover.OrderStatus{}, nil
}

func (s *stubPOSService) Refund(ctx context.Context, cmd services.RefundCommand) (payments.PaymentDetails, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, cmd)
	}
	return payments.PaymentDetails{}, nil
}

type stubCheckoutService struct {
	beginFn func(ctx context.Context, cmd services.BeginCheckoutCommand) (services.CheckoutResult, error)
	payFn   func(ctx context.Context, cmd services.PayCheckoutCommand) (services.CheckoutResult, error)
}

func (s *stubCheckoutService) Begin(ctx context.Context, cmd services.BeginCheckoutCommand) (services.CheckoutResult, error) {
	if s.beginFn != nil {
		return s.beginFn(ctx, cmd)
	}
	return services.CheckoutResult{}, nil
}

func (s *stubCheckoutService) Pay(ctx context.Context, cmd services.PayCheckoutCommand) (services.CheckoutResult, error) {
	if s.payFn != nil {
		return s.payFn(ctx, cmd)
	}
	return services.CheckoutResult{}, nil
}

type stubWebhookService struct {
	handleFn func(ctx context.Context, payload []byte) (services.WebhookResult, error)
	payloads [][]byte
}

func (s *stubWebhookService) HandleClover(ctx context.Context, payload []byte) (services.WebhookResult, error) {
	s.payloads = append(s.payloads, append([]byte(nil), payload...))
	if s.handleFn != nil {
		return s.handleFn(ctx, payload)
	}
	return services.WebhookResult{ArchiveID: "wh_1"}, nil
}

func (s *stubWebhookService) ReplayUnprocessed(context.Context, int) (int, error) {
	return 0, nil
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}
