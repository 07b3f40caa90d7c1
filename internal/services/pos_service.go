package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rise-n-smoke/ordering/internal/clover"
	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/orders"
	"github.com/rise-n-smoke/ordering/internal/payments"
	"github.com/rise-n-smoke/ordering/internal/repositories"
)

const (
	defaultSubmissionLease = 2 * time.Minute
	chargeCurrency         = "usd"
)

// CloverOrders is the slice of the Clover client used for order submission.
type CloverOrders interface {
	CreateOrder(ctx context.Context, pos orders.POSOrder) (clover.Order, error)
	PrintOrder(ctx context.Context, orderID string) (bool, error)
	DeleteOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (clover.OrderStatus, error)
}

// PaymentProcessor abstracts payments.Manager.
type PaymentProcessor interface {
	Charge(ctx context.Context, paymentCtx payments.PaymentContext, req payments.ChargeRequest) (payments.PaymentDetails, error)
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
}

// POSServiceDeps wires the POS submission service.
type POSServiceDeps struct {
	Orders          repositories.OrderRepository
	Clover          CloverOrders
	Payments        PaymentProcessor
	Mapping         domain.CatalogMapping
	Location        *time.Location
	SubmissionLease time.Duration
	Clock           func() time.Time
	Events          OrderEventPublisher
	Notifier        OrderNotifier
	Logger          Logger
}

type posService struct {
	orders   repositories.OrderRepository
	clover   CloverOrders
	payments PaymentProcessor
	mapping  domain.CatalogMapping
	loc      *time.Location
	lease    time.Duration
	now      func() time.Time
	events   OrderEventPublisher
	notifier OrderNotifier
	logger   Logger
}

// NewPOSService constructs a POSService.
func NewPOSService(deps POSServiceDeps) (POSService, error) {
	if deps.Orders == nil {
		return nil, errors.New("pos service: order repository is required")
	}
	if deps.Clover == nil {
		return nil, errors.New("pos service: clover client is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("pos service: payment processor is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	lease := deps.SubmissionLease
	if lease <= 0 {
		lease = defaultSubmissionLease
	}
	return &posService{
		orders:   deps.Orders,
		clover:   deps.Clover,
		payments: deps.Payments,
		mapping:  deps.Mapping,
		loc:      deps.Location,
		lease:    lease,
		now:      func() time.Time { return clock().UTC() },
		events:   deps.Events,
		notifier: deps.Notifier,
		logger:   logger,
	}, nil
}

// SubmitOrder sends an existing local order to Clover without payment. Orders
// that already carry a POS or payment id are rejected before any Clover call.
func (s *posService) SubmitOrder(ctx context.Context, orderID string) (POSSubmission, error) {
	order, err := s.claim(ctx, orderID)
	if err != nil {
		return POSSubmission{}, err
	}

	created, err := s.openOrder(ctx, order)
	if err != nil {
		return POSSubmission{}, err
	}
	printed := s.print(ctx, order.ID, created.ID)

	updated, err := s.writeBack(ctx, order, orders.POSResult{CloverOrderID: created.ID, Printed: printed})
	if err != nil {
		return POSSubmission{}, err
	}
	s.logger(ctx, "clover.order_submitted", map[string]any{
		"orderId":       updated.ID,
		"orderNumber":   updated.OrderNumber,
		"cloverOrderId": created.ID,
		"printed":       printed,
	})
	s.afterSubmit(ctx, domain.OrderEventSubmitted, updated)
	return POSSubmission{Order: updated, CloverOrder: created, Printed: printed}, nil
}

// SubmitWithPayment creates the Clover order, charges the order total and
// prints the ticket. A failed charge deletes the Clover order again so the
// customer may retry with a new token.
func (s *posService) SubmitWithPayment(ctx context.Context, cmd ChargeCommand) (POSSubmission, error) {
	token := strings.TrimSpace(cmd.Token)
	if token == "" {
		return POSSubmission{}, fmt.Errorf("%w: payment token is required", ErrOrderInvalidInput)
	}
	order, err := s.claim(ctx, cmd.OrderID)
	if err != nil {
		return POSSubmission{}, err
	}
	if order.Total <= 0 {
		s.release(ctx, order.ID)
		return POSSubmission{}, fmt.Errorf("%w: order total must be positive", ErrOrderInvalidInput)
	}

	created, err := s.openOrder(ctx, order)
	if err != nil {
		return POSSubmission{}, err
	}

	email := strings.TrimSpace(cmd.Email)
	if email == "" {
		email = order.Customer.Email
	}
	payment, err := s.payments.Charge(ctx, payments.PaymentContext{PreferredProvider: cmd.Provider, Currency: chargeCurrency}, payments.ChargeRequest{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Amount:         order.Total,
		Currency:       chargeCurrency,
		Token:          token,
		Email:          email,
		Description:    "Order " + order.OrderNumber,
		IdempotencyKey: "charge-" + order.ID,
		Metadata:       map[string]string{"cloverOrderId": created.ID},
	})
	if err != nil {
		s.discard(ctx, order.ID, created.ID)
		s.release(ctx, order.ID)
		s.logger(ctx, "payments.charge_failed", map[string]any{"orderId": order.ID, "declined": errors.Is(err, payments.ErrDeclined), "error": err.Error()})
		if errors.Is(err, payments.ErrDeclined) {
			return POSSubmission{}, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
		}
		return POSSubmission{}, fmt.Errorf("%w: %v", ErrPOSUnavailable, err)
	}

	printed := s.print(ctx, order.ID, created.ID)
	updated, err := s.writeBack(ctx, order, orders.POSResult{CloverOrderID: created.ID, PaymentID: payment.PaymentID, Printed: printed})
	if err != nil {
		return POSSubmission{}, err
	}
	s.logger(ctx, "clover.order_paid", map[string]any{
		"orderId":       updated.ID,
		"orderNumber":   updated.OrderNumber,
		"cloverOrderId": created.ID,
		"paymentId":     payment.PaymentID,
		"provider":      payment.Provider,
		"amount":        order.Total,
		"printed":       printed,
	})
	s.afterSubmit(ctx, domain.OrderEventConfirmed, updated)
	return POSSubmission{Order: updated, CloverOrder: created, Payment: &payment, Printed: printed}, nil
}

func (s *posService) GetOrderStatus(ctx context.Context, cloverOrderID string) (clover.OrderStatus, error) {
	cloverOrderID = strings.TrimSpace(cloverOrderID)
	if cloverOrderID == "" {
		return clover.OrderStatus{}, fmt.Errorf("%w: clover order id is required", ErrOrderInvalidInput)
	}
	status, err := s.clover.GetOrderStatus(ctx, cloverOrderID)
	if err != nil {
		if clover.IsNotFound(err) {
			return clover.OrderStatus{}, fmt.Errorf("%w: clover order %s", ErrOrderNotFound, cloverOrderID)
		}
		return clover.OrderStatus{}, fmt.Errorf("%w: %v", ErrPOSUnavailable, err)
	}
	return status, nil
}

// Refund returns money for a paid order. A full refund cancels the order.
func (s *posService) Refund(ctx context.Context, cmd RefundCommand) (payments.PaymentDetails, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return payments.PaymentDetails{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return payments.PaymentDetails{}, mapRepositoryError(err)
	}
	if order.PaymentIntentID == nil || *order.PaymentIntentID == "" {
		return payments.PaymentDetails{}, fmt.Errorf("%w: order %s has no payment", ErrOrderInvalidInput, order.OrderNumber)
	}
	amount := order.Total
	if cmd.Amount != nil {
		amount = *cmd.Amount
	}
	if amount <= 0 || amount > order.Total {
		return payments.PaymentDetails{}, fmt.Errorf("%w: refund amount must be between 1 and %d", ErrOrderInvalidInput, order.Total)
	}

	details, err := s.payments.Refund(ctx, payments.PaymentContext{PreferredProvider: providerForPayment(*order.PaymentIntentID), Currency: chargeCurrency}, payments.RefundRequest{
		PaymentID:      *order.PaymentIntentID,
		Amount:         &amount,
		Reason:         cmd.Reason,
		IdempotencyKey: "refund-" + order.ID + "-" + strconv.FormatInt(amount, 10),
		Metadata:       map[string]string{"orderId": order.ID, "orderNumber": order.OrderNumber},
	})
	if err != nil {
		s.logger(ctx, "payments.refund_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return payments.PaymentDetails{}, fmt.Errorf("%w: %v", ErrPOSUnavailable, err)
	}
	s.logger(ctx, "payments.refunded", map[string]any{"orderId": order.ID, "paymentId": *order.PaymentIntentID, "amount": amount})

	if amount == order.Total {
		cancelled := domain.OrderStatusCancelled
		updated, err := s.orders.Update(ctx, order.ID, domain.OrderPatch{Status: &cancelled})
		if err != nil {
			s.logger(ctx, "orders.refund_status_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		} else {
			publishOrderEvent(ctx, s.events, s.logger, domain.OrderEventCancelled, updated, s.now())
		}
	}
	return details, nil
}

func (s *posService) claim(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}
	if err := orders.EnsureSubmittable(order); err != nil {
		return domain.Order{}, fmt.Errorf("%w: %w", ErrOrderConflict, err)
	}
	if len(order.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: order has no items", ErrOrderInvalidInput)
	}
	if _, err := s.orders.ClaimSubmission(ctx, order.ID, s.now(), s.lease); err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}
	return order, nil
}

// openOrder creates the Clover order. Clover may have opened the order before a
// line item or modification call failed; that partial order is deleted so a
// retry starts clean.
func (s *posService) openOrder(ctx context.Context, order domain.Order) (clover.Order, error) {
	created, err := s.clover.CreateOrder(ctx, orders.BuildPOSOrder(order, s.mapping, s.loc))
	if err == nil {
		return created, nil
	}
	if created.ID != "" {
		s.discard(ctx, order.ID, created.ID)
	}
	s.release(ctx, order.ID)
	s.logger(ctx, "clover.submit_failed", map[string]any{"orderId": order.ID, "cloverOrderId": created.ID, "error": err.Error()})
	return clover.Order{}, fmt.Errorf("%w: %v", ErrPOSUnavailable, err)
}

func (s *posService) discard(ctx context.Context, orderID, cloverOrderID string) {
	if err := s.clover.DeleteOrder(context.WithoutCancel(ctx), cloverOrderID); err != nil {
		s.logger(ctx, "clover.order_delete_failed", map[string]any{"orderId": orderID, "cloverOrderId": cloverOrderID, "error": err.Error()})
	}
}

func (s *posService) release(ctx context.Context, orderID string) {
	if err := s.orders.ReleaseSubmission(context.WithoutCancel(ctx), orderID); err != nil {
		s.logger(ctx, "orders.release_failed", map[string]any{"orderId": orderID, "error": err.Error()})
	}
}

// print failures never fail the submission; the order is already on the POS.
func (s *posService) print(ctx context.Context, orderID, cloverOrderID string) bool {
	printed, err := s.clover.PrintOrder(ctx, cloverOrderID)
	if err != nil {
		s.logger(ctx, "clover.print_failed", map[string]any{"orderId": orderID, "cloverOrderId": cloverOrderID, "error": err.Error()})
		return false
	}
	return printed
}

func (s *posService) writeBack(ctx context.Context, order domain.Order, res orders.POSResult) (domain.Order, error) {
	patch := orders.ApplyPOSResult(&order, res)
	updated, err := s.orders.Update(context.WithoutCancel(ctx), order.ID, patch)
	if err != nil {
		s.logger(ctx, "orders.pos_writeback_failed", map[string]any{
			"orderId":       order.ID,
			"cloverOrderId": res.CloverOrderID,
			"paymentId":     res.PaymentID,
			"error":         err.Error(),
		})
		return domain.Order{}, mapRepositoryError(err)
	}
	if len(updated.Items) == 0 {
		updated.Items = order.Items
	}
	return updated, nil
}

func (s *posService) afterSubmit(ctx context.Context, eventType string, order domain.Order) {
	publishOrderEvent(ctx, s.events, s.logger, eventType, order, s.now())
	if s.notifier == nil {
		return
	}
	if err := s.notifier.OrderConfirmed(ctx, order); err != nil {
		s.logger(ctx, "orders.notify_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
	}
}

func providerForPayment(paymentID string) string {
	if strings.HasPrefix(paymentID, "pi_") {
		return payments.ProviderStripe
	}
	return ""
}
