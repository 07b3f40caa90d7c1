package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rise-n-smoke/ordering/internal/cart"
	"github.com/rise-n-smoke/ordering/internal/catalog"
	"github.com/rise-n-smoke/ordering/internal/clover"
	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/orders"
	"github.com/rise-n-smoke/ordering/internal/payments"
	"github.com/rise-n-smoke/ordering/internal/repositories/memory"
	"github.com/rise-n-smoke/ordering/internal/shipping"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func testPricing() cart.Pricing {
	return cart.Pricing{TaxRateBasisPoints: cart.DefaultTaxRateBasisPoints, Shipping: shipping.MustDefaultTable()}
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default: %v", err)
	}
	return c
}

// puddingRequest is two banana puddings for pickup: 998 + 82 tax.
func puddingRequest() orders.CreateRequest {
	return orders.CreateRequest{
		Customer:   domain.Customer{Name: "Pat Smoke", Email: "pat@example.com", Phone: "(512) 555-0100"},
		OrderType:  domain.OrderTypePickup,
		PickupDate: "2024-05-10",
		PickupTime: "5:30 PM",
		Items: []orders.RequestItem{{
			MenuItemID: "banana-pudding", Name: "Banana Pudding", BasePrice: 499, Quantity: 2, TotalPrice: 998,
		}},
		Subtotal: 998,
		Tax:      82,
		Total:    1080,
	}
}

func newTestOrderService(t *testing.T, repo *memory.OrderRepository, events OrderEventPublisher) OrderService {
	t.Helper()
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:  repo,
		Pricing: testPricing(),
		Clock:   fixedClock,
		Events:  events,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc
}

func insertOrder(t *testing.T, repo *memory.OrderRepository) domain.Order {
	t.Helper()
	svc := newTestOrderService(t, repo, nil)
	order, err := svc.CreateOrder(context.Background(), puddingRequest())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return order
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event domain.OrderEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return "msg-1", nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingNotifier struct {
	orders []domain.Order
	err    error
}

func (n *recordingNotifier) OrderConfirmed(_ context.Context, order domain.Order) error {
	n.orders = append(n.orders, order)
	return n.err
}

type fakeClover struct {
	mu       sync.Mutex
	createFn func(orders.POSOrder) (clover.Order, error)
	printFn  func(string) (bool, error)
	statusFn func(string) (clover.OrderStatus, error)

	created []orders.POSOrder
	deleted []string
	printed []string
}

func (f *fakeClover) CreateOrder(_ context.Context, pos orders.POSOrder) (clover.Order, error) {
	f.mu.Lock()
	f.created = append(f.created, pos)
	f.mu.Unlock()
	if f.createFn != nil {
		return f.createFn(pos)
	}
	return clover.Order{ID: "CLV1", State: clover.OrderStateOpen, Total: pos.Total}, nil
}

func (f *fakeClover) PrintOrder(_ context.Context, orderID string) (bool, error) {
	f.mu.Lock()
	f.printed = append(f.printed, orderID)
	f.mu.Unlock()
	if f.printFn != nil {
		return f.printFn(orderID)
	}
	return true, nil
}

func (f *fakeClover) DeleteOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, orderID)
	return nil
}

func (f *fakeClover) GetOrderStatus(_ context.Context, orderID string) (clover.OrderStatus, error) {
	if f.statusFn != nil {
		return f.statusFn(orderID)
	}
	return clover.OrderStatus{OrderID: orderID, State: clover.OrderStateOpen}, nil
}

func (f *fakeClover) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created) + len(f.deleted) + len(f.printed)
}

type fakePayments struct {
	chargeFn func(payments.ChargeRequest) (payments.PaymentDetails, error)
	refundFn func(payments.RefundRequest) (payments.PaymentDetails, error)

	charges []payments.ChargeRequest
	refunds []payments.RefundRequest
}

func (f *fakePayments) Charge(_ context.Context, _ payments.PaymentContext, req payments.ChargeRequest) (payments.PaymentDetails, error) {
	f.charges = append(f.charges, req)
	if f.chargeFn != nil {
		return f.chargeFn(req)
	}
	return payments.PaymentDetails{Provider: payments.ProviderClover, PaymentID: "CHG1", Status: payments.StatusSucceeded, Amount: req.Amount}, nil
}

func (f *fakePayments) Refund(_ context.Context, _ payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error) {
	f.refunds = append(f.refunds, req)
	if f.refundFn != nil {
		return f.refundFn(req)
	}
	return payments.PaymentDetails{Provider: payments.ProviderClover, PaymentID: req.PaymentID, Status: payments.StatusRefunded}, nil
}

var errDeclined = &payments.DeclineError{Provider: payments.ProviderClover, Code: "card_declined", Message: "Your card was declined"}

func newTestPOSService(t *testing.T, repo *memory.OrderRepository, cl *fakeClover, pay *fakePayments, events OrderEventPublisher, notifier OrderNotifier) POSService {
	t.Helper()
	svc, err := NewPOSService(POSServiceDeps{
		Orders:   repo,
		Clover:   cl,
		Payments: pay,
		Clock:    fixedClock,
		Events:   events,
		Notifier: notifier,
	})
	if err != nil {
		t.Fatalf("NewPOSService: %v", err)
	}
	return svc
}

func strPtr(s string) *string { return &s }

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
