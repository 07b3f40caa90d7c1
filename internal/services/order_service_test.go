package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/orders"
	"github.com/rise-n-smoke/ordering/internal/repositories/memory"
)

func TestNewOrderServiceRequiresRepository(t *testing.T) {
	if _, err := NewOrderService(OrderServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}
}

func TestOrderServiceCreateOrder(t *testing.T) {
	repo := memory.NewOrderRepository()
	events := &recordingPublisher{}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      repo,
		Pricing:     testPricing(),
		Clock:       fixedClock,
		IDGenerator: func() string { return "ord_1" },
		Events:      events,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := puddingRequest()
	req.Customer.Name = "  Pat Smoke "
	req.SpecialInstructions = "  extra\tnapkins  "
	order, err := svc.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if order.ID != "ord_1" {
		t.Fatalf("expected generated id, got %q", order.ID)
	}
	if !strings.HasPrefix(order.OrderNumber, orders.DefaultNumberPrefix+"-") {
		t.Fatalf("expected order number prefix, got %q", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %s", order.Status)
	}
	if order.Customer.Name != "Pat Smoke" {
		t.Fatalf("expected trimmed name, got %q", order.Customer.Name)
	}
	if order.Customer.Phone != "5125550100" {
		t.Fatalf("expected phone digits, got %q", order.Customer.Phone)
	}
	if order.Subtotal != 998 || order.Tax != 82 || order.Total != 1080 {
		t.Fatalf("unexpected totals %d/%d/%d", order.Subtotal, order.Tax, order.Total)
	}
	if len(order.Items) != 1 || order.Items[0].TotalPrice != 998 {
		t.Fatalf("unexpected items %#v", order.Items)
	}
	if order.PickupTime == nil || order.EstimatedReady == nil {
		t.Fatalf("expected pickup and ready times")
	}
	if got := order.PickupTime.Sub(*order.EstimatedReady); got != orders.PrepBuffer {
		t.Fatalf("expected ready %s before pickup, got %s", orders.PrepBuffer, got)
	}

	stored, err := svc.GetOrder(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if stored.OrderNumber != order.OrderNumber {
		t.Fatalf("expected stored order number %q, got %q", order.OrderNumber, stored.OrderNumber)
	}
	if types := events.types(); len(types) != 1 || types[0] != domain.OrderEventCreated {
		t.Fatalf("expected order.created event, got %v", types)
	}
}

func TestOrderServiceCreateOrderValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*orders.CreateRequest)
		want   string
	}{
		{
			name:   "missing name",
			mutate: func(r *orders.CreateRequest) { r.Customer.Name = " " },
			want:   "name",
		},
		{
			name:   "bad email",
			mutate: func(r *orders.CreateRequest) { r.Customer.Email = "pat@" },
			want:   "email",
		},
		{
			name:   "short phone",
			mutate: func(r *orders.CreateRequest) { r.Customer.Phone = "555-0100" },
			want:   "phone",
		},
		{
			name:   "pickup without time",
			mutate: func(r *orders.CreateRequest) { r.PickupDate, r.PickupTime = "", "" },
			want:   "pickupTime",
		},
		{
			name:   "no items",
			mutate: func(r *orders.CreateRequest) { r.Items = nil },
			want:   "at least one item",
		},
		{
			name:   "zero quantity",
			mutate: func(r *orders.CreateRequest) { r.Items[0].Quantity = 0 },
			want:   "quantity",
		},
		{
			name:   "tampered total",
			mutate: func(r *orders.CreateRequest) { r.Total = 100 },
			want:   "totals do not match",
		},
		{
			name:   "tampered price",
			mutate: func(r *orders.CreateRequest) { r.Items[0].BasePrice = 1 },
			want:   "totals do not match",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := memory.NewOrderRepository()
			svc := newTestOrderService(t, repo, nil)
			req := puddingRequest()
			tc.mutate(&req)

			_, err := svc.CreateOrder(context.Background(), req)
			expectErr(t, err, ErrOrderInvalidInput)
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestOrderServiceCreateShippingOrder(t *testing.T) {
	shippingRequest := func(state string) orders.CreateRequest {
		return orders.CreateRequest{
			Customer:  domain.Customer{Name: "Sam Ship", Email: "sam@example.com", Phone: "2145550199"},
			OrderType: domain.OrderTypeShipping,
			ShippingAddress: &domain.ShippingAddress{
				Street: "1 Main St", City: "Dallas", State: state, PostalCode: "75201",
			},
			Items: []orders.RequestItem{{
				MenuItemID: "pecan-pie", Name: "Pecan Pie", BasePrice: 2499, Quantity: 1, TotalPrice: 2499,
			}},
			Subtotal:     2499,
			Tax:          206,
			ShippingCost: 1500,
			Total:        4205,
		}
	}

	t.Run("texas rate", func(t *testing.T) {
		svc := newTestOrderService(t, memory.NewOrderRepository(), nil)
		order, err := svc.CreateOrder(context.Background(), shippingRequest("TX"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order.ShippingCost != 1500 || order.Total != 4205 {
			t.Fatalf("unexpected shipping totals %d/%d", order.ShippingCost, order.Total)
		}
		if order.PickupTime != nil {
			t.Fatalf("shipping order should carry no pickup time")
		}
	})

	t.Run("unknown zone", func(t *testing.T) {
		svc := newTestOrderService(t, memory.NewOrderRepository(), nil)
		_, err := svc.CreateOrder(context.Background(), shippingRequest("HI"))
		expectErr(t, err, ErrOrderInvalidInput)
	})

	t.Run("incomplete address", func(t *testing.T) {
		svc := newTestOrderService(t, memory.NewOrderRepository(), nil)
		req := shippingRequest("TX")
		req.ShippingAddress.City = ""
		_, err := svc.CreateOrder(context.Background(), req)
		expectErr(t, err, ErrOrderInvalidInput)
	})
}

func TestOrderServiceLookups(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := insertOrder(t, repo)
	svc := newTestOrderService(t, repo, nil)

	found, err := svc.FindByNumber(context.Background(), " "+order.OrderNumber+" ")
	if err != nil {
		t.Fatalf("FindByNumber: %v", err)
	}
	if found.ID != order.ID {
		t.Fatalf("expected %q, got %q", order.ID, found.ID)
	}

	_, err = svc.FindByNumber(context.Background(), "RNS-NOPE")
	expectErr(t, err, ErrOrderNotFound)

	_, err = svc.GetOrder(context.Background(), "")
	expectErr(t, err, ErrOrderInvalidInput)
}

func TestOrderServiceExpireUnpaid(t *testing.T) {
	repo := memory.NewOrderRepository()
	events := &recordingPublisher{}

	earlier := testNow.Add(-2 * time.Hour)
	old, err := NewOrderService(OrderServiceDeps{
		Orders:  repo,
		Pricing: testPricing(),
		Clock:   func() time.Time { return earlier },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stale, err := old.CreateOrder(context.Background(), puddingRequest())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	fresh := insertOrder(t, repo)

	svc := newTestOrderService(t, repo, events)
	n, err := svc.ExpireUnpaid(context.Background(), time.Hour, 10)
	if err != nil {
		t.Fatalf("ExpireUnpaid: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired order, got %d", n)
	}

	got, _ := repo.FindByID(context.Background(), stale.ID)
	if got.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected stale order cancelled, got %s", got.Status)
	}
	got, _ = repo.FindByID(context.Background(), fresh.ID)
	if got.Status != domain.OrderStatusPending {
		t.Fatalf("expected fresh order pending, got %s", got.Status)
	}
	if types := events.types(); len(types) != 1 || types[0] != domain.OrderEventCancelled {
		t.Fatalf("expected order.cancelled event, got %v", types)
	}

	if _, err := svc.ExpireUnpaid(context.Background(), 0, 10); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for zero max age, got %v", err)
	}
}

func TestOrderServiceExpireUnpaidLeavesOrdersMidSubmission(t *testing.T) {
	repo := memory.NewOrderRepository()
	earlier := testNow.Add(-2 * time.Hour)
	old, err := NewOrderService(OrderServiceDeps{
		Orders:  repo,
		Pricing: testPricing(),
		Clock:   func() time.Time { return earlier },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stale, err := old.CreateOrder(context.Background(), puddingRequest())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if _, err := repo.ClaimSubmission(context.Background(), stale.ID, testNow, 5*time.Minute); err != nil {
		t.Fatalf("ClaimSubmission: %v", err)
	}

	events := &recordingPublisher{}
	svc := newTestOrderService(t, repo, events)
	n, err := svc.ExpireUnpaid(context.Background(), time.Hour, 10)
	if err != nil {
		t.Fatalf("ExpireUnpaid: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no expired orders, got %d", n)
	}
	got, _ := repo.FindByID(context.Background(), stale.ID)
	if got.Status != domain.OrderStatusPending {
		t.Fatalf("expected order being submitted to stay pending, got %s", got.Status)
	}
	if types := events.types(); len(types) != 0 {
		t.Fatalf("expected no events, got %v", types)
	}
}
