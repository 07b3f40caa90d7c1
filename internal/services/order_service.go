package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rise-n-smoke/ordering/internal/cart"
	"github.com/rise-n-smoke/ordering/internal/checkout"
	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/orders"
	"github.com/rise-n-smoke/ordering/internal/platform/textutil"
	"github.com/rise-n-smoke/ordering/internal/repositories"
)

const (
	maxInstructionsLength = 500
	orderInsertAttempts   = 3
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Pricing     cart.Pricing
	Numbers     orders.NumberGenerator
	Location    *time.Location
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      Logger
}

type orderService struct {
	orders  repositories.OrderRepository
	pricing cart.Pricing
	numbers orders.NumberGenerator
	loc     *time.Location
	now     func() time.Time
	newID   func() string
	events  OrderEventPublisher
	logger  Logger
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	numbers := deps.Numbers
	if numbers.Now == nil {
		numbers.Now = clock
	}
	return &orderService{
		orders:  deps.Orders,
		pricing: deps.Pricing,
		numbers: numbers,
		loc:     loc,
		now:     func() time.Time { return clock().UTC() },
		newID:   idGen,
		events:  deps.Events,
		logger:  logger,
	}, nil
}

// CreateOrder validates the request, recomputes totals server side and stores
// a pending order. Client totals must match the recomputed ones.
func (s *orderService) CreateOrder(ctx context.Context, req orders.CreateRequest) (domain.Order, error) {
	req, err := s.validate(req)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	var stored domain.Order
	for attempt := 1; ; attempt++ {
		order, err := orders.NewOrder(req, s.newID(), s.numbers.Next(), now, s.loc)
		if err != nil {
			return domain.Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		stored, err = s.orders.Insert(ctx, order)
		if err == nil {
			break
		}
		mapped := mapRepositoryError(err)
		if !errors.Is(mapped, ErrOrderConflict) || attempt == orderInsertAttempts {
			return domain.Order{}, mapped
		}
		s.logger(ctx, "orders.number_collision", map[string]any{"orderNumber": order.OrderNumber, "attempt": attempt})
	}

	s.logger(ctx, "orders.created", map[string]any{
		"orderId":     stored.ID,
		"orderNumber": stored.OrderNumber,
		"orderType":   string(stored.OrderType),
		"total":       stored.Total,
	})
	s.publish(ctx, domain.OrderEventCreated, stored)
	return stored, nil
}

func (s *orderService) validate(req orders.CreateRequest) (orders.CreateRequest, error) {
	if req.OrderType == "" {
		req.OrderType = domain.OrderTypePickup
	}
	form := checkout.Form{
		Name:      req.Customer.Name,
		Email:     req.Customer.Email,
		Phone:     req.Customer.Phone,
		OrderType: req.OrderType,
	}
	if req.OrderType == domain.OrderTypePickup || req.PickupDate != "" || req.PickupTime != "" {
		pickup, err := orders.ParsePickup(req.PickupDate, req.PickupTime, s.loc)
		if err == nil {
			form.PickupTime = &pickup
		}
	}
	normalized, err := checkout.ValidateForm(form)
	if err != nil {
		return req, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	req.Customer = domain.Customer{Name: normalized.Name, Email: normalized.Email, Phone: normalized.Phone}

	if len(req.Items) == 0 {
		return req, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	for i, item := range req.Items {
		switch {
		case strings.TrimSpace(item.MenuItemID) == "":
			return req, fmt.Errorf("%w: items[%d].menuItemId is required", ErrOrderInvalidInput, i)
		case strings.TrimSpace(item.Name) == "":
			return req, fmt.Errorf("%w: items[%d].name is required", ErrOrderInvalidInput, i)
		case item.Quantity < 1:
			return req, fmt.Errorf("%w: items[%d].quantity must be positive", ErrOrderInvalidInput, i)
		case item.BasePrice < 0:
			return req, fmt.Errorf("%w: items[%d].basePrice must not be negative", ErrOrderInvalidInput, i)
		}
		req.Items[i].SpecialInstructions = textutil.CleanText(item.SpecialInstructions, maxInstructionsLength)
	}
	req.SpecialInstructions = textutil.CleanText(req.SpecialInstructions, maxInstructionsLength)

	if req.OrderType == domain.OrderTypeShipping {
		a := req.ShippingAddress
		if a == nil || strings.TrimSpace(a.Street) == "" || strings.TrimSpace(a.City) == "" ||
			strings.TrimSpace(a.State) == "" || strings.TrimSpace(a.PostalCode) == "" {
			return req, fmt.Errorf("%w: shipping address is incomplete", ErrOrderInvalidInput)
		}
		if s.pricing.Shipping != nil && s.pricing.Shipping.Rate(a.State) == 0 {
			return req, fmt.Errorf("%w: no shipping zone for %s", ErrOrderInvalidInput, a.State)
		}
	}

	totals := cart.CalculateTotals(req.CartState(), s.pricing)
	if req.Subtotal != totals.Subtotal || req.Tax != totals.Tax || req.ShippingCost != totals.ShippingCost || req.Total != totals.Total {
		return req, fmt.Errorf("%w: totals do not match (expected total %d, got %d)", ErrOrderInvalidInput, totals.Total, req.Total)
	}
	for i := range req.Items {
		req.Items[i].TotalPrice = totals.Items[i].TotalPrice
	}
	return req, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, fmt.Errorf("%w: orderNumber is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ExpireUnpaid(ctx context.Context, maxAge time.Duration, limit int) (int, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("%w: max age must be positive", ErrOrderInvalidInput)
	}
	stale, err := s.orders.ListUnpaidBefore(ctx, s.now().Add(-maxAge), limit)
	if err != nil {
		return 0, mapRepositoryError(err)
	}
	cancelled := domain.OrderStatusCancelled
	expired := 0
	for _, order := range stale {
		updated, err := s.orders.Update(ctx, order.ID, domain.OrderPatch{Status: &cancelled})
		if err != nil {
			s.logger(ctx, "orders.expire_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
			continue
		}
		expired++
		s.publish(ctx, domain.OrderEventCancelled, updated)
	}
	if expired > 0 {
		s.logger(ctx, "orders.expired_unpaid", map[string]any{"count": expired, "maxAge": maxAge.String()})
	}
	return expired, nil
}

func (s *orderService) publish(ctx context.Context, eventType string, order domain.Order) {
	publishOrderEvent(ctx, s.events, s.logger, eventType, order, s.now())
}

func publishOrderEvent(ctx context.Context, events OrderEventPublisher, logger Logger, eventType string, order domain.Order, now time.Time) {
	if events == nil {
		return
	}
	event := domain.OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		OrderType:   order.OrderType,
		Total:       order.Total,
		OccurredAt:  now,
	}
	if order.CloverOrderID != nil {
		event.CloverOrderID = *order.CloverOrderID
	}
	if _, err := events.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "orders.event_publish_failed", map[string]any{
			"type":    eventType,
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}
