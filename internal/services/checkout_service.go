package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rise-n-smoke/ordering/internal/checkout"
	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/orders"
)

// CheckoutServiceDeps wires the checkout service.
type CheckoutServiceDeps struct {
	Carts      CartService
	Orders     OrderService
	POS        POSService
	Location   *time.Location
	ClearDelay time.Duration
	// After schedules the delayed cart clear. Defaults to time.AfterFunc.
	After  func(d time.Duration, fn func())
	Logger Logger
}

type checkoutService struct {
	carts      CartService
	orders     OrderService
	pos        POSService
	loc        *time.Location
	clearDelay time.Duration
	after      func(time.Duration, func())
	logger     Logger
}

// NewCheckoutService constructs a CheckoutService. Each call runs a fresh
// checkout.Machine, so the service itself holds no per-customer state.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart service is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.POS == nil {
		return nil, errors.New("checkout service: pos service is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	delay := deps.ClearDelay
	if delay == 0 {
		delay = checkout.DefaultClearDelay
	}
	return &checkoutService{
		carts:      deps.Carts,
		orders:     deps.Orders,
		pos:        deps.POS,
		loc:        deps.Location,
		clearDelay: delay,
		after:      deps.After,
		logger:     logger,
	}, nil
}

// Begin validates the form against the session cart, creates the local order
// and leaves the checkout in PaymentCollecting.
func (s *checkoutService) Begin(ctx context.Context, cmd BeginCheckoutCommand) (CheckoutResult, error) {
	if cmd.PickupDate != "" || cmd.PickupClock != "" {
		if _, err := s.carts.SetPickupTime(ctx, cmd.SessionID, cmd.PickupDate, cmd.PickupClock); err != nil {
			return CheckoutResult{}, err
		}
	}
	state, err := s.carts.GetCart(ctx, cmd.SessionID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if len(state.Items) == 0 {
		return CheckoutResult{}, fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
	}

	creator := &sessionOrderCreator{service: s, state: state, sessionID: cmd.SessionID}
	machine, err := s.machine(cmd.SessionID, creator)
	if err != nil {
		return CheckoutResult{}, err
	}
	if err := machine.Open(); err != nil {
		return CheckoutResult{}, err
	}
	_, err = machine.Submit(ctx, checkout.Form{
		Name:                cmd.Name,
		Email:               cmd.Email,
		Phone:               cmd.Phone,
		PickupTime:          state.PickupTime,
		SpecialInstructions: cmd.SpecialInstructions,
		OrderType:           state.OrderType,
	})
	if err != nil {
		return CheckoutResult{}, err
	}
	return CheckoutResult{
		State:       machine.State(),
		OrderID:     creator.order.ID,
		OrderNumber: creator.order.OrderNumber,
		Total:       creator.order.Total,
	}, nil
}

// Pay resumes payment collection for an order and charges it. On success the
// session cart is cleared after the configured delay.
func (s *checkoutService) Pay(ctx context.Context, cmd PayCheckoutCommand) (CheckoutResult, error) {
	order, err := s.orders.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return CheckoutResult{}, err
	}
	// Orders from another session are reported as missing.
	if order.SessionID == "" || order.SessionID != cmd.SessionID {
		s.logger(ctx, "checkout.session_mismatch", map[string]any{"orderId": order.ID})
		return CheckoutResult{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, cmd.OrderID)
	}
	machine, err := s.machine(cmd.SessionID, nil)
	if err != nil {
		return CheckoutResult{}, err
	}
	if err := machine.Resume(order.ID); err != nil {
		return CheckoutResult{}, err
	}
	result, err := machine.Pay(ctx, cmd.Token)
	if err != nil {
		if errors.Is(err, checkout.ErrMissingToken) {
			return CheckoutResult{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return CheckoutResult{}, err
	}
	return CheckoutResult{
		State:       machine.State(),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Total:       order.Total,
		Payment:     &result,
	}, nil
}

func (s *checkoutService) machine(sessionID string, creator checkout.OrderCreator) (*checkout.Machine, error) {
	if creator == nil {
		creator = unusedOrderCreator{}
	}
	return checkout.NewMachine(checkout.Deps{
		Orders:     creator,
		Payments:   posPaymentSubmitter{pos: s.pos},
		Cart:       sessionCartClearer{carts: s.carts, sessionID: sessionID},
		ClearDelay: s.clearDelay,
		After:      s.after,
		Logger:     s.logger,
	})
}

type sessionOrderCreator struct {
	service   *checkoutService
	state     domain.CartState
	sessionID string
	order     domain.Order
}

func (c *sessionOrderCreator) CreateOrder(ctx context.Context, form checkout.Form) (string, error) {
	customer := domain.Customer{Name: form.Name, Email: form.Email, Phone: form.Phone}
	req, err := orders.BuildCreateRequest(c.state, customer, form.SpecialInstructions, c.service.loc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	req.SessionID = c.sessionID
	order, err := c.service.orders.CreateOrder(ctx, req)
	if err != nil {
		return "", err
	}
	c.order = order
	return order.ID, nil
}

type unusedOrderCreator struct{}

func (unusedOrderCreator) CreateOrder(context.Context, checkout.Form) (string, error) {
	return "", errors.New("checkout: order already created")
}

type posPaymentSubmitter struct {
	pos POSService
}

func (p posPaymentSubmitter) SubmitPayment(ctx context.Context, orderID, token string) (checkout.PaymentResult, error) {
	sub, err := p.pos.SubmitWithPayment(ctx, ChargeCommand{OrderID: orderID, Token: token})
	if err != nil {
		return checkout.PaymentResult{}, err
	}
	res := checkout.PaymentResult{CloverOrderID: sub.CloverOrder.ID, Printed: sub.Printed}
	if sub.Payment != nil {
		res.PaymentID = sub.Payment.PaymentID
	}
	return res, nil
}

type sessionCartClearer struct {
	carts     CartService
	sessionID string
}

func (c sessionCartClearer) ClearCart(ctx context.Context) error {
	if strings.TrimSpace(c.sessionID) == "" {
		return nil
	}
	return c.carts.ClearCart(ctx, c.sessionID)
}
