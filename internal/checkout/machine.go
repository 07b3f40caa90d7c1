// Package checkout sequences local order creation, payment and cart clearing.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// State is a checkout stage.
type State string

const (
	StateBrowsing          State = "browsing"
	StateCheckoutFormOpen  State = "checkout_form_open"
	StateOrderCreated      State = "order_created"
	StatePaymentCollecting State = "payment_collecting"
	StatePaymentSucceeded  State = "payment_succeeded"
	StatePaymentFailed     State = "payment_failed"
	StateConfirmed         State = "confirmed"
)

// DefaultClearDelay is how long the cart survives a successful payment.
const DefaultClearDelay = 2 * time.Second

var (
	// ErrInvalidTransition is returned when an action is not allowed in the current state.
	ErrInvalidTransition = errors.New("checkout: invalid transition")
	// ErrMissingToken is returned when Pay is called without a payment token.
	ErrMissingToken = errors.New("checkout: payment token is required")
)

// OrderCreator persists the local order for a validated form.
type OrderCreator interface {
	CreateOrder(ctx context.Context, form Form) (orderID string, err error)
}

// PaymentSubmitter charges the order with a single-use token and submits it to the POS.
type PaymentSubmitter interface {
	SubmitPayment(ctx context.Context, orderID, token string) (PaymentResult, error)
}

// CartClearer empties the cart once checkout succeeds.
type CartClearer interface {
	ClearCart(ctx context.Context) error
}

// PaymentResult summarises a successful payment.
type PaymentResult struct {
	PaymentID     string
	CloverOrderID string
	Printed       bool
}

// Deps wires a Machine.
type Deps struct {
	Orders     OrderCreator
	Payments   PaymentSubmitter
	Cart       CartClearer
	ClearDelay time.Duration
	// After schedules fn after d. Defaults to time.AfterFunc.
	After  func(d time.Duration, fn func())
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// Machine is the checkout state machine. It never retries; a failed step
// leaves the machine in a state from which the user may try again.
type Machine struct {
	mu      sync.Mutex
	state   State
	orderID string
	payment *PaymentResult
	lastErr error

	orders     OrderCreator
	payments   PaymentSubmitter
	cart       CartClearer
	clearDelay time.Duration
	after      func(time.Duration, func())
	logger     func(context.Context, string, map[string]any)
	done       chan struct{}
}

// NewMachine constructs a machine in the Browsing state.
func NewMachine(deps Deps) (*Machine, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout: order creator is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout: payment submitter is required")
	}
	if deps.Cart == nil {
		return nil, errors.New("checkout: cart clearer is required")
	}
	m := &Machine{
		state:      StateBrowsing,
		orders:     deps.Orders,
		payments:   deps.Payments,
		cart:       deps.Cart,
		clearDelay: deps.ClearDelay,
		after:      deps.After,
		logger:     deps.Logger,
	}
	if m.clearDelay < 0 {
		m.clearDelay = 0
	}
	if m.after == nil {
		m.after = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	}
	if m.logger == nil {
		m.logger = func(context.Context, string, map[string]any) {}
	}
	return m, nil
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OrderID returns the local order id carried since OrderCreated.
func (m *Machine) OrderID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orderID
}

// Payment returns the last successful payment, if any.
func (m *Machine) Payment() (PaymentResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payment == nil {
		return PaymentResult{}, false
	}
	return *m.payment, true
}

// LastError returns the error of the last failed step.
func (m *Machine) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Open shows the checkout form.
func (m *Machine) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateBrowsing && m.state != StateConfirmed {
		return m.invalid("open")
	}
	m.state = StateCheckoutFormOpen
	m.orderID = ""
	m.payment = nil
	m.lastErr = nil
	return nil
}

// Close dismisses the form without creating an order.
func (m *Machine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateCheckoutFormOpen {
		return m.invalid("close")
	}
	m.state = StateBrowsing
	return nil
}

// Submit validates the form, creates the local order and moves straight to
// PaymentCollecting. Validation failures never reach the order creator.
func (m *Machine) Submit(ctx context.Context, form Form) (string, error) {
	m.mu.Lock()
	if m.state != StateCheckoutFormOpen {
		err := m.invalid("submit")
		m.mu.Unlock()
		return "", err
	}
	m.mu.Unlock()

	normalized, err := ValidateForm(form)
	if err != nil {
		m.fail(StateCheckoutFormOpen, err)
		return "", err
	}
	orderID, err := m.orders.CreateOrder(ctx, normalized)
	if err != nil {
		m.logger(ctx, "checkout.order_create_failed", map[string]any{"error": err.Error()})
		m.fail(StateCheckoutFormOpen, err)
		return "", err
	}

	m.mu.Lock()
	m.orderID = orderID
	// OrderCreated is transient; payment collection starts right away.
	m.state = StatePaymentCollecting
	m.lastErr = nil
	m.mu.Unlock()
	m.logger(ctx, "checkout.order_created", map[string]any{"orderId": orderID})
	return orderID, nil
}

// Resume enters PaymentCollecting for an existing unpaid order.
func (m *Machine) Resume(orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidTransition)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateBrowsing, StateCheckoutFormOpen, StatePaymentFailed, StatePaymentCollecting:
	default:
		return m.invalid("resume")
	}
	m.orderID = orderID
	m.state = StatePaymentCollecting
	return nil
}

// Pay charges the order. Success schedules the cart clear and confirmation;
// failure moves to PaymentFailed, from which Pay may be retried with a fresh token.
func (m *Machine) Pay(ctx context.Context, token string) (PaymentResult, error) {
	token = strings.TrimSpace(token)
	m.mu.Lock()
	if m.state != StatePaymentCollecting && m.state != StatePaymentFailed {
		err := m.invalid("pay")
		m.mu.Unlock()
		return PaymentResult{}, err
	}
	orderID := m.orderID
	m.state = StatePaymentCollecting
	m.mu.Unlock()

	if token == "" {
		m.fail(StatePaymentFailed, ErrMissingToken)
		return PaymentResult{}, ErrMissingToken
	}

	result, err := m.payments.SubmitPayment(ctx, orderID, token)
	if err != nil {
		m.logger(ctx, "checkout.payment_failed", map[string]any{"orderId": orderID, "error": err.Error()})
		m.fail(StatePaymentFailed, err)
		return PaymentResult{}, err
	}

	done := make(chan struct{})
	m.mu.Lock()
	m.state = StatePaymentSucceeded
	m.payment = &result
	m.lastErr = nil
	m.done = done
	m.mu.Unlock()
	m.logger(ctx, "checkout.payment_succeeded", map[string]any{"orderId": orderID, "paymentId": result.PaymentID})

	clearCtx := context.WithoutCancel(ctx)
	m.after(m.clearDelay, func() {
		defer close(done)
		if err := m.cart.ClearCart(clearCtx); err != nil {
			m.logger(clearCtx, "checkout.cart_clear_failed", map[string]any{"orderId": orderID, "error": err.Error()})
		}
		m.mu.Lock()
		if m.state == StatePaymentSucceeded {
			m.state = StateConfirmed
		}
		m.mu.Unlock()
	})
	return result, nil
}

// Cancel abandons payment. The local order stays in its unpaid state.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StatePaymentCollecting, StatePaymentFailed:
	default:
		return m.invalid("cancel")
	}
	m.state = StateBrowsing
	m.orderID = ""
	return nil
}

// WaitConfirmed blocks until the scheduled cart clear has run or ctx ends.
func (m *Machine) WaitConfirmed(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return fmt.Errorf("%w: no payment in flight", ErrInvalidTransition)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) fail(state State, err error) {
	m.mu.Lock()
	m.state = state
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Machine) invalid(action string) error {
	return fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, action, m.state)
}
