package checkout

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubOrders struct {
	createFunc func(ctx context.Context, form Form) (string, error)
	calls      int
}

func (s *stubOrders) CreateOrder(ctx context.Context, form Form) (string, error) {
	s.calls++
	if s.createFunc != nil {
		return s.createFunc(ctx, form)
	}
	return "order-1", nil
}

type stubPayments struct {
	submitFunc func(ctx context.Context, orderID, token string) (PaymentResult, error)
	tokens     []string
}

func (s *stubPayments) SubmitPayment(ctx context.Context, orderID, token string) (PaymentResult, error) {
	s.tokens = append(s.tokens, token)
	if s.submitFunc != nil {
		return s.submitFunc(ctx, orderID, token)
	}
	return PaymentResult{PaymentID: "pay-1", CloverOrderID: "clover-1"}, nil
}

type stubCart struct {
	cleared int
}

func (s *stubCart) ClearCart(context.Context) error {
	s.cleared++
	return nil
}

type manualScheduler struct {
	delay time.Duration
	fn    func()
}

func (s *manualScheduler) after(d time.Duration, fn func()) {
	s.delay = d
	s.fn = fn
}

func validForm() Form {
	pickup := time.Date(2024, 5, 10, 17, 30, 0, 0, time.UTC)
	return Form{Name: "Pat Smith", Email: "pat@example.com", Phone: "(512) 555-0100", PickupTime: &pickup}
}

func newMachine(t *testing.T, orders *stubOrders, payments *stubPayments, cart *stubCart, sched *manualScheduler) *Machine {
	t.Helper()
	m, err := NewMachine(Deps{
		Orders:     orders,
		Payments:   payments,
		Cart:       cart,
		ClearDelay: 2 * time.Second,
		After:      sched.after,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m
}

func TestMachineHappyPath(t *testing.T) {
	orders := &stubOrders{}
	payments := &stubPayments{}
	cart := &stubCart{}
	sched := &manualScheduler{}
	m := newMachine(t, orders, payments, cart, sched)

	if m.State() != StateBrowsing {
		t.Fatalf("expected browsing, got %s", m.State())
	}
	if err := m.Open(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	orderID, err := m.Submit(context.Background(), validForm())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orderID != "order-1" || m.State() != StatePaymentCollecting {
		t.Fatalf("expected payment collecting for order-1, got %s %s", orderID, m.State())
	}

	result, err := m.Pay(context.Background(), "tok_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PaymentID != "pay-1" || m.State() != StatePaymentSucceeded {
		t.Fatalf("expected payment succeeded, got %#v %s", result, m.State())
	}
	if cart.cleared != 0 {
		t.Fatalf("expected cart clear to be delayed")
	}
	if sched.delay != 2*time.Second {
		t.Fatalf("expected 2s clear delay, got %s", sched.delay)
	}

	sched.fn()
	if cart.cleared != 1 || m.State() != StateConfirmed {
		t.Fatalf("expected cart cleared and confirmed, got cleared=%d state=%s", cart.cleared, m.State())
	}
	if err := m.WaitConfirmed(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMachineValidationNeverCreatesOrder(t *testing.T) {
	orders := &stubOrders{}
	m := newMachine(t, orders, &stubPayments{}, &stubCart{}, &manualScheduler{})
	_ = m.Open()

	form := validForm()
	form.Email = "not-an-email"
	form.Phone = "555-0100"
	_, err := m.Submit(context.Background(), form)

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := verr.Fields["email"]; !ok {
		t.Fatalf("expected email field error, got %#v", verr.Fields)
	}
	if _, ok := verr.Fields["phone"]; !ok {
		t.Fatalf("expected phone field error, got %#v", verr.Fields)
	}
	if orders.calls != 0 {
		t.Fatalf("expected no order creation on invalid form")
	}
	if m.State() != StateCheckoutFormOpen {
		t.Fatalf("expected form to stay open, got %s", m.State())
	}
}

func TestMachinePaymentFailureAllowsRetry(t *testing.T) {
	attempts := 0
	payments := &stubPayments{submitFunc: func(ctx context.Context, orderID, token string) (PaymentResult, error) {
		attempts++
		if attempts == 1 {
			return PaymentResult{}, errors.New("card declined")
		}
		return PaymentResult{PaymentID: "pay-2"}, nil
	}}
	sched := &manualScheduler{}
	m := newMachine(t, &stubOrders{}, payments, &stubCart{}, sched)
	_ = m.Open()
	_, _ = m.Submit(context.Background(), validForm())

	if _, err := m.Pay(context.Background(), "tok_a"); err == nil {
		t.Fatalf("expected payment error")
	}
	if m.State() != StatePaymentFailed || m.LastError() == nil {
		t.Fatalf("expected payment failed state, got %s", m.State())
	}
	if m.OrderID() != "order-1" {
		t.Fatalf("expected order id to be kept for retry")
	}

	if _, err := m.Pay(context.Background(), "tok_b"); err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if len(payments.tokens) != 2 || payments.tokens[1] != "tok_b" {
		t.Fatalf("expected fresh token on retry, got %v", payments.tokens)
	}
}

func TestMachineCancelLeavesOrderUnpaid(t *testing.T) {
	payments := &stubPayments{}
	m := newMachine(t, &stubOrders{}, payments, &stubCart{}, &manualScheduler{})
	_ = m.Open()
	_, _ = m.Submit(context.Background(), validForm())

	if err := m.Cancel(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.State() != StateBrowsing || len(payments.tokens) != 0 {
		t.Fatalf("expected browsing with no payment attempt")
	}
	if _, err := m.Pay(context.Background(), "tok"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition after cancel, got %v", err)
	}
}

func TestMachineRejectsOutOfOrderActions(t *testing.T) {
	m := newMachine(t, &stubOrders{}, &stubPayments{}, &stubCart{}, &manualScheduler{})
	if _, err := m.Submit(context.Background(), validForm()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition submitting from browsing, got %v", err)
	}
	if err := m.Cancel(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition cancelling from browsing, got %v", err)
	}
	if err := m.WaitConfirmed(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition waiting without payment, got %v", err)
	}
}

func TestMachineResumeAndMissingToken(t *testing.T) {
	payments := &stubPayments{}
	m := newMachine(t, &stubOrders{}, payments, &stubCart{}, &manualScheduler{})
	if err := m.Resume("order-9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Pay(context.Background(), "  "); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if len(payments.tokens) != 0 || m.State() != StatePaymentFailed {
		t.Fatalf("expected no collaborator call and payment failed state")
	}
}

func TestMachineOrderCreationFailureKeepsFormOpen(t *testing.T) {
	orders := &stubOrders{createFunc: func(context.Context, Form) (string, error) {
		return "", errors.New("database unavailable")
	}}
	m := newMachine(t, orders, &stubPayments{}, &stubCart{}, &manualScheduler{})
	_ = m.Open()
	if _, err := m.Submit(context.Background(), validForm()); err == nil {
		t.Fatalf("expected error")
	}
	if m.State() != StateCheckoutFormOpen {
		t.Fatalf("expected form open, got %s", m.State())
	}
}

func TestValidateFormNormalizesPhone(t *testing.T) {
	form, err := ValidateForm(validForm())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if form.Phone != "5125550100" {
		t.Fatalf("expected digits only, got %q", form.Phone)
	}
	missing := Form{}
	_, err = ValidateForm(missing)
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) != 4 {
		t.Fatalf("expected 4 field errors, got %v", err)
	}
}

func TestValidateFormShippingNeedsNoPickup(t *testing.T) {
	form := validForm()
	form.PickupTime = nil
	form.OrderType = "shipping"
	if _, err := ValidateForm(form); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	form.OrderType = "delivery"
	var verr *ValidationError
	if _, err := ValidateForm(form); !errors.As(err, &verr) || verr.Fields["orderType"] != "invalid" {
		t.Fatalf("expected order type error, got %v", err)
	}
}
