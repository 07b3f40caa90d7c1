package services

import (
	"context"
	"time"

	"github.com/rise-n-smoke/ordering/internal/checkout"
	"github.com/rise-n-smoke/ordering/internal/clover"
	"github.com/rise-n-smoke/ordering/internal/customization"
	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/orders"
	"github.com/rise-n-smoke/ordering/internal/payments"
)

// Logger is the structured logging hook shared by services.
type Logger func(ctx context.Context, event string, fields map[string]any)

func nopLogger(context.Context, string, map[string]any) {}

// OrderEventPublisher broadcasts order lifecycle events.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event domain.OrderEvent) (string, error)
}

// OrderNotifier is told about orders that reached the POS.
type OrderNotifier interface {
	OrderConfirmed(ctx context.Context, order domain.Order) error
}

// MenuCatalog resolves menu items for cart operations.
type MenuCatalog interface {
	Item(id string) (domain.MenuItem, error)
}

// OrderService creates and looks up local orders.
type OrderService interface {
	CreateOrder(ctx context.Context, req orders.CreateRequest) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	// ExpireUnpaid cancels pending orders older than maxAge and returns how many were cancelled.
	ExpireUnpaid(ctx context.Context, maxAge time.Duration, limit int) (int, error)
}

// CartService owns server side carts keyed by session.
type CartService interface {
	GetCart(ctx context.Context, sessionID string) (domain.CartState, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (domain.CartState, domain.LineItem, error)
	UpdateQuantity(ctx context.Context, sessionID, itemID string, quantity int) (domain.CartState, error)
	UpdateSelection(ctx context.Context, sessionID, itemID string, sel customization.Selection) (domain.CartState, error)
	RemoveItem(ctx context.Context, sessionID, itemID string) (domain.CartState, error)
	SetOrderType(ctx context.Context, sessionID string, orderType domain.OrderType) (domain.CartState, error)
	SetShippingAddress(ctx context.Context, sessionID string, addr *domain.ShippingAddress) (domain.CartState, error)
	SetPickupTime(ctx context.Context, sessionID, date, clock string) (domain.CartState, error)
	ClearCart(ctx context.Context, sessionID string) error
}

// AddCartItemCommand adds one configured menu item.
type AddCartItemCommand struct {
	SessionID           string
	MenuItemID          string
	Quantity            int
	Selection           customization.Selection
	SpecialInstructions string
}

// POSService submits local orders to Clover and charges them.
type POSService interface {
	SubmitOrder(ctx context.Context, orderID string) (POSSubmission, error)
	SubmitWithPayment(ctx context.Context, cmd ChargeCommand) (POSSubmission, error)
	GetOrderStatus(ctx context.Context, cloverOrderID string) (clover.OrderStatus, error)
	Refund(ctx context.Context, cmd RefundCommand) (payments.PaymentDetails, error)
}

// ChargeCommand charges a local order with a single-use token.
type ChargeCommand struct {
	OrderID  string
	Token    string
	Email    string
	Provider string
}

// RefundCommand refunds all or part of an order's payment.
type RefundCommand struct {
	OrderID string
	Amount  *int64
	Reason  string
}

// POSSubmission is the outcome of a POS submission.
type POSSubmission struct {
	Order       domain.Order
	CloverOrder clover.Order
	Payment     *payments.PaymentDetails
	Printed     bool
}

// CheckoutService drives the checkout state machine for a cart session.
type CheckoutService interface {
	Begin(ctx context.Context, cmd BeginCheckoutCommand) (CheckoutResult, error)
	Pay(ctx context.Context, cmd PayCheckoutCommand) (CheckoutResult, error)
}

// BeginCheckoutCommand carries the checkout form for a cart session.
type BeginCheckoutCommand struct {
	SessionID           string
	Name                string
	Email               string
	Phone               string
	PickupDate          string
	PickupClock         string
	SpecialInstructions string
}

// PayCheckoutCommand pays an order created by Begin.
type PayCheckoutCommand struct {
	SessionID string
	OrderID   string
	Token     string
}

// CheckoutResult reports where the checkout landed.
type CheckoutResult struct {
	State       checkout.State
	OrderID     string
	OrderNumber string
	Total       int64
	Payment     *checkout.PaymentResult
}

// WebhookService ingests Clover webhook deliveries.
type WebhookService interface {
	HandleClover(ctx context.Context, payload []byte) (WebhookResult, error)
	ReplayUnprocessed(ctx context.Context, limit int) (int, error)
}

// WebhookResult summarises one processed delivery.
type WebhookResult struct {
	ArchiveID        string
	VerificationCode string
	Events           int
	Updated          int
}
