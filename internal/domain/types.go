package domain

import "time"

// Money values are expressed in integer cents (USD).

// Modifier category labels. Categories group modifiers for display only.
const (
	ModifierCategoryMeat      = "Meat"
	ModifierCategorySide      = "Side"
	ModifierCategoryCondiment = "Condiment"
	ModifierCategorySize      = "Size"
	ModifierCategoryWeight    = "Weight"
	ModifierCategoryTopping   = "Topping"
	ModifierCategoryAddOn     = "Add-on"
)

// Modifier is a priced or free option attached to a line item.
type Modifier struct {
	ID       string
	Name     string
	Price    int64
	Category string
}

// LineItemInput describes an item before the cart assigns an identifier and total.
type LineItemInput struct {
	MenuItemID          string
	Name                string
	BasePrice           int64
	Quantity            int
	Modifiers           []Modifier
	SpecialInstructions string
	Image               string
}

// LineItem is one configured purchase of a menu item.
type LineItem struct {
	ID                  string
	MenuItemID          string
	Name                string
	BasePrice           int64
	Quantity            int
	Modifiers           []Modifier
	SpecialInstructions string
	TotalPrice          int64
	Image               string
}

// OrderType selects between pickup and shipping fulfilment.
type OrderType string

const (
	OrderTypePickup   OrderType = "pickup"
	OrderTypeShipping OrderType = "shipping"
)

// Valid reports whether the order type is supported.
func (t OrderType) Valid() bool {
	return t == OrderTypePickup || t == OrderTypeShipping
}

// ShippingAddress is the destination for shipped orders.
type ShippingAddress struct {
	Name       string
	Street     string
	Street2    string
	City       string
	State      string
	PostalCode string
	Phone      string
}

// CartState is the in-progress order. Subtotal, Tax, ShippingCost and Total are derived.
type CartState struct {
	Items           []LineItem
	OrderType       OrderType
	PickupTime      *time.Time
	ShippingAddress *ShippingAddress
	Subtotal        int64
	Tax             int64
	ShippingCost    int64
	Total           int64
}

// Clone returns a deep copy of the state.
func (s CartState) Clone() CartState {
	out := s
	if s.Items != nil {
		out.Items = make([]LineItem, len(s.Items))
		for i, item := range s.Items {
			out.Items[i] = item.Clone()
		}
	}
	if s.PickupTime != nil {
		t := *s.PickupTime
		out.PickupTime = &t
	}
	if s.ShippingAddress != nil {
		addr := *s.ShippingAddress
		out.ShippingAddress = &addr
	}
	return out
}

// Clone returns a deep copy of the line item.
func (i LineItem) Clone() LineItem {
	out := i
	out.Modifiers = CloneModifiers(i.Modifiers)
	return out
}

// CloneModifiers copies a modifier slice, preserving nil.
func CloneModifiers(mods []Modifier) []Modifier {
	if mods == nil {
		return nil
	}
	out := make([]Modifier, len(mods))
	copy(out, mods)
	return out
}

// OrderStatus enumerates lifecycle states of a local order.
type OrderStatus string

const (
	// OrderStatusPending is the state of a freshly created, unpaid order.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusSubmitted indicates the order reached the POS without payment.
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	// OrderStatusConfirmed indicates payment succeeded and the POS accepted the order.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusCompleted indicates the POS closed the order.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCancelled indicates the order was cancelled locally or at the POS.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Customer holds the identity captured by the checkout form.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// Order is the persisted order header. Totals are snapshotted at creation time.
type Order struct {
	ID                  string
	OrderNumber         string
	Customer            Customer
	OrderType           OrderType
	ShippingAddress     *ShippingAddress
	PickupTime          *time.Time
	EstimatedReady      *time.Time
	SpecialInstructions string
	Subtotal            int64
	Tax                 int64
	ShippingCost        int64
	Total               int64
	Status              OrderStatus
	CloverOrderID       *string
	PaymentIntentID     *string
	// SessionID is the cart session that checked the order out. Orders placed
	// directly through the orders API carry none.
	SessionID           string
	Items               []OrderItem
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// OrderItem is one persisted line item. Modifiers are stored as an embedded blob.
type OrderItem struct {
	ID                  string
	OrderID             string
	MenuItemID          string
	Name                string
	BasePrice           int64
	Quantity            int
	Modifiers           []Modifier
	SpecialInstructions string
	TotalPrice          int64
}

// OrderPatch describes a partial update of an order. Nil fields are left untouched.
type OrderPatch struct {
	Status          *OrderStatus
	CloverOrderID   *string
	PaymentIntentID *string
}

// WebhookEvent is a single POS notification extracted from a webhook delivery.
type WebhookEvent struct {
	MerchantID string
	ObjectID   string
	Type       string
	Timestamp  time.Time
}

// Order event types published when an order changes lifecycle stage.
const (
	OrderEventCreated   = "order.created"
	OrderEventSubmitted = "order.submitted"
	OrderEventConfirmed = "order.confirmed"
	OrderEventCancelled = "order.cancelled"
)

// OrderEvent is the message broadcast on order lifecycle changes.
type OrderEvent struct {
	Type          string      `json:"type"`
	OrderID       string      `json:"orderId"`
	OrderNumber   string      `json:"orderNumber"`
	Status        OrderStatus `json:"status"`
	OrderType     OrderType   `json:"orderType"`
	CloverOrderID string      `json:"cloverOrderId,omitempty"`
	Total         int64       `json:"total"`
	OccurredAt    time.Time   `json:"occurredAt"`
}

// HealthStatus is the outcome of a dependency probe.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// HealthCheck is the result of probing one dependency.
type HealthCheck struct {
	Status    HealthStatus
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency probes.
type HealthReport struct {
	Status      HealthStatus
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}
