// Package orders translates carts into order-creation requests and local
// orders into POS submissions.
package orders

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rise-n-smoke/ordering/internal/domain"
)

var (
	// ErrInvalidRequest marks a create request that is missing required data.
	ErrInvalidRequest = errors.New("orders: invalid request")
	// ErrAlreadySubmitted marks an order that already carries a POS order id.
	ErrAlreadySubmitted = errors.New("orders: order already submitted to POS")
	// ErrAlreadyPaid marks an order that already carries a payment id.
	ErrAlreadyPaid = errors.New("orders: order already paid")
	// ErrCancelled marks an order that can no longer be submitted.
	ErrCancelled = errors.New("orders: order cancelled")
)

// CreateRequest is the payload consumed by the order-creation collaborator.
type CreateRequest struct {
	Customer            domain.Customer
	OrderType           domain.OrderType
	PickupDate          string
	PickupTime          string
	ShippingAddress     *domain.ShippingAddress
	SpecialInstructions string
	Items               []RequestItem
	Subtotal            int64
	Tax                 int64
	ShippingCost        int64
	Total               int64
	// SessionID binds the order to the cart session checking it out.
	SessionID           string
}

// RequestItem is one line item within a CreateRequest.
type RequestItem struct {
	MenuItemID          string
	Name                string
	BasePrice           int64
	Quantity            int
	Modifiers           []domain.Modifier
	SpecialInstructions string
	TotalPrice          int64
}

// BuildCreateRequest serializes a cart into a create request. Pickup orders
// need a pickup time on the cart.
func BuildCreateRequest(state domain.CartState, customer domain.Customer, instructions string, loc *time.Location) (CreateRequest, error) {
	if len(state.Items) == 0 {
		return CreateRequest{}, fmt.Errorf("%w: cart is empty", ErrInvalidRequest)
	}
	req := CreateRequest{
		Customer:            customer,
		OrderType:           state.OrderType,
		SpecialInstructions: strings.TrimSpace(instructions),
		Subtotal:            state.Subtotal,
		Tax:                 state.Tax,
		ShippingCost:        state.ShippingCost,
		Total:               state.Total,
	}
	if state.PickupTime != nil {
		req.PickupDate, req.PickupTime = SplitPickup(*state.PickupTime, loc)
	} else if state.OrderType != domain.OrderTypeShipping {
		return CreateRequest{}, fmt.Errorf("%w: pickup time is required", ErrInvalidRequest)
	}
	if state.ShippingAddress != nil {
		addr := *state.ShippingAddress
		req.ShippingAddress = &addr
	}
	for _, item := range state.Items {
		req.Items = append(req.Items, RequestItem{
			MenuItemID:          item.MenuItemID,
			Name:                item.Name,
			BasePrice:           item.BasePrice,
			Quantity:            item.Quantity,
			Modifiers:           domain.CloneModifiers(item.Modifiers),
			SpecialInstructions: item.SpecialInstructions,
			TotalPrice:          item.TotalPrice,
		})
	}
	return req, nil
}

// CartState rebuilds the cart a request was made from, so totals can be
// recomputed and compared.
func (r CreateRequest) CartState() domain.CartState {
	state := domain.CartState{OrderType: r.OrderType}
	if state.OrderType == "" {
		state.OrderType = domain.OrderTypePickup
	}
	if r.ShippingAddress != nil {
		addr := *r.ShippingAddress
		state.ShippingAddress = &addr
	}
	for i, item := range r.Items {
		state.Items = append(state.Items, domain.LineItem{
			ID:                  fmt.Sprintf("%s-%d", item.MenuItemID, i),
			MenuItemID:          item.MenuItemID,
			Name:                item.Name,
			BasePrice:           item.BasePrice,
			Quantity:            item.Quantity,
			Modifiers:           domain.CloneModifiers(item.Modifiers),
			SpecialInstructions: item.SpecialInstructions,
			TotalPrice:          item.TotalPrice,
		})
	}
	return state
}

// NewOrder converts a validated request into a pending local order.
func NewOrder(req CreateRequest, id, number string, now time.Time, loc *time.Location) (domain.Order, error) {
	order := domain.Order{
		ID:                  id,
		OrderNumber:         number,
		Customer:            req.Customer,
		OrderType:           req.OrderType,
		SpecialInstructions: req.SpecialInstructions,
		Subtotal:            req.Subtotal,
		Tax:                 req.Tax,
		ShippingCost:        req.ShippingCost,
		Total:               req.Total,
		Status:              domain.OrderStatusPending,
		SessionID:           req.SessionID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if order.OrderType == "" {
		order.OrderType = domain.OrderTypePickup
	}
	if req.ShippingAddress != nil {
		addr := *req.ShippingAddress
		order.ShippingAddress = &addr
	}
	if req.PickupDate != "" || req.PickupTime != "" {
		pickup, err := ParsePickup(req.PickupDate, req.PickupTime, loc)
		if err != nil {
			return domain.Order{}, err
		}
		ready := EstimatedReady(pickup)
		order.PickupTime = &pickup
		order.EstimatedReady = &ready
	}
	for _, item := range req.Items {
		order.Items = append(order.Items, domain.OrderItem{
			OrderID:             id,
			MenuItemID:          item.MenuItemID,
			Name:                item.Name,
			BasePrice:           item.BasePrice,
			Quantity:            item.Quantity,
			Modifiers:           domain.CloneModifiers(item.Modifiers),
			SpecialInstructions: item.SpecialInstructions,
			TotalPrice:          item.TotalPrice,
		})
	}
	return order, nil
}

// EnsureSubmittable rejects orders that already carry a POS order id or a
// payment id, or that were cancelled. Resubmitting would double print or
// double charge.
func EnsureSubmittable(order domain.Order) error {
	switch {
	case order.CloverOrderID != nil && *order.CloverOrderID != "":
		return fmt.Errorf("%w: %s", ErrAlreadySubmitted, *order.CloverOrderID)
	case order.PaymentIntentID != nil && *order.PaymentIntentID != "":
		return fmt.Errorf("%w: %s", ErrAlreadyPaid, *order.PaymentIntentID)
	case order.Status == domain.OrderStatusCancelled:
		return ErrCancelled
	}
	return nil
}

// POSOrder is the POS submission payload.
type POSOrder struct {
	OrderNumber string
	Title       string
	Note        string
	Customer    domain.Customer
	LineItems   []POSLineItem
	Total       int64
}

// POSLineItem is a POS line item. Price is the unit base price.
type POSLineItem struct {
	LocalID       string
	CloverItemID  string
	Name          string
	Price         int64
	Quantity      int
	Note          string
	Modifications []POSModification
}

// POSModification is a modifier expressed in the POS vocabulary.
type POSModification struct {
	LocalID          string
	CloverModifierID string
	Name             string
	Amount           int64
}

// POSResult carries identifiers returned by the POS.
type POSResult struct {
	CloverOrderID string
	PaymentID     string
	Printed       bool
}

// BuildPOSOrder converts a local order into the POS payload. Catalog ids are
// attached when mapping knows them and omitted otherwise.
func BuildPOSOrder(order domain.Order, mapping domain.CatalogMapping, loc *time.Location) POSOrder {
	out := POSOrder{
		OrderNumber: order.OrderNumber,
		Title:       fmt.Sprintf("%s - %s", order.OrderNumber, order.Customer.Name),
		Note:        posNote(order, loc),
		Customer:    order.Customer,
		Total:       order.Total,
	}
	for _, item := range order.Items {
		line := POSLineItem{
			LocalID:  item.MenuItemID,
			Name:     item.Name,
			Price:    item.BasePrice,
			Quantity: item.Quantity,
			Note:     item.SpecialInstructions,
		}
		if mapping != nil {
			if id, ok := mapping.CloverItemID(item.MenuItemID); ok {
				line.CloverItemID = id
			}
		}
		for _, mod := range item.Modifiers {
			pm := POSModification{
				LocalID: mod.ID,
				Name:    modificationName(mod),
				Amount:  mod.Price,
			}
			if mapping != nil {
				if id, ok := mapping.CloverModifierID(mod.ID); ok {
					pm.CloverModifierID = id
				}
			}
			line.Modifications = append(line.Modifications, pm)
		}
		out.LineItems = append(out.LineItems, line)
	}
	return out
}

func modificationName(mod domain.Modifier) string {
	if mod.Category == "" {
		return mod.Name
	}
	return mod.Category + ": " + mod.Name
}

func posNote(order domain.Order, loc *time.Location) string {
	var parts []string
	if order.Customer.Phone != "" {
		parts = append(parts, "Phone: "+order.Customer.Phone)
	}
	if order.PickupTime != nil {
		date, clock := SplitPickup(*order.PickupTime, loc)
		parts = append(parts, fmt.Sprintf("Pickup: %s %s", date, clock))
	}
	if order.OrderType == domain.OrderTypeShipping && order.ShippingAddress != nil {
		a := order.ShippingAddress
		parts = append(parts, fmt.Sprintf("Ship to: %s, %s, %s %s", a.Street, a.City, a.State, a.PostalCode))
	}
	if order.SpecialInstructions != "" {
		parts = append(parts, "Notes: "+order.SpecialInstructions)
	}
	return strings.Join(parts, " | ")
}

// ApplyPOSResult writes the POS identifiers back onto order and returns the
// matching persistence patch. A payment id moves the order to CONFIRMED.
func ApplyPOSResult(order *domain.Order, res POSResult) domain.OrderPatch {
	var patch domain.OrderPatch
	if res.CloverOrderID != "" {
		id := res.CloverOrderID
		order.CloverOrderID = &id
		patch.CloverOrderID = &id
	}
	status := domain.OrderStatusSubmitted
	if res.PaymentID != "" {
		id := res.PaymentID
		order.PaymentIntentID = &id
		patch.PaymentIntentID = &id
		status = domain.OrderStatusConfirmed
	}
	order.Status = status
	patch.Status = &status
	return patch
}
