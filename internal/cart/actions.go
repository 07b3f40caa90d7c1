package cart

import (
	"fmt"
	"strings"
	"time"

	"github.com/rise-n-smoke/ordering/internal/domain"
)

// Action is a cart mutation. Totals are recomputed by the store after apply.
type Action interface {
	apply(state *domain.CartState, s *Store) error
}

// AddItem appends a line item. ID is generated when empty.
type AddItem struct {
	Input domain.LineItemInput
	ID    string
}

func (a AddItem) apply(state *domain.CartState, s *Store) error {
	in := a.Input
	in.MenuItemID = strings.TrimSpace(in.MenuItemID)
	in.Name = strings.TrimSpace(in.Name)
	switch {
	case in.MenuItemID == "":
		return fmt.Errorf("%w: menu item id is required", ErrInvalidItem)
	case in.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidItem)
	case in.BasePrice < 0:
		return fmt.Errorf("%w: base price must not be negative", ErrInvalidItem)
	case in.Quantity < 1:
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidItem)
	}
	id := a.ID
	if id == "" {
		id = s.newID(in.MenuItemID, s.now())
	}
	state.Items = append(state.Items, domain.LineItem{
		ID:                  id,
		MenuItemID:          in.MenuItemID,
		Name:                in.Name,
		BasePrice:           in.BasePrice,
		Quantity:            in.Quantity,
		Modifiers:           domain.CloneModifiers(in.Modifiers),
		SpecialInstructions: strings.TrimSpace(in.SpecialInstructions),
		TotalPrice:          LineTotal(in.BasePrice, in.Modifiers, in.Quantity),
		Image:               in.Image,
	})
	return nil
}

// RemoveItem drops the item with ID. Unknown ids are a no-op.
type RemoveItem struct {
	ID string
}

func (a RemoveItem) apply(state *domain.CartState, _ *Store) error {
	filtered := state.Items[:0]
	for _, item := range state.Items {
		if item.ID != a.ID {
			filtered = append(filtered, item)
		}
	}
	state.Items = filtered
	return nil
}

// UpdateQuantity changes the item quantity. Quantity <= 0 behaves as RemoveItem.
type UpdateQuantity struct {
	ID       string
	Quantity int
}

func (a UpdateQuantity) apply(state *domain.CartState, s *Store) error {
	if a.Quantity <= 0 {
		return RemoveItem{ID: a.ID}.apply(state, s)
	}
	item := findItem(state, a.ID)
	if item == nil {
		return fmt.Errorf("%w: %s", ErrItemNotFound, a.ID)
	}
	item.Quantity = a.Quantity
	item.TotalPrice = LineTotal(item.BasePrice, item.Modifiers, item.Quantity)
	return nil
}

// UpdateModifiers replaces the item's modifier list.
type UpdateModifiers struct {
	ID        string
	Modifiers []domain.Modifier
}

func (a UpdateModifiers) apply(state *domain.CartState, _ *Store) error {
	item := findItem(state, a.ID)
	if item == nil {
		return fmt.Errorf("%w: %s", ErrItemNotFound, a.ID)
	}
	item.Modifiers = domain.CloneModifiers(a.Modifiers)
	item.TotalPrice = LineTotal(item.BasePrice, item.Modifiers, item.Quantity)
	return nil
}

// ClearCart empties the cart and resets fulfilment details.
type ClearCart struct{}

func (ClearCart) apply(state *domain.CartState, _ *Store) error {
	*state = domain.CartState{OrderType: domain.OrderTypePickup}
	return nil
}

// SetOrderType switches fulfilment mode.
type SetOrderType struct {
	Type domain.OrderType
}

func (a SetOrderType) apply(state *domain.CartState, _ *Store) error {
	if !a.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOrderType, a.Type)
	}
	state.OrderType = a.Type
	return nil
}

// SetShippingAddress sets the destination; nil clears it.
type SetShippingAddress struct {
	Address *domain.ShippingAddress
}

func (a SetShippingAddress) apply(state *domain.CartState, _ *Store) error {
	if a.Address == nil {
		state.ShippingAddress = nil
		return nil
	}
	addr := *a.Address
	addr.State = strings.ToUpper(strings.TrimSpace(addr.State))
	state.ShippingAddress = &addr
	return nil
}

// SetPickupTime sets the requested pickup time; nil clears it.
type SetPickupTime struct {
	Time *time.Time
}

func (a SetPickupTime) apply(state *domain.CartState, _ *Store) error {
	if a.Time == nil {
		state.PickupTime = nil
		return nil
	}
	t := *a.Time
	state.PickupTime = &t
	return nil
}

type recalculate struct{}

func (recalculate) apply(*domain.CartState, *Store) error { return nil }

func findItem(state *domain.CartState, id string) *domain.LineItem {
	for i := range state.Items {
		if state.Items[i].ID == id {
			return &state.Items[i]
		}
	}
	return nil
}
