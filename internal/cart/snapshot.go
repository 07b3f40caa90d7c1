package cart

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rise-n-smoke/ordering/internal/domain"
)

// StorageKey is the durable storage key carts are persisted under.
const StorageKey = "rise-n-smoke-cart"

// Snapshot is the persisted cart shape. Money values are cents.
type Snapshot struct {
	Items           []SnapshotItem   `json:"items" firestore:"items"`
	OrderType       string           `json:"orderType" firestore:"orderType"`
	PickupTime      *time.Time       `json:"pickupTime" firestore:"pickupTime"`
	ShippingAddress *SnapshotAddress `json:"shippingAddress" firestore:"shippingAddress"`
	Subtotal        int64            `json:"subtotal" firestore:"subtotal"`
	Tax             int64            `json:"tax" firestore:"tax"`
	ShippingCost    int64            `json:"shippingCost" firestore:"shippingCost"`
	Total           int64            `json:"total" firestore:"total"`
}

// SnapshotItem is a persisted line item.
type SnapshotItem struct {
	ID                  string             `json:"id" firestore:"id"`
	MenuItemID          string             `json:"menuItemId" firestore:"menuItemId"`
	Name                string             `json:"name" firestore:"name"`
	BasePrice           int64              `json:"basePrice" firestore:"basePrice"`
	Quantity            int                `json:"quantity" firestore:"quantity"`
	Modifiers           []SnapshotModifier `json:"modifiers" firestore:"modifiers"`
	SpecialInstructions string             `json:"specialInstructions,omitempty" firestore:"specialInstructions,omitempty"`
	TotalPrice          int64              `json:"totalPrice" firestore:"totalPrice"`
	Image               string             `json:"image,omitempty" firestore:"image,omitempty"`
}

// SnapshotModifier is a persisted modifier.
type SnapshotModifier struct {
	ID       string `json:"id" firestore:"id"`
	Name     string `json:"name" firestore:"name"`
	Price    int64  `json:"price" firestore:"price"`
	Category string `json:"category" firestore:"category"`
}

// SnapshotAddress is a persisted shipping address.
type SnapshotAddress struct {
	Name       string `json:"name" firestore:"name"`
	Street     string `json:"street" firestore:"street"`
	Street2    string `json:"street2,omitempty" firestore:"street2,omitempty"`
	City       string `json:"city" firestore:"city"`
	State      string `json:"state" firestore:"state"`
	PostalCode string `json:"postalCode" firestore:"postalCode"`
	Phone      string `json:"phone,omitempty" firestore:"phone,omitempty"`
}

// Snapshot captures the committed state in its persisted shape.
func (s *Store) Snapshot() Snapshot {
	return SnapshotOf(s.State())
}

// Restore replaces the cart with a persisted snapshot. Persisted totals are
// discarded and recomputed with the store's current pricing.
func (s *Store) Restore(snap Snapshot) error {
	state, err := snap.State()
	if err != nil {
		return err
	}
	return s.Dispatch(replaceState{state: state})
}

// SnapshotOf converts a cart state into its persisted shape.
func SnapshotOf(state domain.CartState) Snapshot {
	snap := Snapshot{
		Items:        make([]SnapshotItem, 0, len(state.Items)),
		OrderType:    string(state.OrderType),
		Subtotal:     state.Subtotal,
		Tax:          state.Tax,
		ShippingCost: state.ShippingCost,
		Total:        state.Total,
	}
	for _, item := range state.Items {
		mods := make([]SnapshotModifier, 0, len(item.Modifiers))
		for _, mod := range item.Modifiers {
			mods = append(mods, SnapshotModifier(mod))
		}
		snap.Items = append(snap.Items, SnapshotItem{
			ID:                  item.ID,
			MenuItemID:          item.MenuItemID,
			Name:                item.Name,
			BasePrice:           item.BasePrice,
			Quantity:            item.Quantity,
			Modifiers:           mods,
			SpecialInstructions: item.SpecialInstructions,
			TotalPrice:          item.TotalPrice,
			Image:               item.Image,
		})
	}
	if state.PickupTime != nil {
		t := state.PickupTime.UTC()
		snap.PickupTime = &t
	}
	if state.ShippingAddress != nil {
		addr := SnapshotAddress(*state.ShippingAddress)
		snap.ShippingAddress = &addr
	}
	return snap
}

// State converts the snapshot back into a cart state. Totals are not trusted
// and are left for CalculateTotals.
func (snap Snapshot) State() (domain.CartState, error) {
	state := domain.CartState{OrderType: domain.OrderType(snap.OrderType)}
	if snap.OrderType == "" {
		state.OrderType = domain.OrderTypePickup
	}
	if !state.OrderType.Valid() {
		return domain.CartState{}, fmt.Errorf("%w: %q", ErrInvalidOrderType, snap.OrderType)
	}
	for _, item := range snap.Items {
		if item.ID == "" || item.Quantity < 1 {
			return domain.CartState{}, fmt.Errorf("%w: persisted item %q", ErrInvalidItem, item.ID)
		}
		var mods []domain.Modifier
		if len(item.Modifiers) > 0 {
			mods = make([]domain.Modifier, 0, len(item.Modifiers))
			for _, mod := range item.Modifiers {
				mods = append(mods, domain.Modifier(mod))
			}
		}
		state.Items = append(state.Items, domain.LineItem{
			ID:                  item.ID,
			MenuItemID:          item.MenuItemID,
			Name:                item.Name,
			BasePrice:           item.BasePrice,
			Quantity:            item.Quantity,
			Modifiers:           mods,
			SpecialInstructions: item.SpecialInstructions,
			Image:               item.Image,
		})
	}
	if snap.PickupTime != nil {
		t := *snap.PickupTime
		state.PickupTime = &t
	}
	if snap.ShippingAddress != nil {
		addr := domain.ShippingAddress(*snap.ShippingAddress)
		state.ShippingAddress = &addr
	}
	return state, nil
}

// MarshalSnapshot encodes the snapshot as JSON.
func MarshalSnapshot(snap Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// UnmarshalSnapshot decodes a JSON snapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("cart: decode snapshot: %w", err)
	}
	return snap, nil
}

type replaceState struct {
	state domain.CartState
}

func (a replaceState) apply(state *domain.CartState, _ *Store) error {
	*state = a.state.Clone()
	return nil
}
