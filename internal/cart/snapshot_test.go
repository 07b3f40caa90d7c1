package cart

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rise-n-smoke/ordering/internal/domain"
)

func TestSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	pickup := time.Date(2024, 5, 10, 17, 30, 0, 0, time.UTC)
	_, _ = store.AddItem(brisket(2, domain.Modifier{ID: "mac", Name: "Mac & Cheese", Category: domain.ModifierCategorySide}))
	_, _ = store.AddItem(domain.LineItemInput{MenuItemID: "banana-pudding", Name: "Banana Pudding", BasePrice: 450, Quantity: 1, SpecialInstructions: "extra wafers"})
	_ = store.SetOrderType(domain.OrderTypeShipping)
	_ = store.SetShippingAddress(&domain.ShippingAddress{Name: "Pat", Street: "1 Main", City: "Tulsa", State: "OK", PostalCode: "74103"})
	_ = store.SetPickupTime(&pickup)

	data, err := MarshalSnapshot(store.Snapshot())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, key := range []string{`"items"`, `"orderType"`, `"pickupTime"`, `"shippingAddress"`, `"subtotal"`, `"tax"`, `"shippingCost"`, `"total"`} {
		if !strings.Contains(string(data), key) {
			t.Fatalf("expected persisted shape to contain %s: %s", key, data)
		}
	}

	snap, err := UnmarshalSnapshot(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	restored := newTestStore(t)
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(store.State(), restored.State()) {
		t.Fatalf("expected restored state to match:\n%#v\n%#v", store.State(), restored.State())
	}
}

func TestRestoreRecomputesStaleTotals(t *testing.T) {
	snap := Snapshot{
		Items: []SnapshotItem{{
			ID: "ribs-1", MenuItemID: "ribs", Name: "Ribs", BasePrice: 1000, Quantity: 2, TotalPrice: 1,
		}},
		OrderType: "pickup",
		Subtotal:  1,
		Tax:       1,
		Total:     99999,
	}
	store := New(WithPricing(Pricing{TaxRateBasisPoints: 800}))
	if err := store.Restore(snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := store.State()
	if state.Items[0].TotalPrice != 2000 || state.Subtotal != 2000 || state.Tax != 160 || state.Total != 2160 {
		t.Fatalf("expected recomputed totals, got %#v", state)
	}
}

func TestRestoreRejectsCorruptSnapshots(t *testing.T) {
	store := newTestStore(t)
	_, _ = store.AddItem(brisket(1))
	before := store.State()

	if err := store.Restore(Snapshot{OrderType: "drone"}); !errors.Is(err, ErrInvalidOrderType) {
		t.Fatalf("expected ErrInvalidOrderType, got %v", err)
	}
	if err := store.Restore(Snapshot{Items: []SnapshotItem{{ID: "x", Quantity: 0}}}); !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem, got %v", err)
	}
	if !reflect.DeepEqual(before, store.State()) {
		t.Fatalf("expected failed restore to leave state untouched")
	}
}

func TestUnmarshalSnapshotEmptyOrderTypeDefaultsToPickup(t *testing.T) {
	snap, err := UnmarshalSnapshot([]byte(`{"items":[]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state, err := snap.State()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.OrderType != domain.OrderTypePickup {
		t.Fatalf("expected pickup, got %q", state.OrderType)
	}
}
