package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/platform/config"
	ppostgres "github.com/rise-n-smoke/ordering/internal/platform/postgres"
	"github.com/rise-n-smoke/ordering/internal/repositories"
)

func TestModifierEncodingRoundTrip(t *testing.T) {
	mods := []domain.Modifier{
		{ID: "brisket", Name: "Brisket", Price: 0, Category: domain.ModifierCategoryMeat},
		{ID: "weight-1lb", Name: "1 lb", Price: -450, Category: domain.ModifierCategoryWeight},
	}
	data, err := encodeModifiers(mods)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeModifiers(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[1].Price != -450 || got[0].Category != domain.ModifierCategoryMeat {
		t.Fatalf("unexpected modifiers %#v", got)
	}

	empty, err := encodeModifiers(nil)
	if err != nil || string(empty) != "[]" {
		t.Fatalf("expected empty json array, got %q %v", empty, err)
	}
}

func TestAddressEncodingKeepsNil(t *testing.T) {
	data, err := encodeAddress(nil)
	if err != nil || data != nil {
		t.Fatalf("expected nil for missing address")
	}
	addr, err := decodeAddress([]byte("null"))
	if err != nil || addr != nil {
		t.Fatalf("expected nil address, got %#v %v", addr, err)
	}
}

func TestFindByIDRejectsMalformedID(t *testing.T) {
	repo, err := NewOrderRepository(nilDB{})
	if err != nil {
		t.Fatalf("NewOrderRepository: %v", err)
	}
	_, err = repo.FindByID(context.Background(), "not-a-uuid")
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}

// nilDB fails every call; tests using it must not reach the database.
type nilDB struct{ DB }

func integrationRepo(t *testing.T) *OrderRepository {
	t.Helper()
	url := os.Getenv("RNS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("RNS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := ppostgres.NewPool(ctx, config.PostgresConfig{URL: url})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	repo, err := NewOrderRepository(pool)
	if err != nil {
		t.Fatalf("NewOrderRepository: %v", err)
	}
	return repo
}

func TestOrderRepositoryIntegration(t *testing.T) {
	repo := integrationRepo(t)
	ctx := context.Background()

	pickup := time.Date(2024, 5, 10, 22, 30, 0, 0, time.UTC)
	order, err := repo.Insert(ctx, domain.Order{
		ID:          uuid.NewString(),
		OrderNumber: "RNS-IT-" + uuid.NewString()[:8],
		Customer:    domain.Customer{Name: "Pat", Email: "pat@example.com", Phone: "5125550100"},
		OrderType:   domain.OrderTypePickup,
		PickupTime:  &pickup,
		Subtotal:    1250, Tax: 103, Total: 1353,
		SessionID:   "sess-it",
		Items: []domain.OrderItem{{
			MenuItemID: "brisket-plate", Name: "Brisket Plate", BasePrice: 1250, Quantity: 1, TotalPrice: 1250,
			Modifiers: []domain.Modifier{{ID: "mac", Name: "Mac & Cheese", Category: domain.ModifierCategorySide}},
		}},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	t.Cleanup(func() { _ = repo.Delete(context.Background(), order.ID) })

	found, err := repo.FindByNumber(ctx, order.OrderNumber)
	if err != nil || found.ID != order.ID || found.SessionID != "sess-it" || len(found.Items) != 1 || found.Items[0].Modifiers[0].ID != "mac" {
		t.Fatalf("FindByNumber: %#v %v", found, err)
	}

	if _, err := repo.ClaimSubmission(ctx, order.ID, time.Now(), time.Minute); err != nil {
		t.Fatalf("ClaimSubmission: %v", err)
	}
	_, err = repo.ClaimSubmission(ctx, order.ID, time.Now(), time.Minute)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on second claim, got %v", err)
	}
	unpaid, err := repo.ListUnpaidBefore(ctx, time.Now().Add(time.Second), 1000)
	if err != nil {
		t.Fatalf("ListUnpaidBefore: %v", err)
	}
	for _, o := range unpaid {
		if o.ID == order.ID {
			t.Fatalf("order holding a submission lease must not be listed for expiry")
		}
	}

	cloverID := "CLV-" + uuid.NewString()[:8]
	updated, err := repo.Update(ctx, order.ID, domain.OrderPatch{CloverOrderID: &cloverID})
	if err != nil || updated.CloverOrderID == nil || *updated.CloverOrderID != cloverID {
		t.Fatalf("Update: %#v %v", updated, err)
	}
	byClover, err := repo.FindByCloverOrderID(ctx, cloverID)
	if err != nil || byClover.ID != order.ID {
		t.Fatalf("FindByCloverOrderID: %v", err)
	}
}
