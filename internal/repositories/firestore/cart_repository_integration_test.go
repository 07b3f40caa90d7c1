//go:build integration

package firestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rise-n-smoke/ordering/internal/cart"
	"github.com/rise-n-smoke/ordering/internal/platform/config"
	pfirestore "github.com/rise-n-smoke/ordering/internal/platform/firestore"
	"github.com/rise-n-smoke/ordering/internal/repositories"
)

func TestCartRepositoryIntegration(t *testing.T) {
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	client, err := pfirestore.NewClient(ctx, config.FirestoreConfig{ProjectID: "cart-test", EmulatorHost: host})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	repo, err := NewCartRepository(client, "carts-it")
	if err != nil {
		t.Fatalf("NewCartRepository: %v", err)
	}

	session := "sess-" + time.Now().Format("150405.000000")
	_, err = repo.Load(ctx, session)
	if repoErr, ok := err.(repositories.RepositoryError); !ok || !repoErr.IsNotFound() {
		t.Fatalf("expected not found for new session, got %v", err)
	}

	pickup := time.Date(2024, 5, 10, 17, 30, 0, 0, time.UTC)
	snap := cart.Snapshot{
		OrderType:  "pickup",
		PickupTime: &pickup,
		Items: []cart.SnapshotItem{{
			ID: "brisket-plate-1", MenuItemID: "brisket-plate", Name: "Brisket Plate",
			BasePrice: 1650, Quantity: 2, TotalPrice: 3300,
			Modifiers: []cart.SnapshotModifier{{ID: "mac", Name: "Mac & Cheese", Category: "Side"}},
		}},
		Subtotal: 3300, Tax: 272, Total: 3572,
	}
	if err := repo.Save(ctx, session, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := repo.Load(ctx, session)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Quantity != 2 || got.PickupTime == nil || !got.PickupTime.Equal(pickup) {
		t.Fatalf("unexpected snapshot %#v", got)
	}
	if err := repo.Delete(ctx, session); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}
