package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/repositories"
)

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func TestOrderRepositoryUniqueColumns(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()

	first, err := repo.Insert(ctx, domain.Order{OrderNumber: "RNS-1"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if first.ID == "" || first.Status != domain.OrderStatusPending {
		t.Fatalf("expected generated id and pending status, got %+v", first)
	}
	if _, err := repo.Insert(ctx, domain.Order{OrderNumber: "RNS-1"}); !isConflict(err) {
		t.Fatalf("expected duplicate order number conflict, got %v", err)
	}

	second, err := repo.Insert(ctx, domain.Order{OrderNumber: "RNS-2"})
	if err != nil {
		t.Fatalf("insert second: %v", err)
	}
	clv := "CLV1"
	if _, err := repo.Update(ctx, first.ID, domain.OrderPatch{CloverOrderID: &clv}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := repo.Update(ctx, second.ID, domain.OrderPatch{CloverOrderID: &clv}); !isConflict(err) {
		t.Fatalf("expected duplicate clover id conflict, got %v", err)
	}

	found, err := repo.FindByCloverOrderID(ctx, "CLV1")
	if err != nil || found.ID != first.ID {
		t.Fatalf("expected lookup by clover id to find %s, got %+v (%v)", first.ID, found, err)
	}
	if _, err := repo.FindByNumber(ctx, " rns-2 "); err != nil {
		t.Fatalf("number lookup should trim and ignore case: %v", err)
	}
}

func TestOrderRepositorySubmissionClaim(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	order, err := repo.Insert(ctx, domain.Order{OrderNumber: "RNS-1"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	if _, err := repo.ClaimSubmission(ctx, order.ID, now, time.Minute); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := repo.ClaimSubmission(ctx, order.ID, now.Add(30*time.Second), time.Minute); !isConflict(err) {
		t.Fatalf("expected held lease to conflict, got %v", err)
	}
	if _, err := repo.ClaimSubmission(ctx, order.ID, now.Add(2*time.Minute), time.Minute); err != nil {
		t.Fatalf("expired lease should be reclaimable: %v", err)
	}
	if err := repo.ReleaseSubmission(ctx, order.ID); err != nil {
		t.Fatalf("release: %v", err)
	}

	clv := "CLV1"
	if _, err := repo.Update(ctx, order.ID, domain.OrderPatch{CloverOrderID: &clv}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := repo.ClaimSubmission(ctx, order.ID, now.Add(time.Hour), time.Minute); !isConflict(err) {
		t.Fatalf("submitted orders cannot be claimed again, got %v", err)
	}
}

func TestOrderRepositoryListUnpaidBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	for i, number := range []string{"RNS-3", "RNS-1", "RNS-2"} {
		if _, err := repo.Insert(ctx, domain.Order{OrderNumber: number, CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("insert %s: %v", number, err)
		}
	}
	paid := "CHG1"
	target, _ := repo.FindByNumber(ctx, "RNS-1")
	if _, err := repo.Update(ctx, target.ID, domain.OrderPatch{PaymentIntentID: &paid}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := repo.ListUnpaidBefore(ctx, base.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].OrderNumber != "RNS-3" || got[1].OrderNumber != "RNS-2" {
		t.Fatalf("expected unpaid orders oldest first, got %+v", got)
	}
}

func TestOrderRepositoryListUnpaidBeforeSkipsLeasedOrders(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	leased, err := repo.Insert(ctx, domain.Order{OrderNumber: "RNS-1", CreatedAt: base})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	lapsed, err := repo.Insert(ctx, domain.Order{OrderNumber: "RNS-2", CreatedAt: base.Add(time.Minute)})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	cutoff := base.Add(time.Hour)
	if _, err := repo.ClaimSubmission(ctx, leased.ID, cutoff.Add(-10*time.Second), time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := repo.ClaimSubmission(ctx, lapsed.ID, base, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}

	got, err := repo.ListUnpaidBefore(ctx, cutoff, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != lapsed.ID {
		t.Fatalf("expected only the order with a lapsed lease, got %+v", got)
	}

	if err := repo.ReleaseSubmission(ctx, leased.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	got, err = repo.ListUnpaidBefore(ctx, cutoff, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected released order listed again, got %+v", got)
	}
}

func TestWebhookEventRepositoryReplayQueue(t *testing.T) {
	ctx := context.Background()
	repo := NewWebhookEventRepository()

	okID, err := repo.Archive(ctx, repositories.WebhookRecord{Source: "clover", Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	failedID, err := repo.Archive(ctx, repositories.WebhookRecord{Source: "clover", Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	now := time.Now().UTC()
	if err := repo.MarkProcessed(ctx, okID, now, nil); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if err := repo.MarkProcessed(ctx, failedID, now, errors.New("clover unavailable")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	pending, err := repo.ListUnprocessed(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != failedID || pending[0].Error != "clover unavailable" {
		t.Fatalf("expected only the failed delivery pending, got %+v", pending)
	}
	if err := repo.MarkProcessed(ctx, "missing", now, nil); err == nil {
		t.Fatal("expected not found for unknown record")
	}
}
