package repositories

import (
	"context"
	"time"

	"github.com/rise-n-smoke/ordering/internal/cart"
	"github.com/rise-n-smoke/ordering/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists orders and their line items.
type OrderRepository interface {
	// Insert stores the order header and items atomically and returns the stored order.
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	FindByCloverOrderID(ctx context.Context, cloverOrderID string) (domain.Order, error)
	Update(ctx context.Context, orderID string, patch domain.OrderPatch) (domain.Order, error)
	Delete(ctx context.Context, orderID string) error
	// ClaimSubmission marks the order as being submitted to the POS. It returns
	// a conflict error when another claim is live or the order already carries
	// a POS or payment id.
	ClaimSubmission(ctx context.Context, orderID string, now time.Time, lease time.Duration) (domain.Order, error)
	ReleaseSubmission(ctx context.Context, orderID string) error
	// ListUnpaidBefore returns pending orders created before cutoff, skipping
	// orders whose submission lease is still held at cutoff.
	ListUnpaidBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
}

// CartRepository persists cart snapshots keyed by cart session.
type CartRepository interface {
	Load(ctx context.Context, sessionID string) (cart.Snapshot, error)
	Save(ctx context.Context, sessionID string, snapshot cart.Snapshot) error
	Delete(ctx context.Context, sessionID string) error
}

// WebhookEventRepository archives raw webhook deliveries and their processing result.
type WebhookEventRepository interface {
	Archive(ctx context.Context, record WebhookRecord) (string, error)
	MarkProcessed(ctx context.Context, id string, processedAt time.Time, processingErr error) error
	ListUnprocessed(ctx context.Context, limit int) ([]WebhookRecord, error)
}

// WebhookRecord is one archived webhook delivery.
type WebhookRecord struct {
	ID          string
	Source      string
	MerchantIDs []string
	Events      []domain.WebhookEvent
	Payload     []byte
	ReceivedAt  time.Time
	ProcessedAt *time.Time
	Error       string
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
