// Package memory holds process-local repositories for development and tests.
// Nothing here survives a restart.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rise-n-smoke/ordering/internal/cart"
	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/repositories"
)

type errKind int

const (
	kindNotFound errKind = iota + 1
	kindConflict
)

// Error implements repositories.RepositoryError.
type Error struct {
	Op   string
	Msg  string
	kind errKind
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Op, e.Msg) }

func (e *Error) IsNotFound() bool { return e.kind == kindNotFound }

func (e *Error) IsConflict() bool { return e.kind == kindConflict }

func (e *Error) IsUnavailable() bool { return false }

func notFound(op, msg string) error { return &Error{Op: op, Msg: msg, kind: kindNotFound} }

func conflict(op, msg string) error { return &Error{Op: op, Msg: msg, kind: kindConflict} }

// OrderRepository keeps orders in a map and enforces the same unique columns
// as the Postgres schema.
type OrderRepository struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	leases map[string]time.Time
	now    func() time.Time
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository returns an empty repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: map[string]domain.Order{},
		leases: map[string]time.Time{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if _, ok := r.orders[order.ID]; ok {
		return domain.Order{}, conflict("orders.insert", "duplicate id")
	}
	for _, existing := range r.orders {
		if existing.OrderNumber == order.OrderNumber {
			return domain.Order{}, conflict("orders.insert", "duplicate order number")
		}
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = r.now()
	}
	order.UpdatedAt = order.CreatedAt
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	for i := range order.Items {
		if order.Items[i].ID == "" {
			order.Items[i].ID = uuid.NewString()
		}
		order.Items[i].OrderID = order.ID
	}
	r.orders[order.ID] = cloneOrder(order)
	return cloneOrder(order), nil
}

func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.get", orderID)
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) FindByNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	return r.findBy("orders.get_by_number", func(o domain.Order) bool {
		return strings.EqualFold(o.OrderNumber, strings.TrimSpace(orderNumber))
	})
}

func (r *OrderRepository) FindByCloverOrderID(_ context.Context, cloverOrderID string) (domain.Order, error) {
	return r.findBy("orders.get_by_clover_id", func(o domain.Order) bool {
		return o.CloverOrderID != nil && *o.CloverOrderID == cloverOrderID
	})
}

func (r *OrderRepository) findBy(op string, match func(domain.Order) bool) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if match(order) {
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, notFound(op, "no match")
}

func (r *OrderRepository) Update(_ context.Context, orderID string, patch domain.OrderPatch) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.update", orderID)
	}
	for id, other := range r.orders {
		if id == orderID {
			continue
		}
		if patch.CloverOrderID != nil && other.CloverOrderID != nil && *other.CloverOrderID == *patch.CloverOrderID {
			return domain.Order{}, conflict("orders.update", "duplicate clover order id")
		}
		if patch.PaymentIntentID != nil && other.PaymentIntentID != nil && *other.PaymentIntentID == *patch.PaymentIntentID {
			return domain.Order{}, conflict("orders.update", "duplicate payment id")
		}
	}
	if patch.Status != nil {
		order.Status = *patch.Status
	}
	if patch.CloverOrderID != nil {
		id := *patch.CloverOrderID
		order.CloverOrderID = &id
		delete(r.leases, orderID)
	}
	if patch.PaymentIntentID != nil {
		id := *patch.PaymentIntentID
		order.PaymentIntentID = &id
	}
	order.UpdatedAt = r.now()
	r.orders[orderID] = order
	return cloneOrder(order), nil
}

func (r *OrderRepository) Delete(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[orderID]; !ok {
		return notFound("orders.delete", orderID)
	}
	delete(r.orders, orderID)
	delete(r.leases, orderID)
	return nil
}

func (r *OrderRepository) ClaimSubmission(_ context.Context, orderID string, now time.Time, lease time.Duration) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.claim_submission", orderID)
	}
	if order.CloverOrderID != nil || order.PaymentIntentID != nil || order.Status == domain.OrderStatusCancelled {
		return domain.Order{}, conflict("orders.claim_submission", "order already submitted")
	}
	if until, held := r.leases[orderID]; held && until.After(now) {
		return domain.Order{}, conflict("orders.claim_submission", "submission in progress")
	}
	r.leases[orderID] = now.Add(lease)
	return cloneOrder(order), nil
}

func (r *OrderRepository) ReleaseSubmission(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.leases, orderID)
	return nil
}

func (r *OrderRepository) ListUnpaidBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, order := range r.orders {
		if order.Status != domain.OrderStatusPending || order.PaymentIntentID != nil || !order.CreatedAt.Before(cutoff) {
			continue
		}
		if until, held := r.leases[order.ID]; held && !until.Before(cutoff) {
			continue
		}
		out = append(out, cloneOrder(order))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneOrder(o domain.Order) domain.Order {
	out := o
	if o.ShippingAddress != nil {
		addr := *o.ShippingAddress
		out.ShippingAddress = &addr
	}
	if o.CloverOrderID != nil {
		id := *o.CloverOrderID
		out.CloverOrderID = &id
	}
	if o.PaymentIntentID != nil {
		id := *o.PaymentIntentID
		out.PaymentIntentID = &id
	}
	if o.Items != nil {
		out.Items = make([]domain.OrderItem, len(o.Items))
		for i, item := range o.Items {
			item.Modifiers = domain.CloneModifiers(item.Modifiers)
			out.Items[i] = item
		}
	}
	return out
}

// CartRepository keeps snapshots by session.
type CartRepository struct {
	mu    sync.Mutex
	carts map[string]cart.Snapshot
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository returns an empty repository.
func NewCartRepository() *CartRepository {
	return &CartRepository{carts: map[string]cart.Snapshot{}}
}

func (r *CartRepository) Load(_ context.Context, sessionID string) (cart.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.carts[sessionID]
	if !ok {
		return cart.Snapshot{}, notFound("carts.get", sessionID)
	}
	return snap, nil
}

func (r *CartRepository) Save(_ context.Context, sessionID string, snapshot cart.Snapshot) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("cart repository: invalid session id")
	}
	// Round-trip through the persisted shape so stored snapshots share no memory with callers.
	state, err := snapshot.State()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[sessionID] = withTotals(cart.SnapshotOf(state), snapshot)
	return nil
}

func withTotals(snap, from cart.Snapshot) cart.Snapshot {
	snap.Subtotal, snap.Tax, snap.ShippingCost, snap.Total = from.Subtotal, from.Tax, from.ShippingCost, from.Total
	return snap
}

func (r *CartRepository) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, sessionID)
	return nil
}

// WebhookEventRepository keeps archived deliveries in insertion order.
type WebhookEventRepository struct {
	mu      sync.Mutex
	records []repositories.WebhookRecord
}

var _ repositories.WebhookEventRepository = (*WebhookEventRepository)(nil)

// NewWebhookEventRepository returns an empty archive.
func NewWebhookEventRepository() *WebhookEventRepository {
	return &WebhookEventRepository{}
}

func (r *WebhookEventRepository) Archive(_ context.Context, record repositories.WebhookRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record.ID = uuid.NewString()
	record.Payload = append([]byte(nil), record.Payload...)
	r.records = append(r.records, record)
	return record.ID, nil
}

func (r *WebhookEventRepository) MarkProcessed(_ context.Context, id string, processedAt time.Time, processingErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].ID != id {
			continue
		}
		if processingErr != nil {
			r.records[i].Error = processingErr.Error()
			return nil
		}
		t := processedAt
		r.records[i].ProcessedAt = &t
		r.records[i].Error = ""
		return nil
	}
	return notFound("webhooks.mark_processed", id)
}

func (r *WebhookEventRepository) ListUnprocessed(_ context.Context, limit int) ([]repositories.WebhookRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repositories.WebhookRecord
	for _, rec := range r.records {
		if rec.ProcessedAt == nil {
			out = append(out, rec)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
