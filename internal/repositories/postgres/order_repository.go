// Package postgres stores orders and order items in PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rise-n-smoke/ordering/internal/domain"
	ppostgres "github.com/rise-n-smoke/ordering/internal/platform/postgres"
	"github.com/rise-n-smoke/ordering/internal/repositories"
)

//go:embed schema.sql
var schema string

// DB is the subset of pgxpool.Pool the repository uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EnsureSchema creates the tables when missing.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return ppostgres.WrapError("orders.schema", err)
	}
	return nil
}

const orderColumns = `id, order_number, customer_name, customer_email, customer_phone, order_type,
	shipping_address, pickup_time, estimated_ready, special_instructions,
	subtotal, tax, shipping_cost, total, status, clover_order_id, payment_intent_id,
	session_id, created_at, updated_at`

const itemColumns = `id, order_id, menu_item_id, name, base_price, quantity, modifiers, special_instructions, total_price`

// OrderRepository implements repositories.OrderRepository.
type OrderRepository struct {
	db  DB
	now func() time.Time
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs the repository.
func NewOrderRepository(db DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository requires a database")
	}
	return &OrderRepository{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

type modifierRow struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Category string `json:"category"`
}

type addressRow struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	Street2    string `json:"street2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Phone      string `json:"phone,omitempty"`
}

// Insert stores the order and its items in one transaction.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	if strings.TrimSpace(order.ID) == "" {
		order.ID = uuid.NewString()
	}
	now := r.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	address, err := encodeAddress(order.ShippingAddress)
	if err != nil {
		return domain.Order{}, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.Order{}, ppostgres.WrapError("orders.insert.begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		order.ID, order.OrderNumber, order.Customer.Name, order.Customer.Email, order.Customer.Phone,
		string(order.OrderType), address, order.PickupTime, order.EstimatedReady, order.SpecialInstructions,
		order.Subtotal, order.Tax, order.ShippingCost, order.Total, string(order.Status),
		order.CloverOrderID, order.PaymentIntentID, order.SessionID, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return domain.Order{}, ppostgres.WrapError("orders.insert", err)
	}

	items := make([]domain.OrderItem, len(order.Items))
	for i, item := range order.Items {
		if strings.TrimSpace(item.ID) == "" {
			item.ID = uuid.NewString()
		}
		item.OrderID = order.ID
		mods, err := encodeModifiers(item.Modifiers)
		if err != nil {
			return domain.Order{}, err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO order_items (id, order_id, position, menu_item_id, name, base_price, quantity, modifiers, special_instructions, total_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			item.ID, item.OrderID, i, item.MenuItemID, item.Name, item.BasePrice, item.Quantity,
			mods, item.SpecialInstructions, item.TotalPrice); err != nil {
			return domain.Order{}, ppostgres.WrapError("order_items.insert", err)
		}
		items[i] = item
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, ppostgres.WrapError("orders.insert.commit", err)
	}
	order.Items = items
	return order, nil
}

// FindByID loads an order with its items.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if _, err := uuid.Parse(strings.TrimSpace(orderID)); err != nil {
		return domain.Order{}, ppostgres.NotFound("orders.get", fmt.Errorf("invalid order id %q", orderID))
	}
	return r.findOne(ctx, "orders.get", `WHERE id = $1`, orderID)
}

// FindByNumber loads an order by its human-facing number.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	return r.findOne(ctx, "orders.get_by_number", `WHERE order_number = $1`, strings.ToUpper(strings.TrimSpace(orderNumber)))
}

// FindByCloverOrderID loads the order the POS knows by cloverOrderID.
func (r *OrderRepository) FindByCloverOrderID(ctx context.Context, cloverOrderID string) (domain.Order, error) {
	return r.findOne(ctx, "orders.get_by_clover_id", `WHERE clover_order_id = $1`, strings.TrimSpace(cloverOrderID))
}

func (r *OrderRepository) findOne(ctx context.Context, op, where string, arg any) (domain.Order, error) {
	order, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders `+where, arg))
	if err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}
	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.Query(ctx, `SELECT `+itemColumns+` FROM order_items WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, ppostgres.WrapError("order_items.list", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var (
			item domain.OrderItem
			mods []byte
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.Name, &item.BasePrice,
			&item.Quantity, &mods, &item.SpecialInstructions, &item.TotalPrice); err != nil {
			return nil, ppostgres.WrapError("order_items.scan", err)
		}
		if item.Modifiers, err = decodeModifiers(mods); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError("order_items.list", err)
	}
	return items, nil
}

// Update applies the non-nil fields of patch. Setting a POS id releases any
// submission claim.
func (r *OrderRepository) Update(ctx context.Context, orderID string, patch domain.OrderPatch) (domain.Order, error) {
	sets := []string{"updated_at = $2"}
	args := []any{orderID, r.now()}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.CloverOrderID != nil {
		add("clover_order_id", *patch.CloverOrderID)
		sets = append(sets, "submission_locked_until = NULL")
	}
	if patch.PaymentIntentID != nil {
		add("payment_intent_id", *patch.PaymentIntentID)
	}

	tag, err := r.db.Exec(ctx, `UPDATE orders SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return domain.Order{}, ppostgres.WrapError("orders.update", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Order{}, ppostgres.NotFound("orders.update", fmt.Errorf("order %s", orderID))
	}
	return r.FindByID(ctx, orderID)
}

// Delete removes an order; items cascade.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return ppostgres.WrapError("orders.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound("orders.delete", fmt.Errorf("order %s", orderID))
	}
	return nil
}

// ClaimSubmission takes a time-bounded lease on submitting the order. The
// conditional UPDATE makes concurrent claims mutually exclusive.
func (r *OrderRepository) ClaimSubmission(ctx context.Context, orderID string, now time.Time, lease time.Duration) (domain.Order, error) {
	order, err := scanOrder(r.db.QueryRow(ctx, `UPDATE orders
		SET submission_locked_until = $2, updated_at = $3
		WHERE id = $1
		  AND clover_order_id IS NULL
		  AND payment_intent_id IS NULL
		  AND status <> 'CANCELLED'
		  AND (submission_locked_until IS NULL OR submission_locked_until < $3)
		RETURNING `+orderColumns, orderID, now.Add(lease), now))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, findErr := r.FindByID(ctx, orderID); findErr != nil {
			return domain.Order{}, findErr
		}
		return domain.Order{}, ppostgres.Conflict("orders.claim_submission", fmt.Errorf("order %s is already submitted or being submitted", orderID))
	}
	if err != nil {
		return domain.Order{}, ppostgres.WrapError("orders.claim_submission", err)
	}
	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

// ReleaseSubmission drops the lease after a failed submission.
func (r *OrderRepository) ReleaseSubmission(ctx context.Context, orderID string) error {
	if _, err := r.db.Exec(ctx, `UPDATE orders SET submission_locked_until = NULL WHERE id = $1`, orderID); err != nil {
		return ppostgres.WrapError("orders.release_submission", err)
	}
	return nil
}

// ListUnpaidBefore returns pending orders older than cutoff, oldest first.
// Orders whose submission lease runs past cutoff are mid-submission and skipped.
func (r *OrderRepository) ListUnpaidBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status = 'PENDING' AND payment_intent_id IS NULL AND created_at < $1
		  AND (submission_locked_until IS NULL OR submission_locked_until < $1)
		ORDER BY created_at LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, ppostgres.WrapError("orders.list_unpaid", err)
	}
	defer rows.Close()
	var out []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, ppostgres.WrapError("orders.scan", err)
		}
		out = append(out, order)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError("orders.list_unpaid", err)
	}
	return out, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order     domain.Order
		orderType string
		status    string
		address   []byte
	)
	err := row.Scan(&order.ID, &order.OrderNumber, &order.Customer.Name, &order.Customer.Email, &order.Customer.Phone,
		&orderType, &address, &order.PickupTime, &order.EstimatedReady, &order.SpecialInstructions,
		&order.Subtotal, &order.Tax, &order.ShippingCost, &order.Total, &status,
		&order.CloverOrderID, &order.PaymentIntentID, &order.SessionID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	order.OrderType = domain.OrderType(orderType)
	order.Status = domain.OrderStatus(status)
	if order.ShippingAddress, err = decodeAddress(address); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func encodeModifiers(mods []domain.Modifier) ([]byte, error) {
	rows := make([]modifierRow, 0, len(mods))
	for _, m := range mods {
		rows = append(rows, modifierRow{ID: m.ID, Name: m.Name, Price: m.Price, Category: m.Category})
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("order_items: encode modifiers: %w", err)
	}
	return data, nil
}

func decodeModifiers(data []byte) ([]domain.Modifier, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var rows []modifierRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("order_items: decode modifiers: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	mods := make([]domain.Modifier, len(rows))
	for i, row := range rows {
		mods[i] = domain.Modifier{ID: row.ID, Name: row.Name, Price: row.Price, Category: row.Category}
	}
	return mods, nil
}

func encodeAddress(addr *domain.ShippingAddress) ([]byte, error) {
	if addr == nil {
		return nil, nil
	}
	data, err := json.Marshal(addressRow(*addr))
	if err != nil {
		return nil, fmt.Errorf("orders: encode shipping address: %w", err)
	}
	return data, nil
}

func decodeAddress(data []byte) (*domain.ShippingAddress, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var row addressRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("orders: decode shipping address: %w", err)
	}
	addr := domain.ShippingAddress(row)
	return &addr, nil
}
