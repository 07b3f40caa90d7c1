package clover

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rise-n-smoke/ordering/internal/orders"
)

// Clover order states.
const (
	OrderStateOpen   = "open"
	OrderStateLocked = "locked"
)

// Order is the subset of a Clover order the service reads.
type Order struct {
	ID           string `json:"id"`
	Title        string `json:"title,omitempty"`
	Note         string `json:"note,omitempty"`
	State        string `json:"state,omitempty"`
	PaymentState string `json:"paymentState,omitempty"`
	Total        int64  `json:"total,omitempty"`
	CreatedTime  int64  `json:"createdTime,omitempty"`
	ModifiedTime int64  `json:"modifiedTime,omitempty"`
}

// OrderStatus is what getOrderStatus reports.
type OrderStatus struct {
	OrderID      string
	State        string
	PaymentState string
	Total        int64
}

type reference struct {
	ID string `json:"id"`
}

type createOrderBody struct {
	State string `json:"state"`
	Title string `json:"title,omitempty"`
	Note  string `json:"note,omitempty"`
}

type lineItemBody struct {
	Item  *reference `json:"item,omitempty"`
	Name  string     `json:"name"`
	Price int64      `json:"price"`
	Note  string     `json:"note,omitempty"`
}

type bulkLineItemsBody struct {
	Items []lineItemBody `json:"items"`
}

type lineItem struct {
	ID string `json:"id"`
}

type modificationBody struct {
	Modifier reference `json:"modifier"`
	Name     string    `json:"name,omitempty"`
	Amount   int64     `json:"amount"`
}

type printEventBody struct {
	OrderRef reference `json:"orderRef"`
}

// CreateOrder opens a Clover order and adds its line items. Quantities expand
// into repeated line items. Modifications without a Clover modifier id are
// folded into the line item's price and note so the POS total still matches.
func (c *Client) CreateOrder(ctx context.Context, pos orders.POSOrder) (Order, error) {
	if len(pos.LineItems) == 0 {
		return Order{}, fmt.Errorf("clover: create order: no line items")
	}
	var created Order
	err := c.do(ctx, request{
		op:     "create_order",
		method: http.MethodPost,
		path:   c.merchantPath("orders"),
		body:   createOrderBody{State: OrderStateOpen, Title: pos.Title, Note: pos.Note},
	}, &created)
	if err != nil {
		return Order{}, err
	}
	if created.ID == "" {
		return Order{}, fmt.Errorf("clover: create order: response missing id")
	}

	bodies, mapped := expandLineItems(pos.LineItems)
	var items []lineItem
	if err := c.do(ctx, request{
		op:     "add_line_items",
		method: http.MethodPost,
		path:   c.merchantPath("orders", created.ID, "bulk_line_items"),
		body:   bulkLineItemsBody{Items: bodies},
	}, &items); err != nil {
		return created, err
	}
	if len(items) != len(bodies) {
		return created, fmt.Errorf("clover: add line items: expected %d ids, got %d", len(bodies), len(items))
	}
	for i, mods := range mapped {
		for _, mod := range mods {
			if err := c.do(ctx, request{
				op:     "add_modification",
				method: http.MethodPost,
				path:   c.merchantPath("orders", created.ID, "line_items", items[i].ID, "modifications"),
				body:   modificationBody{Modifier: reference{ID: mod.CloverModifierID}, Name: mod.Name, Amount: mod.Amount},
			}, nil); err != nil {
				return created, err
			}
		}
	}
	return created, nil
}

func expandLineItems(lines []orders.POSLineItem) ([]lineItemBody, [][]orders.POSModification) {
	var bodies []lineItemBody
	var mapped [][]orders.POSModification
	for _, line := range lines {
		body := lineItemBody{Name: line.Name, Price: line.Price}
		if line.CloverItemID != "" {
			body.Item = &reference{ID: line.CloverItemID}
		}
		var notes []string
		var withIDs []orders.POSModification
		for _, mod := range line.Modifications {
			if mod.CloverModifierID != "" {
				withIDs = append(withIDs, mod)
				continue
			}
			body.Price += mod.Amount
			notes = append(notes, mod.Name)
		}
		if line.Note != "" {
			notes = append(notes, line.Note)
		}
		body.Note = strings.Join(notes, "; ")
		qty := line.Quantity
		if qty < 1 {
			qty = 1
		}
		for i := 0; i < qty; i++ {
			bodies = append(bodies, body)
			mapped = append(mapped, withIDs)
		}
	}
	return bodies, mapped
}

// PrintOrder sends the order to the merchant's order printer. It reports false
// without calling Clover when printing is disabled.
func (c *Client) PrintOrder(ctx context.Context, orderID string) (bool, error) {
	if !c.printOrders {
		return false, nil
	}
	err := c.do(ctx, request{
		op:     "print_order",
		method: http.MethodPost,
		path:   c.merchantPath("print_event"),
		body:   printEventBody{OrderRef: reference{ID: orderID}},
	}, nil)
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetOrder fetches an order by Clover id.
func (c *Client) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("clover: get order: id is required")
	}
	var out Order
	err := c.do(ctx, request{
		op:     "get_order",
		method: http.MethodGet,
		path:   c.merchantPath("orders", orderID),
	}, &out)
	return out, err
}

// GetOrderStatus reports the state and payment state of a Clover order.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	order, err := c.GetOrder(ctx, orderID)
	if err != nil {
		return OrderStatus{}, err
	}
	return OrderStatus{
		OrderID:      order.ID,
		State:        order.State,
		PaymentState: order.PaymentState,
		Total:        order.Total,
	}, nil
}

// UpdateOrderState sets the order state, for example "locked" once paid.
func (c *Client) UpdateOrderState(ctx context.Context, orderID, state string) (Order, error) {
	var out Order
	err := c.do(ctx, request{
		op:     "update_order",
		method: http.MethodPost,
		path:   c.merchantPath("orders", orderID),
		body:   map[string]string{"state": state},
	}, &out)
	return out, err
}

// DeleteOrder removes an order that never got paid.
func (c *Client) DeleteOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, request{
		op:     "delete_order",
		method: http.MethodDelete,
		path:   c.merchantPath("orders", orderID),
	}, nil)
}
