package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/orders"
	"github.com/rise-n-smoke/ordering/internal/platform/httpx"
	"github.com/rise-n-smoke/ordering/internal/services"
)

const maxOrderBodySize = 64 * 1024

// OrderHandlers exposes local order creation and lookup.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.lookupOrder)
	r.Get("/{orderId}", h.getOrder)
}

type createOrderRequest struct {
	Customer struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customer"`
	OrderType           string                   `json:"orderType"`
	PickupDate          string                   `json:"pickupDate"`
	PickupTime          string                   `json:"pickupTime"`
	ShippingAddress     *addressPayload          `json:"shippingAddress"`
	SpecialInstructions string                   `json:"specialInstructions"`
	Items               []createOrderItemRequest `json:"items"`
	Subtotal            int64                    `json:"subtotal"`
	Tax                 int64                    `json:"tax"`
	ShippingCost        int64                    `json:"shippingCost"`
	Total               int64                    `json:"total"`
}

type createOrderItemRequest struct {
	MenuItemID          string            `json:"menuItemId"`
	Name                string            `json:"name"`
	BasePrice           int64             `json:"basePrice"`
	Quantity            int               `json:"quantity"`
	Modifiers           []modifierPayload `json:"modifiers"`
	SpecialInstructions string            `json:"specialInstructions"`
	TotalPrice          int64             `json:"totalPrice"`
}

type createOrderResponse struct {
	OrderID        string             `json:"orderId"`
	OrderNumber    string             `json:"orderNumber"`
	Status         domain.OrderStatus `json:"status"`
	Total          int64              `json:"total"`
	EstimatedReady *time.Time         `json:"estimatedReady,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                  string             `json:"id"`
	OrderNumber         string             `json:"orderNumber"`
	Status              domain.OrderStatus `json:"status"`
	OrderType           domain.OrderType   `json:"orderType"`
	CustomerName        string             `json:"customerName"`
	PickupTime          *time.Time         `json:"pickupTime,omitempty"`
	EstimatedReady      *time.Time         `json:"estimatedReady,omitempty"`
	ShippingAddress     *addressPayload    `json:"shippingAddress,omitempty"`
	SpecialInstructions string             `json:"specialInstructions,omitempty"`
	Items               []orderItemPayload `json:"items"`
	Subtotal            int64              `json:"subtotal"`
	Tax                 int64              `json:"tax"`
	ShippingCost        int64              `json:"shippingCost"`
	Total               int64              `json:"total"`
	Submitted           bool               `json:"submittedToPos"`
	Paid                bool               `json:"paid"`
	CreatedAt           time.Time          `json:"createdAt"`
}

type orderItemPayload struct {
	Name       string            `json:"name"`
	Quantity   int               `json:"quantity"`
	Modifiers  []modifierPayload `json:"modifiers"`
	TotalPrice int64             `json:"totalPrice"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	var req createOrderRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, &req) {
		return
	}
	order, err := h.orders.CreateOrder(ctx, req.toCommand())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, createOrderResponse{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         order.Status,
		Total:          order.Total,
		EstimatedReady: order.EstimatedReady,
	})
}

func (h *OrderHandlers) lookupOrder(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	number := strings.TrimSpace(r.URL.Query().Get("orderNumber"))
	if number == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderNumber query parameter is required", http.StatusBadRequest))
		return
	}
	order, err := h.orders.FindByNumber(ctx, number)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	order, err := h.orders.GetOrder(ctx, strings.TrimSpace(chi.URLParam(r, "orderId")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.orders == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (req createOrderRequest) toCommand() orders.CreateRequest {
	cmd := orders.CreateRequest{
		Customer: domain.Customer{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
		OrderType:           domain.OrderType(strings.ToLower(strings.TrimSpace(req.OrderType))),
		PickupDate:          req.PickupDate,
		PickupTime:          req.PickupTime,
		SpecialInstructions: req.SpecialInstructions,
		Subtotal:            req.Subtotal,
		Tax:                 req.Tax,
		ShippingCost:        req.ShippingCost,
		Total:               req.Total,
	}
	if cmd.OrderType == "" {
		cmd.OrderType = domain.OrderTypePickup
	}
	if req.ShippingAddress != nil {
		cmd.ShippingAddress = req.ShippingAddress.toDomain()
	}
	for _, item := range req.Items {
		mods := make([]domain.Modifier, 0, len(item.Modifiers))
		for _, mod := range item.Modifiers {
			mods = append(mods, domain.Modifier{ID: mod.ID, Name: mod.Name, Price: mod.Price, Category: mod.Category})
		}
		cmd.Items = append(cmd.Items, orders.RequestItem{
			MenuItemID:          item.MenuItemID,
			Name:                item.Name,
			BasePrice:           item.BasePrice,
			Quantity:            item.Quantity,
			Modifiers:           mods,
			SpecialInstructions: item.SpecialInstructions,
			TotalPrice:          item.TotalPrice,
		})
	}
	return cmd
}

// buildOrderPayload omits contact details; lookups by order number are unauthenticated.
func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:                  order.ID,
		OrderNumber:         order.OrderNumber,
		Status:              order.Status,
		OrderType:           order.OrderType,
		CustomerName:        order.Customer.Name,
		PickupTime:          order.PickupTime,
		EstimatedReady:      order.EstimatedReady,
		ShippingAddress:     buildAddressPayload(order.ShippingAddress),
		SpecialInstructions: order.SpecialInstructions,
		Items:               make([]orderItemPayload, 0, len(order.Items)),
		Subtotal:            order.Subtotal,
		Tax:                 order.Tax,
		ShippingCost:        order.ShippingCost,
		Total:               order.Total,
		Submitted:           order.CloverOrderID != nil,
		Paid:                order.PaymentIntentID != nil,
		CreatedAt:           order.CreatedAt,
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			Name:       item.Name,
			Quantity:   item.Quantity,
			Modifiers:  buildModifierPayloads(item.Modifiers),
			TotalPrice: item.TotalPrice,
		})
	}
	return payload
}
