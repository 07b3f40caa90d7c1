package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rise-n-smoke/ordering/internal/customization"
	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/platform/httpx"
	"github.com/rise-n-smoke/ordering/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes the session cart.
type CartHandlers struct {
	carts services.CartService
}

// NewCartHandlers constructs cart handlers over the cart service.
func NewCartHandlers(carts services.CartService) *CartHandlers {
	return &CartHandlers{carts: carts}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{itemId}", h.updateItem)
	r.Delete("/items/{itemId}", h.removeItem)
	r.Put("/order-type", h.setOrderType)
	r.Put("/shipping-address", h.setShippingAddress)
	r.Put("/pickup-time", h.setPickupTime)
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type addItemResponse struct {
	Cart cartPayload     `json:"cart"`
	Item lineItemPayload `json:"item"`
}

type cartPayload struct {
	Items           []lineItemPayload `json:"items"`
	OrderType       domain.OrderType  `json:"orderType"`
	PickupTime      *time.Time        `json:"pickupTime,omitempty"`
	ShippingAddress *addressPayload   `json:"shippingAddress,omitempty"`
	Subtotal        int64             `json:"subtotal"`
	Tax             int64             `json:"tax"`
	ShippingCost    int64             `json:"shippingCost"`
	Total           int64             `json:"total"`
	ItemCount       int               `json:"itemCount"`
}

type lineItemPayload struct {
	ID                  string            `json:"id"`
	MenuItemID          string            `json:"menuItemId"`
	Name                string            `json:"name"`
	BasePrice           int64             `json:"basePrice"`
	Quantity            int               `json:"quantity"`
	Modifiers           []modifierPayload `json:"modifiers"`
	SpecialInstructions string            `json:"specialInstructions,omitempty"`
	TotalPrice          int64             `json:"totalPrice"`
	Image               string            `json:"image,omitempty"`
}

type modifierPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Category string `json:"category"`
}

type addressPayload struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	Street2    string `json:"street2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Phone      string `json:"phone,omitempty"`
}

type selectionRequest struct {
	Meats           []string            `json:"meats"`
	Sides           []sideChoiceRequest `json:"sides"`
	Condiments      []string            `json:"condiments"`
	AddOns          []string            `json:"addOns"`
	RemovedIncluded []string            `json:"removedIncluded"`
	Weight          string              `json:"weight"`
	Size            string              `json:"size"`
}

type sideChoiceRequest struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

type addItemRequest struct {
	MenuItemID          string           `json:"menuItemId"`
	Quantity            *int             `json:"quantity"`
	Selection           selectionRequest `json:"selection"`
	SpecialInstructions string           `json:"specialInstructions"`
}

type updateItemRequest struct {
	Quantity  *int              `json:"quantity"`
	Selection *selectionRequest `json:"selection"`
}

type orderTypeRequest struct {
	OrderType string `json:"orderType"`
}

type pickupTimeRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	state, err := h.carts.GetCart(ctx, ensureCartSession(w, r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeCart(w, http.StatusOK, state)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	if err := h.carts.ClearCart(ctx, ensureCartSession(w, r)); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	var req addItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	state, item, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		SessionID:           ensureCartSession(w, r),
		MenuItemID:          strings.TrimSpace(req.MenuItemID),
		Quantity:            quantity,
		Selection:           req.Selection.toSelection(),
		SpecialInstructions: req.SpecialInstructions,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusCreated, addItemResponse{Cart: buildCartPayload(state), Item: buildLineItemPayload(item)})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	var req updateItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	if req.Quantity == nil && req.Selection == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity or selection is required", http.StatusBadRequest))
		return
	}
	session := ensureCartSession(w, r)
	itemID := strings.TrimSpace(chi.URLParam(r, "itemId"))

	var (
		state domain.CartState
		err   error
	)
	if req.Selection != nil {
		state, err = h.carts.UpdateSelection(ctx, session, itemID, req.Selection.toSelection())
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
	}
	if req.Quantity != nil {
		state, err = h.carts.UpdateQuantity(ctx, session, itemID, *req.Quantity)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
	}
	h.writeCart(w, http.StatusOK, state)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	state, err := h.carts.RemoveItem(ctx, ensureCartSession(w, r), strings.TrimSpace(chi.URLParam(r, "itemId")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeCart(w, http.StatusOK, state)
}

func (h *CartHandlers) setOrderType(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	var req orderTypeRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	orderType := domain.OrderType(strings.ToLower(strings.TrimSpace(req.OrderType)))
	state, err := h.carts.SetOrderType(ctx, ensureCartSession(w, r), orderType)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeCart(w, http.StatusOK, state)
}

func (h *CartHandlers) setShippingAddress(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	var req addressPayload
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	state, err := h.carts.SetShippingAddress(ctx, ensureCartSession(w, r), req.toDomain())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeCart(w, http.StatusOK, state)
}

func (h *CartHandlers) setPickupTime(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	var req pickupTimeRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	state, err := h.carts.SetPickupTime(ctx, ensureCartSession(w, r), req.Date, req.Time)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeCart(w, http.StatusOK, state)
}

func (h *CartHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.carts == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *CartHandlers) writeCart(w http.ResponseWriter, status int, state domain.CartState) {
	setNoStore(w)
	writeJSONResponse(w, status, cartResponse{Cart: buildCartPayload(state)})
}

func (s selectionRequest) toSelection() customization.Selection {
	sel := customization.Selection{
		Meats:           s.Meats,
		Condiments:      s.Condiments,
		AddOns:          s.AddOns,
		RemovedIncluded: s.RemovedIncluded,
		Weight:          strings.TrimSpace(s.Weight),
		Size:            strings.TrimSpace(s.Size),
	}
	for _, side := range s.Sides {
		sel.Sides = append(sel.Sides, customization.SideChoice{ID: side.ID, Quantity: side.Quantity})
	}
	return sel
}

func (a addressPayload) toDomain() *domain.ShippingAddress {
	return &domain.ShippingAddress{
		Name:       a.Name,
		Street:     a.Street,
		Street2:    a.Street2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Phone:      a.Phone,
	}
}

func buildAddressPayload(addr *domain.ShippingAddress) *addressPayload {
	if addr == nil {
		return nil
	}
	return &addressPayload{
		Name:       addr.Name,
		Street:     addr.Street,
		Street2:    addr.Street2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Phone:      addr.Phone,
	}
}

func buildCartPayload(state domain.CartState) cartPayload {
	payload := cartPayload{
		Items:           make([]lineItemPayload, 0, len(state.Items)),
		OrderType:       state.OrderType,
		PickupTime:      state.PickupTime,
		ShippingAddress: buildAddressPayload(state.ShippingAddress),
		Subtotal:        state.Subtotal,
		Tax:             state.Tax,
		ShippingCost:    state.ShippingCost,
		Total:           state.Total,
	}
	if payload.OrderType == "" {
		payload.OrderType = domain.OrderTypePickup
	}
	for _, item := range state.Items {
		payload.Items = append(payload.Items, buildLineItemPayload(item))
		payload.ItemCount += item.Quantity
	}
	return payload
}

func buildLineItemPayload(item domain.LineItem) lineItemPayload {
	return lineItemPayload{
		ID:                  item.ID,
		MenuItemID:          item.MenuItemID,
		Name:                item.Name,
		BasePrice:           item.BasePrice,
		Quantity:            item.Quantity,
		Modifiers:           buildModifierPayloads(item.Modifiers),
		SpecialInstructions: item.SpecialInstructions,
		TotalPrice:          item.TotalPrice,
		Image:               item.Image,
	}
}

func buildModifierPayloads(mods []domain.Modifier) []modifierPayload {
	out := make([]modifierPayload, 0, len(mods))
	for _, mod := range mods {
		out = append(out, modifierPayload{ID: mod.ID, Name: mod.Name, Price: mod.Price, Category: mod.Category})
	}
	return out
}
