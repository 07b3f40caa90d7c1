package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rise-n-smoke/ordering/internal/catalog"
	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/platform/httpx"
	"github.com/rise-n-smoke/ordering/internal/shipping"
)

// MenuReader is the read side of the catalog.
type MenuReader interface {
	Categories() []catalog.Category
	Item(id string) (domain.MenuItem, error)
	DescriptionHTML(id string) string
}

// ShippingRates exposes the shipping zone table.
type ShippingRates interface {
	Zones() []shipping.Zone
	Lookup(state string) (shipping.Zone, bool)
}

// MenuHandlers serves the public menu and shipping rate endpoints.
type MenuHandlers struct {
	menu  MenuReader
	rates ShippingRates
}

// NewMenuHandlers constructs the menu handlers.
func NewMenuHandlers(menu MenuReader, rates ShippingRates) *MenuHandlers {
	return &MenuHandlers{menu: menu, rates: rates}
}

// Routes wires the /menu endpoints.
func (h *MenuHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listMenu)
	r.Get("/{itemId}", h.getItem)
}

// ShippingRoutes wires the /shipping endpoints.
func (h *MenuHandlers) ShippingRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/zones", h.listZones)
	r.Get("/rates/{state}", h.getRate)
}

type menuResponse struct {
	Categories []menuCategoryPayload `json:"categories"`
}

type menuCategoryPayload struct {
	ID    string            `json:"id"`
	Name  string            `json:"name"`
	Items []menuItemPayload `json:"items"`
}

type menuItemPayload struct {
	ID              string                `json:"id"`
	Category        string                `json:"category"`
	Name            string                `json:"name"`
	Description     string                `json:"description,omitempty"`
	DescriptionHTML string                `json:"descriptionHtml,omitempty"`
	Price           int64                 `json:"price"`
	Image           string                `json:"image,omitempty"`
	Shippable       bool                  `json:"shippable"`
	Customization   *customizationPayload `json:"customization,omitempty"`
}

type customizationPayload struct {
	Kind             domain.CustomizationKind `json:"kind"`
	MeatCount        int                      `json:"meatCount,omitempty"`
	SideCount        int                      `json:"sideCount,omitempty"`
	Meats            []optionPayload          `json:"meats,omitempty"`
	Sides            []optionPayload          `json:"sides,omitempty"`
	Condiments       []optionPayload          `json:"condiments,omitempty"`
	Toppings         []optionPayload          `json:"toppings,omitempty"`
	IncludedToppings []string                 `json:"includedToppings,omitempty"`
	LockedMeat       string                   `json:"lockedMeat,omitempty"`
	WeightTiers      []tierPayload            `json:"weightTiers,omitempty"`
	Sizes            []tierPayload            `json:"sizes,omitempty"`
}

type optionPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

type tierPayload struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Price int64  `json:"price"`
}

type zonesResponse struct {
	Zones []shipping.Zone `json:"zones"`
}

func (h *MenuHandlers) listMenu(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.menu == nil {
		httpx.WriteError(ctx, w, httpx.NewError("menu_unavailable", "menu is unavailable", http.StatusServiceUnavailable))
		return
	}
	categories := h.menu.Categories()
	resp := menuResponse{Categories: make([]menuCategoryPayload, 0, len(categories))}
	for _, category := range categories {
		payload := menuCategoryPayload{ID: category.ID, Name: category.Name, Items: make([]menuItemPayload, 0, len(category.ItemIDs))}
		for _, id := range category.ItemIDs {
			item, err := h.menu.Item(id)
			if err != nil {
				continue
			}
			payload.Items = append(payload.Items, h.itemPayload(item, false))
		}
		resp.Categories = append(resp.Categories, payload)
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *MenuHandlers) getItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.menu == nil {
		httpx.WriteError(ctx, w, httpx.NewError("menu_unavailable", "menu is unavailable", http.StatusServiceUnavailable))
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "itemId"))
	item, err := h.menu.Item(id)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("menu_item_not_found", "menu item not found", http.StatusNotFound))
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSONResponse(w, http.StatusOK, h.itemPayload(item, true))
}

func (h *MenuHandlers) listZones(w http.ResponseWriter, r *http.Request) {
	if h.rates == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("shipping_unavailable", "shipping rates are unavailable", http.StatusServiceUnavailable))
		return
	}
	writeJSONResponse(w, http.StatusOK, zonesResponse{Zones: h.rates.Zones()})
}

func (h *MenuHandlers) getRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.rates == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipping_unavailable", "shipping rates are unavailable", http.StatusServiceUnavailable))
		return
	}
	zone, ok := h.rates.Lookup(chi.URLParam(r, "state"))
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("shipping_unavailable", "we do not ship to that state", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, zone)
}

func (h *MenuHandlers) itemPayload(item domain.MenuItem, detailed bool) menuItemPayload {
	payload := menuItemPayload{
		ID:          item.ID,
		Category:    item.Category,
		Name:        item.Name,
		Description: item.Description,
		Price:       item.BasePrice,
		Image:       item.Image,
		Shippable:   item.Shippable,
	}
	if !detailed {
		return payload
	}
	payload.DescriptionHTML = h.menu.DescriptionHTML(item.ID)
	c := item.Customization
	if c.Kind == domain.CustomizationNone {
		return payload
	}
	payload.Customization = &customizationPayload{
		Kind:             c.Kind,
		MeatCount:        c.MeatCount,
		SideCount:        c.SideCount,
		Meats:            optionPayloads(c.Meats),
		Sides:            optionPayloads(c.Sides),
		Condiments:       optionPayloads(c.Condiments),
		Toppings:         optionPayloads(c.Toppings),
		IncludedToppings: append([]string(nil), c.IncludedToppings...),
		LockedMeat:       c.LockedMeat,
		WeightTiers:      tierPayloads(c.WeightTiers),
		Sizes:            tierPayloads(c.Sizes),
	}
	return payload
}

func optionPayloads(options []domain.MenuOption) []optionPayload {
	if len(options) == 0 {
		return nil
	}
	out := make([]optionPayload, len(options))
	for i, opt := range options {
		out[i] = optionPayload{ID: opt.ID, Name: opt.Name, Price: opt.Price, Unavailable: opt.Unavailable}
	}
	return out
}

func tierPayloads(tiers []domain.PriceTier) []tierPayload {
	if len(tiers) == 0 {
		return nil
	}
	out := make([]tierPayload, len(tiers))
	for i, tier := range tiers {
		out[i] = tierPayload{ID: tier.ID, Label: tier.Label, Price: tier.Price}
	}
	return out
}
