package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rise-n-smoke/ordering/internal/cart"
	"github.com/rise-n-smoke/ordering/internal/catalog"
	"github.com/rise-n-smoke/ordering/internal/customization"
	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/orders"
	"github.com/rise-n-smoke/ordering/internal/platform/textutil"
	"github.com/rise-n-smoke/ordering/internal/repositories"
)

const maxCartQuantity = 50

// CartServiceDeps wires the cart service.
type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Catalog  MenuCatalog
	Pricing  cart.Pricing
	Location *time.Location
	Clock    func() time.Time
	Logger   Logger
}

type cartService struct {
	carts   repositories.CartRepository
	catalog MenuCatalog
	pricing cart.Pricing
	loc     *time.Location
	now     func() time.Time
	logger  Logger

	locks sessionLocks
}

// NewCartService constructs a CartService.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("cart service: catalog is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &cartService{
		carts:   deps.Carts,
		catalog: deps.Catalog,
		pricing: deps.Pricing,
		loc:     loc,
		now:     clock,
		logger:  logger,
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, sessionID string) (domain.CartState, error) {
	if err := validSession(sessionID); err != nil {
		return domain.CartState{}, err
	}
	store, err := s.load(ctx, sessionID)
	if err != nil {
		return domain.CartState{}, err
	}
	return store.State(), nil
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (domain.CartState, domain.LineItem, error) {
	if cmd.Quantity == 0 {
		cmd.Quantity = 1
	}
	if cmd.Quantity < 0 || cmd.Quantity > maxCartQuantity {
		return domain.CartState{}, domain.LineItem{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxCartQuantity)
	}
	item, err := s.menuItem(cmd.MenuItemID)
	if err != nil {
		return domain.CartState{}, domain.LineItem{}, err
	}
	mods, err := s.modifiers(item, cmd.Selection)
	if err != nil {
		return domain.CartState{}, domain.LineItem{}, err
	}

	var added domain.LineItem
	state, err := s.mutate(ctx, cmd.SessionID, func(store *cart.Store) error {
		if store.State().OrderType == domain.OrderTypeShipping && !item.Shippable {
			return fmt.Errorf("%w: %s cannot be shipped", ErrCartInvalidInput, item.Name)
		}
		var err error
		added, err = store.AddItem(domain.LineItemInput{
			MenuItemID:          item.ID,
			Name:                item.Name,
			BasePrice:           item.BasePrice,
			Quantity:            cmd.Quantity,
			Modifiers:           mods,
			SpecialInstructions: textutil.CleanText(cmd.SpecialInstructions, maxInstructionsLength),
			Image:               item.Image,
		})
		return err
	})
	if err != nil {
		return domain.CartState{}, domain.LineItem{}, err
	}
	s.logger(ctx, "cart.item_added", map[string]any{"menuItemId": item.ID, "lineItemId": added.ID, "quantity": cmd.Quantity})
	return state, added, nil
}

func (s *cartService) UpdateQuantity(ctx context.Context, sessionID, itemID string, quantity int) (domain.CartState, error) {
	if quantity > maxCartQuantity {
		return domain.CartState{}, fmt.Errorf("%w: quantity must be at most %d", ErrCartInvalidInput, maxCartQuantity)
	}
	return s.mutate(ctx, sessionID, func(store *cart.Store) error {
		return store.UpdateQuantity(itemID, quantity)
	})
}

// UpdateSelection replays a new selection for an existing line item and
// replaces its modifiers wholesale.
func (s *cartService) UpdateSelection(ctx context.Context, sessionID, itemID string, sel customization.Selection) (domain.CartState, error) {
	return s.mutate(ctx, sessionID, func(store *cart.Store) error {
		line, ok := findLine(store.State(), itemID)
		if !ok {
			return cart.ErrItemNotFound
		}
		item, err := s.menuItem(line.MenuItemID)
		if err != nil {
			return err
		}
		mods, err := s.modifiers(item, sel)
		if err != nil {
			return err
		}
		return store.UpdateModifiers(itemID, mods)
	})
}

func (s *cartService) RemoveItem(ctx context.Context, sessionID, itemID string) (domain.CartState, error) {
	return s.mutate(ctx, sessionID, func(store *cart.Store) error {
		return store.RemoveItem(itemID)
	})
}

func (s *cartService) SetOrderType(ctx context.Context, sessionID string, orderType domain.OrderType) (domain.CartState, error) {
	return s.mutate(ctx, sessionID, func(store *cart.Store) error {
		if orderType == domain.OrderTypeShipping {
			for _, line := range store.State().Items {
				item, err := s.catalog.Item(line.MenuItemID)
				if err == nil && !item.Shippable {
					return fmt.Errorf("%w: %s cannot be shipped", ErrCartInvalidInput, line.Name)
				}
			}
		}
		return store.SetOrderType(orderType)
	})
}

func (s *cartService) SetShippingAddress(ctx context.Context, sessionID string, addr *domain.ShippingAddress) (domain.CartState, error) {
	if addr != nil {
		cleaned := *addr
		cleaned.State = strings.ToUpper(strings.TrimSpace(cleaned.State))
		cleaned.PostalCode = strings.TrimSpace(cleaned.PostalCode)
		addr = &cleaned
	}
	return s.mutate(ctx, sessionID, func(store *cart.Store) error {
		return store.SetShippingAddress(addr)
	})
}

// SetPickupTime parses an "H:MM AM/PM" time on a YYYY-MM-DD date in the store
// timezone. Pickup must leave room for the prep buffer.
func (s *cartService) SetPickupTime(ctx context.Context, sessionID, date, clock string) (domain.CartState, error) {
	pickup, err := orders.ParsePickup(date, clock, s.loc)
	if err != nil {
		return domain.CartState{}, fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	}
	if orders.EstimatedReady(pickup).Before(s.now()) {
		return domain.CartState{}, fmt.Errorf("%w: pickup time must be at least %s from now", ErrCartInvalidInput, orders.PrepBuffer)
	}
	return s.mutate(ctx, sessionID, func(store *cart.Store) error {
		return store.SetPickupTime(&pickup)
	})
}

// ClearCart deletes the persisted cart. Clearing a missing cart succeeds.
func (s *cartService) ClearCart(ctx context.Context, sessionID string) error {
	if err := validSession(sessionID); err != nil {
		return err
	}
	unlock := s.locks.lock(sessionID)
	defer unlock()
	if err := s.carts.Delete(ctx, sessionID); err != nil && !isNotFound(err) {
		return fmt.Errorf("cart: delete: %w", err)
	}
	s.logger(ctx, "cart.cleared", map[string]any{"session": sessionID})
	return nil
}

func (s *cartService) mutate(ctx context.Context, sessionID string, fn func(*cart.Store) error) (domain.CartState, error) {
	if err := validSession(sessionID); err != nil {
		return domain.CartState{}, err
	}
	unlock := s.locks.lock(sessionID)
	defer unlock()

	store, err := s.load(ctx, sessionID)
	if err != nil {
		return domain.CartState{}, err
	}
	if err := fn(store); err != nil {
		return domain.CartState{}, mapCartError(err)
	}
	if err := s.carts.Save(ctx, sessionID, store.Snapshot()); err != nil {
		return domain.CartState{}, fmt.Errorf("cart: save: %w", err)
	}
	return store.State(), nil
}

func (s *cartService) load(ctx context.Context, sessionID string) (*cart.Store, error) {
	store := cart.New(cart.WithPricing(s.pricing), cart.WithClock(s.now))
	snap, err := s.carts.Load(ctx, sessionID)
	if err != nil {
		if isNotFound(err) {
			return store, nil
		}
		return nil, fmt.Errorf("cart: load: %w", err)
	}
	if err := store.Restore(snap); err != nil {
		// A corrupt snapshot must not wedge the session; start over.
		s.logger(ctx, "cart.snapshot_discarded", map[string]any{"session": sessionID, "error": err.Error()})
		return cart.New(cart.WithPricing(s.pricing), cart.WithClock(s.now)), nil
	}
	return store, nil
}

// sessionLocks keeps load-mutate-save atomic per session. Entries live only
// while a request holds or waits for them.
type sessionLocks struct {
	mu      sync.Mutex
	entries map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func (l *sessionLocks) lock(sessionID string) (unlock func()) {
	l.mu.Lock()
	if l.entries == nil {
		l.entries = map[string]*sessionLock{}
	}
	entry, ok := l.entries[sessionID]
	if !ok {
		entry = &sessionLock{}
		l.entries[sessionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, sessionID)
		}
		l.mu.Unlock()
	}
}

func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (s *cartService) menuItem(id string) (domain.MenuItem, error) {
	item, err := s.catalog.Item(strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, catalog.ErrItemNotFound) {
			return domain.MenuItem{}, fmt.Errorf("%w: unknown menu item %q", ErrCartInvalidInput, id)
		}
		return domain.MenuItem{}, err
	}
	return item, nil
}

func (s *cartService) modifiers(item domain.MenuItem, sel customization.Selection) ([]domain.Modifier, error) {
	if item.Customization.Kind == domain.CustomizationNone {
		return nil, nil
	}
	mods, err := customization.Apply(item, sel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	}
	return mods, nil
}

func validSession(sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || len(sessionID) > 128 || strings.Contains(sessionID, "/") {
		return fmt.Errorf("%w: invalid cart session", ErrCartInvalidInput)
	}
	return nil
}

func findLine(state domain.CartState, id string) (domain.LineItem, bool) {
	for _, item := range state.Items {
		if item.ID == id {
			return item, true
		}
	}
	return domain.LineItem{}, false
}

func mapCartError(err error) error {
	switch {
	case errors.Is(err, ErrCartInvalidInput), errors.Is(err, ErrCartItemNotFound):
		return err
	case errors.Is(err, cart.ErrItemNotFound):
		return fmt.Errorf("%w: %v", ErrCartItemNotFound, err)
	case errors.Is(err, cart.ErrInvalidItem), errors.Is(err, cart.ErrInvalidOrderType):
		return fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	}
	return err
}
