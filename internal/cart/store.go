package cart

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rise-n-smoke/ordering/internal/domain"
)

var (
	// ErrInvalidItem is returned when a line item input is malformed.
	ErrInvalidItem = errors.New("cart: invalid item")
	// ErrItemNotFound is returned when an update targets an unknown line item.
	ErrItemNotFound = errors.New("cart: item not found")
	// ErrInvalidOrderType is returned for order types other than pickup or shipping.
	ErrInvalidOrderType = errors.New("cart: invalid order type")
)

// Listener observes committed cart states.
type Listener func(domain.CartState)

// Store owns one cart. Every action mutates the items and recomputes the
// derived totals under a single lock, so no reader observes stale totals.
type Store struct {
	mu        sync.Mutex
	state     domain.CartState
	pricing   Pricing
	now       func() time.Time
	newID     func(menuItemID string, now time.Time) string
	listeners map[int]Listener
	nextID    int
}

// Option customises a Store.
type Option func(*Store)

// WithPricing sets the tax rate and shipping rater.
func WithPricing(p Pricing) Option {
	return func(s *Store) {
		s.pricing = p
	}
}

// WithClock overrides the clock used for line item identifiers.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides line item identifier generation.
func WithIDGenerator(fn func(menuItemID string, now time.Time) string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// New constructs an empty pickup cart.
func New(opts ...Option) *Store {
	s := &Store{
		state:     domain.CartState{OrderType: domain.OrderTypePickup},
		pricing:   DefaultPricing(),
		now:       time.Now,
		newID:     NewLineItemID,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// NewLineItemID builds menuItemId-<unix millis>-<random suffix>.
func NewLineItemID(menuItemID string, now time.Time) string {
	id := ulid.Make().String()
	return fmt.Sprintf("%s-%d-%s", menuItemID, now.UnixMilli(), strings.ToLower(id[len(id)-6:]))
}

// State returns a copy of the current cart.
func (s *Store) State() domain.CartState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe registers a listener invoked after every committed action. The
// returned function removes it.
func (s *Store) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Dispatch applies the action and recomputes totals atomically. On error the
// state is left unchanged and listeners are not notified.
func (s *Store) Dispatch(action Action) error {
	if action == nil {
		return nil
	}
	s.mu.Lock()
	next := s.state.Clone()
	if err := action.apply(&next, s); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = CalculateTotals(next, s.pricing)
	committed := s.state.Clone()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(committed.Clone())
	}
	return nil
}

// CalculateTotals forces a recomputation of the derived fields.
func (s *Store) CalculateTotals() domain.CartState {
	_ = s.Dispatch(recalculate{})
	return s.State()
}

// AddItem appends a new line item and returns it. Items are never merged.
func (s *Store) AddItem(input domain.LineItemInput) (domain.LineItem, error) {
	id := s.newID(input.MenuItemID, s.now())
	if err := s.Dispatch(AddItem{Input: input, ID: id}); err != nil {
		return domain.LineItem{}, err
	}
	for _, item := range s.State().Items {
		if item.ID == id {
			return item, nil
		}
	}
	return domain.LineItem{}, ErrItemNotFound
}

// RemoveItem removes the item; unknown ids are ignored.
func (s *Store) RemoveItem(id string) error {
	return s.Dispatch(RemoveItem{ID: id})
}

// UpdateQuantity sets the quantity; values <= 0 remove the item.
func (s *Store) UpdateQuantity(id string, quantity int) error {
	return s.Dispatch(UpdateQuantity{ID: id, Quantity: quantity})
}

// UpdateModifiers replaces the item's modifiers wholesale.
func (s *Store) UpdateModifiers(id string, modifiers []domain.Modifier) error {
	return s.Dispatch(UpdateModifiers{ID: id, Modifiers: modifiers})
}

// ClearCart resets the cart to an empty pickup order.
func (s *Store) ClearCart() error {
	return s.Dispatch(ClearCart{})
}

// SetOrderType switches between pickup and shipping.
func (s *Store) SetOrderType(t domain.OrderType) error {
	return s.Dispatch(SetOrderType{Type: t})
}

// SetShippingAddress sets or clears (nil) the shipping address.
func (s *Store) SetShippingAddress(addr *domain.ShippingAddress) error {
	return s.Dispatch(SetShippingAddress{Address: addr})
}

// SetPickupTime sets or clears (nil) the pickup time.
func (s *Store) SetPickupTime(t *time.Time) error {
	return s.Dispatch(SetPickupTime{Time: t})
}
