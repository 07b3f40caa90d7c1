// Package customization walks a menu item through its modifier selection steps
// and assembles the resulting modifier list.
package customization

import (
	"errors"
	"fmt"

	"github.com/rise-n-smoke/ordering/internal/domain"
)

// Step identifies a selection state.
type Step string

const (
	StepMeat       Step = "meat"
	StepSide       Step = "side"
	StepCondiment  Step = "condiment"
	StepMeatWeight Step = "meat_weight"
	StepTopping    Step = "topping"
	StepSize       Step = "size"
	StepComplete   Step = "complete"
)

var (
	ErrUnsupportedItem = errors.New("customization: item cannot be customized")
	ErrWrongStep       = errors.New("customization: action not valid in current step")
	ErrUnknownOption   = errors.New("customization: unknown option")
	ErrUnavailable     = errors.New("customization: option unavailable")
	ErrLocked          = errors.New("customization: selection is locked")
	ErrSelectionLimit  = errors.New("customization: selection limit reached")
	ErrIncomplete      = errors.New("customization: step is incomplete")
	ErrNotSkippable    = errors.New("customization: step cannot be skipped")
)

// Flow is the selection state machine for a single line item.
type Flow struct {
	item  domain.MenuItem
	steps []Step
	pos   int

	meats      []string
	sideOrder  []string
	sides      map[string]int
	condiments []string
	toppings   map[string]bool
	weight     string
	size       string
}

// NewFlow prepares the flow for item. Auto-included toppings and locked meats
// are preselected; weight and size default to the tier matching the base price.
func NewFlow(item domain.MenuItem) (*Flow, error) {
	c := item.Customization
	f := &Flow{
		item:     item,
		sides:    make(map[string]int),
		toppings: make(map[string]bool),
	}

	switch c.Kind {
	case domain.CustomizationNone:
	case domain.CustomizationPlate:
		if c.MeatCount > 0 {
			f.steps = append(f.steps, StepMeat)
		}
		if c.SideCount > 0 {
			f.steps = append(f.steps, StepSide)
		}
		f.appendOptional(StepCondiment, c.Condiments)
	case domain.CustomizationPerPound:
		if len(c.WeightTiers) == 0 {
			return nil, fmt.Errorf("%w: %s has no weight tiers", ErrUnsupportedItem, item.ID)
		}
		f.steps = append(f.steps, StepMeatWeight)
		f.appendOptional(StepCondiment, c.Condiments)
		f.weight = baseTier(c.WeightTiers, item.BasePrice)
	case domain.CustomizationFavorite:
		f.appendOptional(StepMeat, c.Meats)
		f.appendOptional(StepTopping, c.Toppings)
		f.appendOptional(StepCondiment, c.Condiments)
	case domain.CustomizationSide:
		if len(c.Sizes) == 0 {
			return nil, fmt.Errorf("%w: %s has no sizes", ErrUnsupportedItem, item.ID)
		}
		f.steps = append(f.steps, StepSize)
		f.size = baseTier(c.Sizes, item.BasePrice)
	case domain.CustomizationSandwich:
		f.appendOptional(StepCondiment, c.Condiments)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrUnsupportedItem, c.Kind)
	}

	if c.LockedMeat != "" {
		if _, ok := findOption(c.Meats, c.LockedMeat); !ok {
			return nil, fmt.Errorf("%w: locked meat %q", ErrUnknownOption, c.LockedMeat)
		}
		f.meats = append(f.meats, c.LockedMeat)
	}
	for _, id := range c.IncludedToppings {
		if _, ok := findOption(c.Toppings, id); ok {
			f.toppings[id] = true
		}
	}
	return f, nil
}

func (f *Flow) appendOptional(step Step, options []domain.MenuOption) {
	if len(options) > 0 {
		f.steps = append(f.steps, step)
	}
}

// Item returns the menu item being customized.
func (f *Flow) Item() domain.MenuItem { return f.item }

// Steps returns the ordered steps of this flow.
func (f *Flow) Steps() []Step { return append([]Step(nil), f.steps...) }

// Step returns the current step, or StepComplete once all steps are done.
func (f *Flow) Step() Step {
	if f.pos >= len(f.steps) {
		return StepComplete
	}
	return f.steps[f.pos]
}

// CanProceed reports whether the current step's completion predicate holds.
func (f *Flow) CanProceed() bool {
	c := f.item.Customization
	switch f.Step() {
	case StepMeat:
		if f.meatOptional() {
			return len(f.meats) <= f.meatLimit()
		}
		return len(f.meats) == c.MeatCount
	case StepSide:
		return f.sideUnits() == c.SideCount
	case StepMeatWeight:
		return f.weight != ""
	case StepSize:
		return f.size != ""
	case StepCondiment, StepTopping:
		return true
	default:
		return false
	}
}

// Next advances past the current step when its predicate holds.
func (f *Flow) Next() error {
	if f.Step() == StepComplete {
		return ErrWrongStep
	}
	if !f.CanProceed() {
		return fmt.Errorf("%w: %s", ErrIncomplete, f.Step())
	}
	f.pos++
	return nil
}

// Skip clears the user's choices in an optional step and advances.
func (f *Flow) Skip() error {
	switch f.Step() {
	case StepCondiment:
		f.condiments = nil
	case StepTopping:
		for id := range f.toppings {
			if !f.isIncluded(id) {
				delete(f.toppings, id)
			}
		}
	case StepMeat:
		if !f.meatOptional() {
			return fmt.Errorf("%w: %s", ErrNotSkippable, StepMeat)
		}
		f.meats = f.lockedOnly()
	default:
		return fmt.Errorf("%w: %s", ErrNotSkippable, f.Step())
	}
	f.pos++
	return nil
}

// Back returns to the previous step, keeping selections.
func (f *Flow) Back() error {
	if f.pos == 0 {
		return ErrWrongStep
	}
	f.pos--
	return nil
}

// ToggleMeat selects or deselects a meat. Locked meats cannot be deselected.
func (f *Flow) ToggleMeat(id string) error {
	if err := f.expect(StepMeat); err != nil {
		return err
	}
	if _, err := f.lookup(f.item.Customization.Meats, id); err != nil {
		return err
	}
	for i, selected := range f.meats {
		if selected == id {
			if id == f.item.Customization.LockedMeat {
				return fmt.Errorf("%w: %s", ErrLocked, id)
			}
			f.meats = append(f.meats[:i:i], f.meats[i+1:]...)
			return nil
		}
	}
	if len(f.meats) >= f.meatLimit() {
		return fmt.Errorf("%w: at most %d meats", ErrSelectionLimit, f.meatLimit())
	}
	f.meats = append(f.meats, id)
	return nil
}

// AddSide adds one unit of a side. A side may be picked more than once.
func (f *Flow) AddSide(id string) error {
	if err := f.expect(StepSide); err != nil {
		return err
	}
	if _, err := f.lookup(f.item.Customization.Sides, id); err != nil {
		return err
	}
	if f.sideUnits() >= f.item.Customization.SideCount {
		return fmt.Errorf("%w: at most %d sides", ErrSelectionLimit, f.item.Customization.SideCount)
	}
	if f.sides[id] == 0 {
		f.sideOrder = append(f.sideOrder, id)
	}
	f.sides[id]++
	return nil
}

// RemoveSide removes one unit of a side.
func (f *Flow) RemoveSide(id string) error {
	if err := f.expect(StepSide); err != nil {
		return err
	}
	if f.sides[id] == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownOption, id)
	}
	f.sides[id]--
	if f.sides[id] == 0 {
		delete(f.sides, id)
		for i, existing := range f.sideOrder {
			if existing == id {
				f.sideOrder = append(f.sideOrder[:i:i], f.sideOrder[i+1:]...)
				break
			}
		}
	}
	return nil
}

// ToggleCondiment selects or deselects a condiment.
func (f *Flow) ToggleCondiment(id string) error {
	if err := f.expect(StepCondiment); err != nil {
		return err
	}
	if _, err := f.lookup(f.item.Customization.Condiments, id); err != nil {
		return err
	}
	for i, selected := range f.condiments {
		if selected == id {
			f.condiments = append(f.condiments[:i:i], f.condiments[i+1:]...)
			return nil
		}
	}
	f.condiments = append(f.condiments, id)
	return nil
}

// ToggleTopping selects or deselects a topping from either bucket.
func (f *Flow) ToggleTopping(id string) error {
	if err := f.expect(StepTopping); err != nil {
		return err
	}
	if _, err := f.lookup(f.item.Customization.Toppings, id); err != nil {
		return err
	}
	if f.toppings[id] {
		delete(f.toppings, id)
		return nil
	}
	f.toppings[id] = true
	return nil
}

// SelectWeight picks a weight tier.
func (f *Flow) SelectWeight(tierID string) error {
	if err := f.expect(StepMeatWeight); err != nil {
		return err
	}
	if _, ok := findTier(f.item.Customization.WeightTiers, tierID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOption, tierID)
	}
	f.weight = tierID
	return nil
}

// SelectSize picks a size tier.
func (f *Flow) SelectSize(tierID string) error {
	if err := f.expect(StepSize); err != nil {
		return err
	}
	if _, ok := findTier(f.item.Customization.Sizes, tierID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOption, tierID)
	}
	f.size = tierID
	return nil
}

// SelectedMeats returns the meats currently selected, locked ones included.
func (f *Flow) SelectedMeats() []string { return append([]string(nil), f.meats...) }

// SideUnits returns the number of side units selected.
func (f *Flow) SideUnits() int { return f.sideUnits() }

// IncludedToppings returns the free, auto-included topping options.
func (f *Flow) IncludedToppings() []domain.MenuOption {
	var out []domain.MenuOption
	for _, opt := range f.item.Customization.Toppings {
		if f.isIncluded(opt.ID) {
			out = append(out, opt)
		}
	}
	return out
}

// AddOnToppings returns the priced topping options, excluding auto-included ones.
func (f *Flow) AddOnToppings() []domain.MenuOption {
	var out []domain.MenuOption
	for _, opt := range f.item.Customization.Toppings {
		if !f.isIncluded(opt.ID) {
			out = append(out, opt)
		}
	}
	return out
}

func (f *Flow) expect(step Step) error {
	if f.Step() != step {
		return fmt.Errorf("%w: expected %s, at %s", ErrWrongStep, step, f.Step())
	}
	return nil
}

func (f *Flow) lookup(options []domain.MenuOption, id string) (domain.MenuOption, error) {
	opt, ok := findOption(options, id)
	if !ok {
		return domain.MenuOption{}, fmt.Errorf("%w: %s", ErrUnknownOption, id)
	}
	if opt.Unavailable {
		return domain.MenuOption{}, fmt.Errorf("%w: %s", ErrUnavailable, id)
	}
	return opt, nil
}

func (f *Flow) meatOptional() bool {
	return f.item.Customization.Kind == domain.CustomizationFavorite
}

func (f *Flow) meatLimit() int {
	if n := f.item.Customization.MeatCount; n > 0 {
		return n
	}
	return 1
}

func (f *Flow) sideUnits() int {
	total := 0
	for _, n := range f.sides {
		total += n
	}
	return total
}

func (f *Flow) isIncluded(id string) bool {
	for _, included := range f.item.Customization.IncludedToppings {
		if included == id {
			return true
		}
	}
	return false
}

func (f *Flow) lockedOnly() []string {
	if locked := f.item.Customization.LockedMeat; locked != "" {
		return []string{locked}
	}
	return nil
}

func findOption(options []domain.MenuOption, id string) (domain.MenuOption, bool) {
	for _, opt := range options {
		if opt.ID == id {
			return opt, true
		}
	}
	return domain.MenuOption{}, false
}

func findTier(tiers []domain.PriceTier, id string) (domain.PriceTier, bool) {
	for _, tier := range tiers {
		if tier.ID == id {
			return tier, true
		}
	}
	return domain.PriceTier{}, false
}

func baseTier(tiers []domain.PriceTier, basePrice int64) string {
	for _, tier := range tiers {
		if tier.Price == basePrice {
			return tier.ID
		}
	}
	return ""
}
