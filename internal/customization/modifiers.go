package customization

import (
	"fmt"

	"github.com/rise-n-smoke/ordering/internal/domain"
)

// Complete returns the assembled modifiers once every step is done. Locked
// selections are never emitted. Plate selections are free because the plate
// price covers them; weight and size tiers record the delta from the base price.
func (f *Flow) Complete() ([]domain.Modifier, error) {
	if f.Step() != StepComplete {
		return nil, fmt.Errorf("%w: at %s", ErrIncomplete, f.Step())
	}
	c := f.item.Customization
	plate := c.Kind == domain.CustomizationPlate
	price := func(p int64) int64 {
		if plate {
			return 0
		}
		return p
	}

	var mods []domain.Modifier
	for _, id := range f.meats {
		if id == c.LockedMeat {
			continue
		}
		opt, _ := findOption(c.Meats, id)
		mods = append(mods, domain.Modifier{ID: opt.ID, Name: opt.Name, Price: price(opt.Price), Category: domain.ModifierCategoryMeat})
	}
	for _, id := range f.sideOrder {
		opt, _ := findOption(c.Sides, id)
		for i := 0; i < f.sides[id]; i++ {
			mods = append(mods, domain.Modifier{ID: opt.ID, Name: opt.Name, Price: price(opt.Price), Category: domain.ModifierCategorySide})
		}
	}
	if f.weight != "" && f.hasStep(StepMeatWeight) {
		tier, _ := findTier(c.WeightTiers, f.weight)
		mods = append(mods, domain.Modifier{ID: tier.ID, Name: tier.Label, Price: WeightDelta(tier, f.item.BasePrice), Category: domain.ModifierCategoryWeight})
	}
	for _, opt := range c.Toppings {
		if !f.toppings[opt.ID] {
			continue
		}
		if f.isIncluded(opt.ID) {
			mods = append(mods, domain.Modifier{ID: opt.ID, Name: opt.Name, Price: 0, Category: domain.ModifierCategoryTopping})
			continue
		}
		mods = append(mods, domain.Modifier{ID: opt.ID, Name: opt.Name, Price: opt.Price, Category: domain.ModifierCategoryAddOn})
	}
	for _, id := range f.condiments {
		opt, _ := findOption(c.Condiments, id)
		mods = append(mods, domain.Modifier{ID: opt.ID, Name: opt.Name, Price: price(opt.Price), Category: domain.ModifierCategoryCondiment})
	}
	if f.size != "" && f.hasStep(StepSize) {
		tier, _ := findTier(c.Sizes, f.size)
		mods = append(mods, domain.Modifier{ID: tier.ID, Name: tier.Label, Price: WeightDelta(tier, f.item.BasePrice), Category: domain.ModifierCategorySize})
	}
	return mods, nil
}

// WeightDelta is the tier price minus the base price. Negative deltas are kept.
func WeightDelta(tier domain.PriceTier, basePrice int64) int64 {
	return tier.Price - basePrice
}

func (f *Flow) hasStep(step Step) bool {
	for _, s := range f.steps {
		if s == step {
			return true
		}
	}
	return false
}

// Selection is a declarative set of choices replayed through a Flow.
type Selection struct {
	Meats           []string
	Sides           []SideChoice
	Condiments      []string
	AddOns          []string
	RemovedIncluded []string
	Weight          string
	Size            string
}

// SideChoice selects Quantity units of a side.
type SideChoice struct {
	ID       string
	Quantity int
}

// Apply drives a new flow for item through sel and returns the modifiers.
// Steps with no choices in sel are skipped when optional.
func Apply(item domain.MenuItem, sel Selection) ([]domain.Modifier, error) {
	f, err := NewFlow(item)
	if err != nil {
		return nil, err
	}
	for f.Step() != StepComplete {
		step := f.Step()
		chosen := false
		switch step {
		case StepMeat:
			for _, id := range sel.Meats {
				if id == item.Customization.LockedMeat {
					continue
				}
				if err := f.ToggleMeat(id); err != nil {
					return nil, err
				}
				chosen = true
			}
		case StepSide:
			for _, side := range sel.Sides {
				for i := 0; i < side.Quantity; i++ {
					if err := f.AddSide(side.ID); err != nil {
						return nil, err
					}
				}
			}
			chosen = true
		case StepCondiment:
			for _, id := range sel.Condiments {
				if err := f.ToggleCondiment(id); err != nil {
					return nil, err
				}
				chosen = true
			}
		case StepTopping:
			for _, id := range sel.RemovedIncluded {
				if !f.isIncluded(id) {
					return nil, fmt.Errorf("%w: %s is not included", ErrUnknownOption, id)
				}
				if err := f.ToggleTopping(id); err != nil {
					return nil, err
				}
			}
			for _, id := range sel.AddOns {
				if f.isIncluded(id) {
					return nil, fmt.Errorf("%w: %s is already included", ErrUnknownOption, id)
				}
				if err := f.ToggleTopping(id); err != nil {
					return nil, err
				}
			}
			chosen = true
		case StepMeatWeight:
			if sel.Weight != "" {
				if err := f.SelectWeight(sel.Weight); err != nil {
					return nil, err
				}
			}
			chosen = true
		case StepSize:
			if sel.Size != "" {
				if err := f.SelectSize(sel.Size); err != nil {
					return nil, err
				}
			}
			chosen = true
		}

		if !chosen {
			if err := f.Skip(); err == nil {
				continue
			}
		}
		if err := f.Next(); err != nil {
			return nil, err
		}
	}
	return f.Complete()
}
