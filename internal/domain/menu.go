package domain

// CustomizationKind selects which customization flow an item runs through.
type CustomizationKind string

const (
	CustomizationNone     CustomizationKind = ""
	CustomizationPlate    CustomizationKind = "plate"
	CustomizationPerPound CustomizationKind = "per_pound"
	CustomizationFavorite CustomizationKind = "favorite"
	CustomizationSide     CustomizationKind = "side"
	CustomizationSandwich CustomizationKind = "sandwich"
)

// MenuOption is a selectable choice within a customization step.
type MenuOption struct {
	ID          string
	Name        string
	Price       int64
	CloverModID string
	Unavailable bool
}

// PriceTier is a weight or size tier. Price is absolute; the modifier records the delta from the item's base price.
type PriceTier struct {
	ID          string
	Label       string
	Price       int64
	CloverModID string
}

// Customization configures the flow for a menu item.
type Customization struct {
	Kind             CustomizationKind
	MeatCount        int
	SideCount        int
	Meats            []MenuOption
	Sides            []MenuOption
	Condiments       []MenuOption
	Toppings         []MenuOption
	IncludedToppings []string
	LockedMeat       string
	WeightTiers      []PriceTier
	Sizes            []PriceTier
}

// MenuItem is a catalog entry.
type MenuItem struct {
	ID            string
	Category      string
	Name          string
	Description   string
	BasePrice     int64
	Image         string
	Shippable     bool
	CloverItemID  string
	Customization Customization
}

// CatalogMapping resolves local identifiers to POS catalog identifiers.
type CatalogMapping interface {
	CloverItemID(menuItemID string) (string, bool)
	CloverModifierID(modifierID string) (string, bool)
}
