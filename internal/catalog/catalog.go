// Package catalog loads the menu and its customization rules from YAML.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"

	"github.com/rise-n-smoke/ordering/internal/customization"
	"github.com/rise-n-smoke/ordering/internal/domain"
)

//go:embed menu.yaml
var defaultMenu []byte

var (
	// ErrItemNotFound is returned when a menu item id is unknown.
	ErrItemNotFound = errors.New("catalog: item not found")
	// ErrInvalidCatalog is returned when the menu document is malformed.
	ErrInvalidCatalog = errors.New("catalog: invalid menu")
)

// Category groups menu items for display.
type Category struct {
	ID      string
	Name    string
	ItemIDs []string
}

// Catalog is an immutable, validated menu.
type Catalog struct {
	categories []Category
	items      []domain.MenuItem
	byID       map[string]int
	html       map[string]string
	cloverMods map[string]string
}

type menuDocument struct {
	Shared     yaml.Node      `yaml:"shared"`
	Categories []categoryYAML `yaml:"categories"`
}

type categoryYAML struct {
	ID    string     `yaml:"id"`
	Name  string     `yaml:"name"`
	Items []itemYAML `yaml:"items"`
}

type itemYAML struct {
	ID            string             `yaml:"id"`
	Name          string             `yaml:"name"`
	Description   string             `yaml:"description"`
	Price         int64              `yaml:"price"`
	Image         string             `yaml:"image"`
	Clover        string             `yaml:"clover"`
	Shippable     bool               `yaml:"shippable"`
	Customization *customizationYAML `yaml:"customization"`
}

type customizationYAML struct {
	Kind             string       `yaml:"kind"`
	MeatCount        int          `yaml:"meatCount"`
	SideCount        int          `yaml:"sideCount"`
	Meats            []optionYAML `yaml:"meats"`
	Sides            []optionYAML `yaml:"sides"`
	Condiments       []optionYAML `yaml:"condiments"`
	Toppings         []optionYAML `yaml:"toppings"`
	IncludedToppings []string     `yaml:"includedToppings"`
	LockedMeat       string       `yaml:"lockedMeat"`
	WeightTiers      []tierYAML   `yaml:"weightTiers"`
	Sizes            []tierYAML   `yaml:"sizes"`
}

type optionYAML struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Price       int64  `yaml:"price"`
	Clover      string `yaml:"clover"`
	Unavailable bool   `yaml:"unavailable"`
}

type tierYAML struct {
	ID     string `yaml:"id"`
	Label  string `yaml:"label"`
	Price  int64  `yaml:"price"`
	Clover string `yaml:"clover"`
}

// Default returns the compiled-in menu.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultMenu))
}

// LoadFile reads a menu from path, or the compiled-in menu when path is empty.
func LoadFile(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open menu: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses and validates a YAML menu. Every customizable item must be able
// to start its customization flow.
func Load(r io.Reader) (*Catalog, error) {
	var doc menuDocument
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("catalog: decode menu: %w", err)
	}

	c := &Catalog{
		byID:       make(map[string]int),
		html:       make(map[string]string),
		cloverMods: make(map[string]string),
	}
	for _, cat := range doc.Categories {
		if strings.TrimSpace(cat.ID) == "" {
			return nil, fmt.Errorf("%w: category without id", ErrInvalidCatalog)
		}
		category := Category{ID: cat.ID, Name: cat.Name}
		for _, raw := range cat.Items {
			item, err := c.toMenuItem(cat.ID, raw)
			if err != nil {
				return nil, err
			}
			if _, dup := c.byID[item.ID]; dup {
				return nil, fmt.Errorf("%w: duplicate item %q", ErrInvalidCatalog, item.ID)
			}
			if item.Customization.Kind != domain.CustomizationNone {
				if _, err := customization.NewFlow(item); err != nil {
					return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, item.ID, err)
				}
			}
			html, err := renderDescription(item.Description)
			if err != nil {
				return nil, fmt.Errorf("catalog: render %s: %w", item.ID, err)
			}
			c.html[item.ID] = html
			c.byID[item.ID] = len(c.items)
			c.items = append(c.items, item)
			category.ItemIDs = append(category.ItemIDs, item.ID)
		}
		c.categories = append(c.categories, category)
	}
	if len(c.items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidCatalog)
	}
	return c, nil
}

func (c *Catalog) toMenuItem(categoryID string, raw itemYAML) (domain.MenuItem, error) {
	id := strings.TrimSpace(raw.ID)
	if id == "" || strings.TrimSpace(raw.Name) == "" {
		return domain.MenuItem{}, fmt.Errorf("%w: item in %s needs id and name", ErrInvalidCatalog, categoryID)
	}
	if raw.Price < 0 {
		return domain.MenuItem{}, fmt.Errorf("%w: item %s has negative price", ErrInvalidCatalog, id)
	}
	item := domain.MenuItem{
		ID:           id,
		Category:     categoryID,
		Name:         strings.TrimSpace(raw.Name),
		Description:  strings.TrimSpace(raw.Description),
		BasePrice:    raw.Price,
		Image:        raw.Image,
		Shippable:    raw.Shippable,
		CloverItemID: raw.Clover,
	}
	if raw.Customization == nil {
		return item, nil
	}
	cz := raw.Customization
	item.Customization = domain.Customization{
		Kind:             domain.CustomizationKind(cz.Kind),
		MeatCount:        cz.MeatCount,
		SideCount:        cz.SideCount,
		Meats:            c.options(cz.Meats),
		Sides:            c.options(cz.Sides),
		Condiments:       c.options(cz.Condiments),
		Toppings:         c.options(cz.Toppings),
		IncludedToppings: append([]string(nil), cz.IncludedToppings...),
		LockedMeat:       cz.LockedMeat,
		WeightTiers:      c.tiers(cz.WeightTiers),
		Sizes:            c.tiers(cz.Sizes),
	}
	return item, nil
}

func (c *Catalog) options(raw []optionYAML) []domain.MenuOption {
	if len(raw) == 0 {
		return nil
	}
	out := make([]domain.MenuOption, 0, len(raw))
	for _, opt := range raw {
		out = append(out, domain.MenuOption{
			ID:          opt.ID,
			Name:        opt.Name,
			Price:       opt.Price,
			CloverModID: opt.Clover,
			Unavailable: opt.Unavailable,
		})
		if opt.Clover != "" {
			c.cloverMods[opt.ID] = opt.Clover
		}
	}
	return out
}

func (c *Catalog) tiers(raw []tierYAML) []domain.PriceTier {
	if len(raw) == 0 {
		return nil
	}
	out := make([]domain.PriceTier, 0, len(raw))
	for _, tier := range raw {
		out = append(out, domain.PriceTier{ID: tier.ID, Label: tier.Label, Price: tier.Price, CloverModID: tier.Clover})
		if tier.Clover != "" {
			c.cloverMods[tier.ID] = tier.Clover
		}
	}
	return out
}

// Categories returns the menu categories in display order.
func (c *Catalog) Categories() []Category {
	out := make([]Category, len(c.categories))
	for i, cat := range c.categories {
		cat.ItemIDs = append([]string(nil), cat.ItemIDs...)
		out[i] = cat
	}
	return out
}

// Items returns all menu items in display order.
func (c *Catalog) Items() []domain.MenuItem {
	return append([]domain.MenuItem(nil), c.items...)
}

// Item looks up a menu item by id.
func (c *Catalog) Item(id string) (domain.MenuItem, error) {
	idx, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return domain.MenuItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return c.items[idx], nil
}

// DescriptionHTML returns the sanitized HTML rendering of an item description.
func (c *Catalog) DescriptionHTML(id string) string {
	return c.html[id]
}

// CloverItemID implements domain.CatalogMapping.
func (c *Catalog) CloverItemID(menuItemID string) (string, bool) {
	idx, ok := c.byID[menuItemID]
	if !ok || c.items[idx].CloverItemID == "" {
		return "", false
	}
	return c.items[idx].CloverItemID, true
}

// CloverModifierID implements domain.CatalogMapping.
func (c *Catalog) CloverModifierID(modifierID string) (string, bool) {
	id, ok := c.cloverMods[modifierID]
	return id, ok
}

var descriptionPolicy = bluemonday.UGCPolicy()

func renderDescription(markdown string) (string, error) {
	if markdown == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(descriptionPolicy.Sanitize(buf.String())), nil
}
