package cart

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/cucumber/godog"

	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/shipping"
)

type cartFeatureContext struct {
	store *Store
	last  domain.LineItem
}

func (c *cartFeatureContext) reset() {
	c.store = New(WithPricing(Pricing{
		TaxRateBasisPoints: DefaultTaxRateBasisPoints,
		Shipping:           shipping.MustDefaultTable(),
	}))
	c.last = domain.LineItem{}
}

func (c *cartFeatureContext) anEmptyCart() error {
	c.reset()
	return nil
}

func (c *cartFeatureContext) iAddPricedWithQuantity(name string, price int64, qty int) error {
	item, err := c.store.AddItem(domain.LineItemInput{MenuItemID: name, Name: name, BasePrice: price, Quantity: qty})
	if err != nil {
		return err
	}
	c.last = item
	return nil
}

func (c *cartFeatureContext) iChangeTheQuantityOfTheLastItemTo(qty int) error {
	return c.store.UpdateQuantity(c.last.ID, qty)
}

func (c *cartFeatureContext) iShipTo(state string) error {
	if err := c.store.SetOrderType(domain.OrderTypeShipping); err != nil {
		return err
	}
	return c.store.SetShippingAddress(&domain.ShippingAddress{State: state})
}

func (c *cartFeatureContext) iSwitchToPickup() error {
	return c.store.SetOrderType(domain.OrderTypePickup)
}

func (c *cartFeatureContext) iPersistAndRestoreTheCart() error {
	data, err := MarshalSnapshot(c.store.Snapshot())
	if err != nil {
		return err
	}
	snap, err := UnmarshalSnapshot(data)
	if err != nil {
		return err
	}
	c.reset()
	return c.store.Restore(snap)
}

func (c *cartFeatureContext) expectAmount(label string, pick func(domain.CartState) int64) func(int64) error {
	return func(want int64) error {
		state := c.store.State()
		if got := pick(state); got != want {
			return fmt.Errorf("expected %s %d, got %d", label, want, got)
		}
		if state.Total != state.Subtotal+state.Tax+state.ShippingCost {
			return fmt.Errorf("total %d does not add up", state.Total)
		}
		return nil
	}
}

func (c *cartFeatureContext) theLastItemCosts(want int64) error {
	for _, item := range c.store.State().Items {
		if item.ID == c.last.ID {
			if item.TotalPrice != want {
				return fmt.Errorf("expected last item total %d, got %d", want, item.TotalPrice)
			}
			return nil
		}
	}
	return fmt.Errorf("last item %s not in cart", c.last.ID)
}

func (c *cartFeatureContext) theCartHasItems(n int) error {
	if got := len(c.store.State().Items); got != n {
		return fmt.Errorf("expected %d items, got %d", n, got)
	}
	return nil
}

func (c *cartFeatureContext) theCartHasItemsWithDistinctIDs(n int) error {
	if err := c.theCartHasItems(n); err != nil {
		return err
	}
	seen := map[string]struct{}{}
	for _, item := range c.store.State().Items {
		if _, dup := seen[item.ID]; dup {
			return fmt.Errorf("duplicate id %s", item.ID)
		}
		seen[item.ID] = struct{}{}
	}
	return nil
}

func initializeCartScenario(ctx *godog.ScenarioContext) {
	tc := &cartFeatureContext{}
	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	ctx.Step(`^an empty cart$`, tc.anEmptyCart)
	ctx.Step(`^I add "([^"]*)" priced (\d+) cents with quantity (\d+)$`, tc.iAddPricedWithQuantity)
	ctx.Step(`^I change the quantity of the last item to (-?\d+)$`, tc.iChangeTheQuantityOfTheLastItemTo)
	ctx.Step(`^I ship to "([^"]*)"$`, tc.iShipTo)
	ctx.Step(`^I switch to pickup$`, tc.iSwitchToPickup)
	ctx.Step(`^I persist and restore the cart$`, tc.iPersistAndRestoreTheCart)

	ctx.Step(`^the subtotal is (\d+) cents$`, tc.expectAmount("subtotal", func(s domain.CartState) int64 { return s.Subtotal }))
	ctx.Step(`^the tax is (\d+) cents$`, tc.expectAmount("tax", func(s domain.CartState) int64 { return s.Tax }))
	ctx.Step(`^the shipping cost is (\d+) cents$`, tc.expectAmount("shipping", func(s domain.CartState) int64 { return s.ShippingCost }))
	ctx.Step(`^the total is (\d+) cents$`, tc.expectAmount("total", func(s domain.CartState) int64 { return s.Total }))
	ctx.Step(`^the last item costs (\d+) cents$`, tc.theLastItemCosts)
	ctx.Step(`^the cart has (\d+) items$`, tc.theCartHasItems)
	ctx.Step(`^the cart has (\d+) items with distinct ids$`, tc.theCartHasItemsWithDistinctIDs)
}

func TestCartFeatures(t *testing.T) {
	if _, err := os.Stat("features"); err != nil {
		t.Skip("feature files not available")
	}
	suite := godog.TestSuite{
		ScenarioInitializer: initializeCartScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
