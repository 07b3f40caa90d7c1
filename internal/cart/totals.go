package cart

import (
	"github.com/shopspring/decimal"

	"github.com/rise-n-smoke/ordering/internal/domain"
)

// DefaultTaxRateBasisPoints is the sales tax rate (8.25%) applied to the subtotal.
const DefaultTaxRateBasisPoints int64 = 825

// ShippingRater resolves a flat shipping rate in cents for a US state code.
type ShippingRater interface {
	Rate(state string) int64
}

// Pricing holds the inputs to CalculateTotals that are not part of the cart itself.
type Pricing struct {
	TaxRateBasisPoints int64
	Shipping           ShippingRater
}

// DefaultPricing uses the default tax rate and no shipping rates.
func DefaultPricing() Pricing {
	return Pricing{TaxRateBasisPoints: DefaultTaxRateBasisPoints}
}

// LineTotal returns (basePrice + sum of modifier prices) * quantity.
func LineTotal(basePrice int64, modifiers []domain.Modifier, quantity int) int64 {
	unit := basePrice
	for _, mod := range modifiers {
		unit += mod.Price
	}
	return unit * int64(quantity)
}

// Tax returns subtotal * rate rounded half-up to the cent.
func Tax(subtotal int64, basisPoints int64) int64 {
	if subtotal == 0 || basisPoints == 0 {
		return 0
	}
	rate := decimal.New(basisPoints, -4)
	return decimal.NewFromInt(subtotal).Mul(rate).Round(0).IntPart()
}

// CalculateTotals recomputes every derived field of the state. It is pure: the
// input is not modified and the result depends only on items, order type,
// shipping address and pricing.
func CalculateTotals(state domain.CartState, pricing Pricing) domain.CartState {
	out := state.Clone()
	if !out.OrderType.Valid() {
		out.OrderType = domain.OrderTypePickup
	}

	var subtotal int64
	for i := range out.Items {
		item := &out.Items[i]
		item.TotalPrice = LineTotal(item.BasePrice, item.Modifiers, item.Quantity)
		subtotal += item.TotalPrice
	}

	out.Subtotal = subtotal
	out.Tax = Tax(subtotal, pricing.TaxRateBasisPoints)
	out.ShippingCost = shippingCost(out, pricing.Shipping)
	out.Total = out.Subtotal + out.Tax + out.ShippingCost
	return out
}

func shippingCost(state domain.CartState, rater ShippingRater) int64 {
	if state.OrderType != domain.OrderTypeShipping || rater == nil {
		return 0
	}
	if state.ShippingAddress == nil || state.ShippingAddress.State == "" {
		return 0
	}
	return rater.Rate(state.ShippingAddress.State)
}
