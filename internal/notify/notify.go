// Package notify tells customers and the kitchen about confirmed orders.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/orders"
	"github.com/rise-n-smoke/ordering/internal/platform/textutil"
)

// Notifier is told about orders that reached the POS.
type Notifier interface {
	OrderConfirmed(ctx context.Context, order domain.Order) error
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) OrderConfirmed(ctx context.Context, order domain.Order) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.OrderConfirmed(ctx, order); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) OrderConfirmed(context.Context, domain.Order) error { return nil }

// summaryLines renders the order items and totals shared by email and kitchen tickets.
func summaryLines(order domain.Order) []string {
	lines := make([]string, 0, len(order.Items)+4)
	for _, item := range order.Items {
		line := fmt.Sprintf("%dx %s  %s", item.Quantity, item.Name, textutil.FormatUSD(item.TotalPrice))
		lines = append(lines, line)
		for _, mod := range item.Modifiers {
			label := mod.Name
			if mod.Category != "" {
				label = mod.Category + ": " + mod.Name
			}
			if mod.Price != 0 {
				label += " (" + textutil.FormatUSD(mod.Price) + ")"
			}
			lines = append(lines, "   - "+label)
		}
		if item.SpecialInstructions != "" {
			lines = append(lines, "   note: "+item.SpecialInstructions)
		}
	}
	lines = append(lines, "Subtotal: "+textutil.FormatUSD(order.Subtotal))
	lines = append(lines, "Tax: "+textutil.FormatUSD(order.Tax))
	if order.ShippingCost > 0 {
		lines = append(lines, "Shipping: "+textutil.FormatUSD(order.ShippingCost))
	}
	lines = append(lines, "Total: "+textutil.FormatUSD(order.Total))
	return lines
}

func fulfilmentLine(order domain.Order, loc *time.Location) string {
	switch {
	case order.OrderType == domain.OrderTypeShipping && order.ShippingAddress != nil:
		a := order.ShippingAddress
		parts := []string{a.Street}
		if a.Street2 != "" {
			parts = append(parts, a.Street2)
		}
		parts = append(parts, a.City, a.State+" "+a.PostalCode)
		return "Ship to: " + strings.Join(parts, ", ")
	case order.PickupTime != nil:
		date, clock := orders.SplitPickup(*order.PickupTime, loc)
		return fmt.Sprintf("Pickup: %s at %s", date, clock)
	}
	return ""
}
