// Package catalog projects cart line items against an external catalog into a
// read-only snapshot the pricing engine consumes. Catalog access happens here
// and nowhere else in the engine.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/noah-isme/checkout-pricing/internal/cart"
	"github.com/noah-isme/checkout-pricing/internal/money"
)

// ErrItemUnavailable indicates the catalog reports the item as not purchasable.
var ErrItemUnavailable = errors.New("catalog: item unavailable")

// ResolvedItem is the catalog's answer for a single reference.
type ResolvedItem struct {
	Name      string
	Price     money.Money
	Available bool
	Shippable bool
}

// Provider resolves catalog references. Implemented by the surrounding
// platform; unreachable providers degrade to cart-known prices.
type Provider interface {
	Resolve(ctx context.Context, ref cart.CatalogRef) (ResolvedItem, error)
}

// Line is a priced, resolved view of one cart line item.
type Line struct {
	ItemID              uuid.UUID
	CatalogRef          cart.CatalogRef
	Name                string
	Quantity            int64
	UnitPrice           money.Money
	PriceBeforeDiscount money.Money
	PaymentOption       cart.PaymentOption
	DepositAmount       *money.Money
	TaxGroupID          string
	Shippable           bool
}

// Total returns quantity * unit price for the line.
func (l Line) Total() money.Money {
	return l.UnitPrice.MulInt(l.Quantity)
}

// Snapshot is an immutable projection of the cart at pricing time.
type Snapshot struct {
	Currency string
	Lines    []Line
}

// Subtotal sums all line totals.
func (s Snapshot) Subtotal() money.Money {
	total := money.Zero(s.Currency)
	for _, l := range s.Lines {
		total, _ = total.Add(l.Total())
	}
	return total
}

// Line returns the snapshot line for the given item ID.
func (s Snapshot) Line(itemID uuid.UUID) (Line, bool) {
	for _, l := range s.Lines {
		if l.ItemID == itemID {
			return l, true
		}
	}
	return Line{}, false
}

// Build resolves every cart line against the catalog and assembles a snapshot.
// Resolution failures are soft: the line keeps the price the cart already
// knows and the error is returned for the caller to attach to the calculation
// result. A nil provider skips resolution entirely.
func Build(ctx context.Context, provider Provider, c *cart.Cart) (Snapshot, []error) {
	snap := Snapshot{Currency: c.Currency, Lines: make([]Line, 0, len(c.Items))}
	var soft []error
	for _, it := range c.Items {
		line := Line{
			ItemID:              it.ID,
			CatalogRef:          it.CatalogRef,
			Quantity:            it.Quantity,
			UnitPrice:           it.UnitPrice,
			PriceBeforeDiscount: it.PriceBeforeDiscount,
			PaymentOption:       it.PaymentOption,
			DepositAmount:       it.DepositAmount,
			TaxGroupID:          it.TaxGroupID,
			Shippable:           it.Shippable,
		}
		if provider != nil {
			resolved, err := provider.Resolve(ctx, it.CatalogRef)
			switch {
			case err != nil:
				soft = append(soft, fmt.Errorf("resolve %s/%s: %w", it.CatalogRef.AppID, it.CatalogRef.ItemID, err))
			case !resolved.Available:
				soft = append(soft, fmt.Errorf("item %s: %w", it.CatalogRef.ItemID, ErrItemUnavailable))
			default:
				line.Name = resolved.Name
				line.Shippable = resolved.Shippable
				if resolved.Price.Currency == c.Currency {
					line.UnitPrice = resolved.Price
					if line.PriceBeforeDiscount.Currency == "" {
						line.PriceBeforeDiscount = resolved.Price
					}
				}
			}
		}
		snap.Lines = append(snap.Lines, line)
	}
	return snap, soft
}
