package discount

import (
	"context"

	"github.com/noah-isme/checkout-pricing/internal/catalog"
	"github.com/noah-isme/checkout-pricing/internal/money"
)

// Trigger is a boolean condition tree gating whether a discount rule applies.
// The variants below are the only implementations; trees are acyclic by
// construction since children are held by value in slices.
type Trigger interface {
	isTrigger()
}

// And is satisfied when every child is satisfied.
type And struct {
	Children []Trigger
}

// Or is satisfied when at least one child is satisfied.
type Or struct {
	Children []Trigger
}

// SubtotalRange is satisfied when the subtotal of the scoped lines falls
// within [Min, Max] inclusive. A nil bound is open; an empty scope means the
// whole cart.
type SubtotalRange struct {
	Min   *money.Money
	Max   *money.Money
	Scope []string
}

// ItemQuantityRange is satisfied when the total quantity of the scoped lines
// falls within [Min, Max] inclusive.
type ItemQuantityRange struct {
	Min   *int64
	Max   *int64
	Scope []string
}

// Custom delegates satisfaction to an external trigger provider identified by
// trigger ID and owning app.
type Custom struct {
	ID    string
	AppID string
}

func (And) isTrigger()               {}
func (Or) isTrigger()                {}
func (SubtotalRange) isTrigger()     {}
func (ItemQuantityRange) isTrigger() {}
func (Custom) isTrigger()            {}

// CustomTriggerProvider evaluates app-defined trigger conditions. An error
// means the provider is unreachable; the trigger is then treated as not
// satisfied rather than surfacing a failure.
type CustomTriggerProvider interface {
	Evaluate(ctx context.Context, triggerID, appID string, snap catalog.Snapshot) (bool, error)
}

func inScope(line catalog.Line, scope []string) bool {
	if len(scope) == 0 {
		return true
	}
	for _, id := range scope {
		if line.CatalogRef.ItemID == id {
			return true
		}
	}
	return false
}

func scopedSubtotal(snap catalog.Snapshot, scope []string) money.Money {
	total := money.Zero(snap.Currency)
	for _, line := range snap.Lines {
		if inScope(line, scope) {
			total, _ = total.Add(line.Total())
		}
	}
	return total
}

func scopedQuantity(snap catalog.Snapshot, scope []string) int64 {
	var qty int64
	for _, line := range snap.Lines {
		if inScope(line, scope) {
			qty += line.Quantity
		}
	}
	return qty
}

// satisfied walks the trigger tree against the snapshot. Unreachable custom
// providers fail open to "not satisfied".
func satisfied(ctx context.Context, t Trigger, snap catalog.Snapshot, custom CustomTriggerProvider) bool {
	switch node := t.(type) {
	case And:
		for _, child := range node.Children {
			if !satisfied(ctx, child, snap, custom) {
				return false
			}
		}
		return true
	case Or:
		for _, child := range node.Children {
			if satisfied(ctx, child, snap, custom) {
				return true
			}
		}
		return false
	case SubtotalRange:
		subtotal := scopedSubtotal(snap, node.Scope)
		if node.Min != nil {
			cmp, err := subtotal.Cmp(*node.Min)
			if err != nil || cmp < 0 {
				return false
			}
		}
		if node.Max != nil {
			cmp, err := subtotal.Cmp(*node.Max)
			if err != nil || cmp > 0 {
				return false
			}
		}
		return true
	case ItemQuantityRange:
		qty := scopedQuantity(snap, node.Scope)
		if node.Min != nil && qty < *node.Min {
			return false
		}
		if node.Max != nil && qty > *node.Max {
			return false
		}
		return true
	case Custom:
		if custom == nil {
			return false
		}
		ok, err := custom.Evaluate(ctx, node.ID, node.AppID, snap)
		if err != nil {
			return false
		}
		return ok
	default:
		return false
	}
}
