package cart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/checkout-pricing/internal/money"
)

var (
	// ErrNotFound indicates the requested cart could not be located.
	ErrNotFound = errors.New("cart not found")
	// ErrItemNotFound indicates the referenced line item is not part of the cart.
	ErrItemNotFound = errors.New("cart: line item not found")
	// ErrQuantityNotPositive is returned when a mutation would leave a line with qty < 1.
	ErrQuantityNotPositive = errors.New("cart: quantity must be at least 1")
	// ErrCouponAlreadyApplied is returned when a second coupon is applied without removing the first.
	ErrCouponAlreadyApplied = errors.New("cart: a coupon is already applied")
	// ErrCurrencyMismatch indicates a line item priced in a different currency than the cart.
	ErrCurrencyMismatch = errors.New("cart: line item currency differs from cart currency")
	// ErrDepositWithoutAmount is returned when a deposit line carries no deposit amount.
	ErrDepositWithoutAmount = errors.New("cart: deposit payment option requires a deposit amount")
)

// PaymentOption selects how a line item is paid for.
type PaymentOption string

const (
	// FullPaymentOnline charges the full price during checkout.
	FullPaymentOnline PaymentOption = "FULL_PAYMENT_ONLINE"
	// FullPaymentOffline defers the full price to an offline channel.
	FullPaymentOffline PaymentOption = "FULL_PAYMENT_OFFLINE"
	// MembershipPayment settles the line through a membership benefit.
	MembershipPayment PaymentOption = "MEMBERSHIP"
	// MembershipPaymentOffline settles the line through a membership redeemed offline.
	MembershipPaymentOffline PaymentOption = "MEMBERSHIP_OFFLINE"
	// DepositOnline charges a partial deposit now and the remainder later.
	DepositOnline PaymentOption = "DEPOSIT_ONLINE"
)

// IsMembership reports whether the option zeroes the line for payment purposes.
func (p PaymentOption) IsMembership() bool {
	return p == MembershipPayment || p == MembershipPaymentOffline
}

// CatalogRef identifies an item within an external catalog application.
// Options carry typed variant selections (size, color) keyed by option name.
type CatalogRef struct {
	AppID   string            `json:"appId"`
	ItemID  string            `json:"itemId"`
	Options map[string]string `json:"options,omitempty"`
}

// LineItem is a single purchasable entry in the cart.
type LineItem struct {
	ID                  uuid.UUID     `json:"id"`
	CatalogRef          CatalogRef    `json:"catalogRef"`
	Quantity            int64         `json:"quantity"`
	UnitPrice           money.Money   `json:"unitPrice"`
	PriceBeforeDiscount money.Money   `json:"priceBeforeDiscount"`
	PaymentOption       PaymentOption `json:"paymentOption"`
	DepositAmount       *money.Money  `json:"depositAmount,omitempty"`
	TaxGroupID          string        `json:"taxGroupId,omitempty"`
	Shippable           bool          `json:"shippable"`
}

// Total returns quantity * unit price.
func (li LineItem) Total() money.Money {
	return li.UnitPrice.MulInt(li.Quantity)
}

// Address is a postal address used for contact, billing and shipping.
type Address struct {
	Country      string `json:"country"`
	Subdivision  string `json:"subdivision,omitempty"`
	City         string `json:"city,omitempty"`
	PostalCode   string `json:"postalCode,omitempty"`
	AddressLine1 string `json:"addressLine1,omitempty"`
	AddressLine2 string `json:"addressLine2,omitempty"`
}

// PickupInfo describes a pickup point chosen instead of a shipping destination.
type PickupInfo struct {
	LocationID string  `json:"locationId"`
	Address    Address `json:"address"`
}

// Membership references a buyer membership that may settle specific lines.
type Membership struct {
	ID          string      `json:"id"`
	AppID       string      `json:"appId"`
	LineItemIDs []uuid.UUID `json:"lineItemIds"`
}

// GiftCard is a stored-value instrument applied against the pay-now amount.
type GiftCard struct {
	ID      string      `json:"id"`
	Balance money.Money `json:"balance"`
}

// BuyerInfo captures the contact identity attached to the cart.
type BuyerInfo struct {
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// Cart is the mutable checkout aggregate. The pricing engine only reads it;
// all mutation goes through the methods below.
type Cart struct {
	ID                   uuid.UUID    `json:"id"`
	Currency             string       `json:"currency"`
	Items                []LineItem   `json:"items"`
	Buyer                BuyerInfo    `json:"buyer,omitempty"`
	CouponCode           string       `json:"couponCode,omitempty"`
	SelectedShippingCode string       `json:"selectedShippingCode,omitempty"`
	ShippingAddress      *Address     `json:"shippingAddress,omitempty"`
	Pickup               *PickupInfo  `json:"pickup,omitempty"`
	BillingAddress       *Address     `json:"billingAddress,omitempty"`
	Memberships          []Membership `json:"memberships,omitempty"`
	GiftCards            []GiftCard   `json:"giftCards,omitempty"`
}

// New creates an empty cart in the given currency.
func New(currency string) *Cart {
	return &Cart{ID: uuid.New(), Currency: strings.ToUpper(strings.TrimSpace(currency))}
}

// FromItems creates a cart pre-populated with existing line items.
func FromItems(currency string, items []LineItem) (*Cart, error) {
	c := New(currency)
	for _, it := range items {
		if err := c.AddItem(it); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AddItem appends a line item, assigning an ID when absent.
func (c *Cart) AddItem(item LineItem) error {
	if item.Quantity < 1 {
		return ErrQuantityNotPositive
	}
	if item.UnitPrice.Currency != c.Currency {
		return fmt.Errorf("%w: %s", ErrCurrencyMismatch, item.UnitPrice.Currency)
	}
	if item.PaymentOption == "" {
		item.PaymentOption = FullPaymentOnline
	}
	if item.PaymentOption == DepositOnline && item.DepositAmount == nil {
		return ErrDepositWithoutAmount
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.PriceBeforeDiscount.Currency == "" {
		item.PriceBeforeDiscount = item.UnitPrice
	}
	c.Items = append(c.Items, item)
	return nil
}

// UpdateQuantity changes the quantity of an existing line item.
func (c *Cart) UpdateQuantity(itemID uuid.UUID, qty int64) error {
	if qty < 1 {
		return ErrQuantityNotPositive
	}
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			c.Items[i].Quantity = qty
			return nil
		}
	}
	return ErrItemNotFound
}

// RemoveItem deletes a line item, preserving the order of the rest.
func (c *Cart) RemoveItem(itemID uuid.UUID) error {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

// ApplyCoupon attaches a coupon code. At most one coupon may be active.
func (c *Cart) ApplyCoupon(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("cart: coupon code is empty")
	}
	if c.CouponCode != "" && !strings.EqualFold(c.CouponCode, code) {
		return ErrCouponAlreadyApplied
	}
	c.CouponCode = code
	return nil
}

// RemoveCoupon clears the applied coupon, if any.
func (c *Cart) RemoveCoupon() {
	c.CouponCode = ""
}

// SelectShipping records the buyer's carrier option choice.
func (c *Cart) SelectShipping(code string) {
	c.SelectedShippingCode = strings.TrimSpace(code)
}

// SetShippingAddress sets the destination and clears any pickup selection.
// Pickup and shipping destination are mutually exclusive.
func (c *Cart) SetShippingAddress(addr Address) {
	c.ShippingAddress = &addr
	c.Pickup = nil
}

// SetPickup selects pickup and clears any shipping destination.
func (c *Cart) SetPickup(p PickupInfo) {
	c.Pickup = &p
	c.ShippingAddress = nil
}

// Subtotal sums all line totals without discounts, tax or shipping.
func (c *Cart) Subtotal() money.Money {
	total := money.Zero(c.Currency)
	for _, it := range c.Items {
		total, _ = total.Add(it.Total())
	}
	return total
}

// HasShippableItems reports whether any line requires delivery logistics.
func (c *Cart) HasShippableItems() bool {
	for _, it := range c.Items {
		if it.Shippable {
			return true
		}
	}
	return false
}

// Item returns the line with the given ID.
func (c *Cart) Item(itemID uuid.UUID) (LineItem, bool) {
	for _, it := range c.Items {
		if it.ID == itemID {
			return it, true
		}
	}
	return LineItem{}, false
}

// Validate performs the hard-input checks the pricing engine requires. Any
// returned error aborts pricing entirely.
func (c *Cart) Validate() error {
	if len(strings.TrimSpace(c.Currency)) != 3 {
		return fmt.Errorf("cart: invalid currency %q", c.Currency)
	}
	for _, it := range c.Items {
		if it.Quantity < 1 {
			return fmt.Errorf("line %s: %w", it.ID, ErrQuantityNotPositive)
		}
		if it.UnitPrice.Currency != c.Currency {
			return fmt.Errorf("line %s: %w", it.ID, ErrCurrencyMismatch)
		}
		if it.PaymentOption == DepositOnline {
			if it.DepositAmount == nil {
				return fmt.Errorf("line %s: %w", it.ID, ErrDepositWithoutAmount)
			}
			if it.DepositAmount.Currency != c.Currency {
				return fmt.Errorf("line %s deposit: %w", it.ID, ErrCurrencyMismatch)
			}
		}
	}
	return nil
}
