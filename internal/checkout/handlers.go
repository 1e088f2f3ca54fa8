// Package checkout exposes the cart and quoting HTTP surface. Handlers are
// thin: they decode and validate payloads, serialize access per cart and
// delegate the arithmetic to the pricing engine.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/checkout-pricing/internal/cart"
	"github.com/noah-isme/checkout-pricing/internal/catalog"
	"github.com/noah-isme/checkout-pricing/internal/common"
	"github.com/noah-isme/checkout-pricing/internal/discount"
	"github.com/noah-isme/checkout-pricing/internal/lock"
	"github.com/noah-isme/checkout-pricing/internal/money"
	"github.com/noah-isme/checkout-pricing/internal/obs"
	"github.com/noah-isme/checkout-pricing/internal/pricing"
	"github.com/noah-isme/checkout-pricing/internal/rulestore"
)

// UsageRecorder advances redemption counters for stored discount rules.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, ruleID uuid.UUID) error
}

// Handler wires cart storage and the pricing engine to HTTP.
type Handler struct {
	Carts    cart.Store
	Engine   *pricing.Engine
	Locker   *lock.Locker
	Options  *catalog.SchemaRegistry
	Usage    UsageRecorder
	Validate *validator.Validate
	Logger   zerolog.Logger
	Currency string
	LockTTL  time.Duration
}

// Routes mounts the cart and pricing endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/v1/carts", h.CreateCart)
	r.Get("/v1/carts/{id}", h.GetCart)
	r.Post("/v1/carts/{id}/items", h.AddItem)
	r.Patch("/v1/carts/{id}/items/{itemID}", h.UpdateQuantity)
	r.Delete("/v1/carts/{id}/items/{itemID}", h.RemoveItem)
	r.Post("/v1/carts/{id}/coupon", h.ApplyCoupon)
	r.Delete("/v1/carts/{id}/coupon", h.RemoveCoupon)
	r.Put("/v1/carts/{id}/shipping-address", h.SetShippingAddress)
	r.Put("/v1/carts/{id}/pickup", h.SetPickup)
	r.Put("/v1/carts/{id}/shipping-option", h.SelectShipping)
	r.Post("/v1/carts/{id}/checkout", h.Checkout)
	r.Post("/v1/pricing/quote", h.Quote)
}

type createCartRequest struct {
	Currency string `json:"currency" validate:"omitempty,len=3"`
}

// CreateCart opens an empty cart in the requested (or default) currency.
func (h *Handler) CreateCart(w http.ResponseWriter, r *http.Request) {
	var payload createCartRequest
	_ = json.NewDecoder(r.Body).Decode(&payload)
	if err := h.validate(payload); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil)
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(payload.Currency))
	if currency == "" {
		currency = h.Currency
	}
	c := cart.New(currency)
	if err := h.Carts.Put(r.Context(), c); err != nil {
		h.writeError(w, "create", err)
		return
	}
	countCartOp("create", "ok")
	common.JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{
		"cartId":   c.ID,
		"currency": c.Currency,
	}})
}

// GetCart returns the cart contents without pricing them.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid cart id", nil)
		return
	}
	c, err := h.Carts.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, "get", err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

type addItemRequest struct {
	AppID         string            `json:"appId" validate:"required"`
	ItemID        string            `json:"itemId" validate:"required"`
	Options       map[string]string `json:"options"`
	Quantity      int64             `json:"quantity" validate:"required,gt=0"`
	UnitPrice     *money.Money      `json:"unitPrice" validate:"required"`
	PaymentOption string            `json:"paymentOption" validate:"omitempty,oneof=FULL_PAYMENT_ONLINE FULL_PAYMENT_OFFLINE MEMBERSHIP MEMBERSHIP_OFFLINE DEPOSIT_ONLINE"`
	DepositAmount *money.Money      `json:"depositAmount"`
	TaxGroupID    string            `json:"taxGroupId"`
	Shippable     bool              `json:"shippable"`
}

// AddItem appends a line item to the cart.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var payload addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate(payload); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil)
		return
	}
	ref := cart.CatalogRef{AppID: payload.AppID, ItemID: payload.ItemID, Options: payload.Options}
	if err := h.Options.Validate(ref); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil)
		return
	}
	h.mutate(w, r, "add_item", func(c *cart.Cart) error {
		return c.AddItem(cart.LineItem{
			CatalogRef:    ref,
			Quantity:      payload.Quantity,
			UnitPrice:     *payload.UnitPrice,
			PaymentOption: cart.PaymentOption(payload.PaymentOption),
			DepositAmount: payload.DepositAmount,
			TaxGroupID:    payload.TaxGroupID,
			Shippable:     payload.Shippable,
		})
	})
}

type updateQuantityRequest struct {
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

// UpdateQuantity changes the quantity of an existing line.
func (h *Handler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid item id", nil)
		return
	}
	var payload updateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate(payload); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil)
		return
	}
	h.mutate(w, r, "update_quantity", func(c *cart.Cart) error {
		return c.UpdateQuantity(itemID, payload.Quantity)
	})
}

// RemoveItem deletes a line from the cart.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid item id", nil)
		return
	}
	h.mutate(w, r, "remove_item", func(c *cart.Cart) error {
		return c.RemoveItem(itemID)
	})
}

type couponRequest struct {
	Code string `json:"code" validate:"required"`
}

// ApplyCoupon attaches a coupon code to the cart.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var payload couponRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate(payload); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil)
		return
	}
	h.mutate(w, r, "apply_coupon", func(c *cart.Cart) error {
		return c.ApplyCoupon(payload.Code)
	})
}

// RemoveCoupon clears any applied coupon.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "remove_coupon", func(c *cart.Cart) error {
		c.RemoveCoupon()
		return nil
	})
}

type addressRequest struct {
	Country      string `json:"country" validate:"required,len=2"`
	Subdivision  string `json:"subdivision"`
	City         string `json:"city"`
	PostalCode   string `json:"postalCode"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2"`
}

func (a addressRequest) toAddress() cart.Address {
	return cart.Address{
		Country:      strings.ToUpper(a.Country),
		Subdivision:  a.Subdivision,
		City:         a.City,
		PostalCode:   a.PostalCode,
		AddressLine1: a.AddressLine1,
		AddressLine2: a.AddressLine2,
	}
}

// SetShippingAddress records the delivery destination, clearing pickup.
func (h *Handler) SetShippingAddress(w http.ResponseWriter, r *http.Request) {
	var payload addressRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate(payload); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil)
		return
	}
	h.mutate(w, r, "set_shipping_address", func(c *cart.Cart) error {
		c.SetShippingAddress(payload.toAddress())
		return nil
	})
}

type pickupRequest struct {
	LocationID string         `json:"locationId" validate:"required"`
	Address    addressRequest `json:"address"`
}

// SetPickup selects store pickup, clearing the shipping destination.
func (h *Handler) SetPickup(w http.ResponseWriter, r *http.Request) {
	var payload pickupRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate(payload); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil)
		return
	}
	h.mutate(w, r, "set_pickup", func(c *cart.Cart) error {
		c.SetPickup(cart.PickupInfo{LocationID: payload.LocationID, Address: payload.Address.toAddress()})
		return nil
	})
}

type shippingOptionRequest struct {
	Code string `json:"code" validate:"required"`
}

// SelectShipping records the buyer's carrier option choice.
func (h *Handler) SelectShipping(w http.ResponseWriter, r *http.Request) {
	var payload shippingOptionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate(payload); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil)
		return
	}
	h.mutate(w, r, "select_shipping", func(c *cart.Cart) error {
		c.SelectShipping(payload.Code)
		return nil
	})
}

// Checkout prices the cart a final time, records rule redemptions and
// closes the cart.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid cart id", nil)
		return
	}
	c, err := h.Carts.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, "checkout", err)
		return
	}
	res, err := h.Engine.Price(r.Context(), c, nil)
	if err != nil {
		if errors.Is(err, pricing.ErrHardInput) {
			countCartOp("checkout", "error")
			common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_CART", err.Error(), nil)
			return
		}
		countCartOp("checkout", "error")
		h.Logger.Error().Err(err).Str("cart_id", id.String()).Msg("checkout pricing failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to price cart", nil)
		return
	}
	if h.Usage != nil {
		for _, applied := range res.AppliedDiscounts {
			if applied.Source != discount.SourceRule {
				continue
			}
			ruleID, err := uuid.Parse(applied.SourceID)
			if err != nil {
				continue
			}
			if err := h.Usage.RecordUsage(r.Context(), ruleID); err != nil {
				h.Logger.Warn().Err(err).Str("rule_id", applied.SourceID).Msg("record rule usage failed")
			}
		}
	}
	if err := h.Carts.Delete(r.Context(), id); err != nil {
		h.Logger.Warn().Err(err).Str("cart_id", id.String()).Msg("cart cleanup failed")
	}
	countCartOp("checkout", "ok")
	common.JSON(w, http.StatusOK, map[string]any{"data": res})
}

type merchantDiscountRequest struct {
	ID    string          `json:"id" validate:"required"`
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value" validate:"required"`
	Scope []string        `json:"scope"`
}

type quoteRequest struct {
	CartID            string                    `json:"cartId" validate:"required,uuid"`
	MerchantDiscounts []merchantDiscountRequest `json:"merchantDiscounts" validate:"dive"`
}

// Quote prices a cart and returns the full breakdown.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var payload quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate(payload); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil)
		return
	}
	id, err := uuid.Parse(payload.CartID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid cart id", nil)
		return
	}
	merchant := make([]discount.MerchantDiscount, 0, len(payload.MerchantDiscounts))
	for _, md := range payload.MerchantDiscounts {
		value, err := rulestore.DecodeValue(md.Value)
		if err != nil {
			common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", "merchant discount "+md.ID+": "+err.Error(), nil)
			return
		}
		merchant = append(merchant, discount.MerchantDiscount{ID: md.ID, Name: md.Name, Value: value, Scope: md.Scope})
	}

	c, err := h.Carts.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, "quote", err)
		return
	}

	start := time.Now()
	res, err := h.Engine.Price(r.Context(), c, merchant)
	if obs.QuoteDuration != nil {
		obs.QuoteDuration.Observe(obs.DurationMillis(time.Since(start)))
	}
	if err != nil {
		if errors.Is(err, pricing.ErrHardInput) {
			countQuote("hard_input")
			common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_CART", err.Error(), nil)
			return
		}
		countQuote("error")
		h.Logger.Error().Err(err).Str("cart_id", id.String()).Msg("quote failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to price cart", nil)
		return
	}
	countQuote("ok")
	if obs.TaxSourceTotal != nil {
		obs.TaxSourceTotal.WithLabelValues(string(res.TaxSource)).Inc()
	}
	if obs.DiscountAppliedTotal != nil {
		for _, applied := range res.AppliedDiscounts {
			obs.DiscountAppliedTotal.WithLabelValues(string(applied.Source)).Inc()
		}
	}
	if obs.QuoteSoftErrors != nil {
		for _, v := range res.Violations {
			obs.QuoteSoftErrors.WithLabelValues(v.Target).Inc()
		}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": res})
}

// mutate loads the cart under a per-cart lock, applies fn and persists.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, op string, fn func(*cart.Cart) error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid cart id", nil)
		return
	}
	var c *cart.Cart
	run := func() error {
		loaded, err := h.Carts.Get(r.Context(), id)
		if err != nil {
			return err
		}
		if err := fn(loaded); err != nil {
			return err
		}
		if err := h.Carts.Put(r.Context(), loaded); err != nil {
			return err
		}
		c = loaded
		return nil
	}
	if h.Locker != nil {
		ttl := h.LockTTL
		if ttl <= 0 {
			ttl = 5 * time.Second
		}
		err = h.Locker.WithLock(r.Context(), "cart:"+id.String(), ttl, func(context.Context) error { return run() })
	} else {
		err = run()
	}
	if err != nil {
		countCartOp(op, "error")
		h.writeError(w, op, err)
		return
	}
	countCartOp(op, "ok")
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

func countCartOp(op, result string) {
	if obs.CartOpsTotal != nil {
		obs.CartOpsTotal.WithLabelValues(op, result).Inc()
	}
}

func countQuote(result string) {
	if obs.QuoteTotal != nil {
		obs.QuoteTotal.WithLabelValues(result).Inc()
	}
}

func (h *Handler) validate(v any) error {
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(v)
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, cart.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "cart not found", nil)
	case errors.Is(err, cart.ErrItemNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "line item not found", nil)
	case errors.Is(err, cart.ErrCouponAlreadyApplied):
		common.JSONError(w, http.StatusConflict, "CONFLICT", "a different coupon is already applied", nil)
	case errors.Is(err, cart.ErrQuantityNotPositive),
		errors.Is(err, cart.ErrCurrencyMismatch),
		errors.Is(err, cart.ErrDepositWithoutAmount):
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil)
	default:
		h.Logger.Error().Err(err).Str("op", op).Msg("cart operation failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart operation failed", nil)
	}
}
