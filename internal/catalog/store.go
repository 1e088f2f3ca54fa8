package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/checkout-pricing/internal/cart"
	"github.com/noah-isme/checkout-pricing/internal/money"
)

// ErrStoreUnavailable indicates the store has no database pool configured.
var ErrStoreUnavailable = errors.New("catalog: store unavailable")

// ErrItemUnknown indicates the catalog has no row for the reference at all,
// as opposed to a known item that is currently unavailable.
var ErrItemUnknown = errors.New("catalog: item unknown")

// Store resolves catalog references against the catalog_items table. Prices
// live in the database as exact decimals alongside their currency.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Resolve implements Provider.
func (s *Store) Resolve(ctx context.Context, ref cart.CatalogRef) (ResolvedItem, error) {
	if s == nil || s.pool == nil {
		return ResolvedItem{}, ErrStoreUnavailable
	}
	var (
		item     ResolvedItem
		amount   decimal.Decimal
		currency string
	)
	err := s.pool.QueryRow(ctx, `SELECT name, price, currency, available, shippable
FROM catalog_items
WHERE app_id = $1 AND item_id = $2`, ref.AppID, ref.ItemID).
		Scan(&item.Name, &amount, &currency, &item.Available, &item.Shippable)
	if errors.Is(err, pgx.ErrNoRows) {
		return ResolvedItem{}, fmt.Errorf("%w: %s/%s", ErrItemUnknown, ref.AppID, ref.ItemID)
	}
	if err != nil {
		return ResolvedItem{}, err
	}
	price, err := money.New(amount, currency)
	if err != nil {
		return ResolvedItem{}, fmt.Errorf("catalog price for %s/%s: %w", ref.AppID, ref.ItemID, err)
	}
	item.Price = price
	return item, nil
}
