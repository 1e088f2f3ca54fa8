// Package rulestore persists discount rules and coupons in Postgres. Trigger
// trees and values are stored as JSONB so the admin surface can compose them
// without schema changes.
package rulestore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/noah-isme/checkout-pricing/internal/discount"
)

// ErrStoreUnavailable indicates the store has no database pool configured.
var ErrStoreUnavailable = errors.New("rulestore: store unavailable")

// Store reads discount rules and coupons from Postgres. It implements both
// the rule source and the coupon resolver consumed by the pricing engine.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// New constructs a Store backed by a pgx connection pool.
func New(pool *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// ActiveRules loads the rules whose activity window contains now and whose
// usage limit is not exhausted. Rows with trigger or value kinds this build
// does not understand are skipped and logged rather than failing the load.
func (s *Store) ActiveRules(ctx context.Context, now time.Time) ([]discount.Rule, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT id, name, trigger, value, scope, active_from, active_to, usage_limit, used_count
FROM discount_rules
WHERE (active_from IS NULL OR active_from <= $1)
  AND (active_to IS NULL OR active_to >= $1)
  AND (usage_limit IS NULL OR used_count < usage_limit)
ORDER BY id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []discount.Rule
	for rows.Next() {
		var (
			rule       discount.Rule
			triggerRaw []byte
			valueRaw   []byte
		)
		if err := rows.Scan(&rule.ID, &rule.Name, &triggerRaw, &valueRaw, &rule.Scope,
			&rule.ActiveFrom, &rule.ActiveTo, &rule.UsageLimit, &rule.UsedCount); err != nil {
			return nil, err
		}
		trigger, err := DecodeTrigger(triggerRaw)
		if err != nil {
			s.logger.Warn().Err(err).Str("rule_id", rule.ID.String()).Msg("skipping rule with undecodable trigger")
			continue
		}
		value, err := DecodeValue(valueRaw)
		if err != nil {
			s.logger.Warn().Err(err).Str("rule_id", rule.ID.String()).Msg("skipping rule with undecodable value")
			continue
		}
		rule.Trigger = trigger
		rule.Value = value
		out = append(out, rule)
	}
	return out, rows.Err()
}

// Resolve looks up a coupon by its case-insensitive code.
func (s *Store) Resolve(ctx context.Context, code string) (discount.Coupon, error) {
	if s == nil || s.pool == nil {
		return discount.Coupon{}, ErrStoreUnavailable
	}
	var (
		coupon   discount.Coupon
		valueRaw []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT code, value, scope FROM coupons
WHERE UPPER(code) = UPPER($1)
  AND (active_from IS NULL OR active_from <= now())
  AND (active_to IS NULL OR active_to >= now())`, code).
		Scan(&coupon.Code, &valueRaw, &coupon.Scope)
	if errors.Is(err, pgx.ErrNoRows) {
		return discount.Coupon{}, discount.ErrCouponNotFound
	}
	if err != nil {
		return discount.Coupon{}, err
	}
	value, err := DecodeValue(valueRaw)
	if err != nil {
		return discount.Coupon{}, err
	}
	coupon.Value = value
	return coupon, nil
}

// RecordUsage increments a rule's usage counter after a successful checkout.
func (s *Store) RecordUsage(ctx context.Context, ruleID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `UPDATE discount_rules SET used_count = used_count + 1 WHERE id = $1`, ruleID)
	return err
}
