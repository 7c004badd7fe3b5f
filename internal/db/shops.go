package db

import (
	"context"

	"github.com/google/uuid"
)

const getShop = `
SELECT id, tax_rate, commission_rate, delivery_fee, free_delivery_over, min_order_amount,
       bonus_coupon_eligible, updated_at
FROM shops WHERE id = $1
`

const listCashbackTiers = `
SELECT threshold, rate FROM cashback_tiers WHERE shop_id = $1 ORDER BY threshold
`

// GetShop loads the pricing configuration of a shop with its cashback tiers.
func (q *Queries) GetShop(ctx context.Context, id uuid.UUID) (Shop, error) {
	var s Shop
	err := q.db.QueryRow(ctx, getShop, id).Scan(
		&s.ID, &s.TaxRate, &s.CommissionRate, &s.DeliveryFee, &s.FreeDeliveryOver,
		&s.MinOrderAmount, &s.BonusCouponEligible, &s.UpdatedAt,
	)
	if err != nil {
		return Shop{}, err
	}
	rows, err := q.db.Query(ctx, listCashbackTiers, id)
	if err != nil {
		return Shop{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var t CashbackTier
		if err := rows.Scan(&t.Threshold, &t.Rate); err != nil {
			return Shop{}, err
		}
		s.CashbackTiers = append(s.CashbackTiers, t)
	}
	return s, rows.Err()
}

const upsertShop = `
INSERT INTO shops (id, tax_rate, commission_rate, delivery_fee, free_delivery_over, min_order_amount, bonus_coupon_eligible, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (id) DO UPDATE SET
    tax_rate = EXCLUDED.tax_rate,
    commission_rate = EXCLUDED.commission_rate,
    delivery_fee = EXCLUDED.delivery_fee,
    free_delivery_over = EXCLUDED.free_delivery_over,
    min_order_amount = EXCLUDED.min_order_amount,
    bonus_coupon_eligible = EXCLUDED.bonus_coupon_eligible,
    updated_at = now()
`

const deleteCashbackTiers = `DELETE FROM cashback_tiers WHERE shop_id = $1`

const insertCashbackTier = `INSERT INTO cashback_tiers (shop_id, threshold, rate) VALUES ($1, $2, $3)`

// UpsertShop writes the shop configuration and replaces its cashback tiers.
// Callers wanting atomicity run it inside WithinTx.
func (q *Queries) UpsertShop(ctx context.Context, s Shop) error {
	if _, err := q.db.Exec(ctx, upsertShop,
		s.ID, s.TaxRate, s.CommissionRate, s.DeliveryFee, s.FreeDeliveryOver, s.MinOrderAmount, s.BonusCouponEligible,
	); err != nil {
		return err
	}
	if _, err := q.db.Exec(ctx, deleteCashbackTiers, s.ID); err != nil {
		return err
	}
	for _, t := range s.CashbackTiers {
		if _, err := q.db.Exec(ctx, insertCashbackTier, s.ID, t.Threshold, t.Rate); err != nil {
			return err
		}
	}
	return nil
}

const getCurrency = `SELECT id, code, rate, is_default FROM currencies WHERE id = $1`

// GetCurrency loads a display currency.
func (q *Queries) GetCurrency(ctx context.Context, id uuid.UUID) (Currency, error) {
	var c Currency
	err := q.db.QueryRow(ctx, getCurrency, id).Scan(&c.ID, &c.Code, &c.Rate, &c.Default)
	return c, err
}
