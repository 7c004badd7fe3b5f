package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const couponColumns = `id, shop_id, code, kind, value, min_spend, usage_limit, used_count, start_at, expired_at, product_ids, category_ids`

func scanCoupon(row pgx.Row) (Coupon, error) {
	var c Coupon
	err := row.Scan(&c.ID, &c.ShopID, &c.Code, &c.Kind, &c.Value, &c.MinSpend, &c.UsageLimit,
		&c.UsedCount, &c.StartAt, &c.ExpiredAt, &c.ProductIDs, &c.CategoryIDs)
	return c, err
}

const getCouponByCode = `SELECT ` + couponColumns + ` FROM coupons WHERE shop_id = $1 AND upper(code) = upper($2)`

// GetCouponByCode looks up a coupon case-insensitively within a shop.
func (q *Queries) GetCouponByCode(ctx context.Context, shopID uuid.UUID, code string) (Coupon, error) {
	return scanCoupon(q.db.QueryRow(ctx, getCouponByCode, shopID, code))
}

const getCouponByCodeForUpdate = getCouponByCode + ` FOR UPDATE`

// GetCouponByCodeForUpdate is GetCouponByCode holding the coupon row lock.
func (q *Queries) GetCouponByCodeForUpdate(ctx context.Context, shopID uuid.UUID, code string) (Coupon, error) {
	return scanCoupon(q.db.QueryRow(ctx, getCouponByCodeForUpdate, shopID, code))
}

const increaseCouponUsedCount = `
UPDATE coupons SET used_count = used_count + 1
WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)
`

func (q *Queries) IncreaseCouponUsedCount(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, increaseCouponUsedCount, id)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

const insertCouponUsage = `INSERT INTO coupon_usages (coupon_id, order_id, amount) VALUES ($1, $2, $3)`

func (q *Queries) InsertCouponUsage(ctx context.Context, arg InsertCouponUsageParams) error {
	_, err := q.db.Exec(ctx, insertCouponUsage, arg.CouponID, arg.OrderID, arg.Amount)
	return err
}
