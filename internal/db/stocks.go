package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const stockColumns = `
SELECT s.id, s.product_id, s.shop_id, s.category_id, s.price, s.quantity, s.addon,
       s.extra_value_ids, s.deleted_at,
       COALESCE((SELECT array_agg(a.addon_stock_id ORDER BY a.addon_stock_id) FROM stock_addons a WHERE a.stock_id = s.id), '{}') AS addon_ids,
       d.id, d.kind, d.value, d.start_at, d.end_at,
       b.id, b.trigger_qty, b.bonus_stock_id, b.bonus_quantity, b.expired_at
FROM stocks s
LEFT JOIN LATERAL (
    SELECT dd.id, dd.kind, dd.value, dd.start_at, dd.end_at
    FROM discounts dd
    JOIN product_discounts pd ON pd.discount_id = dd.id
    WHERE pd.product_id = s.product_id AND dd.active
    ORDER BY dd.id
    LIMIT 1
) d ON TRUE
LEFT JOIN bonuses b ON b.stock_id = s.id AND b.active
`

const getStock = stockColumns + `WHERE s.id = $1`

// GetStock loads a stock with its discount and bonus rule, including soft-deleted rows.
func (q *Queries) GetStock(ctx context.Context, id uuid.UUID) (Stock, error) {
	return scanStock(q.db.QueryRow(ctx, getStock, id))
}

const listStocks = stockColumns + `WHERE s.id = ANY($1::uuid[]) ORDER BY s.id`

// ListStocks loads the stocks with the given ids. Missing ids are simply absent from the result.
func (q *Queries) ListStocks(ctx context.Context, ids []uuid.UUID) ([]Stock, error) {
	return q.queryStocks(ctx, listStocks, ids)
}

const lockStocks = listStocks + ` FOR UPDATE OF s`

// LockStocks loads the stocks and holds their row locks until the transaction ends.
func (q *Queries) LockStocks(ctx context.Context, ids []uuid.UUID) ([]Stock, error) {
	return q.queryStocks(ctx, lockStocks, ids)
}

const decrementStock = `
UPDATE stocks SET quantity = quantity - $2
WHERE id = $1 AND deleted_at IS NULL AND quantity >= $2
RETURNING quantity
`

// DecrementStock subtracts qty from the stock unless that would make it negative.
func (q *Queries) DecrementStock(ctx context.Context, id uuid.UUID, qty int32) (int32, error) {
	var remaining int32
	err := q.db.QueryRow(ctx, decrementStock, id, qty).Scan(&remaining)
	return remaining, err
}

func (q *Queries) queryStocks(ctx context.Context, query string, ids []uuid.UUID) ([]Stock, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Stock
	for rows.Next() {
		s, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanStock(row pgx.Row) (Stock, error) {
	var (
		s         Stock
		dID       uuid.NullUUID
		dKind     *string
		dValue    decimal.NullDecimal
		dStart    *time.Time
		dEnd      *time.Time
		bID       uuid.NullUUID
		bTrigger  *int32
		bStockID  uuid.NullUUID
		bQuantity *int32
		bExpired  *time.Time
	)
	if err := row.Scan(
		&s.ID, &s.ProductID, &s.ShopID, &s.CategoryID, &s.Price, &s.Quantity, &s.Addon,
		&s.ExtraValueIDs, &s.DeletedAt, &s.AddonIDs,
		&dID, &dKind, &dValue, &dStart, &dEnd,
		&bID, &bTrigger, &bStockID, &bQuantity, &bExpired,
	); err != nil {
		return Stock{}, err
	}
	if dID.Valid && dKind != nil && dValue.Valid {
		s.Discount = &Discount{ID: dID.UUID, Kind: DiscountKind(*dKind), Value: dValue.Decimal, StartAt: dStart, EndAt: dEnd}
	}
	if bID.Valid && bTrigger != nil && bStockID.Valid && bQuantity != nil {
		s.Bonus = &Bonus{ID: bID.UUID, StockID: s.ID, Trigger: *bTrigger, BonusStockID: bStockID.UUID, BonusQuantity: *bQuantity, ExpiredAt: bExpired}
	}
	return s, nil
}
