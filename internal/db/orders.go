package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, cart_id, user_id, shop_id, currency_id, rate, status, delivery_type, origin_price, total_price,
       total_discount, tax, delivery_fee, commission_fee, coupon_code, coupon_price, points_earned, created_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.CartID, &o.UserID, &o.ShopID, &o.CurrencyID, &o.Rate, &o.Status, &o.DeliveryType,
		&o.OriginPrice, &o.TotalPrice, &o.TotalDiscount, &o.Tax, &o.DeliveryFee, &o.CommissionFee,
		&o.CouponCode, &o.CouponPrice, &o.PointsEarned, &o.CreatedAt)
	return o, err
}

const createOrder = `
INSERT INTO orders (id, cart_id, user_id, shop_id, currency_id, rate, status, delivery_type, origin_price, total_price,
    total_discount, tax, delivery_fee, commission_fee, coupon_code, coupon_price, points_earned)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
RETURNING ` + orderColumns

// CreateOrder inserts the order. A second order for the same cart fails with a unique violation.
func (q *Queries) CreateOrder(ctx context.Context, o Order) (Order, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return scanOrder(q.db.QueryRow(ctx, createOrder,
		o.ID, o.CartID, o.UserID, o.ShopID, o.CurrencyID, o.Rate, o.Status, string(o.DeliveryType),
		o.OriginPrice, o.TotalPrice, o.TotalDiscount, o.Tax, o.DeliveryFee, o.CommissionFee,
		o.CouponCode, o.CouponPrice, o.PointsEarned))
}

const createOrderDetail = `
INSERT INTO order_details (id, order_id, stock_id, parent_id, quantity, bonus, unit_price, origin_price, discount, total_price)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

func (q *Queries) CreateOrderDetail(ctx context.Context, d OrderDetail) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	_, err := q.db.Exec(ctx, createOrderDetail, d.ID, d.OrderID, d.StockID, d.ParentID, d.Quantity, d.Bonus,
		d.UnitPrice, d.OriginPrice, d.Discount, d.TotalPrice)
	return err
}

const getOrder = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, id))
}

const listOrderDetails = `
SELECT id, order_id, stock_id, parent_id, quantity, bonus, unit_price, origin_price, discount, total_price
FROM order_details WHERE order_id = $1 ORDER BY bonus, id
`

func (q *Queries) ListOrderDetails(ctx context.Context, orderID uuid.UUID) ([]OrderDetail, error) {
	rows, err := q.db.Query(ctx, listOrderDetails, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OrderDetail
	for rows.Next() {
		var d OrderDetail
		if err := rows.Scan(&d.ID, &d.OrderID, &d.StockID, &d.ParentID, &d.Quantity, &d.Bonus,
			&d.UnitPrice, &d.OriginPrice, &d.Discount, &d.TotalPrice); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
