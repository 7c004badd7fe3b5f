package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const cartColumns = `id, owner_id, shop_id, currency_id, rate, status, is_group, coupon_code, order_id, created_at, updated_at, deleted_at`

func scanCart(row pgx.Row) (Cart, error) {
	var c Cart
	err := row.Scan(&c.ID, &c.OwnerID, &c.ShopID, &c.CurrencyID, &c.Rate, &c.Status, &c.Group,
		&c.CouponCode, &c.OrderID, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
	return c, err
}

const createCart = `
INSERT INTO carts (owner_id, shop_id, currency_id, rate)
VALUES ($1, $2, $3, $4)
RETURNING ` + cartColumns

func (q *Queries) CreateCart(ctx context.Context, arg CreateCartParams) (Cart, error) {
	return scanCart(q.db.QueryRow(ctx, createCart, arg.OwnerID, arg.ShopID, arg.CurrencyID, arg.Rate))
}

const getCart = `SELECT ` + cartColumns + ` FROM carts WHERE id = $1`

func (q *Queries) GetCart(ctx context.Context, id uuid.UUID) (Cart, error) {
	return scanCart(q.db.QueryRow(ctx, getCart, id))
}

const getOpenCartByOwner = `
SELECT ` + cartColumns + ` FROM carts
WHERE owner_id = $1 AND shop_id = $2 AND status = 'open'
ORDER BY created_at DESC
LIMIT 1
`

func (q *Queries) GetOpenCartByOwner(ctx context.Context, ownerID, shopID uuid.UUID) (Cart, error) {
	return scanCart(q.db.QueryRow(ctx, getOpenCartByOwner, ownerID, shopID))
}

const lockCart = getCart + ` FOR UPDATE`

// LockCart loads the cart and holds its row lock until the transaction ends.
func (q *Queries) LockCart(ctx context.Context, id uuid.UUID) (Cart, error) {
	return scanCart(q.db.QueryRow(ctx, lockCart, id))
}

const updateCartCoupon = `UPDATE carts SET coupon_code = $2, updated_at = now() WHERE id = $1 AND status = 'open'`

func (q *Queries) UpdateCartCoupon(ctx context.Context, id uuid.UUID, code *string) error {
	tag, err := q.db.Exec(ctx, updateCartCoupon, id, code)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

const updateCartGroup = `UPDATE carts SET is_group = $2, updated_at = now() WHERE id = $1 AND status = 'open'`

func (q *Queries) UpdateCartGroup(ctx context.Context, id uuid.UUID, group bool) error {
	tag, err := q.db.Exec(ctx, updateCartGroup, id, group)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

const updateCartStatus = `
UPDATE carts SET status = $2, order_id = COALESCE($3, order_id), updated_at = now(),
    deleted_at = CASE WHEN $2 = 'deleted' THEN now() ELSE deleted_at END
WHERE id = $1 AND status = 'open'
`

// UpdateCartStatus moves an open cart on. Ordered and deleted carts are final, so it returns
// pgx.ErrNoRows for them.
func (q *Queries) UpdateCartStatus(ctx context.Context, arg UpdateCartStatusParams) error {
	tag, err := q.db.Exec(ctx, updateCartStatus, arg.ID, string(arg.Status), arg.OrderID)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

const cartItemColumns = `id, cart_id, member_id, stock_id, quantity, parent_id, extra_ids, bonus, bonus_source_id, created_at`

func scanCartItem(row pgx.Row) (CartItem, error) {
	var it CartItem
	err := row.Scan(&it.ID, &it.CartID, &it.MemberID, &it.StockID, &it.Quantity, &it.ParentID,
		&it.ExtraIDs, &it.Bonus, &it.BonusSourceID, &it.CreatedAt)
	return it, err
}

const listCartItems = `SELECT ` + cartItemColumns + ` FROM cart_items WHERE cart_id = $1 ORDER BY created_at, id`

// ListCartItems returns every line of the cart, including nested addons and bonus lines.
func (q *Queries) ListCartItems(ctx context.Context, cartID uuid.UUID) ([]CartItem, error) {
	rows, err := q.db.Query(ctx, listCartItems, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CartItem
	for rows.Next() {
		it, err := scanCartItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

const getCartItem = `SELECT ` + cartItemColumns + ` FROM cart_items WHERE id = $1`

func (q *Queries) GetCartItem(ctx context.Context, id uuid.UUID) (CartItem, error) {
	return scanCartItem(q.db.QueryRow(ctx, getCartItem, id))
}

// openCart locks the cart row of $1 in share mode while it is open. A statement built on it
// waits for a running checkout and then sees the cart as ordered.
const openCart = `
WITH open_cart AS (
    SELECT id FROM carts WHERE id = $1 AND status = 'open' FOR SHARE
)`

const createCartItem = openCart + `
INSERT INTO cart_items (cart_id, member_id, stock_id, quantity, parent_id, extra_ids)
SELECT id, $2::uuid, $3::uuid, $4::integer, $5::uuid, COALESCE($6::uuid[], '{}'::uuid[]) FROM open_cart
RETURNING ` + cartItemColumns

func (q *Queries) CreateCartItem(ctx context.Context, arg CreateCartItemParams) (CartItem, error) {
	return scanCartItem(q.db.QueryRow(ctx, createCartItem,
		arg.CartID, arg.MemberID, arg.StockID, arg.Quantity, arg.ParentID, arg.ExtraIDs))
}

const updateCartItemQty = `
WITH open_cart AS (
    SELECT c.id FROM carts c JOIN cart_items i ON i.cart_id = c.id
    WHERE i.id = $1 AND c.status = 'open'
    FOR SHARE OF c
)
UPDATE cart_items SET quantity = $2
FROM open_cart
WHERE cart_items.id = $1 AND cart_items.cart_id = open_cart.id AND NOT cart_items.bonus
`

func (q *Queries) UpdateCartItemQty(ctx context.Context, id uuid.UUID, qty int32) error {
	tag, err := q.db.Exec(ctx, updateCartItemQty, id, qty)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

const deleteCartItems = openCart + `, removed AS (
    DELETE FROM cart_items
    WHERE cart_id IN (SELECT id FROM open_cart)
      AND (id = ANY($2::uuid[]) OR parent_id = ANY($2::uuid[]) OR bonus_source_id = ANY($2::uuid[]))
)
SELECT count(*) FROM open_cart
`

func (q *Queries) DeleteCartItems(ctx context.Context, cartID uuid.UUID, ids []uuid.UUID) error {
	return q.guarded(ctx, deleteCartItems, cartID, ids)
}

// guarded runs a statement that reports how many open carts it matched.
func (q *Queries) guarded(ctx context.Context, sql string, args ...any) error {
	var open int
	if err := q.db.QueryRow(ctx, sql, args...).Scan(&open); err != nil {
		return err
	}
	if open == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

const upsertBonusItem = openCart + `
INSERT INTO cart_items (id, cart_id, stock_id, quantity, bonus, bonus_source_id)
SELECT $2::uuid, id, $3::uuid, $4::integer, TRUE, $5::uuid FROM open_cart
ON CONFLICT (cart_id, bonus_source_id) DO UPDATE SET stock_id = EXCLUDED.stock_id, quantity = EXCLUDED.quantity
`

// UpsertBonusItem creates or resizes the bonus line earned by BonusSourceID.
func (q *Queries) UpsertBonusItem(ctx context.Context, arg UpsertBonusItemParams) error {
	tag, err := q.db.Exec(ctx, upsertBonusItem, arg.CartID, arg.ID, arg.StockID, arg.Quantity, arg.BonusSourceID)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

const deleteStaleBonusItems = openCart + `, removed AS (
    DELETE FROM cart_items
    WHERE cart_id IN (SELECT id FROM open_cart) AND bonus AND NOT (bonus_source_id = ANY($2::uuid[]))
)
SELECT count(*) FROM open_cart
`

// DeleteStaleBonusItems drops bonus lines whose source is not in keep.
func (q *Queries) DeleteStaleBonusItems(ctx context.Context, cartID uuid.UUID, keep []uuid.UUID) error {
	if keep == nil {
		keep = []uuid.UUID{}
	}
	return q.guarded(ctx, deleteStaleBonusItems, cartID, keep)
}

const cartMemberColumns = `id, cart_id, user_id, name, ready, created_at`

func scanCartMember(row pgx.Row) (CartMember, error) {
	var m CartMember
	err := row.Scan(&m.ID, &m.CartID, &m.UserID, &m.Name, &m.Ready, &m.CreatedAt)
	return m, err
}

const createCartMember = openCart + `
INSERT INTO cart_members (cart_id, user_id, name)
SELECT id, $2::uuid, $3::text FROM open_cart
RETURNING ` + cartMemberColumns

func (q *Queries) CreateCartMember(ctx context.Context, arg CreateCartMemberParams) (CartMember, error) {
	return scanCartMember(q.db.QueryRow(ctx, createCartMember, arg.CartID, arg.UserID, arg.Name))
}

const listCartMembers = `SELECT ` + cartMemberColumns + ` FROM cart_members WHERE cart_id = $1 ORDER BY created_at, id`

func (q *Queries) ListCartMembers(ctx context.Context, cartID uuid.UUID) ([]CartMember, error) {
	rows, err := q.db.Query(ctx, listCartMembers, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CartMember
	for rows.Next() {
		m, err := scanCartMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const updateCartMemberReady = `
WITH open_cart AS (
    SELECT c.id FROM carts c JOIN cart_members m ON m.cart_id = c.id
    WHERE m.id = $1 AND c.status = 'open'
    FOR SHARE OF c
)
UPDATE cart_members SET ready = $2
FROM open_cart
WHERE cart_members.id = $1 AND cart_members.cart_id = open_cart.id
`

func (q *Queries) UpdateCartMemberReady(ctx context.Context, id uuid.UUID, ready bool) error {
	tag, err := q.db.Exec(ctx, updateCartMemberReady, id, ready)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

const deleteCartMember = openCart + `
DELETE FROM cart_members USING open_cart
WHERE cart_members.cart_id = open_cart.id AND cart_members.id = $2
`

// DeleteCartMember removes the member; its lines cascade.
func (q *Queries) DeleteCartMember(ctx context.Context, cartID, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, deleteCartMember, cartID, id)
	if err != nil {
		return err
	}
	return expectOne(tag)
}
