package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateCartParams holds the values captured when a cart is opened.
type CreateCartParams struct {
	OwnerID    uuid.NullUUID
	ShopID     uuid.UUID
	CurrencyID uuid.UUID
	Rate       decimal.Decimal
}

// CreateCartItemParams holds the values of a new cart line.
type CreateCartItemParams struct {
	CartID   uuid.UUID
	MemberID uuid.NullUUID
	StockID  uuid.UUID
	Quantity int32
	ParentID uuid.NullUUID
	ExtraIDs []uuid.UUID
}

// UpsertBonusItemParams identifies a bonus line by the line that earned it. ID is only
// used when the line is created.
type UpsertBonusItemParams struct {
	ID            uuid.UUID
	CartID        uuid.UUID
	BonusSourceID uuid.UUID
	StockID       uuid.UUID
	Quantity      int32
}

// UpdateCartStatusParams moves a cart through its lifecycle.
type UpdateCartStatusParams struct {
	ID      uuid.UUID
	Status  CartStatus
	OrderID uuid.NullUUID
}

// CreateCartMemberParams describes a group cart participant.
type CreateCartMemberParams struct {
	CartID uuid.UUID
	UserID uuid.NullUUID
	Name   string
}

// InsertCouponUsageParams records one coupon redemption for one order.
type InsertCouponUsageParams struct {
	CouponID uuid.UUID
	OrderID  uuid.UUID
	Amount   decimal.Decimal
}

// CreditPointsParams credits cashback points earned by an order.
type CreditPointsParams struct {
	OrderID uuid.UUID
	UserID  uuid.UUID
	Points  int64
}

// Querier lists every statement the service issues. Both the Postgres queries and the
// in-memory store implement it, inside and outside a transaction.
//
// Writes to a cart, its lines and its members return pgx.ErrNoRows once the cart is no longer
// open. They wait for a checkout holding the cart row lock.
type Querier interface {
	GetStock(ctx context.Context, id uuid.UUID) (Stock, error)
	ListStocks(ctx context.Context, ids []uuid.UUID) ([]Stock, error)
	// LockStocks loads the rows FOR UPDATE in ascending id order.
	LockStocks(ctx context.Context, ids []uuid.UUID) ([]Stock, error)
	// DecrementStock subtracts qty when enough is left and returns the remaining quantity.
	// It returns pgx.ErrNoRows when the guard rejects the update.
	DecrementStock(ctx context.Context, id uuid.UUID, qty int32) (int32, error)

	GetShop(ctx context.Context, id uuid.UUID) (Shop, error)
	UpsertShop(ctx context.Context, shop Shop) error
	GetCurrency(ctx context.Context, id uuid.UUID) (Currency, error)

	CreateCart(ctx context.Context, arg CreateCartParams) (Cart, error)
	GetCart(ctx context.Context, id uuid.UUID) (Cart, error)
	GetOpenCartByOwner(ctx context.Context, ownerID, shopID uuid.UUID) (Cart, error)
	LockCart(ctx context.Context, id uuid.UUID) (Cart, error)
	UpdateCartCoupon(ctx context.Context, id uuid.UUID, code *string) error
	UpdateCartGroup(ctx context.Context, id uuid.UUID, group bool) error
	UpdateCartStatus(ctx context.Context, arg UpdateCartStatusParams) error

	ListCartItems(ctx context.Context, cartID uuid.UUID) ([]CartItem, error)
	GetCartItem(ctx context.Context, id uuid.UUID) (CartItem, error)
	CreateCartItem(ctx context.Context, arg CreateCartItemParams) (CartItem, error)
	UpdateCartItemQty(ctx context.Context, id uuid.UUID, qty int32) error
	// DeleteCartItems removes the lines and any line nested under them.
	DeleteCartItems(ctx context.Context, cartID uuid.UUID, ids []uuid.UUID) error
	UpsertBonusItem(ctx context.Context, arg UpsertBonusItemParams) error
	DeleteStaleBonusItems(ctx context.Context, cartID uuid.UUID, keep []uuid.UUID) error

	CreateCartMember(ctx context.Context, arg CreateCartMemberParams) (CartMember, error)
	ListCartMembers(ctx context.Context, cartID uuid.UUID) ([]CartMember, error)
	UpdateCartMemberReady(ctx context.Context, id uuid.UUID, ready bool) error
	DeleteCartMember(ctx context.Context, cartID, id uuid.UUID) error

	GetCouponByCode(ctx context.Context, shopID uuid.UUID, code string) (Coupon, error)
	GetCouponByCodeForUpdate(ctx context.Context, shopID uuid.UUID, code string) (Coupon, error)
	// IncreaseCouponUsedCount returns pgx.ErrNoRows when the usage limit is already reached.
	IncreaseCouponUsedCount(ctx context.Context, id uuid.UUID) error
	// InsertCouponUsage fails with a unique violation when the order already redeemed the coupon.
	InsertCouponUsage(ctx context.Context, arg InsertCouponUsageParams) error

	CreateOrder(ctx context.Context, arg Order) (Order, error)
	CreateOrderDetail(ctx context.Context, arg OrderDetail) error
	GetOrder(ctx context.Context, id uuid.UUID) (Order, error)
	ListOrderDetails(ctx context.Context, orderID uuid.UUID) ([]OrderDetail, error)

	// CreditPoints is a no-op when the order was already credited.
	CreditPoints(ctx context.Context, arg CreditPointsParams) (bool, error)
	GetPointBalance(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Store is a Querier that can also run a function inside a single transaction.
type Store interface {
	Querier
	WithinTx(ctx context.Context, fn func(Querier) error) error
	Ping(ctx context.Context) error
}
