package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartStatus enumerates the cart lifecycle states.
type CartStatus string

const (
	CartStatusOpen    CartStatus = "open"
	CartStatusOrdered CartStatus = "ordered"
	CartStatusDeleted CartStatus = "deleted"
)

// DiscountKind enumerates discount and coupon value kinds.
type DiscountKind string

const (
	DiscountKindPercent DiscountKind = "percent"
	DiscountKindFix     DiscountKind = "fix"
)

// DeliveryType enumerates how an order leaves the shop.
type DeliveryType string

const (
	DeliveryTypeDelivery DeliveryType = "delivery"
	DeliveryTypePickup   DeliveryType = "pickup"
	DeliveryTypeDineIn   DeliveryType = "dine_in"
)

// Discount is a product level price reduction.
type Discount struct {
	ID      uuid.UUID
	Kind    DiscountKind
	Value   decimal.Decimal
	StartAt *time.Time
	EndAt   *time.Time
}

// Bonus awards free units of BonusStockID once a line reaches Trigger units.
type Bonus struct {
	ID            uuid.UUID
	StockID       uuid.UUID
	Trigger       int32
	BonusStockID  uuid.UUID
	BonusQuantity int32
	ExpiredAt     *time.Time
}

// Stock is a sellable variant of a product or addon.
type Stock struct {
	ID            uuid.UUID
	ProductID     uuid.UUID
	ShopID        uuid.UUID
	CategoryID    uuid.NullUUID
	Price         decimal.Decimal
	Quantity      int32
	Addon         bool
	AddonIDs      []uuid.UUID
	ExtraValueIDs []uuid.UUID
	DeletedAt     *time.Time
	Discount      *Discount
	Bonus         *Bonus
}

// CashbackTier grants Rate points per base currency unit once spend reaches Threshold.
type CashbackTier struct {
	Threshold decimal.Decimal `json:"threshold"`
	Rate      decimal.Decimal `json:"rate"`
}

// Shop carries the pricing configuration of a shop.
type Shop struct {
	ID                  uuid.UUID
	TaxRate             decimal.Decimal
	CommissionRate      decimal.Decimal
	DeliveryFee         decimal.Decimal
	FreeDeliveryOver    decimal.NullDecimal
	MinOrderAmount      decimal.Decimal
	BonusCouponEligible bool
	CashbackTiers       []CashbackTier
	UpdatedAt           time.Time
}

// Currency is a display currency with its rate against the base currency.
type Currency struct {
	ID      uuid.UUID
	Code    string
	Rate    decimal.Decimal
	Default bool
}

// Cart groups the lines a customer intends to order from a single shop.
type Cart struct {
	ID         uuid.UUID
	OwnerID    uuid.NullUUID
	ShopID     uuid.UUID
	CurrencyID uuid.UUID
	Rate       decimal.Decimal
	Status     CartStatus
	Group      bool
	CouponCode *string
	OrderID    uuid.NullUUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// CartMember is a participant of a group cart.
type CartMember struct {
	ID        uuid.UUID
	CartID    uuid.UUID
	UserID    uuid.NullUUID
	Name      string
	Ready     bool
	CreatedAt time.Time
}

// CartItem is a stored cart line.
type CartItem struct {
	ID            uuid.UUID
	CartID        uuid.UUID
	MemberID      uuid.NullUUID
	StockID       uuid.UUID
	Quantity      int32
	ParentID      uuid.NullUUID
	ExtraIDs      []uuid.UUID
	Bonus         bool
	BonusSourceID uuid.NullUUID
	CreatedAt     time.Time
}

// Coupon is a redeemable shop code.
type Coupon struct {
	ID          uuid.UUID
	ShopID      uuid.UUID
	Code        string
	Kind        DiscountKind
	Value       decimal.Decimal
	MinSpend    decimal.Decimal
	UsageLimit  *int32
	UsedCount   int32
	StartAt     *time.Time
	ExpiredAt   *time.Time
	ProductIDs  []uuid.UUID
	CategoryIDs []uuid.UUID
}

// Order is the frozen snapshot of a materialized cart. Amounts are in base currency.
type Order struct {
	ID            uuid.UUID
	CartID        uuid.UUID
	UserID        uuid.NullUUID
	ShopID        uuid.UUID
	CurrencyID    uuid.UUID
	Rate          decimal.Decimal
	Status        string
	DeliveryType  DeliveryType
	OriginPrice   decimal.Decimal
	TotalPrice    decimal.Decimal
	TotalDiscount decimal.Decimal
	Tax           decimal.Decimal
	DeliveryFee   decimal.Decimal
	CommissionFee decimal.Decimal
	CouponCode    *string
	CouponPrice   decimal.Decimal
	PointsEarned  int64
	CreatedAt     time.Time
}

// OrderDetail is a frozen order line.
type OrderDetail struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	StockID     uuid.UUID
	ParentID    uuid.NullUUID
	Quantity    int32
	Bonus       bool
	UnitPrice   decimal.Decimal
	OriginPrice decimal.Decimal
	Discount    decimal.Decimal
	TotalPrice  decimal.Decimal
}
