package coupon

import (
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/money"
)

// ErrCouponInvalid is wrapped by every reason a coupon cannot be applied.
var ErrCouponInvalid = common.NewAppError(common.CodeCouponInvalid, "coupon is invalid", http.StatusUnprocessableEntity, nil)

func reason(msg string) *common.AppError {
	return common.NewAppError(common.CodeCouponInvalid, msg, http.StatusUnprocessableEntity, ErrCouponInvalid)
}

var (
	// ErrNotFound is returned for unknown codes and codes of another shop.
	ErrNotFound = reason("coupon not found")
	// ErrInactive is returned before the coupon window opens.
	ErrInactive = reason("coupon not active yet")
	// ErrExpired is returned once the coupon window closed.
	ErrExpired = reason("coupon expired")
	// ErrExhausted is returned when the usage limit is reached.
	ErrExhausted = reason("coupon usage limit reached")
	// ErrMinimumSpend is returned when the cart does not reach the minimum spend.
	ErrMinimumSpend = reason("coupon minimum spend not met")
	// ErrNotEligible is returned when no line of the cart falls in the coupon scope.
	ErrNotEligible = reason("coupon not eligible for this cart")
)

// Rule captures the runtime constraints of a coupon.
type Rule struct {
	Code        string
	Kind        db.DiscountKind
	Value       decimal.Decimal
	MinSpend    decimal.Decimal
	UsageLimit  *int32
	UsedCount   int32
	StartAt     *time.Time
	ExpiredAt   *time.Time
	ProductIDs  []uuid.UUID
	CategoryIDs []uuid.UUID
}

// RuleFromModel converts a stored coupon.
func RuleFromModel(c db.Coupon) Rule {
	return Rule{
		Code:        c.Code,
		Kind:        c.Kind,
		Value:       c.Value,
		MinSpend:    c.MinSpend,
		UsageLimit:  c.UsageLimit,
		UsedCount:   c.UsedCount,
		StartAt:     c.StartAt,
		ExpiredAt:   c.ExpiredAt,
		ProductIDs:  c.ProductIDs,
		CategoryIDs: c.CategoryIDs,
	}
}

// Item is a cart line as seen by the coupon scope.
type Item struct {
	ProductID  uuid.UUID
	CategoryID uuid.NullUUID
	Bonus      bool
	// Subtotal is the net line price. Bonus lines are free, so theirs is zero.
	Subtotal decimal.Decimal
	// Value is the undiscounted line price. For a bonus line it is what the free goods are worth.
	Value decimal.Decimal
}

// Validate ensures the rule can be applied at now for a cart spending spend.
func (r Rule) Validate(now time.Time, spend decimal.Decimal) error {
	if r.StartAt != nil && now.Before(*r.StartAt) {
		return ErrInactive
	}
	if r.ExpiredAt != nil && now.After(*r.ExpiredAt) {
		return ErrExpired
	}
	if r.UsageLimit != nil && r.UsedCount >= *r.UsageLimit {
		return ErrExhausted
	}
	if spend.LessThan(r.MinSpend) {
		return ErrMinimumSpend
	}
	return nil
}

// EligibleSubtotal sums the net price of the paid lines inside the coupon scope. It is the
// reduction base, so free bonus lines never add to it.
func EligibleSubtotal(items []Item, r Rule) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if it.Bonus || !it.Subtotal.IsPositive() {
			continue
		}
		if inScope(r, it) {
			total = total.Add(it.Subtotal)
		}
	}
	return total
}

// BonusValue sums what the free bonus lines are worth.
func BonusValue(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if it.Bonus {
			total = total.Add(it.Value)
		}
	}
	return total
}

func inScope(r Rule, it Item) bool {
	if len(r.ProductIDs) == 0 && len(r.CategoryIDs) == 0 {
		return true
	}
	if slices.Contains(r.ProductIDs, it.ProductID) {
		return true
	}
	return it.CategoryID.Valid && slices.Contains(r.CategoryIDs, it.CategoryID.UUID)
}

// Compute returns the reduction for the eligible amount, never more than eligible.
// Percent values are percentage points.
func Compute(eligible decimal.Decimal, r Rule) decimal.Decimal {
	if !eligible.IsPositive() || !r.Value.IsPositive() {
		return decimal.Zero
	}
	amount := r.Value
	if r.Kind == db.DiscountKindPercent {
		amount = eligible.Mul(r.Value).Div(decimal.NewFromInt(100))
	}
	return money.Round(money.Min(amount, eligible))
}
