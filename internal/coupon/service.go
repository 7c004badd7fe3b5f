package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/db"
)

// Querier captures the statements the evaluator needs. Both db.Querier and a transaction
// bound querier satisfy it.
type Querier interface {
	GetCouponByCode(ctx context.Context, shopID uuid.UUID, code string) (db.Coupon, error)
	GetCouponByCodeForUpdate(ctx context.Context, shopID uuid.UUID, code string) (db.Coupon, error)
	IncreaseCouponUsedCount(ctx context.Context, id uuid.UUID) error
	InsertCouponUsage(ctx context.Context, arg db.InsertCouponUsageParams) error
}

// Request is one coupon evaluation.
type Request struct {
	ShopID uuid.UUID
	Code   string
	Items  []Item
	// Spend is compared with the minimum spend; it is the net subtotal.
	Spend decimal.Decimal
	// IncludeBonus adds the value of bonus lines to Spend for the minimum spend check.
	IncludeBonus bool
	// Lock reads the coupon FOR UPDATE. Only set it inside a transaction.
	Lock bool
}

// Outcome describes a coupon that can be applied.
type Outcome struct {
	Coupon   db.Coupon
	Eligible decimal.Decimal
	Amount   decimal.Decimal
}

// Evaluator validates coupons and redeems them.
type Evaluator struct {
	Now func() time.Time
}

// Evaluate validates the code against the cart and returns the reduction. Every failure
// wraps ErrCouponInvalid.
func (e *Evaluator) Evaluate(ctx context.Context, q Querier, req Request) (Outcome, error) {
	if q == nil {
		return Outcome{}, errors.New("coupon: querier not configured")
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return Outcome{}, fmt.Errorf("code is required: %w", ErrNotFound)
	}
	lookup := q.GetCouponByCode
	if req.Lock {
		lookup = q.GetCouponByCodeForUpdate
	}
	c, err := lookup(ctx, req.ShopID, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Outcome{}, fmt.Errorf("code %q: %w", code, ErrNotFound)
		}
		return Outcome{}, err
	}
	rule := RuleFromModel(c)
	spend := req.Spend
	if req.IncludeBonus {
		spend = spend.Add(BonusValue(req.Items))
	}
	if err := rule.Validate(e.now(), spend); err != nil {
		return Outcome{}, fmt.Errorf("code %q: %w", c.Code, err)
	}
	eligible := EligibleSubtotal(req.Items, rule)
	amount := Compute(eligible, rule)
	if !amount.IsPositive() {
		return Outcome{}, fmt.Errorf("code %q: %w", c.Code, ErrNotEligible)
	}
	return Outcome{Coupon: c, Eligible: eligible, Amount: amount}, nil
}

// Redeem consumes one use of the coupon for the order. It must run in the transaction that
// creates the order; a coupon whose limit was reached concurrently fails with ErrExhausted.
func (e *Evaluator) Redeem(ctx context.Context, q Querier, c db.Coupon, orderID uuid.UUID, amount decimal.Decimal) error {
	if err := q.IncreaseCouponUsedCount(ctx, c.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("code %q: %w", c.Code, ErrExhausted)
		}
		return err
	}
	if err := q.InsertCouponUsage(ctx, db.InsertCouponUsageParams{CouponID: c.ID, OrderID: orderID, Amount: amount}); err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("code %q already used by order %s: %w", c.Code, orderID, ErrCouponInvalid)
		}
		return err
	}
	return nil
}

func (e *Evaluator) now() time.Time {
	if e != nil && e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
