package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-pricing/internal/cashback"
	"github.com/noah-isme/toko-pricing/internal/coupon"
	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/money"
	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/shop"
	"github.com/noah-isme/toko-pricing/internal/stock"
)

// ShopConfigs resolves the pricing configuration of a shop.
type ShopConfigs interface {
	Config(ctx context.Context, id uuid.UUID) (shop.Config, error)
}

// QuoteOptions tune a single quote.
type QuoteOptions struct {
	DeliveryType db.DeliveryType
	// CouponCode replaces the code stored on the cart when set. An empty string prices
	// without a coupon.
	CouponCode *string
	// RequireCoupon turns a rejected coupon into an error instead of a warning.
	RequireCoupon bool
	// LockCoupon reads the coupon FOR UPDATE; only inside a transaction.
	LockCoupon bool
}

// Quote is a fully priced cart.
type Quote struct {
	Cart    db.Cart
	Shop    shop.Config
	Items   []db.CartItem
	Lines   []pricing.LinePrice
	Summary pricing.Summary
	// Coupon is nil when no coupon applies.
	Coupon *coupon.Outcome
}

// Calculator runs the pricing pipeline: resolve stocks, evaluate discounts and bonuses,
// evaluate the coupon, aggregate totals and derive cashback.
type Calculator struct {
	Shops   ShopConfigs
	Coupons *coupon.Evaluator
	Now     func() time.Time
}

// Quote prices cart using items stored in q and stocks read from src. Stored bonus lines
// are ignored and derived again from the current rules.
func (c *Calculator) Quote(ctx context.Context, q db.Querier, src stock.Source, cart db.Cart, opts QuoteOptions) (Quote, error) {
	ctx, span := otel.Tracer("cart.Calculator").Start(ctx, "Calculator.Quote")
	defer span.End()
	span.SetAttributes(attribute.String("cart.id", cart.ID.String()), attribute.String("shop.id", cart.ShopID.String()))

	out, err := c.quote(ctx, q, src, cart, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		obs.ObserveQuote("error")
		return out, err
	}
	obs.ObserveQuote("ok")
	return out, nil
}

func (c *Calculator) quote(ctx context.Context, q db.Querier, src stock.Source, cart db.Cart, opts QuoteOptions) (Quote, error) {
	if c == nil || c.Shops == nil {
		return Quote{}, errors.New("cart calculator not configured")
	}
	if _, err := money.NewConverter(cart.Rate); err != nil {
		return Quote{}, err
	}
	cfg, err := c.Shops.Config(ctx, cart.ShopID)
	if err != nil {
		return Quote{}, err
	}
	items, err := q.ListCartItems(ctx, cart.ID)
	if err != nil {
		return Quote{}, fmt.Errorf("list items: %w", err)
	}

	reqs := make([]stock.LineRequest, 0, len(items))
	members := make(map[uuid.UUID]uuid.NullUUID, len(items))
	for _, it := range items {
		if it.Bonus {
			continue
		}
		members[it.ID] = it.MemberID
		reqs = append(reqs, stock.LineRequest{
			ID:       it.ID,
			StockID:  it.StockID,
			Quantity: it.Quantity,
			ParentID: it.ParentID,
			ExtraIDs: it.ExtraIDs,
		})
	}
	res, err := stock.NewResolver(src).ResolveLines(ctx, cart.ShopID, reqs)
	if err != nil {
		return Quote{}, err
	}

	lines := make([]pricing.Line, 0, len(res.Lines))
	for _, l := range res.Lines {
		line := pricing.LineFromStock(l.ID, l.Stock, l.Quantity)
		line.ParentID = l.ParentID
		line.MemberID = members[l.ID]
		lines = append(lines, line)
	}
	available := make(map[uuid.UUID]int32, len(res.Stocks))
	for id := range res.Stocks {
		available[id] = res.Available(id)
	}
	priced := pricing.Evaluate(lines, res.Stocks, available, c.now())

	code := ""
	if cart.CouponCode != nil {
		code = *cart.CouponCode
	}
	if opts.CouponCode != nil {
		code = *opts.CouponCode
	}
	var (
		outcome *coupon.Outcome
		reject  error
	)
	if code != "" {
		o, err := c.Coupons.Evaluate(ctx, q, coupon.Request{
			ShopID:       cart.ShopID,
			Code:         code,
			Items:        couponItems(priced),
			Spend:        netSubtotal(priced),
			IncludeBonus: cfg.BonusCouponEligible,
			Lock:         opts.LockCoupon,
		})
		switch {
		case err == nil:
			outcome = &o
		case errors.Is(err, coupon.ErrCouponInvalid) && !opts.RequireCoupon:
			reject = err
			obs.ObserveCoupon(false)
		default:
			return Quote{}, err
		}
	}

	in := pricing.Input{
		Lines:        priced,
		Shop:         cfg.Rates,
		DeliveryType: opts.DeliveryType,
		Rate:         cart.Rate,
		TaxBase:      cfg.TaxBase,
	}
	if outcome != nil {
		in.Coupon = outcome.Amount
	}
	summary, err := pricing.Aggregate(in)
	if err != nil {
		return Quote{}, err
	}
	summary.Coupon.Code = code
	summary.Coupon.Applied = outcome != nil
	if reject != nil {
		summary.Coupon.Reason = reject.Error()
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("coupon %s not applied: %s", code, reject.Error()))
	}
	summary.Cashback.Points = cashback.Points(summary.Base.TotalPrice, cfg.CashbackTiers)

	return Quote{
		Cart:    cart,
		Shop:    cfg,
		Items:   items,
		Lines:   priced,
		Summary: summary,
		Coupon:  outcome,
	}, nil
}

func (c *Calculator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func couponItems(lines []pricing.LinePrice) []coupon.Item {
	out := make([]coupon.Item, 0, len(lines))
	for _, l := range lines {
		out = append(out, coupon.Item{
			ProductID:  l.ProductID,
			CategoryID: l.CategoryID,
			Bonus:      l.Bonus,
			Subtotal:   l.Total,
			Value:      l.Origin,
		})
	}
	return out
}

func netSubtotal(lines []pricing.LinePrice) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Total)
	}
	return sum
}
