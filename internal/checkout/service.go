package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-pricing/internal/cart"
	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/coupon"
	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/stock"
	"github.com/noah-isme/toko-pricing/internal/tasks"
)

var (
	// ErrInsufficientStock is returned when a line no longer fits the locked stock.
	ErrInsufficientStock = common.NewAppError(common.CodeInsufficientStock, "insufficient stock", http.StatusConflict, nil)
	// ErrBelowMinimum is returned when the net subtotal is under the shop minimum order.
	ErrBelowMinimum = common.NewAppError(common.CodeBelowMinimum, "order is below the shop minimum", http.StatusUnprocessableEntity, nil)
	// ErrEmptyCart is returned for carts without lines.
	ErrEmptyCart = common.NewAppError(common.CodeValidation, "cart is empty", http.StatusBadRequest, nil)
)

// OrderStatusPlaced is the status of a freshly materialized order.
const OrderStatusPlaced = "placed"

// Input is one checkout request.
type Input struct {
	CartID       uuid.UUID       `json:"cartId"`
	DeliveryType db.DeliveryType `json:"deliveryType"`
	// RequireCoupon fails the checkout instead of pricing without a coupon that no longer applies.
	RequireCoupon bool `json:"requireCoupon"`
}

// Output is the materialized order.
type Output struct {
	Order   db.Order         `json:"order"`
	Details []db.OrderDetail `json:"details"`
	Summary pricing.Summary  `json:"summary"`
}

// Enqueuer schedules the cashback credit of an order.
type Enqueuer interface {
	EnqueueCashback(ctx context.Context, p tasks.CashbackPayload) error
}

// Service materializes carts into orders.
type Service struct {
	Store   db.Store
	Calc    *cart.Calculator
	Coupons *coupon.Evaluator
	Tasks   Enqueuer
	Log     zerolog.Logger
}

// Checkout prices the cart on locked rows, decrements stock, redeems the coupon and freezes the
// order in one transaction. On failure the cart stays open and no stock is touched.
func (s *Service) Checkout(ctx context.Context, user uuid.NullUUID, in Input) (Output, error) {
	if s == nil || s.Store == nil || s.Calc == nil {
		return Output{}, errors.New("checkout service not configured")
	}
	if in.DeliveryType == "" {
		in.DeliveryType = db.DeliveryTypeDelivery
	}
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "CheckoutService.Checkout")
	defer span.End()
	span.SetAttributes(attribute.String("cart.id", in.CartID.String()))
	start := time.Now()

	var out Output
	err := s.Store.WithinTx(ctx, func(q db.Querier) error {
		var err error
		out, err = s.materialize(ctx, q, user, in)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		obs.ObserveCheckout(result(err), time.Since(start))
		s.Log.Info().Err(err).Str("cart_id", in.CartID.String()).Msg("checkout rejected")
		return Output{}, err
	}
	obs.ObserveCheckout("ok", time.Since(start))
	if out.Order.CouponCode != nil {
		obs.ObserveCoupon(true)
	}
	s.Log.Info().
		Str("cart_id", in.CartID.String()).
		Str("order_id", out.Order.ID.String()).
		Str("total", out.Order.TotalPrice.String()).
		Msg("order placed")
	s.enqueueCashback(ctx, out.Order)
	return out, nil
}

func (s *Service) materialize(ctx context.Context, q db.Querier, user uuid.NullUUID, in Input) (Output, error) {
	c, err := q.LockCart(ctx, in.CartID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Output{}, fmt.Errorf("cart %s: %w", in.CartID, cart.ErrNotFound)
		}
		return Output{}, err
	}
	if c.Status == db.CartStatusDeleted || (c.OwnerID.Valid && !c.Group && c.OwnerID != user) {
		return Output{}, fmt.Errorf("cart %s: %w", in.CartID, cart.ErrNotFound)
	}
	if c.Status != db.CartStatusOpen {
		return Output{}, fmt.Errorf("cart %s is %s: %w", c.ID, c.Status, cart.ErrNotOpen)
	}

	items, err := q.ListCartItems(ctx, c.ID)
	if err != nil {
		return Output{}, err
	}
	if !slices.ContainsFunc(items, func(it db.CartItem) bool { return !it.Bonus }) {
		return Output{}, fmt.Errorf("cart %s: %w", c.ID, ErrEmptyCart)
	}
	locked, err := lockStocks(ctx, q, items)
	if err != nil {
		return Output{}, err
	}

	quote, err := s.Calc.Quote(ctx, q, stock.NewSnapshot(locked), c, cart.QuoteOptions{
		DeliveryType:  in.DeliveryType,
		RequireCoupon: in.RequireCoupon,
		LockCoupon:    true,
	})
	if err != nil {
		if errors.Is(err, stock.ErrOutOfStock) {
			return Output{}, fmt.Errorf("%w: %w", ErrInsufficientStock, err)
		}
		return Output{}, err
	}
	sum := quote.Summary
	if sum.Base.NetSubtotal.LessThan(quote.Shop.MinOrderAmount) {
		return Output{}, ErrBelowMinimum.WithDetails(map[string]any{
			"minimum":     quote.Shop.MinOrderAmount,
			"netSubtotal": sum.Base.NetSubtotal,
		})
	}

	if err := decrement(ctx, q, quote.Lines); err != nil {
		return Output{}, err
	}

	owner := user
	if !owner.Valid {
		owner = c.OwnerID
	}
	order := db.Order{
		CartID:        c.ID,
		UserID:        owner,
		ShopID:        c.ShopID,
		CurrencyID:    c.CurrencyID,
		Rate:          c.Rate,
		Status:        OrderStatusPlaced,
		DeliveryType:  in.DeliveryType,
		OriginPrice:   sum.Base.OriginPrice,
		TotalPrice:    sum.Base.TotalPrice,
		TotalDiscount: sum.Base.TotalDiscount,
		Tax:           sum.Base.Tax,
		DeliveryFee:   sum.Base.DeliveryFee,
		CommissionFee: sum.Base.CommissionFee,
		CouponPrice:   sum.Base.CouponPrice,
		PointsEarned:  sum.Cashback.Points,
	}
	if quote.Coupon != nil {
		code := quote.Coupon.Coupon.Code
		order.CouponCode = &code
	}
	order, err = q.CreateOrder(ctx, order)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Output{}, fmt.Errorf("cart %s already ordered: %w", c.ID, cart.ErrNotOpen)
		}
		return Output{}, fmt.Errorf("create order: %w", err)
	}
	if quote.Coupon != nil {
		if err := s.Coupons.Redeem(ctx, q, quote.Coupon.Coupon, order.ID, sum.Base.CouponPrice); err != nil {
			return Output{}, err
		}
	}

	details := make([]db.OrderDetail, 0, len(quote.Lines))
	for _, l := range quote.Lines {
		d := db.OrderDetail{
			ID:          uuid.New(),
			OrderID:     order.ID,
			StockID:     l.StockID,
			ParentID:    l.ParentID,
			Quantity:    l.Quantity,
			Bonus:       l.Bonus,
			UnitPrice:   l.UnitPrice,
			OriginPrice: l.Origin,
			Discount:    l.Discount,
			TotalPrice:  l.Total,
		}
		if err := q.CreateOrderDetail(ctx, d); err != nil {
			return Output{}, fmt.Errorf("create order detail: %w", err)
		}
		details = append(details, d)
	}

	if err := q.UpdateCartStatus(ctx, db.UpdateCartStatusParams{
		ID:      c.ID,
		Status:  db.CartStatusOrdered,
		OrderID: uuid.NullUUID{UUID: order.ID, Valid: true},
	}); err != nil {
		return Output{}, fmt.Errorf("close cart: %w", err)
	}
	return Output{Order: order, Details: details, Summary: sum}, nil
}

// lockStocks locks every stock the cart can touch, bonus stocks included, in one ordered
// statement. The rows are discovered with a plain read first.
func lockStocks(ctx context.Context, q db.Querier, items []db.CartItem) ([]db.Stock, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		if !it.Bonus {
			ids = append(ids, it.StockID)
		}
	}
	rows, err := q.ListStocks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list stocks: %w", err)
	}
	for _, s := range rows {
		if s.Bonus != nil {
			ids = append(ids, s.Bonus.BonusStockID)
		}
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
	ids = slices.Compact(ids)
	locked, err := q.LockStocks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lock stocks: %w", err)
	}
	return locked, nil
}

// decrement takes every priced unit, bonus units included, out of stock.
func decrement(ctx context.Context, q db.Querier, lines []pricing.LinePrice) error {
	demand := make(map[uuid.UUID]int32, len(lines))
	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		if _, ok := demand[l.StockID]; !ok {
			ids = append(ids, l.StockID)
		}
		demand[l.StockID] += l.Quantity
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
	for _, id := range ids {
		if _, err := q.DecrementStock(ctx, id, demand[id]); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("stock %s: requested %d: %w", id, demand[id], ErrInsufficientStock)
			}
			return fmt.Errorf("decrement stock: %w", err)
		}
	}
	return nil
}

func (s *Service) enqueueCashback(ctx context.Context, o db.Order) {
	if s.Tasks == nil || !o.UserID.Valid || o.PointsEarned <= 0 {
		return
	}
	err := s.Tasks.EnqueueCashback(context.WithoutCancel(ctx), tasks.CashbackPayload{
		OrderID: o.ID,
		UserID:  o.UserID.UUID,
		Points:  o.PointsEarned,
	})
	if err != nil {
		s.Log.Warn().Err(err).Str("order_id", o.ID.String()).Msg("enqueue cashback failed")
	}
}

func result(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, stock.ErrOutOfStock):
		return "insufficient_stock"
	case errors.Is(err, coupon.ErrCouponInvalid):
		return "coupon_invalid"
	case errors.Is(err, ErrBelowMinimum):
		return "below_minimum"
	case errors.Is(err, cart.ErrNotOpen), errors.Is(err, cart.ErrNotFound), errors.Is(err, ErrEmptyCart):
		return "rejected"
	}
	return "error"
}
