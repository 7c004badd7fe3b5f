package pricing_test

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/pricing"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func TestAggregateScenarioNetTaxBase(t *testing.T) {
	stock := db.Stock{
		ID:       uuid.New(),
		Price:    dec("100"),
		Quantity: 10,
		Discount: &db.Discount{Kind: db.DiscountKindPercent, Value: dec("10")},
	}
	lines := pricing.Evaluate([]pricing.Line{pricing.LineFromStock(uuid.New(), stock, 3)}, nil, nil, now)

	sum, err := pricing.Aggregate(pricing.Input{
		Lines: lines,
		Shop:  pricing.ShopRates{TaxRate: dec("0.05"), DeliveryFee: dec("10")},
		Rate:  decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	require.Equal(t, pricing.TaxBaseNet, sum.TaxBase)
	requireDec(t, "300", sum.Base.Subtotal)
	requireDec(t, "30", sum.Base.TotalDiscount)
	requireDec(t, "270", sum.Base.NetSubtotal)
	requireDec(t, "13.5", sum.Base.Tax)
	requireDec(t, "10", sum.Base.DeliveryFee)
	requireDec(t, "293.5", sum.Base.TotalPrice)
	requireDec(t, "300", sum.Base.OriginPrice)
	require.True(t, sum.Base.Reconciled())
	require.False(t, sum.Coupon.Applied)
}

func TestAggregateGrossTaxBase(t *testing.T) {
	stock := db.Stock{ID: uuid.New(), Price: dec("100"), Discount: &db.Discount{Kind: db.DiscountKindPercent, Value: dec("10")}}
	lines := pricing.Evaluate([]pricing.Line{pricing.LineFromStock(uuid.New(), stock, 3)}, nil, nil, now)

	sum, err := pricing.Aggregate(pricing.Input{
		Lines:   lines,
		Shop:    pricing.ShopRates{TaxRate: dec("0.05"), DeliveryFee: dec("10")},
		Rate:    decimal.NewFromInt(1),
		TaxBase: pricing.TaxBaseGross,
	})
	require.NoError(t, err)
	requireDec(t, "15", sum.Base.Tax)
	requireDec(t, "295", sum.Base.TotalPrice)
	require.True(t, sum.Base.Reconciled())
}

func TestAggregateBuyThreeGetOne(t *testing.T) {
	id := uuid.New()
	stock := db.Stock{
		ID:       id,
		Price:    dec("25"),
		Quantity: 10,
		Bonus:    &db.Bonus{ID: uuid.New(), StockID: id, Trigger: 3, BonusStockID: id, BonusQuantity: 1},
	}
	stocks := map[uuid.UUID]db.Stock{id: stock}
	lineID := uuid.New()
	lines := pricing.Evaluate([]pricing.Line{pricing.LineFromStock(lineID, stock, 3)}, stocks, map[uuid.UUID]int32{id: 7}, now)
	require.Len(t, lines, 2)

	free := lines[1]
	require.True(t, free.Bonus)
	require.EqualValues(t, 1, free.Quantity)
	require.Equal(t, lineID, free.BonusSourceID.UUID)
	requireDec(t, "0", free.Total)
	requireDec(t, "25", free.Discount)

	sum, err := pricing.Aggregate(pricing.Input{Lines: lines, Rate: decimal.NewFromInt(1), DeliveryType: db.DeliveryTypePickup})
	require.NoError(t, err)
	requireDec(t, "100", sum.Base.Subtotal)
	requireDec(t, "25", sum.Base.TotalDiscount)
	requireDec(t, "75", sum.Base.TotalPrice)
	require.True(t, sum.Base.Reconciled())
}

func TestAggregateCouponNeverMakesTotalNegative(t *testing.T) {
	stock := db.Stock{ID: uuid.New(), Price: dec("9.99"), Discount: &db.Discount{Kind: db.DiscountKindFix, Value: dec("50")}}
	other := db.Stock{ID: uuid.New(), Price: dec("3.33")}
	lines := pricing.Evaluate([]pricing.Line{
		pricing.LineFromStock(uuid.New(), stock, 2),
		pricing.LineFromStock(uuid.New(), other, 3),
	}, nil, nil, now)
	requireDec(t, "0", lines[0].Total)

	for _, coupon := range []string{"0", "5", "9.99", "1000"} {
		sum, err := pricing.Aggregate(pricing.Input{
			Lines:  lines,
			Shop:   pricing.ShopRates{TaxRate: dec("0.11"), CommissionRate: dec("0.1"), DeliveryFee: dec("4.5")},
			Coupon: dec(coupon),
			Rate:   dec("1.37"),
		})
		require.NoError(t, err)
		require.False(t, sum.Base.TotalPrice.IsNegative())
		require.False(t, sum.Display.TotalPrice.IsNegative())
		require.True(t, sum.Base.Reconciled(), "base coupon %s", coupon)
		require.True(t, sum.Display.Reconciled(), "display coupon %s", coupon)
		require.True(t, sum.Base.CouponPrice.LessThanOrEqual(sum.Base.NetSubtotal))
	}
}

func TestAggregateFreeDeliveryAndMissingRate(t *testing.T) {
	stock := db.Stock{ID: uuid.New(), Price: dec("40")}
	lines := pricing.Evaluate([]pricing.Line{pricing.LineFromStock(uuid.New(), stock, 3)}, nil, nil, now)
	shop := pricing.ShopRates{DeliveryFee: dec("10"), FreeDeliveryOver: decimal.NewNullDecimal(dec("100"))}

	sum, err := pricing.Aggregate(pricing.Input{Lines: lines, Shop: shop, Rate: decimal.NewFromInt(1)})
	require.NoError(t, err)
	requireDec(t, "0", sum.Base.DeliveryFee)

	_, err = pricing.Aggregate(pricing.Input{Lines: lines, Shop: shop})
	require.Error(t, err)
}

func TestAggregateDisplayCurrency(t *testing.T) {
	stock := db.Stock{ID: uuid.New(), Price: dec("100")}
	lines := pricing.Evaluate([]pricing.Line{pricing.LineFromStock(uuid.New(), stock, 1)}, nil, nil, now)

	sum, err := pricing.Aggregate(pricing.Input{Lines: lines, Shop: pricing.ShopRates{DeliveryFee: dec("10")}, Rate: dec("15000")})
	require.NoError(t, err)
	requireDec(t, "1650000", sum.Display.TotalPrice)
	requireDec(t, "1500000", sum.Lines[0].DisplayTotal)
}

func TestAggregateReconcilesAcrossRandomCarts(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 2025))
	cents := func(max int64) decimal.Decimal { return decimal.New(rng.Int64N(max), -2) }
	rates := []decimal.Decimal{dec("1"), dec("0.000064"), dec("15850.5"), dec("0.5"), dec("1.3333")}
	deliveries := []db.DeliveryType{db.DeliveryTypeDelivery, db.DeliveryTypePickup, db.DeliveryTypeDineIn}
	bases := []pricing.TaxBase{pricing.TaxBaseNet, pricing.TaxBaseGross}

	for i := range 500 {
		var (
			lines  []pricing.Line
			stocks = map[uuid.UUID]db.Stock{}
			avail  = map[uuid.UUID]int32{}
		)
		for range 1 + rng.IntN(5) {
			s := db.Stock{ID: uuid.New(), Price: cents(100_000_00), Quantity: 100}
			qty := int32(1 + rng.IntN(20))
			switch rng.IntN(4) {
			case 1:
				s.Discount = &db.Discount{Kind: db.DiscountKindPercent, Value: decimal.New(rng.Int64N(10_001), -2)}
			case 2:
				s.Discount = &db.Discount{Kind: db.DiscountKindFix, Value: cents(s.Price.IntPart()*int64(qty)*150 + 1)}
			case 3:
				s.Bonus = &db.Bonus{ID: uuid.New(), StockID: s.ID, Trigger: int32(1 + rng.IntN(4)), BonusStockID: s.ID, BonusQuantity: 1}
			}
			stocks[s.ID] = s
			avail[s.ID] = int32(rng.IntN(5))
			lines = append(lines, pricing.LineFromStock(uuid.New(), s, qty))
		}
		priced := pricing.Evaluate(lines, stocks, avail, now)
		in := pricing.Input{
			Lines: priced,
			Shop: pricing.ShopRates{
				TaxRate:        decimal.New(rng.Int64N(2_001), -4),
				CommissionRate: decimal.New(rng.Int64N(3_001), -4),
				DeliveryFee:    cents(50_000_00),
			},
			DeliveryType: deliveries[rng.IntN(len(deliveries))],
			Coupon:       cents(200_000_00),
			Rate:         rates[rng.IntN(len(rates))],
			TaxBase:      bases[rng.IntN(len(bases))],
		}
		if rng.IntN(2) == 0 {
			in.Shop.FreeDeliveryOver = decimal.NewNullDecimal(cents(500_000_00))
		}

		sum, err := pricing.Aggregate(in)
		require.NoError(t, err)
		lineOrigin := decimal.Zero
		for _, l := range priced {
			require.False(t, l.Total.IsNegative())
			lineOrigin = lineOrigin.Add(l.Origin)
		}
		requireDec(t, lineOrigin.String(), sum.Base.Subtotal)
		for name, a := range map[string]pricing.Amounts{"base": sum.Base, "display": sum.Display} {
			msg := fmt.Sprintf("cart %d %s: %+v", i, name, a)
			require.True(t, a.Reconciled(), msg)
			require.True(t, a.OriginPrice.Equal(a.Subtotal), msg)
			require.False(t, a.TotalPrice.IsNegative(), msg)
			require.True(t, a.CouponPrice.LessThanOrEqual(a.NetSubtotal), msg)
			require.False(t, a.NetSubtotal.IsNegative(), msg)
		}
	}
}
