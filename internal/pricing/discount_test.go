package pricing_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/pricing"
)

func TestEvaluateLineDiscountKinds(t *testing.T) {
	tomorrow := now.Add(24 * time.Hour)
	cases := []struct {
		name string
		rule *db.Discount
		want string
	}{
		{"none", nil, "300"},
		{"percent", &db.Discount{Kind: db.DiscountKindPercent, Value: dec("10")}, "270"},
		{"percent over hundred", &db.Discount{Kind: db.DiscountKindPercent, Value: dec("150")}, "0"},
		{"fix", &db.Discount{Kind: db.DiscountKindFix, Value: dec("45.5")}, "254.5"},
		{"fix over gross", &db.Discount{Kind: db.DiscountKindFix, Value: dec("1000")}, "0"},
		{"not started", &db.Discount{Kind: db.DiscountKindPercent, Value: dec("10"), StartAt: &tomorrow}, "300"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			line := pricing.Line{ID: uuid.New(), Quantity: 3, UnitPrice: dec("100"), Rule: tc.rule}
			got := pricing.EvaluateLine(line, now)
			requireDec(t, "300", got.Origin)
			requireDec(t, tc.want, got.Total)
			require.True(t, got.Origin.Sub(got.Total).Equal(got.Discount))
		})
	}
}

func TestBonusLinesAreIdempotent(t *testing.T) {
	freeStock := db.Stock{ID: uuid.New(), Price: dec("12")}
	source := db.Stock{
		ID:    uuid.New(),
		Price: dec("30"),
		Bonus: &db.Bonus{Trigger: 2, BonusQuantity: 1},
	}
	source.Bonus.BonusStockID = freeStock.ID
	stocks := map[uuid.UUID]db.Stock{freeStock.ID: freeStock}
	avail := map[uuid.UUID]int32{freeStock.ID: 10}
	lines := []pricing.Line{pricing.LineFromStock(uuid.New(), source, 5)}

	first := pricing.Evaluate(lines, stocks, avail, now)
	second := pricing.Evaluate(lines, stocks, avail, now)
	require.Equal(t, first, second)
	require.Len(t, first, 2)
	require.EqualValues(t, 2, first[1].Quantity)
	require.Equal(t, pricing.BonusID(lines[0].ID), first[1].ID)

	// Feeding the bonus lines back in never produces more bonus lines.
	again := pricing.BonusLines(first, stocks, avail, now)
	require.Len(t, again, 1)
}

func TestBonusLinesRespectAvailabilityAndExpiry(t *testing.T) {
	freeStock := db.Stock{ID: uuid.New(), Price: dec("12")}
	expired := now.Add(-time.Hour)
	rule := &db.Bonus{Trigger: 1, BonusStockID: freeStock.ID, BonusQuantity: 1}
	a := db.Stock{ID: uuid.New(), Price: dec("5"), Bonus: rule}
	b := db.Stock{ID: uuid.New(), Price: dec("5"), Bonus: rule}
	stocks := map[uuid.UUID]db.Stock{freeStock.ID: freeStock}

	priced := pricing.Evaluate([]pricing.Line{
		pricing.LineFromStock(uuid.New(), a, 2),
		pricing.LineFromStock(uuid.New(), b, 2),
	}, stocks, map[uuid.UUID]int32{freeStock.ID: 3}, now)
	require.Len(t, priced, 4)
	require.EqualValues(t, 2, priced[2].Quantity)
	require.EqualValues(t, 1, priced[3].Quantity)

	a.Bonus = &db.Bonus{Trigger: 1, BonusStockID: freeStock.ID, BonusQuantity: 1, ExpiredAt: &expired}
	priced = pricing.Evaluate([]pricing.Line{pricing.LineFromStock(uuid.New(), a, 2)}, stocks, map[uuid.UUID]int32{freeStock.ID: 3}, now)
	require.Len(t, priced, 1)
}
