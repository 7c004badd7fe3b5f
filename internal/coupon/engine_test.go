package coupon

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/db"
)

func TestRuleValidate(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	limit := int32(2)

	cases := []struct {
		name string
		rule Rule
		want error
	}{
		{"ok", Rule{MinSpend: decimal.NewFromInt(10), StartAt: &past, ExpiredAt: &future}, nil},
		{"not started", Rule{StartAt: &future}, ErrInactive},
		{"expired", Rule{ExpiredAt: &past}, ErrExpired},
		{"exhausted", Rule{UsageLimit: &limit, UsedCount: 2}, ErrExhausted},
		{"min spend", Rule{MinSpend: decimal.NewFromInt(1000)}, ErrMinimumSpend},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rule.Validate(now, decimal.NewFromInt(100))
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, ErrCouponInvalid)
		})
	}
}

func TestEligibleSubtotalScopes(t *testing.T) {
	product := uuid.New()
	category := uuid.New()
	items := []Item{
		{ProductID: product, Subtotal: decimal.NewFromInt(40)},
		{ProductID: uuid.New(), CategoryID: uuid.NullUUID{UUID: category, Valid: true}, Subtotal: decimal.NewFromInt(25)},
		{ProductID: uuid.New(), Subtotal: decimal.NewFromInt(10)},
		{ProductID: product, Bonus: true, Subtotal: decimal.Zero, Value: decimal.NewFromInt(20)},
	}

	require.True(t, decimal.NewFromInt(75).Equal(EligibleSubtotal(items, Rule{})))
	require.True(t, decimal.NewFromInt(40).Equal(EligibleSubtotal(items, Rule{ProductIDs: []uuid.UUID{product}})))
	require.True(t, decimal.NewFromInt(65).Equal(EligibleSubtotal(items, Rule{ProductIDs: []uuid.UUID{product}, CategoryIDs: []uuid.UUID{category}})))
	require.True(t, decimal.NewFromInt(20).Equal(BonusValue(items)))
}

func TestComputeCapsAtEligible(t *testing.T) {
	percent := Rule{Kind: db.DiscountKindPercent, Value: decimal.NewFromInt(15)}
	require.Equal(t, "15", Compute(decimal.NewFromInt(100), percent).String())

	fix := Rule{Kind: db.DiscountKindFix, Value: decimal.NewFromInt(50)}
	require.Equal(t, "30", Compute(decimal.NewFromInt(30), fix).String())
	require.True(t, Compute(decimal.Zero, fix).IsZero())
}
