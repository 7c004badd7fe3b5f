package cashback_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/cashback"
	"github.com/noah-isme/toko-pricing/internal/db"
)

var tiers = []db.CashbackTier{
	{Threshold: decimal.NewFromInt(500), Rate: decimal.RequireFromString("0.05")},
	{Threshold: decimal.NewFromInt(100), Rate: decimal.RequireFromString("0.02")},
}

func TestPoints(t *testing.T) {
	cases := map[string]int64{
		"0":      0,
		"99.99":  0,
		"100":    2,
		"349.99": 6,
		"500":    25,
		"1234.5": 61,
	}
	for spend, want := range cases {
		require.Equal(t, want, cashback.Points(decimal.RequireFromString(spend), tiers), spend)
	}
}

type tierStub map[uuid.UUID][]db.CashbackTier

func (s tierStub) CashbackTiers(_ context.Context, shopID uuid.UUID) ([]db.CashbackTier, error) {
	return s[shopID], nil
}

func TestCheck(t *testing.T) {
	shopID := uuid.New()
	svc := &cashback.Service{Tiers: tierStub{shopID: tiers}}

	got, err := svc.Check(context.Background(), shopID, decimal.NewFromInt(600))
	require.NoError(t, err)
	require.EqualValues(t, 30, got.Points)

	got, err = svc.Check(context.Background(), uuid.New(), decimal.NewFromInt(600))
	require.NoError(t, err)
	require.Zero(t, got.Points)

	_, err = svc.Check(context.Background(), shopID, decimal.NewFromInt(-1))
	require.ErrorIs(t, err, cashback.ErrInvalidAmount)
}
