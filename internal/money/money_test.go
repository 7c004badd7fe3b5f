package money_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/money"
)

func TestConverterRejectsMissingRate(t *testing.T) {
	_, err := money.NewConverter(decimal.Zero)
	require.True(t, errors.Is(err, money.ErrRateMissing))

	_, err = money.NewConverter(decimal.NewFromInt(-2))
	require.True(t, errors.Is(err, money.ErrRateMissing))
}

func TestConverterRoundTrip(t *testing.T) {
	tolerance := decimal.RequireFromString("0.01")
	amounts := []string{"0", "0.01", "293.5", "1234.56", "99999.99"}
	for _, rate := range []string{"1", "1.5", "0.92", "15750.25"} {
		conv, err := money.NewConverter(decimal.RequireFromString(rate))
		require.NoError(t, err)
		for _, raw := range amounts {
			base := decimal.RequireFromString(raw)
			back := conv.ToBase(conv.ToDisplay(base))
			diff := back.Sub(base).Abs()
			require.Truef(t, diff.LessThanOrEqual(tolerance), "rate %s amount %s came back as %s", rate, raw, back)
		}
	}
}

func TestToDisplayRoundsToCents(t *testing.T) {
	conv, err := money.NewConverter(decimal.RequireFromString("1.333"))
	require.NoError(t, err)
	require.Equal(t, "13.33", conv.ToDisplay(decimal.NewFromInt(10)).StringFixed(2))
}
