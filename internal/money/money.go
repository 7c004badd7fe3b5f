package money

import (
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/common"
)

// Places is the number of fractional digits kept for every monetary output.
const Places int32 = 2

// ErrRateMissing is returned when a cart has no captured exchange rate.
var ErrRateMissing = common.NewAppError(common.CodeCurrencyRateMissing, "cart has no captured currency rate", http.StatusUnprocessableEntity, nil)

// Zero is the additive identity used across the pricing packages.
var Zero = decimal.Zero

// Round rounds a monetary amount to Places.
func Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(Places)
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// NonNegative floors v at zero.
func NonNegative(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// Converter converts base-currency amounts with a rate fixed at cart creation.
type Converter struct {
	rate decimal.Decimal
}

// NewConverter validates the rate and returns a converter bound to it.
func NewConverter(rate decimal.Decimal) (Converter, error) {
	if !rate.IsPositive() {
		return Converter{}, fmt.Errorf("rate %s: %w", rate.String(), ErrRateMissing)
	}
	return Converter{rate: rate}, nil
}

// Rate returns the captured rate.
func (c Converter) Rate() decimal.Decimal {
	return c.rate
}

// ToDisplay converts a base amount into the cart's display currency.
func (c Converter) ToDisplay(base decimal.Decimal) decimal.Decimal {
	return Round(base.Mul(c.rate))
}

// ToBase converts a display amount back into the base currency.
func (c Converter) ToBase(display decimal.Decimal) decimal.Decimal {
	if c.rate.IsZero() {
		return decimal.Zero
	}
	return display.DivRound(c.rate, Places)
}
