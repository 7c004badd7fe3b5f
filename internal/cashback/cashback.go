package cashback

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/db"
)

// ErrInvalidAmount is returned for negative preview amounts.
var ErrInvalidAmount = common.NewAppError(common.CodeValidation, "amount must not be negative", http.StatusBadRequest, nil)

// Points returns the points earned by spend under the highest tier whose threshold it
// reaches. Tiers need not be sorted.
func Points(spend decimal.Decimal, tiers []db.CashbackTier) int64 {
	if !spend.IsPositive() {
		return 0
	}
	var (
		best  db.CashbackTier
		found bool
	)
	for _, t := range tiers {
		if spend.LessThan(t.Threshold) {
			continue
		}
		if !found || t.Threshold.GreaterThan(best.Threshold) {
			best, found = t, true
		}
	}
	if !found || !best.Rate.IsPositive() {
		return 0
	}
	return spend.Mul(best.Rate).Floor().IntPart()
}

// TierSource loads the cashback tiers of a shop.
type TierSource interface {
	CashbackTiers(ctx context.Context, shopID uuid.UUID) ([]db.CashbackTier, error)
}

// Preview is the result of a cashback check.
type Preview struct {
	ShopID uuid.UUID       `json:"shopId"`
	Amount decimal.Decimal `json:"amount"`
	Points int64           `json:"points"`
}

// Service previews cashback without side effects.
type Service struct {
	Tiers TierSource
}

// Check returns the points a spend of amount would earn at the shop.
func (s *Service) Check(ctx context.Context, shopID uuid.UUID, amount decimal.Decimal) (Preview, error) {
	if s == nil || s.Tiers == nil {
		return Preview{}, errors.New("cashback service not configured")
	}
	if amount.IsNegative() {
		return Preview{}, ErrInvalidAmount
	}
	tiers, err := s.Tiers.CashbackTiers(ctx, shopID)
	if err != nil {
		return Preview{}, fmt.Errorf("load tiers: %w", err)
	}
	return Preview{ShopID: shopID, Amount: amount, Points: Points(amount, tiers)}, nil
}
