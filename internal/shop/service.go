package shop

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/cache"
	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/pricing"
)

var (
	// ErrNotFound is returned for unknown shops.
	ErrNotFound = common.NewAppError(common.CodeNotFound, "shop not found", http.StatusNotFound, nil)
	// ErrInvalidConfig is returned when an update carries out of range values.
	ErrInvalidConfig = common.NewAppError(common.CodeValidation, "invalid shop pricing configuration", http.StatusBadRequest, nil)
)

// Config is the pricing configuration of a shop, resolved once per quote.
type Config struct {
	ShopID              uuid.UUID         `json:"shopId"`
	Rates               pricing.ShopRates `json:"rates"`
	MinOrderAmount      decimal.Decimal   `json:"minOrderAmount"`
	BonusCouponEligible bool              `json:"bonusCouponEligible"`
	CashbackTiers       []db.CashbackTier `json:"cashbackTiers"`
	TaxBase             pricing.TaxBase   `json:"taxBase"`
}

// ConfigFromModel resolves the typed defaults of a stored shop.
func ConfigFromModel(s db.Shop) Config {
	tiers := s.CashbackTiers
	if tiers == nil {
		tiers = []db.CashbackTier{}
	}
	return Config{
		ShopID: s.ID,
		Rates: pricing.ShopRates{
			TaxRate:          s.TaxRate,
			CommissionRate:   s.CommissionRate,
			DeliveryFee:      s.DeliveryFee,
			FreeDeliveryOver: s.FreeDeliveryOver,
		},
		MinOrderAmount:      s.MinOrderAmount,
		BonusCouponEligible: s.BonusCouponEligible,
		CashbackTiers:       tiers,
		TaxBase:             pricing.DefaultTaxBase,
	}
}

// Querier captures the statements the service needs.
type Querier interface {
	GetShop(ctx context.Context, id uuid.UUID) (db.Shop, error)
	UpsertShop(ctx context.Context, shop db.Shop) error
}

// Service loads shop configuration through a short lived Redis cache.
type Service struct {
	Q     Querier
	Cache *cache.Cache
	Log   zerolog.Logger
}

// Config returns the configuration of a shop, from cache when possible.
func (s *Service) Config(ctx context.Context, id uuid.UUID) (Config, error) {
	if s == nil || s.Q == nil {
		return Config{}, errors.New("shop service not configured")
	}
	key := cache.KeyShop(id)
	var cached Config
	if ok, err := s.Cache.GetJSON(ctx, key, &cached); err != nil {
		s.Log.Warn().Err(err).Str("shop_id", id.String()).Msg("shop cache read failed")
	} else if ok {
		return cached, nil
	}

	row, err := s.Q.GetShop(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, fmt.Errorf("shop %s: %w", id, ErrNotFound)
		}
		return Config{}, err
	}
	cfg := ConfigFromModel(row)
	if err := s.Cache.SetJSON(ctx, key, cfg); err != nil {
		s.Log.Warn().Err(err).Str("shop_id", id.String()).Msg("shop cache write failed")
	}
	return cfg, nil
}

// CashbackTiers implements cashback.TierSource.
func (s *Service) CashbackTiers(ctx context.Context, id uuid.UUID) ([]db.CashbackTier, error) {
	cfg, err := s.Config(ctx, id)
	if err != nil {
		return nil, err
	}
	return cfg.CashbackTiers, nil
}

// Update stores a new configuration and invalidates that shop's cache entry only.
func (s *Service) Update(ctx context.Context, shop db.Shop) (Config, error) {
	if err := validate(shop); err != nil {
		return Config{}, err
	}
	if err := s.Q.UpsertShop(ctx, shop); err != nil {
		return Config{}, fmt.Errorf("upsert shop: %w", err)
	}
	if err := s.Invalidate(ctx, shop.ID); err != nil {
		return Config{}, err
	}
	return s.Config(ctx, shop.ID)
}

// Invalidate drops the cached configuration of one shop.
func (s *Service) Invalidate(ctx context.Context, id uuid.UUID) error {
	return s.Cache.Delete(ctx, cache.KeyShop(id))
}

func validate(shop db.Shop) error {
	one := decimal.NewFromInt(1)
	switch {
	case shop.ID == uuid.Nil:
		return fmt.Errorf("id is required: %w", ErrInvalidConfig)
	case shop.TaxRate.IsNegative() || shop.TaxRate.GreaterThan(one):
		return fmt.Errorf("tax rate must be within 0..1: %w", ErrInvalidConfig)
	case shop.CommissionRate.IsNegative() || shop.CommissionRate.GreaterThan(one):
		return fmt.Errorf("commission rate must be within 0..1: %w", ErrInvalidConfig)
	case shop.DeliveryFee.IsNegative() || shop.MinOrderAmount.IsNegative():
		return fmt.Errorf("amounts must not be negative: %w", ErrInvalidConfig)
	}
	for _, t := range shop.CashbackTiers {
		if t.Threshold.IsNegative() || t.Rate.IsNegative() {
			return fmt.Errorf("cashback tiers must not be negative: %w", ErrInvalidConfig)
		}
	}
	return nil
}
