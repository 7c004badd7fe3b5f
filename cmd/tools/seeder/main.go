package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/auth"
	"github.com/noah-isme/toko-pricing/internal/config"
	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/obs"
)

// demoID derives stable identifiers so the seeder can run repeatedly.
func demoID(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("toko-pricing/demo/"+name))
}

func main() {
	role := flag.String("role", "", "role claim of the printed dev token")
	ttl := flag.Duration("ttl", 24*time.Hour, "lifetime of the printed dev token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := obs.NewLogger("console", cfg.LogLevel)
	if cfg.StoreDriver != config.DriverPostgres {
		logger.Fatal().Msg("seeder only targets the postgres store")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := seed(ctx, tx); err != nil {
		logger.Fatal().Err(err).Msg("seed")
	}
	if err := tx.Commit(ctx); err != nil {
		logger.Fatal().Err(err).Msg("commit")
	}

	user := demoID("user")
	token, err := auth.Verifier{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer, Audience: cfg.JWTAudience}.
		Issue(user.String(), *role, *ttl)
	if err != nil {
		logger.Fatal().Err(err).Msg("issue token")
	}
	logger.Info().
		Str("shop_id", demoID("shop").String()).
		Str("currency_id", demoID("currency/idr").String()).
		Str("coupon", "HEMAT10").
		Str("user_id", user.String()).
		Msg("seeding completed")
	fmt.Println(token)
}

func seed(ctx context.Context, tx pgx.Tx) error {
	dec := decimal.RequireFromString
	q := db.New(tx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO currencies (id, code, rate, is_default) VALUES ($1, 'IDR', 1, TRUE), ($2, 'USD', 0.000064, FALSE)
		ON CONFLICT (id) DO UPDATE SET rate = EXCLUDED.rate`,
		demoID("currency/idr"), demoID("currency/usd")); err != nil {
		return fmt.Errorf("currencies: %w", err)
	}

	shopID := demoID("shop")
	if err := q.UpsertShop(ctx, db.Shop{
		ID:               shopID,
		TaxRate:          dec("0.11"),
		CommissionRate:   dec("0.05"),
		DeliveryFee:      dec("10000"),
		FreeDeliveryOver: decimal.NewNullDecimal(dec("150000")),
		MinOrderAmount:   dec("20000"),
		CashbackTiers: []db.CashbackTier{
			{Threshold: dec("50000"), Rate: dec("0.01")},
			{Threshold: dec("200000"), Rate: dec("0.02")},
		},
	}); err != nil {
		return fmt.Errorf("shop: %w", err)
	}

	stocks := []struct {
		name     string
		price    string
		qty      int32
		addon    bool
		category string
	}{
		{"nasi-goreng", "25000", 100, false, "mains"},
		{"mie-ayam", "20000", 100, false, "mains"},
		{"es-teh", "5000", 500, false, "drinks"},
		{"telur", "4000", 300, true, "extras"},
		{"kerupuk", "2000", 300, true, "extras"},
	}
	for _, s := range stocks {
		if _, err := tx.Exec(ctx, `
			INSERT INTO stocks (id, product_id, shop_id, category_id, price, quantity, addon)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET price = EXCLUDED.price, quantity = EXCLUDED.quantity`,
			demoID("stock/"+s.name), demoID("product/"+s.name), shopID, demoID("category/"+s.category),
			dec(s.price), s.qty, s.addon); err != nil {
			return fmt.Errorf("stock %s: %w", s.name, err)
		}
	}
	for _, dish := range []string{"nasi-goreng", "mie-ayam"} {
		for _, addon := range []string{"telur", "kerupuk"} {
			if _, err := tx.Exec(ctx, `
				INSERT INTO stock_addons (stock_id, addon_stock_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				demoID("stock/"+dish), demoID("stock/"+addon)); err != nil {
				return fmt.Errorf("addon %s/%s: %w", dish, addon, err)
			}
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO discounts (id, shop_id, kind, value, active) VALUES ($1, $2, 'percent', 10, TRUE)
		ON CONFLICT (id) DO NOTHING`, demoID("discount/mains"), shopID); err != nil {
		return fmt.Errorf("discount: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO product_discounts (product_id, discount_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		demoID("product/mie-ayam"), demoID("discount/mains")); err != nil {
		return fmt.Errorf("product discount: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO bonuses (id, stock_id, trigger_qty, bonus_stock_id, bonus_quantity, active)
		VALUES ($1, $2, 2, $3, 1, TRUE)
		ON CONFLICT (stock_id) DO NOTHING`,
		demoID("bonus/nasi-goreng"), demoID("stock/nasi-goreng"), demoID("stock/es-teh")); err != nil {
		return fmt.Errorf("bonus: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO coupons (id, shop_id, code, kind, value, min_spend, usage_limit)
		VALUES ($1, $2, 'HEMAT10', 'percent', 10, 50000, 100)
		ON CONFLICT (shop_id, code) DO NOTHING`,
		demoID("coupon/hemat10"), shopID); err != nil {
		return fmt.Errorf("coupon: %w", err)
	}
	return nil
}
