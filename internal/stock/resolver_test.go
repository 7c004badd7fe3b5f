package stock_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/stock"
)

func fixture() (uuid.UUID, db.Stock, db.Stock, db.Stock) {
	shopID := uuid.New()
	addon := db.Stock{ID: uuid.New(), ShopID: shopID, Price: decimal.NewFromInt(5), Quantity: 10, Addon: true}
	extra := uuid.New()
	main := db.Stock{ID: uuid.New(), ShopID: shopID, Price: decimal.NewFromInt(100), Quantity: 3, AddonIDs: []uuid.UUID{addon.ID}, ExtraValueIDs: []uuid.UUID{extra}}
	other := db.Stock{ID: uuid.New(), ShopID: uuid.New(), Price: decimal.NewFromInt(1), Quantity: 1}
	return shopID, main, addon, other
}

func TestResolve(t *testing.T) {
	_, main, _, _ := fixture()
	deleted := time.Now()
	gone := db.Stock{ID: uuid.New(), Quantity: 5, DeletedAt: &deleted}
	r := stock.NewResolver(stock.NewSnapshot([]db.Stock{main, gone}))

	got, err := r.Resolve(context.Background(), main.ID, 3)
	require.NoError(t, err)
	require.Equal(t, main.ID, got.Stock.ID)
	require.EqualValues(t, 3, got.Quantity)

	_, err = r.Resolve(context.Background(), main.ID, 4)
	require.ErrorIs(t, err, stock.ErrOutOfStock)

	_, err = r.Resolve(context.Background(), gone.ID, 1)
	require.ErrorIs(t, err, stock.ErrStockNotFound)

	_, err = r.Resolve(context.Background(), uuid.New(), 1)
	require.ErrorIs(t, err, stock.ErrStockNotFound)
}

func TestResolveAddon(t *testing.T) {
	_, main, addon, _ := fixture()
	r := stock.NewResolver(stock.NewSnapshot([]db.Stock{main, addon}))

	_, err := r.ResolveAddon(context.Background(), addon.ID, 2, main)
	require.NoError(t, err)

	_, err = r.ResolveAddon(context.Background(), main.ID, 1, addon)
	require.ErrorIs(t, err, stock.ErrAddonNotAllowed)
}

func TestResolveLinesAggregatesDemand(t *testing.T) {
	shopID, main, addon, _ := fixture()
	r := stock.NewResolver(stock.NewSnapshot([]db.Stock{main, addon}))

	first := stock.LineRequest{ID: uuid.New(), StockID: main.ID, Quantity: 2}
	second := stock.LineRequest{ID: uuid.New(), StockID: main.ID, Quantity: 2}
	_, err := r.ResolveLines(context.Background(), shopID, []stock.LineRequest{first, second})
	require.ErrorIs(t, err, stock.ErrOutOfStock)

	second.Quantity = 1
	nested := stock.LineRequest{ID: uuid.New(), StockID: addon.ID, Quantity: 4, ParentID: uuid.NullUUID{UUID: first.ID, Valid: true}}
	res, err := r.ResolveLines(context.Background(), shopID, []stock.LineRequest{first, second, nested})
	require.NoError(t, err)
	require.Len(t, res.Lines, 3)
	require.EqualValues(t, 3, res.Demand[main.ID])
	require.EqualValues(t, 0, res.Available(main.ID))
	require.EqualValues(t, 6, res.Available(addon.ID))
}

func TestResolveLinesRejectsForeignShopAndExtras(t *testing.T) {
	shopID, main, addon, other := fixture()
	r := stock.NewResolver(stock.NewSnapshot([]db.Stock{main, addon, other}))

	_, err := r.ResolveLines(context.Background(), shopID, []stock.LineRequest{{ID: uuid.New(), StockID: other.ID, Quantity: 1}})
	require.ErrorIs(t, err, stock.ErrStockNotFound)

	_, err = r.ResolveLines(context.Background(), shopID, []stock.LineRequest{{ID: uuid.New(), StockID: main.ID, Quantity: 1, ExtraIDs: []uuid.UUID{uuid.New()}}})
	require.ErrorIs(t, err, stock.ErrExtraNotAllowed)

	_, err = r.ResolveLines(context.Background(), shopID, []stock.LineRequest{{ID: uuid.New(), StockID: addon.ID, Quantity: 1}})
	require.ErrorIs(t, err, stock.ErrAddonNotAllowed)
}

func TestResolveLinesLoadsBonusStocks(t *testing.T) {
	shopID, main, _, _ := fixture()
	free := db.Stock{ID: uuid.New(), ShopID: shopID, Price: decimal.NewFromInt(20), Quantity: 1}
	main.Bonus = &db.Bonus{ID: uuid.New(), StockID: main.ID, Trigger: 3, BonusStockID: free.ID, BonusQuantity: 1}
	r := stock.NewResolver(stock.NewSnapshot([]db.Stock{main, free}))

	res, err := r.ResolveLines(context.Background(), shopID, []stock.LineRequest{{ID: uuid.New(), StockID: main.ID, Quantity: 3}})
	require.NoError(t, err)
	require.Contains(t, res.Stocks, free.ID)
	require.EqualValues(t, 1, res.Available(free.ID))
}
