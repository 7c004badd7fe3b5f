package checkout_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/cache"
	"github.com/noah-isme/toko-pricing/internal/cart"
	"github.com/noah-isme/toko-pricing/internal/checkout"
	"github.com/noah-isme/toko-pricing/internal/coupon"
	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/db/memdb"
	"github.com/noah-isme/toko-pricing/internal/lock"
	"github.com/noah-isme/toko-pricing/internal/shop"
	"github.com/noah-isme/toko-pricing/internal/tasks"
)

type stubEnqueuer struct {
	mu   sync.Mutex
	sent []tasks.CashbackPayload
}

func (s *stubEnqueuer) EnqueueCashback(_ context.Context, p tasks.CashbackPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, p)
	return nil
}

type fixture struct {
	store *memdb.Store
	carts *cart.Service
	svc   *checkout.Service
	queue *stubEnqueuer
	shop  db.Shop
	cur   db.Currency
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newFixture(t *testing.T, mods ...func(*db.Shop)) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memdb.New()
	sh := db.Shop{
		TaxRate:       dec("0.05"),
		DeliveryFee:   dec("10"),
		CashbackTiers: []db.CashbackTier{{Threshold: dec("100"), Rate: dec("0.1")}},
	}
	for _, m := range mods {
		m(&sh)
	}
	sh = store.PutShop(sh)
	cur := store.PutCurrency(db.Currency{Code: "IDR", Rate: dec("1"), Default: true})
	coupons := &coupon.Evaluator{}
	calc := &cart.Calculator{
		Shops:   &shop.Service{Q: store, Cache: cache.New(client, time.Minute), Log: zerolog.Nop()},
		Coupons: coupons,
	}
	queue := &stubEnqueuer{}
	return &fixture{
		store: store,
		carts: &cart.Service{
			Store: store,
			Calc:  calc,
			Lock:  lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond, Wait: time.Second},
			Log:   zerolog.Nop(),
		},
		svc:   &checkout.Service{Store: store, Calc: calc, Coupons: coupons, Tasks: queue, Log: zerolog.Nop()},
		queue: queue,
		shop:  sh,
		cur:   cur,
	}
}

func (f *fixture) stock(price string, qty int32, mods ...func(*db.Stock)) db.Stock {
	s := db.Stock{ProductID: uuid.New(), ShopID: f.shop.ID, Price: dec(price), Quantity: qty}
	for _, m := range mods {
		m(&s)
	}
	return f.store.PutStock(s)
}

func (f *fixture) cartWith(t *testing.T, owner uuid.NullUUID, lines map[uuid.UUID]int32) db.Cart {
	t.Helper()
	ctx := context.Background()
	c, err := f.carts.Create(ctx, cart.CreateInput{OwnerID: owner, ShopID: f.shop.ID, CurrencyID: f.cur.ID})
	require.NoError(t, err)
	for id, qty := range lines {
		_, err := f.carts.AddItem(ctx, c.ID, cart.AddItemInput{StockID: id, Quantity: qty})
		require.NoError(t, err)
	}
	return c
}

func quantity(t *testing.T, store *memdb.Store, id uuid.UUID) int32 {
	t.Helper()
	s, err := store.GetStock(context.Background(), id)
	require.NoError(t, err)
	return s.Quantity
}

func TestCheckoutMaterializesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	drink := f.stock("20", 5)
	pizza := f.stock("100", 4, func(s *db.Stock) {
		s.Bonus = &db.Bonus{Trigger: 2, BonusStockID: drink.ID, BonusQuantity: 1}
	})
	c := f.cartWith(t, user, map[uuid.UUID]int32{pizza.ID: 2})

	out, err := f.svc.Checkout(ctx, user, checkout.Input{CartID: c.ID, DeliveryType: db.DeliveryTypePickup})
	require.NoError(t, err)
	require.Equal(t, "210", out.Order.TotalPrice.String())
	require.EqualValues(t, 21, out.Order.PointsEarned)
	require.Len(t, out.Details, 2)

	require.EqualValues(t, 2, quantity(t, f.store, pizza.ID))
	require.EqualValues(t, 4, quantity(t, f.store, drink.ID))

	closed, err := f.store.GetCart(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, db.CartStatusOrdered, closed.Status)
	require.Equal(t, out.Order.ID, closed.OrderID.UUID)

	details, err := f.store.ListOrderDetails(ctx, out.Order.ID)
	require.NoError(t, err)
	require.Len(t, details, 2)

	require.Len(t, f.queue.sent, 1)
	require.Equal(t, tasks.CashbackPayload{OrderID: out.Order.ID, UserID: user.UUID, Points: 21}, f.queue.sent[0])

	_, err = f.svc.Checkout(ctx, user, checkout.Input{CartID: c.ID})
	require.ErrorIs(t, err, cart.ErrNotOpen)
}

func TestCheckoutConcurrentLastUnit(t *testing.T) {
	f := newFixture(t)
	last := f.stock("100", 1)
	a := f.cartWith(t, uuid.NullUUID{}, map[uuid.UUID]int32{last.ID: 1})
	b := f.cartWith(t, uuid.NullUUID{}, map[uuid.UUID]int32{last.ID: 1})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, c := range []db.Cart{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Checkout(context.Background(), uuid.NullUUID{}, checkout.Input{CartID: c.ID})
		}()
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, checkout.ErrInsufficientStock)
			failed++
		}
	}
	require.Equal(t, 1, failed)
	require.EqualValues(t, 0, quantity(t, f.store, last.ID))
	require.Empty(t, f.queue.sent)
}

func TestCheckoutCouponUsageLimitUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	limit := int32(1)
	cp := f.store.PutCoupon(db.Coupon{ShopID: f.shop.ID, Code: "ONCE", Kind: db.DiscountKindFix, Value: dec("10"), UsageLimit: &limit})
	s := f.stock("100", 10)

	carts := make([]db.Cart, 4)
	for i := range carts {
		carts[i] = f.cartWith(t, uuid.NullUUID{}, map[uuid.UUID]int32{s.ID: 1})
		_, err := f.carts.ApplyCoupon(ctx, carts[i].ID, "ONCE", db.DeliveryTypePickup)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	outs := make([]checkout.Output, len(carts))
	errs := make([]error, len(carts))
	for i, c := range carts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outs[i], errs[i] = f.svc.Checkout(ctx, uuid.NullUUID{}, checkout.Input{CartID: c.ID, DeliveryType: db.DeliveryTypePickup})
		}()
	}
	wg.Wait()

	discounted := 0
	for i := range carts {
		require.NoError(t, errs[i])
		if outs[i].Order.CouponCode != nil {
			discounted++
			require.Equal(t, "10", outs[i].Order.CouponPrice.String())
		} else {
			require.False(t, outs[i].Summary.Coupon.Applied)
			require.NotEmpty(t, outs[i].Summary.Coupon.Reason)
		}
	}
	require.Equal(t, 1, discounted)
	require.Equal(t, 1, f.store.CouponUsages(cp.ID))
	require.EqualValues(t, 6, quantity(t, f.store, s.ID))
}

func TestCheckoutRequireCouponFailsWhenExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	limit := int32(1)
	f.store.PutCoupon(db.Coupon{ShopID: f.shop.ID, Code: "ONCE", Kind: db.DiscountKindFix, Value: dec("10"), UsageLimit: &limit})
	s := f.stock("100", 10)
	first := f.cartWith(t, uuid.NullUUID{}, map[uuid.UUID]int32{s.ID: 1})
	second := f.cartWith(t, uuid.NullUUID{}, map[uuid.UUID]int32{s.ID: 1})
	for _, c := range []db.Cart{first, second} {
		_, err := f.carts.ApplyCoupon(ctx, c.ID, "ONCE", db.DeliveryTypePickup)
		require.NoError(t, err)
	}

	_, err := f.svc.Checkout(ctx, uuid.NullUUID{}, checkout.Input{CartID: first.ID, RequireCoupon: true})
	require.NoError(t, err)
	_, err = f.svc.Checkout(ctx, uuid.NullUUID{}, checkout.Input{CartID: second.ID, RequireCoupon: true})
	require.ErrorIs(t, err, coupon.ErrExhausted)

	open, err := f.store.GetCart(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, db.CartStatusOpen, open.Status)
	require.EqualValues(t, 9, quantity(t, f.store, s.ID))
}

func TestCheckoutBelowMinimumLeavesCartOpen(t *testing.T) {
	f := newFixture(t, func(s *db.Shop) { s.MinOrderAmount = dec("500") })
	ctx := context.Background()
	s := f.stock("100", 10)
	c := f.cartWith(t, uuid.NullUUID{}, map[uuid.UUID]int32{s.ID: 2})

	_, err := f.svc.Checkout(ctx, uuid.NullUUID{}, checkout.Input{CartID: c.ID})
	require.ErrorIs(t, err, checkout.ErrBelowMinimum)

	open, err := f.store.GetCart(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, db.CartStatusOpen, open.Status)
	require.EqualValues(t, 10, quantity(t, f.store, s.ID))
}

func TestCheckoutRejectsEmptyAndForeignCarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	empty := f.cartWith(t, owner, nil)

	_, err := f.svc.Checkout(ctx, owner, checkout.Input{CartID: empty.ID})
	require.ErrorIs(t, err, checkout.ErrEmptyCart)

	s := f.stock("100", 10)
	_, err = f.carts.AddItem(ctx, empty.ID, cart.AddItemInput{StockID: s.ID, Quantity: 1})
	require.NoError(t, err)
	_, err = f.svc.Checkout(ctx, uuid.NullUUID{UUID: uuid.New(), Valid: true}, checkout.Input{CartID: empty.ID})
	require.ErrorIs(t, err, cart.ErrNotFound)
	_, err = f.svc.Checkout(ctx, owner, checkout.Input{CartID: uuid.New()})
	require.ErrorIs(t, err, cart.ErrNotFound)
}

// racingStore places the order right before the first cart write it forwards, after the cart
// service already saw the cart as open.
type racingStore struct {
	*memdb.Store
	once    sync.Once
	placeFn func()
}

func (s *racingStore) place() { s.once.Do(s.placeFn) }

func (s *racingStore) CreateCartItem(ctx context.Context, arg db.CreateCartItemParams) (db.CartItem, error) {
	s.place()
	return s.Store.CreateCartItem(ctx, arg)
}

func (s *racingStore) UpdateCartItemQty(ctx context.Context, id uuid.UUID, qty int32) error {
	s.place()
	return s.Store.UpdateCartItemQty(ctx, id, qty)
}

func (s *racingStore) UpdateCartStatus(ctx context.Context, arg db.UpdateCartStatusParams) error {
	s.place()
	return s.Store.UpdateCartStatus(ctx, arg)
}

func TestCheckoutWinsOverInFlightCartMutation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(ctx context.Context, svc *cart.Service, c db.Cart, line db.CartItem, extra db.Stock) error
	}{
		{"delete cart", func(ctx context.Context, svc *cart.Service, c db.Cart, _ db.CartItem, _ db.Stock) error {
			return svc.Delete(ctx, c.ID)
		}},
		{"add item", func(ctx context.Context, svc *cart.Service, c db.Cart, _ db.CartItem, extra db.Stock) error {
			_, err := svc.AddItem(ctx, c.ID, cart.AddItemInput{StockID: extra.ID, Quantity: 1})
			return err
		}},
		{"update qty", func(ctx context.Context, svc *cart.Service, c db.Cart, line db.CartItem, _ db.Stock) error {
			_, err := svc.UpdateQty(ctx, c.ID, line.ID, 3)
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			user := uuid.NullUUID{UUID: uuid.New(), Valid: true}
			s := f.stock("100", 10)
			extra := f.stock("20", 10)
			c := f.cartWith(t, user, map[uuid.UUID]int32{s.ID: 1})
			items, err := f.store.ListCartItems(ctx, c.ID)
			require.NoError(t, err)
			require.Len(t, items, 1)

			var placed checkout.Output
			racing := &racingStore{Store: f.store}
			racing.placeFn = func() {
				out, err := f.svc.Checkout(ctx, user, checkout.Input{CartID: c.ID, DeliveryType: db.DeliveryTypePickup})
				require.NoError(t, err)
				placed = out
			}
			carts := *f.carts
			carts.Store = racing

			err = tc.mutate(ctx, &carts, c, items[0], extra)
			require.ErrorIs(t, err, cart.ErrNotOpen)

			closed, err := f.store.GetCart(ctx, c.ID)
			require.NoError(t, err)
			require.Equal(t, db.CartStatusOrdered, closed.Status)
			require.Equal(t, placed.Order.ID, closed.OrderID.UUID)
			after, err := f.store.ListCartItems(ctx, c.ID)
			require.NoError(t, err)
			require.Equal(t, items, after)
		})
	}
}
