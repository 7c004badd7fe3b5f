package memdb

import (
	"context"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-pricing/internal/db"
)

func (q *querier) GetStock(_ context.Context, id uuid.UUID) (db.Stock, error) {
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	s, ok := q.st.stocks[id]
	if !ok {
		return db.Stock{}, pgx.ErrNoRows
	}
	return cloneStock(s), nil
}

func (q *querier) ListStocks(_ context.Context, ids []uuid.UUID) ([]db.Stock, error) {
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	var out []db.Stock
	for _, id := range sortedIDs(ids) {
		if s, ok := q.st.stocks[id]; ok {
			out = append(out, cloneStock(s))
		}
	}
	return out, nil
}

func (q *querier) LockStocks(ctx context.Context, ids []uuid.UUID) ([]db.Stock, error) {
	ids = sortedIDs(ids)
	for _, id := range ids {
		q.st.mu.Lock()
		_, ok := q.st.stocks[id]
		q.st.mu.Unlock()
		if !ok {
			continue
		}
		release, err := q.lock(ctx, stockKey(id))
		if err != nil {
			return nil, err
		}
		defer release()
	}
	return q.ListStocks(ctx, ids)
}

func (q *querier) DecrementStock(ctx context.Context, id uuid.UUID, qty int32) (int32, error) {
	release, err := q.lock(ctx, stockKey(id))
	if err != nil {
		return 0, err
	}
	defer release()
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	s, ok := q.st.stocks[id]
	if !ok || s.DeletedAt != nil || s.Quantity < qty {
		return 0, pgx.ErrNoRows
	}
	prev := s.Quantity
	s.Quantity -= qty
	q.st.stocks[id] = s
	q.record(func() {
		row := q.st.stocks[id]
		row.Quantity = prev
		q.st.stocks[id] = row
	})
	return s.Quantity, nil
}

func (q *querier) GetShop(_ context.Context, id uuid.UUID) (db.Shop, error) {
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	s, ok := q.st.shops[id]
	if !ok {
		return db.Shop{}, pgx.ErrNoRows
	}
	s.CashbackTiers = slices.Clone(s.CashbackTiers)
	return s, nil
}

func (q *querier) UpsertShop(ctx context.Context, shop db.Shop) error {
	release, err := q.lock(ctx, "shop:"+shop.ID.String())
	if err != nil {
		return err
	}
	defer release()
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	prev, existed := q.st.shops[shop.ID]
	shop.CashbackTiers = slices.Clone(shop.CashbackTiers)
	sort.Slice(shop.CashbackTiers, func(i, j int) bool {
		return shop.CashbackTiers[i].Threshold.LessThan(shop.CashbackTiers[j].Threshold)
	})
	shop.UpdatedAt = q.st.now()
	q.st.shops[shop.ID] = shop
	q.record(func() {
		if existed {
			q.st.shops[shop.ID] = prev
		} else {
			delete(q.st.shops, shop.ID)
		}
	})
	return nil
}

func (q *querier) GetCurrency(_ context.Context, id uuid.UUID) (db.Currency, error) {
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	c, ok := q.st.currencies[id]
	if !ok {
		return db.Currency{}, pgx.ErrNoRows
	}
	return c, nil
}

func (q *querier) CreateCart(_ context.Context, arg db.CreateCartParams) (db.Cart, error) {
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	now := q.st.now()
	c := db.Cart{
		ID:         uuid.New(),
		OwnerID:    arg.OwnerID,
		ShopID:     arg.ShopID,
		CurrencyID: arg.CurrencyID,
		Rate:       arg.Rate,
		Status:     db.CartStatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	q.st.carts[c.ID] = c
	q.record(func() { delete(q.st.carts, c.ID) })
	return c, nil
}

func (q *querier) GetCart(_ context.Context, id uuid.UUID) (db.Cart, error) {
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	c, ok := q.st.carts[id]
	if !ok {
		return db.Cart{}, pgx.ErrNoRows
	}
	return c, nil
}

func (q *querier) GetOpenCartByOwner(_ context.Context, ownerID, shopID uuid.UUID) (db.Cart, error) {
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	var (
		found db.Cart
		ok    bool
	)
	for _, c := range q.st.carts {
		if c.Status != db.CartStatusOpen || !c.OwnerID.Valid || c.OwnerID.UUID != ownerID || c.ShopID != shopID {
			continue
		}
		if !ok || c.CreatedAt.After(found.CreatedAt) {
			found, ok = c, true
		}
	}
	if !ok {
		return db.Cart{}, pgx.ErrNoRows
	}
	return found, nil
}

func (q *querier) LockCart(ctx context.Context, id uuid.UUID) (db.Cart, error) {
	release, err := q.lock(ctx, cartKey(id))
	if err != nil {
		return db.Cart{}, err
	}
	defer release()
	return q.GetCart(ctx, id)
}

// open reports whether the cart exists and still accepts changes. It must be called with
// st.mu held.
func (q *querier) open(cartID uuid.UUID) bool {
	c, ok := q.st.carts[cartID]
	return ok && c.Status == db.CartStatusOpen
}

// updateCart applies mutate to an existing cart under its row lock.
func (q *querier) updateCart(ctx context.Context, id uuid.UUID, mutate func(*db.Cart) bool) error {
	release, err := q.lock(ctx, cartKey(id))
	if err != nil {
		return err
	}
	defer release()
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	c, ok := q.st.carts[id]
	if !ok {
		return pgx.ErrNoRows
	}
	prev := c
	if !mutate(&c) {
		return pgx.ErrNoRows
	}
	c.UpdatedAt = q.st.now()
	q.st.carts[id] = c
	q.record(func() { q.st.carts[id] = prev })
	return nil
}

func (q *querier) UpdateCartCoupon(ctx context.Context, id uuid.UUID, code *string) error {
	return q.updateCart(ctx, id, func(c *db.Cart) bool {
		if c.Status != db.CartStatusOpen {
			return false
		}
		if code != nil {
			v := *code
			c.CouponCode = &v
		} else {
			c.CouponCode = nil
		}
		return true
	})
}

func (q *querier) UpdateCartGroup(ctx context.Context, id uuid.UUID, group bool) error {
	return q.updateCart(ctx, id, func(c *db.Cart) bool {
		if c.Status != db.CartStatusOpen {
			return false
		}
		c.Group = group
		return true
	})
}

func (q *querier) UpdateCartStatus(ctx context.Context, arg db.UpdateCartStatusParams) error {
	return q.updateCart(ctx, arg.ID, func(c *db.Cart) bool {
		if c.Status != db.CartStatusOpen {
			return false
		}
		c.Status = arg.Status
		if arg.OrderID.Valid {
			c.OrderID = arg.OrderID
		}
		if arg.Status == db.CartStatusDeleted {
			now := q.st.now()
			c.DeletedAt = &now
		}
		return true
	})
}

func (q *querier) ListCartItems(_ context.Context, cartID uuid.UUID) ([]db.CartItem, error) {
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	var rows []itemRow
	for _, it := range q.st.items {
		if it.CartID == cartID {
			rows = append(rows, it)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]db.CartItem, 0, len(rows))
	for _, r := range rows {
		it := r.CartItem
		it.ExtraIDs = slices.Clone(it.ExtraIDs)
		out = append(out, it)
	}
	return out, nil
}

func (q *querier) GetCartItem(_ context.Context, id uuid.UUID) (db.CartItem, error) {
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	it, ok := q.st.items[id]
	if !ok {
		return db.CartItem{}, pgx.ErrNoRows
	}
	out := it.CartItem
	out.ExtraIDs = slices.Clone(out.ExtraIDs)
	return out, nil
}

func (q *querier) CreateCartItem(ctx context.Context, arg db.CreateCartItemParams) (db.CartItem, error) {
	release, err := q.lock(ctx, cartKey(arg.CartID))
	if err != nil {
		return db.CartItem{}, err
	}
	defer release()
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	if !q.open(arg.CartID) {
		return db.CartItem{}, pgx.ErrNoRows
	}
	it := db.CartItem{
		ID:        uuid.New(),
		CartID:    arg.CartID,
		MemberID:  arg.MemberID,
		StockID:   arg.StockID,
		Quantity:  arg.Quantity,
		ParentID:  arg.ParentID,
		ExtraIDs:  slices.Clone(arg.ExtraIDs),
		CreatedAt: q.st.now(),
	}
	q.st.items[it.ID] = itemRow{CartItem: it, seq: q.st.nextSeq()}
	q.record(func() { delete(q.st.items, it.ID) })
	return it, nil
}

func (q *querier) UpdateCartItemQty(ctx context.Context, id uuid.UUID, qty int32) error {
	q.st.mu.Lock()
	it, ok := q.st.items[id]
	q.st.mu.Unlock()
	if !ok || it.Bonus {
		return pgx.ErrNoRows
	}
	release, err := q.lock(ctx, cartKey(it.CartID))
	if err != nil {
		return err
	}
	defer release()
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	row, ok := q.st.items[id]
	if !ok || !q.open(row.CartID) {
		return pgx.ErrNoRows
	}
	prev := row
	row.Quantity = qty
	q.st.items[id] = row
	q.record(func() { q.st.items[id] = prev })
	return nil
}

// removeItems deletes the matching lines and, transitively, every line hanging off them.
// It must be called with st.mu held.
func (q *querier) removeItems(cartID uuid.UUID, match func(itemRow) bool) {
	gone := make(map[uuid.UUID]bool)
	for changed := true; changed; {
		changed = false
		for id, it := range q.st.items {
			if it.CartID != cartID || gone[id] {
				continue
			}
			hangs := (it.ParentID.Valid && gone[it.ParentID.UUID]) || (it.BonusSourceID.Valid && gone[it.BonusSourceID.UUID])
			if hangs || match(it) {
				gone[id] = true
				changed = true
			}
		}
	}
	for id := range gone {
		row := q.st.items[id]
		delete(q.st.items, id)
		q.record(func() { q.st.items[id] = row })
	}
}

func (q *querier) DeleteCartItems(ctx context.Context, cartID uuid.UUID, ids []uuid.UUID) error {
	release, err := q.lock(ctx, cartKey(cartID))
	if err != nil {
		return err
	}
	defer release()
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	if !q.open(cartID) {
		return pgx.ErrNoRows
	}
	q.removeItems(cartID, func(it itemRow) bool { return slices.Contains(ids, it.ID) })
	return nil
}

func (q *querier) UpsertBonusItem(ctx context.Context, arg db.UpsertBonusItemParams) error {
	release, err := q.lock(ctx, cartKey(arg.CartID))
	if err != nil {
		return err
	}
	defer release()
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	if !q.open(arg.CartID) {
		return pgx.ErrNoRows
	}
	for id, it := range q.st.items {
		if it.CartID == arg.CartID && it.BonusSourceID.Valid && it.BonusSourceID.UUID == arg.BonusSourceID {
			prev := it
			it.StockID = arg.StockID
			it.Quantity = arg.Quantity
			q.st.items[id] = it
			q.record(func() { q.st.items[id] = prev })
			return nil
		}
	}
	it := db.CartItem{
		ID:            arg.ID,
		CartID:        arg.CartID,
		StockID:       arg.StockID,
		Quantity:      arg.Quantity,
		Bonus:         true,
		BonusSourceID: uuid.NullUUID{UUID: arg.BonusSourceID, Valid: true},
		CreatedAt:     q.st.now(),
	}
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	q.st.items[it.ID] = itemRow{CartItem: it, seq: q.st.nextSeq()}
	q.record(func() { delete(q.st.items, it.ID) })
	return nil
}

func (q *querier) DeleteStaleBonusItems(ctx context.Context, cartID uuid.UUID, keep []uuid.UUID) error {
	release, err := q.lock(ctx, cartKey(cartID))
	if err != nil {
		return err
	}
	defer release()
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	if !q.open(cartID) {
		return pgx.ErrNoRows
	}
	q.removeItems(cartID, func(it itemRow) bool {
		return it.Bonus && !slices.Contains(keep, it.BonusSourceID.UUID)
	})
	return nil
}

func (q *querier) CreateCartMember(ctx context.Context, arg db.CreateCartMemberParams) (db.CartMember, error) {
	release, err := q.lock(ctx, cartKey(arg.CartID))
	if err != nil {
		return db.CartMember{}, err
	}
	defer release()
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	if !q.open(arg.CartID) {
		return db.CartMember{}, pgx.ErrNoRows
	}
	m := db.CartMember{ID: uuid.New(), CartID: arg.CartID, UserID: arg.UserID, Name: arg.Name, CreatedAt: q.st.now()}
	q.st.members[m.ID] = memberRow{CartMember: m, seq: q.st.nextSeq()}
	q.record(func() { delete(q.st.members, m.ID) })
	return m, nil
}

func (q *querier) ListCartMembers(_ context.Context, cartID uuid.UUID) ([]db.CartMember, error) {
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	var rows []memberRow
	for _, m := range q.st.members {
		if m.CartID == cartID {
			rows = append(rows, m)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]db.CartMember, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.CartMember)
	}
	return out, nil
}

func (q *querier) UpdateCartMemberReady(ctx context.Context, id uuid.UUID, ready bool) error {
	q.st.mu.Lock()
	m, ok := q.st.members[id]
	q.st.mu.Unlock()
	if !ok {
		return pgx.ErrNoRows
	}
	release, err := q.lock(ctx, cartKey(m.CartID))
	if err != nil {
		return err
	}
	defer release()
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	row, ok := q.st.members[id]
	if !ok || !q.open(row.CartID) {
		return pgx.ErrNoRows
	}
	prev := row
	row.Ready = ready
	q.st.members[id] = row
	q.record(func() { q.st.members[id] = prev })
	return nil
}

func (q *querier) DeleteCartMember(ctx context.Context, cartID, id uuid.UUID) error {
	release, err := q.lock(ctx, cartKey(cartID))
	if err != nil {
		return err
	}
	defer release()
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	m, ok := q.st.members[id]
	if !ok || m.CartID != cartID || !q.open(cartID) {
		return pgx.ErrNoRows
	}
	delete(q.st.members, id)
	q.record(func() { q.st.members[id] = m })
	q.removeItems(cartID, func(it itemRow) bool { return it.MemberID.Valid && it.MemberID.UUID == id })
	return nil
}

func (q *querier) findCoupon(shopID uuid.UUID, code string) (db.Coupon, bool) {
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	for _, c := range q.st.coupons {
		if c.ShopID == shopID && strings.EqualFold(c.Code, code) {
			return cloneCoupon(c), true
		}
	}
	return db.Coupon{}, false
}

func (q *querier) GetCouponByCode(_ context.Context, shopID uuid.UUID, code string) (db.Coupon, error) {
	c, ok := q.findCoupon(shopID, code)
	if !ok {
		return db.Coupon{}, pgx.ErrNoRows
	}
	return c, nil
}

func (q *querier) GetCouponByCodeForUpdate(ctx context.Context, shopID uuid.UUID, code string) (db.Coupon, error) {
	c, ok := q.findCoupon(shopID, code)
	if !ok {
		return db.Coupon{}, pgx.ErrNoRows
	}
	release, err := q.lock(ctx, couponKey(c.ID))
	if err != nil {
		return db.Coupon{}, err
	}
	defer release()
	// Re-read after waiting so the caller sees the committed used count.
	return q.GetCouponByCode(ctx, shopID, code)
}

func (q *querier) IncreaseCouponUsedCount(ctx context.Context, id uuid.UUID) error {
	release, err := q.lock(ctx, couponKey(id))
	if err != nil {
		return err
	}
	defer release()
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	c, ok := q.st.coupons[id]
	if !ok || (c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit) {
		return pgx.ErrNoRows
	}
	c.UsedCount++
	q.st.coupons[id] = c
	q.record(func() {
		row := q.st.coupons[id]
		row.UsedCount--
		q.st.coupons[id] = row
	})
	return nil
}

func (q *querier) InsertCouponUsage(_ context.Context, arg db.InsertCouponUsageParams) error {
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	key := [2]uuid.UUID{arg.CouponID, arg.OrderID}
	if _, ok := q.st.usages[key]; ok {
		return db.ErrDuplicate
	}
	q.st.usages[key] = arg
	q.record(func() { delete(q.st.usages, key) })
	return nil
}

func (q *querier) CreateOrder(_ context.Context, o db.Order) (db.Order, error) {
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	for _, existing := range q.st.orders {
		if existing.CartID == o.CartID {
			return db.Order{}, db.ErrDuplicate
		}
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.CreatedAt = q.st.now()
	q.st.orders[o.ID] = o
	q.record(func() {
		delete(q.st.orders, o.ID)
		delete(q.st.details, o.ID)
	})
	return o, nil
}

func (q *querier) CreateOrderDetail(_ context.Context, d db.OrderDetail) error {
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	if _, ok := q.st.orders[d.OrderID]; !ok {
		return pgx.ErrNoRows
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	q.st.details[d.OrderID] = append(q.st.details[d.OrderID], d)
	return nil
}

func (q *querier) GetOrder(_ context.Context, id uuid.UUID) (db.Order, error) {
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	o, ok := q.st.orders[id]
	if !ok {
		return db.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (q *querier) ListOrderDetails(_ context.Context, orderID uuid.UUID) ([]db.OrderDetail, error) {
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	return slices.Clone(q.st.details[orderID]), nil
}

func (q *querier) CreditPoints(ctx context.Context, arg db.CreditPointsParams) (bool, error) {
	release, err := q.lock(ctx, userKey(arg.UserID))
	if err != nil {
		return false, err
	}
	defer release()
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	if _, ok := q.st.histories[arg.OrderID]; ok {
		return false, nil
	}
	q.st.histories[arg.OrderID] = arg
	q.st.balances[arg.UserID] += arg.Points
	q.record(func() {
		delete(q.st.histories, arg.OrderID)
		q.st.balances[arg.UserID] -= arg.Points
	})
	return true, nil
}

func (q *querier) GetPointBalance(_ context.Context, userID uuid.UUID) (int64, error) {
	q.st.mu.Lock()
	defer q.st.mu.Unlock()
	return q.st.balances[userID], nil
}
