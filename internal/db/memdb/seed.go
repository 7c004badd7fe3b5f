package memdb

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-pricing/internal/db"
)

// PutStock inserts or replaces a stock row.
func (s *Store) PutStock(stock db.Stock) db.Stock {
	if stock.ID == uuid.Nil {
		stock.ID = uuid.New()
	}
	if stock.Bonus != nil {
		stock.Bonus.StockID = stock.ID
		if stock.Bonus.ID == uuid.Nil {
			stock.Bonus.ID = uuid.New()
		}
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.stocks[stock.ID] = cloneStock(stock)
	return stock
}

// PutShop inserts or replaces a shop row.
func (s *Store) PutShop(shop db.Shop) db.Shop {
	if shop.ID == uuid.Nil {
		shop.ID = uuid.New()
	}
	_ = s.UpsertShop(context.Background(), shop)
	return shop
}

// PutCurrency inserts or replaces a currency row.
func (s *Store) PutCurrency(c db.Currency) db.Currency {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.currencies[c.ID] = c
	return c
}

// PutCoupon inserts or replaces a coupon row.
func (s *Store) PutCoupon(c db.Coupon) db.Coupon {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.coupons[c.ID] = cloneCoupon(c)
	return c
}

// SetClock overrides the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.now = now
}

// CouponUsages counts recorded redemptions of a coupon.
func (s *Store) CouponUsages(couponID uuid.UUID) int {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	n := 0
	for key := range s.st.usages {
		if key[0] == couponID {
			n++
		}
	}
	return n
}
