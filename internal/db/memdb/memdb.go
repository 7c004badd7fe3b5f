// Package memdb is an in-memory db.Store. Rows touched by a FOR UPDATE read or a write are
// locked until the owning transaction ends, and a failed transaction is rolled back from an
// undo log, so checkout concurrency behaves like it does on Postgres.
package memdb

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-pricing/internal/db"
)

type itemRow struct {
	db.CartItem
	seq int64
}

type memberRow struct {
	db.CartMember
	seq int64
}

type state struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
	seq   int64

	stocks     map[uuid.UUID]db.Stock
	shops      map[uuid.UUID]db.Shop
	currencies map[uuid.UUID]db.Currency
	carts      map[uuid.UUID]db.Cart
	items      map[uuid.UUID]itemRow
	members    map[uuid.UUID]memberRow
	coupons    map[uuid.UUID]db.Coupon
	usages     map[[2]uuid.UUID]db.InsertCouponUsageParams
	orders     map[uuid.UUID]db.Order
	details    map[uuid.UUID][]db.OrderDetail
	histories  map[uuid.UUID]db.CreditPointsParams
	balances   map[uuid.UUID]int64

	now func() time.Time
}

// Store implements db.Store in memory. Calls made directly on Store run in autocommit mode.
type Store struct {
	*querier
}

var _ db.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	st := &state{
		locks:      make(map[string]chan struct{}),
		stocks:     make(map[uuid.UUID]db.Stock),
		shops:      make(map[uuid.UUID]db.Shop),
		currencies: make(map[uuid.UUID]db.Currency),
		carts:      make(map[uuid.UUID]db.Cart),
		items:      make(map[uuid.UUID]itemRow),
		members:    make(map[uuid.UUID]memberRow),
		coupons:    make(map[uuid.UUID]db.Coupon),
		usages:     make(map[[2]uuid.UUID]db.InsertCouponUsageParams),
		orders:     make(map[uuid.UUID]db.Order),
		details:    make(map[uuid.UUID][]db.OrderDetail),
		histories:  make(map[uuid.UUID]db.CreditPointsParams),
		balances:   make(map[uuid.UUID]int64),
		now:        func() time.Time { return time.Now().UTC() },
	}
	return &Store{querier: &querier{st: st}}
}

// WithinTx runs fn in a transaction. Locks are released and, when fn fails, every write
// made through the transaction is undone.
func (s *Store) WithinTx(ctx context.Context, fn func(db.Querier) error) (err error) {
	t := &txn{held: make(map[string]chan struct{})}
	q := &querier{st: s.st, tx: t}
	defer func() {
		if err != nil {
			s.st.mu.Lock()
			for i := len(t.undo) - 1; i >= 0; i-- {
				t.undo[i]()
			}
			s.st.mu.Unlock()
		}
		for _, ch := range t.held {
			<-ch
		}
	}()
	return fn(q)
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

type txn struct {
	held map[string]chan struct{}
	undo []func()
}

type querier struct {
	st *state
	tx *txn
}

// lock takes the row lock for key. Inside a transaction the lock is kept until the
// transaction ends and the returned release is a no-op.
func (q *querier) lock(ctx context.Context, key string) (func(), error) {
	if q.tx != nil {
		if _, ok := q.tx.held[key]; ok {
			return func() {}, nil
		}
	}
	q.st.mu.Lock()
	ch, ok := q.st.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		q.st.locks[key] = ch
	}
	q.st.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if q.tx != nil {
		q.tx.held[key] = ch
		return func() {}, nil
	}
	return func() { <-ch }, nil
}

// record registers an undo step. It must be called with st.mu held.
func (q *querier) record(fn func()) {
	if q.tx != nil {
		q.tx.undo = append(q.tx.undo, fn)
	}
}

func (st *state) nextSeq() int64 {
	st.seq++
	return st.seq
}

func stockKey(id uuid.UUID) string  { return "stock:" + id.String() }
func cartKey(id uuid.UUID) string   { return "cart:" + id.String() }
func couponKey(id uuid.UUID) string { return "coupon:" + id.String() }
func userKey(id uuid.UUID) string   { return "points:" + id.String() }

func sortedIDs(ids []uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return slices.Compact(out)
}

func cloneStock(s db.Stock) db.Stock {
	s.AddonIDs = slices.Clone(s.AddonIDs)
	s.ExtraValueIDs = slices.Clone(s.ExtraValueIDs)
	if s.Discount != nil {
		d := *s.Discount
		s.Discount = &d
	}
	if s.Bonus != nil {
		b := *s.Bonus
		s.Bonus = &b
	}
	return s
}

func cloneCoupon(c db.Coupon) db.Coupon {
	c.ProductIDs = slices.Clone(c.ProductIDs)
	c.CategoryIDs = slices.Clone(c.CategoryIDs)
	if c.UsageLimit != nil {
		v := *c.UsageLimit
		c.UsageLimit = &v
	}
	return c
}
