package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/cache"
	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/money"
	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/stock"
)

var (
	// ErrNotFound indicates the requested cart could not be located.
	ErrNotFound = common.NewAppError(common.CodeNotFound, "cart not found", http.StatusNotFound, nil)
	// ErrInvalidInput is returned when the provided payload is invalid.
	ErrInvalidInput = common.NewAppError(common.CodeValidation, "invalid input", http.StatusBadRequest, nil)
	// ErrNotOpen is returned when a cart was already ordered.
	ErrNotOpen = common.NewAppError(common.CodeCartNotOpen, "cart is no longer open", http.StatusConflict, nil)
	// ErrItemNotFound is returned for lines outside the cart, and for bonus lines which are
	// managed by the pricing rules.
	ErrItemNotFound = common.NewAppError(common.CodeNotFound, "cart item not found", http.StatusNotFound, nil)
	// ErrMemberNotFound is returned for members outside the cart.
	ErrMemberNotFound = common.NewAppError(common.CodeNotFound, "cart member not found", http.StatusNotFound, nil)
	// ErrNotGroup is returned when members are added to a cart that is not shared.
	ErrNotGroup = common.NewAppError(common.CodeValidation, "cart is not a group cart", http.StatusBadRequest, nil)
)

// Mutex serializes mutations of one cart across instances.
type Mutex interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Service encapsulates cart domain operations.
type Service struct {
	Store   db.Store
	Calc    *Calculator
	Lock    Mutex
	LockTTL time.Duration
	Log     zerolog.Logger
}

// View is a cart with its stored lines and members.
type View struct {
	Cart    db.Cart         `json:"cart"`
	Items   []db.CartItem   `json:"items"`
	Members []db.CartMember `json:"members"`
}

// CreateInput opens a cart.
type CreateInput struct {
	OwnerID    uuid.NullUUID
	ShopID     uuid.UUID
	CurrencyID uuid.UUID
}

// AddItemInput describes a line to add. Lines with the same stock, parent, member and
// extras are merged.
type AddItemInput struct {
	StockID  uuid.UUID
	Quantity int32
	ParentID uuid.NullUUID
	MemberID uuid.NullUUID
	ExtraIDs []uuid.UUID
}

// AddMemberInput describes a group cart participant.
type AddMemberInput struct {
	UserID uuid.NullUUID
	Name   string
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return 10 * time.Second
	}
	return s.LockTTL
}

// Create opens a cart for a shop and captures the currency rate once. An owner that already
// has an open cart at the shop gets that cart back.
func (s *Service) Create(ctx context.Context, in CreateInput) (db.Cart, error) {
	if s == nil || s.Store == nil || s.Calc == nil {
		return db.Cart{}, errors.New("cart service not configured")
	}
	if in.ShopID == uuid.Nil || in.CurrencyID == uuid.Nil {
		return db.Cart{}, fmt.Errorf("shop and currency are required: %w", ErrInvalidInput)
	}
	if _, err := s.Calc.Shops.Config(ctx, in.ShopID); err != nil {
		return db.Cart{}, err
	}
	cur, err := s.Store.GetCurrency(ctx, in.CurrencyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.Cart{}, fmt.Errorf("currency %s: %w", in.CurrencyID, ErrInvalidInput)
		}
		return db.Cart{}, err
	}
	if _, err := money.NewConverter(cur.Rate); err != nil {
		return db.Cart{}, fmt.Errorf("currency %s: %w", cur.Code, err)
	}
	if in.OwnerID.Valid {
		existing, err := s.Store.GetOpenCartByOwner(ctx, in.OwnerID.UUID, in.ShopID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return db.Cart{}, err
		}
	}
	cart, err := s.Store.CreateCart(ctx, db.CreateCartParams{
		OwnerID:    in.OwnerID,
		ShopID:     in.ShopID,
		CurrencyID: cur.ID,
		Rate:       cur.Rate,
	})
	if err != nil {
		return db.Cart{}, fmt.Errorf("create cart: %w", err)
	}
	s.Log.Debug().Str("cart_id", cart.ID.String()).Str("currency", cur.Code).Msg("cart created")
	return cart, nil
}

// Get returns the cart with its lines and members.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (View, error) {
	cart, err := s.load(ctx, s.Store, id)
	if err != nil {
		return View{}, err
	}
	items, err := s.Store.ListCartItems(ctx, id)
	if err != nil {
		return View{}, err
	}
	members, err := s.Store.ListCartMembers(ctx, id)
	if err != nil {
		return View{}, err
	}
	return View{Cart: cart, Items: items, Members: members}, nil
}

// Authorize hides owned carts from other users. Anonymous and group carts are reachable by
// anyone holding their id.
func (s *Service) Authorize(ctx context.Context, cartID uuid.UUID, user uuid.NullUUID) error {
	cart, err := s.load(ctx, s.Store, cartID)
	if err != nil {
		return err
	}
	if !cart.OwnerID.Valid || cart.Group {
		return nil
	}
	if !user.Valid || user.UUID != cart.OwnerID.UUID {
		return fmt.Errorf("cart %s: %w", cartID, ErrNotFound)
	}
	return nil
}

// AddItem validates the selection against the current stock and stores it.
func (s *Service) AddItem(ctx context.Context, cartID uuid.UUID, in AddItemInput) (db.CartItem, error) {
	if in.Quantity <= 0 || in.StockID == uuid.Nil {
		return db.CartItem{}, fmt.Errorf("stock and a positive quantity are required: %w", ErrInvalidInput)
	}
	var out db.CartItem
	err := s.mutate(ctx, cartID, func(ctx context.Context, cart db.Cart) error {
		items, err := s.Store.ListCartItems(ctx, cartID)
		if err != nil {
			return err
		}
		if in.MemberID.Valid {
			if err := s.checkMember(ctx, cartID, in.MemberID.UUID); err != nil {
				return err
			}
		}
		target := stock.LineRequest{
			ID:       uuid.New(),
			StockID:  in.StockID,
			Quantity: in.Quantity,
			ParentID: in.ParentID,
			ExtraIDs: in.ExtraIDs,
		}
		var merge *db.CartItem
		for i := range items {
			if sameLine(items[i], in) {
				merge = &items[i]
				target.ID = merge.ID
				target.Quantity += merge.Quantity
				break
			}
		}
		if err := s.validate(ctx, cart, items, target); err != nil {
			return err
		}
		if merge != nil {
			if err := s.Store.UpdateCartItemQty(ctx, merge.ID, target.Quantity); err != nil {
				return err
			}
			out = *merge
			out.Quantity = target.Quantity
			return nil
		}
		out, err = s.Store.CreateCartItem(ctx, db.CreateCartItemParams{
			CartID:   cartID,
			MemberID: in.MemberID,
			StockID:  in.StockID,
			Quantity: in.Quantity,
			ParentID: in.ParentID,
			ExtraIDs: in.ExtraIDs,
		})
		return err
	})
	return out, err
}

// UpdateQty sets the quantity of a line.
func (s *Service) UpdateQty(ctx context.Context, cartID, itemID uuid.UUID, qty int32) (db.CartItem, error) {
	if qty <= 0 {
		return db.CartItem{}, fmt.Errorf("qty must be positive: %w", ErrInvalidInput)
	}
	var out db.CartItem
	err := s.mutate(ctx, cartID, func(ctx context.Context, cart db.Cart) error {
		items, err := s.Store.ListCartItems(ctx, cartID)
		if err != nil {
			return err
		}
		idx := slices.IndexFunc(items, func(it db.CartItem) bool { return it.ID == itemID && !it.Bonus })
		if idx < 0 {
			return fmt.Errorf("item %s: %w", itemID, ErrItemNotFound)
		}
		item := items[idx]
		if err := s.validate(ctx, cart, items, stock.LineRequest{
			ID:       item.ID,
			StockID:  item.StockID,
			Quantity: qty,
			ParentID: item.ParentID,
			ExtraIDs: item.ExtraIDs,
		}); err != nil {
			return err
		}
		if err := s.Store.UpdateCartItemQty(ctx, itemID, qty); err != nil {
			return err
		}
		out = item
		out.Quantity = qty
		return nil
	})
	return out, err
}

// DeleteItems removes lines together with the addons nested under them and the bonus lines
// they earned.
func (s *Service) DeleteItems(ctx context.Context, cartID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return fmt.Errorf("ids are required: %w", ErrInvalidInput)
	}
	return s.mutate(ctx, cartID, func(ctx context.Context, _ db.Cart) error {
		return s.Store.DeleteCartItems(ctx, cartID, ids)
	})
}

// Delete soft deletes an open cart.
func (s *Service) Delete(ctx context.Context, cartID uuid.UUID) error {
	return s.mutate(ctx, cartID, func(ctx context.Context, _ db.Cart) error {
		return s.Store.UpdateCartStatus(ctx, db.UpdateCartStatusParams{ID: cartID, Status: db.CartStatusDeleted})
	})
}

// ApplyCoupon prices the cart with code and stores it only when the coupon applies.
func (s *Service) ApplyCoupon(ctx context.Context, cartID uuid.UUID, code string, delivery db.DeliveryType) (pricing.Summary, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return pricing.Summary{}, fmt.Errorf("code is required: %w", ErrInvalidInput)
	}
	var out pricing.Summary
	err := s.mutate(ctx, cartID, func(ctx context.Context, cart db.Cart) error {
		quote, err := s.Calc.Quote(ctx, s.Store, stock.ReadSource(s.Store), cart, QuoteOptions{
			DeliveryType:  delivery,
			CouponCode:    &code,
			RequireCoupon: true,
		})
		if err != nil {
			s.Log.Info().Err(err).Str("cart_id", cartID.String()).Str("code", code).Msg("coupon rejected")
			return err
		}
		stored := quote.Coupon.Coupon.Code
		if err := s.Store.UpdateCartCoupon(ctx, cartID, &stored); err != nil {
			return err
		}
		out = quote.Summary
		return nil
	})
	return out, err
}

// RemoveCoupon clears the coupon of a cart.
func (s *Service) RemoveCoupon(ctx context.Context, cartID uuid.UUID) error {
	return s.mutate(ctx, cartID, func(ctx context.Context, _ db.Cart) error {
		return s.Store.UpdateCartCoupon(ctx, cartID, nil)
	})
}

// SetGroup turns a cart into a shared cart or back. A cart with members cannot leave group mode.
func (s *Service) SetGroup(ctx context.Context, cartID uuid.UUID, group bool) (db.Cart, error) {
	var out db.Cart
	err := s.mutate(ctx, cartID, func(ctx context.Context, cart db.Cart) error {
		if !group {
			members, err := s.Store.ListCartMembers(ctx, cartID)
			if err != nil {
				return err
			}
			if len(members) > 0 {
				return fmt.Errorf("cart still has %d members: %w", len(members), ErrInvalidInput)
			}
		}
		if err := s.Store.UpdateCartGroup(ctx, cartID, group); err != nil {
			return err
		}
		out = cart
		out.Group = group
		return nil
	})
	return out, err
}

// AddMember joins a participant to a group cart. A user joining twice gets the existing member.
func (s *Service) AddMember(ctx context.Context, cartID uuid.UUID, in AddMemberInput) (db.CartMember, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return db.CartMember{}, fmt.Errorf("name is required: %w", ErrInvalidInput)
	}
	var out db.CartMember
	err := s.mutate(ctx, cartID, func(ctx context.Context, cart db.Cart) error {
		if !cart.Group {
			return ErrNotGroup
		}
		if in.UserID.Valid {
			members, err := s.Store.ListCartMembers(ctx, cartID)
			if err != nil {
				return err
			}
			for _, m := range members {
				if m.UserID == in.UserID {
					out = m
					return nil
				}
			}
		}
		var err error
		out, err = s.Store.CreateCartMember(ctx, db.CreateCartMemberParams{CartID: cartID, UserID: in.UserID, Name: in.Name})
		return err
	})
	return out, err
}

// SetMemberReady records whether a member finished choosing.
func (s *Service) SetMemberReady(ctx context.Context, cartID, memberID uuid.UUID, ready bool) error {
	return s.mutate(ctx, cartID, func(ctx context.Context, _ db.Cart) error {
		if err := s.checkMember(ctx, cartID, memberID); err != nil {
			return err
		}
		return s.Store.UpdateCartMemberReady(ctx, memberID, ready)
	})
}

// DeleteMember removes a member and every line they added.
func (s *Service) DeleteMember(ctx context.Context, cartID, memberID uuid.UUID) error {
	return s.mutate(ctx, cartID, func(ctx context.Context, _ db.Cart) error {
		err := s.Store.DeleteCartMember(ctx, cartID, memberID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("member %s: %w", memberID, ErrMemberNotFound)
		}
		return err
	})
}

// Calculate prices the cart and stores the bonus lines it earns, so repeated calls converge on
// the same stored set.
func (s *Service) Calculate(ctx context.Context, cartID uuid.UUID, delivery db.DeliveryType) (pricing.Summary, error) {
	var out pricing.Summary
	err := s.mutate(ctx, cartID, func(ctx context.Context, cart db.Cart) error {
		quote, err := s.Calc.Quote(ctx, s.Store, stock.ReadSource(s.Store), cart, QuoteOptions{DeliveryType: delivery})
		if err != nil {
			return err
		}
		if err := s.syncBonus(ctx, cartID, quote); err != nil {
			return fmt.Errorf("sync bonus lines: %w", err)
		}
		out = quote.Summary
		return nil
	})
	return out, err
}

func (s *Service) syncBonus(ctx context.Context, cartID uuid.UUID, quote Quote) error {
	stored := make(map[uuid.UUID]db.CartItem)
	for _, it := range quote.Items {
		if it.Bonus && it.BonusSourceID.Valid {
			stored[it.BonusSourceID.UUID] = it
		}
	}
	var (
		keep    []uuid.UUID
		upserts []db.UpsertBonusItemParams
	)
	for _, l := range quote.Lines {
		if !l.Bonus {
			continue
		}
		src := l.BonusSourceID.UUID
		keep = append(keep, src)
		if it, ok := stored[src]; ok && it.StockID == l.StockID && it.Quantity == l.Quantity {
			continue
		}
		upserts = append(upserts, db.UpsertBonusItemParams{
			ID:            l.ID,
			CartID:        cartID,
			BonusSourceID: src,
			StockID:       l.StockID,
			Quantity:      l.Quantity,
		})
	}
	if len(upserts) == 0 && len(keep) == len(stored) {
		return nil
	}
	return s.Store.WithinTx(ctx, func(q db.Querier) error {
		for _, arg := range upserts {
			if err := q.UpsertBonusItem(ctx, arg); err != nil {
				return err
			}
		}
		return q.DeleteStaleBonusItems(ctx, cartID, keep)
	})
}

// validate resolves the changed line together with its parent and every other line of the
// same stock, so aggregated demand and addon rules are checked without touching unrelated lines.
func (s *Service) validate(ctx context.Context, cart db.Cart, items []db.CartItem, target stock.LineRequest) error {
	reqs := []stock.LineRequest{target}
	for _, it := range items {
		if it.Bonus || it.ID == target.ID {
			continue
		}
		isParent := target.ParentID.Valid && it.ID == target.ParentID.UUID
		if isParent || it.StockID == target.StockID {
			reqs = append(reqs, stock.LineRequest{
				ID:       it.ID,
				StockID:  it.StockID,
				Quantity: it.Quantity,
				ParentID: it.ParentID,
				ExtraIDs: it.ExtraIDs,
			})
		}
	}
	if target.ParentID.Valid && !slices.ContainsFunc(reqs, func(r stock.LineRequest) bool { return r.ID == target.ParentID.UUID }) {
		return fmt.Errorf("parent %s: %w", target.ParentID.UUID, ErrItemNotFound)
	}
	// Lines of the same stock nested under other parents need those parents to resolve.
	for _, r := range reqs {
		if !r.ParentID.Valid || slices.ContainsFunc(reqs, func(o stock.LineRequest) bool { return o.ID == r.ParentID.UUID }) {
			continue
		}
		if i := slices.IndexFunc(items, func(it db.CartItem) bool { return it.ID == r.ParentID.UUID }); i >= 0 {
			p := items[i]
			reqs = append(reqs, stock.LineRequest{ID: p.ID, StockID: p.StockID, Quantity: p.Quantity, ExtraIDs: p.ExtraIDs})
		}
	}
	_, err := stock.NewResolver(stock.ReadSource(s.Store)).ResolveLines(ctx, cart.ShopID, reqs)
	return err
}

func (s *Service) checkMember(ctx context.Context, cartID, memberID uuid.UUID) error {
	members, err := s.Store.ListCartMembers(ctx, cartID)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(members, func(m db.CartMember) bool { return m.ID == memberID }) {
		return fmt.Errorf("member %s: %w", memberID, ErrMemberNotFound)
	}
	return nil
}

// mutate runs fn under the cart lock once the cart is known to be open.
func (s *Service) mutate(ctx context.Context, cartID uuid.UUID, fn func(context.Context, db.Cart) error) error {
	if s == nil || s.Store == nil || s.Calc == nil {
		return errors.New("cart service not configured")
	}
	run := func(ctx context.Context) error {
		cart, err := s.load(ctx, s.Store, cartID)
		if err != nil {
			return err
		}
		if cart.Status != db.CartStatusOpen {
			return fmt.Errorf("cart %s is %s: %w", cartID, cart.Status, ErrNotOpen)
		}
		err = fn(ctx, cart)
		if err == nil {
			return nil
		}
		// Checkout locks the cart row, not this mutex, so it can close the cart between the
		// check above and the write. The store rejects writes to closed carts.
		if now, gerr := s.Store.GetCart(ctx, cartID); gerr == nil && now.Status != db.CartStatusOpen {
			return fmt.Errorf("cart %s is %s: %w", cartID, now.Status, ErrNotOpen)
		}
		return err
	}
	if s.Lock == nil {
		return run(ctx)
	}
	return s.Lock.WithLock(ctx, cache.KeyCartLock(cartID), s.lockTTL(), run)
}

func (s *Service) load(ctx context.Context, q db.Querier, id uuid.UUID) (db.Cart, error) {
	if s == nil || s.Store == nil {
		return db.Cart{}, errors.New("cart service not configured")
	}
	cart, err := q.GetCart(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.Cart{}, fmt.Errorf("cart %s: %w", id, ErrNotFound)
		}
		return db.Cart{}, err
	}
	if cart.Status == db.CartStatusDeleted {
		return db.Cart{}, fmt.Errorf("cart %s: %w", id, ErrNotFound)
	}
	return cart, nil
}

func sameLine(it db.CartItem, in AddItemInput) bool {
	if it.Bonus || it.StockID != in.StockID || it.ParentID != in.ParentID || it.MemberID != in.MemberID {
		return false
	}
	if len(it.ExtraIDs) != len(in.ExtraIDs) {
		return false
	}
	for _, id := range in.ExtraIDs {
		if !slices.Contains(it.ExtraIDs, id) {
			return false
		}
	}
	return true
}
