package stock

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/db"
)

var (
	// ErrStockNotFound is returned when a stock is missing, soft deleted or owned by another shop.
	ErrStockNotFound = common.NewAppError(common.CodeStockNotFound, "stock not found", http.StatusNotFound, nil)
	// ErrOutOfStock is returned when the requested quantity exceeds what is available.
	ErrOutOfStock = common.NewAppError(common.CodeOutOfStock, "stock quantity is not enough", http.StatusConflict, nil)
	// ErrAddonNotAllowed is returned when a nested line does not reference a permitted addon.
	ErrAddonNotAllowed = common.NewAppError(common.CodeValidation, "addon is not allowed for this stock", http.StatusBadRequest, nil)
	// ErrExtraNotAllowed is returned when a line selects an extra value its stock does not offer.
	ErrExtraNotAllowed = common.NewAppError(common.CodeValidation, "extra value is not offered by this stock", http.StatusBadRequest, nil)
)

// Source loads stocks in bulk. Missing ids are absent from the result.
type Source interface {
	Stocks(ctx context.Context, ids []uuid.UUID) ([]db.Stock, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, ids []uuid.UUID) ([]db.Stock, error)

// Stocks implements Source.
func (f SourceFunc) Stocks(ctx context.Context, ids []uuid.UUID) ([]db.Stock, error) {
	return f(ctx, ids)
}

// ReadSource reads stocks without locking them.
func ReadSource(q db.Querier) Source {
	return SourceFunc(q.ListStocks)
}

// LockingSource reads stocks FOR UPDATE; use it inside a transaction.
func LockingSource(q db.Querier) Source {
	return SourceFunc(q.LockStocks)
}

// Snapshot serves stocks already loaded, typically the rows a transaction has locked.
type Snapshot map[uuid.UUID]db.Stock

// NewSnapshot indexes rows by id.
func NewSnapshot(rows []db.Stock) Snapshot {
	out := make(Snapshot, len(rows))
	for _, s := range rows {
		out[s.ID] = s
	}
	return out
}

// Stocks implements Source.
func (s Snapshot) Stocks(_ context.Context, ids []uuid.UUID) ([]db.Stock, error) {
	out := make([]db.Stock, 0, len(ids))
	for _, id := range ids {
		if row, ok := s[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// Resolved is a stock validated for a requested quantity.
type Resolved struct {
	Stock    db.Stock
	Quantity int32
}

// LineRequest is one cart line to resolve.
type LineRequest struct {
	ID       uuid.UUID
	StockID  uuid.UUID
	Quantity int32
	ParentID uuid.NullUUID
	ExtraIDs []uuid.UUID
	Bonus    bool
}

// Line is a resolved cart line.
type Line struct {
	LineRequest
	Stock db.Stock
}

// Resolution is the outcome of resolving every line of a cart.
type Resolution struct {
	Lines []Line
	// Stocks holds every loaded stock, including bonus stocks referenced by bonus rules.
	Stocks map[uuid.UUID]db.Stock
	// Demand is the quantity requested per stock across all non-bonus lines.
	Demand map[uuid.UUID]int32
}

// Available returns what is left of a stock once the resolved demand is served.
func (r Resolution) Available(stockID uuid.UUID) int32 {
	s, ok := r.Stocks[stockID]
	if !ok || !Sellable(s) {
		return 0
	}
	left := s.Quantity - r.Demand[stockID]
	if left < 0 {
		return 0
	}
	return left
}

// Resolver validates stock selections against a Source.
type Resolver struct {
	Source Source
}

// NewResolver returns a resolver reading from src.
func NewResolver(src Source) *Resolver {
	return &Resolver{Source: src}
}

// Sellable reports whether a stock can be ordered at all.
func Sellable(s db.Stock) bool {
	return s.DeletedAt == nil && s.Quantity > 0
}

// Resolve loads a stock and checks that qty units can be served.
func (r *Resolver) Resolve(ctx context.Context, stockID uuid.UUID, qty int32) (Resolved, error) {
	s, err := r.one(ctx, stockID)
	if err != nil {
		return Resolved{}, err
	}
	if err := checkQuantity(s, qty); err != nil {
		return Resolved{}, err
	}
	return Resolved{Stock: s, Quantity: qty}, nil
}

// ResolveAddon is Resolve for a line nested under parent.
func (r *Resolver) ResolveAddon(ctx context.Context, stockID uuid.UUID, qty int32, parent db.Stock) (Resolved, error) {
	s, err := r.one(ctx, stockID)
	if err != nil {
		return Resolved{}, err
	}
	if err := checkAddon(s, parent); err != nil {
		return Resolved{}, err
	}
	if err := checkQuantity(s, qty); err != nil {
		return Resolved{}, err
	}
	return Resolved{Stock: s, Quantity: qty}, nil
}

// ResolveLines resolves all lines of a shop's cart with a single lookup. Bonus lines are
// loaded but only checked for existence; their availability is settled by the evaluator.
func (r *Resolver) ResolveLines(ctx context.Context, shopID uuid.UUID, reqs []LineRequest) (Resolution, error) {
	ids := make([]uuid.UUID, 0, len(reqs))
	for _, req := range reqs {
		if req.Quantity <= 0 {
			return Resolution{}, fmt.Errorf("line %s: quantity must be positive: %w", req.ID, ErrOutOfStock)
		}
		ids = append(ids, req.StockID)
	}
	stocks, err := r.load(ctx, ids)
	if err != nil {
		return Resolution{}, err
	}
	// Bonus stocks are loaded in a second round so their rules can be evaluated.
	var bonusIDs []uuid.UUID
	for _, s := range stocks {
		if s.Bonus != nil {
			if _, ok := stocks[s.Bonus.BonusStockID]; !ok {
				bonusIDs = append(bonusIDs, s.Bonus.BonusStockID)
			}
		}
	}
	if len(bonusIDs) > 0 {
		more, err := r.load(ctx, bonusIDs)
		if err != nil {
			return Resolution{}, err
		}
		for id, s := range more {
			stocks[id] = s
		}
	}

	res := Resolution{Stocks: stocks, Demand: make(map[uuid.UUID]int32, len(reqs))}
	byLine := make(map[uuid.UUID]LineRequest, len(reqs))
	for _, req := range reqs {
		byLine[req.ID] = req
	}
	for _, req := range reqs {
		s, ok := stocks[req.StockID]
		if !ok || s.DeletedAt != nil || s.ShopID != shopID {
			return Resolution{}, fmt.Errorf("stock %s: %w", req.StockID, ErrStockNotFound)
		}
		if !req.Bonus {
			if err := checkLine(req, s, byLine, stocks); err != nil {
				return Resolution{}, err
			}
			res.Demand[s.ID] += req.Quantity
		}
		res.Lines = append(res.Lines, Line{LineRequest: req, Stock: s})
	}
	for id, want := range res.Demand {
		if err := checkQuantity(stocks[id], want); err != nil {
			return Resolution{}, err
		}
	}
	return res, nil
}

func checkLine(req LineRequest, s db.Stock, byLine map[uuid.UUID]LineRequest, stocks map[uuid.UUID]db.Stock) error {
	for _, extra := range req.ExtraIDs {
		if !slices.Contains(s.ExtraValueIDs, extra) {
			return fmt.Errorf("stock %s extra %s: %w", s.ID, extra, ErrExtraNotAllowed)
		}
	}
	if !req.ParentID.Valid {
		if s.Addon {
			return fmt.Errorf("stock %s is an addon without parent: %w", s.ID, ErrAddonNotAllowed)
		}
		return nil
	}
	parentLine, ok := byLine[req.ParentID.UUID]
	if !ok || parentLine.ParentID.Valid || parentLine.Bonus {
		return fmt.Errorf("line %s parent %s: %w", req.ID, req.ParentID.UUID, ErrAddonNotAllowed)
	}
	return checkAddon(s, stocks[parentLine.StockID])
}

func checkAddon(s, parent db.Stock) error {
	if !s.Addon || !slices.Contains(parent.AddonIDs, s.ID) {
		return fmt.Errorf("stock %s under %s: %w", s.ID, parent.ID, ErrAddonNotAllowed)
	}
	return nil
}

func checkQuantity(s db.Stock, qty int32) error {
	if qty <= 0 {
		return fmt.Errorf("stock %s: quantity must be positive: %w", s.ID, ErrOutOfStock)
	}
	if !Sellable(s) || qty > s.Quantity {
		return fmt.Errorf("stock %s: requested %d, available %d: %w", s.ID, qty, s.Quantity, ErrOutOfStock)
	}
	return nil
}

func (r *Resolver) one(ctx context.Context, id uuid.UUID) (db.Stock, error) {
	stocks, err := r.load(ctx, []uuid.UUID{id})
	if err != nil {
		return db.Stock{}, err
	}
	s, ok := stocks[id]
	if !ok || s.DeletedAt != nil {
		return db.Stock{}, fmt.Errorf("stock %s: %w", id, ErrStockNotFound)
	}
	return s, nil
}

func (r *Resolver) load(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]db.Stock, error) {
	if r == nil || r.Source == nil {
		return nil, errors.New("stock: source not configured")
	}
	rows, err := r.Source.Stocks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load stocks: %w", err)
	}
	out := make(map[uuid.UUID]db.Stock, len(rows))
	for _, s := range rows {
		out[s.ID] = s
	}
	return out, nil
}
