package pricing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/money"
)

var hundred = decimal.NewFromInt(100)

// Line is a resolved cart line ready for pricing.
type Line struct {
	ID         uuid.UUID
	StockID    uuid.UUID
	ProductID  uuid.UUID
	CategoryID uuid.NullUUID
	ParentID   uuid.NullUUID
	MemberID   uuid.NullUUID
	Quantity   int32
	UnitPrice  decimal.Decimal
	Addon      bool
	Rule       *db.Discount
	BonusRule  *db.Bonus
}

// LineFromStock builds a pricing line from a stock row.
func LineFromStock(id uuid.UUID, s db.Stock, qty int32) Line {
	return Line{
		ID:         id,
		StockID:    s.ID,
		ProductID:  s.ProductID,
		CategoryID: s.CategoryID,
		Quantity:   qty,
		UnitPrice:  s.Price,
		Addon:      s.Addon,
		Rule:       s.Discount,
		BonusRule:  s.Bonus,
	}
}

// LinePrice is a priced line. Origin is unit price times quantity, Total what is charged
// for the line and Discount the difference.
type LinePrice struct {
	Line
	Bonus         bool
	BonusSourceID uuid.NullUUID
	Origin        decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
}

// DiscountActive reports whether d applies at now.
func DiscountActive(d *db.Discount, now time.Time) bool {
	if d == nil || !d.Value.IsPositive() {
		return false
	}
	if d.StartAt != nil && now.Before(*d.StartAt) {
		return false
	}
	if d.EndAt != nil && now.After(*d.EndAt) {
		return false
	}
	return true
}

// EvaluateLine applies the line's product discount. Percent values are percentage points,
// fixed values reduce the whole line once. The result is never negative.
func EvaluateLine(l Line, now time.Time) LinePrice {
	gross := money.Round(l.UnitPrice.Mul(decimal.NewFromInt32(l.Quantity)))
	net := gross
	if DiscountActive(l.Rule, now) {
		switch l.Rule.Kind {
		case db.DiscountKindPercent:
			rate := money.Min(l.Rule.Value.Div(hundred), decimal.NewFromInt(1))
			net = money.Round(gross.Mul(decimal.NewFromInt(1).Sub(rate)))
		case db.DiscountKindFix:
			net = money.Round(gross.Sub(l.Rule.Value))
		}
	}
	net = money.Min(money.NonNegative(net), gross)
	return LinePrice{Line: l, Origin: gross, Discount: gross.Sub(net), Total: net}
}

// BonusID is the identity of the free line earned by a source line.
func BonusID(sourceID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(sourceID, []byte("bonus"))
}

// BonusActive reports whether b can award units at now.
func BonusActive(b *db.Bonus, now time.Time) bool {
	if b == nil || b.Trigger <= 0 || b.BonusQuantity <= 0 {
		return false
	}
	return b.ExpiredAt == nil || now.Before(*b.ExpiredAt)
}

// BonusLines derives the free lines earned by priced. Each eligible source line awards
// floor(quantity/trigger) times the bonus quantity, capped by what is left of the bonus
// stock in available, which is consumed in line order. Bonus lines never earn bonuses.
func BonusLines(priced []LinePrice, bonusStocks map[uuid.UUID]db.Stock, available map[uuid.UUID]int32, now time.Time) []LinePrice {
	left := make(map[uuid.UUID]int32, len(available))
	for id, n := range available {
		left[id] = n
	}
	var out []LinePrice
	for _, p := range priced {
		if p.Bonus || p.Addon || p.ParentID.Valid || !BonusActive(p.BonusRule, now) {
			continue
		}
		rule := p.BonusRule
		if p.Quantity < rule.Trigger {
			continue
		}
		bonusStock, ok := bonusStocks[rule.BonusStockID]
		if !ok || bonusStock.DeletedAt != nil {
			continue
		}
		qty := (p.Quantity / rule.Trigger) * rule.BonusQuantity
		if qty > left[bonusStock.ID] {
			qty = left[bonusStock.ID]
		}
		if qty <= 0 {
			continue
		}
		left[bonusStock.ID] -= qty

		line := LineFromStock(BonusID(p.ID), bonusStock, qty)
		line.Rule = nil
		line.BonusRule = nil
		line.MemberID = p.MemberID
		origin := money.Round(bonusStock.Price.Mul(decimal.NewFromInt32(qty)))
		out = append(out, LinePrice{
			Line:          line,
			Bonus:         true,
			BonusSourceID: uuid.NullUUID{UUID: p.ID, Valid: true},
			Origin:        origin,
			Discount:      origin,
			Total:         decimal.Zero,
		})
	}
	return out
}

// Evaluate prices every line and appends the bonus lines they earn.
func Evaluate(lines []Line, bonusStocks map[uuid.UUID]db.Stock, available map[uuid.UUID]int32, now time.Time) []LinePrice {
	priced := make([]LinePrice, 0, len(lines))
	for _, l := range lines {
		priced = append(priced, EvaluateLine(l, now))
	}
	return append(priced, BonusLines(priced, bonusStocks, available, now)...)
}
